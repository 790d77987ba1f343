package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"promptgrid/internal/adapter/repo"
	"promptgrid/internal/engine"
	"promptgrid/internal/http/handlers"
	"promptgrid/internal/http/httpapi"
	"promptgrid/internal/infra"
	"promptgrid/internal/infra/credentials"
	"promptgrid/internal/infra/geoip"
	appmw "promptgrid/internal/middleware"
	"promptgrid/internal/providers"
	"promptgrid/internal/providers/genai"
	"promptgrid/internal/providers/qwen"
	"promptgrid/internal/storage"
)

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ctx := context.Background()
	pool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("api: db connection failed")
	}
	defer pool.Close()

	store := repo.NewStore(pool)
	runner := infra.NewSQLRunner(pool, logger)

	fileStore, err := storage.NewFileStore(cfg.StoragePath, cfg.MediaBaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("api: failed to configure storage")
	}

	apiKey := strings.TrimSpace(cfg.GeminiAPIKey)
	if apiKey == "" {
		credStore := credentials.NewStore(runner)
		if stored, err := credStore.GeminiAPIKey(ctx); err != nil {
			logger.Warn().Err(err).Msg("api: failed to load gemini api key from store")
		} else {
			apiKey = stored
		}
	}

	backend, err := genai.NewClient(genai.Options{
		APIKey:     apiKey,
		BaseURL:    cfg.GeminiBaseURL,
		Model:      cfg.GeminiModel,
		HTTPClient: &http.Client{Timeout: 120 * time.Second},
		Logger:     &logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("api: failed to configure gemini client")
	}
	if apiKey == "" {
		logger.Warn().Str("model", backend.Model()).Msg("api: gemini api key missing, using synthetic generation")
	}

	mux := providers.NewMux(backend)
	if key := strings.TrimSpace(cfg.QwenAPIKey); key != "" {
		qwenClient, err := qwen.NewClient(qwen.Options{
			APIKey:  key,
			BaseURL: cfg.QwenBaseURL,
			Logger:  &logger,
		})
		if err != nil {
			logger.Fatal().Err(err).Msg("api: failed to configure qwen client")
		}
		mux.Register("qwen", qwenClient)
	}

	cache := engine.NewSheetCache(store)
	poller := engine.NewPoller(mux, store, fileStore, store.BillingRepo, cache, engine.PollerConfig{
		Interval:    cfg.PollInterval,
		MaxAttempts: cfg.PollMaxAttempts,
	}, logger)
	admission := engine.NewAdmission(store.BillingRepo, logger)
	orchestrator := engine.NewOrchestrator(store, fileStore, mux, admission, cache, poller, logger)

	var lookup appmw.CountryLookup
	if resolver, err := geoip.NewResolver(cfg.GeoIPDBPath); err != nil {
		logger.Warn().Err(err).Msg("api: geoip resolver unavailable")
	} else if resolver != nil {
		lookup = resolver.CountryCode
	}

	app := &handlers.App{
		Store:   store,
		Sheets:  store.SheetRepo,
		Billing: store.BillingRepo,
		Runner:  orchestrator,
		Cache:   cache,
		Media:   fileStore,
		Cfg:     cfg,
		Log:     logger,
	}
	server := infra.NewHTTPServer(cfg, httpapi.NewRouter(app, lookup))

	go func() {
		logger.Info().Msgf("API listening on :%s", cfg.Port)
		if err := server.Start(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPIdleTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown server")
	}
	logger.Info().Msg("server stopped")
}
