package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"promptgrid/internal/adapter/repo"
	"promptgrid/internal/domain"
	"promptgrid/internal/engine"
	"promptgrid/internal/infra"
	"promptgrid/internal/infra/credentials"
	"promptgrid/internal/providers/genai"
	"promptgrid/internal/storage"
)

const claimInterval = 30 * time.Second

// jobWorker re-attaches the poller to generations whose async job was
// outstanding when a previous process died.
type jobWorker struct {
	store  *repo.Store
	poller *engine.Poller
	logger infra.Logger

	mu      sync.Mutex
	claimed map[string]struct{}
}

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: db connection failed")
	}
	defer pool.Close()

	store := repo.NewStore(pool)
	runner := infra.NewSQLRunner(pool, logger)

	fileStore, err := storage.NewFileStore(cfg.StoragePath, cfg.MediaBaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: failed to configure storage")
	}

	apiKey := strings.TrimSpace(cfg.GeminiAPIKey)
	if apiKey == "" {
		credStore := credentials.NewStore(runner)
		if stored, err := credStore.GeminiAPIKey(ctx); err != nil {
			logger.Warn().Err(err).Msg("worker: failed to load gemini api key from store")
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
		logger.Fatal().Err(err).Msg("worker: failed to configure gemini client")
	}

	cache := engine.NewSheetCache(store)
	poller := engine.NewPoller(backend, store, fileStore, store.BillingRepo, cache, engine.PollerConfig{
		Interval:    cfg.PollInterval,
		MaxAttempts: cfg.PollMaxAttempts,
	}, logger)

	worker := &jobWorker{
		store:   store,
		poller:  poller,
		logger:  logger,
		claimed: make(map[string]struct{}),
	}
	if err := worker.run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal().Err(err).Msg("worker: stopped with error")
	}
	logger.Info().Msg("worker: stopped")
}

func (w *jobWorker) run(ctx context.Context) error {
	ticker := time.NewTicker(claimInterval)
	defer ticker.Stop()

	for {
		if err := w.claim(ctx); err != nil {
			w.logger.Error().Err(err).Msg("worker: claim pass failed")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (w *jobWorker) claim(ctx context.Context) error {
	jobs, err := w.store.GenerationRepo.ListPendingJobs(ctx)
	if err != nil {
		return err
	}
	for _, job := range jobs {
		if !w.markClaimed(job.JobID) {
			continue
		}
		gen, err := w.lookupGeneration(ctx, job)
		if err != nil {
			w.logger.Warn().Err(err).
				Str("sheet", job.Sheet).Str("cell", job.CellID).Str("job_id", job.JobID).
				Msg("worker: pending generation lookup failed")
			w.unclaim(job.JobID)
			continue
		}
		w.logger.Info().
			Str("sheet", job.Sheet).Str("cell", job.CellID).Str("job_id", job.JobID).
			Msg("worker: re-attaching job poller")
		handle := w.poller.Watch(ctx, engine.PollRequest{
			Sheet:      job.Sheet,
			CellID:     job.CellID,
			UserID:     job.UserID,
			JobID:      job.JobID,
			Generation: *gen,
			Cost:       engine.CreditCost(gen.Model, gen.Type),
		})
		go func(jobID string, handle *engine.JobHandle) {
			<-handle.Done()
			w.unclaim(jobID)
		}(job.JobID, handle)
	}
	return nil
}

func (w *jobWorker) lookupGeneration(ctx context.Context, job domain.PendingJob) (*domain.Generation, error) {
	gens, err := w.store.Generations(ctx, job.Sheet, job.CellID)
	if err != nil {
		return nil, err
	}
	for i := range gens {
		if gens[i].ID == job.GenerationID {
			return &gens[i], nil
		}
	}
	return nil, domain.ErrNotFound
}

func (w *jobWorker) markClaimed(jobID string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.claimed[jobID]; ok {
		return false
	}
	w.claimed[jobID] = struct{}{}
	return true
}

func (w *jobWorker) unclaim(jobID string) {
	w.mu.Lock()
	delete(w.claimed, jobID)
	w.mu.Unlock()
}
