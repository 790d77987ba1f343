package handlers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"promptgrid/internal/domain"
	"promptgrid/internal/engine"
	"promptgrid/internal/infra"

	"github.com/rs/zerolog"
)

// Runner executes cells. Implemented by the engine orchestrator.
type Runner interface {
	Run(ctx context.Context, req engine.RunRequest) (*engine.RunResult, error)
	RunMany(ctx context.Context, batch engine.BatchRequest) ([]engine.RunResult, error)
	Cancel(sheet, cellID string) bool
}

// MediaOpener serves stored media files back to clients.
type MediaOpener interface {
	Open(key string) (io.ReadCloser, error)
}

type App struct {
	Store   engine.Store
	Sheets  domain.SheetRepository
	Billing domain.BillingRepository
	Runner  Runner
	Cache   *engine.SheetCache
	Media   MediaOpener
	Cfg     *infra.Config
	Log     zerolog.Logger
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, code int, kind, message string) {
	a.json(w, code, errorResponse{Error: kind, Message: message})
}
