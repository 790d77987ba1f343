// Package providers wires concrete generation backends behind the engine's
// backend interface.
package providers

import (
	"context"
	"strings"

	"promptgrid/internal/engine"
)

// Mux routes each generation request to a backend by model name prefix.
// Requests that match no prefix go to the default backend, as do status
// checks for jobs the prefixed backends do not recognize.
type Mux struct {
	fallback engine.Backend
	prefixed map[string]engine.Backend
}

// NewMux builds a router over the default backend.
func NewMux(fallback engine.Backend) *Mux {
	return &Mux{fallback: fallback, prefixed: map[string]engine.Backend{}}
}

// Register routes models whose name starts with prefix to the given backend.
func (m *Mux) Register(prefix string, backend engine.Backend) {
	m.prefixed[strings.ToLower(prefix)] = backend
}

func (m *Mux) pick(model string) engine.Backend {
	lower := strings.ToLower(strings.TrimSpace(model))
	for prefix, backend := range m.prefixed {
		if strings.HasPrefix(lower, prefix) {
			return backend
		}
	}
	return m.fallback
}

func (m *Mux) Generate(ctx context.Context, req engine.GenerateRequest) (*engine.GenerateResult, error) {
	return m.pick(req.Model).Generate(ctx, req)
}

// CheckJobStatus asks the fallback backend. Only the fallback issues job
// handles today; prefixed backends answer synchronously.
func (m *Mux) CheckJobStatus(ctx context.Context, jobID string) (*engine.JobStatusResult, error) {
	return m.fallback.CheckJobStatus(ctx, jobID)
}
