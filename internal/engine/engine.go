// Package engine implements the cell dependency resolution and execution
// core: the {{...}} reference grammar, conditional evaluation, template
// resolution against live sheet state, topological batch ordering, the
// per-cell run state machine with async job polling, and credit-based
// admission control. Everything outside the engine (persistence, media
// storage, billing, the generation backend) is consumed through the
// interfaces below.
package engine

import (
	"context"

	"promptgrid/internal/domain"
)

// Store is the persistence surface the engine consumes. Sheets are addressed
// by name, matched case-insensitively.
type Store interface {
	SaveCell(ctx context.Context, sheet string, cell *domain.Cell) error
	SaveGeneration(ctx context.Context, sheet, cellID string, gen *domain.Generation) error
	UpdateGeneration(ctx context.Context, sheet, cellID string, gen *domain.Generation) error
	Generations(ctx context.Context, sheet, cellID string) ([]domain.Generation, error)
	// SheetCells returns the full cell map of the named sheet, or
	// domain.ErrSheetNotFound when no such sheet exists.
	SheetCells(ctx context.Context, sheet string) (map[string]*domain.Cell, error)
}

// MediaStore moves externally-hosted, possibly time-limited media into
// permanent storage.
type MediaStore interface {
	UploadFromURL(ctx context.Context, rawURL, ownerPath string) (string, error)
}

// Billing is the admission-control surface over per-user credit ledgers.
type Billing interface {
	Ledger(ctx context.Context, userID string) (*domain.CreditLedger, error)
	Deduct(ctx context.Context, userID string, amount int) (*domain.CreditLedger, error)
	Reset(ctx context.Context, ledger *domain.CreditLedger) (*domain.CreditLedger, error)
}

// VideoSettings carries per-call video generation parameters.
type VideoSettings struct {
	DurationSeconds int
	Resolution      string
	AspectRatio     string
}

// AudioSettings carries per-call audio generation parameters.
type AudioSettings struct {
	Voice  string
	Speed  float64
	Format string
}

// GenerateRequest is one backend invocation.
type GenerateRequest struct {
	Prompt      string
	Model       string
	Temperature float64
	Type        domain.GenerationType
	MaxTokens   int
	Video       *VideoSettings
	Audio       *AudioSettings
}

// GenerateResult is the backend's answer: either immediate output, or a job
// handle to poll when JobID is non-empty.
type GenerateResult struct {
	Output string
	JobID  string
	Status string
}

// JobStatusResult is one poll answer for an outstanding job.
type JobStatusResult struct {
	Status string
	Output string
}

// Backend is the external generation interface.
type Backend interface {
	Generate(ctx context.Context, req GenerateRequest) (*GenerateResult, error)
	CheckJobStatus(ctx context.Context, jobID string) (*JobStatusResult, error)
}

// jobStatusKind classifies the backend's job status vocabulary.
type jobStatusKind int

const (
	jobStatusInFlight jobStatusKind = iota
	jobStatusSucceeded
	jobStatusFailed
)

func classifyJobStatus(status string) jobStatusKind {
	switch status {
	case "completed", "succeeded":
		return jobStatusSucceeded
	case "failed", "error":
		return jobStatusFailed
	default:
		// queued, pending, running, processing, in_progress
		return jobStatusInFlight
	}
}
