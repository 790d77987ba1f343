package domain

import "context"

// SheetRepository defines access methods for sheets. Names are matched
// case-insensitively.
type SheetRepository interface {
	GetByName(ctx context.Context, name string) (*Sheet, error)
	List(ctx context.Context) ([]Sheet, error)
}

// CellRepository defines persistence for cells, addressed by sheet name.
type CellRepository interface {
	Get(ctx context.Context, sheet, cellID string) (*Cell, error)
	ListBySheet(ctx context.Context, sheet string) (map[string]*Cell, error)
	Save(ctx context.Context, sheet string, cell *Cell) error
}

// GenerationRepository defines persistence for per-cell generation history.
// ListByCell returns records newest-first.
type GenerationRepository interface {
	ListByCell(ctx context.Context, sheet, cellID string) ([]Generation, error)
	Append(ctx context.Context, sheet, cellID string, gen *Generation) error
	Update(ctx context.Context, sheet, cellID string, gen *Generation) error
	// ListPendingJobs returns generations whose async job is still
	// outstanding. Used by the worker to re-attach polling after a restart.
	ListPendingJobs(ctx context.Context) ([]PendingJob, error)
}

// PendingJob locates an outstanding async generation.
type PendingJob struct {
	Sheet        string
	CellID       string
	UserID       string
	GenerationID string
	JobID        string
	Type         GenerationType
}

// BillingRepository defines persistence for per-user credit ledgers.
type BillingRepository interface {
	Ledger(ctx context.Context, userID string) (*CreditLedger, error)
	Deduct(ctx context.Context, userID string, amount int) (*CreditLedger, error)
	Reset(ctx context.Context, ledger *CreditLedger) (*CreditLedger, error)
}
