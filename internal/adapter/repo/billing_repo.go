package repo

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"promptgrid/internal/domain"
	"promptgrid/internal/sqlinline"
)

// BillingRepositoryPG implements domain.BillingRepository backed by
// PostgreSQL. Unknown users get a free-plan ledger on first read.
type BillingRepositoryPG struct {
	pool *pgxpool.Pool
}

// NewBillingRepository creates a new BillingRepositoryPG.
func NewBillingRepository(pool *pgxpool.Pool) *BillingRepositoryPG {
	return &BillingRepositoryPG{pool: pool}
}

// Ledger returns the user's credit ledger, creating a free-plan one if none
// exists yet.
func (r *BillingRepositoryPG) Ledger(ctx context.Context, userID string) (*domain.CreditLedger, error) {
	row := r.pool.QueryRow(ctx, sqlinline.QGetOrCreateLedger, userID)
	return scanLedger(row)
}

// Deduct subtracts credits, clamping at zero, and returns the updated ledger.
func (r *BillingRepositoryPG) Deduct(ctx context.Context, userID string, amount int) (*domain.CreditLedger, error) {
	row := r.pool.QueryRow(ctx, sqlinline.QDeductCredits, userID, amount)
	return scanLedger(row)
}

// Reset rewrites the ledger at a monthly boundary.
func (r *BillingRepositoryPG) Reset(ctx context.Context, ledger *domain.CreditLedger) (*domain.CreditLedger, error) {
	row := r.pool.QueryRow(ctx, sqlinline.QResetLedger,
		ledger.UserID,
		string(ledger.Plan),
		ledger.Current,
		ledger.Total,
		ledger.LastReset,
		ledger.NextReset,
	)
	return scanLedger(row)
}

func scanLedger(row pgx.Row) (*domain.CreditLedger, error) {
	var l domain.CreditLedger
	var plan string
	if err := row.Scan(&l.UserID, &plan, &l.Current, &l.Total, &l.LastReset, &l.NextReset); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	l.Plan = domain.UserPlan(plan)
	return &l, nil
}
