package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"promptgrid/internal/domain"
)

// Credit costs per generation type. Premium text models pay the premium rate.
const (
	creditCostText        = 1
	creditCostTextPremium = 3
	creditCostImage       = 5
	creditCostAudio       = 5
	creditCostVideo       = 25
)

// CreditCost returns the admission price of one generation for the given
// model and type.
func CreditCost(model string, genType domain.GenerationType) int {
	switch genType {
	case domain.GenerationTypeImage:
		return creditCostImage
	case domain.GenerationTypeVideo:
		return creditCostVideo
	case domain.GenerationTypeAudio:
		return creditCostAudio
	default:
		lower := strings.ToLower(model)
		if strings.Contains(lower, "pro") || strings.Contains(lower, "ultra") {
			return creditCostTextPremium
		}
		return creditCostText
	}
}

// Admission gates generation calls against per-user credit ledgers. A run is
// admitted only when the ledger, refreshed across the monthly boundary if one
// has passed, covers the call's cost. Deduction happens separately, after the
// generation succeeds.
type Admission struct {
	billing Billing
	log     zerolog.Logger
	now     func() time.Time
}

func NewAdmission(billing Billing, log zerolog.Logger) *Admission {
	return &Admission{billing: billing, log: log, now: time.Now}
}

// Admit checks the user's balance for a call of the given model/type and
// returns the call's cost. The returned error wraps
// domain.ErrInsufficientCredits when the balance does not cover the cost; the
// backend must not be invoked in that case.
func (a *Admission) Admit(ctx context.Context, userID, model string, genType domain.GenerationType) (int, error) {
	ledger, err := a.billing.Ledger(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("load ledger: %w", err)
	}

	now := a.now()
	if ledger.ResetDue(now) {
		refreshed, err := a.billing.Reset(ctx, refreshedLedger(ledger, now))
		if err != nil {
			return 0, fmt.Errorf("reset ledger: %w", err)
		}
		a.log.Info().Str("user_id", userID).Int("credits", refreshed.Current).Msg("engine: monthly credits reset")
		ledger = refreshed
	}

	cost := CreditCost(model, genType)
	if ledger.Current < cost {
		return cost, fmt.Errorf("%w: have %d, need %d", domain.ErrInsufficientCredits, ledger.Current, cost)
	}
	return cost, nil
}

// Settle deducts the cost of a completed generation.
func (a *Admission) Settle(ctx context.Context, userID string, cost int) error {
	if cost <= 0 {
		return nil
	}
	if _, err := a.billing.Deduct(ctx, userID, cost); err != nil {
		return fmt.Errorf("deduct credits: %w", err)
	}
	return nil
}

// refreshedLedger rebuilds a ledger at a monthly boundary: the balance
// returns to the plan's allotment and the window advances to the next
// calendar month.
func refreshedLedger(ledger *domain.CreditLedger, now time.Time) *domain.CreditLedger {
	allotment := ledger.Plan.MonthlyAllotment()
	return &domain.CreditLedger{
		UserID:    ledger.UserID,
		Plan:      ledger.Plan,
		Current:   allotment,
		Total:     allotment,
		LastReset: now,
		NextReset: nextMonthlyReset(now),
	}
}

func nextMonthlyReset(now time.Time) time.Time {
	year, month, _ := now.UTC().Date()
	return time.Date(year, month+1, 1, 0, 0, 0, 0, time.UTC)
}
