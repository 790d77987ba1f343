package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"promptgrid/internal/domain"
)

func TestCreditCost(t *testing.T) {
	tests := []struct {
		model   string
		genType domain.GenerationType
		want    int
	}{
		{"gemini-2.0-flash", domain.GenerationTypeText, 1},
		{"gemini-2.5-pro", domain.GenerationTypeText, 3},
		{"gpt-ultra", domain.GenerationTypeText, 3},
		{"imagen-3", domain.GenerationTypeImage, 5},
		{"tts-1", domain.GenerationTypeAudio, 5},
		{"veo-2", domain.GenerationTypeVideo, 25},
	}
	for _, tc := range tests {
		t.Run(tc.model, func(t *testing.T) {
			if got := CreditCost(tc.model, tc.genType); got != tc.want {
				t.Fatalf("CreditCost(%q, %q) = %d, want %d", tc.model, tc.genType, got, tc.want)
			}
		})
	}
}

func TestAdmitInsufficientCredits(t *testing.T) {
	billing := &fakeBilling{ledger: domain.CreditLedger{
		UserID:    "u1",
		Plan:      domain.UserPlanFree,
		Current:   3,
		NextReset: time.Now().Add(24 * time.Hour),
	}}
	adm := NewAdmission(billing, zerolog.Nop())

	cost, err := adm.Admit(context.Background(), "u1", "imagen-3", domain.GenerationTypeImage)
	if !errors.Is(err, domain.ErrInsufficientCredits) {
		t.Fatalf("err = %v, want ErrInsufficientCredits", err)
	}
	if cost != 5 {
		t.Fatalf("cost = %d, want 5", cost)
	}
	if billing.deducted != 0 {
		t.Fatal("admission must never deduct")
	}
}

func TestAdmitWithinBalance(t *testing.T) {
	billing := &fakeBilling{ledger: domain.CreditLedger{
		UserID:    "u1",
		Plan:      domain.UserPlanFree,
		Current:   10,
		NextReset: time.Now().Add(24 * time.Hour),
	}}
	adm := NewAdmission(billing, zerolog.Nop())

	cost, err := adm.Admit(context.Background(), "u1", "gemini-2.0-flash", domain.GenerationTypeText)
	if err != nil {
		t.Fatalf("Admit: %v", err)
	}
	if cost != 1 {
		t.Fatalf("cost = %d, want 1", cost)
	}
	if billing.current() != 10 {
		t.Fatal("balance changed during admission")
	}
}

func TestAdmitResetsAcrossMonthlyBoundary(t *testing.T) {
	now := time.Date(2025, time.June, 2, 12, 0, 0, 0, time.UTC)
	billing := &fakeBilling{ledger: domain.CreditLedger{
		UserID:    "u1",
		Plan:      domain.UserPlanFree,
		Current:   0,
		NextReset: time.Date(2025, time.June, 1, 0, 0, 0, 0, time.UTC),
	}}
	adm := NewAdmission(billing, zerolog.Nop())
	adm.now = func() time.Time { return now }

	cost, err := adm.Admit(context.Background(), "u1", "gemini-2.0-flash", domain.GenerationTypeText)
	if err != nil {
		t.Fatalf("Admit after boundary: %v", err)
	}
	if cost != 1 {
		t.Fatalf("cost = %d, want 1", cost)
	}
	if billing.resets != 1 {
		t.Fatalf("resets = %d, want 1", billing.resets)
	}
	if got := billing.current(); got != domain.UserPlanFree.MonthlyAllotment() {
		t.Fatalf("balance after reset = %d, want %d", got, domain.UserPlanFree.MonthlyAllotment())
	}
	wantNext := time.Date(2025, time.July, 1, 0, 0, 0, 0, time.UTC)
	if !billing.ledger.NextReset.Equal(wantNext) {
		t.Fatalf("next reset = %v, want %v", billing.ledger.NextReset, wantNext)
	}
}

func TestSettleDeducts(t *testing.T) {
	billing := &fakeBilling{ledger: domain.CreditLedger{UserID: "u1", Current: 10}}
	adm := NewAdmission(billing, zerolog.Nop())

	if err := adm.Settle(context.Background(), "u1", 5); err != nil {
		t.Fatalf("Settle: %v", err)
	}
	if billing.current() != 5 {
		t.Fatalf("balance = %d, want 5", billing.current())
	}
	// Zero cost is a no-op.
	if err := adm.Settle(context.Background(), "u1", 0); err != nil {
		t.Fatalf("Settle(0): %v", err)
	}
	if billing.deducted != 5 {
		t.Fatalf("deducted = %d, want 5", billing.deducted)
	}
}
