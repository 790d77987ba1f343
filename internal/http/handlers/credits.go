package handlers

import (
	"net/http"
	"time"

	"promptgrid/internal/middleware"
)

type creditsResponse struct {
	Plan      string    `json:"plan"`
	Current   int       `json:"current"`
	Total     int       `json:"total"`
	NextReset time.Time `json:"next_reset"`
}

func (a *App) Credits(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromContext(r.Context())
	ledger, err := a.Billing.Ledger(r.Context(), userID)
	if err != nil {
		a.error(w, http.StatusInternalServerError, "internal", "failed to load credit ledger")
		return
	}
	a.json(w, http.StatusOK, creditsResponse{
		Plan:      string(ledger.Plan),
		Current:   ledger.Current,
		Total:     ledger.Total,
		NextReset: ledger.NextReset,
	})
}
