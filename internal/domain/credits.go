package domain

import "time"

// UserPlan enumerates billing plans.
type UserPlan string

const (
	UserPlanFree UserPlan = "free"
	UserPlanPro  UserPlan = "pro"
)

// MonthlyAllotment returns the number of credits granted at each monthly reset.
func (p UserPlan) MonthlyAllotment() int {
	switch p {
	case UserPlanPro:
		return 2500
	default:
		return 100
	}
}

// CreditLedger is the per-user countdown consumed by successful generations
// and refilled on a monthly boundary.
type CreditLedger struct {
	UserID    string
	Plan      UserPlan
	Current   int
	Total     int
	LastReset time.Time
	NextReset time.Time
}

// ResetDue reports whether the monthly boundary has passed.
func (l *CreditLedger) ResetDue(now time.Time) bool {
	return l != nil && !l.NextReset.IsZero() && !now.Before(l.NextReset)
}
