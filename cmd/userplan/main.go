package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"promptgrid/internal/domain"
	"promptgrid/internal/infra"
	"promptgrid/internal/sqlinline"
)

func main() {
	var (
		idFlag      string
		planFlag    string
		creditsFlag int
	)
	flag.StringVar(&idFlag, "id", "", "user ID to update")
	flag.StringVar(&planFlag, "plan", "pro", "plan to assign (free, pro)")
	flag.IntVar(&creditsFlag, "credits", 0, "credit balance to set (<=0 uses the plan's monthly allotment)")
	flag.Parse()

	userID := strings.TrimSpace(idFlag)
	if userID == "" {
		exitWithError(fmt.Errorf("-id is required"))
	}
	plan := domain.UserPlan(strings.TrimSpace(strings.ToLower(planFlag)))
	switch plan {
	case domain.UserPlanFree, domain.UserPlanPro:
	default:
		exitWithError(fmt.Errorf("unsupported plan %q", planFlag))
	}
	credits := creditsFlag
	if credits <= 0 {
		credits = plan.MonthlyAllotment()
	}

	dbURL := strings.TrimSpace(os.Getenv("DATABASE_URL"))
	if dbURL == "" {
		exitWithError(fmt.Errorf("DATABASE_URL is required"))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		exitWithError(fmt.Errorf("create pool: %w", err))
	}
	defer pool.Close()

	logger := infra.NewLogger("cli").With().Str("cmd", "userplan").Logger()
	runner := infra.NewSQLRunner(pool, logger)

	row := runner.QueryRow(ctx, sqlinline.QSetUserPlan, userID, string(plan), credits)
	var (
		gotUser, gotPlan     string
		current, total       int
		lastReset, nextReset time.Time
	)
	if err := row.Scan(&gotUser, &gotPlan, &current, &total, &lastReset, &nextReset); err != nil {
		exitWithError(fmt.Errorf("update ledger: %w", err))
	}
	fmt.Printf("user %s set to plan %s with %d/%d credits (next reset %s)\n",
		gotUser, gotPlan, current, total, nextReset.Format(time.RFC3339))
}

func exitWithError(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
