package main

import (
	"database/sql"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
)

// Statements run in order inside one transaction. Each is idempotent so the
// tool can be re-run safely.
var migrations = []string{
	`create extension if not exists pgcrypto`,

	`create table if not exists sheets (
		id         uuid primary key default gen_random_uuid(),
		name       text not null,
		owner_id   text not null default '',
		created_at timestamptz not null default now(),
		updated_at timestamptz not null default now()
	)`,
	`create unique index if not exists sheets_name_lower_idx on sheets (lower(name))`,

	`create table if not exists cells (
		id            text not null,
		sheet_id      uuid not null references sheets(id) on delete cascade,
		prompt        text not null default '',
		output        text not null default '',
		model         text not null default '',
		temperature   float8 not null default 0,
		output_format text not null default '',
		condition     text not null default '',
		auto_run      boolean not null default false,
		status        text not null default '',
		job_id        text,
		created_at    timestamptz not null default now(),
		updated_at    timestamptz not null default now(),
		primary key (sheet_id, id)
	)`,

	`create table if not exists generations (
		id              uuid primary key,
		sheet_id        uuid not null references sheets(id) on delete cascade,
		cell_id         text not null,
		prompt          text not null default '',
		resolved_prompt text not null default '',
		output          text not null default '',
		model           text not null default '',
		temperature     float8 not null default 0,
		type            text not null default 'text',
		status          text not null default 'pending',
		job_id          text,
		created_at      timestamptz not null default now()
	)`,
	`create index if not exists generations_cell_idx on generations (sheet_id, cell_id, created_at desc)`,
	`create index if not exists generations_pending_idx on generations (status) where status = 'pending' and job_id is not null`,

	`create table if not exists credit_ledgers (
		user_id         text primary key,
		plan            text not null default 'free',
		current_credits int not null default 100,
		total_credits   int not null default 100,
		last_reset      timestamptz not null default now(),
		next_reset      timestamptz not null default date_trunc('month', now()) + interval '1 month'
	)`,

	`create table if not exists integration_tokens (
		id         uuid primary key default gen_random_uuid(),
		provider   text not null unique,
		token      text not null,
		properties jsonb not null default '{}'::jsonb,
		created_at timestamptz not null default now(),
		updated_at timestamptz not null default now()
	)`,
}

func main() {
	_ = godotenv.Load()

	dbURL := strings.TrimSpace(os.Getenv("DATABASE_URL"))
	if dbURL == "" {
		fmt.Fprintln(os.Stderr, "DATABASE_URL is required")
		os.Exit(1)
	}

	db, err := sql.Open("postgres", dbURL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open database: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()
	db.SetConnMaxLifetime(time.Minute)

	if err := db.Ping(); err != nil {
		fmt.Fprintf(os.Stderr, "ping database: %v\n", err)
		os.Exit(1)
	}

	tx, err := db.Begin()
	if err != nil {
		fmt.Fprintf(os.Stderr, "begin transaction: %v\n", err)
		os.Exit(1)
	}
	for i, stmt := range migrations {
		if _, err := tx.Exec(stmt); err != nil {
			_ = tx.Rollback()
			fmt.Fprintf(os.Stderr, "migration %d failed: %v\n", i+1, err)
			os.Exit(1)
		}
	}
	if err := tx.Commit(); err != nil {
		fmt.Fprintf(os.Stderr, "commit migrations: %v\n", err)
		os.Exit(1)
	}

	for _, name := range flagSheets() {
		if _, err := db.Exec(
			`insert into sheets (name) values ($1) on conflict do nothing`, name,
		); err != nil {
			fmt.Fprintf(os.Stderr, "seed sheet %q: %v\n", name, err)
			os.Exit(1)
		}
	}

	fmt.Println("migrations applied")
}

// flagSheets reads an optional comma-separated SEED_SHEETS list.
func flagSheets() []string {
	raw := strings.TrimSpace(os.Getenv("SEED_SHEETS"))
	if raw == "" {
		return nil
	}
	var names []string
	for _, part := range strings.Split(raw, ",") {
		if name := strings.TrimSpace(part); name != "" {
			names = append(names, name)
		}
	}
	return names
}
