package repo

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"promptgrid/internal/domain"
	"promptgrid/internal/sqlinline"
)

// GenerationRepositoryPG implements domain.GenerationRepository backed by
// PostgreSQL.
type GenerationRepositoryPG struct {
	pool *pgxpool.Pool
}

// NewGenerationRepository creates a new GenerationRepositoryPG.
func NewGenerationRepository(pool *pgxpool.Pool) *GenerationRepositoryPG {
	return &GenerationRepositoryPG{pool: pool}
}

// ListByCell returns the cell's generation history newest-first.
func (r *GenerationRepositoryPG) ListByCell(ctx context.Context, sheet, cellID string) ([]domain.Generation, error) {
	rows, err := r.pool.Query(ctx, sqlinline.QListGenerationsByCell, sheet, cellID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var gens []domain.Generation
	for rows.Next() {
		gen, err := scanGeneration(rows)
		if err != nil {
			return nil, err
		}
		gens = append(gens, *gen)
	}
	return gens, rows.Err()
}

// Append inserts one new generation record.
func (r *GenerationRepositoryPG) Append(ctx context.Context, sheet, cellID string, gen *domain.Generation) error {
	_, err := r.pool.Exec(ctx, sqlinline.QInsertGeneration,
		sheet,
		cellID,
		gen.ID,
		gen.Prompt,
		gen.ResolvedPrompt,
		gen.Output,
		gen.Model,
		gen.Temperature,
		string(gen.Type),
		string(gen.Status),
		gen.JobID,
		gen.Timestamp,
	)
	return err
}

// Update rewrites the mutable fields of an existing record, identified by id.
func (r *GenerationRepositoryPG) Update(ctx context.Context, sheet, cellID string, gen *domain.Generation) error {
	tag, err := r.pool.Exec(ctx, sqlinline.QUpdateGeneration,
		gen.ID,
		gen.Output,
		string(gen.Status),
		gen.JobID,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ListPendingJobs returns every generation whose async job is still
// outstanding, oldest-first, so a restarted worker can resume polling.
func (r *GenerationRepositoryPG) ListPendingJobs(ctx context.Context) ([]domain.PendingJob, error) {
	rows, err := r.pool.Query(ctx, sqlinline.QListPendingJobs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []domain.PendingJob
	for rows.Next() {
		var job domain.PendingJob
		var genType string
		if err := rows.Scan(&job.Sheet, &job.CellID, &job.UserID, &job.GenerationID, &job.JobID, &genType); err != nil {
			return nil, err
		}
		job.Type = domain.GenerationType(genType)
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

func scanGeneration(row pgx.Row) (*domain.Generation, error) {
	var g domain.Generation
	var genType, status string
	if err := row.Scan(
		&g.ID,
		&g.Prompt,
		&g.ResolvedPrompt,
		&g.Output,
		&g.Model,
		&g.Temperature,
		&genType,
		&status,
		&g.JobID,
		&g.Timestamp,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	g.Type = domain.GenerationType(genType)
	g.Status = domain.GenerationStatus(status)
	return &g, nil
}
