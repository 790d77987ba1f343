package repo

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"promptgrid/internal/domain"
	"promptgrid/internal/sqlinline"
)

// Store bundles the repositories into the single persistence surface the
// execution engine consumes.
type Store struct {
	SheetRepo      *SheetRepositoryPG
	CellRepo       *CellRepositoryPG
	GenerationRepo *GenerationRepositoryPG
	BillingRepo    *BillingRepositoryPG

	pool *pgxpool.Pool
}

// NewStore creates repositories over one shared connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{
		SheetRepo:      NewSheetRepository(pool),
		CellRepo:       NewCellRepository(pool),
		GenerationRepo: NewGenerationRepository(pool),
		BillingRepo:    NewBillingRepository(pool),
		pool:           pool,
	}
}

// SaveCell persists the cell's mutable state.
func (s *Store) SaveCell(ctx context.Context, sheet string, cell *domain.Cell) error {
	return s.CellRepo.Save(ctx, sheet, cell)
}

// SaveGeneration appends one generation record.
func (s *Store) SaveGeneration(ctx context.Context, sheet, cellID string, gen *domain.Generation) error {
	return s.GenerationRepo.Append(ctx, sheet, cellID, gen)
}

// UpdateGeneration rewrites an existing generation record in place.
func (s *Store) UpdateGeneration(ctx context.Context, sheet, cellID string, gen *domain.Generation) error {
	return s.GenerationRepo.Update(ctx, sheet, cellID, gen)
}

// Generations returns the cell's history newest-first.
func (s *Store) Generations(ctx context.Context, sheet, cellID string) ([]domain.Generation, error) {
	return s.GenerationRepo.ListByCell(ctx, sheet, cellID)
}

// SheetCells returns the sheet's full cell map with each cell's generation
// history attached, in one round trip per table.
func (s *Store) SheetCells(ctx context.Context, sheet string) (map[string]*domain.Cell, error) {
	cells, err := s.CellRepo.ListBySheet(ctx, sheet)
	if err != nil {
		return nil, err
	}
	if len(cells) == 0 {
		return cells, nil
	}

	rows, err := s.pool.Query(ctx, sqlinline.QListGenerationsBySheet, sheet)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var cellID string
		var g domain.Generation
		var genType, status string
		if err := rows.Scan(
			&cellID,
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
			return nil, err
		}
		g.Type = domain.GenerationType(genType)
		g.Status = domain.GenerationStatus(status)
		if cell, ok := cells[cellID]; ok {
			cell.Generations = append(cell.Generations, g)
		}
	}
	return cells, rows.Err()
}
