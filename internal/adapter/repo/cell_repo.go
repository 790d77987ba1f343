package repo

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"promptgrid/internal/domain"
	"promptgrid/internal/sqlinline"
)

// CellRepositoryPG implements domain.CellRepository backed by PostgreSQL.
// Generations are loaded separately; Save never touches the history table.
type CellRepositoryPG struct {
	pool *pgxpool.Pool
}

// NewCellRepository creates a new CellRepositoryPG.
func NewCellRepository(pool *pgxpool.Pool) *CellRepositoryPG {
	return &CellRepositoryPG{pool: pool}
}

// Get fetches one cell, addressed by sheet name and cell id.
func (r *CellRepositoryPG) Get(ctx context.Context, sheet, cellID string) (*domain.Cell, error) {
	row := r.pool.QueryRow(ctx, sqlinline.QSelectCell, sheet, cellID)
	return scanCell(row)
}

// ListBySheet returns every cell of the sheet keyed by cell id. It
// distinguishes an unknown sheet from an empty one.
func (r *CellRepositoryPG) ListBySheet(ctx context.Context, sheet string) (map[string]*domain.Cell, error) {
	rows, err := r.pool.Query(ctx, sqlinline.QListCellsBySheet, sheet)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cells := make(map[string]*domain.Cell)
	for rows.Next() {
		cell, err := scanCell(rows)
		if err != nil {
			return nil, err
		}
		cells[cell.ID] = cell
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(cells) == 0 {
		// An empty result may mean the sheet does not exist at all.
		row := r.pool.QueryRow(ctx, sqlinline.QSelectSheetByName, sheet)
		if _, err := scanSheet(row); err != nil {
			return nil, err
		}
	}
	return cells, nil
}

// Save upserts the cell's mutable state.
func (r *CellRepositoryPG) Save(ctx context.Context, sheet string, cell *domain.Cell) error {
	tag, err := r.pool.Exec(ctx, sqlinline.QUpsertCell,
		sheet,
		cell.ID,
		cell.Prompt,
		cell.Output,
		cell.Model,
		cell.Temperature,
		cell.OutputFormat,
		cell.Condition,
		cell.AutoRun,
		string(cell.Status),
		cell.JobID,
	)
	if err != nil {
		return mapCellSaveError(err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrSheetNotFound
	}
	return nil
}

// mapCellSaveError translates the not-null violation raised when the
// upsert's sheet subselect matches nothing into the domain sentinel.
func mapCellSaveError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23502" && pgErr.ColumnName == "sheet_id" {
		return domain.ErrSheetNotFound
	}
	return err
}

func scanCell(row pgx.Row) (*domain.Cell, error) {
	var c domain.Cell
	var status string
	if err := row.Scan(
		&c.ID,
		&c.SheetID,
		&c.Prompt,
		&c.Output,
		&c.Model,
		&c.Temperature,
		&c.OutputFormat,
		&c.Condition,
		&c.AutoRun,
		&status,
		&c.JobID,
		&c.CreatedAt,
		&c.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrCellNotFound
		}
		return nil, err
	}
	c.Status = domain.CellStatus(status)
	return &c, nil
}
