package repo

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"promptgrid/internal/domain"
	"promptgrid/internal/sqlinline"
)

// SheetRepositoryPG implements domain.SheetRepository backed by PostgreSQL.
type SheetRepositoryPG struct {
	pool *pgxpool.Pool
}

// NewSheetRepository creates a new SheetRepositoryPG.
func NewSheetRepository(pool *pgxpool.Pool) *SheetRepositoryPG {
	return &SheetRepositoryPG{pool: pool}
}

// GetByName fetches a sheet by case-insensitive name. The cell map is not
// populated; see CellRepositoryPG.ListBySheet.
func (r *SheetRepositoryPG) GetByName(ctx context.Context, name string) (*domain.Sheet, error) {
	row := r.pool.QueryRow(ctx, sqlinline.QSelectSheetByName, name)
	return scanSheet(row)
}

// List returns every sheet ordered by name.
func (r *SheetRepositoryPG) List(ctx context.Context) ([]domain.Sheet, error) {
	rows, err := r.pool.Query(ctx, sqlinline.QListSheets)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sheets []domain.Sheet
	for rows.Next() {
		sheet, err := scanSheet(rows)
		if err != nil {
			return nil, err
		}
		sheets = append(sheets, *sheet)
	}
	return sheets, rows.Err()
}

func scanSheet(row pgx.Row) (*domain.Sheet, error) {
	var s domain.Sheet
	if err := row.Scan(&s.ID, &s.Name, &s.OwnerID, &s.CreatedAt, &s.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrSheetNotFound
		}
		return nil, err
	}
	return &s, nil
}
