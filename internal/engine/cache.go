package engine

import (
	"context"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"

	"promptgrid/internal/domain"
)

// SheetCache lazily loads and caches the cell maps of sheets, keyed by
// case-insensitive sheet name. Reads hand out the current snapshot map;
// mutations copy-on-write, so a resolver iterating a snapshot never observes
// a torn read. Each sheet is loaded at most once concurrently.
type SheetCache struct {
	store Store

	group singleflight.Group
	mu    sync.RWMutex
	cells map[string]map[string]*domain.Cell
}

func NewSheetCache(store Store) *SheetCache {
	return &SheetCache{
		store: store,
		cells: make(map[string]map[string]*domain.Cell),
	}
}

// GetOrLoad returns the cell map snapshot of the named sheet, loading it from
// the store on first access. Returns domain.ErrSheetNotFound for unknown
// sheets.
func (c *SheetCache) GetOrLoad(ctx context.Context, sheet string) (map[string]*domain.Cell, error) {
	key := cacheKey(sheet)

	c.mu.RLock()
	snapshot, ok := c.cells[key]
	c.mu.RUnlock()
	if ok {
		return snapshot, nil
	}

	loaded, err, _ := c.group.Do(key, func() (any, error) {
		cells, err := c.store.SheetCells(ctx, sheet)
		if err != nil {
			return nil, err
		}
		if cells == nil {
			cells = make(map[string]*domain.Cell)
		}
		c.mu.Lock()
		c.cells[key] = cells
		c.mu.Unlock()
		return cells, nil
	})
	if err != nil {
		return nil, err
	}
	return loaded.(map[string]*domain.Cell), nil
}

// Cell returns the named cell from the cached (or freshly loaded) sheet.
func (c *SheetCache) Cell(ctx context.Context, sheet, cellID string) (*domain.Cell, error) {
	cells, err := c.GetOrLoad(ctx, sheet)
	if err != nil {
		return nil, err
	}
	cell, ok := cells[cellID]
	if !ok {
		return nil, domain.ErrCellNotFound
	}
	return cell, nil
}

// Put replaces the cached record for one cell. The sheet's snapshot map is
// copied so in-flight readers keep their view.
func (c *SheetCache) Put(sheet string, cell *domain.Cell) {
	key := cacheKey(sheet)

	c.mu.Lock()
	defer c.mu.Unlock()
	prev, ok := c.cells[key]
	if !ok {
		return
	}
	next := make(map[string]*domain.Cell, len(prev)+1)
	for id, existing := range prev {
		next[id] = existing
	}
	next[cell.ID] = cell
	c.cells[key] = next
}

// Invalidate drops the cached snapshot for a sheet.
func (c *SheetCache) Invalidate(sheet string) {
	c.mu.Lock()
	delete(c.cells, cacheKey(sheet))
	c.mu.Unlock()
}

func cacheKey(sheet string) string {
	return strings.ToLower(strings.TrimSpace(sheet))
}
