package domain

import "time"

// Sheet is a named collection of cells. Cross-sheet references address sheets
// by name, matched case-insensitively. The Cells map may be empty until a
// lazy load populates it; see the engine's sheet cache.
type Sheet struct {
	ID        string
	Name      string
	OwnerID   string
	Cells     map[string]*Cell
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Loaded reports whether the sheet's cell map has been populated.
func (s *Sheet) Loaded() bool {
	return s != nil && s.Cells != nil
}
