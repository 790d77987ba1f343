package domain

import "time"

// CellStatus enumerates cell execution states.
type CellStatus string

const (
	CellStatusNone      CellStatus = ""
	CellStatusPending   CellStatus = "pending"
	CellStatusRunning   CellStatus = "running"
	CellStatusCompleted CellStatus = "completed"
	CellStatusError     CellStatus = "error"
	CellStatusSkipped   CellStatus = "skipped"
)

// Cell is a named unit on a sheet holding a prompt template, its execution
// configuration and the latest resolved output. The ID is a grid-style name
// ("A1", "B12") assigned on creation and never changed afterwards.
type Cell struct {
	ID           string
	SheetID      string
	Prompt       string
	Output       string
	Model        string
	Temperature  float64
	OutputFormat string
	Condition    string
	AutoRun      bool
	Status       CellStatus
	JobID        *string
	Generations  []Generation // newest-first
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// LatestGeneration returns the most recent generation record, or nil.
func (c *Cell) LatestGeneration() *Generation {
	if c == nil || len(c.Generations) == 0 {
		return nil
	}
	return &c.Generations[0]
}

// GenerationAt returns the generation at the given 1-based chronological
// (oldest-first) index. Storage order is newest-first, so index 1 maps to the
// last element of the slice.
func (c *Cell) GenerationAt(index int) (*Generation, bool) {
	if c == nil || index < 1 || index > len(c.Generations) {
		return nil, false
	}
	return &c.Generations[len(c.Generations)-index], true
}
