package engine

import (
	"promptgrid/internal/domain"
)

// Order arranges cellIDs so that every cell appears after the same-sheet
// cells its prompt references. Cross-sheet dependencies are intentionally not
// followed; only same-sheet ordering is guaranteed. The ordering never fails:
// a cell re-entered while still on the recursion stack is treated as already
// resolved, which bounds recursion on cyclic graphs. Cells where a cycle was
// cut are reported in the second return value so callers can log them; the
// first return value is always a permutation of the input.
func Order(cellIDs []string, cells map[string]*domain.Cell) (ordered []string, cycles []string) {
	requested := make(map[string]struct{}, len(cellIDs))
	for _, id := range cellIDs {
		requested[id] = struct{}{}
	}

	visited := make(map[string]struct{})
	visiting := make(map[string]struct{})
	cycleSeen := make(map[string]struct{})
	ordered = make([]string, 0, len(cellIDs))

	var visit func(id string)
	visit = func(id string) {
		if _, done := visited[id]; done {
			return
		}
		if _, onStack := visiting[id]; onStack {
			if _, dup := cycleSeen[id]; !dup {
				cycleSeen[id] = struct{}{}
				cycles = append(cycles, id)
			}
			return
		}
		visiting[id] = struct{}{}

		for _, dep := range sameSheetDependencies(cells[id]) {
			if _, inBatch := requested[dep]; inBatch {
				visit(dep)
			}
		}

		delete(visiting, id)
		visited[id] = struct{}{}
		ordered = append(ordered, id)
	}

	for _, id := range cellIDs {
		visit(id)
	}
	return ordered, cycles
}

// sameSheetDependencies extracts the same-sheet cell ids referenced by the
// cell's prompt, in order of first appearance.
func sameSheetDependencies(cell *domain.Cell) []string {
	if cell == nil {
		return nil
	}
	var deps []string
	seen := make(map[string]struct{})
	for _, raw := range ParseReferences(cell.Prompt) {
		ref, ok := ParseReference(raw)
		if !ok || !ref.SameSheet() {
			continue
		}
		if _, dup := seen[ref.CellID]; dup {
			continue
		}
		seen[ref.CellID] = struct{}{}
		deps = append(deps, ref.CellID)
	}
	return deps
}

// Dependents returns the ids of cells on the sheet whose prompts reference
// the given cell. Used by the batch cascade for autoRun propagation.
func Dependents(cellID string, cells map[string]*domain.Cell) []string {
	var out []string
	for id, cell := range cells {
		if id == cellID {
			continue
		}
		for _, dep := range sameSheetDependencies(cell) {
			if dep == cellID {
				out = append(out, id)
				break
			}
		}
	}
	return out
}
