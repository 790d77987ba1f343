package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"time"

	"promptgrid/internal/domain"
	"promptgrid/internal/engine"
	"promptgrid/internal/middleware"

	"github.com/go-chi/chi/v5"
)

type sheetView struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (a *App) SheetList(w http.ResponseWriter, r *http.Request) {
	sheets, err := a.Sheets.List(r.Context())
	if err != nil {
		a.error(w, http.StatusInternalServerError, "internal", "failed to list sheets")
		return
	}
	items := make([]sheetView, 0, len(sheets))
	for _, s := range sheets {
		items = append(items, sheetView{ID: s.ID, Name: s.Name, UpdatedAt: s.UpdatedAt})
	}
	a.json(w, http.StatusOK, map[string]any{"items": items})
}

func (a *App) SheetCells(w http.ResponseWriter, r *http.Request) {
	sheet := chi.URLParam(r, "sheet")
	cells, err := a.Cache.GetOrLoad(r.Context(), sheet)
	if err != nil {
		a.notFoundOrInternal(w, err)
		return
	}
	views := make([]cellView, 0, len(cells))
	for _, cell := range cells {
		views = append(views, newCellView(sheet, cell))
	}
	sort.Slice(views, func(i, j int) bool { return views[i].ID < views[j].ID })
	a.json(w, http.StatusOK, map[string]any{"items": views})
}

type sheetRunRequest struct {
	Cells []string `json:"cells"`
}

type sheetRunResponse struct {
	Results []runResponse `json:"results"`
}

// SheetRun executes a batch of cells in dependency order. An empty or
// absent cell list runs the whole sheet.
func (a *App) SheetRun(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromContext(r.Context())
	sheet := chi.URLParam(r, "sheet")

	var req sheetRunRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
			return
		}
	}
	cellIDs := req.Cells
	if len(cellIDs) == 0 {
		cells, err := a.Cache.GetOrLoad(r.Context(), sheet)
		if err != nil {
			a.notFoundOrInternal(w, err)
			return
		}
		for id := range cells {
			cellIDs = append(cellIDs, id)
		}
		sort.Strings(cellIDs)
	}

	results, err := a.Runner.RunMany(r.Context(), engine.BatchRequest{
		UserID:       userID,
		Sheet:        sheet,
		CellIDs:      cellIDs,
		Locale:       middleware.LocaleFromContext(r.Context()),
		PromptPrefix: a.Cfg.PromptPrefix,
	})
	if err != nil {
		if errors.Is(err, domain.ErrSheetNotFound) {
			a.error(w, http.StatusNotFound, "sheet_not_found", "sheet not found")
			return
		}
		a.error(w, http.StatusInternalServerError, "internal", "batch run failed")
		return
	}
	out := sheetRunResponse{Results: make([]runResponse, 0, len(results))}
	for i := range results {
		out.Results = append(out.Results, newRunResponse(sheet, &results[i]))
	}
	a.json(w, http.StatusOK, out)
}
