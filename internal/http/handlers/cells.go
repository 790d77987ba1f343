package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"promptgrid/internal/domain"
	"promptgrid/internal/engine"
	"promptgrid/internal/middleware"

	"github.com/go-chi/chi/v5"
)

type generationView struct {
	ID             string    `json:"id"`
	Prompt         string    `json:"prompt"`
	ResolvedPrompt string    `json:"resolved_prompt"`
	Output         string    `json:"output"`
	Model          string    `json:"model"`
	Type           string    `json:"type"`
	Status         string    `json:"status"`
	JobID          *string   `json:"job_id,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

type cellView struct {
	ID           string           `json:"id"`
	Sheet        string           `json:"sheet"`
	Prompt       string           `json:"prompt"`
	Output       string           `json:"output"`
	Model        string           `json:"model,omitempty"`
	Temperature  float64          `json:"temperature,omitempty"`
	OutputFormat string           `json:"output_format,omitempty"`
	Condition    string           `json:"condition,omitempty"`
	AutoRun      bool             `json:"auto_run"`
	Status       string           `json:"status"`
	JobID        *string          `json:"job_id,omitempty"`
	Generations  []generationView `json:"generations"`
	UpdatedAt    time.Time        `json:"updated_at"`
}

func newCellView(sheet string, cell *domain.Cell) cellView {
	gens := make([]generationView, 0, len(cell.Generations))
	for _, g := range cell.Generations {
		gens = append(gens, generationView{
			ID:             g.ID,
			Prompt:         g.Prompt,
			ResolvedPrompt: g.ResolvedPrompt,
			Output:         g.Output,
			Model:          g.Model,
			Type:           string(g.Type),
			Status:         string(g.Status),
			JobID:          g.JobID,
			Timestamp:      g.Timestamp,
		})
	}
	return cellView{
		ID:           cell.ID,
		Sheet:        sheet,
		Prompt:       cell.Prompt,
		Output:       cell.Output,
		Model:        cell.Model,
		Temperature:  cell.Temperature,
		OutputFormat: cell.OutputFormat,
		Condition:    cell.Condition,
		AutoRun:      cell.AutoRun,
		Status:       string(cell.Status),
		JobID:        cell.JobID,
		Generations:  gens,
		UpdatedAt:    cell.UpdatedAt,
	}
}

func (a *App) CellGet(w http.ResponseWriter, r *http.Request) {
	sheet := chi.URLParam(r, "sheet")
	cellID := chi.URLParam(r, "cell")
	cell, err := a.Cache.Cell(r.Context(), sheet, cellID)
	if err != nil {
		a.notFoundOrInternal(w, err)
		return
	}
	a.json(w, http.StatusOK, newCellView(sheet, cell))
}

type cellUpdateRequest struct {
	Prompt       *string  `json:"prompt"`
	Model        *string  `json:"model"`
	Temperature  *float64 `json:"temperature"`
	OutputFormat *string  `json:"output_format"`
	Condition    *string  `json:"condition"`
	AutoRun      *bool    `json:"auto_run"`
}

// CellUpsert creates or patches a cell. Absent fields keep their stored
// values so a prompt edit does not clobber the run configuration.
func (a *App) CellUpsert(w http.ResponseWriter, r *http.Request) {
	sheet := chi.URLParam(r, "sheet")
	cellID := chi.URLParam(r, "cell")
	if !engine.ValidCellID(cellID) {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid cell id")
		return
	}
	var req cellUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}

	cell, err := a.Cache.Cell(r.Context(), sheet, cellID)
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrCellNotFound):
		cell = &domain.Cell{ID: cellID, Status: domain.CellStatusNone}
	default:
		a.notFoundOrInternal(w, err)
		return
	}

	work := *cell
	if req.Prompt != nil {
		work.Prompt = *req.Prompt
	}
	if req.Model != nil {
		work.Model = *req.Model
	}
	if req.Temperature != nil {
		work.Temperature = *req.Temperature
	}
	if req.OutputFormat != nil {
		work.OutputFormat = *req.OutputFormat
	}
	if req.Condition != nil {
		work.Condition = *req.Condition
	}
	if req.AutoRun != nil {
		work.AutoRun = *req.AutoRun
	}
	work.UpdatedAt = time.Now().UTC()

	if err := a.Store.SaveCell(r.Context(), sheet, &work); err != nil {
		a.notFoundOrInternal(w, err)
		return
	}
	a.Cache.Put(sheet, &work)
	a.json(w, http.StatusOK, newCellView(sheet, &work))
}

type runResponse struct {
	Cell    cellView `json:"cell"`
	Async   bool     `json:"async"`
	Skipped bool     `json:"skipped"`
	Error   string   `json:"error,omitempty"`
}

func newRunResponse(sheet string, res *engine.RunResult) runResponse {
	out := runResponse{
		Cell:    newCellView(sheet, res.Cell),
		Async:   res.Async,
		Skipped: res.Skipped,
	}
	if res.Err != nil {
		out.Error = res.Err.Error()
	}
	return out
}

func (a *App) CellRun(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromContext(r.Context())
	sheet := chi.URLParam(r, "sheet")
	cellID := chi.URLParam(r, "cell")

	res, err := a.Runner.Run(r.Context(), engine.RunRequest{
		UserID:       userID,
		Sheet:        sheet,
		CellID:       cellID,
		Locale:       middleware.LocaleFromContext(r.Context()),
		PromptPrefix: a.Cfg.PromptPrefix,
	})
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrInsufficientCredits):
			a.error(w, http.StatusPaymentRequired, "insufficient_credits", err.Error())
		case errors.Is(err, domain.ErrSheetNotFound), errors.Is(err, domain.ErrCellNotFound):
			a.error(w, http.StatusNotFound, "not_found", err.Error())
		case res != nil:
			// Run persisted an error generation; report the cell state
			// alongside the failure.
			res.Err = err
			a.json(w, http.StatusUnprocessableEntity, newRunResponse(sheet, res))
		default:
			a.error(w, http.StatusInternalServerError, "internal", "cell run failed")
		}
		return
	}

	code := http.StatusOK
	if res.Async {
		code = http.StatusAccepted
	}
	a.json(w, code, newRunResponse(sheet, res))
}

func (a *App) CellCancel(w http.ResponseWriter, r *http.Request) {
	sheet := chi.URLParam(r, "sheet")
	cellID := chi.URLParam(r, "cell")
	cancelled := a.Runner.Cancel(sheet, cellID)
	if !cancelled {
		a.error(w, http.StatusNotFound, "not_found", "no outstanding job for cell")
		return
	}
	a.json(w, http.StatusOK, map[string]any{"cancelled": true})
}

func (a *App) notFoundOrInternal(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrSheetNotFound):
		a.error(w, http.StatusNotFound, "sheet_not_found", "sheet not found")
	case errors.Is(err, domain.ErrCellNotFound):
		a.error(w, http.StatusNotFound, "cell_not_found", "cell not found")
	default:
		a.error(w, http.StatusInternalServerError, "internal", "storage failure")
	}
}
