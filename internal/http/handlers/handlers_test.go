package handlers_test

import (
	zipreader "archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"promptgrid/internal/domain"
	"promptgrid/internal/engine"
	"promptgrid/internal/http/handlers"
	"promptgrid/internal/http/httpapi"
	"promptgrid/internal/infra"

	"github.com/rs/zerolog"
)

type fakeStore struct {
	sheets map[string]map[string]*domain.Cell
	saved  []string
}

func newFakeStore() *fakeStore {
	return &fakeStore{sheets: map[string]map[string]*domain.Cell{}}
}

func (s *fakeStore) addSheet(name string) {
	s.sheets[strings.ToLower(name)] = map[string]*domain.Cell{}
}

func (s *fakeStore) addCell(sheet string, cell *domain.Cell) {
	s.sheets[strings.ToLower(sheet)][cell.ID] = cell
}

func (s *fakeStore) SaveCell(ctx context.Context, sheet string, cell *domain.Cell) error {
	cells, ok := s.sheets[strings.ToLower(sheet)]
	if !ok {
		return domain.ErrSheetNotFound
	}
	cp := *cell
	cells[cell.ID] = &cp
	s.saved = append(s.saved, cell.ID)
	return nil
}

func (s *fakeStore) SaveGeneration(ctx context.Context, sheet, cellID string, gen *domain.Generation) error {
	return nil
}

func (s *fakeStore) UpdateGeneration(ctx context.Context, sheet, cellID string, gen *domain.Generation) error {
	return nil
}

func (s *fakeStore) Generations(ctx context.Context, sheet, cellID string) ([]domain.Generation, error) {
	return nil, nil
}

func (s *fakeStore) SheetCells(ctx context.Context, sheet string) (map[string]*domain.Cell, error) {
	cells, ok := s.sheets[strings.ToLower(sheet)]
	if !ok {
		return nil, domain.ErrSheetNotFound
	}
	out := make(map[string]*domain.Cell, len(cells))
	for id, cell := range cells {
		cp := *cell
		out[id] = &cp
	}
	return out, nil
}

type fakeRunner struct {
	runReqs   []engine.RunRequest
	runRes    *engine.RunResult
	runErr    error
	manyBatch engine.BatchRequest
	manyRes   []engine.RunResult
	cancelOK  bool
}

func (r *fakeRunner) Run(ctx context.Context, req engine.RunRequest) (*engine.RunResult, error) {
	r.runReqs = append(r.runReqs, req)
	return r.runRes, r.runErr
}

func (r *fakeRunner) RunMany(ctx context.Context, batch engine.BatchRequest) ([]engine.RunResult, error) {
	r.manyBatch = batch
	return r.manyRes, nil
}

func (r *fakeRunner) Cancel(sheet, cellID string) bool {
	return r.cancelOK
}

type fakeSheets struct {
	items []domain.Sheet
}

func (f *fakeSheets) GetByName(ctx context.Context, name string) (*domain.Sheet, error) {
	for i := range f.items {
		if strings.EqualFold(f.items[i].Name, name) {
			return &f.items[i], nil
		}
	}
	return nil, domain.ErrSheetNotFound
}

func (f *fakeSheets) List(ctx context.Context) ([]domain.Sheet, error) {
	return f.items, nil
}

type fakeBilling struct {
	ledger *domain.CreditLedger
}

func (b *fakeBilling) Ledger(ctx context.Context, userID string) (*domain.CreditLedger, error) {
	return b.ledger, nil
}

func (b *fakeBilling) Deduct(ctx context.Context, userID string, amount int) (*domain.CreditLedger, error) {
	return b.ledger, nil
}

func (b *fakeBilling) Reset(ctx context.Context, ledger *domain.CreditLedger) (*domain.CreditLedger, error) {
	return b.ledger, nil
}

type fakeMedia struct {
	files map[string]string
}

func (m *fakeMedia) Open(key string) (io.ReadCloser, error) {
	data, ok := m.files[key]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return io.NopCloser(strings.NewReader(data)), nil
}

type fixture struct {
	store  *fakeStore
	runner *fakeRunner
	srv    http.Handler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := newFakeStore()
	runner := &fakeRunner{}
	app := &handlers.App{
		Store:  store,
		Sheets: &fakeSheets{items: []domain.Sheet{{ID: "s1", Name: "Stories"}}},
		Billing: &fakeBilling{ledger: &domain.CreditLedger{
			UserID: "u1", Plan: domain.UserPlanFree, Current: 42, Total: 100,
			NextReset: time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC),
		}},
		Runner: runner,
		Cache:  engine.NewSheetCache(store),
		Media:  &fakeMedia{files: map[string]string{"u1/Stories/A1/abc.png": "png-bytes"}},
		Cfg: &infra.Config{
			MediaBaseURL:   "/media",
			PromptPrefix:   "Be brief.",
			AllowedOrigins: []string{"*"},
		},
		Log: zerolog.Nop(),
	}
	return &fixture{store: store, runner: runner, srv: httpapi.NewRouter(app, nil)}
}

func (f *fixture) do(t *testing.T, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, target, reader)
	req.Header.Set("X-User-ID", "u1")
	rec := httptest.NewRecorder()
	f.srv.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	req := httptest.NewRequest(http.MethodGet, "/v1/healthz", nil)
	rec := httptest.NewRecorder()
	f.srv.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestIdentityRequired(t *testing.T) {
	f := newFixture(t)
	req := httptest.NewRequest(http.MethodGet, "/credits", nil)
	rec := httptest.NewRecorder()
	f.srv.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestCellGet(t *testing.T) {
	f := newFixture(t)
	f.store.addSheet("Stories")
	f.store.addCell("Stories", &domain.Cell{
		ID: "A1", Prompt: "a prompt", Output: "an output",
		Status: domain.CellStatusCompleted,
		Generations: []domain.Generation{
			{ID: "g2", Output: "an output", Status: domain.GenerationStatusCompleted},
			{ID: "g1", Output: "older", Status: domain.GenerationStatusCompleted},
		},
	})

	rec := f.do(t, http.MethodGet, "/sheets/Stories/cells/A1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	got := decode[map[string]any](t, rec)
	if got["output"] != "an output" {
		t.Fatalf("output = %v", got["output"])
	}
	gens, ok := got["generations"].([]any)
	if !ok || len(gens) != 2 {
		t.Fatalf("generations = %v", got["generations"])
	}
}

func TestCellGetUnknownSheet(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/sheets/Nope/cells/A1", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestCellUpsertCreatesThenPatches(t *testing.T) {
	f := newFixture(t)
	f.store.addSheet("Stories")

	rec := f.do(t, http.MethodPost, "/sheets/Stories/cells/B2", map[string]any{
		"prompt":   "write {{A1}}",
		"model":    "gemini-2.5-flash",
		"auto_run": true,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("create status = %d, body %s", rec.Code, rec.Body)
	}

	rec = f.do(t, http.MethodPost, "/sheets/Stories/cells/B2", map[string]any{
		"condition": "{{A1}} == done",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("patch status = %d, body %s", rec.Code, rec.Body)
	}
	got := decode[map[string]any](t, rec)
	if got["prompt"] != "write {{A1}}" {
		t.Fatalf("patch dropped prompt: %v", got["prompt"])
	}
	if got["condition"] != "{{A1}} == done" {
		t.Fatalf("condition = %v", got["condition"])
	}
	if got["auto_run"] != true {
		t.Fatalf("patch dropped auto_run")
	}
}

func TestCellUpsertUnknownSheet(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodPost, "/sheets/Nope/cells/A1", map[string]any{"prompt": "x"})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestCellUpsertRejectsBadID(t *testing.T) {
	f := newFixture(t)
	f.store.addSheet("Stories")
	rec := f.do(t, http.MethodPost, "/sheets/Stories/cells/not-a-cell", map[string]any{"prompt": "x"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestCellRunPassesPromptPrefix(t *testing.T) {
	f := newFixture(t)
	f.runner.runRes = &engine.RunResult{
		Cell: &domain.Cell{ID: "A1", Output: "done", Status: domain.CellStatusCompleted},
	}

	rec := f.do(t, http.MethodPost, "/sheets/Stories/cells/A1/run", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	if len(f.runner.runReqs) != 1 {
		t.Fatalf("runner calls = %d", len(f.runner.runReqs))
	}
	req := f.runner.runReqs[0]
	if req.UserID != "u1" || req.Sheet != "Stories" || req.CellID != "A1" {
		t.Fatalf("unexpected run request %+v", req)
	}
	if req.PromptPrefix != "Be brief." {
		t.Fatalf("prompt prefix = %q", req.PromptPrefix)
	}
}

func TestCellRunAsyncAccepted(t *testing.T) {
	f := newFixture(t)
	jobID := "job-1"
	f.runner.runRes = &engine.RunResult{
		Cell:  &domain.Cell{ID: "A1", Status: domain.CellStatusPending, JobID: &jobID},
		Async: true,
	}

	rec := f.do(t, http.MethodPost, "/sheets/Stories/cells/A1/run", nil)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", rec.Code)
	}
	got := decode[map[string]any](t, rec)
	if got["async"] != true {
		t.Fatalf("async = %v", got["async"])
	}
}

func TestCellRunInsufficientCredits(t *testing.T) {
	f := newFixture(t)
	f.runner.runErr = domain.ErrInsufficientCredits

	rec := f.do(t, http.MethodPost, "/sheets/Stories/cells/A1/run", nil)
	if rec.Code != http.StatusPaymentRequired {
		t.Fatalf("status = %d, want 402", rec.Code)
	}
}

func TestCellRunFailureReportsCellState(t *testing.T) {
	f := newFixture(t)
	f.runner.runRes = &engine.RunResult{
		Cell: &domain.Cell{ID: "A1", Status: domain.CellStatusError},
	}
	f.runner.runErr = domain.ErrGenerationFailed

	rec := f.do(t, http.MethodPost, "/sheets/Stories/cells/A1/run", nil)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", rec.Code)
	}
	got := decode[map[string]any](t, rec)
	if got["error"] != domain.ErrGenerationFailed.Error() {
		t.Fatalf("error detail = %v", got["error"])
	}
}

func TestSheetRunDefaultsToAllCells(t *testing.T) {
	f := newFixture(t)
	f.store.addSheet("Stories")
	f.store.addCell("Stories", &domain.Cell{ID: "B1"})
	f.store.addCell("Stories", &domain.Cell{ID: "A1"})
	f.runner.manyRes = []engine.RunResult{
		{Cell: &domain.Cell{ID: "A1", Status: domain.CellStatusCompleted}},
		{Cell: &domain.Cell{ID: "B1", Status: domain.CellStatusCompleted}},
	}

	rec := f.do(t, http.MethodPost, "/sheets/Stories/run", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	batch := f.runner.manyBatch
	if len(batch.CellIDs) != 2 || batch.CellIDs[0] != "A1" || batch.CellIDs[1] != "B1" {
		t.Fatalf("batch ids = %v", batch.CellIDs)
	}
	if batch.UserID != "u1" || batch.Sheet != "Stories" {
		t.Fatalf("batch = %+v", batch)
	}
	got := decode[map[string]any](t, rec)
	results, ok := got["results"].([]any)
	if !ok || len(results) != 2 {
		t.Fatalf("results = %v", got["results"])
	}
}

func TestSheetRunExplicitCells(t *testing.T) {
	f := newFixture(t)
	f.runner.manyRes = []engine.RunResult{}

	rec := f.do(t, http.MethodPost, "/sheets/Stories/run", map[string]any{"cells": []string{"C3"}})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	if ids := f.runner.manyBatch.CellIDs; len(ids) != 1 || ids[0] != "C3" {
		t.Fatalf("batch ids = %v", ids)
	}
}

func TestRunCarriesRequestLocale(t *testing.T) {
	f := newFixture(t)
	f.store.addSheet("Stories")
	f.store.addCell("Stories", &domain.Cell{ID: "A1"})
	f.runner.runRes = &engine.RunResult{Cell: &domain.Cell{ID: "A1", Status: domain.CellStatusCompleted}}

	req := httptest.NewRequest(http.MethodPost, "/sheets/Stories/cells/A1/run", nil)
	req.Header.Set("X-User-ID", "u1")
	req.Header.Set("X-Locale", "id")
	rec := httptest.NewRecorder()
	f.srv.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	if len(f.runner.runReqs) != 1 || f.runner.runReqs[0].Locale != "id" {
		t.Fatalf("run requests = %+v, want locale id", f.runner.runReqs)
	}

	f.runner.manyRes = []engine.RunResult{}
	req = httptest.NewRequest(http.MethodPost, "/sheets/Stories/run", nil)
	req.Header.Set("X-User-ID", "u1")
	req.Header.Set("X-Locale", "ja")
	rec = httptest.NewRecorder()
	f.srv.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	if f.runner.manyBatch.Locale != "ja" {
		t.Fatalf("batch locale = %q, want ja", f.runner.manyBatch.Locale)
	}
}

func TestCellCancel(t *testing.T) {
	f := newFixture(t)
	f.runner.cancelOK = true
	rec := f.do(t, http.MethodPost, "/sheets/Stories/cells/A1/cancel", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	f.runner.cancelOK = false
	rec = f.do(t, http.MethodPost, "/sheets/Stories/cells/A1/cancel", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestCredits(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/credits", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	got := decode[map[string]any](t, rec)
	if got["plan"] != "free" {
		t.Fatalf("plan = %v", got["plan"])
	}
	if got["current"] != float64(42) {
		t.Fatalf("current = %v", got["current"])
	}
}

func TestSheetList(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/sheets/", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	got := decode[map[string]any](t, rec)
	items, ok := got["items"].([]any)
	if !ok || len(items) != 1 {
		t.Fatalf("items = %v", got["items"])
	}
}

func TestSheetExport(t *testing.T) {
	f := newFixture(t)
	f.store.addSheet("Stories")
	f.store.addCell("Stories", &domain.Cell{ID: "A1", Prompt: "seed", Output: "a tree"})
	f.store.addCell("Stories", &domain.Cell{ID: "B1", Prompt: "empty"})

	rec := f.do(t, http.MethodGet, "/sheets/Stories/export", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/zip" {
		t.Fatalf("content type = %q", ct)
	}
	zr, err := zipreader.NewReader(bytes.NewReader(rec.Body.Bytes()), int64(rec.Body.Len()))
	if err != nil {
		t.Fatalf("open archive: %v", err)
	}
	if len(zr.File) != 2 {
		t.Fatalf("archive entries = %d, want 2", len(zr.File))
	}
	rc, err := zr.File[0].Open()
	if err != nil {
		t.Fatalf("open entry: %v", err)
	}
	defer rc.Close()
	data, _ := io.ReadAll(rc)
	if !strings.Contains(string(data), "a tree") {
		t.Fatalf("entry body = %q", data)
	}
}

func TestMediaServe(t *testing.T) {
	f := newFixture(t)
	req := httptest.NewRequest(http.MethodGet, "/media/u1/Stories/A1/abc.png", nil)
	rec := httptest.NewRecorder()
	f.srv.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "image/png" {
		t.Fatalf("content type = %q", ct)
	}
	if rec.Body.String() != "png-bytes" {
		t.Fatalf("body = %q", rec.Body.String())
	}

	req = httptest.NewRequest(http.MethodGet, "/media/u1/missing.png", nil)
	rec = httptest.NewRecorder()
	f.srv.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("missing media status = %d, want 404", rec.Code)
	}
}
