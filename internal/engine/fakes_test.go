package engine

import (
	"context"
	"strings"
	"sync"

	"promptgrid/internal/domain"
)

// fakeStore is an in-memory Store keyed by lower-cased sheet name.
type fakeStore struct {
	mu     sync.Mutex
	sheets map[string]map[string]*domain.Cell

	savedCells  int
	savedGens   int
	updatedGens int
}

func newFakeStore() *fakeStore {
	return &fakeStore{sheets: make(map[string]map[string]*domain.Cell)}
}

func (s *fakeStore) addSheet(name string, cells ...*domain.Cell) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := make(map[string]*domain.Cell, len(cells))
	for _, c := range cells {
		m[c.ID] = c
	}
	s.sheets[strings.ToLower(name)] = m
}

func (s *fakeStore) cell(sheet, id string) *domain.Cell {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.sheets[strings.ToLower(sheet)]
	if m == nil {
		return nil
	}
	return m[id]
}

func (s *fakeStore) SaveCell(ctx context.Context, sheet string, cell *domain.Cell) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.sheets[strings.ToLower(sheet)]
	if !ok {
		return domain.ErrSheetNotFound
	}
	cp := *cell
	m[cell.ID] = &cp
	s.savedCells++
	return nil
}

func (s *fakeStore) SaveGeneration(ctx context.Context, sheet, cellID string, gen *domain.Generation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.savedGens++
	return nil
}

func (s *fakeStore) UpdateGeneration(ctx context.Context, sheet, cellID string, gen *domain.Generation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updatedGens++
	return nil
}

func (s *fakeStore) Generations(ctx context.Context, sheet, cellID string) ([]domain.Generation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.sheets[strings.ToLower(sheet)]
	if !ok {
		return nil, domain.ErrSheetNotFound
	}
	cell, ok := m[cellID]
	if !ok {
		return nil, domain.ErrCellNotFound
	}
	return append([]domain.Generation(nil), cell.Generations...), nil
}

func (s *fakeStore) SheetCells(ctx context.Context, sheet string) (map[string]*domain.Cell, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.sheets[strings.ToLower(sheet)]
	if !ok {
		return nil, domain.ErrSheetNotFound
	}
	out := make(map[string]*domain.Cell, len(m))
	for id, c := range m {
		cp := *c
		out[id] = &cp
	}
	return out, nil
}

// fakeBackend scripts Generate and CheckJobStatus answers.
type fakeBackend struct {
	mu            sync.Mutex
	generate      func(req GenerateRequest) (*GenerateResult, error)
	statuses      []JobStatusResult
	statusIdx     int
	generateCalls int
	statusCalls   int
}

func (b *fakeBackend) Generate(ctx context.Context, req GenerateRequest) (*GenerateResult, error) {
	b.mu.Lock()
	b.generateCalls++
	fn := b.generate
	b.mu.Unlock()
	if fn == nil {
		return &GenerateResult{Output: "ok"}, nil
	}
	return fn(req)
}

func (b *fakeBackend) CheckJobStatus(ctx context.Context, jobID string) (*JobStatusResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.statusCalls++
	if b.statusIdx >= len(b.statuses) {
		return &JobStatusResult{Status: "pending"}, nil
	}
	st := b.statuses[b.statusIdx]
	b.statusIdx++
	return &st, nil
}

// fakeBilling holds one ledger and counts mutations.
type fakeBilling struct {
	mu       sync.Mutex
	ledger   domain.CreditLedger
	deducted int
	resets   int
}

func (b *fakeBilling) Ledger(ctx context.Context, userID string) (*domain.CreditLedger, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	cp := b.ledger
	return &cp, nil
}

func (b *fakeBilling) Deduct(ctx context.Context, userID string, amount int) (*domain.CreditLedger, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ledger.Current -= amount
	b.deducted += amount
	cp := b.ledger
	return &cp, nil
}

func (b *fakeBilling) Reset(ctx context.Context, ledger *domain.CreditLedger) (*domain.CreditLedger, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ledger = *ledger
	b.resets++
	cp := b.ledger
	return &cp, nil
}

func (b *fakeBilling) current() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ledger.Current
}

// fakeMedia records uploads and returns deterministic permanent paths.
type fakeMedia struct {
	mu      sync.Mutex
	uploads []string
	fail    bool
}

func (m *fakeMedia) UploadFromURL(ctx context.Context, rawURL, ownerPath string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return "", domain.ErrUploadFailed
	}
	m.uploads = append(m.uploads, rawURL)
	return "/media/" + ownerPath, nil
}

func textCell(id, prompt, output string) *domain.Cell {
	return &domain.Cell{ID: id, Prompt: prompt, Output: output, Status: domain.CellStatusCompleted}
}
