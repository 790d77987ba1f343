package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"promptgrid/internal/domain"
)

const (
	defaultPollInterval = 5 * time.Second
	defaultMaxAttempts  = 60
)

// PollerConfig bounds the polling loop. Interval x MaxAttempts is the overall
// job timeout.
type PollerConfig struct {
	Interval    time.Duration
	MaxAttempts int
}

func (c PollerConfig) withDefaults() PollerConfig {
	if c.Interval <= 0 {
		c.Interval = defaultPollInterval
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = defaultMaxAttempts
	}
	return c
}

// Poller drives outstanding async generation jobs to a terminal state. Each
// watched job owns its own cancellable context; cancellation is cooperative
// and checked at the top of every poll tick.
type Poller struct {
	backend Backend
	store   Store
	media   MediaStore
	billing Billing
	cache   *SheetCache
	cfg     PollerConfig
	log     zerolog.Logger

	// after is swappable for tests.
	after func(time.Duration) <-chan time.Time

	mu      sync.Mutex
	handles map[string]*JobHandle
}

func NewPoller(backend Backend, store Store, media MediaStore, billing Billing, cache *SheetCache, cfg PollerConfig, log zerolog.Logger) *Poller {
	return &Poller{
		backend: backend,
		store:   store,
		media:   media,
		billing: billing,
		cache:   cache,
		cfg:     cfg.withDefaults(),
		log:     log,
		after:   time.After,
		handles: make(map[string]*JobHandle),
	}
}

// PollRequest identifies one outstanding async generation.
type PollRequest struct {
	Sheet  string
	CellID string
	UserID string
	JobID  string
	// Generation is the persisted pending record; it is completed or failed
	// in place when the job reaches a terminal state.
	Generation domain.Generation
	// Cost is deducted from the user's ledger on terminal success.
	Cost int
}

// JobHandle allows cooperative cancellation of a watched job.
type JobHandle struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Cancel requests the poll loop to stop at its next tick.
func (h *JobHandle) Cancel() {
	h.cancel()
}

// Done is closed once the poll loop has returned.
func (h *JobHandle) Done() <-chan struct{} {
	return h.done
}

// Watch polls the job in a new goroutine until terminal state, timeout or
// cancellation, and returns a handle for cooperative cancellation.
func (p *Poller) Watch(ctx context.Context, req PollRequest) *JobHandle {
	ctx, cancel := context.WithCancel(ctx)
	handle := &JobHandle{cancel: cancel, done: make(chan struct{})}
	key := jobKey(req.Sheet, req.CellID)

	p.mu.Lock()
	if prev, ok := p.handles[key]; ok {
		prev.cancel()
	}
	p.handles[key] = handle
	p.mu.Unlock()

	go func() {
		defer close(handle.done)
		defer cancel()
		defer func() {
			p.mu.Lock()
			if p.handles[key] == handle {
				delete(p.handles, key)
			}
			p.mu.Unlock()
		}()

		if _, err := p.Await(ctx, req); err != nil {
			p.log.Warn().Err(err).
				Str("sheet", req.Sheet).
				Str("cell", req.CellID).
				Str("job_id", req.JobID).
				Msg("engine: async job did not complete")
		}
	}()
	return handle
}

// Cancel cancels the watched job of a cell, if any. Cancelling does not roll
// back already-persisted state.
func (p *Poller) Cancel(sheet, cellID string) bool {
	p.mu.Lock()
	handle, ok := p.handles[jobKey(sheet, cellID)]
	p.mu.Unlock()
	if ok {
		handle.Cancel()
	}
	return ok
}

// Await runs the poll loop synchronously and returns the terminal generation
// record. On cancellation it returns domain.ErrCancelled without touching
// persisted state further; on exhausting MaxAttempts it persists a timeout
// error record and returns domain.ErrJobTimeout.
func (p *Poller) Await(ctx context.Context, req PollRequest) (*domain.Generation, error) {
	gen := req.Generation

	for attempt := 0; attempt < p.cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("%w: job %s", domain.ErrCancelled, req.JobID)
		}

		status, err := p.backend.CheckJobStatus(ctx, req.JobID)
		if err != nil {
			p.log.Warn().Err(err).Str("job_id", req.JobID).Msg("engine: job status check failed")
			status = &JobStatusResult{Status: "pending"}
		}

		switch classifyJobStatus(status.Status) {
		case jobStatusSucceeded:
			return p.complete(ctx, req, &gen, status.Output)
		case jobStatusFailed:
			return p.fail(ctx, req, &gen, fmt.Errorf("%w: job %s reported %s", domain.ErrJobFailed, req.JobID, status.Status))
		}

		p.persistProgress(ctx, req, &gen, status.Status)

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: job %s", domain.ErrCancelled, req.JobID)
		case <-p.after(p.cfg.Interval):
		}
	}

	timeout := time.Duration(p.cfg.MaxAttempts) * p.cfg.Interval
	return p.fail(ctx, req, &gen, fmt.Errorf("%w: job %s exceeded %s", domain.ErrJobTimeout, req.JobID, timeout))
}

func (p *Poller) complete(ctx context.Context, req PollRequest, gen *domain.Generation, output string) (*domain.Generation, error) {
	output = finalizeMedia(ctx, p.media, p.log, output, req.UserID, req.Sheet, req.CellID)

	gen.Status = domain.GenerationStatusCompleted
	gen.Output = output
	if err := p.store.UpdateGeneration(ctx, req.Sheet, req.CellID, gen); err != nil {
		return nil, fmt.Errorf("persist completed generation: %w", err)
	}
	p.persistCell(ctx, req, gen, domain.CellStatusCompleted, output, nil)

	if err := p.settle(ctx, req); err != nil {
		p.log.Warn().Err(err).Str("user_id", req.UserID).Msg("engine: credit settlement failed")
	}

	p.log.Info().
		Str("sheet", req.Sheet).
		Str("cell", req.CellID).
		Str("job_id", req.JobID).
		Msg("engine: async job completed")
	return gen, nil
}

func (p *Poller) fail(ctx context.Context, req PollRequest, gen *domain.Generation, cause error) (*domain.Generation, error) {
	gen.Status = domain.GenerationStatusError
	gen.Output = cause.Error()
	if err := p.store.UpdateGeneration(ctx, req.Sheet, req.CellID, gen); err != nil {
		p.log.Error().Err(err).Str("job_id", req.JobID).Msg("engine: persist failed generation")
	}
	p.persistCell(ctx, req, gen, domain.CellStatusError, "", nil)
	return gen, cause
}

// persistProgress records a non-terminal status change so observers see the
// job advance, and reschedules.
func (p *Poller) persistProgress(ctx context.Context, req PollRequest, gen *domain.Generation, status string) {
	if string(gen.Status) == status {
		return
	}
	gen.Status = domain.GenerationStatus(status)
	if err := p.store.UpdateGeneration(ctx, req.Sheet, req.CellID, gen); err != nil {
		p.log.Warn().Err(err).Str("job_id", req.JobID).Msg("engine: persist job progress")
	}
}

func (p *Poller) persistCell(ctx context.Context, req PollRequest, gen *domain.Generation, status domain.CellStatus, output string, jobID *string) {
	cells, err := p.store.SheetCells(ctx, req.Sheet)
	if err != nil {
		p.log.Warn().Err(err).Str("sheet", req.Sheet).Msg("engine: load sheet for cell update")
		return
	}
	cell, ok := cells[req.CellID]
	if !ok {
		return
	}
	updated := *cell
	updated.Status = status
	updated.JobID = jobID
	if output != "" {
		updated.Output = output
	}
	if idx := findGeneration(updated.Generations, gen.ID); idx >= 0 {
		gens := append([]domain.Generation(nil), updated.Generations...)
		gens[idx] = *gen
		updated.Generations = gens
	}
	if err := p.store.SaveCell(ctx, req.Sheet, &updated); err != nil {
		p.log.Warn().Err(err).Str("cell", req.CellID).Msg("engine: persist cell state")
	}
	if p.cache != nil {
		p.cache.Put(req.Sheet, &updated)
	}
}

func findGeneration(gens []domain.Generation, id string) int {
	for i := range gens {
		if gens[i].ID == id {
			return i
		}
	}
	return -1
}

func (p *Poller) settle(ctx context.Context, req PollRequest) error {
	if req.Cost <= 0 || p.billing == nil {
		return nil
	}
	_, err := p.billing.Deduct(ctx, req.UserID, req.Cost)
	return err
}

func jobKey(sheet, cellID string) string {
	return sheet + "/" + cellID
}
