package engine

import (
	"context"
	"fmt"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/text/language"
	"golang.org/x/text/language/display"

	"promptgrid/internal/domain"
)

// Text outputs are capped by a character budget; the backend's token cap is
// derived from it.
const (
	defaultCharBudget  = 8000
	charsPerToken      = 4
	defaultVideoLength = 8
	defaultResolution  = "720p"
	defaultAspectRatio = "16:9"
	defaultVoice       = "alloy"
	defaultAudioFormat = "mp3"
)

// Orchestrator drives cells through their run lifecycle:
// resolve -> skip-check -> admission -> generate -> persist, with async
// results handed to the Poller. Writes to the same cell id are serialized;
// a shared running set exists for advisory cross-checks only.
type Orchestrator struct {
	store     Store
	media     MediaStore
	backend   Backend
	admission *Admission
	resolver  *Resolver
	cache     *SheetCache
	poller    *Poller
	log       zerolog.Logger

	mu      sync.Mutex
	locks   map[string]*sync.Mutex
	running map[string]struct{}
}

func NewOrchestrator(store Store, media MediaStore, backend Backend, admission *Admission, cache *SheetCache, poller *Poller, log zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		store:     store,
		media:     media,
		backend:   backend,
		admission: admission,
		resolver:  NewResolver(cache, log),
		cache:     cache,
		poller:    poller,
		log:       log,
		locks:     make(map[string]*sync.Mutex),
		running:   make(map[string]struct{}),
	}
}

// Resolver exposes the orchestrator's template resolver.
func (o *Orchestrator) Resolver() *Resolver {
	return o.resolver
}

// RunRequest identifies one cell execution.
type RunRequest struct {
	UserID string
	Sheet  string
	CellID string
	// PromptPrefix is an optional fixed template concatenated ahead of the
	// cell's prompt before resolution.
	PromptPrefix string
	// Locale is the caller's BCP 47 locale. Non-English locales become a
	// response-language hint appended to the resolved prompt.
	Locale string
}

// BatchRequest identifies a batch execution over one sheet. Locale and
// PromptPrefix apply to every cell in the batch, cascaded dependents
// included.
type BatchRequest struct {
	UserID       string
	Sheet        string
	CellIDs      []string
	Locale       string
	PromptPrefix string
}

// RunResult reports the outcome of one cell execution.
type RunResult struct {
	Cell       *domain.Cell
	Generation *domain.Generation
	Async      bool
	Skipped    bool
	Err        error
}

// Run executes a single cell. Errors during resolution or generation are
// captured into a persisted error generation and an error cell status; the
// returned error reports the failure but nothing is thrown past this
// boundary by RunMany.
func (o *Orchestrator) Run(ctx context.Context, req RunRequest) (*RunResult, error) {
	unlock := o.lockCell(req.Sheet, req.CellID)
	defer unlock()

	cell, err := o.cache.Cell(ctx, req.Sheet, req.CellID)
	if err != nil {
		return nil, fmt.Errorf("load cell %s!%s: %w", req.Sheet, req.CellID, err)
	}
	work := *cell

	o.setRunning(req.Sheet, req.CellID, true)
	defer o.setRunning(req.Sheet, req.CellID, false)

	// Skip check: an execution condition that evaluates false ends the run
	// without touching the backend.
	if strings.TrimSpace(work.Condition) != "" {
		if !o.resolver.EvaluateCondition(ctx, req.Sheet, work.Condition) {
			return o.persistSkip(ctx, req, &work)
		}
	}

	work.Status = domain.CellStatusRunning
	o.cache.Put(req.Sheet, &work)

	template := work.Prompt
	if req.PromptPrefix != "" {
		template = req.PromptPrefix + "\n" + template
	}
	resolvedPrompt := o.resolver.ResolveTemplate(ctx, req.Sheet, template)
	if hint := localeHint(req.Locale); hint != "" {
		resolvedPrompt += "\n\n" + hint
	}

	genType := generationType(work.Model, work.OutputFormat)
	cost, err := o.admission.Admit(ctx, req.UserID, work.Model, genType)
	if err != nil {
		return o.persistFailure(ctx, req, &work, resolvedPrompt, genType, err)
	}

	result, err := o.backend.Generate(ctx, buildGenerateRequest(&work, resolvedPrompt, genType))
	if err != nil {
		return o.persistFailure(ctx, req, &work, resolvedPrompt, genType, fmt.Errorf("%w: %v", domain.ErrGenerationFailed, err))
	}

	if result.JobID != "" {
		return o.handleAsync(ctx, req, &work, resolvedPrompt, genType, cost, result)
	}
	return o.handleSync(ctx, req, &work, resolvedPrompt, genType, cost, result.Output)
}

// RunMany executes a batch of cells in same-sheet topological order, then
// cascades into autoRun dependents whose same-sheet dependencies have all
// completed. Cells run sequentially; a failing cell does not abort the batch.
func (o *Orchestrator) RunMany(ctx context.Context, batch BatchRequest) ([]RunResult, error) {
	cells, err := o.cache.GetOrLoad(ctx, batch.Sheet)
	if err != nil {
		return nil, fmt.Errorf("load sheet %s: %w", batch.Sheet, err)
	}

	ordered, cycles := Order(batch.CellIDs, cells)
	if len(cycles) > 0 {
		o.log.Warn().Str("sheet", batch.Sheet).Strs("cells", cycles).Msg("engine: reference cycle cut during ordering")
	}

	results := make([]RunResult, 0, len(ordered))
	ranSet := make(map[string]struct{}, len(ordered))
	for _, id := range ordered {
		res := o.runOne(ctx, o.batchRunRequest(batch, id))
		ranSet[id] = struct{}{}
		results = append(results, res)
	}

	results = append(results, o.cascade(ctx, batch, ranSet)...)
	return results, nil
}

func (o *Orchestrator) batchRunRequest(batch BatchRequest, cellID string) RunRequest {
	return RunRequest{
		UserID:       batch.UserID,
		Sheet:        batch.Sheet,
		CellID:       cellID,
		Locale:       batch.Locale,
		PromptPrefix: batch.PromptPrefix,
	}
}

func (o *Orchestrator) runOne(ctx context.Context, req RunRequest) RunResult {
	res, err := o.Run(ctx, req)
	if res == nil {
		res = &RunResult{}
	}
	res.Err = err
	if err != nil {
		o.log.Warn().Err(err).Str("sheet", req.Sheet).Str("cell", req.CellID).Msg("engine: cell run failed")
	}
	return *res
}

// cascade runs autoRun dependents of just-completed cells, each only once
// its same-sheet dependencies are all complete. The readiness check inspects
// live status; it never blocks waiting for an in-flight run.
func (o *Orchestrator) cascade(ctx context.Context, batch BatchRequest, ran map[string]struct{}) []RunResult {
	var results []RunResult

	frontier := make([]string, 0, len(ran))
	for id := range ran {
		frontier = append(frontier, id)
	}
	visited := make(map[string]struct{})

	for len(frontier) > 0 {
		id := frontier[0]
		frontier = frontier[1:]

		cells, err := o.cache.GetOrLoad(ctx, batch.Sheet)
		if err != nil {
			break
		}
		for _, depID := range Dependents(id, cells) {
			if _, done := visited[depID]; done {
				continue
			}
			if _, inBatch := ran[depID]; inBatch {
				continue
			}
			dep := cells[depID]
			if dep == nil || !dep.AutoRun {
				continue
			}
			if !o.dependenciesComplete(dep, cells) {
				continue
			}
			visited[depID] = struct{}{}
			results = append(results, o.runOne(ctx, o.batchRunRequest(batch, depID)))
			frontier = append(frontier, depID)
		}
	}
	return results
}

// dependenciesComplete reports whether every same-sheet dependency of the
// cell has reached completed status.
func (o *Orchestrator) dependenciesComplete(cell *domain.Cell, cells map[string]*domain.Cell) bool {
	for _, depID := range sameSheetDependencies(cell) {
		dep, ok := cells[depID]
		if !ok {
			continue
		}
		if dep.Status != domain.CellStatusCompleted {
			return false
		}
	}
	return true
}

// Cancel requests cancellation of the cell's outstanding async job.
func (o *Orchestrator) Cancel(sheet, cellID string) bool {
	return o.poller.Cancel(sheet, cellID)
}

func (o *Orchestrator) persistSkip(ctx context.Context, req RunRequest, cell *domain.Cell) (*RunResult, error) {
	gen := o.newGeneration(cell, cell.Prompt, generationType(cell.Model, cell.OutputFormat))
	gen.Status = domain.GenerationStatusSkipped
	gen.Output = domain.SkippedOutput

	if err := o.store.SaveGeneration(ctx, req.Sheet, req.CellID, gen); err != nil {
		return nil, fmt.Errorf("persist skipped generation: %w", err)
	}
	cell.Status = domain.CellStatusSkipped
	cell.Generations = append([]domain.Generation{*gen}, cell.Generations...)
	if err := o.store.SaveCell(ctx, req.Sheet, cell); err != nil {
		return nil, fmt.Errorf("persist skipped cell: %w", err)
	}
	o.cache.Put(req.Sheet, cell)

	o.log.Info().Str("sheet", req.Sheet).Str("cell", req.CellID).Msg("engine: condition not met, cell skipped")
	return &RunResult{Cell: cell, Generation: gen, Skipped: true}, nil
}

func (o *Orchestrator) handleSync(ctx context.Context, req RunRequest, cell *domain.Cell, resolvedPrompt string, genType domain.GenerationType, cost int, output string) (*RunResult, error) {
	output = finalizeMedia(ctx, o.media, o.log, output, req.UserID, req.Sheet, req.CellID)

	gen := o.newGeneration(cell, resolvedPrompt, genType)
	gen.Status = domain.GenerationStatusCompleted
	gen.Output = output
	if err := o.store.SaveGeneration(ctx, req.Sheet, req.CellID, gen); err != nil {
		return nil, fmt.Errorf("persist generation: %w", err)
	}

	cell.Output = output
	cell.Status = domain.CellStatusCompleted
	cell.JobID = nil
	cell.Generations = append([]domain.Generation{*gen}, cell.Generations...)
	if err := o.store.SaveCell(ctx, req.Sheet, cell); err != nil {
		return nil, fmt.Errorf("persist cell: %w", err)
	}
	o.cache.Put(req.Sheet, cell)

	if err := o.admission.Settle(ctx, req.UserID, cost); err != nil {
		o.log.Warn().Err(err).Str("user_id", req.UserID).Msg("engine: credit settlement failed")
	}
	return &RunResult{Cell: cell, Generation: gen}, nil
}

func (o *Orchestrator) handleAsync(ctx context.Context, req RunRequest, cell *domain.Cell, resolvedPrompt string, genType domain.GenerationType, cost int, result *GenerateResult) (*RunResult, error) {
	gen := o.newGeneration(cell, resolvedPrompt, genType)
	gen.Status = domain.GenerationStatusPending
	jobID := result.JobID
	gen.JobID = &jobID
	if err := o.store.SaveGeneration(ctx, req.Sheet, req.CellID, gen); err != nil {
		return nil, fmt.Errorf("persist pending generation: %w", err)
	}

	cell.Status = domain.CellStatusPending
	cell.JobID = &jobID
	cell.Generations = append([]domain.Generation{*gen}, cell.Generations...)
	if err := o.store.SaveCell(ctx, req.Sheet, cell); err != nil {
		return nil, fmt.Errorf("persist pending cell: %w", err)
	}
	o.cache.Put(req.Sheet, cell)

	// Credits for async jobs are settled by the poller on terminal success,
	// mirroring the synchronous branch.
	o.poller.Watch(context.WithoutCancel(ctx), PollRequest{
		Sheet:      req.Sheet,
		CellID:     req.CellID,
		UserID:     req.UserID,
		JobID:      jobID,
		Generation: *gen,
		Cost:       cost,
	})

	o.log.Info().Str("sheet", req.Sheet).Str("cell", req.CellID).Str("job_id", jobID).Msg("engine: async job started")
	return &RunResult{Cell: cell, Generation: gen, Async: true}, nil
}

func (o *Orchestrator) persistFailure(ctx context.Context, req RunRequest, cell *domain.Cell, resolvedPrompt string, genType domain.GenerationType, cause error) (*RunResult, error) {
	gen := o.newGeneration(cell, resolvedPrompt, genType)
	gen.Status = domain.GenerationStatusError
	gen.Output = cause.Error()
	if err := o.store.SaveGeneration(ctx, req.Sheet, req.CellID, gen); err != nil {
		o.log.Error().Err(err).Str("cell", req.CellID).Msg("engine: persist error generation")
	}

	cell.Status = domain.CellStatusError
	cell.Generations = append([]domain.Generation{*gen}, cell.Generations...)
	if err := o.store.SaveCell(ctx, req.Sheet, cell); err != nil {
		o.log.Error().Err(err).Str("cell", req.CellID).Msg("engine: persist error cell")
	}
	o.cache.Put(req.Sheet, cell)

	return &RunResult{Cell: cell, Generation: gen}, cause
}

func (o *Orchestrator) newGeneration(cell *domain.Cell, resolvedPrompt string, genType domain.GenerationType) *domain.Generation {
	return &domain.Generation{
		ID:             uuid.NewString(),
		Prompt:         cell.Prompt,
		ResolvedPrompt: resolvedPrompt,
		Model:          cell.Model,
		Temperature:    cell.Temperature,
		Type:           genType,
		Timestamp:      time.Now().UTC(),
	}
}

func (o *Orchestrator) lockCell(sheet, cellID string) func() {
	key := jobKey(sheet, cellID)
	o.mu.Lock()
	lock, ok := o.locks[key]
	if !ok {
		lock = &sync.Mutex{}
		o.locks[key] = lock
	}
	o.mu.Unlock()

	lock.Lock()
	return lock.Unlock
}

func (o *Orchestrator) setRunning(sheet, cellID string, on bool) {
	key := jobKey(sheet, cellID)
	o.mu.Lock()
	if on {
		o.running[key] = struct{}{}
	} else {
		delete(o.running, key)
	}
	o.mu.Unlock()
}

// Running reports whether a run of the cell is currently in flight. Advisory
// only; resolution never blocks on it.
func (o *Orchestrator) Running(sheet, cellID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.running[jobKey(sheet, cellID)]
	return ok
}

// buildGenerateRequest derives per-type backend settings from the cell's
// execution configuration.
func buildGenerateRequest(cell *domain.Cell, resolvedPrompt string, genType domain.GenerationType) GenerateRequest {
	req := GenerateRequest{
		Prompt:      resolvedPrompt,
		Model:       cell.Model,
		Temperature: cell.Temperature,
		Type:        genType,
	}
	switch genType {
	case domain.GenerationTypeText:
		req.MaxTokens = defaultCharBudget / charsPerToken
	case domain.GenerationTypeVideo:
		req.Video = &VideoSettings{
			DurationSeconds: defaultVideoLength,
			Resolution:      defaultResolution,
			AspectRatio:     defaultAspectRatio,
		}
	case domain.GenerationTypeAudio:
		req.Audio = &AudioSettings{
			Voice:  defaultVoice,
			Speed:  1.0,
			Format: audioFormat(cell.OutputFormat),
		}
	}
	return req
}

// localeHint renders a response-language instruction for a non-English
// locale. English and unparseable tags produce no hint.
func localeHint(locale string) string {
	if locale == "" {
		return ""
	}
	tag, err := language.Parse(locale)
	if err != nil {
		return ""
	}
	base, _ := tag.Base()
	if base.String() == "en" {
		return ""
	}
	name := display.English.Languages().Name(tag)
	if name == "" {
		return ""
	}
	return "Respond in " + name + "."
}

func audioFormat(outputFormat string) string {
	switch strings.ToLower(outputFormat) {
	case "wav", "ogg", "mp3":
		return strings.ToLower(outputFormat)
	default:
		return defaultAudioFormat
	}
}

// generationType infers the output medium from the cell's model name and
// declared output format.
func generationType(model, outputFormat string) domain.GenerationType {
	switch strings.ToLower(outputFormat) {
	case "image":
		return domain.GenerationTypeImage
	case "video":
		return domain.GenerationTypeVideo
	case "audio":
		return domain.GenerationTypeAudio
	}
	lower := strings.ToLower(model)
	switch {
	case strings.Contains(lower, "veo") || strings.Contains(lower, "video"):
		return domain.GenerationTypeVideo
	case strings.Contains(lower, "imagen") || strings.Contains(lower, "image") || strings.Contains(lower, "dall"):
		return domain.GenerationTypeImage
	case strings.Contains(lower, "tts") || strings.Contains(lower, "audio"):
		return domain.GenerationTypeAudio
	default:
		return domain.GenerationTypeText
	}
}

// finalizeMedia moves externally-hosted media into permanent storage before
// persisting. On upload failure the original URL is kept and a warning
// logged; the run itself never fails here.
func finalizeMedia(ctx context.Context, media MediaStore, log zerolog.Logger, output, userID, sheet, cellID string) string {
	if media == nil {
		return output
	}
	url := extractMediaURL(output)
	if url == "" || !strings.HasPrefix(url, "http") {
		return output
	}
	permanent, err := media.UploadFromURL(ctx, url, path.Join(userID, sheet, cellID))
	if err != nil {
		log.Warn().Err(err).Str("url", url).Msg("engine: media upload failed, keeping source url")
		return output
	}
	if strings.TrimSpace(output) == url {
		return permanent
	}
	return strings.ReplaceAll(output, url, permanent)
}
