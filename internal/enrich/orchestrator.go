package enrich

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/prepstack/enrich-cli/internal/cache"
	"github.com/prepstack/enrich-cli/internal/config"
	"github.com/prepstack/enrich-cli/internal/model"
	"github.com/prepstack/enrich-cli/internal/resilience"
)

// ErrBatchActive is returned when a batch start request arrives while
// another batch is still running. Requests conflict; they do not queue.
var ErrBatchActive = errors.New("enrich: another batch is already running")

// JobStore persists batch lifecycle state. The orchestrator treats
// persistence as best-effort for updates after creation: a failed status
// write is logged, not fatal.
type JobStore interface {
	CreateBatch(ctx context.Context, b *model.Batch) error
	UpdateBatch(ctx context.Context, b *model.Batch) error
	SaveResult(ctx context.Context, batchID string, res *model.BatchResult) error
}

// Runner enriches one question at a time: cache lookup, backend-appropriate
// generation, assembly, cache write-through.
type Runner struct {
	cfg   *config.Config
	cache *cache.Cache
}

// NewRunner creates a Runner. The cache may be nil to disable caching.
func NewRunner(cfg *config.Config, c *cache.Cache) *Runner {
	return &Runner{cfg: cfg, cache: c}
}

// EnrichOne produces the record for a single request. cached reports whether
// the record came from the response cache without a backend call.
func (r *Runner) EnrichOne(ctx context.Context, gen Generator, req model.EnrichmentRequest, onField func(field string, err error)) (string, model.EnrichedRecord, bool, error) {
	if r.cache != nil {
		if rec, ok := r.cache.Lookup(req.Question, req.Backend, req.Model); ok {
			return model.RecordID(req.Question), rec, true, nil
		}
	}

	var (
		fields FieldResults
		err    error
	)
	switch gen.Mode() {
	case ModeMultiStep:
		ex := NewExtractor(gen, r.cfg.Enrich.FieldAttempts, onField)
		fields, err = ex.Extract(ctx, req.Question, req.Answer)
	default:
		fields, err = singleShot(ctx, gen, loadPromptTemplate(r.cfg.Enrich.PromptTemplatePath), req.Question, req.Answer)
	}
	if err != nil {
		return "", model.EnrichedRecord{}, false, err
	}

	id, rec, err := Assemble(req.Question, fields)
	if err != nil {
		return "", model.EnrichedRecord{}, false, err
	}

	if r.cache != nil {
		r.cache.Store(req.Question, req.Backend, req.Model, rec, 0)
	}
	return id, rec, false, nil
}

// Manager orchestrates batch runs. At most one batch is active at a time;
// a second start attempt fails with ErrBatchActive instead of queueing.
type Manager struct {
	runner *Runner
	store  JobStore
	emit   Emitter

	mu      sync.Mutex
	current *model.Batch
	cancel  context.CancelFunc
}

// NewManager creates a batch manager. store may be nil when lifecycle
// persistence is not wanted; emit may be nil for silent runs.
func NewManager(runner *Runner, store JobStore, emit Emitter) *Manager {
	if emit == nil {
		emit = NopEmitter{}
	}
	return &Manager{runner: runner, store: store, emit: emit}
}

// Current returns a copy of the active batch, or ok=false when idle.
func (m *Manager) Current() (model.Batch, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return model.Batch{}, false
	}
	return *m.current, true
}

// Cancel requests cooperative cancellation of the active batch. It returns
// false when no batch is running.
func (m *Manager) Cancel() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel == nil {
		return false
	}
	m.cancel()
	return true
}

// Run executes a batch synchronously and returns the aggregated result. The
// backend is pinged once before any item runs; an unreachable backend fails
// the whole batch. Individual item failures are recorded and do not abort
// the run.
func (m *Manager) Run(ctx context.Context, gen Generator, topic string, requests []model.EnrichmentRequest) (*model.Batch, *model.BatchResult, error) {
	batch, runCtx, err := m.begin(ctx, gen, topic, requests)
	if err != nil {
		return batch, nil, err
	}
	result, err := m.execute(runCtx, gen, batch, requests)
	return batch, result, err
}

// Start launches a batch asynchronously and returns as soon as the batch is
// registered, so callers can report the batch ID while it runs. onDone, if
// non-nil, is invoked with the final outcome.
func (m *Manager) Start(ctx context.Context, gen Generator, topic string, requests []model.EnrichmentRequest, onDone func(*model.Batch, *model.BatchResult, error)) (*model.Batch, error) {
	batch, runCtx, err := m.begin(ctx, gen, topic, requests)
	if err != nil {
		return nil, err
	}
	go func() {
		result, err := m.execute(runCtx, gen, batch, requests)
		if onDone != nil {
			onDone(batch, result, err)
		}
	}()
	return batch, nil
}

// begin validates the request set and registers the batch as the single
// active run. The returned context is canceled by Cancel.
func (m *Manager) begin(ctx context.Context, gen Generator, topic string, requests []model.EnrichmentRequest) (*model.Batch, context.Context, error) {
	if len(requests) == 0 {
		return nil, nil, eris.New("enrich: batch has no questions")
	}

	batch := &model.Batch{
		ID:        uuid.NewString(),
		Topic:     topic,
		Backend:   requests[0].Backend,
		Model:     requests[0].Model,
		Status:    model.BatchStatusStarting,
		Total:     len(requests),
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}

	runCtx, cancel := context.WithCancel(ctx)

	m.mu.Lock()
	if m.current != nil && !m.current.Status.Terminal() {
		m.mu.Unlock()
		cancel()
		return nil, nil, ErrBatchActive
	}
	m.current = batch
	m.cancel = cancel
	m.mu.Unlock()

	if m.store != nil {
		if err := m.store.CreateBatch(runCtx, batch); err != nil {
			m.transition(runCtx, batch, model.BatchStatusFailed)
			m.release(cancel)
			return batch, nil, eris.Wrap(err, "enrich: persist batch")
		}
	}
	m.emit.BatchUpdate(*batch)
	return batch, runCtx, nil
}

func (m *Manager) release(cancel context.CancelFunc) {
	cancel()
	m.mu.Lock()
	m.cancel = nil
	m.mu.Unlock()
}

func (m *Manager) execute(ctx context.Context, gen Generator, batch *model.Batch, requests []model.EnrichmentRequest) (*model.BatchResult, error) {
	m.mu.Lock()
	cancel := m.cancel
	m.mu.Unlock()
	defer m.release(cancel)

	m.transition(ctx, batch, model.BatchStatusCheckingBackend)
	if err := gen.Ping(ctx); err != nil {
		m.transition(ctx, batch, model.BatchStatusFailed)
		return nil, eris.Wrapf(err, "enrich: backend %s unreachable", gen.Name())
	}

	m.transition(ctx, batch, model.BatchStatusProcessing)

	result := &model.BatchResult{
		Records: make(model.KnowledgeBase),
		Total:   len(requests),
	}

	// The pause paces backend calls between items. The first Wait is free.
	limiter := rate.NewLimiter(rate.Every(m.runner.cfg.Enrich.InterItemPause()), 1)

	for i, req := range requests {
		if err := limiter.Wait(ctx); err != nil {
			m.transition(ctx, batch, model.BatchStatusFailed)
			return result, eris.Wrap(err, "enrich: batch canceled")
		}

		m.emit.ItemStart(batch.ID, req.Question, i, len(requests))
		start := time.Now()

		onField := func(field string, err error) {
			m.emit.FieldStep(batch.ID, req.Question, field, err)
		}
		id, rec, cached, err := m.runner.EnrichOne(ctx, gen, req, onField)

		item := model.ItemResult{
			Question: req.Question,
			Cached:   cached,
			Duration: time.Since(start).Milliseconds(),
		}
		switch {
		case err != nil && ctx.Err() != nil:
			item.Error = err.Error()
			result.Items = append(result.Items, item)
			m.transition(ctx, batch, model.BatchStatusFailed)
			m.finish(batch, result)
			return result, eris.Wrap(ctx.Err(), "enrich: batch canceled")
		case err != nil:
			item.Error = err.Error()
			result.Errors = append(result.Errors, req.Question+": "+err.Error())
		default:
			item.RecordID = id
			result.Records[id] = rec
		}
		result.Items = append(result.Items, item)
		result.Processed++
		m.setProcessed(batch, result.Processed)

		m.emit.ItemDone(batch.ID, item)
		m.update(ctx, batch)

		// A backend that went away mid-batch fails the run instead of
		// burning retries on every remaining item.
		if err != nil && errors.Is(err, resilience.ErrBackendUnreachable) {
			m.transition(ctx, batch, model.BatchStatusFailed)
			m.finish(batch, result)
			return result, eris.Wrap(err, "enrich: backend lost mid-batch")
		}
	}

	m.transition(ctx, batch, model.BatchStatusCompleted)
	m.finish(batch, result)
	return result, nil
}

// setProcessed mutates the batch under the manager lock; Current reads the
// same fields concurrently while a batch runs.
func (m *Manager) setProcessed(b *model.Batch, n int) {
	m.mu.Lock()
	b.Processed = n
	b.UpdatedAt = time.Now().UTC()
	m.mu.Unlock()
}

func (m *Manager) transition(ctx context.Context, b *model.Batch, status model.BatchStatus) {
	m.mu.Lock()
	b.Status = status
	b.UpdatedAt = time.Now().UTC()
	m.mu.Unlock()
	m.update(ctx, b)
	m.emit.BatchUpdate(*b)
}

func (m *Manager) update(ctx context.Context, b *model.Batch) {
	if m.store == nil {
		return
	}
	// Status writes survive cancellation so a canceled batch is persisted
	// as failed rather than stuck in processing.
	if err := m.store.UpdateBatch(context.WithoutCancel(ctx), b); err != nil {
		zap.L().Warn("enrich: persist batch update",
			zap.String("batch_id", b.ID),
			zap.Error(err),
		)
	}
}

func (m *Manager) finish(batch *model.Batch, result *model.BatchResult) {
	if m.store == nil {
		return
	}
	// Result persistence outlives the batch context so a canceled run still
	// records what it produced.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.store.SaveResult(ctx, batch.ID, result); err != nil {
		zap.L().Warn("enrich: persist batch result",
			zap.String("batch_id", batch.ID),
			zap.Error(err),
		)
	}
}
