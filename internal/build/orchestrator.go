package build

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dshills/sitekb-mcp/internal/chunker"
	"github.com/dshills/sitekb-mcp/internal/crawler"
	"github.com/dshills/sitekb-mcp/internal/extractor"
	"github.com/dshills/sitekb-mcp/internal/indexer"
	"github.com/dshills/sitekb-mcp/internal/logging"
	"github.com/dshills/sitekb-mcp/internal/storage"
	"github.com/dshills/sitekb-mcp/pkg/types"
)

const (
	// DefaultTimeout bounds a whole build
	DefaultTimeout = 30 * time.Minute
	// DefaultBatchSize is the number of chunks handed to the indexer at once
	DefaultBatchSize = 100

	// staleGrace is added to the build timeout to decide when a building row
	// written by another process is abandoned
	staleGrace = 5 * time.Minute

	// finishTimeout bounds the terminal state write, which runs after the task
	// context may already be done
	finishTimeout = 10 * time.Second
)

// Store is the persistence the orchestrator needs
type Store interface {
	storage.TenantStore
	storage.UploadStore
}

// Crawler starts crawl runs
type Crawler interface {
	Start(ctx context.Context, seeds []string) *crawler.Run
}

// Indexer writes chunk batches into a namespace generation
type Indexer interface {
	BeginRebuild(ctx context.Context, namespace string) (int64, error)
	IndexBatches(ctx context.Context, namespace string, generation int64,
		batches <-chan []types.Chunk, progress func(indexer.BatchResult)) (*indexer.Statistics, error)
	Commit(ctx context.Context, namespace string, generation int64) (int, error)
}

// CacheInvalidator drops cached search results of a namespace
type CacheInvalidator interface {
	InvalidateNamespace(namespace string)
}

// Deps are the collaborators of an Orchestrator. Cache may be nil.
type Deps struct {
	Store   Store
	Crawler Crawler
	Chunker *chunker.Chunker
	Indexer Indexer
	Cache   CacheInvalidator
}

// Config contains configuration for the orchestrator
type Config struct {
	BatchSize int           // Chunks per indexer batch (default: 100)
	Timeout   time.Duration // Bound on one build (default: 30m)

	// StaleAfter is how long a building row may go without updates before a
	// trigger treats it as abandoned (default: Timeout + 5m)
	StaleAfter time.Duration

	Logger *zap.Logger
}

// Ack acknowledges an accepted build request
type Ack struct {
	TenantID  int64             `json:"tenant_id"`
	BuildID   uuid.UUID         `json:"build_id"`
	Status    types.BuildStatus `json:"build_status"`
	StartedAt time.Time         `json:"started_at"`
}

// StatusReport is the tenant's stored build state plus the live task, if any
type StatusReport struct {
	TenantID      int64                `json:"tenant_id"`
	Name          string               `json:"name"`
	NamespaceID   string               `json:"namespace_id"`
	Status        types.BuildStatus    `json:"build_status"`
	AIEnabled     bool                 `json:"ai_enabled"`
	DocumentCount int                  `json:"document_count"`
	LastScrapedAt *time.Time           `json:"last_scraped_at,omitempty"`
	ErrorMessage  string               `json:"error_message,omitempty"`
	Progress      *types.BuildProgress `json:"progress,omitempty"`
	UpdatedAt     time.Time            `json:"updated_at"`

	Running   bool       `json:"running"`
	BuildID   string     `json:"build_id,omitempty"`
	StartedAt *time.Time `json:"started_at,omitempty"`
}

// task is one running build. mu guards machine, disabled and every write of
// the tenant's build columns while the task is alive.
type task struct {
	id        uuid.UUID
	tenantID  int64
	namespace string
	seeds     []string
	startedAt time.Time

	ctx    context.Context
	cancel context.CancelCauseFunc
	stop   context.CancelFunc
	done   chan struct{}

	mu       sync.Mutex
	machine  *Machine
	disabled bool
}

// Orchestrator runs knowledge base builds as background tasks, at most one
// per tenant.
//
// Lock order is Orchestrator.mu before task.mu.
type Orchestrator struct {
	store   Store
	crawler Crawler
	chunker *chunker.Chunker
	indexer Indexer
	cache   CacheInvalidator
	cfg     Config
	logger  *zap.Logger

	locks tenantLocks

	mu     sync.Mutex
	tasks  map[int64]*task
	closed bool
	wg     sync.WaitGroup
}

// New creates an orchestrator
func New(deps Deps, cfg Config) *Orchestrator {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = cfg.Timeout + staleGrace
	}
	if deps.Chunker == nil {
		deps.Chunker = chunker.New()
	}
	return &Orchestrator{
		store:   deps.Store,
		crawler: deps.Crawler,
		chunker: deps.Chunker,
		indexer: deps.Indexer,
		cache:   deps.Cache,
		cfg:     cfg,
		logger:  logging.OrNop(cfg.Logger).Named("build"),
		tasks:   make(map[int64]*task),
	}
}

// TriggerBuild starts a build of the tenant's knowledge base from urlOverride,
// or from its stored seed URLs when urlOverride is empty. It returns as soon as
// the task is registered.
func (o *Orchestrator) TriggerBuild(ctx context.Context, tenantID int64, urlOverride []string) (*Ack, error) {
	return o.trigger(ctx, tenantID, urlOverride, false)
}

// TriggerRescrape rebuilds a knowledge base that is currently ready
func (o *Orchestrator) TriggerRescrape(ctx context.Context, tenantID int64, urlOverride []string) (*Ack, error) {
	return o.trigger(ctx, tenantID, urlOverride, true)
}

func (o *Orchestrator) trigger(ctx context.Context, tenantID int64, urlOverride []string, rescrape bool) (*Ack, error) {
	if err := validateSeeds(urlOverride); err != nil {
		return nil, err
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return nil, ErrClosed
	}

	state, err := o.store.GetTenant(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if rescrape && state.Status != types.StatusReady {
		return nil, fmt.Errorf("%w: status is %s", ErrInvalidState, state.Status)
	}

	seeds := urlOverride
	if len(seeds) == 0 {
		seeds = state.SeedURLs
		if err := validateSeeds(seeds); err != nil {
			return nil, fmt.Errorf("stored website url: %w", err)
		}
	}
	if len(seeds) == 0 {
		return nil, types.ErrNoSeedURLs
	}

	if !o.locks.tryAcquire(tenantID) {
		return nil, types.ErrBuildInProgress
	}

	machine := NewMachine(state)
	now := time.Now()
	staleBefore := now.Add(-o.cfg.StaleAfter)
	if machine.Status() == types.StatusBuilding {
		// No task here owns the row, but another process may
		if state.UpdatedAt.After(staleBefore) {
			o.locks.release(tenantID)
			return nil, types.ErrBuildInProgress
		}
		o.logger.Warn("recovering stale building state",
			zap.Int64("tenant_id", tenantID),
			zap.Time("updated_at", state.UpdatedAt))
		_ = machine.Fail(msgRestart)
	}
	if err := machine.Begin(now); err != nil {
		o.locks.release(tenantID)
		return nil, err
	}
	if err := o.store.ClaimBuild(ctx, machine.State(), staleBefore); err != nil {
		o.locks.release(tenantID)
		if errors.Is(err, types.ErrBuildInProgress) {
			return nil, types.ErrBuildInProgress
		}
		return nil, fmt.Errorf("failed to save build state: %w", err)
	}

	t := o.newTask(machine, seeds, now)
	o.tasks[tenantID] = t
	o.wg.Add(1)
	go o.run(t)

	o.logger.Info("build started",
		zap.Int64("tenant_id", tenantID),
		zap.String("build_id", t.id.String()),
		zap.Strings("seeds", seeds),
		zap.Bool("rescrape", rescrape))

	return &Ack{TenantID: tenantID, BuildID: t.id, Status: types.StatusBuilding, StartedAt: now}, nil
}

// validateSeeds rejects any URL the crawler cannot start from
func validateSeeds(urls []string) error {
	for _, u := range urls {
		if err := extractor.ValidateSeed(u); err != nil {
			return err
		}
	}
	return nil
}

func (o *Orchestrator) newTask(machine *Machine, seeds []string, now time.Time) *task {
	base, cancel := context.WithCancelCause(context.Background())
	ctx, stop := context.WithTimeoutCause(base, o.cfg.Timeout, errTimedOut)
	state := machine.State()
	return &task{
		id:        uuid.New(),
		tenantID:  state.TenantID,
		namespace: state.NamespaceID,
		seeds:     append([]string(nil), seeds...),
		startedAt: now,
		ctx:       ctx,
		cancel:    cancel,
		stop:      stop,
		done:      make(chan struct{}),
		machine:   machine,
	}
}

// run owns the task until its terminal state is stored
func (o *Orchestrator) run(t *task) {
	defer o.wg.Done()
	defer close(t.done)
	defer o.unregister(t)
	defer func() {
		t.stop()
		t.cancel(nil)
	}()

	count, err := o.execute(t)
	o.finish(t, count, err)
}

func (o *Orchestrator) unregister(t *task) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.tasks[t.tenantID] == t {
		delete(o.tasks, t.tenantID)
	}
	o.locks.release(t.tenantID)
}

// finish stores the terminal state of t
func (o *Orchestrator) finish(t *task, count int, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	var cause error
	if t.ctx.Err() != nil {
		cause = context.Cause(t.ctx)
	}
	log := o.logger.With(zap.Int64("tenant_id", t.tenantID), zap.String("build_id", t.id.String()))

	if err == nil {
		_ = t.machine.Succeed(count, time.Now())
		if t.disabled {
			t.machine.State().AIEnabled = false
		}
		log.Info("build finished",
			zap.Int("document_count", count),
			zap.Duration("duration", time.Since(t.startedAt)))
	} else {
		msg := failureMessage(cause, err)
		_ = t.machine.Fail(msg)
		log.Error("build failed",
			zap.String("message", msg),
			zap.NamedError("cause", cause),
			zap.Error(err))
	}

	ctx, cancel := context.WithTimeout(context.Background(), finishTimeout)
	defer cancel()
	if err := o.store.SaveBuildState(ctx, t.machine.State()); err != nil {
		log.Error("failed to save terminal build state", zap.Error(err))
	}
}

// progress applies fn to the running build's progress and persists it. Updates
// after cancellation are dropped.
func (o *Orchestrator) progress(t *task, fn func(p *types.BuildProgress)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.ctx.Err() != nil {
		return
	}
	if !t.machine.UpdateProgress(time.Now(), fn) {
		return
	}
	if err := o.store.SaveBuildState(t.ctx, t.machine.State()); err != nil {
		o.logger.Debug("failed to save build progress", zap.Int64("tenant_id", t.tenantID), zap.Error(err))
	}
}

// Status returns the tenant's build state
func (o *Orchestrator) Status(ctx context.Context, tenantID int64) (*StatusReport, error) {
	state, err := o.store.GetTenant(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	report := &StatusReport{
		TenantID:      state.TenantID,
		Name:          state.Name,
		NamespaceID:   state.NamespaceID,
		Status:        state.Status,
		AIEnabled:     state.AIEnabled,
		DocumentCount: state.DocumentCount,
		LastScrapedAt: state.LastScrapedAt,
		ErrorMessage:  state.ErrorMessage,
		Progress:      state.Progress,
		UpdatedAt:     state.UpdatedAt,
	}

	o.mu.Lock()
	if t := o.tasks[tenantID]; t != nil {
		started := t.startedAt
		report.Running = true
		report.BuildID = t.id.String()
		report.StartedAt = &started
	}
	o.mu.Unlock()
	return report, nil
}

// Disable turns the tenant's assistant off and cancels its running build, if
// any. It reports whether a build was cancelled. The build reaches its terminal
// state in the background; use Wait to block on it.
func (o *Orchestrator) Disable(ctx context.Context, tenantID int64) (bool, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	t := o.tasks[tenantID]
	if t == nil {
		if _, err := o.store.GetTenant(ctx, tenantID); err != nil {
			return false, err
		}
		return false, o.store.SetAIEnabled(ctx, tenantID, false)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.disabled = true
	t.machine.State().AIEnabled = false
	err := o.store.SetAIEnabled(ctx, tenantID, false)
	t.cancel(errDisabled)

	o.logger.Info("build cancelled", zap.Int64("tenant_id", tenantID), zap.String("build_id", t.id.String()))
	return true, err
}

// Wait blocks until the tenant has no running build
func (o *Orchestrator) Wait(ctx context.Context, tenantID int64) error {
	o.mu.Lock()
	t := o.tasks[tenantID]
	o.mu.Unlock()
	if t == nil {
		return nil
	}
	select {
	case <-t.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Running reports whether the tenant has a live build task
func (o *Orchestrator) Running(tenantID int64) bool {
	return o.locks.held(tenantID)
}

// RecoverStuck marks building rows that no task owns as failed. It is meant to
// run at startup, before any trigger, and returns the number of rows fixed.
func (o *Orchestrator) RecoverStuck(ctx context.Context) (int, error) {
	states, err := o.store.ListTenantsByStatus(ctx, types.StatusBuilding)
	if err != nil {
		return 0, fmt.Errorf("failed to list building tenants: %w", err)
	}

	recovered := 0
	for _, state := range states {
		if !o.locks.tryAcquire(state.TenantID) {
			continue
		}
		machine := NewMachine(state)
		err := machine.Fail(msgRestart)
		if err == nil {
			err = o.store.SaveBuildState(ctx, machine.State())
		}
		o.locks.release(state.TenantID)
		if err != nil {
			return recovered, fmt.Errorf("failed to recover tenant %d: %w", state.TenantID, err)
		}
		recovered++
		o.logger.Warn("recovered interrupted build", zap.Int64("tenant_id", state.TenantID))
	}
	return recovered, nil
}

// Close cancels running builds and waits for them to store their terminal
// state or for ctx to end
func (o *Orchestrator) Close(ctx context.Context) error {
	o.mu.Lock()
	o.closed = true
	for _, t := range o.tasks {
		t.cancel(errShutdown)
	}
	o.mu.Unlock()

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
