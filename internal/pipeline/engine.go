// Package pipeline runs the ingest, deliberate, synthesize and publish cycle
// that feeds the ledger.
//
// Only one run is active at a time. Each phase commits its results through the
// mind store before the next one starts, so a failed run keeps whatever earlier
// phases already recorded.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dyluth/mirror/internal/agents"
	"github.com/dyluth/mirror/internal/breaker"
	"github.com/dyluth/mirror/internal/live"
	"github.com/dyluth/mirror/internal/metrics"
	"github.com/dyluth/mirror/internal/mind"
	"github.com/dyluth/mirror/internal/sources"
	"github.com/dyluth/mirror/pkg/ledger"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Config tunes retries, agent limits and scheduling.
type Config struct {
	MaxAttempts     int
	InitialBackoff  time.Duration
	MaxBackoff      time.Duration
	AgentTimeout    time.Duration
	MinAgents       int
	BreakerCooldown time.Duration
	Interval        time.Duration // zero disables the scheduler
}

// DefaultConfig returns the settings used when mirror.yml leaves them out.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:     3,
		InitialBackoff:  500 * time.Millisecond,
		MaxBackoff:      5 * time.Second,
		AgentTimeout:    30 * time.Second,
		MinAgents:       2,
		BreakerCooldown: 60 * time.Second,
	}
}

// Engine drives pipeline runs.
type Engine struct {
	store    *mind.Store
	events   live.Publisher
	sources  []sources.Source
	council  []agents.Agent
	breakers map[string]*breaker.Breaker
	synth    agents.Synthesizer
	cfg      Config
	metrics  *metrics.Registry
	logger   zerolog.Logger
	clock    func() time.Time

	running atomic.Bool
	wg      sync.WaitGroup

	mu     sync.RWMutex
	status Status
}

// Option configures an Engine.
type Option func(*Engine)

// WithPublisher sets where live events go. The default discards them.
func WithPublisher(p live.Publisher) Option {
	return func(e *Engine) {
		if p != nil {
			e.events = p
		}
	}
}

// WithSynthesizer replaces the default arbiter.
func WithSynthesizer(s agents.Synthesizer) Option {
	return func(e *Engine) {
		if s != nil {
			e.synth = s
		}
	}
}

// WithMetrics records phase, agent and ledger metrics.
func WithMetrics(m *metrics.Registry) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithLogger sets the engine logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(e *Engine) { e.logger = logger.With().Str("component", "pipeline").Logger() }
}

// WithClock sets the time source handed to agents and stamped on events.
func WithClock(clock func() time.Time) Option {
	return func(e *Engine) {
		if clock != nil {
			e.clock = clock
		}
	}
}

// NewEngine creates an engine over store. At least one agent is required and
// MinAgents cannot exceed the council size.
func NewEngine(store *mind.Store, srcs []sources.Source, council []agents.Agent, cfg Config, opts ...Option) (*Engine, error) {
	if store == nil {
		return nil, fmt.Errorf("mind store is required")
	}
	if len(council) == 0 {
		return nil, fmt.Errorf("at least one agent is required")
	}
	def := DefaultConfig()
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = def.InitialBackoff
	}
	if cfg.MaxBackoff < cfg.InitialBackoff {
		cfg.MaxBackoff = cfg.InitialBackoff
	}
	if cfg.AgentTimeout <= 0 {
		cfg.AgentTimeout = def.AgentTimeout
	}
	if cfg.MinAgents < 1 {
		cfg.MinAgents = 1
	}
	if cfg.MinAgents > len(council) {
		return nil, fmt.Errorf("min_agents (%d) exceeds council size (%d)", cfg.MinAgents, len(council))
	}

	breakers := make(map[string]*breaker.Breaker, len(council))
	for _, a := range council {
		if _, dup := breakers[a.Name()]; dup {
			return nil, fmt.Errorf("duplicate agent name: %s", a.Name())
		}
		breakers[a.Name()] = breaker.New("agent:"+a.Name(), cfg.BreakerCooldown)
	}

	e := &Engine{
		store:    store,
		events:   live.Discard,
		sources:  srcs,
		council:  council,
		breakers: breakers,
		synth:    agents.NewArbiter(),
		cfg:      cfg,
		logger:   zerolog.Nop(),
		clock:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.status = Status{Phase: PhaseIdle, Since: e.now()}
	e.metrics.SetPhase(string(PhaseIdle))
	return e, nil
}

func (e *Engine) now() time.Time {
	return e.clock().UTC()
}

// Status returns the current phase and the last run's error, if any.
func (e *Engine) Status() Status {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.status
}

// StartRun begins a run in the background and returns its id. The run is not
// tied to ctx's cancellation; once started it completes or fails on its own.
func (e *Engine) StartRun(ctx context.Context) (string, error) {
	if !e.running.CompareAndSwap(false, true) {
		e.reject()
		return "", ErrAlreadyRunning
	}
	runID := e.claim()
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		_ = e.execute(context.WithoutCancel(ctx), runID)
	}()
	return runID, nil
}

// Run executes one run synchronously. A phase that exhausts its retries is
// returned as a *PhaseFailure.
func (e *Engine) Run(ctx context.Context) (string, error) {
	if !e.running.CompareAndSwap(false, true) {
		e.reject()
		return "", ErrAlreadyRunning
	}
	runID := e.claim()
	return runID, e.execute(ctx, runID)
}

// claim moves the status out of idle for a new run id so callers observe the
// run as soon as it is accepted.
func (e *Engine) claim() string {
	runID := uuid.New().String()
	e.mu.Lock()
	e.status.Phase = PhaseIngesting
	e.status.RunID = runID
	e.status.Since = e.now()
	e.status.Gate = nil
	e.mu.Unlock()
	return runID
}

func (e *Engine) setGate(g Gate) {
	e.mu.Lock()
	e.status.Gate = &g
	e.mu.Unlock()
}

// Wait blocks until background runs started with StartRun have finished.
func (e *Engine) Wait() {
	e.wg.Wait()
}

// Schedule starts a run every cfg.Interval until ctx is done. Ticks that find
// a run in progress are skipped.
func (e *Engine) Schedule(ctx context.Context) {
	if e.cfg.Interval <= 0 {
		return
	}
	ticker := time.NewTicker(e.cfg.Interval)
	defer ticker.Stop()
	e.logger.Info().Dur("interval", e.cfg.Interval).Msg("Scheduler started")

	for {
		select {
		case <-ctx.Done():
			e.logger.Info().Msg("Scheduler stopped")
			return
		case <-ticker.C:
			if _, err := e.StartRun(ctx); err != nil {
				e.logger.Debug().Err(err).Msg("Scheduled run skipped")
			}
		}
	}
}

func (e *Engine) reject() {
	st := e.Status()
	e.publish(live.Event{Type: live.EventRunRejected, RunID: st.RunID, Phase: string(st.Phase), Message: ErrAlreadyRunning.Error()})
	e.logger.Warn().Str("run_id", st.RunID).Str("phase", string(st.Phase)).Msg("Run request rejected")
}

// execute performs one run. The caller must have set e.running.
func (e *Engine) execute(ctx context.Context, runID string) error {
	run := &runState{id: runID, started: e.now()}
	defer e.finish(run)

	e.logEvent("run_started", runID, nil)
	if _, err := e.commit(ctx, run, &ledger.SystemUpdatePayload{Kind: ledger.KindRunStarted, RunID: runID}); err != nil {
		err = fmt.Errorf("failed to record run start: %w", err)
		e.fail(ctx, run, err, false)
		return err
	}

	steps := []struct {
		phase Phase
		fn    func(context.Context, *runState) error
	}{
		{PhaseIngesting, e.ingest},
		{PhaseDeliberating, e.deliberate},
		{PhaseSynthesizing, e.synthesize},
		{PhasePublishing, e.publishRun},
	}
	for _, step := range steps {
		if err := e.runPhase(ctx, run, step.phase, step.fn); err != nil {
			e.fail(ctx, run, err, true)
			return err
		}
	}

	e.mu.Lock()
	e.status.LastError = ""
	e.mu.Unlock()
	e.metrics.RunFinished("completed")
	return nil
}

// fail records a failed run. The failure entry is skipped when the ledger
// itself is the problem.
func (e *Engine) fail(ctx context.Context, run *runState, err error, record bool) {
	var pf *PhaseFailure
	phase, attempts, cause := "run", 1, err
	if errors.As(err, &pf) {
		phase, attempts, cause = string(pf.Phase), pf.Attempts, pf.Err
	}

	e.logger.Error().Err(err).Str("run_id", run.id).Str("phase", phase).Int("attempts", attempts).Msg("Run failed")
	if record && !ledger.IsIntegrityError(err) {
		if _, cerr := e.commit(ctx, run, mind.RecordFailure(run.id, phase, attempts, cause)); cerr != nil {
			e.logger.Error().Err(cerr).Str("run_id", run.id).Msg("Failed to record phase failure")
		}
	}
	e.publish(live.Event{
		Type:    live.EventPhaseFailed,
		Phase:   phase,
		RunID:   run.id,
		Message: err.Error(),
		Data:    map[string]any{"attempts": attempts},
	})

	e.mu.Lock()
	e.status.LastError = err.Error()
	e.mu.Unlock()
	e.metrics.RunFinished("failed")
}

// finish returns the engine to idle. The run slot is released before the idle
// phase is announced so listeners reacting to it can start the next run.
func (e *Engine) finish(run *runState) {
	e.recordPhase(run, PhaseIdle)
	e.running.Store(false)
	e.announcePhase(run, PhaseIdle)
	e.logEvent("run_finished", run.id, map[string]any{
		"entries":     run.appended,
		"duration_ms": e.now().Sub(run.started).Milliseconds(),
	})
}

func (e *Engine) setPhase(run *runState, phase Phase) {
	e.recordPhase(run, phase)
	e.announcePhase(run, phase)
}

func (e *Engine) recordPhase(run *runState, phase Phase) {
	e.mu.Lock()
	e.status.Phase = phase
	e.status.RunID = run.id
	e.status.Since = e.now()
	e.mu.Unlock()
}

func (e *Engine) announcePhase(run *runState, phase Phase) {
	e.metrics.SetPhase(string(phase))
	e.publish(live.Event{Type: live.EventPhaseChange, Phase: string(phase), RunID: run.id})
}

// commit appends payloads through the mind store and announces every entry.
func (e *Engine) commit(ctx context.Context, run *runState, payloads ...ledger.Payload) ([]ledger.Entry, error) {
	_, entries, err := e.store.Commit(ctx, payloads...)
	for _, entry := range entries {
		run.appended++
		e.metrics.LedgerAppended(string(entry.Type), entry.Sequence+1)
		e.publish(live.Event{
			Type:  live.EventLedgerAppend,
			RunID: run.id,
			Data: map[string]any{
				"sequence": entry.Sequence,
				"type":     entry.Type,
				"hash":     entry.Hash,
			},
		})
	}
	return entries, err
}

func (e *Engine) publish(ev live.Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = e.now()
	}
	e.events.Publish(ev)
}

// logEvent logs a structured pipeline event.
func (e *Engine) logEvent(eventType, runID string, fields map[string]any) {
	ev := e.logger.Info().Str("event_type", eventType).Str("run_id", runID)
	if fields != nil {
		ev = ev.Fields(fields)
	}
	ev.Msg(eventType)
}
