package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/dyluth/mirror/internal/agents"
	"github.com/dyluth/mirror/internal/live"
	"github.com/dyluth/mirror/internal/mind"
	"github.com/dyluth/mirror/internal/sources"
	"github.com/dyluth/mirror/pkg/ledger"
	"golang.org/x/sync/errgroup"
)

// runPhase enters phase and runs fn with exponential backoff until it
// succeeds or MaxAttempts is used up. Ledger integrity errors are not retried.
func (e *Engine) runPhase(ctx context.Context, run *runState, phase Phase, fn func(context.Context, *runState) error) error {
	e.setPhase(run, phase)

	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = e.cfg.InitialBackoff
	exp.MaxInterval = e.cfg.MaxBackoff
	exp.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(exp, uint64(e.cfg.MaxAttempts-1)), ctx)

	attempts := 0
	op := func() error {
		attempts++
		start := time.Now()
		err := fn(ctx, run)
		e.metrics.ObservePhase(string(phase), time.Since(start), err)
		if err != nil && ledger.IsIntegrityError(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		e.logger.Warn().Err(err).
			Str("run_id", run.id).
			Str("phase", string(phase)).
			Int("attempt", attempts).
			Dur("retry_in", wait).
			Msg("Phase attempt failed, retrying")
	}

	if err := backoff.RetryNotify(op, policy, notify); err != nil {
		return &PhaseFailure{Phase: phase, Attempts: attempts, Err: err}
	}
	e.logEvent("phase_complete", run.id, map[string]any{"phase": string(phase), "attempts": attempts})
	return nil
}

// ingest fetches every source concurrently and records documents that have not
// been seen before. A failing source is skipped unless every source fails.
func (e *Engine) ingest(ctx context.Context, run *runState) error {
	results := make([][]sources.Document, len(e.sources))
	errs := make([]error, len(e.sources))

	var g errgroup.Group
	for i, src := range e.sources {
		g.Go(func() error {
			docs, err := src.Fetch(ctx)
			if err != nil {
				e.logger.Warn().Err(err).Str("run_id", run.id).Str("source", src.Name()).Msg("Source fetch failed")
				errs[i] = err
				return nil
			}
			results[i] = docs
			return nil
		})
	}
	_ = g.Wait()

	failed := 0
	var payloads []*ledger.IngestPayload
	for i := range e.sources {
		if errs[i] != nil {
			failed++
			continue
		}
		for _, d := range results[i] {
			p := d.Payload()
			if err := p.Validate(); err != nil {
				e.logger.Debug().Err(err).Str("source", e.sources[i].Name()).Msg("Skipping invalid document")
				continue
			}
			payloads = append(payloads, p)
		}
	}
	if len(e.sources) > 0 && failed == len(e.sources) {
		return fmt.Errorf("all %d sources failed: %w", failed, errors.Join(errs...))
	}

	entries, err := e.commit(ctx, run, mind.IngestChange(payloads)...)
	for _, entry := range entries {
		p, derr := entry.Decode()
		if derr != nil {
			return derr
		}
		if doc, ok := p.(*ledger.IngestPayload); ok {
			run.documents = append(run.documents, *doc)
		}
	}
	if err != nil {
		return fmt.Errorf("failed to commit ingested documents: %w", err)
	}

	run.sources = len(e.sources) - failed
	e.publish(live.Event{
		Type:    live.EventIngestComplete,
		Phase:   string(PhaseIngesting),
		RunID:   run.id,
		Message: fmt.Sprintf("%d new documents from %d sources", len(run.documents), run.sources),
		Data: map[string]any{
			"documents": len(run.documents),
			"fetched":   len(payloads),
			"sources":   run.sources,
			"failed":    failed,
		},
	})
	return nil
}

// deliberate runs the council concurrently. Each agent has its own timeout
// and breaker; the phase fails only when fewer than MinAgents succeed.
func (e *Engine) deliberate(ctx context.Context, run *runState) error {
	in := run.input(e.now(), e.store.Read())
	outputs := make([]*agents.Output, len(e.council))
	execs := make([]ledger.AgentExecution, len(e.council))

	var g errgroup.Group
	for i, a := range e.council {
		g.Go(func() error {
			out, err := e.callAgent(ctx, a, in)
			exec := ledger.AgentExecution{Agent: a.Name(), DurationMs: out.Duration.Milliseconds()}
			e.metrics.AgentCall(a.Name(), err)
			if err != nil {
				exec.Error = err.Error()
				e.publish(live.Event{
					Type:    live.EventAgentFailed,
					Phase:   string(PhaseDeliberating),
					RunID:   run.id,
					Agent:   a.Name(),
					Message: err.Error(),
				})
				e.logger.Warn().Err(err).Str("run_id", run.id).Str("agent", a.Name()).Msg("Agent failed")
			} else {
				exec.OutputHash = out.Hash()
				outputs[i] = &out
				e.publish(live.Event{
					Type:  live.EventAgentComplete,
					Phase: string(PhaseDeliberating),
					RunID: run.id,
					Agent: a.Name(),
					Data:  map[string]any{"role": string(a.Role()), "duration_ms": exec.DurationMs},
				})
			}
			execs[i] = exec
			return nil
		})
	}
	_ = g.Wait()

	var ok []agents.Output
	gate := Gate{AgentsRequired: e.cfg.MinAgents, Missing: []string{}}
	for i, out := range outputs {
		if out != nil {
			ok = append(ok, *out)
		} else {
			gate.Missing = append(gate.Missing, e.council[i].Name())
		}
	}
	gate.AgentsCompleted = len(ok)
	gate.Met = len(ok) >= e.cfg.MinAgents
	sort.Strings(gate.Missing)
	e.setGate(gate)
	if !gate.Met {
		return fmt.Errorf("only %d of %d agents succeeded, need %d", len(ok), len(e.council), e.cfg.MinAgents)
	}

	sort.Slice(execs, func(i, j int) bool { return execs[i].Agent < execs[j].Agent })
	if _, err := e.commit(ctx, run, &ledger.SystemUpdatePayload{
		Kind:   ledger.KindDeliberationRecorded,
		RunID:  run.id,
		Agents: execs,
	}); err != nil {
		return fmt.Errorf("failed to record deliberation: %w", err)
	}
	run.outputs = ok
	return nil
}

func (e *Engine) callAgent(ctx context.Context, a agents.Agent, in agents.Input) (agents.Output, error) {
	actx, cancel := context.WithTimeout(ctx, e.cfg.AgentTimeout)
	defer cancel()

	type result struct {
		out agents.Output
		err error
	}
	start := time.Now()
	v, err := e.breakers[a.Name()].Execute(func() (any, error) {
		done := make(chan result, 1)
		go func() {
			out, err := a.Deliberate(actx, in)
			done <- result{out, err}
		}()
		select {
		case r := <-done:
			return r.out, r.err
		case <-actx.Done():
			return nil, fmt.Errorf("no response within %s: %w", e.cfg.AgentTimeout, actx.Err())
		}
	})
	if err != nil {
		return agents.Output{Agent: a.Name(), Duration: time.Since(start)}, fmt.Errorf("agent %s: %w", a.Name(), err)
	}
	out := v.(agents.Output)
	if out.Agent == "" {
		out.Agent = a.Name()
	}
	if out.Duration == 0 {
		out.Duration = time.Since(start)
	}
	return out, nil
}

// synthesize turns the council output into one batch of ledger changes.
func (e *Engine) synthesize(ctx context.Context, run *runState) error {
	snap := e.store.Read()
	syn, err := e.synth.Synthesize(ctx, run.input(e.now(), snap), run.outputs)
	if err != nil {
		return fmt.Errorf("failed to synthesize: %w", err)
	}
	run.synthesis = syn

	var payloads []ledger.Payload
	m := syn.Mind
	if m.Update != nil || len(m.Beliefs) > 0 || len(m.Risks) > 0 || len(m.Deltas) > 0 {
		payloads = append(payloads, mind.MindUpdate(run.id, m))
	}
	for _, f := range syn.Open {
		payloads = append(payloads, mind.OpenForecast(f.ForecastID, f.Question, f.ResolutionCriteria, f.ResolutionDate, f.Probability, f.OpenedBy))
	}
	for _, u := range syn.Updates {
		p, err := snap.UpdateProbability(u.ForecastID, u.Probability, run.id)
		if err != nil {
			e.logger.Warn().Err(err).Str("run_id", run.id).Msg("Dropping probability update")
			continue
		}
		payloads = append(payloads, p)
	}
	for _, r := range syn.Resolutions {
		p, err := snap.ResolveForecast(r.ForecastID, r.Outcome)
		if err != nil {
			e.logger.Warn().Err(err).Str("run_id", run.id).Msg("Dropping resolution")
			continue
		}
		payloads = append(payloads, p)
	}
	if len(payloads) == 0 {
		return nil
	}

	if _, err := e.commit(ctx, run, payloads...); err != nil {
		return fmt.Errorf("failed to commit synthesis: %w", err)
	}
	return nil
}

// publishRun closes the run on the ledger and tells viewers to refresh.
func (e *Engine) publishRun(ctx context.Context, run *runState) error {
	syn := run.synthesis
	msg := fmt.Sprintf("%d documents, %d agents, %d forecasts opened, %d updated, %d resolved",
		len(run.documents), len(run.outputs), len(syn.Open), len(syn.Updates), len(syn.Resolutions))
	if _, err := e.commit(ctx, run, &ledger.SystemUpdatePayload{
		Kind:    ledger.KindRunCompleted,
		RunID:   run.id,
		Message: msg,
	}); err != nil {
		return fmt.Errorf("failed to record run completion: %w", err)
	}

	snap := e.store.Read()
	e.publish(live.Event{
		Type:    live.EventPipelineComplete,
		Phase:   string(PhasePublishing),
		RunID:   run.id,
		Message: msg,
		Data: map[string]any{
			"entries":        snap.Stats.Entries,
			"head":           snap.Head.Hash,
			"open_forecasts": snap.Stats.OpenForecasts,
		},
	})
	return nil
}
