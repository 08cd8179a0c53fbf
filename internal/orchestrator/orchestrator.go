/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/codes"

	"github.com/opsruntime/agentcore/internal/approval"
	"github.com/opsruntime/agentcore/internal/compliance"
	"github.com/opsruntime/agentcore/internal/idempotency"
	"github.com/opsruntime/agentcore/internal/metrics"
	"github.com/opsruntime/agentcore/internal/policy"
	"github.com/opsruntime/agentcore/internal/qualitygate"
	"github.com/opsruntime/agentcore/internal/router"
	"github.com/opsruntime/agentcore/internal/shared/ratelimit"
	"github.com/opsruntime/agentcore/internal/statestore"
	"github.com/opsruntime/agentcore/internal/telemetry"
	"github.com/opsruntime/agentcore/internal/webhook"
)

// Config wires the orchestrator's collaborators. Policy and gate checks
// are skipped when their respective field is nil.
type Config struct {
	Store       *statestore.Store
	Catalog     *router.Catalog
	StepExec    *router.Executor
	Policy      *policy.Engine
	Approvals   *approval.Manager
	Gate        *qualitygate.Executor
	GatePolicy  *qualitygate.GatePolicy
	Compliance  *compliance.Registry
	Idempotency *idempotency.Ledger
	Webhooks    *webhook.Dispatcher
	Audit       AuditSink
	Caps        Caps
	Retention   RetentionConfig
	Limiter     *ratelimit.Limiter
}

// Orchestrator owns the in-memory run table and drives run lifecycles.
type Orchestrator struct {
	cfg Config

	mu   sync.Mutex
	runs map[string]*Run

	stopAutosave chan struct{}
	now          func() time.Time
}

// New constructs an Orchestrator. A nil Audit falls back to NoopAuditSink,
// and a zero Caps falls back to DefaultCaps.
func New(cfg Config) *Orchestrator {
	if cfg.Audit == nil {
		cfg.Audit = NoopAuditSink{}
	}
	if cfg.Caps == (Caps{}) {
		cfg.Caps = DefaultCaps()
	}
	if cfg.Retention == (RetentionConfig{}) {
		cfg.Retention = DefaultRetentionConfig()
	}
	return &Orchestrator{cfg: cfg, runs: map[string]*Run{}, now: time.Now}
}

// CreateRun snapshots the request, allocates a run id, pushes the initial
// system message, persists via the state store, and emits run_created. A
// non-empty opts.IdempotencyKey dedupes through the configured ledger: a
// retried request with the same key replays the previously created run.
func (o *Orchestrator) CreateRun(ctx context.Context, opts CreateOptions) (*Run, error) {
	caps := o.cfg.Caps
	if opts.Caps != nil {
		caps = *opts.Caps
	}

	var idemLock idempotency.Lock
	haveLock := false
	if o.cfg.Idempotency != nil && opts.IdempotencyKey != "" {
		check, err := o.cfg.Idempotency.Check(ctx, "run_create", opts.IdempotencyKey, opts.Input)
		if err != nil {
			return nil, newRunError(ErrKindIntegrity, err.Error())
		}
		if !check.ShouldProceed {
			if check.ExistingStatus == idempotency.StatusCompleted && check.CachedResult != nil {
				var cached Run
				if err := json.Unmarshal(check.CachedResult, &cached); err != nil {
					return nil, newRunError(ErrKindIntegrity, err.Error())
				}
				return &cached, nil
			}
			return nil, newRunError(ErrKindConflict, "run creation already in flight for this idempotency key")
		}
		lock, err := o.cfg.Idempotency.Start(ctx, "run_create", opts.IdempotencyKey, "create_run", idempotency.StartOptions{
			RequestData: opts.Input, Actor: opts.AgentID,
		})
		if err != nil {
			return nil, newRunError(ErrKindConflict, err.Error())
		}
		idemLock, haveLock = lock, true
	}

	run := &Run{
		ID:          uuid.NewString(),
		AgentID:     opts.AgentID,
		TaskClass:   opts.TaskClass,
		Mode:        opts.Mode,
		Zone:        opts.Zone,
		Environment: opts.Environment,
		Phase:       PhasePending,
		Input:       opts.Input,
		State:       map[string]any{},
		Previous:    map[string]map[string]any{},
		Caps:        caps,
		CreatedAt:   o.now(),
		Messages: []Message{
			{Role: "system", Content: fmt.Sprintf("run created for task %q", opts.TaskClass), Timestamp: o.now()},
		},
	}

	if o.cfg.Store != nil {
		if _, err := o.persist(ctx, run); err != nil {
			if haveLock {
				o.cfg.Idempotency.Fail(ctx, idemLock, err)
			}
			return nil, newRunError(ErrKindStorage, err.Error())
		}
	}

	o.mu.Lock()
	o.runs[run.ID] = run
	o.mu.Unlock()

	if haveLock {
		o.cfg.Idempotency.Complete(ctx, idemLock, run)
	}
	if o.cfg.Webhooks != nil {
		o.cfg.Webhooks.Dispatch("run_created", run.ID, fmt.Sprintf("run created for task %q", opts.TaskClass), nil)
	}
	o.cfg.Audit.LogAction("run_created", opts.AgentID, run.ID, opts.Zone, true, 0, map[string]any{"task_class": opts.TaskClass}, "")
	return run, nil
}

// StartRun evaluates the start_run policy check (if configured), resolves
// the task's routing, and transitions pending|paused -> running.
func (o *Orchestrator) StartRun(ctx context.Context, runID string) error {
	run, err := o.mustGet(runID)
	if err != nil {
		return err
	}
	if run.Phase != PhasePending && run.Phase != PhasePaused {
		return ErrNotRunning
	}

	if o.cfg.Limiter != nil {
		if decision := o.cfg.Limiter.Allow(run.AgentID, false); !decision.Allowed {
			run.Error = newRunError(ErrKindResourceLimit, decision.Reason)
			o.cfg.Audit.LogAction("start_run", run.AgentID, run.ID, run.Zone, false, 0, nil, decision.Reason)
			return run.Error
		}
		o.cfg.Limiter.RecordStart(run.AgentID)
	}

	if o.cfg.Policy != nil {
		pctx, policySpan := telemetry.StartPolicyEvalSpan(ctx, "gate", run.Zone, run.AgentID)
		_ = pctx
		result := o.cfg.Policy.Evaluate(policy.RequestContext{
			Actor: run.AgentID, Action: "start_run", Resource: run.ID,
			Zone: run.Zone, Environment: run.Environment, Timestamp: o.now(),
		})
		telemetry.EndPolicyEvalSpan(policySpan, string(result.OverallAction), "")
		metrics.RecordPolicyDecision("gate", run.Zone, string(result.OverallAction))
		if result.OverallAction == policy.ActionDeny {
			run.Error = newRunError(ErrKindPolicyDenied, "start_run denied by policy")
			o.cfg.Audit.LogAction("start_run", run.AgentID, run.ID, run.Zone, false, 0, nil, run.Error.Error())
			return run.Error
		}
	}

	if o.cfg.Catalog != nil {
		routing, err := o.cfg.Catalog.Route(run.TaskClass, run.Mode, run.Zone)
		if err != nil {
			run.Error = newRunError(ErrKindValidation, err.Error())
			return run.Error
		}
		run.Routing = routing
		run.Mode = routing.Mode
		run.CurrentStep = routing.EntryStep
	}

	now := o.now()
	run.Phase = PhaseRunning
	run.StartedAt = &now
	o.persist(ctx, run)
	o.cfg.Audit.LogAction("start_run", run.AgentID, run.ID, run.Zone, true, 0, nil, "")
	return nil
}

// PauseRun transitions a running run to paused.
func (o *Orchestrator) PauseRun(ctx context.Context, runID string) error {
	run, err := o.mustGet(runID)
	if err != nil {
		return err
	}
	if run.Phase != PhaseRunning {
		return ErrNotRunning
	}
	run.Phase = PhasePaused
	o.persist(ctx, run)
	o.cfg.Audit.LogAction("pause_run", run.AgentID, run.ID, run.Zone, true, 0, nil, "")
	return nil
}

// CompleteRun runs the configured final quality gate (if any) against
// output, then transitions the run to completed or, on gate failure, to
// failed with a GATE_FAILED error.
func (o *Orchestrator) CompleteRun(ctx context.Context, runID, output string) error {
	run, err := o.mustGet(runID)
	if err != nil {
		return err
	}
	if isTerminal(run.Phase) {
		return ErrAlreadyTerminal
	}

	if o.cfg.Gate != nil && o.cfg.GatePolicy != nil {
		res := o.cfg.Gate.Execute(ctx, *o.cfg.GatePolicy, qualitygate.Context{AgentID: run.AgentID, Zone: run.Zone, Output: output})
		if res.Status == qualitygate.StatusFailed {
			for _, f := range res.BlockingFailures {
				metrics.RecordQualityGateFailure(f.Name)
			}
			return o.transitionFailed(ctx, run, newRunError(ErrKindGateFailed, "final quality gate failed"))
		}
	}

	now := o.now()
	run.Phase = PhaseCompleted
	run.EndedAt = &now
	run.Messages = append(run.Messages, Message{Role: "assistant", Content: output, Timestamp: now})

	duration := o.durationSince(run.StartedAt, now)
	o.persist(ctx, run)
	o.recordLimiterComplete(run)
	metrics.RecordRunComplete(run.TaskClass, string(PhaseCompleted), duration)
	if o.cfg.Webhooks != nil {
		o.cfg.Webhooks.Dispatch("run_completed", run.ID, "run completed", map[string]any{"tokens": run.Usage.TokensIn + run.Usage.TokensOut, "cost_usd": run.Usage.CostUSD})
	}
	o.cfg.Audit.LogAction("complete_run", run.AgentID, run.ID, run.Zone, true, duration.Milliseconds(),
		map[string]any{"cost_usd": run.Usage.CostUSD, "tokens": run.Usage.TokensIn + run.Usage.TokensOut}, "")
	return nil
}

func (o *Orchestrator) recordLimiterComplete(run *Run) {
	if o.cfg.Limiter != nil && run.StartedAt != nil {
		o.cfg.Limiter.RecordComplete(run.AgentID)
	}
}

// FailRun records a terminal failure with the given typed error.
func (o *Orchestrator) FailRun(ctx context.Context, runID string, runErr *RunError) error {
	run, err := o.mustGet(runID)
	if err != nil {
		return err
	}
	if isTerminal(run.Phase) {
		return ErrAlreadyTerminal
	}
	return o.transitionFailed(ctx, run, runErr)
}

func (o *Orchestrator) transitionFailed(ctx context.Context, run *Run, runErr *RunError) error {
	now := o.now()
	run.Phase = PhaseFailed
	run.EndedAt = &now
	run.Error = runErr

	duration := o.durationSince(run.StartedAt, now)
	o.persist(ctx, run)
	o.recordLimiterComplete(run)
	metrics.RecordRunComplete(run.TaskClass, string(PhaseFailed), duration)
	if o.cfg.Webhooks != nil {
		o.cfg.Webhooks.Dispatch("run_failed", run.ID, runErr.Error(), map[string]any{"kind": runErr.Kind})
	}
	o.cfg.Audit.LogAction("fail_run", run.AgentID, run.ID, run.Zone, false, duration.Milliseconds(), nil, runErr.Error())
	return runErr
}

// CancelRun records cancellation; cooperative propagation to an in-flight
// step is the caller's responsibility via the context passed to ExecuteStep.
func (o *Orchestrator) CancelRun(ctx context.Context, runID string) error {
	run, err := o.mustGet(runID)
	if err != nil {
		return err
	}
	if isTerminal(run.Phase) {
		return ErrAlreadyTerminal
	}
	now := o.now()
	run.Phase = PhaseCancelled
	run.EndedAt = &now
	run.Error = newRunError(ErrKindCancellation, "run cancelled")

	duration := o.durationSince(run.StartedAt, now)
	o.persist(ctx, run)
	o.recordLimiterComplete(run)
	metrics.RecordRunComplete(run.TaskClass, string(PhaseCancelled), duration)
	if o.cfg.Webhooks != nil {
		o.cfg.Webhooks.Dispatch("run_cancelled", run.ID, "run cancelled", nil)
	}
	o.cfg.Audit.LogAction("cancel_run", run.AgentID, run.ID, run.Zone, false, duration.Milliseconds(), nil, "cancelled")
	return nil
}

// AddMessage appends a conversation message to a run's transcript.
func (o *Orchestrator) AddMessage(runID, role, content string) error {
	run, err := o.mustGet(runID)
	if err != nil {
		return err
	}
	run.Messages = append(run.Messages, Message{Role: role, Content: content, Timestamp: o.now()})
	return nil
}

// ListRuns returns a snapshot of every tracked run.
func (o *Orchestrator) ListRuns() []Run {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]Run, 0, len(o.runs))
	for _, r := range o.runs {
		out = append(out, *r)
	}
	return out
}

// LoadRun returns a copy of one run by id.
func (o *Orchestrator) LoadRun(runID string) (Run, error) {
	run, err := o.mustGet(runID)
	if err != nil {
		return Run{}, err
	}
	return *run, nil
}

// Cleanup evicts terminal runs older than the retention window from
// memory and, if configured, from the state store.
func (o *Orchestrator) Cleanup(ctx context.Context) int {
	cutoff := o.now().Add(-o.cfg.Retention.TerminalRetention)
	o.mu.Lock()
	defer o.mu.Unlock()

	evicted := 0
	for id, run := range o.runs {
		if !isTerminal(run.Phase) || run.EndedAt == nil {
			continue
		}
		if run.EndedAt.Before(cutoff) {
			delete(o.runs, id)
			if o.cfg.Store != nil {
				o.cfg.Store.Delete(ctx, stateKey(id), run.Environment, "retention-sweep")
			}
			evicted++
		}
	}
	return evicted
}

func (o *Orchestrator) mustGet(runID string) (*Run, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	run, ok := o.runs[runID]
	if !ok {
		return nil, ErrRunNotFound
	}
	return run, nil
}

func (o *Orchestrator) persist(ctx context.Context, run *Run) (*statestore.Entry, error) {
	if o.cfg.Store == nil {
		return nil, nil
	}
	return o.cfg.Store.Put(ctx, stateKey(run.ID), run, statestore.PutOptions{Env: run.Environment, Actor: run.AgentID})
}

func (o *Orchestrator) durationSince(start *time.Time, end time.Time) time.Duration {
	if start == nil {
		return 0
	}
	return end.Sub(*start)
}

func stateKey(runID string) string { return "run:" + runID }

func isTerminal(p Phase) bool {
	switch p {
	case PhaseCompleted, PhaseFailed, PhaseCancelled:
		return true
	default:
		return false
	}
}

var _ = codes.Error // telemetry's codes package stays available for span status on the step loop
