/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package qualitygate

import (
	"context"
	"fmt"
	"time"

	"github.com/opsruntime/agentcore/internal/condition"
)

// Executor runs GatePolicy checks, dispatching to a named handler or
// falling back to condition-based evaluation.
type Executor struct {
	handlers map[string]Handler
	now      func() time.Time
}

// New constructs an Executor seeded with the built-in handlers. Callers
// may add more via Register.
func New() *Executor {
	return &Executor{handlers: BuiltinHandlers(), now: time.Now}
}

// Register adds or overrides a named handler.
func (e *Executor) Register(name string, h Handler) {
	e.handlers[name] = h
}

// Execute runs every check in policy against gctx, honoring per-check and
// overall timeouts and fail-fast semantics on a blocking failure.
func (e *Executor) Execute(parent context.Context, policy GatePolicy, gctx Context) Result {
	start := e.now()

	overallTimeout := policy.Timeout
	if overallTimeout <= 0 {
		overallTimeout = DefaultGateTimeout
	}
	ctx, cancel := context.WithTimeout(parent, overallTimeout)
	defer cancel()

	results := make([]CheckResult, 0, len(policy.Checks))
	var blocking []CheckResult
	passed, failed := 0, 0
	stop := false

	for _, spec := range policy.Checks {
		if stop {
			results = append(results, CheckResult{Name: spec.Name, Status: StatusSkipped, Blocking: spec.Blocking})
			continue
		}

		select {
		case <-ctx.Done():
			results = append(results, CheckResult{Name: spec.Name, Status: StatusSkipped, Blocking: spec.Blocking, Message: "gate timeout elapsed"})
			continue
		default:
		}

		res := e.runCheck(ctx, spec, gctx)
		results = append(results, res)

		switch res.Status {
		case StatusPassed:
			passed++
		case StatusFailed, StatusError:
			failed++
			if res.Blocking {
				blocking = append(blocking, res)
				if policy.FailFast {
					stop = true
				}
			}
		}
	}

	status := StatusPassed
	if len(blocking) > 0 {
		status = StatusFailed
	} else if failed > 0 {
		// Non-blocking failures alone don't fail the gate, but are surfaced.
		status = StatusPassed
	}

	return Result{
		Status:           status,
		Checks:           results,
		PassedCount:      passed,
		FailedCount:      failed,
		BlockingFailures: blocking,
		DurationMS:       e.now().Sub(start).Milliseconds(),
	}
}

func (e *Executor) runCheck(ctx context.Context, spec CheckSpec, gctx Context) CheckResult {
	start := e.now()
	timeout := spec.Timeout
	if timeout <= 0 {
		timeout = DefaultCheckTimeout
	}
	checkCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		passed  bool
		message string
		err     error
	}
	done := make(chan outcome, 1)
	go func() {
		passed, message, err := e.dispatch(gctx, spec)
		done <- outcome{passed, message, err}
	}()

	select {
	case <-checkCtx.Done():
		return CheckResult{Name: spec.Name, Status: StatusError, Blocking: spec.Blocking,
			Message: "check timed out", DurationMS: e.now().Sub(start).Milliseconds()}
	case o := <-done:
		dur := e.now().Sub(start).Milliseconds()
		if o.err != nil {
			return CheckResult{Name: spec.Name, Status: StatusError, Blocking: spec.Blocking, Message: o.err.Error(), DurationMS: dur}
		}
		status := StatusPassed
		if !o.passed {
			status = StatusFailed
		}
		return CheckResult{Name: spec.Name, Status: status, Blocking: spec.Blocking, Message: o.message, DurationMS: dur}
	}
}

func (e *Executor) dispatch(gctx Context, spec CheckSpec) (bool, string, error) {
	if spec.Type != "" {
		h, ok := e.handlers[spec.Type]
		if !ok {
			return false, "", fmt.Errorf("qualitygate: no handler registered for check type %q", spec.Type)
		}
		return h(gctx, spec)
	}
	if spec.Condition != nil {
		ok, err := condition.EvalGroup(*spec.Condition, gctx.conditionContext())
		if err != nil {
			return false, "", err
		}
		if !ok {
			return false, "condition did not match", nil
		}
		return true, "", nil
	}
	return false, "", fmt.Errorf("qualitygate: check %q has neither a type nor a condition", spec.Name)
}
