/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package router

import (
	"context"
	"fmt"
	"time"

	"github.com/opsruntime/agentcore/internal/condition"
)

func durationMS(ms int64) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

// GetNextStep selects the step to run after current, preferring the
// handler-reported next step, then the static graph edge, then the
// error edge on failure. Returns ("", true) when the mode's exit step
// has been reached (terminate).
func GetNextStep(routing Routing, currentStepID string, result StepResult) (string, bool) {
	if currentStepID == routing.ExitStep {
		return "", true
	}
	if result.NextStep != "" {
		return result.NextStep, false
	}
	current, ok := routing.Steps[currentStepID]
	if !ok {
		return "", true
	}
	if !result.Success && current.OnError != "" {
		return current.OnError, false
	}
	if !result.Success {
		return "", true
	}
	if current.Next == "" {
		return "", true
	}
	return current.Next, false
}

// Executor runs individual steps against their collaborators.
type Executor struct {
	Model     ModelRouter
	Tools     ToolRegistry
	Approvals ApprovalProvider
	SubAgents SubAgentRunner
	now       func() time.Time
}

// NewExecutor wires an Executor's collaborators. Any may be nil if the
// corresponding step types are never used.
func NewExecutor(model ModelRouter, tools ToolRegistry, approvals ApprovalProvider, subAgents SubAgentRunner) *Executor {
	return &Executor{Model: model, Tools: tools, Approvals: approvals, SubAgents: subAgents, now: time.Now}
}

// ExecuteStep is the core execution primitive: skip_if, zone check,
// handler dispatch wrapped in a timeout+retry loop.
func (e *Executor) ExecuteStep(ctx context.Context, step Step, sctx StepContext) StepResult {
	start := e.now()

	if step.SkipIf != nil {
		matched, err := condition.EvalGroup(*step.SkipIf, sctx.conditionContext())
		if err == nil && matched {
			return StepResult{StepID: step.ID, Success: true, NextStep: step.Next, DurationMS: e.now().Sub(start).Milliseconds()}
		}
	}

	if step.RequiredZone != "" && step.RequiredZone != sctx.Zone {
		return StepResult{StepID: step.ID, Success: false, Error: "required zone not satisfied", ErrorCode: CodeZoneMismatch, DurationMS: e.now().Sub(start).Milliseconds()}
	}

	handler := e.handlerFor(step.Type)
	if handler == nil {
		return StepResult{StepID: step.ID, Success: false, Error: fmt.Sprintf("no handler for step type %q", step.Type), ErrorCode: CodeNoHandler, DurationMS: e.now().Sub(start).Milliseconds()}
	}

	timeout := durationMS(step.TimeoutMS)
	if timeout <= 0 {
		timeout = DefaultStepTimeout
	}

	maxAttempts := 1
	var backoffMS int64
	if step.Retry != nil && step.Retry.MaxAttempts > 0 {
		maxAttempts = step.Retry.MaxAttempts
		backoffMS = step.Retry.BackoffMS
	}

	var last StepResult
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		last = e.runWithTimeout(ctx, handler, step, sctx, timeout)
		last.DurationMS = e.now().Sub(start).Milliseconds()
		if last.Success || attempt == maxAttempts {
			return last
		}
		select {
		case <-ctx.Done():
			return StepResult{StepID: step.ID, Success: false, Error: "cancelled during retry backoff", ErrorCode: CodePollingCancelled, DurationMS: e.now().Sub(start).Milliseconds()}
		case <-time.After(durationMS(backoffMS * int64(attempt))):
		}
	}
	return last
}

func (e *Executor) runWithTimeout(ctx context.Context, h stepHandler, step Step, sctx StepContext, timeout time.Duration) StepResult {
	stepCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan StepResult, 1)
	go func() {
		done <- h(stepCtx, step, sctx)
	}()

	select {
	case <-stepCtx.Done():
		if ctx.Err() != nil {
			return StepResult{StepID: step.ID, Success: false, Error: "step cancelled", ErrorCode: CodePollingCancelled}
		}
		return StepResult{StepID: step.ID, Success: false, Error: "step timed out", ErrorCode: CodeStepTimeout}
	case res := <-done:
		return res
	}
}

type stepHandler func(ctx context.Context, step Step, sctx StepContext) StepResult

func (e *Executor) handlerFor(t StepType) stepHandler {
	switch t {
	case StepCompletion:
		return e.handleCompletion
	case StepToolCall:
		return e.handleToolCall
	case StepConditional:
		return e.handleConditional
	case StepStateUpdate:
		return e.handleStateUpdate
	case StepWait:
		return e.handleWait
	case StepSubAgent:
		return e.handleSubAgent
	case StepHumanInput, StepApproval, StepGate:
		return e.handleSuspendingStep
	default:
		return nil
	}
}
