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
	"math"
	"strings"
	"time"

	"github.com/opsruntime/agentcore/internal/condition"
)

func (e *Executor) handleCompletion(ctx context.Context, step Step, sctx StepContext) StepResult {
	if e.Model == nil {
		return StepResult{StepID: step.ID, Success: false, Error: "no model router configured"}
	}
	start := e.now()
	resp, err := e.Model.Route(ctx, ModelRequest{Messages: toMessages(sctx.Input)})
	latency := e.now().Sub(start).Milliseconds()
	if err != nil {
		e.Model.RecordUsage("", "", 0, 0, latency, false)
		return StepResult{StepID: step.ID, Success: false, Error: err.Error(), NextStep: step.Next}
	}
	e.Model.RecordUsage("", "", resp.InputTokens, resp.OutputTokens, latency, true)

	key := step.ID + "_output"
	return StepResult{
		StepID:       step.ID,
		Success:      true,
		Output:       resp.Output,
		NextStep:     step.Next,
		StateUpdates: map[string]any{key: resp.Output},
	}
}

func (e *Executor) handleToolCall(ctx context.Context, step Step, sctx StepContext) StepResult {
	if e.Tools == nil {
		return StepResult{StepID: step.ID, Success: false, Error: "no tool registry configured"}
	}
	desc, ok := e.Tools.Get(step.ToolName)
	if !ok {
		return StepResult{StepID: step.ID, Success: false, Error: fmt.Sprintf("unknown tool %q", step.ToolName)}
	}

	needsApproval := desc.RequiresApproval || step.RequiresApproval || sctx.Zone == "red"
	if needsApproval {
		if e.Approvals == nil {
			return StepResult{StepID: step.ID, Success: false, Error: "tool call requires approval but no approval provider configured", ErrorCode: CodeApprovalRequired}
		}
		token, _ := sctx.Input["_approval_token"].(string)
		if err := e.Approvals.ValidateToken(token, "tool_call:"+step.ToolName, step.ToolName, true); err != nil {
			return StepResult{StepID: step.ID, Success: false, Error: "approval required: " + err.Error(), ErrorCode: CodeApprovalRequired}
		}
	}

	input := resolveInputMapping(step.InputMapping, sctx)
	result, err := e.Tools.Execute(ctx, step.ToolName, input, sctx.Zone)
	if err != nil {
		return StepResult{StepID: step.ID, Success: false, Error: err.Error(), NextStep: step.Next}
	}
	if !result.Success {
		return StepResult{StepID: step.ID, Success: false, Error: result.Error, NextStep: step.Next}
	}

	updates := map[string]any{}
	if step.OutputKey != "" {
		updates[step.OutputKey] = result.Output
	}
	return StepResult{StepID: step.ID, Success: true, Output: result.Output, NextStep: step.Next, StateUpdates: updates}
}

func (e *Executor) handleConditional(ctx context.Context, step Step, sctx StepContext) StepResult {
	if step.Condition == nil {
		return StepResult{StepID: step.ID, Success: false, Error: "conditional step missing condition"}
	}
	matched, err := condition.EvalGroup(*step.Condition, sctx.conditionContext())
	if err != nil {
		return StepResult{StepID: step.ID, Success: false, Error: err.Error()}
	}
	next := step.IfFalse
	if matched {
		next = step.IfTrue
	}
	return StepResult{StepID: step.ID, Success: true, NextStep: next}
}

func (e *Executor) handleStateUpdate(ctx context.Context, step Step, sctx StepContext) StepResult {
	value, ok := lookupPath(step.ValueFrom, sctx)
	if !ok && step.Operation != "delete" {
		return StepResult{StepID: step.ID, Success: false, Error: fmt.Sprintf("value_from path %q not found", step.ValueFrom)}
	}

	updates := map[string]any{}
	switch step.Operation {
	case "", "set":
		updates[step.Key] = value
	case "append":
		existing, _ := sctx.State[step.Key].([]any)
		updates[step.Key] = append(append([]any{}, existing...), value)
	case "increment":
		cur, _ := sctx.State[step.Key].(float64)
		delta, _ := value.(float64)
		updates[step.Key] = cur + delta
	case "delete":
		updates[step.Key] = nil
	default:
		return StepResult{StepID: step.ID, Success: false, Error: fmt.Sprintf("unknown state_update operation %q", step.Operation)}
	}
	return StepResult{StepID: step.ID, Success: true, NextStep: step.Next, StateUpdates: updates}
}

func (e *Executor) handleSubAgent(ctx context.Context, step Step, sctx StepContext) StepResult {
	if e.SubAgents == nil {
		return StepResult{StepID: step.ID, Success: false, Error: "no sub-agent runner configured"}
	}
	out, err := e.SubAgents.RunSubAgent(ctx, step.AgentRef, sctx.Input)
	if err != nil {
		return StepResult{StepID: step.ID, Success: false, Error: err.Error(), NextStep: step.Next}
	}
	updates := map[string]any{}
	if step.OutputKey != "" {
		updates[step.OutputKey] = out
	}
	return StepResult{StepID: step.ID, Success: true, Output: out, NextStep: step.Next, StateUpdates: updates}
}

// handleSuspendingStep covers human_input/approval/gate: the orchestrator
// owns the actual suspension and resumption protocol, so the router only
// reports that execution must pause here.
func (e *Executor) handleSuspendingStep(ctx context.Context, step Step, sctx StepContext) StepResult {
	return StepResult{StepID: step.ID, Success: true, NextStep: step.Next, StateUpdates: map[string]any{
		"_suspended_on": step.ID,
		"_suspend_type": string(step.Type),
	}}
}

// PollOutcome is a wait step's terminal condition.
type PollOutcome string

const (
	PollSuccess   PollOutcome = "success"
	PollTimeout   PollOutcome = "timeout"
	PollCancelled PollOutcome = "cancelled"
	PollError     PollOutcome = "error"
)

func (e *Executor) handleWait(ctx context.Context, step Step, sctx StepContext) StepResult {
	if step.Until == nil {
		if !e.interruptibleSleep(ctx, durationMS(step.DurationMS)) {
			return StepResult{StepID: step.ID, Success: false, Error: "cancelled during wait", ErrorCode: CodePollingCancelled}
		}
		return StepResult{StepID: step.ID, Success: true, NextStep: step.Next}
	}

	pollTimeout := durationMS(step.PollTimeoutMS)
	if pollTimeout <= 0 {
		pollTimeout = DefaultPollTimeout
	}
	interval := durationMS(step.PollIntervalMS)
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	maxInterval := durationMS(step.MaxPollIntervalMS)
	multiplier := step.BackoffMultiplier
	if multiplier <= 0 {
		multiplier = 1
	}

	deadline := e.now().Add(pollTimeout)
	attempt := 0
	for {
		matched, err := condition.EvalGroup(*step.Until, sctx.conditionContext())
		if err != nil {
			return StepResult{StepID: step.ID, Success: false, Error: err.Error()}
		}
		if matched {
			return StepResult{StepID: step.ID, Success: true, NextStep: step.Next}
		}
		if e.now().After(deadline) {
			return StepResult{StepID: step.ID, Success: false, Error: "polling timed out", ErrorCode: CodePollingTimeout}
		}

		attempt++
		wait := interval
		if multiplier != 1 {
			scaled := float64(interval) * math.Pow(multiplier, float64(attempt-1))
			wait = time.Duration(scaled)
		}
		if maxInterval > 0 && wait > maxInterval {
			wait = maxInterval
		}
		if !e.interruptibleSleep(ctx, wait) {
			return StepResult{StepID: step.ID, Success: false, Error: "polling cancelled", ErrorCode: CodePollingCancelled}
		}
	}
}

// interruptibleSleep waits in small chunks so cancellation is observed
// within ~100ms rather than only at the end of a long sleep.
func (e *Executor) interruptibleSleep(ctx context.Context, d time.Duration) bool {
	const chunk = 100 * time.Millisecond
	remaining := d
	for remaining > 0 {
		step := chunk
		if remaining < step {
			step = remaining
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(step):
		}
		remaining -= step
	}
	return true
}

func toMessages(input map[string]any) []map[string]any {
	if msgs, ok := input["messages"].([]map[string]any); ok {
		return msgs
	}
	return []map[string]any{{"role": "user", "content": input}}
}

func resolveInputMapping(mapping map[string]string, sctx StepContext) map[string]any {
	out := map[string]any{}
	for key, path := range mapping {
		if v, ok := lookupPath(path, sctx); ok {
			out[key] = v
		}
	}
	return out
}

func lookupPath(path string, sctx StepContext) (any, bool) {
	if path == "" {
		return nil, false
	}
	ctxMap := sctx.conditionContext()
	return dottedLookup(path, ctxMap)
}

func dottedLookup(path string, ctx map[string]any) (any, bool) {
	segments := strings.Split(path, ".")
	var cur any = ctx
	for _, seg := range segments {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		v, ok := m[seg]
		if !ok {
			return nil, false
		}
		cur = v
	}
	return cur, true
}
