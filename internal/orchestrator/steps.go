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
	"time"

	"github.com/opsruntime/agentcore/internal/compliance"
	"github.com/opsruntime/agentcore/internal/metrics"
	"github.com/opsruntime/agentcore/internal/router"
	"github.com/opsruntime/agentcore/internal/telemetry"
)

// RunStep executes the run's current step via the configured router
// executor, applies state_updates, records usage, advances CurrentStep
// per GetNextStep, and persists the run. Returns true once the mode's
// exit step has been reached.
func (o *Orchestrator) RunStep(ctx context.Context, runID string) (bool, error) {
	run, err := o.mustGet(runID)
	if err != nil {
		return false, err
	}
	if run.Phase != PhaseRunning {
		return false, ErrNotRunning
	}
	if o.cfg.StepExec == nil {
		return false, newRunError(ErrKindValidation, "no step executor configured")
	}

	if exceeded, kind := o.capsExceeded(run); exceeded {
		o.transitionFailed(ctx, run, newRunError(ErrKindResourceLimit, "run exceeded its "+kind+" cap"))
		return true, run.Error
	}

	step, ok := run.Routing.Steps[run.CurrentStep]
	if !ok {
		return false, newRunError(ErrKindValidation, "unknown current step "+run.CurrentStep)
	}

	spanCtx, span := telemetry.StartStepSpan(ctx, run.ID, step.ID, string(step.Type))
	result := o.cfg.StepExec.ExecuteStep(spanCtx, step, router.StepContext{
		Input: run.Input, State: run.State, Previous: run.Previous, Zone: run.Zone,
	})
	telemetry.EndStepSpan(span, outcomeOf(result), isSuspend(result))
	metrics.RecordStep(string(step.Type), outcomeOf(result), 0)

	run.Usage.StepCount++
	for k, v := range result.StateUpdates {
		if prev, ok := run.State[k]; ok {
			run.Previous[k] = map[string]any{"value": prev, "step": step.ID}
		}
		if v == nil {
			delete(run.State, k)
		} else {
			run.State[k] = v
		}
	}
	if result.Output != nil {
		run.Messages = append(run.Messages, Message{Role: "assistant", Content: toText(result.Output), Timestamp: o.now()})
	}

	next, terminate := router.GetNextStep(run.Routing, step.ID, result)
	if !result.Success {
		o.persist(ctx, run)
		if result.ErrorCode == router.CodeApprovalRequired {
			run.Error = newRunError(ErrKindApprovalRequired, result.Error)
			return false, run.Error
		}
		if terminate {
			return true, o.transitionFailed(ctx, run, newRunError(ErrKindValidation, result.Error))
		}
	}

	run.CurrentStep = next
	o.persist(ctx, run)
	return terminate, nil
}

// ExecuteTool is the tool-call path invoked directly (outside a step's
// own tool_call handler): approval-gated, recorded as a tool message.
func (o *Orchestrator) ExecuteTool(ctx context.Context, runID, toolName string, input map[string]any, approvalToken string) (router.ToolResult, error) {
	run, err := o.mustGet(runID)
	if err != nil {
		return router.ToolResult{}, err
	}
	if o.cfg.StepExec == nil || o.cfg.StepExec.Tools == nil {
		return router.ToolResult{}, newRunError(ErrKindValidation, "no tool registry configured")
	}

	desc, ok := o.cfg.StepExec.Tools.Get(toolName)
	if !ok {
		return router.ToolResult{}, newRunError(ErrKindValidation, "unknown tool "+toolName)
	}

	if o.cfg.Compliance != nil {
		cctx := complianceContext(run, toolName, input, o.now())
		result := o.cfg.Compliance.CheckAll(cctx)
		// PHI access is logged regardless of the compliance outcome — HIPAA
		// requires an access trail even for attempts the gate later denies.
		if phi, ok := input["contains_phi"].(bool); ok && phi {
			o.cfg.Audit.LogAction("phi_access", run.AgentID, toolName, run.Zone, result.Compliant, 0,
				map[string]any{"data_subject": cctx.DataSubject}, "")
		}
		if !result.Compliant {
			for _, v := range result.Violations {
				if v.Severity == compliance.SeverityCritical {
					o.cfg.Audit.LogAction("execute_tool", run.AgentID, toolName, run.Zone, false, 0,
						map[string]any{"regulation": v.Regulation, "gate": v.GateName, "code": v.Code}, v.Message)
					return router.ToolResult{}, newRunError(ErrKindPolicyDenied, v.Message)
				}
			}
		}
	}

	if desc.RequiresApproval || run.Zone == "red" {
		if o.cfg.Approvals == nil {
			o.cfg.Audit.LogAction("execute_tool", run.AgentID, toolName, run.Zone, false, 0, nil, "approval required")
			return router.ToolResult{}, newRunError(ErrKindApprovalRequired, "tool requires approval")
		}
		if err := o.cfg.Approvals.ValidateToken(approvalToken, "tool_call:"+toolName, toolName, true); err != nil {
			o.cfg.Audit.LogAction("execute_tool", run.AgentID, toolName, run.Zone, false, 0, nil, err.Error())
			return router.ToolResult{}, newRunError(ErrKindApprovalRequired, err.Error())
		}
	}

	if run.Usage.ToolCalls >= run.Caps.MaxToolCalls {
		return router.ToolResult{}, newRunError(ErrKindResourceLimit, "tool-call cap exceeded")
	}

	result, err := o.cfg.StepExec.Tools.Execute(ctx, toolName, input, run.Zone)
	run.Usage.ToolCalls++
	if err != nil {
		o.cfg.Audit.LogAction("execute_tool", run.AgentID, toolName, run.Zone, false, 0, nil, err.Error())
		return result, err
	}
	run.Messages = append(run.Messages, Message{Role: "tool", Content: toText(result.Output), Timestamp: o.now()})
	o.persist(ctx, run)
	o.cfg.Audit.LogAction("execute_tool", run.AgentID, toolName, run.Zone, result.Success, 0, nil, "")
	return result, nil
}

func (o *Orchestrator) capsExceeded(run *Run) (bool, string) {
	switch {
	case run.Caps.MaxTokens > 0 && run.Usage.TokensIn+run.Usage.TokensOut > run.Caps.MaxTokens:
		return true, "token"
	case run.Caps.MaxCostUSD > 0 && run.Usage.CostUSD > run.Caps.MaxCostUSD:
		return true, "cost"
	case run.Caps.MaxToolCalls > 0 && run.Usage.ToolCalls > run.Caps.MaxToolCalls:
		return true, "tool-call"
	default:
		return false, ""
	}
}

func outcomeOf(r router.StepResult) string {
	if r.Success {
		return "success"
	}
	return "failure"
}

func isSuspend(r router.StepResult) bool {
	_, ok := r.StateUpdates["_suspended_on"]
	return ok
}

func toText(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

// complianceContext derives a compliance.Context from a tool invocation.
// Recipient/channel/consent fields fall back to zero values when a tool's
// input doesn't carry them (most tools never touch a regulated channel).
func complianceContext(run *Run, toolName string, input map[string]any, now time.Time) compliance.Context {
	ctx := compliance.Context{
		Actor:     run.AgentID,
		Action:    "tool_call:" + toolName,
		Resource:  toolName,
		Timestamp: now,
		Data:      input,
	}
	if recipient, ok := input["recipient"].(string); ok {
		ctx.Recipient = recipient
	}
	if channel, ok := input["channel"].(string); ok {
		ctx.Channel = channel
	}
	if consent, ok := input["consent_on"].(bool); ok {
		ctx.ConsentOn = consent
	}
	if subject, ok := input["data_subject"].(string); ok {
		ctx.DataSubject = subject
	}
	if tz, ok := input["timezone"].(string); ok {
		ctx.Timezone = tz
	}
	return ctx
}
