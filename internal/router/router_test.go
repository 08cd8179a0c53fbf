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
	"errors"
	"testing"
	"time"

	"github.com/opsruntime/agentcore/internal/condition"
)

func sampleCatalog() *Catalog {
	c := NewCatalog()
	c.Register(Task{
		Class:       "deploy",
		DefaultMode: "default",
		Modes: map[string]Mode{
			"default": {
				EntryStep:    "validate",
				ExitStep:     "done",
				AllowedZones: []string{"green", "yellow"},
				Steps: []Step{
					{ID: "validate", Type: StepStateUpdate, Key: "validated", ValueFrom: "input.ok", Next: "done"},
					{ID: "done", Type: StepStateUpdate, Key: "finished", ValueFrom: "input.ok"},
				},
			},
		},
	})
	return c
}

func TestRouteResolvesDefaultMode(t *testing.T) {
	c := sampleCatalog()
	routing, err := c.Route("deploy", "", "green")
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	if routing.Mode != "default" || routing.EntryStep != "validate" {
		t.Fatalf("got mode=%s entry=%s", routing.Mode, routing.EntryStep)
	}
}

func TestRouteUnknownTaskFails(t *testing.T) {
	c := sampleCatalog()
	if _, err := c.Route("does-not-exist", "", "green"); err != ErrTaskNotFound {
		t.Fatalf("got %v, want ErrTaskNotFound", err)
	}
}

func TestRouteZoneNotAllowedFails(t *testing.T) {
	c := sampleCatalog()
	if _, err := c.Route("deploy", "default", "red"); err != ErrZoneNotAllowed {
		t.Fatalf("got %v, want ErrZoneNotAllowed", err)
	}
}

func TestGetNextStepPrefersResultOverGraphEdge(t *testing.T) {
	routing, _ := sampleCatalog().Route("deploy", "", "green")
	next, terminate := GetNextStep(routing, "validate", StepResult{Success: true, NextStep: "done"})
	if terminate || next != "done" {
		t.Fatalf("got next=%s terminate=%v", next, terminate)
	}
}

func TestGetNextStepFollowsOnErrorWhenFailed(t *testing.T) {
	routing := Routing{
		ExitStep: "done",
		Steps: map[string]Step{
			"a": {ID: "a", Next: "b", OnError: "recover"},
		},
	}
	next, terminate := GetNextStep(routing, "a", StepResult{Success: false})
	if terminate || next != "recover" {
		t.Fatalf("got next=%s terminate=%v, want recover/false", next, terminate)
	}
}

func TestGetNextStepTerminatesAtExitStep(t *testing.T) {
	routing := Routing{ExitStep: "done", Steps: map[string]Step{"done": {ID: "done"}}}
	_, terminate := GetNextStep(routing, "done", StepResult{Success: true})
	if !terminate {
		t.Fatal("expected termination at the mode's exit step")
	}
}

func TestExecuteStepSkipIfShortCircuits(t *testing.T) {
	e := NewExecutor(nil, nil, nil, nil)
	step := Step{
		ID:     "maybe",
		Type:   StepStateUpdate,
		SkipIf: &condition.Group{All: []condition.Expr{{Field: "input.skip", Operator: condition.OpEq, Value: true}}},
		Next:   "after",
	}
	res := e.ExecuteStep(context.Background(), step, StepContext{Input: map[string]any{"skip": true}})
	if !res.Success || res.NextStep != "after" {
		t.Fatalf("expected skip_if to short-circuit to success, got %+v", res)
	}
}

func TestExecuteStepZoneMismatch(t *testing.T) {
	e := NewExecutor(nil, nil, nil, nil)
	step := Step{ID: "s1", Type: StepStateUpdate, RequiredZone: "red"}
	res := e.ExecuteStep(context.Background(), step, StepContext{Zone: "green"})
	if res.Success || res.ErrorCode != CodeZoneMismatch {
		t.Fatalf("expected ZONE_MISMATCH, got %+v", res)
	}
}

func TestExecuteStepStateUpdateSet(t *testing.T) {
	e := NewExecutor(nil, nil, nil, nil)
	step := Step{ID: "s1", Type: StepStateUpdate, Key: "greeting", ValueFrom: "input.name", Operation: "set"}
	res := e.ExecuteStep(context.Background(), step, StepContext{Input: map[string]any{"name": "alice"}})
	if !res.Success || res.StateUpdates["greeting"] != "alice" {
		t.Fatalf("got %+v", res)
	}
}

func TestExecuteStepConditionalBranches(t *testing.T) {
	e := NewExecutor(nil, nil, nil, nil)
	step := Step{
		ID:        "c1",
		Type:      StepConditional,
		Condition: &condition.Group{All: []condition.Expr{{Field: "input.ready", Operator: condition.OpEq, Value: true}}},
		IfTrue:    "go",
		IfFalse:   "wait",
	}
	res := e.ExecuteStep(context.Background(), step, StepContext{Input: map[string]any{"ready": true}})
	if res.NextStep != "go" {
		t.Fatalf("got next=%s, want go", res.NextStep)
	}
}

func TestExecuteStepRetriesOnFailure(t *testing.T) {
	step := Step{ID: "t1", Type: StepToolCall, ToolName: "whatever", Retry: &RetryPolicy{MaxAttempts: 2, BackoffMS: 1}}
	res := NewExecutor(nil, nil, nil, nil).ExecuteStep(context.Background(), step, StepContext{})
	if res.Success {
		t.Fatal("expected failure with no tool registry configured")
	}
}

type stubTools struct {
	desc ToolDescriptor
	err  error
}

func (s *stubTools) Get(name string) (ToolDescriptor, bool) { return s.desc, true }
func (s *stubTools) Execute(ctx context.Context, name string, input map[string]any, zone string) (ToolResult, error) {
	if s.err != nil {
		return ToolResult{}, s.err
	}
	return ToolResult{Success: true, Output: "ok"}, nil
}

func TestToolCallRequiringApprovalWithoutProviderFails(t *testing.T) {
	e := NewExecutor(nil, &stubTools{desc: ToolDescriptor{RequiresApproval: true}}, nil, nil)
	step := Step{ID: "t1", Type: StepToolCall, ToolName: "risky"}
	res := e.ExecuteStep(context.Background(), step, StepContext{})
	if res.Success || res.ErrorCode != CodeApprovalRequired {
		t.Fatalf("got %+v, want APPROVAL_REQUIRED", res)
	}
}

type stubApprovals struct{ err error }

func (s *stubApprovals) ValidateToken(token, operation, resource string, consume bool) error { return s.err }

func TestToolCallWithValidApprovalTokenSucceeds(t *testing.T) {
	e := NewExecutor(nil, &stubTools{desc: ToolDescriptor{RequiresApproval: true}}, &stubApprovals{}, nil)
	step := Step{ID: "t1", Type: StepToolCall, ToolName: "risky", OutputKey: "result"}
	res := e.ExecuteStep(context.Background(), step, StepContext{Input: map[string]any{"_approval_token": "tok"}})
	if !res.Success || res.StateUpdates["result"] != "ok" {
		t.Fatalf("got %+v", res)
	}
}

func TestWaitFixedDurationCompletes(t *testing.T) {
	e := NewExecutor(nil, nil, nil, nil)
	step := Step{ID: "w1", Type: StepWait, DurationMS: 10, Next: "after"}
	res := e.ExecuteStep(context.Background(), step, StepContext{})
	if !res.Success || res.NextStep != "after" {
		t.Fatalf("got %+v", res)
	}
}

func TestWaitPollingUntilConditionSucceeds(t *testing.T) {
	e := NewExecutor(nil, nil, nil, nil)
	step := Step{
		ID:             "w2",
		Type:           StepWait,
		Until:          &condition.Group{All: []condition.Expr{{Field: "state.ready", Operator: condition.OpEq, Value: true}}},
		PollIntervalMS: 5,
		PollTimeoutMS:  500,
		Next:           "after",
	}
	res := e.ExecuteStep(context.Background(), step, StepContext{State: map[string]any{"ready": true}})
	if !res.Success {
		t.Fatalf("got %+v", res)
	}
}

func TestWaitPollingTimesOut(t *testing.T) {
	e := NewExecutor(nil, nil, nil, nil)
	step := Step{
		ID:             "w3",
		Type:           StepWait,
		Until:          &condition.Group{All: []condition.Expr{{Field: "state.ready", Operator: condition.OpEq, Value: true}}},
		PollIntervalMS: 5,
		PollTimeoutMS:  20,
	}
	res := e.ExecuteStep(context.Background(), step, StepContext{State: map[string]any{"ready": false}})
	if res.Success || res.ErrorCode != CodePollingTimeout {
		t.Fatalf("got %+v, want POLLING_TIMEOUT", res)
	}
}

func TestWaitPollingCancelledObservesWithinBudget(t *testing.T) {
	e := NewExecutor(nil, nil, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	step := Step{
		ID:             "w4",
		Type:           StepWait,
		Until:          &condition.Group{All: []condition.Expr{{Field: "state.ready", Operator: condition.OpEq, Value: true}}},
		PollIntervalMS: 1000,
		PollTimeoutMS:  int64(5 * time.Minute / time.Millisecond),
	}
	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()
	start := time.Now()
	res := e.ExecuteStep(ctx, step, StepContext{State: map[string]any{"ready": false}})
	elapsed := time.Since(start)
	if res.Success || res.ErrorCode != CodePollingCancelled {
		t.Fatalf("got %+v, want POLLING_CANCELLED", res)
	}
	if elapsed > 300*time.Millisecond {
		t.Fatalf("cancellation took %s, want it observed promptly", elapsed)
	}
}

func TestStepTimeoutProducesTypedError(t *testing.T) {
	e := &Executor{now: time.Now}
	e.Tools = &slowTools{}
	step := Step{ID: "slow", Type: StepToolCall, ToolName: "slow", TimeoutMS: 10}
	res := e.ExecuteStep(context.Background(), step, StepContext{})
	if res.Success || res.ErrorCode != CodeStepTimeout {
		t.Fatalf("got %+v, want STEP_TIMEOUT", res)
	}
}

type slowTools struct{}

func (s *slowTools) Get(name string) (ToolDescriptor, bool) { return ToolDescriptor{}, true }
func (s *slowTools) Execute(ctx context.Context, name string, input map[string]any, zone string) (ToolResult, error) {
	time.Sleep(200 * time.Millisecond)
	return ToolResult{Success: true}, nil
}

type failingThenSucceedingTools struct{ calls int }

func (f *failingThenSucceedingTools) Get(name string) (ToolDescriptor, bool) { return ToolDescriptor{}, true }
func (f *failingThenSucceedingTools) Execute(ctx context.Context, name string, input map[string]any, zone string) (ToolResult, error) {
	f.calls++
	if f.calls < 2 {
		return ToolResult{}, errors.New("transient")
	}
	return ToolResult{Success: true, Output: "recovered"}, nil
}

func TestRetryRecoversFromTransientFailure(t *testing.T) {
	tools := &failingThenSucceedingTools{}
	e := NewExecutor(nil, tools, nil, nil)
	step := Step{ID: "t2", Type: StepToolCall, ToolName: "flaky", Retry: &RetryPolicy{MaxAttempts: 3, BackoffMS: 1}}
	res := e.ExecuteStep(context.Background(), step, StepContext{})
	if !res.Success || tools.calls != 2 {
		t.Fatalf("got success=%v calls=%d, want success after 2 calls", res.Success, tools.calls)
	}
}
