/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

// Package router resolves a task class and mode into an ordered step
// graph and drives single-step execution: skip_if/required_zone checks,
// handler dispatch, timeout-and-retry, and next-step selection.
package router

import (
	"time"

	"github.com/opsruntime/agentcore/internal/condition"
)

const (
	DefaultStepTimeout     = 60 * time.Second
	DefaultPollTimeout     = 5 * time.Minute
	DefaultPollInterval    = time.Second
)

// StepType names a built-in handler.
type StepType string

const (
	StepCompletion StepType = "completion"
	StepToolCall   StepType = "tool_call"
	StepConditional StepType = "conditional"
	StepParallel   StepType = "parallel"
	StepLoop       StepType = "loop"
	StepWait       StepType = "wait"
	StepStateUpdate StepType = "state_update"
	StepSubAgent   StepType = "sub_agent"
	StepHumanInput StepType = "human_input"
	StepApproval   StepType = "approval"
	StepGate       StepType = "gate"
)

// RetryPolicy configures a step's retry loop: linear backoff of
// backoff_ms * attempt between attempts.
type RetryPolicy struct {
	MaxAttempts int
	BackoffMS   int64
}

// JoinStrategy controls how a parallel node's children are joined.
type JoinStrategy string

const (
	JoinAll      JoinStrategy = "all"
	JoinAny      JoinStrategy = "any"
	JoinMajority JoinStrategy = "majority"
)

// Step is one node in a task's step graph.
type Step struct {
	ID           string
	Type         StepType
	Next         string
	OnError      string
	SkipIf       *condition.Group
	RequiredZone string
	TimeoutMS    int64
	Retry        *RetryPolicy

	// tool_call
	ToolName         string
	InputMapping     map[string]string
	RequiresApproval bool
	OutputKey        string

	// conditional
	Condition *condition.Group
	IfTrue    string
	IfFalse   string

	// state_update
	Key        string
	ValueFrom  string
	Operation  string // set|append|increment|delete

	// wait
	DurationMS    int64
	Until         *condition.Group
	PollTimeoutMS int64
	PollIntervalMS int64
	BackoffMultiplier float64
	MaxPollIntervalMS int64

	// parallel
	Children []Step
	Join     JoinStrategy

	// loop
	Body      []Step
	LoopUntil *condition.Group
	MaxIterations int

	// sub_agent / human_input / approval / gate
	AgentRef  string
	Prompt    string
	Operation2 string // approval step's operation name
	Resource   string
	GateID     string
}

// Mode is one named execution path through a task (e.g. "default", "fast").
type Mode struct {
	Name         string
	EntryStep    string `yaml:"entry_step"`
	ExitStep     string `yaml:"exit_step"`
	Steps        []Step
	AllowedZones []string `yaml:"allowed_zones"`
}

// Task is a built-in task class: a set of modes sharing a default.
type Task struct {
	Class       string
	DefaultMode string `yaml:"default_mode"`
	Modes      map[string]Mode
	EstimatedDurationMS int64
	EstimatedCostUSD    float64
}

// Routing is the resolved {task, mode, steps} a run executes against.
type Routing struct {
	Task              string
	Mode              string
	Steps             map[string]Step
	EntryStep         string
	ExitStep          string
	EstimatedDuration time.Duration
	EstimatedCost     float64
}

// StepContext is the data a step executes against: the run's input,
// current state, and prior step outputs.
type StepContext struct {
	Input    map[string]any
	State    map[string]any
	Previous map[string]map[string]any
	Zone     string
}

func (c StepContext) conditionContext() map[string]any {
	return map[string]any{
		"input":    c.Input,
		"state":    c.State,
		"previous": c.Previous,
	}
}

// StepResult is the outcome of executing one step.
type StepResult struct {
	StepID       string
	Success      bool
	Output       any
	Error        string
	ErrorCode    string
	DurationMS   int64
	NextStep     string
	StateUpdates map[string]any
}
