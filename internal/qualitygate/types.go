/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

// Package qualitygate executes a GatePolicy's checks against a run's
// input/output, via either a built-in named handler or a generic
// condition-based handler routed through internal/condition. A failed,
// blocking check fails the whole gate, which the orchestrator treats as
// blocking the calling step.
package qualitygate

import (
	"time"

	"github.com/opsruntime/agentcore/internal/condition"
)

// Status is a check or gate's terminal outcome.
type Status string

const (
	StatusPassed  Status = "passed"
	StatusFailed  Status = "failed"
	StatusSkipped Status = "skipped"
	StatusError   Status = "error"
)

const (
	DefaultCheckTimeout = 5 * time.Second
	DefaultGateTimeout  = 30 * time.Second
)

// CheckSpec is one configured check inside a GatePolicy. Type selects a
// registered handler by exact name; when Type is empty the check falls
// back to evaluating Condition through internal/condition.
type CheckSpec struct {
	Name      string
	Type      string
	Params    map[string]any
	Condition *condition.Group
	Blocking  bool
	Timeout   time.Duration
}

// GatePolicy is an ordered list of checks plus an overall timeout and
// fail-fast switch.
type GatePolicy struct {
	ID       string
	Name     string
	Checks   []CheckSpec
	Timeout  time.Duration
	FailFast bool
}

// Context is the (agent_id, zone, input, output, metadata) the gate
// evaluates against.
type Context struct {
	AgentID    string
	Zone       string
	Input      string
	Output     string
	Metadata   map[string]any
	CostUSD    float64
	CostBudget float64
}

func (c Context) conditionContext() map[string]any {
	return map[string]any{
		"input":  c.Input,
		"output": c.Output,
		"agent":  map[string]any{"id": c.AgentID, "zone": c.Zone},
		"data":   c.Metadata,
	}
}

// CheckResult is one check's outcome.
type CheckResult struct {
	Name       string
	Status     Status
	Message    string
	Blocking   bool
	DurationMS int64
}

// Result is the whole gate's outcome.
type Result struct {
	Status           Status
	Checks           []CheckResult
	PassedCount      int
	FailedCount      int
	BlockingFailures []CheckResult
	DurationMS       int64
}
