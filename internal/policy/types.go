/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

// Package policy implements the policy engine: a priority-ordered,
// zone-scoped evaluation pipeline over three policy kinds (gate,
// killswitch, rate limit) sharing the condition-operator vocabulary from
// internal/condition.
package policy

import (
	"time"

	"github.com/opsruntime/agentcore/internal/condition"
)

// Kind identifies which of the three policy shapes a Policy carries.
type Kind string

const (
	KindGate       Kind = "gate"
	KindKillswitch Kind = "killswitch"
	KindRateLimit  Kind = "rate_limit"
)

// Status is a policy's administrative state, independent of a killswitch's
// runtime latch.
type Status string

const (
	StatusActive   Status = "active"
	StatusDisabled Status = "disabled"
)

// Action is the verdict a single policy, or the engine overall, renders.
type Action string

const (
	ActionAllow Action = "allow"
	ActionWarn  Action = "warn"
	ActionDeny  Action = "deny"
)

// ZoneAll matches a Gate against every zone.
const ZoneAll = "all"

// Check is a single named condition inside a Gate.
type Check struct {
	Name      string
	Condition condition.Group
	Severity  string // "critical", "error", "warning"
	Blocking  bool
}

// Gate evaluates a list of checks against a request context, scoped to one
// or more zones (or ZoneAll).
type Gate struct {
	Zones  []string
	Checks []Check
}

func (g *Gate) appliesTo(zone string) bool {
	for _, z := range g.Zones {
		if z == ZoneAll || z == zone {
			return true
		}
	}
	return false
}

// Trigger is a single named condition that can latch a Killswitch.
type Trigger struct {
	Name      string
	Condition condition.Group
}

// Killswitch latches once any trigger matches and stays latched until
// explicitly Reset.
type Killswitch struct {
	Target   string // resource/action target this killswitch guards, or "" for unset (matches anything)
	Triggers []Trigger
}

func (k *Killswitch) appliesTo(resource string) bool {
	return k.Target == "" || k.Target == resource
}

// Window is one (duration, max-requests) rate-limit bucket.
type Window struct {
	Duration    time.Duration
	MaxRequests int
}

// RateLimit evaluates a set of fixed windows scoped by (resource, actor).
type RateLimit struct {
	ResourceScope string
	Windows       []Window
}

// Policy is one of Gate, Killswitch, or RateLimit, tagged by Kind, plus the
// shared metadata every policy carries.
type Policy struct {
	ID        string
	Name      string
	Version   int
	Status    Status
	Priority  int
	CreatedAt time.Time
	UpdatedAt time.Time

	Kind       Kind
	Gate       *Gate
	Killswitch *Killswitch
	RateLimit  *RateLimit

	latched bool // killswitch runtime state; meaningless for other kinds
}

// RequestContext is the evaluation input.
type RequestContext struct {
	Actor       string
	Action      string
	Resource    string
	Zone        string
	Timestamp   time.Time
	Environment string
	Data        map[string]any
}

// conditionContext flattens RequestContext into the nested map condition.Eval expects.
func (c RequestContext) conditionContext() map[string]any {
	return map[string]any{
		"request": map[string]any{
			"actor":       c.Actor,
			"action":      c.Action,
			"resource":    c.Resource,
			"zone":        c.Zone,
			"environment": c.Environment,
		},
		"actor":       c.Actor,
		"environment": c.Environment,
		"data":        c.Data,
	}
}

// CheckResult is a single check's outcome within a PolicyResult.
type CheckResult struct {
	Name     string
	Passed   bool
	Severity string
	Blocking bool
	Reason   string
}

// PolicyResult is one policy's evaluation outcome.
type PolicyResult struct {
	PolicyID        string
	PolicyName      string
	Kind            Kind
	Passed          bool
	Action          Action
	CriticalFailure bool
	Checks          []CheckResult
	DurationMS      int64
	Cached          bool
	RetryAfter      time.Duration // set for a denying rate-limit result
}

// EvaluationResult is the engine's overall verdict for one Evaluate call.
type EvaluationResult struct {
	OverallAction    Action
	PerPolicy        []PolicyResult
	CriticalFailures []PolicyResult
	TotalDurationMS  int64
}
