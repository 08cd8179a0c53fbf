/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

// Package compliance runs named regulatory gates (TCPA, CTIA, GDPR, SOC2,
// HIPAA, ...) against a run's action context, fail-closed: a gate that
// errors or panics is treated as a critical violation rather than silently
// passing.
package compliance

import (
	"time"

	"github.com/opsruntime/agentcore/internal/condition"
)

// Regulation tags a gate to the regime it enforces.
type Regulation string

const (
	RegTCPA  Regulation = "TCPA"
	RegCTIA  Regulation = "CTIA"
	RegGDPR  Regulation = "GDPR"
	RegSOC2  Regulation = "SOC2"
	RegHIPAA Regulation = "HIPAA"
)

// Severity of a gate violation.
type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Context is the run action being checked for compliance. Timezone is the
// recipient's IANA zone name, used by the TCPA/CTIA local-time gates to
// convert Timestamp into a local hour; contexts that omit it skip those
// gates rather than guessing a zone.
type Context struct {
	Actor       string
	Action      string
	Resource    string
	Recipient   string
	Channel     string // e.g. sms, voice, email
	ConsentOn   bool
	Timezone    string
	DataSubject string // present when the action touches personal data
	Timestamp   time.Time
	Data        map[string]any
}

func (c Context) conditionContext() map[string]any {
	m := map[string]any{
		"actor":      c.Actor,
		"action":     c.Action,
		"resource":   c.Resource,
		"recipient":  c.Recipient,
		"channel":    c.Channel,
		"consent_on": c.ConsentOn,
		"timezone":   c.Timezone,
		"data":       c.Data,
	}
	// data_subject is only present when set, so `exists` conditions on it
	// do not fire for actions that touch no personal data.
	if c.DataSubject != "" {
		m["data_subject"] = c.DataSubject
	}
	return m
}

// Violation is one gate's failure. Code is a short rule reference (e.g.
// "TCPA-001") callers can match on without parsing Message.
type Violation struct {
	GateName   string
	Regulation Regulation
	Severity   Severity
	Code       string
	Message    string
}

// Result is the outcome of running every applicable gate.
type Result struct {
	Compliant  bool
	Violations []Violation
	Evaluated  int
}

// GateSpec is a condition-driven gate: it fires a Violation when Condition
// evaluates true (i.e. the condition describes the non-compliant state).
type GateSpec struct {
	Name       string
	Regulation Regulation
	Severity   Severity
	Priority   int
	Code       string
	Condition  condition.Group
	Message    string
}

// GateFunc is a custom gate implementation for checks a condition group
// can't express (e.g. SOC2's anomaly-frequency heuristic).
type GateFunc func(ctx Context) (*Violation, error)

// Gate is either condition-driven (Spec set) or custom (Func set).
type Gate struct {
	Spec *GateSpec
	Func GateFunc
	name string
	reg  Regulation
	prio int
}

func (g *Gate) Name() string {
	if g.Spec != nil {
		return g.Spec.Name
	}
	return g.name
}

func (g *Gate) Regulation() Regulation {
	if g.Spec != nil {
		return g.Spec.Regulation
	}
	return g.reg
}

func (g *Gate) Priority() int {
	if g.Spec != nil {
		return g.Spec.Priority
	}
	return g.prio
}
