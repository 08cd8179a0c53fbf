/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

// Package orchestrator ties the state store, idempotency ledger, approval
// manager, policy engine, quality-gate executor, and task router into the
// run lifecycle: createRun, startRun, per-step execution, tool dispatch,
// completion gating, and failure/cancellation.
package orchestrator

import (
	"errors"
	"time"

	"github.com/opsruntime/agentcore/internal/router"
)

// Phase is a run's lifecycle state.
type Phase string

const (
	PhasePending   Phase = "pending"
	PhaseRunning   Phase = "running"
	PhasePaused    Phase = "paused"
	PhaseCompleted Phase = "completed"
	PhaseFailed    Phase = "failed"
	PhaseCancelled Phase = "cancelled"
)

// ErrorKind names the typed error categories the core surfaces, per the
// run's error-handling contract.
type ErrorKind string

const (
	ErrKindValidation       ErrorKind = "validation"
	ErrKindPolicyDenied     ErrorKind = "policy_denied"
	ErrKindApprovalRequired ErrorKind = "approval_required"
	ErrKindConflict         ErrorKind = "conflict"
	ErrKindLock             ErrorKind = "lock"
	ErrKindTimeout          ErrorKind = "timeout"
	ErrKindCancellation     ErrorKind = "cancellation"
	ErrKindResourceLimit    ErrorKind = "resource_limit"
	ErrKindGateFailed       ErrorKind = "gate_failed"
	ErrKindVerification     ErrorKind = "verification_failed"
	ErrKindStorage          ErrorKind = "storage"
	ErrKindIntegrity        ErrorKind = "integrity"
)

// RunError is a typed, user-facing terminal error.
type RunError struct {
	Kind    ErrorKind
	Message string
}

func (e *RunError) Error() string { return string(e.Kind) + ": " + e.Message }

func newRunError(kind ErrorKind, msg string) *RunError {
	return &RunError{Kind: kind, Message: msg}
}

var (
	ErrRunNotFound  = errors.New("orchestrator: run not found")
	ErrNotRunning   = errors.New("orchestrator: run is not in a runnable state")
	ErrAlreadyTerminal = errors.New("orchestrator: run has already reached a terminal state")
)

// Message is one entry in a run's conversation transcript.
type Message struct {
	Role      string
	Content   string
	Timestamp time.Time
}

// Caps bound a run's resource consumption; exceeding any aborts the run as
// internal backpressure rather than queuing.
type Caps struct {
	MaxTokens    int64
	MaxCostUSD   float64
	MaxToolCalls int
}

// DefaultCaps mirrors the teacher's default token/iteration budgets,
// generalized to the execution core's token/cost/tool-call caps.
func DefaultCaps() Caps {
	return Caps{MaxTokens: 50_000, MaxCostUSD: 5.0, MaxToolCalls: 50}
}

// Usage accumulates what a run has consumed against its Caps.
type Usage struct {
	TokensIn     int64
	TokensOut    int64
	CostUSD      float64
	ToolCalls    int
	StepCount    int
}

// Run is one orchestrated execution of a task against an agent.
type Run struct {
	ID          string
	AgentID     string
	TaskClass   string
	Mode        string
	Zone        string
	Environment string
	Phase       Phase
	Input       map[string]any
	State       map[string]any
	Previous    map[string]map[string]any
	Messages    []Message
	CurrentStep string
	Routing     router.Routing
	Caps        Caps
	Usage       Usage
	Error       *RunError
	CreatedAt   time.Time
	StartedAt   *time.Time
	EndedAt     *time.Time
}

// CreateOptions parameterize createRun.
type CreateOptions struct {
	AgentID     string
	TaskClass   string
	Mode        string
	Zone        string
	Environment string
	Input       map[string]any
	Caps        *Caps

	// IdempotencyKey, when set, dedupes CreateRun through the configured
	// idempotency.Ledger: a repeat call with the same key replays the
	// cached run instead of creating a second one.
	IdempotencyKey string
}

// RetentionConfig bounds how long terminal runs are kept in memory and in
// the state store before Cleanup evicts them.
type RetentionConfig struct {
	TerminalRetention time.Duration
}

// DefaultRetentionConfig keeps terminal runs for 24h.
func DefaultRetentionConfig() RetentionConfig {
	return RetentionConfig{TerminalRetention: 24 * time.Hour}
}
