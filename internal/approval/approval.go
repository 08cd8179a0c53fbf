/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

// Package approval issues and validates short-lived, single-use tokens
// gating side effects. Green-zone requests may be auto-approved; yellow
// and red zones require an external reviewer decision through Approve or
// Reject. A background reaper expires requests whose deadline has passed.
package approval

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/opsruntime/agentcore/internal/shared/signing"
)

// Zone is the risk tier a request was raised in.
type Zone string

const (
	ZoneGreen  Zone = "green"
	ZoneYellow Zone = "yellow"
	ZoneRed    Zone = "red"
)

// Status is a request's lifecycle state.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
	StatusExpired  Status = "expired"
	StatusUsed     Status = "used"
)

var (
	ErrNotFound        = errors.New("approval: request not found")
	ErrNotPending      = errors.New("approval: request is not pending")
	ErrTokenInvalid    = errors.New("approval: token invalid")
	ErrTokenUsed       = errors.New("approval: token already used")
	ErrTokenExpired    = errors.New("approval: token expired")
	ErrOperationMismatch = errors.New("approval: token operation does not match")
	ErrResourceMismatch  = errors.New("approval: token resource does not match")
)

// Request is a pending or resolved approval request.
type Request struct {
	ID            string
	Operation     string
	Resource      string
	Zone          Zone
	Requester     string
	Justification string
	Status        Status
	CreatedAt     time.Time
	ExpiresAt     time.Time
	Reviewer      string
	ReviewNotes   string
	DecidedAt     *time.Time
	Token         *Token
}

// Token gates the side effect an approved Request authorizes.
type Token struct {
	Value      string
	RequestID  string
	Operation  string
	Resource   string
	IssuedAt   time.Time
	ExpiresAt  time.Time
	SingleUse  bool
	Used       bool
	Checksum   string
}

type checksumPayload struct {
	RequestID string `json:"request_id"`
	Operation string `json:"operation"`
	Resource  string `json:"resource"`
	IssuedAt  string `json:"issued_at"`
}

// Config controls request/token lifetime and auto-approval.
type Config struct {
	RequestTTL      time.Duration
	TokenTTL        time.Duration
	AutoApproveZone Zone // requests in this zone (typically green) auto-approve
	ReapInterval    time.Duration
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		RequestTTL:      15 * time.Minute,
		TokenTTL:        5 * time.Minute,
		AutoApproveZone: ZoneGreen,
		ReapInterval:    30 * time.Second,
	}
}

// SubmitOptions describes a new request.
type SubmitOptions struct {
	Operation     string
	Resource      string
	Zone          Zone
	Requester     string
	Justification string
}

// Manager holds pending and resolved requests in memory.
type Manager struct {
	config Config
	signer *signing.Signer

	mu       sync.Mutex
	requests map[string]*Request

	now func() time.Time

	stopReaper chan struct{}
	reaperDone chan struct{}
}

// New constructs a Manager. secret is the HMAC key tokens are checksummed
// with; it must be stable across process restarts or outstanding tokens
// become unverifiable.
func New(cfg Config, secret []byte) *Manager {
	return &Manager{
		config:   cfg,
		signer:   signing.NewSigner(secret),
		requests: make(map[string]*Request),
		now:      time.Now,
	}
}

// Submit creates a new request. A request raised in config.AutoApproveZone
// is approved and issued a token atomically with creation.
func (m *Manager) Submit(opts SubmitOptions) (*Request, error) {
	now := m.now()
	req := &Request{
		ID:            uuid.NewString(),
		Operation:     opts.Operation,
		Resource:      opts.Resource,
		Zone:          opts.Zone,
		Requester:     opts.Requester,
		Justification: opts.Justification,
		Status:        StatusPending,
		CreatedAt:     now,
		ExpiresAt:     now.Add(m.config.RequestTTL),
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if opts.Zone == m.config.AutoApproveZone {
		tok, err := m.issueToken(req, now)
		if err != nil {
			return nil, err
		}
		req.Status = StatusApproved
		req.Reviewer = "auto"
		req.DecidedAt = &now
		req.Token = tok
	}

	m.requests[req.ID] = req
	cp := *req
	return &cp, nil
}

// Approve transitions a pending request to approved and issues a token.
func (m *Manager) Approve(id, reviewer, notes string) (*Request, error) {
	return m.decide(id, StatusApproved, reviewer, notes, true)
}

// Reject transitions a pending request to rejected. No token is issued.
func (m *Manager) Reject(id, reviewer, notes string) (*Request, error) {
	return m.decide(id, StatusRejected, reviewer, notes, false)
}

func (m *Manager) decide(id string, status Status, reviewer, notes string, issueToken bool) (*Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	req, ok := m.requests[id]
	if !ok {
		return nil, ErrNotFound
	}
	if req.Status != StatusPending {
		return nil, ErrNotPending
	}

	now := m.now()
	req.Status = status
	req.Reviewer = reviewer
	req.ReviewNotes = notes
	req.DecidedAt = &now

	if issueToken {
		tok, err := m.issueToken(req, now)
		if err != nil {
			return nil, err
		}
		req.Token = tok
	}

	cp := *req
	return &cp, nil
}

func (m *Manager) issueToken(req *Request, now time.Time) (*Token, error) {
	value, err := randomToken()
	if err != nil {
		return nil, fmt.Errorf("approval: generate token: %w", err)
	}
	issuedAt := now
	checksum, err := m.signer.Sign(value, checksumPayload{
		RequestID: req.ID,
		Operation: req.Operation,
		Resource:  req.Resource,
		IssuedAt:  issuedAt.Format(time.RFC3339Nano),
	})
	if err != nil {
		return nil, fmt.Errorf("approval: checksum token: %w", err)
	}
	return &Token{
		Value:     value,
		RequestID: req.ID,
		Operation: req.Operation,
		Resource:  req.Resource,
		IssuedAt:  issuedAt,
		ExpiresAt: issuedAt.Add(m.config.TokenTTL),
		SingleUse: true,
		Checksum:  checksum,
	}, nil
}

// Get returns a request by id.
func (m *Manager) Get(id string) (*Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	req, ok := m.requests[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *req
	return &cp, nil
}

// Pending returns every request currently pending, oldest first.
func (m *Manager) Pending() []Request {
	return m.filter(func(r *Request) bool { return r.Status == StatusPending })
}

// All returns every request, oldest first.
func (m *Manager) All() []Request {
	return m.filter(func(*Request) bool { return true })
}

func (m *Manager) filter(pred func(*Request) bool) []Request {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Request
	for _, r := range m.requests {
		if pred(r) {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// PendingCount returns the number of currently pending requests.
func (m *Manager) PendingCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, r := range m.requests {
		if r.Status == StatusPending {
			n++
		}
	}
	return n
}

// ValidateToken checks token against operation/resource and, if consume is
// true, marks it used and advances the bound request to used. A token
// bound to resource "*" matches any requested resource.
func (m *Manager) ValidateToken(tokenValue, operation, resource string, consume bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var req *Request
	for _, r := range m.requests {
		if r.Token != nil && r.Token.Value == tokenValue {
			req = r
			break
		}
	}
	if req == nil || req.Token == nil {
		return ErrTokenInvalid
	}
	tok := req.Token

	if tok.Used {
		return ErrTokenUsed
	}
	if m.now().After(tok.ExpiresAt) {
		return ErrTokenExpired
	}
	if tok.Operation != operation {
		return ErrOperationMismatch
	}
	if tok.Resource != resource && tok.Resource != "*" {
		return ErrResourceMismatch
	}

	expected, err := m.signer.Sign(tok.Value, checksumPayload{
		RequestID: tok.RequestID,
		Operation: tok.Operation,
		Resource:  tok.Resource,
		IssuedAt:  tok.IssuedAt.Format(time.RFC3339Nano),
	})
	if err != nil || expected != tok.Checksum {
		return ErrTokenInvalid
	}

	if consume {
		tok.Used = true
		req.Status = StatusUsed
	}
	return nil
}

// WaitForDecision polls until req transitions out of pending, or timeout
// elapses. It is a fallback for callers without an event-driven path to
// the reviewer's decision.
func (m *Manager) WaitForDecision(id string, pollInterval, timeout time.Duration) (*Request, error) {
	deadline := m.now().Add(timeout)
	for {
		req, err := m.Get(id)
		if err != nil {
			return nil, err
		}
		if req.Status != StatusPending {
			return req, nil
		}
		if m.now().After(deadline) {
			return req, fmt.Errorf("approval: timed out waiting for decision on %s", id)
		}
		time.Sleep(pollInterval)
	}
}

// StartReaper launches a background goroutine that expires pending
// requests past their deadline every config.ReapInterval. Call Stop to
// terminate it.
func (m *Manager) StartReaper() {
	m.stopReaper = make(chan struct{})
	m.reaperDone = make(chan struct{})
	go func() {
		defer close(m.reaperDone)
		ticker := time.NewTicker(m.config.ReapInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.reapExpired()
			case <-m.stopReaper:
				return
			}
		}
	}()
}

// Stop halts the reaper started by StartReaper, blocking until it exits.
func (m *Manager) Stop() {
	if m.stopReaper == nil {
		return
	}
	close(m.stopReaper)
	<-m.reaperDone
}

func (m *Manager) reapExpired() {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	for _, r := range m.requests {
		if r.Status == StatusPending && now.After(r.ExpiresAt) {
			r.Status = StatusExpired
		}
	}
}

func randomToken() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
