/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package approval

import (
	"testing"
	"time"
)

func newTestManager() *Manager {
	return New(DefaultConfig(), []byte("test-secret"))
}

func TestGreenZoneAutoApproves(t *testing.T) {
	m := newTestManager()
	req, err := m.Submit(SubmitOptions{Operation: "restart_service", Resource: "svc-1", Zone: ZoneGreen, Requester: "agent-1"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if req.Status != StatusApproved {
		t.Fatalf("status = %s, want approved", req.Status)
	}
	if req.Token == nil {
		t.Fatal("expected a token to be issued atomically with auto-approval")
	}
}

func TestYellowZoneRequiresDecision(t *testing.T) {
	m := newTestManager()
	req, err := m.Submit(SubmitOptions{Operation: "scale_down", Resource: "svc-1", Zone: ZoneYellow, Requester: "agent-1"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if req.Status != StatusPending {
		t.Fatalf("status = %s, want pending", req.Status)
	}
	if req.Token != nil {
		t.Fatal("expected no token before a reviewer decides")
	}
}

func TestApproveIssuesToken(t *testing.T) {
	m := newTestManager()
	req, _ := m.Submit(SubmitOptions{Operation: "deploy_production", Resource: "svc-1", Zone: ZoneRed, Requester: "agent-1"})

	approved, err := m.Approve(req.ID, "ops-1", "looks safe")
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if approved.Status != StatusApproved || approved.Token == nil {
		t.Fatalf("got status=%s token=%v, want approved with a token", approved.Status, approved.Token)
	}
}

func TestNonPendingCannotBeDecidedAgain(t *testing.T) {
	m := newTestManager()
	req, _ := m.Submit(SubmitOptions{Operation: "deploy_production", Resource: "svc-1", Zone: ZoneRed, Requester: "agent-1"})
	m.Approve(req.ID, "ops-1", "ok")

	if _, err := m.Approve(req.ID, "ops-2", "again"); err != ErrNotPending {
		t.Fatalf("got %v, want ErrNotPending", err)
	}
	if _, err := m.Reject(req.ID, "ops-2", "changed mind"); err != ErrNotPending {
		t.Fatalf("got %v, want ErrNotPending", err)
	}
}

func TestTokenSingleUse(t *testing.T) {
	m := newTestManager()
	req, _ := m.Submit(SubmitOptions{Operation: "deploy_production", Resource: "svc-1", Zone: ZoneGreen, Requester: "agent-1"})

	if err := m.ValidateToken(req.Token.Value, "deploy_production", "svc-1", true); err != nil {
		t.Fatalf("first validation: %v", err)
	}
	if err := m.ValidateToken(req.Token.Value, "deploy_production", "svc-1", true); err != ErrTokenUsed {
		t.Fatalf("got %v, want ErrTokenUsed on reuse", err)
	}
}

func TestTokenRejectsWrongOperationOrResource(t *testing.T) {
	m := newTestManager()
	req, _ := m.Submit(SubmitOptions{Operation: "deploy_production", Resource: "svc-1", Zone: ZoneGreen, Requester: "agent-1"})

	if err := m.ValidateToken(req.Token.Value, "delete_production", "svc-1", false); err != ErrOperationMismatch {
		t.Fatalf("got %v, want ErrOperationMismatch", err)
	}
	if err := m.ValidateToken(req.Token.Value, "deploy_production", "svc-2", false); err != ErrResourceMismatch {
		t.Fatalf("got %v, want ErrResourceMismatch", err)
	}
}

func TestTokenWildcardResourceMatchesAny(t *testing.T) {
	m := newTestManager()
	req, _ := m.Submit(SubmitOptions{Operation: "read_secret", Resource: "*", Zone: ZoneGreen, Requester: "agent-1"})

	if err := m.ValidateToken(req.Token.Value, "read_secret", "any-resource-at-all", true); err != nil {
		t.Fatalf("wildcard resource token should validate: %v", err)
	}
}

func TestTokenExpiry(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TokenTTL = time.Millisecond
	m := New(cfg, []byte("secret"))
	fixedNow := time.Unix(1000, 0)
	m.now = func() time.Time { return fixedNow }

	req, _ := m.Submit(SubmitOptions{Operation: "op", Resource: "r", Zone: ZoneGreen})

	m.now = func() time.Time { return fixedNow.Add(time.Second) }
	if err := m.ValidateToken(req.Token.Value, "op", "r", false); err != ErrTokenExpired {
		t.Fatalf("got %v, want ErrTokenExpired", err)
	}
}

func TestUnknownTokenIsInvalid(t *testing.T) {
	m := newTestManager()
	if err := m.ValidateToken("not-a-real-token", "op", "r", false); err != ErrTokenInvalid {
		t.Fatalf("got %v, want ErrTokenInvalid", err)
	}
}

func TestReaperExpiresPendingPastDeadline(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RequestTTL = time.Millisecond
	m := New(cfg, []byte("secret"))
	fixedNow := time.Unix(2000, 0)
	m.now = func() time.Time { return fixedNow }

	req, _ := m.Submit(SubmitOptions{Operation: "op", Resource: "r", Zone: ZoneYellow})

	m.now = func() time.Time { return fixedNow.Add(time.Second) }
	m.reapExpired()

	got, err := m.Get(req.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != StatusExpired {
		t.Fatalf("status = %s, want expired", got.Status)
	}
}

func TestPendingAndAllOrderedByCreation(t *testing.T) {
	m := newTestManager()
	m.Submit(SubmitOptions{Operation: "a", Resource: "r", Zone: ZoneYellow})
	m.Submit(SubmitOptions{Operation: "b", Resource: "r", Zone: ZoneYellow})

	pending := m.Pending()
	if len(pending) != 2 {
		t.Fatalf("got %d pending, want 2", len(pending))
	}
	if pending[0].Operation != "a" || pending[1].Operation != "b" {
		t.Fatalf("expected creation order a, b; got %s, %s", pending[0].Operation, pending[1].Operation)
	}
	if n := m.PendingCount(); n != 2 {
		t.Fatalf("PendingCount = %d, want 2", n)
	}
}
