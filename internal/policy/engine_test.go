/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package policy

import (
	"testing"
	"time"

	"github.com/opsruntime/agentcore/internal/condition"
)

func baseCtx(actor, resource, zone string) RequestContext {
	return RequestContext{Actor: actor, Resource: resource, Zone: zone, Action: "deploy", Timestamp: time.Now(), Environment: "prod"}
}

func TestGateBlockingCriticalFailureDenies(t *testing.T) {
	e := New(Config{})
	e.Register(&Policy{
		ID: "g1", Status: StatusActive, Priority: 10, Kind: KindGate,
		Gate: &Gate{Zones: []string{ZoneAll}, Checks: []Check{
			{Name: "no-pii", Condition: condition.Group{All: []condition.Expr{
				{Field: "actor", Operator: condition.OpEq, Value: "blocked-actor"},
			}}, Severity: "critical", Blocking: true},
		}},
	})

	res := e.Evaluate(baseCtx("blocked-actor", "r1", "red"))
	if res.OverallAction != ActionDeny {
		t.Fatalf("overall = %s, want deny", res.OverallAction)
	}
	if len(res.CriticalFailures) != 1 {
		t.Fatalf("got %d critical failures, want 1", len(res.CriticalFailures))
	}
}

func TestGateNonBlockingFailureWarns(t *testing.T) {
	e := New(Config{})
	e.Register(&Policy{
		ID: "g1", Status: StatusActive, Priority: 10, Kind: KindGate,
		Gate: &Gate{Zones: []string{ZoneAll}, Checks: []Check{
			{Name: "soft-check", Condition: condition.Group{All: []condition.Expr{
				{Field: "actor", Operator: condition.OpEq, Value: "somebody-else"},
			}}, Severity: "warning", Blocking: false},
		}},
	})

	res := e.Evaluate(baseCtx("actor-1", "r1", "green"))
	if res.OverallAction != ActionWarn {
		t.Fatalf("overall = %s, want warn", res.OverallAction)
	}
}

func TestGateZoneScoping(t *testing.T) {
	e := New(Config{})
	e.Register(&Policy{
		ID: "g1", Status: StatusActive, Priority: 10, Kind: KindGate,
		Gate: &Gate{Zones: []string{"red"}, Checks: []Check{
			{Name: "always-fails", Condition: condition.Group{All: []condition.Expr{
				{Field: "actor", Operator: condition.OpEq, Value: "nobody"},
			}}, Severity: "critical", Blocking: true},
		}},
	})

	greenResult := e.Evaluate(baseCtx("actor-1", "r1", "green"))
	if greenResult.OverallAction != ActionAllow {
		t.Fatalf("green-zone context should skip a red-only gate, got %s", greenResult.OverallAction)
	}

	redResult := e.Evaluate(baseCtx("actor-1", "r1", "red"))
	if redResult.OverallAction != ActionDeny {
		t.Fatalf("red-zone context should trigger the gate, got %s", redResult.OverallAction)
	}
}

func TestKillswitchLatchesAndStaysLatched(t *testing.T) {
	e := New(Config{})
	e.Register(&Policy{
		ID: "k1", Status: StatusActive, Priority: 100, Kind: KindKillswitch,
		Killswitch: &Killswitch{Triggers: []Trigger{
			{Name: "overload", Condition: condition.Group{All: []condition.Expr{
				{Field: "actor", Operator: condition.OpEq, Value: "trigger-me"},
			}}},
		}},
	})

	first := e.Evaluate(baseCtx("trigger-me", "r1", "green"))
	if first.OverallAction != ActionDeny {
		t.Fatalf("first eval = %s, want deny (trigger fired)", first.OverallAction)
	}

	// A subsequent evaluation with a context that would NOT match the
	// trigger must still deny, because the killswitch is latched.
	second := e.Evaluate(baseCtx("someone-else", "r1", "green"))
	if second.OverallAction != ActionDeny {
		t.Fatalf("second eval = %s, want deny (latch persists)", second.OverallAction)
	}

	if err := e.ResetKillswitch("k1"); err != nil {
		t.Fatalf("reset: %v", err)
	}
	third := e.Evaluate(baseCtx("someone-else", "r1", "green"))
	if third.OverallAction != ActionAllow {
		t.Fatalf("third eval after reset = %s, want allow", third.OverallAction)
	}
}

func TestRateLimitWindow(t *testing.T) {
	e := New(Config{})
	e.Register(&Policy{
		ID: "r1", Status: StatusActive, Priority: 1, Kind: KindRateLimit,
		RateLimit: &RateLimit{ResourceScope: "svc-1", Windows: []Window{{Duration: time.Minute, MaxRequests: 3}}},
	})

	const n, max = 5, 3
	allowed := 0
	for i := 0; i < n; i++ {
		res := e.Evaluate(baseCtx("actor-1", "svc-1", "green"))
		if res.OverallAction != ActionDeny {
			allowed++
		}
	}
	if allowed != max {
		t.Fatalf("allowed %d requests, want exactly %d", allowed, max)
	}
}

func TestRateLimitResetsAfterWindow(t *testing.T) {
	e := New(Config{})
	fixedNow := time.Unix(1000, 0)
	e.now = func() time.Time { return fixedNow }
	e.Register(&Policy{
		ID: "r1", Status: StatusActive, Priority: 1, Kind: KindRateLimit,
		RateLimit: &RateLimit{ResourceScope: "svc-1", Windows: []Window{{Duration: time.Minute, MaxRequests: 1}}},
	})

	first := e.Evaluate(baseCtx("actor-1", "svc-1", "green"))
	if first.OverallAction != ActionAllow {
		t.Fatalf("first request should be allowed, got %s", first.OverallAction)
	}
	second := e.Evaluate(baseCtx("actor-1", "svc-1", "green"))
	if second.OverallAction != ActionDeny {
		t.Fatalf("second request within window should be denied, got %s", second.OverallAction)
	}

	e.now = func() time.Time { return fixedNow.Add(2 * time.Minute) }
	third := e.Evaluate(baseCtx("actor-1", "svc-1", "green"))
	if third.OverallAction != ActionAllow {
		t.Fatalf("request after window elapsed should be allowed, got %s", third.OverallAction)
	}
}

func TestEvaluateIsDeterministicForIdenticalContexts(t *testing.T) {
	e := New(Config{CacheTTL: 0})
	e.Register(&Policy{ID: "p-low", Status: StatusActive, Priority: 1, Kind: KindGate, Gate: &Gate{Zones: []string{ZoneAll}}})
	e.Register(&Policy{ID: "p-high", Status: StatusActive, Priority: 10, Kind: KindGate, Gate: &Gate{Zones: []string{ZoneAll}}})

	ctx := baseCtx("actor-1", "r1", "green")
	first := e.Evaluate(ctx)
	second := e.Evaluate(ctx)

	if len(first.PerPolicy) != len(second.PerPolicy) {
		t.Fatalf("result shapes differ across runs")
	}
	for i := range first.PerPolicy {
		if first.PerPolicy[i].PolicyID != second.PerPolicy[i].PolicyID {
			t.Fatalf("policy order not stable: %s vs %s at index %d", first.PerPolicy[i].PolicyID, second.PerPolicy[i].PolicyID, i)
		}
	}
	if first.PerPolicy[0].PolicyID != "p-high" {
		t.Fatalf("expected higher-priority policy first, got %s", first.PerPolicy[0].PolicyID)
	}
}

func TestOnViolationFiresPerFailingResult(t *testing.T) {
	var fired []string
	e := New(Config{OnViolation: func(_ RequestContext, res PolicyResult) {
		fired = append(fired, res.PolicyID)
	}})
	e.Register(&Policy{
		ID: "g1", Status: StatusActive, Priority: 1, Kind: KindGate,
		Gate: &Gate{Zones: []string{ZoneAll}, Checks: []Check{
			{Name: "fails", Condition: condition.Group{All: []condition.Expr{
				{Field: "actor", Operator: condition.OpEq, Value: "nobody"},
			}}, Severity: "warning", Blocking: false},
		}},
	})

	e.Evaluate(baseCtx("actor-1", "r1", "green"))
	if len(fired) != 1 || fired[0] != "g1" {
		t.Fatalf("got %v, want [g1]", fired)
	}
}

func TestDisabledPolicyIsSkipped(t *testing.T) {
	e := New(Config{})
	e.Register(&Policy{
		ID: "g1", Status: StatusDisabled, Priority: 1, Kind: KindGate,
		Gate: &Gate{Zones: []string{ZoneAll}, Checks: []Check{
			{Name: "fails", Condition: condition.Group{All: []condition.Expr{
				{Field: "actor", Operator: condition.OpEq, Value: "nobody"},
			}}, Severity: "critical", Blocking: true},
		}},
	})

	res := e.Evaluate(baseCtx("actor-1", "r1", "green"))
	if res.OverallAction != ActionAllow {
		t.Fatalf("disabled policy should not be evaluated, got %s", res.OverallAction)
	}
}

func TestCatalogCRUDAndLoadInto(t *testing.T) {
	cat := NewCatalog()
	p := cat.Create(Policy{Name: "global-killswitch", Priority: 50, Kind: KindKillswitch, Killswitch: &Killswitch{}})
	if p.Version != 1 {
		t.Fatalf("new policy version = %d, want 1", p.Version)
	}

	updated, err := cat.Update(p.ID, func(pol *Policy) { pol.Priority = 75 })
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Version != 2 || updated.Priority != 75 {
		t.Fatalf("got version=%d priority=%d, want 2/75", updated.Version, updated.Priority)
	}

	e := New(Config{})
	cat.LoadInto(e)
	if _, ok := e.policies[p.ID]; !ok {
		t.Fatal("expected LoadInto to register the catalog policy into the engine")
	}

	if err := cat.Delete(p.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := cat.Get(p.ID); err != ErrPolicyNotFound {
		t.Fatalf("got %v, want ErrPolicyNotFound", err)
	}
}
