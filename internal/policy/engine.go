/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package policy

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/opsruntime/agentcore/internal/condition"
)

// OnViolation is invoked once per failing PolicyResult, after the decision
// is known and before Evaluate returns.
type OnViolation func(ctx RequestContext, result PolicyResult)

// Config controls cache TTL and the violation callback.
type Config struct {
	CacheTTL    time.Duration
	OnViolation OnViolation
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{CacheTTL: 5 * time.Second}
}

type cacheKey struct {
	policyID string
	actor    string
	resource string
	zone     string
}

type cacheEntry struct {
	result    PolicyResult
	expiresAt time.Time
}

// Engine evaluates the registered policies against request contexts.
// Killswitch latches and rate-limit counters are guarded by engine-wide
// mutexes (one for policies and latches, one for all rate buckets), so
// concurrent evaluators never race on the same (policy, actor/resource)
// bucket.
type Engine struct {
	config Config

	mu       sync.Mutex
	policies map[string]*Policy

	rateMu  sync.Mutex
	buckets map[rateKey]*rateBucket

	cacheMu sync.Mutex
	cache   map[cacheKey]cacheEntry

	now func() time.Time
}

// New constructs an Engine with no registered policies.
func New(cfg Config) *Engine {
	return &Engine{
		config:   cfg,
		policies: make(map[string]*Policy),
		buckets:  make(map[rateKey]*rateBucket),
		cache:    make(map[cacheKey]cacheEntry),
		now:      time.Now,
	}
}

// Register adds or replaces a policy.
func (e *Engine) Register(p *Policy) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.policies[p.ID] = p
}

// Unregister removes a policy by id.
func (e *Engine) Unregister(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.policies, id)
}

// ResetKillswitch clears a killswitch's latch, e.g. after the triggering
// condition has been remediated.
func (e *Engine) ResetKillswitch(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, ok := e.policies[id]
	if !ok || p.Kind != KindKillswitch {
		return fmt.Errorf("policy: %s is not a registered killswitch", id)
	}
	p.latched = false
	return nil
}

// Evaluate runs every applicable, active policy against ctx in descending
// priority order (ties broken by id) and composes the overall verdict.
func (e *Engine) Evaluate(ctx RequestContext) EvaluationResult {
	start := e.now()

	applicable := e.applicablePolicies(ctx)
	sort.Slice(applicable, func(i, j int) bool {
		if applicable[i].Priority != applicable[j].Priority {
			return applicable[i].Priority > applicable[j].Priority
		}
		return applicable[i].ID < applicable[j].ID
	})

	results := make([]PolicyResult, 0, len(applicable))
	var critical []PolicyResult
	anyFailed := false

	for _, p := range applicable {
		res := e.evaluateOne(p, ctx)
		results = append(results, res)
		if !res.Passed {
			anyFailed = true
			if e.config.OnViolation != nil {
				e.config.OnViolation(ctx, res)
			}
		}
		if res.CriticalFailure {
			critical = append(critical, res)
		}
	}

	overall := ActionAllow
	if len(critical) > 0 {
		overall = ActionDeny
	} else if anyFailed {
		overall = ActionWarn
	}

	return EvaluationResult{
		OverallAction:    overall,
		PerPolicy:        results,
		CriticalFailures: critical,
		TotalDurationMS:  e.now().Sub(start).Milliseconds(),
	}
}

func (e *Engine) applicablePolicies(ctx RequestContext) []*Policy {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]*Policy, 0, len(e.policies))
	for _, p := range e.policies {
		if p.Status != StatusActive {
			continue
		}
		switch p.Kind {
		case KindGate:
			if p.Gate.appliesTo(ctx.Zone) {
				out = append(out, p)
			}
		case KindKillswitch:
			if p.Killswitch.appliesTo(ctx.Resource) {
				out = append(out, p)
			}
		case KindRateLimit:
			out = append(out, p)
		}
	}
	return out
}

func (e *Engine) evaluateOne(p *Policy, ctx RequestContext) PolicyResult {
	key := cacheKey{policyID: p.ID, actor: ctx.Actor, resource: ctx.Resource, zone: ctx.Zone}
	if e.config.CacheTTL > 0 {
		if cached, ok := e.lookupCache(key); ok {
			cached.Cached = true
			return cached
		}
	}

	start := e.now()
	var res PolicyResult
	switch p.Kind {
	case KindGate:
		res = e.evaluateGate(p, ctx)
	case KindKillswitch:
		res = e.evaluateKillswitch(p, ctx)
	case KindRateLimit:
		res = e.evaluateRateLimit(p, ctx)
	}
	res.PolicyID = p.ID
	res.PolicyName = p.Name
	res.Kind = p.Kind
	res.DurationMS = e.now().Sub(start).Milliseconds()

	// Only positive (passing) results are cached: a denying decision must
	// always be re-evaluated fresh.
	if e.config.CacheTTL > 0 && res.Passed {
		e.storeCache(key, res)
	}
	return res
}

func (e *Engine) lookupCache(key cacheKey) (PolicyResult, bool) {
	e.cacheMu.Lock()
	defer e.cacheMu.Unlock()
	entry, ok := e.cache[key]
	if !ok || e.now().After(entry.expiresAt) {
		return PolicyResult{}, false
	}
	return entry.result, true
}

func (e *Engine) storeCache(key cacheKey, res PolicyResult) {
	e.cacheMu.Lock()
	defer e.cacheMu.Unlock()
	e.cache[key] = cacheEntry{result: res, expiresAt: e.now().Add(e.config.CacheTTL)}
}

func (e *Engine) evaluateGate(p *Policy, ctx RequestContext) PolicyResult {
	cctx := ctx.conditionContext()
	checks := make([]CheckResult, 0, len(p.Gate.Checks))
	passed := true
	critical := false

	for _, c := range p.Gate.Checks {
		ok, err := condition.EvalGroup(c.Condition, cctx)
		reason := ""
		if err != nil {
			ok = false
			reason = err.Error()
		}
		cr := CheckResult{Name: c.Name, Passed: ok, Severity: c.Severity, Blocking: c.Blocking, Reason: reason}
		checks = append(checks, cr)
		if !ok {
			passed = false
			if c.Blocking && (c.Severity == "critical" || c.Severity == "error") {
				critical = true
				break // stop at the first blocking+critical failure
			}
		}
	}

	action := ActionAllow
	if critical {
		action = ActionDeny
	} else if !passed {
		action = ActionWarn
	}
	return PolicyResult{Passed: passed, Action: action, CriticalFailure: critical, Checks: checks}
}

func (e *Engine) evaluateKillswitch(p *Policy, ctx RequestContext) PolicyResult {
	e.mu.Lock()
	alreadyLatched := p.latched
	e.mu.Unlock()

	if alreadyLatched {
		return PolicyResult{Passed: false, Action: ActionDeny, CriticalFailure: true,
			Checks: []CheckResult{{Name: "latched", Passed: false, Severity: "critical", Blocking: true, Reason: "killswitch already latched"}}}
	}

	cctx := ctx.conditionContext()
	for _, trig := range p.Killswitch.Triggers {
		ok, err := condition.EvalGroup(trig.Condition, cctx)
		if err == nil && ok {
			e.mu.Lock()
			p.latched = true
			e.mu.Unlock()
			return PolicyResult{Passed: false, Action: ActionDeny, CriticalFailure: true,
				Checks: []CheckResult{{Name: trig.Name, Passed: false, Severity: "critical", Blocking: true, Reason: "trigger matched, killswitch latched"}}}
		}
	}
	return PolicyResult{Passed: true, Action: ActionAllow}
}

func (e *Engine) evaluateRateLimit(p *Policy, ctx RequestContext) PolicyResult {
	for _, w := range p.RateLimit.Windows {
		allowed, retryAfter := e.checkWindow(p.ID, ctx.Resource, ctx.Actor, w)
		if !allowed {
			return PolicyResult{
				Passed: false, Action: ActionDeny, CriticalFailure: true,
				RetryAfter: retryAfter,
				Checks: []CheckResult{{
					Name: fmt.Sprintf("window_%s", w.Duration), Passed: false,
					Severity: "warning", Blocking: true,
					Reason: fmt.Sprintf("rate limit exceeded: max %d per %s", w.MaxRequests, w.Duration),
				}},
			}
		}
	}
	return PolicyResult{Passed: true, Action: ActionAllow}
}
