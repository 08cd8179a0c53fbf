/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package compliance

import (
	"fmt"
	"sort"
	"sync"

	"github.com/opsruntime/agentcore/internal/condition"
)

// Registry holds named compliance gates and evaluates them fail-closed,
// highest priority first.
type Registry struct {
	mu    sync.Mutex
	gates []*Gate
}

// NewRegistry returns an empty registry. Use RegisterBuiltins to seed it
// with the built-in TCPA/CTIA/GDPR/HIPAA/SOC2 gates.
func NewRegistry() *Registry {
	return &Registry{}
}

// RegisterSpec adds a condition-driven gate.
func (r *Registry) RegisterSpec(spec GateSpec) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gates = append(r.gates, &Gate{Spec: &spec})
}

// RegisterFunc adds a custom gate, e.g. one needing external state.
func (r *Registry) RegisterFunc(name string, reg Regulation, priority int, fn GateFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gates = append(r.gates, &Gate{Func: fn, name: name, reg: reg, prio: priority})
}

// CheckAll evaluates every gate applicable to regulations (all gates when
// regulations is empty), in descending priority order. A gate that errors
// is itself reported as a critical "GATE-ERROR" violation: compliance
// checking fails closed, never open.
func (r *Registry) CheckAll(ctx Context, regulations ...Regulation) (result Result) {
	r.mu.Lock()
	gates := make([]*Gate, len(r.gates))
	copy(gates, r.gates)
	r.mu.Unlock()

	sort.SliceStable(gates, func(i, j int) bool {
		return gates[i].Priority() > gates[j].Priority()
	})

	want := map[Regulation]bool{}
	for _, reg := range regulations {
		want[reg] = true
	}

	result.Compliant = true
	for _, g := range gates {
		if len(want) > 0 && !want[g.Regulation()] {
			continue
		}
		result.Evaluated++

		v, err := r.runGate(g, ctx)
		if err != nil {
			result.Compliant = false
			result.Violations = append(result.Violations, Violation{
				GateName:   g.Name(),
				Regulation: g.Regulation(),
				Severity:   SeverityCritical,
				Code:       "GATE-ERROR",
				Message:    fmt.Sprintf("GATE-ERROR: gate %q failed closed: %v", g.Name(), err),
			})
			continue
		}
		if v != nil {
			result.Compliant = false
			result.Violations = append(result.Violations, *v)
		}
	}

	return result
}

// runGate invokes a gate, recovering a panic into an error so one broken
// gate cannot crash the whole compliance check (and a recovered panic
// still counts as fail-closed, via the GATE-ERROR violation above).
func (r *Registry) runGate(g *Gate, ctx Context) (v *Violation, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()

	if g.Func != nil {
		return g.Func(ctx)
	}

	spec := g.Spec
	matched, evalErr := condition.EvalGroup(spec.Condition, ctx.conditionContext())
	if evalErr != nil {
		return nil, evalErr
	}
	if !matched {
		return nil, nil
	}
	msg := spec.Message
	if msg == "" {
		msg = fmt.Sprintf("gate %q matched its violation condition", spec.Name)
	}
	return &Violation{GateName: spec.Name, Regulation: spec.Regulation, Severity: spec.Severity, Code: spec.Code, Message: msg}, nil
}
