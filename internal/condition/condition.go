/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

// Package condition implements the single condition-operator vocabulary
// shared by the policy engine's gate conditions and the step graph's
// conditional-node branches, so both evaluate "eq/neq/gt/lt/gte/lte/
// contains/exists/matches" identically against an arbitrary context map.
package condition

import (
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"sync"
)

// Operator is one of the supported comparison operators.
type Operator string

const (
	OpEq       Operator = "eq"
	OpNeq      Operator = "neq"
	OpGt       Operator = "gt"
	OpLt       Operator = "lt"
	OpGte      Operator = "gte"
	OpLte      Operator = "lte"
	OpContains Operator = "contains"
	OpExists   Operator = "exists"
	OpMatches  Operator = "matches"
)

// Expr is a single condition expression: ctx[Field] <Operator> Value.
type Expr struct {
	Field    string   `json:"field" yaml:"field"`
	Operator Operator `json:"operator" yaml:"operator"`
	Value    any      `json:"value,omitempty" yaml:"value,omitempty"`
}

// Group combines expressions with AND/OR semantics. When All, Any and Not
// are set together, the group matches only if all of them hold.
type Group struct {
	All []Expr `json:"all,omitempty" yaml:"all,omitempty"`
	Any []Expr `json:"any,omitempty" yaml:"any,omitempty"`
	Not *Group `json:"not,omitempty" yaml:"not,omitempty"`
}

var regexCache = struct {
	sync.Mutex
	m map[string]*regexp.Regexp
}{m: make(map[string]*regexp.Regexp)}

func compileRegex(pattern string) (*regexp.Regexp, error) {
	regexCache.Lock()
	defer regexCache.Unlock()
	if re, ok := regexCache.m[pattern]; ok {
		return re, nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	regexCache.m[pattern] = re
	return re, nil
}

// Eval evaluates a single expression against ctx. A missing field is treated
// as nil, which satisfies only `exists` (negated) and `neq`.
func Eval(e Expr, ctx map[string]any) (bool, error) {
	actual, present := lookup(e.Field, ctx)

	switch e.Operator {
	case OpExists:
		want := true
		if b, ok := e.Value.(bool); ok {
			want = b
		}
		return present == want, nil
	case OpEq:
		return present && equalValues(actual, e.Value), nil
	case OpNeq:
		return !present || !equalValues(actual, e.Value), nil
	case OpContains:
		return contains(actual, e.Value), nil
	case OpMatches:
		pattern, ok := e.Value.(string)
		if !ok {
			return false, fmt.Errorf("condition: matches operator requires a string pattern, got %T", e.Value)
		}
		re, err := compileRegex(pattern)
		if err != nil {
			return false, fmt.Errorf("condition: compile pattern %q: %w", pattern, err)
		}
		s, ok := actual.(string)
		if !ok {
			return false, nil
		}
		return re.MatchString(s), nil
	case OpGt, OpLt, OpGte, OpLte:
		return compareNumeric(e.Operator, actual, e.Value)
	default:
		return false, fmt.Errorf("condition: unknown operator %q", e.Operator)
	}
}

// EvalGroup evaluates a Group against ctx, short-circuiting All/Any.
func EvalGroup(g Group, ctx map[string]any) (bool, error) {
	result := true

	if len(g.All) > 0 {
		for _, e := range g.All {
			ok, err := Eval(e, ctx)
			if err != nil {
				return false, err
			}
			if !ok {
				result = false
				break
			}
		}
	}

	if result && len(g.Any) > 0 {
		any := false
		for _, e := range g.Any {
			ok, err := Eval(e, ctx)
			if err != nil {
				return false, err
			}
			if ok {
				any = true
				break
			}
		}
		result = any
	}

	if result && g.Not != nil {
		inner, err := EvalGroup(*g.Not, ctx)
		if err != nil {
			return false, err
		}
		result = !inner
	}

	return result, nil
}

// lookup resolves a dotted field path ("request.amount") against a nested
// map[string]any context. Returns (nil, false) if any segment is missing.
func lookup(field string, ctx map[string]any) (any, bool) {
	segments := strings.Split(field, ".")
	var cur any = ctx
	for _, seg := range segments {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		v, ok := m[seg]
		if !ok {
			return nil, false
		}
		cur = v
	}
	return cur, true
}

func equalValues(a, b any) bool {
	if a == nil || b == nil {
		return a == b
	}
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if aok && bok {
		return af == bf
	}
	return reflect.DeepEqual(a, b)
}

func contains(haystack, needle any) bool {
	switch h := haystack.(type) {
	case string:
		n, ok := needle.(string)
		return ok && strings.Contains(h, n)
	case []any:
		for _, item := range h {
			if equalValues(item, needle) {
				return true
			}
		}
		return false
	case []string:
		n, ok := needle.(string)
		if !ok {
			return false
		}
		for _, item := range h {
			if item == n {
				return true
			}
		}
		return false
	default:
		return false
	}
}

func compareNumeric(op Operator, actual, want any) (bool, error) {
	af, aok := toFloat(actual)
	bf, bok := toFloat(want)
	if !aok || !bok {
		return false, fmt.Errorf("condition: %s operator requires numeric operands, got %T and %T", op, actual, want)
	}
	switch op {
	case OpGt:
		return af > bf, nil
	case OpLt:
		return af < bf, nil
	case OpGte:
		return af >= bf, nil
	case OpLte:
		return af <= bf, nil
	}
	return false, fmt.Errorf("condition: %s is not a numeric operator", op)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint64:
		return float64(n), true
	default:
		return 0, false
	}
}
