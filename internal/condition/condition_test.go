/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package condition

import "testing"

func ctx() map[string]any {
	return map[string]any{
		"request": map[string]any{
			"amount": 150.0,
			"region": "us-east",
			"tags":   []any{"urgent", "retry"},
		},
	}
}

func TestEvalEq(t *testing.T) {
	ok, err := Eval(Expr{Field: "request.region", Operator: OpEq, Value: "us-east"}, ctx())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Fatal("expected eq to match")
	}
}

func TestEvalNeqMissingField(t *testing.T) {
	ok, err := Eval(Expr{Field: "request.missing", Operator: OpNeq, Value: "x"}, ctx())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Fatal("neq against a missing field should be true")
	}
}

func TestEvalNumericComparisons(t *testing.T) {
	cases := []struct {
		op   Operator
		val  any
		want bool
	}{
		{OpGt, 100.0, true},
		{OpGt, 200.0, false},
		{OpLt, 200.0, true},
		{OpGte, 150.0, true},
		{OpLte, 150.0, true},
		{OpLte, 100.0, false},
	}
	for _, tc := range cases {
		ok, err := Eval(Expr{Field: "request.amount", Operator: tc.op, Value: tc.val}, ctx())
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", tc.op, err)
		}
		if ok != tc.want {
			t.Errorf("%s %v: got %v, want %v", tc.op, tc.val, ok, tc.want)
		}
	}
}

func TestEvalContains(t *testing.T) {
	ok, err := Eval(Expr{Field: "request.tags", Operator: OpContains, Value: "urgent"}, ctx())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Fatal("expected contains to match")
	}
}

func TestEvalExists(t *testing.T) {
	ok, _ := Eval(Expr{Field: "request.region", Operator: OpExists}, ctx())
	if !ok {
		t.Fatal("expected exists to be true for present field")
	}

	ok, _ = Eval(Expr{Field: "request.missing", Operator: OpExists}, ctx())
	if ok {
		t.Fatal("expected exists to be false for missing field")
	}
}

func TestEvalMatches(t *testing.T) {
	ok, err := Eval(Expr{Field: "request.region", Operator: OpMatches, Value: "^us-"}, ctx())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Fatal("expected matches to match us- prefix")
	}
}

func TestEvalMatchesInvalidPattern(t *testing.T) {
	_, err := Eval(Expr{Field: "request.region", Operator: OpMatches, Value: "("}, ctx())
	if err == nil {
		t.Fatal("expected error for invalid regex pattern")
	}
}

func TestEvalUnknownOperator(t *testing.T) {
	_, err := Eval(Expr{Field: "request.region", Operator: "bogus"}, ctx())
	if err == nil {
		t.Fatal("expected error for unknown operator")
	}
}

func TestEvalGroupAll(t *testing.T) {
	g := Group{All: []Expr{
		{Field: "request.region", Operator: OpEq, Value: "us-east"},
		{Field: "request.amount", Operator: OpGt, Value: 100.0},
	}}
	ok, err := EvalGroup(g, ctx())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Fatal("expected all-group to match")
	}
}

func TestEvalGroupAny(t *testing.T) {
	g := Group{Any: []Expr{
		{Field: "request.region", Operator: OpEq, Value: "eu-west"},
		{Field: "request.amount", Operator: OpGt, Value: 100.0},
	}}
	ok, err := EvalGroup(g, ctx())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Fatal("expected any-group to match on second expression")
	}
}

func TestEvalGroupNot(t *testing.T) {
	g := Group{
		All: []Expr{{Field: "request.region", Operator: OpEq, Value: "us-east"}},
		Not: &Group{All: []Expr{{Field: "request.amount", Operator: OpGt, Value: 1000.0}}},
	}
	ok, err := EvalGroup(g, ctx())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Fatal("expected not-group to negate the inner group and still match")
	}
}
