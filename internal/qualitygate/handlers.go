/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package qualitygate

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// Handler evaluates a single check against ctx. A non-nil error is
// reported as a StatusError check outcome, distinct from an ordinary
// failed (but well-formed) check.
type Handler func(ctx Context, spec CheckSpec) (passed bool, message string, err error)

// piiPatterns are deliberately simple heuristics, not a validator: the
// gate only needs to flag plausible PII, not certify its absence.
var piiPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`),                           // SSN
	regexp.MustCompile(`\b(?:\d[ -]*?){13,16}\b`),                         // credit card (loose)
	regexp.MustCompile(`\b[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}\b`), // email
}

// BuiltinHandlers returns the default handler registry: non_empty,
// min_length, max_length, match, json_valid, pii, cost_budget.
func BuiltinHandlers() map[string]Handler {
	return map[string]Handler{
		"non_empty": func(ctx Context, spec CheckSpec) (bool, string, error) {
			target := targetText(ctx, spec)
			if strings.TrimSpace(target) == "" {
				return false, "output is empty", nil
			}
			return true, "", nil
		},
		"min_length": func(ctx Context, spec CheckSpec) (bool, string, error) {
			min, err := intParam(spec, "min")
			if err != nil {
				return false, "", err
			}
			target := targetText(ctx, spec)
			if len(target) < min {
				return false, fmt.Sprintf("length %d is below minimum %d", len(target), min), nil
			}
			return true, "", nil
		},
		"max_length": func(ctx Context, spec CheckSpec) (bool, string, error) {
			max, err := intParam(spec, "max")
			if err != nil {
				return false, "", err
			}
			target := targetText(ctx, spec)
			if len(target) > max {
				return false, fmt.Sprintf("length %d exceeds maximum %d", len(target), max), nil
			}
			return true, "", nil
		},
		"match": func(ctx Context, spec CheckSpec) (bool, string, error) {
			target := targetText(ctx, spec)
			if pattern, ok := spec.Params["regex"].(string); ok {
				re, err := regexp.Compile(pattern)
				if err != nil {
					return false, "", fmt.Errorf("compile pattern %q: %w", pattern, err)
				}
				if !re.MatchString(target) {
					return false, fmt.Sprintf("output does not match pattern %q", pattern), nil
				}
				return true, "", nil
			}
			substr, _ := spec.Params["substring"].(string)
			if !strings.Contains(target, substr) {
				return false, fmt.Sprintf("output does not contain %q", substr), nil
			}
			return true, "", nil
		},
		"json_valid": func(ctx Context, spec CheckSpec) (bool, string, error) {
			target := targetText(ctx, spec)
			var v any
			if err := json.Unmarshal([]byte(target), &v); err != nil {
				return false, fmt.Sprintf("invalid JSON: %v", err), nil
			}
			return true, "", nil
		},
		"pii": func(ctx Context, spec CheckSpec) (bool, string, error) {
			target := targetText(ctx, spec)
			for _, re := range piiPatterns {
				if re.MatchString(target) {
					return false, "output contains a plausible PII pattern", nil
				}
			}
			return true, "", nil
		},
		"cost_budget": func(ctx Context, spec CheckSpec) (bool, string, error) {
			if ctx.CostBudget <= 0 {
				return true, "", nil
			}
			if ctx.CostUSD > ctx.CostBudget {
				return false, fmt.Sprintf("cost %.4f exceeds budget %.4f", ctx.CostUSD, ctx.CostBudget), nil
			}
			return true, "", nil
		},
	}
}

// targetText resolves which of input/output a check inspects. Defaults to
// output, since most checks (PII, length, JSON validity) guard what the
// run is about to surface, not what it was asked to do.
func targetText(ctx Context, spec CheckSpec) string {
	if field, ok := spec.Params["field"].(string); ok && field == "input" {
		return ctx.Input
	}
	return ctx.Output
}

func intParam(spec CheckSpec, name string) (int, error) {
	v, ok := spec.Params[name]
	if !ok {
		return 0, fmt.Errorf("qualitygate: check %q missing required param %q", spec.Name, name)
	}
	switch n := v.(type) {
	case int:
		return n, nil
	case float64:
		return int(n), nil
	default:
		return 0, fmt.Errorf("qualitygate: check %q param %q has unsupported type %T", spec.Name, name, v)
	}
}
