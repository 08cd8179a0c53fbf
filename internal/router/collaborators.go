/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package router

import "context"

// ModelRequest is what a completion step sends to the model-routing
// collaborator.
type ModelRequest struct {
	Messages []map[string]any
	Preset   string
	Tools    []string
	Provider string
	Model    string
}

// ModelResponse is what the model-routing collaborator returns.
type ModelResponse struct {
	Endpoint      string
	Output        string
	EstimatedCost float64
	InputTokens   int64
	OutputTokens  int64
}

// ModelRouter routes completion steps to an LLM provider and records
// resulting usage. Implemented by an adapter over internal/provider.
type ModelRouter interface {
	Route(ctx context.Context, req ModelRequest) (ModelResponse, error)
	RecordUsage(provider, model string, inTokens, outTokens int64, latencyMS int64, success bool)
}

// ToolDescriptor is what the tools registry reports about a named tool.
type ToolDescriptor struct {
	Name             string
	RequiresApproval bool
}

// ToolResult is what the tools registry returns from executing a tool.
type ToolResult struct {
	Success bool
	Output  any
	Error   string
}

// ToolRegistry is the tools collaborator: lookup and execution.
type ToolRegistry interface {
	Get(name string) (ToolDescriptor, bool)
	Execute(ctx context.Context, name string, input map[string]any, zone string) (ToolResult, error)
}

// ApprovalProvider is the thin subset of internal/approval the step
// executor needs: validating a caller-supplied token before a gated
// tool call proceeds.
type ApprovalProvider interface {
	ValidateToken(token, operation, resource string, consume bool) error
}

// SubAgentRunner invokes a nested agent run for sub_agent steps.
type SubAgentRunner interface {
	RunSubAgent(ctx context.Context, agentRef string, input map[string]any) (map[string]any, error)
}
