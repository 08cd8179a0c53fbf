/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/opsruntime/agentcore/internal/metrics"
	"github.com/opsruntime/agentcore/internal/provider"
	"github.com/opsruntime/agentcore/internal/router"
	"github.com/opsruntime/agentcore/internal/shared/security"
	"github.com/opsruntime/agentcore/internal/tools"
)

// ProviderModelRouter adapts a single internal/provider.Provider into the
// router.ModelRouter collaborator. A completion step's preset/model hints
// are passed through to the underlying provider as-is; routing across
// multiple providers is a config concern of whoever constructs this.
type ProviderModelRouter struct {
	Backend provider.Provider
}

func (p *ProviderModelRouter) Route(ctx context.Context, req router.ModelRequest) (router.ModelResponse, error) {
	resp, err := p.Backend.Complete(ctx, &provider.CompletionRequest{
		Messages: toProviderMessages(req.Messages),
		Model:    req.Model,
	})
	if err != nil {
		return router.ModelResponse{}, err
	}
	return router.ModelResponse{
		Endpoint:     p.Backend.Name(),
		Output:       resp.Content,
		InputTokens:  resp.Usage.InputTokens,
		OutputTokens: resp.Usage.OutputTokens,
	}, nil
}

func (p *ProviderModelRouter) RecordUsage(providerName, model string, inTokens, outTokens int64, latencyMS int64, success bool) {
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	metrics.RecordStep("completion", outcome, time.Duration(latencyMS)*time.Millisecond)
}

func toProviderMessages(msgs []map[string]any) []provider.Message {
	out := make([]provider.Message, 0, len(msgs))
	for _, m := range msgs {
		role, _ := m["role"].(string)
		content, _ := m["content"].(string)
		if content == "" {
			content = fmt.Sprintf("%v", m["content"])
		}
		out = append(out, provider.Message{Role: role, Content: content})
	}
	return out
}

// ToolRegistryAdapter adapts internal/tools.Registry into the router's
// ToolRegistry collaborator, deriving RequiresApproval from the tool's
// declared capability tier and sanitizing string output before it is
// threaded back into run state.
type ToolRegistryAdapter struct {
	Registry *tools.Registry
}

// Get classifies against nil args since the descriptor is fetched before
// input resolution; a tool whose risk only shows up in specific arguments
// still gets a final per-call check inside Execute via step.RequiresApproval
// or zone gating.
func (a *ToolRegistryAdapter) Get(name string) (router.ToolDescriptor, bool) {
	t, ok := a.Registry.Get(name)
	if !ok {
		return router.ToolDescriptor{}, false
	}
	requiresApproval := false
	if classifiable, ok := t.(tools.ClassifiableTool); ok {
		requiresApproval = classifiable.ClassifyAction(nil).Tier >= tools.TierDestructiveMutation
	}
	return router.ToolDescriptor{Name: t.Name(), RequiresApproval: requiresApproval}, true
}

func (a *ToolRegistryAdapter) Execute(ctx context.Context, name string, input map[string]any, zone string) (router.ToolResult, error) {
	out, err := a.Registry.Execute(ctx, name, input)
	if err != nil {
		return router.ToolResult{Success: false, Error: err.Error()}, err
	}
	return router.ToolResult{Success: true, Output: security.Sanitize(out)}, nil
}
