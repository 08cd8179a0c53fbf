/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package webhook

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrNoRoute is returned when an incoming path has no registered route and
// the router has no default provider configured.
var ErrNoRoute = errors.New("webhook: no route registered for path")

// CodeNoRoute is DispatchResult.Error's code when ErrNoRoute fires.
const CodeNoRoute = "NO_ROUTE"

// RouteHandler runs after a delivery verifies, given the decoded event (nil
// if the body carried no recognizable id). A handler's error is recorded
// against it but never prevents the next handler — route and global
// handlers alike — from running.
type RouteHandler func(ctx context.Context, event *Event) error

// Route binds one inbound path to a provider's verifier and handler.
type Route struct {
	Path     string
	Provider string
	Verifier *Verifier
	Handler  RouteHandler
}

// DispatchResult is the router's per-request outcome.
type DispatchResult struct {
	Success      bool
	Provider     string
	Verification VerifyResult
	Event        *Event
	Error        error
	ErrorCode    string
	DurationMS   int64
	HandlerErrs  []error
}

// Router holds a set of (path, provider, verifier, route-handler)
// registrations plus global handlers that run after every route's own
// handler, the way a Stripe/Twilio-style multi-tenant webhook endpoint
// fans a single URL out to provider-specific parsing.
type Router struct {
	mu              sync.RWMutex
	routes          map[string]Route
	globalHandlers  []RouteHandler
	defaultProvider string
	defaultVerifier *Verifier
	now             func() time.Time
}

// NewRouter returns an empty Router.
func NewRouter() *Router {
	return &Router{routes: make(map[string]Route), now: time.Now}
}

// AddRoute registers or replaces the route for route.Path.
func (r *Router) AddRoute(route Route) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.routes[route.Path] = route
}

// RemoveRoute deletes the route registered for path, if any.
func (r *Router) RemoveRoute(path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.routes, path)
}

// Use appends a global handler run after every route's own handler,
// regardless of which route matched.
func (r *Router) Use(h RouteHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.globalHandlers = append(r.globalHandlers, h)
}

// SetDefaultRoute configures the fallback used for a path with no
// registered route. Passing a zero provider clears the fallback, so an
// unmatched path again returns NO_ROUTE.
func (r *Router) SetDefaultRoute(provider string, verifier *Verifier) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defaultProvider = provider
	r.defaultVerifier = verifier
}

// Dispatch verifies an inbound delivery for path, then invokes the
// matched route's handler followed by every global handler. All handlers
// run even if an earlier one errors; their errors are collected into
// HandlerErrs rather than aborting the chain.
func (r *Router) Dispatch(ctx context.Context, path string, opts VerifyOptions) DispatchResult {
	started := r.now()

	route, handler, ok := r.lookup(path)
	if !ok {
		return DispatchResult{
			Success: false, Error: ErrNoRoute, ErrorCode: CodeNoRoute,
			DurationMS: r.since(started),
		}
	}

	verification := route.Verifier.Verify(opts)
	result := DispatchResult{
		Provider:     route.Provider,
		Verification: verification,
		Event:        verification.Event,
	}
	if !verification.Valid {
		result.Success = false
		result.Error = verification.Error
		result.ErrorCode = verification.ErrorCode
		result.DurationMS = r.since(started)
		return result
	}

	var handlerErrs []error
	if handler != nil {
		if err := handler(ctx, verification.Event); err != nil {
			handlerErrs = append(handlerErrs, err)
		}
	}
	for _, g := range r.globalHandlersSnapshot() {
		if err := g(ctx, verification.Event); err != nil {
			handlerErrs = append(handlerErrs, err)
		}
	}

	result.Success = true
	result.HandlerErrs = handlerErrs
	result.DurationMS = r.since(started)
	return result
}

func (r *Router) lookup(path string) (Route, RouteHandler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if route, ok := r.routes[path]; ok {
		return route, route.Handler, true
	}
	if r.defaultProvider != "" && r.defaultVerifier != nil {
		return Route{Provider: r.defaultProvider, Verifier: r.defaultVerifier}, nil, true
	}
	return Route{}, nil, false
}

func (r *Router) globalHandlersSnapshot() []RouteHandler {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]RouteHandler, len(r.globalHandlers))
	copy(out, r.globalHandlers)
	return out
}

func (r *Router) since(started time.Time) int64 {
	return r.now().Sub(started).Milliseconds()
}
