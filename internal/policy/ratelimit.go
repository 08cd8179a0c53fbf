/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package policy

import (
	"time"
)

// rateKey scopes a bucket to one (policy, resource, actor, window) tuple.
type rateKey struct {
	policyID string
	resource string
	actor    string
	window   time.Duration
}

// rateBucket is a fixed-window counter: windowStart anchors the window and
// count tracks requests observed since then. This mirrors the mutex-
// protected sliding-window idiom in internal/shared/ratelimit, generalized
// to an arbitrary (duration, max) pair per policy instead of a fixed
// hourly window.
type rateBucket struct {
	windowStart time.Time
	count       int
}

// checkWindow increments and checks the bucket for (policyID, resource,
// actor, window.Duration), resetting it once the window has elapsed. The
// whole check-and-increment is performed under e.rateMu so concurrent
// evaluators never under- or over-count.
func (e *Engine) checkWindow(policyID, resource, actor string, w Window) (allowed bool, retryAfter time.Duration) {
	if actor == "" {
		actor = "anonymous"
	}
	key := rateKey{policyID: policyID, resource: resource, actor: actor, window: w.Duration}

	e.rateMu.Lock()
	defer e.rateMu.Unlock()

	now := e.now()
	b, ok := e.buckets[key]
	if !ok || now.Sub(b.windowStart) >= w.Duration {
		b = &rateBucket{windowStart: now}
		e.buckets[key] = b
	}

	if b.count >= w.MaxRequests {
		return false, w.Duration - now.Sub(b.windowStart)
	}
	b.count++
	return true, 0
}
