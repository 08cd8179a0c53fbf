/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package compliance

import (
	"sync"
	"time"
)

// windowCounter tracks per-key event timestamps and reports how many fall
// within a trailing window, trimming everything older as it goes. It is
// the shared primitive behind the TCPA daily call cap and CTIA's
// day/week/month message caps.
type windowCounter struct {
	mu  sync.Mutex
	log map[string][]time.Time
}

func newWindowCounter() *windowCounter {
	return &windowCounter{log: map[string][]time.Time{}}
}

func (w *windowCounter) record(key string, at time.Time, window time.Duration) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	history := w.log[key]
	kept := history[:0]
	for _, t := range history {
		if at.Sub(t) <= window {
			kept = append(kept, t)
		}
	}
	kept = append(kept, at)
	w.log[key] = kept
	return len(kept)
}

type dncEntry struct {
	listed    bool
	expiresAt time.Time
}

type loginState struct {
	fails       int
	lockedUntil time.Time
}

type authRecord struct {
	scope  map[string]bool
	expiry time.Time
}

// State holds the mutable side of compliance checking: opt-outs, open
// data-subject requests, HIPAA authorizations, SOC2 login counters, and
// the TCPA do-not-call cache. Opt-outs, DSRs and authorizations change only
// through the explicit Record*/Clear* methods. The other state is also
// updated by the built-in gates during CheckAll: the SOC2 lockout gate
// records and resets failed logins, the TCPA DNC gate caches lookups, and
// the TCPA/CTIA cap gates append to their window counters. A check is
// therefore not free of side effects on State.
type State struct {
	mu sync.Mutex

	optedOut map[string]bool
	dsrs     map[string]string // data subject -> "erasure" | "restriction"
	auths    map[string]authRecord
	logins   map[string]*loginState
	dnc      map[string]dncEntry

	tcpaCalls *windowCounter
	ctiaDay   *windowCounter
	ctiaWeek  *windowCounter
	ctiaMonth *windowCounter

	now func() time.Time
}

// NewState returns an empty, ready-to-use compliance State.
func NewState() *State {
	return &State{
		optedOut:  map[string]bool{},
		dsrs:      map[string]string{},
		auths:     map[string]authRecord{},
		logins:    map[string]*loginState{},
		dnc:       map[string]dncEntry{},
		tcpaCalls: newWindowCounter(),
		ctiaDay:   newWindowCounter(),
		ctiaWeek:  newWindowCounter(),
		ctiaMonth: newWindowCounter(),
		now:       time.Now,
	}
}

// RecordOptOut marks recipient as opted out, e.g. after a STOP keyword.
func (s *State) RecordOptOut(recipient string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.optedOut[recipient] = true
}

// IsOptedOut reports whether recipient has previously opted out.
func (s *State) IsOptedOut(recipient string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.optedOut[recipient]
}

// RecordDSR opens a pending data-subject request (erasure or restriction)
// for subject, blocking further processing until ClearDSR is called.
func (s *State) RecordDSR(subject, kind string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dsrs[subject] = kind
}

// ClearDSR closes subject's pending request, if any.
func (s *State) ClearDSR(subject string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.dsrs, subject)
}

// PendingDSR reports subject's open request kind, if any.
func (s *State) PendingDSR(subject string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kind, ok := s.dsrs[subject]
	return kind, ok
}

// RecordAuthorization grants actor access to patient's records within
// scope until expiry.
func (s *State) RecordAuthorization(actor, patient string, scope []string, expiry time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	set := make(map[string]bool, len(scope))
	for _, f := range scope {
		set[f] = true
	}
	s.auths[actor+"|"+patient] = authRecord{scope: set, expiry: expiry}
}

// Authorization returns the recorded scope and expiry for (actor,
// patient), if any.
func (s *State) Authorization(actor, patient string) (map[string]bool, time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.auths[actor+"|"+patient]
	return rec.scope, rec.expiry, ok
}

// RecordDNCLookup caches the result of an external do-not-call lookup for
// recipient until now+ttl.
func (s *State) RecordDNCLookup(recipient string, listed bool, now time.Time, ttl time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dnc[recipient] = dncEntry{listed: listed, expiresAt: now.Add(ttl)}
}

// DNCLookup returns the cached result for recipient if still fresh at now.
func (s *State) DNCLookup(recipient string, now time.Time) (bool, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.dnc[recipient]
	if !ok || now.After(entry.expiresAt) {
		return false, false
	}
	return entry.listed, true
}

// RecordFailedLogin increments actor's consecutive-failure counter and
// returns the new count plus the lockout deadline (zero if not yet
// locked).
func (s *State) RecordFailedLogin(actor string, at time.Time, threshold int, cooldown time.Duration) (int, time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ls, ok := s.logins[actor]
	if !ok {
		ls = &loginState{}
		s.logins[actor] = ls
	}
	ls.fails++
	if ls.fails >= threshold {
		ls.lockedUntil = at.Add(cooldown)
	}
	return ls.fails, ls.lockedUntil
}

// ResetFailedLogins clears actor's failure counter, e.g. after a
// successful login.
func (s *State) ResetFailedLogins(actor string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.logins, actor)
}

// LockedUntil reports whether actor is presently locked out.
func (s *State) LockedUntil(actor string, now time.Time) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ls, ok := s.logins[actor]
	if !ok || ls.lockedUntil.IsZero() || now.After(ls.lockedUntil) {
		return time.Time{}, false
	}
	return ls.lockedUntil, true
}
