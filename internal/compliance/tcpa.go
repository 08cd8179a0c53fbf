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
	"time"
)

// CallWindow bounds the local hours during which outbound regulated
// contact is permitted.
type CallWindow struct {
	StartHour int
	EndHour   int
}

// DefaultCallWindow mirrors the TCPA's 8am-9pm calling-hours safe harbor.
func DefaultCallWindow() CallWindow {
	return CallWindow{StartHour: 8, EndHour: 21}
}

// TCPAConfig bounds the stateful TCPA gates: the calling window, the DNC
// cache TTL, and the per-recipient daily call cap.
type TCPAConfig struct {
	Window      CallWindow
	DNCCacheTTL time.Duration
	DailyCap    int
}

// DefaultTCPAConfig mirrors the 8am-9pm calling window, a 24h DNC cache,
// and a conservative 3-calls-per-day-per-recipient cap.
func DefaultTCPAConfig() TCPAConfig {
	return TCPAConfig{Window: DefaultCallWindow(), DNCCacheTTL: 24 * time.Hour, DailyCap: 3}
}

// TCPATimeOfDayGate rejects outbound sms/voice contact outside cfg.Window
// in the recipient's local time, computed from ctx.Timestamp and
// ctx.Timezone. A context missing either can't be evaluated and is
// skipped rather than assumed compliant or denied — an unknown timezone
// name is a gate error, which the registry fails closed on.
func TCPATimeOfDayGate(cfg TCPAConfig) GateFunc {
	return func(ctx Context) (*Violation, error) {
		if ctx.Channel != "sms" && ctx.Channel != "voice" {
			return nil, nil
		}
		if ctx.Timestamp.IsZero() || ctx.Timezone == "" {
			return nil, nil
		}
		loc, err := time.LoadLocation(ctx.Timezone)
		if err != nil {
			return nil, fmt.Errorf("compliance: tcpa time-of-day: unknown timezone %q: %w", ctx.Timezone, err)
		}
		local := ctx.Timestamp.In(loc)
		hour := local.Hour()
		if hour >= cfg.Window.StartHour && hour < cfg.Window.EndHour {
			return nil, nil
		}
		return &Violation{
			GateName: "tcpa-time-of-day", Regulation: RegTCPA, Severity: SeverityCritical, Code: "TCPA-001",
			Message: fmt.Sprintf("contact at %02d:%02d local time (%s) falls outside the %02d:00-%02d:00 calling window",
				local.Hour(), local.Minute(), ctx.Timezone, cfg.Window.StartHour, cfg.Window.EndHour),
		}, nil
	}
}

// TCPAHolidayGate rejects contact explicitly flagged as falling on a
// holiday blackout date. The holiday calendar itself is an external
// concern computed upstream into data.holiday; this gate only enforces
// the flag.
func TCPAHolidayGate(ctx Context) (*Violation, error) {
	if ctx.Channel != "sms" && ctx.Channel != "voice" {
		return nil, nil
	}
	holiday, ok := dataBool(ctx.Data, "holiday")
	if !ok || !holiday {
		return nil, nil
	}
	return &Violation{
		GateName: "tcpa-holiday-blackout", Regulation: RegTCPA, Severity: SeverityCritical, Code: "TCPA-003",
		Message: "outbound contact attempted on a holiday blackout date",
	}, nil
}

// TCPADNCGate checks the recipient against a cfg.DNCCacheTTL-cached
// do-not-call result: the first observed data.dnc_listed flag for a
// recipient sticks for the cache TTL, so later calls don't need to repeat
// the external lookup.
func TCPADNCGate(state *State, cfg TCPAConfig) GateFunc {
	return func(ctx Context) (*Violation, error) {
		if ctx.Channel != "voice" || ctx.Recipient == "" {
			return nil, nil
		}
		now := ctx.Timestamp
		if now.IsZero() {
			now = state.now()
		}
		listed, cached := state.DNCLookup(ctx.Recipient, now)
		if !cached {
			listed, _ = dataBool(ctx.Data, "dnc_listed")
			state.RecordDNCLookup(ctx.Recipient, listed, now, cfg.DNCCacheTTL)
		}
		if !listed {
			return nil, nil
		}
		return &Violation{
			GateName: "tcpa-dnc-listed", Regulation: RegTCPA, Severity: SeverityCritical, Code: "TCPA-004",
			Message: fmt.Sprintf("recipient %s is on the do-not-call list", ctx.Recipient),
		}, nil
	}
}

// TCPADailyCapGate enforces cfg.DailyCap outbound calls per recipient in a
// rolling 24h window.
func TCPADailyCapGate(state *State, cfg TCPAConfig) GateFunc {
	return func(ctx Context) (*Violation, error) {
		if ctx.Channel != "voice" || ctx.Recipient == "" {
			return nil, nil
		}
		now := ctx.Timestamp
		if now.IsZero() {
			now = state.now()
		}
		count := state.tcpaCalls.record(ctx.Actor+"|"+ctx.Recipient, now, 24*time.Hour)
		if count <= cfg.DailyCap {
			return nil, nil
		}
		return &Violation{
			GateName: "tcpa-daily-call-cap", Regulation: RegTCPA, Severity: SeverityCritical, Code: "TCPA-005",
			Message: fmt.Sprintf("recipient %s called %d times in 24h (cap %d)", ctx.Recipient, count, cfg.DailyCap),
		}, nil
	}
}

// TCPAAnonymousCallerIDGate rejects voice contact placed with caller id
// suppressed, which TCPA requires to be non-anonymous.
func TCPAAnonymousCallerIDGate(ctx Context) (*Violation, error) {
	if ctx.Channel != "voice" {
		return nil, nil
	}
	anon, ok := dataBool(ctx.Data, "caller_id_anonymous")
	if !ok || !anon {
		return nil, nil
	}
	return &Violation{
		GateName: "tcpa-anonymous-caller-id", Regulation: RegTCPA, Severity: SeverityCritical, Code: "TCPA-006",
		Message: "outbound call placed with caller id suppressed",
	}, nil
}
