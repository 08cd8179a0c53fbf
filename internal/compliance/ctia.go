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
	"strings"
	"time"
)

// CTIAConfig bounds CTIA's opt-in freshness window, per-recipient rolling
// message caps, and quiet-hours calling window.
type CTIAConfig struct {
	OptInMaxAge time.Duration
	DayCap      int
	WeekCap     int
	MonthCap    int
	QuietWindow CallWindow
}

// DefaultCTIAConfig mirrors typical carrier program thresholds: a
// one-year opt-in freshness window, 50/200/500 day/week/month caps per
// recipient, and the same 8am-9pm quiet-hours window as TCPA.
func DefaultCTIAConfig() CTIAConfig {
	return CTIAConfig{
		OptInMaxAge: 365 * 24 * time.Hour,
		DayCap:      50, WeekCap: 200, MonthCap: 500,
		QuietWindow: CallWindow{StartHour: 8, EndHour: 21},
	}
}

// CTIAOptOutGate rejects sms sent to a recipient recorded as opted out,
// either via state.RecordOptOut (a STOP-keyword handler) or an explicit
// data.opted_out flag on the context itself.
func CTIAOptOutGate(state *State) GateFunc {
	return func(ctx Context) (*Violation, error) {
		if ctx.Channel != "sms" {
			return nil, nil
		}
		explicit, _ := dataBool(ctx.Data, "opted_out")
		recorded := ctx.Recipient != "" && state.IsOptedOut(ctx.Recipient)
		if !explicit && !recorded {
			return nil, nil
		}
		return &Violation{
			GateName: "ctia-opt-out-honor", Regulation: RegCTIA, Severity: SeverityCritical, Code: "CTIA-001",
			Message: "message sent to a recipient after an opt-out",
		}, nil
	}
}

// CTIAOptInFreshnessGate rejects sms sent on an opt-in older than
// cfg.OptInMaxAge. Contexts with no recorded opt_in_at are skipped — a
// missing opt-in entirely is ctia-opt-out-honor's and the TCPA consent
// gate's concern, not freshness.
func CTIAOptInFreshnessGate(cfg CTIAConfig) GateFunc {
	return func(ctx Context) (*Violation, error) {
		if ctx.Channel != "sms" {
			return nil, nil
		}
		optInAt, ok := dataTime(ctx.Data, "opt_in_at")
		if !ok {
			return nil, nil
		}
		now := ctx.Timestamp
		if now.IsZero() {
			now = time.Now()
		}
		age := now.Sub(optInAt)
		if age <= cfg.OptInMaxAge {
			return nil, nil
		}
		return &Violation{
			GateName: "ctia-opt-in-stale", Regulation: RegCTIA, Severity: SeverityWarning, Code: "CTIA-002",
			Message: fmt.Sprintf("opt-in is %s old, exceeds the %s freshness window", age.Round(time.Hour), cfg.OptInMaxAge),
		}, nil
	}
}

// CTIARollingCapGate enforces day/week/month message caps per recipient.
func CTIARollingCapGate(state *State, cfg CTIAConfig) GateFunc {
	return func(ctx Context) (*Violation, error) {
		if ctx.Channel != "sms" || ctx.Recipient == "" {
			return nil, nil
		}
		now := ctx.Timestamp
		if now.IsZero() {
			now = state.now()
		}
		key := ctx.Actor + "|" + ctx.Recipient
		day := state.ctiaDay.record(key, now, 24*time.Hour)
		week := state.ctiaWeek.record(key, now, 7*24*time.Hour)
		month := state.ctiaMonth.record(key, now, 30*24*time.Hour)

		switch {
		case day > cfg.DayCap:
			return &Violation{GateName: "ctia-daily-cap", Regulation: RegCTIA, Severity: SeverityCritical, Code: "CTIA-003",
				Message: fmt.Sprintf("recipient %s received %d messages today (cap %d)", ctx.Recipient, day, cfg.DayCap)}, nil
		case week > cfg.WeekCap:
			return &Violation{GateName: "ctia-weekly-cap", Regulation: RegCTIA, Severity: SeverityCritical, Code: "CTIA-003",
				Message: fmt.Sprintf("recipient %s received %d messages this week (cap %d)", ctx.Recipient, week, cfg.WeekCap)}, nil
		case month > cfg.MonthCap:
			return &Violation{GateName: "ctia-monthly-cap", Regulation: RegCTIA, Severity: SeverityCritical, Code: "CTIA-003",
				Message: fmt.Sprintf("recipient %s received %d messages this month (cap %d)", ctx.Recipient, month, cfg.MonthCap)}, nil
		}
		return nil, nil
	}
}

// CTIAQuietHoursGate rejects sms sent outside cfg.QuietWindow in the
// recipient's local time, the same timezone computation TCPA's
// time-of-day gate uses.
func CTIAQuietHoursGate(cfg CTIAConfig) GateFunc {
	return func(ctx Context) (*Violation, error) {
		if ctx.Channel != "sms" {
			return nil, nil
		}
		if ctx.Timestamp.IsZero() || ctx.Timezone == "" {
			return nil, nil
		}
		loc, err := time.LoadLocation(ctx.Timezone)
		if err != nil {
			return nil, fmt.Errorf("compliance: ctia quiet-hours: unknown timezone %q: %w", ctx.Timezone, err)
		}
		hour := ctx.Timestamp.In(loc).Hour()
		if hour >= cfg.QuietWindow.StartHour && hour < cfg.QuietWindow.EndHour {
			return nil, nil
		}
		return &Violation{
			GateName: "ctia-quiet-hours", Regulation: RegCTIA, Severity: SeverityCritical, Code: "CTIA-004",
			Message: "sms sent outside the permitted local-time window",
		}, nil
	}
}

// CTIAContentGate enforces the carrier content rules: a 160-character
// body limit, a required opt-out hint ("reply stop"), a prohibited-content
// pattern list, and a registered sender id. A context with no data.body
// skips entirely — it isn't an sms content check without a body.
func CTIAContentGate(prohibited []string, registeredSenderIDs []string) GateFunc {
	return func(ctx Context) (*Violation, error) {
		if ctx.Channel != "sms" {
			return nil, nil
		}
		body, ok := dataString(ctx.Data, "body")
		if !ok || body == "" {
			return nil, nil
		}
		if len(body) > 160 {
			return &Violation{GateName: "ctia-body-length", Regulation: RegCTIA, Severity: SeverityWarning, Code: "CTIA-005",
				Message: fmt.Sprintf("message body is %d characters, exceeds the 160 character limit", len(body))}, nil
		}
		if !strings.Contains(strings.ToLower(body), "stop") {
			return &Violation{GateName: "ctia-opt-out-hint", Regulation: RegCTIA, Severity: SeverityWarning, Code: "CTIA-005",
				Message: "message body omits the required opt-out instruction"}, nil
		}
		for _, pattern := range prohibited {
			if strings.Contains(strings.ToLower(body), strings.ToLower(pattern)) {
				return &Violation{GateName: "ctia-prohibited-content", Regulation: RegCTIA, Severity: SeverityCritical, Code: "CTIA-005",
					Message: fmt.Sprintf("message body matches prohibited content pattern %q", pattern)}, nil
			}
		}
		if senderID, ok := dataString(ctx.Data, "sender_id"); ok && len(registeredSenderIDs) > 0 && !containsStr(registeredSenderIDs, senderID) {
			return &Violation{GateName: "ctia-unregistered-sender-id", Regulation: RegCTIA, Severity: SeverityCritical, Code: "CTIA-005",
				Message: fmt.Sprintf("sender id %q is not registered", senderID)}, nil
		}
		return nil, nil
	}
}
