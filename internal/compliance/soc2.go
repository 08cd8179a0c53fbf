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

// SOC2Config bounds the account-lockout threshold and cooldown.
type SOC2Config struct {
	LockoutThreshold int
	LockoutCooldown  time.Duration
}

// DefaultSOC2Config locks an account out for 30 minutes after 5
// consecutive failed logins.
func DefaultSOC2Config() SOC2Config {
	return SOC2Config{LockoutThreshold: 5, LockoutCooldown: 30 * time.Minute}
}

// SOC2MFAGate requires data.mfa_verified for any action flagged sensitive.
func SOC2MFAGate(ctx Context) (*Violation, error) {
	sensitive, _ := dataBool(ctx.Data, "sensitive")
	if !sensitive {
		return nil, nil
	}
	if verified, _ := dataBool(ctx.Data, "mfa_verified"); verified {
		return nil, nil
	}
	return &Violation{
		GateName: "soc2-mfa-required", Regulation: RegSOC2, Severity: SeverityCritical, Code: "SOC2-001",
		Message: "sensitive action attempted without MFA verification",
	}, nil
}

// SOC2SessionTimeoutGate rejects an action whose session age exceeds its
// configured timeout.
func SOC2SessionTimeoutGate(ctx Context) (*Violation, error) {
	age, hasAge := dataFloat(ctx.Data, "session_age_seconds")
	timeout, hasTimeout := dataFloat(ctx.Data, "session_timeout_seconds")
	if !hasAge || !hasTimeout || age <= timeout {
		return nil, nil
	}
	return &Violation{
		GateName: "soc2-session-timeout", Regulation: RegSOC2, Severity: SeverityCritical, Code: "SOC2-002",
		Message: fmt.Sprintf("session age %.0fs exceeds the %.0fs timeout", age, timeout),
	}, nil
}

// SOC2LockoutGate records a login attempt (data.login_failed) and denies
// further attempts for cfg.LockoutCooldown once the actor has accumulated
// cfg.LockoutThreshold consecutive failures. A successful login
// (data.login_failed == false) resets the counter. A context with no
// login_failed flag isn't a login attempt at all and is skipped.
func SOC2LockoutGate(state *State, cfg SOC2Config) GateFunc {
	return func(ctx Context) (*Violation, error) {
		failed, ok := dataBool(ctx.Data, "login_failed")
		if !ok {
			return nil, nil
		}
		now := ctx.Timestamp
		if now.IsZero() {
			now = state.now()
		}
		if until, locked := state.LockedUntil(ctx.Actor, now); locked {
			return &Violation{GateName: "soc2-account-lockout", Regulation: RegSOC2, Severity: SeverityCritical, Code: "SOC2-003",
				Message: fmt.Sprintf("actor %s is locked out until %s", ctx.Actor, until)}, nil
		}
		if !failed {
			state.ResetFailedLogins(ctx.Actor)
			return nil, nil
		}
		fails, lockedUntil := state.RecordFailedLogin(ctx.Actor, now, cfg.LockoutThreshold, cfg.LockoutCooldown)
		if fails < cfg.LockoutThreshold {
			return nil, nil
		}
		return &Violation{
			GateName: "soc2-account-lockout", Regulation: RegSOC2, Severity: SeverityCritical, Code: "SOC2-003",
			Message: fmt.Sprintf("actor %s exceeded %d failed logins, locked until %s", ctx.Actor, cfg.LockoutThreshold, lockedUntil),
		}, nil
	}
}

// SOC2ChangeManagementGate requires a flagged change to carry both
// approval and documentation before it can proceed.
func SOC2ChangeManagementGate(ctx Context) (*Violation, error) {
	if isChange, _ := dataBool(ctx.Data, "change_management"); !isChange {
		return nil, nil
	}
	approved, _ := dataBool(ctx.Data, "change_approved")
	documented, _ := dataBool(ctx.Data, "change_documented")
	if approved && documented {
		return nil, nil
	}
	return &Violation{
		GateName: "soc2-change-management", Regulation: RegSOC2, Severity: SeverityCritical, Code: "SOC2-004",
		Message: "change lacks required approval and/or documentation",
	}, nil
}

// SOC2AuditLoggingGate rejects an action explicitly marked as running
// with audit logging disabled.
func SOC2AuditLoggingGate(ctx Context) (*Violation, error) {
	enabled, ok := dataBool(ctx.Data, "audit_logging_enabled")
	if !ok || enabled {
		return nil, nil
	}
	return &Violation{
		GateName: "soc2-audit-logging-disabled", Regulation: RegSOC2, Severity: SeverityCritical, Code: "SOC2-005",
		Message: "action attempted with audit logging disabled",
	}, nil
}
