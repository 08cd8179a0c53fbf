/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package compliance

import "github.com/opsruntime/agentcore/internal/condition"

// RegisterBuiltins seeds r with the TCPA, CTIA, GDPR, HIPAA, and SOC2
// gates, condition-driven where a single-context comparison suffices and
// custom where a check needs real computation (timezone conversion,
// rolling counters, cached lookups, authorization scope). state holds
// every gate's mutable side — opt-outs, DSRs, authorizations, login
// counters, the DNC cache — and is shared across calls so e.g. a
// STOP-keyword opt-out recorded on one check is honored by the next. Pass
// nil to get a fresh, private State. Callers needing different
// thresholds (call windows, caps, retention limits) should register their
// own gates built from the Default*Config values below instead of
// calling this function.
func RegisterBuiltins(r *Registry, state *State) {
	if state == nil {
		state = NewState()
	}
	tcpaCfg := DefaultTCPAConfig()
	ctiaCfg := DefaultCTIAConfig()
	gdprCfg := DefaultGDPRConfig()
	hipaaCfg := DefaultHIPAAConfig()
	soc2Cfg := DefaultSOC2Config()

	// TCPA
	r.RegisterSpec(GateSpec{
		Name: "tcpa-consent-required", Regulation: RegTCPA, Severity: SeverityCritical, Priority: 100, Code: "TCPA-002",
		Message: "outbound sms/voice contact without recorded consent",
		Condition: condition.Group{All: []condition.Expr{
			{Field: "channel", Operator: condition.OpMatches, Value: "^(sms|voice)$"},
			{Field: "consent_on", Operator: condition.OpEq, Value: false},
		}},
	})
	r.RegisterFunc("tcpa-time-of-day", RegTCPA, 95, TCPATimeOfDayGate(tcpaCfg))
	r.RegisterFunc("tcpa-holiday-blackout", RegTCPA, 93, TCPAHolidayGate)
	r.RegisterFunc("tcpa-dnc-listed", RegTCPA, 91, TCPADNCGate(state, tcpaCfg))
	r.RegisterFunc("tcpa-daily-call-cap", RegTCPA, 89, TCPADailyCapGate(state, tcpaCfg))
	r.RegisterFunc("tcpa-anonymous-caller-id", RegTCPA, 87, TCPAAnonymousCallerIDGate)

	// CTIA
	r.RegisterFunc("ctia-opt-out-honor", RegCTIA, 80, CTIAOptOutGate(state))
	r.RegisterFunc("ctia-opt-in-stale", RegCTIA, 78, CTIAOptInFreshnessGate(ctiaCfg))
	r.RegisterFunc("ctia-rolling-cap", RegCTIA, 76, CTIARollingCapGate(state, ctiaCfg))
	r.RegisterFunc("ctia-quiet-hours", RegCTIA, 74, CTIAQuietHoursGate(ctiaCfg))
	r.RegisterFunc("ctia-content", RegCTIA, 72, CTIAContentGate(nil, nil))

	// GDPR
	r.RegisterSpec(GateSpec{
		Name: "gdpr-data-subject-no-basis", Regulation: RegGDPR, Severity: SeverityCritical, Priority: 70, Code: "GDPR-001",
		Message: "personal data processed without a recorded legal basis",
		Condition: condition.Group{All: []condition.Expr{
			{Field: "data_subject", Operator: condition.OpExists},
			{Field: "data.legal_basis", Operator: condition.OpExists, Value: false},
		}},
	})
	r.RegisterFunc("gdpr-pending-dsr", RegGDPR, 68, GDPRDSRGate(state))
	r.RegisterFunc("gdpr-cross-border", RegGDPR, 66, GDPRCrossBorderGate(gdprCfg))
	r.RegisterFunc("gdpr-consent", RegGDPR, 65, GDPRConsentGate(gdprCfg))
	r.RegisterFunc("gdpr-purpose-limitation", RegGDPR, 64, GDPRPurposeLimitationGate)
	r.RegisterFunc("gdpr-data-minimization", RegGDPR, 62, GDPRDataMinimizationGate)
	r.RegisterFunc("gdpr-retention", RegGDPR, 60, GDPRRetentionGate(gdprCfg))

	// HIPAA
	r.RegisterSpec(GateSpec{
		Name: "hipaa-phi-unencrypted-channel", Regulation: RegHIPAA, Severity: SeverityCritical, Priority: 60, Code: "HIPAA-001",
		Message: "PHI referenced over a non-encrypted channel",
		Condition: condition.Group{All: []condition.Expr{
			{Field: "data.contains_phi", Operator: condition.OpEq, Value: true},
			{Field: "channel", Operator: condition.OpMatches, Value: "^(sms|email)$"},
		}},
	})
	r.RegisterFunc("hipaa-authorization", RegHIPAA, 58, HIPAAAuthorizationGate(state))
	r.RegisterFunc("hipaa-minimum-necessary", RegHIPAA, 56, HIPAAMinimumNecessaryGate)
	r.RegisterFunc("hipaa-encryption", RegHIPAA, 54, HIPAAEncryptionGate)
	r.RegisterFunc("hipaa-baa", RegHIPAA, 52, HIPAABAAGate(hipaaCfg))

	// SOC2
	detector := NewFrequencyDetector(DefaultFrequencyConfig())
	r.RegisterFunc("soc2-anomaly-frequency", RegSOC2, 50, detector.Gate)
	r.RegisterFunc("soc2-mfa-required", RegSOC2, 48, SOC2MFAGate)
	r.RegisterFunc("soc2-session-timeout", RegSOC2, 46, SOC2SessionTimeoutGate)
	r.RegisterFunc("soc2-account-lockout", RegSOC2, 44, SOC2LockoutGate(state, soc2Cfg))
	r.RegisterFunc("soc2-change-management", RegSOC2, 42, SOC2ChangeManagementGate)
	r.RegisterFunc("soc2-audit-logging", RegSOC2, 40, SOC2AuditLoggingGate)
}
