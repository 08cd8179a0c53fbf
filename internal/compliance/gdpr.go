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

// GDPRConfig bounds the cross-border, consent-freshness, and retention
// checks: the countries treated as EU/EEA or adequacy-decision
// destinations, the explicitly blocked-country list, the maximum age of a
// consent record (non-explicit consent is denied regardless of age), and a
// per-data-category retention cap in days.
type GDPRConfig struct {
	EEACountries      []string
	AdequateCountries []string
	BlockedCountries  []string
	MaxConsentAge     time.Duration
	RetentionDays     map[string]int
}

// DefaultGDPRConfig seeds a representative (not legally exhaustive)
// EEA/adequacy country list and a two-year consent freshness window;
// RetentionDays starts empty since retention limits are category-specific
// and have no sane generic default.
func DefaultGDPRConfig() GDPRConfig {
	return GDPRConfig{
		EEACountries:      []string{"DE", "FR", "NL", "IE", "ES", "IT", "SE", "PL", "AT", "BE"},
		AdequateCountries: []string{"GB", "CH", "JP", "KR", "CA", "NZ", "IL", "UY", "AR"},
		MaxConsentAge:     2 * 365 * 24 * time.Hour,
		RetentionDays:     map[string]int{},
	}
}

// GDPRDSRGate blocks processing for any data subject with a pending
// erasure or restriction request recorded via state.RecordDSR.
func GDPRDSRGate(state *State) GateFunc {
	return func(ctx Context) (*Violation, error) {
		if ctx.DataSubject == "" {
			return nil, nil
		}
		kind, pending := state.PendingDSR(ctx.DataSubject)
		if !pending {
			return nil, nil
		}
		return &Violation{
			GateName: "gdpr-pending-dsr", Regulation: RegGDPR, Severity: SeverityCritical, Code: "GDPR-002",
			Message: fmt.Sprintf("data subject %s has a pending %s request", ctx.DataSubject, kind),
		}, nil
	}
}

// GDPRCrossBorderGate enforces the transfer hierarchy: EEA and
// adequacy-decision destinations are allowed, explicitly blocked
// countries are always denied, and anything else needs an SCC/BCR flag.
func GDPRCrossBorderGate(cfg GDPRConfig) GateFunc {
	return func(ctx Context) (*Violation, error) {
		country, ok := dataString(ctx.Data, "country")
		if !ok || country == "" {
			return nil, nil
		}
		if containsStr(cfg.BlockedCountries, country) {
			return &Violation{GateName: "gdpr-blocked-country", Regulation: RegGDPR, Severity: SeverityCritical, Code: "GDPR-003",
				Message: fmt.Sprintf("transfer to blocked country %s", country)}, nil
		}
		if containsStr(cfg.EEACountries, country) || containsStr(cfg.AdequateCountries, country) {
			return nil, nil
		}
		if sccOrBCR, _ := dataBool(ctx.Data, "scc_or_bcr"); sccOrBCR {
			return nil, nil
		}
		return &Violation{
			GateName: "gdpr-cross-border-no-safeguard", Regulation: RegGDPR, Severity: SeverityCritical, Code: "GDPR-003",
			Message: fmt.Sprintf("transfer to %s outside the EEA/adequacy list with no SCC/BCR on file", country),
		}, nil
	}
}

// GDPRConsentGate requires a recorded consent to be explicit and no older
// than cfg.MaxConsentAge before its purpose proceeds.
func GDPRConsentGate(cfg GDPRConfig) GateFunc {
	return func(ctx Context) (*Violation, error) {
		purpose, ok := dataString(ctx.Data, "purpose")
		if !ok || purpose == "" {
			return nil, nil
		}
		explicit, hasExplicit := dataBool(ctx.Data, "consent_explicit")
		if hasExplicit && !explicit {
			return &Violation{GateName: "gdpr-consent-not-explicit", Regulation: RegGDPR, Severity: SeverityCritical, Code: "GDPR-007",
				Message: fmt.Sprintf("processing for purpose %q relies on non-explicit consent", purpose)}, nil
		}
		consentedAt, hasAt := dataTime(ctx.Data, "consented_at")
		if !hasAt || cfg.MaxConsentAge <= 0 {
			return nil, nil
		}
		now := ctx.Timestamp
		if now.IsZero() {
			now = time.Now()
		}
		if now.Sub(consentedAt) <= cfg.MaxConsentAge {
			return nil, nil
		}
		return &Violation{GateName: "gdpr-consent-stale", Regulation: RegGDPR, Severity: SeverityWarning, Code: "GDPR-007",
			Message: fmt.Sprintf("consent for purpose %q is older than %s", purpose, cfg.MaxConsentAge)}, nil
	}
}

// GDPRPurposeLimitationGate rejects processing for a purpose not present
// in the data subject's registered purpose list.
func GDPRPurposeLimitationGate(ctx Context) (*Violation, error) {
	purpose, ok := dataString(ctx.Data, "purpose")
	if !ok || purpose == "" {
		return nil, nil
	}
	registered, ok := dataStrings(ctx.Data, "registered_purposes")
	if !ok {
		return nil, nil
	}
	if containsStr(registered, purpose) {
		return nil, nil
	}
	return &Violation{
		GateName: "gdpr-purpose-limitation", Regulation: RegGDPR, Severity: SeverityCritical, Code: "GDPR-004",
		Message: fmt.Sprintf("purpose %q is not in the data subject's registered purposes", purpose),
	}, nil
}

// GDPRDataMinimizationGate rejects a requested field set broader than the
// declared minimum-necessary fields.
func GDPRDataMinimizationGate(ctx Context) (*Violation, error) {
	requested, ok := dataStrings(ctx.Data, "requested_fields")
	if !ok {
		return nil, nil
	}
	allowed, ok := dataStrings(ctx.Data, "minimum_necessary_fields")
	if !ok {
		return nil, nil
	}
	var extra []string
	for _, f := range requested {
		if !containsStr(allowed, f) {
			extra = append(extra, f)
		}
	}
	if len(extra) == 0 {
		return nil, nil
	}
	return &Violation{
		GateName: "gdpr-data-minimization", Regulation: RegGDPR, Severity: SeverityWarning, Code: "GDPR-005",
		Message: fmt.Sprintf("requested fields exceed minimum necessary: %v", extra),
	}, nil
}

// GDPRRetentionGate rejects data held past cfg.RetentionDays for its
// category.
func GDPRRetentionGate(cfg GDPRConfig) GateFunc {
	return func(ctx Context) (*Violation, error) {
		category, ok := dataString(ctx.Data, "category")
		if !ok {
			return nil, nil
		}
		limit, ok := cfg.RetentionDays[category]
		if !ok {
			return nil, nil
		}
		ageDays, ok := dataFloat(ctx.Data, "retention_days")
		if !ok || int(ageDays) <= limit {
			return nil, nil
		}
		return &Violation{
			GateName: "gdpr-retention-exceeded", Regulation: RegGDPR, Severity: SeverityWarning, Code: "GDPR-006",
			Message: fmt.Sprintf("data in category %q retained %d days, exceeds %d day limit", category, int(ageDays), limit),
		}, nil
	}
}
