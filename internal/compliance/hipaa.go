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

// HIPAAConfig gates whether the BAA check applies at all; a deployment
// with no third-party processors can disable it rather than having to
// fake a baa_on_file flag on every context.
type HIPAAConfig struct {
	RequireBAAForThirdParty bool
}

// DefaultHIPAAConfig requires a BAA on file for any third-party access.
func DefaultHIPAAConfig() HIPAAConfig {
	return HIPAAConfig{RequireBAAForThirdParty: true}
}

// HIPAAAuthorizationGate requires a recorded, unexpired authorization
// scoping actor's access to patient's record, covering the accessed field
// set.
func HIPAAAuthorizationGate(state *State) GateFunc {
	return func(ctx Context) (*Violation, error) {
		phi, _ := dataBool(ctx.Data, "contains_phi")
		if !phi || ctx.DataSubject == "" {
			return nil, nil
		}
		scope, expiry, ok := state.Authorization(ctx.Actor, ctx.DataSubject)
		if !ok {
			return &Violation{GateName: "hipaa-authorization-missing", Regulation: RegHIPAA, Severity: SeverityCritical, Code: "HIPAA-002",
				Message: fmt.Sprintf("actor %s has no recorded authorization for patient %s", ctx.Actor, ctx.DataSubject)}, nil
		}
		now := ctx.Timestamp
		if now.IsZero() {
			now = time.Now()
		}
		if !expiry.IsZero() && now.After(expiry) {
			return &Violation{GateName: "hipaa-authorization-expired", Regulation: RegHIPAA, Severity: SeverityCritical, Code: "HIPAA-002",
				Message: fmt.Sprintf("authorization for actor %s, patient %s expired at %s", ctx.Actor, ctx.DataSubject, expiry)}, nil
		}
		if requested, ok := dataStrings(ctx.Data, "requested_fields"); ok {
			for _, f := range requested {
				if !scope[f] {
					return &Violation{GateName: "hipaa-authorization-scope", Regulation: RegHIPAA, Severity: SeverityCritical, Code: "HIPAA-002",
						Message: fmt.Sprintf("field %q is outside the authorized scope for patient %s", f, ctx.DataSubject)}, nil
				}
			}
		}
		return nil, nil
	}
}

// HIPAAMinimumNecessaryGate rejects a requested PHI field set broader
// than the declared minimum-necessary set for the action.
func HIPAAMinimumNecessaryGate(ctx Context) (*Violation, error) {
	phi, _ := dataBool(ctx.Data, "contains_phi")
	if !phi {
		return nil, nil
	}
	requested, ok := dataStrings(ctx.Data, "requested_fields")
	if !ok {
		return nil, nil
	}
	allowed, ok := dataStrings(ctx.Data, "minimum_necessary_fields")
	if !ok {
		return nil, nil
	}
	for _, f := range requested {
		if !containsStr(allowed, f) {
			return &Violation{GateName: "hipaa-minimum-necessary", Regulation: RegHIPAA, Severity: SeverityWarning, Code: "HIPAA-003",
				Message: fmt.Sprintf("field %q exceeds the minimum necessary set for this PHI access", f)}, nil
		}
	}
	return nil, nil
}

// HIPAAEncryptionGate requires PHI to rest and travel encrypted wherever
// the context reports an encryption flag at all; a context that never
// mentions encryption is assumed to be an infrastructure guarantee
// enforced elsewhere, not a compliance-layer concern.
func HIPAAEncryptionGate(ctx Context) (*Violation, error) {
	phi, _ := dataBool(ctx.Data, "contains_phi")
	if !phi {
		return nil, nil
	}
	atRest, hasAtRest := dataBool(ctx.Data, "encrypted_at_rest")
	inTransit, hasInTransit := dataBool(ctx.Data, "encrypted_in_transit")
	if !hasAtRest && !hasInTransit {
		return nil, nil
	}
	if (!hasAtRest || atRest) && (!hasInTransit || inTransit) {
		return nil, nil
	}
	return &Violation{
		GateName: "hipaa-encryption-required", Regulation: RegHIPAA, Severity: SeverityCritical, Code: "HIPAA-004",
		Message: "PHI stored or transmitted without required encryption",
	}, nil
}

// HIPAABAAGate requires a business-associate agreement on file before PHI
// reaches a third party, when cfg.RequireBAAForThirdParty is set.
func HIPAABAAGate(cfg HIPAAConfig) GateFunc {
	return func(ctx Context) (*Violation, error) {
		if !cfg.RequireBAAForThirdParty {
			return nil, nil
		}
		thirdParty, _ := dataBool(ctx.Data, "third_party_access")
		if !thirdParty {
			return nil, nil
		}
		if onFile, _ := dataBool(ctx.Data, "baa_on_file"); onFile {
			return nil, nil
		}
		return &Violation{
			GateName: "hipaa-baa-required", Regulation: RegHIPAA, Severity: SeverityCritical, Code: "HIPAA-005",
			Message: "PHI shared with a third party with no business associate agreement on file",
		}, nil
	}
}
