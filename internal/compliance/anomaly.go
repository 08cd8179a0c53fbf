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
	"sync"
	"time"
)

// FrequencyConfig bounds SOC2's anomaly-frequency heuristic: too many
// actions from one actor within a short window is reported as a violation
// rather than silently allowed through: a warning above Threshold, critical
// at twice Threshold or more.
type FrequencyConfig struct {
	Window    time.Duration
	Threshold int
}

// DefaultFrequencyConfig mirrors the teacher's baseline anomaly-detector
// defaults for run-frequency spikes.
func DefaultFrequencyConfig() FrequencyConfig {
	return FrequencyConfig{Window: 30 * time.Minute, Threshold: 6}
}

// FrequencyDetector tracks per-actor action timestamps in memory and
// reports a SOC2 violation once an actor exceeds Threshold actions inside
// Window. It is synchronous and safe for concurrent use, unlike the
// ticker-driven scan loop it is grounded on.
//
// This covers the "recent rate" dimension of SOC2's anomaly score only.
// The full composite score (rate plus time-of-day, new-ip, and
// resource-sensitivity terms with a sensitivity multiplier) needs an
// IP-reputation/geo source of truth this module has no equivalent of, and
// a weighting model beyond what SPEC_FULL.md specifies — see DESIGN.md.
type FrequencyDetector struct {
	cfg FrequencyConfig
	mu  sync.Mutex
	log map[string][]time.Time
	now func() time.Time
}

// NewFrequencyDetector constructs a detector with the given config,
// falling back to DefaultFrequencyConfig's zero fields.
func NewFrequencyDetector(cfg FrequencyConfig) *FrequencyDetector {
	defaults := DefaultFrequencyConfig()
	if cfg.Window <= 0 {
		cfg.Window = defaults.Window
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = defaults.Threshold
	}
	return &FrequencyDetector{cfg: cfg, log: map[string][]time.Time{}, now: time.Now}
}

// Gate adapts the detector into a GateFunc for Registry.RegisterFunc.
func (d *FrequencyDetector) Gate(ctx Context) (*Violation, error) {
	now := d.now()
	if ctx.Timestamp.IsZero() {
		ctx.Timestamp = now
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	history := d.log[ctx.Actor]
	kept := history[:0]
	for _, t := range history {
		if ctx.Timestamp.Sub(t) <= d.cfg.Window {
			kept = append(kept, t)
		}
	}
	kept = append(kept, ctx.Timestamp)
	d.log[ctx.Actor] = kept

	count := len(kept)
	if count <= d.cfg.Threshold {
		return nil, nil
	}

	severity := SeverityWarning
	if count >= d.cfg.Threshold*2 {
		severity = SeverityCritical
	}

	return &Violation{
		GateName:   "soc2-anomaly-frequency",
		Regulation: RegSOC2,
		Severity:   severity,
		Code:       "SOC2-006",
		Message: fmt.Sprintf(
			"actor %s performed %d actions within %s (threshold %d)",
			ctx.Actor, count, d.cfg.Window.Round(time.Second), d.cfg.Threshold,
		),
	}, nil
}
