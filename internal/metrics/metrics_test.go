/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func getCounterValue(cv *prometheus.CounterVec, labels ...string) float64 {
	m := &dto.Metric{}
	if err := cv.WithLabelValues(labels...).Write(m); err != nil {
		return 0
	}
	return m.GetCounter().GetValue()
}

func getGaugeValue(g prometheus.Gauge) float64 {
	m := &dto.Metric{}
	if err := g.Write(m); err != nil {
		return 0
	}
	return m.GetGauge().GetValue()
}

func getHistogramCount(hv *prometheus.HistogramVec, labels ...string) uint64 {
	m := &dto.Metric{}
	observer := hv.WithLabelValues(labels...)
	if c, ok := observer.(prometheus.Metric); ok {
		if err := c.Write(m); err != nil {
			return 0
		}
		return m.GetHistogram().GetSampleCount()
	}
	return 0
}

func getHistogramSampleCount(h prometheus.Histogram) uint64 {
	m := &dto.Metric{}
	if err := h.(prometheus.Metric).Write(m); err != nil {
		return 0
	}
	return m.GetHistogram().GetSampleCount()
}

func TestRecordRunComplete(t *testing.T) {
	RecordRunComplete("incident-triage", "completed", 42*time.Second)

	val := getCounterValue(RunsTotal, "incident-triage", "completed")
	if val < 1 {
		t.Errorf("RunsTotal = %f, want >= 1", val)
	}

	count := getHistogramCount(RunDurationSeconds, "incident-triage")
	if count < 1 {
		t.Errorf("RunDurationSeconds sample count = %d, want >= 1", count)
	}
}

func TestRecordStep(t *testing.T) {
	RecordStep("tool_call", "ok", 250*time.Millisecond)
	RecordStep("tool_call", "ok", 100*time.Millisecond)

	val := getCounterValue(StepsTotal, "tool_call", "ok")
	if val < 2 {
		t.Errorf("StepsTotal = %f, want >= 2", val)
	}
}

func TestRecordPolicyDecision(t *testing.T) {
	RecordPolicyDecision("rate_limit", "red", "denied")

	val := getCounterValue(PolicyDecisionsTotal, "rate_limit", "red", "denied")
	if val < 1 {
		t.Errorf("PolicyDecisionsTotal = %f, want >= 1", val)
	}
}

func TestRecordApprovalOutcome(t *testing.T) {
	RecordApprovalOutcome("red", "approved", 30*time.Second)

	val := getCounterValue(ApprovalRequestsTotal, "red", "approved")
	if val < 1 {
		t.Errorf("ApprovalRequestsTotal = %f, want >= 1", val)
	}
	if getHistogramSampleCount(ApprovalWaitSeconds) < 1 {
		t.Error("ApprovalWaitSeconds should have at least one sample")
	}
}

func TestRecordIdempotencyLookup(t *testing.T) {
	RecordIdempotencyLookup("replay")
	val := getCounterValue(IdempotencyReplaysTotal, "replay")
	if val < 1 {
		t.Errorf("IdempotencyReplaysTotal = %f, want >= 1", val)
	}
}

func TestRecordQualityGateFailure(t *testing.T) {
	RecordQualityGateFailure("pii")
	val := getCounterValue(QualityGateFailuresTotal, "pii")
	if val < 1 {
		t.Errorf("QualityGateFailuresTotal = %f, want >= 1", val)
	}
}

func TestRecordComplianceFailure(t *testing.T) {
	RecordComplianceFailure("tcpa")
	val := getCounterValue(ComplianceGateFailuresTotal, "tcpa")
	if val < 1 {
		t.Errorf("ComplianceGateFailuresTotal = %f, want >= 1", val)
	}
}

func TestRecordWebhookDelivery(t *testing.T) {
	RecordWebhookDelivery("stripe", "verified")
	val := getCounterValue(WebhookDeliveriesTotal, "stripe", "verified")
	if val < 1 {
		t.Errorf("WebhookDeliveriesTotal = %f, want >= 1", val)
	}
}

func TestActiveRuns(t *testing.T) {
	ActiveRuns.Set(0)

	ActiveRuns.Inc()
	ActiveRuns.Inc()

	val := getGaugeValue(ActiveRuns)
	if val != 2 {
		t.Errorf("ActiveRuns = %f, want 2", val)
	}

	ActiveRuns.Dec()
	val = getGaugeValue(ActiveRuns)
	if val != 1 {
		t.Errorf("ActiveRuns after Dec = %f, want 1", val)
	}
}

func TestMultipleTaskClassMetrics(t *testing.T) {
	RecordRunComplete("remediation", "completed", 10*time.Second)
	RecordRunComplete("remediation", "failed", 5*time.Second)

	completed := getCounterValue(RunsTotal, "remediation", "completed")
	failed := getCounterValue(RunsTotal, "remediation", "failed")
	cancelled := getCounterValue(RunsTotal, "remediation", "cancelled")

	if completed < 1 {
		t.Error("remediation completed should be >= 1")
	}
	if failed < 1 {
		t.Error("remediation failed should be >= 1")
	}
	if cancelled != 0 {
		t.Errorf("remediation cancelled = %f, want 0", cancelled)
	}
}
