/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package webhook

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
)

const defaultDeliveryHistoryLimit = 100

// DeliveryObserver records webhook delivery outcomes, e.g. into
// internal/metrics.
type DeliveryObserver interface {
	RecordWebhookDelivery(eventType string, statusCode int, duration time.Duration, err error)
}

// DeliveryRecord captures one dispatch attempt.
type DeliveryRecord struct {
	Timestamp  time.Time `json:"timestamp"`
	EventType  string    `json:"event_type"`
	TargetURL  string    `json:"target_url"`
	StatusCode int       `json:"status_code"`
	DurationMS int64     `json:"duration_ms"`
	Error      string    `json:"error,omitempty"`
}

// Endpoint is a registered outbound webhook destination.
type Endpoint struct {
	ID      string   `json:"id"`
	URL     string   `json:"url"`
	Events  []string `json:"events"`
	Secret  string   `json:"secret,omitempty"`
	Enabled bool     `json:"enabled"`
}

// Payload is the JSON body posted to an outbound endpoint.
type Payload struct {
	ID        string    `json:"id"`
	Event     string    `json:"event"`
	Timestamp time.Time `json:"timestamp"`
	RunID     string    `json:"run_id,omitempty"`
	Summary   string    `json:"summary"`
	Detail    any       `json:"detail,omitempty"`
}

// Dispatcher manages outbound webhook registrations and delivery, with a
// bounded ring buffer of recent delivery history.
type Dispatcher struct {
	mu         sync.RWMutex
	items      map[string]Endpoint
	httpClient *http.Client
	observer   DeliveryObserver

	deliveryMu sync.RWMutex
	deliveries []DeliveryRecord
}

// NewDispatcher creates a Dispatcher with a 5s HTTP timeout.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		items:      make(map[string]Endpoint),
		httpClient: &http.Client{Timeout: 5 * time.Second},
		deliveries: make([]DeliveryRecord, 0, defaultDeliveryHistoryLimit),
	}
}

// SetDeliveryObserver registers an optional delivery observer.
func (d *Dispatcher) SetDeliveryObserver(observer DeliveryObserver) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.observer = observer
}

// Register adds or updates an outbound endpoint.
func (d *Dispatcher) Register(ep Endpoint) Endpoint {
	if ep.ID == "" {
		ep.ID = uuid.NewString()
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.items[ep.ID] = ep
	return ep
}

// Remove deletes an endpoint.
func (d *Dispatcher) Remove(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.items, id)
}

// List returns all registered endpoints.
func (d *Dispatcher) List() []Endpoint {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]Endpoint, 0, len(d.items))
	for _, ep := range d.items {
		out = append(out, ep)
	}
	return out
}

// Deliveries returns the most recent delivery attempts, newest first.
func (d *Dispatcher) Deliveries(limit int) []DeliveryRecord {
	d.deliveryMu.RLock()
	defer d.deliveryMu.RUnlock()
	if limit <= 0 || limit > len(d.deliveries) {
		limit = len(d.deliveries)
	}
	out := make([]DeliveryRecord, 0, limit)
	for i := len(d.deliveries) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, d.deliveries[i])
	}
	return out
}

// Dispatch sends payload to every enabled endpoint subscribed to event,
// concurrently, retrying each delivery once on failure.
func (d *Dispatcher) Dispatch(event, runID, summary string, detail any) {
	d.mu.RLock()
	targets := make([]Endpoint, 0, len(d.items))
	for _, ep := range d.items {
		if !ep.Enabled || !containsEvent(ep.Events, event) {
			continue
		}
		targets = append(targets, ep)
	}
	d.mu.RUnlock()

	if len(targets) == 0 {
		return
	}

	timestamp := time.Now()
	for _, ep := range targets {
		payload := Payload{ID: ep.ID, Event: event, Timestamp: timestamp, RunID: runID, Summary: summary, Detail: detail}
		endpoint := ep
		go func() {
			started := time.Now()
			statusCode, err := d.sendWithRetry(endpoint, payload)
			d.recordDelivery(payload.Event, endpoint.URL, statusCode, time.Since(started), err)
		}()
	}
}

func (d *Dispatcher) sendWithRetry(ep Endpoint, payload Payload) (int, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("marshal webhook payload: %w", err)
	}

	client := d.client()

	var (
		lastErr    error
		statusCode int
	)
	for attempt := 1; attempt <= 2; attempt++ {
		req, err := http.NewRequest(http.MethodPost, ep.URL, bytes.NewReader(body))
		if err != nil {
			return 0, fmt.Errorf("webhook request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		if ep.Secret != "" {
			req.Header.Set("X-Agentcore-Signature", outboundSignature(ep.Secret, body))
		}

		resp, err := client.Do(req)
		if err == nil {
			statusCode = resp.StatusCode
			_, _ = io.Copy(io.Discard, resp.Body)
			_ = resp.Body.Close()
			if resp.StatusCode >= 200 && resp.StatusCode < 300 {
				return statusCode, nil
			}
			lastErr = fmt.Errorf("webhook returned status %d", resp.StatusCode)
		} else {
			lastErr = err
		}
	}

	return statusCode, lastErr
}

func (d *Dispatcher) recordDelivery(eventType, targetURL string, statusCode int, duration time.Duration, err error) {
	record := DeliveryRecord{
		Timestamp:  time.Now().UTC(),
		EventType:  eventType,
		TargetURL:  maskTargetURL(targetURL),
		StatusCode: statusCode,
		DurationMS: duration.Milliseconds(),
	}
	if err != nil {
		record.Error = err.Error()
	}

	d.deliveryMu.Lock()
	d.deliveries = append(d.deliveries, record)
	if len(d.deliveries) > defaultDeliveryHistoryLimit {
		offset := len(d.deliveries) - defaultDeliveryHistoryLimit
		copy(d.deliveries, d.deliveries[offset:])
		d.deliveries = d.deliveries[:defaultDeliveryHistoryLimit]
	}
	d.deliveryMu.Unlock()

	if observer := d.deliveryObserver(); observer != nil {
		observer.RecordWebhookDelivery(eventType, statusCode, duration, err)
	}
}

func (d *Dispatcher) deliveryObserver() DeliveryObserver {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.observer
}

func (d *Dispatcher) client() *http.Client {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.httpClient != nil {
		return d.httpClient
	}
	return &http.Client{Timeout: 5 * time.Second}
}

func containsEvent(events []string, target string) bool {
	for _, e := range events {
		if e == target {
			return true
		}
	}
	return false
}

func maskTargetURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "***"
	}
	scheme := u.Scheme
	if scheme == "" {
		scheme = "http"
	}
	return fmt.Sprintf("%s://%s/***", scheme, u.Host)
}

func outboundSignature(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
