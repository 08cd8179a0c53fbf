/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package webhook

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

func TestDispatchDeliversOnlyToSubscribedEnabledEndpoints(t *testing.T) {
	var mu sync.Mutex
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		hits++
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d := NewDispatcher()
	d.Register(Endpoint{ID: "a", URL: srv.URL, Events: []string{"run.completed"}, Enabled: true})
	d.Register(Endpoint{ID: "b", URL: srv.URL, Events: []string{"run.failed"}, Enabled: true})
	d.Register(Endpoint{ID: "c", URL: srv.URL, Events: []string{"run.completed"}, Enabled: false})

	d.Dispatch("run.completed", "run-1", "done", nil)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		h := hits
		mu.Unlock()
		if h >= 1 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if hits != 1 {
		t.Fatalf("got %d deliveries, want exactly 1 (endpoint a only)", hits)
	}
}

func TestDispatchSignsPayloadWhenSecretConfigured(t *testing.T) {
	received := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		received <- r.Header.Get("X-Agentcore-Signature")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d := NewDispatcher()
	d.Register(Endpoint{ID: "a", URL: srv.URL, Events: []string{"run.completed"}, Enabled: true, Secret: "topsecret"})
	d.Dispatch("run.completed", "run-1", "done", nil)

	select {
	case sig := <-received:
		if sig == "" {
			t.Fatal("expected a non-empty signature header")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for delivery")
	}
}

func TestDeliveriesRecordsOutcomeAndMasksURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d := NewDispatcher()
	d.Register(Endpoint{ID: "a", URL: srv.URL, Events: []string{"run.completed"}, Enabled: true})
	d.Dispatch("run.completed", "run-1", "done", map[string]any{"k": "v"})

	deadline := time.Now().Add(2 * time.Second)
	var records []DeliveryRecord
	for time.Now().Before(deadline) {
		records = d.Deliveries(10)
		if len(records) > 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	if len(records) != 1 {
		t.Fatalf("got %d delivery records, want 1", len(records))
	}
	if records[0].StatusCode != 200 {
		t.Fatalf("status code = %d, want 200", records[0].StatusCode)
	}
	if records[0].TargetURL == srv.URL {
		t.Fatal("expected target URL to be masked in delivery history")
	}
}

type fakeObserver struct {
	mu    sync.Mutex
	calls int
}

func (f *fakeObserver) RecordWebhookDelivery(eventType string, statusCode int, duration time.Duration, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
}

func TestDeliveryObserverIsNotified(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	obs := &fakeObserver{}
	d := NewDispatcher()
	d.SetDeliveryObserver(obs)
	d.Register(Endpoint{ID: "a", URL: srv.URL, Events: []string{"run.completed"}, Enabled: true})
	d.Dispatch("run.completed", "run-1", "done", nil)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		obs.mu.Lock()
		c := obs.calls
		obs.mu.Unlock()
		if c > 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	obs.mu.Lock()
	defer obs.mu.Unlock()
	if obs.calls != 1 {
		t.Fatalf("observer called %d times, want 1", obs.calls)
	}
}

func TestPayloadMarshalsExpectedFields(t *testing.T) {
	p := Payload{ID: "ep-1", Event: "run.completed", Timestamp: time.Now(), RunID: "run-9", Summary: "ok"}
	b, err := json.Marshal(p)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(b, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded["run_id"] != "run-9" {
		t.Fatalf("got run_id=%v, want run-9", decoded["run_id"])
	}
}
