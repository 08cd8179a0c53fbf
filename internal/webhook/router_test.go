/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"testing"
)

func signedBody(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func TestRouterDispatchesToMatchedRouteAndGlobalHandlers(t *testing.T) {
	secret := "shh"
	body := []byte(`{"id":"evt_1","type":"run.completed"}`)

	var routeCalled, globalCalled bool
	r := NewRouter()
	r.AddRoute(Route{
		Path:     "/hooks/acme",
		Provider: "acme",
		Verifier: NewVerifier(Generic(AlgoSHA256, EncodingHex), 0),
		Handler: func(ctx context.Context, ev *Event) error {
			routeCalled = true
			if ev == nil || ev.ID != "evt_1" {
				t.Fatalf("expected event evt_1, got %+v", ev)
			}
			return nil
		},
	})
	r.Use(func(ctx context.Context, ev *Event) error {
		globalCalled = true
		return nil
	})

	result := r.Dispatch(context.Background(), "/hooks/acme", VerifyOptions{
		Body: body, Signature: signedBody(secret, body), Secret: []byte(secret),
	})
	if !result.Success {
		t.Fatalf("expected success, got %+v", result)
	}
	if result.Provider != "acme" {
		t.Fatalf("got provider %q, want acme", result.Provider)
	}
	if !routeCalled || !globalCalled {
		t.Fatalf("expected both route and global handlers to run, got route=%v global=%v", routeCalled, globalCalled)
	}
}

func TestRouterRunsGlobalHandlerEvenWhenRouteHandlerErrors(t *testing.T) {
	secret := "shh"
	body := []byte(`{"id":"evt_2"}`)

	var globalCalled bool
	r := NewRouter()
	r.AddRoute(Route{
		Path:     "/hooks/acme",
		Provider: "acme",
		Verifier: NewVerifier(Generic(AlgoSHA256, EncodingHex), 0),
		Handler: func(ctx context.Context, ev *Event) error {
			return errors.New("route handler blew up")
		},
	})
	r.Use(func(ctx context.Context, ev *Event) error {
		globalCalled = true
		return nil
	})

	result := r.Dispatch(context.Background(), "/hooks/acme", VerifyOptions{
		Body: body, Signature: signedBody(secret, body), Secret: []byte(secret),
	})
	if !result.Success {
		t.Fatalf("a handler error must not mark the dispatch itself as failed, got %+v", result)
	}
	if !globalCalled {
		t.Fatal("expected the global handler to still run after the route handler errored")
	}
	if len(result.HandlerErrs) != 1 {
		t.Fatalf("expected exactly one collected handler error, got %v", result.HandlerErrs)
	}
}

func TestRouterUnknownPathReturnsNoRoute(t *testing.T) {
	r := NewRouter()
	result := r.Dispatch(context.Background(), "/hooks/unknown", VerifyOptions{})
	if result.Success || result.ErrorCode != CodeNoRoute {
		t.Fatalf("got success=%v code=%s, want NO_ROUTE", result.Success, result.ErrorCode)
	}
}

func TestRouterFallsBackToDefaultProvider(t *testing.T) {
	secret := "shh"
	body := []byte(`{"id":"evt_3"}`)

	r := NewRouter()
	r.SetDefaultRoute("fallback", NewVerifier(Generic(AlgoSHA256, EncodingHex), 0))

	result := r.Dispatch(context.Background(), "/hooks/unmapped", VerifyOptions{
		Body: body, Signature: signedBody(secret, body), Secret: []byte(secret),
	})
	if !result.Success || result.Provider != "fallback" {
		t.Fatalf("expected the default provider to handle an unmapped path, got %+v", result)
	}
}

func TestRouterDispatchFailsOnBadSignature(t *testing.T) {
	r := NewRouter()
	r.AddRoute(Route{
		Path:     "/hooks/acme",
		Provider: "acme",
		Verifier: NewVerifier(Generic(AlgoSHA256, EncodingHex), 0),
	})

	result := r.Dispatch(context.Background(), "/hooks/acme", VerifyOptions{
		Body: []byte(`{}`), Signature: "deadbeef", Secret: []byte("shh"),
	})
	if result.Success || result.ErrorCode != CodeSignatureMismatch {
		t.Fatalf("got success=%v code=%s, want SIGNATURE_MISMATCH", result.Success, result.ErrorCode)
	}
}
