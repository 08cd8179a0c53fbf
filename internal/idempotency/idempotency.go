/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

// Package idempotency provides exactly-once execution of an arbitrary
// operation keyed by a composite (namespace, key-hash) pair. Callers use
// Check to decide whether to proceed, Start to atomically claim a lock,
// and Complete/Fail to release it with a terminal result. Storage is a
// small pluggable interface; Ledger never assumes anything about how a
// driver persists records beyond the atomic primitives it exposes.
package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Status is a record's lifecycle state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusLocked    Status = "locked"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusExpired   Status = "expired"
)

var (
	// ErrFingerprintMismatch is returned by Check when requestData hashes
	// to a different fingerprint than the one stored for a completed
	// record — treated as a replay attempt, never retried.
	ErrFingerprintMismatch = errors.New("idempotency: fingerprint mismatch")

	// ErrLockMismatch is returned by Complete/Fail/ExtendLock when the
	// caller's lock id or expected version no longer matches the stored
	// record (the lock was stolen, released, or already finalized).
	ErrLockMismatch = errors.New("idempotency: lock mismatch")

	// ErrNotFound is returned when no record exists for the given lock.
	ErrNotFound = errors.New("idempotency: record not found")

	// ErrConflict is returned by Start when an existing record is already
	// completed — the caller should have used Check first and replayed the
	// cached result instead of calling Start again.
	ErrConflict = errors.New("idempotency: conflict, operation already completed")
)

// Record is a single idempotency ledger entry.
type Record struct {
	ID             string
	KeyHash        string
	Namespace      string
	Status         Status
	Metadata       map[string]any
	Result         json.RawMessage
	Error          string
	LockID         string
	LockExpiresAt  *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
	ExpiresAt      time.Time
	AttemptCount   int
	Version        int64
	Fingerprint    string
	ProcessingMS   int64
}

// Lock is returned by Start and must be presented to Complete, Fail, and
// ExtendLock. It carries the optimistic version the caller observed, so a
// stale lock is rejected rather than silently retried.
type Lock struct {
	KeyHash   string
	Namespace string
	LockID    string
	Version   int64
}

// CheckResult is the outcome of Check.
type CheckResult struct {
	ShouldProceed  bool
	ExistingStatus Status
	CachedResult   json.RawMessage
	Record         *Record
	Reason         string
}

// Config controls TTL bounds and fingerprinting.
type Config struct {
	DefaultTTL        time.Duration
	MinTTL            time.Duration
	MaxTTL            time.Duration
	FingerprintOn     bool
	DefaultNamespace  string
	DefaultPrefix     string
	LockRetryAttempts int
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		DefaultTTL:        10 * time.Minute,
		MinTTL:            30 * time.Second,
		MaxTTL:            24 * time.Hour,
		FingerprintOn:     true,
		DefaultNamespace:  "default",
		DefaultPrefix:     "idem",
		LockRetryAttempts: 5,
	}
}

func (c Config) clampTTL(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		ttl = c.DefaultTTL
	}
	if ttl < c.MinTTL {
		return c.MinTTL
	}
	if ttl > c.MaxTTL {
		return c.MaxTTL
	}
	return ttl
}

// StartOptions configures Start.
type StartOptions struct {
	RequestData map[string]any
	TTL         time.Duration
	Actor       string
	Metadata    map[string]any
}

// Ledger ties a Storage driver to the Config controlling TTLs and
// fingerprinting.
type Ledger struct {
	storage Storage
	config  Config
	now     func() time.Time
	sleep   func(time.Duration)
}

// New constructs a Ledger over storage.
func New(storage Storage, cfg Config) *Ledger {
	return &Ledger{
		storage: storage,
		config:  cfg,
		now:     time.Now,
		sleep:   time.Sleep,
	}
}

// Check looks up key by hash and reports whether the caller should
// proceed with the underlying operation.
func (l *Ledger) Check(ctx context.Context, prefix, key string, requestData map[string]any) (CheckResult, error) {
	keyHash := HashKey(prefix, key)
	rec, err := l.storage.Get(ctx, keyHash, l.config.DefaultNamespace)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return CheckResult{ShouldProceed: true, Reason: "no existing record"}, nil
		}
		return CheckResult{}, err
	}

	if rec.Status == StatusLocked && rec.LockExpiresAt != nil && l.now().After(*rec.LockExpiresAt) {
		rec.Status = StatusExpired
	}

	if l.config.FingerprintOn && requestData != nil && rec.Status == StatusCompleted {
		fp := Fingerprint(requestData)
		if rec.Fingerprint != "" && rec.Fingerprint != fp {
			return CheckResult{}, ErrFingerprintMismatch
		}
	}

	switch rec.Status {
	case StatusCompleted:
		return CheckResult{
			ShouldProceed:  false,
			ExistingStatus: rec.Status,
			CachedResult:   rec.Result,
			Record:         rec,
			Reason:         "already completed",
		}, nil
	case StatusPending, StatusLocked:
		return CheckResult{
			ShouldProceed:  false,
			ExistingStatus: rec.Status,
			Record:         rec,
			Reason:         "operation in flight",
		}, nil
	case StatusFailed:
		return CheckResult{ShouldProceed: true, ExistingStatus: rec.Status, Record: rec, Reason: "prior attempt failed"}, nil
	case StatusExpired:
		if err := l.storage.CleanupExpired(ctx, l.now()); err != nil {
			return CheckResult{}, err
		}
		return CheckResult{ShouldProceed: true, ExistingStatus: rec.Status, Reason: "prior lock expired"}, nil
	default:
		return CheckResult{ShouldProceed: true}, nil
	}
}

// Start atomically claims a lock for (prefix, key), retrying with bounded
// exponential backoff (100 ms, doubling, capped at 1 s) when it observes a
// stale lock belonging to a prior, expired attempt.
func (l *Ledger) Start(ctx context.Context, prefix, key, op string, opts StartOptions) (Lock, error) {
	keyHash := HashKey(prefix, key)
	ttl := l.config.clampTTL(opts.TTL)
	now := l.now()
	lockID := uuid.NewString()

	var fp string
	if l.config.FingerprintOn && opts.RequestData != nil {
		fp = Fingerprint(opts.RequestData)
	}

	newRec := &Record{
		ID:            uuid.NewString(),
		KeyHash:       keyHash,
		Namespace:     l.config.DefaultNamespace,
		Status:        StatusLocked,
		Metadata:      opts.Metadata,
		LockID:        lockID,
		LockExpiresAt: ptrTime(now.Add(ttl)),
		CreatedAt:     now,
		UpdatedAt:     now,
		ExpiresAt:     now.Add(ttl),
		AttemptCount:  1,
		Version:       1,
		Fingerprint:   fp,
	}

	backoff := 100 * time.Millisecond
	const maxBackoff = time.Second

	for attempt := 0; ; attempt++ {
		created, existing, err := l.storage.CreateIfAbsent(ctx, newRec)
		if err != nil {
			return Lock{}, err
		}
		if created {
			return Lock{KeyHash: keyHash, Namespace: l.config.DefaultNamespace, LockID: lockID, Version: 1}, nil
		}

		// Collision: someone already has (or had) this key.
		if existing.Status == StatusCompleted {
			return Lock{}, ErrConflict
		}
		if (existing.Status == StatusLocked || existing.Status == StatusPending) &&
			existing.LockExpiresAt != nil && !l.now().After(*existing.LockExpiresAt) {
			return Lock{}, fmt.Errorf("idempotency: %w: key already locked", ErrLockMismatch)
		}

		// Stale lock, failed, or expired record: attempt to reclaim it.
		rec, err := l.storage.AcquireLockIfFree(ctx, keyHash, l.config.DefaultNamespace, lockID, now.Add(ttl))
		if err == nil {
			return Lock{KeyHash: keyHash, Namespace: l.config.DefaultNamespace, LockID: lockID, Version: rec.Version}, nil
		}

		if attempt >= l.config.LockRetryAttempts {
			return Lock{}, fmt.Errorf("idempotency: %w: exhausted lock acquisition retries", ErrLockMismatch)
		}

		select {
		case <-ctx.Done():
			return Lock{}, ctx.Err()
		default:
		}
		l.sleep(backoff)
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

// Complete finalizes lock with a successful result.
func (l *Ledger) Complete(ctx context.Context, lock Lock, result any) error {
	raw, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("idempotency: marshal result: %w", err)
	}
	return l.finalize(ctx, lock, StatusCompleted, raw, "")
}

// Fail finalizes lock with a terminal error, leaving it retryable.
func (l *Ledger) Fail(ctx context.Context, lock Lock, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	return l.finalize(ctx, lock, StatusFailed, nil, msg)
}

func (l *Ledger) finalize(ctx context.Context, lock Lock, status Status, result json.RawMessage, errMsg string) error {
	start := l.now()
	_, err := l.storage.UpdateIfVersion(ctx, lock.KeyHash, lock.Namespace, lock.Version, func(rec *Record) {
		rec.Status = status
		rec.Result = result
		rec.Error = errMsg
		rec.LockID = ""
		rec.LockExpiresAt = nil
		rec.UpdatedAt = start
		rec.ProcessingMS = start.Sub(rec.CreatedAt).Milliseconds()
	})
	if err != nil {
		if errors.Is(err, ErrLockMismatch) {
			return err
		}
		return fmt.Errorf("idempotency: finalize: %w", err)
	}
	return nil
}

// ExtendLock pushes lock's expiry out by seconds, for long-running
// operations that outlive the original TTL.
func (l *Ledger) ExtendLock(ctx context.Context, lock Lock, seconds int) (Lock, error) {
	newExpiry := l.now().Add(time.Duration(seconds) * time.Second)
	rec, err := l.storage.UpdateIfVersion(ctx, lock.KeyHash, lock.Namespace, lock.Version, func(rec *Record) {
		rec.LockExpiresAt = &newExpiry
		rec.ExpiresAt = newExpiry
		rec.UpdatedAt = l.now()
	})
	if err != nil {
		return Lock{}, err
	}
	return Lock{KeyHash: lock.KeyHash, Namespace: lock.Namespace, LockID: lock.LockID, Version: rec.Version}, nil
}

// IsLockValid reports whether lock still owns an unexpired record.
func (l *Ledger) IsLockValid(ctx context.Context, lock Lock) (bool, error) {
	rec, err := l.storage.Get(ctx, lock.KeyHash, lock.Namespace)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	if rec.LockID != lock.LockID || rec.Version != lock.Version {
		return false, nil
	}
	if rec.LockExpiresAt == nil || l.now().After(*rec.LockExpiresAt) {
		return false, nil
	}
	return true, nil
}

// Cleanup removes records that expired before the cutoff. Safe to run
// periodically as a background sweep (e.g. via robfig/cron).
func (l *Ledger) Cleanup(ctx context.Context, before time.Time) (int, error) {
	return l.storage.CleanupExpired(ctx, before)
}

func ptrTime(t time.Time) *time.Time { return &t }
