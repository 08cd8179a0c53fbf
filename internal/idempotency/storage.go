/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package idempotency

import (
	"context"
	"sync"
	"time"
)

// Storage is the atomic primitive set every driver must implement. Per the
// source's design notes, interchangeable backends (in-memory, Postgres via
// pgx, MySQL) are modeled as a small interface rather than an inheritance
// hierarchy of storage base classes.
type Storage interface {
	// CreateIfAbsent inserts rec if (rec.KeyHash, rec.Namespace) does not
	// already exist. created is false when a record was already present,
	// in which case existing is that record.
	CreateIfAbsent(ctx context.Context, rec *Record) (created bool, existing *Record, err error)

	// Get returns the record for (keyHash, namespace), or ErrNotFound.
	Get(ctx context.Context, keyHash, namespace string) (*Record, error)

	// UpdateIfVersion applies mutate to the stored record only if its
	// current version equals expectedVersion, then bumps the version and
	// persists atomically. Returns ErrLockMismatch on a version conflict.
	UpdateIfVersion(ctx context.Context, keyHash, namespace string, expectedVersion int64, mutate func(*Record)) (*Record, error)

	// AcquireLockIfFree reclaims a stale or terminal record on behalf of a
	// new lock holder. Returns ErrLockMismatch if the existing record is
	// still validly locked by someone else.
	AcquireLockIfFree(ctx context.Context, keyHash, namespace, lockID string, lockExpiresAt time.Time) (*Record, error)

	// CleanupExpired deletes every record whose ExpiresAt is before cutoff
	// and returns the count removed.
	CleanupExpired(ctx context.Context, cutoff time.Time) (int, error)
}

type recordKey struct {
	keyHash   string
	namespace string
}

// MemoryStorage is an in-process Storage backed by a mutex-guarded map. It
// is the default driver and the reference implementation the pgx/MySQL
// drivers must behave identically to.
type MemoryStorage struct {
	mu      sync.Mutex
	records map[recordKey]*Record
}

// NewMemoryStorage constructs an empty MemoryStorage.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{records: make(map[recordKey]*Record)}
}

func (m *MemoryStorage) CreateIfAbsent(_ context.Context, rec *Record) (bool, *Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := recordKey{rec.KeyHash, rec.Namespace}
	if existing, ok := m.records[k]; ok {
		cp := *existing
		return false, &cp, nil
	}
	cp := *rec
	m.records[k] = &cp
	out := *rec
	return true, &out, nil
}

func (m *MemoryStorage) Get(_ context.Context, keyHash, namespace string) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[recordKey{keyHash, namespace}]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (m *MemoryStorage) UpdateIfVersion(_ context.Context, keyHash, namespace string, expectedVersion int64, mutate func(*Record)) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := recordKey{keyHash, namespace}
	rec, ok := m.records[k]
	if !ok {
		return nil, ErrNotFound
	}
	if rec.Version != expectedVersion {
		return nil, ErrLockMismatch
	}
	mutate(rec)
	rec.Version++
	cp := *rec
	return &cp, nil
}

func (m *MemoryStorage) AcquireLockIfFree(_ context.Context, keyHash, namespace, lockID string, lockExpiresAt time.Time) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := recordKey{keyHash, namespace}
	rec, ok := m.records[k]
	if !ok {
		return nil, ErrNotFound
	}
	if rec.Status == StatusCompleted {
		return nil, ErrConflict
	}
	if (rec.Status == StatusLocked || rec.Status == StatusPending) &&
		rec.LockExpiresAt != nil && time.Now().Before(*rec.LockExpiresAt) {
		return nil, ErrLockMismatch
	}
	rec.Status = StatusLocked
	rec.LockID = lockID
	rec.LockExpiresAt = &lockExpiresAt
	rec.AttemptCount++
	rec.Version++
	rec.UpdatedAt = time.Now()
	cp := *rec
	return &cp, nil
}

func (m *MemoryStorage) CleanupExpired(_ context.Context, cutoff time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for k, rec := range m.records {
		if rec.ExpiresAt.Before(cutoff) {
			delete(m.records, k)
			n++
		}
	}
	return n, nil
}
