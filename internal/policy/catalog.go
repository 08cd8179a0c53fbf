/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package policy

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrPolicyNotFound is returned by Catalog lookups/mutations on an unknown id.
var ErrPolicyNotFound = errors.New("policy: not found in catalog")

// Catalog is an in-memory CRUD store of policy definitions, independent of
// the Engine's runtime evaluation state (latches, rate buckets, cache).
// Loading the catalog into an Engine is a separate, explicit step so tests
// can swap catalogs without disturbing live killswitch latches.
type Catalog struct {
	mu       sync.Mutex
	policies map[string]*Policy
}

// NewCatalog returns an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{policies: make(map[string]*Policy)}
}

// List returns every policy, ordered by descending priority then id.
func (c *Catalog) List() []Policy {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]Policy, 0, len(c.policies))
	for _, p := range c.policies {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Get returns a single policy by id.
func (c *Catalog) Get(id string) (*Policy, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.policies[id]
	if !ok {
		return nil, ErrPolicyNotFound
	}
	cp := *p
	return &cp, nil
}

// Create adds a new policy, assigning it an id, version 1, and timestamps.
func (c *Catalog) Create(p Policy) *Policy {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	p.ID = uuid.NewString()
	p.Version = 1
	p.CreatedAt = now
	p.UpdatedAt = now
	if p.Status == "" {
		p.Status = StatusActive
	}
	c.policies[p.ID] = &p
	cp := p
	return &cp
}

// Update replaces an existing policy's definition, bumping its version.
func (c *Catalog) Update(id string, mutate func(*Policy)) (*Policy, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	p, ok := c.policies[id]
	if !ok {
		return nil, ErrPolicyNotFound
	}
	mutate(p)
	p.Version++
	p.UpdatedAt = time.Now()
	cp := *p
	return &cp, nil
}

// Delete removes a policy from the catalog.
func (c *Catalog) Delete(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.policies[id]; !ok {
		return ErrPolicyNotFound
	}
	delete(c.policies, id)
	return nil
}

// LoadInto registers every catalog policy into engine, overwriting any
// policy with the same id already registered there.
func (c *Catalog) LoadInto(engine *Engine) {
	for _, p := range c.List() {
		p := p
		engine.Register(&p)
	}
}
