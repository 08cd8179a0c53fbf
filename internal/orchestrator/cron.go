/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package orchestrator

import (
	"context"
	"sync"

	"github.com/robfig/cron/v3"
)

// Scheduler periodically sweeps running runs to persist their latest state
// (the "auto-save timer" the run lifecycle requires independent of the
// per-step Put calls) and to evict runs past their terminal retention
// window. It also accepts arbitrary cron-triggered run creation, for
// agents configured to run on a schedule rather than on demand.
type Scheduler struct {
	o    *Orchestrator
	cron *cron.Cron

	mu      sync.Mutex
	running bool
}

// NewScheduler wires a cron scheduler against the given orchestrator.
func NewScheduler(o *Orchestrator) *Scheduler {
	return &Scheduler{o: o, cron: cron.New()}
}

// StartAutosave registers the autosave and retention sweeps on the given
// cron expressions and starts the scheduler's goroutine.
func (s *Scheduler) StartAutosave(ctx context.Context, autosaveSpec, retentionSpec string) error {
	if _, err := s.cron.AddFunc(autosaveSpec, func() { s.o.autosaveRunningRuns(ctx) }); err != nil {
		return err
	}
	if _, err := s.cron.AddFunc(retentionSpec, func() { s.o.Cleanup(ctx) }); err != nil {
		return err
	}
	s.mu.Lock()
	s.running = true
	s.mu.Unlock()
	s.cron.Start()
	return nil
}

// ScheduleRun registers a recurring run creation on the given cron
// expression, e.g. for a scheduled compliance sweep or health check.
func (s *Scheduler) ScheduleRun(ctx context.Context, spec string, opts CreateOptions) (cron.EntryID, error) {
	return s.cron.AddFunc(spec, func() {
		run, err := s.o.CreateRun(ctx, opts)
		if err != nil {
			return
		}
		_ = s.o.StartRun(ctx, run.ID)
	})
}

// Stop halts the scheduler and waits for any in-flight job to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	<-s.cron.Stop().Done()
	s.running = false
}

// autosaveRunningRuns persists every currently-running run under the same
// lock used by the mutating lifecycle methods, so a snapshot copy is taken
// before any per-run Put call releases the lock.
func (o *Orchestrator) autosaveRunningRuns(ctx context.Context) {
	o.mu.Lock()
	snapshot := make([]*Run, 0, len(o.runs))
	for _, r := range o.runs {
		if r.Phase == PhaseRunning {
			snapshot = append(snapshot, r)
		}
	}
	o.mu.Unlock()

	for _, r := range snapshot {
		o.persist(ctx, r)
	}
}
