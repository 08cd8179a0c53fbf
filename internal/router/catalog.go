/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package router

import (
	"sync"

	"gopkg.in/yaml.v3"
)

// Catalog holds the built-in task_class -> modes registry.
type Catalog struct {
	mu    sync.RWMutex
	tasks map[string]Task
}

// NewCatalog returns an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{tasks: map[string]Task{}}
}

// Register adds or replaces a task class.
func (c *Catalog) Register(t Task) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tasks[t.Class] = t
}

// LoadYAML parses a YAML document of the form:
//
//	tasks:
//	  - class: deploy
//	    default_mode: default
//	    modes:
//	      default:
//	        entry_step: validate
//	        exit_step: done
//	        allowed_zones: [green, yellow]
//	        steps: [...]
//
// into the catalog, replacing any existing entries with the same class.
func (c *Catalog) LoadYAML(doc []byte) error {
	var parsed struct {
		Tasks []Task `yaml:"tasks"`
	}
	if err := yaml.Unmarshal(doc, &parsed); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, t := range parsed.Tasks {
		c.tasks[t.Class] = t
	}
	return nil
}

// Route resolves taskClass/mode into a Routing, validating the task and
// mode exist, the mode is allowed in zone, and the entry step is present.
func (c *Catalog) Route(taskClass, mode, zone string) (Routing, error) {
	c.mu.RLock()
	task, ok := c.tasks[taskClass]
	c.mu.RUnlock()
	if !ok {
		return Routing{}, ErrTaskNotFound
	}

	modeName := mode
	if modeName == "" {
		modeName = task.DefaultMode
	}
	m, ok := task.Modes[modeName]
	if !ok {
		return Routing{}, ErrModeNotFound
	}

	if len(m.AllowedZones) > 0 && zone != "" && !zoneAllowed(m.AllowedZones, zone) {
		return Routing{}, ErrZoneNotAllowed
	}

	steps := make(map[string]Step, len(m.Steps))
	for _, s := range m.Steps {
		steps[s.ID] = s
	}
	if _, ok := steps[m.EntryStep]; !ok {
		return Routing{}, ErrEntryStepMissing
	}

	return Routing{
		Task:              task.Class,
		Mode:              modeName,
		Steps:             steps,
		EntryStep:         m.EntryStep,
		ExitStep:          m.ExitStep,
		EstimatedDuration: durationMS(task.EstimatedDurationMS),
		EstimatedCost:     task.EstimatedCostUSD,
	}, nil
}

func zoneAllowed(allowed []string, zone string) bool {
	for _, z := range allowed {
		if z == zone {
			return true
		}
	}
	return false
}
