/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package orchestrator

// AuditSink records a verb-level audit trail entry for the run lifecycle,
// independent of the state store's own CREATE/SUPERSEDE/DELETE audit
// records (those cover state mutations; this covers orchestrator actions:
// create, start, complete, fail, cancel, tool execution).
type AuditSink interface {
	LogAction(verb, actor, target, zone string, success bool, durationMS int64, metadata map[string]any, errMsg string)
}

// NoopAuditSink discards every record.
type NoopAuditSink struct{}

func (NoopAuditSink) LogAction(verb, actor, target, zone string, success bool, durationMS int64, metadata map[string]any, errMsg string) {
}
