/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package router

import "errors"

var (
	ErrTaskNotFound    = errors.New("router: unknown task class")
	ErrModeNotFound    = errors.New("router: unknown mode")
	ErrZoneNotAllowed  = errors.New("router: mode not allowed in this zone")
	ErrEntryStepMissing = errors.New("router: mode's entry step is not in its step list")
)

// Typed error codes surfaced on StepResult.ErrorCode, matching the
// suspension/termination vocabulary the orchestrator routes on.
const (
	CodeZoneMismatch      = "ZONE_MISMATCH"
	CodeNoHandler         = "NO_HANDLER"
	CodeStepTimeout       = "STEP_TIMEOUT"
	CodePollingTimeout    = "POLLING_TIMEOUT"
	CodePollingCancelled  = "POLLING_CANCELLED"
	CodeApprovalRequired  = "APPROVAL_REQUIRED"
)
