// Package models defines the generic process-run/step tables the pipelines
// execute against. Process and step kinds are closed enumerations; there is no
// executor hierarchy, only a capability map in the engine package.
package models

import (
	"time"

	"github.com/google/uuid"

	id "issuant/pkg/domain"
	dErrors "issuant/pkg/domain-errors"
)

// ProcessType is the closed set of pipelines.
type ProcessType string

const (
	ProcessCreateCredential  ProcessType = "CREATE_CREDENTIAL"
	ProcessDeclineCredential ProcessType = "DECLINE_CREDENTIAL"
)

// StepType is the closed set of pipeline steps, including the retrigger
// variants scheduled after a fatal step failure.
type StepType string

const (
	// Creation pipeline.
	StepCreateSignedCredential       StepType = "CREATE_SIGNED_CREDENTIAL"
	StepSaveCredentialDocument       StepType = "SAVE_CREDENTIAL_DOCUMENT"
	StepRequestCredentialForHolder   StepType = "REQUEST_CREDENTIAL_FOR_HOLDER"
	StepRequestCredentialAutoApprove StepType = "REQUEST_CREDENTIAL_AUTO_APPROVE"
	StepRequestCredentialStatusCheck StepType = "REQUEST_CREDENTIAL_STATUS_CHECK"
	StepTriggerCallback              StepType = "TRIGGER_CALLBACK"
	// StepRevokeReissuedCredential runs only for renewal-created requests; it
	// spawns the decline process of the superseded credential.
	StepRevokeReissuedCredential StepType = "REVOKE_REISSUED_CREDENTIAL"

	StepRetriggerCreateSignedCredential       StepType = "RETRIGGER_CREATE_SIGNED_CREDENTIAL"
	StepRetriggerSaveCredentialDocument       StepType = "RETRIGGER_SAVE_CREDENTIAL_DOCUMENT"
	StepRetriggerRequestCredentialForHolder   StepType = "RETRIGGER_REQUEST_CREDENTIAL_FOR_HOLDER"
	StepRetriggerRequestCredentialAutoApprove StepType = "RETRIGGER_REQUEST_CREDENTIAL_AUTO_APPROVE"
	StepRetriggerRequestCredentialStatusCheck StepType = "RETRIGGER_REQUEST_CREDENTIAL_STATUS_CHECK"
	StepRetriggerTriggerCallback              StepType = "RETRIGGER_TRIGGER_CALLBACK"
	StepRetriggerRevokeReissuedCredential     StepType = "RETRIGGER_REVOKE_REISSUED_CREDENTIAL"

	// Expiry/decline pipeline.
	StepRevokeCredential    StepType = "REVOKE_CREDENTIAL"
	StepTriggerNotification StepType = "TRIGGER_NOTIFICATION"
	StepTriggerMail         StepType = "TRIGGER_MAIL"

	StepRetriggerRevokeCredential    StepType = "RETRIGGER_REVOKE_CREDENTIAL"
	StepRetriggerTriggerNotification StepType = "RETRIGGER_TRIGGER_NOTIFICATION"
	StepRetriggerTriggerMail         StepType = "RETRIGGER_TRIGGER_MAIL"
)

// Retrigger returns the retrigger step scheduled when this step fails fatally.
// Retrigger steps retrigger themselves.
func (t StepType) Retrigger() (StepType, error) {
	if t.IsRetrigger() {
		return t, nil
	}
	retrigger := StepType("RETRIGGER_" + string(t))
	if !knownStepTypes[retrigger] {
		return "", dErrors.NewWithParameters(dErrors.CodeUnexpectedCondition, "step type has no retrigger", map[string]string{"stepType": string(t)})
	}
	return retrigger, nil
}

// IsRetrigger reports whether the step is a retrigger variant.
func (t StepType) IsRetrigger() bool {
	return len(t) > 10 && t[:10] == "RETRIGGER_"
}

// Target resolves a retrigger step back to the step it re-runs.
func (t StepType) Target() StepType {
	if t.IsRetrigger() {
		return StepType(t[10:])
	}
	return t
}

// CreationStepTypes returns every step type of the creation pipeline,
// retrigger variants included.
func CreationStepTypes() []StepType {
	return []StepType{
		StepCreateSignedCredential, StepSaveCredentialDocument, StepRequestCredentialForHolder,
		StepRequestCredentialAutoApprove, StepRequestCredentialStatusCheck, StepTriggerCallback,
		StepRevokeReissuedCredential,
		StepRetriggerCreateSignedCredential, StepRetriggerSaveCredentialDocument, StepRetriggerRequestCredentialForHolder,
		StepRetriggerRequestCredentialAutoApprove, StepRetriggerRequestCredentialStatusCheck, StepRetriggerTriggerCallback,
		StepRetriggerRevokeReissuedCredential,
	}
}

// DeclineStepTypes returns every step type of the decline pipeline,
// retrigger variants included.
func DeclineStepTypes() []StepType {
	return []StepType{
		StepRevokeCredential, StepTriggerNotification, StepTriggerMail,
		StepRetriggerRevokeCredential, StepRetriggerTriggerNotification, StepRetriggerTriggerMail,
	}
}

var knownStepTypes = buildKnownStepTypes()

func buildKnownStepTypes() map[StepType]bool {
	all := append(CreationStepTypes(), DeclineStepTypes()...)
	m := make(map[StepType]bool, len(all))
	for _, t := range all {
		m[t] = true
	}
	return m
}

// StepStatus is the status of a single process step.
type StepStatus string

const (
	StepStatusTodo      StepStatus = "TODO"
	StepStatusDone      StepStatus = "DONE"
	StepStatusSkipped   StepStatus = "SKIPPED"
	StepStatusFailed    StepStatus = "FAILED"
	StepStatusDuplicate StepStatus = "DUPLICATE"
)

// CanTransitionTo enforces the monotone step machine: only TODO moves, and
// only to a terminal status. TODO -> TODO is allowed because a recoverable
// failure re-records the step with its message.
func (s StepStatus) CanTransitionTo(next StepStatus) bool {
	if s != StepStatusTodo {
		return false
	}
	switch next {
	case StepStatusTodo, StepStatusDone, StepStatusSkipped, StepStatusFailed, StepStatusDuplicate:
		return true
	default:
		return false
	}
}

// ProcessRun is one pipeline execution, claimed by workers via an optimistic
// lock on (LockExpiry, Version).
type ProcessRun struct {
	ID         id.ProcessID
	Type       ProcessType
	LockExpiry *time.Time
	// Version is the concurrency token; every lock acquisition swaps it.
	Version uuid.UUID
}

// Locked reports whether the process is currently claimed by a worker.
func (p *ProcessRun) Locked(now time.Time) bool {
	return p.LockExpiry != nil && p.LockExpiry.After(now)
}

// NewProcessRun creates an unclaimed process.
func NewProcessRun(processID id.ProcessID, processType ProcessType) *ProcessRun {
	return &ProcessRun{ID: processID, Type: processType, Version: uuid.New()}
}

// ProcessStep is one ordered unit of work inside a process run.
type ProcessStep struct {
	ID        id.ProcessStepID
	ProcessID id.ProcessID
	Type      StepType
	Status    StepStatus
	Message   string
	CreatedAt time.Time
	ChangedAt time.Time
}

// NewProcessStep creates a TODO step for the process.
func NewProcessStep(stepID id.ProcessStepID, processID id.ProcessID, stepType StepType, now time.Time) *ProcessStep {
	return &ProcessStep{
		ID:        stepID,
		ProcessID: processID,
		Type:      stepType,
		Status:    StepStatusTodo,
		CreatedAt: now,
		ChangedAt: now,
	}
}

// Transition moves the step to next, enforcing monotonicity.
func (s *ProcessStep) Transition(next StepStatus, message string, now time.Time) error {
	if !s.Status.CanTransitionTo(next) {
		return dErrors.NewWithParameters(dErrors.CodeConflict, "invalid step status transition", map[string]string{
			"stepId": s.ID.String(),
			"from":   string(s.Status),
			"to":     string(next),
		})
	}
	s.Status = next
	s.Message = message
	s.ChangedAt = now
	return nil
}
