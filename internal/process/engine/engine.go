// Package engine runs process pipelines: it claims due processes, executes
// one ready step per process and records the outcome. Pipelines plug in as
// Executors registered per process type.
package engine

import (
	"context"
	"time"

	"issuant/internal/process/models"
	id "issuant/pkg/domain"
	dErrors "issuant/pkg/domain-errors"
)

// StepResult is what a pipeline handler returns for one executed step.
type StepResult struct {
	// NextSteps are scheduled as new TODO steps in the same process. A step
	// type that already has a TODO step is not scheduled twice.
	NextSteps []models.StepType
	// Status the executed step moves to; zero value means DONE.
	Status models.StepStatus
	// Modified marks that the handler touched aggregate state.
	Modified bool
	Message  string
}

// Executor is one pipeline: it declares which process type it serves, which
// step types it understands, and how to run them.
type Executor interface {
	ProcessType() models.ProcessType
	StepTypes() []models.StepType
	// IsLockRequested reports whether the step must hold the process lock
	// for its whole execution.
	IsLockRequested(step models.StepType) bool
	// ResolveCredentialID maps the process to its credential aggregate.
	ResolveCredentialID(ctx context.Context, processID id.ProcessID) (id.CredentialID, error)
	// Execute runs one step against the resolved credential.
	Execute(ctx context.Context, credentialID id.CredentialID, step models.StepType) (StepResult, error)
}

// Registry maps process types to their executor.
type Registry struct {
	executors map[models.ProcessType]Executor
}

func NewRegistry(executors ...Executor) (*Registry, error) {
	r := &Registry{executors: make(map[models.ProcessType]Executor, len(executors))}
	for _, e := range executors {
		if _, exists := r.executors[e.ProcessType()]; exists {
			return nil, dErrors.NewWithParameters(dErrors.CodeConflict, "executor already registered", map[string]string{
				"processType": string(e.ProcessType()),
			})
		}
		r.executors[e.ProcessType()] = e
	}
	return r, nil
}

// Executors returns all registered executors.
func (r *Registry) Executors() []Executor {
	out := make([]Executor, 0, len(r.executors))
	for _, e := range r.executors {
		out = append(out, e)
	}
	return out
}

// For resolves the executor of a process type.
func (r *Registry) For(processType models.ProcessType) (Executor, error) {
	e, ok := r.executors[processType]
	if !ok {
		return nil, dErrors.NewWithParameters(dErrors.CodeUnexpectedCondition, "no executor for process type", map[string]string{
			"processType": string(processType),
		})
	}
	return e, nil
}

// Store is the slice of the process store the engine needs.
type Store interface {
	ClaimProcesses(ctx context.Context, processType models.ProcessType, allowed []models.StepType, now time.Time, lockDuration time.Duration, limit int) ([]*models.ProcessRun, error)
	ReleaseLock(ctx context.Context, p *models.ProcessRun) error
	TodoSteps(ctx context.Context, processID id.ProcessID, allowed []models.StepType) ([]*models.ProcessStep, error)
	CreateSteps(ctx context.Context, steps ...*models.ProcessStep) error
	UpdateStep(ctx context.Context, step *models.ProcessStep) error
}
