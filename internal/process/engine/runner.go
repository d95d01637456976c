package engine

import (
	"context"
	"log/slog"
	"time"

	"issuant/internal/platform/database"
	"issuant/internal/process/models"
	id "issuant/pkg/domain"
	dErrors "issuant/pkg/domain-errors"
)

// Runner executes single process steps and records their outcome.
type Runner struct {
	store  Store
	tx     database.Tx
	logger *slog.Logger
	now    func() time.Time
}

func NewRunner(store Store, tx database.Tx, logger *slog.Logger, now func() time.Time) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	if now == nil {
		now = time.Now
	}
	return &Runner{store: store, tx: tx, logger: logger, now: now}
}

// RunNextStep executes the oldest TODO step of the process and persists the
// outcome atomically. It returns the executed step type and its final status;
// a process with no ready step returns an empty step type.
//
// A handler error marked recoverable puts the step back to TODO with the
// message recorded, to be retried by a later pass. Any other error fails the
// step and schedules exactly one RETRIGGER_<type> TODO step.
func (r *Runner) RunNextStep(ctx context.Context, executor Executor, process *models.ProcessRun) (models.StepType, models.StepStatus, error) {
	processID := process.ID
	todo, err := r.store.TodoSteps(ctx, processID, executor.StepTypes())
	if err != nil {
		return "", "", err
	}
	if len(todo) == 0 {
		return "", "", nil
	}
	step := todo[0]

	if !executor.IsLockRequested(step.Type) {
		// The step tolerates concurrent passes, so the process lock is
		// released before execution. RunBatch will not reclaim the process
		// until the next poll, and the version rotation makes the worker's
		// final release a no-op.
		if err := r.store.ReleaseLock(ctx, process); err != nil {
			r.logger.Warn("could not release process lock early", "process_id", processID, "error", err)
		}
	}

	result, execErr := r.execute(ctx, executor, processID, step.Type)
	if execErr != nil {
		if ctx.Err() != nil {
			// cancelled mid-step: leave the step untouched for the next pass
			return step.Type, step.Status, execErr
		}
		return step.Type, step.Status, r.recordFailure(ctx, step, execErr)
	}

	status := result.Status
	if status == "" {
		status = models.StepStatusDone
	}
	now := r.now().UTC()
	if err := step.Transition(status, result.Message, now); err != nil {
		return step.Type, step.Status, err
	}

	next := r.buildNextSteps(processID, result.NextSteps, todo, now)
	err = r.tx.RunInTx(ctx, func(ctx context.Context) error {
		if err := r.store.UpdateStep(ctx, step); err != nil {
			return err
		}
		if len(next) > 0 {
			return r.store.CreateSteps(ctx, next...)
		}
		return nil
	})
	if err != nil {
		return step.Type, step.Status, err
	}
	return step.Type, status, nil
}

func (r *Runner) execute(ctx context.Context, executor Executor, processID id.ProcessID, stepType models.StepType) (StepResult, error) {
	credentialID, err := executor.ResolveCredentialID(ctx, processID)
	if err != nil {
		return StepResult{}, err
	}
	return executor.Execute(ctx, credentialID, stepType)
}

// recordFailure moves the step to TODO (recoverable) or FAILED plus one
// retrigger step (fatal).
func (r *Runner) recordFailure(ctx context.Context, step *models.ProcessStep, cause error) error {
	now := r.now().UTC()

	if dErrors.IsRecoverable(cause) {
		if err := step.Transition(models.StepStatusTodo, cause.Error(), now); err != nil {
			return err
		}
		r.logger.Warn("process step will be retried",
			"process_id", step.ProcessID,
			"step_type", step.Type,
			"error", cause,
		)
		return r.tx.RunInTx(ctx, func(ctx context.Context) error {
			return r.store.UpdateStep(ctx, step)
		})
	}

	retriggerType, err := step.Type.Retrigger()
	if err != nil {
		return err
	}
	if err := step.Transition(models.StepStatusFailed, cause.Error(), now); err != nil {
		return err
	}
	retrigger := models.NewProcessStep(id.NewProcessStepID(), step.ProcessID, retriggerType, now)
	r.logger.Error("process step failed",
		"process_id", step.ProcessID,
		"step_type", step.Type,
		"retrigger", retriggerType,
		"error", cause,
	)
	return r.tx.RunInTx(ctx, func(ctx context.Context) error {
		if err := r.store.UpdateStep(ctx, step); err != nil {
			return err
		}
		return r.store.CreateSteps(ctx, retrigger)
	})
}

// buildNextSteps turns the handler's next step types into TODO steps,
// dropping types that already have one outstanding.
func (r *Runner) buildNextSteps(processID id.ProcessID, nextTypes []models.StepType, todo []*models.ProcessStep, now time.Time) []*models.ProcessStep {
	outstanding := make(map[models.StepType]bool, len(todo))
	for _, s := range todo[1:] {
		outstanding[s.Type] = true
	}
	var out []*models.ProcessStep
	for _, t := range nextTypes {
		if outstanding[t] {
			continue
		}
		outstanding[t] = true
		out = append(out, models.NewProcessStep(id.NewProcessStepID(), processID, t, now))
	}
	return out
}
