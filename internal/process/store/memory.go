// Package store persists process runs and their steps. The memory variant
// backs unit tests and the demo wiring; the postgres variant is production.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"issuant/internal/process/models"
	id "issuant/pkg/domain"
	dErrors "issuant/pkg/domain-errors"
)

// InMemory stores processes and steps in memory.
type InMemory struct {
	mu        sync.Mutex
	processes map[id.ProcessID]*models.ProcessRun
	steps     map[id.ProcessStepID]*models.ProcessStep
}

// NewInMemory creates an in-memory process store.
func NewInMemory() *InMemory {
	return &InMemory{
		processes: make(map[id.ProcessID]*models.ProcessRun),
		steps:     make(map[id.ProcessStepID]*models.ProcessStep),
	}
}

// CreateProcess persists a new process run.
func (s *InMemory) CreateProcess(_ context.Context, p *models.ProcessRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.processes[p.ID]; exists {
		return dErrors.New(dErrors.CodeConflict, "process already exists")
	}
	clone := *p
	s.processes[p.ID] = &clone
	return nil
}

// FindProcess retrieves a process run by id.
func (s *InMemory) FindProcess(_ context.Context, processID id.ProcessID) (*models.ProcessRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.processes[processID]
	if !ok {
		return nil, dErrors.New(dErrors.CodeNotFound, "process not found")
	}
	clone := *p
	return &clone, nil
}

// CreateSteps persists new steps.
func (s *InMemory) CreateSteps(_ context.Context, steps ...*models.ProcessStep) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, step := range steps {
		if _, exists := s.steps[step.ID]; exists {
			return dErrors.New(dErrors.CodeConflict, "process step already exists")
		}
	}
	for _, step := range steps {
		clone := *step
		s.steps[step.ID] = &clone
	}
	return nil
}

// UpdateStep persists a step mutation.
func (s *InMemory) UpdateStep(_ context.Context, step *models.ProcessStep) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.steps[step.ID]; !ok {
		return dErrors.New(dErrors.CodeNotFound, "process step not found")
	}
	clone := *step
	s.steps[step.ID] = &clone
	return nil
}

// StepsByProcess returns all steps of a process ordered by creation time.
func (s *InMemory) StepsByProcess(_ context.Context, processID id.ProcessID) ([]*models.ProcessStep, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.ProcessStep
	for _, step := range s.steps {
		if step.ProcessID == processID {
			clone := *step
			out = append(out, &clone)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// TodoSteps returns the TODO steps of a process restricted to the allowed
// step types, ordered by creation time.
func (s *InMemory) TodoSteps(ctx context.Context, processID id.ProcessID, allowed []models.StepType) ([]*models.ProcessStep, error) {
	steps, err := s.StepsByProcess(ctx, processID)
	if err != nil {
		return nil, err
	}
	allowedSet := make(map[models.StepType]bool, len(allowed))
	for _, t := range allowed {
		allowedSet[t] = true
	}
	var out []*models.ProcessStep
	for _, step := range steps {
		if step.Status == models.StepStatusTodo && allowedSet[step.Type] {
			out = append(out, step)
		}
	}
	return out, nil
}

// ClaimProcesses claims up to limit due processes of the given type: unlocked
// or lock-expired, with at least one TODO step of an allowed type. Claiming
// swaps the concurrency version and extends the lock, so a concurrent worker
// racing on the same process loses and moves on.
func (s *InMemory) ClaimProcesses(ctx context.Context, processType models.ProcessType, allowed []models.StepType, now time.Time, lockDuration time.Duration, limit int) ([]*models.ProcessRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	allowedSet := make(map[models.StepType]bool, len(allowed))
	for _, t := range allowed {
		allowedSet[t] = true
	}

	var due []*models.ProcessRun
	for _, p := range s.processes {
		if p.Type != processType || p.Locked(now) {
			continue
		}
		if !s.hasTodoStepLocked(p.ID, allowedSet) {
			continue
		}
		due = append(due, p)
	}
	sort.Slice(due, func(i, j int) bool { return due[i].ID.String() < due[j].ID.String() })

	var claimed []*models.ProcessRun
	lockUntil := now.Add(lockDuration)
	for _, p := range due {
		if limit > 0 && len(claimed) >= limit {
			break
		}
		p.LockExpiry = &lockUntil
		p.Version = uuid.New()
		clone := *p
		claimed = append(claimed, &clone)
	}
	return claimed, nil
}

// ReleaseLock clears the lock if the caller still holds the claimed version;
// a stale version means another worker took over and the release is a no-op.
func (s *InMemory) ReleaseLock(_ context.Context, p *models.ProcessRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.processes[p.ID]
	if !ok {
		return dErrors.New(dErrors.CodeNotFound, "process not found")
	}
	if stored.Version != p.Version {
		return nil
	}
	stored.LockExpiry = nil
	stored.Version = uuid.New()
	return nil
}

func (s *InMemory) hasTodoStepLocked(processID id.ProcessID, allowed map[models.StepType]bool) bool {
	for _, step := range s.steps {
		if step.ProcessID == processID && step.Status == models.StepStatusTodo && allowed[step.Type] {
			return true
		}
	}
	return false
}
