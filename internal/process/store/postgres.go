package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"issuant/internal/platform/database"
	"issuant/internal/process/models"
	id "issuant/pkg/domain"
	dErrors "issuant/pkg/domain-errors"
)

// Postgres persists processes and steps in PostgreSQL.
type Postgres struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed process store.
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

// CreateProcess persists a new process run.
func (s *Postgres) CreateProcess(ctx context.Context, p *models.ProcessRun) error {
	query := `
		INSERT INTO processes (id, process_type, lock_expiry, version)
		VALUES ($1, $2, $3, $4)
	`
	_, err := database.QuerierFrom(ctx, s.db).ExecContext(ctx, query, uuid.UUID(p.ID), string(p.Type), p.LockExpiry, p.Version)
	if err != nil {
		return fmt.Errorf("create process: %w", err)
	}
	return nil
}

// FindProcess retrieves a process run by id.
func (s *Postgres) FindProcess(ctx context.Context, processID id.ProcessID) (*models.ProcessRun, error) {
	query := `
		SELECT id, process_type, lock_expiry, version
		FROM processes
		WHERE id = $1
	`
	p, err := scanProcess(database.QuerierFrom(ctx, s.db).QueryRowContext(ctx, query, uuid.UUID(processID)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, dErrors.New(dErrors.CodeNotFound, "process not found")
		}
		return nil, fmt.Errorf("find process by id: %w", err)
	}
	return p, nil
}

// CreateSteps persists new steps in one statement batch.
func (s *Postgres) CreateSteps(ctx context.Context, steps ...*models.ProcessStep) error {
	query := `
		INSERT INTO process_steps (id, process_id, step_type, status, message, created_at, changed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	q := database.QuerierFrom(ctx, s.db)
	for _, step := range steps {
		if _, err := q.ExecContext(ctx, query,
			uuid.UUID(step.ID),
			uuid.UUID(step.ProcessID),
			string(step.Type),
			string(step.Status),
			step.Message,
			step.CreatedAt,
			step.ChangedAt,
		); err != nil {
			return fmt.Errorf("create process step: %w", err)
		}
	}
	return nil
}

// UpdateStep persists a step mutation.
func (s *Postgres) UpdateStep(ctx context.Context, step *models.ProcessStep) error {
	query := `
		UPDATE process_steps
		SET status = $2, message = $3, changed_at = $4
		WHERE id = $1
	`
	res, err := database.QuerierFrom(ctx, s.db).ExecContext(ctx, query, uuid.UUID(step.ID), string(step.Status), step.Message, step.ChangedAt)
	if err != nil {
		return fmt.Errorf("update process step: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return dErrors.New(dErrors.CodeNotFound, "process step not found")
	}
	return nil
}

// StepsByProcess returns all steps of a process ordered by creation time.
func (s *Postgres) StepsByProcess(ctx context.Context, processID id.ProcessID) ([]*models.ProcessStep, error) {
	query := `
		SELECT id, process_id, step_type, status, message, created_at, changed_at
		FROM process_steps
		WHERE process_id = $1
		ORDER BY created_at
	`
	rows, err := database.QuerierFrom(ctx, s.db).QueryContext(ctx, query, uuid.UUID(processID))
	if err != nil {
		return nil, fmt.Errorf("list process steps: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	var out []*models.ProcessStep
	for rows.Next() {
		step, err := scanStep(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, step)
	}
	return out, rows.Err()
}

// TodoSteps returns the TODO steps of a process restricted to allowed types.
func (s *Postgres) TodoSteps(ctx context.Context, processID id.ProcessID, allowed []models.StepType) ([]*models.ProcessStep, error) {
	query := `
		SELECT id, process_id, step_type, status, message, created_at, changed_at
		FROM process_steps
		WHERE process_id = $1 AND status = 'TODO' AND step_type = ANY($2)
		ORDER BY created_at
	`
	rows, err := database.QuerierFrom(ctx, s.db).QueryContext(ctx, query, uuid.UUID(processID), stepTypeStrings(allowed))
	if err != nil {
		return nil, fmt.Errorf("list todo steps: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	var out []*models.ProcessStep
	for rows.Next() {
		step, err := scanStep(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, step)
	}
	return out, rows.Err()
}

// ClaimProcesses claims up to limit due processes: unlocked or lock-expired
// with at least one TODO step of an allowed type. Each claim is an optimistic
// compare-and-swap on the concurrency version, so racing workers never claim
// the same process twice.
func (s *Postgres) ClaimProcesses(ctx context.Context, processType models.ProcessType, allowed []models.StepType, now time.Time, lockDuration time.Duration, limit int) ([]*models.ProcessRun, error) {
	candidateQuery := `
		SELECT DISTINCT p.id, p.version
		FROM processes p
		JOIN process_steps ps ON ps.process_id = p.id
		WHERE p.process_type = $1
		  AND (p.lock_expiry IS NULL OR p.lock_expiry <= $2)
		  AND ps.status = 'TODO'
		  AND ps.step_type = ANY($3)
		ORDER BY p.id
	`
	rows, err := s.db.QueryContext(ctx, candidateQuery, string(processType), now, stepTypeStrings(allowed))
	if err != nil {
		return nil, fmt.Errorf("query due processes: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	type candidate struct {
		id      uuid.UUID
		version uuid.UUID
	}
	var candidates []candidate
	for rows.Next() {
		var c candidate
		if err := rows.Scan(&c.id, &c.version); err != nil {
			return nil, fmt.Errorf("scan due process: %w", err)
		}
		candidates = append(candidates, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate due processes: %w", err)
	}

	claimQuery := `
		UPDATE processes
		SET lock_expiry = $3, version = $4
		WHERE id = $1 AND version = $2
	`
	lockUntil := now.Add(lockDuration)
	var claimed []*models.ProcessRun
	for _, c := range candidates {
		if limit > 0 && len(claimed) >= limit {
			break
		}
		newVersion := uuid.New()
		res, err := s.db.ExecContext(ctx, claimQuery, c.id, c.version, lockUntil, newVersion)
		if err != nil {
			return nil, fmt.Errorf("claim process: %w", err)
		}
		// Zero rows means another worker won the compare-and-swap.
		if n, err := res.RowsAffected(); err != nil || n == 0 {
			continue
		}
		claimed = append(claimed, &models.ProcessRun{
			ID:         id.ProcessID(c.id),
			Type:       processType,
			LockExpiry: &lockUntil,
			Version:    newVersion,
		})
	}
	return claimed, nil
}

// ReleaseLock clears the lock if the caller still holds the claimed version.
func (s *Postgres) ReleaseLock(ctx context.Context, p *models.ProcessRun) error {
	query := `
		UPDATE processes
		SET lock_expiry = NULL, version = $3
		WHERE id = $1 AND version = $2
	`
	if _, err := s.db.ExecContext(ctx, query, uuid.UUID(p.ID), p.Version, uuid.New()); err != nil {
		return fmt.Errorf("release process lock: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProcess(row rowScanner) (*models.ProcessRun, error) {
	var (
		processID   uuid.UUID
		processType string
		lockExpiry  sql.NullTime
		version     uuid.UUID
	)
	if err := row.Scan(&processID, &processType, &lockExpiry, &version); err != nil {
		return nil, err
	}
	p := &models.ProcessRun{ID: id.ProcessID(processID), Type: models.ProcessType(processType), Version: version}
	if lockExpiry.Valid {
		t := lockExpiry.Time
		p.LockExpiry = &t
	}
	return p, nil
}

func scanStep(row rowScanner) (*models.ProcessStep, error) {
	var (
		stepID    uuid.UUID
		processID uuid.UUID
		stepType  string
		status    string
		message   sql.NullString
		createdAt time.Time
		changedAt time.Time
	)
	if err := row.Scan(&stepID, &processID, &stepType, &status, &message, &createdAt, &changedAt); err != nil {
		return nil, fmt.Errorf("scan process step: %w", err)
	}
	return &models.ProcessStep{
		ID:        id.ProcessStepID(stepID),
		ProcessID: id.ProcessID(processID),
		Type:      models.StepType(stepType),
		Status:    models.StepStatus(status),
		Message:   message.String,
		CreatedAt: createdAt,
		ChangedAt: changedAt,
	}, nil
}

func stepTypeStrings(types []models.StepType) []string {
	out := make([]string, len(types))
	for i, t := range types {
		out[i] = string(t)
	}
	return out
}
