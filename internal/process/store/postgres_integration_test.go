//go:build integration

package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"issuant/internal/process/models"
	id "issuant/pkg/domain"
	"issuant/pkg/testutil/containers"
)

func setupPostgres(t *testing.T) *Postgres {
	t.Helper()
	pg := containers.GetManager().GetPostgres(t)
	require.NoError(t, pg.TruncateAll(context.Background()))
	return NewPostgres(pg.DB)
}

func seedProcess(t *testing.T, store *Postgres, stepType models.StepType) *models.ProcessRun {
	t.Helper()
	ctx := context.Background()
	process := models.NewProcessRun(id.NewProcessID(), models.ProcessCreateCredential)
	require.NoError(t, store.CreateProcess(ctx, process))
	step := models.NewProcessStep(id.NewProcessStepID(), process.ID, stepType, time.Now().UTC())
	require.NoError(t, store.CreateSteps(ctx, step))
	return process
}

func TestPostgresClaimProcesses(t *testing.T) {
	store := setupPostgres(t)
	ctx := context.Background()
	now := time.Now().UTC()

	process := seedProcess(t, store, models.StepCreateSignedCredential)

	claimed, err := store.ClaimProcesses(ctx, models.ProcessCreateCredential,
		models.CreationStepTypes(), now, 5*time.Minute, 10)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, process.ID, claimed[0].ID)
	require.NotNil(t, claimed[0].LockExpiry)

	// a second claim within the lock window finds nothing
	again, err := store.ClaimProcesses(ctx, models.ProcessCreateCredential,
		models.CreationStepTypes(), now.Add(time.Minute), 5*time.Minute, 10)
	require.NoError(t, err)
	assert.Empty(t, again)

	// after the lock expires the process is claimable again
	later, err := store.ClaimProcesses(ctx, models.ProcessCreateCredential,
		models.CreationStepTypes(), now.Add(6*time.Minute), 5*time.Minute, 10)
	require.NoError(t, err)
	assert.Len(t, later, 1)
}

func TestPostgresClaimIgnoresForeignSteps(t *testing.T) {
	store := setupPostgres(t)
	ctx := context.Background()

	seedProcess(t, store, models.StepCreateSignedCredential)

	claimed, err := store.ClaimProcesses(ctx, models.ProcessCreateCredential,
		models.DeclineStepTypes(), time.Now().UTC(), 5*time.Minute, 10)
	require.NoError(t, err)
	assert.Empty(t, claimed)
}

func TestPostgresReleaseLock(t *testing.T) {
	store := setupPostgres(t)
	ctx := context.Background()
	now := time.Now().UTC()

	seedProcess(t, store, models.StepCreateSignedCredential)
	claimed, err := store.ClaimProcesses(ctx, models.ProcessCreateCredential,
		models.CreationStepTypes(), now, 5*time.Minute, 10)
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	require.NoError(t, store.ReleaseLock(ctx, claimed[0]))

	reclaimed, err := store.ClaimProcesses(ctx, models.ProcessCreateCredential,
		models.CreationStepTypes(), now.Add(time.Second), 5*time.Minute, 10)
	require.NoError(t, err)
	assert.Len(t, reclaimed, 1)
}

func TestPostgresStepLifecycle(t *testing.T) {
	store := setupPostgres(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	process := models.NewProcessRun(id.NewProcessID(), models.ProcessDeclineCredential)
	require.NoError(t, store.CreateProcess(ctx, process))

	first := models.NewProcessStep(id.NewProcessStepID(), process.ID, models.StepRevokeCredential, now)
	second := models.NewProcessStep(id.NewProcessStepID(), process.ID, models.StepTriggerNotification, now)
	require.NoError(t, store.CreateSteps(ctx, first, second))

	todo, err := store.TodoSteps(ctx, process.ID, models.DeclineStepTypes())
	require.NoError(t, err)
	assert.Len(t, todo, 2)

	require.NoError(t, first.Transition(models.StepStatusDone, "", now.Add(time.Second)))
	require.NoError(t, store.UpdateStep(ctx, first))

	todo, err = store.TodoSteps(ctx, process.ID, models.DeclineStepTypes())
	require.NoError(t, err)
	require.Len(t, todo, 1)
	assert.Equal(t, models.StepTriggerNotification, todo[0].Type)

	all, err := store.StepsByProcess(ctx, process.ID)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestPostgresConcurrentClaimIsExclusive(t *testing.T) {
	store := setupPostgres(t)
	ctx := context.Background()
	now := time.Now().UTC()

	for range 4 {
		seedProcess(t, store, models.StepCreateSignedCredential)
	}

	type result struct {
		claimed []*models.ProcessRun
		err     error
	}
	results := make(chan result, 2)
	for range 2 {
		go func() {
			claimed, err := store.ClaimProcesses(ctx, models.ProcessCreateCredential,
				models.CreationStepTypes(), now, 5*time.Minute, 10)
			results <- result{claimed, err}
		}()
	}

	seen := map[id.ProcessID]int{}
	for range 2 {
		r := <-results
		require.NoError(t, r.err)
		for _, p := range r.claimed {
			seen[p.ID]++
		}
	}
	assert.Len(t, seen, 4)
	for processID, count := range seen {
		assert.Equal(t, 1, count, "process %s claimed more than once", processID)
	}
}
