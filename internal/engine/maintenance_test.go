package engine

import (
	"context"
	"testing"
	"time"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marshtalk/internal/database"
	"marshtalk/internal/models"
	"marshtalk/internal/utils"
)

func spawnMaintenance(t *testing.T, store database.Store) (*actor.ActorSystem, *actor.PID) {
	t.Helper()
	system := actor.NewActorSystem()
	engine := NewEngine(system, store, utils.NewMetricsCollector())
	return system, engine.GetMaintenanceActor()
}

func saveUser(t *testing.T, store database.Store, name string) uuid.UUID {
	t.Helper()
	user := &models.User{
		ID:          uuid.New(),
		Username:    &name,
		DisplayName: name,
		CreatedAt:   time.Now(),
	}
	require.NoError(t, store.SaveUser(context.Background(), user))
	return user.ID
}

func TestMaintenanceActorRemoveUser(t *testing.T) {
	store := database.NewMemoryStore()
	system, pid := spawnMaintenance(t, store)

	alice := saveUser(t, store, "alice")
	bob := saveUser(t, store, "bob")
	_, err := store.EnsureThread(context.Background(), alice, bob)
	require.NoError(t, err)

	future := system.Root.RequestFuture(pid, &RemoveUserMsg{UserID: alice}, 5*time.Second)
	result, err := future.Result()
	require.NoError(t, err)

	removed, ok := result.(*RemoveUserResult)
	require.True(t, ok, "expected RemoveUserResult, got %T", result)
	assert.Equal(t, alice, removed.UserID)

	_, err = store.GetUser(context.Background(), alice)
	assert.True(t, utils.IsErrorCode(err, utils.ErrUserNotFound))
}

func TestMaintenanceActorRemoveUnknownUserFails(t *testing.T) {
	store := database.NewMemoryStore()
	system, pid := spawnMaintenance(t, store)

	future := system.Root.RequestFuture(pid, &RemoveUserMsg{UserID: uuid.New()}, 5*time.Second)
	result, err := future.Result()
	require.NoError(t, err)

	appErr, ok := result.(*utils.AppError)
	require.True(t, ok, "expected AppError, got %T", result)
	assert.Equal(t, utils.ErrUserNotFound, appErr.Code)
}

func TestMaintenanceActorSweepGhosts(t *testing.T) {
	store := database.NewMemoryStore()
	system, pid := spawnMaintenance(t, store)

	ghost := &models.User{ID: uuid.New(), CreatedAt: time.Now()}
	require.NoError(t, store.SaveUser(context.Background(), ghost))
	alice := saveUser(t, store, "alice")

	future := system.Root.RequestFuture(pid, &SweepGhostsMsg{}, 5*time.Second)
	result, err := future.Result()
	require.NoError(t, err)

	swept, ok := result.(*SweepGhostsResult)
	require.True(t, ok, "expected SweepGhostsResult, got %T", result)
	assert.Equal(t, []uuid.UUID{ghost.ID}, swept.RemovedIDs)

	_, err = store.GetUser(context.Background(), alice)
	assert.NoError(t, err)
}

func TestMaintenanceActorBackfillThreads(t *testing.T) {
	store := database.NewMemoryStore()
	system, pid := spawnMaintenance(t, store)

	// Nothing to repair on a clean store.
	future := system.Root.RequestFuture(pid, &BackfillThreadsMsg{}, 5*time.Second)
	result, err := future.Result()
	require.NoError(t, err)

	report, ok := result.(*models.BackfillReport)
	require.True(t, ok, "expected BackfillReport, got %T", result)
	assert.Zero(t, report.Recovered)
	assert.Zero(t, report.Unrecoverable)
	assert.Zero(t, report.Deduplicated)
}

func TestMaintenanceActorConsolidateGhosts(t *testing.T) {
	store := database.NewMemoryStore()
	system, pid := spawnMaintenance(t, store)

	canonical := &models.User{ID: uuid.New(), CreatedAt: time.Now()}
	require.NoError(t, store.SaveUser(context.Background(), canonical))

	future := system.Root.RequestFuture(pid, &ConsolidateGhostsMsg{CanonicalID: canonical.ID}, 5*time.Second)
	result, err := future.Result()
	require.NoError(t, err)

	report, ok := result.(*models.ConsolidationReport)
	require.True(t, ok, "expected ConsolidationReport, got %T", result)
	assert.Equal(t, canonical.ID, report.CanonicalID)
	assert.Empty(t, report.MergedIDs)
}
