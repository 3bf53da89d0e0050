package postgres

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/ledgersync/internal/core/domain"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()

	dsn := os.Getenv("PG_TEST_DSN")
	if dsn == "" {
		t.Skip("Skipping PostgreSQL store test: PG_TEST_DSN not set")
	}

	store, err := Open(context.Background(), dsn)
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, store.Close()) })
	return store
}

func TestConnectionStore_UpsertGetDelete(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	conns := store.ConnectionStore()
	userID := "pg-test-" + uuid.NewString()
	t.Cleanup(func() { _ = conns.Delete(ctx, userID) })

	_, err := conns.Get(ctx, userID)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	created := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, conns.Upsert(ctx, domain.Connection{
		UserID: userID, TenantID: "r1", AccessToken: "a", RefreshToken: "r",
		TokenType: "bearer", ExpiresAt: created.Add(time.Hour), CreatedAt: created, UpdatedAt: created,
	}))
	require.NoError(t, conns.Upsert(ctx, domain.Connection{
		UserID: userID, TenantID: "r2", AccessToken: "b", RefreshToken: "r2",
		TokenType: "bearer", ExpiresAt: created.Add(2 * time.Hour), CompanyName: "Acme",
	}))

	got, err := conns.Get(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, "r2", got.TenantID)
	assert.Equal(t, "Acme", got.CompanyName)
	assert.True(t, created.Equal(got.CreatedAt))

	expiring, err := conns.ListExpiringBefore(ctx, created.Add(3*time.Hour))
	require.NoError(t, err)
	var found bool
	for _, c := range expiring {
		found = found || c.UserID == userID
	}
	assert.True(t, found)

	require.NoError(t, conns.Delete(ctx, userID))
	_, err = conns.Get(ctx, userID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestOperationLogStore_AppendAndList(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	log := store.OperationLogStore()
	userID := "pg-test-" + uuid.NewString()
	now := time.Now().UTC()

	require.NoError(t, log.Append(ctx, domain.OperationLogEntry{
		ID: uuid.NewString(), UserID: userID, Kind: domain.OpFetch, EntityType: "Invoice",
		Status: domain.OpStatusSuccess, Details: map[string]any{"count": 2}, CreatedAt: now,
	}))
	require.NoError(t, log.Append(ctx, domain.OperationLogEntry{
		ID: uuid.NewString(), UserID: userID, Kind: domain.OpDelete, EntityType: "Invoice",
		RecordID: "9", Status: domain.OpStatusError, CreatedAt: now.Add(time.Second),
	}))

	entries, err := log.ListByUser(ctx, userID, 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, domain.OpDelete, entries[0].Kind)
	assert.Equal(t, "9", entries[0].RecordID)
	assert.Equal(t, float64(2), entries[1].Details["count"])
}

func TestSchedulerStore_TasksAndHistory(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	sched := store.SchedulerStore()
	taskID := "pg-test-" + uuid.NewString()
	t.Cleanup(func() {
		_, _ = store.db.ExecContext(ctx, `DELETE FROM task_results WHERE task_id = $1`, taskID)
		_, _ = store.db.ExecContext(ctx, `DELETE FROM scheduled_tasks WHERE id = $1`, taskID)
	})

	got, err := sched.GetTask(ctx, taskID)
	require.NoError(t, err)
	assert.Nil(t, got)

	ran := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, sched.SaveTask(ctx, &domain.ScheduledTask{
		ID: taskID, Name: "Token refresh", Schedule: domain.DefaultRefreshSchedule, Enabled: true,
	}))
	require.NoError(t, sched.SaveTask(ctx, &domain.ScheduledTask{
		ID: taskID, Name: "Token refresh", Schedule: "@every 30m", Enabled: true,
		LastRun: ran, NextRun: ran.Add(30 * time.Minute), LastError: "refresh failed",
	}))

	got, err = sched.GetTask(ctx, taskID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "@every 30m", got.Schedule)
	assert.True(t, ran.Equal(got.LastRun))
	assert.True(t, got.LastSuccess.IsZero())
	assert.Equal(t, "refresh failed", got.LastError)

	for i := range 3 {
		start := ran.Add(time.Duration(i) * time.Minute)
		require.NoError(t, sched.RecordResult(ctx, &domain.TaskResult{
			TaskID: taskID, StartedAt: start, EndedAt: start.Add(time.Second),
			Success: i != 1, ItemsProcessed: i,
		}))
	}

	history, err := sched.GetTaskHistory(ctx, taskID, 10)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, 2, history[0].ItemsProcessed)
	assert.False(t, history[1].Success)

	require.NoError(t, sched.PruneHistory(ctx, 1))
	history, err = sched.GetTaskHistory(ctx, taskID, 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, time.Second, history[0].Duration())
}
