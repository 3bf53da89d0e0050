package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/ledgersync/internal/core/domain"
)

func TestSchedulerStore_Tasks(t *testing.T) {
	store := NewSchedulerStore()
	ctx := context.Background()

	task, err := store.GetTask(ctx, domain.TaskIDTokenRefresh)
	require.NoError(t, err)
	assert.Nil(t, task)

	require.NoError(t, store.SaveTask(ctx, &domain.ScheduledTask{ID: domain.TaskIDTokenRefresh, Schedule: "@every 45m", Enabled: true}))
	task, err = store.GetTask(ctx, domain.TaskIDTokenRefresh)
	require.NoError(t, err)
	assert.Equal(t, "@every 45m", task.Schedule)

	tasks, err := store.ListTasks(ctx)
	require.NoError(t, err)
	assert.Len(t, tasks, 1)

	assert.ErrorIs(t, store.SaveTask(ctx, nil), domain.ErrInvalidInput)
}

func TestSchedulerStore_PruneHistory(t *testing.T) {
	store := NewSchedulerStore()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, store.RecordResult(ctx, &domain.TaskResult{TaskID: "a", ItemsProcessed: i}))
	}
	require.NoError(t, store.RecordResult(ctx, &domain.TaskResult{TaskID: "b"}))

	require.NoError(t, store.PruneHistory(ctx, 2))

	history, err := store.GetTaskHistory(ctx, "a", 10)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, 4, history[0].ItemsProcessed)
	assert.Equal(t, 3, history[1].ItemsProcessed)

	history, err = store.GetTaskHistory(ctx, "b", 10)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}
