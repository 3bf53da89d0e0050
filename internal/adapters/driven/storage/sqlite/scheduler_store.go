package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/custodia-labs/ledgersync/internal/core/domain"
	"github.com/custodia-labs/ledgersync/internal/core/ports/driven"
)

var _ driven.SchedulerStore = (*schedulerStore)(nil)

type schedulerStore struct {
	store *Store
}

const (
	selectTask = `SELECT id, name, schedule, enabled, last_run, last_success, next_run, last_error
		FROM scheduled_tasks`

	upsertTask = `INSERT INTO scheduled_tasks
			(id, name, schedule, enabled, last_run, last_success, next_run, last_error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name, schedule = excluded.schedule, enabled = excluded.enabled,
			last_run = excluded.last_run, last_success = excluded.last_success,
			next_run = excluded.next_run, last_error = excluded.last_error`

	selectResults = `SELECT task_id, started_at, ended_at, success, error, items_processed
		FROM task_results WHERE task_id = ?
		ORDER BY started_at DESC, id DESC LIMIT ?`

	// Keeps the newest rows per task_id.
	pruneResults = `DELETE FROM task_results WHERE id IN (
		SELECT id FROM (
			SELECT id, ROW_NUMBER() OVER (PARTITION BY task_id ORDER BY started_at DESC, id DESC) AS rn
			FROM task_results
		) WHERE rn > ?)`
)

func (s *schedulerStore) GetTask(ctx context.Context, taskID string) (*domain.ScheduledTask, error) {
	task, err := scanTask(s.store.db.QueryRowContext(ctx, selectTask+" WHERE id = ?", taskID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return task, err
}

func (s *schedulerStore) ListTasks(ctx context.Context) ([]domain.ScheduledTask, error) {
	rows, err := s.store.db.QueryContext(ctx, selectTask+" ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	return collect(rows, func(r rowScanner) (domain.ScheduledTask, error) {
		t, err := scanTask(r)
		if err != nil {
			return domain.ScheduledTask{}, err
		}
		return *t, nil
	})
}

func (s *schedulerStore) SaveTask(ctx context.Context, t *domain.ScheduledTask) error {
	if t == nil {
		return domain.ErrInvalidInput
	}
	if _, err := s.store.db.ExecContext(ctx, upsertTask,
		t.ID, t.Name, t.Schedule, boolToInt(t.Enabled),
		formatNullableTime(t.LastRun), formatNullableTime(t.LastSuccess),
		formatNullableTime(t.NextRun), nullString(t.LastError),
	); err != nil {
		return fmt.Errorf("save task %s: %w", t.ID, err)
	}
	return nil
}

func (s *schedulerStore) RecordResult(ctx context.Context, r *domain.TaskResult) error {
	if r == nil {
		return domain.ErrInvalidInput
	}
	if _, err := s.store.db.ExecContext(ctx,
		`INSERT INTO task_results (task_id, started_at, ended_at, success, error, items_processed)
		VALUES (?, ?, ?, ?, ?, ?)`,
		r.TaskID, formatTime(r.StartedAt), formatTime(r.EndedAt),
		boolToInt(r.Success), nullString(r.Error), r.ItemsProcessed,
	); err != nil {
		return fmt.Errorf("record result for %s: %w", r.TaskID, err)
	}
	return nil
}

// GetTaskHistory returns the newest results first.
func (s *schedulerStore) GetTaskHistory(ctx context.Context, taskID string, limit int) ([]domain.TaskResult, error) {
	rows, err := s.store.db.QueryContext(ctx, selectResults, taskID, limit)
	if err != nil {
		return nil, fmt.Errorf("task history for %s: %w", taskID, err)
	}
	return collect(rows, scanResult)
}

func (s *schedulerStore) PruneHistory(ctx context.Context, keep int) error {
	if _, err := s.store.db.ExecContext(ctx, pruneResults, keep); err != nil {
		return fmt.Errorf("prune task history: %w", err)
	}
	return nil
}

// collect scans every row and closes rows.
func collect[T any](rows *sql.Rows, scan func(rowScanner) (T, error)) ([]T, error) {
	defer rows.Close()
	var out []T
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func scanTask(row rowScanner) (*domain.ScheduledTask, error) {
	var (
		t       domain.ScheduledTask
		enabled int
		// nullable columns
		lastRun, lastSuccess, next, lastErr sql.NullString
	)
	if err := row.Scan(&t.ID, &t.Name, &t.Schedule, &enabled, &lastRun, &lastSuccess, &next, &lastErr); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan task: %w", err)
	}
	t.Enabled = enabled == 1
	t.LastRun = parseNullableTime(lastRun)
	t.LastSuccess = parseNullableTime(lastSuccess)
	t.NextRun = parseNullableTime(next)
	t.LastError = lastErr.String
	return &t, nil
}

func scanResult(row rowScanner) (domain.TaskResult, error) {
	var (
		r              domain.TaskResult
		started, ended string
		success        int
		errMsg         sql.NullString
	)
	if err := row.Scan(&r.TaskID, &started, &ended, &success, &errMsg, &r.ItemsProcessed); err != nil {
		return r, fmt.Errorf("scan task result: %w", err)
	}
	r.StartedAt = parseTime(started)
	r.EndedAt = parseTime(ended)
	r.Success = success == 1
	r.Error = errMsg.String
	return r, nil
}
