package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/custodia-labs/ledgersync/internal/core/domain"
	"github.com/custodia-labs/ledgersync/internal/core/ports/driven"
	"github.com/custodia-labs/ledgersync/internal/core/ports/driving"
	"github.com/custodia-labs/ledgersync/internal/logger"
)

// Ensure Scheduler implements the interface.
var _ driving.Scheduler = (*Scheduler)(nil)

// historyKeep is the number of results kept per task.
const historyKeep = 100

// Scheduler runs background tasks on cron schedules. Its one built-in task
// refreshes tokens ahead of expiry so that interactive calls rarely wait on
// a token exchange.
type Scheduler struct {
	config    domain.SchedulerConfig
	store     driven.SchedulerStore
	conns     driven.ConnectionStore
	guard     *TokenGuard
	threshold time.Duration
	now       func() time.Time

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
}

// NewScheduler creates a scheduler with configuration.
func NewScheduler(
	config domain.SchedulerConfig,
	store driven.SchedulerStore,
	conns driven.ConnectionStore,
	guard *TokenGuard,
	threshold time.Duration,
) *Scheduler {
	return &Scheduler{
		config:    config,
		store:     store,
		conns:     conns,
		guard:     guard,
		threshold: threshold,
		now:       time.Now,
	}
}

// Start registers enabled tasks and runs them until ctx is cancelled or
// Stop is called.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = true
	s.stopCh = make(chan struct{})
	stopCh := s.stopCh
	s.mu.Unlock()
	defer s.markStopped(stopCh)

	if !s.config.Enabled {
		logger.Debug("scheduler: disabled")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stopCh:
			return nil
		}
	}

	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cronLogger{})))
	for _, id := range []string{domain.TaskIDTokenRefresh} {
		cfg := s.config.GetTaskConfig(id)
		if !cfg.Enabled {
			continue
		}
		if err := s.ensureTask(ctx, id, taskNames[id], cfg); err != nil {
			logger.Warn("scheduler: failed to initialise task %s: %v", id, err)
			continue
		}
		taskID := id
		if _, err := c.AddFunc(cfg.Schedule, func() {
			if _, err := s.RunTask(ctx, taskID); err != nil {
				logger.Warn("scheduler: task %s failed: %v", taskID, err)
			}
		}); err != nil {
			return fmt.Errorf("schedule %s: %w", id, err)
		}
	}

	c.Start()
	defer func() { <-c.Stop().Done() }()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-stopCh:
		return nil
	}
}

// Stop gracefully shuts down the scheduler. Running tasks finish first.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return nil
	}
	s.running = false
	close(s.stopCh)
	return nil
}

func (s *Scheduler) markStopped(stopCh chan struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running && s.stopCh == stopCh {
		s.running = false
	}
}

var taskNames = map[string]string{
	domain.TaskIDTokenRefresh: "Proactive Token Refresh",
}

// ensureTask creates or updates a task in the store.
func (s *Scheduler) ensureTask(ctx context.Context, id, name string, cfg domain.TaskConfig) error {
	schedule, err := cron.ParseStandard(cfg.Schedule)
	if err != nil {
		return fmt.Errorf("parse schedule %q: %w", cfg.Schedule, err)
	}

	task, err := s.store.GetTask(ctx, id)
	if err != nil {
		return err
	}
	if task == nil {
		task = &domain.ScheduledTask{ID: id, Name: name}
	}
	if task.Schedule != cfg.Schedule || task.NextRun.IsZero() {
		task.Schedule = cfg.Schedule
		task.NextRun = schedule.Next(s.now())
	}
	task.Enabled = cfg.Enabled

	return s.store.SaveTask(ctx, task)
}

// RunTask executes a task now and records the result.
func (s *Scheduler) RunTask(ctx context.Context, taskID string) (*domain.TaskResult, error) {
	task, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task == nil {
		task = &domain.ScheduledTask{
			ID:       taskID,
			Name:     taskNames[taskID],
			Schedule: s.config.GetTaskConfig(taskID).Schedule,
			Enabled:  true,
		}
	}

	result := &domain.TaskResult{TaskID: taskID, StartedAt: s.now()}

	var runErr error
	switch taskID {
	case domain.TaskIDTokenRefresh:
		result.ItemsProcessed, runErr = s.refreshExpiring(ctx, task.Schedule)
	default:
		return nil, fmt.Errorf("%w: unknown task %s", domain.ErrInvalidInput, taskID)
	}

	result.EndedAt = s.now()
	if runErr != nil {
		result.Error = runErr.Error()
		task.LastError = runErr.Error()
	} else {
		result.Success = true
		task.LastError = ""
		task.LastSuccess = result.EndedAt
	}

	task.LastRun = result.StartedAt
	if schedule, err := cron.ParseStandard(task.Schedule); err == nil {
		task.NextRun = schedule.Next(result.EndedAt)
	}

	logger.Debug("scheduler: %s processed %d in %s", taskID, result.ItemsProcessed, result.Duration())

	if err := s.store.SaveTask(ctx, task); err != nil {
		logger.Warn("scheduler: failed to save task %s: %v", task.ID, err)
	}
	if err := s.store.RecordResult(ctx, result); err != nil {
		logger.Warn("scheduler: failed to record result for %s: %v", task.ID, err)
	}
	if err := s.store.PruneHistory(ctx, historyKeep); err != nil {
		logger.Warn("scheduler: failed to prune history: %v", err)
	}
	return result, runErr
}

// Tasks lists known tasks with their latest result. Configured tasks that
// have never been saved are included with their configured schedule.
func (s *Scheduler) Tasks(ctx context.Context) ([]driving.TaskStatus, error) {
	tasks, err := s.store.ListTasks(ctx)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(tasks))
	for _, t := range tasks {
		seen[t.ID] = true
	}
	for id, cfg := range s.config.TaskConfigs {
		if !seen[id] {
			tasks = append(tasks, domain.ScheduledTask{ID: id, Name: taskNames[id], Schedule: cfg.Schedule, Enabled: cfg.Enabled})
		}
	}

	out := make([]driving.TaskStatus, 0, len(tasks))
	for _, t := range tasks {
		st := driving.TaskStatus{Task: t}
		history, err := s.store.GetTaskHistory(ctx, t.ID, 1)
		if err != nil {
			return nil, err
		}
		if len(history) > 0 {
			st.LastResult = &history[0]
		}
		out = append(out, st)
	}
	return out, nil
}

// refreshExpiring refreshes every connection whose token would fall inside
// the guard's threshold before the next run.
func (s *Scheduler) refreshExpiring(ctx context.Context, spec string) (int, error) {
	now := s.now()
	horizon := now.Add(s.threshold)
	if schedule, err := cron.ParseStandard(spec); err == nil {
		horizon = schedule.Next(now).Add(s.threshold)
	}

	conns, err := s.conns.ListExpiringBefore(ctx, horizon)
	if err != nil {
		return 0, fmt.Errorf("list expiring connections: %w", err)
	}

	refreshed := 0
	var errs []error
	for _, c := range conns {
		if _, err := s.guard.Refresh(ctx, c.UserID); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", c.UserID, err))
			continue
		}
		refreshed++
	}
	return refreshed, errors.Join(errs...)
}

// cronLogger routes cron's own messages to the application logger.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...any) {
	logger.L().Sugar().Debugw("cron: "+msg, keysAndValues...)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...any) {
	logger.L().Sugar().Errorw("cron: "+msg, append(keysAndValues, zap.Error(err))...)
}
