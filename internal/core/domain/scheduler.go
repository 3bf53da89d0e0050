package domain

import "time"

// TaskIDTokenRefresh refreshes tokens that would expire before the next run.
const TaskIDTokenRefresh = "token-refresh"

// DefaultRefreshSchedule runs well inside a one hour access token lifetime.
const DefaultRefreshSchedule = "@every 45m"

// ScheduledTask is the persisted state of one background task.
type ScheduledTask struct {
	ID       string
	Name     string
	Schedule string // cron spec or descriptor
	Enabled  bool

	LastRun     time.Time
	LastSuccess time.Time
	NextRun     time.Time
	LastError   string
}

// TaskResult is one execution of a task. ItemsProcessed counts the
// connections refreshed.
type TaskResult struct {
	TaskID         string
	StartedAt      time.Time
	EndedAt        time.Time
	Success        bool
	Error          string
	ItemsProcessed int
}

// Duration is how long the run took.
func (r TaskResult) Duration() time.Duration {
	return r.EndedAt.Sub(r.StartedAt)
}

// TaskConfig enables a task and sets its schedule.
type TaskConfig struct {
	Enabled  bool
	Schedule string
}

// SchedulerConfig is the master switch plus per task settings.
type SchedulerConfig struct {
	Enabled     bool
	TaskConfigs map[string]TaskConfig
}

// GetTaskConfig returns the zero TaskConfig for unknown tasks.
func (c *SchedulerConfig) GetTaskConfig(taskID string) TaskConfig {
	return c.TaskConfigs[taskID]
}

func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		Enabled: true,
		TaskConfigs: map[string]TaskConfig{
			TaskIDTokenRefresh: {Enabled: true, Schedule: DefaultRefreshSchedule},
		},
	}
}
