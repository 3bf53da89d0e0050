package cli

import (
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/ledgersync/internal/core/domain"
)

var tasksCmd = &cobra.Command{
	Use:   "tasks",
	Short: "Show background tasks and their last run",
	Args:  cobra.NoArgs,
	RunE:  runTasks,
}

var tasksRunCmd = &cobra.Command{
	Use:     "run <task-id>",
	Short:   "Run a background task now",
	Example: "  ledgersync tasks run " + domain.TaskIDTokenRefresh,
	Args:    cobra.ExactArgs(1),
	RunE:    runTaskNow,
}

func init() {
	tasksCmd.AddCommand(tasksRunCmd)
	rootCmd.AddCommand(tasksCmd)
}

var errNoScheduler = errors.New("scheduler not available")

func runTasks(cmd *cobra.Command, _ []string) error {
	return withRuntime(cmd, func(rt *Runtime, _ string) error {
		if rt.Scheduler == nil {
			return errNoScheduler
		}
		tasks, err := rt.Scheduler.Tasks(cmd.Context())
		if err != nil {
			return describe(err)
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "TASK\tSCHEDULE\tENABLED\tLAST RUN\tNEXT RUN\tRESULT")
		for _, t := range tasks {
			result := "-"
			if r := t.LastResult; r != nil {
				result = fmt.Sprintf("ok (%d)", r.ItemsProcessed)
				if !r.Success {
					result = "failed: " + r.Error
				}
			}
			fmt.Fprintf(w, "%s\t%s\t%t\t%s\t%s\t%s\n",
				t.Task.ID, t.Task.Schedule, t.Task.Enabled, when(t.Task.LastRun), when(t.Task.NextRun), result)
		}
		return w.Flush()
	})
}

func runTaskNow(cmd *cobra.Command, args []string) error {
	return withRuntime(cmd, func(rt *Runtime, _ string) error {
		if rt.Scheduler == nil {
			return errNoScheduler
		}
		result, err := rt.Scheduler.RunTask(cmd.Context(), args[0])
		if result == nil {
			return describe(err)
		}
		cmd.Printf("%s: processed %d in %s\n", args[0], result.ItemsProcessed, result.Duration().Round(time.Millisecond))
		if err != nil {
			return describe(err)
		}
		return nil
	})
}

func when(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04")
}
