// Package cli provides the ledgersync command line.
package cli

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/ledgersync/internal/core/domain"
	"github.com/custodia-labs/ledgersync/internal/core/ports/driving"
	"github.com/custodia-labs/ledgersync/internal/logger"
)

// version is set at build time with -ldflags.
var version = "dev"

// Runtime is the set of services a command needs once bootstrapped.
type Runtime struct {
	Settings    domain.Settings
	Connections driving.ConnectionService
	Entities    driving.EntityService
	Transfer    driving.TransferService
	Audit       driving.AuditService
	Scheduler   driving.Scheduler
	Close       func() error
}

// BootFunc builds a Runtime from effective settings.
type BootFunc func(ctx context.Context, settings domain.Settings) (*Runtime, error)

var (
	settingsService driving.SettingsService
	boot            BootFunc

	flagVerbose  bool
	flagJSONLogs bool
	flagUser     string
)

var rootCmd = &cobra.Command{
	Use:   "ledgersync",
	Short: "Manage accounting records from the terminal",
	Long: `ledgersync connects to a QuickBooks Online company and lets you list,
create, update, delete, export and import its records.

Run 'ledgersync config set oauth.client_id <id>' and
'ledgersync config set oauth.client_secret <secret>' first, then
'ledgersync connect'.`,
	SilenceUsage: true,
	PersistentPreRun: func(_ *cobra.Command, _ []string) {
		logger.SetVerbose(flagVerbose)
		logger.SetJSON(flagJSONLogs)
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&flagJSONLogs, "json-logs", false, "write logs as JSON")
	rootCmd.PersistentFlags().StringVar(&flagUser, "user", "", "act as this user instead of the configured one")
}

// Configure sets the settings service and the bootstrap used by commands
// that talk to the accounting system.
func Configure(settings driving.SettingsService, b BootFunc) {
	settingsService = settings
	boot = b
}

// Execute runs the root command.
func Execute() {
	defer logger.Sync()
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// runtimeFor loads settings and boots the services. The caller must Close
// the returned runtime.
func runtimeFor(cmd *cobra.Command) (*Runtime, error) {
	if settingsService == nil || boot == nil {
		return nil, errors.New("services not configured")
	}
	settings, err := settingsService.Get()
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}
	rt, err := boot(cmd.Context(), settings)
	if err != nil {
		return nil, err
	}
	if rt.Close == nil {
		rt.Close = func() error { return nil }
	}
	return rt, nil
}

// currentUser is the --user flag or the configured user.
func currentUser(rt *Runtime) string {
	if flagUser != "" {
		return flagUser
	}
	if rt.Settings.UserID != "" {
		return rt.Settings.UserID
	}
	return domain.DefaultUserID
}

// withRuntime boots the services, runs fn and closes them again.
func withRuntime(cmd *cobra.Command, fn func(rt *Runtime, userID string) error) error {
	rt, err := runtimeFor(cmd)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := rt.Close(); cerr != nil {
			logger.Warn("close: %v", cerr)
		}
	}()
	return fn(rt, currentUser(rt))
}

// describe renders an error for the terminal, adding a reconnect hint.
func describe(err error) error {
	msg := domain.UserMessage(err)
	if domain.NeedsReconnect(err) {
		msg += " (run 'ledgersync connect' to reconnect)"
	}
	return errors.New(msg)
}

// resultError turns a failed Result into an error.
func resultError(r driving.Result) error {
	if r.Success {
		return nil
	}
	msg := r.Error
	if r.Reconnect {
		msg += " (run 'ledgersync connect' to reconnect)"
	}
	return errors.New(msg)
}
