package cli

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/ledgersync/internal/adapters/driving/api"
	"github.com/custodia-labs/ledgersync/internal/logger"
)

var (
	serveAddr             string
	serveAllowOrigins     string
	serveCallbackRedirect string
	tokenTTL              time.Duration
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	Long: `Serves the JSON API used by the web front end. Requests must carry a
bearer token signed with server.jwt_secret; see 'ledgersync token'.

The scheduler refreshes expiring tokens in the background when
scheduler.enabled is true.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue an API bearer token for the current user",
	Args:  cobra.NoArgs,
	RunE:  runToken,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (default server.addr)")
	serveCmd.Flags().StringVar(&serveAllowOrigins, "allow-origins", "", "comma-separated CORS origins")
	serveCmd.Flags().StringVar(&serveCallbackRedirect, "callback-redirect", "", "page to send the browser to after authorisation")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", api.DefaultTokenTTL, "token lifetime")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(tokenCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	return withRuntime(cmd, func(rt *Runtime, _ string) error {
		addr := serveAddr
		if addr == "" {
			addr = rt.Settings.Server.Addr
		}
		server, err := api.NewServer(api.Config{
			Addr:             addr,
			JWTSecret:        rt.Settings.Server.JWTSecret,
			AllowOrigins:     serveAllowOrigins,
			CallbackRedirect: serveCallbackRedirect,
		}, api.Services{
			Connections: rt.Connections,
			Entities:    rt.Entities,
			Transfer:    rt.Transfer,
			Audit:       rt.Audit,
		})
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if rt.Settings.Scheduler.Enabled && rt.Scheduler != nil {
			go func() {
				if err := rt.Scheduler.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
					logger.Warn("scheduler stopped: %v", err)
				}
			}()
			defer func() {
				if err := rt.Scheduler.Stop(); err != nil {
					logger.Warn("scheduler stop: %v", err)
				}
			}()
		}

		cmd.Printf("Listening on http://%s\n", addr)
		return server.Start(ctx)
	})
}

func runToken(cmd *cobra.Command, _ []string) error {
	if settingsService == nil {
		return errors.New("settings service not configured")
	}
	settings, err := settingsService.Get()
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}
	if settings.Server.JWTSecret == "" {
		return errors.New("server.jwt_secret is not set; run 'ledgersync config set server.jwt_secret <secret>'")
	}

	user := flagUser
	if user == "" {
		user = settings.UserID
	}
	token, err := api.NewAuthenticator(settings.Server.JWTSecret).IssueToken(user, tokenTTL)
	if err != nil {
		return err
	}
	cmd.Println(token)
	return nil
}
