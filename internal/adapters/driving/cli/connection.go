package cli

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/ledgersync/internal/adapters/driving/oauth"
	"github.com/custodia-labs/ledgersync/internal/core/domain"
)

// callbackPortRange is how many ports from --port connect tries.
const callbackPortRange = 10

var (
	connectPort      int
	connectNoBrowser bool
	connectTimeout   time.Duration
)

// openBrowser is replaced in tests.
var openBrowser = oauth.OpenBrowser

var connectCmd = &cobra.Command{
	Use:   "connect",
	Short: "Connect to a QuickBooks company",
	Long: `Starts a local callback server, opens the authorisation page in your
browser and waits for the company to be authorised.

The callback URL http://localhost:<port>/callback must be registered as a
redirect URI for your OAuth app. If --port is busy the next nine ports are
tried in turn.`,
	Args: cobra.NoArgs,
	RunE: runConnect,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the connection status",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

var disconnectCmd = &cobra.Command{
	Use:   "disconnect",
	Short: "Revoke access and forget the connection",
	Args:  cobra.NoArgs,
	RunE:  runDisconnect,
}

func init() {
	connectCmd.Flags().IntVar(&connectPort, "port", 8421, "local callback port (0 picks a free port)")
	connectCmd.Flags().BoolVar(&connectNoBrowser, "no-browser", false, "print the URL instead of opening a browser")
	connectCmd.Flags().DurationVar(&connectTimeout, "timeout", 5*time.Minute, "how long to wait for authorisation")

	rootCmd.AddCommand(connectCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(disconnectCmd)
}

func runConnect(cmd *cobra.Command, _ []string) error {
	return withRuntime(cmd, func(rt *Runtime, userID string) error {
		server := oauth.NewCallbackServer(connectPort, userID)
		if err := server.StartWithin(callbackPortRange); err != nil {
			return err
		}
		defer server.Stop()

		authURL, err := rt.Connections.Connect(cmd.Context(), userID, server.RedirectURI())
		if err != nil {
			return describe(err)
		}

		cmd.Println("Open this URL to authorise ledgersync:")
		cmd.Println()
		cmd.Println("  " + authURL)
		cmd.Println()
		if !connectNoBrowser {
			if err := openBrowser(authURL); err != nil {
				cmd.PrintErrf("Could not open a browser: %v\n", err)
			}
		}
		cmd.Println("Waiting for authorisation...")

		ctx, cancel := context.WithTimeout(cmd.Context(), connectTimeout)
		defer cancel()
		cb, err := server.Wait(ctx)
		if err != nil {
			return err
		}

		res := rt.Connections.CompleteConnection(cmd.Context(), cb.Code, cb.State, cb.RealmID)
		if err := resultError(res); err != nil {
			return err
		}
		if res.CompanyName != "" {
			cmd.Printf("Connected to %s.\n", res.CompanyName)
		} else {
			cmd.Println("Connected.")
		}
		return nil
	})
}

func runStatus(cmd *cobra.Command, _ []string) error {
	return withRuntime(cmd, func(rt *Runtime, userID string) error {
		st := rt.Connections.GetStatus(cmd.Context(), userID)

		cmd.Printf("User:    %s\n", userID)
		cmd.Printf("Status:  %s\n", st.Status)
		if st.CompanyName != "" {
			cmd.Printf("Company: %s\n", st.CompanyName)
		}
		if st.Error != "" {
			cmd.Printf("Error:   %s\n", st.Error)
		}
		if st.Status == domain.StatusDisconnected {
			cmd.Println()
			cmd.Println("Run 'ledgersync connect' to connect a company.")
		}
		return nil
	})
}

func runDisconnect(cmd *cobra.Command, _ []string) error {
	return withRuntime(cmd, func(rt *Runtime, userID string) error {
		if err := resultError(rt.Connections.Disconnect(cmd.Context(), userID)); err != nil {
			return err
		}
		cmd.Println("Disconnected.")
		return nil
	})
}
