package cli

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/ledgersync/internal/adapters/driving/mcp"
)

var mcpHTTPAddr string

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Run an MCP server for AI assistants",
	Long: `Serves the Model Context Protocol over stdio (default) or HTTP so an
assistant can check the connection and read, create, update and delete
records as the current user.

Example client configuration:
  {"command": "ledgersync", "args": ["mcp"]}`,
	Args: cobra.NoArgs,
	RunE: runMCP,
}

func init() {
	mcpCmd.Flags().StringVar(&mcpHTTPAddr, "http", "", "serve streamable HTTP on this address instead of stdio")
	rootCmd.AddCommand(mcpCmd)
}

func runMCP(cmd *cobra.Command, _ []string) error {
	return withRuntime(cmd, func(rt *Runtime, userID string) error {
		server, err := mcp.NewServer(&mcp.Ports{
			Entities:    rt.Entities,
			Connections: rt.Connections,
			Audit:       rt.Audit,
		}, userID)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if mcpHTTPAddr != "" {
			return server.RunHTTP(ctx, mcpHTTPAddr)
		}
		return server.Run(ctx)
	})
}
