package mcp

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/custodia-labs/ledgersync/internal/logger"
)

// Version is the MCP server version.
const Version = "0.1.0"

const instructions = `Records live in the connected accounting company. ` +
	`Call connection_status first; a "not_authenticated" or "refresh_failed" error means the user must run ` +
	`"ledgersync connect". Updates need the sync_token from the latest read. ` +
	`Deleting master data such as Customer makes it inactive; transactions are voided.`

// Server is the MCP server for one local user.
type Server struct {
	ports  *Ports
	userID string
	server *mcp.Server
}

// NewServer creates an MCP server acting as userID.
func NewServer(ports *Ports, userID string) (*Server, error) {
	if err := ports.Validate(); err != nil {
		return nil, fmt.Errorf("validating ports: %w", err)
	}
	if userID == "" {
		return nil, ErrMissingUser
	}

	s := &Server{
		ports:  ports,
		userID: userID,
		server: mcp.NewServer(
			&mcp.Implementation{Name: "ledgersync", Version: Version},
			&mcp.ServerOptions{Instructions: instructions},
		),
	}

	s.registerTools()
	s.registerResources()

	return s, nil
}

// Run serves over stdio until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	return s.server.Run(ctx, &mcp.StdioTransport{})
}

// RunHTTP serves the streamable HTTP transport on addr until ctx is
// cancelled.
func (s *Server) RunHTTP(ctx context.Context, addr string) error {
	handler := mcp.NewStreamableHTTPHandler(func(_ *http.Request) *mcp.Server {
		return s.server
	}, nil)

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("mcp: shutdown: %v", err)
		}
	}()

	logger.Info("mcp: listening on %s", addr)
	if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
