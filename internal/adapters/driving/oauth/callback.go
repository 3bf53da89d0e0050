// Package oauth receives the authorisation redirect on a loopback port for
// the CLI connect command and opens the user's browser.
package oauth

import (
	"context"
	"errors"
	"fmt"
	"html"
	"net"
	"net/http"
	"os/exec"
	"runtime"
	"sync"
	"time"
)

// CallbackPath is the path the authorisation server redirects to.
const CallbackPath = "/callback"

// ErrCallbackTimeout is returned by Wait when no redirect arrives in time.
var ErrCallbackTimeout = errors.New("timed out waiting for the authorization callback")

// Callback holds the parameters of a successful redirect.
type Callback struct {
	Code    string
	State   string
	RealmID string
}

// CallbackServer accepts one authorisation redirect on 127.0.0.1.
type CallbackServer struct {
	mu            sync.Mutex
	port          int
	expectedState string
	results       chan Callback
	errs          chan error
	server        *http.Server
	listener      net.Listener
}

// NewCallbackServer creates a server that only accepts redirects whose state
// equals expectedState. Port 0 picks a free port on Start.
func NewCallbackServer(port int, expectedState string) *CallbackServer {
	return &CallbackServer{
		port:          port,
		expectedState: expectedState,
		results:       make(chan Callback, 1),
		errs:          make(chan error, 1),
	}
}

// Start begins listening on the configured port.
func (s *CallbackServer) Start() error {
	return s.StartWithin(1)
}

// StartWithin listens on the first free port among the configured port and
// the span-1 ports after it. Port 0 ignores span.
func (s *CallbackServer) StartWithin(span int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	listener, err := listenFirst(s.port, span)
	if err != nil {
		return err
	}
	s.listener = listener

	mux := http.NewServeMux()
	mux.HandleFunc(CallbackPath, s.handleCallback)
	if tcpAddr, ok := listener.Addr().(*net.TCPAddr); ok {
		s.port = tcpAddr.Port
	}

	s.server = &http.Server{
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.report(err)
		}
	}()
	return nil
}

func (s *CallbackServer) handleCallback(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	q := r.URL.Query()
	w.Header().Set("Content-Type", "text/html; charset=utf-8")

	if denied := q.Get("error"); denied != "" {
		desc := q.Get("error_description")
		if desc == "" {
			desc = denied
		}
		s.report(fmt.Errorf("authorization denied: %s", desc))
		fmt.Fprint(w, resultPage("Connection failed", desc, false))
		return
	}

	cb := Callback{Code: q.Get("code"), State: q.Get("state"), RealmID: q.Get("realmId")}
	switch {
	case cb.State != s.expectedState:
		s.report(errors.New("callback state does not match this connect request"))
		fmt.Fprint(w, resultPage("Connection failed", "The request could not be verified. Run connect again.", false))
		return
	case cb.Code == "":
		s.report(errors.New("no authorization code received"))
		fmt.Fprint(w, resultPage("Connection failed", "No authorization code was received.", false))
		return
	}

	select {
	case s.results <- cb:
	default:
	}
	fmt.Fprint(w, resultPage("Authorization received", "You can close this window and return to the terminal.", true))
}

func listenFirst(port, span int) (net.Listener, error) {
	if port == 0 || span < 1 {
		span = 1
	}
	var lastErr error
	for p := port; p < port+span; p++ {
		addr := fmt.Sprintf("127.0.0.1:%d", p)
		l, err := net.Listen("tcp", addr)
		if err == nil {
			return l, nil
		}
		lastErr = fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	if span == 1 {
		return nil, lastErr
	}
	return nil, fmt.Errorf("no free callback port in %d-%d: %w", port, port+span-1, lastErr)
}

// report keeps the first error only.
func (s *CallbackServer) report(err error) {
	select {
	case s.errs <- err:
	default:
	}
}

// Wait blocks until a redirect is accepted, an error is reported, or ctx ends.
func (s *CallbackServer) Wait(ctx context.Context) (Callback, error) {
	select {
	case cb := <-s.results:
		return cb, nil
	case err := <-s.errs:
		return Callback{}, err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return Callback{}, ErrCallbackTimeout
		}
		return Callback{}, ctx.Err()
	}
}

// Stop shuts the server down. Safe to call more than once.
func (s *CallbackServer) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

// Port returns the listening port.
func (s *CallbackServer) Port() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.port
}

// RedirectURI is the URI to register with the OAuth app.
func (s *CallbackServer) RedirectURI() string {
	return fmt.Sprintf("http://localhost:%d%s", s.Port(), CallbackPath)
}

func resultPage(title, message string, ok bool) string {
	accent := "#2CA01C"
	if !ok {
		accent = "#D52B1E"
	}
	return fmt.Sprintf(`<!DOCTYPE html>
<html>
<head>
    <meta charset="utf-8">
    <title>ledgersync</title>
    <style>
        body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif;
               display: flex; justify-content: center; align-items: center;
               height: 100vh; margin: 0; background: #F4F5F8; }
        .card { background: #fff; padding: 40px 56px; border-radius: 8px;
                border-top: 4px solid %s; box-shadow: 0 2px 8px rgba(0,0,0,0.08); text-align: center; }
        h1 { color: #393A3D; font-size: 22px; margin: 0 0 12px; }
        p { color: #6B6C72; margin: 0; }
    </style>
</head>
<body>
    <div class="card">
        <h1>%s</h1>
        <p>%s</p>
    </div>
</body>
</html>`, accent, html.EscapeString(title), html.EscapeString(message))
}

// OpenBrowser opens url in the default browser.
func OpenBrowser(url string) error {
	var cmd *exec.Cmd

	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "linux":
		cmd = exec.Command("xdg-open", url)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	default:
		return fmt.Errorf("unsupported platform: %s", runtime.GOOS)
	}

	return cmd.Start()
}
