package domain

import "time"

// ConnectionStatus is the resolver's verdict for a user.
type ConnectionStatus string

// Connection statuses.
const (
	StatusUnknown      ConnectionStatus = "unknown"
	StatusChecking     ConnectionStatus = "checking"
	StatusConnected    ConnectionStatus = "connected"
	StatusDisconnected ConnectionStatus = "disconnected"
	StatusError        ConnectionStatus = "error"
)

// StatusSnapshot is the in-memory connection verdict for one user.
type StatusSnapshot struct {
	UserID        string           `json:"user_id"`
	Status        ConnectionStatus `json:"status"`
	LastCheckedAt time.Time        `json:"last_checked_at"`
	Error         string           `json:"error,omitempty"`
	CompanyName   string           `json:"company_name,omitempty"`

	// FromGrace is set when the verdict came from the post-authorisation
	// grace flag rather than a direct read.
	FromGrace bool `json:"-"`
}

// Connected returns true if the verdict is connected.
func (s StatusSnapshot) Connected() bool {
	return s.Status == StatusConnected
}

// FreshAt returns true if the snapshot was taken less than window before now.
func (s StatusSnapshot) FreshAt(now time.Time, window time.Duration) bool {
	if s.LastCheckedAt.IsZero() {
		return false
	}
	return now.Sub(s.LastCheckedAt) < window
}
