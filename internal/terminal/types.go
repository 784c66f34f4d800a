package terminal

import (
	"time"

	"github.com/codeexec/public-terminals/internal/platform"
)

// Status is the lifecycle state of a terminal record.
type Status string

const (
	StatusPending  Status = "pending"
	StatusStarting Status = "starting"
	StatusStarted  Status = "started"
	StatusStopped  Status = "stopped"
	StatusExpired  Status = "expired"
	StatusFailed   Status = "failed"
)

// Absorbing reports whether the status is terminal: no transition ever
// leaves stopped, expired, or failed.
func (s Status) Absorbing() bool {
	switch s {
	case StatusStopped, StatusExpired, StatusFailed:
		return true
	}
	return false
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusStarting, StatusStarted, StatusStopped, StatusExpired, StatusFailed:
		return true
	}
	return false
}

// Terminal is the authoritative record for one provisioned session.
type Terminal struct {
	ID     string `json:"id"`
	Owner  string `json:"owner,omitempty"`
	Status Status `json:"status"`

	TunnelURL    string           `json:"tunnel_url,omitempty"`
	Handle       *platform.Handle `json:"unit_handle,omitempty"`
	ErrorMessage string           `json:"error_message,omitempty"`

	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	ExpiresAt  time.Time  `json:"expires_at"`
	DeletedAt  *time.Time `json:"deleted_at,omitempty"`
	LastSeenAt *time.Time `json:"last_seen_at,omitempty"`

	// DeleteRequested marks a deletion intent placed while the record was
	// still provisioning; the provisioning path checks it before handing
	// the record to the callback protocol.
	DeleteRequested bool `json:"-"`
	// terminated guards the at-most-once platform Terminate call for the
	// handle. It is claimed before the call and released if the call fails
	// so the next sweep cycle can retry.
	terminated bool
}

// Expired reports whether the record's TTL has passed at the given instant.
func (t *Terminal) Expired(now time.Time) bool {
	return !t.ExpiresAt.IsZero() && now.After(t.ExpiresAt)
}

// Active reports whether the record is still in the active set.
func (t *Terminal) Active() bool {
	return !t.Status.Absorbing()
}

// Clone returns a deep copy so callers never hold a pointer into the store.
func (t *Terminal) Clone() *Terminal {
	cp := *t
	if t.Handle != nil {
		h := *t.Handle
		cp.Handle = &h
	}
	if t.DeletedAt != nil {
		ts := *t.DeletedAt
		cp.DeletedAt = &ts
	}
	if t.LastSeenAt != nil {
		ts := *t.LastSeenAt
		cp.LastSeenAt = &ts
	}
	return &cp
}
