// Package session issues isolated, time-bounded workspaces for analysis runs
// and reclaims them on cleanup, expiry sweep, or restart recovery.
package session

import (
	"context"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
)

// DefaultTTL is the lifetime of a session created without WithTTL.
const DefaultTTL = 30 * time.Minute

// Status is the lifecycle state of a session.
type Status string

const (
	StatusActive  Status = "active"
	StatusExpired Status = "expired"
)

// Area selects the scratch or the output workspace of a session.
type Area string

const (
	AreaTemp   Area = "temp"
	AreaOutput Area = "output"
)

// Session is the metadata of one workspace.
type Session struct {
	ID             string    `json:"id"`
	User           string    `json:"user"`
	Context        string    `json:"context,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	ExpiresAt      time.Time `json:"expires_at"`
	LastAccessedAt time.Time `json:"last_accessed_at"`
	Root           string    `json:"root"`
	TempDir        string    `json:"temp_dir"`
	OutputDir      string    `json:"output_dir"`
}

// Expired reports whether the session is past its expiry at now.
func (s Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// Status returns the lifecycle state at now.
func (s Session) Status(now time.Time) Status {
	if s.Expired(now) {
		return StatusExpired
	}
	return StatusActive
}

// Remaining returns the time left before expiry, never negative.
func (s Session) Remaining(now time.Time) time.Duration {
	return max(s.ExpiresAt.Sub(now), 0)
}

// Dir returns the directory for area.
func (s Session) Dir(area Area) string {
	if area == AreaOutput {
		return s.OutputDir
	}
	return s.TempDir
}

// Manager is the session lifecycle service.
type Manager interface {
	Create(ctx context.Context, user, contextKey string, opts ...CreateOption) (Session, error)
	Get(ctx context.Context, id string) (Session, error)
	Extend(ctx context.Context, id string, d time.Duration) (Session, error)
	Cleanup(ctx context.Context, id string) error
	Sweep(ctx context.Context) (int, error)
	List(ctx context.Context) ([]Session, error)
	WriteArtifact(ctx context.Context, id string, area Area, name string, data []byte) (string, error)
	ReadArtifact(ctx context.Context, id string, area Area, name string) ([]byte, error)
}

// Sentinel errors.
var (
	ErrSessionNotFound = eris.New("session: not found")
	ErrSessionExpired  = eris.New("session: expired")
	ErrInvalidName     = eris.New("session: invalid name")
)

// NotFoundError names the missing session.
type NotFoundError struct {
	ID string
}

func (e *NotFoundError) Error() string { return fmt.Sprintf("session: %s not found", e.ID) }

// Unwrap lets errors.Is match ErrSessionNotFound.
func (e *NotFoundError) Unwrap() error { return ErrSessionNotFound }

// ExpiredError names the expired session and when it expired.
type ExpiredError struct {
	ID        string
	ExpiredAt time.Time
}

func (e *ExpiredError) Error() string {
	return fmt.Sprintf("session: %s expired at %s", e.ID, e.ExpiredAt.Format(time.RFC3339))
}

// Unwrap lets errors.Is match ErrSessionExpired.
func (e *ExpiredError) Unwrap() error { return ErrSessionExpired }

// CreateOption customizes Create.
type CreateOption func(*createOptions)

type createOptions struct {
	ttl    time.Duration
	hasTTL bool
}

// WithTTL sets the session lifetime. Zero is allowed and yields a session
// that is already expired.
func WithTTL(d time.Duration) CreateOption {
	return func(o *createOptions) {
		o.ttl = d
		o.hasTTL = true
	}
}
