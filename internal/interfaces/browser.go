package interfaces

import (
	"context"
	"time"

	"github.com/ternarybob/metior/internal/models"
)

// BrowserPool owns exactly one underlying browser process and vends isolated
// contexts off it, at most MaxSessions concurrently.
type BrowserPool interface {
	// Initialize launches the browser process and runs a startup self-test.
	Initialize(ctx context.Context) error

	// Acquire leases a fresh child context (one tab). The release function
	// must be called exactly once to return the slot.
	Acquire(ctx context.Context) (browserCtx context.Context, release func(), err error)

	// Stats reports pool occupancy for the queue status endpoint.
	Stats() map[string]interface{}

	// Shutdown tears down all contexts and the browser process.
	Shutdown() error
}

// Session is a live browser context bound to one user. LoggedIn implies the
// underlying context answered the last liveness probe.
type Session interface {
	ID() string
	UserID() string
	Context() context.Context
	LoggedIn() bool
	LastUsed() time.Time
	Touch()
}

// SessionManager tracks per-user sessions over the pool
type SessionManager interface {
	// Open leases a context, opens a page, and performs login with the
	// given credential. Returns the new session's ID.
	Open(ctx context.Context, userID string, cred *models.Credential) (string, error)

	// Get returns a session handle or a not-found error.
	Get(sessionID string) (Session, error)

	// Probe re-verifies a session's liveness before reuse; a failure closes
	// the session and returns an error classified as browser_crash.
	Probe(ctx context.Context, sessionID string) error

	// Close tears down one session and releases its pool slot.
	Close(sessionID string) error

	// CloseIdle sweeps sessions unused for longer than ttl, returning how
	// many were closed.
	CloseIdle(ttl time.Duration) int

	// CloseAll tears down every session (shutdown path).
	CloseAll()

	// ActiveCount reports how many sessions are open.
	ActiveCount() int
}
