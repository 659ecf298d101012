// -----------------------------------------------------------------------
// Session Manager - per-user logged-in browser sessions over the pool
// -----------------------------------------------------------------------

package browser

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/metior/internal/common"
	"github.com/ternarybob/metior/internal/interfaces"
	"github.com/ternarybob/metior/internal/models"
)

// probeTimeout bounds the liveness check before session reuse
const probeTimeout = 10 * time.Second

// session binds one pool context to one user. A session owns exactly one
// context; contexts are never shared between sessions.
type session struct {
	id       string
	userID   string
	ctx      context.Context
	release  func()
	loggedIn bool

	mu       sync.Mutex
	lastUsed time.Time
}

var _ interfaces.Session = (*session)(nil)

func (s *session) ID() string               { return s.id }
func (s *session) UserID() string           { return s.userID }
func (s *session) Context() context.Context { return s.ctx }
func (s *session) LoggedIn() bool           { return s.loggedIn }

func (s *session) LastUsed() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastUsed
}

func (s *session) Touch() {
	s.mu.Lock()
	s.lastUsed = time.Now()
	s.mu.Unlock()
}

// Manager implements interfaces.SessionManager. Login is delegated to the
// site driver; the manager only tracks lifecycle and liveness.
type Manager struct {
	pool     interfaces.BrowserPool
	driver   interfaces.SiteDriver
	settings interfaces.SettingsStorage
	logger   arbor.ILogger

	mu       sync.Mutex
	sessions map[string]*session

	// probe is swapped out by tests; the default evaluates document.title
	// on the session's context.
	probe func(ctx context.Context, s *session) error
}

// Compile-time assertion
var _ interfaces.SessionManager = (*Manager)(nil)

// NewManager creates a session manager. settings may be nil; per-user
// viewport preferences are then skipped.
func NewManager(pool interfaces.BrowserPool, driver interfaces.SiteDriver, settings interfaces.SettingsStorage, logger arbor.ILogger) *Manager {
	return &Manager{
		pool:     pool,
		driver:   driver,
		settings: settings,
		logger:   logger,
		sessions: make(map[string]*session),
		probe:    probeTitle,
	}
}

// probeTitle is the default liveness check: a dead target cannot answer a
// document.title evaluation.
func probeTitle(ctx context.Context, s *session) error {
	probeCtx, cancel := context.WithTimeout(s.ctx, probeTimeout)
	defer cancel()

	var title string
	return chromedp.Run(probeCtx, chromedp.Title(&title))
}

// Open leases a context, applies the user's viewport preference, and logs in
// via the site driver. The session is registered only after a successful
// login; failures release the pool slot immediately.
func (m *Manager) Open(ctx context.Context, userID string, cred *models.Credential) (string, error) {
	if cred == nil || cred.Username == "" || cred.Password == "" {
		return "", models.Classified(models.ErrorKindCredential, fmt.Errorf("credential required to open session"))
	}

	browserCtx, release, err := m.pool.Acquire(ctx)
	if err != nil {
		return "", fmt.Errorf("acquire browser context: %w", err)
	}

	s := &session{
		id:       common.NewSessionID(),
		userID:   userID,
		ctx:      browserCtx,
		release:  release,
		lastUsed: time.Now(),
	}

	if err := m.applyViewport(ctx, s); err != nil {
		m.logger.Warn().Str("session_id", s.id).Err(err).Msg("Viewport preference not applied")
	}

	result, err := m.driver.Login(ctx, s, cred.Username, cred.Password)
	if err != nil {
		release()
		return "", fmt.Errorf("login for %s: %w", userID, err)
	}
	if !result.OK {
		release()
		return "", models.Classified(result.FailureReason, fmt.Errorf("login rejected: %s", result.Message))
	}
	s.loggedIn = true

	m.mu.Lock()
	m.sessions[s.id] = s
	m.mu.Unlock()

	m.logger.Info().
		Str("session_id", s.id).
		Str("user_id", userID).
		Msg("Session opened and logged in")

	return s.id, nil
}

// applyViewport sets the user's stored viewport on the fresh context
func (m *Manager) applyViewport(ctx context.Context, s *session) error {
	if m.settings == nil {
		return nil
	}
	prefs, err := m.settings.GetUserBrowserSettings(ctx, s.userID)
	if err != nil || prefs == nil {
		return err
	}
	if prefs.ViewportWidth <= 0 || prefs.ViewportHeight <= 0 {
		return nil
	}
	return chromedp.Run(s.ctx,
		chromedp.EmulateViewport(int64(prefs.ViewportWidth), int64(prefs.ViewportHeight)))
}

// Get returns a session handle or a not-found error
func (m *Manager) Get(sessionID string) (interfaces.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("session not found: %s", sessionID)
	}
	return s, nil
}

// Probe re-verifies liveness before reuse. A failed probe closes the session
// and surfaces a browser_crash so recovery replaces it.
func (m *Manager) Probe(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("session not found: %s", sessionID)
	}

	if err := m.probe(ctx, s); err != nil {
		m.logger.Warn().
			Str("session_id", sessionID).
			Err(err).
			Msg("Session liveness probe failed, closing")
		_ = m.Close(sessionID)
		return models.Classified(models.ErrorKindBrowserCrash, fmt.Errorf("session %s unresponsive: %w", sessionID, err))
	}

	s.Touch()
	return nil
}

// Close tears down one session and returns its pool slot
func (m *Manager) Close(sessionID string) error {
	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	if ok {
		delete(m.sessions, sessionID)
	}
	m.mu.Unlock()

	if !ok {
		return fmt.Errorf("session not found: %s", sessionID)
	}

	s.release()
	m.logger.Info().Str("session_id", sessionID).Msg("Session closed")
	return nil
}

// CloseIdle sweeps sessions unused for longer than ttl
func (m *Manager) CloseIdle(ttl time.Duration) int {
	m.mu.Lock()
	var stale []*session
	cutoff := time.Now().Add(-ttl)
	for id, s := range m.sessions {
		if s.LastUsed().Before(cutoff) {
			stale = append(stale, s)
			delete(m.sessions, id)
		}
	}
	m.mu.Unlock()

	for _, s := range stale {
		s.release()
		m.logger.Info().
			Str("session_id", s.id).
			Str("user_id", s.userID).
			Msg("Idle session closed")
	}
	return len(stale)
}

// CloseAll tears down every session (shutdown path)
func (m *Manager) CloseAll() {
	m.mu.Lock()
	all := make([]*session, 0, len(m.sessions))
	for id, s := range m.sessions {
		all = append(all, s)
		delete(m.sessions, id)
	}
	m.mu.Unlock()

	for _, s := range all {
		s.release()
	}
	if len(all) > 0 {
		m.logger.Info().Int("count", len(all)).Msg("All sessions closed")
	}
}

// ActiveCount reports how many sessions are open
func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}
