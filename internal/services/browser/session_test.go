package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/metior/internal/interfaces"
	"github.com/ternarybob/metior/internal/models"
)

// fakePool hands out plain contexts and counts leases
type fakePool struct {
	mu       sync.Mutex
	acquired int
	released int
	capacity int
}

func (p *fakePool) Initialize(ctx context.Context) error { return nil }

func (p *fakePool) Acquire(ctx context.Context) (context.Context, func(), error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.capacity > 0 && p.acquired-p.released >= p.capacity {
		return nil, nil, fmt.Errorf("browser pool at capacity (%d sessions)", p.capacity)
	}
	p.acquired++
	var once sync.Once
	return context.Background(), func() {
		once.Do(func() {
			p.mu.Lock()
			p.released++
			p.mu.Unlock()
		})
	}, nil
}

func (p *fakePool) Stats() map[string]interface{} { return nil }
func (p *fakePool) Shutdown() error               { return nil }

func (p *fakePool) outstanding() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.acquired - p.released
}

// fakeDriver approves or rejects logins without a browser
type fakeDriver struct {
	rejectReason models.ErrorKind
	loginErr     error
	logins       int
}

func (d *fakeDriver) Login(ctx context.Context, s interfaces.Session, username, password string) (*interfaces.LoginResult, error) {
	d.logins++
	if d.loginErr != nil {
		return nil, d.loginErr
	}
	if d.rejectReason != "" {
		return &interfaces.LoginResult{OK: false, FailureReason: d.rejectReason, Message: "login page still present"}, nil
	}
	return &interfaces.LoginResult{OK: true}, nil
}

func (d *fakeDriver) GoToList(ctx context.Context, s interfaces.Session) error { return nil }
func (d *fakeDriver) SetPageSize(ctx context.Context, s interfaces.Session, size int) error {
	return nil
}
func (d *fakeDriver) GoToVisit(ctx context.Context, s interfaces.Session, url string) error {
	return nil
}
func (d *fakeDriver) GoToCustomer(ctx context.Context, s interfaces.Session, url string) error {
	return nil
}
func (d *fakeDriver) VerifyCredentials(ctx context.Context, username, password string) (*models.CredentialTestResult, error) {
	return &models.CredentialTestResult{OK: true}, nil
}

func testCred() *models.Credential {
	return &models.Credential{UserID: "user-1", Username: "tech@example.com", Password: "secret"}
}

func newTestManager(pool interfaces.BrowserPool, driver interfaces.SiteDriver) *Manager {
	return NewManager(pool, driver, nil, arbor.NewLogger())
}

func TestOpen_RegistersLoggedInSession(t *testing.T) {
	pool := &fakePool{}
	driver := &fakeDriver{}
	m := newTestManager(pool, driver)

	id, err := m.Open(context.Background(), "user-1", testCred())
	require.NoError(t, err)
	require.NotEmpty(t, id)

	s, err := m.Get(id)
	require.NoError(t, err)
	assert.True(t, s.LoggedIn())
	assert.Equal(t, "user-1", s.UserID())
	assert.Equal(t, 1, m.ActiveCount())
	assert.Equal(t, 1, driver.logins)
}

func TestOpen_LoginRejectionReleasesSlot(t *testing.T) {
	pool := &fakePool{}
	driver := &fakeDriver{rejectReason: models.ErrorKindCredential}
	m := newTestManager(pool, driver)

	_, err := m.Open(context.Background(), "user-1", testCred())
	require.Error(t, err)

	var classified *models.ClassifiedError
	require.ErrorAs(t, err, &classified)
	assert.Equal(t, models.ErrorKindCredential, classified.Kind)
	assert.Equal(t, 0, pool.outstanding())
	assert.Equal(t, 0, m.ActiveCount())
}

func TestOpen_TransportErrorReleasesSlot(t *testing.T) {
	pool := &fakePool{}
	driver := &fakeDriver{loginErr: errors.New("net::ERR_CONNECTION_REFUSED")}
	m := newTestManager(pool, driver)

	_, err := m.Open(context.Background(), "user-1", testCred())
	require.Error(t, err)
	assert.Equal(t, 0, pool.outstanding())
}

func TestOpen_MissingCredential(t *testing.T) {
	m := newTestManager(&fakePool{}, &fakeDriver{})

	_, err := m.Open(context.Background(), "user-1", nil)
	require.Error(t, err)

	_, err = m.Open(context.Background(), "user-1", &models.Credential{Username: "x"})
	require.Error(t, err)
}

func TestOpen_PoolCapacity(t *testing.T) {
	pool := &fakePool{capacity: 1}
	m := newTestManager(pool, &fakeDriver{})

	_, err := m.Open(context.Background(), "user-1", testCred())
	require.NoError(t, err)

	_, err = m.Open(context.Background(), "user-2", testCred())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "capacity")
}

func TestClose_ReturnsSlot(t *testing.T) {
	pool := &fakePool{}
	m := newTestManager(pool, &fakeDriver{})

	id, err := m.Open(context.Background(), "user-1", testCred())
	require.NoError(t, err)
	require.Equal(t, 1, pool.outstanding())

	require.NoError(t, m.Close(id))
	assert.Equal(t, 0, pool.outstanding())

	_, err = m.Get(id)
	assert.Error(t, err)
	assert.Error(t, m.Close(id))
}

func TestProbe_FailureClosesSessionAsBrowserCrash(t *testing.T) {
	pool := &fakePool{}
	m := newTestManager(pool, &fakeDriver{})
	m.probe = func(ctx context.Context, s *session) error {
		return errors.New("target closed")
	}

	id, err := m.Open(context.Background(), "user-1", testCred())
	require.NoError(t, err)

	err = m.Probe(context.Background(), id)
	require.Error(t, err)

	var classified *models.ClassifiedError
	require.ErrorAs(t, err, &classified)
	assert.Equal(t, models.ErrorKindBrowserCrash, classified.Kind)

	assert.Equal(t, 0, m.ActiveCount())
	assert.Equal(t, 0, pool.outstanding())
}

func TestProbe_SuccessTouchesSession(t *testing.T) {
	m := newTestManager(&fakePool{}, &fakeDriver{})
	m.probe = func(ctx context.Context, s *session) error { return nil }

	id, err := m.Open(context.Background(), "user-1", testCred())
	require.NoError(t, err)

	s, _ := m.Get(id)
	before := s.LastUsed()
	time.Sleep(5 * time.Millisecond)

	require.NoError(t, m.Probe(context.Background(), id))
	assert.True(t, s.LastUsed().After(before))
}

func TestCloseIdle_SweepsOnlyStaleSessions(t *testing.T) {
	pool := &fakePool{}
	m := newTestManager(pool, &fakeDriver{})

	idle, err := m.Open(context.Background(), "user-1", testCred())
	require.NoError(t, err)
	fresh, err := m.Open(context.Background(), "user-2", testCred())
	require.NoError(t, err)

	// Backdate the idle session past the ttl
	m.mu.Lock()
	m.sessions[idle].lastUsed = time.Now().Add(-time.Hour)
	m.mu.Unlock()

	closed := m.CloseIdle(30 * time.Minute)
	assert.Equal(t, 1, closed)
	assert.Equal(t, 1, m.ActiveCount())

	_, err = m.Get(idle)
	assert.Error(t, err)
	_, err = m.Get(fresh)
	assert.NoError(t, err)
}

func TestCloseAll(t *testing.T) {
	pool := &fakePool{}
	m := newTestManager(pool, &fakeDriver{})

	for i := 0; i < 3; i++ {
		_, err := m.Open(context.Background(), fmt.Sprintf("user-%d", i), testCred())
		require.NoError(t, err)
	}
	require.Equal(t, 3, pool.outstanding())

	m.CloseAll()
	assert.Equal(t, 0, m.ActiveCount())
	assert.Equal(t, 0, pool.outstanding())
}
