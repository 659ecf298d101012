package workfossa

import (
	"context"
	"errors"
	"testing"

	"github.com/chromedp/chromedp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/metior/internal/common"
)

func testDriver(devMode bool) *Driver {
	cfg := &common.WorkFossaConfig{
		BaseURL:   "https://app.workfossa.com",
		LoginPath: "/login",
		ListPath:  "/work/list",
	}
	browser := &common.BrowserConfig{
		PageTimeout:   "5s",
		NavRetryDelay: "10ms",
	}
	return NewDriver(cfg, browser, nil, nil, devMode, arbor.NewLogger())
}

func TestJoinURL(t *testing.T) {
	tests := []struct {
		base, path, want string
	}{
		{"https://app.workfossa.com", "/login", "https://app.workfossa.com/login"},
		{"https://app.workfossa.com/", "/login", "https://app.workfossa.com/login"},
		{"https://app.workfossa.com/", "login", "https://app.workfossa.com/login"},
		{"https://app.workfossa.com", "work/list", "https://app.workfossa.com/work/list"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, joinURL(tt.base, tt.path))
	}
}

func TestIsLoginURL(t *testing.T) {
	assert.True(t, isLoginURL("https://app.workfossa.com/login", "/login"))
	assert.True(t, isLoginURL("https://app.workfossa.com/login?error=1", "/login"))
	assert.False(t, isLoginURL("https://app.workfossa.com/work/list", "/login"))
	assert.False(t, isLoginURL("https://app.workfossa.com/dashboard", "/login"))
	// Empty login path never matches; better to treat it as success
	assert.False(t, isLoginURL("https://app.workfossa.com/", ""))
}

func TestDevVerify(t *testing.T) {
	tests := []struct {
		name     string
		username string
		password string
		ok       bool
	}{
		{"well-formed", "tech@example.com", "pw", true},
		{"subdomain", "a.b@mail.example.co", "pw", true},
		{"no at sign", "techexample.com", "pw", false},
		{"no domain", "tech@", "pw", false},
		{"no tld", "tech@example", "pw", false},
		{"spaces", "tech @example.com", "pw", false},
		{"empty password", "tech@example.com", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := devVerify(tt.username, tt.password)
			assert.Equal(t, tt.ok, result.OK, result.Message)
		})
	}
}

func TestVerifyCredentials_DevModeSkipsBrowser(t *testing.T) {
	// pool is nil; dev mode must never touch it
	d := testDriver(true)

	result, err := d.VerifyCredentials(context.Background(), "tech@example.com", "secret")
	require.NoError(t, err)
	assert.True(t, result.OK)

	result, err = d.VerifyCredentials(context.Background(), "not-an-email", "secret")
	require.NoError(t, err)
	assert.False(t, result.OK)
}

func TestSetPageSize_FailureIsNonFatal(t *testing.T) {
	d := testDriver(false)
	d.run = func(ctx context.Context, actions ...chromedp.Action) error {
		return errors.New("no such element")
	}

	s := &verifySession{ctx: context.Background()}
	err := d.SetPageSize(context.Background(), s, 100)
	assert.NoError(t, err)
}

func TestLogin_NavigateFailureIsError(t *testing.T) {
	d := testDriver(false)
	d.run = func(ctx context.Context, actions ...chromedp.Action) error {
		return errors.New("net::ERR_CONNECTION_REFUSED")
	}

	s := &verifySession{ctx: context.Background()}
	result, err := d.Login(context.Background(), s, "tech@example.com", "secret")
	require.Error(t, err)
	assert.Nil(t, result)
	assert.Contains(t, err.Error(), "navigate to login page")
}
