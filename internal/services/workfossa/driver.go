// -----------------------------------------------------------------------
// WorkFossa Driver - navigation and authentication against the target site
// -----------------------------------------------------------------------

package workfossa

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/metior/internal/common"
	"github.com/ternarybob/metior/internal/interfaces"
	"github.com/ternarybob/metior/internal/models"
)

// Login form selectors, ordered most to least specific. The site has shipped
// both an id-based and a name-based form over time.
var (
	emailSelectors    = []string{`input#email`, `input[name="email"]`, `input[type="email"]`}
	passwordSelectors = []string{`input#password`, `input[name="password"]`, `input[type="password"]`}
	submitSelectors   = []string{`button[type="submit"]`, `input[type="submit"]`, `form button`}
)

// listContentMarker appears once the work-order table has rendered
const listContentMarker = `table, .work-order-list, [class*="work-list"]`

// devEmailPattern is the shape accepted by dev-mode credential verification
var devEmailPattern = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

// Driver implements interfaces.SiteDriver over chromedp
type Driver struct {
	cfg      *common.WorkFossaConfig
	browser  *common.BrowserConfig
	pool     interfaces.BrowserPool
	recovery interfaces.RecoveryService
	logger   arbor.ILogger
	devMode  bool

	// run is swapped out by tests
	run func(ctx context.Context, actions ...chromedp.Action) error
}

var _ interfaces.SiteDriver = (*Driver)(nil)

// NewDriver creates a site driver. pool is only used by VerifyCredentials
// for throwaway contexts; sessions bring their own.
func NewDriver(cfg *common.WorkFossaConfig, browser *common.BrowserConfig, pool interfaces.BrowserPool, recovery interfaces.RecoveryService, devMode bool, logger arbor.ILogger) *Driver {
	return &Driver{
		cfg:      cfg,
		browser:  browser,
		pool:     pool,
		recovery: recovery,
		logger:   logger,
		devMode:  devMode,
		run:      chromedp.Run,
	}
}

// joinURL glues the base URL and a path without doubling slashes
func joinURL(base, path string) string {
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(path, "/")
}

// isLoginURL reports whether current still points at the login page
func isLoginURL(current, loginPath string) bool {
	trimmed := strings.TrimRight(strings.TrimLeft(loginPath, "/"), "/")
	return trimmed != "" && strings.Contains(current, trimmed)
}

func (d *Driver) pageTimeout() time.Duration {
	return common.ParseDuration(d.browser.PageTimeout, 30*time.Second)
}

func (d *Driver) navRetryDelay() time.Duration {
	return common.ParseDuration(d.browser.NavRetryDelay, 2*time.Second)
}

// -----------------------------------------------------------------------
// Login
// -----------------------------------------------------------------------

// Login fills and submits the login form. The only signal treated as an
// invalid credential is the login page still being present after submit;
// everything else (transport, timeout, missing form) surfaces as an error
// for the recovery harness to classify as transient.
func (d *Driver) Login(ctx context.Context, session interfaces.Session, username, password string) (*interfaces.LoginResult, error) {
	loginURL := joinURL(d.cfg.BaseURL, d.cfg.LoginPath)

	navCtx, cancel := context.WithTimeout(session.Context(), d.pageTimeout())
	defer cancel()

	if err := d.run(navCtx, chromedp.Navigate(loginURL)); err != nil {
		return nil, fmt.Errorf("navigate to login page: %w", err)
	}

	if err := d.fillAndSubmit(navCtx, username, password); err != nil {
		return nil, err
	}

	// Give the post-submit navigation a moment to land before reading back
	var currentURL string
	if err := d.run(navCtx,
		chromedp.Sleep(d.navRetryDelay()),
		chromedp.Location(&currentURL),
	); err != nil {
		return nil, fmt.Errorf("read post-login location: %w", err)
	}

	if isLoginURL(currentURL, d.cfg.LoginPath) {
		d.logger.Warn().
			Str("session_id", session.ID()).
			Str("url", currentURL).
			Msg("Login page still present after submit")
		return &interfaces.LoginResult{
			OK:            false,
			FailureReason: models.ErrorKindCredential,
			Message:       "login page still present after submit",
		}, nil
	}

	session.Touch()
	d.logger.Info().
		Str("session_id", session.ID()).
		Str("url", currentURL).
		Msg("Login succeeded")
	return &interfaces.LoginResult{OK: true}, nil
}

// fillAndSubmit tries each selector set in order until one matches
func (d *Driver) fillAndSubmit(ctx context.Context, username, password string) error {
	emailSel, err := d.firstVisible(ctx, emailSelectors)
	if err != nil {
		return fmt.Errorf("login failed: email field not reachable: %w", err)
	}
	passwordSel, err := d.firstVisible(ctx, passwordSelectors)
	if err != nil {
		return fmt.Errorf("login failed: password field not reachable: %w", err)
	}
	submitSel, err := d.firstVisible(ctx, submitSelectors)
	if err != nil {
		return fmt.Errorf("login failed: submit button not reachable: %w", err)
	}

	return d.run(ctx,
		chromedp.Clear(emailSel, chromedp.ByQuery),
		chromedp.SendKeys(emailSel, username, chromedp.ByQuery),
		chromedp.Clear(passwordSel, chromedp.ByQuery),
		chromedp.SendKeys(passwordSel, password, chromedp.ByQuery),
		chromedp.Click(submitSel, chromedp.ByQuery),
	)
}

// firstVisible returns the first selector that resolves within a short wait
func (d *Driver) firstVisible(ctx context.Context, selectors []string) (string, error) {
	var lastErr error
	for _, sel := range selectors {
		waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := d.run(waitCtx, chromedp.WaitVisible(sel, chromedp.ByQuery))
		cancel()
		if err == nil {
			return sel, nil
		}
		lastErr = err
	}
	return "", fmt.Errorf("no selector matched %v: %w", selectors, lastErr)
}

// -----------------------------------------------------------------------
// Navigation
// -----------------------------------------------------------------------

// GoToList opens the work-order list with the no-visits-completed filter
func (d *Driver) GoToList(ctx context.Context, session interfaces.Session) error {
	listURL := joinURL(d.cfg.BaseURL, d.cfg.ListPath) + "?visit_status=no_visits_completed"
	return d.navigateWithRecovery(ctx, session, "list_navigation", listURL, listContentMarker)
}

// GoToVisit opens one visit page and waits for meaningful content
func (d *Driver) GoToVisit(ctx context.Context, session interfaces.Session, url string) error {
	return d.navigateWithRecovery(ctx, session, "visit_navigation", url, `main, .visit-detail, form`)
}

// GoToCustomer opens one customer location page
func (d *Driver) GoToCustomer(ctx context.Context, session interfaces.Session, url string) error {
	return d.navigateWithRecovery(ctx, session, "customer_navigation", url, `main, .location-detail, [class*="equipment"]`)
}

// navigateWithRecovery runs one navigation under the retry harness. On a
// retry_with_refresh attempt the page is reloaded before re-checking.
func (d *Driver) navigateWithRecovery(ctx context.Context, session interfaces.Session, operation, url, marker string) error {
	action, err := d.recovery.Recover(ctx, operation, func(ctx context.Context, attempt models.Attempt) error {
		navCtx, cancel := context.WithTimeout(session.Context(), d.pageTimeout())
		defer cancel()

		if attempt.Action == models.ActionRetryWithRefresh {
			if err := d.run(navCtx, chromedp.Reload()); err != nil {
				return fmt.Errorf("navigation failed: reload: %w", err)
			}
		} else {
			if err := d.run(navCtx, chromedp.Navigate(url)); err != nil {
				return fmt.Errorf("navigation failed: %w", err)
			}
		}

		if err := d.waitForContent(navCtx, marker); err != nil {
			return models.Classified(models.ErrorKindPageLoad,
				fmt.Errorf("page did not render content marker: %w", err))
		}

		session.Touch()
		return nil
	})
	if err != nil {
		d.logger.Warn().
			Str("session_id", session.ID()).
			Str("operation", operation).
			Str("url", url).
			Str("action", string(action)).
			Err(err).
			Msg("Navigation failed after recovery")
		return err
	}
	return nil
}

// waitForContent waits up to half the page timeout for the content marker,
// then falls back to a fixed delay. The marker wait is best effort; pages
// without the marker still settle after the delay.
func (d *Driver) waitForContent(ctx context.Context, marker string) error {
	waitCtx, cancel := context.WithTimeout(ctx, d.pageTimeout()/2)
	err := d.run(waitCtx, chromedp.WaitReady(marker, chromedp.ByQuery))
	cancel()
	if err == nil {
		return nil
	}

	// Fixed-delay fallback: slow-rendering pages with unexpected markup
	if err := d.run(ctx, chromedp.Sleep(d.navRetryDelay())); err != nil {
		return err
	}

	var readyState string
	if err := d.run(ctx, chromedp.Evaluate(`document.readyState`, &readyState)); err != nil {
		return err
	}
	if readyState != "complete" && readyState != "interactive" {
		return fmt.Errorf("document not ready: %s", readyState)
	}
	return nil
}

// -----------------------------------------------------------------------
// Page size
// -----------------------------------------------------------------------

// SetPageSize raises the list page size. Native select first, then the
// custom "Show 25" dropdown component, read back either way. Failure is
// logged and swallowed; scraping at the default size still works.
func (d *Driver) SetPageSize(ctx context.Context, session interfaces.Session, size int) error {
	opCtx, cancel := context.WithTimeout(session.Context(), d.pageTimeout())
	defer cancel()

	if err := d.setNativePageSize(opCtx, size); err == nil {
		d.logger.Debug().Int("size", size).Msg("Page size set via native select")
		return nil
	}

	if err := d.setCustomPageSize(opCtx, size); err != nil {
		d.logger.Warn().
			Str("session_id", session.ID()).
			Int("size", size).
			Err(err).
			Msg("Page size not raised, continuing at default")
		return nil
	}

	d.logger.Debug().Int("size", size).Msg("Page size set via custom dropdown")
	return nil
}

func (d *Driver) setNativePageSize(ctx context.Context, size int) error {
	const sel = `select[name="page_size"], select[name="per_page"]`
	value := fmt.Sprintf("%d", size)

	selCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := d.run(selCtx,
		chromedp.WaitVisible(sel, chromedp.ByQuery),
		chromedp.SetValue(sel, value, chromedp.ByQuery),
	); err != nil {
		return err
	}

	var readBack string
	if err := d.run(selCtx, chromedp.Value(sel, &readBack, chromedp.ByQuery)); err != nil {
		return err
	}
	if readBack != value {
		return fmt.Errorf("page size read back %q, wanted %q", readBack, value)
	}
	return nil
}

// setCustomPageSize drives the styled dropdown: a trigger labeled
// "Show <current>" opens a menu with a "Show <size>" entry.
func (d *Driver) setCustomPageSize(ctx context.Context, size int) error {
	trigger := `//button[contains(normalize-space(.), "Show ")] | //div[@role="button"][contains(normalize-space(.), "Show ")]`
	option := fmt.Sprintf(`//li[contains(normalize-space(.), "Show %d")] | //*[@role="option"][contains(normalize-space(.), "Show %d")]`, size, size)

	opCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := d.run(opCtx,
		chromedp.WaitVisible(trigger, chromedp.BySearch),
		chromedp.Click(trigger, chromedp.BySearch),
		chromedp.WaitVisible(option, chromedp.BySearch),
		chromedp.Click(option, chromedp.BySearch),
	); err != nil {
		return err
	}

	// Read back: the trigger label should now carry the new size
	var label string
	if err := d.run(opCtx, chromedp.Text(trigger, &label, chromedp.BySearch)); err != nil {
		return err
	}
	if !strings.Contains(label, fmt.Sprintf("%d", size)) {
		return fmt.Errorf("dropdown label %q does not show %d after selection", label, size)
	}
	return nil
}

// -----------------------------------------------------------------------
// Credential verification
// -----------------------------------------------------------------------

// VerifyCredentials performs a live login check on a throwaway context. In
// dev mode any well-formed email plus a non-empty password passes without
// touching the site.
func (d *Driver) VerifyCredentials(ctx context.Context, username, password string) (*models.CredentialTestResult, error) {
	if d.devMode {
		return devVerify(username, password), nil
	}

	browserCtx, release, err := d.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire verification context: %w", err)
	}
	defer release()

	probe := &verifySession{ctx: browserCtx}
	result, err := d.Login(ctx, probe, username, password)
	if err != nil {
		return nil, err
	}
	if !result.OK {
		return &models.CredentialTestResult{OK: false, Message: "credentials rejected by the site"}, nil
	}
	return &models.CredentialTestResult{OK: true, Message: "login verified"}, nil
}

// devVerify is the dev-mode credential shape check
func devVerify(username, password string) *models.CredentialTestResult {
	if !devEmailPattern.MatchString(username) {
		return &models.CredentialTestResult{OK: false, Message: "username must be an email address"}
	}
	if password == "" {
		return &models.CredentialTestResult{OK: false, Message: "password must not be empty"}
	}
	return &models.CredentialTestResult{OK: true, Message: "accepted (dev mode)"}
}

// verifySession is the minimal Session the login sequence needs when no
// managed session exists yet.
type verifySession struct {
	ctx      context.Context
	lastUsed time.Time
}

func (s *verifySession) ID() string               { return "verify" }
func (s *verifySession) UserID() string           { return "" }
func (s *verifySession) Context() context.Context { return s.ctx }
func (s *verifySession) LoggedIn() bool           { return false }
func (s *verifySession) LastUsed() time.Time      { return s.lastUsed }
func (s *verifySession) Touch()                   { s.lastUsed = time.Now() }
