// -----------------------------------------------------------------------
// Browser Pool - one headless Chrome process, isolated contexts per session
// -----------------------------------------------------------------------

package browser

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/metior/internal/common"
	"github.com/ternarybob/metior/internal/interfaces"
)

// startupTestTimeout bounds the about:blank self-test at pool init
const startupTestTimeout = 30 * time.Second

// stealthJS hides the traces headless Chrome leaves for bot detection.
// Evaluated on every new document before the page's own scripts run.
const stealthJS = `
	Object.defineProperty(navigator, 'webdriver', {
		get: () => undefined,
		configurable: true
	});

	Object.defineProperty(navigator, 'plugins', {
		get: () => {
			const plugins = [
				{ name: 'Chrome PDF Plugin', filename: 'internal-pdf-viewer' },
				{ name: 'Chrome PDF Viewer', filename: 'mhjfbmdgcfjbbpaeojofohoefgiehjai' },
				{ name: 'Native Client', filename: 'internal-nacl-plugin' }
			];
			plugins.length = 3;
			return plugins;
		},
		configurable: true
	});

	Object.defineProperty(navigator, 'languages', {
		get: () => ['en-US', 'en'],
		configurable: true
	});

	if (!window.chrome) window.chrome = {};
	window.chrome.runtime = { id: undefined };
`

// Pool owns exactly one Chrome process (one exec allocator plus one parent
// browser context). Sessions are child contexts, each a separate tab, capped
// at MaxSessions.
type Pool struct {
	cfg    *common.BrowserConfig
	logger arbor.ILogger

	mu            sync.Mutex
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
	slots         chan struct{}
	active        int
	initialized   bool
}

// Compile-time assertion
var _ interfaces.BrowserPool = (*Pool)(nil)

// NewPool creates an uninitialized pool; call Initialize before Acquire
func NewPool(cfg *common.BrowserConfig, logger arbor.ILogger) *Pool {
	return &Pool{
		cfg:    cfg,
		logger: logger,
	}
}

// buildAllocatorOptions assembles the stealth Chrome flags: no automation
// markers, realistic UA, headless unless configured visible.
func (p *Pool) buildAllocatorOptions() []chromedp.ExecAllocatorOption {
	opts := []chromedp.ExecAllocatorOption{
		chromedp.NoFirstRun,
		chromedp.NoDefaultBrowserCheck,
		chromedp.UserAgent(p.cfg.UserAgent),

		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("excludeSwitches", "enable-automation"),
		chromedp.Flag("useAutomationExtension", false),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-infobars", true),
		chromedp.Flag("disable-popup-blocking", true),
	}

	if p.cfg.Visible {
		opts = append(opts,
			chromedp.Flag("start-maximized", true),
			chromedp.WindowSize(1920, 1080),
		)
	} else {
		// The new headless mode is less detectable than the classic one
		opts = append(opts,
			chromedp.Flag("headless", "new"),
			chromedp.WindowSize(1366, 768),
		)
	}

	return opts
}

// Initialize launches the browser process and verifies it answers. A pool
// that fails the startup self-test is left unusable.
func (p *Pool) Initialize(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.initialized {
		return fmt.Errorf("browser pool already initialized")
	}
	if p.cfg.MaxSessions <= 0 {
		return fmt.Errorf("browser pool requires max_sessions > 0, got %d", p.cfg.MaxSessions)
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, p.buildAllocatorOptions()...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	testCtx, testCancel := context.WithTimeout(browserCtx, startupTestTimeout)
	defer testCancel()

	var title string
	if err := chromedp.Run(testCtx,
		chromedp.Navigate("about:blank"),
		chromedp.Title(&title),
	); err != nil {
		browserCancel()
		allocCancel()
		return fmt.Errorf("browser failed startup test: %w", err)
	}

	p.allocCancel = allocCancel
	p.browserCtx = browserCtx
	p.browserCancel = browserCancel
	p.slots = make(chan struct{}, p.cfg.MaxSessions)
	p.initialized = true

	p.logger.Info().
		Int("max_sessions", p.cfg.MaxSessions).
		Bool("visible", p.cfg.Visible).
		Msg("Browser pool initialized")

	return nil
}

// Acquire leases a child context (one tab) off the shared browser process.
// Non-blocking: when every slot is taken the caller gets an error and the
// queue retries on its next tick. The release function must be called
// exactly once.
func (p *Pool) Acquire(ctx context.Context) (context.Context, func(), error) {
	p.mu.Lock()
	if !p.initialized {
		p.mu.Unlock()
		return nil, nil, fmt.Errorf("browser pool not initialized")
	}
	parent := p.browserCtx
	slots := p.slots
	p.mu.Unlock()

	select {
	case slots <- struct{}{}:
	default:
		return nil, nil, fmt.Errorf("browser pool at capacity (%d sessions)", cap(slots))
	}

	tabCtx, tabCancel := chromedp.NewContext(parent)

	// Stealth script registered before any navigation so every document in
	// this tab loads with webdriver hidden.
	if err := chromedp.Run(tabCtx, chromedp.ActionFunc(func(ctx context.Context) error {
		_, err := page.AddScriptToEvaluateOnNewDocument(stealthJS).Do(ctx)
		return err
	})); err != nil {
		tabCancel()
		<-slots
		return nil, nil, fmt.Errorf("prepare browser context: %w", err)
	}

	p.mu.Lock()
	p.active++
	p.mu.Unlock()

	var once sync.Once
	release := func() {
		once.Do(func() {
			tabCancel()
			<-slots
			p.mu.Lock()
			p.active--
			p.mu.Unlock()
		})
	}

	return tabCtx, release, nil
}

// Stats reports pool occupancy
func (p *Pool) Stats() map[string]interface{} {
	p.mu.Lock()
	defer p.mu.Unlock()

	return map[string]interface{}{
		"max_sessions":    p.cfg.MaxSessions,
		"active_sessions": p.active,
		"initialized":     p.initialized,
	}
}

// Shutdown tears down the browser process. Outstanding sessions lose their
// contexts; callers should close sessions first.
func (p *Pool) Shutdown() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.initialized {
		return nil
	}

	done := make(chan struct{})
	go func() {
		p.browserCancel()
		p.allocCancel()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(startupTestTimeout):
		p.logger.Warn().Msg("Browser pool shutdown timed out")
	}

	p.initialized = false
	p.active = 0
	p.logger.Info().Msg("Browser pool shut down")
	return nil
}
