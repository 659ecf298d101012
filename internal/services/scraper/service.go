// -----------------------------------------------------------------------
// Scraper Service - page capture and extraction orchestration
// -----------------------------------------------------------------------

package scraper

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/chromedp/chromedp"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/metior/internal/interfaces"
	"github.com/ternarybob/metior/internal/models"
)

// dispenserSectionTimeout bounds the wait for the equipment section to
// render after expansion.
const dispenserSectionTimeout = 15 * time.Second

// Markers any rendered dispenser section contains at least one of
var dispenserMarkers = []string{"S/N:", "Make:", "Gilbarco", "Wayne", "Dresser", "Tokheim", "Bennett"}

// Service implements interfaces.ScraperService. Extraction parses goquery
// documents built from full-page snapshots; navigation and clicking go
// through chromedp on the session's context.
type Service struct {
	driver   interfaces.SiteDriver
	storage  interfaces.WorkOrderStorage
	recovery interfaces.RecoveryService
	logger   arbor.ILogger

	// run, pageText, and now are swapped out by tests
	run      func(ctx context.Context, actions ...chromedp.Action) error
	pageText func(ctx context.Context) (string, error)
	now      func() time.Time
}

var _ interfaces.ScraperService = (*Service)(nil)

func NewService(driver interfaces.SiteDriver, storage interfaces.WorkOrderStorage, recovery interfaces.RecoveryService, logger arbor.ILogger) *Service {
	s := &Service{
		driver:   driver,
		storage:  storage,
		recovery: recovery,
		logger:   logger,
		run:      chromedp.Run,
		now:      time.Now,
	}
	s.pageText = func(ctx context.Context) (string, error) {
		var body string
		err := s.run(ctx, chromedp.Text("body", &body, chromedp.ByQuery))
		return body, err
	}
	return s
}

// capture snapshots the current page: URL, title, full HTML
func (s *Service) capture(ctx context.Context) (url, title, html string, err error) {
	err = s.run(ctx,
		chromedp.Location(&url),
		chromedp.Title(&title),
		chromedp.OuterHTML("html", &html),
	)
	return
}

// diagnostics builds the structured empty-result context from a snapshot
func diagnostics(url, title string, doc *goquery.Document, now time.Time) *models.ScrapeDiagnostics {
	counts := map[string]int{
		"table": doc.Find("table").Length(),
		"tr":    doc.Find("tr").Length(),
		"a":     doc.Find("a").Length(),
		"form":  doc.Find("form").Length(),
	}
	summary := strings.Join(strings.Fields(doc.Text()), " ")
	if len(summary) > 500 {
		summary = summary[:500]
	}
	return &models.ScrapeDiagnostics{
		URL:           url,
		PageTitle:     title,
		ElementCounts: counts,
		DOMSummary:    summary,
		Timestamp:     now,
	}
}

// ScrapeList extracts work orders from the list view the session is
// positioned on. An empty page is a normal outcome: the result carries
// diagnostics instead of an error.
func (s *Service) ScrapeList(ctx context.Context, session interfaces.Session, userID string) (*models.ListScrapeResult, error) {
	url, title, html, err := s.capture(session.Context())
	if err != nil {
		return nil, models.Classified(models.ErrorKindScraping, fmt.Errorf("capture list page: %w", err))
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, models.Classified(models.ErrorKindScraping, fmt.Errorf("parse list page: %w", err))
	}

	orders, skipped := parseListDocument(doc, userID, s.now())
	session.Touch()

	if skipped > 0 {
		s.logger.Warn().
			Str("user_id", userID).
			Int("skipped", skipped).
			Msg("List rows skipped during extraction")
	}

	result := &models.ListScrapeResult{Orders: orders}
	if len(orders) == 0 {
		result.Diagnostics = diagnostics(url, title, doc, s.now())
		s.logger.Warn().
			Str("user_id", userID).
			Str("url", url).
			Str("page_title", title).
			Msg("List extraction produced zero work orders")
	} else {
		s.logger.Info().
			Str("user_id", userID).
			Int("orders", len(orders)).
			Msg("List extraction complete")
	}
	return result, nil
}

// ScrapeDispensers navigates to the customer location page, expands the
// dispenser section, and extracts dispenser records with the strategy
// chain. Zero dispensers is a normal outcome with diagnostics attached.
func (s *Service) ScrapeDispensers(ctx context.Context, session interfaces.Session, workOrderID, customerURL string) (*models.DispenserScrapeResult, error) {
	if err := s.driver.GoToCustomer(ctx, session, customerURL); err != nil {
		return nil, err
	}

	if err := s.expandDispenserSection(session.Context()); err != nil {
		s.logger.Warn().
			Str("work_order_id", workOrderID).
			Err(err).
			Msg("Dispenser section not expanded, extracting as-is")
	}

	url, title, html, err := s.capture(session.Context())
	if err != nil {
		return nil, models.Classified(models.ErrorKindScraping, fmt.Errorf("capture location page: %w", err))
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, models.Classified(models.ErrorKindScraping, fmt.Errorf("parse location page: %w", err))
	}

	dispensers, strategy := parseDispenserDocument(doc, workOrderID)
	session.Touch()

	now := s.now()
	for _, d := range dispensers {
		d.CreatedAt = now
	}

	result := &models.DispenserScrapeResult{Dispensers: dispensers, Strategy: strategy}
	if len(dispensers) == 0 {
		result.Diagnostics = diagnostics(url, title, doc, now)
		s.logger.Warn().
			Str("work_order_id", workOrderID).
			Str("url", url).
			Msg("Dispenser extraction produced zero records")
	} else {
		s.logger.Info().
			Str("work_order_id", workOrderID).
			Int("dispensers", len(dispensers)).
			Str("strategy", strategy).
			Msg("Dispenser extraction complete")
	}
	return result, nil
}

// expandDispenserSection clicks the Equipment tab, then the collapsed
// "Dispenser (N)" section header, and waits for a content marker. The
// header is a toggle: clicking it when the section is already open would
// collapse it, so the click only happens when no marker is visible yet.
func (s *Service) expandDispenserSection(ctx context.Context) error {
	opCtx, cancel := context.WithTimeout(ctx, dispenserSectionTimeout)
	defer cancel()

	tab := `//a[contains(normalize-space(.), "Equipment")] | //button[contains(normalize-space(.), "Equipment")]`
	if err := s.run(opCtx,
		chromedp.WaitVisible(tab, chromedp.BySearch),
		chromedp.Click(tab, chromedp.BySearch),
	); err != nil {
		return fmt.Errorf("equipment tab: %w", err)
	}

	section := `//*[starts-with(normalize-space(.), "Dispenser (")][self::button or self::a or self::h3 or self::div[@role="button"]]`
	if err := s.run(opCtx,
		chromedp.WaitVisible(section, chromedp.BySearch),
	); err != nil {
		return fmt.Errorf("dispenser section header: %w", err)
	}

	if visible, err := s.dispenserMarkersVisible(opCtx); err == nil && visible {
		return nil
	}

	if err := s.run(opCtx,
		chromedp.Click(section, chromedp.BySearch),
	); err != nil {
		return fmt.Errorf("dispenser section header: %w", err)
	}

	return s.waitForDispenserMarkers(opCtx)
}

// dispenserMarkersVisible reports whether a dispenser content marker is
// already in the rendered page text (collapsed content is excluded from
// innerText, so a visible marker means the section is open).
func (s *Service) dispenserMarkersVisible(ctx context.Context) (bool, error) {
	body, err := s.pageText(ctx)
	if err != nil {
		return false, err
	}
	for _, marker := range dispenserMarkers {
		if strings.Contains(body, marker) {
			return true, nil
		}
	}
	return false, nil
}

// waitForDispenserMarkers polls the page text until one of the dispenser
// markers appears or the deadline passes.
func (s *Service) waitForDispenserMarkers(ctx context.Context) error {
	for {
		visible, err := s.dispenserMarkersVisible(ctx)
		if err != nil {
			return err
		}
		if visible {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("dispenser content markers never appeared: %w", ctx.Err())
		case <-time.After(500 * time.Millisecond):
		}
	}
}
