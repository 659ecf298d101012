// -----------------------------------------------------------------------
// List extraction - work-order rows out of the list page snapshot
// -----------------------------------------------------------------------

package scraper

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/ternarybob/metior/internal/models"
)

// Row selectors tried in order; the first that yields a row carrying a
// W-<digits> identifier wins. The site has rendered the list as a data
// table and as a card list over time, and unrelated tables (totals,
// filters) can match the broad selectors.
var listRowSelectors = []string{
	`tr[data-work-order-id]`,
	`table tbody tr`,
	`.work-order-row`,
	`[class*="work-list"] li`,
}

var (
	externalIDPattern  = regexp.MustCompile(`\bW-\d+\b`)
	serviceCodePattern = regexp.MustCompile(`\b(\d{4})\b\s*[-–]?\s*[A-Za-z]`)
	storeNumberPattern = regexp.MustCompile(`(?:#|Store\s+)(\d{1,4})\b`)
	streetPattern      = regexp.MustCompile(`^\d{1,5}\s+\S+`)
	cityStatePattern   = regexp.MustCompile(`^[A-Za-z .'-]+,\s*[A-Z]{2}\b`)
)

// serviceKeywords mark service-item lines that masquerade as street
// addresses ("2861 Meter Calibration" starts with digits like a street
// number does).
var serviceKeywords = []string{"Meter", "Calibration", "Service", "Inspection", "Quality", "Test"}

// Date layouts accepted for scheduled dates, tried in order. Layouts
// without a year get the current year filled in.
var dateLayouts = []string{
	"Jan 2, 2006",
	"January 2, 2006",
	"01/02/2006",
	"1/2/2006",
	"2006-01-02",
}

var yearlessLayouts = []string{
	"Jan 2",
	"January 2",
	"01/02",
	"1/2",
}

var datePattern = regexp.MustCompile(`(\d{4}-\d{2}-\d{2}|\d{1,2}/\d{1,2}(?:/\d{4})?|(?:Jan|Feb|Mar|Apr|May|Jun|Jul|Aug|Sep|Oct|Nov|Dec)[a-z]*\.?\s+\d{1,2}(?:,\s*\d{4})?)`)

// parseListDocument extracts work orders from a list-page snapshot. Rows
// that fail to parse are counted and skipped, never fatal.
func parseListDocument(doc *goquery.Document, userID string, now time.Time) ([]*models.WorkOrder, int) {
	var rows *goquery.Selection
	for _, sel := range listRowSelectors {
		found := doc.Find(sel)
		if found.Length() > 0 && hasWorkOrderRow(found) {
			rows = found
			break
		}
	}
	if rows == nil {
		return nil, 0
	}

	orders := make([]*models.WorkOrder, 0, rows.Length())
	seen := make(map[string]bool)
	skipped := 0

	rows.Each(func(_ int, row *goquery.Selection) {
		order, err := parseListRow(row, userID, now)
		if err != nil {
			skipped++
			return
		}
		if seen[order.ExternalID] {
			return
		}
		seen[order.ExternalID] = true
		orders = append(orders, order)
	})

	return orders, skipped
}

// hasWorkOrderRow reports whether at least one row in the selection carries
// a work-order identifier. Keeps the selector fallback moving past pages
// whose first matching selector caught some other table.
func hasWorkOrderRow(rows *goquery.Selection) bool {
	match := false
	rows.EachWithBreak(func(_ int, row *goquery.Selection) bool {
		if externalIDPattern.MatchString(row.Text()) {
			match = true
			return false
		}
		return true
	})
	return match
}

// parseListRow extracts one work order from one row. A row without a
// W-<digits> identifier is not a work order.
func parseListRow(row *goquery.Selection, userID string, now time.Time) (*models.WorkOrder, error) {
	text := row.Text()

	externalID := externalIDPattern.FindString(text)
	if externalID == "" {
		return nil, fmt.Errorf("row carries no work-order identifier")
	}

	order := &models.WorkOrder{
		ExternalID: externalID,
		UserID:     userID,
		Status:     models.WorkOrderStatusPending,
	}

	lines := splitLines(text)
	order.SiteName = extractSiteName(lines, externalID)
	order.Address = extractAddress(lines)
	order.StoreNumber = extractStoreNumber(text)
	order.ServiceCode, order.ServiceItems = extractServiceItems(lines)
	order.ScheduledDate = extractScheduledDate(text, now)
	order.VisitURL, order.CustomerURL = extractLinks(row)

	return order, nil
}

func splitLines(text string) []string {
	raw := strings.Split(text, "\n")
	lines := make([]string, 0, len(raw))
	for _, l := range raw {
		if trimmed := strings.TrimSpace(l); trimmed != "" {
			lines = append(lines, trimmed)
		}
	}
	return lines
}

// extractSiteName takes the first line that is neither the identifier nor
// an address or service-item line.
func extractSiteName(lines []string, externalID string) string {
	for _, l := range lines {
		if strings.Contains(l, externalID) {
			continue
		}
		if isServiceItemLine(l) || looksLikeStreet(l) || cityStatePattern.MatchString(l) {
			continue
		}
		if datePattern.MatchString(l) && len(l) < 30 {
			continue
		}
		return l
	}
	return ""
}

// looksLikeStreet accepts "123 Main St" shapes and rejects service-item
// lines whose leading number is a 4+ digit service code. A real street
// number of five or more digits followed by a service keyword is far more
// likely "12345 Meter Calibration" than an address.
func looksLikeStreet(line string) bool {
	if !streetPattern.MatchString(line) {
		return false
	}
	return !isServiceItemLine(line)
}

// isServiceItemLine detects "<code> <keyword>..." service-item rows
func isServiceItemLine(line string) bool {
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return false
	}
	leading := strings.TrimRight(fields[0], "-:")
	if len(leading) < 4 {
		return false
	}
	for _, r := range leading {
		if r < '0' || r > '9' {
			return false
		}
	}
	for _, kw := range serviceKeywords {
		if strings.EqualFold(fields[1], kw) {
			return true
		}
	}
	return false
}

func extractAddress(lines []string) models.Address {
	var addr models.Address
	for i, l := range lines {
		if !looksLikeStreet(l) {
			continue
		}
		addr.Street = l
		if i+1 < len(lines) && cityStatePattern.MatchString(lines[i+1]) {
			addr.CityState = lines[i+1]
			if i+2 < len(lines) && strings.HasSuffix(strings.ToLower(lines[i+2]), "county") {
				addr.County = lines[i+2]
			}
		}
		return addr
	}
	// No street; settle for a bare city/state line
	for _, l := range lines {
		if cityStatePattern.MatchString(l) {
			addr.CityState = l
			return addr
		}
	}
	return addr
}

func extractStoreNumber(text string) string {
	if m := storeNumberPattern.FindStringSubmatch(text); m != nil {
		return m[1]
	}
	return ""
}

// extractServiceItems collects "<4-digit code> <description>" lines; the
// first code becomes the work order's service code.
func extractServiceItems(lines []string) (string, []string) {
	var code string
	var items []string
	for _, l := range lines {
		if !isServiceItemLine(l) {
			continue
		}
		items = append(items, l)
		if code == "" {
			if m := serviceCodePattern.FindStringSubmatch(l); m != nil {
				code = m[1]
			}
		}
	}
	return code, items
}

// extractScheduledDate looks for a labeled date first (NEXT VISIT, then
// Scheduled:), then any date-shaped token. Dates without a year get the
// current year.
func extractScheduledDate(text string, now time.Time) time.Time {
	for _, label := range []string{"NEXT VISIT", "Scheduled:"} {
		if idx := strings.Index(strings.ToUpper(text), strings.ToUpper(label)); idx >= 0 {
			tail := text[idx+len(label):]
			if d, ok := parseDate(datePattern.FindString(tail), now); ok {
				return d
			}
		}
	}
	if d, ok := parseDate(datePattern.FindString(text), now); ok {
		return d
	}
	return time.Time{}
}

func parseDate(token string, now time.Time) (time.Time, bool) {
	token = strings.TrimSpace(token)
	if token == "" {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		if d, err := time.Parse(layout, token); err == nil {
			return d, true
		}
	}
	for _, layout := range yearlessLayouts {
		if d, err := time.Parse(layout, token); err == nil {
			return time.Date(now.Year(), d.Month(), d.Day(), 0, 0, 0, 0, time.UTC), true
		}
	}
	return time.Time{}, false
}

// extractLinks discriminates the row's anchors. A visit URL must contain
// /visits/ and never /customers/locations/; a customer URL the converse.
// Conflating them sends the form engine to the wrong page entirely.
func extractLinks(row *goquery.Selection) (visitURL, customerURL string) {
	row.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		href, _ := a.Attr("href")
		if href == "" {
			return
		}
		switch {
		case strings.Contains(href, "/visits/") && !strings.Contains(href, "/customers/locations/"):
			if visitURL == "" {
				visitURL = href
			}
		case strings.Contains(href, "/customers/locations/") && !strings.Contains(href, "/visits/"):
			if customerURL == "" {
				customerURL = href
			}
		}
	})
	return visitURL, customerURL
}
