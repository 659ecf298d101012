// -----------------------------------------------------------------------
// Dispenser extraction - equipment records out of a location page snapshot
// -----------------------------------------------------------------------

package scraper

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/ternarybob/metior/internal/models"
)

var (
	// "1/2 - Regular, Plus, Premium - Gilbarco" or "3 - Diesel - Wayne"
	dispenserTitlePattern = regexp.MustCompile(`^\s*(\d+(?:/\d+)?)\s*-\s*(.+?)\s*-\s*([A-Za-z]+)\s*$`)
	serialPattern         = regexp.MustCompile(`S/N:\s*([A-Z0-9]+)`)
	makeLabelPattern      = regexp.MustCompile(`(?i)Make:\s*([A-Za-z0-9 .-]+)`)
	modelLabelPattern     = regexp.MustCompile(`(?i)Model:\s*([A-Za-z0-9 /.-]+)`)
)

// Labeled detail fields carried on equipment entries. Keys are matched
// case-insensitively against "<LABEL>: value" or "<LABEL> value" lines.
var detailLabels = map[string]string{
	"GRADE":             "grade",
	"STAND ALONE CODE":  "stand_alone_code",
	"NUMBER OF NOZZLES": "nozzles",
	"METER TYPE":        "meter_type",
}

// extraction strategy names recorded on the result for diagnostics
const (
	strategyStructured = "structured_items"
	strategyTable      = "table_rows"
	strategyTextBlocks = "text_blocks"
)

// parseDispenserDocument tries the three extraction strategies in order
// and returns the first that yields dispensers, plus the strategy name.
func parseDispenserDocument(doc *goquery.Document, workOrderID string) ([]*models.Dispenser, string) {
	if dispensers := parseStructuredItems(doc, workOrderID); len(dispensers) > 0 {
		return dispensers, strategyStructured
	}
	if dispensers := parseTableRows(doc, workOrderID); len(dispensers) > 0 {
		return dispensers, strategyTable
	}
	if dispensers := parseTextBlocks(doc, workOrderID); len(dispensers) > 0 {
		return dispensers, strategyTextBlocks
	}
	return nil, ""
}

// parseStructuredItems reads the modern layout: one element per equipment
// item with a title child and labeled detail lines.
func parseStructuredItems(doc *goquery.Document, workOrderID string) []*models.Dispenser {
	var dispensers []*models.Dispenser
	doc.Find(`.equipment-item, [class*="equipment-card"], [data-equipment-type]`).Each(func(_ int, item *goquery.Selection) {
		title := strings.TrimSpace(item.Find(`.equipment-title, h3, h4, strong`).First().Text())
		if title == "" {
			// Some renders put the title in the first text line
			lines := splitLines(item.Text())
			if len(lines) > 0 {
				title = lines[0]
			}
		}
		d := dispenserFromTitle(title, workOrderID)
		if d == nil {
			return
		}
		fillDispenserDetails(d, item.Text())
		dispensers = append(dispensers, d)
	})
	return dispensers
}

// parseTableRows reads the legacy layout: one table row per unit, title in
// the first cell.
func parseTableRows(doc *goquery.Document, workOrderID string) []*models.Dispenser {
	var dispensers []*models.Dispenser
	doc.Find(`table tr`).Each(func(_ int, row *goquery.Selection) {
		cells := row.Find("td")
		if cells.Length() == 0 {
			return
		}
		d := dispenserFromTitle(strings.TrimSpace(cells.First().Text()), workOrderID)
		if d == nil {
			return
		}
		fillDispenserDetails(d, row.Text())
		dispensers = append(dispensers, d)
	})
	return dispensers
}

// parseTextBlocks is the last resort: scan the whole page text for title
// lines and attribute the following lines to each until the next title.
func parseTextBlocks(doc *goquery.Document, workOrderID string) []*models.Dispenser {
	lines := splitLines(doc.Text())

	var dispensers []*models.Dispenser
	var current *models.Dispenser
	var block []string

	flush := func() {
		if current != nil {
			fillDispenserDetails(current, strings.Join(block, "\n"))
			dispensers = append(dispensers, current)
		}
		current = nil
		block = nil
	}

	for _, line := range lines {
		if d := dispenserFromTitle(line, workOrderID); d != nil {
			flush()
			current = d
			continue
		}
		if current != nil {
			block = append(block, line)
		}
	}
	flush()
	return dispensers
}

// dispenserFromTitle parses "<num>[/<num>] - <grades> - <manufacturer>".
// The trailing segment must be a known manufacturer; that requirement is
// what separates dispenser titles from other numbered equipment.
func dispenserFromTitle(title, workOrderID string) *models.Dispenser {
	m := dispenserTitlePattern.FindStringSubmatch(title)
	if m == nil {
		return nil
	}
	manufacturer := models.MatchManufacturer(m[3])
	if manufacturer == "" {
		return nil
	}

	return &models.Dispenser{
		WorkOrderID: workOrderID,
		Number:      m[1],
		Numbers:     strings.Split(m[1], "/"),
		Title:       strings.TrimSpace(title),
		Make:        manufacturer,
		FuelGrades:  models.SplitGradeSegment(m[2]),
	}
}

// fillDispenserDetails scans an item's text for the serial, labeled make
// and model, and the labeled detail fields.
func fillDispenserDetails(d *models.Dispenser, text string) {
	if m := serialPattern.FindStringSubmatch(text); m != nil {
		d.SerialNumber = m[1]
	}
	if m := makeLabelPattern.FindStringSubmatch(text); m != nil {
		if mk := models.MatchManufacturer(m[1]); mk != "" {
			d.Make = mk
		} else {
			d.Make = strings.TrimSpace(m[1])
		}
	}
	if m := modelLabelPattern.FindStringSubmatch(text); m != nil {
		d.Model = strings.TrimSpace(m[1])
	}

	for _, line := range splitLines(text) {
		label, value, ok := splitLabeledLine(line)
		if !ok {
			continue
		}
		switch detailLabels[label] {
		case "grade":
			if grades := models.SplitGradeSegment(value); len(grades) > 0 {
				d.FuelGrades = grades
			}
		case "stand_alone_code":
			d.StandAloneCode = value
		case "nozzles":
			d.Nozzles = value
		case "meter_type":
			d.MeterType = value
		}
	}
}

// splitLabeledLine breaks "<LABEL>: value" (colon optional) on a known
// label prefix.
func splitLabeledLine(line string) (label, value string, ok bool) {
	upper := strings.ToUpper(line)
	for known := range detailLabels {
		if !strings.HasPrefix(upper, known) {
			continue
		}
		rest := strings.TrimSpace(line[len(known):])
		rest = strings.TrimSpace(strings.TrimPrefix(rest, ":"))
		if rest == "" {
			return "", "", false
		}
		return known, rest, true
	}
	return "", "", false
}
