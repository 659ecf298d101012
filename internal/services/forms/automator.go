// -----------------------------------------------------------------------
// Page automator - the chromedp interactions the form machine drives
// -----------------------------------------------------------------------

package forms

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/chromedp/chromedp"

	"github.com/ternarybob/metior/internal/models"
)

// pageAutomator is the capability set the form state machine needs from a
// visit page. The chromedp implementation is below; tests substitute a
// scripted fake.
type pageAutomator interface {
	// DetectForm reports whether the calibration form container is present.
	DetectForm(ctx context.Context) (bool, error)

	// HasRowFor reports whether an entry row for the dispenser number
	// already exists on the form.
	HasRowFor(ctx context.Context, dispenserNumber string) (bool, error)

	// AddNew clicks the Add New control and waits for the entry editor.
	AddNew(ctx context.Context) error

	// SelectDispenser picks the dispenser in the entry editor.
	SelectDispenser(ctx context.Context, dispenserNumber string) error

	// FillGrade enters the default test values on one grade row.
	FillGrade(ctx context.Context, grade string, defaults models.TestDefaults) error

	// Commit saves the entry.
	Commit(ctx context.Context) error

	// WaitQuiescent waits for the DOM to settle after a commit.
	WaitQuiescent(ctx context.Context) error
}

// chromedpAutomator drives the real visit page over a session context
type chromedpAutomator struct {
	pageCtx context.Context
}

var _ pageAutomator = (*chromedpAutomator)(nil)

const formActionTimeout = 15 * time.Second

func (a *chromedpAutomator) DetectForm(ctx context.Context) (bool, error) {
	opCtx, cancel := context.WithTimeout(a.pageCtx, formActionTimeout)
	defer cancel()

	var count int
	err := chromedp.Run(opCtx, chromedp.Evaluate(
		`document.querySelectorAll('form, [class*="calibration"], [class*="meter-test"]').length`, &count))
	if err != nil {
		return false, fmt.Errorf("form detection: %w", err)
	}
	return count > 0, nil
}

func (a *chromedpAutomator) HasRowFor(ctx context.Context, dispenserNumber string) (bool, error) {
	opCtx, cancel := context.WithTimeout(a.pageCtx, formActionTimeout)
	defer cancel()

	// Entry rows lead with the dispenser number in their first cell
	script := fmt.Sprintf(
		`Array.from(document.querySelectorAll('tr, [class*="entry-row"]')).some(r => {
			const lead = (r.firstElementChild && r.firstElementChild.textContent || '').trim();
			return lead === %q || lead.startsWith(%q);
		})`, dispenserNumber, dispenserNumber+" ")

	var found bool
	if err := chromedp.Run(opCtx, chromedp.Evaluate(script, &found)); err != nil {
		return false, fmt.Errorf("existing-row detection: %w", err)
	}
	return found, nil
}

func (a *chromedpAutomator) AddNew(ctx context.Context) error {
	opCtx, cancel := context.WithTimeout(a.pageCtx, formActionTimeout)
	defer cancel()

	btn := `//button[contains(normalize-space(.), "Add New")] | //a[contains(normalize-space(.), "Add New")]`
	return chromedp.Run(opCtx,
		chromedp.WaitVisible(btn, chromedp.BySearch),
		chromedp.Click(btn, chromedp.BySearch),
	)
}

func (a *chromedpAutomator) SelectDispenser(ctx context.Context, dispenserNumber string) error {
	opCtx, cancel := context.WithTimeout(a.pageCtx, formActionTimeout)
	defer cancel()

	sel := `select[name*="dispenser"], select[id*="dispenser"]`
	return chromedp.Run(opCtx,
		chromedp.WaitVisible(sel, chromedp.ByQuery),
		chromedp.SetValue(sel, dispenserNumber, chromedp.ByQuery),
	)
}

// gradeFieldName flattens a grade label into the form's field-name shape
// ("Ethanol-Free Regular" -> "ethanol_free_regular").
func gradeFieldName(grade string) string {
	lower := strings.ToLower(grade)
	lower = strings.ReplaceAll(lower, "-", "_")
	return strings.ReplaceAll(lower, " ", "_")
}

func (a *chromedpAutomator) FillGrade(ctx context.Context, grade string, defaults models.TestDefaults) error {
	opCtx, cancel := context.WithTimeout(a.pageCtx, formActionTimeout)
	defer cancel()

	field := gradeFieldName(grade)
	actions := []chromedp.Action{}
	for suffix, value := range map[string]string{
		"date":        defaults.Date,
		"time":        defaults.Time,
		"temperature": fmt.Sprintf("%.0f", defaults.TemperatureF),
		"volume":      fmt.Sprintf("%.2f", defaults.VolumeGallons),
		"error":       fmt.Sprintf("%.2f", defaults.MeasuredError),
	} {
		sel := fmt.Sprintf(`input[name="%s_%s"]`, field, suffix)
		actions = append(actions,
			chromedp.Clear(sel, chromedp.ByQuery),
			chromedp.SendKeys(sel, value, chromedp.ByQuery),
		)
	}
	if err := chromedp.Run(opCtx, actions...); err != nil {
		return fmt.Errorf("fill grade %s: %w", grade, err)
	}
	return nil
}

func (a *chromedpAutomator) Commit(ctx context.Context) error {
	opCtx, cancel := context.WithTimeout(a.pageCtx, formActionTimeout)
	defer cancel()

	btn := `//button[contains(normalize-space(.), "Save")] | //button[@type="submit"]`
	return chromedp.Run(opCtx,
		chromedp.WaitVisible(btn, chromedp.BySearch),
		chromedp.Click(btn, chromedp.BySearch),
	)
}

// WaitQuiescent polls until two consecutive DOM size samples match,
// meaning the post-commit re-render has settled.
func (a *chromedpAutomator) WaitQuiescent(ctx context.Context) error {
	opCtx, cancel := context.WithTimeout(a.pageCtx, formActionTimeout)
	defer cancel()

	var prev int = -1
	for {
		var size int
		if err := chromedp.Run(opCtx, chromedp.Evaluate(`document.body.innerHTML.length`, &size)); err != nil {
			return fmt.Errorf("quiescence wait: %w", err)
		}
		if size == prev {
			return nil
		}
		prev = size
		select {
		case <-opCtx.Done():
			return fmt.Errorf("page never settled: %w", opCtx.Err())
		case <-time.After(400 * time.Millisecond):
		}
	}
}
