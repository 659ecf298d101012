package scraper

import (
	"context"
	"testing"

	"github.com/chromedp/chromedp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
)

// expandHarness stubs the browser hooks. Call counts against run identify
// the expand sequence: 1 = equipment tab, 2 = section header wait,
// 3 = section header click.
type expandHarness struct {
	svc      *Service
	runCalls int
	texts    []string // consumed one per pageText call; last repeats
	reads    int
}

func newExpandHarness(texts ...string) *expandHarness {
	h := &expandHarness{
		svc:   NewService(nil, nil, nil, arbor.NewLogger()),
		texts: texts,
	}
	h.svc.run = func(ctx context.Context, actions ...chromedp.Action) error {
		h.runCalls++
		return nil
	}
	h.svc.pageText = func(ctx context.Context) (string, error) {
		i := h.reads
		if i >= len(h.texts) {
			i = len(h.texts) - 1
		}
		h.reads++
		return h.texts[i], nil
	}
	return h
}

func TestExpandDispenserSection_AlreadyOpenIsNotClicked(t *testing.T) {
	// Marker visible before any click: the header toggle must be left alone
	h := newExpandHarness("Equipment\nDispenser (2)\nS/N: GB88213X")

	err := h.svc.expandDispenserSection(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, h.runCalls, "tab click and header wait only, no header click")
	assert.Equal(t, 1, h.reads)
}

func TestExpandDispenserSection_CollapsedIsClickedOnce(t *testing.T) {
	// No marker at first read; one after the click expands the section
	h := newExpandHarness("Equipment\nDispenser (2)", "Equipment\nDispenser (2)\nMake: Wayne")

	err := h.svc.expandDispenserSection(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, h.runCalls, "tab click, header wait, header click")
	assert.Equal(t, 2, h.reads)
}
