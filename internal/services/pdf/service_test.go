package pdf

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/metior/internal/models"
)

func TestConvertMarkdownToPDF(t *testing.T) {
	service := NewService(arbor.NewLogger())

	tests := []struct {
		name     string
		markdown string
		title    string
	}{
		{
			name:     "basic markdown",
			markdown: "# Title\n\nSome paragraph text.\n\n- Item 1\n- Item 2",
			title:    "Test Document",
		},
		{
			name:     "empty markdown",
			markdown: "",
			title:    "Empty Doc",
		},
		{
			name: "table and code",
			markdown: "# Header\n\nSome text.\n\n| Col 1 | Col 2 |\n|-------|-------|\n| a | b |\n\n" +
				"```\ncode line\n```\n",
			title: "Complex Doc",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := service.ConvertMarkdownToPDF(tt.markdown, tt.title)
			require.NoError(t, err)
			require.NotEmpty(t, data)
			assert.True(t, strings.HasPrefix(string(data[:5]), "%PDF-"), "output is a PDF document")
		})
	}
}

func TestBuildWorkOrderReport(t *testing.T) {
	service := NewService(arbor.NewLogger())

	order := &models.WorkOrder{
		ID:          "wo-1",
		ExternalID:  "W-1042",
		UserID:      "user-1",
		SiteName:    "QuickFuel #12",
		StoreNumber: "12",
		Address: models.Address{
			Street:    "1800 Commerce Dr",
			CityState: "Springfield, IL",
		},
		ServiceCode:   "2861",
		ServiceItems:  []string{"2861 Meter Calibration"},
		ScheduledDate: time.Date(2026, 9, 3, 0, 0, 0, 0, time.UTC),
		Status:        models.WorkOrderStatusPending,
		Instructions:  "Gate code 4411.",
	}
	dispensers := []*models.Dispenser{
		{
			Number:       "1",
			Make:         "Gilbarco",
			Model:        "Encore 700S",
			SerialNumber: "GB99810",
			FuelGrades:   []string{"Premium", "Regular", "Plus"},
			MeterType:    "Positive Displacement",
		},
		{
			Number:     "2",
			Make:       "Wayne",
			FuelGrades: []string{"Diesel"},
		},
	}

	markdown := service.BuildWorkOrderReport(order, dispensers)

	assert.Contains(t, markdown, "# Calibration Report - W-1042")
	assert.Contains(t, markdown, "QuickFuel #12")
	assert.Contains(t, markdown, "1800 Commerce Dr, Springfield, IL")
	assert.Contains(t, markdown, "September 3, 2026")
	assert.Contains(t, markdown, "2861 Meter Calibration")
	assert.Contains(t, markdown, "GB99810")
	// Grades render in canonical order regardless of scrape order
	assert.Contains(t, markdown, "Regular, Plus, Premium")
	assert.Contains(t, markdown, "Gate code 4411.")

	// Empty fields render as placeholders, not broken table cells
	assert.NotContains(t, markdown, "|  |")

	// The composed report renders to a PDF
	data, err := service.ConvertMarkdownToPDF(markdown, "Calibration Report W-1042")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data[:5]), "%PDF-"))
}

func TestBuildWorkOrderReportNoDispensers(t *testing.T) {
	service := NewService(arbor.NewLogger())

	markdown := service.BuildWorkOrderReport(&models.WorkOrder{
		ExternalID: "W-2000",
		SiteName:   "Corner Gas",
	}, nil)

	assert.Contains(t, markdown, "No dispensers on record")
}
