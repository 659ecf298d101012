package pdf

import (
	"fmt"
	"strings"

	"github.com/ternarybob/metior/internal/models"
)

// BuildWorkOrderReport composes the markdown calibration summary for a work
// order and its dispensers. The output feeds ConvertMarkdownToPDF.
func (s *Service) BuildWorkOrderReport(order *models.WorkOrder, dispensers []*models.Dispenser) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Calibration Report - %s\n\n", order.ExternalID)

	fmt.Fprintf(&b, "## Site\n\n")
	fmt.Fprintf(&b, "| Field | Value |\n|-------|-------|\n")
	fmt.Fprintf(&b, "| Site | %s |\n", cell(order.SiteName))
	if order.StoreNumber != "" {
		fmt.Fprintf(&b, "| Store # | %s |\n", cell(order.StoreNumber))
	}
	if order.Address.Street != "" || order.Address.CityState != "" {
		fmt.Fprintf(&b, "| Address | %s |\n", cell(strings.TrimSpace(order.Address.Street+", "+order.Address.CityState)))
	}
	fmt.Fprintf(&b, "| Service Code | %s |\n", cell(order.ServiceCode))
	if !order.ScheduledDate.IsZero() {
		fmt.Fprintf(&b, "| Scheduled | %s |\n", order.ScheduledDate.Format("January 2, 2006"))
	}
	fmt.Fprintf(&b, "| Status | %s |\n", cell(string(order.Status)))
	b.WriteString("\n")

	if len(order.ServiceItems) > 0 {
		b.WriteString("## Service Items\n\n")
		for _, item := range order.ServiceItems {
			fmt.Fprintf(&b, "- %s\n", item)
		}
		b.WriteString("\n")
	}

	b.WriteString("## Dispensers\n\n")
	if len(dispensers) == 0 {
		b.WriteString("No dispensers on record for this location.\n\n")
	} else {
		b.WriteString("| # | Make | Model | Serial | Grades | Meter Type |\n")
		b.WriteString("|---|------|-------|--------|--------|------------|\n")
		for _, d := range dispensers {
			fmt.Fprintf(&b, "| %s | %s | %s | %s | %s | %s |\n",
				cell(d.Number),
				cell(d.Make),
				cell(d.Model),
				cell(d.SerialNumber),
				cell(strings.Join(models.SortGrades(d.FuelGrades), ", ")),
				cell(d.MeterType),
			)
		}
		b.WriteString("\n")
	}

	if order.Instructions != "" {
		b.WriteString("## Instructions\n\n")
		b.WriteString(order.Instructions)
		b.WriteString("\n")
	}

	return b.String()
}

// cell escapes pipes and blanks so table cells stay well-formed
func cell(v string) string {
	v = strings.ReplaceAll(v, "|", "\\|")
	if strings.TrimSpace(v) == "" {
		return "-"
	}
	return v
}
