package models

import (
	"strings"
	"time"
)

// TemplateName identifies a calibration-form fuel-grade template
type TemplateName string

const (
	TemplateRegularPlusPremium       TemplateName = "regular_plus_premium"
	TemplateRegularPlusPremiumDiesel TemplateName = "regular_plus_premium_diesel"
	TemplateEthanolFreeVariants      TemplateName = "ethanol_free_variants"
	TemplateThreeGradeEthanolDiesel  TemplateName = "three_grade_ethanol_diesel"
	TemplateCustom                   TemplateName = "custom"
)

// FormTemplate describes the grade rows a calibration form expects and the
// signature used to match a dispenser's declared grades against it.
type FormTemplate struct {
	Name      TemplateName `json:"name" yaml:"name"`
	Grades    []string     `json:"grades" yaml:"grades"`
	Signature []string     `json:"signature" yaml:"signature"`
}

// BuiltinTemplates are the fuel-grade templates known without configuration.
// Signatures are matched case-insensitively against a dispenser's canonical
// grade set; the first template whose signature is fully covered wins, most
// specific (longest signature) first.
func BuiltinTemplates() []FormTemplate {
	return []FormTemplate{
		{
			Name:      TemplateThreeGradeEthanolDiesel,
			Grades:    []string{"Regular", "Plus", "Premium", "Ethanol-Free Regular", "Diesel"},
			Signature: []string{"Regular", "Plus", "Premium", "Ethanol-Free Regular", "Diesel"},
		},
		{
			Name:      TemplateEthanolFreeVariants,
			Grades:    []string{"Ethanol-Free Regular", "Ethanol-Free Plus", "Ethanol-Free Premium"},
			Signature: []string{"Ethanol-Free Regular"},
		},
		{
			Name:      TemplateRegularPlusPremiumDiesel,
			Grades:    []string{"Regular", "Plus", "Premium", "Diesel"},
			Signature: []string{"Regular", "Plus", "Premium", "Diesel"},
		},
		{
			Name:      TemplateRegularPlusPremium,
			Grades:    []string{"Regular", "Plus", "Premium"},
			Signature: []string{"Regular", "Plus", "Premium"},
		},
	}
}

// MatchTemplate selects the template whose signature the dispenser's grades
// cover, preferring more specific signatures. Falls back to custom with the
// dispenser's own grades in canonical order.
func MatchTemplate(templates []FormTemplate, grades []string) FormTemplate {
	have := make(map[string]bool, len(grades))
	for _, g := range grades {
		have[strings.ToLower(CanonicalGrade(g))] = true
	}
	best := FormTemplate{}
	bestLen := 0
	for _, t := range templates {
		if len(t.Signature) <= bestLen {
			continue
		}
		covered := true
		for _, sig := range t.Signature {
			if !have[strings.ToLower(sig)] {
				covered = false
				break
			}
		}
		if covered {
			best = t
			bestLen = len(t.Signature)
		}
	}
	if bestLen == 0 {
		return FormTemplate{
			Name:   TemplateCustom,
			Grades: SortGrades(grades),
		}
	}
	return best
}

// TestDefaults are the standard values entered for each grade row
type TestDefaults struct {
	Date           string  `json:"date"`
	Time           string  `json:"time"`
	TemperatureF   float64 `json:"temperature_f"`
	VolumeGallons  float64 `json:"volume_gallons"`
	MeasuredError  float64 `json:"measured_error"`
}

// DefaultTestValues returns the standard calibration entries: today's date,
// the current time, 70 degrees F, 5.00 gallons, 0.00 error.
func DefaultTestValues(now time.Time) TestDefaults {
	return TestDefaults{
		Date:          now.Format("01/02/2006"),
		Time:          now.Format("15:04"),
		TemperatureF:  70.0,
		VolumeGallons: 5.00,
		MeasuredError: 0.00,
	}
}

// FormRunResult reports one dispenser's form automation outcome
type FormRunResult struct {
	DispenserID     string          `json:"dispenser_id"`
	DispenserNumber string          `json:"dispenser_number"`
	Template        TemplateName    `json:"template"`
	Phase           AutomationPhase `json:"phase"`
	Success         bool            `json:"success"`
	GradesFilled    []string        `json:"grades_filled,omitempty"`
	ExistingRow     bool            `json:"existing_row"`
	Error           string          `json:"error,omitempty"`
	Duration        time.Duration   `json:"duration"`
}

// BatchRunResult aggregates a multi-visit form automation run
type BatchRunResult struct {
	Total     int              `json:"total"`
	Succeeded int              `json:"succeeded"`
	Failed    int              `json:"failed"`
	Skipped   int              `json:"skipped"`
	Items     []*FormRunResult `json:"items,omitempty"`
}
