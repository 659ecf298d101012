package models

import "strings"

// canonicalGradeOrder fixes the display and form-filling order for fuel
// grades. Grades unknown to the table sort after all known grades, keeping
// their relative scraped order.
var canonicalGradeOrder = []string{
	"Regular",
	"Plus",
	"Premium",
	"Ethanol-Free Regular",
	"Ethanol-Free Plus",
	"Ethanol-Free Premium",
	"Diesel",
	"Kerosene",
	"Off-Road Diesel",
}

var gradeRank = func() map[string]int {
	m := make(map[string]int, len(canonicalGradeOrder))
	for i, g := range canonicalGradeOrder {
		m[strings.ToLower(g)] = i
	}
	return m
}()

// CanonicalGrade maps a scraped grade label to its canonical spelling.
// Unrecognized labels are returned trimmed but otherwise untouched.
func CanonicalGrade(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ""
	}
	lower := strings.ToLower(trimmed)
	for _, g := range canonicalGradeOrder {
		if strings.ToLower(g) == lower {
			return g
		}
	}
	// Common scrape variants
	switch lower {
	case "unleaded", "reg", "87":
		return "Regular"
	case "mid", "midgrade", "mid-grade", "89":
		return "Plus"
	case "prem", "super", "93", "91":
		return "Premium"
	case "ethanol free", "ethanol-free", "rec fuel", "rec-fuel":
		return "Ethanol-Free Regular"
	case "dsl", "diesel #2":
		return "Diesel"
	}
	return trimmed
}

// SortGrades orders grades by the canonical order, preserving the incoming
// relative order of any unknown grades after the known ones. The input slice
// is not modified.
func SortGrades(grades []string) []string {
	known := make([]string, 0, len(grades))
	unknown := make([]string, 0)
	for _, g := range grades {
		c := CanonicalGrade(g)
		if c == "" {
			continue
		}
		if _, ok := gradeRank[strings.ToLower(c)]; ok {
			known = append(known, c)
		} else {
			unknown = append(unknown, c)
		}
	}
	// Insertion sort keeps this dependency-free for small slices
	for i := 1; i < len(known); i++ {
		for j := i; j > 0 && gradeRank[strings.ToLower(known[j])] < gradeRank[strings.ToLower(known[j-1])]; j-- {
			known[j], known[j-1] = known[j-1], known[j]
		}
	}
	return append(known, unknown...)
}

// SplitGradeSegment parses the middle segment of a dispenser title
// ("Regular, Plus, Diesel") into canonically ordered grades.
func SplitGradeSegment(segment string) []string {
	parts := strings.Split(segment, ",")
	grades := make([]string, 0, len(parts))
	for _, p := range parts {
		if g := CanonicalGrade(p); g != "" {
			grades = append(grades, g)
		}
	}
	return SortGrades(grades)
}
