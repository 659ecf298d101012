package models

import (
	"strings"
	"time"
)

// WorkOrderStatus represents the lifecycle state of a work order
type WorkOrderStatus string

const (
	WorkOrderStatusPending    WorkOrderStatus = "pending"
	WorkOrderStatusInProgress WorkOrderStatus = "in_progress"
	WorkOrderStatusCompleted  WorkOrderStatus = "completed"
	WorkOrderStatusFailed     WorkOrderStatus = "failed"
	WorkOrderStatusCancelled  WorkOrderStatus = "cancelled"
)

// ValidWorkOrderStatus reports whether s is one of the accepted status values
func ValidWorkOrderStatus(s string) bool {
	switch WorkOrderStatus(s) {
	case WorkOrderStatusPending, WorkOrderStatusInProgress, WorkOrderStatusCompleted,
		WorkOrderStatusFailed, WorkOrderStatusCancelled:
		return true
	}
	return false
}

// DispenserServiceCodes are the 4-digit service codes whose work orders carry
// dispenser equipment and therefore qualify for dispenser-detail scraping.
var DispenserServiceCodes = []string{"2861", "2862", "3146", "3002"}

// IsDispenserServiceCode reports whether code triggers dispenser scraping
func IsDispenserServiceCode(code string) bool {
	for _, c := range DispenserServiceCodes {
		if c == code {
			return true
		}
	}
	return false
}

// Address holds the location components extracted from a work-order row
type Address struct {
	Street    string `json:"street"`
	CityState string `json:"city_state"`
	County    string `json:"county,omitempty"`
}

// WorkOrder represents a scheduled service task at a customer site.
// ExternalID is the target-site identifier (W-<digits>) and is unique per user.
// VisitURL and CustomerURL point at unrelated pages (a visit's form page and
// the location's equipment page) and must never be conflated.
type WorkOrder struct {
	ID             string          `json:"id" badgerhold:"key"`
	ExternalID     string          `json:"external_id" badgerhold:"index"`
	UserID         string          `json:"user_id" badgerhold:"index"`
	SiteName       string          `json:"site_name"`
	Address        Address         `json:"address"`
	StoreNumber    string          `json:"store_number,omitempty"`
	ServiceCode    string          `json:"service_code"`
	ServiceItems   []string        `json:"service_items,omitempty"`
	ScheduledDate  time.Time       `json:"scheduled_date,omitempty"`
	Status         WorkOrderStatus `json:"status"`
	VisitURL       string          `json:"visit_url,omitempty"`
	CustomerURL    string          `json:"customer_url,omitempty"`
	Instructions   string          `json:"instructions,omitempty"`
	DispenserCount int             `json:"dispenser_count"`
	CreatedBy      string          `json:"created_by,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// Dispenser represents one fuel-dispensing device extracted from a location's
// equipment page. Numbers preserves display ordering for dual-sided units
// ("1/2" yields ["1","2"]).
type Dispenser struct {
	ID             string            `json:"id" badgerhold:"key"`
	WorkOrderID    string            `json:"work_order_id" badgerhold:"index"`
	Number         string            `json:"number"`
	Numbers        []string          `json:"numbers"`
	Title          string            `json:"title,omitempty"`
	Make           string            `json:"make,omitempty"`
	Model          string            `json:"model,omitempty"`
	SerialNumber   string            `json:"serial_number,omitempty"`
	Nozzles        string            `json:"nozzles,omitempty"`
	MeterType      string            `json:"meter_type,omitempty"`
	StandAloneCode string            `json:"stand_alone_code,omitempty"`
	FuelGrades     []string          `json:"fuel_grades"`
	CustomFields   map[string]string `json:"custom_fields,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
}

// Manufacturers is the known dispenser manufacturer set recognized during
// extraction; matching against it infers Make when no explicit label exists.
var Manufacturers = []string{"Gilbarco", "Wayne", "Dresser", "Tokheim", "Bennett"}

// MatchManufacturer returns the canonical manufacturer name contained in text,
// or empty when none matches. Matching is case-insensitive.
func MatchManufacturer(text string) string {
	lower := strings.ToLower(text)
	for _, m := range Manufacturers {
		if strings.Contains(lower, strings.ToLower(m)) {
			return m
		}
	}
	return ""
}

// WorkOrderFilter narrows repository list queries
type WorkOrderFilter struct {
	UserID    string
	StartDate time.Time
	EndDate   time.Time
	Status    WorkOrderStatus
}

// Pagination carries skip/limit for list queries
type Pagination struct {
	Skip  int
	Limit int
}
