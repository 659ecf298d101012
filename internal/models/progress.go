package models

import "time"

// AutomationPhase names a stage of a form-automation or scraping run.
// Form runs advance INITIALIZING -> LOGIN -> NAVIGATION -> FORM_DETECTION ->
// FORM_PREPARATION -> FORM_FILLING -> DISPENSER_AUTOMATION -> VALIDATION ->
// COMPLETION, with ERROR reachable from any non-terminal phase.
type AutomationPhase string

const (
	PhaseInitializing        AutomationPhase = "INITIALIZING"
	PhaseLogin               AutomationPhase = "LOGIN"
	PhaseNavigation          AutomationPhase = "NAVIGATION"
	PhaseFormDetection       AutomationPhase = "FORM_DETECTION"
	PhaseFormPreparation     AutomationPhase = "FORM_PREPARATION"
	PhaseFormFilling         AutomationPhase = "FORM_FILLING"
	PhaseDispenserAutomation AutomationPhase = "DISPENSER_AUTOMATION"
	PhaseValidation          AutomationPhase = "VALIDATION"
	PhaseCompletion          AutomationPhase = "COMPLETION"
	PhaseError               AutomationPhase = "ERROR"
)

// phaseOrder gives each phase its position for monotonic progress reporting
var phaseOrder = map[AutomationPhase]int{
	PhaseInitializing:        0,
	PhaseLogin:               1,
	PhaseNavigation:          2,
	PhaseFormDetection:       3,
	PhaseFormPreparation:     4,
	PhaseFormFilling:         5,
	PhaseDispenserAutomation: 6,
	PhaseValidation:          7,
	PhaseCompletion:          8,
}

// CanTransition reports whether moving from p to next is a legal phase step.
// ERROR is reachable from any non-terminal phase; COMPLETION and ERROR are
// terminal.
func (p AutomationPhase) CanTransition(next AutomationPhase) bool {
	if p == PhaseCompletion || p == PhaseError {
		return false
	}
	if next == PhaseError {
		return true
	}
	cur, ok1 := phaseOrder[p]
	nxt, ok2 := phaseOrder[next]
	if !ok1 || !ok2 {
		return false
	}
	return nxt == cur+1
}

// Percentage maps a phase onto the 0-100 progress scale
func (p AutomationPhase) Percentage() float64 {
	if p == PhaseError {
		return 0
	}
	idx, ok := phaseOrder[p]
	if !ok {
		return 0
	}
	return float64(idx) * 100.0 / float64(len(phaseOrder)-1)
}

// ProgressEvent is the unit published on the progress bus and pushed over
// WebSocket. Percentage is within [0,100] and non-decreasing per job while
// the job is running (it may reset when a retry re-enters running).
type ProgressEvent struct {
	JobID       string          `json:"job_id"`
	UserID      string          `json:"user_id,omitempty"`
	Phase       AutomationPhase `json:"phase"`
	Percentage  float64         `json:"percentage"`
	Message     string          `json:"message"`
	DispenserID string          `json:"dispenser_id,omitempty"`
	Error       string          `json:"error,omitempty"`
	Timestamp   time.Time       `json:"timestamp"`
}
