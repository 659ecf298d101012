package interfaces

import "github.com/ternarybob/metior/internal/models"

// ResourceUtilization is a point-in-time snapshot of capacity use
type ResourceUtilization struct {
	SessionsUsed     int     `json:"sessions_used"`
	SessionsCapacity int     `json:"sessions_capacity"`
	MemoryUsedMB     int     `json:"memory_used_mb"`
	MemoryCapacityMB int     `json:"memory_capacity_mb"`
	CPUUsed          float64 `json:"cpu_used"`
	CPUCapacity      float64 `json:"cpu_capacity"`
	ActiveJobs       int     `json:"active_jobs"`
}

// ResourceManager tracks global browser-session/memory/cpu budgets.
// Allocation is non-blocking and all-or-nothing; the queue retries denied
// allocations on its next tick.
type ResourceManager interface {
	CanAllocate(req models.ResourceRequirements) bool
	Allocate(jobID string, req models.ResourceRequirements) bool
	Deallocate(jobID string)
	Utilization() ResourceUtilization
}
