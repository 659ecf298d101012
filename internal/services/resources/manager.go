// -----------------------------------------------------------------------
// Resource Manager - global session/memory/cpu budgets for automation jobs
// -----------------------------------------------------------------------

package resources

import (
	"sync"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/metior/internal/common"
	"github.com/ternarybob/metior/internal/interfaces"
	"github.com/ternarybob/metior/internal/models"
)

// Manager implements interfaces.ResourceManager. All state is guarded by a
// single mutex; allocation never blocks, it either succeeds whole or is
// denied and the queue retries on its next tick.
type Manager struct {
	mu sync.Mutex

	sessionCapacity int
	memoryCapacity  int
	cpuCapacity     float64

	sessionsUsed int
	memoryUsed   int
	cpuUsed      float64

	allocations map[string]models.ResourceRequirements
	logger      arbor.ILogger
}

// Compile-time assertion
var _ interfaces.ResourceManager = (*Manager)(nil)

// NewManager creates a resource manager with the configured capacity
func NewManager(cfg *common.Config, logger arbor.ILogger) *Manager {
	return &Manager{
		sessionCapacity: cfg.Resources.Sessions,
		memoryCapacity:  cfg.Resources.MemoryMB,
		cpuCapacity:     cfg.Resources.CPU,
		allocations:     make(map[string]models.ResourceRequirements),
		logger:          logger,
	}
}

func (m *Manager) fits(req models.ResourceRequirements) bool {
	return m.sessionsUsed+req.Sessions <= m.sessionCapacity &&
		m.memoryUsed+req.MemoryMB <= m.memoryCapacity &&
		m.cpuUsed+req.CPU <= m.cpuCapacity
}

// CanAllocate reports whether the request would fit right now
func (m *Manager) CanAllocate(req models.ResourceRequirements) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fits(req)
}

// Allocate reserves the full request or nothing. A job id may hold at most
// one allocation; double allocation is denied.
func (m *Manager) Allocate(jobID string, req models.ResourceRequirements) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.allocations[jobID]; exists {
		m.logger.Warn().Str("job_id", jobID).Msg("Job already holds an allocation")
		return false
	}
	if !m.fits(req) {
		return false
	}

	m.sessionsUsed += req.Sessions
	m.memoryUsed += req.MemoryMB
	m.cpuUsed += req.CPU
	m.allocations[jobID] = req

	m.logger.Debug().
		Str("job_id", jobID).
		Int("sessions", m.sessionsUsed).
		Int("memory_mb", m.memoryUsed).
		Float64("cpu", m.cpuUsed).
		Msg("Resources allocated")
	return true
}

// Deallocate releases a job's reservation. Unknown job ids are a no-op so
// the deferred release on every worker exit path stays safe.
func (m *Manager) Deallocate(jobID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	req, exists := m.allocations[jobID]
	if !exists {
		return
	}

	m.sessionsUsed -= req.Sessions
	m.memoryUsed -= req.MemoryMB
	m.cpuUsed -= req.CPU
	delete(m.allocations, jobID)

	if m.sessionsUsed < 0 {
		m.sessionsUsed = 0
	}
	if m.memoryUsed < 0 {
		m.memoryUsed = 0
	}
	if m.cpuUsed < 0 {
		m.cpuUsed = 0
	}

	m.logger.Debug().
		Str("job_id", jobID).
		Int("sessions", m.sessionsUsed).
		Msg("Resources released")
}

// Utilization returns a snapshot for the queue status endpoint
func (m *Manager) Utilization() interfaces.ResourceUtilization {
	m.mu.Lock()
	defer m.mu.Unlock()

	return interfaces.ResourceUtilization{
		SessionsUsed:     m.sessionsUsed,
		SessionsCapacity: m.sessionCapacity,
		MemoryUsedMB:     m.memoryUsed,
		MemoryCapacityMB: m.memoryCapacity,
		CPUUsed:          m.cpuUsed,
		CPUCapacity:      m.cpuCapacity,
		ActiveJobs:       len(m.allocations),
	}
}
