package resources

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/metior/internal/common"
	"github.com/ternarybob/metior/internal/models"
)

func newTestManager(sessions, memoryMB int, cpu float64) *Manager {
	cfg := common.NewDefaultConfig()
	cfg.Resources.Sessions = sessions
	cfg.Resources.MemoryMB = memoryMB
	cfg.Resources.CPU = cpu
	return NewManager(cfg, arbor.NewLogger())
}

func TestAllocate_AllOrNothing(t *testing.T) {
	m := newTestManager(5, 4096, 4.0)

	req := models.ResourceRequirements{Sessions: 2, MemoryMB: 1024, CPU: 1.0}
	assert.True(t, m.CanAllocate(req))
	assert.True(t, m.Allocate("job-1", req))
	assert.True(t, m.Allocate("job-2", req))

	// Third allocation would exceed the session budget (2+2+2 > 5)
	assert.False(t, m.Allocate("job-3", req))

	// A smaller request still fits
	small := models.ResourceRequirements{Sessions: 1, MemoryMB: 512, CPU: 0.5}
	assert.True(t, m.Allocate("job-4", small))

	u := m.Utilization()
	assert.Equal(t, 5, u.SessionsUsed)
	assert.Equal(t, 3, u.ActiveJobs)
}

func TestAllocate_DeniesPartialFit(t *testing.T) {
	m := newTestManager(5, 1024, 4.0)

	// Sessions fit but memory does not; nothing must be reserved
	req := models.ResourceRequirements{Sessions: 1, MemoryMB: 2048, CPU: 1.0}
	assert.False(t, m.Allocate("job-1", req))

	u := m.Utilization()
	assert.Equal(t, 0, u.SessionsUsed)
	assert.Equal(t, 0, u.MemoryUsedMB)
	assert.Equal(t, 0, u.ActiveJobs)
}

func TestAllocate_RejectsDuplicateJob(t *testing.T) {
	m := newTestManager(5, 4096, 4.0)
	req := models.ResourceRequirements{Sessions: 1, MemoryMB: 256, CPU: 0.5}

	assert.True(t, m.Allocate("job-1", req))
	assert.False(t, m.Allocate("job-1", req), "second allocation for the same job must be denied")
}

func TestDeallocate_ReleasesAndIsIdempotent(t *testing.T) {
	m := newTestManager(2, 4096, 4.0)
	req := models.ResourceRequirements{Sessions: 2, MemoryMB: 1024, CPU: 2.0}

	assert.True(t, m.Allocate("job-1", req))
	assert.False(t, m.CanAllocate(req))

	m.Deallocate("job-1")
	assert.True(t, m.CanAllocate(req))

	// Releasing again (deferred release on worker exit) is harmless
	m.Deallocate("job-1")
	m.Deallocate("unknown-job")

	u := m.Utilization()
	assert.Equal(t, 0, u.SessionsUsed)
	assert.Equal(t, 0, u.MemoryUsedMB)
	assert.Equal(t, 0.0, u.CPUUsed)
}

func TestConcurrentAllocation_NeverExceedsCapacity(t *testing.T) {
	m := newTestManager(5, 4096, 4.0)
	req := models.ResourceRequirements{Sessions: 1, MemoryMB: 512, CPU: 0.5}

	var wg sync.WaitGroup
	granted := make(chan string, 32)

	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			id := fmt.Sprintf("job-%d", n)
			if m.Allocate(id, req) {
				granted <- id
			}
		}(i)
	}
	wg.Wait()
	close(granted)

	count := 0
	for range granted {
		count++
	}

	// Session budget of 5 caps the winners
	assert.Equal(t, 5, count)
	u := m.Utilization()
	assert.LessOrEqual(t, u.SessionsUsed, u.SessionsCapacity)
	assert.LessOrEqual(t, u.MemoryUsedMB, u.MemoryCapacityMB)
	assert.LessOrEqual(t, u.CPUUsed, u.CPUCapacity)
}
