package health

import (
	"net/http"
	"sort"
	"sync"

	"github.com/gin-gonic/gin"
)

// Manager tracks named readiness gates. The service reports ready only once
// every registered gate has passed.
type Manager struct {
	mu    sync.Mutex
	gates map[string]bool
}

func NewManager(gates ...string) *Manager {
	m := &Manager{gates: make(map[string]bool, len(gates))}
	for _, gate := range gates {
		m.gates[gate] = false
	}
	return m
}

func (m *Manager) SetReady(gate string, ready bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gates[gate] = ready
}

// Pending returns the gates that have not passed yet, sorted for stable
// probe output.
func (m *Manager) Pending() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	pending := make([]string, 0, len(m.gates))
	for gate, ready := range m.gates {
		if !ready {
			pending = append(pending, gate)
		}
	}
	sort.Strings(pending)
	return pending
}

func (m *Manager) IsReady() bool {
	return len(m.Pending()) == 0
}

func LivenessHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func ReadinessHandler(m *Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		if pending := m.Pending(); len(pending) > 0 {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready", "pending": pending})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	}
}
