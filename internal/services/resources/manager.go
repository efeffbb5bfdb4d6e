// -----------------------------------------------------------------------
// ResourceManager - Bounded admission to LLM calls and DB connections
// -----------------------------------------------------------------------

package resources

import (
	"context"
	"runtime"
	"sync"

	"github.com/ternarybob/arbor"
	"golang.org/x/sync/semaphore"
)

// Status reports current admission capacity and process memory
type Status struct {
	AICallsAvailable     int64  `json:"ai_calls_available"`
	ConnectionsAvailable int64  `json:"connections_available"`
	MaxAICalls           int64  `json:"max_ai_calls"`
	MaxConnections       int64  `json:"max_connections"`
	HeapAllocBytes       uint64 `json:"heap_alloc_bytes"`
	HeapSysBytes         uint64 `json:"heap_sys_bytes"`
	NumGoroutine         int    `json:"num_goroutine"`
}

// Manager serializes contention on LLM calls and database connections with
// counting semaphores. Permits are advisory: the manager never opens a
// connection itself. Waiters acquire in FIFO order. State is per-job, so
// no cross-job locking is needed.
type Manager struct {
	aiSem      *semaphore.Weighted
	dbSem      *semaphore.Weighted
	maxAI      int64
	maxDB      int64
	mu         sync.Mutex
	aiInFlight int64
	dbInFlight int64
	logger     arbor.ILogger
}

// NewManager creates a manager with the given permit counts. Defaults are
// 4 AI calls and 2 connections; zero permits is legal and queues callers
// indefinitely.
func NewManager(maxAICalls, maxConnections int, logger arbor.ILogger) *Manager {
	if maxAICalls < 0 {
		maxAICalls = 4
	}
	if maxConnections < 0 {
		maxConnections = 2
	}

	return &Manager{
		aiSem:  semaphore.NewWeighted(int64(maxAICalls)),
		dbSem:  semaphore.NewWeighted(int64(maxConnections)),
		maxAI:  int64(maxAICalls),
		maxDB:  int64(maxConnections),
		logger: logger,
	}
}

// WithAI runs fn under an AI-call permit. A failing fn still releases its
// permit. Callers must not hold the permit across unrelated calls.
func (m *Manager) WithAI(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := m.aiSem.Acquire(ctx, 1); err != nil {
		return err
	}
	m.adjust(&m.aiInFlight, 1)
	defer func() {
		m.adjust(&m.aiInFlight, -1)
		m.aiSem.Release(1)
	}()

	return fn(ctx)
}

// WithDatabase runs fn under a database-connection permit
func (m *Manager) WithDatabase(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := m.dbSem.Acquire(ctx, 1); err != nil {
		return err
	}
	m.adjust(&m.dbInFlight, 1)
	defer func() {
		m.adjust(&m.dbInFlight, -1)
		m.dbSem.Release(1)
	}()

	return fn(ctx)
}

// GetStatus reports available permits and memory usage
func (m *Manager) GetStatus() Status {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	m.mu.Lock()
	aiInFlight := m.aiInFlight
	dbInFlight := m.dbInFlight
	m.mu.Unlock()

	return Status{
		AICallsAvailable:     m.maxAI - aiInFlight,
		ConnectionsAvailable: m.maxDB - dbInFlight,
		MaxAICalls:           m.maxAI,
		MaxConnections:       m.maxDB,
		HeapAllocBytes:       mem.HeapAlloc,
		HeapSysBytes:         mem.HeapSys,
		NumGoroutine:         runtime.NumGoroutine(),
	}
}

func (m *Manager) adjust(counter *int64, delta int64) {
	m.mu.Lock()
	*counter += delta
	m.mu.Unlock()
}
