package task

import (
	"sync"

	"github.com/elastos-carrier/carrier-go/metrics"
)

// MaxActiveTasks bounds how many lookups/fan-outs may run at once per
// DHT instance; further submissions queue (spec.md §5).
const MaxActiveTasks = 16

// Runnable is anything the manager can start once a slot is free.
type Runnable interface {
	Start()
}

// Manager serializes task admission: at most MaxActiveTasks run
// concurrently, the rest wait in FIFO order. It runs entirely on the
// owning DHT's single scheduler thread, so no task ever blocks another
// except by queuing.
type Manager struct {
	mu      sync.Mutex
	active  int
	waiting []Runnable
}

// NewManager creates an empty task manager.
func NewManager() *Manager { return &Manager{} }

// Submit starts r immediately if a slot is free, otherwise queues it.
// Callers must invoke Release when r's work concludes (wired through
// each task's onDone hook).
func (m *Manager) Submit(r Runnable) {
	m.mu.Lock()
	if m.active < MaxActiveTasks {
		m.active++
		m.mu.Unlock()
		metrics.TaskActive.Update(int64(m.ActiveCount()))
		r.Start()
		return
	}
	m.waiting = append(m.waiting, r)
	m.mu.Unlock()
}

// Release frees a slot and starts the next queued task, if any. Call
// this from a task's completion callback.
func (m *Manager) Release() {
	m.mu.Lock()
	if len(m.waiting) > 0 {
		next := m.waiting[0]
		m.waiting = m.waiting[1:]
		m.mu.Unlock()
		metrics.TaskActive.Update(int64(m.ActiveCount()))
		next.Start()
		return
	}
	m.active--
	m.mu.Unlock()
	metrics.TaskActive.Update(int64(m.ActiveCount()))
}

// ActiveCount returns the number of tasks currently running.
func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// QueuedCount returns the number of tasks waiting for a slot.
func (m *Manager) QueuedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.waiting)
}
