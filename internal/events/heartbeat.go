package events

import (
	"sync"
	"time"

	"github.com/ternarybob/quaestor/internal/models"
)

// HeartbeatMonitor tracks the last heartbeat per worker so a stalled
// worker can be told apart from a dead stream. It consumes the event
// feed like any other sink.
type HeartbeatMonitor struct {
	mu   sync.Mutex
	last map[int]heartbeatState
}

type heartbeatState struct {
	seen time.Time
	task string
}

// NewHeartbeatMonitor creates an empty monitor
func NewHeartbeatMonitor() *HeartbeatMonitor {
	return &HeartbeatMonitor{last: make(map[int]heartbeatState)}
}

// Consume records heartbeat and progress events; everything else is
// ignored.
func (m *HeartbeatMonitor) Consume(event models.Event) {
	switch event.Type {
	case models.EventHeartbeat, models.EventProgress:
	default:
		return
	}

	ts := event.TS
	if ts.IsZero() {
		ts = time.Now()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.last[event.WorkerID] = heartbeatState{seen: ts, task: event.Task}
}

// Forget clears a worker's record, used when it exits cleanly
func (m *HeartbeatMonitor) Forget(workerID int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.last, workerID)
}

// Stuck returns the ids of workers whose last heartbeat is older than
// timeout at the given instant.
func (m *HeartbeatMonitor) Stuck(now time.Time, timeout time.Duration) []int {
	m.mu.Lock()
	defer m.mu.Unlock()

	var stuck []int
	for id, st := range m.last {
		if now.Sub(st.seen) > timeout {
			stuck = append(stuck, id)
		}
	}
	return stuck
}

// LastTask reports the task a worker last announced, if any
func (m *HeartbeatMonitor) LastTask(workerID int) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.last[workerID]
	return st.task, ok
}
