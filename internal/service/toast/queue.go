package toast

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// DefaultTTL is how long an entry stays visible unless dismissed earlier.
const DefaultTTL = 3000 * time.Millisecond

var metricToasts = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "widget",
	Name:      "toasts_total",
	Help:      "Notifications shown to visitors, by type.",
}, []string{"type"})

// Type is the severity of an entry.
type Type string

const (
	Success Type = "success"
	Error   Type = "error"
)

// Entry is one visible notification.
type Entry struct {
	ID        string    `json:"id"`
	Type      Type      `json:"type"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"createdAt"`
}

// Queue holds the notifications of one widget, most recent first. Each entry
// owns its auto-dismiss timer.
type Queue struct {
	ttl time.Duration
	now func() time.Time

	mu       sync.Mutex
	entries  []Entry
	timers   map[string]*time.Timer
	listener func([]Entry)
	closed   bool
}

// NewQueue returns a queue whose entries expire after ttl. A non-positive ttl
// selects DefaultTTL.
func NewQueue(ttl time.Duration) *Queue {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Queue{
		ttl:    ttl,
		now:    time.Now,
		timers: make(map[string]*time.Timer),
	}
}

// OnChange registers the function called with a snapshot after every change.
func (q *Queue) OnChange(fn func([]Entry)) {
	q.mu.Lock()
	q.listener = fn
	q.mu.Unlock()
}

// Push shows a notification and returns its id.
func (q *Queue) Push(typ Type, message string) string {
	entry := Entry{
		ID:        uuid.NewString(),
		Type:      typ,
		Message:   message,
		CreatedAt: q.now(),
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ""
	}
	q.entries = append([]Entry{entry}, q.entries...)
	q.timers[entry.ID] = time.AfterFunc(q.ttl, func() { q.Dismiss(entry.ID) })
	snapshot, listener := q.snapshotLocked(), q.listener
	q.mu.Unlock()

	metricToasts.WithLabelValues(string(typ)).Inc()
	if listener != nil {
		listener(snapshot)
	}
	return entry.ID
}

// Success is shorthand for Push(Success, message).
func (q *Queue) Success(message string) string {
	return q.Push(Success, message)
}

// Error is shorthand for Push(Error, message).
func (q *Queue) Error(message string) string {
	return q.Push(Error, message)
}

// Dismiss removes an entry and stops its timer. It reports whether the entry
// was still visible; dismissing twice is a no-op.
func (q *Queue) Dismiss(id string) bool {
	q.mu.Lock()
	idx := -1
	for i, entry := range q.entries {
		if entry.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		q.mu.Unlock()
		return false
	}
	q.entries = append(q.entries[:idx:idx], q.entries[idx+1:]...)
	if timer, ok := q.timers[id]; ok {
		timer.Stop()
		delete(q.timers, id)
	}
	snapshot, listener := q.snapshotLocked(), q.listener
	q.mu.Unlock()

	if listener != nil {
		listener(snapshot)
	}
	return true
}

// Entries returns the visible notifications, most recent first.
func (q *Queue) Entries() []Entry {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.snapshotLocked()
}

// Pending reports how many auto-dismiss timers are armed.
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.timers)
}

// Close stops every timer and drops later pushes.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	for id, timer := range q.timers {
		timer.Stop()
		delete(q.timers, id)
	}
	q.listener = nil
}

func (q *Queue) snapshotLocked() []Entry {
	out := make([]Entry, len(q.entries))
	copy(out, q.entries)
	return out
}
