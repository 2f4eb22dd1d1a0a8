// Package progress records the human-readable log of long-running archive
// operations so partial failures stay observable.
package progress

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/matheus3301/wpp-archive/internal/bus"
	"go.uber.org/zap"
)

const defaultCapacity = 1000

// Entry is one line of the progress log.
type Entry struct {
	ID        uuid.UUID `json:"id"`
	Operation uuid.UUID `json:"operation"`
	Name      string    `json:"name"`
	Time      time.Time `json:"time"`
	Message   string    `json:"message"`
	Failed    bool      `json:"failed,omitempty"`
}

// String renders the entry as "HH:MM:SS.mmm - message".
func (e Entry) String() string {
	return e.Time.Format("15:04:05.000") + " - " + e.Message
}

// Log is a bounded, concurrency-safe progress log.
type Log struct {
	mu       sync.Mutex
	entries  []Entry
	capacity int
	bus      *bus.Bus
	logger   *zap.Logger
	now      func() time.Time
}

// New creates a progress log publishing entries on b. Both may be nil.
func New(b *bus.Bus, logger *zap.Logger) *Log {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Log{capacity: defaultCapacity, bus: b, logger: logger, now: time.Now}
}

// Begin starts reporting for a named operation.
func (l *Log) Begin(name string) *Reporter {
	r := &Reporter{log: l, id: uuid.New(), name: name}
	r.Report("%s started", name)
	return r
}

// Entries returns up to limit of the most recent entries, oldest first.
// A limit <= 0 returns everything retained.
func (l *Log) Entries(limit int) []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	start := 0
	if limit > 0 && len(l.entries) > limit {
		start = len(l.entries) - limit
	}
	out := make([]Entry, len(l.entries)-start)
	copy(out, l.entries[start:])
	return out
}

// Operation returns the entries of one operation, oldest first.
func (l *Log) Operation(id uuid.UUID) []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []Entry
	for _, e := range l.entries {
		if e.Operation == id {
			out = append(out, e)
		}
	}
	return out
}

func (l *Log) append(e Entry) {
	l.mu.Lock()
	l.entries = append(l.entries, e)
	if over := len(l.entries) - l.capacity; over > 0 {
		l.entries = append(l.entries[:0:0], l.entries[over:]...)
	}
	l.mu.Unlock()

	l.bus.Emit(bus.KindProgress, e)
	fields := []zap.Field{zap.String("operation", e.Name), zap.String("op_id", e.Operation.String())}
	if e.Failed {
		l.logger.Warn(e.Message, fields...)
	} else {
		l.logger.Info(e.Message, fields...)
	}
}

// Reporter writes the entries of one operation.
type Reporter struct {
	log  *Log
	id   uuid.UUID
	name string
}

// ID identifies the operation.
func (r *Reporter) ID() uuid.UUID { return r.id }

// Report appends a formatted entry. Safe on a nil receiver.
func (r *Reporter) Report(format string, args ...any) {
	r.write(false, fmt.Sprintf(format, args...))
}

// Fail appends a formatted entry marked as a failure.
func (r *Reporter) Fail(format string, args ...any) {
	r.write(true, fmt.Sprintf(format, args...))
}

// Step appends an entry prefixed with "n / total".
func (r *Reporter) Step(n, total int, format string, args ...any) {
	r.write(false, fmt.Sprintf("%d / %d %s", n, total, fmt.Sprintf(format, args...)))
}

// StepFailed is Step for a failed sub-step.
func (r *Reporter) StepFailed(n, total int, format string, args ...any) {
	r.write(true, fmt.Sprintf("%d / %d %s", n, total, fmt.Sprintf(format, args...)))
}

func (r *Reporter) write(failed bool, msg string) {
	if r == nil || r.log == nil {
		return
	}
	r.log.append(Entry{
		ID:        uuid.New(),
		Operation: r.id,
		Name:      r.name,
		Time:      r.log.now(),
		Message:   msg,
		Failed:    failed,
	})
}
