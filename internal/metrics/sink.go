package metrics

import (
	"io"
	"strings"
	"sync"

	"github.com/sells-group/sightings/internal/model"
)

// Sink accumulates rendered snapshots in emission order. It is safe for
// concurrent use; readers always see a consistent prefix of completed
// appends.
type Sink struct {
	mu       sync.RWMutex
	capacity int
	entries  []entry
	keys     map[string]struct{}
	evicted  int
}

type entry struct {
	key      string
	snapshot string
}

// SinkOption configures a Sink.
type SinkOption func(*Sink)

// WithCapacity keeps at most n snapshots, evicting the oldest first. Zero
// means unbounded.
func WithCapacity(n int) SinkOption {
	return func(s *Sink) {
		if n > 0 {
			s.capacity = n
		}
	}
}

// NewSink creates an empty sink.
func NewSink(opts ...SinkOption) *Sink {
	s := &Sink{keys: make(map[string]struct{})}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SnapshotKey identifies one snapshot of one workflow run.
func SnapshotKey(workflowID, runID string, stage model.Stage) string {
	return workflowID + "/" + runID + "/" + string(stage)
}

// Append adds snapshot unless one was already appended under key. It
// reports whether the snapshot was added. An empty key is never
// de-duplicated.
func (s *Sink) Append(key, snapshot string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if key != "" {
		if _, ok := s.keys[key]; ok {
			return false
		}
		s.keys[key] = struct{}{}
	}
	s.entries = append(s.entries, entry{key: key, snapshot: snapshot})

	if s.capacity > 0 && len(s.entries) > s.capacity {
		drop := len(s.entries) - s.capacity
		for _, e := range s.entries[:drop] {
			if e.key != "" {
				delete(s.keys, e.key)
			}
		}
		s.entries = append(s.entries[:0:0], s.entries[drop:]...)
		s.evicted += drop
	}
	return true
}

// Snapshots returns a copy of the accumulated snapshots, oldest first.
func (s *Sink) Snapshots() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]string, len(s.entries))
	for i, e := range s.entries {
		out[i] = e.snapshot
	}
	return out
}

// Len returns the number of retained snapshots.
func (s *Sink) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Evicted returns how many snapshots were dropped by the capacity policy.
func (s *Sink) Evicted() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.evicted
}

// Exposition renders the header followed by every retained snapshot.
func (s *Sink) Exposition() string {
	return Exposition(s.Snapshots())
}

// WriteTo writes the exposition to w.
func (s *Sink) WriteTo(w io.Writer) (int64, error) {
	n, err := io.WriteString(w, s.Exposition())
	return int64(n), err
}

// Exposition joins snapshots under the fixed header.
func Exposition(snapshots []string) string {
	var b strings.Builder
	b.WriteString(Header)
	for _, snap := range snapshots {
		b.WriteString(snap)
		b.WriteByte('\n')
	}
	return b.String()
}
