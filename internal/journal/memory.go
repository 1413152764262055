package journal

import (
	"context"
	"sync"
	"time"
)

// Memory keeps the most recent entries in a fixed-size ring.
type Memory struct {
	mu      sync.Mutex
	entries []Entry
	next    int
	full    bool
	now     func() time.Time
}

// NewMemory returns a journal holding up to capacity entries (500 if <= 0).
func NewMemory(capacity int) *Memory {
	if capacity <= 0 {
		capacity = 500
	}
	return &Memory{entries: make([]Entry, capacity), now: time.Now}
}

func (m *Memory) Record(_ context.Context, e Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries[m.next] = stamp(e, m.now())
	m.next = (m.next + 1) % len(m.entries)
	if m.next == 0 {
		m.full = true
	}
	return nil
}

func (m *Memory) Recent(ctx context.Context, limit int) ([]Entry, error) {
	return m.Find(ctx, Filter{}, limit)
}

func (m *Memory) Find(_ context.Context, f Filter, limit int) ([]Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := m.next
	if m.full {
		n = len(m.entries)
	}
	if limit <= 0 || limit > n {
		limit = n
	}

	out := make([]Entry, 0, limit)
	for i := 1; i <= n && len(out) < limit; i++ {
		e := m.entries[(m.next-i+len(m.entries))%len(m.entries)]
		if f.match(e) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *Memory) Close() error { return nil }
