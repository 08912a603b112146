package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/i474232898/sensor-dashboard/internal/readings"
)

var _ readings.Store = (*MemoryStore)(nil)

// MemoryStore is a concurrency-safe in-memory reading store, one append-only
// slice per source. It backs tests and keeps nothing across restarts.
type MemoryStore struct {
	mu sync.RWMutex

	// key: source, value: rows in append order
	data map[readings.Source][]readings.Row
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data: make(map[readings.Source][]readings.Row),
	}
}

// Append stores rows under their source.
func (s *MemoryStore) Append(_ context.Context, rows []readings.Row) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, row := range rows {
		if row.Entity() == "" {
			return fmt.Errorf("row for source %q has no payload", row.Source)
		}
		s.data[row.Source] = append(s.data[row.Source], row)
	}
	return nil
}

// Tables returns one read view per known source.
func (s *MemoryStore) Tables() []readings.SourceTable {
	tables := make([]readings.SourceTable, 0, len(readings.AllSources))
	for _, src := range readings.AllSources {
		tables = append(tables, &memoryTable{store: s, source: src})
	}
	return tables
}

type memoryTable struct {
	store  *MemoryStore
	source readings.Source
}

func (t *memoryTable) Source() readings.Source { return t.source }

func (t *memoryTable) Entities(_ context.Context) ([]string, error) {
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()

	seen := make(map[string]struct{})
	var out []string
	for _, row := range t.store.data[t.source] {
		entity := row.Entity()
		if _, ok := seen[entity]; ok {
			continue
		}
		seen[entity] = struct{}{}
		out = append(out, entity)
	}
	sort.Strings(out)
	return out, nil
}

// Rows returns rows inside w ordered by timestamp. Rows whose timestamp does
// not parse are passed through at the end; filtering them is the caller's job.
func (t *memoryTable) Rows(_ context.Context, w readings.TimeWindow) ([]readings.Row, error) {
	t.store.mu.RLock()
	rows := t.store.data[t.source]
	snapshot := make([]readings.Row, len(rows))
	copy(snapshot, rows)
	t.store.mu.RUnlock()

	return inWindow(snapshot, w), nil
}
