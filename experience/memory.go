package experience

import (
	"context"
	"sync"
)

type MemoryStore struct {
	mu   sync.RWMutex
	recs []Record
	keys map[string]struct{}
}

func NewMemory() *MemoryStore {
	return &MemoryStore{keys: make(map[string]struct{})}
}

func (m *MemoryStore) Append(ctx context.Context, r Record) (bool, error) {
	if r.Key == "" {
		r.Key = ContentKey(r)
	}
	r.Features = cloneFeatures(r.Features)

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, dup := m.keys[r.Key]; dup {
		return false, nil
	}
	m.keys[r.Key] = struct{}{}
	m.recs = append(m.recs, r)
	return true, nil
}

func (m *MemoryStore) Len(ctx context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.recs), nil
}

func (m *MemoryStore) Has(ctx context.Context, key string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.keys[key]
	return ok, nil
}

// List returns matches in append order; with a Limit, the most recent ones.
func (m *MemoryStore) List(ctx context.Context, q Query) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Record
	for _, r := range m.recs {
		if q.match(r) {
			r.Features = cloneFeatures(r.Features)
			out = append(out, r)
		}
	}
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[len(out)-q.Limit:]
	}
	return out, nil
}

func (m *MemoryStore) Close() error { return nil }

func cloneFeatures(in map[string]float64) map[string]float64 {
	if in == nil {
		return nil
	}
	out := make(map[string]float64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
