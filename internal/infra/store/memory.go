package store

import (
	"context"
	"sync"
)

// Memory is an in-process Store. Documents are deep-copied on the way in and out.
type Memory struct {
	mu   sync.RWMutex
	docs map[Kind]map[string]map[string]any
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{docs: make(map[Kind]map[string]map[string]any)}
}

func (m *Memory) Get(ctx context.Context, id string, kind Kind) (map[string]any, error) {
	if err := check(id, kind); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	doc, ok := m.docs[kind][id]
	if !ok {
		return map[string]any{}, nil
	}
	return copyMap(doc), nil
}

func (m *Memory) Update(ctx context.Context, id string, kind Kind, data map[string]any) error {
	if err := check(id, kind); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	coll, ok := m.docs[kind]
	if !ok {
		coll = make(map[string]map[string]any)
		m.docs[kind] = coll
	}
	doc, ok := coll[id]
	if !ok {
		doc = make(map[string]any)
		coll[id] = doc
	}
	merge(doc, copyMap(data))
	return nil
}

func (m *Memory) Close() error { return nil }

func copyMap(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = copyValue(v)
	}
	return out
}

func copyValue(v any) any {
	switch vv := v.(type) {
	case map[string]any:
		return copyMap(vv)
	case []any:
		out := make([]any, len(vv))
		for i, e := range vv {
			out[i] = copyValue(e)
		}
		return out
	case []string:
		return append([]string(nil), vv...)
	default:
		return v
	}
}

var _ Store = (*Memory)(nil)
