package graph

import (
	"context"
	"sync"
)

type edgeKey struct{ src, rel string }

// MemoryBackend is an in-process Backend used for tests and for running
// without a configured graph database.
type MemoryBackend struct {
	mu    sync.Mutex
	nodes map[string]Node
	edges map[edgeKey]map[string]bool
}

// NewMemoryBackend builds an empty MemoryBackend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{nodes: make(map[string]Node), edges: make(map[edgeKey]map[string]bool)}
}

func (m *MemoryBackend) UpsertNode(_ context.Context, id string, labels []string, props map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make(map[string]any, len(props))
	for k, v := range props {
		cp[k] = v
	}
	m.nodes[id] = Node{ID: id, Labels: append([]string{}, labels...), Props: cp}
	return nil
}

func (m *MemoryBackend) UpsertEdge(_ context.Context, srcID, rel, dstID string, _ map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := edgeKey{src: srcID, rel: rel}
	if m.edges[key] == nil {
		m.edges[key] = make(map[string]bool)
	}
	m.edges[key][dstID] = true
	return nil
}

func (m *MemoryBackend) Neighbors(_ context.Context, id string, rel string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for dst := range m.edges[edgeKey{src: id, rel: rel}] {
		out = append(out, dst)
	}
	return out, nil
}

func (m *MemoryBackend) GetNode(_ context.Context, id string) (Node, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.nodes[id]
	return n, ok, nil
}

func (m *MemoryBackend) FindNodes(_ context.Context, label string, propFilter map[string]any) ([]Node, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Node
	for _, n := range m.nodes {
		if !hasLabel(n.Labels, label) {
			continue
		}
		if !matchesProps(n.Props, propFilter) {
			continue
		}
		out = append(out, n)
	}
	return out, nil
}

func (m *MemoryBackend) DeleteNode(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.nodes, id)
	for key := range m.edges {
		if key.src == id {
			delete(m.edges, key)
		}
	}
	return nil
}

// RunInTransaction has no rollback: a failing fn may leave partial writes,
// same as any non-transactional store — acceptable for a test/no-graph-
// configured fake.
func (m *MemoryBackend) RunInTransaction(ctx context.Context, fn func(ctx context.Context, tx Backend) error) error {
	return fn(ctx, m)
}

func hasLabel(labels []string, want string) bool {
	for _, l := range labels {
		if l == want {
			return true
		}
	}
	return false
}

func matchesProps(props, filter map[string]any) bool {
	for k, v := range filter {
		if props[k] != v {
			return false
		}
	}
	return true
}
