package store

import (
	"context"
	"math"
	"sort"
	"sync"
)

// MemoryBackend is an in-process Backend used for tests and for running
// without any external vector database configured.
type MemoryBackend struct {
	mu     sync.RWMutex
	points map[string]point
}

type point struct {
	vector  []float32
	payload map[string]string
}

// NewMemoryBackend builds an empty MemoryBackend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{points: make(map[string]point)}
}

func (m *MemoryBackend) Upsert(_ context.Context, id string, vector []float32, payload map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	v := make([]float32, len(vector))
	copy(v, vector)
	m.points[id] = point{vector: v, payload: copyPayload(payload)}
	return nil
}

func (m *MemoryBackend) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.points, id)
	return nil
}

func (m *MemoryBackend) SimilaritySearch(_ context.Context, vector []float32, k int, filter map[string]string) ([]Hit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if k <= 0 {
		k = 10
	}
	qnorm := norm(vector)
	var hits []Hit
	for id, p := range m.points {
		if !matches(p.payload, filter) {
			continue
		}
		hits = append(hits, Hit{ID: id, Score: cosine(vector, p.vector, qnorm), Payload: copyPayload(p.payload)})
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

func (m *MemoryBackend) Scroll(_ context.Context, filter map[string]string) ([]Hit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var hits []Hit
	for id, p := range m.points {
		if !matches(p.payload, filter) {
			continue
		}
		hits = append(hits, Hit{ID: id, Payload: copyPayload(p.payload)})
	}
	return hits, nil
}

func matches(payload, filter map[string]string) bool {
	for k, v := range filter {
		if payload[k] != v {
			return false
		}
	}
	return true
}

func norm(v []float32) float64 {
	var s float64
	for _, x := range v {
		s += float64(x) * float64(x)
	}
	return math.Sqrt(s)
}

func cosine(a, b []float32, anorm float64) float64 {
	if anorm == 0 {
		anorm = norm(a)
	}
	bnorm := norm(b)
	if anorm == 0 || bnorm == 0 {
		return 0
	}
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot / (anorm * bnorm)
}
