package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// fragment is one indexed transcript fragment. seq is its position in
// insertion order; vec is the unit-normalized embedding.
type fragment struct {
	seq  int
	text string
	vec  []float32
}

// MemIndex is the in-memory SemanticIndex implementation. Queries perform an
// exact cosine scan over all stored fragments, which is O(n) per query and
// intended for meeting-sized fragment counts (hundreds to low thousands). For
// long-running sessions that accumulate far more fragments, use the
// pgvector-backed index in the postgres subpackage, which provides amortized
// incremental inserts via an HNSW index.
//
// All methods are safe for concurrent use.
type MemIndex struct {
	mu        sync.RWMutex
	fragments []fragment
	closed    bool
}

// NewMemIndex returns an empty in-memory index.
func NewMemIndex() *MemIndex {
	return &MemIndex{}
}

// Insert implements SemanticIndex.
func (m *MemIndex) Insert(_ context.Context, text string, embedding []float32) error {
	if strings.TrimSpace(text) == "" {
		// Skipped before any sequence number is allocated.
		return nil
	}
	vec, err := Normalize(embedding)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.fragments = append(m.fragments, fragment{
		seq:  len(m.fragments),
		text: text,
		vec:  vec,
	})
	return nil
}

// Query implements SemanticIndex.
func (m *MemIndex) Query(_ context.Context, embedding []float32, k int) ([]string, error) {
	query, err := Normalize(embedding)
	if err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}

	if k > len(m.fragments) {
		k = len(m.fragments)
	}
	if k <= 0 {
		return []string{}, nil
	}

	type scored struct {
		seq   int
		text  string
		score float64
	}
	candidates := make([]scored, 0, len(m.fragments))
	for _, f := range m.fragments {
		// Vectors are unit length, so the inner product is the cosine
		// similarity. Dimensions are compared up to the shorter vector in
		// case a provider change slipped mixed dimensionalities into one
		// session.
		n := len(f.vec)
		if len(query) < n {
			n = len(query)
		}
		var dot float64
		for i := 0; i < n; i++ {
			dot += float64(f.vec[i]) * float64(query[i])
		}
		candidates = append(candidates, scored{seq: f.seq, text: f.text, score: dot})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		return candidates[i].seq < candidates[j].seq
	})

	results := make([]string, 0, k)
	for _, c := range candidates[:k] {
		results = append(results, c.text)
	}
	return results, nil
}

// AllText implements SemanticIndex.
func (m *MemIndex) AllText(_ context.Context) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return "", ErrClosed
	}
	texts := make([]string, len(m.fragments))
	for i, f := range m.fragments {
		texts[i] = f.text
	}
	return strings.Join(texts, " "), nil
}

// Count implements SemanticIndex.
func (m *MemIndex) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.fragments)
}

// Close implements SemanticIndex. The fragment slice is dropped so a closed
// index does not pin transcript content in memory.
func (m *MemIndex) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.fragments = nil
	return nil
}

// Ensure MemIndex implements SemanticIndex at compile time.
var _ SemanticIndex = (*MemIndex)(nil)
