// Package memory provides the per-session semantic index over transcript
// fragments.
//
// A SemanticIndex stores (text, embedding) pairs and answers top-k cosine
// similarity queries. Indexes are created when a meeting session starts and
// destroyed when it ends; nothing persists beyond the session. Callers are
// responsible for producing embeddings before calling Insert or Query.
//
// Every implementation must be safe for concurrent use.
package memory

import (
	"context"
	"errors"
	"math"
)

// ErrClosed is returned by Insert and Query after the index has been closed.
var ErrClosed = errors.New("memory: index is closed")

// ErrInvalidEmbedding is returned when an embedding has zero or non-finite
// norm and therefore cannot be normalized to unit length.
var ErrInvalidEmbedding = errors.New("memory: invalid embedding")

// SemanticIndex is the contract for a per-session fragment index.
//
// Fragments receive contiguous sequence numbers starting at 0 in insertion
// order. All stored vectors are normalized to unit length, which makes
// retrieval invariant to the scale of incoming embeddings.
type SemanticIndex interface {
	// Insert stores a transcript fragment with its embedding.
	//
	// Text that is empty after trimming whitespace is silently skipped without
	// allocating a sequence number. An embedding with zero norm is rejected
	// with ErrInvalidEmbedding. After Close, Insert returns ErrClosed.
	Insert(ctx context.Context, text string, embedding []float32) error

	// Query returns the texts of the k fragments most similar to the query
	// embedding, most similar first. k is clamped to [0, Count()]; querying an
	// empty index returns an empty slice. Equal similarity scores are broken
	// by ascending sequence number, so results are deterministic for a given
	// index state. After Close, Query returns ErrClosed.
	Query(ctx context.Context, embedding []float32, k int) ([]string, error)

	// AllText returns every stored fragment joined by a single space, in
	// sequence order. Used as a retrieval fallback when no embedding is
	// available for the question.
	AllText(ctx context.Context) (string, error)

	// Count returns the number of stored fragments.
	Count() int

	// Close releases the index and discards its contents. Calling Close more
	// than once is safe and returns nil.
	Close() error
}

// Normalize returns a unit-length copy of vec. It returns ErrInvalidEmbedding
// when the norm is zero or not finite. Implementations normalize on insert so
// that the inner product of stored vectors equals cosine similarity.
func Normalize(vec []float32) ([]float32, error) {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	norm := math.Sqrt(sum)
	if norm == 0 || math.IsNaN(norm) || math.IsInf(norm, 0) {
		return nil, ErrInvalidEmbedding
	}
	out := make([]float32, len(vec))
	for i, v := range vec {
		out[i] = float32(float64(v) / norm)
	}
	return out, nil
}
