package testutil

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"math"
	"strings"
)

// FakeEmbedder produces deterministic unit-length vectors derived from the
// input text, so identical texts embed identically and similarity ordering is
// stable across test runs without a model host.
type FakeEmbedder struct {
	Dim int

	// Err, when set, is returned for texts containing any FailOn substring,
	// or for every call when FailOn is empty.
	Err    error
	FailOn []string

	Calls []string
}

// NewFakeEmbedder creates a deterministic embedder of the given dimension.
func NewFakeEmbedder(dim int) *FakeEmbedder {
	return &FakeEmbedder{Dim: dim}
}

func (f *FakeEmbedder) shouldFail(text string) bool {
	if len(f.FailOn) == 0 {
		return true
	}
	for _, s := range f.FailOn {
		if strings.Contains(text, s) {
			return true
		}
	}
	return false
}

// Embed returns a unit vector seeded by the sha256 of the text.
func (f *FakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	f.Calls = append(f.Calls, text)
	if f.Err != nil && f.shouldFail(text) {
		return nil, f.Err
	}

	sum := sha256.Sum256([]byte(text))
	vec := make([]float32, f.Dim)
	var norm float64
	for i := range vec {
		// Cycle through the digest, reseeding with the index for length.
		word := binary.BigEndian.Uint32(sum[(i*4)%28:]) + uint32(i)
		v := float64(word%2000)/1000.0 - 1.0
		vec[i] = float32(v)
		norm += v * v
	}
	norm = math.Sqrt(norm)
	if norm == 0 {
		norm = 1
	}
	for i := range vec {
		vec[i] = float32(float64(vec[i]) / norm)
	}
	return vec, nil
}
