// Package embedding defines the embedder contract the archival store calls
// into for vector search, plus a process-wide singleton with idempotent,
// once-guarded initialisation and ordered disposal — per the spec's note
// that the embedding model is the one piece of global mutable state that
// must still be modeled as an explicit injected service.
package embedding

import (
	"context"
	"fmt"
	"math"
	"sync"
)

// Embedder turns text into a fixed-dimension vector. Concrete
// implementations call out to a provider's embedding endpoint; the wire
// format of that call is out of scope (spec.md §1 non-goals) — this
// package only fixes the shape the rest of the system depends on.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimensions() int
	Close() error
}

var (
	mu       sync.Mutex
	instance Embedder
	initErr  error
	initOnce sync.Once
)

// Factory constructs the concrete embedder from config. Set once at
// startup before the first call to Get.
type Factory func() (Embedder, error)

var factory Factory

// SetFactory registers how to build the singleton on first use. Tests may
// call this with a fake embedder; production wiring calls it once during
// startup with a real provider-backed embedder.
func SetFactory(f Factory) {
	mu.Lock()
	defer mu.Unlock()
	factory = f
}

// Get returns the process-wide embedder, constructing it on first call.
// Concurrent first callers block on the same initialisation rather than
// racing to construct duplicate instances. Returns (nil, nil) when no
// factory has been registered — callers (the archival store) must treat a
// nil embedder as "unavailable" and fall back to keyword-only search, never
// as an error.
func Get() (Embedder, error) {
	initOnce.Do(func() {
		mu.Lock()
		f := factory
		mu.Unlock()
		if f == nil {
			return
		}
		instance, initErr = f()
		if initErr != nil {
			initErr = fmt.Errorf("embedding: initialize: %w", initErr)
		}
	})
	mu.Lock()
	defer mu.Unlock()
	return instance, initErr
}

// Shutdown disposes the singleton if one was constructed. Safe to call
// even if Get was never called.
func Shutdown() error {
	mu.Lock()
	defer mu.Unlock()
	if instance == nil {
		return nil
	}
	err := instance.Close()
	instance = nil
	return err
}

// Normalize L2-normalises v in place and returns it, a precondition for
// cosine similarity to behave as a true angular distance.
func Normalize(v []float32) []float32 {
	var sumSq float64
	for _, x := range v {
		sumSq += float64(x) * float64(x)
	}
	if sumSq == 0 {
		return v
	}
	norm := math.Sqrt(sumSq)
	for i, x := range v {
		v[i] = float32(float64(x) / norm)
	}
	return v
}

// CosineSimilarity computes the cosine similarity of two equal-length
// vectors, assumed already L2-normalised (so this reduces to a dot
// product). Returns 0 for mismatched or empty vectors.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot
}
