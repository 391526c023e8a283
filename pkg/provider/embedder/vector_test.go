package embedder_test

import (
	"math"
	"testing"

	"github.com/earshot-audio/earshot/pkg/provider/embedder"
)

func TestNormalize_UnitNorm(t *testing.T) {
	vec := embedder.Normalize([]float32{3, 4})
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	if math.Abs(sum-1) > 1e-6 {
		t.Errorf("norm²: got %v, want 1", sum)
	}
	if math.Abs(float64(vec[0])-0.6) > 1e-6 || math.Abs(float64(vec[1])-0.8) > 1e-6 {
		t.Errorf("normalized: got %v, want [0.6 0.8]", vec)
	}
}

func TestNormalize_ZeroVector(t *testing.T) {
	vec := embedder.Normalize([]float32{0, 0, 0})
	for i, v := range vec {
		if v != 0 {
			t.Errorf("vec[%d]: got %v, want 0", i, v)
		}
	}
}

func TestCosine_SelfSimilarity(t *testing.T) {
	vec := embedder.Normalize([]float32{0.3, -0.5, 0.8, 0.1})
	sim, err := embedder.Cosine(vec, vec)
	if err != nil {
		t.Fatalf("Cosine: %v", err)
	}
	// A vector compared against itself must score at the top of the range.
	if sim < 0.999 {
		t.Errorf("self-similarity: got %v, want >= 0.999", sim)
	}
	if sim > 1 {
		t.Errorf("self-similarity: got %v, want <= 1 (clamped)", sim)
	}
}

func TestCosine_Orthogonal(t *testing.T) {
	sim, err := embedder.Cosine([]float32{1, 0}, []float32{0, 1})
	if err != nil {
		t.Fatalf("Cosine: %v", err)
	}
	if sim != 0 {
		t.Errorf("orthogonal similarity: got %v, want 0", sim)
	}
}

func TestCosine_Opposite(t *testing.T) {
	sim, err := embedder.Cosine([]float32{1, 0}, []float32{-1, 0})
	if err != nil {
		t.Fatalf("Cosine: %v", err)
	}
	if sim != -1 {
		t.Errorf("opposite similarity: got %v, want -1", sim)
	}
}

func TestCosine_DimensionMismatch(t *testing.T) {
	_, err := embedder.Cosine([]float32{1, 0}, []float32{1, 0, 0})
	if err == nil {
		t.Fatal("expected error for mismatched dimensions, got nil")
	}
}

func TestCosine_ZeroNorm(t *testing.T) {
	sim, err := embedder.Cosine([]float32{0, 0}, []float32{1, 0})
	if err != nil {
		t.Fatalf("Cosine: %v", err)
	}
	if sim != 0 {
		t.Errorf("zero-norm similarity: got %v, want 0", sim)
	}
}
