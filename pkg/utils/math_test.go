package utils

import (
	"math"
	"testing"
)

func TestNormalizeL2(t *testing.T) {
	vec := []float32{3, 4}
	NormalizeL2(vec)
	if math.Abs(float64(vec[0])-0.6) > 1e-6 || math.Abs(float64(vec[1])-0.8) > 1e-6 {
		t.Fatalf("normalized = %v, want [0.6 0.8]", vec)
	}

	zero := []float32{0, 0, 0}
	NormalizeL2(zero)
	for i, v := range zero {
		if v != 0 {
			t.Fatalf("zero vector changed at %d: %v", i, zero)
		}
	}
}
