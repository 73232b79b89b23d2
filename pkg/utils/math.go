package utils

import "math"

// NormalizeL2 scales vec in place to unit length. The squared norm is
// accumulated in float64 so long vectors of small components do not lose the
// tail to float32 rounding. A zero vector has no direction and is left
// untouched.
func NormalizeL2(vec []float32) {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		return
	}
	norm := float32(math.Sqrt(sum))
	for i := range vec {
		vec[i] /= norm
	}
}
