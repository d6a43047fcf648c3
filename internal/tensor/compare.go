package tensor

import "math"

// Default tolerances for AllClose, matching the usual floating-point
// closeness check for converted model outputs.
const (
	DefaultRtol = 1e-5
	DefaultAtol = 1e-8
)

// AllClose reports whether every element of a is close to the
// corresponding element of b: |a - b| <= atol + rtol*|b|.
// Tensors of different shapes or dtypes are never close.
func AllClose(a, b *RawTensor, rtol, atol float64) bool {
	if !a.Shape().Equal(b.Shape()) || a.DType() != b.DType() {
		return false
	}

	switch a.DType() {
	case Float32:
		av, bv := a.AsFloat32(), b.AsFloat32()
		for i := range av {
			diff := math.Abs(float64(av[i]) - float64(bv[i]))
			if diff > atol+rtol*math.Abs(float64(bv[i])) {
				return false
			}
		}
	case Float64:
		av, bv := a.AsFloat64(), b.AsFloat64()
		for i := range av {
			diff := math.Abs(av[i] - bv[i])
			if diff > atol+rtol*math.Abs(bv[i]) {
				return false
			}
		}
	default:
		return false
	}
	return true
}

// MaxAbsDiff returns the largest elementwise absolute difference between
// two same-shaped float32 tensors. Used for mismatch diagnostics.
func MaxAbsDiff(a, b *RawTensor) float64 {
	av, bv := a.AsFloat32(), b.AsFloat32()
	maxDiff := 0.0
	for i := range av {
		diff := math.Abs(float64(av[i]) - float64(bv[i]))
		if diff > maxDiff {
			maxDiff = diff
		}
	}
	return maxDiff
}
