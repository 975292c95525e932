// Package fixed provides the saturating Q-format arithmetic used wherever the
// echo canceller crosses between int16 PCM, fixed-point filter coefficients
// and the float working domain.
//
// Conventions: a value in Qn format represents v / 2^n. All conversions into
// a narrower type saturate instead of wrapping.
package fixed

import "math"

// Q15 is the fractional bit count of filter coefficients and PCM scaling.
const Q15 = 15

const (
	maxInt16 = 32767
	minInt16 = -32768
	maxInt32 = (1 << 31) - 1
	minInt32 = -1 << 31
)

// Sat16 saturates x to the int16 range.
func Sat16(x int32) int16 {
	if x > maxInt16 {
		return maxInt16
	}
	if x < minInt16 {
		return minInt16
	}
	return int16(x)
}

// AddSat32 adds a and b, saturating at the int32 limits.
func AddSat32(a, b int32) int32 {
	v := int64(a) + int64(b)
	if v > maxInt32 {
		return maxInt32
	}
	if v < minInt32 {
		return minInt32
	}
	return int32(v)
}

// SubSat32 subtracts b from a, saturating at the int32 limits.
func SubSat32(a, b int32) int32 {
	v := int64(a) - int64(b)
	if v > maxInt32 {
		return maxInt32
	}
	if v < minInt32 {
		return minInt32
	}
	return int32(v)
}

// RShiftRound shifts x right by shift bits with rounding to nearest.
func RShiftRound(x int32, shift int) int32 {
	if shift <= 0 {
		return x
	}
	if shift == 1 {
		return (x >> 1) + (x & 1)
	}
	return ((x >> (shift - 1)) + 1) >> 1
}

// Limit32 clamps x to [lo, hi].
func Limit32(x, lo, hi int32) int32 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}

// FromFloat converts v to Qq, rounding to nearest and saturating. NaN maps
// to zero so a corrupted update can never poison stored coefficients.
func FromFloat(v float64, q int) int32 {
	if math.IsNaN(v) {
		return 0
	}
	scaled := math.Round(v * float64(int64(1)<<q))
	if scaled >= maxInt32 {
		return maxInt32
	}
	if scaled <= minInt32 {
		return minInt32
	}
	return int32(scaled)
}

// ToFloat converts a Qq value to float64.
func ToFloat(x int32, q int) float64 {
	return float64(x) / float64(int64(1)<<q)
}

// SampleToFloat maps an int16 PCM sample to [-1, 1).
func SampleToFloat(s int16) float64 {
	return float64(s) / 32768.0
}

// FloatToSample maps v in [-1, 1) back to int16 with rounding and
// saturation.
func FloatToSample(v float64) int16 {
	if math.IsNaN(v) {
		return 0
	}
	scaled := math.Round(v * 32768.0)
	if scaled > maxInt16 {
		return maxInt16
	}
	if scaled < minInt16 {
		return minInt16
	}
	return int16(scaled)
}

// Rand advances the linear congruential generator used for comfort noise.
// The sequence wraps in int32 arithmetic.
func Rand(seed int32) int32 {
	return int32(uint32(907633515) + uint32(seed)*uint32(196314165))
}
