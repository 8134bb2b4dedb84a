package audio

import (
	"encoding/binary"
	"math"
)

// Clamp16 saturates v to the int16 range.
func Clamp16(v int32) int16 {
	if v > math.MaxInt16 {
		return math.MaxInt16
	}
	if v < math.MinInt16 {
		return math.MinInt16
	}
	return int16(v)
}

// ScaleSamples multiplies the first n samples of buf by gain in place,
// truncating toward zero and saturating at the int16 limits.
func ScaleSamples(buf []int16, n int, gain float64) {
	for i := range buf[:n] {
		v := float64(buf[i]) * gain
		// Clip before converting so large gains cannot overflow int32.
		if v > math.MaxInt16 {
			v = math.MaxInt16
		} else if v < math.MinInt16 {
			v = math.MinInt16
		}
		buf[i] = int16(v)
	}
}

// MixToBytes sums the first n samples of a and b with saturation and writes
// them to dst as little-endian int16. dst must hold at least 2*n bytes.
func MixToBytes(a, b []int16, dst []byte, n int) {
	for i := 0; i < n; i++ {
		sum := Clamp16(int32(a[i]) + int32(b[i]))
		binary.LittleEndian.PutUint16(dst[i*2:], uint16(sum))
	}
}
