// Package codec converts between the board's packed big-endian two's
// complement samples and float32 IQ values.
package codec

import "math"

const (
	// FullScale24 maps a 24-bit code to the nominal +/-1.0 range.
	FullScale24 = 1 << 23
	// FullScale16 maps a 16-bit code to the nominal +/-1.0 range.
	FullScale16 = 1 << 15

	max24 = FullScale24 - 1
	min24 = -FullScale24
)

// DecodeI24 interprets the first three bytes of b as a big-endian 24-bit
// two's complement integer.
func DecodeI24(b []byte) float32 {
	_ = b[2]
	v := int32(b[0])<<24 | int32(b[1])<<16 | int32(b[2])<<8
	// arithmetic shift restores the sign from bit 23
	return float32(v>>8) / FullScale24
}

// DecodeI16 interprets the first two bytes of b as a big-endian 16-bit
// two's complement integer.
func DecodeI16(b []byte) float32 {
	_ = b[1]
	v := int16(uint16(b[0])<<8 | uint16(b[1]))
	return float32(v) / FullScale16
}

// EncodeI16 writes v into b[0:2], clamping instead of wrapping.
func EncodeI16(v float32, b []byte) {
	_ = b[1]
	code := quantize(v, FullScale16, math.MaxInt16, math.MinInt16)
	b[0] = byte(code >> 8)
	b[1] = byte(code)
}

// EncodeI24 writes v into b[0:3], clamping instead of wrapping.
func EncodeI24(v float32, b []byte) {
	_ = b[2]
	code := quantize(v, FullScale24, max24, min24)
	b[0] = byte(code >> 16)
	b[1] = byte(code >> 8)
	b[2] = byte(code)
}

func quantize(v float32, scale float64, hi, lo int32) int32 {
	if v != v {
		return 0
	}
	f := math.Round(float64(v) * scale)
	if f >= float64(hi) {
		return hi
	}
	if f <= float64(lo) {
		return lo
	}
	return int32(f)
}
