// Package media defines the in-process frame and packet types that flow
// through encbridge, from the shared region through the encoder and back.
// Each value owns its payload, so the shared slot it was copied from can be
// reused immediately.
package media

import (
	"fmt"
	"math"
	"math/bits"
)

// PixelFormat is the raw sample layout of a Frame, using the wire tag values.
type PixelFormat uint8

const (
	// PixelFormatRGBA is packed 8-bit R, G, B, A.
	PixelFormatRGBA PixelFormat = 0
	// PixelFormatNV12 is an 8-bit Y plane followed by an interleaved UV plane
	// at half resolution.
	PixelFormatNV12 PixelFormat = 1
	// PixelFormatP010 is NV12 with 16-bit little-endian samples carrying
	// 10 significant bits in the high end.
	PixelFormatP010 PixelFormat = 2
)

// ParsePixelFormat maps a wire tag to a PixelFormat. ok is false for tags
// outside the enumeration.
func ParsePixelFormat(tag uint8) (PixelFormat, bool) {
	switch PixelFormat(tag) {
	case PixelFormatRGBA, PixelFormatNV12, PixelFormatP010:
		return PixelFormat(tag), true
	}
	return PixelFormatRGBA, false
}

func (f PixelFormat) String() string {
	switch f {
	case PixelFormatRGBA:
		return "rgba"
	case PixelFormatNV12:
		return "nv12"
	case PixelFormatP010:
		return "p010"
	}
	return fmt.Sprintf("pixfmt(%d)", uint8(f))
}

// SemiPlanar reports whether the format stores a luma plane followed by an
// interleaved chroma plane.
func (f PixelFormat) SemiPlanar() bool {
	return f == PixelFormatNV12 || f == PixelFormatP010
}

// BytesPerSample is the width in bytes of one luma sample (or one packed
// pixel for RGBA).
func (f PixelFormat) BytesPerSample() int {
	switch f {
	case PixelFormatRGBA:
		return 4
	case PixelFormatP010:
		return 2
	}
	return 1
}

// MinDataSize is the smallest payload holding a width x height image with
// the given row pitch. Semi-planar formats carry an extra chroma plane of
// height/2 rows using the same pitch; producers round odd heights down.
// The result saturates at math.MaxInt; negative dimensions report math.MaxInt.
func (f PixelFormat) MinDataSize(width, height, rowPitch int) int {
	if height < 0 || rowPitch < 0 {
		return math.MaxInt
	}
	rows := uint64(height)
	if f.SemiPlanar() {
		rows += rows / 2
	}
	hi, lo := bits.Mul64(uint64(rowPitch), rows)
	if hi != 0 || lo > math.MaxInt {
		return math.MaxInt
	}
	return int(lo)
}

// Frame is one raw picture received from the producer. Shutdown frames carry
// no meaningful image data.
type Frame struct {
	Width       int
	Height      int
	TimestampNs uint64
	InsertIDR   bool
	PixelFormat PixelFormat
	RowPitch    int
	Data        []byte
	Shutdown    bool
}

// Packet is one compressed access unit produced by the encoder.
type Packet struct {
	Data        []byte
	TimestampNs uint64
	IsIDR       bool
}
