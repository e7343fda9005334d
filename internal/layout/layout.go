// Package layout defines the byte-exact shared memory ABI exchanged between
// the frame producer and the encoder worker: a FrameHeader, a PacketHeader,
// and two fixed-capacity payload buffers laid out back to back.
//
// Both processes must be built against the same Layout. The region carries no
// version or size field, so any disagreement silently corrupts the exchange.
// All multi-byte fields are little-endian and aligned the way a C compiler
// aligns the equivalent repr(C) struct.
package layout

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Default payload capacities: one 4K RGBA frame and a 4 MiB packet.
const (
	DefaultFrameCapacity  = 4096 * 2160 * 4
	DefaultPacketCapacity = 4 * 1024 * 1024
)

// Header sizes and offsets within the region.
const (
	FrameHeaderSize  = 32
	PacketHeaderSize = 24

	FrameHeaderOffset  = 0
	PacketHeaderOffset = FrameHeaderOffset + FrameHeaderSize
	FramePayloadOffset = PacketHeaderOffset + PacketHeaderSize
)

// Field offsets inside FrameHeader.
const (
	offWidth       = 0
	offHeight      = 4
	offFrameTS     = 8
	offInsertIDR   = 16
	offPixelFormat = 17
	offRowPitch    = 20
	offDataSize    = 24
	offShutdown    = 28
)

// Field offsets inside PacketHeader.
const (
	offPacketSize = 0
	offPacketTS   = 8
	offIsIDR      = 16
)

var errShortBuffer = errors.New("layout: buffer too short")

// Layout fixes the payload capacities of a region. The zero value is not
// usable; start from Default.
type Layout struct {
	FrameCapacity  int
	PacketCapacity int
}

// Default is the production layout shared with the producer.
var Default = Layout{
	FrameCapacity:  DefaultFrameCapacity,
	PacketCapacity: DefaultPacketCapacity,
}

// Validate reports whether both capacities are positive and fit the u32
// size fields of the headers.
func (l Layout) Validate() error {
	if l.FrameCapacity <= 0 || l.PacketCapacity <= 0 {
		return fmt.Errorf("layout: capacities must be positive (frame=%d packet=%d)", l.FrameCapacity, l.PacketCapacity)
	}
	if uint64(l.FrameCapacity) > 1<<32-1 || uint64(l.PacketCapacity) > 1<<32-1 {
		return fmt.Errorf("layout: capacities exceed u32 size fields")
	}
	return nil
}

// PacketPayloadOffset is where the packet buffer starts.
func (l Layout) PacketPayloadOffset() int {
	return FramePayloadOffset + l.FrameCapacity
}

// RegionSize is the total number of bytes the shared region must hold.
func (l Layout) RegionSize() int {
	return l.PacketPayloadOffset() + l.PacketCapacity
}

// FrameHeader is the record the producer writes before signalling
// frame-ready. PixelFormat is kept as the raw wire tag; interpretation is
// left to the reader.
type FrameHeader struct {
	Width       uint32
	Height      uint32
	TimestampNs uint64
	InsertIDR   bool
	PixelFormat uint8
	RowPitch    uint32
	DataSize    uint32
	Shutdown    bool
}

// PacketHeader is the record the worker writes before signalling
// packet-ready.
type PacketHeader struct {
	Size        uint32
	TimestampNs uint64
	IsIDR       bool
}

// DecodeFrameHeader reads a FrameHeader from the first FrameHeaderSize bytes
// of b.
func DecodeFrameHeader(b []byte) (FrameHeader, error) {
	if len(b) < FrameHeaderSize {
		return FrameHeader{}, errShortBuffer
	}
	le := binary.LittleEndian
	return FrameHeader{
		Width:       le.Uint32(b[offWidth:]),
		Height:      le.Uint32(b[offHeight:]),
		TimestampNs: le.Uint64(b[offFrameTS:]),
		InsertIDR:   b[offInsertIDR] != 0,
		PixelFormat: b[offPixelFormat],
		RowPitch:    le.Uint32(b[offRowPitch:]),
		DataSize:    le.Uint32(b[offDataSize:]),
		Shutdown:    b[offShutdown] != 0,
	}, nil
}

// Encode writes h into the first FrameHeaderSize bytes of b, zeroing the
// padding.
func (h FrameHeader) Encode(b []byte) error {
	if len(b) < FrameHeaderSize {
		return errShortBuffer
	}
	clear(b[:FrameHeaderSize])
	le := binary.LittleEndian
	le.PutUint32(b[offWidth:], h.Width)
	le.PutUint32(b[offHeight:], h.Height)
	le.PutUint64(b[offFrameTS:], h.TimestampNs)
	b[offInsertIDR] = boolByte(h.InsertIDR)
	b[offPixelFormat] = h.PixelFormat
	le.PutUint32(b[offRowPitch:], h.RowPitch)
	le.PutUint32(b[offDataSize:], h.DataSize)
	b[offShutdown] = boolByte(h.Shutdown)
	return nil
}

// SetShutdown flips only the shutdown byte of an encoded FrameHeader,
// leaving the rest of the record as the producer last wrote it.
func SetShutdown(b []byte, shutdown bool) error {
	if len(b) < FrameHeaderSize {
		return errShortBuffer
	}
	b[offShutdown] = boolByte(shutdown)
	return nil
}

// DecodePacketHeader reads a PacketHeader from the first PacketHeaderSize
// bytes of b.
func DecodePacketHeader(b []byte) (PacketHeader, error) {
	if len(b) < PacketHeaderSize {
		return PacketHeader{}, errShortBuffer
	}
	le := binary.LittleEndian
	return PacketHeader{
		Size:        le.Uint32(b[offPacketSize:]),
		TimestampNs: le.Uint64(b[offPacketTS:]),
		IsIDR:       b[offIsIDR] != 0,
	}, nil
}

// Encode writes h into the first PacketHeaderSize bytes of b, zeroing the
// padding.
func (h PacketHeader) Encode(b []byte) error {
	if len(b) < PacketHeaderSize {
		return errShortBuffer
	}
	clear(b[:PacketHeaderSize])
	le := binary.LittleEndian
	le.PutUint32(b[offPacketSize:], h.Size)
	le.PutUint64(b[offPacketTS:], h.TimestampNs)
	b[offIsIDR] = boolByte(h.IsIDR)
	return nil
}

func boolByte(v bool) byte {
	if v {
		return 1
	}
	return 0
}
