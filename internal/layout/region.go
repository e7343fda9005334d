package layout

import (
	"errors"
	"fmt"
)

// ErrOutOfBounds is returned when a payload access would cross the end of
// its buffer.
var ErrOutOfBounds = errors.New("layout: payload exceeds buffer capacity")

// Region is a bounds-checked view over a mapped shared region. It never hands
// out slices aliasing the shared memory: reads return owned copies and writes
// copy in, so the caller cannot race the other process through a retained
// slice.
type Region struct {
	buf []byte
	l   Layout
}

// NewRegion wraps buf, which must be at least l.RegionSize() bytes.
func NewRegion(buf []byte, l Layout) (*Region, error) {
	if err := l.Validate(); err != nil {
		return nil, err
	}
	if len(buf) < l.RegionSize() {
		return nil, fmt.Errorf("layout: region is %d bytes, layout needs %d", len(buf), l.RegionSize())
	}
	return &Region{buf: buf[:l.RegionSize()], l: l}, nil
}

// Layout returns the capacities the region was built with.
func (r *Region) Layout() Layout { return r.l }

func (r *Region) frameHeaderBytes() []byte {
	return r.buf[FrameHeaderOffset : FrameHeaderOffset+FrameHeaderSize]
}

func (r *Region) packetHeaderBytes() []byte {
	return r.buf[PacketHeaderOffset : PacketHeaderOffset+PacketHeaderSize]
}

func (r *Region) framePayload() []byte {
	return r.buf[FramePayloadOffset : FramePayloadOffset+r.l.FrameCapacity]
}

func (r *Region) packetPayload() []byte {
	off := r.l.PacketPayloadOffset()
	return r.buf[off : off+r.l.PacketCapacity]
}

// FrameHeader decodes the current frame header.
func (r *Region) FrameHeader() FrameHeader {
	h, _ := DecodeFrameHeader(r.frameHeaderBytes())
	return h
}

// WriteFrameHeader encodes h into the frame header slot.
func (r *Region) WriteFrameHeader(h FrameHeader) {
	_ = h.Encode(r.frameHeaderBytes())
}

// SetShutdown sets the shutdown byte of the frame header in place.
func (r *Region) SetShutdown(shutdown bool) {
	_ = SetShutdown(r.frameHeaderBytes(), shutdown)
}

// PacketHeader decodes the current packet header.
func (r *Region) PacketHeader() PacketHeader {
	h, _ := DecodePacketHeader(r.packetHeaderBytes())
	return h
}

// WritePacketHeader encodes h into the packet header slot.
func (r *Region) WritePacketHeader(h PacketHeader) {
	_ = h.Encode(r.packetHeaderBytes())
}

// ReadFramePayload copies the first n bytes of the frame buffer.
func (r *Region) ReadFramePayload(n int) ([]byte, error) {
	return readPayload(r.framePayload(), n)
}

// WriteFramePayload copies p to the start of the frame buffer. Nothing is
// written when p does not fit.
func (r *Region) WriteFramePayload(p []byte) error {
	return writePayload(r.framePayload(), p)
}

// ReadPacketPayload copies the first n bytes of the packet buffer.
func (r *Region) ReadPacketPayload(n int) ([]byte, error) {
	return readPayload(r.packetPayload(), n)
}

// WritePacketPayload copies p to the start of the packet buffer. Nothing is
// written when p does not fit.
func (r *Region) WritePacketPayload(p []byte) error {
	return writePayload(r.packetPayload(), p)
}

func readPayload(buf []byte, n int) ([]byte, error) {
	if n < 0 || n > len(buf) {
		return nil, fmt.Errorf("%w: %d > %d", ErrOutOfBounds, n, len(buf))
	}
	out := make([]byte, n)
	copy(out, buf[:n])
	return out, nil
}

func writePayload(buf, p []byte) error {
	if len(p) > len(buf) {
		return fmt.Errorf("%w: %d > %d", ErrOutOfBounds, len(p), len(buf))
	}
	copy(buf, p)
	return nil
}
