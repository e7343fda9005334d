package layout

import (
	"bytes"
	"errors"
	"testing"
)

func TestDefaultLayoutOffsets(t *testing.T) {
	t.Parallel()

	if PacketHeaderOffset != 32 {
		t.Errorf("PacketHeaderOffset: got %d, want 32", PacketHeaderOffset)
	}
	if FramePayloadOffset != 56 {
		t.Errorf("FramePayloadOffset: got %d, want 56", FramePayloadOffset)
	}
	if got, want := Default.PacketPayloadOffset(), 56+4096*2160*4; got != want {
		t.Errorf("PacketPayloadOffset: got %d, want %d", got, want)
	}
	if got, want := Default.RegionSize(), 56+4096*2160*4+4*1024*1024; got != want {
		t.Errorf("RegionSize: got %d, want %d", got, want)
	}
}

func TestFrameHeaderWireBytes(t *testing.T) {
	t.Parallel()

	h := FrameHeader{
		Width:       0x01020304,
		Height:      0x05060708,
		TimestampNs: 0x1112131415161718,
		InsertIDR:   true,
		PixelFormat: 2,
		RowPitch:    0x21222324,
		DataSize:    0x31323334,
		Shutdown:    true,
	}
	b := bytes.Repeat([]byte{0xEE}, FrameHeaderSize)
	if err := h.Encode(b); err != nil {
		t.Fatal(err)
	}

	want := []byte{
		0x04, 0x03, 0x02, 0x01, // width
		0x08, 0x07, 0x06, 0x05, // height
		0x18, 0x17, 0x16, 0x15, 0x14, 0x13, 0x12, 0x11, // timestamp
		0x01,       // insert_idr
		0x02,       // pixel_format
		0x00, 0x00, // pad
		0x24, 0x23, 0x22, 0x21, // row_pitch
		0x34, 0x33, 0x32, 0x31, // data_size
		0x01,             // shutdown
		0x00, 0x00, 0x00, // pad
	}
	if !bytes.Equal(b, want) {
		t.Fatalf("wire bytes:\n got %x\nwant %x", b, want)
	}

	got, err := DecodeFrameHeader(b)
	if err != nil {
		t.Fatal(err)
	}
	if got != h {
		t.Errorf("decode: got %+v, want %+v", got, h)
	}
}

func TestPacketHeaderWireBytes(t *testing.T) {
	t.Parallel()

	h := PacketHeader{Size: 0xAABBCCDD, TimestampNs: 42, IsIDR: true}
	b := bytes.Repeat([]byte{0xEE}, PacketHeaderSize)
	if err := h.Encode(b); err != nil {
		t.Fatal(err)
	}
	want := []byte{
		0xDD, 0xCC, 0xBB, 0xAA,
		0, 0, 0, 0,
		42, 0, 0, 0, 0, 0, 0, 0,
		1,
		0, 0, 0, 0, 0, 0, 0,
	}
	if !bytes.Equal(b, want) {
		t.Fatalf("wire bytes:\n got %x\nwant %x", b, want)
	}
}

func TestDecodeShortBuffer(t *testing.T) {
	t.Parallel()

	if _, err := DecodeFrameHeader(make([]byte, FrameHeaderSize-1)); err == nil {
		t.Error("expected error for short frame header")
	}
	if _, err := DecodePacketHeader(make([]byte, PacketHeaderSize-1)); err == nil {
		t.Error("expected error for short packet header")
	}
}

func TestLayoutValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		l       Layout
		wantErr bool
	}{
		{"default", Default, false},
		{"small", Layout{FrameCapacity: 16, PacketCapacity: 8}, false},
		{"zero frame", Layout{FrameCapacity: 0, PacketCapacity: 8}, true},
		{"negative packet", Layout{FrameCapacity: 8, PacketCapacity: -1}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if err := tt.l.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate: err=%v, wantErr=%v", err, tt.wantErr)
			}
		})
	}
}

func TestRegionRejectsShortBuffer(t *testing.T) {
	t.Parallel()

	l := Layout{FrameCapacity: 64, PacketCapacity: 32}
	if _, err := NewRegion(make([]byte, l.RegionSize()-1), l); err == nil {
		t.Fatal("expected error for undersized buffer")
	}
}

func TestRegionPayloadBounds(t *testing.T) {
	t.Parallel()

	l := Layout{FrameCapacity: 64, PacketCapacity: 32}
	buf := make([]byte, l.RegionSize())
	r, err := NewRegion(buf, l)
	if err != nil {
		t.Fatal(err)
	}

	if err := r.WritePacketPayload(make([]byte, 33)); !errors.Is(err, ErrOutOfBounds) {
		t.Errorf("oversized packet write: got %v, want ErrOutOfBounds", err)
	}
	for i, b := range buf[l.PacketPayloadOffset():] {
		if b != 0 {
			t.Fatalf("packet buffer byte %d modified by rejected write", i)
		}
	}

	if _, err := r.ReadFramePayload(65); !errors.Is(err, ErrOutOfBounds) {
		t.Errorf("oversized frame read: got %v, want ErrOutOfBounds", err)
	}

	payload := []byte("hello")
	if err := r.WriteFramePayload(payload); err != nil {
		t.Fatal(err)
	}
	got, err := r.ReadFramePayload(len(payload))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("frame payload: got %q, want %q", got, payload)
	}
	got[0] = 'J'
	if buf[FramePayloadOffset] != 'h' {
		t.Error("ReadFramePayload must return an owned copy")
	}
}

func TestRegionSetShutdownKeepsHeader(t *testing.T) {
	t.Parallel()

	l := Layout{FrameCapacity: 8, PacketCapacity: 8}
	r, err := NewRegion(make([]byte, l.RegionSize()), l)
	if err != nil {
		t.Fatal(err)
	}
	r.WriteFrameHeader(FrameHeader{Width: 640, Height: 480, TimestampNs: 7})
	r.SetShutdown(true)

	h := r.FrameHeader()
	if !h.Shutdown {
		t.Error("shutdown flag not set")
	}
	if h.Width != 640 || h.Height != 480 || h.TimestampNs != 7 {
		t.Errorf("header fields changed: %+v", h)
	}
}
