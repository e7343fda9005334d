package bitstream

import (
	"bytes"
	"errors"
	"testing"

	"github.com/zsiec/encbridge/internal/codec"
)

var (
	// High profile 1280x720 with frame cropping.
	sps720p = []byte{
		0x67, 0x64, 0x00, 0x1f, 0xac, 0xd9, 0x40, 0x50,
		0x05, 0xbb, 0xff, 0x00, 0x03, 0x00, 0x04, 0x6a,
		0x02, 0x02, 0x02, 0x80, 0x00, 0x01, 0xf4, 0x80,
		0x00, 0x5d, 0xc0, 0x07, 0x8c, 0x18, 0xcb,
	}
	// Main profile 256x192.
	sps256x192 = []byte{
		0x67, 0x4d, 0x40, 0x1f, 0xb9, 0x08, 0x08, 0x0c,
		0xd8, 0x0b, 0x50, 0x10, 0x10, 0x14, 0x00, 0x00,
		0x0f, 0xa4, 0x00, 0x02, 0xee, 0x03, 0x81, 0x80,
		0x04, 0x93, 0xc0, 0x02, 0x49, 0xe8, 0xa0, 0xc0,
		0x3a, 0x8e, 0x18, 0xc9,
	}
	// HEVC Main 320x240, level 3.1.
	hevcSPS320x240 = []byte{
		0x42, 0x01,
		0x01,
		0x01,
		0x40, 0x00, 0x00, 0x00,
		0xB0, 0x00, 0x00, 0x00, 0x00, 0x00,
		0x5D,
		0xA0, 0x0A, 0x08, 0x0F, 0x10,
	}
)

func annexB(nals ...[]byte) []byte {
	var b bytes.Buffer
	for i, n := range nals {
		if i%2 == 0 {
			b.Write([]byte{0, 0, 0, 1})
		} else {
			b.Write([]byte{0, 0, 1})
		}
		b.Write(n)
	}
	return b.Bytes()
}

func TestSplit(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		in   []byte
		want [][]byte
	}{
		{"empty", nil, nil},
		{"no start code", []byte{1, 2, 3, 4}, nil},
		{"four byte", []byte{0, 0, 0, 1, 0x65, 0xAA}, [][]byte{{0x65, 0xAA}}},
		{"three byte", []byte{0, 0, 1, 0x41, 0xBB}, [][]byte{{0x41, 0xBB}}},
		{
			"mixed with leading garbage",
			[]byte{0xFF, 0, 0, 0, 1, 0x67, 1, 0, 0, 1, 0x68, 2, 0, 0, 0, 1, 0x65, 3},
			[][]byte{{0x67, 1}, {0x68, 2}, {0x65, 3}},
		},
		{"trailing start code", []byte{0, 0, 1, 0x09, 0xF0, 0, 0, 1}, [][]byte{{0x09, 0xF0}}},
		{"zero inside payload", []byte{0, 0, 1, 0x65, 0, 0, 2, 7}, [][]byte{{0x65, 0, 0, 2, 7}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := Split(tt.in)
			if len(got) != len(tt.want) {
				t.Fatalf("got %d units %x, want %d", len(got), got, len(tt.want))
			}
			for i := range got {
				if !bytes.Equal(got[i], tt.want[i]) {
					t.Errorf("unit %d: got %x, want %x", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestUnitsTypes(t *testing.T) {
	t.Parallel()
	h264 := Units(codec.H264, annexB([]byte{0x09, 0xF0}, sps720p, []byte{0x68, 0xEE}, []byte{0x65, 0x88}))
	want := []byte{H264AUD, H264SPS, H264PPS, H264IDR}
	if len(h264) != len(want) {
		t.Fatalf("got %d units, want %d", len(h264), len(want))
	}
	for i, u := range h264 {
		if u.Type != want[i] {
			t.Errorf("h264 unit %d: type %d, want %d", i, u.Type, want[i])
		}
	}

	hevc := Units(codec.HEVC, annexB([]byte{0x40, 0x01, 0xAA}, hevcSPS320x240, []byte{0x26, 0x01, 0xAF}, []byte{0x02}))
	wantHEVC := []byte{HEVCVPS, HEVCSPS, HEVCIDRWRadl}
	if len(hevc) != len(wantHEVC) {
		t.Fatalf("got %d hevc units, want %d (single-byte unit skipped)", len(hevc), len(wantHEVC))
	}
	for i, u := range hevc {
		if u.Type != wantHEVC[i] {
			t.Errorf("hevc unit %d: type %d, want %d", i, u.Type, wantHEVC[i])
		}
	}
}

func TestIsKey(t *testing.T) {
	t.Parallel()
	tests := []struct {
		kind codec.Kind
		typ  byte
		want bool
	}{
		{codec.H264, H264IDR, true},
		{codec.H264, H264Slice, false},
		{codec.H264, H264SPS, false},
		{codec.HEVC, HEVCBlaWLP, true},
		{codec.HEVC, HEVCIDRNLP, true},
		{codec.HEVC, HEVCCRA, true},
		{codec.HEVC, 1, false},
		{codec.HEVC, HEVCVPS, false},
	}
	for _, tt := range tests {
		if got := IsKey(tt.kind, tt.typ); got != tt.want {
			t.Errorf("IsKey(%s, %d) = %v, want %v", tt.kind, tt.typ, got, tt.want)
		}
	}
}

func TestInspect(t *testing.T) {
	t.Parallel()
	info, err := Inspect(codec.H264, annexB(sps720p, []byte{0x68, 0xEE}, []byte{0x65, 0x88, 0x84}))
	if err != nil {
		t.Fatal(err)
	}
	if !info.Key || info.Units != 3 || info.Width != 1280 || info.Height != 720 {
		t.Errorf("got %s", info)
	}

	info, err = Inspect(codec.H264, annexB([]byte{0x41, 0x9A}))
	if !errors.Is(err, ErrNoParameterSet) {
		t.Errorf("expected ErrNoParameterSet, got %v", err)
	}
	if info.Key || info.Units != 1 {
		t.Errorf("non-key packet: got %s", info)
	}

	info, err = Inspect(codec.HEVC, annexB(hevcSPS320x240, []byte{0x28, 0x01, 0xAF}))
	if err != nil {
		t.Fatal(err)
	}
	if !info.Key || info.Width != 320 || info.Height != 240 {
		t.Errorf("hevc: got %s", info)
	}
}

func FuzzSplit(f *testing.F) {
	f.Add(annexB(sps720p, []byte{0x65, 0x88}))
	f.Add([]byte{0, 0, 0, 0, 1, 0})
	f.Fuzz(func(t *testing.T, data []byte) {
		total := 0
		for _, u := range Split(data) {
			if len(u) == 0 {
				t.Fatal("empty unit")
			}
			total += len(u)
		}
		if total > len(data) {
			t.Fatalf("units cover %d bytes of %d", total, len(data))
		}
		_, _ = Inspect(codec.H264, data)
		_, _ = Inspect(codec.HEVC, data)
	})
}
