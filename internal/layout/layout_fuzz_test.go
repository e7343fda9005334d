package layout

import "testing"

func FuzzDecodeFrameHeader(f *testing.F) {
	seed := make([]byte, FrameHeaderSize)
	_ = FrameHeader{Width: 1920, Height: 1080, TimestampNs: 1, PixelFormat: 1, RowPitch: 1920, DataSize: 1920 * 1080 * 3 / 2}.Encode(seed)
	f.Add(seed)
	f.Add(make([]byte, FrameHeaderSize-1))

	f.Fuzz(func(t *testing.T, data []byte) {
		h, err := DecodeFrameHeader(data)
		if err != nil {
			return
		}
		out := make([]byte, FrameHeaderSize)
		if err := h.Encode(out); err != nil {
			t.Fatal(err)
		}
		again, err := DecodeFrameHeader(out)
		if err != nil {
			t.Fatal(err)
		}
		if again != h {
			t.Fatalf("re-decode mismatch: %+v != %+v", again, h)
		}
	})
}
