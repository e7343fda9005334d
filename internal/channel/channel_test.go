package channel

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/zsiec/encbridge/internal/event"
	"github.com/zsiec/encbridge/internal/layout"
	"github.com/zsiec/encbridge/internal/media"
)

var testLayout = layout.Layout{FrameCapacity: 64 * 1024, PacketCapacity: 4 * 1024}

func localSignals() Signals {
	return Signals{
		FrameReady:     event.NewLocal(event.AutoReset),
		PacketReady:    event.NewLocal(event.AutoReset),
		EncoderReady:   event.NewLocal(event.ManualReset),
		FrameConsumed:  event.NewLocal(event.AutoReset),
		PacketConsumed: event.NewLocal(event.AutoReset),
	}
}

// newPair returns the worker and producer ends of one in-memory channel.
func newPair(t *testing.T, cfg Config) (worker, producer *Channel, buf []byte) {
	t.Helper()
	if cfg.Layout == (layout.Layout{}) {
		cfg.Layout = testLayout
	}
	buf = make([]byte, cfg.Layout.RegionSize())
	sig := localSignals()
	var err error
	if worker, err = New(buf, sig, cfg); err != nil {
		t.Fatalf("New worker: %v", err)
	}
	if producer, err = New(buf, sig, cfg); err != nil {
		t.Fatalf("New producer: %v", err)
	}
	return worker, producer, buf
}

func rgbaFrame(w, h int, ts uint64) media.Frame {
	data := make([]byte, w*h*4)
	for i := range data {
		data[i] = byte(i)
	}
	return media.Frame{Width: w, Height: h, TimestampNs: ts, PixelFormat: media.PixelFormatRGBA, RowPitch: w * 4, Data: data}
}

func TestFrameRoundTrip(t *testing.T) {
	t.Parallel()
	worker, producer, _ := newPair(t, Config{StrictPixelFormat: true})

	want := rgbaFrame(16, 8, 123456789)
	want.InsertIDR = true
	if err := producer.PublishFrame(want); err != nil {
		t.Fatalf("PublishFrame: %v", err)
	}
	got, err := worker.ReceiveFrame()
	if err != nil {
		t.Fatalf("ReceiveFrame: %v", err)
	}
	if got.Width != 16 || got.Height != 8 || got.TimestampNs != 123456789 || !got.InsertIDR ||
		got.PixelFormat != media.PixelFormatRGBA || got.RowPitch != 64 || got.Shutdown {
		t.Errorf("header mismatch: %+v", got)
	}
	if !bytes.Equal(got.Data, want.Data) {
		t.Error("payload mismatch")
	}
}

func TestPacketRoundTrip(t *testing.T) {
	t.Parallel()
	worker, producer, _ := newPair(t, Config{})

	want := media.Packet{Data: []byte{0, 0, 0, 1, 0x65, 0xaa}, TimestampNs: 42, IsIDR: true}
	if err := worker.PublishPacket(want); err != nil {
		t.Fatalf("PublishPacket: %v", err)
	}
	got, err := producer.ReceivePacket(time.Second)
	if err != nil {
		t.Fatalf("ReceivePacket: %v", err)
	}
	if !bytes.Equal(got.Data, want.Data) || got.TimestampNs != 42 || !got.IsIDR {
		t.Errorf("got %+v, want %+v", got, want)
	}
}

func TestReceivedFrameIsOwnedCopy(t *testing.T) {
	t.Parallel()
	worker, producer, _ := newPair(t, Config{})

	if err := producer.PublishFrame(rgbaFrame(4, 4, 1)); err != nil {
		t.Fatal(err)
	}
	got, err := worker.ReceiveFrame()
	if err != nil {
		t.Fatal(err)
	}
	snapshot := append([]byte(nil), got.Data...)

	next := rgbaFrame(4, 4, 2)
	for i := range next.Data {
		next.Data[i] = 0xff
	}
	if err := producer.PublishFrame(next); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got.Data, snapshot) {
		t.Error("received frame changed after the slot was overwritten")
	}
}

func TestShutdownFrame(t *testing.T) {
	t.Parallel()
	worker, producer, _ := newPair(t, Config{})

	if err := producer.RequestShutdown(); err != nil {
		t.Fatal(err)
	}
	f, err := worker.ReceiveFrame()
	if err != nil {
		t.Fatal(err)
	}
	if !f.Shutdown || f.Data != nil {
		t.Errorf("got %+v, want shutdown frame without payload", f)
	}
}

func TestOversizedDataSizeIsProtocolViolation(t *testing.T) {
	t.Parallel()
	worker, _, buf := newPair(t, Config{})
	region, err := layout.NewRegion(buf, testLayout)
	if err != nil {
		t.Fatal(err)
	}

	region.WriteFrameHeader(layout.FrameHeader{
		Width: 4, Height: 4, RowPitch: 16,
		DataSize: uint32(testLayout.FrameCapacity + 1),
	})
	if err := worker.sig.FrameReady.Set(); err != nil {
		t.Fatal(err)
	}
	_, err = worker.ReceiveFrame()
	if !errors.Is(err, ErrProtocolViolation) {
		t.Fatalf("got %v, want ErrProtocolViolation", err)
	}
	var opErr *OpError
	if !errors.As(err, &opErr) || opErr.Op != "receive frame" {
		t.Errorf("got %T %v, want *OpError for receive frame", err, err)
	}
}

func TestInconsistentHeaders(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		strict bool
		h      layout.FrameHeader
		ok     bool
	}{
		{"zero width", true, layout.FrameHeader{Height: 4, RowPitch: 16, DataSize: 64}, false},
		{"zero height", true, layout.FrameHeader{Width: 4, RowPitch: 16, DataSize: 64}, false},
		{"pitch too small", true, layout.FrameHeader{Width: 4, Height: 4, RowPitch: 15, DataSize: 64}, false},
		{"data too small", true, layout.FrameHeader{Width: 4, Height: 4, RowPitch: 16, DataSize: 63}, false},
		{"nv12 missing chroma", true, layout.FrameHeader{Width: 4, Height: 4, PixelFormat: 1, RowPitch: 4, DataSize: 16}, false},
		{"nv12 complete", true, layout.FrameHeader{Width: 4, Height: 4, PixelFormat: 1, RowPitch: 4, DataSize: 24}, true},
		{"unknown pixfmt strict", true, layout.FrameHeader{Width: 4, Height: 4, PixelFormat: 7, RowPitch: 16, DataSize: 64}, false},
		{"unknown pixfmt lenient", false, layout.FrameHeader{Width: 4, Height: 4, PixelFormat: 7, RowPitch: 16, DataSize: 64}, true},
		{"nv12 size wraps int", true, layout.FrameHeader{Width: 1, Height: 2863311531, PixelFormat: 1, RowPitch: 1 << 31, DataSize: 16}, false},
		{"height beyond capacity", true, layout.FrameHeader{Width: 1, Height: 1<<32 - 1, RowPitch: 4, DataSize: 16}, false},
		{"pitch beyond capacity", true, layout.FrameHeader{Width: 1, Height: 1, RowPitch: 1<<32 - 1, DataSize: 16}, false},
		{"image beyond payload", true, layout.FrameHeader{Width: 1, Height: 60000, RowPitch: 60000, DataSize: 16}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			worker, _, buf := newPair(t, Config{StrictPixelFormat: tt.strict})
			region, err := layout.NewRegion(buf, testLayout)
			if err != nil {
				t.Fatal(err)
			}
			region.WriteFrameHeader(tt.h)
			worker.sig.FrameReady.Set()

			f, err := worker.ReceiveFrame()
			if tt.ok {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				if len(f.Data) != int(tt.h.DataSize) {
					t.Errorf("got %d bytes, want %d", len(f.Data), tt.h.DataSize)
				}
				return
			}
			if !errors.Is(err, ErrProtocolViolation) {
				t.Fatalf("got %v, want ErrProtocolViolation", err)
			}
		})
	}
}

func TestLenientPixelFormatFallsBackToRGBA(t *testing.T) {
	t.Parallel()
	worker, _, buf := newPair(t, Config{})
	region, _ := layout.NewRegion(buf, testLayout)
	region.WriteFrameHeader(layout.FrameHeader{Width: 2, Height: 2, PixelFormat: 9, RowPitch: 8, DataSize: 16})
	worker.sig.FrameReady.Set()

	f, err := worker.ReceiveFrame()
	if err != nil {
		t.Fatal(err)
	}
	if f.PixelFormat != media.PixelFormatRGBA {
		t.Errorf("got %v, want rgba", f.PixelFormat)
	}
}

func TestOversizedPacketLeavesBufferUntouched(t *testing.T) {
	t.Parallel()
	worker, _, buf := newPair(t, Config{Layout: layout.Default})

	off := layout.Default.PacketPayloadOffset()
	copy(buf[off:], "previous packet")
	before := append([]byte(nil), buf[layout.PacketHeaderOffset:]...)

	err := worker.PublishPacket(media.Packet{Data: make([]byte, 5*1024*1024), TimestampNs: 1})
	if !errors.Is(err, ErrTransportWrite) {
		t.Fatalf("got %v, want ErrTransportWrite", err)
	}
	if !bytes.Equal(buf[layout.PacketHeaderOffset:], before) {
		t.Error("packet header or buffer modified by a rejected write")
	}
	if err := worker.sig.PacketReady.Wait(0); !errors.Is(err, event.ErrTimeout) {
		t.Errorf("packet-ready signalled for a rejected write: %v", err)
	}
}

func TestOversizedFrameRejected(t *testing.T) {
	t.Parallel()
	_, producer, _ := newPair(t, Config{})

	err := producer.PublishFrame(media.Frame{Width: 1, Height: 1, RowPitch: 4, Data: make([]byte, testLayout.FrameCapacity+1)})
	if !errors.Is(err, ErrTransportWrite) {
		t.Fatalf("got %v, want ErrTransportWrite", err)
	}
}

func TestSecondReceiveBlocks(t *testing.T) {
	t.Parallel()
	worker, producer, _ := newPair(t, Config{})

	if err := producer.PublishFrame(rgbaFrame(2, 2, 1)); err != nil {
		t.Fatal(err)
	}
	if _, err := worker.ReceiveFrame(); err != nil {
		t.Fatal(err)
	}

	done := make(chan media.Frame, 1)
	go func() {
		f, _ := worker.ReceiveFrame()
		done <- f
	}()
	select {
	case f := <-done:
		t.Fatalf("second receive returned without a publish: %+v", f)
	case <-time.After(50 * time.Millisecond):
	}

	if err := producer.PublishFrame(rgbaFrame(2, 2, 2)); err != nil {
		t.Fatal(err)
	}
	select {
	case f := <-done:
		if f.TimestampNs != 2 {
			t.Errorf("got ts %d, want 2", f.TimestampNs)
		}
	case <-time.After(time.Second):
		t.Fatal("receive did not wake after publish")
	}
}

func TestInterruptWakesReceive(t *testing.T) {
	t.Parallel()
	worker, _, _ := newPair(t, Config{})

	done := make(chan media.Frame, 1)
	go func() {
		f, _ := worker.ReceiveFrame()
		done <- f
	}()
	time.Sleep(10 * time.Millisecond)
	worker.Interrupt()

	select {
	case f := <-done:
		if !f.Shutdown {
			t.Errorf("got %+v, want shutdown frame", f)
		}
	case <-time.After(time.Second):
		t.Fatal("interrupt did not wake receive")
	}
	if f, err := worker.ReceiveFrame(); err != nil || !f.Shutdown {
		t.Errorf("after interrupt: got %+v, %v", f, err)
	}
}

func TestWaitReady(t *testing.T) {
	t.Parallel()
	worker, producer, _ := newPair(t, Config{})

	if err := producer.WaitReady(10 * time.Millisecond); !errors.Is(err, ErrTimeout) {
		t.Fatalf("before SignalReady: got %v, want ErrTimeout", err)
	}
	if err := worker.SignalReady(); err != nil {
		t.Fatal(err)
	}
	if err := worker.SignalReady(); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 2; i++ {
		if err := producer.WaitReady(0); err != nil {
			t.Fatalf("wait %d: %v", i, err)
		}
	}
}

func TestReceivePacketTimeout(t *testing.T) {
	t.Parallel()
	_, producer, _ := newPair(t, Config{})

	if _, err := producer.ReceivePacket(10 * time.Millisecond); !errors.Is(err, ErrTimeout) {
		t.Fatalf("got %v, want ErrTimeout", err)
	}
}

func TestReceivePacketOversizedHeader(t *testing.T) {
	t.Parallel()
	_, producer, buf := newPair(t, Config{})
	region, _ := layout.NewRegion(buf, testLayout)
	region.WritePacketHeader(layout.PacketHeader{Size: uint32(testLayout.PacketCapacity + 1)})
	producer.sig.PacketReady.Set()

	if _, err := producer.ReceivePacket(time.Second); !errors.Is(err, ErrProtocolViolation) {
		t.Fatalf("got %v, want ErrProtocolViolation", err)
	}
}

func TestAcknowledgedFrameSlot(t *testing.T) {
	t.Parallel()
	worker, producer, _ := newPair(t, Config{Acknowledge: true, AckTimeout: 20 * time.Millisecond})

	if err := producer.PublishFrame(rgbaFrame(2, 2, 1)); err != nil {
		t.Fatal(err)
	}
	if err := producer.PublishFrame(rgbaFrame(2, 2, 2)); !errors.Is(err, ErrTimeout) {
		t.Fatalf("overwrite before consumption: got %v, want ErrTimeout", err)
	}

	f, err := worker.ReceiveFrame()
	if err != nil {
		t.Fatal(err)
	}
	if f.TimestampNs != 1 {
		t.Errorf("got ts %d, want 1", f.TimestampNs)
	}
	if err := producer.PublishFrame(rgbaFrame(2, 2, 3)); err != nil {
		t.Fatalf("publish after consumption: %v", err)
	}
}

func TestAcknowledgedPacketSlot(t *testing.T) {
	t.Parallel()
	worker, producer, _ := newPair(t, Config{Acknowledge: true, AckTimeout: 20 * time.Millisecond})

	if err := worker.PublishPacket(media.Packet{Data: []byte{1}, TimestampNs: 1}); err != nil {
		t.Fatal(err)
	}
	err := worker.PublishPacket(media.Packet{Data: []byte{2}, TimestampNs: 2})
	if !errors.Is(err, ErrTransportWrite) || !errors.Is(err, ErrTimeout) {
		t.Fatalf("got %v, want ErrTransportWrite wrapping ErrTimeout", err)
	}

	p, err := producer.ReceivePacket(time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if p.TimestampNs != 1 {
		t.Errorf("dropped packet overwrote the slot: got ts %d", p.TimestampNs)
	}
	if err := worker.PublishPacket(media.Packet{Data: []byte{3}, TimestampNs: 3}); err != nil {
		t.Fatalf("publish after consumption: %v", err)
	}
}

func TestNewRejectsShortRegion(t *testing.T) {
	t.Parallel()

	_, err := New(make([]byte, 10), localSignals(), Config{Layout: testLayout})
	if !errors.Is(err, ErrTransportInit) {
		t.Fatalf("got %v, want ErrTransportInit", err)
	}
	_, err = New(make([]byte, testLayout.RegionSize()), Signals{}, Config{Layout: testLayout})
	if !errors.Is(err, ErrTransportInit) {
		t.Fatalf("missing signals: got %v, want ErrTransportInit", err)
	}
}

func TestNamesFor(t *testing.T) {
	t.Parallel()

	n := NamesFor(DefaultName)
	if n.Region != "ENCBRIDGE_ARM64_ENCODER" || n.FrameReady != "ENCBRIDGE_ARM64_ENCODER_FRAME_READY" ||
		n.PacketReady != "ENCBRIDGE_ARM64_ENCODER_PACKET_READY" || n.EncoderReady != "ENCBRIDGE_ARM64_ENCODER_ENCODER_READY" {
		t.Errorf("unexpected names: %+v", n)
	}
}
