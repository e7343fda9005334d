package channel

import (
	"errors"
	"fmt"
	"time"

	"github.com/zsiec/encbridge/internal/event"
	"github.com/zsiec/encbridge/internal/layout"
	"github.com/zsiec/encbridge/internal/media"
)

// SignalReady raises the encoder-ready latch. It is idempotent.
func (c *Channel) SignalReady() error {
	if err := c.sig.EncoderReady.Set(); err != nil {
		return opErr("signal ready", ErrTransportInit, err)
	}
	return nil
}

// Interrupt wakes a pending ReceiveFrame and makes it, and every later call,
// report a shutdown frame. The shared region is not touched.
func (c *Channel) Interrupt() {
	c.interrupted.Store(true)
	if err := c.sig.FrameReady.Set(); err != nil {
		c.log.Warn("interrupt: signal frame-ready", "error", err)
	}
}

// ReceiveFrame blocks until the producer signals a frame and returns an owned
// copy of it. A frame whose header is inconsistent is discarded and reported
// as ErrProtocolViolation; the slot is released either way.
func (c *Channel) ReceiveFrame() (media.Frame, error) {
	if c.interrupted.Load() {
		return media.Frame{Shutdown: true}, nil
	}
	if err := c.sig.FrameReady.Wait(event.Infinite); err != nil {
		return media.Frame{}, opErr("receive frame", ErrWaitFailure, err)
	}
	if c.interrupted.Load() {
		return media.Frame{Shutdown: true}, nil
	}

	h := c.region.FrameHeader()
	if h.Shutdown {
		c.releaseFrame()
		return media.Frame{Shutdown: true, TimestampNs: h.TimestampNs}, nil
	}

	f, err := c.readFrame(h)
	c.releaseFrame()
	if err != nil {
		return media.Frame{}, opErr("receive frame", ErrProtocolViolation, err)
	}
	return f, nil
}

func (c *Channel) readFrame(h layout.FrameHeader) (media.Frame, error) {
	capacity := c.cfg.Layout.FrameCapacity
	if int64(h.DataSize) > int64(capacity) {
		return media.Frame{}, fmt.Errorf("data_size %d exceeds capacity %d", h.DataSize, capacity)
	}
	if h.Width == 0 || h.Height == 0 {
		return media.Frame{}, fmt.Errorf("empty frame %dx%d", h.Width, h.Height)
	}

	pf, ok := media.ParsePixelFormat(h.PixelFormat)
	if !ok {
		if c.cfg.StrictPixelFormat {
			return media.Frame{}, fmt.Errorf("unknown pixel format %d", h.PixelFormat)
		}
		c.log.Warn("unknown pixel format, treating as rgba", "pixel_format", h.PixelFormat)
	}

	width, height, pitch := int(h.Width), int(h.Height), int(h.RowPitch)
	if int64(pitch) > int64(capacity) || int64(height) > int64(capacity) {
		return media.Frame{}, fmt.Errorf("%dx%d with row_pitch %d cannot fit capacity %d", width, height, pitch, capacity)
	}
	if int64(pitch) < int64(width)*int64(pf.BytesPerSample()) {
		return media.Frame{}, fmt.Errorf("row_pitch %d too small for %d %s pixels", pitch, width, pf)
	}
	if need := int64(pf.MinDataSize(width, height, pitch)); int64(h.DataSize) < need {
		return media.Frame{}, fmt.Errorf("data_size %d below %d for %dx%d %s", h.DataSize, need, width, height, pf)
	}

	data, err := c.region.ReadFramePayload(int(h.DataSize))
	if err != nil {
		return media.Frame{}, err
	}
	return media.Frame{
		Width:       width,
		Height:      height,
		TimestampNs: h.TimestampNs,
		InsertIDR:   h.InsertIDR,
		PixelFormat: pf,
		RowPitch:    pitch,
		Data:        data,
	}, nil
}

func (c *Channel) releaseFrame() {
	if err := c.sig.FrameConsumed.Set(); err != nil {
		c.log.Warn("signal frame-consumed", "error", err)
	}
}

// PublishPacket copies p into the packet slot and signals the producer. A
// packet larger than the slot is rejected with ErrTransportWrite and nothing
// is written. With acknowledgment enabled the previous packet must have been
// consumed within AckTimeout, otherwise p is dropped with ErrTransportWrite.
func (c *Channel) PublishPacket(p media.Packet) error {
	if len(p.Data) > c.cfg.Layout.PacketCapacity {
		return opErr("publish packet", ErrTransportWrite,
			fmt.Errorf("%d bytes exceed capacity %d", len(p.Data), c.cfg.Layout.PacketCapacity))
	}
	if c.cfg.Acknowledge && c.packetOutstanding {
		if err := c.sig.PacketConsumed.Wait(c.cfg.AckTimeout); err != nil {
			return opErr("publish packet", ErrTransportWrite, fmt.Errorf("previous packet not consumed: %w", waitErr(err)))
		}
	}

	if err := c.region.WritePacketPayload(p.Data); err != nil {
		return opErr("publish packet", ErrTransportWrite, err)
	}
	c.region.WritePacketHeader(layout.PacketHeader{
		Size:        uint32(len(p.Data)),
		TimestampNs: p.TimestampNs,
		IsIDR:       p.IsIDR,
	})
	c.packetOutstanding = true
	if err := c.sig.PacketReady.Set(); err != nil {
		return opErr("publish packet", ErrTransportWrite, err)
	}
	return nil
}

// WaitReady blocks until the worker has raised the encoder-ready latch.
func (c *Channel) WaitReady(timeout time.Duration) error {
	if err := c.sig.EncoderReady.Wait(timeout); err != nil {
		return opErr("wait ready", kindOf(err), err)
	}
	return nil
}

// PublishFrame copies f into the frame slot and signals the worker. The
// header's data_size is len(f.Data).
func (c *Channel) PublishFrame(f media.Frame) error {
	if len(f.Data) > c.cfg.Layout.FrameCapacity {
		return opErr("publish frame", ErrTransportWrite,
			fmt.Errorf("%d bytes exceed capacity %d", len(f.Data), c.cfg.Layout.FrameCapacity))
	}
	if err := c.awaitFrameSlot(); err != nil {
		return opErr("publish frame", kindOf(err), err)
	}

	if err := c.region.WriteFramePayload(f.Data); err != nil {
		return opErr("publish frame", ErrTransportWrite, err)
	}
	c.region.WriteFrameHeader(layout.FrameHeader{
		Width:       uint32(f.Width),
		Height:      uint32(f.Height),
		TimestampNs: f.TimestampNs,
		InsertIDR:   f.InsertIDR,
		PixelFormat: uint8(f.PixelFormat),
		RowPitch:    uint32(f.RowPitch),
		DataSize:    uint32(len(f.Data)),
	})
	c.frameOutstanding = true
	if err := c.sig.FrameReady.Set(); err != nil {
		return opErr("publish frame", ErrTransportWrite, err)
	}
	return nil
}

// ReceivePacket waits up to timeout for the worker's next packet.
func (c *Channel) ReceivePacket(timeout time.Duration) (media.Packet, error) {
	if err := c.sig.PacketReady.Wait(timeout); err != nil {
		return media.Packet{}, opErr("receive packet", kindOf(err), err)
	}

	h := c.region.PacketHeader()
	defer c.releasePacket()
	if int64(h.Size) > int64(c.cfg.Layout.PacketCapacity) {
		return media.Packet{}, opErr("receive packet", ErrProtocolViolation,
			fmt.Errorf("size %d exceeds capacity %d", h.Size, c.cfg.Layout.PacketCapacity))
	}
	data, err := c.region.ReadPacketPayload(int(h.Size))
	if err != nil {
		return media.Packet{}, opErr("receive packet", ErrProtocolViolation, err)
	}
	return media.Packet{Data: data, TimestampNs: h.TimestampNs, IsIDR: h.IsIDR}, nil
}

func (c *Channel) releasePacket() {
	if !c.cfg.Acknowledge {
		return
	}
	if err := c.sig.PacketConsumed.Set(); err != nil {
		c.log.Warn("signal packet-consumed", "error", err)
	}
}

// RequestShutdown raises the shutdown flag and wakes the worker, which
// returns from its loop after observing it.
func (c *Channel) RequestShutdown() error {
	if err := c.awaitFrameSlot(); err != nil {
		c.log.Warn("shutdown: previous frame not consumed, overwriting", "error", err)
	}
	c.region.SetShutdown(true)
	c.frameOutstanding = true
	if err := c.sig.FrameReady.Set(); err != nil {
		return opErr("request shutdown", ErrTransportWrite, err)
	}
	return nil
}

func (c *Channel) awaitFrameSlot() error {
	if !c.cfg.Acknowledge || !c.frameOutstanding {
		return nil
	}
	if err := c.sig.FrameConsumed.Wait(c.cfg.AckTimeout); err != nil {
		return fmt.Errorf("previous frame not consumed: %w", waitErr(err))
	}
	c.frameOutstanding = false
	return nil
}

// waitErr maps a signal timeout onto the channel's ErrTimeout.
func waitErr(err error) error {
	if errors.Is(err, event.ErrTimeout) {
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	}
	return err
}

func kindOf(err error) error {
	switch {
	case errors.Is(err, event.ErrTimeout), errors.Is(err, ErrTimeout):
		return ErrTimeout
	default:
		return ErrWaitFailure
	}
}
