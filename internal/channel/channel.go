// Package channel implements the single-slot shared memory mailbox between a
// frame producer and the encoder worker.
//
// Turn taking is carried entirely by auto-reset signals: each frame-ready
// Set pairs with exactly one ReceiveFrame, each packet-ready Set with exactly
// one ReceivePacket. Nothing in the region itself arbitrates access, so a
// producer that publishes a second frame before the first was consumed
// overwrites it. Config.Acknowledge adds frame-consumed and packet-consumed
// signals that make both writers wait for the previous item to be drained.
package channel

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/zsiec/encbridge/internal/event"
	"github.com/zsiec/encbridge/internal/layout"
	"github.com/zsiec/encbridge/internal/shm"
)

// DefaultName is the base name of the region and its signals.
const DefaultName = "ENCBRIDGE_ARM64_ENCODER"

// DefaultAckTimeout bounds acknowledgment waits when Config.AckTimeout is zero.
const DefaultAckTimeout = time.Second

// Signal is a wait/signal primitive with event package semantics.
type Signal interface {
	Set() error
	Reset() error
	Wait(timeout time.Duration) error
	Close() error
}

// Signals are the synchronization objects of one channel.
type Signals struct {
	FrameReady     Signal // auto-reset, producer -> worker
	PacketReady    Signal // auto-reset, worker -> producer
	EncoderReady   Signal // manual-reset latch, set once by the worker
	FrameConsumed  Signal // auto-reset, worker -> producer
	PacketConsumed Signal // auto-reset, producer -> worker
}

// Names are the cross-process identifiers derived from one base name.
type Names struct {
	Region         string
	FrameReady     string
	PacketReady    string
	EncoderReady   string
	FrameConsumed  string
	PacketConsumed string
}

// NamesFor derives every object name from base.
func NamesFor(base string) Names {
	return Names{
		Region:         base,
		FrameReady:     base + "_FRAME_READY",
		PacketReady:    base + "_PACKET_READY",
		EncoderReady:   base + "_ENCODER_READY",
		FrameConsumed:  base + "_FRAME_CONSUMED",
		PacketConsumed: base + "_PACKET_CONSUMED",
	}
}

// Config describes a channel. Both sides must agree on Name, Dir and
// Layout; Acknowledge must match for the acknowledgment handshake to help.
type Config struct {
	// Name is the base name; DefaultName when empty.
	Name string
	// Dir is the Linux tmpfs directory; shm.DefaultDir when empty.
	Dir string
	// Layout fixes the payload capacities; layout.Default when zero.
	Layout layout.Layout
	// Acknowledge enables the frame-consumed/packet-consumed handshake.
	Acknowledge bool
	// AckTimeout bounds acknowledgment waits; DefaultAckTimeout when zero.
	AckTimeout time.Duration
	// StrictPixelFormat rejects unknown pixel format tags as protocol
	// violations instead of falling back to RGBA.
	StrictPixelFormat bool
	Logger            *slog.Logger
}

func (c Config) withDefaults() Config {
	if c.Name == "" {
		c.Name = DefaultName
	}
	if c.Layout == (layout.Layout{}) {
		c.Layout = layout.Default
	}
	if c.AckTimeout <= 0 {
		c.AckTimeout = DefaultAckTimeout
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// Channel is one endpoint of the mailbox. A Channel is driven by a single
// goroutine per side; only Interrupt may be called concurrently.
type Channel struct {
	log    *slog.Logger
	cfg    Config
	region *layout.Region
	sig    Signals

	closers []io.Closer

	interrupted       atomic.Bool
	frameOutstanding  bool
	packetOutstanding bool
}

// New wires a channel over caller-owned memory and signals. Close releases
// nothing the caller passed in.
func New(region []byte, sig Signals, cfg Config) (*Channel, error) {
	cfg = cfg.withDefaults()
	r, err := layout.NewRegion(region, cfg.Layout)
	if err != nil {
		return nil, opErr("new", ErrTransportInit, err)
	}
	if sig.FrameReady == nil || sig.PacketReady == nil || sig.EncoderReady == nil ||
		sig.FrameConsumed == nil || sig.PacketConsumed == nil {
		return nil, opErr("new", ErrTransportInit, errors.New("missing signal"))
	}
	return &Channel{
		log:    cfg.Logger.With("component", "channel", "name", cfg.Name),
		cfg:    cfg,
		region: r,
		sig:    sig,
	}, nil
}

// OpenOrCreate creates, or attaches to, the named region and signals. This is
// the worker side: signals and the shutdown flag are cleared so nothing
// left over from an earlier session is mistaken for a new request.
func OpenOrCreate(cfg Config) (*Channel, error) {
	cfg = cfg.withDefaults()
	c, err := open(cfg, "open or create", func(names Names) (*shm.Region, Signals, []io.Closer, error) {
		region, err := shm.OpenOrCreate(shm.Options{Name: names.Region, Size: cfg.Layout.RegionSize(), Dir: cfg.Dir})
		if err != nil {
			return nil, Signals{}, nil, err
		}
		if !region.Created() {
			cfg.Logger.Warn("attached to an existing shared region", "name", names.Region)
		}
		return openSignals(region, names, cfg.Dir, event.OpenOrCreate)
	})
	if err != nil {
		return nil, err
	}
	for _, s := range c.sig.all() {
		if err := s.Reset(); err != nil {
			c.Close()
			return nil, opErr("open or create", ErrTransportInit, fmt.Errorf("clear signal: %w", err))
		}
	}
	c.region.SetShutdown(false)
	return c, nil
}

// Open attaches to a channel some worker already created. This is the
// producer side. When the worker has not created it yet the error matches
// fs.ErrNotExist (or shm.ErrTooSmall while it is being sized).
func Open(cfg Config) (*Channel, error) {
	cfg = cfg.withDefaults()
	c, err := open(cfg, "open", func(names Names) (*shm.Region, Signals, []io.Closer, error) {
		region, err := shm.Open(shm.Options{Name: names.Region, Size: cfg.Layout.RegionSize(), Dir: cfg.Dir})
		if err != nil {
			return nil, Signals{}, nil, err
		}
		return openSignals(region, names, cfg.Dir, event.Open)
	})
	if err != nil {
		return nil, err
	}
	if cfg.Acknowledge {
		if err := c.sig.FrameConsumed.Reset(); err != nil {
			c.Close()
			return nil, opErr("open", ErrTransportInit, err)
		}
	}
	return c, nil
}

func (s *Signals) all() []Signal {
	return []Signal{s.FrameReady, s.PacketReady, s.EncoderReady, s.FrameConsumed, s.PacketConsumed}
}

func openSignals(region *shm.Region, names Names, dir string, openFn func(event.Options) (*event.Event, error)) (*shm.Region, Signals, []io.Closer, error) {
	closers := []io.Closer{region}
	var sig Signals
	for _, s := range []struct {
		dst  *Signal
		name string
		mode event.Mode
	}{
		{&sig.FrameReady, names.FrameReady, event.AutoReset},
		{&sig.PacketReady, names.PacketReady, event.AutoReset},
		{&sig.EncoderReady, names.EncoderReady, event.ManualReset},
		{&sig.FrameConsumed, names.FrameConsumed, event.AutoReset},
		{&sig.PacketConsumed, names.PacketConsumed, event.AutoReset},
	} {
		e, err := openFn(event.Options{Name: s.name, Mode: s.mode, Dir: dir})
		if err != nil {
			closeAll(closers)
			return nil, Signals{}, nil, fmt.Errorf("%s: %w", s.name, err)
		}
		closers = append(closers, e)
		*s.dst = e
	}
	return region, sig, closers, nil
}

type opener func(names Names) (*shm.Region, Signals, []io.Closer, error)

func open(cfg Config, op string, fn opener) (*Channel, error) {
	if err := cfg.Layout.Validate(); err != nil {
		return nil, opErr(op, ErrTransportInit, err)
	}
	region, sig, closers, err := fn(NamesFor(cfg.Name))
	if err != nil {
		return nil, opErr(op, ErrTransportInit, err)
	}
	c, err := New(region.Bytes(), sig, cfg)
	if err != nil {
		closeAll(closers)
		return nil, err
	}
	c.closers = closers
	c.log.Info("channel attached",
		"created", region.Created(),
		"region_bytes", cfg.Layout.RegionSize(),
		"acknowledge", cfg.Acknowledge,
	)
	return c, nil
}

// Layout returns the capacities in use.
func (c *Channel) Layout() layout.Layout { return c.cfg.Layout }

// Close releases the mapping and every signal handle this channel opened.
func (c *Channel) Close() error {
	err := closeAll(c.closers)
	c.closers = nil
	return err
}

func closeAll(closers []io.Closer) error {
	var errs []error
	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
