// Package worker runs the encoder side of the shared memory protocol: it
// announces readiness, then pumps frames from the channel through the encode
// pipeline and publishes every packet back, until the producer asks it to
// shut down.
package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/zsiec/encbridge/internal/channel"
	"github.com/zsiec/encbridge/internal/encode"
	"github.com/zsiec/encbridge/internal/media"
)

// DefaultRetryBackoff is the pause after a failed iteration.
const DefaultRetryBackoff = 10 * time.Millisecond

// Transport is the worker half of channel.Channel.
type Transport interface {
	SignalReady() error
	ReceiveFrame() (media.Frame, error)
	PublishPacket(p media.Packet) error
	// Interrupt makes a pending or future ReceiveFrame report a shutdown
	// frame.
	Interrupt()
}

// Encoder is the subset of encode.Pipeline the loop drives.
type Encoder interface {
	Encode(f media.Frame) ([]media.Packet, error)
}

// Observer receives per-frame and per-packet events, typically to feed
// metrics. Calls are made from the loop goroutine.
type Observer interface {
	SetReady(ready bool)
	FrameReceived(f media.Frame)
	FrameDropped(reason string)
	Encoded(d time.Duration, packets int)
	PacketPublished(p media.Packet)
	PacketDropped(reason string)
}

// Config tunes the loop.
type Config struct {
	// RetryBackoff is the pause after a receive or encode failure;
	// DefaultRetryBackoff when zero.
	RetryBackoff time.Duration
	Observer     Observer
	Logger       *slog.Logger
}

// Stats is a point-in-time snapshot of loop counters.
type Stats struct {
	Ready            bool   `json:"ready"`
	FramesReceived   int64  `json:"framesReceived"`
	FramesDropped    int64  `json:"framesDropped"`
	EncodeFailures   int64  `json:"encodeFailures"`
	PacketsPublished int64  `json:"packetsPublished"`
	PacketsDropped   int64  `json:"packetsDropped"`
	LastTimestampNs  uint64 `json:"lastTimestampNs"`
}

// Worker owns the receive/encode/publish loop.
type Worker struct {
	log       *slog.Logger
	transport Transport
	encoder   Encoder
	observer  Observer
	backoff   time.Duration

	ready            atomic.Bool
	framesReceived   atomic.Int64
	framesDropped    atomic.Int64
	encodeFailures   atomic.Int64
	packetsPublished atomic.Int64
	packetsDropped   atomic.Int64
	lastTS           atomic.Uint64
}

// New creates a worker over t and e.
func New(t Transport, e Encoder, cfg Config) *Worker {
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = DefaultRetryBackoff
	}
	if cfg.Observer == nil {
		cfg.Observer = nopObserver{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Worker{
		log:       cfg.Logger.With("component", "worker"),
		transport: t,
		encoder:   e,
		observer:  cfg.Observer,
		backoff:   cfg.RetryBackoff,
	}
}

// Run signals readiness and processes frames until a shutdown frame arrives.
// Cancelling ctx interrupts the transport, which surfaces as a shutdown
// frame, so the loop has a single exit path. Run returns an error only when
// readiness cannot be signalled.
func (w *Worker) Run(ctx context.Context) error {
	if err := w.transport.SignalReady(); err != nil {
		return err
	}
	w.setReady(true)
	defer w.setReady(false)
	w.log.Info("encoder ready, waiting for frames")

	stop := context.AfterFunc(ctx, w.transport.Interrupt)
	defer stop()

	for {
		f, err := w.transport.ReceiveFrame()
		if err != nil {
			w.framesDropped.Add(1)
			w.observer.FrameDropped(reason(err))
			w.log.Warn("receive frame failed", "error", err)
			w.pause()
			continue
		}
		if f.Shutdown {
			w.log.Info("shutdown requested", "frames", w.framesReceived.Load())
			return nil
		}
		w.framesReceived.Add(1)
		w.lastTS.Store(f.TimestampNs)
		w.observer.FrameReceived(f)

		if !w.process(f) {
			w.pause()
		}
	}
}

// process encodes f and publishes its packets. It reports false when the
// encode failed.
func (w *Worker) process(f media.Frame) bool {
	start := time.Now()
	pkts, err := w.encoder.Encode(f)
	w.observer.Encoded(time.Since(start), len(pkts))

	for _, p := range pkts {
		if perr := w.transport.PublishPacket(p); perr != nil {
			w.packetsDropped.Add(1)
			w.observer.PacketDropped(reason(perr))
			w.log.Warn("publish packet failed", "ts", p.TimestampNs, "size", len(p.Data), "error", perr)
			continue
		}
		w.packetsPublished.Add(1)
		w.observer.PacketPublished(p)
	}

	if err != nil {
		w.encodeFailures.Add(1)
		w.observer.FrameDropped(reason(err))
		w.log.Warn("encode failed", "ts", f.TimestampNs, "error", err)
		return false
	}
	return true
}

func (w *Worker) pause() { time.Sleep(w.backoff) }

func (w *Worker) setReady(ready bool) {
	w.ready.Store(ready)
	w.observer.SetReady(ready)
}

// Stats returns a snapshot of the loop counters.
func (w *Worker) Stats() Stats {
	return Stats{
		Ready:            w.ready.Load(),
		FramesReceived:   w.framesReceived.Load(),
		FramesDropped:    w.framesDropped.Load(),
		EncodeFailures:   w.encodeFailures.Load(),
		PacketsPublished: w.packetsPublished.Load(),
		PacketsDropped:   w.packetsDropped.Load(),
		LastTimestampNs:  w.lastTS.Load(),
	}
}

// reason maps an error to a short metrics label.
func reason(err error) string {
	switch {
	case errors.Is(err, channel.ErrProtocolViolation):
		return "protocol_violation"
	case errors.Is(err, channel.ErrTimeout):
		return "ack_timeout"
	case errors.Is(err, channel.ErrTransportWrite):
		return "transport_write"
	case errors.Is(err, channel.ErrWaitFailure):
		return "wait_failure"
	case errors.Is(err, encode.ErrCodecEncode):
		return "codec_encode"
	}
	return "other"
}

type nopObserver struct{}

func (nopObserver) SetReady(bool)                {}
func (nopObserver) FrameReceived(media.Frame)    {}
func (nopObserver) FrameDropped(string)          {}
func (nopObserver) Encoded(time.Duration, int)   {}
func (nopObserver) PacketPublished(media.Packet) {}
func (nopObserver) PacketDropped(string)         {}
