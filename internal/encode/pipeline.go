// Package encode turns raw producer frames into compressed packets: it binds
// a colour converter on first use, forces intra frames on request, applies
// bitrate changes between frames, and drains every packet the codec emits
// for each submitted frame.
package encode

import (
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/zsiec/encbridge/internal/codec"
	"github.com/zsiec/encbridge/internal/media"
)

const (
	DefaultBitRate   int64 = 30_000_000
	DefaultFrameRate       = 72

	// progressEvery is the frame interval of the progress debug log.
	progressEvery = 100
)

// State is the lifecycle stage of a Pipeline.
type State int32

const (
	StateUninitialized State = iota
	StateReady
	StateConverting
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateReady:
		return "ready"
	case StateConverting:
		return "converting"
	case StateClosed:
		return "closed"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// Config opens a Pipeline. Zero BitRate and FrameRate take the defaults.
type Config struct {
	Kind      codec.Kind
	Width     int
	Height    int
	BitRate   int64
	FrameRate int
	Logger    *slog.Logger
}

// Stats is a point-in-time snapshot of pipeline counters.
type Stats struct {
	State         string `json:"state"`
	Frames        uint64 `json:"frames"`
	Packets       uint64 `json:"packets"`
	KeyPackets    uint64 `json:"keyPackets"`
	Bytes         uint64 `json:"bytes"`
	Failures      uint64 `json:"failures"`
	Rebinds       uint64 `json:"converterRebinds"`
	BitRate       int64  `json:"bitrate"`
	LastTimestamp uint64 `json:"lastTimestampNs"`
}

// Pipeline encodes frames one at a time. Encode and Close must be called
// from a single goroutine; SetBitrate, State and Stats are safe from any.
type Pipeline struct {
	log     *slog.Logger
	backend codec.Backend
	enc     codec.Encoder
	width   int
	height  int

	conv     codec.Converter
	convSpec codec.ConverterSpec
	pic      *codec.Picture

	state          atomic.Int32
	pendingBitRate atomic.Int64
	bitRate        atomic.Int64

	frames     atomic.Uint64
	packets    atomic.Uint64
	keyPackets atomic.Uint64
	bytes      atomic.Uint64
	failures   atomic.Uint64
	rebinds    atomic.Uint64
	lastTS     atomic.Uint64
}

// New opens the encoder: all-intra, no B-frames, ultrafast/zerolatency, with
// a nanosecond time base so frame timestamps pass through unchanged.
func New(backend codec.Backend, cfg Config) (*Pipeline, error) {
	if cfg.BitRate == 0 {
		cfg.BitRate = DefaultBitRate
	}
	if cfg.FrameRate == 0 {
		cfg.FrameRate = DefaultFrameRate
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	enc, err := backend.NewEncoder(codec.Config{
		Kind:       cfg.Kind,
		Width:      cfg.Width,
		Height:     cfg.Height,
		BitRate:    cfg.BitRate,
		FrameRate:  cfg.FrameRate,
		GOPSize:    0,
		MaxBFrames: 0,
		Preset:     "ultrafast",
		Tune:       "zerolatency",
	})
	if err != nil {
		return nil, &Error{Op: "open encoder", Kind: ErrCodecInit, Err: err}
	}

	p := &Pipeline{
		log:     cfg.Logger.With("component", "encode", "codec", cfg.Kind.String()),
		backend: backend,
		enc:     enc,
		width:   cfg.Width,
		height:  cfg.Height,
		pic:     codec.NewPicture(cfg.Width, cfg.Height),
	}
	p.bitRate.Store(cfg.BitRate)
	p.state.Store(int32(StateReady))
	return p, nil
}

// State returns the current lifecycle stage.
func (p *Pipeline) State() State { return State(p.state.Load()) }

// BitRate returns the bitrate currently applied to the encoder.
func (p *Pipeline) BitRate() int64 { return p.bitRate.Load() }

// SetBitrate schedules a bitrate change, applied before the next frame is
// submitted. Later calls before that frame replace earlier ones.
func (p *Pipeline) SetBitrate(bps int64) error {
	if bps <= 0 {
		return &Error{Op: "set bitrate", Kind: ErrInvalidBitrate, Err: fmt.Errorf("got %d", bps)}
	}
	p.pendingBitRate.Store(bps)
	return nil
}

// Encode converts and submits f, then drains the encoder. Packets returned
// alongside an error were already produced and are valid.
func (p *Pipeline) Encode(f media.Frame) ([]media.Packet, error) {
	if p.State() == StateClosed {
		return nil, &Error{Op: "encode", Kind: ErrCodecEncode, Err: ErrClosed}
	}
	if f.Shutdown {
		return nil, &Error{Op: "encode", Kind: ErrCodecEncode, Err: errors.New("shutdown frame carries no picture")}
	}
	p.applyBitRate()

	if err := p.convert(f); err != nil {
		p.failures.Add(1)
		return nil, err
	}

	p.pic.PTS = int64(f.TimestampNs)
	p.pic.ForceKey = f.InsertIDR
	if err := p.enc.Send(p.pic); err != nil {
		p.failures.Add(1)
		return nil, &Error{Op: "submit", Kind: ErrCodecEncode, Err: err}
	}

	out, err := p.drain()
	if n := p.frames.Add(1); n%progressEvery == 0 {
		p.log.Debug("encoded frames", "count", n, "bitrate", p.bitRate.Load())
	}
	p.lastTS.Store(f.TimestampNs)
	if err != nil {
		p.failures.Add(1)
		return out, &Error{Op: "drain", Kind: ErrCodecEncode, Err: err}
	}
	return out, nil
}

func (p *Pipeline) applyBitRate() {
	bps := p.pendingBitRate.Swap(0)
	if bps == 0 || bps == p.bitRate.Load() {
		return
	}
	if err := p.enc.SetBitRate(bps); err != nil {
		p.log.Warn("bitrate change rejected", "bitrate", bps, "error", err)
		return
	}
	p.log.Info("bitrate changed", "from", p.bitRate.Load(), "to", bps)
	p.bitRate.Store(bps)
}

// convert binds a converter for the frame's format and size, replacing the
// previous one when either changed, and fills the shared picture.
func (p *Pipeline) convert(f media.Frame) error {
	if p.conv == nil || !p.convSpec.Matches(f) {
		spec := codec.ConverterSpec{
			Format:    f.PixelFormat,
			SrcWidth:  f.Width,
			SrcHeight: f.Height,
			DstWidth:  p.width,
			DstHeight: p.height,
		}
		if p.conv != nil {
			p.log.Warn("input changed, rebinding converter",
				"from", fmt.Sprintf("%v %dx%d", p.convSpec.Format, p.convSpec.SrcWidth, p.convSpec.SrcHeight),
				"to", fmt.Sprintf("%v %dx%d", f.PixelFormat, f.Width, f.Height),
			)
			p.closeConverter()
			p.rebinds.Add(1)
		}
		conv, err := p.backend.NewConverter(spec)
		if err != nil {
			return &Error{Op: "bind converter", Kind: ErrCodecEncode, Err: err}
		}
		p.conv, p.convSpec = conv, spec
	}

	p.state.Store(int32(StateConverting))
	defer p.state.Store(int32(StateReady))
	if err := p.conv.Convert(f, p.pic); err != nil {
		return &Error{Op: "convert", Kind: ErrCodecEncode, Err: err}
	}
	return nil
}

func (p *Pipeline) drain() ([]media.Packet, error) {
	var out []media.Packet
	for {
		pkt, err := p.enc.Receive()
		if errors.Is(err, codec.ErrAgain) || errors.Is(err, codec.ErrEOF) {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		ts := uint64(0)
		if pkt.PTS > 0 {
			ts = uint64(pkt.PTS)
		}
		out = append(out, media.Packet{Data: pkt.Data, TimestampNs: ts, IsIDR: pkt.Key})
		p.packets.Add(1)
		p.bytes.Add(uint64(len(pkt.Data)))
		if pkt.Key {
			p.keyPackets.Add(1)
		}
	}
}

// Stats returns a snapshot of the counters.
func (p *Pipeline) Stats() Stats {
	return Stats{
		State:         p.State().String(),
		Frames:        p.frames.Load(),
		Packets:       p.packets.Load(),
		KeyPackets:    p.keyPackets.Load(),
		Bytes:         p.bytes.Load(),
		Failures:      p.failures.Load(),
		Rebinds:       p.rebinds.Load(),
		BitRate:       p.bitRate.Load(),
		LastTimestamp: p.lastTS.Load(),
	}
}

// Close releases the converter, then the encoder. It is idempotent.
func (p *Pipeline) Close() error {
	if State(p.state.Swap(int32(StateClosed))) == StateClosed {
		return nil
	}
	p.closeConverter()
	var err error
	if p.enc != nil {
		err = p.enc.Close()
		p.enc = nil
	}
	return err
}

func (p *Pipeline) closeConverter() {
	if p.conv == nil {
		return
	}
	if err := p.conv.Close(); err != nil {
		p.log.Warn("closing converter", "error", err)
	}
	p.conv = nil
}
