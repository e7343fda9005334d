package ffmpeg

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/asticode/go-astiav"

	"github.com/zsiec/encbridge/internal/codec"
)

// nanosecond timestamps
var timeBase = astiav.NewRational(1, 1_000_000_000)

type encoder struct {
	log   *slog.Logger
	ctx   *astiav.CodecContext
	frame *astiav.Frame
	pkt   *astiav.Packet
}

func newEncoder(cfg codec.Config, log *slog.Logger) (_ *encoder, err error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	id, err := codecID(cfg.Kind)
	if err != nil {
		return nil, err
	}
	c := astiav.FindEncoder(id)
	if c == nil {
		return nil, fmt.Errorf("ffmpeg: no %v encoder available", cfg.Kind)
	}

	enc := &encoder{log: log.With("codec", c.Name())}
	defer func() {
		if err != nil {
			enc.Close()
		}
	}()

	if enc.ctx = astiav.AllocCodecContext(c); enc.ctx == nil {
		return nil, errors.New("ffmpeg: allocating codec context failed")
	}
	enc.ctx.SetWidth(cfg.Width)
	enc.ctx.SetHeight(cfg.Height)
	enc.ctx.SetPixelFormat(astiav.PixelFormatYuv420P)
	enc.ctx.SetTimeBase(timeBase)
	enc.ctx.SetFramerate(astiav.NewRational(cfg.FrameRate, 1))
	enc.ctx.SetGopSize(cfg.GOPSize)
	enc.ctx.SetMaxBFrames(cfg.MaxBFrames)
	enc.ctx.SetBitRate(cfg.BitRate)

	opts := astiav.NewDictionary()
	defer opts.Free()
	for k, v := range map[string]string{
		"preset":     cfg.Preset,
		"tune":       cfg.Tune,
		"forced-idr": "1",
	} {
		if v == "" {
			continue
		}
		if err := opts.Set(k, v, astiav.NewDictionaryFlags()); err != nil {
			return nil, fmt.Errorf("ffmpeg: option %s=%s: %w", k, v, err)
		}
	}
	if err := enc.ctx.Open(c, opts); err != nil {
		return nil, fmt.Errorf("ffmpeg: opening %s: %w", c.Name(), err)
	}

	enc.frame = astiav.AllocFrame()
	enc.frame.SetWidth(cfg.Width)
	enc.frame.SetHeight(cfg.Height)
	enc.frame.SetPixelFormat(astiav.PixelFormatYuv420P)
	if err := enc.frame.AllocBuffer(0); err != nil {
		return nil, fmt.Errorf("ffmpeg: allocating frame: %w", err)
	}
	enc.pkt = astiav.AllocPacket()

	enc.log.Info("encoder opened",
		"size", fmt.Sprintf("%dx%d", cfg.Width, cfg.Height),
		"bitrate", cfg.BitRate,
		"framerate", cfg.FrameRate,
		"gop", cfg.GOPSize,
		"preset", cfg.Preset,
		"tune", cfg.Tune,
	)
	return enc, nil
}

func (e *encoder) SetBitRate(bps int64) error {
	if bps <= 0 {
		return fmt.Errorf("ffmpeg: invalid bitrate %d", bps)
	}
	e.ctx.SetBitRate(bps)
	return nil
}

func (e *encoder) Send(p *codec.Picture) error {
	if p.Width != e.ctx.Width() || p.Height != e.ctx.Height() {
		return fmt.Errorf("ffmpeg: picture %dx%d does not match encoder %dx%d",
			p.Width, p.Height, e.ctx.Width(), e.ctx.Height())
	}
	if err := e.frame.MakeWritable(); err != nil {
		return fmt.Errorf("ffmpeg: frame not writable: %w", err)
	}
	if err := e.frame.Data().SetBytes(p.Data, 1); err != nil {
		return fmt.Errorf("ffmpeg: filling frame: %w", err)
	}
	e.frame.SetPts(p.PTS)
	if p.ForceKey {
		e.frame.SetPictureType(astiav.PictureTypeI)
	} else {
		e.frame.SetPictureType(astiav.PictureTypeNone)
	}
	if err := e.ctx.SendFrame(e.frame); err != nil {
		return fmt.Errorf("ffmpeg: send frame: %w", err)
	}
	return nil
}

func (e *encoder) Receive() (codec.Packet, error) {
	if err := e.ctx.ReceivePacket(e.pkt); err != nil {
		switch {
		case errors.Is(err, astiav.ErrEagain):
			return codec.Packet{}, codec.ErrAgain
		case errors.Is(err, astiav.ErrEof):
			return codec.Packet{}, codec.ErrEOF
		}
		return codec.Packet{}, fmt.Errorf("ffmpeg: receive packet: %w", err)
	}
	defer e.pkt.Unref()

	data := e.pkt.Data()
	out := codec.Packet{
		Data: make([]byte, len(data)),
		PTS:  e.pkt.Pts(),
		Key:  e.pkt.Flags().Has(astiav.PacketFlagKey),
	}
	copy(out.Data, data)
	return out, nil
}

func (e *encoder) Close() error {
	if e.pkt != nil {
		e.pkt.Free()
		e.pkt = nil
	}
	if e.frame != nil {
		e.frame.Free()
		e.frame = nil
	}
	if e.ctx != nil {
		e.ctx.Free()
		e.ctx = nil
	}
	return nil
}

// Encoders lists the encoder names FFmpeg offers for each codec kind, for
// startup diagnostics.
func Encoders() string {
	var names []string
	for _, k := range []codec.Kind{codec.H264, codec.HEVC} {
		id, _ := codecID(k)
		if c := astiav.FindEncoder(id); c != nil {
			names = append(names, k.String()+"="+c.Name())
		}
	}
	return strings.Join(names, ",")
}
