package ffmpeg

import (
	"errors"
	"fmt"

	"github.com/asticode/go-astiav"

	"github.com/zsiec/encbridge/internal/codec"
	"github.com/zsiec/encbridge/internal/convert"
	"github.com/zsiec/encbridge/internal/media"
)

// scaler converts with libswscale. Producer frames are first packed to
// FFmpeg's unpadded layout, since their row pitch is arbitrary.
type scaler struct {
	spec   codec.ConverterSpec
	sws    *astiav.SoftwareScaleContext
	src    *astiav.Frame
	dst    *astiav.Frame
	packed []byte
}

func newScaler(spec codec.ConverterSpec) (_ *scaler, err error) {
	srcFmt, err := pixelFormat(spec.Format)
	if err != nil {
		return nil, err
	}

	s := &scaler{spec: spec}
	defer func() {
		if err != nil {
			s.Close()
		}
	}()

	s.sws, err = astiav.CreateSoftwareScaleContext(
		spec.SrcWidth, spec.SrcHeight, srcFmt,
		spec.DstWidth, spec.DstHeight, astiav.PixelFormatYuv420P,
		astiav.NewSoftwareScaleContextFlags(astiav.SoftwareScaleContextFlagBilinear),
	)
	if err != nil {
		return nil, fmt.Errorf("ffmpeg: creating scaler: %w", err)
	}

	if s.src, err = allocFrame(spec.SrcWidth, spec.SrcHeight, srcFmt); err != nil {
		return nil, err
	}
	if s.dst, err = allocFrame(spec.DstWidth, spec.DstHeight, astiav.PixelFormatYuv420P); err != nil {
		return nil, err
	}
	return s, nil
}

func allocFrame(w, h int, f astiav.PixelFormat) (*astiav.Frame, error) {
	fr := astiav.AllocFrame()
	if fr == nil {
		return nil, errors.New("ffmpeg: allocating frame failed")
	}
	fr.SetWidth(w)
	fr.SetHeight(h)
	fr.SetPixelFormat(f)
	if err := fr.AllocBuffer(0); err != nil {
		fr.Free()
		return nil, fmt.Errorf("ffmpeg: allocating %dx%d frame: %w", w, h, err)
	}
	return fr, nil
}

func (s *scaler) Convert(f media.Frame, dst *codec.Picture) error {
	if !s.spec.Matches(f) {
		return fmt.Errorf("%w: got %v %dx%d", convert.ErrMismatch, f.PixelFormat, f.Width, f.Height)
	}
	if dst.Width != s.spec.DstWidth || dst.Height != s.spec.DstHeight {
		return fmt.Errorf("%w: destination picture %dx%d", convert.ErrMismatch, dst.Width, dst.Height)
	}

	var err error
	if s.packed, err = convert.Pack(f, s.packed); err != nil {
		return err
	}
	if err := s.src.Data().SetBytes(s.packed, 1); err != nil {
		return fmt.Errorf("ffmpeg: filling source frame: %w", err)
	}
	if err := s.sws.ScaleFrame(s.src, s.dst); err != nil {
		return fmt.Errorf("ffmpeg: scaling: %w", err)
	}
	out, err := s.dst.Data().Bytes(1)
	if err != nil {
		return fmt.Errorf("ffmpeg: reading scaled frame: %w", err)
	}
	if len(out) != codec.I420Size(dst.Width, dst.Height) {
		return fmt.Errorf("ffmpeg: scaled frame is %d bytes, want %d", len(out), codec.I420Size(dst.Width, dst.Height))
	}
	copy(dst.Data, out)
	return nil
}

func (s *scaler) Close() error {
	if s.sws != nil {
		s.sws.Free()
		s.sws = nil
	}
	for _, f := range []**astiav.Frame{&s.src, &s.dst} {
		if *f != nil {
			(*f).Free()
			*f = nil
		}
	}
	return nil
}
