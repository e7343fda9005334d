// Package ffmpeg implements codec.Backend with libavcodec and libswscale
// through go-astiav.
package ffmpeg

import (
	"fmt"
	"log/slog"

	"github.com/asticode/go-astiav"

	"github.com/zsiec/encbridge/internal/codec"
	"github.com/zsiec/encbridge/internal/convert"
	"github.com/zsiec/encbridge/internal/media"
)

// Scaler selects the colour conversion implementation.
type Scaler string

const (
	// ScalerSWS converts with libswscale.
	ScalerSWS Scaler = "sws"
	// ScalerGo converts with the pure-Go convert package.
	ScalerGo Scaler = "go"
)

// Backend opens libavcodec encoders.
type Backend struct {
	log    *slog.Logger
	scaler Scaler
}

// New returns a backend. FFmpeg's own log output is forwarded to log at
// warning level and above.
func New(scaler Scaler, log *slog.Logger) (*Backend, error) {
	if log == nil {
		log = slog.Default()
	}
	switch scaler {
	case "":
		scaler = ScalerSWS
	case ScalerSWS, ScalerGo:
	default:
		return nil, fmt.Errorf("ffmpeg: unknown scaler %q", scaler)
	}
	log = log.With("component", "ffmpeg")
	forwardLogs(log)
	return &Backend{log: log, scaler: scaler}, nil
}

// NewEncoder opens an encoder for cfg.
func (b *Backend) NewEncoder(cfg codec.Config) (codec.Encoder, error) {
	enc, err := newEncoder(cfg, b.log)
	if err != nil {
		return nil, err
	}
	return enc, nil
}

// NewConverter builds a converter producing I420 pictures.
func (b *Backend) NewConverter(spec codec.ConverterSpec) (codec.Converter, error) {
	if b.scaler == ScalerGo {
		c, err := convert.New(spec)
		if err != nil {
			return nil, err
		}
		return c, nil
	}
	s, err := newScaler(spec)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func pixelFormat(f media.PixelFormat) (astiav.PixelFormat, error) {
	switch f {
	case media.PixelFormatRGBA:
		return astiav.PixelFormatRgba, nil
	case media.PixelFormatNV12:
		return astiav.PixelFormatNv12, nil
	case media.PixelFormatP010:
		return astiav.PixelFormatP010Le, nil
	}
	return astiav.PixelFormatNone, fmt.Errorf("ffmpeg: unsupported pixel format %v", f)
}

func codecID(k codec.Kind) (astiav.CodecID, error) {
	switch k {
	case codec.H264:
		return astiav.CodecIDH264, nil
	case codec.HEVC:
		return astiav.CodecIDHevc, nil
	}
	return astiav.CodecIDNone, fmt.Errorf("ffmpeg: unsupported codec %v", k)
}

func forwardLogs(log *slog.Logger) {
	astiav.SetLogLevel(astiav.LogLevelWarning)
	astiav.SetLogCallback(func(_ astiav.Classer, l astiav.LogLevel, _, msg string) {
		switch {
		case l <= astiav.LogLevelError:
			log.Error(msg)
		case l <= astiav.LogLevelWarning:
			log.Warn(msg)
		default:
			log.Debug(msg)
		}
	})
}
