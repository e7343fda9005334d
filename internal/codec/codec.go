// Package codec defines the capability interfaces the encode pipeline needs
// from a video codec library: an encoder that turns I420 pictures into
// packets, and a converter that turns producer frames into I420 pictures.
package codec

import (
	"errors"
	"fmt"
	"strings"

	"github.com/zsiec/encbridge/internal/media"
)

// ErrAgain is returned by Encoder.Receive when no further packet is available
// until more input is sent.
var ErrAgain = errors.New("codec: output not available, send more input")

// ErrEOF is returned by Encoder.Receive once the encoder is fully drained.
var ErrEOF = errors.New("codec: end of stream")

// Kind is the output codec.
type Kind int

const (
	H264 Kind = iota
	HEVC
)

// ParseKind maps a codec argument to a Kind. Unknown names map to H264 with
// ok false.
func ParseKind(s string) (k Kind, ok bool) {
	switch strings.ToLower(s) {
	case "h264", "avc":
		return H264, true
	case "hevc", "h265":
		return HEVC, true
	}
	return H264, false
}

func (k Kind) String() string {
	switch k {
	case H264:
		return "h264"
	case HEVC:
		return "hevc"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Config opens an encoder.
type Config struct {
	Kind      Kind
	Width     int
	Height    int
	BitRate   int64
	FrameRate int
	// GOPSize 0 means every frame is an intra frame.
	GOPSize    int
	MaxBFrames int
	Preset     string
	Tune       string
}

// Validate checks the fields every backend relies on.
func (c Config) Validate() error {
	if c.Width <= 0 || c.Height <= 0 {
		return fmt.Errorf("codec: invalid size %dx%d", c.Width, c.Height)
	}
	if c.BitRate <= 0 {
		return fmt.Errorf("codec: invalid bitrate %d", c.BitRate)
	}
	if c.FrameRate <= 0 {
		return fmt.Errorf("codec: invalid framerate %d", c.FrameRate)
	}
	return nil
}

// Picture is a tightly packed planar YUV 4:2:0 image: the Y plane, then U,
// then V, with chroma planes of ceil(w/2) x ceil(h/2).
type Picture struct {
	Width  int
	Height int
	Data   []byte
	// PTS is in nanoseconds.
	PTS      int64
	ForceKey bool
}

// NewPicture allocates a zeroed picture.
func NewPicture(width, height int) *Picture {
	return &Picture{Width: width, Height: height, Data: make([]byte, I420Size(width, height))}
}

// ChromaSize returns the dimensions of each chroma plane.
func ChromaSize(width, height int) (int, int) {
	return (width + 1) / 2, (height + 1) / 2
}

// I420Size is the byte size of a width x height picture.
func I420Size(width, height int) int {
	cw, ch := ChromaSize(width, height)
	return width*height + 2*cw*ch
}

// Y returns the luma plane.
func (p *Picture) Y() []byte { return p.Data[:p.Width*p.Height] }

// U returns the Cb plane.
func (p *Picture) U() []byte {
	cw, ch := ChromaSize(p.Width, p.Height)
	off := p.Width * p.Height
	return p.Data[off : off+cw*ch]
}

// V returns the Cr plane.
func (p *Picture) V() []byte {
	cw, ch := ChromaSize(p.Width, p.Height)
	off := p.Width*p.Height + cw*ch
	return p.Data[off : off+cw*ch]
}

// Packet is one compressed access unit.
type Packet struct {
	Data []byte
	// PTS is in nanoseconds.
	PTS int64
	Key bool
}

// Encoder compresses pictures. Send and Receive follow the send/receive
// model: after each Send, Receive is called until it returns ErrAgain.
type Encoder interface {
	// SetBitRate changes the target bitrate for subsequent pictures.
	SetBitRate(bps int64) error
	Send(p *Picture) error
	Receive() (Packet, error)
	Close() error
}

// Converter turns frames of one pixel format and size into pictures of the
// encoder's size.
type Converter interface {
	Convert(f media.Frame, dst *Picture) error
	Close() error
}

// ConverterSpec identifies the source and destination of a Converter.
type ConverterSpec struct {
	Format    media.PixelFormat
	SrcWidth  int
	SrcHeight int
	DstWidth  int
	DstHeight int
}

// Matches reports whether f can be fed to a converter built for s.
func (s ConverterSpec) Matches(f media.Frame) bool {
	return f.PixelFormat == s.Format && f.Width == s.SrcWidth && f.Height == s.SrcHeight
}

// Backend opens encoders and converters.
type Backend interface {
	NewEncoder(cfg Config) (Encoder, error)
	NewConverter(spec ConverterSpec) (Converter, error)
}
