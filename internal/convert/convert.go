// Package convert turns producer frames (RGBA, NV12, P010) into I420
// pictures in pure Go, resampling with nearest-neighbour sampling when the
// frame and encoder sizes differ. It honours row pitch, and semi-planar
// frames with odd heights carry floor(height/2) chroma rows.
package convert

import (
	"errors"
	"fmt"

	"github.com/zsiec/encbridge/internal/codec"
	"github.com/zsiec/encbridge/internal/media"
)

var (
	// ErrMismatch is returned when a frame's format or size differs from
	// the one the converter was built for.
	ErrMismatch = errors.New("convert: frame does not match converter")
	// ErrShortFrame is returned when a frame's payload or pitch cannot hold
	// its declared image.
	ErrShortFrame = errors.New("convert: frame payload too short")
)

// neutral chroma
const chromaZero = 128

// Converter converts frames of one format and size. It is not safe for
// concurrent use.
type Converter struct {
	spec codec.ConverterSpec
	// xMap and yMap give the source column and row for each destination
	// luma sample.
	xMap []int
	yMap []int
}

// New builds a converter for spec.
func New(spec codec.ConverterSpec) (*Converter, error) {
	if spec.SrcWidth <= 0 || spec.SrcHeight <= 0 || spec.DstWidth <= 0 || spec.DstHeight <= 0 {
		return nil, fmt.Errorf("convert: invalid size %dx%d -> %dx%d",
			spec.SrcWidth, spec.SrcHeight, spec.DstWidth, spec.DstHeight)
	}
	if _, ok := media.ParsePixelFormat(uint8(spec.Format)); !ok {
		return nil, fmt.Errorf("convert: unsupported pixel format %v", spec.Format)
	}
	return &Converter{
		spec: spec,
		xMap: sampleMap(spec.SrcWidth, spec.DstWidth),
		yMap: sampleMap(spec.SrcHeight, spec.DstHeight),
	}, nil
}

func sampleMap(src, dst int) []int {
	m := make([]int, dst)
	for i := range m {
		m[i] = int(int64(i) * int64(src) / int64(dst))
	}
	return m
}

// Spec returns what the converter was built for.
func (c *Converter) Spec() codec.ConverterSpec { return c.spec }

// Convert writes f into dst, which must be DstWidth x DstHeight.
func (c *Converter) Convert(f media.Frame, dst *codec.Picture) error {
	if !c.spec.Matches(f) {
		return fmt.Errorf("%w: got %v %dx%d, want %v %dx%d", ErrMismatch,
			f.PixelFormat, f.Width, f.Height, c.spec.Format, c.spec.SrcWidth, c.spec.SrcHeight)
	}
	if dst.Width != c.spec.DstWidth || dst.Height != c.spec.DstHeight ||
		len(dst.Data) < codec.I420Size(dst.Width, dst.Height) {
		return fmt.Errorf("%w: destination picture %dx%d", ErrMismatch, dst.Width, dst.Height)
	}
	if err := checkFrame(f); err != nil {
		return err
	}

	switch f.PixelFormat {
	case media.PixelFormatRGBA:
		c.fromRGBA(f, dst)
	case media.PixelFormatNV12:
		c.fromSemiPlanar(f, dst, 1)
	case media.PixelFormatP010:
		c.fromSemiPlanar(f, dst, 2)
	}
	return nil
}

// Close is a no-op; it satisfies codec.Converter.
func (c *Converter) Close() error { return nil }

func checkFrame(f media.Frame) error {
	if f.RowPitch < f.Width*f.PixelFormat.BytesPerSample() {
		return fmt.Errorf("%w: row pitch %d for width %d", ErrShortFrame, f.RowPitch, f.Width)
	}
	if need := f.PixelFormat.MinDataSize(f.Width, f.Height, f.RowPitch); len(f.Data) < need {
		return fmt.Errorf("%w: %d bytes, need %d", ErrShortFrame, len(f.Data), need)
	}
	return nil
}

func (c *Converter) fromRGBA(f media.Frame, dst *codec.Picture) {
	w, h := dst.Width, dst.Height
	y := dst.Y()
	for dy := 0; dy < h; dy++ {
		row := f.Data[c.yMap[dy]*f.RowPitch:]
		out := y[dy*w : (dy+1)*w]
		for dx, sx := range c.xMap {
			p := row[sx*4 : sx*4+3]
			out[dx] = luma(int(p[0]), int(p[1]), int(p[2]))
		}
	}

	cw, ch := codec.ChromaSize(w, h)
	u, v := dst.U(), dst.V()
	for cy := 0; cy < ch; cy++ {
		rows := [2]int{c.yMap[2*cy], c.yMap[min(2*cy+1, h-1)]}
		for cx := 0; cx < cw; cx++ {
			cols := [2]int{c.xMap[2*cx], c.xMap[min(2*cx+1, w-1)]}
			var r, g, b int
			for _, sy := range rows {
				row := f.Data[sy*f.RowPitch:]
				for _, sx := range cols {
					p := row[sx*4 : sx*4+3]
					r += int(p[0])
					g += int(p[1])
					b += int(p[2])
				}
			}
			r, g, b = (r+2)/4, (g+2)/4, (b+2)/4
			u[cy*cw+cx] = cb(r, g, b)
			v[cy*cw+cx] = cr(r, g, b)
		}
	}
}

// fromSemiPlanar handles NV12 (bps 1) and P010 (bps 2). P010 keeps its
// significant bits in the high byte of each little-endian sample.
func (c *Converter) fromSemiPlanar(f media.Frame, dst *codec.Picture, bps int) {
	hi := bps - 1
	w, h := dst.Width, dst.Height
	y := dst.Y()
	for dy := 0; dy < h; dy++ {
		row := f.Data[c.yMap[dy]*f.RowPitch:]
		out := y[dy*w : (dy+1)*w]
		for dx, sx := range c.xMap {
			out[dx] = row[sx*bps+hi]
		}
	}

	cw, ch := codec.ChromaSize(w, h)
	u, v := dst.U(), dst.V()
	chromaRows, chromaCols := f.Height/2, f.Width/2
	if chromaRows == 0 || chromaCols == 0 {
		fill(u, chromaZero)
		fill(v, chromaZero)
		return
	}
	plane := f.Data[f.RowPitch*f.Height:]
	for cy := 0; cy < ch; cy++ {
		sy := min(c.yMap[2*cy]/2, chromaRows-1)
		row := plane[sy*f.RowPitch:]
		for cx := 0; cx < cw; cx++ {
			sx := min(c.xMap[2*cx]/2, chromaCols-1)
			off := sx * 2 * bps
			u[cy*cw+cx] = row[off+hi]
			v[cy*cw+cx] = row[off+bps+hi]
		}
	}
}

// BT.601 limited range.
func luma(r, g, b int) byte { return byte(((66*r + 129*g + 25*b + 128) >> 8) + 16) }
func cb(r, g, b int) byte   { return byte(((-38*r - 74*g + 112*b + 128) >> 8) + 128) }
func cr(r, g, b int) byte   { return byte(((112*r - 94*g - 18*b + 128) >> 8) + 128) }

func fill(b []byte, v byte) {
	for i := range b {
		b[i] = v
	}
}
