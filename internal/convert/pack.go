package convert

import (
	"github.com/zsiec/encbridge/internal/media"
)

// PackedSize is the size of f's image once packed with no row padding, in
// the layout FFmpeg uses for an alignment of 1: semi-planar chroma is
// ceil(width/2) pairs by ceil(height/2) rows.
func PackedSize(f media.PixelFormat, width, height int) int {
	bps := f.BytesPerSample()
	if !f.SemiPlanar() {
		return width * bps * height
	}
	return width*bps*height + 2*bps*((width+1)/2)*((height+1)/2)
}

// Pack copies f into dst with the row padding removed and returns the packed
// bytes. Missing chroma rows or columns of odd-sized semi-planar frames are
// filled from the nearest available sample. dst is reused when large enough.
func Pack(f media.Frame, dst []byte) ([]byte, error) {
	if err := checkFrame(f); err != nil {
		return nil, err
	}
	n := PackedSize(f.PixelFormat, f.Width, f.Height)
	if cap(dst) < n {
		dst = make([]byte, n)
	}
	dst = dst[:n]

	bps := f.PixelFormat.BytesPerSample()
	rowBytes := f.Width * bps
	for y := 0; y < f.Height; y++ {
		copy(dst[y*rowBytes:(y+1)*rowBytes], f.Data[y*f.RowPitch:])
	}
	if !f.PixelFormat.SemiPlanar() {
		return dst, nil
	}

	pair := 2 * bps
	cw, ch := (f.Width+1)/2, (f.Height+1)/2
	out := dst[f.Height*rowBytes:]
	chromaRows, chromaCols := f.Height/2, f.Width/2
	if chromaRows == 0 || chromaCols == 0 {
		neutralChroma(out, bps)
		return dst, nil
	}
	plane := f.Data[f.RowPitch*f.Height:]
	for y := 0; y < ch; y++ {
		src := plane[min(y, chromaRows-1)*f.RowPitch:]
		row := out[y*cw*pair : (y+1)*cw*pair]
		copy(row, src[:chromaCols*pair])
		for x := chromaCols; x < cw; x++ {
			copy(row[x*pair:(x+1)*pair], src[(chromaCols-1)*pair:chromaCols*pair])
		}
	}
	return dst, nil
}

func neutralChroma(b []byte, bps int) {
	if bps == 1 {
		fill(b, chromaZero)
		return
	}
	// 0x8000 little-endian
	for i := 0; i+1 < len(b); i += 2 {
		b[i], b[i+1] = 0x00, 0x80
	}
}
