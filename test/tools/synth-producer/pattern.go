package main

import (
	"encoding/binary"

	"github.com/zsiec/encbridge/internal/media"
)

// pattern renders a moving diagonal gradient. pad adds bytes to every row to
// exercise row-pitch handling on the worker.
type pattern struct {
	width  int
	height int
	format media.PixelFormat
	pad    int
}

func (p pattern) pitch() int {
	return p.width*p.format.BytesPerSample() + p.pad
}

// frame renders picture n.
func (p pattern) frame(n int, ts uint64, idr bool) media.Frame {
	pitch := p.pitch()
	f := media.Frame{
		Width:       p.width,
		Height:      p.height,
		TimestampNs: ts,
		InsertIDR:   idr,
		PixelFormat: p.format,
		RowPitch:    pitch,
	}
	f.Data = make([]byte, p.format.MinDataSize(p.width, p.height, pitch))

	switch p.format {
	case media.PixelFormatRGBA:
		for y := 0; y < p.height; y++ {
			row := f.Data[y*pitch:]
			for x := 0; x < p.width; x++ {
				v := byte(x + y + n)
				row[x*4+0] = v
				row[x*4+1] = 255 - v
				row[x*4+2] = byte(n * 3)
				row[x*4+3] = 255
			}
		}
	case media.PixelFormatNV12:
		p.fillSemiPlanar(f.Data, pitch, n, func(b []byte, v uint16) { b[0] = byte(v >> 8) })
	case media.PixelFormatP010:
		p.fillSemiPlanar(f.Data, pitch, n, func(b []byte, v uint16) { binary.LittleEndian.PutUint16(b, v) })
	}
	return f
}

// fillSemiPlanar writes a luma ramp and a slowly rotating chroma pair.
// put stores one 16-bit sample in the format's width.
func (p pattern) fillSemiPlanar(data []byte, pitch, n int, put func([]byte, uint16)) {
	bps := p.format.BytesPerSample()
	for y := 0; y < p.height; y++ {
		row := data[y*pitch:]
		for x := 0; x < p.width; x++ {
			put(row[x*bps:], uint16(x+y+n)<<8)
		}
	}
	chroma := data[p.height*pitch:]
	for y := 0; y < p.height/2; y++ {
		row := chroma[y*pitch:]
		for x := 0; x+1 < p.width; x += 2 {
			put(row[x*bps:], uint16(128+n)<<8)
			put(row[(x+1)*bps:], uint16(128-n)<<8)
		}
	}
}
