// Package bitstream inspects the Annex-B packets the encoder produces: it
// splits them into NAL units, tells key pictures apart, and reads picture
// dimensions from parameter sets.
package bitstream

import (
	"errors"
	"fmt"

	"github.com/zsiec/encbridge/internal/codec"
)

// H.264 NAL unit types (ITU-T H.264 Table 7-1).
const (
	H264Slice = 1
	H264IDR   = 5
	H264SEI   = 6
	H264SPS   = 7
	H264PPS   = 8
	H264AUD   = 9
)

// HEVC NAL unit types (ITU-T H.265 Table 7-1).
const (
	HEVCBlaWLP   = 16
	HEVCIDRWRadl = 19
	HEVCIDRNLP   = 20
	HEVCCRA      = 21
	HEVCVPS      = 32
	HEVCSPS      = 33
	HEVCPPS      = 34
	HEVCAUD      = 35
)

// ErrNoParameterSet is returned by Inspect when the packet carries no SPS.
var ErrNoParameterSet = errors.New("bitstream: no sequence parameter set")

// NAL is one unit of an Annex-B stream, without its start code.
type NAL struct {
	Type byte
	Data []byte
}

// Split returns the payloads between start codes (00 00 01 or 00 00 00 01).
// Bytes before the first start code are ignored. The payloads alias data.
func Split(data []byte) [][]byte {
	var out [][]byte
	start := -1
	for i := 0; i+2 < len(data); {
		if data[i] != 0 || data[i+1] != 0 {
			i++
			continue
		}
		var sc int
		switch {
		case data[i+2] == 1:
			sc = 3
		case i+3 < len(data) && data[i+2] == 0 && data[i+3] == 1:
			sc = 4
		default:
			i++
			continue
		}
		if start >= 0 && i > start {
			out = append(out, data[start:i])
		}
		i += sc
		start = i
	}
	if start >= 0 && start < len(data) {
		out = append(out, data[start:])
	}
	return out
}

// Units splits data and decodes each NAL header for kind. Units too short to
// hold a header are skipped.
func Units(kind codec.Kind, data []byte) []NAL {
	hdr := headerSize(kind)
	var units []NAL
	for _, p := range Split(data) {
		if len(p) < hdr {
			continue
		}
		units = append(units, NAL{Type: nalType(kind, p[0]), Data: p})
	}
	return units
}

// IsKey reports whether t is a random access picture for kind.
func IsKey(kind codec.Kind, t byte) bool {
	if kind == codec.HEVC {
		return t >= HEVCBlaWLP && t <= HEVCCRA
	}
	return t == H264IDR
}

// Info summarises one packet.
type Info struct {
	Units  int
	Key    bool
	Width  int
	Height int
}

func (i Info) String() string {
	if i.Width == 0 {
		return fmt.Sprintf("%d NALs key=%v", i.Units, i.Key)
	}
	return fmt.Sprintf("%d NALs key=%v %dx%d", i.Units, i.Key, i.Width, i.Height)
}

// Inspect reports the key flag and, when the packet carries an SPS, the coded
// picture size. A packet without an SPS yields ErrNoParameterSet alongside a
// valid Info.
func Inspect(kind codec.Kind, pkt []byte) (Info, error) {
	var info Info
	var sps []byte
	for _, u := range Units(kind, pkt) {
		info.Units++
		if IsKey(kind, u.Type) {
			info.Key = true
		}
		if sps == nil && isSPS(kind, u.Type) {
			sps = u.Data
		}
	}
	if sps == nil {
		return info, ErrNoParameterSet
	}

	var (
		d   Dimensions
		err error
	)
	if kind == codec.HEVC {
		d, err = ParseHEVCSPS(sps)
	} else {
		d, err = ParseH264SPS(sps)
	}
	if err != nil {
		return info, err
	}
	info.Width, info.Height = d.Width, d.Height
	return info, nil
}

func headerSize(kind codec.Kind) int {
	if kind == codec.HEVC {
		return 2
	}
	return 1
}

func nalType(kind codec.Kind, b byte) byte {
	if kind == codec.HEVC {
		return (b >> 1) & 0x3F
	}
	return b & 0x1F
}

func isSPS(kind codec.Kind, t byte) bool {
	if kind == codec.HEVC {
		return t == HEVCSPS
	}
	return t == H264SPS
}
