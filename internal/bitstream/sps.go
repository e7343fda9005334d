package bitstream

import "errors"

var (
	errShort     = errors.New("bitstream: parameter set truncated")
	errMalformed = errors.New("bitstream: malformed exp-Golomb code")
	errCrop      = errors.New("bitstream: cropping exceeds picture size")
)

// Dimensions is the displayed picture size after cropping.
type Dimensions struct {
	Width   int
	Height  int
	Profile int
	Level   int
}

// ParseH264SPS reads an H.264 SPS NAL (header byte included, no start code).
func ParseH264SPS(nal []byte) (Dimensions, error) {
	if len(nal) < 4 {
		return Dimensions{}, errShort
	}
	r := &reader{b: unescape(nal[1:])}

	profile := r.u(8)
	r.skip(8) // constraint flags
	level := r.u(8)
	r.ue() // seq_parameter_set_id

	chroma := uint(1)
	separatePlanes := false
	switch profile {
	case 100, 110, 122, 244, 44, 83, 86, 118, 128, 138, 139, 134:
		chroma = r.ue()
		if chroma == 3 {
			separatePlanes = r.flag()
		}
		r.ue()    // bit_depth_luma_minus8
		r.ue()    // bit_depth_chroma_minus8
		r.skip(1) // qpprime_y_zero_transform_bypass_flag
		if r.flag() {
			lists := 8
			if chroma == 3 {
				lists = 12
			}
			for i := 0; i < lists; i++ {
				if r.flag() {
					size := 16
					if i >= 6 {
						size = 64
					}
					r.scalingList(size)
				}
			}
		}
	}

	r.ue() // log2_max_frame_num_minus4
	switch r.ue() {
	case 0:
		r.ue() // log2_max_pic_order_cnt_lsb_minus4
	case 1:
		r.skip(1)
		r.se()
		r.se()
		n := r.ue()
		for i := uint(0); i < n && r.err == nil; i++ {
			r.se()
		}
	}
	r.ue()    // max_num_ref_frames
	r.skip(1) // gaps_in_frame_num_value_allowed_flag

	widthMbs := r.ue() + 1
	heightUnits := r.ue() + 1
	frameMbsOnly := r.u(1)
	if frameMbsOnly == 0 {
		r.skip(1) // mb_adaptive_frame_field_flag
	}
	r.skip(1) // direct_8x8_inference_flag

	var left, right, top, bottom uint
	if r.flag() {
		left, right, top, bottom = r.ue(), r.ue(), r.ue(), r.ue()
	}
	if r.err != nil {
		return Dimensions{}, r.err
	}

	cropX, cropY := uint(1), 2-frameMbsOnly
	if !separatePlanes && chroma != 0 {
		subW, subH := chromaSubsampling(chroma)
		cropX = subW
		cropY *= subH
	}
	w, h := widthMbs*16, (2-frameMbsOnly)*heightUnits*16
	if cropX*(left+right) >= w || cropY*(top+bottom) >= h {
		return Dimensions{}, errCrop
	}
	return Dimensions{
		Width:   int(w - cropX*(left+right)),
		Height:  int(h - cropY*(top+bottom)),
		Profile: int(profile),
		Level:   int(level),
	}, nil
}

// ParseHEVCSPS reads an HEVC SPS NAL (two header bytes included, no start
// code).
func ParseHEVCSPS(nal []byte) (Dimensions, error) {
	if len(nal) < 4 {
		return Dimensions{}, errShort
	}
	r := &reader{b: unescape(nal[2:])}

	r.skip(4) // sps_video_parameter_set_id
	subLayers := int(r.u(3))
	r.skip(1) // sps_temporal_id_nesting_flag

	// profile_tier_level
	r.skip(3) // profile_space, tier_flag
	profile := r.u(5)
	r.skip(32 + 48) // compatibility and constraint flags
	level := r.u(8)
	profilePresent := make([]bool, subLayers)
	levelPresent := make([]bool, subLayers)
	for i := 0; i < subLayers; i++ {
		profilePresent[i] = r.flag()
		levelPresent[i] = r.flag()
	}
	if subLayers > 0 {
		r.skip(2 * (8 - subLayers))
	}
	for i := 0; i < subLayers; i++ {
		if profilePresent[i] {
			r.skip(88)
		}
		if levelPresent[i] {
			r.skip(8)
		}
	}

	r.ue() // sps_seq_parameter_set_id
	chroma := r.ue()
	if chroma == 3 {
		r.skip(1) // separate_colour_plane_flag
	}
	width := r.ue()
	height := r.ue()
	var left, right, top, bottom uint
	if r.flag() {
		left, right, top, bottom = r.ue(), r.ue(), r.ue(), r.ue()
	}
	if r.err != nil {
		return Dimensions{}, r.err
	}

	subW, subH := uint(1), uint(1)
	if chroma == 1 || chroma == 2 {
		subW, subH = chromaSubsampling(chroma)
	}
	if subW*(left+right) >= width || subH*(top+bottom) >= height {
		return Dimensions{}, errCrop
	}
	return Dimensions{
		Width:   int(width - subW*(left+right)),
		Height:  int(height - subH*(top+bottom)),
		Profile: int(profile),
		Level:   int(level),
	}, nil
}

func chromaSubsampling(chromaFormat uint) (w, h uint) {
	switch chromaFormat {
	case 1:
		return 2, 2
	case 2:
		return 2, 1
	}
	return 1, 1
}

// unescape strips emulation prevention bytes (00 00 03).
func unescape(b []byte) []byte {
	out := make([]byte, 0, len(b))
	zeros := 0
	for _, c := range b {
		if zeros >= 2 && c == 3 {
			zeros = 0
			continue
		}
		out = append(out, c)
		if c == 0 {
			zeros++
		} else {
			zeros = 0
		}
	}
	return out
}

// reader is an MSB-first bit reader. The first failure sticks; later reads
// return zero.
type reader struct {
	b   []byte
	pos int
	err error
}

func (r *reader) u(n int) uint {
	var v uint
	for ; n > 0; n-- {
		if r.err != nil {
			return 0
		}
		if r.pos>>3 >= len(r.b) {
			r.err = errShort
			return 0
		}
		bit := r.b[r.pos>>3]>>(7-uint(r.pos&7))&1
		v = v<<1 | uint(bit)
		r.pos++
	}
	return v
}

func (r *reader) flag() bool { return r.u(1) == 1 }

func (r *reader) skip(n int) {
	if r.err != nil {
		return
	}
	if r.pos+n > len(r.b)*8 {
		r.err = errShort
		return
	}
	r.pos += n
}

func (r *reader) ue() uint {
	zeros := 0
	for r.u(1) == 0 {
		if r.err != nil {
			return 0
		}
		if zeros++; zeros > 31 {
			r.err = errMalformed
			return 0
		}
	}
	if r.err != nil {
		return 0
	}
	return 1<<zeros - 1 + r.u(zeros)
}

func (r *reader) se() int {
	v := r.ue()
	if v%2 == 0 {
		return -int(v / 2)
	}
	return int((v + 1) / 2)
}

func (r *reader) scalingList(size int) {
	last, next := 8, 8
	for i := 0; i < size && r.err == nil; i++ {
		if next != 0 {
			next = (last + r.se() + 256) % 256
		}
		if next != 0 {
			last = next
		}
	}
}
