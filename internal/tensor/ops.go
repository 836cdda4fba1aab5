package tensor

import (
	"fmt"
	"math"
)

// Binarize maps every positive element to exactly 1 and everything else to 0.
func Binarize(t *Tensor) *Tensor {
	out := New(t.shape...)
	for i, v := range t.data {
		if v > 0 {
			out.data[i] = 1
		}
	}
	return out
}

// PermuteCHWToHWC converts a [C,H,W] tensor to channel-last [H,W,C].
func PermuteCHWToHWC(t *Tensor) (*Tensor, error) {
	if t.Rank() != 3 {
		return nil, fmt.Errorf("expected CHW tensor, got shape %v", t.shape)
	}
	c, h, w := t.shape[0], t.shape[1], t.shape[2]
	out := New(h, w, c)
	for ci := 0; ci < c; ci++ {
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				out.data[(y*w+x)*c+ci] = t.data[(ci*h+y)*w+x]
			}
		}
	}
	return out, nil
}

// CropHW keeps the top-left h×w window of an [H,W,C] tensor. Sizes larger
// than the tensor are clamped, matching slice semantics.
func CropHW(t *Tensor, h, w int) (*Tensor, error) {
	if t.Rank() != 3 {
		return nil, fmt.Errorf("expected HWC tensor, got shape %v", t.shape)
	}
	if h < 0 || w < 0 {
		return nil, fmt.Errorf("negative crop size %dx%d", h, w)
	}
	th, tw, c := t.shape[0], t.shape[1], t.shape[2]
	h, w = min(h, th), min(w, tw)
	out := New(h, w, c)
	for y := 0; y < h; y++ {
		copy(out.data[y*w*c:(y+1)*w*c], t.data[y*tw*c:y*tw*c+w*c])
	}
	return out, nil
}

// CropCHW keeps the top-left h×w window of every channel of a [C,H,W] tensor.
func CropCHW(t *Tensor, h, w int) (*Tensor, error) {
	if t.Rank() != 3 {
		return nil, fmt.Errorf("expected CHW tensor, got shape %v", t.shape)
	}
	if h < 0 || w < 0 {
		return nil, fmt.Errorf("negative crop size %dx%d", h, w)
	}
	c, th, tw := t.shape[0], t.shape[1], t.shape[2]
	h, w = min(h, th), min(w, tw)
	out := New(c, h, w)
	for ci := 0; ci < c; ci++ {
		for y := 0; y < h; y++ {
			src := (ci*th + y) * tw
			copy(out.data[(ci*h+y)*w:(ci*h+y+1)*w], t.data[src:src+w])
		}
	}
	return out, nil
}

// CeilModulo rounds x up to the next multiple of mod.
func CeilModulo(x, mod int) int {
	if mod <= 1 || x%mod == 0 {
		return x
	}
	return (x/mod + 1) * mod
}

// PadToModulo pads a [C,H,W] tensor at the bottom and right so both spatial
// sizes are multiples of mod, mirroring edge pixels symmetrically. It returns
// the padded tensor and the original (H, W).
func PadToModulo(t *Tensor, mod int) (*Tensor, [2]int, error) {
	if t.Rank() != 3 {
		return nil, [2]int{}, fmt.Errorf("expected CHW tensor, got shape %v", t.shape)
	}
	c, h, w := t.shape[0], t.shape[1], t.shape[2]
	orig := [2]int{h, w}
	oh, ow := CeilModulo(h, mod), CeilModulo(w, mod)
	if oh == h && ow == w {
		return t.Clone(), orig, nil
	}
	out := New(c, oh, ow)
	for ci := 0; ci < c; ci++ {
		for y := 0; y < oh; y++ {
			sy := symmetric(y, h)
			for x := 0; x < ow; x++ {
				out.data[(ci*oh+y)*ow+x] = t.data[(ci*h+sy)*w+symmetric(x, w)]
			}
		}
	}
	return out, orig, nil
}

// symmetric folds i into [0,n) by reflecting about the edges, repeating the
// edge element ("symmetric" padding).
func symmetric(i, n int) int {
	period := 2 * n
	i %= period
	if i < 0 {
		i += period
	}
	if i >= n {
		i = period - 1 - i
	}
	return i
}

// ToUint8 scales values by 255, rounds and hard-clips them to [0,255].
func ToUint8(t *Tensor) []uint8 {
	out := make([]uint8, len(t.data))
	for i, v := range t.data {
		out[i] = clampByte(float64(v) * 255)
	}
	return out
}

func clampByte(v float64) uint8 {
	switch {
	case math.IsNaN(v), v <= 0:
		return 0
	case v >= 255:
		return 255
	}
	return uint8(math.Round(v))
}

// SwapRB exchanges the first and third channel of every pixel of an
// interleaved buffer, converting RGB to BGR and back.
func SwapRB(buf []uint8, channels int) ([]uint8, error) {
	if channels < 3 {
		return nil, fmt.Errorf("channel reorder needs at least 3 channels, got %d", channels)
	}
	if len(buf)%channels != 0 {
		return nil, fmt.Errorf("buffer length %d is not a multiple of %d channels", len(buf), channels)
	}
	out := append([]uint8(nil), buf...)
	for i := 0; i < len(out); i += channels {
		out[i], out[i+2] = out[i+2], out[i]
	}
	return out, nil
}
