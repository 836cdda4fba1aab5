package dataset

import (
	"fmt"
	"image"
	"image/color"
	_ "image/jpeg"
	_ "image/png"
	"os"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/SyedDaiam9101/inpaint-predict/internal/tensor"
)

func decodeFile(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return img, nil
}

// LoadImage reads an image as a [3,H,W] RGB tensor scaled to [0,1].
func LoadImage(path string) (*tensor.Tensor, error) {
	img, err := decodeFile(path)
	if err != nil {
		return nil, err
	}
	return ImageToCHW(img), nil
}

// LoadMask reads a mask as a [1,H,W] grayscale tensor scaled to [0,1].
func LoadMask(path string) (*tensor.Tensor, error) {
	img, err := decodeFile(path)
	if err != nil {
		return nil, err
	}
	return MaskToCHW(img), nil
}

// ImageToCHW converts img to non-premultiplied RGB planes.
func ImageToCHW(img image.Image) *tensor.Tensor {
	b := img.Bounds()
	h, w := b.Dy(), b.Dx()
	out := tensor.New(3, h, w)
	data := out.Data()
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			c := color.NRGBAModel.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.NRGBA)
			i := y*w + x
			data[i] = float32(c.R) / 255
			data[h*w+i] = float32(c.G) / 255
			data[2*h*w+i] = float32(c.B) / 255
		}
	}
	return out
}

// MaskToCHW converts img to a single luminance plane.
func MaskToCHW(img image.Image) *tensor.Tensor {
	b := img.Bounds()
	h, w := b.Dy(), b.Dx()
	out := tensor.New(1, h, w)
	data := out.Data()
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			c := color.GrayModel.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.Gray)
			data[y*w+x] = float32(c.Y) / 255
		}
	}
	return out
}
