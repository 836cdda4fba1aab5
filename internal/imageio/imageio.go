// Package imageio writes HWC float images to disk. Values are clamped to the
// byte range, stored in BGR channel order and encoded by file extension.
package imageio

import (
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/image/bmp"
	"golang.org/x/image/tiff"

	"github.com/SyedDaiam9101/inpaint-predict/internal/tensor"
)

// JPEGQuality is used for .jpg and .jpeg outputs.
const JPEGQuality = 95

// BGR is an 8-bit image whose pixels are stored interleaved as B, G, R.
type BGR struct {
	Pix    []uint8
	Stride int
	Rect   image.Rectangle
}

// NewBGR wraps pix, which must hold h*w*3 bytes in BGR order.
func NewBGR(pix []uint8, h, w int) (*BGR, error) {
	if len(pix) != h*w*3 {
		return nil, fmt.Errorf("bgr buffer has %d bytes, expected %d", len(pix), h*w*3)
	}
	return &BGR{Pix: pix, Stride: 3 * w, Rect: image.Rect(0, 0, w, h)}, nil
}

func (p *BGR) ColorModel() color.Model { return color.RGBAModel }

func (p *BGR) Bounds() image.Rectangle { return p.Rect }

func (p *BGR) At(x, y int) color.Color {
	if !(image.Point{x, y}.In(p.Rect)) {
		return color.RGBA{}
	}
	i := (y-p.Rect.Min.Y)*p.Stride + (x-p.Rect.Min.X)*3
	return color.RGBA{R: p.Pix[i+2], G: p.Pix[i+1], B: p.Pix[i], A: 0xff}
}

// FromHWC converts a [H,W,3] RGB float tensor into a BGR image.
func FromHWC(hwc *tensor.Tensor) (*BGR, error) {
	if hwc.Rank() != 3 || hwc.Dim(2) != 3 {
		return nil, fmt.Errorf("expected HWC image with 3 channels, got %v", hwc.Shape())
	}
	bgr, err := tensor.SwapRB(tensor.ToUint8(hwc), 3)
	if err != nil {
		return nil, err
	}
	return NewBGR(bgr, hwc.Dim(0), hwc.Dim(1))
}

// Encode writes img to w using the codec implied by ext.
func Encode(w io.Writer, img image.Image, ext string) error {
	switch strings.ToLower(ext) {
	case ".png":
		return png.Encode(w, img)
	case ".jpg", ".jpeg":
		return jpeg.Encode(w, img, &jpeg.Options{Quality: JPEGQuality})
	case ".bmp":
		return bmp.Encode(w, img)
	case ".tif", ".tiff":
		return tiff.Encode(w, img, &tiff.Options{Compression: tiff.Deflate})
	}
	return fmt.Errorf("unsupported output extension %q", ext)
}

// Save writes the [H,W,3] RGB tensor hwc to path.
func Save(path string, hwc *tensor.Tensor) error {
	img, err := FromHWC(hwc)
	if err != nil {
		return err
	}

	ext := filepath.Ext(path)
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if err := Encode(f, img, ext); err != nil {
		f.Close()
		os.Remove(path)
		return fmt.Errorf("failed to encode %s: %w", path, err)
	}
	return f.Close()
}
