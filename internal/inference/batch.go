package inference

import (
	"fmt"

	"github.com/SyedDaiam9101/inpaint-predict/internal/device"
	"github.com/SyedDaiam9101/inpaint-predict/internal/tensor"
)

// Batch field names, as seen by the model graph.
const (
	FieldImage = "image"
	FieldMask  = "mask"
)

// Batch is a single sample collated with a leading batch dimension of 1.
type Batch struct {
	Image       *tensor.Tensor // [1,3,H,W]
	Mask        *tensor.Tensor // [1,1,H,W]
	UnpadToSize *[2]int        // original (H, W) before dataset padding
	Device      device.Device
}

// Collate wraps one [3,H,W] image and [1,H,W] mask into a singleton batch.
func Collate(image, mask *tensor.Tensor, unpadToSize *[2]int) (*Batch, error) {
	if image == nil || mask == nil {
		return nil, fmt.Errorf("sample is missing image or mask")
	}
	if image.Rank() != 3 || mask.Rank() != 3 {
		return nil, fmt.Errorf("expected CHW image and mask, got %v and %v", image.Shape(), mask.Shape())
	}
	if image.Dim(1) != mask.Dim(1) || image.Dim(2) != mask.Dim(2) {
		return nil, fmt.Errorf("image %v and mask %v have mismatched spatial size", image.Shape(), mask.Shape())
	}
	b := &Batch{Image: image.Unsqueeze0(), Mask: mask.Unsqueeze0()}
	if unpadToSize != nil {
		size := *unpadToSize
		b.UnpadToSize = &size
	}
	return b, nil
}

// To returns a copy of the batch placed on d. Host memory is shared; the
// runtime performs the actual transfer when the batch is fed to the model.
func (b *Batch) To(d device.Device) *Batch {
	out := *b
	out.Device = d
	return &out
}

// Field returns the tensor stored under name.
func (b *Batch) Field(name string) (*tensor.Tensor, bool) {
	switch name {
	case FieldImage:
		return b.Image, b.Image != nil
	case FieldMask:
		return b.Mask, b.Mask != nil
	}
	return nil, false
}

// Size returns the spatial size (H, W) of the batch.
func (b *Batch) Size() (int, int) {
	return b.Image.Dim(2), b.Image.Dim(3)
}
