// internal/inference/mock.go
package inference

import (
	"context"
	"fmt"

	"github.com/SyedDaiam9101/inpaint-predict/internal/device"
)

// MockModel is a mock implementation of Model for testing.
// It fills the masked region with a constant colour without requiring the
// ONNX shared library.
type MockModel struct {
	// OutputKey is the name the inpainted image is returned under
	OutputKey string
	// Fill is the RGB value written into masked pixels
	Fill [3]float32
	// ShouldError if true, Forward will return an error
	ShouldError bool
	// ErrorMessage is the error message to return when ShouldError is true
	ErrorMessage string
	// CallCount tracks the number of times Forward was called
	CallCount int
	// Batches records every batch Forward received
	Batches []*Batch

	dev device.Device
}

// NewMock creates a new MockModel returning "inpainted" with a mid-grey fill
func NewMock() *MockModel {
	return &MockModel{
		OutputKey: "inpainted",
		Fill:      [3]float32{0.5, 0.5, 0.5},
	}
}

// NewMockOn creates a MockModel bound to d
func NewMockOn(d device.Device) *MockModel {
	m := NewMock()
	m.dev = d
	return m
}

// Forward composites Fill into the masked region of the image.
// The output has the same shape as the batch image.
func (m *MockModel) Forward(ctx context.Context, batch *Batch) (Outputs, error) {
	m.CallCount++
	m.Batches = append(m.Batches, batch)

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if m.ShouldError {
		if m.ErrorMessage != "" {
			return nil, fmt.Errorf("%s", m.ErrorMessage)
		}
		return nil, fmt.Errorf("mock inference error")
	}
	if batch == nil || batch.Image == nil || batch.Mask == nil {
		return nil, fmt.Errorf("empty batch")
	}

	img, mask := batch.Image, batch.Mask
	if img.Rank() != 4 || img.Dim(0) != 1 || img.Dim(1) != 3 {
		return nil, fmt.Errorf("image has wrong shape: got %v, expected [1 3 H W]", img.Shape())
	}
	h, w := img.Dim(2), img.Dim(3)
	if mask.Len() != h*w {
		return nil, fmt.Errorf("mask has wrong size: got %d, expected %d", mask.Len(), h*w)
	}

	out := img.Clone()
	data, md := out.Data(), mask.Data()
	for c := 0; c < 3; c++ {
		for i := 0; i < h*w; i++ {
			mv := md[i]
			data[c*h*w+i] = data[c*h*w+i]*(1-mv) + m.Fill[c]*mv
		}
	}

	return Outputs{m.OutputKey: out, "predicted_image": img.Clone()}, nil
}

// Device returns the device the mock was created for
func (m *MockModel) Device() device.Device { return m.dev }

// Close is a no-op for the mock implementation
func (m *MockModel) Close() error {
	return nil
}

// SetError configures the mock to return an error on the next Forward call
func (m *MockModel) SetError(msg string) {
	m.ShouldError = true
	m.ErrorMessage = msg
}

// ClearError clears any configured error
func (m *MockModel) ClearError() {
	m.ShouldError = false
	m.ErrorMessage = ""
}

// Ensure MockModel implements Model at compile time
var _ Model = (*MockModel)(nil)
