// internal/inference/interface.go
package inference

import (
	"context"

	"github.com/SyedDaiam9101/inpaint-predict/internal/device"
	"github.com/SyedDaiam9101/inpaint-predict/internal/tensor"
)

// Outputs maps a model output name (e.g. "inpainted") to its [N,C,H,W] tensor.
type Outputs map[string]*tensor.Tensor

// Model defines the interface for a frozen inpainting model.
// This abstraction allows for easy mocking in tests and swapping implementations.
type Model interface {
	// Forward runs the model on a batch and returns every bound output.
	// Forward must not mutate the model; it is called once per sample.
	Forward(ctx context.Context, batch *Batch) (Outputs, error)

	// Device reports where the model was placed.
	Device() device.Device

	// Close releases any resources held by the model.
	Close() error
}
