// Package refine improves a model's prediction by feeding it back through the
// model several times. Results are always cropped to the sample's unpadded size.
package refine

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/SyedDaiam9101/inpaint-predict/internal/device"
	"github.com/SyedDaiam9101/inpaint-predict/internal/inference"
	"github.com/SyedDaiam9101/inpaint-predict/internal/tensor"
)

// ErrMissingUnpadSize is returned when a batch lacks its original size.
var ErrMissingUnpadSize = errors.New("unpadded size is required for the refinement")

// Options mirrors the refiner.* configuration block.
type Options struct {
	// DeviceIDs lists the accelerators the iterations may use; the first
	// one is used. Empty keeps the batch's device.
	DeviceIDs []int
	NIters    int
	// Modulo pads the working estimate so both spatial sizes are multiples
	// of it. Values <= 1 disable the padding.
	Modulo int
	Blend  float64
	OutKey string
}

// Device returns the device the iterations run on.
func (o Options) Device(fallback device.Device) device.Device {
	if len(o.DeviceIDs) == 0 {
		return fallback
	}
	return device.Device{Kind: device.Accelerator, Index: o.DeviceIDs[0]}
}

// Refiner reviews and improves a prediction for one batch.
type Refiner interface {
	// Refine returns one [3,H,W] result per batch item, already cropped to
	// the batch's UnpadToSize.
	Refine(ctx context.Context, batch *inference.Batch, model inference.Model, opts Options) ([]*tensor.Tensor, error)
}

// Iterative re-runs the model on its own composited prediction and blends
// successive estimates inside the hole.
type Iterative struct {
	Log zerolog.Logger
}

// Refine implements Refiner.
func (r *Iterative) Refine(ctx context.Context, batch *inference.Batch, model inference.Model, opts Options) ([]*tensor.Tensor, error) {
	if batch == nil || batch.UnpadToSize == nil {
		return nil, ErrMissingUnpadSize
	}
	if opts.NIters <= 0 {
		return nil, fmt.Errorf("n_iters must be positive, got %d", opts.NIters)
	}
	if opts.OutKey == "" {
		opts.OutKey = "inpainted"
	}

	known, err := padBatched(batch.Image, opts.Modulo)
	if err != nil {
		return nil, fmt.Errorf("pad image: %w", err)
	}
	rawMask, err := padBatched(batch.Mask, opts.Modulo)
	if err != nil {
		return nil, fmt.Errorf("pad mask: %w", err)
	}
	mask := tensor.Binarize(rawMask)
	dev := opts.Device(batch.Device)
	var est *tensor.Tensor

	for it := 0; it < opts.NIters; it++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		in := batch.To(dev)
		in.Image, in.Mask = known, mask
		if est != nil {
			in.Image = est
		}
		out, err := model.Forward(ctx, in)
		if err != nil {
			return nil, fmt.Errorf("refinement iteration %d: %w", it, err)
		}
		pred, ok := out[opts.OutKey]
		if !ok {
			return nil, fmt.Errorf("refinement iteration %d: model has no output %q", it, opts.OutKey)
		}
		if !tensor.SameShape(pred, known) {
			return nil, fmt.Errorf("refinement iteration %d: output shape %v does not match input %v", it, pred.Shape(), known.Shape())
		}

		est = compose(est, pred, known, mask, opts.Blend)
		r.Log.Debug().Int("iter", it).Str("device", dev.String()).Msg("refinement step")
	}

	item, err := est.Index0(0)
	if err != nil {
		return nil, err
	}
	size := *batch.UnpadToSize
	res, err := tensor.CropCHW(item, size[0], size[1])
	if err != nil {
		return nil, err
	}
	return []*tensor.Tensor{res}, nil
}

// padBatched pads a [1,C,H,W] tensor to a multiple of mod.
func padBatched(t *tensor.Tensor, mod int) (*tensor.Tensor, error) {
	if mod <= 1 {
		return t, nil
	}
	item, err := t.Index0(0)
	if err != nil {
		return nil, err
	}
	padded, _, err := tensor.PadToModulo(item, mod)
	if err != nil {
		return nil, err
	}
	return padded.Unsqueeze0(), nil
}

// compose blends pred into prev inside the hole (weight blend on prev) and
// restores known pixels outside it. prev == nil takes pred as is.
func compose(prev, pred, known, mask *tensor.Tensor, blend float64) *tensor.Tensor {
	out := tensor.New(known.Shape()...)
	o, p, k, m := out.Data(), pred.Data(), known.Data(), mask.Data()
	plane := len(m)
	b := float32(blend)
	for i := range o {
		v := p[i]
		if prev != nil {
			v = b*prev.Data()[i] + (1-b)*v
		}
		mv := m[i%plane]
		o[i] = mv*v + (1-mv)*k[i]
	}
	return out
}
