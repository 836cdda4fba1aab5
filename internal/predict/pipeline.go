// Package predict runs a trained inpainting model over every image/mask pair
// of an input directory and writes one prediction per mask.
package predict

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/SyedDaiam9101/inpaint-predict/internal/dataset"
	"github.com/SyedDaiam9101/inpaint-predict/internal/device"
	"github.com/SyedDaiam9101/inpaint-predict/internal/imageio"
	"github.com/SyedDaiam9101/inpaint-predict/internal/inference"
	"github.com/SyedDaiam9101/inpaint-predict/internal/metrics"
	"github.com/SyedDaiam9101/inpaint-predict/internal/refine"
	"github.com/SyedDaiam9101/inpaint-predict/internal/telemetry"
	"github.com/SyedDaiam9101/inpaint-predict/internal/tensor"
)

// Dataset is the indexed sample source a run iterates over.
type Dataset interface {
	Len() int
	MaskFilename(i int) string
	Get(i int) (*dataset.Sample, error)
}

// Output controls where and how predictions are written.
type Output struct {
	InDir  string
	OutDir string
	OutExt string
	OutKey string
}

// Pipeline turns one dataset sample into one image on disk.
type Pipeline struct {
	Model   inference.Model
	Device  device.Device
	Dataset Dataset
	Output  Output

	// Refiner is used when Refine is set.
	Refine     bool
	Refiner    refine.Refiner
	RefineOpts refine.Options

	Log zerolog.Logger
}

// ProcessSample predicts sample i and returns the path it was written to.
func (p *Pipeline) ProcessSample(ctx context.Context, i int) (path string, err error) {
	start := time.Now()
	route := metrics.PathDirect
	if p.Refine {
		route = metrics.PathRefine
	}

	maskPath := p.Dataset.MaskFilename(i)
	ctx, span := telemetry.Tracer().Start(ctx, "predict.sample", trace.WithAttributes(
		attribute.Int("sample.index", i),
		attribute.String("sample.mask", maskPath),
		attribute.String("sample.path", route),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		metrics.RecordSample(route, err, time.Since(start).Seconds())
	}()

	path, err = OutputPath(p.Output.InDir, p.Output.OutDir, maskPath, p.Output.OutExt)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}

	sample, err := p.Dataset.Get(i)
	if err != nil {
		return "", fmt.Errorf("failed to load sample %d: %w", i, err)
	}
	batch, err := inference.Collate(sample.Image, sample.Mask, sample.UnpadToSize)
	if err != nil {
		return "", fmt.Errorf("failed to collate sample %d: %w", i, err)
	}

	var hwc *tensor.Tensor
	if p.Refine {
		hwc, err = p.predictRefined(ctx, batch)
	} else {
		hwc, err = p.predictDirect(ctx, batch)
	}
	if err != nil {
		return "", err
	}

	if err := imageio.Save(path, hwc); err != nil {
		return "", err
	}
	p.Log.Debug().Int("index", i).Str("mask", maskPath).Str("out", path).Msg("prediction written")
	return path, nil
}

func (p *Pipeline) predictDirect(ctx context.Context, batch *inference.Batch) (*tensor.Tensor, error) {
	batch = batch.To(p.Device)
	batch.Mask = tensor.Binarize(batch.Mask)

	start := time.Now()
	outputs, err := p.Model.Forward(ctx, batch)
	if err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}
	metrics.RecordInferenceLatency(time.Since(start).Seconds())

	out, ok := outputs[p.Output.OutKey]
	if !ok {
		return nil, fmt.Errorf("%w %q (model produced %v)", ErrUnknownOutKey, p.Output.OutKey, outputKeys(outputs))
	}
	item, err := out.Index0(0)
	if err != nil {
		return nil, fmt.Errorf("output %q: %w", p.Output.OutKey, err)
	}
	hwc, err := tensor.PermuteCHWToHWC(item)
	if err != nil {
		return nil, fmt.Errorf("output %q: %w", p.Output.OutKey, err)
	}

	if batch.UnpadToSize != nil {
		size := *batch.UnpadToSize
		return tensor.CropHW(hwc, size[0], size[1])
	}
	return hwc, nil
}

func (p *Pipeline) predictRefined(ctx context.Context, batch *inference.Batch) (*tensor.Tensor, error) {
	if batch.UnpadToSize == nil {
		return nil, ErrMissingUnpadSize
	}
	if p.Refiner == nil {
		return nil, fmt.Errorf("refinement requested but no refiner configured")
	}
	batch = batch.To(p.Device)

	start := time.Now()
	results, err := p.Refiner.Refine(ctx, batch, p.Model, p.RefineOpts)
	if err != nil {
		return nil, fmt.Errorf("refinement failed: %w", err)
	}
	metrics.RecordInferenceLatency(time.Since(start).Seconds())

	if len(results) == 0 {
		return nil, fmt.Errorf("refinement returned no results")
	}
	return tensor.PermuteCHWToHWC(results[0])
}

func outputKeys(o inference.Outputs) []string {
	keys := make([]string, 0, len(o))
	for k := range o {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
