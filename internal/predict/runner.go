package predict

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/SyedDaiam9101/inpaint-predict/internal/config"
	"github.com/SyedDaiam9101/inpaint-predict/internal/dataset"
	"github.com/SyedDaiam9101/inpaint-predict/internal/device"
	"github.com/SyedDaiam9101/inpaint-predict/internal/inference"
	"github.com/SyedDaiam9101/inpaint-predict/internal/logging"
	"github.com/SyedDaiam9101/inpaint-predict/internal/metrics"
	"github.com/SyedDaiam9101/inpaint-predict/internal/progress"
	"github.com/SyedDaiam9101/inpaint-predict/internal/refine"
	"github.com/SyedDaiam9101/inpaint-predict/internal/telemetry"
)

// OpenFunc opens the dataset for a run.
type OpenFunc func(indir string, opts dataset.Options) (Dataset, error)

// OpenDefault opens the default validation dataset.
func OpenDefault(indir string, opts dataset.Options) (Dataset, error) {
	return dataset.Open(indir, opts)
}

// Runner drives a whole prediction run.
type Runner struct {
	Config      *config.Config
	Provisioner *inference.Provisioner

	// Source defaults to inference.Fresh{Config: Config}.
	Source inference.Source
	// Open defaults to OpenDefault.
	Open OpenFunc
	// Refiner defaults to refine.Iterative.
	Refiner refine.Refiner
	// Progress defaults to progress.Nop.
	Progress progress.Reporter
	// OnReady is called once the model is loaded and the dataset opened.
	OnReady func()

	Log zerolog.Logger
}

// Run provisions the model once and processes every sample in index order.
// It stops at the first error or when ctx is cancelled.
func (r *Runner) Run(ctx context.Context) (err error) {
	cfg := r.Config
	ctx, span := telemetry.Tracer().Start(ctx, "predict.run")
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	src := r.Source
	if src == nil {
		src = inference.Fresh{Config: cfg}
	}
	model, dev, err := r.Provisioner.Provision(ctx, src)
	if err != nil {
		return err
	}
	if _, fresh := src.(inference.Fresh); fresh {
		defer func() {
			if cerr := model.Close(); cerr != nil {
				r.Log.Warn().Err(cerr).Msg("failed to release model")
			}
		}()
	}

	open := r.Open
	if open == nil {
		open = OpenDefault
	}
	ds, err := open(cfg.InDir, dataset.Options{
		Kind:           cfg.Dataset.Kind,
		ImgSuffix:      cfg.Dataset.ImgSuffix,
		PadOutToModulo: cfg.Dataset.PadOutToModulo,
	})
	if err != nil {
		return fmt.Errorf("failed to open dataset: %w", err)
	}

	pipe := r.pipeline(model, dev, ds)
	total := ds.Len()
	span.SetAttributes(attribute.Int("run.samples", total), attribute.String("run.device", dev.String()))
	metrics.SetProgress(0, total)
	r.Log.Info().Int("samples", total).Str("device", dev.String()).Bool("refine", cfg.Refine).Msg("starting prediction")
	if r.OnReady != nil {
		r.OnReady()
	}

	reporter := r.Progress
	if reporter == nil {
		reporter = progress.Nop{}
	}

	for i := 0; i < total; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		path, err := pipe.ProcessSample(ctx, i)
		if err != nil {
			return fmt.Errorf("sample %d (%s): %w", i, ds.MaskFilename(i), err)
		}

		metrics.SetProgress(i+1, total)
		r.Log.Info().Int("done", i+1).Int("total", total).Str("out", path).Msg("sample processed")
		if err := reporter.Report(ctx, i+1, total, path); err != nil {
			r.Log.Warn().Err(err).Msg("failed to report progress")
		}
	}

	r.Log.Info().Int("samples", total).Str("outdir", cfg.OutDir).Msg("prediction finished")
	return nil
}

func (r *Runner) pipeline(model inference.Model, dev device.Device, ds Dataset) *Pipeline {
	cfg := r.Config
	refiner := r.Refiner
	if refiner == nil {
		refiner = &refine.Iterative{Log: r.Log}
	}

	ids := device.RefinerDeviceIDs(dev, cfg.Refiner.HasDeviceIDs)
	if cfg.Refiner.HasDeviceIDs {
		r.Log.Debug().Ints("configured", cfg.Refiner.DeviceIDs).Ints("device_ids", ids).Msg("refiner device ids rewritten")
	}

	return &Pipeline{
		Model:   model,
		Device:  dev,
		Dataset: ds,
		Output: Output{
			InDir:  cfg.InDir,
			OutDir: cfg.OutDir,
			OutExt: cfg.OutExt,
			OutKey: cfg.OutKey,
		},
		Refine:  cfg.Refine,
		Refiner: refiner,
		RefineOpts: refine.Options{
			DeviceIDs: ids,
			NIters:    cfg.Refiner.NIters,
			Modulo:    cfg.Refiner.Modulo,
			Blend:     cfg.Refiner.Blend,
			OutKey:    cfg.OutKey,
		},
		Log: r.Log,
	}
}

// Execute runs r and maps the outcome to a process exit code: 0 when the run
// finished or was interrupted, 1 on any error or panic. Nothing escapes.
// Panics are logged with the panicking goroutine's stack under "stack".
// Errors carry their wrap chain in the message and the stack of this call
// under "boundary_stack".
func Execute(ctx context.Context, r *Runner) (code int) {
	log := r.Log
	defer func() {
		if rec := recover(); rec != nil {
			logging.Critical(&log).
				Str("stack", string(debug.Stack())).
				Msgf("Prediction failed due to panic: %v", rec)
			code = 1
		}
	}()

	err := r.Run(ctx)
	switch {
	case err == nil:
		return 0
	case errors.Is(err, context.Canceled):
		log.Warn().Msg("interrupted by user")
		return 0
	}

	logging.Critical(&log).
		Err(err).
		Str("boundary_stack", string(debug.Stack())).
		Msgf("Prediction failed due to %+v", err)
	return 1
}
