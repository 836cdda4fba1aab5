package inference

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/rs/zerolog"

	"github.com/SyedDaiam9101/inpaint-predict/internal/config"
	"github.com/SyedDaiam9101/inpaint-predict/internal/device"
)

// ErrCheckpoint wraps every failure to read the training config or weights.
var ErrCheckpoint = errors.New("checkpoint")

// Source says where the model comes from: loaded fresh from a checkpoint, or
// supplied by the caller together with its device.
type Source interface {
	isSource()
}

// Fresh loads the model described by Config.
type Fresh struct {
	Config *config.Config
}

// Preloaded reuses a model and device the caller already owns.
type Preloaded struct {
	Model  Model
	Device device.Device
}

func (Fresh) isSource()     {}
func (Preloaded) isSource() {}

// Loader turns a checkpoint file into a Model.
type Loader interface {
	Load(ctx context.Context, checkpointPath string, spec SessionSpec) (Model, error)
}

// ONNXLoader loads checkpoints with onnxruntime.
type ONNXLoader struct {
	Log zerolog.Logger
}

func (l ONNXLoader) Load(_ context.Context, checkpointPath string, spec SessionSpec) (Model, error) {
	return NewONNX(checkpointPath, spec, l.Log)
}

// MockLoader returns a MockModel for any checkpoint.
type MockLoader struct{}

func (MockLoader) Load(_ context.Context, _ string, spec SessionSpec) (Model, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	return NewMockOn(spec.Device), nil
}

// Provisioner produces the single frozen model used for a run.
type Provisioner struct {
	Resolver *device.Resolver
	Loader   Loader
	Log      zerolog.Logger
}

// Provision returns an inference-ready model and its device.
func (p *Provisioner) Provision(ctx context.Context, src Source) (Model, device.Device, error) {
	switch s := src.(type) {
	case Preloaded:
		if s.Model == nil {
			return nil, device.Device{}, fmt.Errorf("preloaded source has no model")
		}
		p.Log.Info().Str("device", s.Device.String()).Msg("using preloaded model and device")
		return s.Model, s.Device, nil
	case Fresh:
		return p.loadFresh(ctx, s.Config)
	}
	return nil, device.Device{}, fmt.Errorf("unknown model source %T", src)
}

func (p *Provisioner) loadFresh(ctx context.Context, cfg *config.Config) (Model, device.Device, error) {
	if cfg == nil {
		return nil, device.Device{}, fmt.Errorf("fresh source has no config")
	}
	p.Log.Info().Str("path", cfg.CheckpointDir()).Msg("loading model and configuration")

	want, err := device.ParseKind(cfg.Device)
	if err != nil {
		return nil, device.Device{}, err
	}
	dev := p.Resolver.Resolve(want)

	train, err := p.readTrainConfig(cfg)
	if err != nil {
		return nil, device.Device{}, err
	}

	ckpt := cfg.CheckpointPath()
	if !cfg.UseMockInference {
		if _, err := os.Stat(ckpt); err != nil {
			return nil, device.Device{}, fmt.Errorf("%w: weights %s: %w", ErrCheckpoint, ckpt, err)
		}
	}

	spec := SessionSpec{
		Device:         dev,
		Inputs:         train.GeneratorInputs(),
		Outputs:        train.GeneratorOutputs(),
		IntraOpThreads: cfg.Runtime.IntraOpThreads,
		InterOpThreads: cfg.Runtime.InterOpThreads,
		SharedLibrary:  cfg.Runtime.ONNXLibrary,
		Train:          train,
	}
	model, err := p.Loader.Load(ctx, ckpt, spec)
	if err != nil {
		return nil, device.Device{}, fmt.Errorf("%w: load %s: %w", ErrCheckpoint, ckpt, err)
	}

	p.Log.Info().
		Str("checkpoint", ckpt).
		Str("device", dev.String()).
		Bool("predict_only", train.PredictOnly()).
		Str("visualizer", train.String("visualizer.kind")).
		Msg("model ready")
	return model, dev, nil
}

func (p *Provisioner) readTrainConfig(cfg *config.Config) (*TrainConfig, error) {
	path := cfg.TrainConfigPath()
	train, err := ReadTrainConfig(path)
	if err != nil {
		if cfg.UseMockInference && errors.Is(err, os.ErrNotExist) {
			train = &TrainConfig{doc: map[string]any{}}
		} else {
			return nil, fmt.Errorf("%w: training config %s: %w", ErrCheckpoint, path, err)
		}
	}
	train.PrepareForPrediction()
	return train, nil
}
