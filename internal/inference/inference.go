// internal/inference/inference.go
package inference

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/rs/zerolog"
	ort "github.com/yalue/onnxruntime_go"

	"github.com/SyedDaiam9101/inpaint-predict/internal/device"
	"github.com/SyedDaiam9101/inpaint-predict/internal/tensor"
)

// SessionSpec is the explicit runtime setup for one ONNX session. It replaces
// process-wide thread environment variables.
type SessionSpec struct {
	Device         device.Device
	Inputs         []string // batch fields the generator declares
	Outputs        []string // output names the generator declares
	IntraOpThreads int
	InterOpThreads int
	SharedLibrary  string
	// Train is the checkpoint's training config. When set it must have been
	// prepared for prediction.
	Train *TrainConfig
}

// ErrNotPredictOnly is returned when a session is requested with a training
// config that still has training-time behavior enabled.
var ErrNotPredictOnly = errors.New("training config is not prepared for prediction")

// Validate checks the spec before a session is created.
func (s SessionSpec) Validate() error {
	if s.Train == nil {
		return nil
	}
	if !s.Train.PredictOnly() {
		return fmt.Errorf("%w: training_model.predict_only is false", ErrNotPredictOnly)
	}
	if kind := s.Train.String("visualizer.kind"); kind != "noop" {
		return fmt.Errorf("%w: visualizer.kind is %q", ErrNotPredictOnly, kind)
	}
	return nil
}

// ONNXModel wraps an ONNX runtime session exported from the inpainting generator.
// It implements the Model interface.
type ONNXModel struct {
	mu      sync.Mutex
	session *ort.DynamicAdvancedSession
	inputs  []string
	outputs []string
	dims    map[string]ort.Shape
	device  device.Device
}

// NewONNX loads the checkpoint at modelPath and binds its inputs and outputs
// non-strictly against spec: outputs the graph has but spec does not declare
// are ignored, declared outputs the graph lacks are dropped with a warning.
func NewONNX(modelPath string, spec SessionSpec, log zerolog.Logger) (*ONNXModel, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	if spec.SharedLibrary != "" {
		ort.SetSharedLibraryPath(spec.SharedLibrary)
	}
	if !ort.IsInitialized() {
		if err := ort.InitializeEnvironment(); err != nil {
			return nil, fmt.Errorf("failed to initialize ONNX environment: %w", err)
		}
	}

	inInfo, outInfo, err := ort.GetInputOutputInfo(modelPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read ONNX graph info: %w", err)
	}

	graphInputs := make([]string, len(inInfo))
	for i, info := range inInfo {
		graphInputs[i] = info.Name
	}
	inBind := BindNonStrict(spec.Inputs, graphInputs)
	if len(inBind.Extra) > 0 {
		return nil, fmt.Errorf("graph inputs %v have no batch field", inBind.Extra)
	}
	if len(inBind.Bound) == 0 {
		return nil, fmt.Errorf("no graph input matches declared inputs %v", spec.Inputs)
	}

	graphOutputs := make([]string, len(outInfo))
	dims := make(map[string]ort.Shape, len(outInfo))
	for i, info := range outInfo {
		graphOutputs[i] = info.Name
		dims[info.Name] = info.Dimensions
	}
	outBind := BindNonStrict(spec.Outputs, graphOutputs)
	if len(outBind.Missing) > 0 {
		log.Warn().Strs("missing", outBind.Missing).Msg("declared outputs not found in checkpoint")
	}
	if len(outBind.Extra) > 0 {
		log.Debug().Strs("ignored", outBind.Extra).Msg("checkpoint has undeclared outputs")
	}
	if len(outBind.Bound) == 0 {
		return nil, fmt.Errorf("no graph output matches declared outputs %v", spec.Outputs)
	}

	options, err := newSessionOptions(spec, log)
	if err != nil {
		return nil, err
	}
	defer options.Destroy()

	session, err := ort.NewDynamicAdvancedSession(modelPath, inBind.Bound, outBind.Bound, options)
	if err != nil {
		return nil, fmt.Errorf("failed to create ONNX session: %w", err)
	}

	return &ONNXModel{
		session: session,
		inputs:  inBind.Bound,
		outputs: outBind.Bound,
		dims:    dims,
		device:  spec.Device,
	}, nil
}

func newSessionOptions(spec SessionSpec, log zerolog.Logger) (*ort.SessionOptions, error) {
	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("failed to create session options: %w", err)
	}
	if err := options.SetIntraOpNumThreads(spec.IntraOpThreads); err != nil {
		options.Destroy()
		return nil, fmt.Errorf("failed to set intra-op threads: %w", err)
	}
	if err := options.SetInterOpNumThreads(spec.InterOpThreads); err != nil {
		options.Destroy()
		return nil, fmt.Errorf("failed to set inter-op threads: %w", err)
	}

	if spec.Device.IsAccelerator() {
		if err := appendCUDA(options, spec.Device.Index); err != nil {
			// CUDA provider not usable; the session runs on the CPU provider.
			log.Warn().Err(err).Str("device", spec.Device.String()).Msg("CUDA execution provider unavailable, using cpu")
		}
	}
	return options, nil
}

func appendCUDA(options *ort.SessionOptions, index int) error {
	cuda, err := ort.NewCUDAProviderOptions()
	if err != nil {
		return err
	}
	defer cuda.Destroy()
	if err := cuda.Update(map[string]string{"device_id": strconv.Itoa(index)}); err != nil {
		return err
	}
	return options.AppendExecutionProviderCUDA(cuda)
}

// Forward runs the generator on a singleton batch.
func (m *ONNXModel) Forward(ctx context.Context, batch *Batch) (Outputs, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.session == nil {
		return nil, fmt.Errorf("inference session is nil")
	}
	if batch == nil || batch.Image == nil {
		return nil, fmt.Errorf("empty batch")
	}
	h, w := batch.Size()

	inputs := make([]ort.ArbitraryTensor, 0, len(m.inputs))
	defer func() { destroyAll(inputs) }()
	for _, name := range m.inputs {
		t, ok := batch.Field(name)
		if !ok {
			return nil, fmt.Errorf("batch has no field %q", name)
		}
		in, err := ort.NewTensor(toShape(t.Shape()), t.Data())
		if err != nil {
			return nil, fmt.Errorf("failed to create input tensor %q: %w", name, err)
		}
		inputs = append(inputs, in)
	}

	outputs := make([]*ort.Tensor[float32], 0, len(m.outputs))
	defer func() {
		for _, o := range outputs {
			o.Destroy()
		}
	}()
	args := make([]ort.ArbitraryTensor, 0, len(m.outputs))
	for _, name := range m.outputs {
		out, err := ort.NewEmptyTensor[float32](resolveShape(m.dims[name], 1, int64(h), int64(w)))
		if err != nil {
			return nil, fmt.Errorf("failed to create output tensor %q: %w", name, err)
		}
		outputs = append(outputs, out)
		args = append(args, out)
	}

	if err := m.session.Run(inputs, args); err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}

	result := make(Outputs, len(outputs))
	for i, name := range m.outputs {
		shape := fromShape(outputs[i].GetShape())
		data := append([]float32(nil), outputs[i].GetData()...)
		t, err := tensor.FromData(data, shape...)
		if err != nil {
			return nil, fmt.Errorf("output %q: %w", name, err)
		}
		result[name] = t
	}
	return result, nil
}

// Device reports the device the session was created for.
func (m *ONNXModel) Device() device.Device { return m.device }

// Close releases the ONNX session resources
func (m *ONNXModel) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.session != nil {
		err := m.session.Destroy()
		m.session = nil
		if err != nil {
			return fmt.Errorf("failed to destroy session: %w", err)
		}
	}

	return ort.DestroyEnvironment()
}

// resolveShape fills dynamic (negative) dimensions of an NCHW output from
// the batch: N=1, C=3, H and W from the input image.
func resolveShape(dims ort.Shape, n, h, w int64) ort.Shape {
	if len(dims) != 4 {
		return ort.NewShape(n, 3, h, w)
	}
	fill := [4]int64{n, 3, h, w}
	out := make(ort.Shape, 4)
	for i, d := range dims {
		if d <= 0 {
			d = fill[i]
		}
		out[i] = d
	}
	return out
}

func toShape(dims []int) ort.Shape {
	out := make(ort.Shape, len(dims))
	for i, d := range dims {
		out[i] = int64(d)
	}
	return out
}

func fromShape(s ort.Shape) []int {
	out := make([]int, len(s))
	for i, d := range s {
		out[i] = int(d)
	}
	return out
}

func destroyAll(ts []ort.ArbitraryTensor) {
	for _, t := range ts {
		t.Destroy()
	}
}

// Ensure ONNXModel implements Model at compile time
var _ Model = (*ONNXModel)(nil)
