package inference

import (
	"context"
	"fmt"

	"github.com/nvr-ai/go-classifier/inference/gorgonnx"
	"github.com/nvr-ai/go-classifier/inference/providers"
	"github.com/nvr-ai/go-classifier/onnx"
	"github.com/nvr-ai/go-classifier/pipeline"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gorgonia.org/tensor"
)

// Output is a named model output.
type Output struct {
	Name   string
	Tensor *tensor.Dense
}

// Engine defines the interface for ML inference engines
type Engine interface {
	// Inputs lists the model inputs discovered from the model file.
	Inputs() []onnx.ValueInfo
	// Outputs lists the model outputs in the order Run returns them.
	Outputs() []onnx.ValueInfo
	// Run executes the model once.
	Run(ctx context.Context, inputs map[string]*tensor.Dense) ([]Output, error)
	Close() error
}

// Backend is a model runner that returns unnamed outputs in declaration order.
type Backend interface {
	Inputs() []onnx.ValueInfo
	Outputs() []onnx.ValueInfo
	Run(ctx context.Context, inputs map[string]*tensor.Dense) ([]*tensor.Dense, error)
	Close() error
}

// EngineBuilder helps build engines with a fluent API.
type EngineBuilder struct {
	kind    EngineType
	model   string
	options providers.Options
	log     logrus.FieldLogger
	err     error
}

// NewEngineBuilder creates a new engine builder.
//
// Returns:
//   - *EngineBuilder: The engine builder, defaulting to onnxruntime with DefaultOptions.
func NewEngineBuilder() *EngineBuilder {
	return &EngineBuilder{
		kind:    EngineONNXRuntime,
		options: providers.DefaultOptions(),
		log:     logrus.StandardLogger(),
	}
}

// WithEngine sets the engine type.
//
// Arguments:
//   - name: One of Engines.
//
// Returns:
//   - *EngineBuilder: The engine builder.
func (b *EngineBuilder) WithEngine(name string) *EngineBuilder {
	if b.HasError() {
		return b
	}
	kind, err := ParseEngineType(name)
	if err != nil {
		b.err = &pipeline.StageError{Stage: pipeline.StageConfig, Err: err}
		return b
	}
	b.kind = kind
	return b
}

// WithModel sets the model file for the engine.
//
// Arguments:
//   - path: The path to the .onnx file.
//
// Returns:
//   - *EngineBuilder: The engine builder.
func (b *EngineBuilder) WithModel(path string) *EngineBuilder {
	if b.HasError() {
		return b
	}
	b.model = path
	return b
}

// WithOptions sets the onnxruntime options. They are ignored by the gorgonnx engine.
func (b *EngineBuilder) WithOptions(opts providers.Options) *EngineBuilder {
	if b.HasError() {
		return b
	}
	if err := opts.Validate(); err != nil {
		b.err = &pipeline.StageError{Stage: pipeline.StageConfig, Err: err}
		return b
	}
	b.options = opts
	return b
}

// WithLogger sets the logger handed to the backend.
func (b *EngineBuilder) WithLogger(log logrus.FieldLogger) *EngineBuilder {
	if log != nil {
		b.log = log
	}
	return b
}

// HasError checks if the engine builder has errors.
//
// Returns:
//   - bool: True if there are errors, false otherwise.
func (b *EngineBuilder) HasError() bool {
	return b.err != nil
}

// Build loads the model into the selected backend.
//
// Returns:
//   - Engine: The engine.
//   - error: The error if any.
func (b *EngineBuilder) Build() (Engine, error) {
	if b.HasError() {
		return nil, b.err
	}
	if b.model == "" {
		return nil, &pipeline.StageError{Stage: pipeline.StageConfig, Err: errors.New("model not configured")}
	}

	log := b.log.WithField("engine", b.kind)

	var (
		backend Backend
		err     error
	)
	switch b.kind {
	case EngineONNXRuntime:
		backend, err = providers.NewSession(b.model, b.options, log)
	case EngineGorgonnx:
		backend, err = gorgonnx.New(b.model, log)
	default:
		err = &pipeline.StageError{Stage: pipeline.StageConfig, Err: fmt.Errorf("unknown engine %q", b.kind)}
	}
	if err != nil {
		return nil, err
	}

	log.WithField("model", b.model).Info("model loaded")
	return Wrap(backend), nil
}

// Wrap turns a Backend into an Engine that names its outputs.
func Wrap(backend Backend) Engine {
	return &engine{backend: backend}
}

// engine implements the Engine interface.
type engine struct {
	backend Backend
}

func (e *engine) Inputs() []onnx.ValueInfo  { return e.backend.Inputs() }
func (e *engine) Outputs() []onnx.ValueInfo { return e.backend.Outputs() }
func (e *engine) Close() error              { return e.backend.Close() }

// Run executes the backend and pairs each result with its declared output name.
func (e *engine) Run(ctx context.Context, inputs map[string]*tensor.Dense) ([]Output, error) {
	tensors, err := e.backend.Run(ctx, inputs)
	if err != nil {
		return nil, err
	}

	declared := e.backend.Outputs()
	if len(tensors) != len(declared) {
		return nil, &pipeline.ShapeError{
			Stage: pipeline.StageInference,
			What:  "output count",
			Want:  []int{len(declared)},
			Got:   []int{len(tensors)},
		}
	}

	outputs := make([]Output, len(tensors))
	for i, t := range tensors {
		outputs[i] = Output{Name: declared[i].Name, Tensor: t}
	}
	return outputs, nil
}

// ResolveNames picks the input and output names used for classification.
//
// Arguments:
//   - e: The engine whose metadata is consulted.
//   - input: A configured input name, or empty for the first declared input.
//   - output: A configured output name, or empty for the first declared output.
//
// Returns:
//   - string: The input name.
//   - string: The output name.
//   - error: *pipeline.StageError with StageModel when a name is not declared by the model.
func ResolveNames(e Engine, input, output string) (string, string, error) {
	in, err := resolve(e.Inputs(), input, "input")
	if err != nil {
		return "", "", err
	}
	out, err := resolve(e.Outputs(), output, "output")
	if err != nil {
		return "", "", err
	}
	return in, out, nil
}

func resolve(declared []onnx.ValueInfo, name, kind string) (string, error) {
	if len(declared) == 0 {
		return "", &pipeline.StageError{Stage: pipeline.StageModel, Err: errors.Errorf("model declares no %ss", kind)}
	}
	if name == "" {
		return declared[0].Name, nil
	}
	for _, v := range declared {
		if v.Name == name {
			return name, nil
		}
	}
	return "", &pipeline.StageError{
		Stage: pipeline.StageModel,
		Err:   errors.Errorf("model has no %s named %q, declared: %v", kind, name, names(declared)),
	}
}

// SelectOutput returns the output with the given name.
//
// Arguments:
//   - outputs: The result of Engine.Run.
//   - name: The authoritative output name, usually from ResolveNames.
//
// Returns:
//   - *tensor.Dense: The output tensor.
//   - error: *pipeline.StageError with StageInference when no output has that name.
func SelectOutput(outputs []Output, name string) (*tensor.Dense, error) {
	for _, o := range outputs {
		if o.Name == name {
			return o.Tensor, nil
		}
	}
	got := make([]string, len(outputs))
	for i, o := range outputs {
		got[i] = o.Name
	}
	return nil, &pipeline.StageError{
		Stage: pipeline.StageInference,
		Err:   errors.Errorf("no output named %q among %v", name, got),
	}
}

func names(values []onnx.ValueInfo) []string {
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = v.Name
	}
	return out
}
