package providers

import (
	"context"
	"fmt"

	"github.com/nvr-ai/go-classifier/onnx"
	"github.com/nvr-ai/go-classifier/pipeline"
	"github.com/nvr-ai/go-classifier/util"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	ort "github.com/yalue/onnxruntime_go"
	"gorgonia.org/tensor"
)

// Session represents a model session from the onnxruntime.
type Session struct {
	session *ort.DynamicAdvancedSession
	inputs  []ort.InputOutputInfo
	outputs []ort.InputOutputInfo
	log     logrus.FieldLogger
}

// NewSession creates a CPU session for a model file.
//
// Order of operations:
//  1. Environment setup: loads the shared library once per process.
//  2. Metadata: reads the model input and output names, types and dims.
//  3. Session options: threading, execution mode and graph optimization level.
//  4. Session creation: a dynamic session, so outputs are allocated by the runtime per run.
//
// Arguments:
//   - modelPath: The path to the .onnx file.
//   - opts: The runtime options.
//   - log: The logger; nil selects the logrus standard logger.
//
// Returns:
//   - *Session: The session. Close releases it.
//   - error: *pipeline.StageError with StageModel if any step fails.
func NewSession(modelPath string, opts Options, log logrus.FieldLogger) (*Session, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	fail := func(err error) (*Session, error) {
		return nil, &pipeline.StageError{Stage: pipeline.StageModel, Err: err}
	}

	if err := InitializeEnvironment(opts.SharedLibraryPath, opts.Verbose); err != nil {
		return fail(err)
	}

	inputs, outputs, err := ort.GetInputOutputInfo(modelPath)
	if err != nil {
		return fail(errors.Wrapf(err, "read model metadata from %s", modelPath))
	}
	if len(inputs) == 0 || len(outputs) == 0 {
		return fail(errors.Errorf("model %s declares %d inputs and %d outputs", modelPath, len(inputs), len(outputs)))
	}

	options, err := opts.sessionOptions()
	if err != nil {
		return fail(err)
	}
	defer options.Destroy()

	session, err := ort.NewDynamicAdvancedSession(modelPath, infoNames(inputs), infoNames(outputs), options)
	if err != nil {
		return fail(errors.Wrap(err, "create ORT session"))
	}

	log.WithFields(logrus.Fields{
		"model":   modelPath,
		"inputs":  infoNames(inputs),
		"outputs": infoNames(outputs),
	}).Debug("created onnxruntime session")

	return &Session{session: session, inputs: inputs, outputs: outputs, log: log}, nil
}

// Inputs returns the model inputs in declaration order.
func (s *Session) Inputs() []onnx.ValueInfo {
	return valueInfos(s.inputs)
}

// Outputs returns the model outputs in declaration order.
func (s *Session) Outputs() []onnx.ValueInfo {
	return valueInfos(s.outputs)
}

// Run feeds one tensor per model input and returns every output in declaration order.
//
// Arguments:
//   - ctx: Checked for cancellation before the native call.
//   - inputs: Tensors keyed by input name.
//
// Returns:
//   - []*tensor.Dense: Copies of the outputs; the native tensors are destroyed before returning.
//   - error: *pipeline.ShapeError for missing or mis-shaped inputs, *pipeline.StageError for
//     runtime failures.
func (s *Session) Run(ctx context.Context, inputs map[string]*tensor.Dense) ([]*tensor.Dense, error) {
	if err := ctx.Err(); err != nil {
		return nil, &pipeline.StageError{Stage: pipeline.StageInference, Err: err}
	}

	values := make([]ort.Value, 0, len(s.inputs))
	defer func() {
		for _, v := range values {
			v.Destroy()
		}
	}()

	for _, info := range s.inputs {
		value, err := toValue(info, inputs[info.Name])
		if err != nil {
			return nil, err
		}
		values = append(values, value)
	}

	outputs := make([]ort.Value, len(s.outputs))
	defer func() {
		for _, v := range outputs {
			if v != nil {
				v.Destroy()
			}
		}
	}()

	if err := s.session.Run(values, outputs); err != nil {
		return nil, &pipeline.StageError{Stage: pipeline.StageInference, Err: errors.Wrap(err, "run ORT session")}
	}

	results := make([]*tensor.Dense, len(outputs))
	for i, v := range outputs {
		dense, err := fromValue(v)
		if err != nil {
			return nil, &pipeline.StageError{
				Stage: pipeline.StageInference,
				Err:   errors.Wrapf(err, "output %s", s.outputs[i].Name),
			}
		}
		results[i] = dense
	}

	return results, nil
}

// Close releases the native session.
func (s *Session) Close() error {
	if s.session == nil {
		return nil
	}
	err := s.session.Destroy()
	s.session = nil
	if err != nil {
		return errors.Wrap(err, "destroy ORT session")
	}
	return nil
}

// toValue converts an input tensor to the element type the model declares.
func toValue(info ort.InputOutputInfo, t *tensor.Dense) (ort.Value, error) {
	what := fmt.Sprintf("input %q", info.Name)
	if t == nil {
		return nil, &pipeline.ShapeError{Stage: pipeline.StageInference, What: what, Detail: "no tensor provided"}
	}

	got := []int(t.Shape())
	if !matchesDims(info.Dimensions, got) {
		want := make([]int, len(info.Dimensions))
		for i, d := range info.Dimensions {
			want[i] = int(d)
		}
		return nil, &pipeline.ShapeError{Stage: pipeline.StageInference, What: what, Want: want, Got: append([]int(nil), got...)}
	}

	shape := make(ort.Shape, len(got))
	for i, d := range got {
		shape[i] = int64(d)
	}

	var (
		value ort.Value
		err   error
	)
	switch info.DataType {
	case ort.TensorElementDataTypeFloat:
		var data []float32
		if data, err = util.Float32s(t); err == nil {
			value, err = ort.NewTensor(shape, data)
		}
	case ort.TensorElementDataTypeDouble:
		var data []float64
		if data, err = util.Float64s(t); err == nil {
			value, err = ort.NewTensor(shape, data)
		}
	default:
		return nil, &pipeline.ShapeError{
			Stage:  pipeline.StageInference,
			What:   what,
			Detail: fmt.Sprintf("unsupported element type %s", onnx.DataType(info.DataType)),
		}
	}
	if err != nil {
		return nil, &pipeline.StageError{Stage: pipeline.StageInference, Err: errors.Wrapf(err, "create tensor for %s", what)}
	}
	return value, nil
}

// fromValue copies a runtime-allocated output into a dense tensor.
func fromValue(v ort.Value) (*tensor.Dense, error) {
	switch t := v.(type) {
	case *ort.Tensor[float32]:
		return dense(t.GetShape(), append([]float32(nil), t.GetData()...)), nil
	case *ort.Tensor[float64]:
		return dense(t.GetShape(), append([]float64(nil), t.GetData()...)), nil
	case *ort.Tensor[int64]:
		return dense(t.GetShape(), append([]int64(nil), t.GetData()...)), nil
	case *ort.Tensor[int32]:
		return dense(t.GetShape(), append([]int32(nil), t.GetData()...)), nil
	case *ort.Tensor[uint8]:
		return dense(t.GetShape(), append([]uint8(nil), t.GetData()...)), nil
	case nil:
		return nil, errors.New("runtime returned no value")
	default:
		return nil, errors.Errorf("unsupported output value %T", v)
	}
}

func dense(shape ort.Shape, backing interface{}) *tensor.Dense {
	dims := make([]int, len(shape))
	for i, d := range shape {
		dims[i] = int(d)
	}
	if len(dims) == 0 {
		dims = []int{1}
	}
	return tensor.New(tensor.WithShape(dims...), tensor.WithBacking(backing))
}

// matchesDims compares declared dims with actual ones; symbolic dims (<= 0) match anything.
func matchesDims(declared ort.Shape, got []int) bool {
	if len(declared) != len(got) {
		return false
	}
	for i, d := range declared {
		if d > 0 && int(d) != got[i] {
			return false
		}
	}
	return true
}

func infoNames(infos []ort.InputOutputInfo) []string {
	names := make([]string, len(infos))
	for i, info := range infos {
		names[i] = info.Name
	}
	return names
}

func valueInfos(infos []ort.InputOutputInfo) []onnx.ValueInfo {
	out := make([]onnx.ValueInfo, len(infos))
	for i, info := range infos {
		out[i] = onnx.ValueInfo{
			Name:  info.Name,
			Type:  onnx.DataType(info.DataType),
			Shape: append([]int64(nil), info.Dimensions...),
		}
	}
	return out
}
