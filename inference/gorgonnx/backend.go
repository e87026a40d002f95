// Package gorgonnx - Pure Go model execution with onnx-go and the gorgonia backend.
package gorgonnx

import (
	"context"
	"fmt"
	"os"

	"github.com/nvr-ai/go-classifier/onnx"
	"github.com/nvr-ai/go-classifier/pipeline"
	"github.com/nvr-ai/go-classifier/util"
	onnxgo "github.com/owulveryck/onnx-go"
	"github.com/owulveryck/onnx-go/backend/x/gorgonnx"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gorgonia.org/tensor"
)

// Backend runs a model without native dependencies. Slower than onnxruntime, but useful where
// the shared library is unavailable.
type Backend struct {
	graph     *gorgonnx.Graph
	model     *onnxgo.Model
	signature onnx.Signature
	log       logrus.FieldLogger
}

// New reads a model file and compiles it into a gorgonia graph.
//
// Arguments:
//   - modelPath: The path to the .onnx file.
//   - log: The logger; nil selects the logrus standard logger.
//
// Returns:
//   - *Backend: The backend.
//   - error: *pipeline.IOError if the file cannot be read, *pipeline.StageError with
//     StageModel if the graph cannot be decoded or uses unsupported operators.
func New(modelPath string, log logrus.FieldLogger) (*Backend, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}

	data, err := os.ReadFile(modelPath)
	if err != nil {
		return nil, &pipeline.IOError{Stage: pipeline.StageModel, Path: modelPath, Err: err}
	}

	signature, err := onnx.ReadSignature(data)
	if err != nil {
		return nil, &pipeline.ParseError{Stage: pipeline.StageModel, Source: modelPath, Err: err}
	}

	graph := gorgonnx.NewGraph()
	model := onnxgo.NewModel(graph)
	if err := unmarshal(model, data); err != nil {
		return nil, &pipeline.StageError{Stage: pipeline.StageModel, Err: errors.Wrapf(err, "load %s", modelPath)}
	}

	log.WithFields(logrus.Fields{
		"model":   modelPath,
		"inputs":  signature.InputNames(),
		"outputs": signature.OutputNames(),
	}).Debug("compiled gorgonia graph")

	return &Backend{graph: graph, model: model, signature: signature, log: log}, nil
}

// unmarshal guards against panics raised by operators onnx-go does not implement.
func unmarshal(model *onnxgo.Model, data []byte) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("decode graph: %v", r)
		}
	}()
	return model.UnmarshalBinary(data)
}

// Inputs returns the graph inputs, initializers excluded.
func (b *Backend) Inputs() []onnx.ValueInfo {
	return b.signature.Inputs
}

// Outputs returns the graph outputs.
func (b *Backend) Outputs() []onnx.ValueInfo {
	return b.signature.Outputs
}

// Run feeds one float32 tensor per input and executes the graph.
//
// Arguments:
//   - ctx: Checked for cancellation before the run.
//   - inputs: Tensors keyed by input name.
//
// Returns:
//   - []*tensor.Dense: The outputs in declaration order.
//   - error: *pipeline.ShapeError for missing inputs, *pipeline.StageError for run failures.
func (b *Backend) Run(ctx context.Context, inputs map[string]*tensor.Dense) ([]*tensor.Dense, error) {
	if err := ctx.Err(); err != nil {
		return nil, &pipeline.StageError{Stage: pipeline.StageInference, Err: err}
	}
	if b.graph == nil || b.model == nil {
		return nil, &pipeline.StageError{Stage: pipeline.StageInference, Err: errors.New("backend is closed")}
	}

	for i, info := range b.signature.Inputs {
		t, ok := inputs[info.Name]
		if !ok || t == nil {
			return nil, &pipeline.ShapeError{
				Stage:  pipeline.StageInference,
				What:   fmt.Sprintf("input %q", info.Name),
				Detail: "no tensor provided",
			}
		}

		data, err := util.Float32s(t)
		if err != nil {
			return nil, &pipeline.ShapeError{Stage: pipeline.StageInference, What: fmt.Sprintf("input %q", info.Name), Detail: err.Error()}
		}
		// The graph keeps a reference to its inputs, so it gets its own copy.
		in := tensor.New(tensor.WithShape(t.Shape().Clone()...), tensor.WithBacking(append([]float32(nil), data...)))
		if err := b.model.SetInput(i, in); err != nil {
			return nil, &pipeline.StageError{Stage: pipeline.StageInference, Err: errors.Wrapf(err, "set input %s", info.Name)}
		}
	}

	if err := b.graph.Run(); err != nil {
		return nil, &pipeline.StageError{Stage: pipeline.StageInference, Err: errors.Wrap(err, "run gorgonia graph")}
	}

	results, err := b.model.GetOutputTensors()
	if err != nil {
		return nil, &pipeline.StageError{Stage: pipeline.StageInference, Err: errors.Wrap(err, "read outputs")}
	}

	outputs := make([]*tensor.Dense, len(results))
	for i, r := range results {
		d, ok := r.(*tensor.Dense)
		if !ok {
			return nil, &pipeline.StageError{Stage: pipeline.StageInference, Err: errors.Errorf("output %d has type %T", i, r)}
		}
		outputs[i] = d.Clone().(*tensor.Dense)
	}
	return outputs, nil
}

// Close drops the graph. The backend holds no native resources.
func (b *Backend) Close() error {
	b.graph = nil
	b.model = nil
	return nil
}
