package inference

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/nvr-ai/go-classifier/inference/providers"
	"github.com/nvr-ai/go-classifier/onnx"
	"github.com/nvr-ai/go-classifier/pipeline"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorgonia.org/tensor"
)

// stubBackend returns fixed outputs and records the inputs it was given.
type stubBackend struct {
	inputs  []onnx.ValueInfo
	outputs []onnx.ValueInfo
	results []*tensor.Dense
	fed     map[string]*tensor.Dense
	closed  bool
}

func (s *stubBackend) Inputs() []onnx.ValueInfo  { return s.inputs }
func (s *stubBackend) Outputs() []onnx.ValueInfo { return s.outputs }
func (s *stubBackend) Close() error              { s.closed = true; return nil }

func (s *stubBackend) Run(_ context.Context, inputs map[string]*tensor.Dense) ([]*tensor.Dense, error) {
	s.fed = inputs
	return s.results, nil
}

func newStub() *stubBackend {
	return &stubBackend{
		inputs: []onnx.ValueInfo{{Name: "data", Type: onnx.DataTypeFloat, Shape: []int64{1, 3, 224, 224}}},
		outputs: []onnx.ValueInfo{
			{Name: "features", Type: onnx.DataTypeFloat, Shape: []int64{1, 2048}},
			{Name: "resnetv24_dense0_fwd", Type: onnx.DataTypeFloat, Shape: []int64{1, 1000}},
		},
		results: []*tensor.Dense{
			tensor.New(tensor.WithShape(1, 2), tensor.WithBacking([]float32{1, 2})),
			tensor.New(tensor.WithShape(1, 3), tensor.WithBacking([]float32{3, 4, 5})),
		},
	}
}

func TestWrapNamesOutputs(t *testing.T) {
	stub := newStub()
	e := Wrap(stub)

	in := tensor.New(tensor.WithShape(1, 3, 224, 224), tensor.Of(tensor.Float32))
	outputs, err := e.Run(context.Background(), map[string]*tensor.Dense{"data": in})
	require.NoError(t, err)
	require.Len(t, outputs, 2)
	assert.Equal(t, "features", outputs[0].Name)
	assert.Equal(t, "resnetv24_dense0_fwd", outputs[1].Name)
	assert.Same(t, in, stub.fed["data"])

	require.NoError(t, e.Close())
	assert.True(t, stub.closed)
}

func TestWrapOutputCountMismatch(t *testing.T) {
	stub := newStub()
	stub.results = stub.results[:1]

	_, err := Wrap(stub).Run(context.Background(), nil)
	var shapeErr *pipeline.ShapeError
	require.True(t, errors.As(err, &shapeErr))
	assert.Equal(t, pipeline.StageInference, shapeErr.Stage)
}

func TestResolveNames(t *testing.T) {
	e := Wrap(newStub())

	in, out, err := ResolveNames(e, "", "")
	require.NoError(t, err)
	assert.Equal(t, "data", in)
	assert.Equal(t, "features", out)

	_, out, err = ResolveNames(e, "data", "resnetv24_dense0_fwd")
	require.NoError(t, err)
	assert.Equal(t, "resnetv24_dense0_fwd", out)

	_, _, err = ResolveNames(e, "", "logits")
	require.Error(t, err)
	assert.Equal(t, pipeline.StageModel, pipeline.StageOf(err))
	assert.Contains(t, err.Error(), `no output named "logits"`)

	_, _, err = ResolveNames(Wrap(&stubBackend{}), "", "")
	assert.Contains(t, err.Error(), "model declares no inputs")
}

// TestSelectOutputByName checks the authoritative output is found by name, not position.
func TestSelectOutputByName(t *testing.T) {
	stub := newStub()
	outputs, err := Wrap(stub).Run(context.Background(), nil)
	require.NoError(t, err)

	got, err := SelectOutput(outputs, "resnetv24_dense0_fwd")
	require.NoError(t, err)
	assert.Same(t, stub.results[1], got)

	_, err = SelectOutput(outputs, "prob")
	assert.Equal(t, pipeline.StageInference, pipeline.StageOf(err))
}

func TestParseEngineType(t *testing.T) {
	for _, name := range []string{"", "onnxruntime", "gorgonnx"} {
		_, err := ParseEngineType(name)
		assert.NoError(t, err, name)
	}
	_, err := ParseEngineType("tensorrt")
	assert.Error(t, err)
}

func TestEngineBuilderErrors(t *testing.T) {
	_, err := NewEngineBuilder().WithEngine("tensorrt").WithModel("model.onnx").Build()
	assert.Equal(t, pipeline.StageConfig, pipeline.StageOf(err))

	_, err = NewEngineBuilder().Build()
	assert.Equal(t, pipeline.StageConfig, pipeline.StageOf(err))
	assert.Contains(t, err.Error(), "model not configured")

	bad := providers.DefaultOptions()
	bad.GraphOptimization = "fast"
	b := NewEngineBuilder().WithOptions(bad)
	assert.True(t, b.HasError())

	_, err = NewEngineBuilder().
		WithEngine(string(EngineGorgonnx)).
		WithModel(filepath.Join(t.TempDir(), "missing.onnx")).
		Build()
	assert.Equal(t, pipeline.StageModel, pipeline.StageOf(err))
}
