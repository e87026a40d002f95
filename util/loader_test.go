package util

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/nvr-ai/go-classifier/onnx"
	"github.com/nvr-ai/go-classifier/pipeline"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorgonia.org/tensor"
)

func writeTensor(t *testing.T, path string, data []float32, shape ...int) {
	t.Helper()
	b, err := onnx.EncodeTensor("", tensor.New(tensor.WithShape(shape...), tensor.WithBacking(data)))
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, b, 0o644))
}

// writeCase creates test_data_set_<n> with one input and one output whose first element is n.
func writeCase(t *testing.T, dir string, n int) {
	t.Helper()
	caseDir := filepath.Join(dir, fmt.Sprintf("%s%02d", FixturePrefix, n))
	writeTensor(t, filepath.Join(caseDir, "input_0.pb"), []float32{float32(n), 0, 0}, 1, 3)
	writeTensor(t, filepath.Join(caseDir, "output_0.pb"), []float32{float32(n), 1}, 1, 2)
}

func TestLoadFixturesNumericOrder(t *testing.T) {
	dir := t.TempDir()
	for _, n := range []int{10, 2, 0, 1} {
		writeCase(t, dir, n)
	}
	// Unrelated entries are ignored.
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "test_data_set_extra"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "model.onnx"), []byte{}, 0o644))

	cases, err := LoadFixtures(dir, 0)
	require.NoError(t, err)
	require.Len(t, cases, 4)

	for i, want := range []int{0, 1, 2, 10} {
		assert.Equal(t, want, cases[i].Index)
		require.Len(t, cases[i].Inputs, 1)
		require.Len(t, cases[i].Outputs, 1)
		assert.Equal(t, tensor.Shape{1, 3}, cases[i].Inputs[0].Shape())
		assert.Equal(t, float32(want), cases[i].Outputs[0].Data().([]float32)[0])
	}

	limited, err := LoadFixtures(dir, 3)
	require.NoError(t, err)
	assert.Len(t, limited, 3)
	assert.Equal(t, 2, limited[2].Index)
}

func TestLoadFixturesMultipleTensors(t *testing.T) {
	dir := t.TempDir()
	caseDir := filepath.Join(dir, "test_data_set_0")
	for _, name := range []string{"input_1.pb", "input_0.pb", "output_0.pb", "output_2.pb", "output_1.pb"} {
		writeTensor(t, filepath.Join(caseDir, name), []float32{float32(len(name))}, 1)
	}
	writeTensor(t, filepath.Join(caseDir, "input_10.pb"), []float32{42}, 1)

	cases, err := LoadFixtures(dir, 0)
	require.NoError(t, err)
	require.Len(t, cases[0].Inputs, 3)
	assert.Len(t, cases[0].Outputs, 3)
	assert.Equal(t, []float32{42}, cases[0].Inputs[2].Data())
}

func TestLoadFixturesErrors(t *testing.T) {
	var ioErr *pipeline.IOError
	var parseErr *pipeline.ParseError

	_, err := LoadFixtures(filepath.Join(t.TempDir(), "missing"), 0)
	require.True(t, errors.As(err, &ioErr))
	assert.Equal(t, pipeline.StageFixtures, ioErr.Stage)

	_, err = LoadFixtures(t.TempDir(), 0)
	require.True(t, errors.As(err, &ioErr))
	assert.Contains(t, err.Error(), "no test_data_set_* directories")

	noOutput := t.TempDir()
	writeTensor(t, filepath.Join(noOutput, "test_data_set_0", "input_0.pb"), []float32{1}, 1)
	_, err = LoadFixtures(noOutput, 0)
	require.True(t, errors.As(err, &ioErr))
	assert.Equal(t, filepath.Join(noOutput, "test_data_set_0", "output_0.pb"), ioErr.Path)

	corrupt := t.TempDir()
	writeCase(t, corrupt, 0)
	require.NoError(t, os.WriteFile(filepath.Join(corrupt, "test_data_set_00", "output_0.pb"), []byte{0x0a, 0x7f}, 0o644))
	_, err = LoadFixtures(corrupt, 0)
	require.True(t, errors.As(err, &parseErr))
	assert.Equal(t, pipeline.StageFixtures, pipeline.StageOf(err))
}
