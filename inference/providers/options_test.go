package providers

import (
	"path/filepath"
	"testing"

	"github.com/nvr-ai/go-classifier/pipeline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	ort "github.com/yalue/onnxruntime_go"
)

func TestDefaultOptions(t *testing.T) {
	opts := DefaultOptions()
	require.NoError(t, opts.Validate())
	assert.GreaterOrEqual(t, opts.IntraOpThreads, 1)
	assert.Equal(t, 1, opts.InterOpThreads)
	assert.Equal(t, GraphOptimizationExtended, opts.GraphOptimization)
	assert.Equal(t, ExecutionModeSequential, opts.ExecutionMode)
}

func TestParseGraphOptimizationLevel(t *testing.T) {
	tests := map[string]ort.GraphOptimizationLevel{
		"":            ort.GraphOptimizationLevelEnableExtended,
		"disable_all": ort.GraphOptimizationLevelDisableAll,
		"basic":       ort.GraphOptimizationLevelEnableBasic,
		"extended":    ort.GraphOptimizationLevelEnableExtended,
		"all":         ort.GraphOptimizationLevelEnableAll,
	}
	for in, want := range tests {
		got, err := ParseGraphOptimizationLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseGraphOptimizationLevel("max")
	assert.EqualError(t, err, `unknown graph optimization level "max"`)
}

func TestParseExecutionMode(t *testing.T) {
	mode, err := ParseExecutionMode("parallel")
	require.NoError(t, err)
	assert.Equal(t, ort.ExecutionMode(ort.ExecutionModeParallel), mode)

	mode, err = ParseExecutionMode("")
	require.NoError(t, err)
	assert.Equal(t, ort.ExecutionMode(ort.ExecutionModeSequential), mode)

	_, err = ParseExecutionMode("async")
	assert.Error(t, err)
}

func TestOptionsValidate(t *testing.T) {
	opts := DefaultOptions()
	opts.IntraOpThreads = -1
	assert.Error(t, opts.Validate())

	opts = DefaultOptions()
	opts.GraphOptimization = "fast"
	assert.Error(t, opts.Validate())

	opts = DefaultOptions()
	opts.ExecutionMode = "async"
	assert.Error(t, opts.Validate())
}

func TestGetSharedLibPathOverride(t *testing.T) {
	t.Setenv(LibraryPathEnv, "/opt/onnxruntime/lib/libonnxruntime.so")

	path, err := GetSharedLibPath()
	require.NoError(t, err)
	assert.Equal(t, "/opt/onnxruntime/lib/libonnxruntime.so", path)
}

func TestNewSessionMissingLibrary(t *testing.T) {
	if ort.IsInitialized() {
		t.Skip("onnxruntime already initialized in this process")
	}

	opts := DefaultOptions()
	opts.SharedLibraryPath = filepath.Join(t.TempDir(), "libonnxruntime.so")

	_, err := NewSession(filepath.Join(t.TempDir(), "model.onnx"), opts, nil)
	require.Error(t, err)
	assert.Equal(t, pipeline.StageModel, pipeline.StageOf(err))
	assert.Contains(t, err.Error(), "onnxruntime library not found")
}

func TestMatchesDims(t *testing.T) {
	assert.True(t, matchesDims(ort.NewShape(-1, 3, 224, 224), []int{1, 3, 224, 224}))
	assert.True(t, matchesDims(ort.NewShape(1, 3, 224, 224), []int{1, 3, 224, 224}))
	assert.False(t, matchesDims(ort.NewShape(1, 3, 224, 224), []int{3, 224, 224}))
	assert.False(t, matchesDims(ort.NewShape(1, 3, 224, 224), []int{1, 3, 200, 224}))
}
