// Package providers - ONNX Runtime sessions and CPU execution settings.
package providers

import (
	"fmt"
	"runtime"

	"github.com/pkg/errors"
	ort "github.com/yalue/onnxruntime_go"
)

// Graph optimization levels accepted in configuration.
const (
	GraphOptimizationDisableAll = "disable_all"
	GraphOptimizationBasic      = "basic"
	GraphOptimizationExtended   = "extended"
	GraphOptimizationAll        = "all"
)

// Execution modes accepted in configuration.
const (
	ExecutionModeSequential = "sequential"
	ExecutionModeParallel   = "parallel"
)

// Options contains the ONNX Runtime settings of a CPU session.
type Options struct {
	// SharedLibraryPath points to the onnxruntime shared library. Empty selects GetSharedLibPath.
	SharedLibraryPath string `json:"shared_library_path" yaml:"shared_library_path"`

	// IntraOpThreads sets threads for parallelizing a single op. Zero lets the runtime decide.
	IntraOpThreads int `json:"intra_op_threads" yaml:"intra_op_threads"`

	// InterOpThreads sets threads for running independent ops. Zero lets the runtime decide.
	InterOpThreads int `json:"inter_op_threads" yaml:"inter_op_threads"`

	// GraphOptimization is one of disable_all, basic, extended or all.
	GraphOptimization string `json:"graph_optimization" yaml:"graph_optimization"`

	// ExecutionMode is sequential or parallel.
	ExecutionMode string `json:"execution_mode" yaml:"execution_mode"`

	// Verbose raises the runtime log level for troubleshooting native errors.
	Verbose bool `json:"verbose" yaml:"verbose"`
}

// DefaultOptions returns CPU settings suited to classifying one image at a time.
//
// Returns:
//   - Options: Sequential execution, extended graph optimizations and half the CPUs for ops.
func DefaultOptions() Options {
	return Options{
		IntraOpThreads:    maxInt(1, runtime.NumCPU()/2),
		InterOpThreads:    1,
		GraphOptimization: GraphOptimizationExtended,
		ExecutionMode:     ExecutionModeSequential,
	}
}

// Validate checks the option values without touching the runtime.
func (o Options) Validate() error {
	if o.IntraOpThreads < 0 || o.InterOpThreads < 0 {
		return fmt.Errorf("thread counts must not be negative, got intra=%d inter=%d", o.IntraOpThreads, o.InterOpThreads)
	}
	if _, err := ParseGraphOptimizationLevel(o.GraphOptimization); err != nil {
		return err
	}
	if _, err := ParseExecutionMode(o.ExecutionMode); err != nil {
		return err
	}
	return nil
}

// ParseGraphOptimizationLevel maps a configuration value to the runtime level. An empty value
// selects extended optimizations.
func ParseGraphOptimizationLevel(level string) (ort.GraphOptimizationLevel, error) {
	switch level {
	case GraphOptimizationDisableAll:
		return ort.GraphOptimizationLevelDisableAll, nil
	case GraphOptimizationBasic:
		return ort.GraphOptimizationLevelEnableBasic, nil
	case GraphOptimizationExtended, "":
		return ort.GraphOptimizationLevelEnableExtended, nil
	case GraphOptimizationAll:
		return ort.GraphOptimizationLevelEnableAll, nil
	default:
		return 0, fmt.Errorf("unknown graph optimization level %q", level)
	}
}

// ParseExecutionMode maps a configuration value to the runtime mode. An empty value selects
// sequential execution.
func ParseExecutionMode(mode string) (ort.ExecutionMode, error) {
	switch mode {
	case ExecutionModeSequential, "":
		return ort.ExecutionModeSequential, nil
	case ExecutionModeParallel:
		return ort.ExecutionModeParallel, nil
	default:
		return 0, fmt.Errorf("unknown execution mode %q", mode)
	}
}

// sessionOptions creates native session options. The caller destroys them.
func (o Options) sessionOptions() (*ort.SessionOptions, error) {
	level, err := ParseGraphOptimizationLevel(o.GraphOptimization)
	if err != nil {
		return nil, err
	}
	mode, err := ParseExecutionMode(o.ExecutionMode)
	if err != nil {
		return nil, err
	}

	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, errors.Wrap(err, "create session options")
	}

	for _, apply := range []func() error{
		func() error { return options.SetGraphOptimizationLevel(level) },
		func() error { return options.SetExecutionMode(mode) },
		func() error { return options.SetIntraOpNumThreads(o.IntraOpThreads) },
		func() error { return options.SetInterOpNumThreads(o.InterOpThreads) },
	} {
		if err := apply(); err != nil {
			options.Destroy()
			return nil, errors.Wrap(err, "configure session options")
		}
	}

	return options, nil
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
