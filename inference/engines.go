// Package inference - Inference engine interface and implementations
package inference

import "fmt"

// EngineType is the type of the engine
type EngineType string

const (
	// EngineONNXRuntime is the engine that uses the onnxruntime library
	EngineONNXRuntime EngineType = "onnxruntime"
	// EngineGorgonnx is the pure Go engine that executes the graph with gorgonia
	EngineGorgonnx EngineType = "gorgonnx"
)

// Engines is a list of all supported engines
var Engines = []EngineType{EngineONNXRuntime, EngineGorgonnx}

// ParseEngineType validates an engine name. An empty name selects onnxruntime.
func ParseEngineType(name string) (EngineType, error) {
	if name == "" {
		return EngineONNXRuntime, nil
	}
	for _, e := range Engines {
		if string(e) == name {
			return e, nil
		}
	}
	return "", fmt.Errorf("unknown engine %q, want one of %v", name, Engines)
}
