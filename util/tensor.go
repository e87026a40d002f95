package util

import (
	"fmt"

	"gorgonia.org/tensor"
)

// Float32s returns the elements of t as float32 in row-major order.
//
// Arguments:
//   - t: A tensor of dtype uint8, int8, int, int32, int64, float32 or float64.
//
// Returns:
//   - []float32: The converted values. Float32 tensors return their backing data.
//   - error: An error for any other dtype.
func Float32s(t *tensor.Dense) ([]float32, error) {
	if t.IsMaterializable() {
		if m, ok := t.Materialize().(*tensor.Dense); ok {
			t = m
		}
	}

	switch data := t.Data().(type) {
	case []float32:
		return data, nil
	case []float64:
		return convert(data), nil
	case []uint8:
		return convert(data), nil
	case []int8:
		return convert(data), nil
	case []int:
		return convert(data), nil
	case []int32:
		return convert(data), nil
	case []int64:
		return convert(data), nil
	default:
		return nil, fmt.Errorf("unsupported dtype %v", t.Dtype())
	}
}

func convert[T uint8 | int8 | int | int32 | int64 | float64](in []T) []float32 {
	out := make([]float32, len(in))
	for i, v := range in {
		out[i] = float32(v)
	}
	return out
}

// Float64s returns the elements of t as float64 in row-major order. It accepts the same
// dtypes as Float32s and always returns a fresh slice.
func Float64s(t *tensor.Dense) ([]float64, error) {
	if t.IsMaterializable() {
		if m, ok := t.Materialize().(*tensor.Dense); ok {
			t = m
		}
	}

	switch data := t.Data().(type) {
	case []float32:
		return widen(data), nil
	case []float64:
		return append([]float64(nil), data...), nil
	case []uint8:
		return widen(data), nil
	case []int8:
		return widen(data), nil
	case []int:
		return widen(data), nil
	case []int32:
		return widen(data), nil
	case []int64:
		return widen(data), nil
	default:
		return nil, fmt.Errorf("unsupported dtype %v", t.Dtype())
	}
}

func widen[T uint8 | int8 | int | int32 | int64 | float32](in []T) []float64 {
	out := make([]float64, len(in))
	for i, v := range in {
		out[i] = float64(v)
	}
	return out
}
