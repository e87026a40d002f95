package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorgonia.org/tensor"
)

func TestFloat32s(t *testing.T) {
	tests := []struct {
		name string
		in   *tensor.Dense
		want []float32
	}{
		{"float32", tensor.New(tensor.WithShape(3), tensor.WithBacking([]float32{1.5, -2, 3})), []float32{1.5, -2, 3}},
		{"float64", tensor.New(tensor.WithShape(2), tensor.WithBacking([]float64{0.25, 8})), []float32{0.25, 8}},
		{"uint8", tensor.New(tensor.WithShape(2), tensor.WithBacking([]uint8{0, 255})), []float32{0, 255}},
		{"int64", tensor.New(tensor.WithShape(2), tensor.WithBacking([]int64{-7, 42})), []float32{-7, 42}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Float32s(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := Float32s(tensor.New(tensor.WithShape(1), tensor.WithBacking([]bool{true})))
	assert.Error(t, err)
}

func TestFloat64sCopies(t *testing.T) {
	backing := []float64{1, 2, 3}
	got, err := Float64s(tensor.New(tensor.WithShape(3), tensor.WithBacking(backing)))
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2, 3}, got)

	got[0] = 99
	assert.Equal(t, 1.0, backing[0])

	widened, err := Float64s(tensor.New(tensor.WithShape(2), tensor.WithBacking([]float32{0.5, -1})))
	require.NoError(t, err)
	assert.Equal(t, []float64{0.5, -1}, widened)
}
