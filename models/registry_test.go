package models

import (
	"testing"

	"github.com/nvr-ai/go-classifier/models/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLookup(t *testing.T) {
	d, err := Lookup(model.ModelNameResNet50V2)
	require.NoError(t, err)

	assert.Equal(t, ImageNetClassCount, d.Classes)
	assert.Equal(t, []int{3, 224, 224}, d.Input.Shape())
	assert.Equal(t, "resnet50v2/resnet50v2.onnx", d.ModelFile)

	// Descriptors are copies.
	d.Input.Mean[0] = 0
	again, err := Lookup(model.ModelNameResNet50V2)
	require.NoError(t, err)
	assert.Equal(t, float32(0.485), again.Input.Mean[0])

	_, err = Lookup("inception")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "resnet50v2")
}

func TestNames(t *testing.T) {
	assert.Equal(t, []model.Name{model.ModelNameResNet50V2}, Names())
}
