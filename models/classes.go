// Package models - Label sets for classification models.
package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	"github.com/nvr-ai/go-classifier/pipeline"
	"github.com/pkg/errors"
)

// ImageNetClassCount is the number of classes produced by ImageNet-1k models.
const ImageNetClassCount = 1000

// Labels is an ordered set of class names where the slice index is the model class index.
type Labels []string

// LoadLabels reads a JSON array of class names.
//
// Arguments:
//   - path: Path to a UTF-8 JSON file holding a flat array of strings.
//
// Returns:
//   - Labels: The class names in class-index order.
//   - error: *pipeline.IOError if the file cannot be read, *pipeline.ParseError if the
//     content is not a JSON array of strings.
func LoadLabels(path string) (Labels, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &pipeline.IOError{Stage: pipeline.StageLabels, Path: path, Err: err}
	}

	labels, err := ParseLabels(data)
	if err != nil {
		return nil, &pipeline.ParseError{Stage: pipeline.StageLabels, Source: path, Err: err}
	}

	return labels, nil
}

// ParseLabels decodes a JSON array of strings.
//
// Arguments:
//   - data: The raw JSON bytes.
//
// Returns:
//   - Labels: The decoded labels.
//   - error: An error if data is not a JSON array of strings.
func ParseLabels(data []byte) (Labels, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return nil, errors.New("expected a JSON array of strings")
	}

	var names []*string
	if err := json.Unmarshal(trimmed, &names); err != nil {
		return nil, errors.Wrap(err, "decode label array")
	}

	labels := make(Labels, len(names))
	for i, name := range names {
		if name == nil {
			return nil, errors.Errorf("label %d is null, expected a string", i)
		}
		labels[i] = *name
	}

	return labels, nil
}

// Name returns the label for a class index, or a placeholder when the index is out of range.
func (l Labels) Name(index int) string {
	if index < 0 || index >= len(l) {
		return fmt.Sprintf("class %d", index)
	}
	return l[index]
}
