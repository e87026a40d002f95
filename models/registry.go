package models

import (
	"fmt"
	"sort"

	"github.com/nvr-ai/go-classifier/models/model"
)

// Descriptor describes where a classification model and its labels are published and how
// the extracted artifacts are laid out.
type Descriptor struct {
	Name model.Name `json:"name" yaml:"name"`
	// ArchiveURL is the .tar.gz holding the model and its reference fixtures.
	ArchiveURL string `json:"archive_url" yaml:"archive_url"`
	// LabelsURL is the JSON label file.
	LabelsURL string `json:"labels_url" yaml:"labels_url"`
	// ModelFile is the .onnx path relative to the extraction directory.
	ModelFile string `json:"model_file" yaml:"model_file"`
	// FixturesDir holds the test_data_set_<n> directories, relative to the extraction directory.
	FixturesDir string `json:"fixtures_dir" yaml:"fixtures_dir"`
	// LabelsFile is the label file name after download.
	LabelsFile string `json:"labels_file" yaml:"labels_file"`
	// Input is the image geometry and normalization.
	Input model.InputSpec `json:"input" yaml:"input"`
	// Classes is the number of model outputs per image.
	Classes int `json:"classes" yaml:"classes"`
}

var registry = map[model.Name]func() Descriptor{
	model.ModelNameResNet50V2: func() Descriptor {
		return Descriptor{
			Name:        model.ModelNameResNet50V2,
			ArchiveURL:  "https://s3.amazonaws.com/onnx-model-zoo/resnet/resnet50v2/resnet50v2.tar.gz",
			LabelsURL:   "https://raw.githubusercontent.com/anishathalye/imagenet-simple-labels/master/imagenet-simple-labels.json",
			ModelFile:   "resnet50v2/resnet50v2.onnx",
			FixturesDir: "resnet50v2",
			LabelsFile:  "imagenet-simple-labels.json",
			Input:       model.ImageNetInput(),
			Classes:     ImageNetClassCount,
		}
	},
}

// Lookup returns the descriptor of a registered model.
//
// Arguments:
//   - name: The model name, e.g. model.ModelNameResNet50V2.
//
// Returns:
//   - Descriptor: A fresh copy the caller may modify.
//   - error: An error if the model is not registered.
func Lookup(name model.Name) (Descriptor, error) {
	build, ok := registry[name]
	if !ok {
		return Descriptor{}, fmt.Errorf("unsupported model name: %s, want one of %v", name, Names())
	}
	return build(), nil
}

// Names lists the registered models in lexical order.
func Names() []model.Name {
	names := make([]model.Name, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	return names
}
