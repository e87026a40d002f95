// Package config - Settings for fetching artifacts, validating and classifying with a model.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/nvr-ai/go-classifier/inference"
	"github.com/nvr-ai/go-classifier/inference/providers"
	"github.com/nvr-ai/go-classifier/inference/reference"
	"github.com/nvr-ai/go-classifier/models"
	"github.com/nvr-ai/go-classifier/models/model"
	"github.com/nvr-ai/go-classifier/pipeline"
	"gopkg.in/yaml.v3"
)

// ModelConfig selects the model file and how it is executed.
type ModelConfig struct {
	// Name is the registered model the artifacts belong to.
	Name model.Name `json:"name" yaml:"name"`
	// Path is the ONNX model file.
	Path string `json:"path" yaml:"path"`
	// Engine is onnxruntime or gorgonnx.
	Engine string `json:"engine" yaml:"engine"`
	// InputName overrides the first input declared by the model.
	InputName string `json:"input_name,omitempty" yaml:"input_name,omitempty"`
	// OutputName overrides the first output declared by the model.
	OutputName string `json:"output_name,omitempty" yaml:"output_name,omitempty"`
	// Input is the image geometry and normalization the model expects.
	Input model.InputSpec `json:"input" yaml:"input"`
	// Resize scales images that do not match the input size.
	Resize bool `json:"resize" yaml:"resize"`
	// Runtime holds the onnxruntime session options.
	Runtime providers.Options `json:"runtime" yaml:"runtime"`
}

// FixturesConfig points at the reference cases shipped with the model.
type FixturesConfig struct {
	// Dir holds the test_data_set_<n> directories.
	Dir string `json:"dir" yaml:"dir"`
	// Cases limits validation to the first cases. Zero validates all of them.
	Cases int `json:"cases" yaml:"cases"`
	// Decimal is the number of decimal places outputs must agree to.
	Decimal int `json:"decimal" yaml:"decimal"`
}

// FetchConfig lists the artifacts to download.
type FetchConfig struct {
	ModelURL  string `json:"model_url" yaml:"model_url"`
	LabelsURL string `json:"labels_url" yaml:"labels_url"`
	// Dest is the directory the artifacts are written to.
	Dest string `json:"dest" yaml:"dest"`
}

// Config is the full classifier configuration.
type Config struct {
	Model    ModelConfig    `json:"model" yaml:"model"`
	Labels   string         `json:"labels" yaml:"labels"`
	Fixtures FixturesConfig `json:"fixtures" yaml:"fixtures"`
	Fetch    FetchConfig    `json:"fetch" yaml:"fetch"`
	// TopK is the number of ranked labels reported for an image.
	TopK int `json:"top_k" yaml:"top_k"`
}

// Default returns the configuration for the ResNet50 v2 artifacts extracted into the working
// directory.
func Default() Config {
	cfg, _ := ForModel(model.ModelNameResNet50V2, ".")
	return cfg
}

// ForModel returns defaults for a registered model whose artifacts live in dir.
//
// Arguments:
//   - name: The registered model name.
//   - dir: The directory the artifacts are fetched into.
//
// Returns:
//   - Config: The configuration.
//   - error: A config stage error if the model is not registered.
func ForModel(name model.Name, dir string) (Config, error) {
	d, err := models.Lookup(name)
	if err != nil {
		return Config{}, &pipeline.StageError{Stage: pipeline.StageConfig, Err: err}
	}

	return Config{
		Model: ModelConfig{
			Name:    d.Name,
			Path:    filepath.Join(dir, d.ModelFile),
			Engine:  string(inference.EngineONNXRuntime),
			Input:   d.Input,
			Resize:  true,
			Runtime: providers.DefaultOptions(),
		},
		Labels: filepath.Join(dir, d.LabelsFile),
		Fixtures: FixturesConfig{
			Dir:     filepath.Join(dir, d.FixturesDir),
			Cases:   3,
			Decimal: reference.DefaultDecimal,
		},
		Fetch: FetchConfig{
			ModelURL:  d.ArchiveURL,
			LabelsURL: d.LabelsURL,
			Dest:      dir,
		},
		TopK: 5,
	}, nil
}

// Load reads a YAML file over the defaults and validates the result.
//
// Arguments:
//   - path: The YAML file.
//
// Returns:
//   - Config: The merged configuration.
//   - error: *pipeline.IOError, *pipeline.ParseError or a config stage error.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, &pipeline.IOError{Stage: pipeline.StageConfig, Path: path, Err: err}
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, &pipeline.ParseError{Stage: pipeline.StageConfig, Source: path, Err: err}
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks every section and reports the first problem as a config stage error.
func (c Config) Validate() error {
	if err := c.validate(); err != nil {
		return &pipeline.StageError{Stage: pipeline.StageConfig, Err: err}
	}
	return nil
}

func (c Config) validate() error {
	if c.Model.Name != "" {
		if _, err := models.Lookup(c.Model.Name); err != nil {
			return fmt.Errorf("model.name: %w", err)
		}
	}
	if c.Model.Path == "" {
		return fmt.Errorf("model.path is required")
	}
	if _, err := inference.ParseEngineType(c.Model.Engine); err != nil {
		return err
	}
	if err := c.Model.Input.Validate(); err != nil {
		return fmt.Errorf("model.input: %w", err)
	}
	if err := c.Model.Runtime.Validate(); err != nil {
		return fmt.Errorf("model.runtime: %w", err)
	}
	if c.Fixtures.Cases < 0 {
		return fmt.Errorf("fixtures.cases must not be negative, got %d", c.Fixtures.Cases)
	}
	if c.Fixtures.Decimal < 0 || c.Fixtures.Decimal > 15 {
		return fmt.Errorf("fixtures.decimal must be within [0, 15], got %d", c.Fixtures.Decimal)
	}
	if c.TopK < 1 {
		return fmt.Errorf("top_k must be positive, got %d", c.TopK)
	}
	return nil
}
