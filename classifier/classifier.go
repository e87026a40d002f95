// Package classifier - Self-test and single image classification over a loaded model.
package classifier

import (
	"context"
	"fmt"
	"image"
	"time"

	"github.com/nvr-ai/go-classifier/benchmark"
	"github.com/nvr-ai/go-classifier/inference"
	"github.com/nvr-ai/go-classifier/inference/reference"
	"github.com/nvr-ai/go-classifier/models"
	"github.com/nvr-ai/go-classifier/models/model/preprocess"
	"github.com/nvr-ai/go-classifier/models/postprocess"
	"github.com/nvr-ai/go-classifier/onnx"
	"github.com/nvr-ai/go-classifier/pipeline"
	"github.com/nvr-ai/go-classifier/util"
	"github.com/sirupsen/logrus"
	"gorgonia.org/tensor"
)

// Options configures a Classifier.
type Options struct {
	// InputName overrides the first input declared by the model.
	InputName string
	// OutputName overrides the first output declared by the model.
	OutputName string
	// TopK is the number of ranked predictions in a Result. Defaults to 5.
	TopK int
	// Logger defaults to the logrus standard logger.
	Logger logrus.FieldLogger
}

// Classifier runs the preprocess, inference and postprocess stages against one engine.
type Classifier struct {
	engine       inference.Engine
	preprocessor *preprocess.Preprocessor
	labels       models.Labels
	input        string
	output       string
	topK         int
	log          logrus.FieldLogger
}

// Result is the classification of one image.
type Result struct {
	// Top is the most probable class.
	Top postprocess.Prediction `json:"top"`
	// Predictions holds the TopK classes by descending probability.
	Predictions []postprocess.Prediction `json:"predictions"`
	// Probabilities is the full distribution in class index order.
	Probabilities []float32 `json:"-"`
	// Timing records each stage.
	Timing benchmark.Timing `json:"timing"`
}

// SelfTestResult summarizes a successful self-test.
type SelfTestResult struct {
	// Input is the model input the fixtures were fed to.
	Input string
	// Cases is the number of validated fixtures.
	Cases int
	// Outputs is the number of compared reference outputs.
	Outputs int
	// Duration is the total inference time.
	Duration time.Duration
}

// New creates a classifier and resolves the model input and output names.
//
// Arguments:
//   - engine: The loaded model. The classifier does not close it.
//   - preprocessor: Converts images and pixel tensors into model input.
//   - labels: The label set aligned with the model output. May be empty for self-tests.
//   - opts: Name overrides, TopK and logger.
//
// Returns:
//   - *Classifier: The classifier.
//   - error: A model stage error when a configured name is not declared,
//     *pipeline.ShapeError when the label count differs from the model class count.
func New(engine inference.Engine, preprocessor *preprocess.Preprocessor, labels models.Labels, opts Options) (*Classifier, error) {
	if preprocessor == nil {
		preprocessor = preprocess.Default()
	}
	log := opts.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	if opts.TopK <= 0 {
		opts.TopK = 5
	}

	input, output, err := inference.ResolveNames(engine, opts.InputName, opts.OutputName)
	if err != nil {
		return nil, err
	}

	if len(labels) > 0 {
		if classes := classCount(engine.Outputs(), output); classes > 0 && classes != len(labels) {
			return nil, &pipeline.ShapeError{
				Stage: pipeline.StageLabels,
				What:  "label count",
				Want:  []int{classes},
				Got:   []int{len(labels)},
			}
		}
	}

	log.WithFields(logrus.Fields{"input": input, "output": output}).Debug("resolved model names")

	return &Classifier{
		engine:       engine,
		preprocessor: preprocessor,
		labels:       labels,
		input:        input,
		output:       output,
		topK:         opts.TopK,
		log:          log,
	}, nil
}

// InputName returns the model input images are fed to.
func (c *Classifier) InputName() string { return c.input }

// OutputName returns the authoritative model output.
func (c *Classifier) OutputName() string { return c.output }

// SelfTest runs every fixture through the engine and compares the outputs with the reference
// outputs. Inputs shaped (C, H, W) hold raw pixels and are preprocessed first; any other input
// is fed to the model unchanged. A case with a single reference output is compared against
// the authoritative output, otherwise all model outputs are compared in order.
//
// Arguments:
//   - ctx: Checked before each run.
//   - fixtures: The reference cases.
//   - decimal: The number of decimal places outputs must agree to.
//
// Returns:
//   - SelfTestResult: Counts for the report.
//   - error: The first stage error or *pipeline.ValidationError. Callers treat it as fatal.
func (c *Classifier) SelfTest(ctx context.Context, fixtures []util.Fixture, decimal int) (SelfTestResult, error) {
	result := SelfTestResult{Input: c.input}
	if len(fixtures) == 0 {
		return result, &pipeline.StageError{Stage: pipeline.StageFixtures, Err: fmt.Errorf("no reference cases to validate")}
	}

	for _, fixture := range fixtures {
		inputs, err := c.fixtureInputs(fixture)
		if err != nil {
			return result, err
		}

		var outputs []inference.Output
		elapsed, err := benchmark.Measure(func() error {
			var runErr error
			outputs, runErr = c.engine.Run(ctx, inputs)
			return runErr
		})
		if err != nil {
			return result, err
		}
		result.Duration += elapsed

		computed, err := c.comparable(outputs, len(fixture.Outputs))
		if err != nil {
			return result, err
		}
		if err := reference.ValidateCase(fixture.Index, fixture.Outputs, computed, decimal); err != nil {
			return result, err
		}

		result.Cases++
		result.Outputs += len(fixture.Outputs)
		c.log.WithFields(logrus.Fields{
			"case":       fixture.Index,
			"outputs":    len(fixture.Outputs),
			"elapsed_ms": benchmark.Milliseconds(elapsed),
		}).Debug("reference case matched")
	}

	c.log.WithFields(logrus.Fields{"cases": result.Cases, "decimal": decimal}).Info("outputs match reference outputs")
	return result, nil
}

// fixtureInputs maps fixture tensors onto the declared model inputs by position. A single
// tensor always goes to the resolved input name.
func (c *Classifier) fixtureInputs(fixture util.Fixture) (map[string]*tensor.Dense, error) {
	declared := c.engine.Inputs()
	if len(fixture.Inputs) > len(declared) {
		return nil, &pipeline.ShapeError{
			Stage: pipeline.StageFixtures,
			What:  fmt.Sprintf("case %d input count", fixture.Index),
			Want:  []int{len(declared)},
			Got:   []int{len(fixture.Inputs)},
		}
	}

	inputs := make(map[string]*tensor.Dense, len(fixture.Inputs))
	for k, t := range fixture.Inputs {
		name := declared[k].Name
		if len(fixture.Inputs) == 1 {
			name = c.input
		}
		if name == c.input && t.Dims() == 3 {
			normalized, err := c.preprocessor.Preprocess(t)
			if err != nil {
				return nil, err
			}
			t = normalized
		}
		inputs[name] = t
	}
	return inputs, nil
}

func (c *Classifier) comparable(outputs []inference.Output, refs int) ([]*tensor.Dense, error) {
	if refs == 1 {
		t, err := inference.SelectOutput(outputs, c.output)
		if err != nil {
			return nil, err
		}
		return []*tensor.Dense{t}, nil
	}
	computed := make([]*tensor.Dense, len(outputs))
	for i, o := range outputs {
		computed[i] = o.Tensor
	}
	return computed, nil
}

// Classify ranks the classes of a decoded image.
//
// Arguments:
//   - ctx: Checked before the model run.
//   - img: The decoded image. It is resized when the preprocessor allows it.
//
// Returns:
//   - *Result: The ranked predictions and stage timing.
//   - error: The first stage error.
func (c *Classifier) Classify(ctx context.Context, img image.Image) (*Result, error) {
	return c.classify(ctx, func() (*tensor.Dense, error) {
		return c.preprocessor.PrepareImage(img)
	})
}

// ClassifyPixels ranks the classes of a raw (C, H, W) pixel tensor with values in [0, 255].
func (c *Classifier) ClassifyPixels(ctx context.Context, pixels *tensor.Dense) (*Result, error) {
	return c.classify(ctx, func() (*tensor.Dense, error) {
		return c.preprocessor.Preprocess(pixels)
	})
}

func (c *Classifier) classify(ctx context.Context, prepare func() (*tensor.Dense, error)) (*Result, error) {
	var (
		result = &Result{}
		input  *tensor.Dense
		raw    *tensor.Dense
		err    error
	)
	start := time.Now()

	result.Timing.PreprocessDuration, err = benchmark.Measure(func() error {
		var prepErr error
		input, prepErr = prepare()
		return prepErr
	})
	if err != nil {
		return nil, err
	}

	result.Timing.InferenceDuration, err = benchmark.Measure(func() error {
		outputs, runErr := c.engine.Run(ctx, map[string]*tensor.Dense{c.input: input})
		if runErr != nil {
			return runErr
		}
		raw, runErr = inference.SelectOutput(outputs, c.output)
		return runErr
	})
	if err != nil {
		return nil, err
	}

	result.Timing.PostProcessDuration, err = benchmark.Measure(func() error {
		probabilities, ppErr := postprocess.Postprocess(raw)
		if ppErr != nil {
			return ppErr
		}
		if len(c.labels) > 0 && len(c.labels) != len(probabilities) {
			return &pipeline.ShapeError{
				Stage: pipeline.StagePostprocess,
				What:  "label count",
				Want:  []int{len(probabilities)},
				Got:   []int{len(c.labels)},
			}
		}
		result.Probabilities = probabilities
		result.Predictions = postprocess.Rank(probabilities, c.labels, c.topK)
		best := postprocess.Argmax(probabilities)
		result.Top = postprocess.Prediction{Index: best, Label: c.labels.Name(best), Probability: probabilities[best]}
		return nil
	})
	if err != nil {
		return nil, err
	}
	result.Timing.TotalDuration = time.Since(start)

	c.log.WithFields(logrus.Fields{
		"label":      result.Top.Label,
		"index":      result.Top.Index,
		"elapsed_ms": result.Timing.InferenceMilliseconds(),
	}).Debug("classified")

	return result, nil
}

// classCount returns the number of classes declared for an output, ignoring symbolic
// dimensions such as the batch. Zero means unknown.
func classCount(outputs []onnx.ValueInfo, name string) int {
	for _, o := range outputs {
		if o.Name != name {
			continue
		}
		count := 0
		for _, d := range o.Shape {
			if d <= 0 {
				continue
			}
			if count == 0 {
				count = 1
			}
			count *= int(d)
		}
		return count
	}
	return 0
}
