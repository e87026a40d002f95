package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/nvr-ai/go-classifier/benchmark"
	"github.com/nvr-ai/go-classifier/classifier"
	"github.com/nvr-ai/go-classifier/config"
	"github.com/nvr-ai/go-classifier/fetch"
	"github.com/nvr-ai/go-classifier/images"
	"github.com/nvr-ai/go-classifier/inference"
	"github.com/nvr-ai/go-classifier/inference/providers"
	"github.com/nvr-ai/go-classifier/models"
	"github.com/nvr-ai/go-classifier/models/model/preprocess"
	"github.com/nvr-ai/go-classifier/pipeline"
	"github.com/nvr-ai/go-classifier/util"
	"github.com/sirupsen/logrus"
)

func runFetch(ctx context.Context, cfg config.Config, args []string) error {
	fs := flag.NewFlagSet("fetch", flag.ExitOnError)
	fs.StringVar(&cfg.Fetch.Dest, "dest", cfg.Fetch.Dest, "Directory the artifacts are written to")
	if err := fs.Parse(args); err != nil {
		return err
	}

	f := fetch.New(nil, logrus.StandardLogger())
	for _, url := range []string{cfg.Fetch.ModelURL, cfg.Fetch.LabelsURL} {
		path, err := f.Fetch(ctx, url, cfg.Fetch.Dest)
		if err != nil {
			return err
		}
		fmt.Printf("Fetched %s\n", path)
	}
	return nil
}

// modelFlags registers the flags shared by validate and classify.
func modelFlags(fs *flag.FlagSet, cfg *config.Config) {
	fs.StringVar(&cfg.Model.Path, "model", cfg.Model.Path, "Path to the ONNX model")
	fs.StringVar(&cfg.Model.Engine, "engine", cfg.Model.Engine, "Inference engine (onnxruntime, gorgonnx)")
	fs.StringVar(&cfg.Fixtures.Dir, "fixtures", cfg.Fixtures.Dir, "Directory holding test_data_set_<n> cases")
	fs.IntVar(&cfg.Fixtures.Cases, "cases", cfg.Fixtures.Cases, "Number of reference cases to validate, 0 for all")
	fs.IntVar(&cfg.Fixtures.Decimal, "decimal", cfg.Fixtures.Decimal, "Decimal places outputs must agree to")
}

func runValidate(ctx context.Context, cfg config.Config, args []string) error {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	modelFlags(fs, &cfg)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	engine, err := buildEngine(cfg)
	if err != nil {
		return err
	}
	defer closeEngine(engine, cfg)

	c, err := newClassifier(engine, cfg, nil)
	if err != nil {
		return err
	}
	return selfTest(ctx, c, cfg)
}

func runClassify(ctx context.Context, cfg config.Config, args []string) error {
	var (
		imagePath string
		runTest   bool
		show      bool
	)
	fs := flag.NewFlagSet("classify", flag.ExitOnError)
	modelFlags(fs, &cfg)
	fs.StringVar(&imagePath, "image", "", "Path to the image to classify (JPEG, PNG, GIF or WebP)")
	fs.StringVar(&cfg.Labels, "labels", cfg.Labels, "Path to the JSON label file")
	fs.IntVar(&cfg.TopK, "top", cfg.TopK, "Number of ranked labels to print")
	fs.BoolVar(&runTest, "self-test", false, "Validate the reference fixtures before classifying")
	fs.BoolVar(&show, "show", false, "Show the image with its top label in a window")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if imagePath == "" {
		return &pipeline.StageError{Stage: pipeline.StageConfig, Err: fmt.Errorf("-image is required")}
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	labels, err := models.LoadLabels(cfg.Labels)
	if err != nil {
		return err
	}
	img, err := images.Load(imagePath)
	if err != nil {
		return err
	}

	engine, err := buildEngine(cfg)
	if err != nil {
		return err
	}
	defer closeEngine(engine, cfg)

	c, err := newClassifier(engine, cfg, labels)
	if err != nil {
		return err
	}
	if runTest {
		if err := selfTest(ctx, c, cfg); err != nil {
			return err
		}
	}

	fmt.Printf("Image size: (%d, %d)\n", img.Width, img.Height)
	result, err := c.Classify(ctx, img.Pixels)
	if err != nil {
		return err
	}
	printResult(os.Stdout, result)

	if show {
		return images.Show(imagePath, img.Pixels, result.Top.Label)
	}
	return nil
}

func buildEngine(cfg config.Config) (inference.Engine, error) {
	return inference.NewEngineBuilder().
		WithEngine(cfg.Model.Engine).
		WithModel(cfg.Model.Path).
		WithOptions(cfg.Model.Runtime).
		WithLogger(logrus.StandardLogger()).
		Build()
}

func closeEngine(engine inference.Engine, cfg config.Config) {
	if err := engine.Close(); err != nil {
		logrus.WithError(err).Warn("closing engine")
	}
	if cfg.Model.Engine == string(inference.EngineONNXRuntime) || cfg.Model.Engine == "" {
		if err := providers.DestroyEnvironment(); err != nil {
			logrus.WithError(err).Warn("destroying onnxruntime environment")
		}
	}
}

func newClassifier(engine inference.Engine, cfg config.Config, labels models.Labels) (*classifier.Classifier, error) {
	pre, err := preprocess.NewPreprocessor(preprocess.Config{
		Input:  cfg.Model.Input,
		Resize: cfg.Model.Resize,
		Logger: logrus.StandardLogger(),
	})
	if err != nil {
		return nil, &pipeline.StageError{Stage: pipeline.StageConfig, Err: err}
	}

	return classifier.New(engine, pre, labels, classifier.Options{
		InputName:  cfg.Model.InputName,
		OutputName: cfg.Model.OutputName,
		TopK:       cfg.TopK,
		Logger:     logrus.StandardLogger(),
	})
}

func selfTest(ctx context.Context, c *classifier.Classifier, cfg config.Config) error {
	fixtures, err := util.LoadFixtures(cfg.Fixtures.Dir, cfg.Fixtures.Cases)
	if err != nil {
		return err
	}

	fmt.Printf("Input Name: %s\n", c.InputName())
	fmt.Printf("Loaded %d inputs successfully.\n", countInputs(fixtures))
	fmt.Printf("Loaded %d reference outputs successfully.\n", countOutputs(fixtures))

	result, err := c.SelfTest(ctx, fixtures, cfg.Fixtures.Decimal)
	if err != nil {
		return err
	}

	fmt.Printf("Predicted %d results.\n", result.Cases)
	fmt.Printf("%s outputs are similar to reference outputs!\n", engineTitle(cfg.Model.Engine))
	return nil
}

func runBenchmark(ctx context.Context, cfg config.Config, args []string) error {
	var (
		imagePath string
		outputDir string
		scenario  = benchmark.Scenario{Name: "resnet50v2", Iterations: 20, WarmupRuns: 3}
	)
	fs := flag.NewFlagSet("benchmark", flag.ExitOnError)
	modelFlags(fs, &cfg)
	fs.StringVar(&imagePath, "image", "", "Path to the image to classify")
	fs.StringVar(&scenario.Name, "name", scenario.Name, "Scenario name used in the report file")
	fs.IntVar(&scenario.Iterations, "iterations", scenario.Iterations, "Number of measured runs")
	fs.IntVar(&scenario.WarmupRuns, "warmup", scenario.WarmupRuns, "Number of unmeasured runs first")
	fs.StringVar(&outputDir, "output", "", "Directory to write the JSON report to")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if imagePath == "" {
		return &pipeline.StageError{Stage: pipeline.StageConfig, Err: fmt.Errorf("-image is required")}
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	img, err := images.Load(imagePath)
	if err != nil {
		return err
	}
	engine, err := buildEngine(cfg)
	if err != nil {
		return err
	}
	defer closeEngine(engine, cfg)

	c, err := newClassifier(engine, cfg, nil)
	if err != nil {
		return err
	}

	report, err := benchmark.Run(ctx, scenario, func(ctx context.Context) (benchmark.Timing, error) {
		result, err := c.Classify(ctx, img.Pixels)
		if err != nil {
			return benchmark.Timing{}, err
		}
		return result.Timing, nil
	})
	if err != nil {
		return err
	}
	printReport(os.Stdout, report)

	if outputDir != "" {
		path, err := report.Save(outputDir)
		if err != nil {
			return &pipeline.IOError{Stage: pipeline.StageConfig, Path: outputDir, Err: err}
		}
		fmt.Printf("Report saved to: %s\n", path)
	}
	return nil
}
