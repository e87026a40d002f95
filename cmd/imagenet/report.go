package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/nvr-ai/go-classifier/benchmark"
	"github.com/nvr-ai/go-classifier/classifier"
	"github.com/nvr-ai/go-classifier/inference"
	"github.com/nvr-ai/go-classifier/util"
)

const rule = "========================================"

// printResult writes the top prediction, inference time and ranked labels.
func printResult(w io.Writer, result *classifier.Result) {
	fmt.Fprintln(w, rule)
	fmt.Fprintf(w, "Final top prediction is: %s\n", result.Top.Label)
	fmt.Fprintln(w, rule)

	fmt.Fprintln(w, rule)
	fmt.Fprintf(w, "Inference time: %.2f ms\n", result.Timing.InferenceMilliseconds())
	fmt.Fprintln(w, rule)

	labels := make([]string, len(result.Predictions))
	for i, p := range result.Predictions {
		labels[i] = fmt.Sprintf("%q", p.Label)
	}
	fmt.Fprintf(w, "============ Top %d labels are: ============================\n", len(result.Predictions))
	fmt.Fprintf(w, "[%s]\n", strings.Join(labels, " "))
	fmt.Fprintln(w, "===========================================================")
}

// printReport writes the per-stage latency of a benchmark run.
func printReport(w io.Writer, report *benchmark.Report) {
	fmt.Fprintf(w, "Scenario %s: %d iterations, %d errors, %.2f images/s\n",
		report.Scenario.Name, report.Scenario.Iterations, report.Errors, report.ImagesPerSecond)
	for _, stage := range []struct {
		name  string
		stats benchmark.LatencyStats
	}{
		{"preprocess", report.Preprocess},
		{"inference", report.Inference},
		{"postprocess", report.PostProcess},
	} {
		fmt.Fprintf(w, "  %-11s mean %.2f ms  p50 %.2f ms  p95 %.2f ms  min %.2f ms  max %.2f ms\n",
			stage.name, stage.stats.Mean, stage.stats.P50, stage.stats.P95, stage.stats.Min, stage.stats.Max)
	}
}

func engineTitle(engine string) string {
	switch inference.EngineType(engine) {
	case inference.EngineGorgonnx:
		return "Gorgonnx"
	default:
		return "ONNX Runtime"
	}
}

func countInputs(fixtures []util.Fixture) int {
	n := 0
	for _, f := range fixtures {
		n += len(f.Inputs)
	}
	return n
}

func countOutputs(fixtures []util.Fixture) int {
	n := 0
	for _, f := range fixtures {
		n += len(f.Outputs)
	}
	return n
}
