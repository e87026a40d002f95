package benchmark

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"time"
)

// Scenario defines a repeated classification run.
type Scenario struct {
	Name       string `json:"name" yaml:"name"`
	Iterations int    `json:"iterations" yaml:"iterations"`
	WarmupRuns int    `json:"warmup_runs" yaml:"warmup_runs"`
}

// LatencyStats summarizes the durations of one stage over all successful iterations, in
// milliseconds.
type LatencyStats struct {
	Min  float64 `json:"min_ms"`
	Max  float64 `json:"max_ms"`
	Mean float64 `json:"mean_ms"`
	P50  float64 `json:"p50_ms"`
	P95  float64 `json:"p95_ms"`
}

// Report captures the performance of a scenario.
type Report struct {
	Scenario        Scenario      `json:"scenario"`
	Timestamp       time.Time     `json:"timestamp"`
	TotalDuration   time.Duration `json:"total_duration"`
	ImagesPerSecond float64       `json:"images_per_second"`
	Preprocess      LatencyStats  `json:"preprocess"`
	Inference       LatencyStats  `json:"inference"`
	PostProcess     LatencyStats  `json:"post_process"`
	MemoryStats     MemoryMetrics `json:"memory_stats"`
	NumCPU          int           `json:"num_cpu"`
	Errors          int           `json:"errors"`
	ErrorRate       float64       `json:"error_rate"`
}

// Func classifies once and reports the stage timing.
type Func func(ctx context.Context) (Timing, error)

// Run executes the warmup runs, then the measured iterations of a scenario.
//
// Arguments:
//   - ctx: Checked before every run.
//   - scenario: The iteration counts.
//   - fn: The classification to measure.
//
// Returns:
//   - *Report: The aggregated timing and memory figures.
//   - error: ctx.Err() when cancelled, or the last error when every iteration failed.
func Run(ctx context.Context, scenario Scenario, fn Func) (*Report, error) {
	if scenario.Iterations <= 0 {
		return nil, fmt.Errorf("scenario %q needs at least one iteration", scenario.Name)
	}

	// Warmup errors are ignored; the measured runs report them.
	for i := 0; i < scenario.WarmupRuns; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		_, _ = fn(ctx)
	}

	runtime.GC()
	startMem := CaptureMemory()

	var (
		timings []Timing
		lastErr error
	)
	start := time.Now()
	for i := 0; i < scenario.Iterations; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		timing, err := fn(ctx)
		if err != nil {
			lastErr = err
			continue
		}
		timings = append(timings, timing)
	}
	total := time.Since(start)

	runtime.GC()
	endMem := CaptureMemory()

	if len(timings) == 0 {
		return nil, lastErr
	}

	errs := scenario.Iterations - len(timings)
	return &Report{
		Scenario:        scenario,
		Timestamp:       start,
		TotalDuration:   total,
		ImagesPerSecond: float64(len(timings)) / total.Seconds(),
		Preprocess:      summarize(timings, func(t Timing) time.Duration { return t.PreprocessDuration }),
		Inference:       summarize(timings, func(t Timing) time.Duration { return t.InferenceDuration }),
		PostProcess:     summarize(timings, func(t Timing) time.Duration { return t.PostProcessDuration }),
		MemoryStats: MemoryMetrics{
			AllocBytes:      endMem.AllocBytes,
			TotalAllocBytes: endMem.TotalAllocBytes - startMem.TotalAllocBytes,
			SysBytes:        endMem.SysBytes,
			NumGC:           endMem.NumGC - startMem.NumGC,
			HeapAllocBytes:  endMem.HeapAllocBytes,
			HeapSysBytes:    endMem.HeapSysBytes,
		},
		NumCPU:    runtime.NumCPU(),
		Errors:    errs,
		ErrorRate: float64(errs) / float64(scenario.Iterations),
	}, nil
}

// summarize computes latency statistics with nearest-rank percentiles.
func summarize(timings []Timing, stage func(Timing) time.Duration) LatencyStats {
	durations := make([]time.Duration, len(timings))
	var sum time.Duration
	for i, t := range timings {
		durations[i] = stage(t)
		sum += durations[i]
	}
	sort.Slice(durations, func(a, b int) bool { return durations[a] < durations[b] })

	return LatencyStats{
		Min:  Milliseconds(durations[0]),
		Max:  Milliseconds(durations[len(durations)-1]),
		Mean: Milliseconds(sum / time.Duration(len(durations))),
		P50:  Milliseconds(percentile(durations, 50)),
		P95:  Milliseconds(percentile(durations, 95)),
	}
}

func percentile(sorted []time.Duration, p int) time.Duration {
	rank := (p*len(sorted) + 99) / 100
	if rank < 1 {
		rank = 1
	}
	return sorted[rank-1]
}

// Save writes the report as indented JSON into dir.
//
// Returns:
//   - string: The written file, named after the scenario and timestamp.
//   - error: An error if the directory or file cannot be written.
func (r *Report) Save(dir string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}

	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal report: %w", err)
	}

	name := fmt.Sprintf("benchmark_%s_%s.json", r.Scenario.Name, r.Timestamp.Format("2006-01-02_15-04-05"))
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write report: %w", err)
	}
	return path, nil
}
