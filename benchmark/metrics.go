// Package benchmark - Stage timing and memory figures for classification runs.
package benchmark

import (
	"math"
	"runtime"
	"time"
)

// Timing captures the duration of each classification stage.
type Timing struct {
	PreprocessDuration  time.Duration `json:"preprocess_duration"`
	InferenceDuration   time.Duration `json:"inference_duration"`
	PostProcessDuration time.Duration `json:"post_process_duration"`
	TotalDuration       time.Duration `json:"total_duration"`
}

// InferenceMilliseconds returns the inference time as reported to users.
func (t Timing) InferenceMilliseconds() float64 {
	return Milliseconds(t.InferenceDuration)
}

// MemoryMetrics captures memory usage statistics
type MemoryMetrics struct {
	AllocBytes      uint64 `json:"alloc_bytes"`
	TotalAllocBytes uint64 `json:"total_alloc_bytes"`
	SysBytes        uint64 `json:"sys_bytes"`
	NumGC           uint32 `json:"num_gc"`
	HeapAllocBytes  uint64 `json:"heap_alloc_bytes"`
	HeapSysBytes    uint64 `json:"heap_sys_bytes"`
}

// CaptureMemory reads the current Go heap statistics. Memory held by the native runtime is
// not included.
func CaptureMemory() MemoryMetrics {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return MemoryMetrics{
		AllocBytes:      m.Alloc,
		TotalAllocBytes: m.TotalAlloc,
		SysBytes:        m.Sys,
		NumGC:           m.NumGC,
		HeapAllocBytes:  m.HeapAlloc,
		HeapSysBytes:    m.HeapSys,
	}
}

// Milliseconds converts d to milliseconds rounded to two decimals.
func Milliseconds(d time.Duration) float64 {
	return math.Round(float64(d)/float64(time.Millisecond)*100) / 100
}

// Measure runs fn and returns how long it took.
//
// Arguments:
//   - fn: The work to time.
//
// Returns:
//   - time.Duration: The wall time of fn, also when it fails.
//   - error: The error returned by fn.
func Measure(fn func() error) (time.Duration, error) {
	start := time.Now()
	err := fn()
	return time.Since(start), err
}
