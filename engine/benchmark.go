package engine

import (
	"fmt"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/tsawler/go-infer/errtypes"
	"github.com/tsawler/go-infer/tensor"
)

// benchmarkWarmupRuns untimed passes precede every benchmark
const benchmarkWarmupRuns = 10

// BenchmarkStats summarizes per-call latency
type BenchmarkStats struct {
	Runs int
	Avg  time.Duration
	Min  time.Duration
	Max  time.Duration
	// Std is the sample standard deviation, zero for a single run
	Std time.Duration
}

func (s BenchmarkStats) String() string {
	return fmt.Sprintf("runs=%d avg=%v min=%v max=%v std=%v", s.Runs, s.Avg, s.Min, s.Max, s.Std)
}

// Warmup runs n forward passes on a random input shaped like input_shape
// with a batch of one and returns the mean latency
func (e *InferenceEngine) Warmup(n int) (time.Duration, error) {
	const op = "Warmup"
	m, err := e.loaded(op)
	if err != nil {
		return 0, err
	}
	if n < 1 {
		return 0, errtypes.Errorf(errtypes.Validation, op, "iterations must be positive, got %d", n)
	}

	x, err := e.randomInput(op, m, 1)
	if err != nil {
		return 0, err
	}

	start := time.Now()
	for i := 0; i < n; i++ {
		if _, err := m.forward(op, x); err != nil {
			return 0, err
		}
	}
	avg := time.Since(start) / time.Duration(n)

	e.logger.Debugw("warmup finished", "iterations", n, "avg", avg)
	return avg, nil
}

// RandomInput returns a standard normal tensor shaped like input_shape with
// the given batch size
func (e *InferenceEngine) RandomInput(batch int) (*tensor.Tensor, error) {
	const op = "RandomInput"
	m, err := e.loaded(op)
	if err != nil {
		return nil, err
	}
	if batch < 1 {
		return nil, errtypes.Errorf(errtypes.Validation, op, "batch size must be positive, got %d", batch)
	}
	return e.randomInput(op, m, batch)
}

func (e *InferenceEngine) randomInput(op string, m *model, batch int) (*tensor.Tensor, error) {
	shape := append([]int{batch}, m.config.InputShape[1:]...)
	e.rngMu.Lock()
	x, err := tensor.RandomNormal(shape, 0, 1, e.rng)
	e.rngMu.Unlock()
	if err != nil {
		return nil, errtypes.Errorf(errtypes.Config, op, "failed to create random input: %w", err)
	}
	return x, nil
}

// Benchmark times n forward passes on x after a fixed number of untimed
// warmup passes
func (e *InferenceEngine) Benchmark(x *tensor.Tensor, n int) (BenchmarkStats, error) {
	const op = "Benchmark"
	m, err := e.loaded(op)
	if err != nil {
		return BenchmarkStats{}, err
	}
	if n < 1 {
		return BenchmarkStats{}, errtypes.Errorf(errtypes.Validation, op, "runs must be positive, got %d", n)
	}

	for i := 0; i < benchmarkWarmupRuns; i++ {
		if _, err := m.forward(op, x); err != nil {
			return BenchmarkStats{}, err
		}
	}

	times := make([]float64, n)
	for i := range times {
		start := time.Now()
		if _, err := m.forward(op, x); err != nil {
			return BenchmarkStats{}, err
		}
		times[i] = float64(time.Since(start))
	}

	stats := BenchmarkStats{
		Runs: n,
		Avg:  time.Duration(stat.Mean(times, nil)),
		Min:  time.Duration(floats.Min(times)),
		Max:  time.Duration(floats.Max(times)),
	}
	if n > 1 {
		stats.Std = time.Duration(stat.StdDev(times, nil))
	}
	e.logger.Debugw("benchmark finished", "stats", stats.String())
	return stats, nil
}
