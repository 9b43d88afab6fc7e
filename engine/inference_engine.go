// Package engine loads declarative models and serves predictions from them.
//
// An InferenceEngine starts Unloaded. LoadModel parses the config, builds the
// pipeline, binds weights and places the pipeline on the compute device before
// swapping it in, so concurrent readers only ever see a complete model.
package engine

import (
	"context"
	"fmt"
	"math/rand"
	"runtime"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/tsawler/go-infer/checkpoints"
	"github.com/tsawler/go-infer/errtypes"
	"github.com/tsawler/go-infer/layers"
	"github.com/tsawler/go-infer/nn"
	"github.com/tsawler/go-infer/tensor"
)

// State is the lifecycle state of an engine
type State int

const (
	Unloaded State = iota
	Loaded
)

func (s State) String() string {
	switch s {
	case Unloaded:
		return "Unloaded"
	case Loaded:
		return "Loaded"
	default:
		return "Unknown"
	}
}

// model is an immutable loaded config and pipeline pair
type model struct {
	config   layers.ModelConfig
	pipeline *nn.Pipeline
}

// InferenceEngine owns one loaded model at a time
type InferenceEngine struct {
	mu      sync.RWMutex
	current *model

	device   tensor.Device
	logger   *zap.SugaredLogger
	seed     int64
	decoders []checkpoints.Decoder

	rngMu sync.Mutex
	rng   *rand.Rand
}

// New creates an Unloaded engine
func New(opts ...Option) *InferenceEngine {
	e := &InferenceEngine{
		device: tensor.DetectDevice(),
		logger: zap.NewNop().Sugar(),
		seed:   time.Now().UnixNano(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.rng = rand.New(rand.NewSource(e.seed))
	return e
}

// LoadReport describes a successful LoadModel
type LoadReport struct {
	// Format is the weight decoder that handled the blob
	Format  string
	Outcome checkpoints.Outcome
	// Stages is the number of built stages, Skipped the number of layers
	// with an unknown type
	Stages       int
	Skipped      int
	Parameters   int64
	CheckpointID string
}

func (e *InferenceEngine) State() State {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.current == nil {
		return Unloaded
	}
	return Loaded
}

func (e *InferenceEngine) Device() tensor.Device {
	return e.device
}

// LoadModel loads the config at configPath and the weights at weightsPath.
// The new model replaces the current one only when every step succeeds; on
// failure the engine keeps whatever it had before.
func (e *InferenceEngine) LoadModel(configPath, weightsPath string) (LoadReport, error) {
	cfg, err := layers.LoadConfig(configPath)
	if err != nil {
		return LoadReport{}, fmt.Errorf("LoadModel: %w", err)
	}

	m, report, err := e.prepare(*cfg)
	if err != nil {
		return LoadReport{}, err
	}

	result, err := checkpoints.NewLoader(e.logger, e.decoders...).Load(weightsPath, m.pipeline)
	if err != nil {
		return LoadReport{}, fmt.Errorf("LoadModel: %w", err)
	}
	report.Format = result.Format
	report.Outcome = result.Outcome
	report.CheckpointID = result.CheckpointID

	if err := e.install(m); err != nil {
		return LoadReport{}, err
	}
	e.logger.Infow("model loaded",
		"config", configPath,
		"weights", weightsPath,
		"format", report.Format,
		"outcome", report.Outcome.String(),
		"stages", report.Stages,
		"skipped", report.Skipped,
		"parameters", report.Parameters,
		"device", e.device.String(),
	)
	return report, nil
}

// InitModel loads cfg with default-initialized parameters and no weight file
func (e *InferenceEngine) InitModel(cfg layers.ModelConfig) (LoadReport, error) {
	if err := cfg.Validate(); err != nil {
		return LoadReport{}, fmt.Errorf("InitModel: %w", err)
	}
	m, report, err := e.prepare(cfg)
	if err != nil {
		return LoadReport{}, err
	}
	report.Outcome = checkpoints.WeightsUnbound
	if err := e.install(m); err != nil {
		return LoadReport{}, err
	}
	e.logger.Infow("model initialized", "stages", report.Stages, "parameters", report.Parameters)
	return report, nil
}

// prepare builds and default-initializes the pipeline for cfg
func (e *InferenceEngine) prepare(cfg layers.ModelConfig) (*model, LoadReport, error) {
	pipeline, err := layers.NewModelBuilder(e.logger).Build(cfg.Layers)
	if err != nil {
		return nil, LoadReport{}, fmt.Errorf("LoadModel: %w", err)
	}

	e.rngMu.Lock()
	err = pipeline.ResetParameters(e.rng)
	e.rngMu.Unlock()
	if err != nil {
		return nil, LoadReport{}, errtypes.Errorf(errtypes.Config, "LoadModel", "failed to initialize parameters: %w", err)
	}

	report := LoadReport{
		Stages:     pipeline.Len(),
		Skipped:    len(cfg.Layers) - pipeline.Len(),
		Parameters: pipeline.ParameterCount(),
	}
	return &model{config: cfg.Clone(), pipeline: pipeline}, report, nil
}

// install places m on the engine's device and makes it current
func (e *InferenceEngine) install(m *model) error {
	if err := m.pipeline.To(e.device.Type); err != nil {
		return errtypes.Errorf(errtypes.Config, "LoadModel", "%w", err)
	}

	e.mu.Lock()
	e.current = m
	e.mu.Unlock()
	return nil
}

// loaded returns the current model or a state error naming op
func (e *InferenceEngine) loaded(op string) (*model, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.current == nil {
		return nil, errtypes.WithOp(errtypes.ErrModelNotLoaded, op)
	}
	return e.current, nil
}

// validateShape requires the rank of input_shape and every dimension after
// the batch dimension to match
func validateShape(shape, expected []int) bool {
	if len(shape) != len(expected) {
		return false
	}
	for i := 1; i < len(shape); i++ {
		if shape[i] != expected[i] {
			return false
		}
	}
	return true
}

func (m *model) forward(op string, x *tensor.Tensor) (*tensor.Tensor, error) {
	if x == nil {
		return nil, errtypes.Errorf(errtypes.Validation, op, "input tensor is nil")
	}
	if err := x.Validate(); err != nil {
		return nil, errtypes.Errorf(errtypes.Validation, op, "invalid input tensor: %w", err)
	}
	if !validateShape(x.Shape, m.config.InputShape) {
		return nil, errtypes.Errorf(errtypes.Validation, op, "invalid input shape: expected %v, got %v", m.config.InputShape, x.Shape)
	}
	out, err := m.pipeline.Forward(x)
	if err != nil {
		return nil, errtypes.Errorf(errtypes.Config, op, "%w", err)
	}
	return out, nil
}

// Predict runs the pipeline on x and returns the raw output
func (e *InferenceEngine) Predict(x *tensor.Tensor) (*tensor.Tensor, error) {
	m, err := e.loaded("Predict")
	if err != nil {
		return nil, err
	}
	return m.forward("Predict", x)
}

// PredictBatch predicts every input independently. Results keep the input
// order and the first failure aborts the rest.
func (e *InferenceEngine) PredictBatch(inputs []*tensor.Tensor) ([]*tensor.Tensor, error) {
	m, err := e.loaded("PredictBatch")
	if err != nil {
		return nil, err
	}

	results := make([]*tensor.Tensor, len(inputs))
	g, ctx := errgroup.WithContext(context.Background())
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, x := range inputs {
		i, x := i, x
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			out, err := m.forward("PredictBatch", x)
			if err != nil {
				return fmt.Errorf("input %d: %w", i, err)
			}
			results[i] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// probabilities returns the softmax of the first output row
func (m *model) probabilities(op string, x *tensor.Tensor) ([]float32, error) {
	out, err := m.forward(op, x)
	if err != nil {
		return nil, err
	}
	probs, err := tensor.Softmax(out)
	if err != nil {
		return nil, errtypes.Errorf(errtypes.Config, op, "%w", err)
	}
	row, err := probs.Row(0)
	if err != nil {
		return nil, errtypes.Errorf(errtypes.Validation, op, "%w", err)
	}
	if len(row) == 0 {
		return nil, errtypes.Errorf(errtypes.Config, op, "model produced an empty output %v", out.Shape)
	}
	return row, nil
}

// PredictClass returns the most probable class index and its probability.
// Outputs are converted to probabilities with a softmax over the last
// dimension; only the first batch row is classified.
func (e *InferenceEngine) PredictClass(x *tensor.Tensor) (int, float32, error) {
	m, err := e.loaded("PredictClass")
	if err != nil {
		return 0, 0, err
	}
	probs, err := m.probabilities("PredictClass", x)
	if err != nil {
		return 0, 0, err
	}
	idx, p := tensor.ArgMax(probs)
	return idx, p, nil
}

// PredictClasses classifies every row of a batched input, returning the most
// probable class index and its probability per row
func (e *InferenceEngine) PredictClasses(x *tensor.Tensor) ([]int, []float32, error) {
	const op = "PredictClasses"
	m, err := e.loaded(op)
	if err != nil {
		return nil, nil, err
	}
	out, err := m.forward(op, x)
	if err != nil {
		return nil, nil, err
	}
	probs, err := tensor.Softmax(out)
	if err != nil {
		return nil, nil, errtypes.Errorf(errtypes.Config, op, "%w", err)
	}

	rows := out.Shape[0]
	indices := make([]int, rows)
	values := make([]float32, rows)
	for i := 0; i < rows; i++ {
		row, err := probs.Row(i)
		if err != nil {
			return nil, nil, errtypes.Errorf(errtypes.Config, op, "%w", err)
		}
		if len(row) == 0 {
			return nil, nil, errtypes.Errorf(errtypes.Config, op, "model produced an empty output %v", out.Shape)
		}
		indices[i], values[i] = tensor.ArgMax(row)
	}
	return indices, values, nil
}

// PredictClassName is PredictClass mapped through the config's class names
func (e *InferenceEngine) PredictClassName(x *tensor.Tensor) (string, float32, error) {
	const op = "PredictClassName"
	m, err := e.loaded(op)
	if err != nil {
		return "", 0, err
	}
	if len(m.config.Classes) == 0 {
		return "", 0, errtypes.WithOp(errtypes.ErrNoClassNames, op)
	}
	probs, err := m.probabilities(op, x)
	if err != nil {
		return "", 0, err
	}
	idx, p := tensor.ArgMax(probs)
	if idx >= len(m.config.Classes) {
		return "", 0, errtypes.Errorf(errtypes.Config, op, "class index %d has no name (%d classes)", idx, len(m.config.Classes))
	}
	return m.config.Classes[idx], p, nil
}

// PredictTopK returns the k most probable class indices and their
// probabilities, most probable first
func (e *InferenceEngine) PredictTopK(x *tensor.Tensor, k int) ([]int, []float32, error) {
	const op = "PredictTopK"
	m, err := e.loaded(op)
	if err != nil {
		return nil, nil, err
	}
	probs, err := m.probabilities(op, x)
	if err != nil {
		return nil, nil, err
	}
	if k < 1 || k > len(probs) {
		return nil, nil, errtypes.Errorf(errtypes.Validation, op, "k must be in [1, %d], got %d", len(probs), k)
	}
	idx, vals, err := tensor.TopK(probs, k)
	if err != nil {
		return nil, nil, errtypes.Errorf(errtypes.Validation, op, "%w", err)
	}
	return idx, vals, nil
}

// ModelInfo returns a copy of the loaded config, or the zero config when
// nothing is loaded
func (e *InferenceEngine) ModelInfo() layers.ModelConfig {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.current == nil {
		return layers.ModelConfig{}
	}
	return e.current.config.Clone()
}

// Summary compiles the loaded config into per-layer shapes and parameter
// counts
func (e *InferenceEngine) Summary() (*layers.ModelSummary, error) {
	m, err := e.loaded("Summary")
	if err != nil {
		return nil, err
	}
	return layers.NewModelBuilder(e.logger).Compile(m.config)
}

// SaveModel writes the current parameters to path in the native format
func (e *InferenceEngine) SaveModel(path string) error {
	e.mu.RLock()
	m := e.current
	e.mu.RUnlock()
	if m == nil {
		return errtypes.WithOp(errtypes.ErrNoModelToSave, "SaveModel")
	}

	id, err := checkpoints.NewLoader(e.logger).Save(path, m.pipeline)
	if err != nil {
		return fmt.Errorf("SaveModel: %w", err)
	}
	e.logger.Infow("model saved", "path", path, "checkpoint", id.String())
	return nil
}
