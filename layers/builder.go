package layers

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/tsawler/go-infer/activations"
	"github.com/tsawler/go-infer/errtypes"
	"github.com/tsawler/go-infer/nn"
)

// ModelBuilder assembles pipelines from ordered layer specifications
type ModelBuilder struct {
	factory *LayerFactory
	logger  *zap.SugaredLogger
}

// NewModelBuilder creates a builder. A nil logger discards output.
func NewModelBuilder(logger *zap.SugaredLogger) *ModelBuilder {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &ModelBuilder{factory: NewFactory(), logger: logger}
}

// Build creates one stage per recognized layer, in declaration order.
// Unknown layer types are skipped; malformed parameters on a known type fail
// the whole build with a configuration error.
func (mb *ModelBuilder) Build(specs []LayerSpec) (*nn.Pipeline, error) {
	p, _, err := mb.build(specs)
	return p, err
}

// build also returns, for every stage, the index of the spec it came from
func (mb *ModelBuilder) build(specs []LayerSpec) (*nn.Pipeline, []int, error) {
	pipeline := nn.NewPipeline()
	var origin []int

	for i, spec := range specs {
		stage, ok, err := mb.factory.CreateStage(spec)
		if err != nil {
			return nil, nil, fmt.Errorf("layer %d: %w", i, err)
		}
		if !ok {
			mb.logger.Debugw("skipping layer with unknown type", "index", i, "name", spec.Name, "type", spec.Type.String())
			continue
		}
		if name, ok := stringParam(spec.Params, "activation"); ok {
			if _, resolved := activations.Resolve(name); !resolved {
				mb.logger.Debugw("ignoring unknown activation", "index", i, "name", spec.Name, "activation", name)
			}
		}
		pipeline.Append(stage)
		origin = append(origin, i)
	}

	return pipeline, origin, nil
}

// LayerSummary describes one built stage
type LayerSummary struct {
	Name           string
	Type           LayerType
	Activation     string
	InputShape     []int
	OutputShape    []int
	ParameterCount int64
}

// ModelSummary is the result of compiling a config: the built layers with
// their shapes and parameter counts
type ModelSummary struct {
	InputShape      []int
	OutputShape     []int
	TotalParameters int64
	Layers          []LayerSummary
	Skipped         []string
}

// Compile builds cfg's layers and walks the input shape through them
func (mb *ModelBuilder) Compile(cfg ModelConfig) (*ModelSummary, error) {
	if len(cfg.Layers) == 0 {
		return nil, errtypes.Errorf(errtypes.Config, "Compile", "cannot compile empty model")
	}
	pipeline, origin, err := mb.build(cfg.Layers)
	if err != nil {
		return nil, err
	}

	shapes, err := pipeline.OutputShapes(cfg.InputShape)
	if err != nil {
		return nil, errtypes.Errorf(errtypes.Config, "Compile", "%w", err)
	}

	summary := &ModelSummary{InputShape: append([]int(nil), cfg.InputShape...)}
	built := make(map[int]bool, len(origin))
	current := summary.InputShape
	for i, stage := range pipeline.Stages() {
		spec := cfg.Layers[origin[i]]
		built[origin[i]] = true

		layer := LayerSummary{
			Name:        spec.Label(),
			Type:        spec.Type,
			InputShape:  current,
			OutputShape: shapes[i],
		}
		if a, ok := stage.(*nn.Activated); ok {
			layer.Activation = a.Activation.Name()
			stage = a.Stage
		}
		if ps, ok := stage.(nn.Parameterized); ok {
			for _, p := range ps.Parameters() {
				if !p.Buffer {
					layer.ParameterCount += int64(p.Value.Numel())
				}
			}
		}
		summary.TotalParameters += layer.ParameterCount
		summary.Layers = append(summary.Layers, layer)
		current = shapes[i]
	}
	summary.OutputShape = current

	for i, spec := range cfg.Layers {
		if !built[i] {
			summary.Skipped = append(summary.Skipped, fmt.Sprintf("%s (%s)", spec.Label(), spec.Type))
		}
	}
	return summary, nil
}

// Summary returns a human-readable model summary
func (ms *ModelSummary) Summary() string {
	var sb strings.Builder
	sb.WriteString("Model Summary:\n")
	fmt.Fprintf(&sb, "Input Shape: %v\n", ms.InputShape)
	fmt.Fprintf(&sb, "Output Shape: %v\n", ms.OutputShape)
	fmt.Fprintf(&sb, "Total Parameters: %d\n", ms.TotalParameters)
	fmt.Fprintf(&sb, "Layers: %d\n\n", len(ms.Layers))

	for i, layer := range ms.Layers {
		kind := layer.Type.String()
		if layer.Activation != "" {
			kind += "+" + layer.Activation
		}
		fmt.Fprintf(&sb, "Layer %d: %s (%s)\n", i+1, layer.Name, kind)
		fmt.Fprintf(&sb, "  Input:  %v\n", layer.InputShape)
		fmt.Fprintf(&sb, "  Output: %v\n", layer.OutputShape)
		fmt.Fprintf(&sb, "  Params: %d\n\n", layer.ParameterCount)
	}
	if len(ms.Skipped) > 0 {
		fmt.Fprintf(&sb, "Skipped: %s\n", strings.Join(ms.Skipped, ", "))
	}
	return sb.String()
}
