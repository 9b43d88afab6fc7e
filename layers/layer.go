// Package layers turns declarative model configs into executable pipelines.
// A LayerSpec is pure configuration; LayerFactory resolves it into an
// nn.Stage and ModelBuilder assembles the stages in declaration order.
package layers

import (
	"fmt"

	"github.com/tsawler/go-infer/activations"
	"github.com/tsawler/go-infer/errtypes"
	"github.com/tsawler/go-infer/nn"
	"github.com/tsawler/go-infer/tensor"
)

// LayerType is the declared type of a layer. Types outside the known set
// are skipped when building.
type LayerType string

const (
	Dense     LayerType = "Dense"
	Conv2D    LayerType = "Conv2D"
	MaxPool2D LayerType = "MaxPool2D"
	Flatten   LayerType = "Flatten"
	Dropout   LayerType = "Dropout"
	BatchNorm LayerType = "BatchNorm"
)

// Known reports whether the factory can build a stage for lt
func (lt LayerType) Known() bool {
	switch lt {
	case Dense, Conv2D, MaxPool2D, Flatten, Dropout, BatchNorm:
		return true
	default:
		return false
	}
}

func (lt LayerType) String() string {
	if lt == "" {
		return "Unknown"
	}
	return string(lt)
}

// LayerFactory creates stages from layer specifications
type LayerFactory struct{}

// NewFactory creates a new layer factory
func NewFactory() *LayerFactory {
	return &LayerFactory{}
}

// CreateStage builds the stage for spec. ok is false, with a nil error, when
// the layer type is not one the factory knows; callers skip such layers.
func (lf *LayerFactory) CreateStage(spec LayerSpec) (stage nn.Stage, ok bool, err error) {
	var build func(map[string]any) (nn.Stage, error)
	switch spec.Type {
	case Dense:
		build = lf.createDense
	case Conv2D:
		build = lf.createConv2D
	case MaxPool2D:
		build = lf.createMaxPool2D
	case Flatten:
		build = func(map[string]any) (nn.Stage, error) { return nn.Flatten{}, nil }
	case Dropout:
		build = lf.createDropout
	case BatchNorm:
		build = lf.createBatchNorm
	default:
		return nil, false, nil
	}

	params := spec.Params
	if params == nil {
		params = map[string]any{}
	}
	stage, err = build(params)
	if err != nil {
		return nil, false, errtypes.Errorf(errtypes.Config, "CreateStage", "layer %q (%s): %w", spec.Label(), spec.Type, err)
	}
	return stage, true, nil
}

// withActivation wraps stage when params name an activation that resolves
func withActivation(stage nn.Stage, params map[string]any) nn.Stage {
	name, ok := stringParam(params, "activation")
	if !ok {
		return stage
	}
	act, ok := activations.Resolve(name)
	if !ok {
		return stage
	}
	return nn.NewActivated(stage, act)
}

func (lf *LayerFactory) createDense(params map[string]any) (nn.Stage, error) {
	in, err := intParam(params, "input_size")
	if err != nil {
		return nil, err
	}
	out, err := intParam(params, "output_size")
	if err != nil {
		return nil, err
	}
	useBias, err := boolParam(params, "use_bias", true)
	if err != nil {
		return nil, err
	}
	d, err := nn.NewDense(in, out, useBias)
	if err != nil {
		return nil, err
	}
	return withActivation(d, params), nil
}

func (lf *LayerFactory) createConv2D(params map[string]any) (nn.Stage, error) {
	in, err := intParam(params, "in_channels")
	if err != nil {
		return nil, err
	}
	out, err := intParam(params, "out_channels")
	if err != nil {
		return nil, err
	}
	kernel, err := pairParam(params, "kernel_size")
	if err != nil {
		return nil, err
	}
	stride, err := pairParam(params, "stride")
	if err != nil {
		return nil, err
	}
	padding, err := convPadding(params)
	if err != nil {
		return nil, err
	}
	useBias, err := boolParam(params, "use_bias", true)
	if err != nil {
		return nil, err
	}
	c, err := nn.NewConv2D(in, out, kernel, stride, padding, useBias)
	if err != nil {
		return nil, err
	}
	return withActivation(c, params), nil
}

// convPadding accepts a number, a (height, width) pair or the "same" and
// "valid" policies
func convPadding(params map[string]any) (nn.Padding, error) {
	v, err := lookup(params, "padding")
	if err != nil {
		return nn.Padding{}, err
	}
	if s, ok := v.(string); ok {
		switch s {
		case "same":
			return nn.SamePadding, nil
		case "valid":
			return nn.ValidPadding, nil
		}
		// numeric strings fall through to toPair
	}
	pair, err := toPair("padding", v)
	if err != nil {
		return nn.Padding{}, fmt.Errorf(`%w (or "same"/"valid")`, err)
	}
	return nn.Padding{Explicit: tensor.SymmetricPadding(pair[0], pair[1])}, nil
}

func (lf *LayerFactory) createMaxPool2D(params map[string]any) (nn.Stage, error) {
	kernel, err := pairParam(params, "pool_size")
	if err != nil {
		return nil, err
	}
	stride, err := pairParam(params, "stride")
	if err != nil {
		return nil, err
	}
	v, err := lookup(params, "padding")
	if err != nil {
		return nil, err
	}
	padding := nn.SamePadding
	if s, ok := v.(string); ok && s == "valid" {
		padding = nn.ValidPadding
	}
	return nn.NewMaxPool2D(kernel, stride, padding)
}

func (lf *LayerFactory) createDropout(params map[string]any) (nn.Stage, error) {
	rate, err := floatParam(params, "rate")
	if err != nil {
		return nil, err
	}
	return nn.NewDropout(float32(rate))
}

func (lf *LayerFactory) createBatchNorm(params map[string]any) (nn.Stage, error) {
	size, err := intParam(params, "size")
	if err != nil {
		return nil, err
	}
	eps, err := optionalFloatParam(params, "eps", nn.DefaultBatchNormEps)
	if err != nil {
		return nil, err
	}
	return nn.NewBatchNorm(size, float32(eps))
}
