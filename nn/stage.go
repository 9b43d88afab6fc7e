// Package nn holds the executable form of a model: stages that transform a
// tensor and the pipeline that runs them in order. Stages only run forward;
// dropout is an identity and batch normalization uses its running statistics.
package nn

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/tsawler/go-infer/activations"
	"github.com/tsawler/go-infer/tensor"
)

// Stage is one unit of computation in a pipeline
type Stage interface {
	// Kind is the layer type the stage was built from, e.g. "Dense"
	Kind() string
	Forward(x *tensor.Tensor) (*tensor.Tensor, error)
	// OutputShape reports the shape Forward produces for an input shape
	OutputShape(in []int) ([]int, error)
}

// Parameter is a named tensor owned by a stage. Buffers (batch norm running
// statistics) are persisted with the weights but are not learnable.
type Parameter struct {
	Name   string
	Value  *tensor.Tensor
	Buffer bool
}

// Parameterized is implemented by stages that own parameters
type Parameterized interface {
	Stage
	// Parameters returns the stage's parameters in state-dict order
	Parameters() []*Parameter
	// ResetParameters restores the default initialization
	ResetParameters(rng *rand.Rand) error
}

// Activated applies an activation to the output of another stage
type Activated struct {
	Stage      Stage
	Activation activations.Activation
}

func NewActivated(stage Stage, act activations.Activation) *Activated {
	return &Activated{Stage: stage, Activation: act}
}

func (a *Activated) Kind() string { return a.Stage.Kind() }

func (a *Activated) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	out, err := a.Stage.Forward(x)
	if err != nil {
		return nil, err
	}
	return a.Activation.Apply(out)
}

func (a *Activated) OutputShape(in []int) ([]int, error) {
	return a.Stage.OutputShape(in)
}

func (a *Activated) String() string {
	return fmt.Sprintf("%s(%s)", a.Stage.Kind(), a.Activation.Name())
}

// uniformInit fills t from U(-1/sqrt(fanIn), 1/sqrt(fanIn))
func uniformInit(t *tensor.Tensor, fanIn int, rng *rand.Rand) error {
	if fanIn <= 0 {
		return nil
	}
	bound := float32(1 / math.Sqrt(float64(fanIn)))
	init, err := tensor.RandomUniform(t.Shape, -bound, bound, rng)
	if err != nil {
		return err
	}
	copy(t.Data, init.Data)
	return nil
}

func copyShape(shape []int) []int {
	out := make([]int, len(shape))
	copy(out, shape)
	return out
}
