package nn

import (
	"fmt"
	"math/rand"

	"github.com/tsawler/go-infer/tensor"
)

// DefaultBatchNormEps is added to the running variance before the square root
const DefaultBatchNormEps = 1e-5

// BatchNorm normalizes dimension 1 with its running statistics
type BatchNorm struct {
	Size int
	Eps  float32

	weight      *Parameter
	bias        *Parameter
	runningMean *Parameter
	runningVar  *Parameter
}

func NewBatchNorm(size int, eps float32) (*BatchNorm, error) {
	if size < 1 {
		return nil, fmt.Errorf("batch norm size must be positive, got %d", size)
	}
	shape := []int{size}
	mk := func(name string, init func([]int) (*tensor.Tensor, error), buffer bool) (*Parameter, error) {
		t, err := init(shape)
		if err != nil {
			return nil, err
		}
		return &Parameter{Name: name, Value: t, Buffer: buffer}, nil
	}

	bn := &BatchNorm{Size: size, Eps: eps}
	var err error
	if bn.weight, err = mk("weight", tensor.Ones, false); err != nil {
		return nil, err
	}
	if bn.bias, err = mk("bias", tensor.Zeros, false); err != nil {
		return nil, err
	}
	if bn.runningMean, err = mk("running_mean", tensor.Zeros, true); err != nil {
		return nil, err
	}
	if bn.runningVar, err = mk("running_var", tensor.Ones, true); err != nil {
		return nil, err
	}
	return bn, nil
}

func (b *BatchNorm) Kind() string { return "BatchNorm" }

func (b *BatchNorm) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	return tensor.BatchNormInference(x, b.runningMean.Value, b.runningVar.Value, b.weight.Value, b.bias.Value, b.Eps)
}

func (b *BatchNorm) OutputShape(in []int) ([]int, error) {
	if len(in) < 2 || in[1] != b.Size {
		return nil, fmt.Errorf("batch norm expects %d features in dimension 1, got %v", b.Size, in)
	}
	return copyShape(in), nil
}

func (b *BatchNorm) Parameters() []*Parameter {
	return []*Parameter{b.weight, b.bias, b.runningMean, b.runningVar}
}

// ResetParameters sets the identity transform: unit scale, zero shift, zero
// mean and unit variance.
func (b *BatchNorm) ResetParameters(_ *rand.Rand) error {
	for _, p := range b.Parameters() {
		fill := float32(0)
		if p.Name == "weight" || p.Name == "running_var" {
			fill = 1
		}
		for i := range p.Value.Data {
			p.Value.Data[i] = fill
		}
	}
	return nil
}

// Flatten collapses every dimension after the batch dimension
type Flatten struct{}

func (Flatten) Kind() string { return "Flatten" }

func (Flatten) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	return tensor.Flatten(x)
}

func (Flatten) OutputShape(in []int) ([]int, error) {
	if len(in) < 1 {
		return nil, fmt.Errorf("flatten requires at least 1 dimension")
	}
	features := 1
	for _, d := range in[1:] {
		features *= d
	}
	return []int{in[0], features}, nil
}

// Dropout is the identity at inference time
type Dropout struct {
	Rate float32
}

func NewDropout(rate float32) (*Dropout, error) {
	if !(rate >= 0 && rate <= 1) {
		return nil, fmt.Errorf("dropout rate must be in [0, 1], got %g", rate)
	}
	return &Dropout{Rate: rate}, nil
}

func (d *Dropout) Kind() string { return "Dropout" }

func (d *Dropout) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	return x, nil
}

func (d *Dropout) OutputShape(in []int) ([]int, error) {
	return copyShape(in), nil
}
