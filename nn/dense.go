package nn

import (
	"fmt"
	"math/rand"

	"github.com/tsawler/go-infer/tensor"
)

// Dense is a fully connected layer: y = x·Wᵀ + b over the last dimension
type Dense struct {
	InputSize  int
	OutputSize int

	weight *Parameter
	bias   *Parameter
}

func NewDense(inputSize, outputSize int, useBias bool) (*Dense, error) {
	if inputSize < 0 || outputSize < 0 {
		return nil, fmt.Errorf("dense sizes must not be negative, got %d -> %d", inputSize, outputSize)
	}
	w, err := tensor.Zeros([]int{outputSize, inputSize})
	if err != nil {
		return nil, err
	}
	d := &Dense{
		InputSize:  inputSize,
		OutputSize: outputSize,
		weight:     &Parameter{Name: "weight", Value: w},
	}
	if useBias {
		b, err := tensor.Zeros([]int{outputSize})
		if err != nil {
			return nil, err
		}
		d.bias = &Parameter{Name: "bias", Value: b}
	}
	return d, nil
}

func (d *Dense) Kind() string { return "Dense" }

func (d *Dense) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	var bias *tensor.Tensor
	if d.bias != nil {
		bias = d.bias.Value
	}
	return tensor.Linear(x, d.weight.Value, bias)
}

func (d *Dense) OutputShape(in []int) ([]int, error) {
	if len(in) < 1 || in[len(in)-1] != d.InputSize {
		return nil, fmt.Errorf("dense layer expects last dimension %d, got %v", d.InputSize, in)
	}
	out := copyShape(in)
	out[len(out)-1] = d.OutputSize
	return out, nil
}

func (d *Dense) Parameters() []*Parameter {
	if d.bias == nil {
		return []*Parameter{d.weight}
	}
	return []*Parameter{d.weight, d.bias}
}

func (d *Dense) ResetParameters(rng *rand.Rand) error {
	for _, p := range d.Parameters() {
		if err := uniformInit(p.Value, d.InputSize, rng); err != nil {
			return err
		}
	}
	return nil
}
