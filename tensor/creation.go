package tensor

import (
	"fmt"
	"math/rand"
)

// New creates a CPU tensor over data. A nil data slice allocates zeros.
func New(shape []int, data []float32) (*Tensor, error) {
	if err := validateShape(shape); err != nil {
		return nil, err
	}

	numElems := calculateNumElements(shape)
	if data == nil {
		data = make([]float32, numElems)
	}
	if len(data) != numElems {
		return nil, fmt.Errorf("data length %d does not match tensor size %d for shape %v", len(data), numElems, shape)
	}

	s := make([]int, len(shape))
	copy(s, shape)

	return &Tensor{
		Shape:    s,
		Strides:  calculateStrides(s),
		Device:   CPU,
		Data:     data,
		NumElems: numElems,
	}, nil
}

// MustNew is New for shapes and data known to be consistent
func MustNew(shape []int, data []float32) *Tensor {
	t, err := New(shape, data)
	if err != nil {
		panic(err)
	}
	return t
}

func Zeros(shape []int) (*Tensor, error) {
	return New(shape, nil)
}

func Full(shape []int, value float32) (*Tensor, error) {
	t, err := New(shape, nil)
	if err != nil {
		return nil, err
	}
	for i := range t.Data {
		t.Data[i] = value
	}
	return t, nil
}

func Ones(shape []int) (*Tensor, error) {
	return Full(shape, 1)
}

// RandomUniform fills a tensor from U(low, high)
func RandomUniform(shape []int, low, high float32, rng *rand.Rand) (*Tensor, error) {
	t, err := New(shape, nil)
	if err != nil {
		return nil, err
	}
	for i := range t.Data {
		t.Data[i] = low + rng.Float32()*(high-low)
	}
	return t, nil
}

// RandomNormal fills a tensor from N(mean, std²)
func RandomNormal(shape []int, mean, std float32, rng *rand.Rand) (*Tensor, error) {
	t, err := New(shape, nil)
	if err != nil {
		return nil, err
	}
	for i := range t.Data {
		t.Data[i] = mean + float32(rng.NormFloat64())*std
	}
	return t, nil
}
