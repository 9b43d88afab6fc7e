// Package tensor is the compute layer used by the inference pipeline. It owns
// tensor allocation, device placement and the linear, convolution, pooling,
// normalization and activation primitives. Matrix products are delegated to
// gonum's BLAS implementation.
package tensor

import (
	"fmt"
	"math"
)

// DType identifies an element encoding. Tensors always hold float32 in
// memory; the other encodings only appear in serialized parameter blobs.
type DType int

const (
	Float32 DType = iota
	Float16
	BFloat16
	Float64
)

func (d DType) String() string {
	switch d {
	case Float32:
		return "Float32"
	case Float16:
		return "Float16"
	case BFloat16:
		return "BFloat16"
	case Float64:
		return "Float64"
	default:
		return "Unknown"
	}
}

// Size returns the encoded width of one element in bytes
func (d DType) Size() int {
	switch d {
	case Float16, BFloat16:
		return 2
	case Float64:
		return 8
	default:
		return 4
	}
}

type DeviceType int

const (
	CPU DeviceType = iota
	GPU
)

func (d DeviceType) String() string {
	switch d {
	case CPU:
		return "CPU"
	case GPU:
		return "GPU"
	default:
		return "Unknown"
	}
}

// Tensor is a dense row-major float32 array
type Tensor struct {
	Shape    []int
	Strides  []int
	Device   DeviceType
	Data     []float32
	NumElems int
}

func (t *Tensor) String() string {
	return fmt.Sprintf("Tensor(shape=%v, device=%s, elements=%d)",
		t.Shape, t.Device, t.NumElems)
}

func calculateStrides(shape []int) []int {
	if len(shape) == 0 {
		return []int{}
	}

	strides := make([]int, len(shape))
	stride := 1
	for i := len(shape) - 1; i >= 0; i-- {
		strides[i] = stride
		stride *= shape[i]
	}
	return strides
}

func calculateNumElements(shape []int) int {
	if len(shape) == 0 {
		return 0
	}

	elements := 1
	for _, dim := range shape {
		elements *= dim
	}
	return elements
}

func validateShape(shape []int) error {
	if len(shape) == 0 {
		return fmt.Errorf("invalid shape: tensor must have at least one dimension")
	}
	for i, dim := range shape {
		if dim < 0 {
			return fmt.Errorf("invalid shape: dimension %d has size %d, must not be negative", i, dim)
		}
	}
	return nil
}

// Validate checks that the shape is well formed and that Data and NumElems
// agree with it. Tensors built with New always pass.
func (t *Tensor) Validate() error {
	if err := validateShape(t.Shape); err != nil {
		return err
	}
	count := 1
	for _, dim := range t.Shape {
		if dim != 0 && count > math.MaxInt/dim {
			return fmt.Errorf("element count overflows for shape %v", t.Shape)
		}
		count *= dim
	}
	if len(t.Data) != count {
		return fmt.Errorf("tensor has %d values, shape %v needs %d", len(t.Data), t.Shape, count)
	}
	if t.NumElems != count {
		return fmt.Errorf("tensor reports %d elements, shape %v has %d", t.NumElems, t.Shape, count)
	}
	return nil
}

// ShapesEqual reports whether two shapes have the same rank and dimensions
func ShapesEqual(shape1, shape2 []int) bool {
	if len(shape1) != len(shape2) {
		return false
	}
	for i := range shape1 {
		if shape1[i] != shape2[i] {
			return false
		}
	}
	return true
}
