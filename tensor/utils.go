package tensor

import (
	"fmt"
)

// Reshape returns a tensor sharing t's data with a new shape. One dimension
// may be -1 and is inferred.
func (t *Tensor) Reshape(newShape []int) (*Tensor, error) {
	shape := make([]int, len(newShape))
	copy(shape, newShape)

	newNumElems := 1
	negOneIdx := -1

	for i, dim := range shape {
		switch {
		case dim == -1:
			if negOneIdx >= 0 {
				return nil, fmt.Errorf("only one dimension can be -1")
			}
			negOneIdx = i
		case dim < 0:
			return nil, fmt.Errorf("negative dimension %d at index %d is not allowed (only -1 is allowed)", dim, i)
		default:
			newNumElems *= dim
		}
	}

	if negOneIdx >= 0 {
		if newNumElems == 0 || t.NumElems%newNumElems != 0 {
			return nil, fmt.Errorf("cannot reshape tensor of size %d into shape %v", t.NumElems, newShape)
		}
		shape[negOneIdx] = t.NumElems / newNumElems
		newNumElems *= shape[negOneIdx]
	}

	if newNumElems != t.NumElems {
		return nil, fmt.Errorf("cannot reshape tensor of size %d into shape %v (size %d)", t.NumElems, newShape, newNumElems)
	}

	return &Tensor{
		Shape:    shape,
		Strides:  calculateStrides(shape),
		Device:   t.Device,
		Data:     t.Data,
		NumElems: t.NumElems,
	}, nil
}

func (t *Tensor) Clone() *Tensor {
	clone := &Tensor{
		Shape:    make([]int, len(t.Shape)),
		Strides:  make([]int, len(t.Strides)),
		Device:   t.Device,
		Data:     make([]float32, len(t.Data)),
		NumElems: t.NumElems,
	}
	copy(clone.Shape, t.Shape)
	copy(clone.Strides, t.Strides)
	copy(clone.Data, t.Data)
	return clone
}

// At returns the element at the given indices
func (t *Tensor) At(indices ...int) (float32, error) {
	if len(indices) != len(t.Shape) {
		return 0, fmt.Errorf("expected %d indices, got %d", len(t.Shape), len(indices))
	}
	offset := 0
	for i, idx := range indices {
		if idx < 0 || idx >= t.Shape[i] {
			return 0, fmt.Errorf("index %d out of bounds for dimension %d with size %d", idx, i, t.Shape[i])
		}
		offset += idx * t.Strides[i]
	}
	return t.Data[offset], nil
}

// Row returns a copy of the i-th slice along the first dimension
func (t *Tensor) Row(i int) ([]float32, error) {
	if len(t.Shape) == 0 || i < 0 || i >= t.Shape[0] {
		return nil, fmt.Errorf("row %d out of bounds for shape %v", i, t.Shape)
	}
	width := t.NumElems / t.Shape[0]
	row := make([]float32, width)
	copy(row, t.Data[i*width:(i+1)*width])
	return row, nil
}

func (t *Tensor) Numel() int {
	return t.NumElems
}

func (t *Tensor) Dim() int {
	return len(t.Shape)
}

// Equal reports whether both tensors have the same shape and identical bits
func (t *Tensor) Equal(other *Tensor) bool {
	if other == nil || !ShapesEqual(t.Shape, other.Shape) {
		return false
	}
	for i := range t.Data {
		if t.Data[i] != other.Data[i] {
			return false
		}
	}
	return true
}
