package tensor

import (
	"fmt"
	"math"
	"sort"
)

func checkCompatibility(t1, t2 *Tensor) error {
	if t1.Device != t2.Device {
		return fmt.Errorf("tensors must be on same device: %s vs %s", t1.Device, t2.Device)
	}
	return nil
}

func unary(t *Tensor, f func(float32) float32) *Tensor {
	result := &Tensor{
		Shape:    append([]int(nil), t.Shape...),
		Strides:  calculateStrides(t.Shape),
		Device:   t.Device,
		Data:     make([]float32, t.NumElems),
		NumElems: t.NumElems,
	}
	for i, v := range t.Data {
		result.Data[i] = f(v)
	}
	return result
}

func ReLU(t *Tensor) *Tensor {
	return unary(t, func(v float32) float32 {
		if v > 0 {
			return v
		}
		return 0
	})
}

func Sigmoid(t *Tensor) *Tensor {
	return unary(t, func(v float32) float32 {
		return float32(1.0 / (1.0 + math.Exp(-float64(v))))
	})
}

func Tanh(t *Tensor) *Tensor {
	return unary(t, func(v float32) float32 {
		return float32(math.Tanh(float64(v)))
	})
}

// GELU is the exact erf formulation
func GELU(t *Tensor) *Tensor {
	return unary(t, func(v float32) float32 {
		x := float64(v)
		return float32(0.5 * x * (1 + math.Erf(x/math.Sqrt2)))
	})
}

// Softmax normalizes over the last dimension
func Softmax(t *Tensor) (*Tensor, error) {
	if len(t.Shape) == 0 {
		return nil, fmt.Errorf("softmax requires at least 1 dimension")
	}
	width := t.Shape[len(t.Shape)-1]
	result := t.Clone()
	if width == 0 {
		return result, nil
	}

	for start := 0; start < t.NumElems; start += width {
		row := result.Data[start : start+width]

		maxVal := row[0]
		for _, v := range row[1:] {
			if v > maxVal {
				maxVal = v
			}
		}

		var sum float64
		for i, v := range row {
			e := math.Exp(float64(v - maxVal))
			row[i] = float32(e)
			sum += e
		}
		for i := range row {
			row[i] = float32(float64(row[i]) / sum)
		}
	}
	return result, nil
}

// ArgMax returns the index and value of the largest element in values
func ArgMax(values []float32) (int, float32) {
	if len(values) == 0 {
		return -1, 0
	}
	idx := 0
	for i, v := range values[1:] {
		if v > values[idx] {
			idx = i + 1
		}
	}
	return idx, values[idx]
}

// TopK returns the k largest values and their indices, largest first.
// Ties keep the lower index first.
func TopK(values []float32, k int) ([]int, []float32, error) {
	if k < 1 || k > len(values) {
		return nil, nil, fmt.Errorf("k must be in [1, %d], got %d", len(values), k)
	}

	indices := make([]int, len(values))
	for i := range indices {
		indices[i] = i
	}
	sort.SliceStable(indices, func(a, b int) bool {
		return values[indices[a]] > values[indices[b]]
	})

	topIdx := make([]int, k)
	topVal := make([]float32, k)
	for i := 0; i < k; i++ {
		topIdx[i] = indices[i]
		topVal[i] = values[indices[i]]
	}
	return topIdx, topVal, nil
}
