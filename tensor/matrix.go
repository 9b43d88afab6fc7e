package tensor

import (
	"fmt"

	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas32"
)

func general(rows, cols int, data []float32) blas32.General {
	return blas32.General{Rows: rows, Cols: cols, Stride: cols, Data: data}
}

// Linear computes input·weightᵀ + bias over the last dimension of input.
// weight is [out, in], bias is [out] or nil.
func Linear(input, weight, bias *Tensor) (*Tensor, error) {
	if err := checkCompatibility(input, weight); err != nil {
		return nil, err
	}
	if len(input.Shape) < 1 || len(weight.Shape) != 2 {
		return nil, fmt.Errorf("linear requires input with at least 1 dimension and a 2D weight, got %v and %v", input.Shape, weight.Shape)
	}
	outFeatures, inFeatures := weight.Shape[0], weight.Shape[1]
	if input.Shape[len(input.Shape)-1] != inFeatures {
		return nil, fmt.Errorf("linear expects last input dimension %d, got shape %v", inFeatures, input.Shape)
	}
	if bias != nil && (len(bias.Shape) != 1 || bias.Shape[0] != outFeatures) {
		return nil, fmt.Errorf("linear bias shape %v does not match %d output features", bias.Shape, outFeatures)
	}

	rows := 1
	for _, d := range input.Shape[:len(input.Shape)-1] {
		rows *= d
	}

	outputShape := append([]int(nil), input.Shape...)
	outputShape[len(outputShape)-1] = outFeatures
	result, err := Zeros(outputShape)
	if err != nil {
		return nil, err
	}

	if bias != nil {
		for r := 0; r < rows; r++ {
			copy(result.Data[r*outFeatures:(r+1)*outFeatures], bias.Data)
		}
	}
	if rows == 0 || outFeatures == 0 || inFeatures == 0 {
		return result, nil
	}

	beta := float32(0)
	if bias != nil {
		beta = 1
	}
	blas32.Gemm(blas.NoTrans, blas.Trans, 1,
		general(rows, inFeatures, input.Data),
		general(outFeatures, inFeatures, weight.Data),
		beta, general(rows, outFeatures, result.Data))
	return result, nil
}

// Flatten collapses every dimension after the first
func Flatten(t *Tensor) (*Tensor, error) {
	if len(t.Shape) < 1 {
		return nil, fmt.Errorf("flatten requires at least 1 dimension")
	}
	batch := t.Shape[0]
	features := 1
	for _, d := range t.Shape[1:] {
		features *= d
	}
	return t.Reshape([]int{batch, features})
}
