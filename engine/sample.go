package engine

import (
	"strconv"

	"github.com/tsawler/go-infer/layers"
)

// CreateSampleConfig returns a small MNIST-shaped classifier:
// 784 -> 128 ReLU -> dropout -> 10 Softmax with classes "0".."9".
func CreateSampleConfig() layers.ModelConfig {
	classes := make([]string, 10)
	for i := range classes {
		classes[i] = strconv.Itoa(i)
	}
	return layers.ModelConfig{
		Version:     "1.0",
		ModelType:   "classification",
		InputShape:  []int{1, 784},
		OutputShape: []int{10},
		Classes:     classes,
		Layers: []layers.LayerSpec{
			{
				Type: layers.Dense,
				Name: "fc1",
				Params: map[string]any{
					"input_size":  784,
					"output_size": 128,
					"activation":  "ReLU",
				},
			},
			{
				Type:   layers.Dropout,
				Name:   "dropout1",
				Params: map[string]any{"rate": 0.2},
			},
			{
				Type: layers.Dense,
				Name: "fc2",
				Params: map[string]any{
					"input_size":  128,
					"output_size": 10,
					"activation":  "Softmax",
				},
			},
		},
	}
}
