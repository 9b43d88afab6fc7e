package main

import (
	"fmt"
	"path/filepath"
	"runtime"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/tsawler/go-infer/engine"
	"github.com/tsawler/go-infer/tensor"
	"github.com/tsawler/go-infer/vision/preprocessing"
)

// inputs are the tensors a predict-style command runs on, with a label for
// each
type inputs struct {
	labels  []string
	tensors []*tensor.Tensor
}

// collectInputs preprocesses images when any are given, otherwise it draws a
// single random input shaped like the model's input
func collectInputs(e *engine.InferenceEngine, images []string) (inputs, error) {
	if len(images) == 0 {
		x, err := e.RandomInput(1)
		if err != nil {
			return inputs{}, err
		}
		return inputs{labels: []string{"random"}, tensors: []*tensor.Tensor{x}}, nil
	}

	tensors, err := preprocessing.PreprocessBatch(images, e.ModelInfo().InputShape, runtime.GOMAXPROCS(0))
	if err != nil {
		return inputs{}, err
	}
	labels := make([]string, len(images))
	for i, path := range images {
		labels[i] = filepath.Base(path)
	}
	return inputs{labels: labels, tensors: tensors}, nil
}

// className maps an index to a class name when the model has them
func className(classes []string, idx int) string {
	if idx >= 0 && idx < len(classes) {
		return classes[idx]
	}
	return strconv.Itoa(idx)
}

func newPredictCmd(c *cli) *cobra.Command {
	var images []string

	cmd := &cobra.Command{
		Use:   "predict",
		Short: "Classify images, or a random input when no image is given",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, _, err := c.loadEngine()
			if err != nil {
				return err
			}
			in, err := collectInputs(e, images)
			if err != nil {
				return err
			}

			classes := e.ModelInfo().Classes
			table := newTable(cmd.OutOrStdout(), "INPUT", "CLASS", "PROBABILITY")
			for i, x := range in.tensors {
				idx, p, err := e.PredictClass(x)
				if err != nil {
					return fmt.Errorf("%s: %w", in.labels[i], err)
				}
				table.Append([]string{in.labels[i], className(classes, idx), fmt.Sprintf("%.4f", p)})
			}
			table.Render()
			return nil
		},
	}

	cmd.Flags().StringSliceVarP(&images, "image", "i", nil, "Image file to classify (repeatable)")
	return cmd
}

func newTopKCmd(c *cli) *cobra.Command {
	var (
		images []string
		k      int
	)

	cmd := &cobra.Command{
		Use:   "topk",
		Short: "Show the k most probable classes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, _, err := c.loadEngine()
			if err != nil {
				return err
			}
			in, err := collectInputs(e, images)
			if err != nil {
				return err
			}

			classes := e.ModelInfo().Classes
			table := newTable(cmd.OutOrStdout(), "INPUT", "RANK", "CLASS", "PROBABILITY")
			for i, x := range in.tensors {
				idx, probs, err := e.PredictTopK(x, k)
				if err != nil {
					return fmt.Errorf("%s: %w", in.labels[i], err)
				}
				for rank := range idx {
					table.Append([]string{
						in.labels[i],
						strconv.Itoa(rank + 1),
						className(classes, idx[rank]),
						fmt.Sprintf("%.4f", probs[rank]),
					})
				}
			}
			table.Render()
			return nil
		},
	}

	cmd.Flags().StringSliceVarP(&images, "image", "i", nil, "Image file to classify (repeatable)")
	cmd.Flags().IntVarP(&k, "count", "k", 5, "Number of classes to show")
	return cmd
}
