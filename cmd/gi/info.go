package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

func newInfoCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Show the layers, shapes and parameter counts of a model",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, report, err := c.loadEngine()
			if err != nil {
				return err
			}
			summary, err := e.Summary()
			if err != nil {
				return err
			}
			info := e.ModelInfo()
			w := cmd.OutOrStdout()

			fmt.Fprintf(w, "Model: %s (version %s)\n", valueOr(info.ModelType, "unnamed"), valueOr(info.Version, "-"))
			fmt.Fprintf(w, "Weights: %s, %s\n", report.Format, report.Outcome)
			if report.CheckpointID != "" {
				fmt.Fprintf(w, "Checkpoint: %s\n", report.CheckpointID)
			}
			fmt.Fprintf(w, "Device: %s\n\n", e.Device())

			table := newTable(w, "#", "NAME", "TYPE", "ACTIVATION", "INPUT", "OUTPUT", "PARAMS")
			for i, layer := range summary.Layers {
				table.Append([]string{
					strconv.Itoa(i),
					valueOr(layer.Name, "-"),
					layer.Type.String(),
					valueOr(layer.Activation, "-"),
					formatShape(layer.InputShape),
					formatShape(layer.OutputShape),
					formatParameterCount(layer.ParameterCount),
				})
			}
			table.Render()

			fmt.Fprintln(w)
			fmt.Fprintf(w, "Total parameters: %s\n", formatParameterCount(summary.TotalParameters))
			fmt.Fprintf(w, "Params size (MB): %.3f\n", float64(summary.TotalParameters*4)/1024/1024)
			if len(summary.Skipped) > 0 {
				fmt.Fprintf(w, "Skipped layers: %s\n", strings.Join(summary.Skipped, ", "))
			}
			if len(info.Classes) > 0 {
				fmt.Fprintf(w, "Classes: %s\n", strings.Join(info.Classes, ", "))
			}
			return nil
		},
	}
}

// formatParameterCount formats a parameter count with K/M suffixes
func formatParameterCount(count int64) string {
	if count >= 1000000 {
		return fmt.Sprintf("%.1fM", float64(count)/1000000.0)
	} else if count >= 1000 {
		return fmt.Sprintf("%.1fK", float64(count)/1000.0)
	}
	return fmt.Sprintf("%d", count)
}

func formatShape(shape []int) string {
	parts := make([]string, len(shape))
	for i, d := range shape {
		parts[i] = strconv.Itoa(d)
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

func valueOr(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
