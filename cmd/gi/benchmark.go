package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newBenchmarkCmd(c *cli) *cobra.Command {
	var (
		runs   int
		warmup int
		batch  int
	)

	cmd := &cobra.Command{
		Use:   "benchmark",
		Short: "Measure forward pass latency on a random input",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, _, err := c.loadEngine()
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			if warmup > 0 {
				avg, err := e.Warmup(warmup)
				if err != nil {
					return err
				}
				fmt.Fprintf(w, "Warmup: %d runs, avg %v\n\n", warmup, avg)
			}

			x, err := e.RandomInput(batch)
			if err != nil {
				return err
			}
			stats, err := e.Benchmark(x, runs)
			if err != nil {
				return err
			}

			table := newTable(w, "BATCH", "RUNS", "AVG", "MIN", "MAX", "STD")
			table.Append([]string{
				fmt.Sprint(batch),
				fmt.Sprint(stats.Runs),
				stats.Avg.String(),
				stats.Min.String(),
				stats.Max.String(),
				stats.Std.String(),
			})
			table.Render()
			return nil
		},
	}

	cmd.Flags().IntVarP(&runs, "runs", "n", 100, "Timed forward passes")
	cmd.Flags().IntVar(&warmup, "warmup", 10, "Warmup passes before the benchmark (0 skips)")
	cmd.Flags().IntVarP(&batch, "batch", "b", 1, "Batch size of the random input")
	return cmd
}
