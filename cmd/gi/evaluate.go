package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/tsawler/go-infer/vision/dataloader"
	"github.com/tsawler/go-infer/vision/dataset"
)

type classTally struct {
	samples int
	correct int
}

func newEvaluateCmd(c *cli) *cobra.Command {
	var (
		batchSize int
		cacheSize int
		limit     int
		quiet     bool
	)

	cmd := &cobra.Command{
		Use:   "evaluate <dir>",
		Short: "Measure accuracy on a directory with one subdirectory of images per class",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, _, err := c.loadEngine()
			if err != nil {
				return err
			}
			info := e.ModelInfo()

			ds, err := dataset.NewImageFolderDataset(args[0], info.Classes)
			if err != nil {
				return err
			}
			if limit > 0 && limit < ds.Len() {
				if ds, err = ds.Subset(spread(ds.Len(), limit)); err != nil {
					return err
				}
			}
			c.logger.Debugw("evaluation dataset", "samples", ds.Len(), "distribution", ds.ClassDistribution())
			w := cmd.OutOrStdout()
			if !quiet {
				fmt.Fprintln(w, ds)
			}
			loader, err := dataloader.NewDataLoader(ds, dataloader.Config{
				BatchSize:    batchSize,
				MaxCacheSize: cacheSize,
				InputShape:   info.InputShape,
			})
			if err != nil {
				return err
			}

			classes := ds.ClassNames()
			tallies := make([]classTally, len(classes))
			skipped := 0
			var seen, correct int
			var bar *progressBar
			if !quiet {
				bar = newProgressBar(cmd.ErrOrStderr(), "evaluate", "img", ds.Len())
			}
			for {
				if err := cmd.Context().Err(); err != nil {
					return err
				}
				batch, err := loader.NextBatch()
				if err != nil {
					return err
				}
				if batch == nil {
					break
				}
				for _, s := range batch.Skipped {
					c.logger.Warnw("skipping image", "path", s.Path, "error", s.Err)
				}
				skipped += len(batch.Skipped)
				if batch.Input == nil {
					continue
				}

				predicted, _, err := e.PredictClasses(batch.Input)
				if err != nil {
					return err
				}
				for i, label := range batch.Labels {
					tallies[label].samples++
					seen++
					if predicted[i] == label {
						tallies[label].correct++
						correct++
					}
				}
				current, total := loader.Progress()
				c.logger.Debugw("evaluated batch", "progress", current, "total", total)
				if bar != nil {
					bar.Update(current, map[string]float64{"accuracy": float64(correct) / float64(seen)})
				}
			}
			if bar != nil {
				bar.Finish()
			}

			table := newTable(w, "CLASS", "SAMPLES", "CORRECT", "ACCURACY")
			var all classTally
			for i, t := range tallies {
				if t.samples == 0 {
					continue
				}
				all.samples += t.samples
				all.correct += t.correct
				table.Append([]string{classes[i], strconv.Itoa(t.samples), strconv.Itoa(t.correct), formatAccuracy(t)})
			}
			table.Render()

			fmt.Fprintln(w)
			fmt.Fprintf(w, "Accuracy: %s (%d/%d)\n", formatAccuracy(all), all.correct, all.samples)
			if skipped > 0 {
				fmt.Fprintf(w, "Skipped: %d images\n", skipped)
			}
			fmt.Fprintln(w, loader.Stats())
			return nil
		},
	}

	cmd.Flags().IntVarP(&batchSize, "batch", "b", 32, "Images per forward pass")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "Do not print the dataset summary or draw a progress bar")
	cmd.Flags().IntVar(&limit, "limit", 0, "Evaluate at most this many images, spread evenly over the directory (0 means all)")
	cmd.Flags().IntVar(&cacheSize, "cache", dataloader.DefaultCacheSize, "Preprocessed images to cache (negative disables)")
	return cmd
}

// spread picks n of total indices at even intervals so a limited run still
// samples every class of a class-sorted dataset
func spread(total, n int) []int {
	indices := make([]int, n)
	for i := range indices {
		indices[i] = i * total / n
	}
	return indices
}

func formatAccuracy(t classTally) string {
	if t.samples == 0 {
		return "-"
	}
	return fmt.Sprintf("%.2f%%", float64(t.correct)/float64(t.samples)*100)
}
