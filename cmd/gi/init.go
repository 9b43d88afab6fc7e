package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/tsawler/go-infer/engine"
	"github.com/tsawler/go-infer/layers"
)

func newInitCmd(c *cli) *cobra.Command {
	var (
		format string
		force  bool
	)

	cmd := &cobra.Command{
		Use:   "init [dir]",
		Short: "Write a sample classifier config and randomly initialized weights",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "."
			if len(args) == 1 {
				dir = args[0]
			}

			var ext string
			switch format {
			case "json":
				ext = ".json"
			case "yaml":
				ext = ".yaml"
			default:
				return fmt.Errorf("unknown config format %q (json or yaml)", format)
			}
			configPath := filepath.Join(dir, "model"+ext)
			weightsPath := filepath.Join(dir, "weights.bin")

			if !force {
				for _, path := range []string{configPath, weightsPath} {
					if _, err := os.Stat(path); err == nil {
						return fmt.Errorf("%s already exists (use --force to overwrite)", path)
					} else if !errors.Is(err, fs.ErrNotExist) {
						return err
					}
				}
			}
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return fmt.Errorf("failed to create %s: %w", dir, err)
			}

			cfg := engine.CreateSampleConfig()
			e := c.newEngine()
			report, err := e.InitModel(cfg)
			if err != nil {
				return err
			}
			if err := layers.SaveConfig(configPath, cfg); err != nil {
				return err
			}
			if err := e.SaveModel(weightsPath); err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "Wrote %s (%d layers)\n", configPath, report.Stages)
			fmt.Fprintf(w, "Wrote %s (%s parameters)\n", weightsPath, formatParameterCount(report.Parameters))
			return nil
		},
	}

	cmd.Flags().StringVar(&format, "format", "json", "Config format: json or yaml")
	cmd.Flags().BoolVarP(&force, "force", "f", false, "Overwrite existing files")
	return cmd
}
