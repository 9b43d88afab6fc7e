package main

import (
	"fmt"
	"io"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/tsawler/go-infer/engine"
)

// cli holds the persistent flags shared by every command
type cli struct {
	configPath  string
	weightsPath string
	verbose     bool
	seed        int64

	logger *zap.SugaredLogger
}

func newRootCmd() *cobra.Command {
	c := &cli{logger: zap.NewNop().Sugar()}

	rootCmd := &cobra.Command{
		Use:           "gi",
		Short:         "Declarative model builder and inference engine",
		SilenceUsage:  true,
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			logger, err := newLogger(c.verbose)
			if err != nil {
				return err
			}
			c.logger = logger
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			_ = c.logger.Sync()
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&c.configPath, "config", "c", "model.json", "Model config document (.json, .yaml or .yml)")
	flags.StringVarP(&c.weightsPath, "weights", "w", "weights.bin", "Model weights")
	flags.BoolVarP(&c.verbose, "verbose", "v", false, "Log debug output to stderr")
	flags.Int64Var(&c.seed, "seed", 0, "Seed for default initialization and random inputs (0 picks one)")

	rootCmd.AddCommand(
		newInfoCmd(c),
		newPredictCmd(c),
		newTopKCmd(c),
		newBenchmarkCmd(c),
		newEvaluateCmd(c),
		newInitCmd(c),
	)
	return rootCmd
}

// newLogger returns a development logger when verbose, otherwise a
// production logger that only reports warnings and errors
func newLogger(verbose bool) (*zap.SugaredLogger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	if verbose {
		cfg = zap.NewDevelopmentConfig()
	}
	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}
	return logger.Sugar(), nil
}

func (c *cli) newEngine() *engine.InferenceEngine {
	opts := []engine.Option{engine.WithLogger(c.logger)}
	if c.seed != 0 {
		opts = append(opts, engine.WithSeed(c.seed))
	}
	return engine.New(opts...)
}

// loadEngine creates an engine and loads the model named by the persistent
// flags
func (c *cli) loadEngine() (*engine.InferenceEngine, engine.LoadReport, error) {
	e := c.newEngine()
	report, err := e.LoadModel(c.configPath, c.weightsPath)
	if err != nil {
		return nil, engine.LoadReport{}, err
	}
	return e, report, nil
}

func newTable(w io.Writer, header ...string) *tablewriter.Table {
	table := tablewriter.NewWriter(w)
	table.SetHeader(header)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetNoWhiteSpace(true)
	table.SetTablePadding("    ")
	table.SetAutoFormatHeaders(false)
	return table
}
