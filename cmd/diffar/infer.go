package main

import (
	"errors"
	"fmt"
	"os"
	"slices"

	"github.com/spf13/cobra"

	"github.com/example/go-diffar/internal/bench"
	"github.com/example/go-diffar/internal/infer"
	"github.com/example/go-diffar/internal/progress"
)

func newInferCmd() *cobra.Command {
	var mainDir string
	var reportFormat string
	var maxRTF float64

	cmd := &cobra.Command{
		Use:   "infer --main_directory DIR [key=value ...]",
		Short: "Synthesize every text file under DIR/" + infer.TextDir,
		Args:  exactPositional(0),
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}
			if mainDir == "" {
				return errors.New("--main_directory is required")
			}
			if !slices.Contains([]string{"table", "json", "none"}, reportFormat) {
				return fmt.Errorf("unknown --report %q (want table|json|none)", reportFormat)
			}

			inputs, err := infer.Inputs(mainDir)
			if err != nil {
				return err
			}
			driver, err := infer.New(cfg)
			if err != nil {
				return err
			}
			defer driver.Close()

			bar := progress.New(os.Stderr, "synthesize", len(inputs))
			driver.OnFile = func(infer.Output) { bar.Add(1) }

			outputs, err := driver.Run(cmd.Context(), mainDir)
			bar.Finish()
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "synthesized %d files into %s\n", len(outputs), mainDir)

			runs := make([]bench.Run, len(outputs))
			for i, o := range outputs {
				runs[i] = bench.NewRun(o.Stem, o.Elapsed, o.Samples, cfg.SampleRate)
			}
			stats := bench.ComputeStats(runs)
			switch reportFormat {
			case "table":
				bench.FormatTable(runs, stats, cmd.OutOrStdout())
			case "json":
				if err := bench.FormatJSON(runs, stats, cmd.OutOrStdout()); err != nil {
					return err
				}
			}
			return bench.CheckRTFThreshold(stats.MeanRTF, maxRTF)
		},
	}

	cmd.Flags().StringVar(&mainDir, "main_directory", "", "Directory holding "+infer.TextDir+"/ and receiving the outputs")
	cmd.Flags().StringVar(&reportFormat, "report", "none", "Timing report after synthesis (table|json|none)")
	cmd.Flags().Float64Var(&maxRTF, "max-rtf", 0, "Fail if the mean real-time factor exceeds this value (0 disables)")

	return cmd
}
