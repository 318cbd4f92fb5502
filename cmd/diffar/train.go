package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/example/go-diffar/internal/progress"
	"github.com/example/go-diffar/internal/train"
)

func newTrainCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "train [key=value ...]",
		Short: "Train the denoiser, or evaluate test_ds with test=true",
		Args:  exactPositional(0),
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}

			data, err := train.OpenDatasets(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			learner, err := train.New(cfg, data)
			if err != nil {
				return err
			}

			if !cfg.Test {
				bar := progress.New(os.Stderr, "step", cfg.MaxSteps)
				bar.Set(learner.Step())
				learner.OnStep = bar.Set
				defer bar.Finish()
			}

			slog.Info("starting",
				"mode", modeName(cfg.Test),
				"model_dir", cfg.ModelDir,
				"run_id", learner.RunID(),
				"step", learner.Step(),
			)
			return learner.Run(cmd.Context())
		},
	}
}

func modeName(test bool) string {
	if test {
		return "test"
	}
	return "train"
}
