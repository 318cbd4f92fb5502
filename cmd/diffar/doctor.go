package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/example/go-diffar/internal/config"
	"github.com/example/go-diffar/internal/doctor"
	"github.com/example/go-diffar/internal/onnx"
)

func newDoctorCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Run local runtime, data and checkpoint checks",
		Args:  exactPositional(0),
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}

			backend, err := config.NormalizeBackend(cfg.Inference.Backend)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(out, "backend: %s\n", backend)

			result := doctor.Run(doctorConfig(cfg, backend), out)
			if result.Failed() {
				for _, f := range result.Failures() {
					fmt.Fprintf(os.Stderr, "FAIL: %s\n", f)
				}

				return errors.New("doctor checks failed")
			}

			_, _ = fmt.Fprintln(out, "doctor checks passed")

			return nil
		},
	}

	return cmd
}

func doctorConfig(cfg config.Config, backend string) doctor.Config {
	checkpoint := cfg.Inference.Checkpoint
	if checkpoint == "" {
		checkpoint = cfg.ModelDir
	}

	splits := []doctor.Split{datasetSplit("train", cfg.TrainDS)}
	if cfg.ValidDS != nil {
		splits = append(splits, datasetSplit("valid", *cfg.ValidDS))
	}
	if cfg.TestDS != nil {
		splits = append(splits, datasetSplit("test", *cfg.TestDS))
	}

	return doctor.Config{
		RuntimeVersion: func() (string, error) {
			info, err := onnx.DetectRuntime(cfg.Inference)
			return info.Version, err
		},
		SkipRuntime:    backend != config.BackendONNX,
		ONNXManifest:   cfg.Inference.ONNXManifest,
		Splits:         splits,
		Checkpoint:     checkpoint,
		SkipCheckpoint: backend == config.BackendONNX,
	}
}

func datasetSplit(name string, ds config.DatasetConfig) doctor.Split {
	return doctor.Split{Name: name, WAV: ds.JSONWav, TextGrid: ds.JSONTextGrid, Energy: ds.JSONEnergy}
}
