package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/example/go-diffar/internal/config"
	"github.com/example/go-diffar/internal/manifest"
	"github.com/example/go-diffar/internal/progress"
)

func newPrepareCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "prepare",
		Short: "Build wav, TextGrid and energy manifests",
	}

	for _, kind := range []manifest.Kind{manifest.KindWAV, manifest.KindTextGrid} {
		cmd.AddCommand(&cobra.Command{
			Use:   string(kind) + " SRC OUT",
			Short: fmt.Sprintf("Collect %s files under SRC into OUT/%s", kind.Extension(), kind.FileName()),
			Args:  exactPositional(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				args = positional(args)
				m, err := manifest.PrepareFiles(kind, args[0], args[1])
				if err != nil {
					return err
				}
				return report(cmd, kind, args[1], len(m))
			},
		})
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "energy SRC OUT",
		Short: "Compute per-phone energy for the manifests in SRC, writing OUT/energy/ and OUT/energy.json",
		Args:  exactPositional(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}
			args = positional(args)
			wavs, err := manifest.Read(filepath.Join(args[0], manifest.KindWAV.FileName()))
			if err != nil {
				return err
			}
			tgs, err := manifest.Read(filepath.Join(args[0], manifest.KindTextGrid.FileName()))
			if err != nil {
				return err
			}
			m, err := prepareEnergy(cmd, cfg, wavs, tgs, args[1])
			if err != nil {
				return err
			}
			return report(cmd, manifest.KindEnergy, args[1], len(m))
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "all SRC OUT",
		Short: "Build all three manifests from one corpus directory and check them",
		Args:  exactPositional(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}
			args = positional(args)
			src, out := args[0], args[1]

			wavs, err := manifest.PrepareFiles(manifest.KindWAV, src, out)
			if err != nil {
				return err
			}
			tgs, err := manifest.PrepareFiles(manifest.KindTextGrid, src, out)
			if err != nil {
				return err
			}
			energy, err := prepareEnergy(cmd, cfg, wavs, tgs, out)
			if err != nil {
				return err
			}
			if err := manifest.CheckConsistency(wavs, tgs, energy); err != nil {
				return err
			}
			return report(cmd, "all", out, len(wavs))
		},
	})

	return cmd
}

func prepareEnergy(cmd *cobra.Command, cfg config.Config, wavs, tgs manifest.Manifest, out string) (manifest.Manifest, error) {
	bar := progress.New(os.Stderr, "energy", len(wavs))
	defer bar.Finish()

	return manifest.PrepareEnergy(cmd.Context(), wavs, tgs, out, manifest.EnergyOptions{
		SampleRate: cfg.SampleRate,
		Tier:       cfg.TrainDS.TextGridTier,
		Workers:    cfg.NumWorkers,
		OnItem:     func(string) { bar.Add(1) },
	})
}

func report(cmd *cobra.Command, kind manifest.Kind, out string, n int) error {
	_, err := fmt.Fprintf(cmd.OutOrStdout(), "%s: %d entries in %s\n", kind, n, out)
	return err
}
