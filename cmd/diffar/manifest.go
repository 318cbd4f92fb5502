package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/example/go-diffar/internal/manifest"
)

func newManifestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "manifest",
		Short: "Inspect dataset manifests",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "check WAV TEXTGRID ENERGY",
		Short: "Verify three manifests list the same ids",
		Args:  exactPositional(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			args = positional(args)
			split, err := manifest.LoadSplit(args[0], args[1], args[2])
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "consistent: %d ids\n", len(split.IDs()))
			return err
		},
	})

	return cmd
}
