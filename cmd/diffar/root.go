package main

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/example/go-diffar/internal/config"
)

// fullErrorEnv switches error reports to the whole cause chain plus the
// resolved configuration.
const fullErrorEnv = "DIFFAR_FULL_ERROR"

var (
	cfgFile      string
	activeCfg    config.Config
	configLoaded bool
)

func NewRootCmd() *cobra.Command {
	defaults := config.DefaultConfig()

	cmd := &cobra.Command{
		Use:           "diffar",
		Short:         "Diffusion speech synthesis: training, data preparation and inference",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			overrides, _ := config.SplitOverrides(args)
			loaded, err := config.Load(config.LoadOptions{
				Cmd:        cmd,
				ConfigFile: cfgFile,
				Defaults:   defaults,
				Overrides:  overrides,
			})
			if err != nil {
				return err
			}
			activeCfg = loaded
			configLoaded = true
			setupLogger(loaded.LogLevel)
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Optional config file (yaml|toml|json)")
	config.RegisterFlags(cmd.PersistentFlags(), defaults)

	cmd.AddCommand(newTrainCmd())
	cmd.AddCommand(newInferCmd())
	cmd.AddCommand(newPrepareCmd())
	cmd.AddCommand(newManifestCmd())
	cmd.AddCommand(newConfigCmd())
	cmd.AddCommand(newDoctorCmd())

	return cmd
}

// setupLogger configures the process-wide slog default logger.
func setupLogger(levelStr string) {
	lvl, err := config.ParseLogLevel(levelStr)
	if err != nil {
		lvl = slog.LevelInfo
	}
	h := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
	slog.SetDefault(slog.New(h))
}

func requireConfig() (config.Config, error) {
	if !configLoaded {
		return config.Config{}, fmt.Errorf("configuration not loaded")
	}
	return activeCfg, nil
}

// positional returns args without key=value overrides.
func positional(args []string) []string {
	_, rest := config.SplitOverrides(args)
	return rest
}

// exactPositional is cobra.ExactArgs that ignores key=value overrides.
func exactPositional(n int) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		return cobra.ExactArgs(n)(cmd, positional(args))
	}
}

// loadDotEnv loads path into the environment when it exists. Variables
// already set win.
func loadDotEnv(path string) error {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// reportError prints err for the user. With DIFFAR_FULL_ERROR=1 every
// wrapped cause gets its own line, followed by the resolved configuration.
func reportError(w io.Writer, err error) {
	fmt.Fprintf(w, "Error: %v\n", err)
	if os.Getenv(fullErrorEnv) != "1" {
		fmt.Fprintf(w, "Set %s=1 for the complete error chain.\n", fullErrorEnv)
		return
	}

	for i, cause := range causes(err) {
		fmt.Fprintf(w, "%s%v\n", strings.Repeat("  ", i+1), cause)
	}
	if configLoaded {
		if data, yerr := activeCfg.YAML(); yerr == nil {
			fmt.Fprintf(w, "\nResolved configuration:\n%s", data)
		}
	}
}

// causes flattens the wrapped errors below err, depth first.
func causes(err error) []error {
	var out []error
	var walk func(error)
	walk = func(e error) {
		switch u := e.(type) {
		case interface{ Unwrap() error }:
			if next := u.Unwrap(); next != nil {
				out = append(out, next)
				walk(next)
			}
		case interface{ Unwrap() []error }:
			for _, next := range u.Unwrap() {
				out = append(out, next)
				walk(next)
			}
		}
	}
	walk(err)
	return out
}
