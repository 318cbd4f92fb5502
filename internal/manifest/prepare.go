package manifest

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/example/go-diffar/internal/audio"
	"github.com/example/go-diffar/internal/features"
	"github.com/example/go-diffar/internal/textgrid"
)

// EnergyOptions controls energy extraction for PrepareEnergy.
type EnergyOptions struct {
	SampleRate int
	Tier       string
	Workers    int
	// OnItem, when set, is called once per finished id. Calls are serialized.
	OnItem func(id string)
}

// PrepareFiles collects files of kind under src and writes <out>/<kind>.json.
func PrepareFiles(kind Kind, src, out string) (Manifest, error) {
	m, err := Collect(src, kind.Extension())
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(out, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	path := filepath.Join(out, kind.FileName())
	if err := Write(path, m); err != nil {
		return nil, err
	}
	slog.Info("manifest written", "kind", string(kind), "path", path, "entries", len(m))
	return m, nil
}

// PrepareEnergy computes the per-phone energy of every utterance listed in
// wavs and textgrids, stores it under <out>/energy/<id>.npy and writes
// <out>/energy.json.
func PrepareEnergy(ctx context.Context, wavs, textgrids Manifest, out string, opts EnergyOptions) (Manifest, error) {
	if err := CheckConsistency(wavs, textgrids, textgrids); err != nil {
		return nil, err
	}
	dir, err := filepath.Abs(filepath.Join(out, "energy"))
	if err != nil {
		return nil, fmt.Errorf("resolve energy dir: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create energy dir: %w", err)
	}

	result := Manifest{}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(opts.Workers, 1))
	for _, id := range wavs.IDs() {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			path := filepath.Join(dir, id+".npy")
			if err := extractEnergy(wavs[id], textgrids[id], path, opts); err != nil {
				return fmt.Errorf("energy for %s: %w", id, err)
			}
			mu.Lock()
			defer mu.Unlock()
			result[id] = path
			if opts.OnItem != nil {
				opts.OnItem(id)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	manifestPath := filepath.Join(out, KindEnergy.FileName())
	if err := Write(manifestPath, result); err != nil {
		return nil, err
	}
	slog.Info("manifest written", "kind", string(KindEnergy), "path", manifestPath, "entries", len(result))
	return result, nil
}

func extractEnergy(wavPath, tgPath, outPath string, opts EnergyOptions) error {
	samples, err := audio.ReadWAVFile(wavPath, opts.SampleRate)
	if err != nil {
		return err
	}
	tg, err := textgrid.ReadFile(tgPath)
	if err != nil {
		return err
	}
	tier, err := tg.PhoneTier(opts.Tier)
	if err != nil {
		return fmt.Errorf("%s: %w", tgPath, err)
	}
	return features.WriteNPY(outPath, features.PhoneEnergy(samples, tier, opts.SampleRate))
}
