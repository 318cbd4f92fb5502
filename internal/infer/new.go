package infer

import (
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/example/go-diffar/internal/checkpoint"
	"github.com/example/go-diffar/internal/config"
	"github.com/example/go-diffar/internal/diffusion"
	"github.com/example/go-diffar/internal/features"
	"github.com/example/go-diffar/internal/network"
	"github.com/example/go-diffar/internal/onnx"
	"github.com/example/go-diffar/internal/phoneme"
)

// New builds a driver for the configured backend. The caller must Close it.
func New(cfg config.Config) (*Driver, error) {
	backend, err := config.NormalizeBackend(cfg.Inference.Backend)
	if err != nil {
		return nil, err
	}
	sched, err := diffusion.NewSchedule(cfg.NoiseSchedule.Start, cfg.NoiseSchedule.Stop, cfg.NoiseSchedule.Num)
	if err != nil {
		return nil, err
	}

	lex := phoneme.NewLexicon()
	if cfg.Inference.LexiconPath != "" {
		if lex, err = phoneme.LoadLexicon(cfg.Inference.LexiconPath); err != nil {
			return nil, err
		}
	}

	d := &Driver{
		Lexicon:    lex,
		SampleRate: cfg.SampleRate,
		Tier:       cfg.TrainDS.TextGridTier,
		Post: PostProcess{
			DCBlock:   cfg.Inference.DCBlock,
			Normalize: cfg.Inference.Normalize,
			FadeMS:    cfg.Inference.FadeMS,
		},
		Workers:    cfg.Inference.Workers,
		Seed:       cfg.Seed,
	}

	var denoiser diffusion.Denoiser
	switch backend {
	case config.BackendONNX:
		engine, err := onnx.NewEngine(cfg.Inference, onnx.EngineOptions{
			TotalPhonemes: cfg.TotalPhonemes,
			MaxDuration:   cfg.MaxDurationPhoneme,
		})
		if err != nil {
			return nil, err
		}
		d.Predictor = engine
		d.closer = engine.Close
		denoiser = engine
	default:
		model, stats, err := loadBaseline(cfg, sched.Len())
		if err != nil {
			return nil, err
		}
		d.Predictor = &StatsPredictor{
			Stats:            stats,
			SampleRate:       cfg.SampleRate,
			FallbackDuration: cfg.Inference.PhonemeDuration,
			FallbackEnergy:   DefaultEnergy,
			MaxDuration:      cfg.MaxDurationPhoneme,
		}
		denoiser = model
	}

	d.Generator = &diffusion.Generator{
		Sampler:       &diffusion.Sampler{Schedule: sched, Denoiser: denoiser},
		Window:        cfg.TrainDS.NSamples,
		Hop:           cfg.TrainDS.HopLength,
		SampleRate:    cfg.SampleRate,
		TotalPhonemes: cfg.TotalPhonemes,
	}
	slog.Info("inference ready", "backend", backend, "window", cfg.TrainDS.NSamples, "hop", cfg.TrainDS.HopLength)
	return d, nil
}

func loadBaseline(cfg config.Config, steps int) (*network.Linear, *features.PhoneStats, error) {
	path := cfg.Inference.Checkpoint
	if path == "" {
		path = filepath.Join(cfg.ModelDir, checkpoint.LinkName)
	}
	cp, err := checkpoint.Open(path)
	if err != nil {
		return nil, nil, err
	}
	store, err := cp.Store(checkpoint.ModelPrefix)
	if err != nil {
		return nil, nil, err
	}
	defer store.Close()

	model, err := network.NewLinear(steps)
	if err != nil {
		return nil, nil, err
	}
	if err := model.Load(store); err != nil {
		return nil, nil, fmt.Errorf("checkpoint %s: %w", cp.Path, err)
	}
	slog.Debug("restored checkpoint", "path", cp.Path, "step", cp.Step, "run_id", cp.RunID)

	stats, err := LoadStats(cfg, filepath.Join(filepath.Dir(cp.Path), features.StatsFile))
	if err != nil {
		return nil, nil, err
	}
	return model, stats, nil
}
