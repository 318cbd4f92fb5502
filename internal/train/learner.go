// Package train runs the denoiser training loop: epochs over the train
// split, periodic validation, checkpointing and scalar summaries.
package train

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/example/go-diffar/internal/checkpoint"
	"github.com/example/go-diffar/internal/config"
	"github.com/example/go-diffar/internal/dataset"
	"github.com/example/go-diffar/internal/diffusion"
	"github.com/example/go-diffar/internal/features"
	"github.com/example/go-diffar/internal/network"
	"github.com/example/go-diffar/internal/safetensors"
	"github.com/example/go-diffar/internal/spectral"
)

// ErrNaNLoss is returned when a loss becomes NaN.
var ErrNaNLoss = errors.New("NaN loss")

// errMaxSteps stops an epoch once the step cap is hit.
var errMaxSteps = errors.New("max steps reached")

const (
	ConfigSnapshot = "config.yaml"
	PhoneStatsFile = features.StatsFile

	// initialMinLoss seeds the best-loss trackers.
	initialMinLoss = 100
)

// Learner owns the model, the optimizer and the loop state.
type Learner struct {
	cfg   config.Config
	data  Datasets
	sched *diffusion.Schedule
	model *network.Linear
	opt   *network.Adam
	mel   *spectral.MelSpec

	step     int
	runID    string
	gradNorm float64

	summary *Summary
	ckpt    checkpoint.Dir
	min     checkpoint.Dir
	minVal  checkpoint.Dir

	// OnStep is called after every optimizer step.
	OnStep func(step int)
}

// StepLosses are the scalar losses of one batch.
type StepLosses struct {
	Total   float64
	Denoise float64
	Spec    float64
}

// New builds a learner and restores the latest checkpoint in model_dir if
// one exists.
func New(cfg config.Config, data Datasets) (*Learner, error) {
	ns := cfg.NoiseSchedule
	sched, err := diffusion.NewSchedule(ns.Start, ns.Stop, ns.Num)
	if err != nil {
		return nil, err
	}
	model, err := network.NewLinear(sched.Len())
	if err != nil {
		return nil, err
	}

	l := &Learner{
		cfg:    cfg,
		data:   data,
		sched:  sched,
		model:  model,
		opt:    network.NewAdam(cfg.LearningRate),
		ckpt:   checkpoint.Dir{Path: cfg.ModelDir},
		min:    checkpoint.Dir{Path: filepath.Join(cfg.ModelDir, "min")},
		minVal: checkpoint.Dir{Path: filepath.Join(cfg.ModelDir, "min_val")},
	}

	if cfg.SpecLossCoeff > 0 {
		if l.mel, err = spectral.New(cfg.SampleRate, spectral.DefaultNFFT, spectral.DefaultHop, cfg.NMels); err != nil {
			return nil, err
		}
	}

	if err := l.restore(); err != nil {
		return nil, err
	}
	return l, nil
}

// Step is the number of optimizer steps taken so far.
func (l *Learner) Step() int { return l.step }

// RunID identifies the training run across restarts.
func (l *Learner) RunID() string { return l.runID }

// Model exposes the trained denoiser.
func (l *Learner) Model() *network.Linear { return l.model }

func (l *Learner) restore() error {
	cp, err := l.ckpt.Load()
	if errors.Is(err, checkpoint.ErrNotFound) {
		l.runID = uuid.NewString()
		slog.Info("training from scratch", "model_dir", l.cfg.ModelDir, "run_id", l.runID)
		return nil
	}
	if err != nil {
		return err
	}

	models, err := cp.Store(checkpoint.ModelPrefix)
	if err != nil {
		return err
	}
	if err := l.model.Load(models); err != nil {
		return fmt.Errorf("restore %s: %w", cp.Path, err)
	}
	// A checkpoint from a run without optimizer state still restores.
	if optim, err := cp.Store(checkpoint.OptimPrefix); err == nil {
		if err := l.opt.Load(optim, cp.Metadata); err != nil {
			return fmt.Errorf("restore %s: %w", cp.Path, err)
		}
	}

	l.step = cp.Step
	l.runID = cp.RunID
	if l.runID == "" {
		l.runID = uuid.NewString()
	}
	slog.Info("loaded checkpoint", "path", cp.Path, "step", cp.Step, "run_id", l.runID)
	return nil
}

func (l *Learner) state() (checkpoint.State, error) {
	cfgYAML, err := l.cfg.YAML()
	if err != nil {
		return checkpoint.State{}, err
	}

	tensors := l.model.Tensors(checkpoint.ModelPrefix)
	if l.cfg.FP16 {
		for i := range tensors {
			tensors[i].DType = safetensors.DTypeF16
		}
	}
	tensors = append(tensors, l.opt.Tensors(checkpoint.OptimPrefix)...)

	return checkpoint.State{
		Step:     l.step,
		RunID:    l.runID,
		Config:   string(cfgYAML),
		Tensors:  tensors,
		Metadata: l.opt.Metadata(),
	}, nil
}

func (l *Learner) save(dir checkpoint.Dir) error {
	st, err := l.state()
	if err != nil {
		return err
	}
	_, err = dir.Save(st)
	return err
}

func (l *Learner) stepRNG(stream uint64) *rand.Rand {
	return rand.New(rand.NewPCG(uint64(l.cfg.Seed)^stream, uint64(l.step)))
}

// losses returns the combined loss of pred against the true noise and its
// gradient with respect to pred.
func (l *Learner) losses(pred, noise [][]float32, overlap []int) (StepLosses, [][]float32, error) {
	var (
		out  StepLosses
		grad [][]float32
		err  error
	)
	if m := l.cfg.MaskLossUsingOverlap; m >= 0 {
		out.Denoise, grad, err = diffusion.MaskedL1(pred, noise, overlap, m, l.cfg.BatchSizeTrain)
	} else {
		out.Denoise, grad, err = diffusion.L1(pred, noise)
	}
	if err != nil {
		return out, nil, err
	}
	out.Total = out.Denoise
	if l.mel == nil {
		return out, grad, nil
	}

	spec, specGrad, err := l.mel.Loss(pred, noise)
	if err != nil {
		return out, nil, err
	}
	c := l.cfg.SpecLossCoeff
	out.Spec = spec
	out.Total = (1-c)*out.Denoise + c*spec
	for i := range grad {
		for j := range grad[i] {
			grad[i][j] = float32((1-c)*float64(grad[i][j]) + c*float64(specGrad[i][j]))
		}
	}
	return out, grad, nil
}

func (l *Learner) forward(ctx context.Context, b *dataset.Batch, rng *rand.Rand) (*diffusion.Input, [][]float32, [][]float32, error) {
	steps := l.sched.Steps(rng, b.Size())
	noise := diffusion.Gaussian(rng, b.Clean)
	noisy, err := l.sched.Noise(b.Clean, noise, steps)
	if err != nil {
		return nil, nil, nil, err
	}
	in := &diffusion.Input{
		Noisy:       noisy,
		Conditioner: b.Conditioned,
		Phonemes:    b.Phones,
		Energy:      b.Energy,
		Steps:       steps,
	}
	pred, err := l.model.PredictNoise(ctx, in)
	if err != nil {
		return nil, nil, nil, err
	}
	return in, pred, noise, nil
}

// TrainStep runs one optimizer step on b.
func (l *Learner) TrainStep(ctx context.Context, b *dataset.Batch) (StepLosses, error) {
	in, pred, noise, err := l.forward(ctx, b, l.stepRNG(0))
	if err != nil {
		return StepLosses{}, err
	}
	losses, grad, err := l.losses(pred, noise, b.Overlap)
	if err != nil {
		return StepLosses{}, err
	}
	if math.IsNaN(losses.Total) {
		return losses, fmt.Errorf("%w at step %d", ErrNaNLoss, l.step)
	}

	l.model.ZeroGrad()
	if err := l.model.Backward(in, grad); err != nil {
		return losses, err
	}
	l.gradNorm = network.ClipGradNorm(l.model.Params(), l.cfg.ClipNorm())
	l.opt.Step(l.model.Params())
	return losses, nil
}

// ValidLoss is the loss of b without updating the model.
func (l *Learner) ValidLoss(ctx context.Context, b *dataset.Batch, rng *rand.Rand) (StepLosses, error) {
	_, pred, noise, err := l.forward(ctx, b, rng)
	if err != nil {
		return StepLosses{}, err
	}
	losses, _, err := l.losses(pred, noise, b.Overlap)
	return losses, err
}

type epochLosses struct {
	total, denoise, spec float64
	batches              int
}

func (e *epochLosses) add(s StepLosses) {
	e.total += s.Total
	e.denoise += s.Denoise
	e.spec += s.Spec
	e.batches++
}

func (e epochLosses) mean() StepLosses {
	if e.batches == 0 {
		return StepLosses{}
	}
	n := float64(e.batches)
	return StepLosses{Total: e.total / n, Denoise: e.denoise / n, Spec: e.spec / n}
}

func (l *Learner) trainEpoch(ctx context.Context, loader *dataset.Loader, epoch int) (StepLosses, bool, error) {
	var acc epochLosses
	err := loader.Epoch(ctx, epoch, func(b *dataset.Batch) error {
		s, err := l.TrainStep(ctx, b)
		if err != nil {
			return err
		}
		acc.add(s)
		l.step++
		if l.OnStep != nil {
			l.OnStep(l.step)
		}
		if l.cfg.MaxSteps > 0 && l.step >= l.cfg.MaxSteps {
			return errMaxSteps
		}
		return nil
	})
	if errors.Is(err, errMaxSteps) {
		return acc.mean(), true, nil
	}
	return acc.mean(), false, err
}

func (l *Learner) evalEpoch(ctx context.Context, loader *dataset.Loader, epoch int) (StepLosses, error) {
	var acc epochLosses
	rng := rand.New(rand.NewPCG(uint64(l.cfg.Seed), uint64(epoch)))
	err := loader.Epoch(ctx, epoch, func(b *dataset.Batch) error {
		s, err := l.ValidLoss(ctx, b, rng)
		if err != nil {
			return err
		}
		if math.IsNaN(s.Total) {
			return fmt.Errorf("%w at step %d", ErrNaNLoss, l.step)
		}
		acc.add(s)
		return nil
	})
	return acc.mean(), err
}

func (l *Learner) lossScalars(prefix string, s StepLosses) map[string]float64 {
	out := map[string]float64{prefix + "/loss": s.Total}
	if l.mel != nil {
		out[prefix+"/loss_denoise"] = s.Denoise
		out[prefix+"/loss_spec"] = s.Spec
	}
	return out
}

// Run trains until max_steps or until ctx is cancelled; with test set in the
// config it evaluates the test split instead. On cancellation the current
// state is checkpointed before returning the context error.
func (l *Learner) Run(ctx context.Context) (err error) {
	if l.cfg.Test {
		return l.runTest(ctx)
	}
	if l.data.Train == nil {
		return errors.New("train: no train split")
	}

	if err := config.WriteSnapshot(filepath.Join(l.cfg.ModelDir, ConfigSnapshot), l.cfg); err != nil {
		return err
	}
	stats, err := l.data.Train.PhoneStats()
	if err != nil {
		return err
	}
	if err := stats.Save(filepath.Join(l.cfg.ModelDir, PhoneStatsFile)); err != nil {
		return err
	}
	if l.summary, err = OpenSummary(filepath.Join(l.cfg.ModelDir, MetricsFile)); err != nil {
		return err
	}
	defer func() {
		if cerr := l.summary.Close(); err == nil {
			err = cerr
		}
	}()

	if l.cfg.MaxSteps > 0 && l.step >= l.cfg.MaxSteps {
		slog.Info("max steps already reached", "step", l.step, "max_steps", l.cfg.MaxSteps)
		return nil
	}

	trainLoader := dataset.NewLoader(l.data.Train, l.cfg.BatchSizeTrain, l.cfg.NumWorkers, l.cfg.Seed, true)
	if trainLoader.NumBatches() == 0 {
		return fmt.Errorf("train: %d examples is fewer than one batch of %d", l.data.Train.Len(), l.cfg.BatchSizeTrain)
	}
	var validLoader *dataset.Loader
	if l.data.Valid != nil {
		validLoader = dataset.NewLoader(l.data.Valid, l.cfg.BatchSizeValidation, l.cfg.NumWorkers, l.cfg.Seed, false)
	}

	slog.Info("training", "run_id", l.runID, "step", l.step, "batches_per_epoch", trainLoader.NumBatches())

	minLoss, minLossVal := float64(initialMinLoss), float64(initialMinLoss)
	for epoch := 0; ; epoch++ {
		losses, done, err := l.trainEpoch(ctx, trainLoader, epoch)
		if err != nil {
			if ctx.Err() != nil {
				return l.interrupted(ctx)
			}
			return err
		}

		scalars := l.lossScalars("train", losses)
		scalars["train/grad_norm"] = l.gradNorm
		if err := l.summary.Log(l.step, scalars); err != nil {
			return err
		}

		if validLoader != nil && epoch%l.cfg.ValEveryNEpochs == 0 && epoch != 0 {
			val, err := l.evalEpoch(ctx, validLoader, epoch)
			if err != nil {
				if ctx.Err() != nil {
					return l.interrupted(ctx)
				}
				return err
			}
			if err := l.summary.Log(l.step, l.lossScalars("valid", val)); err != nil {
				return err
			}
			if val.Total < minLossVal {
				if err := l.save(l.minVal); err != nil {
					return err
				}
				minLossVal = val.Total
			}
		}

		saved := false
		if epoch%l.cfg.SummaryEveryNEpochs == 0 {
			if err := l.save(l.ckpt); err != nil {
				return err
			}
			saved = true
			if losses.Total < minLoss {
				if err := l.save(l.min); err != nil {
					return err
				}
				minLoss = losses.Total
			}
		}

		if done {
			if !saved {
				if err := l.save(l.ckpt); err != nil {
					return err
				}
			}
			slog.Info("max steps reached", "step", l.step, "epochs", epoch+1)
			return nil
		}
	}
}

func (l *Learner) interrupted(ctx context.Context) error {
	slog.Warn("training interrupted, saving checkpoint", "step", l.step)
	if err := l.save(l.ckpt); err != nil {
		return errors.Join(ctx.Err(), err)
	}
	return ctx.Err()
}

func (l *Learner) runTest(ctx context.Context) error {
	if l.data.Test == nil {
		slog.Warn("test dataset is not set, skipping test")
		return nil
	}
	loader := dataset.NewLoader(l.data.Test, 1, l.cfg.NumWorkers, l.cfg.Seed, false)
	losses, err := l.evalEpoch(ctx, loader, 0)
	if err != nil {
		return err
	}
	slog.Info("test results", "loss", losses.Total, "loss_denoise", losses.Denoise,
		"loss_spec", losses.Spec, "step", l.step, "examples", l.data.Test.Len())
	return nil
}
