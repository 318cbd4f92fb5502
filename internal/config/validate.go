package config

import (
	"errors"
	"fmt"
)

// inventorySize is the number of phone symbols the dataset tables know about.
const inventorySize = 72

// Validate checks value ranges and cross-field constraints. All problems are
// reported together; each wraps ErrInvalid.
func (c Config) Validate() error {
	var errs []error
	bad := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalid}, args...)...))
	}

	if c.SampleRate <= 0 {
		bad("sample_rate must be positive, got %d", c.SampleRate)
	}
	if c.MaxSteps < 0 {
		bad("max_steps must be >= 0 (0 = unbounded), got %d", c.MaxSteps)
	}
	if c.BatchSizeTrain <= 0 {
		bad("batch_size_train must be positive, got %d", c.BatchSizeTrain)
	}
	if c.BatchSizeValidation <= 0 {
		bad("batch_size_validation must be positive, got %d", c.BatchSizeValidation)
	}
	if c.LearningRate <= 0 {
		bad("learning_rate must be positive, got %g", c.LearningRate)
	}
	if c.MaxGradNorm < 0 {
		bad("max_grad_norm must be >= 0, got %g", c.MaxGradNorm)
	}
	if c.ValEveryNEpochs < 1 {
		bad("val_every_n_epochs must be >= 1, got %d", c.ValEveryNEpochs)
	}
	if c.SummaryEveryNEpochs < 1 {
		bad("summery_every_n_epochs must be >= 1, got %d", c.SummaryEveryNEpochs)
	}
	if c.NumWorkers < 0 {
		bad("num_workers must be >= 0, got %d", c.NumWorkers)
	}
	if c.MaskLossUsingOverlap < -1 {
		bad("mask_loss_using_overlap must be -1, 0 or a positive sample count, got %d", c.MaskLossUsingOverlap)
	}
	if c.SpecLossCoeff < 0 || c.SpecLossCoeff > 1 {
		bad("spec_loss_coeff must be in [0, 1], got %g", c.SpecLossCoeff)
	}
	if c.ResidualLayers <= 0 || c.ResidualChannels <= 0 || c.DilationCycleLength <= 0 {
		bad("residual_layers, residual_channels and dilation_cycle_length must be positive")
	}
	if c.PhonemeContextDim <= 0 {
		bad("phoneme_context_dim must be positive, got %d", c.PhonemeContextDim)
	}
	ns := c.NoiseSchedule
	if ns.Num < 1 {
		bad("noise_schedule.num must be >= 1, got %d", ns.Num)
	}
	if ns.Start <= 0 || ns.Stop < ns.Start || ns.Stop >= 1 {
		bad("noise_schedule requires 0 < start <= stop < 1, got start=%g stop=%g", ns.Start, ns.Stop)
	}
	if c.NMels <= 0 {
		bad("n_mels must be positive, got %d", c.NMels)
	}
	if c.TotalPhonemes < inventorySize {
		bad("total_phonemes must be >= %d, got %d", inventorySize, c.TotalPhonemes)
	}
	if c.MaxDurationPhoneme <= 0 {
		bad("max_duration_phoneme must be positive, got %d", c.MaxDurationPhoneme)
	}

	errs = append(errs, c.TrainDS.validate("train_ds")...)
	if c.ValidDS != nil {
		errs = append(errs, c.ValidDS.validate("valid_ds")...)
	}
	if c.TestDS != nil {
		errs = append(errs, c.TestDS.validate("test_ds")...)
	}

	if _, err := NormalizeBackend(c.Inference.Backend); err != nil {
		bad("inference.backend: %v", err)
	}
	if c.Inference.PhonemeDuration <= 0 {
		bad("inference.phoneme_duration must be positive, got %g", c.Inference.PhonemeDuration)
	}
	if c.Inference.FadeMS < 0 {
		bad("inference.fade_ms must be >= 0, got %g", c.Inference.FadeMS)
	}
	if c.Inference.Workers < 1 {
		bad("inference.workers must be >= 1, got %d", c.Inference.Workers)
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		bad("log_level: %v", err)
	}

	return errors.Join(errs...)
}

func (d DatasetConfig) validate(name string) []error {
	var errs []error
	bad := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: %s."+format, append([]any{ErrInvalid, name}, args...)...))
	}

	if d.NSamples <= 0 {
		bad("n_samples must be positive, got %d", d.NSamples)
	}
	if d.MinDuration < d.NSamples {
		bad("min_duration (%d) must be >= n_samples (%d)", d.MinDuration, d.NSamples)
	}
	if d.MaxDuration != 0 && d.MaxDuration < d.MinDuration {
		bad("max_duration (%d) must be 0 or >= min_duration (%d)", d.MaxDuration, d.MinDuration)
	}
	if d.HopLength <= 0 || d.HopLength > d.NSamples/2 {
		bad("hop_length must be in (0, n_samples/2], got %d", d.HopLength)
	}

	return errs
}
