package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// ErrInvalid is wrapped by every validation failure returned from Validate.
var ErrInvalid = errors.New("invalid configuration")

type Config struct {
	SampleRate           int                 `mapstructure:"sample_rate" yaml:"sample_rate"`
	MaxSteps             int                 `mapstructure:"max_steps" yaml:"max_steps"`
	BatchSizeTrain       int                 `mapstructure:"batch_size_train" yaml:"batch_size_train"`
	BatchSizeValidation  int                 `mapstructure:"batch_size_validation" yaml:"batch_size_validation"`
	LearningRate         float64             `mapstructure:"learning_rate" yaml:"learning_rate"`
	MaxGradNorm          float64             `mapstructure:"max_grad_norm" yaml:"max_grad_norm"`
	ModelDir             string              `mapstructure:"model_dir" yaml:"model_dir"`
	ValEveryNEpochs      int                 `mapstructure:"val_every_n_epochs" yaml:"val_every_n_epochs"`
	SummaryEveryNEpochs  int                 `mapstructure:"summery_every_n_epochs" yaml:"summery_every_n_epochs"`
	NumWorkers           int                 `mapstructure:"num_workers" yaml:"num_workers"`
	Seed                 int64               `mapstructure:"seed" yaml:"seed"`
	MaskLossUsingOverlap int                 `mapstructure:"mask_loss_using_overlap" yaml:"mask_loss_using_overlap"`
	PhonemeContextDim    int                 `mapstructure:"phoneme_context_dim" yaml:"phoneme_context_dim"`
	SpecLossCoeff        float64             `mapstructure:"spec_loss_coeff" yaml:"spec_loss_coeff"`
	ResidualLayers       int                 `mapstructure:"residual_layers" yaml:"residual_layers"`
	ResidualChannels     int                 `mapstructure:"residual_channels" yaml:"residual_channels"`
	DilationCycleLength  int                 `mapstructure:"dilation_cycle_length" yaml:"dilation_cycle_length"`
	NoiseSchedule        NoiseScheduleConfig `mapstructure:"noise_schedule" yaml:"noise_schedule"`
	NMels                int                 `mapstructure:"n_mels" yaml:"n_mels"`
	FP16                 bool                `mapstructure:"fp16" yaml:"fp16"`
	TotalPhonemes        int                 `mapstructure:"total_phonemes" yaml:"total_phonemes"`
	MaxDurationPhoneme   int                 `mapstructure:"max_duration_phoneme" yaml:"max_duration_phoneme"`
	Test                 bool                `mapstructure:"test" yaml:"test"`
	TrainDS              DatasetConfig       `mapstructure:"train_ds" yaml:"train_ds"`
	ValidDS              *DatasetConfig      `mapstructure:"valid_ds" yaml:"valid_ds,omitempty"`
	TestDS               *DatasetConfig      `mapstructure:"test_ds" yaml:"test_ds,omitempty"`
	Inference            InferenceConfig     `mapstructure:"inference" yaml:"inference"`
	LogLevel             string              `mapstructure:"log_level" yaml:"log_level"`
}

// NoiseScheduleConfig describes a linearly spaced beta schedule.
type NoiseScheduleConfig struct {
	Start float64 `mapstructure:"start" yaml:"start"`
	Stop  float64 `mapstructure:"stop" yaml:"stop"`
	Num   int     `mapstructure:"num" yaml:"num"`
}

// DatasetConfig bundles a manifest triple with frame sizing for one split.
// Lengths and durations are in samples.
type DatasetConfig struct {
	JSONWav      string `mapstructure:"json_wav" yaml:"json_wav"`
	JSONTextGrid string `mapstructure:"json_textgrid" yaml:"json_textgrid"`
	JSONEnergy   string `mapstructure:"json_energy" yaml:"json_energy"`
	NSamples     int    `mapstructure:"n_samples" yaml:"n_samples"`
	HopLength    int    `mapstructure:"hop_length" yaml:"hop_length"`
	MinDuration  int    `mapstructure:"min_duration" yaml:"min_duration"`
	MaxDuration  int    `mapstructure:"max_duration" yaml:"max_duration"`
	CacheDir     string `mapstructure:"cache_dir" yaml:"cache_dir"`
	TextGridTier string `mapstructure:"textgrid_tier" yaml:"textgrid_tier"`
}

type InferenceConfig struct {
	Backend         string  `mapstructure:"backend" yaml:"backend"`
	Checkpoint      string  `mapstructure:"checkpoint" yaml:"checkpoint"`
	ONNXManifest    string  `mapstructure:"onnx_manifest" yaml:"onnx_manifest"`
	ORTLibraryPath  string  `mapstructure:"ort_library_path" yaml:"ort_library_path"`
	ORTVersion      string  `mapstructure:"ort_version" yaml:"ort_version"`
	LexiconPath     string  `mapstructure:"lexicon_path" yaml:"lexicon_path"`
	PhonemeDuration float64 `mapstructure:"phoneme_duration" yaml:"phoneme_duration"`
	Normalize       bool    `mapstructure:"normalize" yaml:"normalize"`
	DCBlock         bool    `mapstructure:"dc_block" yaml:"dc_block"`
	FadeMS          float64 `mapstructure:"fade_ms" yaml:"fade_ms"`
	Workers         int     `mapstructure:"workers" yaml:"workers"`
}

type LoadOptions struct {
	Cmd        flagBinder
	ConfigFile string
	Defaults   Config
	// Overrides are hydra-style key=value assignments applied last.
	Overrides []string
}

type flagBinder interface {
	Flags() *pflag.FlagSet
}

func DefaultConfig() Config {
	return Config{
		SampleRate:           16000,
		MaxSteps:             0,
		BatchSizeTrain:       16,
		BatchSizeValidation:  16,
		LearningRate:         2e-4,
		MaxGradNorm:          0,
		ModelDir:             "outputs",
		ValEveryNEpochs:      1,
		SummaryEveryNEpochs:  1,
		NumWorkers:           4,
		Seed:                 1234,
		MaskLossUsingOverlap: -1,
		PhonemeContextDim:    64,
		SpecLossCoeff:        0,
		ResidualLayers:       36,
		ResidualChannels:     256,
		DilationCycleLength:  11,
		NoiseSchedule: NoiseScheduleConfig{
			Start: 1e-4,
			Stop:  0.02,
			Num:   200,
		},
		NMels:              80,
		FP16:               false,
		TotalPhonemes:      72,
		MaxDurationPhoneme: 8000,
		TrainDS: DatasetConfig{
			JSONWav:      "egs/train/wav.json",
			JSONTextGrid: "egs/train/textgrid.json",
			JSONEnergy:   "egs/train/energy.json",
			NSamples:     8000,
			HopLength:    4000,
			MinDuration:  8000,
			TextGridTier: "phones",
		},
		Inference: InferenceConfig{
			Backend:         BackendBaseline,
			PhonemeDuration: 0.08,
			Workers:         1,
		},
		LogLevel: "info",
	}
}

func RegisterFlags(fs *pflag.FlagSet, defaults Config) {
	fs.Int("sample-rate", defaults.SampleRate, "Audio sample rate in Hz")
	fs.Int("max-steps", defaults.MaxSteps, "Stop training after this many steps (0 = unbounded)")
	fs.Int("batch-size-train", defaults.BatchSizeTrain, "Training batch size")
	fs.Int("batch-size-validation", defaults.BatchSizeValidation, "Validation batch size")
	fs.Float64("learning-rate", defaults.LearningRate, "Optimizer learning rate")
	fs.String("model-dir", defaults.ModelDir, "Directory for checkpoints, metrics and config snapshot")
	fs.Int("num-workers", defaults.NumWorkers, "Concurrent data loading workers")
	fs.Int64("seed", defaults.Seed, "Random seed")
	fs.String("backend", defaults.Inference.Backend, "Inference backend (baseline|onnx)")
	fs.String("ort-lib", defaults.Inference.ORTLibraryPath, "Path to ONNX Runtime shared library")
	fs.String("log-level", defaults.LogLevel, "Log level (debug|info|warn|error)")
}

// flagKeys maps registered flag names to config keys.
var flagKeys = map[string]string{
	"sample-rate":           "sample_rate",
	"max-steps":             "max_steps",
	"batch-size-train":      "batch_size_train",
	"batch-size-validation": "batch_size_validation",
	"learning-rate":         "learning_rate",
	"model-dir":             "model_dir",
	"num-workers":           "num_workers",
	"seed":                  "seed",
	"backend":               "inference.backend",
	"ort-lib":               "inference.ort_library_path",
	"log-level":             "log_level",
}

func Load(opts LoadOptions) (Config, error) {
	v := viper.New()

	setDefaults(v, opts.Defaults)
	if opts.Cmd != nil {
		if err := bindFlags(v, opts.Cmd.Flags()); err != nil {
			return Config{}, err
		}
	}

	v.SetEnvPrefix("DIFFAR")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	if err := v.BindEnv("inference.ort_library_path", "DIFFAR_INFERENCE_ORT_LIBRARY_PATH", "ORT_LIBRARY_PATH"); err != nil {
		return Config{}, fmt.Errorf("bind ort env vars: %w", err)
	}
	v.AutomaticEnv()

	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	} else {
		v.SetConfigName("diffar")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return Config{}, fmt.Errorf("read config file: %w", err)
			}
		}
	}

	if err := applyOverrides(v, opts.Overrides); err != nil {
		return Config{}, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	cfg.resolve()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func bindFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	for name, key := range flagKeys {
		f := fs.Lookup(name)
		if f == nil {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return fmt.Errorf("bind flag --%s: %w", name, err)
		}
	}
	return nil
}

func setDefaults(v *viper.Viper, c Config) {
	v.SetDefault("sample_rate", c.SampleRate)
	v.SetDefault("max_steps", c.MaxSteps)
	v.SetDefault("batch_size_train", c.BatchSizeTrain)
	v.SetDefault("batch_size_validation", c.BatchSizeValidation)
	v.SetDefault("learning_rate", c.LearningRate)
	v.SetDefault("max_grad_norm", c.MaxGradNorm)
	v.SetDefault("model_dir", c.ModelDir)
	v.SetDefault("val_every_n_epochs", c.ValEveryNEpochs)
	v.SetDefault("summery_every_n_epochs", c.SummaryEveryNEpochs)
	v.SetDefault("num_workers", c.NumWorkers)
	v.SetDefault("seed", c.Seed)
	v.SetDefault("mask_loss_using_overlap", c.MaskLossUsingOverlap)
	v.SetDefault("phoneme_context_dim", c.PhonemeContextDim)
	v.SetDefault("spec_loss_coeff", c.SpecLossCoeff)
	v.SetDefault("residual_layers", c.ResidualLayers)
	v.SetDefault("residual_channels", c.ResidualChannels)
	v.SetDefault("dilation_cycle_length", c.DilationCycleLength)
	v.SetDefault("noise_schedule.start", c.NoiseSchedule.Start)
	v.SetDefault("noise_schedule.stop", c.NoiseSchedule.Stop)
	v.SetDefault("noise_schedule.num", c.NoiseSchedule.Num)
	v.SetDefault("n_mels", c.NMels)
	v.SetDefault("fp16", c.FP16)
	v.SetDefault("total_phonemes", c.TotalPhonemes)
	v.SetDefault("max_duration_phoneme", c.MaxDurationPhoneme)
	v.SetDefault("test", c.Test)
	setDatasetDefaults(v, "train_ds", c.TrainDS)
	if c.ValidDS != nil {
		setDatasetDefaults(v, "valid_ds", *c.ValidDS)
	}
	if c.TestDS != nil {
		setDatasetDefaults(v, "test_ds", *c.TestDS)
	}
	v.SetDefault("inference.backend", c.Inference.Backend)
	v.SetDefault("inference.checkpoint", c.Inference.Checkpoint)
	v.SetDefault("inference.onnx_manifest", c.Inference.ONNXManifest)
	v.SetDefault("inference.ort_library_path", c.Inference.ORTLibraryPath)
	v.SetDefault("inference.ort_version", c.Inference.ORTVersion)
	v.SetDefault("inference.lexicon_path", c.Inference.LexiconPath)
	v.SetDefault("inference.phoneme_duration", c.Inference.PhonemeDuration)
	v.SetDefault("inference.normalize", c.Inference.Normalize)
	v.SetDefault("inference.dc_block", c.Inference.DCBlock)
	v.SetDefault("inference.fade_ms", c.Inference.FadeMS)
	v.SetDefault("inference.workers", c.Inference.Workers)
	v.SetDefault("log_level", c.LogLevel)
}

func setDatasetDefaults(v *viper.Viper, prefix string, d DatasetConfig) {
	v.SetDefault(prefix+".json_wav", d.JSONWav)
	v.SetDefault(prefix+".json_textgrid", d.JSONTextGrid)
	v.SetDefault(prefix+".json_energy", d.JSONEnergy)
	v.SetDefault(prefix+".n_samples", d.NSamples)
	v.SetDefault(prefix+".hop_length", d.HopLength)
	v.SetDefault(prefix+".min_duration", d.MinDuration)
	v.SetDefault(prefix+".max_duration", d.MaxDuration)
	v.SetDefault(prefix+".cache_dir", d.CacheDir)
	v.SetDefault(prefix+".textgrid_tier", d.TextGridTier)
}

// resolve fills derived defaults that depend on other fields.
func (c *Config) resolve() {
	c.Inference.Backend = strings.ToLower(strings.TrimSpace(c.Inference.Backend))
	if c.Inference.Checkpoint == "" && c.ModelDir != "" {
		c.Inference.Checkpoint = filepath.Join(c.ModelDir, "weights.safetensors")
	}
	if c.TrainDS.TextGridTier == "" {
		c.TrainDS.TextGridTier = "phones"
	}
	if c.ValidDS != nil {
		c.ValidDS.inherit(c.TrainDS)
	}
	if c.TestDS != nil {
		c.TestDS.inherit(c.TrainDS)
	}
}

func (d *DatasetConfig) inherit(from DatasetConfig) {
	if d.NSamples == 0 {
		d.NSamples = from.NSamples
	}
	if d.HopLength == 0 {
		d.HopLength = from.HopLength
	}
	if d.MinDuration == 0 {
		d.MinDuration = from.MinDuration
	}
	if d.MaxDuration == 0 {
		d.MaxDuration = from.MaxDuration
	}
	if d.TextGridTier == "" {
		d.TextGridTier = from.TextGridTier
	}
}

// ClipNorm returns the gradient clipping bound; a disabled clip becomes 1e9.
func (c Config) ClipNorm() float64 {
	if c.MaxGradNorm <= 0 {
		return 1e9
	}
	return c.MaxGradNorm
}
