package train

import (
	"context"
	"fmt"

	"github.com/example/go-diffar/internal/config"
	"github.com/example/go-diffar/internal/dataset"
)

// Datasets are the splits a run uses. Valid and Test may be nil.
type Datasets struct {
	Train *dataset.Dataset
	Valid *dataset.Dataset
	Test  *dataset.Dataset
}

// OpenDatasets opens the splits named by cfg. In test mode only the test
// split is opened.
func OpenDatasets(ctx context.Context, cfg config.Config) (Datasets, error) {
	opts := dataset.Options{
		SampleRate:    cfg.SampleRate,
		TotalPhonemes: cfg.TotalPhonemes,
		Workers:       cfg.NumWorkers,
	}
	var out Datasets
	var err error

	if cfg.Test {
		if cfg.TestDS == nil {
			return out, nil
		}
		out.Test, err = dataset.Open(ctx, *cfg.TestDS, opts)
		if err != nil {
			return out, fmt.Errorf("test_ds: %w", err)
		}
		return out, nil
	}

	if out.Train, err = dataset.Open(ctx, cfg.TrainDS, opts); err != nil {
		return out, fmt.Errorf("train_ds: %w", err)
	}
	if cfg.ValidDS != nil {
		if out.Valid, err = dataset.Open(ctx, *cfg.ValidDS, opts); err != nil {
			return out, fmt.Errorf("valid_ds: %w", err)
		}
	}
	if cfg.TestDS != nil {
		if out.Test, err = dataset.Open(ctx, *cfg.TestDS, opts); err != nil {
			return out, fmt.Errorf("test_ds: %w", err)
		}
	}
	return out, nil
}
