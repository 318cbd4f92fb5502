package dataset

import (
	"context"
	"fmt"
	"math/rand/v2"

	"golang.org/x/sync/errgroup"
)

// Batch holds batch-major example fields.
type Batch struct {
	IDs         []string
	Clean       [][]float32
	Conditioned [][]float32
	Phones      [][]float32
	Energy      [][]float32
	Overlap     []int
}

// Size returns the number of examples in b.
func (b *Batch) Size() int { return len(b.IDs) }

func (b *Batch) add(ex Example) {
	b.IDs = append(b.IDs, ex.ID)
	b.Clean = append(b.Clean, ex.Clean)
	b.Conditioned = append(b.Conditioned, ex.Conditioned)
	b.Phones = append(b.Phones, ex.Phones)
	b.Energy = append(b.Energy, ex.Energy)
	b.Overlap = append(b.Overlap, ex.Overlap)
}

// Loader iterates a dataset in fixed-size batches. Incomplete trailing
// batches are dropped.
type Loader struct {
	ds        *Dataset
	batchSize int
	workers   int
	seed      int64
	shuffle   bool
}

func NewLoader(ds *Dataset, batchSize, workers int, seed int64, shuffle bool) *Loader {
	return &Loader{ds: ds, batchSize: max(batchSize, 1), workers: max(workers, 1), seed: seed, shuffle: shuffle}
}

// NumBatches returns the number of batches per epoch.
func (l *Loader) NumBatches() int { return l.ds.Len() / l.batchSize }

// Order returns the example order of epoch.
func (l *Loader) Order(epoch int) []int {
	if !l.shuffle {
		order := make([]int, l.ds.Len())
		for i := range order {
			order[i] = i
		}
		return order
	}
	rng := rand.New(rand.NewPCG(uint64(l.seed), uint64(epoch)))
	return rng.Perm(l.ds.Len())
}

// itemRNG derives the segment sampler of one example so that an epoch is
// reproducible regardless of worker scheduling.
func (l *Loader) itemRNG(epoch, idx int) *rand.Rand {
	return rand.New(rand.NewPCG(uint64(l.seed)^0x9e3779b97f4a7c15, uint64(epoch)<<32|uint64(uint32(idx))))
}

// Epoch loads the batches of epoch and passes them to fn in order. The next
// batch is prepared while fn runs. Iteration stops at the first error.
func (l *Loader) Epoch(ctx context.Context, epoch int, fn func(*Batch) error) error {
	order := l.Order(epoch)
	n := l.NumBatches()
	if n == 0 {
		return fmt.Errorf("dataset has %d items, fewer than one batch of %d", l.ds.Len(), l.batchSize)
	}

	g, gctx := errgroup.WithContext(ctx)
	batches := make(chan *Batch, 1)

	g.Go(func() error {
		defer close(batches)
		for b := 0; b < n; b++ {
			batch, err := l.load(gctx, epoch, order[b*l.batchSize:(b+1)*l.batchSize])
			if err != nil {
				return err
			}
			select {
			case batches <- batch:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
		return nil
	})
	g.Go(func() error {
		for batch := range batches {
			// A failing fn cancels gctx, which unblocks the producer.
			if err := fn(batch); err != nil {
				return err
			}
		}
		return nil
	})
	return g.Wait()
}

func (l *Loader) load(ctx context.Context, epoch int, idxs []int) (*Batch, error) {
	examples := make([]Example, len(idxs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(l.workers)
	for i, idx := range idxs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			ex, err := l.ds.Example(idx, l.itemRNG(epoch, idx))
			if err != nil {
				return err
			}
			examples[i] = ex
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	b := &Batch{}
	for _, ex := range examples {
		b.add(ex)
	}
	return b, nil
}
