package train

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"maps"
	"os"
	"slices"
	"time"
)

// MetricsFile is the JSON-lines scalar log inside model_dir.
const MetricsFile = "metrics.jsonl"

// Scalar is one metrics.jsonl record.
type Scalar struct {
	Tag   string    `json:"tag"`
	Step  int       `json:"step"`
	Value float64   `json:"value"`
	Time  time.Time `json:"time"`
}

// Summary appends scalars to a metrics file and mirrors them to the log.
type Summary struct {
	f   *os.File
	enc *json.Encoder
}

func OpenSummary(path string) (*Summary, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open metrics: %w", err)
	}
	return &Summary{f: f, enc: json.NewEncoder(f)}, nil
}

// Log records the given tag/value pairs at step.
func (s *Summary) Log(step int, scalars map[string]float64) error {
	attrs := []any{"step", step}
	now := time.Now().UTC()
	for _, tag := range slices.Sorted(maps.Keys(scalars)) {
		v := scalars[tag]
		attrs = append(attrs, tag, v)
		if err := s.enc.Encode(Scalar{Tag: tag, Step: step, Value: v, Time: now}); err != nil {
			return fmt.Errorf("write metrics: %w", err)
		}
	}
	slog.Info("summary", attrs...)
	return nil
}

func (s *Summary) Close() error {
	if s == nil || s.f == nil {
		return nil
	}
	return s.f.Close()
}
