package features

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/example/go-diffar/internal/textgrid"
)

// StatsFile is the name phone statistics are saved under in a model directory.
const StatsFile = "phone_stats.json"

// PhoneStats accumulates mean duration (in samples) and mean energy per
// phone mark over a corpus of alignments.
type PhoneStats struct {
	SampleRate int                  `json:"sample_rate"`
	Phones     map[string]PhoneMean `json:"phones"`
}

// PhoneMean is the running mean of one phone.
type PhoneMean struct {
	Count    int     `json:"count"`
	Duration float64 `json:"duration"`
	Energy   float64 `json:"energy"`
}

func NewPhoneStats(sampleRate int) *PhoneStats {
	return &PhoneStats{SampleRate: sampleRate, Phones: map[string]PhoneMean{}}
}

// Add folds one aligned utterance into the means. energy may be nil.
func (s *PhoneStats) Add(tier *textgrid.Tier, energy []float32) error {
	if energy != nil && len(energy) != len(tier.Intervals) {
		return fmt.Errorf("energy has %d values for %d intervals", len(energy), len(tier.Intervals))
	}
	for i, iv := range tier.Intervals {
		m := s.Phones[iv.Mark]
		m.Count++
		dur := float64(iv.EndSample(s.SampleRate) - iv.StartSample(s.SampleRate))
		m.Duration += (dur - m.Duration) / float64(m.Count)
		if energy != nil {
			m.Energy += (float64(energy[i]) - m.Energy) / float64(m.Count)
		}
		s.Phones[iv.Mark] = m
	}
	return nil
}

// Duration returns the mean duration of mark in samples.
func (s *PhoneStats) Duration(mark string) (float64, bool) {
	m, ok := s.Phones[mark]
	if !ok || m.Count == 0 {
		return 0, false
	}
	return m.Duration, true
}

// Energy returns the mean energy of mark.
func (s *PhoneStats) Energy(mark string) (float64, bool) {
	m, ok := s.Phones[mark]
	if !ok || m.Count == 0 {
		return 0, false
	}
	return m.Energy, true
}

// Marks returns the phones seen so far in sorted order.
func (s *PhoneStats) Marks() []string {
	out := make([]string, 0, len(s.Phones))
	for k := range s.Phones {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func (s *PhoneStats) Save(path string) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal phone stats: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write phone stats: %w", err)
	}
	return nil
}

func LoadPhoneStats(path string) (*PhoneStats, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read phone stats: %w", err)
	}
	var s PhoneStats
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode phone stats %s: %w", path, err)
	}
	if s.Phones == nil {
		s.Phones = map[string]PhoneMean{}
	}
	return &s, nil
}
