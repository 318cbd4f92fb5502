package config

import (
	"fmt"
	"slices"
	"strings"

	yaml "github.com/goccy/go-yaml"
	"github.com/spf13/viper"
)

var datasetKeys = []string{
	"json_wav", "json_textgrid", "json_energy", "n_samples", "hop_length",
	"min_duration", "max_duration", "cache_dir", "textgrid_tier",
}

// SplitOverrides separates hydra-style key=value arguments from the rest.
func SplitOverrides(args []string) (overrides, rest []string) {
	for _, a := range args {
		if strings.Contains(a, "=") && !strings.HasPrefix(a, "-") {
			overrides = append(overrides, a)
			continue
		}
		rest = append(rest, a)
	}
	return overrides, rest
}

// applyOverrides sets each key=value on v. Values are parsed as YAML
// scalars or flow collections; "null" restores the default. Unknown keys are
// rejected unless prefixed with "+".
func applyOverrides(v *viper.Viper, overrides []string) error {
	known := v.AllKeys()
	for _, raw := range overrides {
		key, val, ok := strings.Cut(raw, "=")
		if !ok {
			return fmt.Errorf("%w: override %q: expected key=value", ErrInvalid, raw)
		}
		key = strings.TrimSpace(key)
		add := strings.HasPrefix(key, "+")
		key = strings.ToLower(strings.TrimPrefix(key, "+"))
		if key == "" {
			return fmt.Errorf("%w: override %q: empty key", ErrInvalid, raw)
		}
		if !add && !isKnownKey(known, key) {
			return fmt.Errorf("%w: could not override %q: key not in config (use +%s=... to add it)", ErrInvalid, key, key)
		}

		var parsed any
		if err := yaml.Unmarshal([]byte(val), &parsed); err != nil {
			return fmt.Errorf("%w: override %q: parse value: %v", ErrInvalid, raw, err)
		}
		if parsed == nil && strings.TrimSpace(val) == "" {
			parsed = ""
		}
		v.Set(key, parsed)
	}
	return nil
}

func isKnownKey(known []string, key string) bool {
	if slices.Contains(known, key) {
		return true
	}
	// Any prefix of a known key names a config section.
	for _, k := range known {
		if strings.HasPrefix(k, key+".") {
			return true
		}
	}
	for _, split := range []string{"valid_ds", "test_ds"} {
		if key == split {
			return true
		}
		if field, ok := strings.CutPrefix(key, split+"."); ok && slices.Contains(datasetKeys, field) {
			return true
		}
	}
	return false
}
