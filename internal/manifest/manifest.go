// Package manifest builds, reads and cross-checks the JSON manifests that
// point the dataset loader at wav, TextGrid and energy files.
package manifest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/valyala/fastjson"
)

var (
	// ErrInconsistent is returned when manifests of one split disagree on ids.
	ErrInconsistent = errors.New("inconsistent manifests")
	// ErrDuplicateID is returned when two files share a stem.
	ErrDuplicateID = errors.New("duplicate sample id")
	// ErrInvalidPath is returned for paths that are not valid UTF-8 and so
	// cannot be stored in JSON unchanged.
	ErrInvalidPath = errors.New("path is not valid UTF-8")
)

// Kind names one of the three manifest flavours.
type Kind string

const (
	KindWAV      Kind = "wav"
	KindTextGrid Kind = "textgrid"
	KindEnergy   Kind = "energy"
)

// Kinds lists the manifest kinds in preparation order.
var Kinds = []Kind{KindWAV, KindTextGrid, KindEnergy}

// Extension is the file extension matched (case-insensitively) for k.
func (k Kind) Extension() string {
	switch k {
	case KindWAV:
		return ".wav"
	case KindTextGrid:
		return ".textgrid"
	case KindEnergy:
		return ".npy"
	}
	return ""
}

// FileName is the conventional manifest file name for k.
func (k Kind) FileName() string { return string(k) + ".json" }

// Manifest maps sample ids (file stems) to absolute paths.
type Manifest map[string]string

// IDs returns the sample ids in sorted order.
func (m Manifest) IDs() []string {
	ids := make([]string, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Add registers path under its stem.
func (m Manifest) Add(path string) error {
	if !utf8.ValidString(path) {
		return fmt.Errorf("%w: %q", ErrInvalidPath, path)
	}
	id := ID(path)
	if prev, ok := m[id]; ok && prev != path {
		return fmt.Errorf("%w %q: %s and %s", ErrDuplicateID, id, prev, path)
	}
	m[id] = path
	return nil
}

// ID returns the sample id of path: its base name without extension.
func ID(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// Write stores m as an indented JSON object with sorted keys.
func Write(path string, m Manifest) error {
	for id, p := range m {
		if !utf8.ValidString(id) || !utf8.ValidString(p) {
			return fmt.Errorf("%w: %q", ErrInvalidPath, p)
		}
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}
	data = append(data, '\n')
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	return nil
}

// Read loads a manifest. Besides the {"id": "path"} form written by Write it
// accepts the legacy list forms ["path", ...] and [["path", frames], ...],
// deriving ids from file stems.
func Read(path string) (Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	m, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("manifest %s: %w", path, err)
	}
	return m, nil
}

// Parse decodes manifest JSON.
func Parse(data []byte) (Manifest, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, errors.New("empty manifest")
	}
	var p fastjson.Parser
	v, err := p.ParseBytes(data)
	if err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}

	m := Manifest{}
	switch v.Type() {
	case fastjson.TypeObject:
		obj, _ := v.Object()
		var visitErr error
		obj.Visit(func(key []byte, val *fastjson.Value) {
			if visitErr != nil {
				return
			}
			s, err := val.StringBytes()
			if err != nil {
				visitErr = fmt.Errorf("entry %q: path must be a string", key)
				return
			}
			m[string(key)] = string(s)
		})
		if visitErr != nil {
			return nil, visitErr
		}
	case fastjson.TypeArray:
		items, _ := v.Array()
		for i, item := range items {
			p, err := legacyPath(item)
			if err != nil {
				return nil, fmt.Errorf("entry %d: %w", i, err)
			}
			if err := m.Add(p); err != nil {
				return nil, err
			}
		}
	default:
		return nil, fmt.Errorf("manifest must be an object or an array, got %s", v.Type())
	}
	return m, nil
}

func legacyPath(item *fastjson.Value) (string, error) {
	switch item.Type() {
	case fastjson.TypeString:
		s, _ := item.StringBytes()
		return string(s), nil
	case fastjson.TypeArray:
		pair, _ := item.Array()
		if len(pair) == 0 || pair[0].Type() != fastjson.TypeString {
			return "", errors.New("expected [path, length]")
		}
		s, _ := pair[0].StringBytes()
		return string(s), nil
	}
	return "", fmt.Errorf("unexpected %s", item.Type())
}
