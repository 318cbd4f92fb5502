// Package safetensors reads and writes the safetensors tensor container used
// for checkpoints: an 8-byte little-endian header length, a JSON header and
// the raw tensor bytes.
package safetensors

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
)

const metadataKey = "__metadata__"

// Tensor is a named float32 tensor. DType selects the on-disk element type
// when writing; empty means EncodeOptions.DType.
type Tensor struct {
	Name  string
	Shape []int64
	Data  []float32
	DType string
}

// KeyMapper renames tensors while a store is opened. Returning keep=false
// drops the tensor.
type KeyMapper func(name string) (mapped string, keep bool)

// TrimPrefix keeps only tensors whose names start with prefix and strips it.
func TrimPrefix(prefix string) KeyMapper {
	return func(name string) (string, bool) {
		if !strings.HasPrefix(name, prefix) {
			return "", false
		}
		return strings.TrimPrefix(name, prefix), true
	}
}

type StoreOptions struct {
	KeyMapper KeyMapper
}

// Store is an opened safetensors payload. Tensors are decoded on access.
type Store struct {
	raw      []byte
	entries  map[string]storeEntry
	names    []string
	metadata map[string]string
}

type storeEntry struct {
	DType string
	Shape []int64
	Start int
	End   int
}

type headerEntry struct {
	DType   string  `json:"dtype"`
	Shape   []int64 `json:"shape"`
	Offsets [2]int  `json:"data_offsets"`
}

func OpenStore(path string, opts StoreOptions) (*Store, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("safetensors: read %s: %w", path, err)
	}

	return OpenStoreFromBytes(data, opts)
}

func OpenStoreFromBytes(data []byte, opts StoreOptions) (*Store, error) {
	mapper := opts.KeyMapper
	if mapper == nil {
		mapper = func(name string) (string, bool) { return name, true }
	}

	headerEnd, header, err := decodeHeader(data)
	if err != nil {
		return nil, err
	}

	s := &Store{raw: data, entries: make(map[string]storeEntry, len(header))}

	if raw, ok := header[metadataKey]; ok {
		if err := json.Unmarshal(raw, &s.metadata); err != nil {
			return nil, fmt.Errorf("safetensors: decode metadata: %w", err)
		}
		delete(header, metadataKey)
	}

	keys := make([]string, 0, len(header))
	for name := range header {
		keys = append(keys, name)
	}
	sort.Strings(keys)

	for _, original := range keys {
		var e headerEntry
		if err := json.Unmarshal(header[original], &e); err != nil {
			return nil, fmt.Errorf("safetensors: decode header entry %q: %w", original, err)
		}
		entry, err := checkEntry(original, e, headerEnd, len(data))
		if err != nil {
			return nil, err
		}

		mapped, keep := mapper(original)
		if !keep {
			continue
		}
		mapped = strings.TrimSpace(mapped)
		if mapped == "" {
			return nil, fmt.Errorf("safetensors: remapped tensor name for %q is empty", original)
		}
		if _, exists := s.entries[mapped]; exists {
			return nil, fmt.Errorf("safetensors: remap collision for %q", mapped)
		}

		s.entries[mapped] = entry
		s.names = append(s.names, mapped)
	}

	if len(s.entries) == 0 {
		return nil, errors.New("safetensors: no tensors found")
	}
	sort.Strings(s.names)

	return s, nil
}

func checkEntry(name string, e headerEntry, headerEnd, size int) (storeEntry, error) {
	dtype := strings.ToUpper(e.DType)
	elemBytes, err := dtypeBytes(dtype)
	if err != nil {
		return storeEntry{}, fmt.Errorf("safetensors: tensor %q: %w", name, err)
	}
	if e.Offsets[0] < 0 || e.Offsets[1] < e.Offsets[0] {
		return storeEntry{}, fmt.Errorf("safetensors: tensor %q has invalid data offsets %v", name, e.Offsets)
	}

	start := headerEnd + e.Offsets[0]
	end := headerEnd + e.Offsets[1]
	if end > size {
		return storeEntry{}, fmt.Errorf("safetensors: tensor %q data [%d:%d] exceeds file size %d", name, start, end, size)
	}

	count, err := elementCount(e.Shape)
	if err != nil {
		return storeEntry{}, fmt.Errorf("safetensors: tensor %q: %w", name, err)
	}
	if want := int(count) * elemBytes; end-start != want {
		return storeEntry{}, fmt.Errorf("safetensors: tensor %q needs %d bytes but data has %d", name, want, end-start)
	}

	return storeEntry{DType: dtype, Shape: append([]int64(nil), e.Shape...), Start: start, End: end}, nil
}

func (s *Store) Names() []string {
	return append([]string(nil), s.names...)
}

func (s *Store) Has(name string) bool {
	_, ok := s.entries[name]
	return ok
}

// Metadata returns the string map stored under __metadata__, if any.
func (s *Store) Metadata() map[string]string {
	out := make(map[string]string, len(s.metadata))
	for k, v := range s.metadata {
		out[k] = v
	}
	return out
}

// DType returns the on-disk element type of name.
func (s *Store) DType(name string) (string, bool) {
	e, ok := s.entries[name]
	return e.DType, ok
}

func (s *Store) Tensor(name string) (*Tensor, error) {
	entry, ok := s.entries[name]
	if !ok {
		return nil, fmt.Errorf("safetensors: tensor %q not found (available: %s)", name, summarizeNames(s.names))
	}

	data, err := decode(s.raw[entry.Start:entry.End], entry.DType)
	if err != nil {
		return nil, fmt.Errorf("safetensors: tensor %q decode: %w", name, err)
	}

	return &Tensor{
		Name:  name,
		Shape: append([]int64(nil), entry.Shape...),
		Data:  data,
		DType: entry.DType,
	}, nil
}

// TensorWithShape is Tensor with a shape check.
func (s *Store) TensorWithShape(name string, wantShape []int64) (*Tensor, error) {
	t, err := s.Tensor(name)
	if err != nil {
		return nil, err
	}

	if !equalShape(t.Shape, wantShape) {
		return nil, fmt.Errorf("safetensors: tensor %q shape %v does not match expected %v", name, t.Shape, wantShape)
	}

	return t, nil
}

func (s *Store) ReadAll() (map[string]*Tensor, error) {
	out := make(map[string]*Tensor, len(s.names))
	for _, name := range s.names {
		t, err := s.Tensor(name)
		if err != nil {
			return nil, err
		}

		out[name] = t
	}

	return out, nil
}

func (s *Store) Close() {
	s.raw = nil
	s.entries = nil
	s.names = nil
}

func decodeHeader(data []byte) (int, map[string]json.RawMessage, error) {
	if len(data) < 8 {
		return 0, nil, fmt.Errorf("safetensors: file too short (%d bytes)", len(data))
	}

	headerLen := binary.LittleEndian.Uint64(data[:8])
	if headerLen > uint64(len(data)-8) {
		return 0, nil, fmt.Errorf("safetensors: header length %d exceeds file size %d", headerLen, len(data))
	}
	headerEnd := 8 + int(headerLen)

	var header map[string]json.RawMessage
	if err := json.Unmarshal(data[8:headerEnd], &header); err != nil {
		return 0, nil, fmt.Errorf("safetensors: parse header: %w", err)
	}

	return headerEnd, header, nil
}

func equalShape(a, b []int64) bool {
	if len(a) != len(b) {
		return false
	}

	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}

	return true
}

func summarizeNames(names []string) string {
	if len(names) == 0 {
		return "none"
	}

	const maxNames = 8
	if len(names) <= maxNames {
		return strings.Join(names, ", ")
	}

	return strings.Join(names[:maxNames], ", ") + ", ..."
}
