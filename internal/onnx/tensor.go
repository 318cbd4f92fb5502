package onnx

import (
	"fmt"
)

type TensorDType string

const (
	DTypeFloat32 TensorDType = "float32"
	DTypeInt64   TensorDType = "int64"
)

// Tensor is a dense float32 or int64 tensor exchanged with ORT.
type Tensor struct {
	dtype TensorDType
	shape []int64
	data  any
}

func NewTensor[T float32 | int64](data []T, shape []int64) (*Tensor, error) {
	if err := validateShapeAgainstData(shape, len(data)); err != nil {
		return nil, err
	}

	t := &Tensor{shape: append([]int64(nil), shape...)}
	switch d := any(data).(type) {
	case []float32:
		t.dtype = DTypeFloat32
		t.data = append([]float32(nil), d...)
	case []int64:
		t.dtype = DTypeInt64
		t.data = append([]int64(nil), d...)
	}
	return t, nil
}

// Rows packs equal-length rows into a float32 tensor of shape
// [len(rows), mid..., T]. With mid = 1 this yields the [B, 1, T] layout.
func Rows(rows [][]float32, mid ...int64) (*Tensor, error) {
	if len(rows) == 0 {
		return nil, fmt.Errorf("rows: empty batch")
	}
	t := len(rows[0])
	flat := make([]float32, 0, len(rows)*t)
	for i, r := range rows {
		if len(r) != t {
			return nil, fmt.Errorf("rows: row %d has %d values, want %d", i, len(r), t)
		}
		flat = append(flat, r...)
	}
	shape := append([]int64{int64(len(rows))}, mid...)
	shape = append(shape, int64(t))
	return NewTensor(flat, shape)
}

func (t *Tensor) DType() TensorDType {
	return t.dtype
}

func (t *Tensor) Shape() []int64 {
	return append([]int64(nil), t.shape...)
}

func (t *Tensor) Data() any {
	switch v := t.data.(type) {
	case []float32:
		return append([]float32(nil), v...)
	case []int64:
		return append([]int64(nil), v...)
	default:
		return nil
	}
}

// Float32s returns the values of a float32 tensor.
func (t *Tensor) Float32s() ([]float32, error) {
	v, ok := t.data.([]float32)
	if !ok {
		return nil, fmt.Errorf("expected float32 tensor, got %s", t.dtype)
	}
	return append([]float32(nil), v...), nil
}

// SplitRows is the inverse of Rows: it splits the leading dimension into
// rows holding everything else.
func (t *Tensor) SplitRows() ([][]float32, error) {
	data, err := t.Float32s()
	if err != nil {
		return nil, err
	}
	if len(t.shape) == 0 || t.shape[0] <= 0 {
		return nil, fmt.Errorf("tensor shape %v has no batch dimension", t.shape)
	}
	n := int(t.shape[0])
	width := len(data) / n
	out := make([][]float32, n)
	for i := range out {
		out[i] = data[i*width : (i+1)*width : (i+1)*width]
	}
	return out, nil
}

func validateShapeAgainstData(shape []int64, dataLen int) error {
	count, err := elementCount(shape)
	if err != nil {
		return err
	}
	if count != dataLen {
		return fmt.Errorf("shape %v expects %d elements, got %d", shape, count, dataLen)
	}
	return nil
}

func elementCount(shape []int64) (int, error) {
	if len(shape) == 0 {
		return 1, nil
	}
	count := 1
	for _, dim := range shape {
		if dim < 0 {
			return 0, fmt.Errorf("negative dimension %d in shape %v", dim, shape)
		}
		count *= int(dim)
	}
	return count, nil
}
