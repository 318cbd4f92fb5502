package checkpoint

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/example/go-diffar/internal/safetensors"
)

func state(step int) State {
	return State{
		Step:   step,
		RunID:  "run-1",
		Config: "sample_rate: 16000\n",
		Tensors: []safetensors.Tensor{
			{Name: "model.bias", Shape: []int64{2}, Data: []float32{float32(step), 1}},
			{Name: "optim.m.bias", Shape: []int64{2}, Data: []float32{0, 0}},
		},
		Metadata: map[string]string{"adam_t": "4"},
	}
}

func TestSaveRotatesAndLinks(t *testing.T) {
	d := Dir{Path: filepath.Join(t.TempDir(), "model")}
	for _, step := range []int{10, 20, 30, 40, 50} {
		if _, err := d.Save(state(step)); err != nil {
			t.Fatalf("Save(%d): %v", step, err)
		}
	}

	steps, err := d.Steps()
	if err != nil {
		t.Fatal(err)
	}
	if len(steps) != DefaultKeep || steps[0] != 50 || steps[2] != 30 {
		t.Fatalf("Steps = %v, want [50 40 30]", steps)
	}

	target, err := os.Readlink(filepath.Join(d.Path, LinkName))
	if err != nil {
		t.Fatal(err)
	}
	if target != FileName(50) {
		t.Fatalf("link -> %q, want %q", target, FileName(50))
	}

	cp, err := d.Load()
	if err != nil {
		t.Fatal(err)
	}
	if cp.Step != 50 || cp.RunID != "run-1" || cp.Config != "sample_rate: 16000\n" || cp.Metadata["adam_t"] != "4" {
		t.Fatalf("checkpoint = %+v", cp)
	}

	s, err := cp.Store("model.")
	if err != nil {
		t.Fatal(err)
	}
	bias, err := s.Tensor("bias")
	if err != nil {
		t.Fatal(err)
	}
	if bias.Data[0] != 50 {
		t.Fatalf("bias = %v", bias.Data)
	}
	if s.Has("m.bias") {
		t.Fatal("optimizer tensor leaked into the model store")
	}
}

func TestKeepOne(t *testing.T) {
	d := Dir{Path: t.TempDir(), Keep: 1}
	for _, step := range []int{1, 2} {
		st := state(step)
		st.Tensors[0].DType = safetensors.DTypeF16
		if _, err := d.Save(st); err != nil {
			t.Fatal(err)
		}
	}
	steps, _ := d.Steps()
	if len(steps) != 1 || steps[0] != 2 {
		t.Fatalf("Steps = %v, want [2]", steps)
	}

	cp, err := Open(d.Path)
	if err != nil {
		t.Fatal(err)
	}
	s, _ := cp.Store("model.")
	if dt, _ := s.DType("bias"); dt != safetensors.DTypeF16 {
		t.Fatalf("dtype = %q", dt)
	}
}

func TestLoadMissing(t *testing.T) {
	_, err := Dir{Path: t.TempDir()}.Load()
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}

	steps, err := Dir{Path: filepath.Join(t.TempDir(), "absent")}.Steps()
	if err != nil || len(steps) != 0 {
		t.Fatalf("Steps on missing dir = %v, %v", steps, err)
	}
}
