package progress

import (
	"bytes"
	"strings"
	"sync"
	"testing"
)

func TestDisabledOnNonTerminal(t *testing.T) {
	var buf bytes.Buffer
	b := New(&buf, "files", 3)
	b.Add(1)
	b.Add(2)
	b.Finish()

	if buf.Len() != 0 {
		t.Fatalf("wrote %q to a non-terminal", buf.String())
	}
	if b.Count() != 3 {
		t.Fatalf("Count = %d, want 3", b.Count())
	}
	if IsTerminal(&buf) {
		t.Fatal("buffer reported as terminal")
	}
}

func TestRendersWhenEnabled(t *testing.T) {
	var buf bytes.Buffer
	b := newBar(&buf, "step", 4, true)
	b.interval = 0

	b.Add(1)
	b.Set(2)
	b.Describe("epoch 1")
	b.Finish()

	out := buf.String()
	if !strings.Contains(out, "step:  25% 1/4") {
		t.Fatalf("missing first update in %q", out)
	}
	if !strings.Contains(out, "epoch 1:  50% 2/4") {
		t.Fatalf("missing final state in %q", out)
	}
	if !strings.HasSuffix(out, "\n") {
		t.Fatalf("Finish did not end the line: %q", out)
	}
}

func TestUnknownTotal(t *testing.T) {
	var buf bytes.Buffer
	b := newBar(&buf, "items", 0, true)
	b.interval = 0
	b.Add(5)
	if !strings.Contains(buf.String(), "items: 5 [") {
		t.Fatalf("output = %q", buf.String())
	}
}

func TestConcurrentAdd(t *testing.T) {
	b := newBar(&bytes.Buffer{}, "x", 100, false)
	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 10 {
				b.Add(1)
			}
		}()
	}
	wg.Wait()
	if b.Count() != 100 {
		t.Fatalf("Count = %d, want 100", b.Count())
	}
}
