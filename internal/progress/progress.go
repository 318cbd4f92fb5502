// Package progress draws a single-line progress counter on terminals and
// stays silent everywhere else.
package progress

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/mattn/go-isatty"
)

// Bar is a concurrency-safe counter. The zero value is not usable; call New.
type Bar struct {
	mu       sync.Mutex
	w        io.Writer
	desc     string
	total    int
	done     int
	start    time.Time
	lastDraw time.Time
	enabled  bool
	interval time.Duration
}

// IsTerminal reports whether w is an interactive terminal.
func IsTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	fd := f.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// New returns a bar writing to w when w is a terminal. total <= 0 means
// unknown.
func New(w io.Writer, desc string, total int) *Bar {
	return newBar(w, desc, total, IsTerminal(w))
}

func newBar(w io.Writer, desc string, total int, enabled bool) *Bar {
	now := time.Now()
	return &Bar{
		w:        w,
		desc:     desc,
		total:    total,
		start:    now,
		enabled:  enabled,
		interval: 100 * time.Millisecond,
	}
}

// Add advances the bar by n.
func (b *Bar) Add(n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.done += n
	b.draw(false)
}

// Set moves the bar to n.
func (b *Bar) Set(n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.done = n
	b.draw(false)
}

// Describe replaces the label.
func (b *Bar) Describe(desc string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.desc = desc
}

// Finish draws the final state and ends the line.
func (b *Bar) Finish() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.enabled {
		return
	}
	b.draw(true)
	fmt.Fprintln(b.w)
}

// Count returns the current position.
func (b *Bar) Count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.done
}

func (b *Bar) draw(force bool) {
	if !b.enabled {
		return
	}
	now := time.Now()
	if !force && now.Sub(b.lastDraw) < b.interval {
		return
	}
	b.lastDraw = now
	fmt.Fprint(b.w, "\r"+b.line(now))
}

func (b *Bar) line(now time.Time) string {
	elapsed := now.Sub(b.start).Seconds()
	rate := 0.0
	if elapsed > 0 {
		rate = float64(b.done) / elapsed
	}
	if b.total <= 0 {
		return fmt.Sprintf("%s: %d [%.1f it/s]", b.desc, b.done, rate)
	}
	pct := 100 * float64(b.done) / float64(b.total)
	return fmt.Sprintf("%s: %3.0f%% %d/%d [%.1f it/s]", b.desc, pct, b.done, b.total, rate)
}
