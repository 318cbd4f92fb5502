// Package doctor provides environment preflight checks for diffar.
package doctor

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/fatih/color"
	"github.com/klauspost/cpuid/v2"

	"github.com/example/go-diffar/internal/checkpoint"
	"github.com/example/go-diffar/internal/manifest"
)

// PassMark, WarnMark and FailMark prefix each check line.
const (
	PassMark = "✓"
	WarnMark = "!"
	FailMark = "✗"
)

// minRuntimeMinor is the oldest ONNX Runtime 1.x release the runner supports.
const minRuntimeMinor = 17

var (
	passColor = color.New(color.FgGreen)
	warnColor = color.New(color.FgYellow)
	failColor = color.New(color.FgRed, color.Bold)
)

// VersionFunc returns a version string or an error if the component is unavailable.
type VersionFunc func() (string, error)

// Split names the manifest triple of one dataset split.
type Split struct {
	Name     string
	WAV      string
	TextGrid string
	Energy   string
}

// Config holds injectable dependencies for each doctor check.
type Config struct {
	// RuntimeVersion reports the ONNX Runtime library version.
	RuntimeVersion VersionFunc
	// SkipRuntime skips the runtime and graph checks (baseline backend).
	SkipRuntime  bool
	ONNXManifest string

	Splits []Split

	// Checkpoint is a checkpoint file or model directory. A missing
	// checkpoint is a warning since training creates it.
	Checkpoint     string
	SkipCheckpoint bool
}

// Result collects the outcome of all checks.
type Result struct {
	failures []string
	warnings []string
}

// Failed returns true if any check failed.
func (r *Result) Failed() bool { return len(r.failures) > 0 }

// Failures returns the list of failure messages.
func (r *Result) Failures() []string { return append([]string(nil), r.failures...) }

// Warnings returns the list of warning messages.
func (r *Result) Warnings() []string { return append([]string(nil), r.warnings...) }

// AddFailure appends an external failure message to the result.
func (r *Result) AddFailure(msg string) { r.failures = append(r.failures, msg) }

type reporter struct {
	w   io.Writer
	res *Result
}

func (p reporter) pass(format string, args ...any) {
	fmt.Fprintf(p.w, "%s %s\n", passColor.Sprint(PassMark), fmt.Sprintf(format, args...))
}

func (p reporter) warn(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	p.res.warnings = append(p.res.warnings, msg)
	fmt.Fprintf(p.w, "%s %s\n", warnColor.Sprint(WarnMark), msg)
}

func (p reporter) fail(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	p.res.failures = append(p.res.failures, msg)
	fmt.Fprintf(p.w, "%s %s\n", failColor.Sprint(FailMark), msg)
}

// Run executes all configured checks and writes human-readable output to w.
func Run(cfg Config, w io.Writer) Result {
	var res Result
	p := reporter{w: w, res: &res}

	p.pass("cpu: %s", CPUSummary())

	if cfg.SkipRuntime {
		p.pass("onnx runtime: skipped")
	} else {
		checkRuntime(p, cfg)
	}

	for _, s := range cfg.Splits {
		split, err := manifest.LoadSplit(s.WAV, s.TextGrid, s.Energy)
		if err != nil {
			p.fail("%s manifests: %v", s.Name, err)
			continue
		}
		p.pass("%s manifests: %d items", s.Name, len(split.IDs()))
	}

	if cfg.SkipCheckpoint {
		p.pass("checkpoint: skipped")
	} else if cp, err := checkpoint.Open(cfg.Checkpoint); err != nil {
		p.warn("checkpoint %s: %v", cfg.Checkpoint, err)
	} else {
		p.pass("checkpoint: step %d (%s)", cp.Step, cp.Path)
	}

	return res
}

func checkRuntime(p reporter, cfg Config) {
	ver, err := cfg.RuntimeVersion()
	switch {
	case err != nil:
		p.fail("onnx runtime: %v", err)
	case ver == "":
		p.warn("onnx runtime: version unknown")
	default:
		if verr := checkRuntimeVersion(ver); verr != nil {
			p.fail("onnx runtime %s: %v", ver, verr)
		} else {
			p.pass("onnx runtime: %s", ver)
		}
	}

	if _, err := os.Stat(cfg.ONNXManifest); err != nil {
		p.fail("onnx manifest %q: %v", cfg.ONNXManifest, err)
	} else {
		p.pass("onnx manifest: %s", cfg.ONNXManifest)
	}
}

// CPUSummary describes the host CPU and the vector extensions that matter
// for the float kernels.
func CPUSummary() string {
	c := cpuid.CPU
	var ext []string
	for _, f := range []cpuid.FeatureID{cpuid.AVX2, cpuid.FMA3, cpuid.AVX512F, cpuid.ASIMD} {
		if c.Supports(f) {
			ext = append(ext, f.String())
		}
	}
	name := c.BrandName
	if name == "" {
		name = c.VendorString
	}
	if name == "" {
		name = "unknown"
	}
	s := fmt.Sprintf("%s, %d cores / %d threads", name, c.PhysicalCores, c.LogicalCores)
	if len(ext) > 0 {
		s += ", " + strings.Join(ext, " ")
	}
	return s
}

// checkRuntimeVersion returns an error if ver is older than 1.minRuntimeMinor.
// ver is expected to be a string like "1.20.1".
func checkRuntimeVersion(ver string) error {
	major, minor, err := parseMajorMinor(ver)
	if err != nil {
		return fmt.Errorf("cannot parse %q: %w", ver, err)
	}
	if major != 1 {
		return fmt.Errorf("requires ONNX Runtime 1.x, got %d", major)
	}
	if minor < minRuntimeMinor {
		return fmt.Errorf("requires ONNX Runtime >=1.%d, got 1.%d", minRuntimeMinor, minor)
	}
	return nil
}

func parseMajorMinor(ver string) (major, minor int, err error) {
	parts := strings.SplitN(strings.TrimPrefix(ver, "v"), ".", 3)
	if len(parts) < 2 {
		return 0, 0, fmt.Errorf("unexpected version format %q", ver)
	}
	major, err = strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, fmt.Errorf("bad major in %q: %w", ver, err)
	}
	minor, err = strconv.Atoi(parts[1])
	if err != nil {
		return 0, 0, fmt.Errorf("bad minor in %q: %w", ver, err)
	}
	return major, minor, nil
}
