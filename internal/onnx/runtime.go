package onnx

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"github.com/example/go-diffar/internal/config"
)

// ErrNoRuntime is returned when no ONNX Runtime library can be located.
var ErrNoRuntime = errors.New("onnx runtime library not found")

// RuntimeInfo describes the ONNX Runtime shared library that will be used.
type RuntimeInfo struct {
	LibraryPath string
	Version     string
	// Source names where LibraryPath came from: "config", "env" or "probe".
	Source string
}

// libraryVersion matches the release number embedded in library file names
// such as libonnxruntime.so.1.20.1 or onnxruntime-1.20.1.dll.
var libraryVersion = regexp.MustCompile(`(\d+\.\d+\.\d+)`)

// probePaths are tried when neither config nor environment names a library.
var probePaths = []string{
	"/usr/lib/libonnxruntime.so",
	"/usr/local/lib/libonnxruntime.so",
	"/usr/lib/x86_64-linux-gnu/libonnxruntime.so",
	"/usr/lib/aarch64-linux-gnu/libonnxruntime.so",
	"/opt/homebrew/lib/libonnxruntime.dylib",
	"/usr/local/lib/libonnxruntime.dylib",
}

// DetectRuntime resolves the library from inference.ort_library_path, then
// ORT_LIBRARY_PATH, then probePaths. An explicitly named library must exist.
// The version comes from inference.ort_version, ORT_VERSION or the resolved
// file name.
func DetectRuntime(cfg config.InferenceConfig) (RuntimeInfo, error) {
	info := RuntimeInfo{Version: cfg.ORTVersion}
	switch {
	case cfg.ORTLibraryPath != "":
		info.LibraryPath, info.Source = cfg.ORTLibraryPath, "config"
	case os.Getenv("ORT_LIBRARY_PATH") != "":
		info.LibraryPath, info.Source = os.Getenv("ORT_LIBRARY_PATH"), "env"
	default:
		for _, p := range probePaths {
			if _, err := os.Stat(p); err == nil {
				info.LibraryPath, info.Source = p, "probe"
				break
			}
		}
	}

	if info.LibraryPath == "" {
		return info, fmt.Errorf("%w; set inference.ort_library_path or ORT_LIBRARY_PATH", ErrNoRuntime)
	}
	if _, err := os.Stat(info.LibraryPath); err != nil {
		return info, fmt.Errorf("%w: %s (%s): %w", ErrNoRuntime, info.LibraryPath, info.Source, err)
	}

	if info.Version == "" {
		info.Version = os.Getenv("ORT_VERSION")
	}
	if info.Version == "" {
		info.Version = versionFromFile(info.LibraryPath)
	}
	return info, nil
}

func versionFromFile(path string) string {
	names := []string{filepath.Base(path)}
	if resolved, err := filepath.EvalSymlinks(path); err == nil {
		names = append([]string{filepath.Base(resolved)}, names...)
	}
	for _, n := range names {
		if m := libraryVersion.FindStringSubmatch(n); m != nil {
			return m[1]
		}
	}
	return ""
}
