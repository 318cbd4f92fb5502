// Package testutil writes synthetic corpora for package tests and skips
// integration tests whose external prerequisites are missing.
package testutil

import (
	"os"
	"testing"
)

// ortEnvVars are consulted in order before the system library paths.
var ortEnvVars = []string{"DIFFAR_INFERENCE_ORT_LIBRARY_PATH", "ORT_LIBRARY_PATH"}

var ortSystemPaths = []string{
	"/usr/lib/libonnxruntime.so",
	"/usr/local/lib/libonnxruntime.so",
	"/usr/lib/x86_64-linux-gnu/libonnxruntime.so",
	"/opt/homebrew/lib/libonnxruntime.dylib",
}

// RequireONNXRuntime returns the path of an ONNX Runtime shared library or
// skips tb. A set but dangling env var skips without falling through to the
// system paths.
func RequireONNXRuntime(tb testing.TB) string {
	tb.Helper()

	for _, env := range ortEnvVars {
		if os.Getenv(env) != "" {
			return RequireEnvFile(tb, env)
		}
	}
	for _, p := range ortSystemPaths {
		if exists(p) {
			return p
		}
	}
	tb.Skip("no ONNX Runtime library; set ORT_LIBRARY_PATH")
	return ""
}

// RequireEnvFile returns the file named by env, skipping tb when the
// variable is empty or the file is missing.
func RequireEnvFile(tb testing.TB, env string) string {
	tb.Helper()

	p := os.Getenv(env)
	switch {
	case p == "":
		tb.Skipf("%s not set", env)
	case !exists(p):
		tb.Skipf("%s=%q does not exist", env, p)
	default:
		return p
	}
	return ""
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
