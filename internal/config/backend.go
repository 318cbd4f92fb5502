package config

import (
	"fmt"
	"strings"
)

const (
	BackendBaseline = "baseline"
	BackendONNX     = "onnx"
)

func NormalizeBackend(raw string) (string, error) {
	backend := strings.ToLower(strings.TrimSpace(raw))
	if backend == "" {
		backend = BackendBaseline
	}
	switch backend {
	case BackendBaseline, BackendONNX:
		return backend, nil
	case "linear":
		return BackendBaseline, nil
	default:
		return "", fmt.Errorf(
			"invalid backend %q (expected %s|%s)",
			raw,
			BackendBaseline,
			BackendONNX,
		)
	}
}
