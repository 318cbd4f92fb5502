package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	if err := loadDotEnv(".env"); err != nil {
		reportError(os.Stderr, err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := NewRootCmd().ExecuteContext(ctx)
	stop()

	if err != nil {
		reportError(os.Stderr, err)
		os.Exit(1)
	}
}
