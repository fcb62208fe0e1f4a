package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/johnnynv/issuesync/pkg/types"
)

// Build information, set with -ldflags "-X main.Version=..."
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// Exit codes let scripts tell a bad config or credential from a failed run
const (
	exitFailure       = 1
	exitConfiguration = 2
	exitAuth          = 3
	exitInterrupted   = 130
)

func main() {
	if err := Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitCode(err))
	}
}

func exitCode(err error) int {
	if errors.Is(err, context.Canceled) {
		return exitInterrupted
	}
	switch types.KindOf(err) {
	case types.KindConfiguration, types.KindMapping:
		return exitConfiguration
	case types.KindAuth, types.KindPermission:
		return exitAuth
	default:
		return exitFailure
	}
}
