package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"assetsnap/internal/app/bootstrap"
)

// Operator CLI entrypoint. Every command builds the CLI app from the same
// environment as the worker (POSTGRES_DSN, ETH_RPC_URL, PAYOUT_MANAGER_ADDRESS).
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := newRootCmd(bootstrap.BuildCLI)
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
