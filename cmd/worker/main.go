package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"assetsnap/internal/app/bootstrap"
)

// Worker process entrypoint.
// Data flow:
// 1) Load config.
// 2) Build app wiring (postgres, eth rpc, ipfs, metrics).
// 3) Claim and process pending snapshots on every poll tick until signalled.
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Println("assetsnap worker starting")
	app, err := bootstrap.BuildWorker(ctx)
	if err != nil {
		log.Fatalf("bootstrap worker failed: %v", err)
	}
	defer func() {
		if err := app.Close(); err != nil {
			log.Printf("worker shutdown close failed: %v", err)
		}
	}()

	if err := app.Run(ctx); err != nil {
		log.Printf("assetsnap worker stopped with error: %v", err)
	}
}
