package main

import (
	"context"
	"log"

	"gw-ledger/internal/app"
)

func main() {
	app, err := app.NewLedgerApp()
	if err != nil {
		log.Fatalf("failed to create application: %v", err)
	}

	ctx := context.Background()
	if err := app.BuildStorageLayer(ctx); err != nil {
		log.Fatalf("failed to build storage layer: %v", err)
	}
	if err := app.BuildNotifyLayer(); err != nil {
		log.Fatalf("failed to build notification layer: %v", err)
	}
	if err := app.BuildLedgerLayer(); err != nil {
		log.Fatalf("failed to build ledger layer: %v", err)
	}
	if err := app.SeedAdminWallet(ctx); err != nil {
		log.Fatalf("failed to seed admin wallet: %v", err)
	}

	if err := app.Run(); err != nil {
		log.Fatalf("application error: %v", err)
	}
}
