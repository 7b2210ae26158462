package main

import (
	"log"

	"gw-ledger/internal/app"
)

func main() {
	app, err := app.NewNotifierApp()
	if err != nil {
		log.Fatalf("failed to create application: %v", err)
	}

	if err := app.Run(); err != nil {
		log.Fatalf("application error: %v", err)
	}
}
