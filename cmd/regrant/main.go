package main

import (
	"log"

	"github.com/aussiebroadwan/regrant/internal/oauth/app"
	"github.com/joho/godotenv"
)

func main() {
	// Optional .env for local development; ignore when absent.
	_ = godotenv.Load()

	cfg := app.LoadConfig()

	application, err := app.New(cfg)
	if err != nil {
		log.Fatalf("failed to initialize application: %v", err)
	}

	if err := application.Run(); err != nil {
		log.Fatalf("application error: %v", err)
	}
}
