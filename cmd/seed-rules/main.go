// seed-rules installs the default home-services rule corpus into the global
// ruleset. Safe to run repeatedly: already-seeded rules are skipped.
package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/jackcarlos19/csr-call-assistant/pkg/config"
	"github.com/jackcarlos19/csr-call-assistant/pkg/database"
	"github.com/jackcarlos19/csr-call-assistant/pkg/rules"
	"github.com/jackcarlos19/csr-call-assistant/pkg/store"
)

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Warn("Could not load .env file, continuing with existing environment", "error", err)
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	dbClient, err := database.NewClient(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer dbClient.Close()

	st := store.New(dbClient.DB())
	seeded, err := st.SeedGlobalRules(ctx, rules.DefaultSeedRules())
	if err != nil {
		slog.Error("Failed to seed rules", "error", err)
		os.Exit(1)
	}

	slog.Info("Seeded rules successfully", "count", seeded)
}
