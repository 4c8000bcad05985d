// Package main provides a CLI tool for corrective provider resets. A reset
// deletes every listing of one provider across all jobs and is recorded in a
// ledger under its name; running the same name again deletes nothing.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/listing-scanner/internal/config"
	"github.com/listing-scanner/internal/logging"
	"github.com/listing-scanner/internal/models"
	"github.com/listing-scanner/internal/service"
	"github.com/listing-scanner/internal/storage"
)

func main() {
	var (
		name     = flag.String("name", "", "Unique reset name, the replay key (e.g. 2026-03-tutti-price-parse)")
		provider = flag.String("provider", "", "Provider whose listings are deleted")
		reason   = flag.String("reason", "", "Why the reset is needed, stored in the ledger")
		history  = flag.Bool("history", false, "List executed resets and exit")
	)
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	logging.InitGlobalLogger(logging.ParseLogLevel(cfg.Logging.Level), logging.ParseLogFormat(cfg.Logging.Format))
	logger := logging.GetGlobalLogger().WithField("component", "reset")
	ctx, cancel := context.WithTimeout(logging.WithLogger(context.Background(), logger), 10*time.Minute)
	defer cancel()

	postgres, err := storage.NewPostgresDB(&cfg.Database.Postgres)
	if err != nil {
		log.Fatalf("Failed to connect to Postgres: %v", err)
	}
	defer postgres.Close()

	if err := storage.RunMigrationsFrom(cfg.Database.Postgres.URL(), cfg.Database.MigrationsPath); err != nil {
		log.Fatalf("Migrations failed: %v", err)
	}

	resets := service.NewResetService(storage.NewPostgresStore(postgres))

	if *history {
		rows, err := resets.History(ctx)
		if err != nil {
			log.Fatalf("Failed to read reset ledger: %v", err)
		}
		for _, r := range rows {
			fmt.Printf("%s\t%s\t%s\t%d\t%s\n", r.ExecutedAt.Format(time.RFC3339), r.Name, r.Provider, r.Removed, r.Reason)
		}
		return
	}

	if *name == "" || *provider == "" {
		flag.Usage()
		os.Exit(2)
	}

	res, err := resets.Reset(ctx, models.ResetRequest{Name: *name, Provider: *provider, Reason: *reason})
	if err != nil {
		log.Fatalf("Reset failed: %v", err)
	}

	if res.AlreadyApplied {
		fmt.Printf("Reset %q was already applied at %s (%d listings removed then)\n",
			res.Name, res.ExecutedAt.Format(time.RFC3339), res.Removed)
		return
	}
	fmt.Printf("Reset %q removed %d %s listings\n", res.Name, res.Removed, res.Provider)
}
