package main

import (
	"context"
	"flag"
	"log"
	"os"
	"strings"
	"time"

	"casewatch/internal/app"
	"casewatch/internal/config"
	"casewatch/internal/database/migration"
	"casewatch/internal/database/seeder"
)

// One-shot pipeline runner for cron and operator use: applies migrations,
// collects from the requested sources once, and optionally backfills
// coordinates.
func main() {
	sourceFlag := flag.String("source", "all", "source id to collect, or 'all'")
	migrate := flag.Bool("migrate", true, "apply pending migrations before collecting")
	seed := flag.Bool("seed", false, "load development fixtures after migrating")
	geocode := flag.Bool("geocode", false, "backfill missing coordinates after collecting")
	timeout := flag.Duration("timeout", 15*time.Minute, "overall run timeout")
	flag.Parse()

	logger := log.New(os.Stdout, "", log.LstdFlags)

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("failed to load config: %v", err)
	}

	c, err := app.NewContainer(cfg, logger)
	if err != nil {
		logger.Fatalf("failed to init container: %v", err)
	}
	defer func() {
		_ = c.Close()
	}()

	if c.DB == nil {
		logger.Fatalf("store unavailable; a one-shot run needs the database")
	}

	if *migrate {
		migCtx, migCancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer migCancel()
		r := migration.Runner{Dir: "migrations", Logger: logger}
		if err := r.Run(migCtx, c.DB); err != nil {
			logger.Fatalf("migration failed: %v", err)
		}
	}

	if *seed {
		seedCtx, seedCancel := context.WithTimeout(context.Background(), time.Minute)
		defer seedCancel()
		r := seeder.Runner{Seeders: seeder.Defaults()}
		if err := r.Run(seedCtx, c.DB); err != nil {
			logger.Fatalf("seeding failed: %v", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	var ids []string
	if strings.TrimSpace(*sourceFlag) != "" && *sourceFlag != "all" {
		ids = strings.Split(*sourceFlag, ",")
		for i := range ids {
			ids[i] = strings.TrimSpace(ids[i])
		}
	} else {
		for _, def := range c.Manager.Definitions() {
			ids = append(ids, def.ID)
		}
	}

	results := c.Manager.RunParallelCollection(ctx, ids)

	failed := 0
	for id, res := range results {
		if !res.Success {
			failed++
			logger.Printf("Collection failed | source=%s err=%s", id, res.Error)
			continue
		}
		logger.Printf("Collection finished | source=%s records=%d events=%d", id, res.RecordCount, res.EventCount)
	}

	if *geocode {
		if err := c.Backfill.Backfill(ctx); err != nil {
			logger.Printf("Geocode backfill failed | err=%v", err)
		}
	}

	if failed > 0 {
		os.Exit(1)
	}
}
