package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/marketsub/internal/pkg/cache"
	"github.com/ManuelReschke/marketsub/internal/pkg/config"
	"github.com/ManuelReschke/marketsub/internal/pkg/database"
	"github.com/ManuelReschke/marketsub/internal/pkg/env"
	"github.com/ManuelReschke/marketsub/internal/pkg/jobqueue"
	"github.com/ManuelReschke/marketsub/internal/pkg/subscriptions"
)

const expiryLockKey = "subscriptions:lock:expiry_sweep"

// grant-credits runs the monthly featured credit grant once, for cron.
func main() {
	date := flag.String("date", "", "calendar day (YYYY-MM-DD, UTC) whose period starts are granted; default today")
	expire := flag.Bool("expire", false, "also expire lapsed subscriptions before granting")
	timeout := flag.Duration("timeout", 10*time.Minute, "abort after this long")
	flag.Parse()

	payload, err := jobqueue.PeriodicCreditsJobPayloadFromMap(jobqueue.PeriodicCreditsJobPayload{Date: *date}.ToMap())
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	if err := env.SetupEnvFile(); err != nil {
		log.Info("[GrantCredits] No .env file found, using process environment")
	}
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	database.SetupDatabase(cfg.Database)
	rdb := cache.SetupCache(cfg.Cache)
	subs := subscriptions.NewServiceFromDB(database.GetDB())

	if *expire {
		if err := expireDue(ctx, subs); err != nil {
			log.Fatal(err)
		}
	}

	jobs := jobqueue.NewManager(cfg.Jobs, rdb, subs)
	asOf := payload.AsOf(subs.Now())
	granted, ran, err := jobs.RunPeriodicCredits(ctx, asOf)
	if err != nil {
		log.Fatalf("[GrantCredits] Run for %s failed: %v", asOf.Format(jobqueue.DateLayout), err)
	}
	if !ran {
		fmt.Println("skipped: another run holds the lock")
		return
	}
	fmt.Printf("granted monthly credits to %d subscriptions for %s\n", granted, asOf.Format(jobqueue.DateLayout))
}

func expireDue(ctx context.Context, subs *subscriptions.Service) error {
	ok, err := cache.TryLock(ctx, expiryLockKey, 5*time.Minute)
	if err != nil {
		return fmt.Errorf("take expiry lock: %w", err)
	}
	if !ok {
		log.Info("[GrantCredits] Expiry sweep already running elsewhere, skipping")
		return nil
	}
	defer func() {
		if err := cache.Unlock(context.Background(), expiryLockKey); err != nil {
			log.Warnf("[GrantCredits] Failed to release expiry lock: %v", err)
		}
	}()

	n, err := subs.ExpireDue(ctx, subs.Now())
	if err != nil {
		return err
	}
	fmt.Printf("expired %d subscriptions\n", n)
	return nil
}
