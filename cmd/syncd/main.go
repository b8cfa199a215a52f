package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"

	"coversync/db"
	"coversync/ledger"
	"coversync/listener"
	"coversync/mirror"
	"coversync/scheduler"
	"coversync/submit"
)

type config struct {
	databaseURL    string
	natsURL        string
	identitySeed   string
	lapseInterval  time.Duration
	requestTimeout time.Duration
}

func loadConfig() (config, error) {
	cfg := config{
		databaseURL:    os.Getenv("DATABASE_URL"),
		natsURL:        os.Getenv("NATS_URL"),
		identitySeed:   os.Getenv("LEDGER_IDENTITY_SEED"),
		lapseInterval:  time.Hour,
		requestTimeout: 10 * time.Second,
	}
	if cfg.databaseURL == "" {
		return config{}, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.natsURL == "" {
		cfg.natsURL = nats.DefaultURL
	}
	if cfg.identitySeed == "" {
		return config{}, fmt.Errorf("LEDGER_IDENTITY_SEED is required")
	}
	if v := os.Getenv("LAPSE_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return config{}, fmt.Errorf("parse LAPSE_INTERVAL: %w", err)
		}
		cfg.lapseInterval = d
	}
	if v := os.Getenv("LEDGER_REQUEST_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return config{}, fmt.Errorf("parse LEDGER_REQUEST_TIMEOUT: %w", err)
		}
		cfg.requestTimeout = d
	}
	return cfg, nil
}

func main() {
	logger := log.New(os.Stderr, "syncd ", log.LstdFlags|log.Lmsgprefix)

	cfg, err := loadConfig()
	if err != nil {
		logger.Fatalf("config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewPool(ctx, cfg.databaseURL)
	if err != nil {
		logger.Fatalf("bootstrap database pool: %v", err)
	}
	defer pool.Close()

	nc, err := nats.Connect(cfg.natsURL,
		nats.Name("coversync"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		logger.Fatalf("connect nats: %v", err)
	}
	defer nc.Drain()

	identity, err := ledger.NewIdentityFromHex(cfg.identitySeed)
	if err != nil {
		logger.Fatalf("load identity: %v", err)
	}
	logger.Printf("signing identity %s", identity.Account())

	client := ledger.NewClient(nc, identity, cfg.requestTimeout)
	submitter := submit.New(client, identity, logger)
	repo := mirror.NewRepository(pool)

	lst := listener.New(nc, client, repo, logger)
	if err := lst.Start(); err != nil {
		logger.Fatalf("start listener: %v", err)
	}
	logger.Printf("listener subscribed")

	sched := scheduler.New(repo, submitter, client, logger).WithInterval(cfg.lapseInterval)
	go sched.Run(ctx)
	logger.Printf("lapse scheduler running every %s", cfg.lapseInterval)

	<-ctx.Done()
	logger.Printf("shutting down")
}
