package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/eddiefleurent/schrute_scalper/internal/broker"
	"github.com/eddiefleurent/schrute_scalper/internal/config"
	"github.com/eddiefleurent/schrute_scalper/internal/dashboard"
	"github.com/eddiefleurent/schrute_scalper/internal/engine"
	"github.com/eddiefleurent/schrute_scalper/internal/feed"
	"github.com/eddiefleurent/schrute_scalper/internal/session"
	"github.com/eddiefleurent/schrute_scalper/internal/storage"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "config.yaml", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger := log.New(os.Stdout, "[SCALPER] ", log.LstdFlags|log.Lshortfile)

	logger.Printf("Starting 0DTE scalper in %s mode, tickers %v",
		cfg.Environment.Mode, cfg.Strategy.Tickers)
	if cfg.IsPaperTrading() {
		logger.Println("PAPER TRADING MODE - No real money at risk")
	} else {
		logger.Println("LIVE TRADING MODE - Real money at risk!")
		logger.Println("Waiting 10 seconds to confirm...")
		time.Sleep(10 * time.Second)
	}

	store, err := storage.Open(cfg.Storage.Backend, cfg.Storage.Path)
	if err != nil {
		log.Fatalf("Failed to open storage: %v", err)
	}
	defer store.Close()

	var gateway broker.Broker
	if cfg.IsPaperTrading() {
		gateway = broker.NewPaperBroker(cfg.Strategy.StrikeIncrement)
	} else {
		// A live adapter plugs in here; paper is the only gateway wired so
		// far, so live mode refuses to start.
		log.Fatalf("No live broker adapter configured for provider %q", cfg.Broker.Provider)
	}
	gateway = broker.NewCircuitBreakerBroker(gateway)

	source, err := feed.New(cfg.Feed, cfg.Strategy.Tickers, cfg.TickInterval(), logger)
	if err != nil {
		log.Fatalf("Failed to build tick feed: %v", err)
	}

	eng, err := engine.New(cfg, store, gateway, source, logger)
	if err != nil {
		log.Fatalf("Failed to build engine: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Println("Shutdown signal received, stopping...")
		cancel()
	}()

	g, runCtx := errgroup.WithContext(ctx)
	g.Go(func() error { return eng.Run(runCtx) })

	if cfg.Dashboard.Enabled {
		loc, err := cfg.Location()
		if err != nil {
			log.Fatalf("Failed to load timezone: %v", err)
		}
		srv := dashboard.New(cfg.Dashboard.Port, store, eng.Session(),
			session.RealClock{Location: loc}, newDashboardLogger(cfg.Environment.LogLevel))
		g.Go(func() error { return srv.Start(runCtx) })
	}

	runErr := g.Wait()

	// Whatever ended the run, try to flatten open positions before exiting.
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelShutdown()
	if err := eng.Shutdown(shutdownCtx); err != nil {
		logger.Printf("Final close pass failed: %v", err)
	}

	if runErr != nil {
		logger.Fatalf("Engine error: %v", runErr)
	}
	logger.Println("Stopped cleanly")
}

// newDashboardLogger builds the structured logger the HTTP layer uses.
func newDashboardLogger(level string) *logrus.Logger {
	l := logrus.New()
	l.SetFormatter(&logrus.JSONFormatter{})
	if parsed, err := logrus.ParseLevel(level); err == nil {
		l.SetLevel(parsed)
	}
	return l
}
