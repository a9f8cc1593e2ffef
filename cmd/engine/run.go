package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/cipherbrainstechnologies/Fifty7-sub000/internal/broker"
	"github.com/cipherbrainstechnologies/Fifty7-sub000/internal/bus"
	"github.com/cipherbrainstechnologies/Fifty7-sub000/internal/config"
	"github.com/cipherbrainstechnologies/Fifty7-sub000/internal/dashboard"
	"github.com/cipherbrainstechnologies/Fifty7-sub000/internal/histdata"
	"github.com/cipherbrainstechnologies/Fifty7-sub000/internal/journal"
	"github.com/cipherbrainstechnologies/Fifty7-sub000/internal/marketdata"
	"github.com/cipherbrainstechnologies/Fifty7-sub000/internal/metrics"
	"github.com/cipherbrainstechnologies/Fifty7-sub000/internal/reconcile"
	"github.com/cipherbrainstechnologies/Fifty7-sub000/internal/runner"
	"github.com/cipherbrainstechnologies/Fifty7-sub000/internal/statestore"
	"github.com/cipherbrainstechnologies/Fifty7-sub000/internal/ws"
)

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the live trading loop",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runEngine(cmd.Context())
		},
	}
}

func runEngine(parent context.Context) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}

	logger := log.New(os.Stdout, "[ENGINE] ", log.LstdFlags)
	lr := newLogrus(cfg.Environment.LogLevel)

	if !cfg.IsPaperTrading() {
		// Live order routing needs a real broker adapter wired to
		// cfg.Broker; until then only the paper account is supported.
		return fmt.Errorf("live mode with broker %q is not supported yet, set environment.mode: paper", cfg.Broker.Provider)
	}
	logger.Printf("Starting in paper mode: %s, %d lots", cfg.Strategy.Symbol, cfg.Strategy.Lots)

	store, err := statestore.New(cfg.Storage.StateDir, cfg.Storage.SnapshotRetention, logger)
	if err != nil {
		return fmt.Errorf("opening state store: %w", err)
	}
	jrnl, err := journal.New(cfg.Storage.JournalPath, logger)
	if err != nil {
		return fmt.Errorf("opening trade journal: %w", err)
	}
	missed, err := journal.NewMissed(cfg.Storage.MissedJournalPath, logger)
	if err != nil {
		return fmt.Errorf("opening missed-trade journal: %w", err)
	}

	feed := marketdata.NewSimFeed()
	warmStartFeed(cfg, feed, logger)
	provider := marketdata.NewRetryingProvider(feed, logger)

	margin := cfg.Risk.MarginPerLot * float64(cfg.Strategy.Lots*cfg.Risk.MaxPositions)
	paper := broker.NewPaperBroker(feed, margin, cfg.ExpiryWeekday())
	bk := broker.NewCircuitBreakerBroker(paper)

	evbus := bus.New(logger)
	mx := metrics.New()
	cfgMu := &sync.RWMutex{}

	r := runner.New(runner.Deps{
		Cfg:     cfg,
		CfgMu:   cfgMu,
		Broker:  bk,
		Feed:    provider,
		Store:   store,
		Journal: jrnl,
		Missed:  missed,
		Bus:     evbus,
		Metrics: mx,
		Logger:  logger,
	})

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := r.Recover(ctx); err != nil {
		return fmt.Errorf("recovering state: %w", err)
	}

	rec := reconcile.New(bk, store, evbus, logger, cfg.GetReconcileInterval())
	hub := ws.NewHub(lr)
	events, unsubscribe := evbus.Subscribe(256)
	defer unsubscribe()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return r.Run(gctx) })
	g.Go(func() error { return rec.Run(gctx) })
	g.Go(func() error {
		hub.Run(gctx, events)
		return nil
	})

	if cfg.Dashboard.Enabled {
		srv := dashboard.NewServer(
			dashboard.Config{Addr: cfg.Dashboard.Addr, AuthToken: os.Getenv("DASHBOARD_TOKEN")},
			dashboard.Deps{
				Cfg:     cfg,
				CfgMu:   cfgMu,
				Store:   store,
				Journal: jrnl,
				Missed:  missed,
				Hub:     hub,
				Metrics: mx,
				Bus:     evbus,
				Logger:  lr,
			})
		g.Go(func() error {
			if err := srv.Start(); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(sctx)
		})
	}

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		logger.Printf("Engine stopped")
		return nil
	}
	return err
}

// warmStartFeed preloads the sim feed from the candle archive so the
// first cycles have enough history for detection.
func warmStartFeed(cfg *config.Config, feed *marketdata.SimFeed, logger *log.Logger) {
	if cfg.Storage.HistoryDBPath == "" {
		return
	}
	hist, err := histdata.Open(cfg.Storage.HistoryDBPath)
	if err != nil {
		logger.Printf("Candle archive unavailable, starting cold: %v", err)
		return
	}
	defer hist.Close()

	now := time.Now()
	cs, err := hist.Window(cfg.Strategy.Symbol, histdata.KindSpot, now.AddDate(0, 0, -7), now)
	if err != nil || len(cs) == 0 {
		return
	}
	feed.LoadSpot(cfg.Strategy.Symbol, cs)
	logger.Printf("Warm-started feed with %d archived candles", len(cs))
}

func newLogrus(level string) *logrus.Logger {
	lr := logrus.New()
	if lvl, err := logrus.ParseLevel(level); err == nil {
		lr.SetLevel(lvl)
	}
	return lr
}
