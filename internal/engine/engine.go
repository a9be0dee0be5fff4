package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/eddiefleurent/schrute_scalper/internal/broker"
	"github.com/eddiefleurent/schrute_scalper/internal/config"
	"github.com/eddiefleurent/schrute_scalper/internal/feed"
	"github.com/eddiefleurent/schrute_scalper/internal/lifecycle"
	"github.com/eddiefleurent/schrute_scalper/internal/mapper"
	"github.com/eddiefleurent/schrute_scalper/internal/models"
	"github.com/eddiefleurent/schrute_scalper/internal/orders"
	"github.com/eddiefleurent/schrute_scalper/internal/retry"
	"github.com/eddiefleurent/schrute_scalper/internal/session"
	"github.com/eddiefleurent/schrute_scalper/internal/storage"
)

// tickBuffer sizes the feed and per-ticker channels. A slow broker call in
// one pipeline should not stall the router immediately.
const tickBuffer = 256

// Engine owns one pipeline per configured ticker and the router that fans
// the tick stream out to them.
type Engine struct {
	cfg       *config.Config
	logger    *log.Logger
	store     storage.Interface
	broker    broker.Broker
	source    feed.Source
	lifecycle *lifecycle.Manager
	session   models.TradingSession
	pipelines map[string]*Pipeline
	channels  map[string]chan models.Tick
}

// New assembles an engine from its infrastructure pieces.
func New(cfg *config.Config, store storage.Interface, b broker.Broker,
	source feed.Source, logger *log.Logger) (*Engine, error) {

	if logger == nil {
		logger = log.Default()
	}

	loc, err := cfg.Location()
	if err != nil {
		return nil, fmt.Errorf("failed to load exchange timezone: %w", err)
	}
	clock := session.RealClock{Location: loc}

	sess, err := cfg.SessionFor(clock.Now(), loc)
	if err != nil {
		return nil, fmt.Errorf("failed to build trading session: %w", err)
	}

	lifecycleMgr := lifecycle.NewManager(store, lifecycle.Config{
		ProfitTargetRatio: cfg.Strategy.ProfitTargetRatio,
		StopLossRatio:     cfg.Strategy.StopLossRatio,
	}, logger)

	orderMgr := orders.NewManager(b, logger)
	retryClient := retry.NewClient(orderMgr, logger)
	intentMapper := mapper.New(b, mapper.Config{
		Contracts: cfg.Strategy.ContractsPerTrade,
		TieBreak:  cfg.Strategy.StrikeTieBreak,
	}, logger)

	marker, _ := b.(broker.SpotMarker)

	e := &Engine{
		cfg:       cfg,
		logger:    logger,
		store:     store,
		broker:    b,
		source:    source,
		lifecycle: lifecycleMgr,
		session:   sess,
		pipelines: make(map[string]*Pipeline, len(cfg.Strategy.Tickers)),
		channels:  make(map[string]chan models.Tick, len(cfg.Strategy.Tickers)),
	}

	for _, ticker := range cfg.Strategy.Tickers {
		scheduler := session.NewScheduler(sess, clock)
		e.pipelines[ticker] = NewPipeline(ticker, PipelineDeps{
			Scheduler: scheduler,
			Mapper:    intentMapper,
			Lifecycle: lifecycleMgr,
			Orders:    orderMgr,
			Retry:     retryClient,
			Broker:    b,
			Marker:    marker,
			Logger:    logger,
		})
		e.channels[ticker] = make(chan models.Tick, tickBuffer)
	}

	return e, nil
}

// Session returns the trading day the engine is running.
func (e *Engine) Session() models.TradingSession {
	return e.session
}

// Run drives the feed, the router, and every pipeline until the context is
// done or the feed is exhausted. Context cancellation is a clean shutdown,
// not an error.
func (e *Engine) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	ticks := make(chan models.Tick, tickBuffer)

	g.Go(func() error {
		defer close(ticks)
		err := e.source.Run(ctx, ticks)
		if err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("tick feed failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		defer func() {
			for _, ch := range e.channels {
				close(ch)
			}
		}()
		for tick := range ticks {
			ch, ok := e.channels[tick.Ticker]
			if !ok {
				continue
			}
			select {
			case ch <- tick:
			case <-ctx.Done():
				return nil
			}
		}
		return nil
	})

	for ticker, pipeline := range e.pipelines {
		ticker, pipeline := ticker, pipeline
		g.Go(func() error {
			err := pipeline.Run(ctx, e.channels[ticker])
			if err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("pipeline %s failed: %w", ticker, err)
			}
			return nil
		})
	}

	err := g.Wait()

	// Whatever happened, flush state before handing control back.
	if saveErr := e.store.Save(); saveErr != nil {
		e.logger.Printf("final state save failed: %v", saveErr)
	}
	return err
}

// Shutdown closes positions still open at exit when the session demands it,
// bounded by the context deadline.
func (e *Engine) Shutdown(ctx context.Context) error {
	intents, err := e.lifecycle.ForcedCloseIntents()
	if err != nil {
		return fmt.Errorf("failed to list positions at shutdown: %w", err)
	}
	if len(intents) == 0 {
		return nil
	}

	orderMgr := orders.NewManager(e.broker, e.logger)
	retryClient := retry.NewClient(orderMgr, e.logger)
	for _, intent := range intents {
		result, err := retryClient.ForceCloseWithRetry(ctx, intent)
		if err != nil {
			e.logger.Printf("[%s] shutdown close failed: %v", intent.Ticker, err)
			continue
		}
		final, err := orderMgr.AwaitTerminal(ctx, result.OrderID)
		if err != nil || final.Status != broker.StatusFilled {
			e.logger.Printf("[%s] shutdown close did not fill: %v", intent.Ticker, err)
			continue
		}
		if err := e.lifecycle.OnOrderFilled(intent, final.OrderID, final.FillPrice, time.Now().UTC()); err != nil {
			e.logger.Printf("[%s] failed to record shutdown close: %v", intent.Ticker, err)
		}
	}
	return nil
}
