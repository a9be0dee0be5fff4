// Package engine wires the tick feed, indicators, cross detection, session
// gating, order mapping and position lifecycle into one loop per ticker.
package engine

import (
	"context"
	"log"
	"time"

	"github.com/eddiefleurent/schrute_scalper/internal/broker"
	"github.com/eddiefleurent/schrute_scalper/internal/cross"
	"github.com/eddiefleurent/schrute_scalper/internal/indicator"
	"github.com/eddiefleurent/schrute_scalper/internal/lifecycle"
	"github.com/eddiefleurent/schrute_scalper/internal/mapper"
	"github.com/eddiefleurent/schrute_scalper/internal/models"
	"github.com/eddiefleurent/schrute_scalper/internal/orders"
	"github.com/eddiefleurent/schrute_scalper/internal/retry"
	"github.com/eddiefleurent/schrute_scalper/internal/session"
)

// defaultPollInterval drives session advancement and in-flight order checks
// between ticks.
const defaultPollInterval = time.Second

// pendingOrder is the single in-flight order a pipeline allows.
type pendingOrder struct {
	intent  models.OrderIntent
	orderID string
}

// Pipeline runs the full signal-to-order flow for one ticker. All state is
// confined to the pipeline goroutine; no locks are needed.
type Pipeline struct {
	ticker    string
	scheduler *session.Scheduler
	calc      *indicator.Calculator
	detector  *cross.Detector
	mapper    *mapper.Mapper
	lifecycle *lifecycle.Manager
	orders    *orders.Manager
	retry     *retry.Client
	broker    broker.Broker
	marker    broker.SpotMarker
	logger    *log.Logger

	pollInterval time.Duration

	prev     models.IndicatorPoint
	havePrev bool
	queue    []models.OrderIntent
	inflight *pendingOrder
}

// PipelineDeps carries the collaborators a pipeline needs.
type PipelineDeps struct {
	Scheduler *session.Scheduler
	Mapper    *mapper.Mapper
	Lifecycle *lifecycle.Manager
	Orders    *orders.Manager
	Retry     *retry.Client
	Broker    broker.Broker
	// Marker is optional; set when the broker tracks spot from the tape.
	Marker broker.SpotMarker
	Logger *log.Logger
	// PollInterval overrides the default driving cadence, for tests.
	PollInterval time.Duration
}

// NewPipeline creates the pipeline for one ticker.
func NewPipeline(ticker string, deps PipelineDeps) *Pipeline {
	logger := deps.Logger
	if logger == nil {
		logger = log.Default()
	}
	poll := deps.PollInterval
	if poll <= 0 {
		poll = defaultPollInterval
	}
	sess := deps.Scheduler.Session()
	return &Pipeline{
		ticker:       ticker,
		scheduler:    deps.Scheduler,
		calc:         indicator.NewCalculator(ticker, sess.OpenTime),
		detector:     cross.NewDetector(ticker, deps.Scheduler.WithinTradingHours),
		mapper:       deps.Mapper,
		lifecycle:    deps.Lifecycle,
		orders:       deps.Orders,
		retry:        deps.Retry,
		broker:       deps.Broker,
		marker:       deps.Marker,
		logger:       logger,
		pollInterval: poll,
	}
}

// Run consumes ticks until the channel closes or the context is done. A
// closed tick channel (replay exhausted) drains gracefully after a final
// poll pass.
func (p *Pipeline) Run(ctx context.Context, ticks <-chan models.Tick) error {
	poll := time.NewTicker(p.pollInterval)
	defer poll.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case tick, ok := <-ticks:
			if !ok {
				p.onPoll(ctx)
				return nil
			}
			p.onTick(ctx, tick)
		case <-poll.C:
			p.onPoll(ctx)
		}
	}
}

// onPoll advances the session clock and pumps the order machinery even when
// the tape is quiet.
func (p *Pipeline) onPoll(ctx context.Context) {
	p.advanceSession(ctx)
	p.checkInflight(ctx)
	p.dispatch(ctx)
}

// onTick runs one tick through indicators, cross detection, mapping, and
// position marking.
func (p *Pipeline) onTick(ctx context.Context, tick models.Tick) {
	if tick.Ticker != p.ticker {
		return
	}
	if p.marker != nil {
		p.marker.MarkSpot(tick.Ticker, tick.Price)
	}

	p.advanceSession(ctx)

	point := p.calc.Update(tick)
	if p.havePrev {
		if crossed := p.detector.Observe(p.prev, point); crossed != nil {
			p.onCross(ctx, crossed)
		}
	}
	p.prev = point
	p.havePrev = true

	p.markPosition(ctx, tick.Timestamp)
	p.checkInflight(ctx)
	p.dispatch(ctx)
}

// advanceSession applies any session transitions the clock has crossed, then
// runs the forced-close sweep whenever the entry window is over. The sweep is
// re-armed every pass rather than only on the transition, so a position whose
// sweep failed against a broken store is picked up again as soon as the store
// recovers; hasCloseFor keeps the re-arming from duplicating closes.
func (p *Pipeline) advanceSession(ctx context.Context) {
	for _, tr := range p.scheduler.Advance() {
		p.logger.Printf("[%s] session %s -> %s", p.ticker, tr.From, tr.To)
		switch tr.To {
		case session.StateActive:
			p.calc.Reset(p.scheduler.Session().OpenTime)
			p.detector.Reset()
			p.havePrev = false
		case session.StateClosingOnly:
			p.dropQueuedEntries()
		}
	}

	switch p.scheduler.State() {
	case session.StateClosingOnly, session.StateClosed:
		p.sweepOpenPosition(ctx)
	}
}

// dropQueuedEntries purges sell-to-open intents that can no longer run.
func (p *Pipeline) dropQueuedEntries() {
	kept := p.queue[:0]
	for _, intent := range p.queue {
		if intent.IsOpen() {
			p.logger.Printf("[%s] dropping queued entry past the entry window: %s", p.ticker, intent)
			continue
		}
		kept = append(kept, intent)
	}
	p.queue = kept
}

// sweepOpenPosition enqueues a forced close for the open position unless a
// close for it is already queued or in flight.
func (p *Pipeline) sweepOpenPosition(ctx context.Context) {
	pos, err := p.lifecycle.OpenPosition(p.ticker)
	if err != nil {
		p.logger.Printf("[%s] sweep failed to load position: %v", p.ticker, err)
		return
	}
	if pos == nil || p.hasCloseFor(pos.ID) {
		return
	}

	limit := p.currentOptionMid(ctx, pos)
	intent := mapper.ForcedCloseIntent(pos, limit)
	p.logger.Printf("[%s] entry window over, forcing close: %s", p.ticker, intent)
	p.queue = append(p.queue, intent)
}

// onCross maps a confirmed cross into intents and enqueues the ones the
// session and storage state allow.
func (p *Pipeline) onCross(ctx context.Context, crossed *models.Cross) {
	existing, err := p.lifecycle.OpenPosition(p.ticker)
	if err != nil {
		p.logger.Printf("[%s] skipping cross, cannot load position: %v", p.ticker, err)
		return
	}

	intents, err := p.mapper.OnCross(ctx, crossed, existing)
	if err != nil {
		p.logger.Printf("[%s] cross mapping failed: %v", p.ticker, err)
		return
	}

	for _, intent := range intents {
		if intent.IsOpen() && !p.scheduler.CanOpen() {
			p.logger.Printf("[%s] outside entry window, dropping %s", p.ticker, intent)
			continue
		}
		if intent.IsOpen() && !p.lifecycle.StorageHealthy() {
			p.logger.Printf("[%s] storage unhealthy, dropping %s", p.ticker, intent)
			continue
		}
		if !intent.IsOpen() && p.hasCloseFor(intent.PositionID) {
			continue
		}
		p.queue = append(p.queue, intent)
	}
}

// markPosition refreshes the open position's mark from the option chain and
// enqueues the exit the lifecycle manager asks for.
func (p *Pipeline) markPosition(ctx context.Context, at time.Time) {
	pos, err := p.lifecycle.OpenPosition(p.ticker)
	if err != nil || pos == nil {
		return
	}

	mid := p.currentOptionMid(ctx, pos)
	if mid <= 0 {
		return
	}

	intent, err := p.lifecycle.OnPriceUpdate(p.ticker, mid, at)
	if err != nil {
		p.logger.Printf("[%s] mark failed: %v", p.ticker, err)
		return
	}
	if intent == nil || p.hasCloseFor(intent.PositionID) {
		return
	}
	if !p.scheduler.CanClose() {
		return
	}
	p.queue = append(p.queue, *intent)
}

// currentOptionMid looks the position's contract up in the live chain.
func (p *Pipeline) currentOptionMid(ctx context.Context, pos *models.Position) float64 {
	chain, err := p.broker.GetOptionChain(ctx, pos.Ticker, pos.Expiration)
	if err != nil {
		return 0
	}
	for _, q := range chain {
		if q.Symbol == pos.OptionSymbol {
			return q.Mid()
		}
	}
	return 0
}

// hasCloseFor reports whether a close for the position is already queued or
// in flight.
func (p *Pipeline) hasCloseFor(positionID string) bool {
	if positionID == "" {
		return false
	}
	if p.inflight != nil && p.inflight.intent.PositionID == positionID {
		return true
	}
	for _, intent := range p.queue {
		if intent.PositionID == positionID {
			return true
		}
	}
	return false
}

// checkInflight polls the in-flight order once and applies a terminal result.
func (p *Pipeline) checkInflight(ctx context.Context) {
	if p.inflight == nil {
		return
	}

	result, err := p.orders.CheckOrder(ctx, p.inflight.orderID)
	if err != nil {
		p.logger.Printf("[%s] order %s poll failed: %v", p.ticker, p.inflight.orderID, err)
		return
	}
	if !result.Status.Terminal() {
		return
	}

	pending := p.inflight
	p.inflight = nil
	p.applyTerminal(pending.intent, result)
}

// applyTerminal folds a terminal order result into the lifecycle.
func (p *Pipeline) applyTerminal(intent models.OrderIntent, result *broker.OrderResult) {
	switch result.Status {
	case broker.StatusFilled:
		if err := p.lifecycle.OnOrderFilled(intent, result.OrderID, result.FillPrice, time.Now().UTC()); err != nil {
			p.logger.Printf("[%s] failed to apply fill for order %s: %v", p.ticker, result.OrderID, err)
		}
	case broker.StatusRejected, broker.StatusCanceled:
		p.logger.Printf("[%s] order %s ended %s: %s", p.ticker, result.OrderID, result.Status, intent)
	}
}

// dispatch sends the next queued intent when nothing is in flight. Intents
// run strictly in queue order; a close generated before an entry always
// reaches the broker first.
func (p *Pipeline) dispatch(ctx context.Context) {
	if p.inflight != nil || len(p.queue) == 0 {
		return
	}

	intent := p.queue[0]
	p.queue = p.queue[1:]

	// Revalidate at dispatch time: the session or position may have moved
	// while the intent sat in the queue.
	if intent.IsOpen() {
		if !p.scheduler.CanOpen() || !p.lifecycle.StorageHealthy() {
			p.logger.Printf("[%s] dropping stale entry at dispatch: %s", p.ticker, intent)
			return
		}
		if pos, err := p.lifecycle.OpenPosition(p.ticker); err != nil || pos != nil {
			p.logger.Printf("[%s] position already open, dropping %s", p.ticker, intent)
			return
		}
	} else {
		pos, err := p.lifecycle.OpenPosition(p.ticker)
		if err != nil {
			// Cannot tell whether the position is still open; keep the
			// close queued and retry on the next pass.
			p.logger.Printf("[%s] deferring %s, cannot load position: %v", p.ticker, intent, err)
			p.queue = append([]models.OrderIntent{intent}, p.queue...)
			return
		}
		if pos == nil || (intent.PositionID != "" && pos.ID != intent.PositionID) {
			p.logger.Printf("[%s] dropping close for missing position: %s", p.ticker, intent)
			return
		}
	}

	var result *broker.OrderResult
	var err error
	if intent.Reason == models.ReasonForcedClose {
		result, err = p.retry.ForceCloseWithRetry(ctx, intent)
	} else {
		result, err = p.retry.PlaceWithRetry(ctx, intent)
	}
	if err != nil {
		p.logger.Printf("[%s] failed to place %s: %v", p.ticker, intent, err)
		return
	}

	if result.Status.Terminal() {
		p.applyTerminal(intent, result)
		return
	}
	p.inflight = &pendingOrder{intent: intent, orderID: result.OrderID}
}
