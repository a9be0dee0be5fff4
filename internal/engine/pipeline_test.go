package engine

import (
	"context"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eddiefleurent/schrute_scalper/internal/broker"
	"github.com/eddiefleurent/schrute_scalper/internal/lifecycle"
	"github.com/eddiefleurent/schrute_scalper/internal/mapper"
	"github.com/eddiefleurent/schrute_scalper/internal/models"
	"github.com/eddiefleurent/schrute_scalper/internal/orders"
	"github.com/eddiefleurent/schrute_scalper/internal/retry"
	"github.com/eddiefleurent/schrute_scalper/internal/session"
	"github.com/eddiefleurent/schrute_scalper/internal/storage"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

type harness struct {
	pipeline *Pipeline
	store    *storage.MockStorage
	broker   *broker.PaperBroker
	clock    *fakeClock
	session  models.TradingSession
}

func newHarness(t *testing.T) *harness {
	return buildHarness(t, false)
}

// buildHarness assembles one pipeline against the paper broker, optionally
// behind the same circuit-breaker wrapper production uses.
func buildHarness(t *testing.T, wrapGateway bool) *harness {
	t.Helper()

	day := time.Date(2026, 3, 20, 0, 0, 0, 0, time.UTC)
	sess := models.TradingSession{
		Date:           day,
		OpenTime:       day.Add(14*time.Hour + 30*time.Minute),
		ActiveEndTime:  day.Add(20*time.Hour + 30*time.Minute),
		SessionEndTime: day.Add(21 * time.Hour),
	}

	clock := &fakeClock{now: sess.OpenTime.Add(30 * time.Minute)}
	store := storage.NewMockStorage()
	pb := broker.NewPaperBroker(5.0)
	logger := log.New(io.Discard, "", 0)

	var gateway broker.Broker = pb
	if wrapGateway {
		gateway = broker.NewCircuitBreakerBroker(pb)
	}
	marker, ok := gateway.(broker.SpotMarker)
	require.True(t, ok, "the gateway must accept tape marks for the paper broker")

	lifecycleMgr := lifecycle.NewManager(store, lifecycle.Config{
		ProfitTargetRatio: 0.50,
		StopLossRatio:     2.00,
	}, logger)
	orderMgr := orders.NewManager(gateway, logger)
	retryClient := retry.NewClient(orderMgr, logger, retry.Config{
		MaxRetries:     1,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     time.Millisecond,
		Timeout:        time.Second,
	})
	intentMapper := mapper.New(gateway, mapper.Config{Contracts: 1, TieBreak: "otm"}, logger)

	scheduler := session.NewScheduler(sess, clock)
	pipeline := NewPipeline("SPY", PipelineDeps{
		Scheduler: scheduler,
		Mapper:    intentMapper,
		Lifecycle: lifecycleMgr,
		Orders:    orderMgr,
		Retry:     retryClient,
		Broker:    gateway,
		Marker:    marker,
		Logger:    logger,
	})

	return &harness{pipeline: pipeline, store: store, broker: pb, clock: clock, session: sess}
}

// feedPrices pushes one tick per price, one second apart, starting 30
// minutes into the session.
func (h *harness) feedPrices(ctx context.Context, prices []float64) {
	base := h.session.OpenTime.Add(30 * time.Minute)
	for i, price := range prices {
		h.pipeline.onTick(ctx, models.Tick{
			Ticker:    "SPY",
			Timestamp: base.Add(time.Duration(i) * time.Second),
			Price:     price,
			Volume:    1000,
		})
	}
}

// crossDownTape is nine flat prints, a push up, then a hard drop that flips
// SMA9 below the session VWAP on the final print.
func crossDownTape() []float64 {
	tape := make([]float64, 0, 11)
	for i := 0; i < 9; i++ {
		tape = append(tape, 600)
	}
	return append(tape, 610, 580)
}

func TestPipelineOpensShortPutOnCrossDown(t *testing.T) {
	h := newHarness(t)
	h.feedPrices(context.Background(), crossDownTape())

	pos, err := h.store.GetOpenPosition("SPY")
	require.NoError(t, err)
	require.NotNil(t, pos, "a cross down should open a short put")
	assert.Equal(t, models.OptionPut, pos.OptionType)
	assert.Equal(t, 580.0, pos.Strike, "strike sits at or below the 580 spot")
	assert.Equal(t, models.StatusOpen, pos.Status)
	assert.InDelta(t, 250.0, pos.EntryCredit, 1e-9)

	trades := h.store.Trades()
	require.Len(t, trades, 1)
	assert.Equal(t, models.SellToOpen, trades[0].Action)
}

func TestPipelineTradesThroughCircuitBreakerGateway(t *testing.T) {
	h := buildHarness(t, true)
	h.feedPrices(context.Background(), crossDownTape())

	pos, err := h.store.GetOpenPosition("SPY")
	require.NoError(t, err)
	require.NotNil(t, pos, "the wrapped gateway must still see the tape and serve chains")
	assert.Equal(t, models.OptionPut, pos.OptionType)
	assert.Equal(t, 580.0, pos.Strike)
}

func TestPipelineProfitTargetRoundTrip(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	// Open on the cross, then rally the spot so the short put decays
	// to 40% of the credit.
	h.feedPrices(ctx, append(crossDownTape(), 583))

	open, err := h.store.GetOpenPosition("SPY")
	require.NoError(t, err)
	assert.Nil(t, open, "profit target should have closed the position")

	history, err := h.store.GetHistory()
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, models.ReasonProfitTarget, history[0].ExitReason)
	assert.InDelta(t, 150.0, history[0].RealizedPnL, 1e-9)

	trades := h.store.Trades()
	require.Len(t, trades, 2)
	assert.Equal(t, models.SellToOpen, trades[0].Action)
	assert.Equal(t, models.BuyToClose, trades[1].Action)
	assert.Equal(t, history[0].ID, trades[1].PositionID)
}

func TestPipelineStopLossRoundTrip(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	// Open on the cross, then crash the spot through the strike until the
	// buy-back cost clears double the credit.
	h.feedPrices(ctx, append(crossDownTape(), 574))

	history, err := h.store.GetHistory()
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, models.ReasonStopLoss, history[0].ExitReason)
	assert.Less(t, history[0].RealizedPnL, 0.0)
}

func TestPipelineForcedCloseAtWindowEnd(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.feedPrices(ctx, crossDownTape())
	pos, err := h.store.GetOpenPosition("SPY")
	require.NoError(t, err)
	require.NotNil(t, pos)

	// Clock jumps past the entry window; the poll path must sweep.
	h.clock.Set(h.session.ActiveEndTime.Add(time.Minute))
	h.pipeline.onPoll(ctx)

	open, err := h.store.GetOpenPosition("SPY")
	require.NoError(t, err)
	assert.Nil(t, open)

	history, err := h.store.GetHistory()
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, models.ReasonForcedClose, history[0].ExitReason)

	// A fresh cross in closing-only must not open new risk.
	base := h.session.ActiveEndTime.Add(2 * time.Minute)
	for i, price := range crossDownTape() {
		h.pipeline.onTick(ctx, models.Tick{
			Ticker:    "SPY",
			Timestamp: base.Add(time.Duration(i) * time.Second),
			Price:     price,
			Volume:    1000,
		})
	}
	open, err = h.store.GetOpenPosition("SPY")
	require.NoError(t, err)
	assert.Nil(t, open)
}

func TestPipelineSweepFiresOnceAcrossPolls(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.feedPrices(ctx, crossDownTape())

	h.clock.Set(h.session.ActiveEndTime.Add(time.Minute))
	for i := 0; i < 5; i++ {
		h.pipeline.onPoll(ctx)
	}
	h.clock.Set(h.session.SessionEndTime.Add(time.Minute))
	h.pipeline.onPoll(ctx)

	history, err := h.store.GetHistory()
	require.NoError(t, err)
	require.Len(t, history, 1, "repeated polls must not duplicate the close")
	trades := h.store.Trades()
	require.Len(t, trades, 2)
}

func TestPipelineSweepRetriesAfterStorageOutage(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.feedPrices(ctx, crossDownTape())
	pos, err := h.store.GetOpenPosition("SPY")
	require.NoError(t, err)
	require.NotNil(t, pos)

	// Storage breaks before the entry window ends, so the sweeps on the
	// closing-only and closed transitions both fail to load the position.
	h.store.ReadError = assert.AnError
	h.clock.Set(h.session.ActiveEndTime.Add(time.Minute))
	h.pipeline.onPoll(ctx)
	h.clock.Set(h.session.SessionEndTime.Add(time.Minute))
	h.pipeline.onPoll(ctx)

	// Once storage recovers, later polls must still flatten the position.
	h.store.ReadError = nil
	for i := 0; i < 3; i++ {
		h.pipeline.onPoll(ctx)
	}

	open, err := h.store.GetOpenPosition("SPY")
	require.NoError(t, err)
	assert.Nil(t, open, "a storage outage across the transitions must not orphan the position")

	history, err := h.store.GetHistory()
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, models.ReasonForcedClose, history[0].ExitReason)
}

func TestPipelineCloseDispatchDefersOnStorageError(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.feedPrices(ctx, crossDownTape())
	pos, err := h.store.GetOpenPosition("SPY")
	require.NoError(t, err)
	require.NotNil(t, pos)

	h.pipeline.queue = append(h.pipeline.queue, models.OrderIntent{
		Ticker:       "SPY",
		Action:       models.BuyToClose,
		OptionType:   pos.OptionType,
		OptionSymbol: pos.OptionSymbol,
		Strike:       pos.Strike,
		Expiration:   pos.Expiration,
		Contracts:    pos.Contracts,
		LimitPrice:   pos.CurrentPrice,
		Reason:       models.ReasonForcedClose,
		PositionID:   pos.ID,
	})

	h.store.ReadError = assert.AnError
	h.pipeline.dispatch(ctx)
	require.Len(t, h.pipeline.queue, 1, "a close must survive a failed dispatch-time lookup")

	h.store.ReadError = nil
	h.pipeline.dispatch(ctx)
	open, err := h.store.GetOpenPosition("SPY")
	require.NoError(t, err)
	assert.Nil(t, open)
}

func TestPipelineIgnoresTicksOutsideTradingHours(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	// Same shape as the crossing tape, stamped before the open.
	base := h.session.OpenTime.Add(-time.Hour)
	for i, price := range crossDownTape() {
		h.pipeline.onTick(ctx, models.Tick{
			Ticker:    "SPY",
			Timestamp: base.Add(time.Duration(i) * time.Second),
			Price:     price,
			Volume:    1000,
		})
	}

	pos, err := h.store.GetOpenPosition("SPY")
	require.NoError(t, err)
	assert.Nil(t, pos, "pre-open prints must not produce entries")
}

func TestPipelineDuplicateTimestampIgnored(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.feedPrices(ctx, crossDownTape())
	require.NotNil(t, h.pipeline.prev.SMA9)
	before := *h.pipeline.prev.SMA9

	// Replay the final tick with the same timestamp and a wild price.
	last := h.session.OpenTime.Add(30 * time.Minute).Add(10 * time.Second)
	h.pipeline.onTick(ctx, models.Tick{
		Ticker: "SPY", Timestamp: last, Price: 900, Volume: 1000,
	})
	assert.Equal(t, before, *h.pipeline.prev.SMA9, "duplicate timestamps are no-ops")
}

func TestPipelineStorageOutageBlocksEntriesNotCloses(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	// Break storage before the entry can be recorded.
	h.store.AddError = assert.AnError
	h.feedPrices(ctx, crossDownTape())

	pos, err := h.store.GetOpenPosition("SPY")
	require.NoError(t, err)
	assert.Nil(t, pos, "entries must not proceed once storage is unhealthy")
}

func TestPipelineSingleInflightOrder(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	counter := &countingBroker{inner: h.broker}
	h.pipeline.retry = retry.NewClient(
		orders.NewManager(counter, log.New(io.Discard, "", 0)),
		log.New(io.Discard, "", 0),
	)

	h.pipeline.inflight = &pendingOrder{orderID: "stuck", intent: models.OrderIntent{
		Ticker: "SPY", Action: models.SellToOpen,
	}}
	h.pipeline.queue = append(h.pipeline.queue, models.OrderIntent{
		Ticker: "SPY", Action: models.SellToOpen, Contracts: 1, LimitPrice: 1,
	})

	h.pipeline.dispatch(ctx)
	assert.Equal(t, 0, counter.placed, "nothing dispatches while an order is in flight")
	assert.Len(t, h.pipeline.queue, 1)
}

// countingBroker counts placements without filling them.
type countingBroker struct {
	inner  broker.Broker
	placed int
}

func (c *countingBroker) PlaceOrder(ctx context.Context, req broker.OrderRequest) (*broker.OrderResult, error) {
	c.placed++
	return c.inner.PlaceOrder(ctx, req)
}

func (c *countingBroker) GetOrderStatus(ctx context.Context, orderID string) (*broker.OrderResult, error) {
	return &broker.OrderResult{OrderID: orderID, Status: broker.StatusPending}, nil
}

func (c *countingBroker) GetOptionChain(ctx context.Context, ticker string, exp time.Time) ([]broker.OptionQuote, error) {
	return c.inner.GetOptionChain(ctx, ticker, exp)
}
