package orders

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
	"github.com/eddiefleurent/schrute_scalper/internal/models"
)

// slowFillBroker returns pending until fillAfter polls have happened.
type slowFillBroker struct {
	mu        sync.Mutex
	polls     int
	fillAfter int
}

func (s *slowFillBroker) PlaceOrder(context.Context, broker.OrderRequest) (*broker.OrderResult, error) {
	return &broker.OrderResult{OrderID: "order-1", Status: broker.StatusPending}, nil
}

func (s *slowFillBroker) GetOrderStatus(_ context.Context, orderID string) (*broker.OrderResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.polls++
	if s.polls >= s.fillAfter {
		return &broker.OrderResult{OrderID: orderID, Status: broker.StatusFilled, FillPrice: 2.50}, nil
	}
	return &broker.OrderResult{OrderID: orderID, Status: broker.StatusPending}, nil
}

func (s *slowFillBroker) GetOptionChain(context.Context, string, time.Time) ([]broker.OptionQuote, error) {
	return nil, broker.ErrNoOptionChain
}

func testIntent() models.OrderIntent {
	return models.OrderIntent{
		Ticker:       "SPY",
		Action:       models.SellToOpen,
		OptionType:   models.OptionPut,
		OptionSymbol: "SPY260320P00595000",
		Strike:       595,
		Contracts:    1,
		LimitPrice:   2.50,
		Reason:       models.ReasonCrossEntry,
	}
}

func quietLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func TestPlaceSubmitsLimitOrder(t *testing.T) {
	pb := broker.NewPaperBroker(5.0)
	mgr := NewManager(pb, quietLogger())

	result, err := mgr.Place(context.Background(), testIntent())
	require.NoError(t, err)
	assert.Equal(t, broker.StatusFilled, result.Status)
	assert.Equal(t, 2.50, result.FillPrice)
}

func TestAwaitTerminalPollsUntilFilled(t *testing.T) {
	b := &slowFillBroker{fillAfter: 3}
	mgr := NewManager(b, quietLogger(), Config{
		PollInterval: 5 * time.Millisecond,
		Timeout:      time.Second,
		CallTimeout:  100 * time.Millisecond,
	})

	result, err := mgr.AwaitTerminal(context.Background(), "order-1")
	require.NoError(t, err)
	assert.Equal(t, broker.StatusFilled, result.Status)
	assert.GreaterOrEqual(t, b.polls, 3)
}

func TestAwaitTerminalTimesOut(t *testing.T) {
	b := &slowFillBroker{fillAfter: 1 << 30}
	mgr := NewManager(b, quietLogger(), Config{
		PollInterval: 5 * time.Millisecond,
		Timeout:      30 * time.Millisecond,
		CallTimeout:  100 * time.Millisecond,
	})

	_, err := mgr.AwaitTerminal(context.Background(), "order-1")
	require.Error(t, err)
	assert.ErrorIs(t, err, broker.ErrOrderTimeout)
	assert.True(t, broker.IsTransient(err))
}

func TestCheckOrderSinglePoll(t *testing.T) {
	b := &slowFillBroker{fillAfter: 2}
	mgr := NewManager(b, quietLogger())

	result, err := mgr.CheckOrder(context.Background(), "order-1")
	require.NoError(t, err)
	assert.Equal(t, broker.StatusPending, result.Status)
	assert.Equal(t, 1, b.polls)
}
