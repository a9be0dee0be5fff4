package dashboard

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eddiefleurent/schrute_scalper/internal/models"
	"github.com/eddiefleurent/schrute_scalper/internal/session"
	"github.com/eddiefleurent/schrute_scalper/internal/storage"
)

type frozenClock struct{ now time.Time }

func (c frozenClock) Now() time.Time { return c.now }

func newTestServer(t *testing.T) (*Server, *storage.MockStorage) {
	t.Helper()

	day := time.Date(2026, 3, 20, 0, 0, 0, 0, time.UTC)
	sess := models.TradingSession{
		Date:           day,
		OpenTime:       day.Add(14*time.Hour + 30*time.Minute),
		ActiveEndTime:  day.Add(20*time.Hour + 30*time.Minute),
		SessionEndTime: day.Add(21 * time.Hour),
	}
	clock := frozenClock{now: sess.OpenTime.Add(time.Hour)}

	log := logrus.New()
	log.SetOutput(io.Discard)

	store := storage.NewMockStorage()
	return New(0, store, sess, clock, log), store
}

func get(t *testing.T, srv *Server, path string) (int, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return rec.Code, body
}

func TestHealthz(t *testing.T) {
	srv, _ := newTestServer(t)
	code, body := get(t, srv, "/healthz")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body["status"])
}

func TestPositionsEndpoint(t *testing.T) {
	srv, store := newTestServer(t)

	entry := time.Date(2026, 3, 20, 15, 0, 0, 0, time.UTC)
	expiry := time.Date(2026, 3, 20, 0, 0, 0, 0, time.UTC)
	pos := models.NewPosition("pos-1", "SPY", models.OptionPut,
		"SPY260320P00580000", 580, expiry, 1, 2.50, entry)
	require.NoError(t, store.AddPosition(pos))

	code, body := get(t, srv, "/api/positions")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(1), body["count"])
}

func TestSessionEndpointDerivesState(t *testing.T) {
	srv, _ := newTestServer(t)

	code, body := get(t, srv, "/api/session")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, string(session.StateActive), body["state"])
	assert.NotEmpty(t, body["description"])
}

func TestStatsEndpoint(t *testing.T) {
	srv, store := newTestServer(t)

	entry := time.Date(2026, 3, 20, 15, 0, 0, 0, time.UTC)
	expiry := time.Date(2026, 3, 20, 0, 0, 0, 0, time.UTC)
	pos := models.NewPosition("pos-1", "SPY", models.OptionPut,
		"SPY260320P00580000", 580, expiry, 1, 2.50, entry)
	require.NoError(t, store.AddPosition(pos))
	require.NoError(t, store.ClosePosition("pos-1", 125.0,
		models.ReasonProfitTarget, entry.Add(time.Hour)))

	code, body := get(t, srv, "/api/stats")
	assert.Equal(t, http.StatusOK, code)
	stats := body["statistics"].(map[string]any)
	assert.Equal(t, float64(1), stats["total_positions"])
	assert.Equal(t, float64(125), stats["total_pnl"])
}

func TestTradesEndpoint(t *testing.T) {
	srv, store := newTestServer(t)
	require.NoError(t, store.AppendTrade(models.Trade{
		ID: "trade-1", PositionID: "pos-1", Action: models.SellToOpen,
		Contracts: 1, Price: 2.50, Timestamp: time.Now(),
	}))

	code, body := get(t, srv, "/api/trades/pos-1")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "pos-1", body["position_id"])
	assert.Len(t, body["trades"], 1)
}
