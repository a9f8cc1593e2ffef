package dashboard

import (
	"bytes"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cipherbrainstechnologies/Fifty7-sub000/internal/bus"
	"github.com/cipherbrainstechnologies/Fifty7-sub000/internal/config"
	"github.com/cipherbrainstechnologies/Fifty7-sub000/internal/journal"
	"github.com/cipherbrainstechnologies/Fifty7-sub000/internal/metrics"
	"github.com/cipherbrainstechnologies/Fifty7-sub000/internal/models"
	"github.com/cipherbrainstechnologies/Fifty7-sub000/internal/statestore"
	"github.com/cipherbrainstechnologies/Fifty7-sub000/internal/ws"
)

type testEnv struct {
	store *statestore.Store
	jrnl  *journal.Journal
	cfg   *config.Config
	bus   *bus.Bus
}

func newTestServer(t *testing.T, authToken string) (*Server, testEnv) {
	t.Helper()
	dir := t.TempDir()
	discard := log.New(io.Discard, "", 0)
	lr := logrus.New()
	lr.SetOutput(io.Discard)

	store, err := statestore.New(dir, 10, discard)
	require.NoError(t, err)
	jrnl, err := journal.New(filepath.Join(dir, "trades.csv"), discard)
	require.NoError(t, err)
	missed, err := journal.NewMissed(filepath.Join(dir, "missed.csv"), discard)
	require.NoError(t, err)

	cfg := &config.Config{
		Environment: config.EnvironmentConfig{Mode: "paper"},
		Strategy: config.StrategyConfig{
			Symbol: "NIFTY",
			Lots:   2,
			Exit: config.ExitConfig{
				SLPoints: 20, TrailPoints: 20, Book1Points: 40, Book2Points: 80,
				Book1Ratio: 0.5, BEAtR: 1, RRRatio: 2,
			},
		},
		Risk: config.RiskConfig{InitialCapital: 100000, DailyLossLimitPct: 5, MaxPositions: 2, MarginPerLot: 100000},
	}
	require.NoError(t, cfg.Validate())

	evb := bus.New(discard)
	s := NewServer(Config{Addr: ":0", AuthToken: authToken}, Deps{
		Cfg:     cfg,
		CfgMu:   &sync.RWMutex{},
		Store:   store,
		Journal: jrnl,
		Missed:  missed,
		Hub:     ws.NewHub(lr),
		Metrics: metrics.New(),
		Bus:     evb,
		Logger:  lr,
	})
	return s, testEnv{store: store, jrnl: jrnl, cfg: cfg, bus: evb}
}

func getJSON(t *testing.T, ts *httptest.Server, path string, out any) *http.Response {
	t.Helper()
	resp, err := http.Get(ts.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil && resp.StatusCode == http.StatusOK {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp
}

func TestStateEndpoint(t *testing.T) {
	s, env := newTestServer(t, "")
	require.NoError(t, env.store.Update(func(st *statestore.State) {
		st.DailyPnL = -1200
		st.ExecutionArmed = true
		st.ActiveSignal = &models.ActiveSignal{RangeHigh: 24500, RangeLow: 24300}
		st.OpenPositions["ORD1"] = models.NewOpenPosition("ORD1", "NIFTY28OCT2524500CE", "NIFTY",
			24500, models.SideCE, 100, 2, 75, 20, time.Now().Add(24*time.Hour))
	}))
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	var sv StateView
	resp := getJSON(t, ts, "/api/state", &sv)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.InDelta(t, -1200, sv.DailyPnL, 1e-9)
	assert.True(t, sv.ExecutionArmed)
	require.NotNil(t, sv.ActiveSignal)
	assert.Equal(t, 24500.0, sv.ActiveSignal.RangeHigh)
	assert.Equal(t, 1, sv.OpenPositions)
}

func TestStatsFromJournal(t *testing.T) {
	s, env := newTestServer(t, "")
	for i, pnl := range []float64{3000, -1500, 750} {
		id := string(rune('A' + i))
		_, err := env.jrnl.RecordEntry(models.TradeRecord{OrderID: id, Entry: 100, Quantity: 2})
		require.NoError(t, err)
		require.NoError(t, env.jrnl.RecordExit(id, 120, pnl, string(models.ExitTrail)))
	}
	_, err := env.jrnl.RecordEntry(models.TradeRecord{OrderID: "X", Status: models.TradeFailed})
	require.NoError(t, err)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	var stats Statistics
	getJSON(t, ts, "/api/stats", &stats)
	assert.Equal(t, 3, stats.TotalTrades)
	assert.Equal(t, 2, stats.WinningTrades)
	assert.Equal(t, 1, stats.LosingTrades)
	assert.InDelta(t, 2250, stats.TotalPnL, 1e-9)
	assert.InDelta(t, 750, stats.AveragePnL, 1e-9)
	assert.Equal(t, 1, stats.FailedOrders)
}

func TestArmDisarm(t *testing.T) {
	s, env := newTestServer(t, "")
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/api/arm", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, env.store.Get().ExecutionArmed)

	resp, err = http.Post(ts.URL+"/api/disarm", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.False(t, env.store.Get().ExecutionArmed)

	evts := env.bus.Drain()
	require.Len(t, evts, 2, "each toggle announces itself")
	assert.Equal(t, models.EventStateChanged, evts[0].Type)
	assert.Equal(t, map[string]any{"execution_armed": true}, evts[0].Data)
	assert.Equal(t, models.EventStateChanged, evts[1].Type)
	assert.Equal(t, map[string]any{"execution_armed": false}, evts[1].Data)
}

func TestTunableUpdate(t *testing.T) {
	s, env := newTestServer(t, "")
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	body := bytes.NewBufferString(`{"lots": 3, "sl_points": 25}`)
	resp, err := http.Post(ts.URL+"/api/tunables", "application/json", body)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	assert.Equal(t, 3, env.cfg.Strategy.Lots)
	assert.InDelta(t, 25, env.cfg.Strategy.Exit.SLPoints, 1e-9)

	evts := env.bus.Drain()
	require.Len(t, evts, 1)
	assert.Equal(t, models.EventStateChanged, evts[0].Type)
}

func TestTunableUpdateRejected(t *testing.T) {
	s, env := newTestServer(t, "")
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	// book2 below book1 fails validation; nothing changes.
	body := bytes.NewBufferString(`{"book2_points": 10}`)
	resp, err := http.Post(ts.URL+"/api/tunables", "application/json", body)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.InDelta(t, 80, env.cfg.Strategy.Exit.Book2Points, 1e-9)
	assert.Empty(t, env.bus.Drain(), "a rejected update announces nothing")

	// Unknown fields are rejected outright.
	body = bytes.NewBufferString(`{"no_such_knob": 1}`)
	resp, err = http.Post(ts.URL+"/api/tunables", "application/json", body)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAuthToken(t *testing.T) {
	s, _ := newTestServer(t, "sekrit")
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	resp := getJSON(t, ts, "/api/state", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = getJSON(t, ts, "/api/state?token=sekrit", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// Health stays open for probes.
	resp = getJSON(t, ts, "/health", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
