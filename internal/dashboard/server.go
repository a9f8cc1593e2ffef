// Package dashboard exposes the engine's runtime state over HTTP: a
// JSON API for positions, trades and tunables, a websocket event
// stream, and Prometheus metrics.
package dashboard

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"github.com/cipherbrainstechnologies/Fifty7-sub000/internal/bus"
	"github.com/cipherbrainstechnologies/Fifty7-sub000/internal/config"
	"github.com/cipherbrainstechnologies/Fifty7-sub000/internal/journal"
	"github.com/cipherbrainstechnologies/Fifty7-sub000/internal/metrics"
	"github.com/cipherbrainstechnologies/Fifty7-sub000/internal/models"
	"github.com/cipherbrainstechnologies/Fifty7-sub000/internal/statestore"
	"github.com/cipherbrainstechnologies/Fifty7-sub000/internal/ws"
)

// Server is the dashboard HTTP server. It reads engine state through
// the store and journals and writes only through the config mutex and
// the execution-arm switch.
type Server struct {
	router    *chi.Mux
	server    *http.Server
	cfg       *config.Config
	cfgMu     *sync.RWMutex
	store     *statestore.Store
	jrnl      *journal.Journal
	missed    *journal.MissedJournal
	hub       *ws.Hub
	metrics   *metrics.Metrics
	bus       *bus.Bus
	logger    *logrus.Logger
	addr      string
	authToken string
}

// Config holds the listener settings.
type Config struct {
	Addr      string
	AuthToken string
}

// Deps wires the server's collaborators.
type Deps struct {
	Cfg     *config.Config
	CfgMu   *sync.RWMutex
	Store   *statestore.Store
	Journal *journal.Journal
	Missed  *journal.MissedJournal
	Hub     *ws.Hub
	Metrics *metrics.Metrics
	Bus     *bus.Bus
	Logger  *logrus.Logger
}

// StateView is the /api/state payload.
type StateView struct {
	UpdatedAt      time.Time            `json:"updated_at"`
	DailyDate      string               `json:"daily_date"`
	DailyPnL       float64              `json:"daily_pnl"`
	BreakerTripped bool                 `json:"loss_breaker_tripped"`
	ExecutionArmed bool                 `json:"execution_armed"`
	ActiveSignal   *models.ActiveSignal `json:"active_signal,omitempty"`
	OpenPositions  int                  `json:"open_positions"`
	WSClients      int                  `json:"ws_clients"`
}

// Statistics summarizes the journal for /api/stats.
type Statistics struct {
	TotalTrades   int     `json:"total_trades"`
	WinningTrades int     `json:"winning_trades"`
	LosingTrades  int     `json:"losing_trades"`
	WinRate       float64 `json:"win_rate"`
	TotalPnL      float64 `json:"total_pnl"`
	AveragePnL    float64 `json:"average_pnl"`
	CurrentOpen   int     `json:"current_open"`
	FailedOrders  int     `json:"failed_orders"`
}

// NewServer builds the router. Call Start to listen.
func NewServer(cfg Config, deps Deps) *Server {
	s := &Server{
		router:    chi.NewRouter(),
		cfg:       deps.Cfg,
		cfgMu:     deps.CfgMu,
		store:     deps.Store,
		jrnl:      deps.Journal,
		missed:    deps.Missed,
		hub:       deps.Hub,
		metrics:   deps.Metrics,
		bus:       deps.Bus,
		logger:    deps.Logger,
		addr:      cfg.Addr,
		authToken: cfg.AuthToken,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(60 * time.Second))

	if s.authToken != "" {
		s.router.Use(s.authMiddleware)
	}

	s.router.Get("/health", s.handleHealth)
	s.router.Handle("/metrics", s.metrics.Handler())
	s.router.Handle("/ws", s.hub)

	s.router.Get("/api/state", s.handleGetState)
	s.router.Get("/api/positions", s.handleGetPositions)
	s.router.Get("/api/trades", s.handleGetTrades)
	s.router.Get("/api/missed", s.handleGetMissed)
	s.router.Get("/api/stats", s.handleGetStats)

	s.router.Get("/api/tunables", s.handleGetTunables)
	s.router.Post("/api/tunables", s.handleUpdateTunables)
	s.router.Post("/api/arm", s.handleArm(true))
	s.router.Post("/api/disarm", s.handleArm(false))
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		token := r.Header.Get("X-Auth-Token")
		if token == "" {
			token = r.URL.Query().Get("token")
		}
		if token != s.authToken {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Start listens until the server is shut down.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:              s.addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Infof("Starting dashboard server on %s", s.addr)
	return s.server.ListenAndServe()
}

// Shutdown stops the listener gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, map[string]any{
		"status":    "healthy",
		"timestamp": time.Now().Unix(),
	})
}

func (s *Server) handleGetState(w http.ResponseWriter, _ *http.Request) {
	st := s.store.Get()
	s.writeJSON(w, StateView{
		UpdatedAt:      st.UpdatedAt,
		DailyDate:      st.DailyDate,
		DailyPnL:       st.DailyPnL,
		BreakerTripped: st.LossBreakerTripped,
		ExecutionArmed: st.ExecutionArmed,
		ActiveSignal:   st.ActiveSignal,
		OpenPositions:  len(st.OpenPositions),
		WSClients:      s.hub.ClientCount(),
	})
}

func (s *Server) handleGetPositions(w http.ResponseWriter, _ *http.Request) {
	st := s.store.Get()
	out := make([]*models.OpenPosition, 0, len(st.OpenPositions))
	for _, pos := range st.OpenPositions {
		out = append(out, pos)
	}
	s.writeJSON(w, out)
}

func (s *Server) handleGetTrades(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, s.jrnl.All())
}

func (s *Server) handleGetMissed(w http.ResponseWriter, _ *http.Request) {
	rows, err := s.missed.All()
	if err != nil {
		s.logger.WithError(err).Error("Failed to read missed trades")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, rows)
}

func (s *Server) handleGetStats(w http.ResponseWriter, _ *http.Request) {
	stats := Statistics{CurrentOpen: len(s.store.Get().OpenPositions)}
	for _, rec := range s.jrnl.All() {
		switch rec.Status {
		case models.TradeFailed:
			stats.FailedOrders++
		case models.TradeClosed:
			stats.TotalTrades++
			stats.TotalPnL += rec.PnL
			if rec.PnL > 0 {
				stats.WinningTrades++
			} else {
				stats.LosingTrades++
			}
		}
	}
	if stats.TotalTrades > 0 {
		stats.WinRate = float64(stats.WinningTrades) / float64(stats.TotalTrades) * 100
		stats.AveragePnL = stats.TotalPnL / float64(stats.TotalTrades)
	}
	s.writeJSON(w, stats)
}

func (s *Server) handleGetTunables(w http.ResponseWriter, _ *http.Request) {
	s.cfgMu.RLock()
	snap := s.cfg.Snapshot()
	s.cfgMu.RUnlock()
	s.writeJSON(w, snap)
}

// handleUpdateTunables applies a partial parameter update. The change
// affects new positions only; running monitors keep their frozen rules.
func (s *Server) handleUpdateTunables(w http.ResponseWriter, r *http.Request) {
	var t config.Tunables
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&t); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.cfgMu.Lock()
	err := s.cfg.ApplyTunables(t)
	var snap map[string]any
	if err == nil {
		snap = s.cfg.Snapshot()
	}
	s.cfgMu.Unlock()

	if err != nil {
		s.logger.WithError(err).Warn("Tunable update rejected")
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}
	s.logger.WithField("tunables", snap).Info("Tunables updated")
	s.publishStateChanged(map[string]any{"tunables": snap})
	s.writeJSON(w, snap)
}

// handleArm toggles the execution switch. Disarming stops new entries
// only; open positions and their exits are unaffected.
func (s *Server) handleArm(armed bool) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		if err := s.store.Update(func(st *statestore.State) { st.ExecutionArmed = armed }); err != nil {
			s.logger.WithError(err).Error("Failed to toggle execution arm")
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}
		s.logger.WithField("armed", armed).Info("Execution switch toggled")
		s.publishStateChanged(map[string]any{"execution_armed": armed})
		s.writeJSON(w, map[string]bool{"execution_armed": armed})
	}
}

// publishStateChanged announces an operator-driven mutation on the
// event bus. A nil bus (some tests) is a no-op.
func (s *Server) publishStateChanged(data map[string]any) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(models.EventStateChanged, data)
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.WithError(err).Error("Failed to encode response")
	}
}
