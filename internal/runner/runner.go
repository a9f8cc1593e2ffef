// Package runner drives the live trading loop: candle alignment,
// signal state, the entry gate pipeline, and per-position exit
// monitors.
package runner

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/cipherbrainstechnologies/Fifty7-sub000/internal/broker"
	"github.com/cipherbrainstechnologies/Fifty7-sub000/internal/bus"
	"github.com/cipherbrainstechnologies/Fifty7-sub000/internal/candles"
	"github.com/cipherbrainstechnologies/Fifty7-sub000/internal/config"
	"github.com/cipherbrainstechnologies/Fifty7-sub000/internal/journal"
	"github.com/cipherbrainstechnologies/Fifty7-sub000/internal/marketdata"
	"github.com/cipherbrainstechnologies/Fifty7-sub000/internal/metrics"
	"github.com/cipherbrainstechnologies/Fifty7-sub000/internal/models"
	"github.com/cipherbrainstechnologies/Fifty7-sub000/internal/pattern"
	"github.com/cipherbrainstechnologies/Fifty7-sub000/internal/statestore"
	"github.com/cipherbrainstechnologies/Fifty7-sub000/internal/util"
)

// NSE cash session, minutes into the IST day.
const (
	sessionOpenMinutes  = 9*60 + 15  // 09:15
	sessionCloseMinutes = 15*60 + 30 // 15:30
)

// entryGraceTimeout bounds how long a fresh entry order is polled for a
// terminal status before the engine proceeds on the order id anyway.
const (
	entryGraceTimeout  = 2 * time.Second
	entryGraceInterval = 500 * time.Millisecond
)

// Deps wires the runner's collaborators. Cfg is shared with the
// dashboard and must be accessed under CfgMu.
type Deps struct {
	Cfg     *config.Config
	CfgMu   *sync.RWMutex
	Broker  broker.Broker
	Feed    marketdata.Provider
	Store   *statestore.Store
	Journal *journal.Journal
	Missed  *journal.MissedJournal
	Bus     *bus.Bus
	Metrics *metrics.Metrics
	Logger  *log.Logger
	// Clock defaults to time.Now; tests pin it.
	Clock func() time.Time
}

// Runner owns the live cycle. One Runner per process; it is the only
// writer of the signal machine and the spawner of position monitors.
type Runner struct {
	deps    Deps
	machine *pattern.Machine

	entryGrace time.Duration
	entryPoll  time.Duration

	monitorWG sync.WaitGroup
	monitorMu sync.Mutex
	monitors  map[string]context.CancelFunc
}

// New creates a runner. Call Recover before Run so restored positions
// get their monitors back.
func New(deps Deps) *Runner {
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	if deps.CfgMu == nil {
		deps.CfgMu = &sync.RWMutex{}
	}
	deps.CfgMu.RLock()
	grace := deps.Cfg.MissedGrace()
	deps.CfgMu.RUnlock()

	return &Runner{
		deps:       deps,
		machine:    pattern.NewMachine(grace, deps.Logger),
		entryGrace: entryGraceTimeout,
		entryPoll:  entryGraceInterval,
		monitors:   make(map[string]context.CancelFunc),
	}
}

// Run executes cycles at the configured interval until ctx is done,
// then waits for every monitor to finish.
func (r *Runner) Run(ctx context.Context) error {
	r.deps.CfgMu.RLock()
	interval := r.deps.Cfg.GetCycleInterval()
	r.deps.CfgMu.RUnlock()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	r.deps.Logger.Printf("Runner started, cycle interval %s", interval)
	for {
		r.runCycle(ctx)
		r.flushEvents()
		select {
		case <-ctx.Done():
			r.deps.Logger.Printf("Runner stopping, waiting for monitors")
			r.monitorWG.Wait()
			r.flushEvents()
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// runCycle is one pass of the live loop. Failures skip the cycle
// instead of crashing: open positions keep their monitors regardless.
func (r *Runner) runCycle(ctx context.Context) {
	now := r.deps.Clock()
	r.deps.Metrics.CyclesTotal.Inc()

	r.rollDailyWindow(now)

	if !inSession(now) {
		return
	}

	r.deps.CfgMu.RLock()
	symbol := r.deps.Cfg.Strategy.Symbol
	minCandles := r.deps.Cfg.Strategy.MinCandles
	lookback := r.deps.Cfg.FetchWindow()
	r.deps.CfgMu.RUnlock()

	raw, err := r.deps.Feed.Fetch1h(ctx, symbol, now.Add(-lookback), now)
	if err != nil {
		r.deps.Logger.Printf("Cycle skipped, fetch failed: %v", err)
		return
	}
	if d, ok := r.deps.Feed.(interface{ Degraded() bool }); ok && d.Degraded() {
		// A degraded feed means the candle picture may be stale. New
		// entries wait for recovery; open positions keep their monitors,
		// which price exits off the broker quote.
		r.deps.Metrics.FeedDegraded.Set(1)
		r.deps.Logger.Printf("Feed degraded, skipping entry scan this cycle")
		return
	}
	r.deps.Metrics.FeedDegraded.Set(0)

	opts := candles.AlignOptions{Now: now, IncludeForming: true, MinCandles: minCandles}
	aligned, err := candles.AlignHourly(raw, opts)
	if errors.Is(err, candles.ErrInsufficientData) {
		// One retry over a doubled window before giving up on the cycle.
		raw, err = r.deps.Feed.Fetch1h(ctx, symbol, now.Add(-2*lookback), now)
		if err != nil {
			r.deps.Logger.Printf("Cycle skipped, expanded fetch failed: %v", err)
			return
		}
		aligned, err = candles.AlignHourly(raw, opts)
	}
	if err != nil {
		r.deps.Logger.Printf("Cycle skipped, alignment failed: %v", err)
		return
	}
	if snap, err := r.deps.Feed.SpotSnapshot(symbol); err == nil {
		aligned = candles.MergeSnapshot(aligned, snap, now)
	}
	complete := candles.CompleteOnly(aligned, now)

	tr := r.machine.Step(complete, now)
	switch tr.Kind {
	case pattern.KindIdle:
		r.persistSignal(nil)
	case pattern.KindArmed:
		r.deps.Metrics.SignalsArmed.Inc()
		sig := tr.Signal
		r.persistSignal(&sig)
	case pattern.KindMissed:
		r.persistSignal(nil)
		r.recordMissed(tr, models.ReasonStaleBreakout, 0)
	case pattern.KindConsumed:
		r.persistSignal(nil)
		r.deps.Metrics.Breakouts.WithLabelValues(string(tr.Breakout.Direction)).Inc()
		r.attemptEntry(ctx, tr, now)
	}
}

// persistSignal mirrors the machine's armed signal into the state tree
// so a restart can re-arm it. Writes only on change to keep snapshot
// churn down.
func (r *Runner) persistSignal(sig *models.ActiveSignal) {
	st := r.deps.Store.Get()
	switch {
	case sig == nil && st.ActiveSignal == nil:
		return
	case sig != nil && st.ActiveSignal != nil && sig.InsideBarTime.Equal(st.ActiveSignal.InsideBarTime):
		return
	}
	if err := r.deps.Store.Update(func(s *statestore.State) { s.ActiveSignal = sig }); err != nil {
		r.deps.Logger.Printf("Persisting signal failed: %v", err)
	}
}

// rollDailyWindow resets the daily PnL ledger on the first cycle of a
// new IST day and prunes fingerprints that have aged past the cooldown.
func (r *Runner) rollDailyWindow(now time.Time) {
	today := now.In(util.IST()).Format("2006-01-02")
	st := r.deps.Store.Get()

	r.deps.CfgMu.RLock()
	cooldown := r.deps.Cfg.Cooldown()
	r.deps.CfgMu.RUnlock()

	stale := make([]string, 0)
	for fp, ts := range st.Fingerprints {
		if now.Sub(ts) > cooldown {
			stale = append(stale, fp)
		}
	}
	if st.DailyDate == today && len(stale) == 0 {
		return
	}

	err := r.deps.Store.Update(func(s *statestore.State) {
		if s.DailyDate != today {
			r.deps.Logger.Printf("New trading day %s: resetting daily PnL (was %.2f)", today, s.DailyPnL)
			s.DailyDate = today
			s.DailyPnL = 0
			s.LossBreakerTripped = false
		}
		for _, fp := range stale {
			delete(s.Fingerprints, fp)
		}
	})
	if err != nil {
		r.deps.Logger.Printf("Daily rollover failed: %v", err)
	}
	r.deps.Metrics.DailyPnL.Set(r.deps.Store.Get().DailyPnL)
}

// flushEvents drains the bus into the persistent event log.
func (r *Runner) flushEvents() {
	if err := r.deps.Store.AppendEvents(r.deps.Bus.Drain()); err != nil {
		r.deps.Logger.Printf("Event log append failed: %v", err)
	}
}

// inSession reports whether now is inside NSE cash market hours on a
// weekday. Exchange holidays are handled upstream: outside a trading
// day the feed simply has no fresh candles.
func inSession(now time.Time) bool {
	lt := now.In(util.IST())
	if lt.Weekday() == time.Saturday || lt.Weekday() == time.Sunday {
		return false
	}
	mins := util.MinutesIntoDay(now)
	return mins >= sessionOpenMinutes && mins < sessionCloseMinutes
}
