package runner

import (
	"context"
	"time"

	"github.com/cipherbrainstechnologies/Fifty7-sub000/internal/broker"
	"github.com/cipherbrainstechnologies/Fifty7-sub000/internal/models"
	"github.com/cipherbrainstechnologies/Fifty7-sub000/internal/risk"
	"github.com/cipherbrainstechnologies/Fifty7-sub000/internal/statestore"
)

// spawnMonitor starts the goroutine that owns pos until it is flat.
// The rules snapshot is frozen here: tunable updates never touch a
// running position.
func (r *Runner) spawnMonitor(ctx context.Context, pos *models.OpenPosition, rules risk.Rules) {
	mctx, cancel := context.WithCancel(ctx)
	r.monitorMu.Lock()
	r.monitors[pos.OrderID] = cancel
	r.monitorMu.Unlock()

	r.deps.CfgMu.RLock()
	interval := r.deps.Cfg.GetMonitorInterval()
	r.deps.CfgMu.RUnlock()

	m := &monitor{
		deps:     r.deps,
		pos:      pos,
		eval:     risk.NewEvaluator(rules),
		interval: interval,
	}
	r.monitorWG.Add(1)
	go func() {
		defer r.monitorWG.Done()
		defer func() {
			r.monitorMu.Lock()
			delete(r.monitors, pos.OrderID)
			r.monitorMu.Unlock()
			cancel()
		}()
		m.run(mctx)
	}()
}

// StopMonitor cancels the monitor owning orderID, if any. Used by the
// reconciler when the broker no longer holds the position.
func (r *Runner) StopMonitor(orderID string) {
	r.monitorMu.Lock()
	cancel, ok := r.monitors[orderID]
	r.monitorMu.Unlock()
	if ok {
		cancel()
	}
}

// monitor owns exactly one open position. It is the position's single
// writer; everyone else reads copies out of the state store.
type monitor struct {
	deps     Deps
	pos      *models.OpenPosition
	eval     *risk.Evaluator
	interval time.Duration
}

func (m *monitor) run(ctx context.Context) {
	m.deps.Logger.Printf("Monitor started for %s (%d lots, stop %.2f)",
		m.pos.TradingSymbol, m.pos.TotalLots, m.pos.StopLoss)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.deps.Logger.Printf("Monitor for %s stopping with %d lots open",
				m.pos.TradingSymbol, m.pos.RemainingLots)
			return
		case <-ticker.C:
			if done := m.tick(ctx); done {
				return
			}
		}
	}
}

// tick evaluates one monitor pass. Returns true once the position is
// flat and fully journaled.
func (m *monitor) tick(ctx context.Context) bool {
	now := m.deps.Clock()

	ltp, err := m.deps.Broker.GetOptionLTP(m.pos.TradingSymbol)
	if err != nil {
		m.deps.Logger.Printf("Monitor %s: no quote, skipping tick: %v", m.pos.TradingSymbol, err)
		return false
	}

	prevStop, prevAnchor := m.pos.StopLoss, m.pos.TrailAnchor
	intents := m.eval.Tick(m.pos, ltp, now)

	var lastReason models.ExitReason
	filled := false
	for _, intent := range intents {
		if !m.execute(ctx, intent) {
			break // SELL failed: remaining lots untouched, retried next tick
		}
		filled = true
		lastReason = intent.Reason
	}

	if err := m.pos.Validate(); err != nil {
		m.deps.Logger.Printf("Monitor %s: invariant violation, halting monitor: %v", m.pos.TradingSymbol, err)
		return true
	}

	dirty := filled || m.pos.StopLoss != prevStop || m.pos.TrailAnchor != prevAnchor
	if dirty && !m.pos.Closed {
		m.persistPosition()
	}

	if m.pos.Closed {
		m.finalize(lastReason)
		return true
	}
	return false
}

// execute places one SELL intent. The position is only mutated after
// the broker confirms the fill; PnL is booked at the rule price (stop
// level for stops, tick price for bookings).
func (m *monitor) execute(ctx context.Context, intent risk.Intent) bool {
	units := intent.Qty * m.pos.LotSize
	resp, err := m.deps.Broker.PlaceOrder(ctx, broker.OrderRequest{
		TradingSymbol: m.pos.TradingSymbol,
		Side:          broker.SideSell,
		Quantity:      units,
		Tag:           string(intent.Reason),
	})
	if err != nil {
		m.deps.Logger.Printf("Monitor %s: SELL %d units failed: %v", m.pos.TradingSymbol, units, err)
		return false
	}
	if resp.Status != broker.StatusComplete {
		m.deps.Logger.Printf("Monitor %s: SELL %d units not filled (%s): %s",
			m.pos.TradingSymbol, units, resp.Status, resp.Message)
		return false
	}

	m.pos.RecordFill(intent.Qty, intent.Price)
	switch intent.Reason {
	case models.ExitBook1:
		m.pos.Book1Done = true
	case models.ExitBook2:
		m.pos.Book2Done = true
	case models.ExitExpiryHalf:
		m.eval.MarkHalfBooked()
	}
	m.deps.Metrics.ExitsTotal.WithLabelValues(string(intent.Reason)).Inc()
	m.deps.Logger.Printf("Monitor %s: %s %d lots @ %.2f (remaining %d)",
		m.pos.TradingSymbol, intent.Reason, intent.Qty, intent.Price, m.pos.RemainingLots)

	m.bookPnL((intent.Price - m.pos.EntryPrice) * float64(intent.Qty*m.pos.LotSize))
	return true
}

// bookPnL accrues realized PnL into the daily ledger and trips the loss
// breaker if the day's total breaches the limit.
func (m *monitor) bookPnL(delta float64) {
	m.deps.CfgMu.RLock()
	limit := m.deps.Cfg.MaxDailyLoss()
	m.deps.CfgMu.RUnlock()

	var tripped bool
	var daily float64
	if err := m.deps.Store.Update(func(s *statestore.State) {
		s.DailyPnL += delta
		daily = s.DailyPnL
		if s.DailyPnL <= -limit && !s.LossBreakerTripped {
			s.LossBreakerTripped = true
			tripped = true
		}
	}); err != nil {
		m.deps.Logger.Printf("Booking PnL failed: %v", err)
	}
	m.deps.Metrics.DailyPnL.Set(daily)
	if tripped {
		m.deps.Bus.Publish(models.EventDailyLossBreached, map[string]any{"daily_pnl": daily})
		m.deps.Logger.Printf("Daily loss limit breached (pnl %.2f): entries halted for the day", daily)
	}
}

func (m *monitor) persistPosition() {
	cp := *m.pos
	if err := m.deps.Store.Update(func(s *statestore.State) {
		s.OpenPositions[cp.OrderID] = &cp
	}); err != nil {
		m.deps.Logger.Printf("Persisting position %s failed: %v", cp.OrderID, err)
	}
}

// finalize journals the completed round trip and retires the position.
func (m *monitor) finalize(reason models.ExitReason) {
	exitVWAP := m.pos.ExitVWAP()
	if err := m.deps.Journal.RecordExit(m.pos.OrderID, exitVWAP, m.pos.RealizedPnL, string(reason)); err != nil {
		m.deps.Logger.Printf("Journaling exit %s failed: %v", m.pos.OrderID, err)
	}
	if err := m.deps.Store.Update(func(s *statestore.State) {
		delete(s.OpenPositions, m.pos.OrderID)
	}); err != nil {
		m.deps.Logger.Printf("Retiring position %s failed: %v", m.pos.OrderID, err)
	}
	m.deps.Metrics.OpenPositions.Set(float64(len(m.deps.Store.Get().OpenPositions)))
	m.deps.Bus.Publish(models.EventPositionClosed, models.ClosedPosition{
		OrderID:   m.pos.OrderID,
		ExitPrice: exitVWAP,
		TotalPnL:  m.pos.RealizedPnL,
		Reason:    reason,
	})
	m.deps.Logger.Printf("Position %s closed: exit VWAP %.2f, pnl %.2f (%s)",
		m.pos.TradingSymbol, exitVWAP, m.pos.RealizedPnL, reason)
}
