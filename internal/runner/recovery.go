package runner

import (
	"context"
	"time"

	"github.com/cipherbrainstechnologies/Fifty7-sub000/internal/models"
	"github.com/cipherbrainstechnologies/Fifty7-sub000/internal/statestore"
	"github.com/cipherbrainstechnologies/Fifty7-sub000/internal/util"
)

// Recover rebuilds runtime state after a restart: the daily ledger is
// recomputed from the journal (the journal, not the snapshot, is the
// source of truth for closed trades), the armed signal is restored into
// the machine, and every open position is checked against the broker
// before its monitor is respawned. Call before Run.
func (r *Runner) Recover(ctx context.Context) error {
	now := r.deps.Clock()
	today := now.In(util.IST()).Format("2006-01-02")
	st := r.deps.Store.Get()

	r.deps.CfgMu.RLock()
	lossLimit := r.deps.Cfg.MaxDailyLoss()
	armedDefault := r.deps.Cfg.Risk.ExecutionArmed
	r.deps.CfgMu.RUnlock()

	dailyPnL := r.deps.Journal.RealizedPnLOn(now)
	freshState := st.UpdatedAt.IsZero()
	if err := r.deps.Store.Update(func(s *statestore.State) {
		s.DailyDate = today
		s.DailyPnL = dailyPnL
		s.LossBreakerTripped = dailyPnL <= -lossLimit
		if freshState {
			s.ExecutionArmed = armedDefault
		}
	}); err != nil {
		return err
	}
	r.deps.Metrics.DailyPnL.Set(dailyPnL)

	if st.ActiveSignal != nil {
		r.machine.Restore(*st.ActiveSignal)
		r.deps.Logger.Printf("Recovered armed signal: range [%.2f, %.2f]",
			st.ActiveSignal.RangeLow, st.ActiveSignal.RangeHigh)
	}

	if len(st.OpenPositions) == 0 {
		return nil
	}

	// Events logged after the snapshot was written may record closes
	// the snapshot missed. Replay them before touching the broker.
	if closed := r.replayClosedSince(st.UpdatedAt); len(closed) > 0 {
		if err := r.deps.Store.Update(func(s *statestore.State) {
			for _, id := range closed {
				delete(s.OpenPositions, id)
			}
		}); err != nil {
			return err
		}
		st = r.deps.Store.Get()
	}

	// Broker truth per contract; a fetch failure respawns everything
	// and leaves divergence detection to the reconciler.
	held := make(map[string]int)
	brokerKnown := false
	if positions, err := r.deps.Broker.GetPositions(ctx); err == nil {
		brokerKnown = true
		for _, bp := range positions {
			held[bp.TradingSymbol] += bp.NetQuantity
		}
	} else {
		r.deps.Logger.Printf("Recovery: broker positions unavailable, respawning all monitors: %v", err)
	}

	rules := r.snapshotParams().rules
	for _, pos := range st.OpenPositions {
		remaining := pos.RemainingLots * pos.LotSize
		if brokerKnown && held[pos.TradingSymbol] < remaining {
			r.reconcileVanished(pos)
			continue
		}
		if brokerKnown {
			held[pos.TradingSymbol] -= remaining
		}
		r.deps.Logger.Printf("Recovery: respawning monitor for %s (%d lots)",
			pos.TradingSymbol, pos.RemainingLots)
		r.spawnMonitor(ctx, pos, rules)
	}
	r.deps.Metrics.OpenPositions.Set(float64(len(r.deps.Store.Get().OpenPositions)))
	return nil
}

// replayClosedSince scans the event log for position closes newer than
// the restored snapshot and returns their order IDs. Payloads come
// back from JSONL as generic maps.
func (r *Runner) replayClosedSince(snapshotAt time.Time) []string {
	events, err := r.deps.Store.EventsSince(snapshotAt)
	if err != nil {
		r.deps.Logger.Printf("Recovery: event log unreadable, skipping replay: %v", err)
		return nil
	}
	var closed []string
	for _, evt := range events {
		if evt.Type != models.EventPositionClosed {
			continue
		}
		data, ok := evt.Data.(map[string]any)
		if !ok {
			continue
		}
		if id, ok := data["order_id"].(string); ok && id != "" {
			r.deps.Logger.Printf("Recovery: replaying close of %s from event log", id)
			closed = append(closed, id)
		}
	}
	return closed
}

// reconcileVanished closes out a position the broker no longer holds:
// someone flattened it outside the engine.
func (r *Runner) reconcileVanished(pos *models.OpenPosition) {
	r.deps.Logger.Printf("Recovery: %s missing at broker, reconciling to closed", pos.TradingSymbol)
	r.deps.Bus.Publish(models.EventPositionMismatch, map[string]any{
		"order_id":       pos.OrderID,
		"tradingsymbol":  pos.TradingSymbol,
		"remaining_lots": pos.RemainingLots,
	})

	exitPrice := pos.ExitVWAP()
	if ltp, err := r.deps.Broker.GetOptionLTP(pos.TradingSymbol); err == nil {
		exitPrice = ltp
	}
	if err := r.deps.Journal.RecordExit(pos.OrderID, exitPrice, pos.RealizedPnL, string(models.ExitManual)); err != nil {
		r.deps.Logger.Printf("Journaling manual exit %s failed: %v", pos.OrderID, err)
	}
	if err := r.deps.Store.Update(func(s *statestore.State) {
		delete(s.OpenPositions, pos.OrderID)
	}); err != nil {
		r.deps.Logger.Printf("Retiring vanished position %s failed: %v", pos.OrderID, err)
	}
	r.deps.Bus.Publish(models.EventPositionClosed, models.ClosedPosition{
		OrderID:   pos.OrderID,
		ExitPrice: exitPrice,
		TotalPnL:  pos.RealizedPnL,
		Reason:    models.ExitManual,
	})
}
