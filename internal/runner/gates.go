package runner

import (
	"context"
	"fmt"
	"time"

	"github.com/cipherbrainstechnologies/Fifty7-sub000/internal/broker"
	"github.com/cipherbrainstechnologies/Fifty7-sub000/internal/expiry"
	"github.com/cipherbrainstechnologies/Fifty7-sub000/internal/models"
	"github.com/cipherbrainstechnologies/Fifty7-sub000/internal/pattern"
	"github.com/cipherbrainstechnologies/Fifty7-sub000/internal/risk"
	"github.com/cipherbrainstechnologies/Fifty7-sub000/internal/statestore"
	"github.com/cipherbrainstechnologies/Fifty7-sub000/internal/strikes"
)

// entryParams is the config snapshot one entry attempt works from, so a
// concurrent tunable update cannot change rules mid-pipeline.
type entryParams struct {
	symbol       string
	lots         int
	lotSize      int
	strikeMode   strikes.Mode
	strikeOffset int
	rules        risk.Rules
	cooldown     time.Duration
	maxDailyLoss float64
	maxPositions int
}

func (r *Runner) snapshotParams() entryParams {
	r.deps.CfgMu.RLock()
	defer r.deps.CfgMu.RUnlock()
	c := r.deps.Cfg
	return entryParams{
		symbol:       c.Strategy.Symbol,
		lots:         c.Strategy.Lots,
		lotSize:      c.Strategy.LotSize,
		strikeMode:   strikes.Mode(c.Strategy.Strike.Mode),
		strikeOffset: c.Strategy.Strike.Offset,
		rules: risk.Rules{
			SLPoints:         c.Strategy.Exit.SLPoints,
			TrailPoints:      c.Strategy.Exit.TrailPoints,
			Book1Points:      c.Strategy.Exit.Book1Points,
			Book2Points:      c.Strategy.Exit.Book2Points,
			Book1Ratio:       c.Strategy.Exit.Book1Ratio,
			BEAtR:            c.Strategy.Exit.BEAtR,
			RRRatio:          c.Strategy.Exit.RRRatio,
			HalfBookOnExpiry: c.Strategy.Exit.HalfBookOnExpiry,
		},
		cooldown:     c.Cooldown(),
		maxDailyLoss: c.MaxDailyLoss(),
		maxPositions: c.Risk.MaxPositions,
	}
}

// attemptEntry runs a consumed signal through the gate pipeline in
// fixed order. The first failing gate refuses the trade with its
// reason; a refusal is terminal for this signal.
func (r *Runner) attemptEntry(ctx context.Context, tr pattern.Transition, now time.Time) {
	p := r.snapshotParams()
	sig, bo := tr.Signal, tr.Breakout
	breakoutClose := models.Candle{Time: bo.CandleTime}.CloseTime()

	step := strikes.GridStep(p.symbol)
	strike := strikes.Resolve(bo.Close, bo.Direction, p.strikeMode, p.strikeOffset, step)

	refuse := func(reason string) {
		r.recordRefusal(sig, bo, strike, breakoutClose, reason)
	}

	// Duplicate suppression.
	fp := models.NewFingerprint(bo.Direction, strike, sig.RangeHigh, sig.RangeLow, breakoutClose)
	st := r.deps.Store.Get()
	if seen, ok := st.Fingerprints[fp.String()]; ok && now.Sub(seen) <= p.cooldown {
		refuse(models.ReasonCooldown)
		return
	}

	// Daily loss breaker.
	if st.LossBreakerTripped || st.DailyPnL <= -p.maxDailyLoss {
		r.tripLossBreaker(st)
		refuse(models.ReasonDailyLossLimit)
		return
	}

	// Concurrent position cap.
	if len(st.OpenPositions) >= p.maxPositions {
		refuse(models.ReasonMaxPositions)
		return
	}

	// Expiry resolution and expiry-day blackout.
	expiries, err := r.deps.Broker.GetOptionExpiries(p.symbol)
	if err != nil || len(expiries) == 0 {
		refuse(models.ReasonNoExpiry)
		return
	}
	exp, ok := expiry.NextOnOrAfter(expiries, now)
	if !ok {
		refuse(models.ReasonNoExpiry)
		return
	}
	// Same-day expiries are never entered live: theta and gamma on the
	// last day make fresh longs a different trade.
	if expiry.DaysTo(now, exp) < 1 {
		refuse(models.ReasonExpiryBlackout)
		return
	}

	// Premium quote.
	tradingSymbol := broker.TradingSymbol(p.symbol, exp, strike, bo.Direction)
	ltp, err := r.deps.Broker.GetOptionLTP(tradingSymbol)
	if err != nil || ltp <= 0 {
		refuse(models.ReasonPriceMissing)
		return
	}

	// Margin.
	needed := ltp * float64(p.lots*p.lotSize)
	avail, err := r.deps.Broker.GetAvailableMargin()
	if err != nil || avail < needed {
		refuse(models.ReasonMarginShort)
		return
	}

	// Execution arm switch, last before money moves.
	if !st.ExecutionArmed {
		refuse(models.ReasonNotArmed)
		return
	}

	resp, err := r.deps.Broker.PlaceOrder(ctx, broker.OrderRequest{
		TradingSymbol: tradingSymbol,
		Side:          broker.SideBuy,
		Quantity:      p.lots * p.lotSize,
		Tag:           fp.String(),
	})
	if err != nil {
		r.deps.Logger.Printf("Entry order failed for %s: %v", tradingSymbol, err)
		refuse(models.ReasonOrderRejected)
		return
	}
	resp = r.awaitFill(ctx, resp)
	switch resp.Status {
	case broker.StatusRejected, broker.StatusCancelled:
		if resp.Message != "" {
			r.deps.Logger.Printf("Entry order for %s not filled: %s", tradingSymbol, resp.Message)
		}
		r.journalFailed(tradingSymbol, strike, bo, p, ltp)
		refuse(models.ReasonOrderRejected)
		return
	case broker.StatusComplete:
	default:
		// Still pending past the grace window. Proceed on the returned
		// order id at the quoted premium; reconciliation corrects the
		// projection once the broker reports the fill.
		r.deps.Logger.Printf("Order %s still %s after %s, proceeding at quoted %.2f",
			resp.OrderID, resp.Status, r.entryGrace, ltp)
	}

	entryPrice := resp.AvgPrice
	if entryPrice <= 0 {
		entryPrice = ltp
	}

	pos := models.NewOpenPosition(resp.OrderID, tradingSymbol, p.symbol, strike,
		bo.Direction, entryPrice, p.lots, p.lotSize, p.rules.SLPoints, exp)
	pos.EntryTime = now

	if err := r.deps.Store.Update(func(s *statestore.State) {
		s.OpenPositions[pos.OrderID] = pos
		s.Fingerprints[fp.String()] = now
	}); err != nil {
		r.deps.Logger.Printf("Persisting position %s failed: %v", pos.OrderID, err)
	}

	rec, err := r.deps.Journal.RecordEntry(models.TradeRecord{
		Timestamp:     now,
		Symbol:        p.symbol,
		TradingSymbol: tradingSymbol,
		Strike:        strike,
		Direction:     bo.Direction,
		OrderID:       pos.OrderID,
		Entry:         entryPrice,
		SL:            entryPrice - p.rules.SLPoints,
		TP:            entryPrice + p.rules.SLPoints*p.rules.RRRatio,
		Quantity:      p.lots,
		PreReason:     preReason(sig, bo),
	})
	if err != nil {
		r.deps.Logger.Printf("Journaling entry %s failed: %v", pos.OrderID, err)
	}

	r.deps.Metrics.TradesExecuted.Inc()
	r.deps.Metrics.OpenPositions.Set(float64(len(r.deps.Store.Get().OpenPositions)))
	r.deps.Bus.Publish(models.EventTradeExecuted, rec)
	r.deps.Logger.Printf("Entered %s: %d lots @ %.2f, SL %.2f (order %s)",
		tradingSymbol, p.lots, entryPrice, pos.StopLoss, pos.OrderID)

	r.spawnMonitor(ctx, pos, p.rules)
}

// awaitFill polls a non-terminal entry order through the grace window
// and returns the last known response either way. The caller decides
// what a still-pending order means; the order is never cancelled here.
func (r *Runner) awaitFill(ctx context.Context, resp *broker.OrderResponse) *broker.OrderResponse {
	if resp.Status.Terminal() {
		return resp
	}
	deadline := time.After(r.entryGrace)
	ticker := time.NewTicker(r.entryPoll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return resp
		case <-deadline:
			return resp
		case <-ticker.C:
			polled, err := r.deps.Broker.GetOrderStatus(ctx, resp.OrderID)
			if err != nil {
				r.deps.Logger.Printf("Polling order %s failed: %v", resp.OrderID, err)
				continue
			}
			resp = polled
			if resp.Status.Terminal() {
				return resp
			}
		}
	}
}

func (r *Runner) tripLossBreaker(st statestore.State) {
	if st.LossBreakerTripped {
		return
	}
	if err := r.deps.Store.Update(func(s *statestore.State) { s.LossBreakerTripped = true }); err != nil {
		r.deps.Logger.Printf("Latching loss breaker failed: %v", err)
	}
	r.deps.Bus.Publish(models.EventDailyLossBreached, map[string]any{"daily_pnl": st.DailyPnL})
	r.deps.Logger.Printf("Daily loss limit breached (pnl %.2f): entries halted for the day", st.DailyPnL)
}

func (r *Runner) recordRefusal(sig models.ActiveSignal, bo models.BreakoutEvent,
	strike int, breakoutClose time.Time, reason string) {
	r.deps.Metrics.TradesRefused.WithLabelValues(reason).Inc()
	if err := r.deps.Missed.Record(models.MissedTrade{
		Symbol:       r.symbol(),
		Direction:    bo.Direction,
		Strike:       strike,
		RangeHigh:    sig.RangeHigh,
		RangeLow:     sig.RangeLow,
		BreakoutTime: breakoutClose,
		Reason:       reason,
	}); err != nil {
		r.deps.Logger.Printf("Recording missed trade failed: %v", err)
	}
}

// recordMissed handles machine-level misses (stale breakouts) where no
// strike was ever resolved.
func (r *Runner) recordMissed(tr pattern.Transition, reason string, strike int) {
	r.recordRefusal(tr.Signal, tr.Breakout, strike,
		models.Candle{Time: tr.Breakout.CandleTime}.CloseTime(), reason)
}

func (r *Runner) journalFailed(tradingSymbol string, strike int, bo models.BreakoutEvent,
	p entryParams, ltp float64) {
	if _, err := r.deps.Journal.RecordEntry(models.TradeRecord{
		Symbol:        p.symbol,
		TradingSymbol: tradingSymbol,
		Strike:        strike,
		Direction:     bo.Direction,
		Entry:         ltp,
		Quantity:      p.lots,
		Status:        models.TradeFailed,
		PostOutcome:   models.ReasonOrderRejected,
	}); err != nil {
		r.deps.Logger.Printf("Journaling failed order: %v", err)
	}
}

func (r *Runner) symbol() string {
	r.deps.CfgMu.RLock()
	defer r.deps.CfgMu.RUnlock()
	return r.deps.Cfg.Strategy.Symbol
}

func preReason(sig models.ActiveSignal, bo models.BreakoutEvent) string {
	if bo.Direction == models.SideCE {
		return fmt.Sprintf("hourly close %.2f above range high %.2f", bo.Close, sig.RangeHigh)
	}
	return fmt.Sprintf("hourly close %.2f below range low %.2f", bo.Close, sig.RangeLow)
}
