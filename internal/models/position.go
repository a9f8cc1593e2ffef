package models

import (
	"fmt"
	"time"
)

// ExitReason describes why a position (or part of one) was flattened.
type ExitReason string

const (
	// ExitSLHit means the initial stop was hit without the stop ever moving.
	ExitSLHit ExitReason = "SL_HIT"
	// ExitTrail means a raised (trailed or breakeven-locked) stop was hit.
	ExitTrail ExitReason = "TRAIL_EXIT"
	// ExitBook1 is the tier-1 partial profit booking.
	ExitBook1 ExitReason = "BOOK1"
	// ExitBook2 is the tier-2 residual profit booking.
	ExitBook2 ExitReason = "BOOK2"
	// ExitExpiryHalf is the optional 13:00 expiry-day half booking.
	ExitExpiryHalf ExitReason = "EXPIRY_HALF_BOOK"
	// ExitExpiryForce is the mandatory expiry-day close near market close.
	ExitExpiryForce ExitReason = "EXPIRY_FORCE_EXIT"
	// ExitTime is the legacy backtest time exit on the contract's last bar.
	ExitTime ExitReason = "TIME_EXIT"
	// ExitManual means the position disappeared from the broker outside
	// the engine's control and was reconciled to closed.
	ExitManual ExitReason = "manual_exit"
)

// OpenPosition is a long option position owned by exactly one position
// monitor. The monitor is the sole writer; everything else sees copies.
//
// Invariants: 0 <= RemainingLots <= TotalLots, Closed iff RemainingLots
// == 0, and StopLoss never decreases after open.
type OpenPosition struct {
	OrderID       string    `json:"order_id"`
	TradingSymbol string    `json:"tradingsymbol"`
	Symbol        string    `json:"symbol"`
	Strike        int       `json:"strike"`
	Side          Side      `json:"side"`
	EntryPrice    float64   `json:"entry_price"`
	TotalLots     int       `json:"total_lots"`
	RemainingLots int       `json:"remaining_lots"`
	LotSize       int       `json:"lot_size"`
	StopLoss      float64   `json:"stop_loss"`
	TrailAnchor   float64   `json:"trail_anchor"`
	Book1Done     bool      `json:"book1_done"`
	Book2Done     bool      `json:"book2_done"`
	BELocked      bool      `json:"be_locked"`
	Closed        bool      `json:"closed"`
	Expiry        time.Time `json:"expiry"`
	EntryTime     time.Time `json:"entry_time"`

	// RealizedPnL accumulates booked profit from partial exits, in
	// rupees (premium points x lots x lot size).
	RealizedPnL float64 `json:"realized_pnl"`
	// exitNotional accumulates fill price x units for VWAP exit pricing.
	ExitNotional float64 `json:"exit_notional"`
	ExitedUnits  int     `json:"exited_units"`
}

// NewOpenPosition initializes monitor state for a freshly filled entry.
func NewOpenPosition(orderID, tradingSymbol, symbol string, strike int, side Side,
	entry float64, lots, lotSize int, slPoints float64, expiry time.Time) *OpenPosition {
	return &OpenPosition{
		OrderID:       orderID,
		TradingSymbol: tradingSymbol,
		Symbol:        symbol,
		Strike:        strike,
		Side:          side,
		EntryPrice:    entry,
		TotalLots:     lots,
		RemainingLots: lots,
		LotSize:       lotSize,
		StopLoss:      entry - slPoints,
		TrailAnchor:   entry,
		Expiry:        expiry,
		EntryTime:     time.Now().UTC(),
	}
}

// RecordFill applies a SELL fill of qty lots at price, updating realized
// PnL and the VWAP bookkeeping. Caller decides the booking flags.
func (p *OpenPosition) RecordFill(qty int, price float64) {
	units := qty * p.LotSize
	p.RealizedPnL += (price - p.EntryPrice) * float64(units)
	p.ExitNotional += price * float64(units)
	p.ExitedUnits += units
	p.RemainingLots -= qty
	if p.RemainingLots == 0 {
		p.Closed = true
	}
}

// ExitVWAP returns the volume-weighted average exit price across all
// booking fills, or zero if nothing has been sold.
func (p *OpenPosition) ExitVWAP() float64 {
	if p.ExitedUnits == 0 {
		return 0
	}
	return p.ExitNotional / float64(p.ExitedUnits)
}

// Validate enforces the position invariants. A violation is fatal for
// the owning monitor.
func (p *OpenPosition) Validate() error {
	if p.RemainingLots < 0 || p.RemainingLots > p.TotalLots {
		return fmt.Errorf("position %s: remaining lots %d outside [0,%d]", p.OrderID, p.RemainingLots, p.TotalLots)
	}
	if p.Closed != (p.RemainingLots == 0) {
		return fmt.Errorf("position %s: closed=%t inconsistent with remaining=%d", p.OrderID, p.Closed, p.RemainingLots)
	}
	if p.EntryPrice <= 0 {
		return fmt.Errorf("position %s: non-positive entry price %.2f", p.OrderID, p.EntryPrice)
	}
	if p.LotSize <= 0 {
		return fmt.Errorf("position %s: non-positive lot size %d", p.OrderID, p.LotSize)
	}
	return nil
}

// ClosedPosition is the payload of a position_closed event.
type ClosedPosition struct {
	OrderID   string     `json:"order_id"`
	ExitPrice float64    `json:"exit_price"`
	TotalPnL  float64    `json:"total_pnl"`
	Reason    ExitReason `json:"reason"`
}
