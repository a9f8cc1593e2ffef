package models

import "time"

// TradeStatus is the journal row status.
type TradeStatus string

const (
	// TradeOpen marks a row whose position is still live.
	TradeOpen TradeStatus = "open"
	// TradeClosed marks a completed round trip.
	TradeClosed TradeStatus = "closed"
	// TradeFailed marks an order the broker rejected.
	TradeFailed TradeStatus = "failed"
)

// TradeRecord is one append-only journal row. Exit updates are keyed by
// OrderID and are idempotent.
type TradeRecord struct {
	ID            string      `json:"id"`
	Timestamp     time.Time   `json:"timestamp"`
	Symbol        string      `json:"symbol"`
	TradingSymbol string      `json:"tradingsymbol"`
	Strike        int         `json:"strike"`
	Direction     Side        `json:"direction"`
	OrderID       string      `json:"order_id"`
	Entry         float64     `json:"entry"`
	SL            float64     `json:"sl"`
	TP            float64     `json:"tp"`
	Exit          float64     `json:"exit"`
	PnL           float64     `json:"pnl"`
	Status        TradeStatus `json:"status"`
	PreReason     string      `json:"pre_reason"`
	PostOutcome   string      `json:"post_outcome"`
	Quantity      int         `json:"quantity"` // lots
}

// MissedTrade records a signal that was seen but not traded, with the
// gate or aging reason. The dashboard surfaces these.
type MissedTrade struct {
	ID           string    `json:"id"`
	Timestamp    time.Time `json:"timestamp"`
	Symbol       string    `json:"symbol"`
	Direction    Side      `json:"direction"`
	Strike       int       `json:"strike"`
	RangeHigh    float64   `json:"range_high"`
	RangeLow     float64   `json:"range_low"`
	BreakoutTime time.Time `json:"breakout_time"`
	Reason       string    `json:"reason"`
}

// Refusal reasons recorded on missed trades. Gate checks in the runner
// produce exactly one of these per refused signal.
const (
	ReasonCooldown       = "cooldown"
	ReasonDailyLossLimit = "daily_loss_limit"
	ReasonMaxPositions   = "max_positions"
	ReasonExpiryBlackout = "expiry_blackout"
	ReasonNoExpiry       = "no_valid_expiry"
	ReasonPriceMissing   = "price_unavailable"
	ReasonMarginShort    = "margin_short"
	ReasonNotArmed       = "execution_not_armed"
	ReasonStaleBreakout  = "stale_breakout"
	ReasonOrderRejected  = "order_rejected"
)
