package models

import "time"

// EventType enumerates events published on the engine bus.
type EventType string

const (
	// EventTradeExecuted fires when an entry order is accepted.
	EventTradeExecuted EventType = "trade_executed"
	// EventPositionClosed fires when a monitor flattens its position.
	EventPositionClosed EventType = "position_closed"
	// EventPositionMismatch fires when reconciliation finds a divergence
	// between broker and engine positions.
	EventPositionMismatch EventType = "position_mismatch_detected"
	// EventReconciliationOK fires when a reconciliation pass finds
	// broker and engine in agreement.
	EventReconciliationOK EventType = "position_reconciliation_success"
	// EventDailyLossBreached fires when the daily loss breaker trips.
	EventDailyLossBreached EventType = "daily_loss_breached"
	// EventStateChanged fires on operator-driven mutations: the arm
	// switch and tunable updates.
	EventStateChanged EventType = "state_changed"
	// EventStateStale fires when a state path has not been refreshed
	// within its expected cadence.
	EventStateStale EventType = "state_stale"
)

// Event is the envelope delivered to bus subscribers, in publish order
// per subscriber.
type Event struct {
	Type      EventType   `json:"type"`
	Data      interface{} `json:"data"`
	Timestamp time.Time   `json:"timestamp"`
}
