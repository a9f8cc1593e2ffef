// Package broker defines the brokerage contract the engine trades
// through, a paper adapter for simulated fills, and a circuit breaker
// wrapper that protects the live loop from a flapping API.
package broker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cipherbrainstechnologies/Fifty7-sub000/internal/expiry"
	"github.com/cipherbrainstechnologies/Fifty7-sub000/internal/models"
)

// OrderSide is the transaction direction.
type OrderSide string

const (
	// SideBuy opens or adds to a long option position.
	SideBuy OrderSide = "BUY"
	// SideSell flattens part or all of a long option position.
	SideSell OrderSide = "SELL"
)

// OrderStatus is the broker-reported order state.
type OrderStatus string

const (
	// StatusComplete means fully filled.
	StatusComplete OrderStatus = "COMPLETE"
	// StatusOpen means accepted and resting.
	StatusOpen OrderStatus = "OPEN"
	// StatusPending means received but not yet accepted.
	StatusPending OrderStatus = "PENDING"
	// StatusRejected means refused by the broker or exchange.
	StatusRejected OrderStatus = "REJECTED"
	// StatusCancelled means withdrawn before filling.
	StatusCancelled OrderStatus = "CANCELLED"
)

// Terminal reports whether the status can no longer change.
func (s OrderStatus) Terminal() bool {
	return s == StatusComplete || s == StatusRejected || s == StatusCancelled
}

// OrderRequest is a market order for an option contract. Quantity is in
// units (lots x lot size); the exchange rejects quantities that are not
// a lot multiple.
type OrderRequest struct {
	TradingSymbol string
	Side          OrderSide
	Quantity      int
	Tag           string
}

// OrderResponse reports placement or status-poll results.
type OrderResponse struct {
	OrderID        string
	Status         OrderStatus
	AvgPrice       float64
	FilledQuantity int
	Message        string
}

// Position is one row of the broker's net position book.
type Position struct {
	TradingSymbol string
	NetQuantity   int // units, positive long
	AvgPrice      float64
}

// Sentinel errors surfaced by adapters.
var (
	// ErrPriceUnavailable means the quote feed has no LTP for the contract.
	ErrPriceUnavailable = errors.New("broker: price unavailable")
	// ErrUnknownOrder means the order ID is not known to the broker.
	ErrUnknownOrder = errors.New("broker: unknown order")
	// ErrMarginShort means available margin cannot cover the order.
	ErrMarginShort = errors.New("broker: insufficient margin")
)

// Broker is the brokerage surface the engine depends on. Implementations
// must be safe for concurrent use: the runner, the position monitors and
// the reconciler all call in from their own goroutines.
type Broker interface {
	// PlaceOrder submits a market order and returns its ID. A returned
	// response may already be terminal for synchronous adapters.
	PlaceOrder(ctx context.Context, req OrderRequest) (*OrderResponse, error)
	// GetOrderStatus polls a previously placed order.
	GetOrderStatus(ctx context.Context, orderID string) (*OrderResponse, error)
	// CancelOrder withdraws a resting order. Cancelling a terminal order
	// is an error.
	CancelOrder(ctx context.Context, orderID string) error
	// GetPositions returns the current net position book.
	GetPositions(ctx context.Context) ([]Position, error)

	// GetOptionLTP returns the last traded premium for a contract.
	GetOptionLTP(tradingSymbol string) (float64, error)
	// GetAvailableMargin returns free margin in rupees.
	GetAvailableMargin() (float64, error)
	// GetOptionExpiries lists the tradeable expiry dates for a symbol,
	// soonest first.
	GetOptionExpiries(symbol string) ([]time.Time, error)
}

// TradingSymbol builds the exchange contract token, e.g.
// NIFTY28OCT2524500CE.
func TradingSymbol(symbol string, exp time.Time, strike int, side models.Side) string {
	return fmt.Sprintf("%s%s%d%s", symbol, expiry.Format(exp), strike, side)
}
