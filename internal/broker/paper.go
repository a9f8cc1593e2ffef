package broker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cipherbrainstechnologies/Fifty7-sub000/internal/expiry"
)

// QuoteSource supplies last traded premiums to the paper adapter. The
// market data layer and the backtest feed both satisfy it.
type QuoteSource interface {
	OptionLTP(tradingSymbol string) (float64, error)
}

// PaperBroker simulates a brokerage account in memory: market orders
// fill synchronously at the quote source's LTP, margin is debited on
// BUY and released on SELL, and the position book nets per contract.
type PaperBroker struct {
	mu        sync.Mutex
	quotes    QuoteSource
	margin    float64
	weekday   time.Weekday
	positions map[string]*Position
	orders    map[string]*OrderResponse
	failNext  error
}

// Ensure PaperBroker implements Broker at compile time.
var _ Broker = (*PaperBroker)(nil)

// NewPaperBroker creates a paper account with the given free margin.
func NewPaperBroker(quotes QuoteSource, margin float64, weekday time.Weekday) *PaperBroker {
	return &PaperBroker{
		quotes:    quotes,
		margin:    margin,
		weekday:   weekday,
		positions: make(map[string]*Position),
		orders:    make(map[string]*OrderResponse),
	}
}

// FailNextOrder makes the next PlaceOrder call fail with err. Used to
// exercise rejection paths.
func (p *PaperBroker) FailNextOrder(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failNext = err
}

// PlaceOrder fills a market order at the current LTP. Rejections come
// back as a terminal REJECTED response, not an error, matching how a
// real order API reports exchange refusals.
func (p *PaperBroker) PlaceOrder(_ context.Context, req OrderRequest) (*OrderResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.failNext; err != nil {
		p.failNext = nil
		return nil, err
	}
	if req.Quantity <= 0 {
		return nil, fmt.Errorf("paper: invalid quantity %d", req.Quantity)
	}

	resp := &OrderResponse{OrderID: uuid.NewString()}
	ltp, err := p.quotes.OptionLTP(req.TradingSymbol)
	if err != nil {
		resp.Status = StatusRejected
		resp.Message = fmt.Sprintf("no quote for %s", req.TradingSymbol)
		p.orders[resp.OrderID] = resp
		return resp, nil
	}

	switch req.Side {
	case SideBuy:
		cost := ltp * float64(req.Quantity)
		if cost > p.margin {
			resp.Status = StatusRejected
			resp.Message = fmt.Sprintf("margin short: need %.2f, have %.2f", cost, p.margin)
			p.orders[resp.OrderID] = resp
			return resp, nil
		}
		p.margin -= cost
		pos := p.positions[req.TradingSymbol]
		if pos == nil {
			pos = &Position{TradingSymbol: req.TradingSymbol}
			p.positions[req.TradingSymbol] = pos
		}
		total := pos.AvgPrice*float64(pos.NetQuantity) + ltp*float64(req.Quantity)
		pos.NetQuantity += req.Quantity
		pos.AvgPrice = total / float64(pos.NetQuantity)

	case SideSell:
		pos := p.positions[req.TradingSymbol]
		if pos == nil || pos.NetQuantity < req.Quantity {
			resp.Status = StatusRejected
			resp.Message = fmt.Sprintf("oversell: holding %d, asked %d", p.netQty(req.TradingSymbol), req.Quantity)
			p.orders[resp.OrderID] = resp
			return resp, nil
		}
		p.margin += ltp * float64(req.Quantity)
		pos.NetQuantity -= req.Quantity
		if pos.NetQuantity == 0 {
			delete(p.positions, req.TradingSymbol)
		}

	default:
		return nil, fmt.Errorf("paper: unknown side %q", req.Side)
	}

	resp.Status = StatusComplete
	resp.AvgPrice = ltp
	resp.FilledQuantity = req.Quantity
	p.orders[resp.OrderID] = resp
	return resp, nil
}

// GetOrderStatus returns the recorded terminal state of an order.
func (p *PaperBroker) GetOrderStatus(_ context.Context, orderID string) (*OrderResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	resp, ok := p.orders[orderID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownOrder, orderID)
	}
	cp := *resp
	return &cp, nil
}

// CancelOrder always fails: paper fills are synchronous, so every known
// order is already terminal.
func (p *PaperBroker) CancelOrder(_ context.Context, orderID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.orders[orderID]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownOrder, orderID)
	}
	return fmt.Errorf("paper: order %s already terminal", orderID)
}

// GetPositions returns a copy of the net position book.
func (p *PaperBroker) GetPositions(context.Context) ([]Position, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Position, 0, len(p.positions))
	for _, pos := range p.positions {
		out = append(out, *pos)
	}
	return out, nil
}

// GetOptionLTP passes through to the quote source.
func (p *PaperBroker) GetOptionLTP(tradingSymbol string) (float64, error) {
	return p.quotes.OptionLTP(tradingSymbol)
}

// GetAvailableMargin returns the free margin after open positions.
func (p *PaperBroker) GetAvailableMargin() (float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.margin, nil
}

// GetOptionExpiries synthesizes the next four weekly expiries from the
// configured weekday.
func (p *PaperBroker) GetOptionExpiries(string) ([]time.Time, error) {
	return expiry.NextWeekly(time.Now(), 4, p.weekday), nil
}

func (p *PaperBroker) netQty(tradingSymbol string) int {
	if pos := p.positions[tradingSymbol]; pos != nil {
		return pos.NetQuantity
	}
	return 0
}
