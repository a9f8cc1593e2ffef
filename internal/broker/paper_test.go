package broker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cipherbrainstechnologies/Fifty7-sub000/internal/models"
	"github.com/cipherbrainstechnologies/Fifty7-sub000/internal/util"
)

type stubQuotes map[string]float64

func (s stubQuotes) OptionLTP(tradingSymbol string) (float64, error) {
	ltp, ok := s[tradingSymbol]
	if !ok {
		return 0, ErrPriceUnavailable
	}
	return ltp, nil
}

func TestTradingSymbol(t *testing.T) {
	exp := time.Date(2025, 10, 28, 15, 30, 0, 0, util.IST())
	assert.Equal(t, "NIFTY28OCT2524500CE", TradingSymbol("NIFTY", exp, 24500, models.SideCE))
	assert.Equal(t, "NIFTY28OCT2524400PE", TradingSymbol("NIFTY", exp, 24400, models.SidePE))
}

func TestPaperBrokerRoundTrip(t *testing.T) {
	ctx := context.Background()
	quotes := stubQuotes{"NIFTY28OCT2524500CE": 100}
	pb := NewPaperBroker(quotes, 20000, time.Tuesday)

	buy, err := pb.PlaceOrder(ctx, OrderRequest{TradingSymbol: "NIFTY28OCT2524500CE", Side: SideBuy, Quantity: 150})
	require.NoError(t, err)
	assert.Equal(t, StatusComplete, buy.Status)
	assert.Equal(t, 100.0, buy.AvgPrice)
	assert.Equal(t, 150, buy.FilledQuantity)

	margin, err := pb.GetAvailableMargin()
	require.NoError(t, err)
	assert.Equal(t, 5000.0, margin)

	positions, err := pb.GetPositions(ctx)
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.Equal(t, 150, positions[0].NetQuantity)

	// Status poll sees the recorded terminal fill.
	status, err := pb.GetOrderStatus(ctx, buy.OrderID)
	require.NoError(t, err)
	assert.Equal(t, StatusComplete, status.Status)
	assert.True(t, status.Status.Terminal())

	quotes["NIFTY28OCT2524500CE"] = 120
	sell, err := pb.PlaceOrder(ctx, OrderRequest{TradingSymbol: "NIFTY28OCT2524500CE", Side: SideSell, Quantity: 150})
	require.NoError(t, err)
	assert.Equal(t, StatusComplete, sell.Status)

	margin, err = pb.GetAvailableMargin()
	require.NoError(t, err)
	assert.Equal(t, 23000.0, margin)

	positions, err = pb.GetPositions(ctx)
	require.NoError(t, err)
	assert.Empty(t, positions)
}

func TestPaperBrokerRejections(t *testing.T) {
	ctx := context.Background()
	quotes := stubQuotes{"C1": 100}
	pb := NewPaperBroker(quotes, 1000, time.Tuesday)

	tests := []struct {
		name    string
		req     OrderRequest
		wantMsg string
	}{
		{
			name:    "margin short",
			req:     OrderRequest{TradingSymbol: "C1", Side: SideBuy, Quantity: 75},
			wantMsg: "margin short",
		},
		{
			name:    "no quote",
			req:     OrderRequest{TradingSymbol: "C2", Side: SideBuy, Quantity: 75},
			wantMsg: "no quote",
		},
		{
			name:    "oversell flat book",
			req:     OrderRequest{TradingSymbol: "C1", Side: SideSell, Quantity: 75},
			wantMsg: "oversell",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := pb.PlaceOrder(ctx, tt.req)
			require.NoError(t, err)
			assert.Equal(t, StatusRejected, resp.Status)
			assert.Contains(t, resp.Message, tt.wantMsg)
		})
	}
}

func TestPaperBrokerFailNext(t *testing.T) {
	ctx := context.Background()
	pb := NewPaperBroker(stubQuotes{"C1": 10}, 10000, time.Tuesday)

	boom := errors.New("link down")
	pb.FailNextOrder(boom)

	_, err := pb.PlaceOrder(ctx, OrderRequest{TradingSymbol: "C1", Side: SideBuy, Quantity: 75})
	assert.ErrorIs(t, err, boom)

	// One-shot: the next order goes through.
	resp, err := pb.PlaceOrder(ctx, OrderRequest{TradingSymbol: "C1", Side: SideBuy, Quantity: 75})
	require.NoError(t, err)
	assert.Equal(t, StatusComplete, resp.Status)
}

func TestPaperBrokerUnknownOrder(t *testing.T) {
	ctx := context.Background()
	pb := NewPaperBroker(stubQuotes{}, 10000, time.Tuesday)

	_, err := pb.GetOrderStatus(ctx, "nope")
	assert.ErrorIs(t, err, ErrUnknownOrder)
	assert.ErrorIs(t, pb.CancelOrder(ctx, "nope"), ErrUnknownOrder)
}

func TestCircuitBreakerPassThrough(t *testing.T) {
	ctx := context.Background()
	pb := NewPaperBroker(stubQuotes{"C1": 10}, 10000, time.Tuesday)
	cb := NewCircuitBreakerBroker(pb)

	resp, err := cb.PlaceOrder(ctx, OrderRequest{TradingSymbol: "C1", Side: SideBuy, Quantity: 75})
	require.NoError(t, err)
	assert.Equal(t, StatusComplete, resp.Status)

	ltp, err := cb.GetOptionLTP("C1")
	require.NoError(t, err)
	assert.Equal(t, 10.0, ltp)
}
