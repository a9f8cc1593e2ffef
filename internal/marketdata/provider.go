// Package marketdata defines the index feed contract plus a retrying
// wrapper and an in-memory simulated feed for paper runs.
package marketdata

import (
	"context"
	"errors"
	"time"

	"github.com/cipherbrainstechnologies/Fifty7-sub000/internal/candles"
	"github.com/cipherbrainstechnologies/Fifty7-sub000/internal/models"
)

// ErrNoData means the feed has no candles for the requested window.
var ErrNoData = errors.New("marketdata: no data for window")

// Provider is the index data feed the runner consumes. Fetch1h returns
// raw hourly candles; the candle aligner owns session bucketing and
// completeness, so providers just hand over what they have.
type Provider interface {
	// Fetch1h returns hourly candles with bucket opens in [from, to).
	Fetch1h(ctx context.Context, symbol string, from, to time.Time) ([]models.Candle, error)
	// SpotSnapshot returns the live intra-hour quote used to patch the
	// forming bar.
	SpotSnapshot(symbol string) (candles.Snapshot, error)
}
