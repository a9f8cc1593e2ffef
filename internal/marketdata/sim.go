package marketdata

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/cipherbrainstechnologies/Fifty7-sub000/internal/candles"
	"github.com/cipherbrainstechnologies/Fifty7-sub000/internal/models"
)

// Synthetic premium floor and rate, used when no real option quote is
// loaded: max(premiumFloor, premiumRate x spot).
const (
	premiumFloor = 50.0
	premiumRate  = 0.005
)

// SimFeed is an in-memory feed for paper trading and tests. Spot
// candles are loaded up front (or appended as a scenario advances);
// option premiums can be pinned per contract, with a synthetic
// spot-derived fallback so a paper session never stalls on a missing
// quote.
type SimFeed struct {
	mu       sync.RWMutex
	spot     map[string][]models.Candle
	ltp      map[string]float64
	premiums map[string]float64
}

// Ensure SimFeed implements both feed surfaces at compile time.
var _ Provider = (*SimFeed)(nil)

// NewSimFeed creates an empty simulated feed.
func NewSimFeed() *SimFeed {
	return &SimFeed{
		spot:     make(map[string][]models.Candle),
		ltp:      make(map[string]float64),
		premiums: make(map[string]float64),
	}
}

// LoadSpot replaces the candle history for symbol.
func (s *SimFeed) LoadSpot(symbol string, cs []models.Candle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sorted := append([]models.Candle(nil), cs...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Time.Before(sorted[j].Time) })
	s.spot[symbol] = sorted
	if len(sorted) > 0 {
		s.ltp[symbol] = sorted[len(sorted)-1].Close
	}
}

// AppendSpot adds one candle to the history, keeping order.
func (s *SimFeed) AppendSpot(symbol string, c models.Candle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.spot[symbol] = append(s.spot[symbol], c)
	s.ltp[symbol] = c.Close
}

// SetSpotLTP pins the live spot quote without touching candles.
func (s *SimFeed) SetSpotLTP(symbol string, ltp float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ltp[symbol] = ltp
}

// SetOptionLTP pins a contract premium; subsequent ticks read it until
// changed.
func (s *SimFeed) SetOptionLTP(tradingSymbol string, ltp float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.premiums[tradingSymbol] = ltp
}

// Fetch1h returns candles with bucket opens in [from, to).
func (s *SimFeed) Fetch1h(_ context.Context, symbol string, from, to time.Time) ([]models.Candle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	all, ok := s.spot[symbol]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoData, symbol)
	}
	var out []models.Candle
	for _, c := range all {
		if !c.Time.Before(from) && c.Time.Before(to) {
			out = append(out, c)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: %s [%s, %s)", ErrNoData, symbol, from.Format(time.RFC3339), to.Format(time.RFC3339))
	}
	return out, nil
}

// SpotSnapshot reports the pinned LTP against the last candle's range.
func (s *SimFeed) SpotSnapshot(symbol string) (candles.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ltp, ok := s.ltp[symbol]
	if !ok {
		return candles.Snapshot{}, fmt.Errorf("%w: %s", ErrNoData, symbol)
	}
	snap := candles.Snapshot{Open: ltp, High: ltp, Low: ltp, LTP: ltp}
	if cs := s.spot[symbol]; len(cs) > 0 {
		last := cs[len(cs)-1]
		snap.Open = last.Close
		snap.High = math.Max(last.Close, ltp)
		snap.Low = math.Min(last.Close, ltp)
	}
	return snap, nil
}

// OptionLTP returns the pinned premium for a contract, or the synthetic
// spot-derived fallback when none is set. NIFTY spot is assumed for the
// fallback since every contract token starts with its symbol.
func (s *SimFeed) OptionLTP(tradingSymbol string) (float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if p, ok := s.premiums[tradingSymbol]; ok {
		return p, nil
	}
	for symbol, spot := range s.ltp {
		if len(tradingSymbol) > len(symbol) && tradingSymbol[:len(symbol)] == symbol {
			return SyntheticPremium(spot), nil
		}
	}
	return 0, fmt.Errorf("%w: %s", ErrNoData, tradingSymbol)
}

// SyntheticPremium estimates an ATM weekly premium from spot when no
// option quote exists.
func SyntheticPremium(spot float64) float64 {
	return math.Max(premiumFloor, premiumRate*spot)
}
