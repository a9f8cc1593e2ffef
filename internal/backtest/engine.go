// Package backtest replays the inside-bar strategy over historical 1h
// spot candles. Exit semantics come from the same risk ruleset the live
// monitor uses; premiums come from stored option candles when the
// archive has them and from a spot-delta approximation otherwise.
package backtest

import (
	"fmt"
	"log"
	"math"
	"time"

	"github.com/cipherbrainstechnologies/Fifty7-sub000/internal/broker"
	"github.com/cipherbrainstechnologies/Fifty7-sub000/internal/candles"
	"github.com/cipherbrainstechnologies/Fifty7-sub000/internal/expiry"
	"github.com/cipherbrainstechnologies/Fifty7-sub000/internal/marketdata"
	"github.com/cipherbrainstechnologies/Fifty7-sub000/internal/models"
	"github.com/cipherbrainstechnologies/Fifty7-sub000/internal/pattern"
	"github.com/cipherbrainstechnologies/Fifty7-sub000/internal/risk"
	"github.com/cipherbrainstechnologies/Fifty7-sub000/internal/strikes"
	"github.com/cipherbrainstechnologies/Fifty7-sub000/internal/util"
)

// syntheticDelta approximates ATM option sensitivity to spot when no
// real premium candles exist.
const syntheticDelta = 0.5

// minPremium floors synthetic premiums at the exchange tick.
const minPremium = 0.05

// Legacy exit mode levels: premium gain thresholds and the stop levels
// they lock, as multiples of entry premium.
var legacyLocks = []struct{ gain, lock float64 }{
	{1.00, 1.60},
	{0.80, 1.40},
	{0.60, 1.00},
}

// Config parameterizes one simulation run.
type Config struct {
	Symbol       string
	Lots         int
	LotSize      int
	StrikeMode   strikes.Mode
	StrikeOffset int
	Rules        risk.Rules

	// UseTieredExits selects the live ruleset; false falls back to the
	// legacy percent stop with progressive locks.
	UseTieredExits bool
	// LegacySLPct is the legacy stop as a fraction of entry premium.
	LegacySLPct float64

	InitialCapital float64
	ExpiryWeekday  time.Weekday
}

// OptionSource serves stored option premium candles. Nil or a miss
// falls back to synthetic premiums.
type OptionSource interface {
	OptionWindow(tradingSymbol string, from, to time.Time) ([]models.Candle, error)
	// OptionStrikes lists the strikes archived for an expiry token and
	// side, for nearest-listed fallback when the resolved strike has no
	// data.
	OptionStrikes(symbol, expiryToken string, side models.Side) ([]int, error)
}

// Trade is one simulated round trip.
type Trade struct {
	Direction     models.Side       `json:"direction"`
	Strike        int               `json:"strike"`
	TradingSymbol string            `json:"tradingsymbol"`
	EntryTime     time.Time         `json:"entry_time"`
	ExitTime      time.Time         `json:"exit_time"`
	EntrySpot     float64           `json:"entry_spot"`
	Entry         float64           `json:"entry"`
	Exit          float64           `json:"exit"` // VWAP across partial exits
	Lots          int               `json:"lots"`
	PnL           float64           `json:"pnl"`
	Reason        models.ExitReason `json:"reason"`
	Synthetic     bool              `json:"synthetic_premium"`
	// CapitalRequired is the entry cost of the full position.
	CapitalRequired float64 `json:"capital_required"`
}

// EquityPoint is the account balance after one closed trade.
type EquityPoint struct {
	Time   time.Time `json:"time"`
	Equity float64   `json:"equity"`
}

// Result bundles the trade list, the equity curve and the aggregate
// statistics.
type Result struct {
	Trades []Trade       `json:"trades"`
	Equity []EquityPoint `json:"equity_curve"`
	Stats  Stats         `json:"stats"`
}

// Engine runs simulations.
type Engine struct {
	cfg     Config
	options OptionSource
	logger  *log.Logger
}

// New creates an engine; options may be nil.
func New(cfg Config, options OptionSource, logger *log.Logger) *Engine {
	return &Engine{cfg: cfg, options: options, logger: logger}
}

// Run walks the spot history bar by bar: detection and supersede first,
// then the breakout check, entry at the next bar's open, and the exit
// walk until flat. One position at a time; scanning resumes at the exit
// bar.
func (e *Engine) Run(spot []models.Candle) (Result, error) {
	cs, err := candles.AlignHourly(spot, candles.AlignOptions{
		Now:        time.Now().Add(24 * time.Hour),
		MinCandles: -1,
	})
	if err != nil {
		return Result{}, fmt.Errorf("aligning history: %w", err)
	}
	if len(cs) < 3 {
		return Result{}, fmt.Errorf("history too short: %d aligned candles", len(cs))
	}

	capital := e.cfg.InitialCapital
	exhausted := false
	var trades []Trade
	var equity []EquityPoint
	var sig *models.ActiveSignal

	// One detection pass up front; the walk below consults membership.
	// ScanAll indices point at the first post-inside-bar position, so
	// the child bar sits one before each hit.
	insideChild := make(map[int]bool)
	for _, hit := range pattern.ScanAll(cs) {
		insideChild[hit-1] = true
	}

	for i := 1; i < len(cs); i++ {
		// Detection before breakout: a bar that forms a new inside bar
		// supersedes the armed signal and cannot confirm the old range.
		if insideChild[i] {
			sig = &models.ActiveSignal{
				RangeHigh:        cs[i-1].High,
				RangeLow:         cs[i-1].Low,
				InsideBarTime:    cs[i].Time,
				SignalCandleTime: cs[i-1].Time,
			}
			continue
		}
		if sig == nil || !cs[i].Time.After(sig.InsideBarTime) {
			continue
		}
		side, ok := pattern.BreakoutAt(cs[i], sig.RangeHigh, sig.RangeLow)
		if !ok {
			continue
		}
		sig = nil
		if i+1 >= len(cs) {
			break // breakout on the last bar: nothing to enter on
		}

		trade, exitIdx, enterErr := e.simulateTrade(cs, i+1, side, capital)
		if enterErr == errEntrySkipped {
			continue
		}
		if enterErr == errCapitalExhausted {
			exhausted = true
			e.logger.Printf("Capital exhausted at %s: %.2f left", cs[i+1].Time.Format("2006-01-02 15:04"), capital)
			break
		}
		if enterErr != nil {
			return Result{}, enterErr
		}
		capital += trade.PnL
		trades = append(trades, trade)
		equity = append(equity, EquityPoint{Time: trade.ExitTime, Equity: capital})
		if capital <= 0 {
			exhausted = true
			e.logger.Printf("Capital exhausted after %s trade at %s", trade.Direction, trade.ExitTime.Format("2006-01-02 15:04"))
			break
		}
		i = exitIdx
	}

	return Result{
		Trades: trades,
		Equity: equity,
		Stats:  ComputeStats(trades, e.cfg.InitialCapital, exhausted),
	}, nil
}

var (
	errEntrySkipped     = fmt.Errorf("entry skipped")
	errCapitalExhausted = fmt.Errorf("capital exhausted")
)

// simulateTrade enters at cs[entryIdx].Open and walks bars until the
// position flattens. Returns the trade and the index of the exit bar.
func (e *Engine) simulateTrade(cs []models.Candle, entryIdx int, side models.Side, capital float64) (Trade, int, error) {
	entryBar := cs[entryIdx]

	exp, ok := expiry.NextOnOrAfter(
		expiry.NextWeekly(entryBar.Time, 3, e.cfg.ExpiryWeekday), entryBar.Time)
	if !ok {
		return Trade{}, 0, errEntrySkipped
	}
	// Expiry-day entries stop earlier in simulation than live: gamma
	// after late morning makes the premium approximation untrustworthy.
	if expiry.IsExpiryDay(entryBar.Time, exp) &&
		util.MinutesIntoDay(entryBar.Time) >= expiry.BacktestEntryBlackoutMinutes {
		return Trade{}, 0, errEntrySkipped
	}

	entrySpot := entryBar.Open
	step := strikes.GridStep(e.cfg.Symbol)
	strike := strikes.Resolve(entrySpot, side, e.cfg.StrikeMode, e.cfg.StrikeOffset, step)
	if e.options != nil {
		if listed, err := e.options.OptionStrikes(e.cfg.Symbol, expiry.Format(exp), side); err == nil {
			if actual, ok := strikes.NearestListed(listed, strike); ok && actual != strike {
				e.logger.Printf("Strike %d not in the %s chain, falling back to %d",
					strike, expiry.Format(exp), actual)
				strike = actual
			}
		}
	}
	tradingSymbol := broker.TradingSymbol(e.cfg.Symbol, exp, strike, side)

	optionBars, synthetic := e.optionBars(tradingSymbol, cs[entryIdx:], entrySpot, side, exp)
	if len(optionBars) == 0 {
		return Trade{}, 0, errEntrySkipped
	}
	entryPremium := optionBars[0].Open

	cost := entryPremium * float64(e.cfg.Lots*e.cfg.LotSize)
	if cost > capital {
		return Trade{}, 0, errCapitalExhausted
	}

	pos := models.NewOpenPosition(
		fmt.Sprintf("bt-%s", entryBar.Time.Format("20060102-1504")),
		tradingSymbol, e.cfg.Symbol, strike, side,
		entryPremium, e.cfg.Lots, e.cfg.LotSize, e.slPoints(entryPremium), exp)
	pos.EntryTime = entryBar.Time

	var exitOffset int
	var reason models.ExitReason
	if e.cfg.UseTieredExits {
		exitOffset, reason = e.walkTiered(pos, optionBars)
	} else {
		exitOffset, reason = e.walkLegacy(pos, optionBars, exp)
	}

	return Trade{
		Direction:       side,
		Strike:          strike,
		TradingSymbol:   tradingSymbol,
		EntryTime:       entryBar.Time,
		ExitTime:        optionBars[exitOffset].Time,
		EntrySpot:       entrySpot,
		Entry:           entryPremium,
		Exit:            pos.ExitVWAP(),
		Lots:            e.cfg.Lots,
		PnL:             pos.RealizedPnL,
		Reason:          reason,
		Synthetic:       synthetic,
		CapitalRequired: cost,
	}, entryIdx + exitOffset, nil
}

func (e *Engine) slPoints(entryPremium float64) float64 {
	if e.cfg.UseTieredExits {
		return e.cfg.Rules.SLPoints
	}
	return entryPremium * e.cfg.LegacySLPct
}

// walkTiered applies the live exit evaluator bar by bar. The final bar
// of data or of the contract closes whatever remains as a time exit.
func (e *Engine) walkTiered(pos *models.OpenPosition, bars []models.Candle) (int, models.ExitReason) {
	eval := risk.NewEvaluator(e.cfg.Rules)
	lastReason := models.ExitTime

	for k, bar := range bars {
		if bar.Time.After(pos.Expiry) {
			e.closeAll(pos, bar.Open, k)
			return k, models.ExitTime
		}
		for _, intent := range eval.Bar(pos, bar, bar.Time) {
			pos.RecordFill(intent.Qty, intent.Price)
			switch intent.Reason {
			case models.ExitBook1:
				pos.Book1Done = true
			case models.ExitBook2:
				pos.Book2Done = true
			}
			lastReason = intent.Reason
		}
		if pos.Closed {
			return k, lastReason
		}
	}
	last := len(bars) - 1
	e.closeAll(pos, bars[last].Close, last)
	return last, models.ExitTime
}

// walkLegacy is the percent-stop mode: stop at entry x (1 - LegacySLPct),
// raised by progressive locks as premium gains accrue, and an expiry-day
// force exit at 14:45.
func (e *Engine) walkLegacy(pos *models.OpenPosition, bars []models.Candle, exp time.Time) (int, models.ExitReason) {
	entry := pos.EntryPrice
	stop := entry * (1 - e.cfg.LegacySLPct)

	for k, bar := range bars {
		if bar.Low <= stop {
			e.closeAll(pos, stop, k)
			if stop >= entry {
				return k, models.ExitTrail
			}
			return k, models.ExitSLHit
		}
		if expiry.IsExpiryDay(bar.Time, exp) &&
			util.MinutesIntoDay(bar.CloseTime()) >= expiry.ForceExitMinutes {
			e.closeAll(pos, bar.Close, k)
			return k, models.ExitExpiryForce
		}
		if bar.Time.After(exp) {
			e.closeAll(pos, bar.Open, k)
			return k, models.ExitTime
		}
		// Locks ratchet off the bar high for subsequent bars.
		gain := (bar.High - entry) / entry
		for _, lvl := range legacyLocks {
			if gain >= lvl.gain {
				if locked := entry * lvl.lock; locked > stop {
					stop = locked
				}
				break
			}
		}
	}
	last := len(bars) - 1
	e.closeAll(pos, bars[last].Close, last)
	return last, models.ExitTime
}

func (e *Engine) closeAll(pos *models.OpenPosition, price float64, _ int) {
	if pos.RemainingLots > 0 {
		pos.RecordFill(pos.RemainingLots, price)
	}
}

// optionBars returns premium candles for the trade window: real ones
// when the archive has them, otherwise synthesized from spot via a
// fixed delta around the entry premium.
func (e *Engine) optionBars(tradingSymbol string, spotBars []models.Candle,
	entrySpot float64, side models.Side, exp time.Time) ([]models.Candle, bool) {
	if e.options != nil && len(spotBars) > 0 {
		from := spotBars[0].Time
		real, err := e.options.OptionWindow(tradingSymbol, from, exp.Add(time.Hour))
		if err == nil && len(real) > 0 && real[0].Time.Equal(from) {
			return real, false
		}
	}

	entryPremium := marketdata.SyntheticPremium(entrySpot)
	out := make([]models.Candle, len(spotBars))
	for i, sb := range spotBars {
		out[i] = synthesizeBar(sb, entrySpot, entryPremium, side)
	}
	return out, true
}

// synthesizeBar maps a spot bar into premium space. For puts the
// mapping is decreasing, so the spot low becomes the premium high.
func synthesizeBar(spot models.Candle, entrySpot, entryPremium float64, side models.Side) models.Candle {
	conv := func(x float64) float64 {
		var p float64
		if side == models.SideCE {
			p = entryPremium + syntheticDelta*(x-entrySpot)
		} else {
			p = entryPremium + syntheticDelta*(entrySpot-x)
		}
		return math.Max(minPremium, p)
	}
	bar := models.Candle{
		Time:   spot.Time,
		Open:   conv(spot.Open),
		Close:  conv(spot.Close),
		Volume: spot.Volume,
	}
	if side == models.SideCE {
		bar.High, bar.Low = conv(spot.High), conv(spot.Low)
	} else {
		bar.High, bar.Low = conv(spot.Low), conv(spot.High)
	}
	return bar
}
