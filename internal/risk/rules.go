// Package risk implements the position exit ruleset: fixed stop,
// point-based trailing, breakeven lock, tiered profit booking, and the
// expiry-day protocol. The live position monitor and the backtester
// both evaluate positions through this package so their exit semantics
// cannot drift apart.
package risk

import (
	"math"
	"time"

	"github.com/cipherbrainstechnologies/Fifty7-sub000/internal/expiry"
	"github.com/cipherbrainstechnologies/Fifty7-sub000/internal/models"
	"github.com/cipherbrainstechnologies/Fifty7-sub000/internal/util"
)

// Rules is the exit parameter set captured when a position is opened.
// Later tunable updates never touch a running position.
type Rules struct {
	// SLPoints is the initial stop distance below entry, in option
	// premium points.
	SLPoints float64
	// TrailPoints is the step granularity of the trailing stop.
	TrailPoints float64
	// Book1Points and Book2Points are the profit-point thresholds for
	// tier-1 and tier-2 booking. Zero disables a tier.
	Book1Points float64
	Book2Points float64
	// Book1Ratio is the fraction of remaining lots booked at tier-1;
	// tier-2 books the rest.
	Book1Ratio float64
	// BEAtR locks the stop to entry once gain reaches BEAtR x SLPoints.
	BEAtR float64
	// RRRatio sets the journal take-profit level: entry + SLPoints*RRRatio.
	RRRatio float64
	// HalfBookOnExpiry books half the remaining lots at 13:00 IST on
	// expiry day if the position is still open.
	HalfBookOnExpiry bool
}

// Intent is a SELL the ruleset wants executed: Qty lots at (about)
// Price for Reason. The caller owns execution; position quantity is
// only mutated after the broker confirms the fill, so a failed SELL is
// naturally retried on the next tick.
type Intent struct {
	Qty    int
	Price  float64
	Reason models.ExitReason
}

// Evaluator applies Rules to one position. Each position gets its own
// evaluator; it carries the once-per-expiry half-book latch.
type Evaluator struct {
	Rules      Rules
	halfBooked bool
}

// NewEvaluator builds an evaluator with the given rules snapshot.
func NewEvaluator(r Rules) *Evaluator {
	return &Evaluator{Rules: r}
}

// MarkHalfBooked latches the expiry half-book after its SELL fills.
func (e *Evaluator) MarkHalfBooked() { e.halfBooked = true }

// InitialStop returns the never-moved stop level for a position, used
// to distinguish SL_HIT from TRAIL_EXIT.
func (e *Evaluator) InitialStop(entry float64) float64 {
	return entry - e.Rules.SLPoints
}

// Tick evaluates one live monitor tick at ltp. Rule order is fixed:
// trail update, breakeven, tier-1, tier-2, stop, expiry protocol.
// Trailing raises the stop before the stop is tested, so an adverse
// move right after a favorable one exits at the newly raised stop.
// Trail anchor and stop mutations apply immediately (they are local
// state, not broker state); SELLs come back as intents.
func (e *Evaluator) Tick(p *models.OpenPosition, ltp float64, now time.Time) []Intent {
	r := e.Rules

	// Trailing update: one-sided, the stop never decreases.
	if r.TrailPoints > 0 && ltp-p.TrailAnchor >= r.TrailPoints {
		k := math.Floor((ltp - p.TrailAnchor) / r.TrailPoints)
		p.TrailAnchor += k * r.TrailPoints
		if s := p.TrailAnchor - r.SLPoints; s > p.StopLoss {
			p.StopLoss = s
		}
	}

	// Breakeven lock.
	if !p.BELocked && r.BEAtR > 0 && ltp >= p.EntryPrice+r.BEAtR*r.SLPoints {
		if p.EntryPrice > p.StopLoss {
			p.StopLoss = p.EntryPrice
		}
		p.BELocked = true
	}

	var intents []Intent
	remaining := p.RemainingLots

	// Tier-1 partial booking.
	if !p.Book1Done && r.Book1Points > 0 && ltp >= p.EntryPrice+r.Book1Points {
		qty := int(math.Round(float64(remaining) * r.Book1Ratio))
		if qty > 0 {
			intents = append(intents, Intent{Qty: qty, Price: ltp, Reason: models.ExitBook1})
			remaining -= qty
		}
	}

	// Tier-2 books the rest.
	if !p.Book2Done && r.Book2Points > 0 && remaining > 0 && ltp >= p.EntryPrice+r.Book2Points {
		intents = append(intents, Intent{Qty: remaining, Price: ltp, Reason: models.ExitBook2})
		remaining = 0
	}

	// Stop test, after trailing has had its chance to raise it. Fills
	// are booked at the stop level.
	if remaining > 0 && ltp <= p.StopLoss {
		reason := models.ExitTrail
		if p.StopLoss == e.InitialStop(p.EntryPrice) {
			reason = models.ExitSLHit
		}
		intents = append(intents, Intent{Qty: remaining, Price: p.StopLoss, Reason: reason})
		remaining = 0
	}

	// Expiry protocol.
	if remaining > 0 && !p.Expiry.IsZero() && expiry.IsExpiryDay(now, p.Expiry) {
		mins := util.MinutesIntoDay(now)
		switch {
		case mins >= expiry.ForceExitMinutes:
			intents = append(intents, Intent{Qty: remaining, Price: ltp, Reason: models.ExitExpiryForce})
		case r.HalfBookOnExpiry && !e.halfBooked && mins >= expiry.HalfBookMinutes:
			qty := int(math.Round(float64(remaining) * 0.5))
			if qty > 0 {
				intents = append(intents, Intent{Qty: qty, Price: ltp, Reason: models.ExitExpiryHalf})
			}
		}
	}

	return intents
}

// Bar evaluates one historical 1h option bar for the walk-forward
// simulator. Bar-level exit priority is conservative: the stop is
// tested against the pre-bar level first (bar low may precede the
// high), then profit tiers against the bar high, then the expiry
// protocol, and only afterwards do trailing and breakeven advance from
// the bar high for subsequent bars.
func (e *Evaluator) Bar(p *models.OpenPosition, bar models.Candle, now time.Time) []Intent {
	r := e.Rules
	var intents []Intent
	remaining := p.RemainingLots

	if remaining > 0 && bar.Low <= p.StopLoss {
		reason := models.ExitTrail
		if p.StopLoss == e.InitialStop(p.EntryPrice) {
			reason = models.ExitSLHit
		}
		return []Intent{{Qty: remaining, Price: p.StopLoss, Reason: reason}}
	}

	if !p.Book1Done && r.Book1Points > 0 && bar.High >= p.EntryPrice+r.Book1Points {
		qty := int(math.Round(float64(remaining) * r.Book1Ratio))
		if qty > 0 {
			intents = append(intents, Intent{Qty: qty, Price: p.EntryPrice + r.Book1Points, Reason: models.ExitBook1})
			remaining -= qty
		}
	}
	if !p.Book2Done && r.Book2Points > 0 && remaining > 0 && bar.High >= p.EntryPrice+r.Book2Points {
		intents = append(intents, Intent{Qty: remaining, Price: p.EntryPrice + r.Book2Points, Reason: models.ExitBook2})
		remaining = 0
	}

	if remaining > 0 && !p.Expiry.IsZero() && expiry.IsExpiryDay(now, p.Expiry) {
		mins := util.MinutesIntoDay(bar.CloseTime())
		switch {
		case mins >= expiry.ForceExitMinutes:
			intents = append(intents, Intent{Qty: remaining, Price: bar.Close, Reason: models.ExitExpiryForce})
			remaining = 0
		case r.HalfBookOnExpiry && !e.halfBooked && mins >= expiry.HalfBookMinutes:
			qty := int(math.Round(float64(remaining) * 0.5))
			if qty > 0 {
				intents = append(intents, Intent{Qty: qty, Price: bar.Close, Reason: models.ExitExpiryHalf})
				remaining -= qty
				e.halfBooked = true
			}
		}
	}

	if remaining > 0 {
		// Advance trailing state from the bar's favorable extreme.
		if r.TrailPoints > 0 && bar.High-p.TrailAnchor >= r.TrailPoints {
			k := math.Floor((bar.High - p.TrailAnchor) / r.TrailPoints)
			p.TrailAnchor += k * r.TrailPoints
			if s := p.TrailAnchor - r.SLPoints; s > p.StopLoss {
				p.StopLoss = s
			}
		}
		if !p.BELocked && r.BEAtR > 0 && bar.High >= p.EntryPrice+r.BEAtR*r.SLPoints {
			if p.EntryPrice > p.StopLoss {
				p.StopLoss = p.EntryPrice
			}
			p.BELocked = true
		}
	}

	return intents
}
