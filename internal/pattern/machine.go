package pattern

import (
	"log"
	"time"

	"github.com/cipherbrainstechnologies/Fifty7-sub000/internal/models"
)

// TransitionKind classifies the outcome of one state machine step.
type TransitionKind int

const (
	// KindIdle means no signal is armed after this step.
	KindIdle TransitionKind = iota
	// KindArmed means a signal is (still) armed and waiting.
	KindArmed
	// KindConsumed means a fresh breakout was detected inside the grace
	// window; the caller should attempt a trade.
	KindConsumed
	// KindMissed means a breakout was found but its candle closed
	// longer ago than the grace window; the signal expires untraded.
	KindMissed
)

// Transition is the result of one Machine.Step call. Breakout is set
// for Consumed and Missed; Signal echoes the signal the transition
// applies to.
type Transition struct {
	Kind     TransitionKind
	Signal   models.ActiveSignal
	Breakout models.BreakoutEvent
}

// Machine owns the lifecycle of the per-symbol active signal. The live
// runner is its single writer; only Armed persists across cycles,
// Consumed and Missed are emitted as transitions and clear the signal.
type Machine struct {
	signal *models.ActiveSignal
	grace  time.Duration
	logger *log.Logger
}

// NewMachine creates a signal state machine. grace bounds how stale a
// breakout close may be and still be traded (missed_grace_seconds).
func NewMachine(grace time.Duration, logger *log.Logger) *Machine {
	return &Machine{grace: grace, logger: logger}
}

// Current returns a copy of the armed signal, if any.
func (m *Machine) Current() (models.ActiveSignal, bool) {
	if m.signal == nil {
		return models.ActiveSignal{}, false
	}
	return *m.signal, true
}

// Restore re-arms a signal recovered from a state snapshot.
func (m *Machine) Restore(sig models.ActiveSignal) {
	s := sig
	m.signal = &s
}

// Step advances the machine one cycle over the latest complete candle
// sequence. Detection runs first: a strictly newer inside bar
// supersedes the armed signal, the same inside bar is kept (preserving
// CreatedAt), and an armed signal persists when detection comes up
// empty. Then the breakout check runs from the candle after the inside
// bar.
func (m *Machine) Step(complete []models.Candle, now time.Time) Transition {
	if ib, ok := LatestActive(complete); ok {
		switch {
		case m.signal == nil:
			m.arm(ib, now)
		case ib.Child.Time.After(m.signal.InsideBarTime):
			m.logger.Printf("Signal superseded: inside bar %s replaces %s",
				ib.Child.Time.Format(time.RFC3339), m.signal.InsideBarTime.Format(time.RFC3339))
			m.arm(ib, now)
		}
	}

	if m.signal == nil {
		return Transition{Kind: KindIdle}
	}

	sig := *m.signal
	bo, found := FirstBreakout(complete, sig.RangeHigh, sig.RangeLow, sig.InsideBarTime)
	if !found {
		return Transition{Kind: KindArmed, Signal: sig}
	}

	// The breakout is confirmed at the candle's close, so staleness is
	// measured from close time, not bucket open.
	age := now.Sub(models.Candle{Time: bo.CandleTime}.CloseTime())
	m.signal = nil
	if age > m.grace {
		m.logger.Printf("Missed trade: %s breakout at %s closed %.0fs ago (grace %.0fs)",
			bo.Direction, bo.CandleTime.Format(time.RFC3339), age.Seconds(), m.grace.Seconds())
		return Transition{Kind: KindMissed, Signal: sig, Breakout: bo}
	}
	return Transition{Kind: KindConsumed, Signal: sig, Breakout: bo}
}

func (m *Machine) arm(ib models.InsideBar, now time.Time) {
	m.signal = &models.ActiveSignal{
		RangeHigh:        ib.RangeHigh(),
		RangeLow:         ib.RangeLow(),
		InsideBarTime:    ib.Child.Time,
		SignalCandleTime: ib.Parent.Time,
		CreatedAt:        now,
	}
	m.logger.Printf("Signal armed: range [%.2f, %.2f], inside bar %s",
		ib.RangeLow(), ib.RangeHigh(), ib.Child.Time.Format(time.RFC3339))
}
