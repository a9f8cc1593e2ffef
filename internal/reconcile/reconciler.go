// Package reconcile periodically compares the engine's position book
// against the broker's and publishes divergence events. It detects and
// reports; closing out a vanished position is the runner's job at
// recovery, never a background surprise.
package reconcile

import (
	"context"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/cipherbrainstechnologies/Fifty7-sub000/internal/broker"
	"github.com/cipherbrainstechnologies/Fifty7-sub000/internal/bus"
	"github.com/cipherbrainstechnologies/Fifty7-sub000/internal/models"
	"github.com/cipherbrainstechnologies/Fifty7-sub000/internal/statestore"
)

// staleAfter is how long the state tree may go unmodified during market
// hours before a state_stale event fires. Monitors persist on every
// stop move and fill, and the runner persists signal changes, so ten
// minutes of silence with open positions means something is stuck.
const staleAfter = 10 * time.Minute

// Reconciler runs the compare loop.
type Reconciler struct {
	broker   broker.Broker
	store    *statestore.Store
	bus      *bus.Bus
	logger   *log.Logger
	interval time.Duration
}

// New creates a reconciler polling at interval.
func New(b broker.Broker, store *statestore.Store, evbus *bus.Bus, logger *log.Logger, interval time.Duration) *Reconciler {
	return &Reconciler{broker: b, store: store, bus: evbus, logger: logger, interval: interval}
}

// Run reconciles until ctx is done.
func (r *Reconciler) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			r.pass(ctx)
		}
	}
}

// pass executes one reconciliation.
func (r *Reconciler) pass(ctx context.Context) {
	st := r.store.Get()

	if len(st.OpenPositions) > 0 && !st.UpdatedAt.IsZero() && time.Since(st.UpdatedAt) > staleAfter {
		r.bus.Publish(models.EventStateStale, map[string]any{
			"updated_at": st.UpdatedAt,
			"age":        time.Since(st.UpdatedAt).String(),
		})
		r.logger.Printf("State stale: last update %s ago with %d open positions",
			time.Since(st.UpdatedAt).Round(time.Second), len(st.OpenPositions))
	}

	brokerHeld, err := r.broker.GetPositions(ctx)
	if err != nil {
		r.logger.Printf("Reconciliation skipped, broker positions unavailable: %v", err)
		return
	}

	diffs := Diff(Project(st), brokerHeld)
	if len(diffs) == 0 {
		r.bus.Publish(models.EventReconciliationOK, map[string]any{
			"open_positions": len(st.OpenPositions),
		})
		return
	}
	for _, d := range diffs {
		r.logger.Printf("Position mismatch: %s", d)
		r.bus.Publish(models.EventPositionMismatch, map[string]any{
			"tradingsymbol": d.TradingSymbol,
			"engine_units":  d.EngineUnits,
			"broker_units":  d.BrokerUnits,
		})
	}
}

// Mismatch is one divergent contract.
type Mismatch struct {
	TradingSymbol string
	EngineUnits   int
	BrokerUnits   int
}

func (m Mismatch) String() string {
	return fmt.Sprintf("%s engine=%d broker=%d", m.TradingSymbol, m.EngineUnits, m.BrokerUnits)
}

// Project flattens the engine's open positions into expected broker
// units per contract.
func Project(st statestore.State) map[string]int {
	expected := make(map[string]int)
	for _, pos := range st.OpenPositions {
		expected[pos.TradingSymbol] += pos.RemainingLots * pos.LotSize
	}
	return expected
}

// Diff compares the engine projection against the broker book in both
// directions, sorted by contract for stable output.
func Diff(expected map[string]int, held []broker.Position) []Mismatch {
	actual := make(map[string]int)
	for _, bp := range held {
		actual[bp.TradingSymbol] += bp.NetQuantity
	}

	seen := make(map[string]bool)
	var out []Mismatch
	for ts, want := range expected {
		seen[ts] = true
		if actual[ts] != want {
			out = append(out, Mismatch{TradingSymbol: ts, EngineUnits: want, BrokerUnits: actual[ts]})
		}
	}
	for ts, have := range actual {
		if !seen[ts] && have != 0 {
			out = append(out, Mismatch{TradingSymbol: ts, EngineUnits: 0, BrokerUnits: have})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TradingSymbol < out[j].TradingSymbol })
	return out
}
