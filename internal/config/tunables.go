package config

import "fmt"

// Tunables is the subset of strategy and risk parameters adjustable at
// runtime through the dashboard. Nil fields are left unchanged.
// Updates affect new positions only; a running monitor keeps the rules
// it was spawned with.
type Tunables struct {
	Lots               *int     `json:"lots,omitempty"`
	SLPoints           *float64 `json:"sl_points,omitempty"`
	TrailPoints        *float64 `json:"trail_points,omitempty"`
	Book1Points        *float64 `json:"book1_points,omitempty"`
	Book2Points        *float64 `json:"book2_points,omitempty"`
	Book1Ratio         *float64 `json:"book1_ratio,omitempty"`
	BEAtR              *float64 `json:"be_at_r,omitempty"`
	MissedGraceSeconds *int     `json:"missed_grace_seconds,omitempty"`
	CooldownSeconds    *int     `json:"cooldown_seconds,omitempty"`
	DailyLossLimitPct  *float64 `json:"daily_loss_limit_pct,omitempty"`
	MaxPositions       *int     `json:"max_positions,omitempty"`
}

// ApplyTunables validates the update against a copy of the config and
// commits it only if the result still passes Validate. On error the
// config is untouched.
func (c *Config) ApplyTunables(t Tunables) error {
	next := *c

	if t.Lots != nil {
		next.Strategy.Lots = *t.Lots
	}
	if t.SLPoints != nil {
		next.Strategy.Exit.SLPoints = *t.SLPoints
	}
	if t.TrailPoints != nil {
		next.Strategy.Exit.TrailPoints = *t.TrailPoints
	}
	if t.Book1Points != nil {
		next.Strategy.Exit.Book1Points = *t.Book1Points
	}
	if t.Book2Points != nil {
		next.Strategy.Exit.Book2Points = *t.Book2Points
	}
	if t.Book1Ratio != nil {
		next.Strategy.Exit.Book1Ratio = *t.Book1Ratio
	}
	if t.BEAtR != nil {
		next.Strategy.Exit.BEAtR = *t.BEAtR
	}
	if t.MissedGraceSeconds != nil {
		next.Strategy.MissedGraceSeconds = *t.MissedGraceSeconds
	}
	if t.CooldownSeconds != nil {
		next.Strategy.CooldownSeconds = *t.CooldownSeconds
	}
	if t.DailyLossLimitPct != nil {
		next.Risk.DailyLossLimitPct = *t.DailyLossLimitPct
	}
	if t.MaxPositions != nil {
		next.Risk.MaxPositions = *t.MaxPositions
	}

	if err := next.Validate(); err != nil {
		return fmt.Errorf("tunable update rejected: %w", err)
	}

	*c = next
	return nil
}

// Snapshot returns the current tunable values for the dashboard.
func (c *Config) Snapshot() map[string]any {
	return map[string]any{
		"lots":                 c.Strategy.Lots,
		"sl_points":            c.Strategy.Exit.SLPoints,
		"trail_points":         c.Strategy.Exit.TrailPoints,
		"book1_points":         c.Strategy.Exit.Book1Points,
		"book2_points":         c.Strategy.Exit.Book2Points,
		"book1_ratio":          c.Strategy.Exit.Book1Ratio,
		"be_at_r":              c.Strategy.Exit.BEAtR,
		"missed_grace_seconds": c.Strategy.MissedGraceSeconds,
		"cooldown_seconds":     c.Strategy.CooldownSeconds,
		"daily_loss_limit_pct": c.Risk.DailyLossLimitPct,
		"max_positions":        c.Risk.MaxPositions,
	}
}
