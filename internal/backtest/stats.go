package backtest

import (
	"github.com/cipherbrainstechnologies/Fifty7-sub000/internal/models"
)

// Stats aggregates a simulation's trades.
type Stats struct {
	TotalTrades int     `json:"total_trades"`
	Wins        int     `json:"wins"`
	Losses      int     `json:"losses"`
	WinRate     float64 `json:"win_rate"`

	TotalPnL     float64 `json:"total_pnl"`
	AvgWin       float64 `json:"avg_win"`
	AvgLoss      float64 `json:"avg_loss"`
	FinalCapital float64 `json:"final_capital"`
	MaxDrawdown  float64 `json:"max_drawdown"`

	// AvgCapitalRequirement is the mean entry cost across trades, a
	// sizing guide for the account the strategy needs.
	AvgCapitalRequirement float64 `json:"avg_capital_requirement"`

	LongestWinStreak  int `json:"longest_win_streak"`
	LongestLossStreak int `json:"longest_loss_streak"`

	// CapitalExhausted is set when a simulated entry could not be funded
	// or equity hit zero; later signals went untraded.
	CapitalExhausted bool `json:"capital_exhausted"`

	// TrailExitShare is the fraction of winning trades closed by a
	// raised stop, a health check that trailing actually participates.
	TrailExitShare float64 `json:"trail_exit_share"`

	ExitCounts map[models.ExitReason]int `json:"exit_counts"`
}

// ComputeStats derives Stats from the closed trade sequence. Drawdown
// is measured on the equity curve after each closed trade.
func ComputeStats(trades []Trade, initialCapital float64, exhausted bool) Stats {
	s := Stats{
		TotalTrades:      len(trades),
		FinalCapital:     initialCapital,
		CapitalExhausted: exhausted,
		ExitCounts:       make(map[models.ExitReason]int),
	}

	equity := initialCapital
	peak := initialCapital
	winStreak, lossStreak := 0, 0
	trailExits := 0
	var winSum, lossSum, reqSum float64

	for _, tr := range trades {
		equity += tr.PnL
		reqSum += tr.CapitalRequired
		if equity > peak {
			peak = equity
		}
		if dd := peak - equity; dd > s.MaxDrawdown {
			s.MaxDrawdown = dd
		}

		s.TotalPnL += tr.PnL
		s.ExitCounts[tr.Reason]++
		if tr.Reason == models.ExitTrail {
			trailExits++
		}

		if tr.PnL > 0 {
			s.Wins++
			winSum += tr.PnL
			winStreak++
			lossStreak = 0
		} else {
			s.Losses++
			lossSum += tr.PnL
			lossStreak++
			winStreak = 0
		}
		if winStreak > s.LongestWinStreak {
			s.LongestWinStreak = winStreak
		}
		if lossStreak > s.LongestLossStreak {
			s.LongestLossStreak = lossStreak
		}
	}

	s.FinalCapital = equity
	if s.TotalTrades > 0 {
		s.WinRate = float64(s.Wins) / float64(s.TotalTrades)
		s.AvgCapitalRequirement = reqSum / float64(s.TotalTrades)
	}
	if s.Wins > 0 {
		s.AvgWin = winSum / float64(s.Wins)
		s.TrailExitShare = float64(trailExits) / float64(s.Wins)
	}
	if s.Losses > 0 {
		s.AvgLoss = lossSum / float64(s.Losses)
	}
	return s
}
