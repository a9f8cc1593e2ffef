package main

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/cipherbrainstechnologies/Fifty7-sub000/internal/backtest"
	"github.com/cipherbrainstechnologies/Fifty7-sub000/internal/config"
	"github.com/cipherbrainstechnologies/Fifty7-sub000/internal/histdata"
	"github.com/cipherbrainstechnologies/Fifty7-sub000/internal/models"
	"github.com/cipherbrainstechnologies/Fifty7-sub000/internal/risk"
	"github.com/cipherbrainstechnologies/Fifty7-sub000/internal/strikes"
	"github.com/cipherbrainstechnologies/Fifty7-sub000/internal/util"
)

func newBacktestCmd() *cobra.Command {
	var fromStr, toStr string
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "backtest",
		Short: "Replay the strategy over archived spot candles",
		RunE: func(_ *cobra.Command, _ []string) error {
			return runBacktest(fromStr, toStr, asJSON)
		},
	}
	cmd.Flags().StringVar(&fromStr, "from", "", "start date, YYYY-MM-DD IST (default: archive start)")
	cmd.Flags().StringVar(&toStr, "to", "", "end date exclusive, YYYY-MM-DD IST (default: archive end)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "emit the full result as JSON")
	return cmd
}

// archiveOptions adapts the sqlite candle store to the backtest's
// option premium source.
type archiveOptions struct {
	store *histdata.Store
}

func (a archiveOptions) OptionWindow(tradingSymbol string, from, to time.Time) ([]models.Candle, error) {
	return a.store.Window(tradingSymbol, histdata.KindOption, from, to)
}

func (a archiveOptions) OptionStrikes(symbol, expiryToken string, side models.Side) ([]int, error) {
	return a.store.OptionStrikes(symbol, expiryToken, side)
}

func runBacktest(fromStr, toStr string, asJSON bool) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}
	if cfg.Storage.HistoryDBPath == "" {
		return fmt.Errorf("storage.history_db_path is required for backtesting")
	}

	hist, err := histdata.Open(cfg.Storage.HistoryDBPath)
	if err != nil {
		return err
	}
	defer hist.Close()

	from, to, err := resolveWindow(hist, cfg.Strategy.Symbol, fromStr, toStr)
	if err != nil {
		return err
	}
	spot, err := hist.Window(cfg.Strategy.Symbol, histdata.KindSpot, from, to)
	if err != nil {
		return err
	}
	if len(spot) == 0 {
		return fmt.Errorf("no archived candles for %s in [%s, %s)",
			cfg.Strategy.Symbol, from.Format("2006-01-02"), to.Format("2006-01-02"))
	}

	engine := backtest.New(backtest.Config{
		Symbol:         cfg.Strategy.Symbol,
		Lots:           cfg.Strategy.Lots,
		LotSize:        cfg.Strategy.LotSize,
		StrikeMode:     strikes.Mode(cfg.Strategy.Strike.Mode),
		StrikeOffset:   cfg.Strategy.Strike.Offset,
		Rules:          exitRules(cfg),
		UseTieredExits: cfg.Backtest.UseTieredExits,
		LegacySLPct:    cfg.Backtest.SLPct,
		InitialCapital: cfg.Backtest.InitialCapital,
		ExpiryWeekday:  cfg.ExpiryWeekday(),
	}, archiveOptions{store: hist}, log.New(os.Stderr, "[BACKTEST] ", log.LstdFlags))

	res, err := engine.Run(spot)
	if err != nil {
		return err
	}

	if asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}
	printReport(res, from, to)
	return nil
}

// resolveWindow applies the flag dates over the archive bounds.
func resolveWindow(hist *histdata.Store, symbol, fromStr, toStr string) (time.Time, time.Time, error) {
	first, last, ok, err := hist.Bounds(symbol, histdata.KindSpot)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	if !ok {
		return time.Time{}, time.Time{}, fmt.Errorf("archive has no spot candles for %s", symbol)
	}

	from, to := first, last.Add(time.Hour)
	if fromStr != "" {
		if from, err = time.ParseInLocation("2006-01-02", fromStr, util.IST()); err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("parsing --from: %w", err)
		}
	}
	if toStr != "" {
		if to, err = time.ParseInLocation("2006-01-02", toStr, util.IST()); err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("parsing --to: %w", err)
		}
	}
	if !to.After(from) {
		return time.Time{}, time.Time{}, fmt.Errorf("--to must be after --from")
	}
	return from, to, nil
}

func printReport(res backtest.Result, from, to time.Time) {
	s := res.Stats
	fmt.Printf("Backtest %s to %s\n", from.Format("2006-01-02"), to.Format("2006-01-02"))
	fmt.Printf("  Trades:        %d (%d wins / %d losses, %.1f%% win rate)\n",
		s.TotalTrades, s.Wins, s.Losses, s.WinRate*100)
	fmt.Printf("  Total PnL:     %.2f (avg win %.2f / avg loss %.2f)\n", s.TotalPnL, s.AvgWin, s.AvgLoss)
	fmt.Printf("  Capital:       %.2f -> %.2f\n", s.FinalCapital-s.TotalPnL, s.FinalCapital)
	fmt.Printf("  Avg required:  %.2f per trade\n", s.AvgCapitalRequirement)
	fmt.Printf("  Max drawdown:  %.2f\n", s.MaxDrawdown)
	fmt.Printf("  Streaks:       %d wins / %d losses\n", s.LongestWinStreak, s.LongestLossStreak)
	fmt.Printf("  Trail exits:   %.1f%%\n", s.TrailExitShare*100)
	if s.CapitalExhausted {
		fmt.Println("  WARNING: capital exhausted, later signals went untraded")
	}

	if len(s.ExitCounts) > 0 {
		reasons := make([]string, 0, len(s.ExitCounts))
		for r := range s.ExitCounts {
			reasons = append(reasons, string(r))
		}
		sort.Strings(reasons)
		fmt.Println("  Exits by reason:")
		for _, r := range reasons {
			fmt.Printf("    %-18s %d\n", r, s.ExitCounts[models.ExitReason(r)])
		}
	}
}

func exitRules(cfg *config.Config) risk.Rules {
	e := cfg.Strategy.Exit
	return risk.Rules{
		SLPoints:         e.SLPoints,
		TrailPoints:      e.TrailPoints,
		Book1Points:      e.Book1Points,
		Book2Points:      e.Book2Points,
		Book1Ratio:       e.Book1Ratio,
		BEAtR:            e.BEAtR,
		RRRatio:          e.RRRatio,
		HalfBookOnExpiry: e.HalfBookOnExpiry,
	}
}
