package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cipherbrainstechnologies/Fifty7-sub000/internal/config"
	"github.com/cipherbrainstechnologies/Fifty7-sub000/internal/histdata"
)

func newImportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import {spot|option} SYMBOL FILE.csv",
		Short: "Import OHLC candles from CSV into the history archive",
		Long: `Import OHLC candles from CSV into the history archive.

The CSV needs a header with timestamp, open, high, low, close and an
optional volume column. For kind "option" the SYMBOL argument is the
full tradingsymbol, e.g. NIFTY28OCT2524500CE.`,
		Args: cobra.ExactArgs(3),
		RunE: func(_ *cobra.Command, args []string) error {
			return runImport(args[0], args[1], args[2])
		},
	}
}

func runImport(kindStr, symbol, path string) error {
	var kind histdata.Kind
	switch kindStr {
	case "spot":
		kind = histdata.KindSpot
	case "option":
		kind = histdata.KindOption
	default:
		return fmt.Errorf("kind must be spot or option, got %q", kindStr)
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}
	if cfg.Storage.HistoryDBPath == "" {
		return fmt.Errorf("storage.history_db_path is required for importing")
	}

	f, err := os.Open(path) // #nosec G304 -- path is a user-provided CSV file
	if err != nil {
		return err
	}
	defer f.Close()

	hist, err := histdata.Open(cfg.Storage.HistoryDBPath)
	if err != nil {
		return err
	}
	defer hist.Close()

	n, err := hist.ImportCSV(f, symbol, kind)
	if err != nil {
		return err
	}
	fmt.Printf("Imported %d %s candles for %s\n", n, kind, symbol)
	return nil
}
