// Command engine is the inside-bar options trading engine: a live
// paper-trading loop, a historical backtester, and a candle importer.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var cfgPath string

func main() {
	// Credentials and tokens come from .env in development; a missing
	// file is not an error.
	_ = godotenv.Load()

	root := &cobra.Command{
		Use:          "engine",
		Short:        "Inside-bar breakout trading engine for NIFTY weekly options",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&cfgPath, "config", "c", "config.yaml", "path to configuration file")
	root.AddCommand(newRunCmd(), newBacktestCmd(), newImportCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
