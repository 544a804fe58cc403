package cmd

import (
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/rustyeddy/intraday/config"
	"github.com/rustyeddy/intraday/pkg/logging"
)

var rootCmd = &cobra.Command{
	Use:   "intraday",
	Short: "Position risk engine for intraday trading",
	Long: `Intraday manages the risk side of an intraday trading system.

It provides:
  - A daily loss governor with a profit-adjusted limit
  - A confidence filter with exploration for candidate signals
  - Per-position R tracking with a partial-exit ladder and drawdown protection
  - An experience store of closed trades (SQLite, CSV or memory)
  - CSV replay of recorded prices, signals and session events`,
	SilenceUsage: true,
}

var (
	cfgFile string
	envFile string
)

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (YAML or JSON); defaults are used when empty")
	rootCmd.PersistentFlags().StringVar(&envFile, "env", ".env", "optional dotenv file applied before INTRADAY_* overrides")
}

// loadConfig loads the config selected by the persistent flags and builds
// its logger.
func loadConfig() (*config.Config, zerolog.Logger, error) {
	cfg, err := config.Load(cfgFile, envFile)
	if err != nil {
		return nil, zerolog.Nop(), err
	}
	log, err := logging.New(os.Stderr, cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, zerolog.Nop(), err
	}
	return cfg, log, nil
}
