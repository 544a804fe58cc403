package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/intraday/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Generate or validate configuration files",
	Long: `Manage engine configuration files.

Subcommands:
  init     - Generate a default configuration file
  validate - Validate an existing configuration file

Examples:
  intraday config init -o intraday.yaml
  intraday config validate -f intraday.yaml`,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Generate a default configuration file",
	RunE:  runConfigInit,
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a configuration file",
	RunE:  runConfigValidate,
}

var (
	configInitOutput   string
	configValidatePath string
)

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configValidateCmd)

	configInitCmd.Flags().StringVarP(&configInitOutput, "output", "o", "intraday.yaml", "output config file path")
	configValidateCmd.Flags().StringVarP(&configValidatePath, "file", "f", "", "path to config file (required)")
	configValidateCmd.MarkFlagRequired("file")
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	cfg := config.Default()
	if err := cfg.SaveToFile(configInitOutput); err != nil {
		return fmt.Errorf("save config: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "✓ Created default configuration: %s\n", configInitOutput)
	fmt.Fprintln(out, "\nEdit the file and run with:")
	fmt.Fprintf(out, "  intraday run -c %s -e events.csv\n", configInitOutput)
	return nil
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadFromFile(configValidatePath)
	if err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}
	p, err := cfg.Policy()
	if err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "✓ Configuration valid: %s\n", configValidatePath)
	fmt.Fprintf(out, "  Daily loss limit: %.2f (protection from %.1fR, drawdown %.0f%%)\n",
		p.BaseLossLimit, p.ProfitProtectionMinR, p.ProfitDrawdownPct*100)
	for i, r := range p.EffectiveLadder() {
		fmt.Fprintf(out, "  Rung %d: %-20s at %.2fR", i, r.Kind, r.TriggerR)
		switch {
		case r.Fraction > 0:
			fmt.Fprintf(out, " close %.0f%%\n", r.Fraction*100)
		case r.Drawdown > 0:
			fmt.Fprintf(out, " drawdown %.0f%%\n", r.Drawdown*100)
		default:
			fmt.Fprintf(out, " offset %.2fR\n", r.OffsetR)
		}
	}
	fmt.Fprintf(out, "  Filter: threshold %.2f, exploration %.2f\n", cfg.Filter.ConfidenceThreshold, cfg.Filter.ExplorationRate)
	fmt.Fprintf(out, "  Store: %s\n", cfg.Store.Type)
	return nil
}
