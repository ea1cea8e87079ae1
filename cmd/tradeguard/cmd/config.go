package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/tradeguard/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Generate or validate configuration files",
	Long: `Manage the guard configuration.

Subcommands:
  init     - Generate a default configuration file
  validate - Validate an existing configuration file

Examples:
  tradeguard config init -o config.yaml
  tradeguard config validate -c config.yaml`,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Generate a default configuration file",
	Args:  cobra.NoArgs,
	RunE:  runConfigInit,
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a configuration file",
	Args:  cobra.NoArgs,
	RunE:  runConfigValidate,
}

var configInitOutput string

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configValidateCmd)

	configInitCmd.Flags().StringVarP(&configInitOutput, "output", "o", "config.json", "output config file path")
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	cfg := config.Default()
	if err := cfg.SaveToFile(configInitOutput); err != nil {
		return fmt.Errorf("save config: %w", err)
	}

	fmt.Printf("✓ Created default configuration: %s\n", configInitOutput)
	fmt.Println("\nEdit the file and run with:")
	fmt.Printf("  tradeguard run -c %s\n", configInitOutput)
	return nil
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadFromFile(cfgPath)
	if err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}
	legs, err := cfg.Legs()
	if err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}
	enabled := 0
	for _, l := range legs {
		if l.Enabled {
			enabled++
		}
	}

	fmt.Printf("✓ Configuration valid: %s\n", cfgPath)
	fmt.Printf("  Symbols: %v (%s)\n", cfg.Symbols, cfg.DefaultTimeframe)
	fmt.Printf("  Limits: loss %.2f, trades %d, reset %02d:00 %s\n",
		cfg.DailyLossLimit, cfg.DailyTradeLimit, cfg.ResetHour, cfg.Timezone)
	fmt.Printf("  Legs: %d configured, %d enabled\n", len(legs), enabled)
	fmt.Printf("  Journal: %s\n", cfg.Journal.Type)
	return nil
}
