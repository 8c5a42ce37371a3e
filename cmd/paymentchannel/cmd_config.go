package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nearai/pay-per-prompt/internal/senderclient"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show and update local configuration",
}

var configAccountIDCmd = &cobra.Command{
	Use:   "account_id <id>",
	Short: "Persist the NEAR account id this device sends payments as",
	Args:  cobra.ExactArgs(1),
	RunE:  runConfigAccountID,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configAccountIDCmd)
}

func runConfigAccountID(cmd *cobra.Command, args []string) error {
	cfg, err := senderclient.LoadConfig()
	if err != nil {
		return err
	}
	cfg.AccountID = args[0]
	if err := senderclient.SaveConfig(cfg); err != nil {
		return err
	}
	fmt.Printf("account_id set to %s\n", cfg.AccountID)
	return nil
}
