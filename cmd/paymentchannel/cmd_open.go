package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var openCmd = &cobra.Command{
	Use:   "open <amount>",
	Short: "Open a new payment channel with the configured receiver",
	Args:  cobra.ExactArgs(1),
	RunE:  runOpen,
}

func init() {
	rootCmd.AddCommand(openCmd)
}

func runOpen(cmd *cobra.Command, args []string) error {
	deposit, err := parseBalance(args[0])
	if err != nil {
		return err
	}

	client, _, err := buildClient()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	record, err := client.Open(ctx, deposit)
	if err != nil {
		return err
	}

	fmt.Printf("opened channel %s with %s (deposit %s)\n", record.ChannelID, record.Receiver.AccountID, deposit)
	return nil
}
