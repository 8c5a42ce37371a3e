package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var topupAmount string

var topupCmd = &cobra.Command{
	Use:   "topup [channel_id]",
	Short: "Add balance to an existing payment channel",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runTopup,
}

func init() {
	topupCmd.Flags().StringVarP(&topupAmount, "amount", "a", "", "amount to add, yoctoNEAR")
	topupCmd.MarkFlagRequired("amount")
	rootCmd.AddCommand(topupCmd)
}

func runTopup(cmd *cobra.Command, args []string) error {
	var explicit string
	if len(args) == 1 {
		explicit = args[0]
	}
	channelID, err := resolveChannelID(explicit)
	if err != nil {
		return err
	}

	amount, err := parseBalance(topupAmount)
	if err != nil {
		return err
	}

	client, _, err := buildClient()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	record, err := client.Topup(ctx, channelID, amount)
	if err != nil {
		return err
	}

	fmt.Printf("topped up channel %s; added_balance now %s\n", record.ChannelID, record.AddedBalance)
	return nil
}
