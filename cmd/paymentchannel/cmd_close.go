package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var closePayload string

var closeCmd = &cobra.Command{
	Use:   "close [channel_id]",
	Short: "Cooperatively close a payment channel",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runClose,
}

func init() {
	closeCmd.Flags().StringVarP(&closePayload, "payload", "p", "", "receiver-signed close payload, base64 (fetched from the receiver if omitted)")
	rootCmd.AddCommand(closeCmd)
}

func runClose(cmd *cobra.Command, args []string) error {
	var explicit string
	if len(args) == 1 {
		explicit = args[0]
	}
	channelID, err := resolveChannelID(explicit)
	if err != nil {
		return err
	}

	client, _, err := buildClient()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := client.Close(ctx, channelID, closePayload); err != nil {
		return err
	}

	fmt.Printf("closed channel %s\n", channelID)
	return nil
}
