package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var infoNoRefresh bool

var infoCmd = &cobra.Command{
	Use:   "info [channel_id]",
	Short: "Print a channel's local record",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runInfo,
}

func init() {
	infoCmd.Flags().BoolVarP(&infoNoRefresh, "no-refresh", "n", false, "skip refreshing from the arbiter before printing")
	rootCmd.AddCommand(infoCmd)
}

func runInfo(cmd *cobra.Command, args []string) error {
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

	record, err := client.Info(ctx, channelID, !infoNoRefresh)
	if err != nil {
		return err
	}

	raw, err := json.MarshalIndent(record.Redacted(), "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(raw))
	return nil
}
