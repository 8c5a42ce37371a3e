package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nearai/pay-per-prompt/internal/codec"
)

var sendNoSave bool

var sendCmd = &cobra.Command{
	Use:   "send <amount> [channel_id]",
	Short: "Produce the next off-chain signed payment for delivery to the receiver",
	Args:  cobra.RangeArgs(1, 2),
	RunE:  runSend,
}

func init() {
	sendCmd.Flags().BoolVarP(&sendNoSave, "no-save", "n", false, "do not persist the advanced spent_balance locally")
	rootCmd.AddCommand(sendCmd)
}

func runSend(cmd *cobra.Command, args []string) error {
	amount, err := parseBalance(args[0])
	if err != nil {
		return err
	}
	var explicit string
	if len(args) == 2 {
		explicit = args[1]
	}
	channelID, err := resolveChannelID(explicit)
	if err != nil {
		return err
	}

	client, _, err := buildClient()
	if err != nil {
		return err
	}

	signed, record, err := client.Send(channelID, amount, !sendNoSave)
	if err != nil {
		return err
	}

	encoded, err := codec.EncodeSignedStateB64(signed)
	if err != nil {
		return err
	}

	fmt.Println(encoded)
	fmt.Fprintf(cmd.ErrOrStderr(), "spent_balance now %s of %s available on channel %s\n", signed.State.SpentBalance, record.Available(), channelID)
	return nil
}
