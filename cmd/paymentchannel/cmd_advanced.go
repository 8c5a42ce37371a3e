package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/nearai/pay-per-prompt/internal/codec"
	"github.com/nearai/pay-per-prompt/internal/senderclient"
)

// advancedCmd groups the operations an end user never needs but a
// receiver operator or developer exercising the protocol by hand does:
// submitting a withdraw directly, pulling a close payload without
// submitting it, and driving the force-close timeout manually.
var advancedCmd = &cobra.Command{
	Use:   "advanced",
	Short: "Low-level operations for operators and protocol debugging",
}

var advancedWithdrawCmd = &cobra.Command{
	Use:   "withdraw <payload>",
	Short: "Submit a sender-signed payload to the arbiter as a receiver withdraw",
	Args:  cobra.ExactArgs(1),
	RunE:  runAdvancedWithdraw,
}

var advancedClosePayloadCmd = &cobra.Command{
	Use:   "close-payload [channel_id]",
	Short: "Fetch a receiver-signed zero-balance close payload without submitting it",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runAdvancedClosePayload,
}

var advancedStartForceCloseCmd = &cobra.Command{
	Use:   "start-force-close [channel_id]",
	Short: "Start the force-close timeout on a channel",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runAdvancedStartForceClose,
}

var advancedFinishForceCloseCmd = &cobra.Command{
	Use:   "finish-force-close [channel_id]",
	Short: "Finish a force-close once the timeout has elapsed",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runAdvancedFinishForceClose,
}

func init() {
	rootCmd.AddCommand(advancedCmd)
	advancedCmd.AddCommand(advancedWithdrawCmd)
	advancedCmd.AddCommand(advancedClosePayloadCmd)
	advancedCmd.AddCommand(advancedStartForceCloseCmd)
	advancedCmd.AddCommand(advancedFinishForceCloseCmd)
}

// runAdvancedWithdraw decodes a sender-signed SignedState and submits it
// to the arbiter as a withdraw. The withdraw caller must be the channel's
// receiver; this command resolves that identity from the sender's own
// local record of the channel, which already carries the receiver's
// account id pinned at open time.
func runAdvancedWithdraw(cmd *cobra.Command, args []string) error {
	signed, err := codec.DecodeSignedStateB64(args[0])
	if err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}

	record, err := senderclient.LoadRecord(signed.State.ChannelID)
	if err != nil {
		return err
	}

	cfg, err := senderclient.LoadConfig()
	if err != nil {
		return err
	}
	arb := buildArbiterClient(cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := arb.Withdraw(ctx, record.Receiver.AccountID, signed); err != nil {
		return err
	}
	fmt.Printf("withdrew spent_balance %s on channel %s\n", signed.State.SpentBalance, signed.State.ChannelID)
	return nil
}

func runAdvancedClosePayload(cmd *cobra.Command, args []string) error {
	var explicit string
	if len(args) == 1 {
		explicit = args[0]
	}
	channelID, err := resolveChannelID(explicit)
	if err != nil {
		return err
	}

	cfg, err := senderclient.LoadConfig()
	if err != nil {
		return err
	}
	provider := buildProviderClient(cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	signed, err := provider.ClosePayload(ctx, channelID)
	if err != nil {
		return err
	}
	encoded, err := codec.EncodeSignedStateB64(signed)
	if err != nil {
		return err
	}
	fmt.Println(encoded)
	return nil
}

func runAdvancedStartForceClose(cmd *cobra.Command, args []string) error {
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

	if err := client.ForceCloseStart(ctx, channelID); err != nil {
		return err
	}
	fmt.Printf("force close started on channel %s; finish-force-close becomes valid after the timeout\n", channelID)
	return nil
}

func runAdvancedFinishForceClose(cmd *cobra.Command, args []string) error {
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

	if err := client.ForceCloseFinish(ctx, channelID); err != nil {
		return err
	}
	fmt.Printf("force close finished on channel %s\n", channelID)
	return nil
}
