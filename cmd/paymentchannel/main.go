package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "v0.1.0"

var rootCmd = &cobra.Command{
	Use:     "paymentchannel",
	Short:   "paymentchannel CLI - sender-side control for NEAR payment channels",
	Long:    "paymentchannel manages a sender's off-chain payment channels: opening, topping up, paying, and closing.",
	Version: version,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
