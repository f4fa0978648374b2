package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "shiftstream",
	Short: "Crypto payment-link settlement service",
	Long:  "Turns cross-chain swap deposits into direct, escrow and split settlements, with polling, notification and alerting jobs.",
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
