package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "clctl",
		Short: "Offline tooling for signed contracts",
		Long: `Offline tooling for signed contracts

Generate did:key signing keys, compute content hashes, produce the
signature body the contracts service accepts and re-verify the
signatures stored on an exported contract.`,
		Example: `  # New ed25519 key
  clctl keygen --out alice.key.json

  # Sign an exported contract
  clctl sign --key alice.key.json --contract contract.json

  # Check every stored signature
  clctl verify --contract contract.json`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.AddCommand(newKeygenCommand())
	cmd.AddCommand(newHashCommand())
	cmd.AddCommand(newSignCommand())
	cmd.AddCommand(newVerifyCommand())
	cmd.AddCommand(newDIDCommand())
	cmd.AddCommand(newSubmitCommand())
	cmd.AddCommand(newStatusCommand())
	return cmd
}

func contextWithTimeout(cmd *cobra.Command, d time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), d)
}
