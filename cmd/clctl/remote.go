package main

import (
	"fmt"
	"os"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/accordsai/contractseal/pkg/canonhash"
	"github.com/accordsai/contractseal/pkg/client"
	"github.com/accordsai/contractseal/pkg/signature"
)

func defaultServer() string {
	if s := os.Getenv("CONTRACTSEAL_URL"); s != "" {
		return s
	}
	return "http://localhost:8080"
}

func newSubmitCommand() *cobra.Command {
	var (
		server     string
		keyPath    string
		contractID string
		idemKey    string
		timeout    time.Duration
	)
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Fetch a contract from the service, sign it and post the signature",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			k, err := readKeyFile(keyPath)
			if err != nil {
				return err
			}
			ctx, cancel := contextWithTimeout(cmd, timeout)
			defer cancel()

			api := client.New(server)
			got, err := api.Get(ctx, contractID)
			if err != nil {
				return err
			}
			c := got.Contract
			if c == nil {
				return fmt.Errorf("service returned no contract")
			}
			h, err := canonhash.ContractHash(c)
			if err != nil {
				return err
			}
			if h != c.ContentHash {
				return fmt.Errorf("service content_hash %s does not match recomputed %s", c.ContentHash, h)
			}
			sig, err := k.sign(signature.SigningMessage(c.ID, h))
			if err != nil {
				return err
			}
			if idemKey == "" {
				idemKey = uuid.NewString()
			}
			res, err := api.Sign(ctx, c.ID, client.SignRequest{
				SignerDID:          k.DID,
				Signature:          signature.EncodeSignature(sig),
				VerificationMethod: k.VerificationMethod,
			}, idemKey)
			if err != nil {
				return err
			}
			if res.Warning != nil {
				warn(cmd, "%s: %d ledger event(s) pending", res.Warning.Code, res.Warning.Pending)
			}
			b, err := json.MarshalIndent(res.Contract, "", "  ")
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), string(b))
			return err
		},
	}
	cmd.Flags().StringVar(&server, "server", defaultServer(), "contracts service base URL")
	cmd.Flags().StringVarP(&keyPath, "key", "k", "", "path to key file from keygen")
	cmd.Flags().StringVar(&contractID, "contract-id", "", "contract to sign")
	cmd.Flags().StringVar(&idemKey, "idempotency-key", "", "Idempotency-Key header (random when empty)")
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "request timeout")
	_ = cmd.MarkFlagRequired("key")
	_ = cmd.MarkFlagRequired("contract-id")
	return cmd
}

func newStatusCommand() *cobra.Command {
	var (
		server     string
		contractID string
		retry      bool
		timeout    time.Duration
	)
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Ask the service to verify a contract against the ledger",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := contextWithTimeout(cmd, timeout)
			defer cancel()

			api := client.New(server)
			if retry {
				rr, err := api.RetryLedger(ctx, contractID)
				if err != nil {
					return err
				}
				info(cmd, "recorded %d parked ledger event(s)", rr.Recorded)
			}
			v, err := api.Verify(ctx, contractID)
			if err != nil {
				return err
			}
			s := summary{Status: statusPass, ContractID: v.ContractID, ContentHash: v.ComputedHash, Signatures: v.SignatureCount}
			switch {
			case !v.Valid:
				s.Status, s.Reason = statusFail, "ledger hash "+v.LedgerHash+" does not match"
			case !v.BlockchainVerified:
				s.Status = statusFail
				s.Reason = fmt.Sprintf("not confirmed on ledger (pending=%d) %s", v.PendingEvents, v.LedgerError)
			}
			if err := s.print(cmd); err != nil {
				return err
			}
			if s.Status != statusPass {
				return errVerifyFailed
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&server, "server", defaultServer(), "contracts service base URL")
	cmd.Flags().StringVar(&contractID, "contract-id", "", "contract to verify")
	cmd.Flags().BoolVar(&retry, "retry-ledger", false, "flush parked ledger events first")
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "request timeout")
	_ = cmd.MarkFlagRequired("contract-id")
	return cmd
}
