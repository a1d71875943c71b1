package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	"github.com/accordsai/contractseal/pkg/canonhash"
	"github.com/accordsai/contractseal/pkg/domain"
	"github.com/accordsai/contractseal/pkg/signature"
)

// readContract accepts either a bare contract or the {"contract": ...}
// envelope the service returns.
func readContract(path string) (*domain.Contract, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read contract: %w", err)
	}
	var env struct {
		Contract *domain.Contract `json:"contract"`
	}
	if err := json.Unmarshal(b, &env); err == nil && env.Contract != nil {
		return env.Contract, nil
	}
	var c domain.Contract
	if err := json.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse contract: %w", err)
	}
	if c.ID == "" {
		return nil, fmt.Errorf("contract in %s has no id", path)
	}
	return &c, nil
}

func newHashCommand() *cobra.Command {
	var contractPath string
	cmd := &cobra.Command{
		Use:   "hash",
		Short: "Recompute a contract's content hash",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := readContract(contractPath)
			if err != nil {
				return err
			}
			h, err := canonhash.ContractHash(c)
			if err != nil {
				return err
			}
			s := summary{Status: statusPass, ContractID: c.ID, ContentHash: h}
			if c.ContentHash != "" && c.ContentHash != h {
				s.Status = statusFail
				s.Reason = "stored content_hash " + c.ContentHash + " does not match"
			}
			return s.print(cmd)
		},
	}
	cmd.Flags().StringVarP(&contractPath, "contract", "c", "", "path to contract json")
	_ = cmd.MarkFlagRequired("contract")
	return cmd
}

func newSignCommand() *cobra.Command {
	var (
		keyPath      string
		contractPath string
		out          string
	)
	cmd := &cobra.Command{
		Use:   "sign",
		Short: "Sign a contract and print the signature request body",
		Long: `Sign a contract and print the signature request body

The content hash is recomputed from the contract material; the stored
content_hash is not trusted. The output can be POSTed as-is to
/contracts/{id}/signatures.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			k, err := readKeyFile(keyPath)
			if err != nil {
				return err
			}
			c, err := readContract(contractPath)
			if err != nil {
				return err
			}
			h, err := canonhash.ContractHash(c)
			if err != nil {
				return err
			}
			if c.ContentHash != "" && c.ContentHash != h {
				warn(cmd, "stored content_hash differs from recomputed %s", h)
			}
			sig, err := k.sign(signature.SigningMessage(c.ID, h))
			if err != nil {
				return err
			}
			body := map[string]string{
				"signer_did":          k.DID,
				"signature":           signature.EncodeSignature(sig),
				"verification_method": k.VerificationMethod,
			}
			b, err := json.MarshalIndent(body, "", "  ")
			if err != nil {
				return err
			}
			if out == "" {
				_, err = fmt.Fprintln(cmd.OutOrStdout(), string(b))
				return err
			}
			if err := os.WriteFile(out, append(b, '\n'), 0o644); err != nil {
				return fmt.Errorf("write signature: %w", err)
			}
			info(cmd, "signed %s as %s", c.ID, k.DID)
			return nil
		},
	}
	cmd.Flags().StringVarP(&keyPath, "key", "k", "", "path to key file from keygen")
	cmd.Flags().StringVarP(&contractPath, "contract", "c", "", "path to contract json")
	cmd.Flags().StringVarP(&out, "out", "o", "", "write the body to this file instead of stdout")
	_ = cmd.MarkFlagRequired("key")
	_ = cmd.MarkFlagRequired("contract")
	return cmd
}

func newVerifyCommand() *cobra.Command {
	var (
		contractPath string
		ropts        resolverOptions
		timeout      time.Duration
	)
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Re-verify every signature stored on a contract",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := readContract(contractPath)
			if err != nil {
				return err
			}
			resolver, closeFn, err := ropts.build()
			if err != nil {
				return err
			}
			defer closeFn()

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			s := verifyContract(ctx, resolver, c)
			if err := s.print(cmd); err != nil {
				return err
			}
			if s.Status != statusPass {
				return errVerifyFailed
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&contractPath, "contract", "c", "", "path to contract json")
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "overall resolution timeout")
	ropts.register(cmd)
	_ = cmd.MarkFlagRequired("contract")
	return cmd
}

func verifyContract(ctx context.Context, resolver resolverFunc, c *domain.Contract) summary {
	s := summary{Status: statusPass, ContractID: c.ID, Signatures: len(c.Signatures)}
	h, err := canonhash.ContractHash(c)
	if err != nil {
		s.Status, s.Reason = statusFail, err.Error()
		return s
	}
	s.ContentHash = h

	var errs error
	if c.ContentHash != "" && c.ContentHash != h {
		errs = multierr.Append(errs, fmt.Errorf("stored content_hash %s does not match", c.ContentHash))
	}
	msg := signature.SigningMessage(c.ID, h)
	for _, sig := range c.Signatures {
		if !c.IsParty(sig.SignerDID) {
			errs = multierr.Append(errs, fmt.Errorf("%s is not a party", sig.SignerDID))
			continue
		}
		doc, err := resolver(ctx, sig.SignerDID)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", sig.SignerDID, err))
			continue
		}
		m, err := doc.FindMethod(sig.VerificationMethod)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", sig.SignerDID, err))
			continue
		}
		raw, err := signature.DecodeSignature(sig.Signature)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", sig.SignerDID, err))
			continue
		}
		ok, err := signature.Verify(msg, raw, m)
		if err == nil && !ok {
			err = fmt.Errorf("signature does not verify against %s", m.ID)
		}
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", sig.SignerDID, err))
		}
	}
	if errs != nil {
		s.Status = statusFail
		s.Reason = errs.Error()
	}
	return s
}
