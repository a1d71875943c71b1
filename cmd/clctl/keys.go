package main

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/accordsai/contractseal/pkg/did"
	"github.com/accordsai/contractseal/pkg/did/didkey"
	"github.com/accordsai/contractseal/pkg/signature"
)

// keyFile is the on-disk form of a signing key. PrivateKeyHex holds the
// ed25519 seed or the secp256k1 scalar.
type keyFile struct {
	Scheme             string `json:"scheme"`
	DID                string `json:"did"`
	VerificationMethod string `json:"verification_method"`
	PrivateKeyHex      string `json:"private_key_hex"`
}

func generateKey(scheme string) (*keyFile, error) {
	var (
		codec uint64
		pub   []byte
		priv  []byte
	)
	switch scheme {
	case signature.SchemeEd25519:
		p, k, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return nil, err
		}
		codec, pub, priv = did.CodecEd25519Pub, p, k.Seed()
	case signature.SchemeSecp256k1:
		k, err := secp256k1.GeneratePrivateKey()
		if err != nil {
			return nil, err
		}
		codec, pub, priv = did.CodecSecp256k1Pub, k.PubKey().SerializeCompressed(), k.Serialize()
	default:
		return nil, fmt.Errorf("unsupported scheme %q (want %s or %s)", scheme, signature.SchemeEd25519, signature.SchemeSecp256k1)
	}
	id, err := didkey.FromPublicKey(codec, pub)
	if err != nil {
		return nil, err
	}
	return &keyFile{
		Scheme:             scheme,
		DID:                id,
		VerificationMethod: didkey.MethodID(id),
		PrivateKeyHex:      hex.EncodeToString(priv),
	}, nil
}

func readKeyFile(path string) (*keyFile, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read key: %w", err)
	}
	var k keyFile
	if err := json.Unmarshal(b, &k); err != nil {
		return nil, fmt.Errorf("parse key: %w", err)
	}
	if k.DID == "" || k.VerificationMethod == "" || k.PrivateKeyHex == "" {
		return nil, fmt.Errorf("key file %s is missing did, verification_method or private_key_hex", path)
	}
	return &k, nil
}

// sign signs message with the key's scheme.
func (k *keyFile) sign(message []byte) ([]byte, error) {
	raw, err := hex.DecodeString(strings.TrimSpace(k.PrivateKeyHex))
	if err != nil {
		return nil, fmt.Errorf("private key: %w", err)
	}
	switch k.Scheme {
	case signature.SchemeEd25519:
		if len(raw) != ed25519.SeedSize {
			return nil, fmt.Errorf("ed25519 seed must be %d bytes, got %d", ed25519.SeedSize, len(raw))
		}
		return signature.SignEd25519(ed25519.NewKeyFromSeed(raw), message), nil
	case signature.SchemeSecp256k1:
		if len(raw) != 32 {
			return nil, fmt.Errorf("secp256k1 key must be 32 bytes, got %d", len(raw))
		}
		return signature.SignSecp256k1(secp256k1.PrivKeyFromBytes(raw), message), nil
	default:
		return nil, fmt.Errorf("unsupported scheme %q", k.Scheme)
	}
}

func newKeygenCommand() *cobra.Command {
	var (
		scheme string
		out    string
	)
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate a did:key signing key",
		Example: `  clctl keygen
  clctl keygen --scheme secp256k1 --out bob.key.json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			k, err := generateKey(strings.ToLower(scheme))
			if err != nil {
				return err
			}
			b, err := json.MarshalIndent(k, "", "  ")
			if err != nil {
				return err
			}
			if out == "" {
				_, err = fmt.Fprintln(cmd.OutOrStdout(), string(b))
				return err
			}
			if err := os.WriteFile(out, append(b, '\n'), 0o600); err != nil {
				return fmt.Errorf("write key: %w", err)
			}
			info(cmd, "wrote %s for %s", out, k.DID)
			return nil
		},
	}
	cmd.Flags().StringVar(&scheme, "scheme", signature.SchemeEd25519, "key scheme: ed25519 or secp256k1")
	cmd.Flags().StringVarP(&out, "out", "o", "", "write the key to this file instead of stdout")
	return cmd
}
