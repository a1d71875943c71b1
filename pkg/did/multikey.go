package did

import (
	"fmt"

	"github.com/multiformats/go-multibase"
	"github.com/multiformats/go-varint"
)

// Multicodec prefixes for public keys.
const (
	CodecEd25519Pub   uint64 = 0xed
	CodecSecp256k1Pub uint64 = 0xe7
	CodecP256Pub      uint64 = 0x1200
)

// DecodeMultikey decodes a multibase, multicodec-prefixed public key such as
// the "z6Mk..." identifier of a did:key.
func DecodeMultikey(s string) (codec uint64, key []byte, err error) {
	_, data, err := multibase.Decode(s)
	if err != nil {
		return 0, nil, fmt.Errorf("multikey: %w", err)
	}
	codec, n, err := varint.FromUvarint(data)
	if err != nil {
		return 0, nil, fmt.Errorf("multikey: codec: %w", err)
	}
	key = data[n:]
	if len(key) == 0 {
		return 0, nil, fmt.Errorf("multikey: empty key")
	}
	return codec, key, nil
}

// EncodeMultikey is the inverse of DecodeMultikey, always base58btc.
func EncodeMultikey(codec uint64, key []byte) (string, error) {
	buf := append(varint.ToUvarint(codec), key...)
	return multibase.Encode(multibase.Base58BTC, buf)
}

// CodecName maps a multicodec to the scheme names used across the module.
func CodecName(codec uint64) string {
	switch codec {
	case CodecEd25519Pub:
		return "ed25519"
	case CodecSecp256k1Pub:
		return "secp256k1"
	case CodecP256Pub:
		return "p256"
	default:
		return "unknown"
	}
}
