package verifier

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"golang.org/x/crypto/blake2b"
)

// stakeKeyHashLen is the blake2b-224 digest length used for Cardano key
// hashes. A stake key may arrive as the bare 28-byte hash or as a 29-byte
// reward address (network byte + hash).
const stakeKeyHashLen = 28

// CIP8Verifier verifies CIP-8 style data signatures: an Ed25519 signature
// carried either raw or inside a COSE_Sign1 envelope, with the signing key
// bound to the stake key by its blake2b-224 hash.
type CIP8Verifier struct{}

func NewCIP8Verifier() *CIP8Verifier {
	return &CIP8Verifier{}
}

// coseSign1 is the COSE_Sign1 array layout:
// [protected bstr, unprotected map, payload bstr/nil, signature bstr].
type coseSign1 struct {
	_           struct{} `cbor:",toarray"`
	Protected   []byte
	Unprotected cbor.RawMessage
	Payload     []byte
	Signature   []byte
}

func (v *CIP8Verifier) Verify(ctx context.Context, signature, publicKey, message []byte, stakeKey string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, nil
	}

	pub, err := parseVerificationKey(publicKey)
	if err != nil {
		return false, err
	}

	keyHash, err := parseStakeKeyHash(stakeKey)
	if err != nil {
		return false, err
	}

	// Identity binding: the verification key must hash to the stake key.
	hasher, err := blake2b.New(stakeKeyHashLen, nil)
	if err != nil {
		return false, fmt.Errorf("init blake2b: %w", err)
	}
	hasher.Write(pub)
	if !bytes.Equal(hasher.Sum(nil), keyHash) {
		return false, nil
	}

	// Raw 64-byte Ed25519 signature over the message itself.
	if len(signature) == ed25519.SignatureSize {
		return ed25519.Verify(pub, message, signature), nil
	}

	// Otherwise the signature must be a COSE_Sign1 envelope.
	var envelope coseSign1
	if err := cbor.Unmarshal(signature, &envelope); err != nil {
		return false, fmt.Errorf("decode COSE_Sign1: %w", err)
	}
	if len(envelope.Signature) != ed25519.SignatureSize {
		return false, nil
	}

	// A detached payload means the message stands in; an embedded payload
	// must match the message byte for byte.
	payload := envelope.Payload
	if payload == nil {
		payload = message
	} else if !bytes.Equal(payload, message) {
		return false, nil
	}

	signed, err := sigStructure(envelope.Protected, payload)
	if err != nil {
		return false, err
	}

	return ed25519.Verify(pub, signed, envelope.Signature), nil
}

// sigStructure builds the COSE Sig_structure the wallet actually signed:
// ["Signature1", protected, external_aad = h'', payload].
func sigStructure(protected, payload []byte) ([]byte, error) {
	if protected == nil {
		protected = []byte{}
	}
	structure := []interface{}{"Signature1", protected, []byte{}, payload}
	data, err := cbor.Marshal(structure)
	if err != nil {
		return nil, fmt.Errorf("encode Sig_structure: %w", err)
	}
	return data, nil
}

// parseVerificationKey accepts a raw 32-byte Ed25519 key or a CBOR
// COSE_Key map carrying the key in the -2 (x coordinate) field.
func parseVerificationKey(publicKey []byte) (ed25519.PublicKey, error) {
	if len(publicKey) == ed25519.PublicKeySize {
		return ed25519.PublicKey(publicKey), nil
	}

	var coseKey map[int]cbor.RawMessage
	if err := cbor.Unmarshal(publicKey, &coseKey); err != nil {
		return nil, fmt.Errorf("public key is neither raw Ed25519 nor COSE_Key: %w", err)
	}

	raw, ok := coseKey[-2]
	if !ok {
		return nil, fmt.Errorf("COSE_Key has no x coordinate")
	}
	var x []byte
	if err := cbor.Unmarshal(raw, &x); err != nil {
		return nil, fmt.Errorf("decode COSE_Key x coordinate: %w", err)
	}
	if len(x) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("COSE_Key x coordinate has length %d, want %d", len(x), ed25519.PublicKeySize)
	}
	return ed25519.PublicKey(x), nil
}

// parseStakeKeyHash accepts hex of the bare key hash or of a reward
// address and returns the trailing 28 hash bytes.
func parseStakeKeyHash(stakeKey string) ([]byte, error) {
	raw, err := hex.DecodeString(stakeKey)
	if err != nil {
		return nil, fmt.Errorf("decode stake key hex: %w", err)
	}
	switch len(raw) {
	case stakeKeyHashLen:
		return raw, nil
	case stakeKeyHashLen + 1:
		return raw[1:], nil
	default:
		return nil, fmt.Errorf("stake key has length %d, want %d or %d", len(raw), stakeKeyHashLen, stakeKeyHashLen+1)
	}
}
