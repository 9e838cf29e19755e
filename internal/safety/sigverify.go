package safety

import (
	"crypto/ed25519"
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"golang.org/x/crypto/sha3"
)

// VerifyECDSASignature recovers and checks a secp256k1 signature the way a
// real Chain-A (EVM-compatible) adapter's VerifySignature would, hashing
// msg with Keccak256 and checking sigHex (DER-encoded) against pubKeyHex
// (compressed or uncompressed SEC1 encoding). It is the reference
// implementation spec §4.2's ECDSA/keccak recovery row names; memadapter
// stays a plain boolean fake (see DESIGN.md) and a concrete Chain-A client
// would call this instead.
func VerifyECDSASignature(msg []byte, sigHex, pubKeyHex string) (bool, error) {
	pubKeyBytes, err := hex.DecodeString(pubKeyHex)
	if err != nil {
		return false, fmt.Errorf("sigverify: decode pubkey: %w", err)
	}
	pubKey, err := btcec.ParsePubKey(pubKeyBytes)
	if err != nil {
		return false, fmt.Errorf("sigverify: parse pubkey: %w", err)
	}
	sigBytes, err := hex.DecodeString(sigHex)
	if err != nil {
		return false, fmt.Errorf("sigverify: decode signature: %w", err)
	}
	sig, err := ecdsa.ParseDERSignature(sigBytes)
	if err != nil {
		return false, fmt.Errorf("sigverify: parse signature: %w", err)
	}
	hasher := sha3.NewLegacyKeccak256()
	hasher.Write(msg)
	return sig.Verify(hasher.Sum(nil), pubKey), nil
}

// VerifyEd25519Signature checks a signature against Chain-B's Ed25519
// key scheme (spec §4.2's Ed25519 recovery row).
func VerifyEd25519Signature(msg []byte, sigHex, pubKeyHex string) (bool, error) {
	pubKeyBytes, err := hex.DecodeString(pubKeyHex)
	if err != nil {
		return false, fmt.Errorf("sigverify: decode pubkey: %w", err)
	}
	if len(pubKeyBytes) != ed25519.PublicKeySize {
		return false, fmt.Errorf("sigverify: pubkey must be %d bytes, got %d", ed25519.PublicKeySize, len(pubKeyBytes))
	}
	sigBytes, err := hex.DecodeString(sigHex)
	if err != nil {
		return false, fmt.Errorf("sigverify: decode signature: %w", err)
	}
	return ed25519.Verify(ed25519.PublicKey(pubKeyBytes), msg, sigBytes), nil
}
