package safety

import (
	"crypto/ed25519"
	"encoding/hex"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/sha3"
)

func TestVerifyECDSASignature_ValidSignatureVerifies(t *testing.T) {
	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	msg := []byte("deposit:TOK:100")
	h := sha3.NewLegacyKeccak256()
	h.Write(msg)
	hash := h.Sum(nil)
	sig := ecdsa.Sign(priv, hash)

	ok, err := VerifyECDSASignature(msg, hex.EncodeToString(sig.Serialize()), hex.EncodeToString(priv.PubKey().SerializeCompressed()))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestVerifyECDSASignature_WrongKeyFails(t *testing.T) {
	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	other, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	msg := []byte("deposit:TOK:100")
	h := sha3.NewLegacyKeccak256()
	h.Write(msg)
	hash := h.Sum(nil)
	sig := ecdsa.Sign(priv, hash)

	ok, err := VerifyECDSASignature(msg, hex.EncodeToString(sig.Serialize()), hex.EncodeToString(other.PubKey().SerializeCompressed()))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestVerifyECDSASignature_MalformedInputsError(t *testing.T) {
	_, err := VerifyECDSASignature([]byte("x"), "not-hex", "alsonothex")
	assert.Error(t, err)
}

func TestVerifyEd25519Signature_ValidSignatureVerifies(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	msg := []byte("withdraw:TOK:50")
	sig := ed25519.Sign(priv, msg)

	ok, err := VerifyEd25519Signature(msg, hex.EncodeToString(sig), hex.EncodeToString(pub))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestVerifyEd25519Signature_TamperedMessageFails(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	sig := ed25519.Sign(priv, []byte("withdraw:TOK:50"))

	ok, err := VerifyEd25519Signature([]byte("withdraw:TOK:51"), hex.EncodeToString(sig), hex.EncodeToString(pub))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestVerifyEd25519Signature_WrongKeySizeErrors(t *testing.T) {
	_, err := VerifyEd25519Signature([]byte("x"), "ab", "ab")
	assert.Error(t, err)
}
