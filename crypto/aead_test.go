package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dnanet/dna/dnaerr"
)

func TestAEADRoundTrip(t *testing.T) {
	key, err := GenerateDEK()
	require.NoError(t, err)
	nonce, err := GenerateNonce()
	require.NoError(t, err)

	plaintext := []byte("hello")
	ciphertext, err := AEADSeal(key, nonce, plaintext, nil)
	require.NoError(t, err)
	assert.NotEqual(t, plaintext, ciphertext)

	recovered, err := AEADOpen(key, nonce, ciphertext, nil)
	require.NoError(t, err)
	assert.Equal(t, plaintext, recovered)
}

func TestAEADOpenRejectsBitFlip(t *testing.T) {
	key, err := GenerateDEK()
	require.NoError(t, err)
	nonce, err := GenerateNonce()
	require.NoError(t, err)

	ciphertext, err := AEADSeal(key, nonce, []byte("signed"), nil)
	require.NoError(t, err)

	tampered := append([]byte(nil), ciphertext...)
	tampered[0] ^= 0x01

	_, err = AEADOpen(key, nonce, tampered, nil)
	require.Error(t, err)
	kind, ok := dnaerr.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, dnaerr.KindCrypto, kind)
}

func TestAEADRejectsBadKeySize(t *testing.T) {
	_, err := AEADSeal(make([]byte, 10), [AEADNonceSize]byte{}, []byte("x"), nil)
	require.Error(t, err)
}
