package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignVerifyRoundTrip(t *testing.T) {
	kp, err := GenerateSigningKeyPair()
	require.NoError(t, err)

	msg := []byte("group rotation capsule")
	sig := Sign(kp.Private, msg)
	assert.Len(t, sig, SignatureSize)
	assert.True(t, Verify(kp.Public, msg, sig))
}

func TestVerifyRejectsWrongKey(t *testing.T) {
	a, err := GenerateSigningKeyPair()
	require.NoError(t, err)
	b, err := GenerateSigningKeyPair()
	require.NoError(t, err)

	msg := []byte("payload")
	sig := Sign(a.Private, msg)
	assert.False(t, Verify(b.Public, msg, sig))
}

func TestVerifyRejectsTamperedSignature(t *testing.T) {
	kp, err := GenerateSigningKeyPair()
	require.NoError(t, err)

	msg := []byte("payload")
	sig := Sign(kp.Private, msg)
	sig[0] ^= 0x01
	assert.False(t, Verify(kp.Public, msg, sig))
}

func TestDeriveSigningKeyPairIsDeterministic(t *testing.T) {
	seed := [32]byte{9, 9, 9}
	a, err := DeriveSigningKeyPair(seed)
	require.NoError(t, err)
	b, err := DeriveSigningKeyPair(seed)
	require.NoError(t, err)

	aPub, _ := a.PublicBytes()
	bPub, _ := b.PublicBytes()
	assert.Equal(t, aPub, bPub)
}
