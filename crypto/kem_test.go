package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKEMEncapsulateDecapsulateRoundTrip(t *testing.T) {
	kp, err := GenerateKEMKeyPair()
	require.NoError(t, err)

	ct, ss, err := Encapsulate(kp.Public)
	require.NoError(t, err)
	assert.Len(t, ct, KEMCiphertextSize)
	assert.Len(t, ss, KEMSharedSecretSize)

	recovered, err := Decapsulate(kp.Private, ct)
	require.NoError(t, err)
	assert.Equal(t, ss, recovered)
}

func TestDeriveKEMKeyPairIsDeterministic(t *testing.T) {
	var seed [32]byte
	for i := range seed {
		seed[i] = byte(i + 1)
	}

	a, err := DeriveKEMKeyPair(seed)
	require.NoError(t, err)
	b, err := DeriveKEMKeyPair(seed)
	require.NoError(t, err)

	aPub, err := a.PublicBytes()
	require.NoError(t, err)
	bPub, err := b.PublicBytes()
	require.NoError(t, err)
	assert.Equal(t, aPub, bPub)
}

func TestDeriveKEMKeyPairDiffersByseed(t *testing.T) {
	seedA := [32]byte{1}
	seedB := [32]byte{2}

	a, err := DeriveKEMKeyPair(seedA)
	require.NoError(t, err)
	b, err := DeriveKEMKeyPair(seedB)
	require.NoError(t, err)

	aPub, _ := a.PublicBytes()
	bPub, _ := b.PublicBytes()
	assert.NotEqual(t, aPub, bPub)
}
