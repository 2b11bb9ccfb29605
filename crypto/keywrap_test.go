package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyWrapRoundTrip(t *testing.T) {
	kek := make([]byte, 32)
	for i := range kek {
		kek[i] = byte(i)
	}
	dek, err := GenerateDEK()
	require.NoError(t, err)

	wrapped, err := WrapKey(kek, dek)
	require.NoError(t, err)
	assert.Len(t, wrapped, len(dek)+8)

	unwrapped, err := UnwrapKey(kek, wrapped)
	require.NoError(t, err)
	assert.Equal(t, dek, unwrapped)
}

func TestKeyUnwrapRejectsTamperedIntegrityCheck(t *testing.T) {
	kek := make([]byte, 32)
	dek, err := GenerateDEK()
	require.NoError(t, err)

	wrapped, err := WrapKey(kek, dek)
	require.NoError(t, err)
	wrapped[0] ^= 0xFF

	_, err = UnwrapKey(kek, wrapped)
	require.Error(t, err)
}
