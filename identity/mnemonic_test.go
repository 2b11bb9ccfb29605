package identity

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMnemonicRoundTrip(t *testing.T) {
	entropy, mnemonic, err := GenerateMnemonic()
	require.NoError(t, err)
	assert.Len(t, strings.Fields(mnemonic), 24)

	recovered, err := EntropyFromMnemonic(mnemonic)
	require.NoError(t, err)
	assert.Equal(t, entropy, recovered)
}

func TestEntropyFromMnemonicRejectsBadChecksum(t *testing.T) {
	_, mnemonic, err := GenerateMnemonic()
	require.NoError(t, err)

	words := strings.Fields(mnemonic)
	if words[0] == "abandon" {
		words[0] = "zoo"
	} else {
		words[0] = "abandon"
	}
	tampered := strings.Join(words, " ")

	_, err = EntropyFromMnemonic(tampered)
	assert.Error(t, err)
}

func TestSeedsFromMnemonicAreIndependentAndDeterministic(t *testing.T) {
	_, mnemonic, err := GenerateMnemonic()
	require.NoError(t, err)

	signA, encA, err := SeedsFromMnemonic(mnemonic, "")
	require.NoError(t, err)
	signB, encB, err := SeedsFromMnemonic(mnemonic, "")
	require.NoError(t, err)

	assert.Equal(t, signA, signB)
	assert.Equal(t, encA, encB)
	assert.NotEqual(t, signA, encA)

	_, withPass, err := GenerateMnemonic()
	require.NoError(t, err)
	_ = withPass
	signC, _, err := SeedsFromMnemonic(mnemonic, "passphrase")
	require.NoError(t, err)
	assert.NotEqual(t, signA, signC)
}
