package dht

import (
	"testing"

	"github.com/cloudflare/circl/sign"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dnanet/dna/dnaerr"
)

func TestNameRegistryFirstWriterWins(t *testing.T) {
	alice, aliceFP := newAuthor(t)
	bob, bobFP := newAuthor(t)
	bobFP = "bob"

	store := NewStore(resolverForKeys(map[string]sign.PublicKey{
		aliceFP: alice.Public,
		bobFP:   bob.Public,
	}))
	registry := NewNameRegistry(store)

	aliceValue := SignedValue{AuthorFP: aliceFP, Payload: []byte(aliceFP), SequenceNum: 1}
	aliceValue.Sign(alice)
	require.NoError(t, registry.Claim("shared-name", aliceValue))

	bobValue := SignedValue{AuthorFP: bobFP, Payload: []byte(bobFP), SequenceNum: 1}
	bobValue.Sign(bob)
	err := registry.Claim("shared-name", bobValue)
	require.Error(t, err)
	kind, ok := dnaerr.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, dnaerr.KindAlreadyExists, kind)

	resolved, ok2, err := registry.Resolve("shared-name")
	require.NoError(t, err)
	require.True(t, ok2)
	assert.Equal(t, aliceFP, resolved.AuthorFP)
}

func TestNameRegistryAllowsSameAuthorRepublish(t *testing.T) {
	alice, aliceFP := newAuthor(t)
	store := NewStore(resolverForKeys(map[string]sign.PublicKey{aliceFP: alice.Public}))
	registry := NewNameRegistry(store)

	first := SignedValue{AuthorFP: aliceFP, Payload: []byte("v1"), SequenceNum: 1}
	first.Sign(alice)
	require.NoError(t, registry.Claim("my-name", first))

	second := SignedValue{AuthorFP: aliceFP, Payload: []byte("v2"), SequenceNum: 2}
	second.Sign(alice)
	require.NoError(t, registry.Claim("my-name", second))

	resolved, ok, err := registry.Resolve("my-name")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("v2"), resolved.Payload)
}
