package contact

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dnanet/dna/crypto"
	"github.com/dnanet/dna/store"
)

func newTestContact(t *testing.T, fingerprint string) Contact {
	t.Helper()
	signing, err := crypto.GenerateSigningKeyPair()
	require.NoError(t, err)
	enc, err := crypto.GenerateKEMKeyPair()
	require.NoError(t, err)
	return Contact{
		Fingerprint:      fingerprint,
		Name:             "alice",
		ConnectionStatus: ConnectionUnknown,
		SigningPub:       signing.Public,
		EncryptionPub:    enc.Public,
		AddedAt:          time.Now(),
	}
}

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	s, err := store.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return NewManager(s)
}

func TestManagerAddGetRoundTrip(t *testing.T) {
	m := newTestManager(t)
	c := newTestContact(t, "fp1")
	require.NoError(t, m.Add(c))

	got, err := m.Get("fp1")
	require.NoError(t, err)
	assert.Equal(t, c.Fingerprint, got.Fingerprint)
	assert.Equal(t, c.Name, got.Name)
	assert.Equal(t, ConnectionUnknown, got.ConnectionStatus)
}

func TestManagerRejectsDuplicateFingerprint(t *testing.T) {
	m := newTestManager(t)
	c := newTestContact(t, "fp1")
	require.NoError(t, m.Add(c))
	err := m.Add(c)
	require.Error(t, err)
}

func TestManagerListOrdersByAddedAt(t *testing.T) {
	m := newTestManager(t)
	require.NoError(t, m.Add(newTestContact(t, "fp1")))
	require.NoError(t, m.Add(newTestContact(t, "fp2")))

	list, err := m.List()
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "fp1", list[0].Fingerprint)
	assert.Equal(t, "fp2", list[1].Fingerprint)
}

func TestManagerSetConnectionStatus(t *testing.T) {
	m := newTestManager(t)
	require.NoError(t, m.Add(newTestContact(t, "fp1")))
	require.NoError(t, m.SetConnectionStatus("fp1", ConnectionDirect))

	got, err := m.Get("fp1")
	require.NoError(t, err)
	assert.Equal(t, ConnectionDirect, got.ConnectionStatus)
}

func TestManagerSetConnectionStatusUnknownContact(t *testing.T) {
	m := newTestManager(t)
	err := m.SetConnectionStatus("nope", ConnectionDirect)
	require.Error(t, err)
}

func TestManagerRemove(t *testing.T) {
	m := newTestManager(t)
	require.NoError(t, m.Add(newTestContact(t, "fp1")))
	require.NoError(t, m.Remove("fp1"))

	_, err := m.Get("fp1")
	require.Error(t, err)
}
