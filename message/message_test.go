package message

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dnanet/dna/dnaerr"
	"github.com/dnanet/dna/store"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := store.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return NewStore(s)
}

func TestAppendAllocatesIncreasingStoreOrder(t *testing.T) {
	s := newTestStore(t)

	m1, err := s.Append(Message{ContactFP: "fp1", Direction: DirectionOutgoing, Status: StatusPending, Body: []byte("hi")})
	require.NoError(t, err)
	m2, err := s.Append(Message{ContactFP: "fp1", Direction: DirectionOutgoing, Status: StatusPending, Body: []byte("there")})
	require.NoError(t, err)

	assert.Greater(t, m2.StoreOrder, m1.StoreOrder)
	assert.NotEmpty(t, m1.ID)
	assert.NotEqual(t, m1.ID, m2.ID)
}

func TestSetStatusAllowsLegalTransition(t *testing.T) {
	s := newTestStore(t)
	m, err := s.Append(Message{ContactFP: "fp1", Direction: DirectionOutgoing, Status: StatusPending, Body: []byte("hi")})
	require.NoError(t, err)

	require.NoError(t, s.SetStatus(m.ID, StatusSent))
	require.NoError(t, s.SetStatus(m.ID, StatusDelivered))
	require.NoError(t, s.SetStatus(m.ID, StatusRead))
}

func TestSetStatusRejectsIllegalTransition(t *testing.T) {
	s := newTestStore(t)
	m, err := s.Append(Message{ContactFP: "fp1", Direction: DirectionOutgoing, Status: StatusPending, Body: []byte("hi")})
	require.NoError(t, err)

	err = s.SetStatus(m.ID, StatusRead)
	require.Error(t, err)
}

func TestSetStatusUnknownMessage(t *testing.T) {
	s := newTestStore(t)
	err := s.SetStatus("nope", StatusSent)
	require.Error(t, err)
}

func TestListForContactOrdersByStoreOrder(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Append(Message{ContactFP: "fp1", Direction: DirectionOutgoing, Status: StatusPending, Body: []byte("1")})
	require.NoError(t, err)
	_, err = s.Append(Message{ContactFP: "fp1", Direction: DirectionIncoming, Status: StatusDelivered, Body: []byte("2")})
	require.NoError(t, err)
	_, err = s.Append(Message{ContactFP: "fp2", Direction: DirectionOutgoing, Status: StatusPending, Body: []byte("other")})
	require.NoError(t, err)

	list, err := s.ListForContact("fp1", 10)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, []byte("1"), list[0].Body)
	assert.Equal(t, []byte("2"), list[1].Body)
}

func TestListForGroupIsolatesFromContactHistory(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Append(Message{GroupID: "g1", Direction: DirectionOutgoing, Status: StatusPending, Body: []byte("g")})
	require.NoError(t, err)
	_, err = s.Append(Message{ContactFP: "fp1", Direction: DirectionOutgoing, Status: StatusPending, Body: []byte("c")})
	require.NoError(t, err)

	list, err := s.ListForGroup("g1", 10)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, []byte("g"), list[0].Body)
}

func TestAppendRejectsDuplicateSigHash(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Append(Message{ContactFP: "fp1", Direction: DirectionIncoming, Status: StatusDelivered, Body: []byte("hi"), SigHash: "deadbeef"})
	require.NoError(t, err)

	_, err = s.Append(Message{ContactFP: "fp1", Direction: DirectionIncoming, Status: StatusDelivered, Body: []byte("hi again"), SigHash: "deadbeef"})
	require.Error(t, err)
	kind, ok := dnaerr.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, dnaerr.KindAlreadyExists, kind)

	list, err := s.ListForContact("fp1", 10)
	require.NoError(t, err)
	require.Len(t, list, 1)
}

func TestAppendAllowsMultipleEmptySigHashes(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Append(Message{ContactFP: "fp1", Direction: DirectionOutgoing, Status: StatusPending, Body: []byte("1")})
	require.NoError(t, err)
	_, err = s.Append(Message{ContactFP: "fp1", Direction: DirectionOutgoing, Status: StatusPending, Body: []byte("2")})
	require.NoError(t, err)

	list, err := s.ListForContact("fp1", 10)
	require.NoError(t, err)
	require.Len(t, list, 2)
}

func TestCanTransition(t *testing.T) {
	assert.True(t, CanTransition(StatusPending, StatusSent))
	assert.True(t, CanTransition(StatusFailed, StatusPending))
	assert.False(t, CanTransition(StatusRead, StatusPending))
	assert.False(t, CanTransition(StatusPending, StatusRead))
}
