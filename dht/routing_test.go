package dht

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func idFromByte(b byte) ID {
	var id ID
	id[0] = b
	return id
}

func addr(t *testing.T, s string) net.Addr {
	t.Helper()
	a, err := net.ResolveUDPAddr("udp", s)
	require.NoError(t, err)
	return a
}

func TestRoutingTableAddAndFindClosest(t *testing.T) {
	self := idFromByte(0x00)
	rt := NewRoutingTable(self)

	for i := 1; i <= 5; i++ {
		node := NewNode(idFromByte(byte(i)), addr(t, "127.0.0.1:1000"))
		assert.True(t, rt.AddNode(node))
	}

	closest := rt.FindClosestNodes(idFromByte(0x01), 3)
	require.Len(t, closest, 3)
	assert.Equal(t, idFromByte(0x01), closest[0].ID)
}

func TestRoutingTableRejectsSelf(t *testing.T) {
	self := idFromByte(0x00)
	rt := NewRoutingTable(self)
	assert.False(t, rt.AddNode(NewNode(self, addr(t, "127.0.0.1:1000"))))
}

func TestRoutingTableBucketEvictsBadBeforeGood(t *testing.T) {
	self := idFromByte(0x00)
	rt := NewRoutingTable(self)

	var ids []ID
	for i := 0; i < BucketSize; i++ {
		id := idFromByte(byte(0x80 | i)) // same leading bit -> same bucket
		ids = append(ids, id)
		rt.AddNode(NewNode(id, addr(t, "127.0.0.1:1000")))
	}
	assert.Equal(t, BucketSize, rt.Size())

	idx := bucketIndex(self.Distance(ids[0]))
	rt.buckets[idx].nodes[0].Status = StatusBad

	newID := idFromByte(0x80 | 0xF)
	ok := rt.AddNode(NewNode(newID, addr(t, "127.0.0.1:1000")))
	assert.True(t, ok)
	assert.Equal(t, BucketSize, rt.Size())
}

func TestRoutingTableRemoveNode(t *testing.T) {
	self := idFromByte(0x00)
	rt := NewRoutingTable(self)
	id := idFromByte(0x01)
	rt.AddNode(NewNode(id, addr(t, "127.0.0.1:1000")))
	require.Equal(t, 1, rt.Size())

	rt.RemoveNode(id)
	assert.Equal(t, 0, rt.Size())
}

func TestBucketIndexZeroDistance(t *testing.T) {
	var zero ID
	assert.Equal(t, -1, bucketIndex(zero))
}
