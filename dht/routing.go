package dht

import (
	"sort"
	"sync"
)

// BucketSize is the maximum number of nodes a single k-bucket holds (the
// Kademlia "k" parameter).
const BucketSize = 8

// kBucket stores up to BucketSize nodes at a particular distance range from
// self, most-recently-seen at the tail, following the Kademlia replacement
// rule: prefer long-lived good nodes over newly discovered ones.
type kBucket struct {
	mu    sync.RWMutex
	nodes []*Node
}

func newKBucket() *kBucket {
	return &kBucket{nodes: make([]*Node, 0, BucketSize)}
}

func (b *kBucket) add(node *Node) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, existing := range b.nodes {
		if existing.ID == node.ID {
			b.nodes = append(b.nodes[:i], b.nodes[i+1:]...)
			b.nodes = append(b.nodes, node)
			return true
		}
	}

	if len(b.nodes) < BucketSize {
		b.nodes = append(b.nodes, node)
		return true
	}

	for i, existing := range b.nodes {
		if existing.Status == StatusBad {
			b.nodes[i] = node
			return true
		}
	}
	return false
}

func (b *kBucket) remove(id ID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, existing := range b.nodes {
		if existing.ID == id {
			b.nodes = append(b.nodes[:i], b.nodes[i+1:]...)
			return
		}
	}
}

func (b *kBucket) all() []*Node {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]*Node, len(b.nodes))
	copy(out, b.nodes)
	return out
}

// RoutingTable is the local node's Kademlia routing table: one k-bucket per
// bit of the ID space, indexed by XOR distance from self.
type RoutingTable struct {
	self    ID
	buckets [IDSize * 8]*kBucket
}

// NewRoutingTable creates an empty routing table for the given local ID.
func NewRoutingTable(self ID) *RoutingTable {
	rt := &RoutingTable{self: self}
	for i := range rt.buckets {
		rt.buckets[i] = newKBucket()
	}
	return rt
}

// AddNode inserts or refreshes node in the appropriate bucket. Returns false
// if the node's bucket was full of good nodes and it could not be admitted.
func (rt *RoutingTable) AddNode(node *Node) bool {
	idx := bucketIndex(rt.self.Distance(node.ID))
	if idx < 0 {
		return false // node ID equals self
	}
	return rt.buckets[idx].add(node)
}

// RemoveNode evicts a node by ID, e.g. after it is confirmed unreachable.
func (rt *RoutingTable) RemoveNode(id ID) {
	idx := bucketIndex(rt.self.Distance(id))
	if idx < 0 {
		return
	}
	rt.buckets[idx].remove(id)
}

// FindClosestNodes returns up to count nodes ordered by ascending XOR
// distance to target, collecting the nodes of every bucket and sorting them.
func (rt *RoutingTable) FindClosestNodes(target ID, count int) []*Node {
	var candidates []*Node
	for _, b := range rt.buckets {
		candidates = append(candidates, b.all()...)
	}

	sort.Slice(candidates, func(i, j int) bool {
		di := target.Distance(candidates[i].ID)
		dj := target.Distance(candidates[j].ID)
		return di.Less(dj)
	})

	if len(candidates) > count {
		candidates = candidates[:count]
	}
	return candidates
}

// AllNodes returns every node currently tracked, used by presence refresh
// and maintenance sweeps.
func (rt *RoutingTable) AllNodes() []*Node {
	var out []*Node
	for _, b := range rt.buckets {
		out = append(out, b.all()...)
	}
	return out
}

// Size returns the total number of tracked nodes.
func (rt *RoutingTable) Size() int {
	return len(rt.AllNodes())
}
