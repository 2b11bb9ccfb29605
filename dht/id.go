// Package dht implements the signed, Kademlia-routed key/value overlay that
// dna peers use for presence, name registration, offline message spillway,
// and group metadata (spec section 5). Every value stored in it carries an
// ML-DSA-87 signature that is checked on every read, including reads served
// from a local cache, so a hostile or merely buggy peer can never inject an
// unsigned or mis-signed value into a lookup result.
package dht

import "bytes"

// IDSize is the length in bytes of a DHT node or key ID: a SHA3-512
// fingerprint, matching the identity fingerprint format of spec section 3.
const IDSize = 64

// ID identifies either a node (by its identity fingerprint) or a key
// (by a domain-separated hash, see DeriveKey).
type ID [IDSize]byte

// Distance returns the XOR metric between two IDs, the Kademlia distance
// used for both bucket placement and closest-node ranking.
func (id ID) Distance(other ID) ID {
	var out ID
	for i := range id {
		out[i] = id[i] ^ other[i]
	}
	return out
}

// Less reports whether id is numerically closer to zero than other, used to
// sort candidate nodes by ascending distance to a target.
func (id ID) Less(other ID) bool {
	return bytes.Compare(id[:], other[:]) < 0
}

// bucketIndex returns the index of the highest set bit in id, i.e. which of
// the IDSize*8 k-buckets a node at XOR-distance id from self belongs in.
// Distance zero (id equals self) has no valid bucket and returns -1.
func bucketIndex(distance ID) int {
	for byteIdx, b := range distance {
		if b == 0 {
			continue
		}
		for bit := 0; bit < 8; bit++ {
			if b&(0x80>>uint(bit)) != 0 {
				return byteIdx*8 + bit
			}
		}
	}
	return -1
}
