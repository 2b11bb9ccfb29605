package dht

import "github.com/dnanet/dna/crypto"

// RecordType names one of the DHT's domain-separated value namespaces (spec
// section 5): each maps a human identifier to a 64-byte key via SHA3-512
// over a namespaced string, so a name collision in one record type can never
// collide with a different record type's keyspace.
type RecordType string

const (
	RecordTypeKey      RecordType = "key"      // signing/encryption public key blob for a fingerprint
	RecordTypeName     RecordType = "name"     // first-writer-wins human name -> fingerprint binding
	RecordTypeProfile  RecordType = "profile"  // display profile fields for a fingerprint
	RecordTypePresence RecordType = "presence" // last-seen transport hints for a fingerprint
	RecordTypeInbox    RecordType = "inbox"    // spillway: queued envelopes for an offline recipient
	RecordTypeGroup    RecordType = "group"    // group metadata for a group UUID
	RecordTypeGSK      RecordType = "gsk"      // per-member group shared-key capsule
)

// DeriveKey computes the 64-byte DHT key for a (recordType, id) pair, the
// way spec section 5 specifies: SHA3-512("dna:<type>:" || id).
func DeriveKey(recordType RecordType, id string) ID {
	sum := crypto.Sum512([]byte("dna:" + string(recordType) + ":" + id))
	var key ID
	copy(key[:], sum[:])
	return key
}
