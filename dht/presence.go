package dht

import (
	"encoding/json"
	"time"

	"github.com/dnanet/dna/crypto"
	"github.com/dnanet/dna/dnaerr"
)

// PresenceTTL is how long a presence record remains valid before a refresh
// is required: twice the default presence_refresh_secs interval (300 s), so
// a record refreshed on schedule is replaced before it lapses.
const PresenceTTL = 10 * time.Minute

// Presence is the published transport-hint record for a fingerprint: where
// a peer might currently be reachable. It carries no guarantee of
// liveness, only a best-effort hint for tier-1/tier-2 connection attempts.
type Presence struct {
	Fingerprint string   `json:"fingerprint"`
	Addresses   []string `json:"addresses"`
	PublishedAt int64    `json:"published_at"`
}

// PublishPresence builds and stores a signed presence record for self,
// superseding any previous one (sequence number is the publish timestamp,
// which is always increasing for a well-behaved clock).
func PublishPresence(store *Store, self *crypto.SigningKeyPair, fingerprint string, addresses []string) error {
	now := time.Now()
	presence := Presence{Fingerprint: fingerprint, Addresses: addresses, PublishedAt: now.Unix()}
	payload, err := json.Marshal(presence)
	if err != nil {
		return dnaerr.New(dnaerr.KindCrypto, "PublishPresence", "failed to encode presence record")
	}

	value := SignedValue{
		Key:         DeriveKey(RecordTypePresence, fingerprint),
		Payload:     payload,
		AuthorFP:    fingerprint,
		ExpiresAt:   now.Add(PresenceTTL),
		SequenceNum: uint64(now.UnixNano()),
	}
	value.Sign(self)
	return store.Put(value)
}

// LookupPresence resolves the current presence record for fingerprint, if
// any is still live.
func LookupPresence(store *Store, fingerprint string) (Presence, bool, error) {
	value, ok, err := store.Get(DeriveKey(RecordTypePresence, fingerprint))
	if err != nil || !ok {
		return Presence{}, false, err
	}
	var presence Presence
	if err := json.Unmarshal(value.Payload, &presence); err != nil {
		return Presence{}, false, dnaerr.New(dnaerr.KindCrypto, "LookupPresence", "malformed presence payload")
	}
	return presence, true, nil
}
