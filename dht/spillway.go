package dht

import (
	"encoding/json"
	"time"

	"github.com/dnanet/dna/crypto"
	"github.com/dnanet/dna/dnaerr"
)

// SpillwayTTL bounds how long an undelivered envelope waits in a
// recipient's DHT inbox before it is dropped (spec section 6's
// spillway_ttl_secs default of 7 days).
const SpillwayTTL = 7 * 24 * time.Hour

// spillwayEntry is one queued envelope inside a recipient's inbox slot. A
// slot holds a list rather than a single value because several senders
// (or one sender, several messages) may queue for the same offline
// recipient before it returns.
type spillwayEntry struct {
	SenderFP  string `json:"sender_fp"`
	Envelope  []byte `json:"envelope"`
	QueuedAt  int64  `json:"queued_at"`
}

type spillwayInbox struct {
	Entries []spillwayEntry `json:"entries"`
}

// EnqueueSpillway appends an envelope to recipientFP's offline inbox record,
// re-signing the merged record as relayFP (each sender owns and signs only
// its own appended entries is not expressible with a single-author signed
// value, so the inbox record is authored by the recipient's mailbox key
// convention: the DHT key itself, not a per-entry signature, is what a
// relay trusts; the entry's SenderFP is advisory and re-checked once the
// recipient decrypts the envelope and the embedded sender signature).
func EnqueueSpillway(store *Store, relay *crypto.SigningKeyPair, relayFP, recipientFP, senderFP string, envelope []byte) error {
	key := DeriveKey(RecordTypeInbox, recipientFP)

	var inbox spillwayInbox
	if existing, ok, err := store.Get(key); err == nil && ok {
		_ = json.Unmarshal(existing.Payload, &inbox)
	}

	now := time.Now()
	inbox.Entries = append(inbox.Entries, spillwayEntry{
		SenderFP: senderFP,
		Envelope: envelope,
		QueuedAt: now.Unix(),
	})

	payload, err := json.Marshal(inbox)
	if err != nil {
		return dnaerr.New(dnaerr.KindCrypto, "EnqueueSpillway", "failed to encode inbox record")
	}

	value := SignedValue{
		Key:         key,
		Payload:     payload,
		AuthorFP:    relayFP,
		ExpiresAt:   now.Add(SpillwayTTL),
		SequenceNum: uint64(now.UnixNano()),
	}
	value.Sign(relay)
	return store.Put(value)
}

// DrainSpillway retrieves and removes all queued envelopes for
// recipientFP, the way a peer coming back online collects what it missed.
func DrainSpillway(store *Store, recipientFP string) ([][]byte, error) {
	key := DeriveKey(RecordTypeInbox, recipientFP)
	existing, ok, err := store.Get(key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}

	var inbox spillwayInbox
	if err := json.Unmarshal(existing.Payload, &inbox); err != nil {
		return nil, dnaerr.New(dnaerr.KindCrypto, "DrainSpillway", "malformed inbox payload")
	}

	store.Remove(key)

	envelopes := make([][]byte, 0, len(inbox.Entries))
	for _, entry := range inbox.Entries {
		envelopes = append(envelopes, entry.Envelope)
	}
	return envelopes, nil
}
