package dht

import (
	"encoding/binary"
	"sync"
	"time"

	"github.com/cloudflare/circl/sign"
	"github.com/sirupsen/logrus"

	"github.com/dnanet/dna/crypto"
	"github.com/dnanet/dna/dnaerr"
)

// SignedValue is a DHT value together with the proof that its claimed
// author actually produced it. Every value entering or leaving the store
// goes through this type; there is no path to store or serve an unsigned
// value (spec section 5's open question is resolved: unsigned values are
// rejected everywhere, including cache reads).
type SignedValue struct {
	Key         ID
	Payload     []byte
	AuthorFP    string // signing identity fingerprint, for signature lookup
	Signature   []byte
	StoredAt    time.Time
	ExpiresAt   time.Time // zero means "does not expire"
	SequenceNum uint64    // lets a later Put from the same author supersede an earlier one
}

// signedPortion is what the signature covers: the key, author, sequence
// number, expiry, and payload, in a fixed order so a signature can never be
// replayed onto a different key or a different author's claim.
func (v *SignedValue) signedPortion() []byte {
	buf := make([]byte, 0, IDSize+len(v.AuthorFP)+8+8+len(v.Payload))
	buf = append(buf, v.Key[:]...)
	buf = append(buf, v.AuthorFP...)

	var seqAndExpiry [16]byte
	binary.BigEndian.PutUint64(seqAndExpiry[0:8], v.SequenceNum)
	var expiryUnix int64
	if !v.ExpiresAt.IsZero() {
		expiryUnix = v.ExpiresAt.Unix()
	}
	binary.BigEndian.PutUint64(seqAndExpiry[8:16], uint64(expiryUnix))
	buf = append(buf, seqAndExpiry[:]...)

	buf = append(buf, v.Payload...)
	return buf
}

// Sign computes and attaches the signature for a value about to be stored.
func (v *SignedValue) Sign(author *crypto.SigningKeyPair) {
	v.Signature = crypto.Sign(author.Private, v.signedPortion())
}

// Verify checks v's signature against authorPub. A value that fails this
// check must never be admitted to the store or returned from a lookup.
func (v *SignedValue) Verify(authorPub sign.PublicKey) bool {
	return crypto.Verify(authorPub, v.signedPortion(), v.Signature)
}

// AuthorKeyResolver looks up the current ML-DSA-87 public key for a signing
// fingerprint, the way Store verifies authorship without trusting a key
// embedded in the value itself.
type AuthorKeyResolver func(fingerprint string) (sign.PublicKey, error)

// Subscriber receives every value accepted for a key it is subscribed to,
// used by presence refresh and inbox polling to react to new values without
// re-polling Get on a timer.
type Subscriber func(value SignedValue)

// Store is the local node's signed key/value cache: the DHT's storage side,
// independent of how a value got there (local Put, or replicated in from a
// peer's response during a lookup).
type Store struct {
	resolveAuthor AuthorKeyResolver

	mu          sync.RWMutex
	values      map[ID]SignedValue
	subscribers map[ID][]Subscriber
}

// NewStore creates an empty store. resolveAuthor is consulted for every
// value admitted, including ones read back out of the store's own cache, so
// a key rotation or revocation is honored retroactively.
func NewStore(resolveAuthor AuthorKeyResolver) *Store {
	return &Store{
		resolveAuthor: resolveAuthor,
		values:        make(map[ID]SignedValue),
		subscribers:   make(map[ID][]Subscriber),
	}
}

// Put admits value into the store if its signature verifies and it is not
// superseded by a value already held for the same key from the same author.
// The store holds one value per key: a verified value from a different
// author replaces the held value whatever its SequenceNum, and values from
// different authors for the same key are not kept side by side.
func (s *Store) Put(value SignedValue) error {
	logger := logrus.WithFields(logrus.Fields{
		"function": "Store.Put", "package": "dht", "author": shortFP(value.AuthorFP),
	})

	authorPub, err := s.resolveAuthor(value.AuthorFP)
	if err != nil {
		return dnaerr.UnknownRecipient("Store.Put")
	}
	if !value.Verify(authorPub) {
		logger.Warn("rejected value with invalid signature")
		return dnaerr.Auth("Store.Put", nil)
	}

	s.mu.Lock()
	existing, had := s.values[value.Key]
	if had && existing.AuthorFP == value.AuthorFP && existing.SequenceNum >= value.SequenceNum {
		s.mu.Unlock()
		return nil // stale write, silently ignored like a Kademlia no-op store
	}
	value.StoredAt = time.Now()
	s.values[value.Key] = value
	subs := append([]Subscriber(nil), s.subscribers[value.Key]...)
	s.mu.Unlock()

	for _, sub := range subs {
		sub(value)
	}
	logger.Debug("value admitted")
	return nil
}

// Get retrieves the current value for key, re-verifying its signature
// before returning it (spec section 9: cached values are never trusted
// without re-verification) and discarding it if it has expired.
func (s *Store) Get(key ID) (SignedValue, bool, error) {
	s.mu.RLock()
	value, ok := s.values[key]
	s.mu.RUnlock()
	if !ok {
		return SignedValue{}, false, nil
	}

	if !value.ExpiresAt.IsZero() && time.Now().After(value.ExpiresAt) {
		s.Remove(key)
		return SignedValue{}, false, nil
	}

	authorPub, err := s.resolveAuthor(value.AuthorFP)
	if err != nil {
		return SignedValue{}, false, dnaerr.UnknownRecipient("Store.Get")
	}
	if !value.Verify(authorPub) {
		// A value that verified at Put time but fails now means the author's
		// key was rotated or revoked since; treat it as gone rather than stale.
		s.Remove(key)
		return SignedValue{}, false, dnaerr.Auth("Store.Get", nil)
	}
	return value, true, nil
}

// Remove deletes a value unconditionally, used for explicit revocation
// (e.g. a spillway entry collected by its recipient).
func (s *Store) Remove(key ID) {
	s.mu.Lock()
	delete(s.values, key)
	s.mu.Unlock()
}

// Subscribe registers fn to be called with every future value accepted for
// key. It does not replay the current value; callers should Get first.
func (s *Store) Subscribe(key ID, fn Subscriber) {
	s.mu.Lock()
	s.subscribers[key] = append(s.subscribers[key], fn)
	s.mu.Unlock()
}

// Sweep removes every expired value, called periodically by maintenance.
func (s *Store) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	now := time.Now()
	for key, value := range s.values {
		if !value.ExpiresAt.IsZero() && now.After(value.ExpiresAt) {
			delete(s.values, key)
			removed++
		}
	}
	return removed
}

func shortFP(fp string) string {
	if len(fp) > 16 {
		return fp[:16]
	}
	return fp
}
