package dht

import (
	"github.com/sirupsen/logrus"

	"github.com/dnanet/dna/dnaerr"
)

// NameRegistry layers first-writer-wins semantics over Store for
// RecordTypeName values: unlike every other record type, where the most
// recent signed value wins, a name binding is immutable once any author has
// claimed it. This is spec section 5's name registration rule.
type NameRegistry struct {
	store *Store
}

// NewNameRegistry wraps store with name-claim semantics.
func NewNameRegistry(store *Store) *NameRegistry {
	return &NameRegistry{store: store}
}

// Claim registers name for value.AuthorFP if the name is unclaimed, or if it
// is already claimed by the same author (allowing republishing/refresh).
// A claim attempt by a different author than the existing holder is
// rejected with AlreadyExists.
func (r *NameRegistry) Claim(name string, value SignedValue) error {
	logger := logrus.WithFields(logrus.Fields{
		"function": "NameRegistry.Claim", "package": "dht", "name": name,
	})

	key := DeriveKey(RecordTypeName, name)
	value.Key = key

	existing, ok, err := r.store.Get(key)
	if err != nil {
		return err
	}
	if ok && existing.AuthorFP != value.AuthorFP {
		logger.Warn("name already claimed by a different fingerprint")
		return dnaerr.AlreadyExists("NameRegistry.Claim")
	}

	return r.store.Put(value)
}

// Resolve returns the fingerprint currently bound to name, if any.
func (r *NameRegistry) Resolve(name string) (SignedValue, bool, error) {
	return r.store.Get(DeriveKey(RecordTypeName, name))
}
