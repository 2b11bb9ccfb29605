package crypto

import (
	"crypto/rand"
	"io"

	"github.com/sirupsen/logrus"

	"github.com/dnanet/dna/dnaerr"
)

// SecureRandom reads n cryptographically secure random bytes from the OS
// entropy pool. It fails closed: any error reading from the pool is
// surfaced as a Crypto error rather than falling back to a userspace PRNG.
// No value that affects confidentiality, integrity, or uniqueness
// (including UUIDs) may be derived any other way.
func SecureRandom(n int) ([]byte, error) {
	logger := logrus.WithFields(logrus.Fields{
		"function": "SecureRandom",
		"package":  "crypto",
		"size":     n,
	})

	buf := make([]byte, n)
	if _, err := io.ReadFull(rand.Reader, buf); err != nil {
		logger.WithFields(logrus.Fields{
			"error":      err.Error(),
			"error_type": "entropy_unavailable",
		}).Error("secure random read failed, refusing to fall back to a weaker source")
		return nil, dnaerr.Wrap(dnaerr.KindCrypto, "SecureRandom", err)
	}

	logger.Debug("secure random bytes generated")
	return buf, nil
}

// MustSecureRandom is SecureRandom for call sites where the only sane
// response to entropy failure is to stop generating the value at all
// (e.g. group UUIDs, which must never be predictable).
func MustSecureRandom(n int) ([]byte, error) {
	return SecureRandom(n)
}
