package crypto

import (
	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/sha3"
	"io"
)

// FingerprintSize is the length in bytes of an identity fingerprint
// (SHA3-512 digest, 128 hex characters when encoded).
const FingerprintSize = 64

// Sum256 returns the SHA3-256 digest of data.
func Sum256(data ...[]byte) [32]byte {
	h := sha3.New256()
	for _, d := range data {
		h.Write(d)
	}
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// Sum512 returns the SHA3-512 digest of data.
func Sum512(data ...[]byte) [64]byte {
	h := sha3.New512()
	for _, d := range data {
		h.Write(d)
	}
	var out [64]byte
	copy(out[:], h.Sum(nil))
	return out
}

// Fingerprint computes an identity fingerprint as
// SHA3-512(signingPublicKey || encryptionPublicKey), per spec section 3.
func Fingerprint(signingPub, encryptionPub []byte) [FingerprintSize]byte {
	return Sum512(signingPub, encryptionPub)
}

// HKDFExpand expands secret into outLen bytes using HKDF-SHA3-256 with the
// given info string as domain separation. Used both for deriving recipient
// match tags and for stretching BIP39 seeds into KEM/DSA derivation seeds.
func HKDFExpand(secret, salt []byte, info string, outLen int) ([]byte, error) {
	reader := hkdf.New(sha3.New256, secret, salt, []byte(info))
	out := make([]byte, outLen)
	if _, err := io.ReadFull(reader, out); err != nil {
		return nil, err
	}
	return out, nil
}
