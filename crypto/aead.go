package crypto

import (
	"crypto/aes"
	"crypto/cipher"

	"github.com/sirupsen/logrus"

	"github.com/dnanet/dna/dnaerr"
)

// AEADKeySize is the size in bytes of an AES-256-GCM data encryption key.
const AEADKeySize = 32

// AEADNonceSize is the size in bytes of an AES-GCM nonce (the envelope's
// "nonce" field, spec section 4.2).
const AEADNonceSize = 12

// AEADTagSize is the size in bytes of the GCM authentication tag.
const AEADTagSize = 16

// GenerateDEK returns a fresh random 32-byte AES-256-GCM data encryption key.
func GenerateDEK() ([]byte, error) {
	return SecureRandom(AEADKeySize)
}

// GenerateNonce returns a fresh random 12-byte AES-GCM nonce.
func GenerateNonce() ([AEADNonceSize]byte, error) {
	var nonce [AEADNonceSize]byte
	buf, err := SecureRandom(AEADNonceSize)
	if err != nil {
		return nonce, err
	}
	copy(nonce[:], buf)
	return nonce, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	if len(key) != AEADKeySize {
		return nil, dnaerr.New(dnaerr.KindCrypto, "newGCM", "key must be 32 bytes")
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, dnaerr.Crypto("newGCM", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, dnaerr.Crypto("newGCM", err)
	}
	return gcm, nil
}

// AEADSeal encrypts plaintext under key with nonce, returning ciphertext
// with the 16-byte GCM tag appended, matching the envelope's
// ciphertext||tag layout.
func AEADSeal(key []byte, nonce [AEADNonceSize]byte, plaintext, additionalData []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	return gcm.Seal(nil, nonce[:], plaintext, additionalData), nil
}

// AEADOpen decrypts and authenticates ciphertext (with its trailing tag)
// under key and nonce. Any authentication failure is reported as a Crypto
// error; it never returns a partial plaintext.
func AEADOpen(key []byte, nonce [AEADNonceSize]byte, ciphertext, additionalData []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	plaintext, err := gcm.Open(nil, nonce[:], ciphertext, additionalData)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "AEADOpen", "package": "crypto",
		}).Warn("AEAD authentication failed")
		return nil, dnaerr.Crypto("AEADOpen", err)
	}
	return plaintext, nil
}
