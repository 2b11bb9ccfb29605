package crypto

import (
	"github.com/cloudflare/circl/kem"
	"github.com/cloudflare/circl/kem/mlkem/mlkem1024"
	"github.com/sirupsen/logrus"

	"github.com/dnanet/dna/dnaerr"
)

// kemScheme is the single ML-KEM-1024 scheme instance used everywhere.
var kemScheme = mlkem1024.Scheme()

const (
	// KEMPublicKeySize is the size in bytes of an ML-KEM-1024 public key.
	KEMPublicKeySize = mlkem1024.PublicKeySize
	// KEMPrivateKeySize is the size in bytes of an ML-KEM-1024 private key.
	KEMPrivateKeySize = mlkem1024.PrivateKeySize
	// KEMCiphertextSize is the size in bytes of an ML-KEM-1024 ciphertext.
	KEMCiphertextSize = mlkem1024.CiphertextSize
	// KEMSharedSecretSize is the size in bytes of the derived shared secret.
	KEMSharedSecretSize = mlkem1024.SharedKeySize
)

// KEMKeyPair is an ML-KEM-1024 encapsulation key pair.
type KEMKeyPair struct {
	Public  kem.PublicKey
	Private kem.PrivateKey
}

// PublicBytes returns the wire encoding of the public key.
func (kp *KEMKeyPair) PublicBytes() ([]byte, error) {
	return kp.Public.MarshalBinary()
}

// PrivateBytes returns the wire encoding of the private key. Callers must
// zero the returned buffer after use.
func (kp *KEMKeyPair) PrivateBytes() ([]byte, error) {
	return kp.Private.MarshalBinary()
}

// GenerateKEMKeyPair creates a new random ML-KEM-1024 key pair.
func GenerateKEMKeyPair() (*KEMKeyPair, error) {
	logger := logrus.WithFields(logrus.Fields{"function": "GenerateKEMKeyPair", "package": "crypto"})

	pub, priv, err := kemScheme.GenerateKeyPair()
	if err != nil {
		logger.WithFields(logrus.Fields{"error": err.Error()}).Error("ML-KEM-1024 key generation failed")
		return nil, dnaerr.Crypto("GenerateKEMKeyPair", err)
	}

	logger.Debug("ML-KEM-1024 key pair generated")
	return &KEMKeyPair{Public: pub, Private: priv}, nil
}

// DeriveKEMKeyPair deterministically derives an ML-KEM-1024 key pair from a
// 32-byte seed, per spec section 4.1. The seed is stretched with HKDF to
// the scheme's required derivation seed length so callers always supply a
// uniform 32-byte value regardless of the underlying KEM's native seed size.
func DeriveKEMKeyPair(seed [32]byte) (*KEMKeyPair, error) {
	expanded, err := HKDFExpand(seed[:], nil, "dna:kem:seed", kemScheme.SeedSize())
	if err != nil {
		return nil, dnaerr.Crypto("DeriveKEMKeyPair", err)
	}
	defer Zero(expanded)

	pub, priv := kemScheme.DeriveKeyPair(expanded)
	return &KEMKeyPair{Public: pub, Private: priv}, nil
}

// UnmarshalKEMPrivateKey parses a wire-encoded ML-KEM-1024 private key and
// reconstructs the key pair from it (the private key carries enough
// material to recompute its own public key).
func UnmarshalKEMPrivateKey(data []byte) (*KEMKeyPair, error) {
	if len(data) != KEMPrivateKeySize {
		return nil, dnaerr.New(dnaerr.KindCrypto, "UnmarshalKEMPrivateKey", "invalid private key size")
	}
	priv, err := kemScheme.UnmarshalBinaryPrivateKey(data)
	if err != nil {
		return nil, dnaerr.Crypto("UnmarshalKEMPrivateKey", err)
	}
	return &KEMKeyPair{Public: priv.Public(), Private: priv}, nil
}

// UnmarshalKEMPublicKey parses a wire-encoded ML-KEM-1024 public key.
func UnmarshalKEMPublicKey(data []byte) (kem.PublicKey, error) {
	if len(data) != KEMPublicKeySize {
		return nil, dnaerr.New(dnaerr.KindCrypto, "UnmarshalKEMPublicKey", "invalid public key size")
	}
	pub, err := kemScheme.UnmarshalBinaryPublicKey(data)
	if err != nil {
		return nil, dnaerr.Crypto("UnmarshalKEMPublicKey", err)
	}
	return pub, nil
}

// Encapsulate generates a fresh shared secret and the ciphertext that
// delivers it to the holder of recipientPub's private key.
func Encapsulate(recipientPub kem.PublicKey) (ciphertext, sharedSecret []byte, err error) {
	ct, ss, err := kemScheme.Encapsulate(recipientPub)
	if err != nil {
		return nil, nil, dnaerr.Crypto("Encapsulate", err)
	}
	return ct, ss, nil
}

// Decapsulate recovers the shared secret from ciphertext using the
// recipient's private key.
func Decapsulate(priv kem.PrivateKey, ciphertext []byte) ([]byte, error) {
	if len(ciphertext) != kemScheme.CiphertextSize() {
		return nil, dnaerr.New(dnaerr.KindCrypto, "Decapsulate", "invalid ciphertext size")
	}
	ss, err := kemScheme.Decapsulate(priv, ciphertext)
	if err != nil {
		return nil, dnaerr.Crypto("Decapsulate", err)
	}
	return ss, nil
}
