package crypto

import (
	"github.com/cloudflare/circl/sign"
	"github.com/cloudflare/circl/sign/mldsa/mldsa87"
	"github.com/sirupsen/logrus"

	"github.com/dnanet/dna/dnaerr"
)

// sigScheme is the single ML-DSA-87 scheme instance used everywhere.
var sigScheme = mldsa87.Scheme()

const (
	// SignaturePublicKeySize is the size in bytes of an ML-DSA-87 public key.
	SignaturePublicKeySize = mldsa87.PublicKeySize
	// SignaturePrivateKeySize is the size in bytes of an ML-DSA-87 private key.
	SignaturePrivateKeySize = mldsa87.PrivateKeySize
	// SignatureSize is the size in bytes of an ML-DSA-87 signature, the
	// trailing field named in spec section 6's DHT payload framing.
	SignatureSize = mldsa87.SignatureSize
)

// SigningKeyPair is an ML-DSA-87 signing key pair.
type SigningKeyPair struct {
	Public  sign.PublicKey
	Private sign.PrivateKey
}

// PublicBytes returns the wire encoding of the public key.
func (kp *SigningKeyPair) PublicBytes() ([]byte, error) {
	return kp.Public.MarshalBinary()
}

// PrivateBytes returns the wire encoding of the private key. Callers must
// zero the returned buffer after use.
func (kp *SigningKeyPair) PrivateBytes() ([]byte, error) {
	return kp.Private.MarshalBinary()
}

// GenerateSigningKeyPair creates a new random ML-DSA-87 key pair.
func GenerateSigningKeyPair() (*SigningKeyPair, error) {
	logger := logrus.WithFields(logrus.Fields{"function": "GenerateSigningKeyPair", "package": "crypto"})

	pub, priv, err := sigScheme.GenerateKey()
	if err != nil {
		logger.WithFields(logrus.Fields{"error": err.Error()}).Error("ML-DSA-87 key generation failed")
		return nil, dnaerr.Crypto("GenerateSigningKeyPair", err)
	}

	logger.Debug("ML-DSA-87 key pair generated")
	return &SigningKeyPair{Public: pub, Private: priv}, nil
}

// DeriveSigningKeyPair deterministically derives an ML-DSA-87 key pair from
// a 32-byte seed, per spec section 4.1.
func DeriveSigningKeyPair(seed [32]byte) (*SigningKeyPair, error) {
	expanded, err := HKDFExpand(seed[:], nil, "dna:dsa:seed", sigScheme.SeedSize())
	if err != nil {
		return nil, dnaerr.Crypto("DeriveSigningKeyPair", err)
	}
	defer Zero(expanded)

	pub, priv := sigScheme.DeriveKey(expanded)
	return &SigningKeyPair{Public: pub, Private: priv}, nil
}

// UnmarshalSigningPrivateKey parses a wire-encoded ML-DSA-87 private key
// and reconstructs the key pair from it.
func UnmarshalSigningPrivateKey(data []byte) (*SigningKeyPair, error) {
	if len(data) != SignaturePrivateKeySize {
		return nil, dnaerr.New(dnaerr.KindCrypto, "UnmarshalSigningPrivateKey", "invalid private key size")
	}
	priv, err := sigScheme.UnmarshalBinaryPrivateKey(data)
	if err != nil {
		return nil, dnaerr.Crypto("UnmarshalSigningPrivateKey", err)
	}
	return &SigningKeyPair{Public: priv.Public(), Private: priv}, nil
}

// UnmarshalSigningPublicKey parses a wire-encoded ML-DSA-87 public key.
func UnmarshalSigningPublicKey(data []byte) (sign.PublicKey, error) {
	if len(data) != SignaturePublicKeySize {
		return nil, dnaerr.New(dnaerr.KindCrypto, "UnmarshalSigningPublicKey", "invalid public key size")
	}
	pub, err := sigScheme.UnmarshalBinaryPublicKey(data)
	if err != nil {
		return nil, dnaerr.Crypto("UnmarshalSigningPublicKey", err)
	}
	return pub, nil
}

// Sign produces a detached ML-DSA-87 signature over message.
func Sign(priv sign.PrivateKey, message []byte) []byte {
	return sigScheme.Sign(priv, message, nil)
}

// Verify checks a detached ML-DSA-87 signature. It never panics on
// malformed input; any problem is reported as false.
func Verify(pub sign.PublicKey, message, signature []byte) bool {
	if pub == nil || len(signature) != SignatureSize {
		return false
	}
	return sigScheme.Verify(pub, message, signature, nil)
}
