// Package identity implements the lifecycle of a locally owned dna
// identity: BIP39 mnemonic / seed derivation, on-disk key material, and the
// filesystem layout of spec section 6.
package identity

import (
	"github.com/sirupsen/logrus"
	"github.com/tyler-smith/go-bip39"

	"github.com/dnanet/dna/crypto"
	"github.com/dnanet/dna/dnaerr"
)

// MnemonicEntropyBits is the entropy size that produces the 24-word
// mnemonic required by spec section 6.
const MnemonicEntropyBits = 256

// GenerateMnemonic draws 32 bytes of secure entropy and encodes it as a
// 24-word BIP39 mnemonic. The entropy itself is returned too, since it is
// what an identity is ultimately recreated from.
func GenerateMnemonic() (entropy [32]byte, mnemonic string, err error) {
	raw, err := crypto.SecureRandom(MnemonicEntropyBits / 8)
	if err != nil {
		return entropy, "", dnaerr.Crypto("GenerateMnemonic", err)
	}
	copy(entropy[:], raw)

	mnemonic, err = bip39.NewMnemonic(raw)
	if err != nil {
		return entropy, "", dnaerr.Crypto("GenerateMnemonic", err)
	}
	return entropy, mnemonic, nil
}

// EntropyFromMnemonic recovers the original entropy from a mnemonic,
// validating its BIP-39 checksum. For any 32-byte seed, this must satisfy
// EntropyFromMnemonic(mnemonic(seed)) == seed (spec section 8).
func EntropyFromMnemonic(mnemonic string) ([32]byte, error) {
	var entropy [32]byte
	raw, err := bip39.EntropyFromMnemonic(mnemonic)
	if err != nil {
		return entropy, dnaerr.New(dnaerr.KindCrypto, "EntropyFromMnemonic", "invalid mnemonic checksum")
	}
	if len(raw) != 32 {
		return entropy, dnaerr.New(dnaerr.KindCrypto, "EntropyFromMnemonic", "unexpected entropy length")
	}
	copy(entropy[:], raw)
	return entropy, nil
}

// SeedsFromMnemonic stretches a mnemonic (with an optional passphrase) into
// the two independent 32-byte seeds an identity's signing and encryption
// keypairs are deterministically derived from. Stretching uses BIP-39's
// PBKDF2-HMAC-SHA512 with 2048 iterations, then HKDF splits the 64-byte
// result into two domain-separated 32-byte seeds so the signing and
// encryption keys can never collide.
func SeedsFromMnemonic(mnemonic, passphrase string) (signSeed, encSeed [32]byte, err error) {
	logger := logrus.WithFields(logrus.Fields{"function": "SeedsFromMnemonic", "package": "identity"})

	stretched := bip39.NewSeed(mnemonic, passphrase)
	defer crypto.Zero(stretched)

	signRaw, err := crypto.HKDFExpand(stretched, nil, "dna:identity:signing", 32)
	if err != nil {
		logger.WithError(err).Error("failed to derive signing seed")
		return signSeed, encSeed, dnaerr.Crypto("SeedsFromMnemonic", err)
	}
	defer crypto.Zero(signRaw)

	encRaw, err := crypto.HKDFExpand(stretched, nil, "dna:identity:encryption", 32)
	if err != nil {
		logger.WithError(err).Error("failed to derive encryption seed")
		return signSeed, encSeed, dnaerr.Crypto("SeedsFromMnemonic", err)
	}
	defer crypto.Zero(encRaw)

	copy(signSeed[:], signRaw)
	copy(encSeed[:], encRaw)
	return signSeed, encSeed, nil
}
