package identity

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"github.com/sirupsen/logrus"

	"github.com/dnanet/dna/crypto"
	"github.com/dnanet/dna/dnaerr"
)

// nameWhitelist is the identity directory name filter of spec section 6:
// letters, digits, underscore, and hyphen only, 1-128 bytes. Path
// separators, ':', and '.' are rejected by construction since they are not
// in the character class.
var nameWhitelist = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)

// ValidateName rejects any identity directory name that does not pass the
// spec section 6 whitelist.
func ValidateName(name string) error {
	if !nameWhitelist.MatchString(name) {
		return dnaerr.New(dnaerr.KindPermission, "ValidateName", "identity name must match [A-Za-z0-9_-]{1,128}")
	}
	return nil
}

// Identity is a locally owned dna identity: its signing and encryption
// keypairs and the fingerprint derived from them.
type Identity struct {
	Fingerprint string // 128 hex characters, SHA3-512(signing_pub || encryption_pub)
	Signing     *crypto.SigningKeyPair
	Encryption  *crypto.KEMKeyPair
}

// New derives an Identity from independently-generated 32-byte seeds, as
// spec section 3 requires ("generating two 32-byte seeds (independently,
// or via BIP39 mnemonic ...)").
func New(signSeed, encSeed [32]byte) (*Identity, error) {
	signing, err := crypto.DeriveSigningKeyPair(signSeed)
	if err != nil {
		return nil, dnaerr.Crypto("identity.New", err)
	}
	encryption, err := crypto.DeriveKEMKeyPair(encSeed)
	if err != nil {
		return nil, dnaerr.Crypto("identity.New", err)
	}

	signPub, err := signing.PublicBytes()
	if err != nil {
		return nil, dnaerr.Crypto("identity.New", err)
	}
	encPub, err := encryption.PublicBytes()
	if err != nil {
		return nil, dnaerr.Crypto("identity.New", err)
	}

	fp := crypto.Fingerprint(signPub, encPub)
	return &Identity{
		Fingerprint: hex.EncodeToString(fp[:]),
		Signing:     signing,
		Encryption:  encryption,
	}, nil
}

// Dir returns the per-identity directory under dataDir, validating the
// fingerprint the same way a user-chosen name would be validated, since it
// is used verbatim as a path component.
func Dir(dataDir, fingerprint string) (string, error) {
	if err := ValidateName(fingerprint); err != nil {
		return "", err
	}
	return filepath.Join(dataDir, fingerprint), nil
}

// Save persists the identity's secret key material to
// <dataDir>/<fingerprint>/keys/{signing.dsa,encryption.kem}, each created
// exclusively with mode 0600 so a pre-existing file is never silently
// overwritten.
func (id *Identity) Save(dataDir string) error {
	logger := logrus.WithFields(logrus.Fields{
		"function":    "Identity.Save",
		"package":     "identity",
		"fingerprint": id.Fingerprint[:16],
	})

	dir, err := Dir(dataDir, id.Fingerprint)
	if err != nil {
		return err
	}
	keysDir := filepath.Join(dir, "keys")
	if err := os.MkdirAll(keysDir, 0o700); err != nil {
		logger.WithError(err).Error("failed to create keys directory")
		return dnaerr.Permission("Identity.Save", err)
	}

	signingBytes, err := id.Signing.PrivateBytes()
	if err != nil {
		return dnaerr.Crypto("Identity.Save", err)
	}
	defer crypto.Zero(signingBytes)

	encBytes, err := id.Encryption.PrivateBytes()
	if err != nil {
		return dnaerr.Crypto("Identity.Save", err)
	}
	defer crypto.Zero(encBytes)

	if err := writeExclusive(filepath.Join(keysDir, "signing.dsa"), signingBytes); err != nil {
		return err
	}
	if err := writeExclusive(filepath.Join(keysDir, "encryption.kem"), encBytes); err != nil {
		return err
	}

	logger.Info("identity key material saved")
	return nil
}

func writeExclusive(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		if os.IsExist(err) {
			return dnaerr.AlreadyExists("writeExclusive")
		}
		return dnaerr.Permission("writeExclusive", err)
	}
	defer f.Close()
	if _, err := f.Write(data); err != nil {
		return dnaerr.Permission("writeExclusive", err)
	}
	return nil
}

// Load reads an identity's key material back from
// <dataDir>/<fingerprint>/keys and reconstructs its key pairs.
func Load(dataDir, fingerprint string) (*Identity, error) {
	dir, err := Dir(dataDir, fingerprint)
	if err != nil {
		return nil, err
	}
	keysDir := filepath.Join(dir, "keys")

	signingBytes, err := os.ReadFile(filepath.Join(keysDir, "signing.dsa"))
	if err != nil {
		return nil, dnaerr.Storage("Load", err)
	}
	defer crypto.Zero(signingBytes)

	encBytes, err := os.ReadFile(filepath.Join(keysDir, "encryption.kem"))
	if err != nil {
		return nil, dnaerr.Storage("Load", err)
	}
	defer crypto.Zero(encBytes)

	signing, err := crypto.UnmarshalSigningPrivateKey(signingBytes)
	if err != nil {
		return nil, err
	}
	encryption, err := crypto.UnmarshalKEMPrivateKey(encBytes)
	if err != nil {
		return nil, err
	}

	signPub, err := signing.PublicBytes()
	if err != nil {
		return nil, dnaerr.Crypto("Load", err)
	}
	encPub, err := encryption.PublicBytes()
	if err != nil {
		return nil, dnaerr.Crypto("Load", err)
	}
	fp := crypto.Fingerprint(signPub, encPub)
	if hex.EncodeToString(fp[:]) != fingerprint {
		return nil, dnaerr.New(dnaerr.KindCrypto, "Load", "on-disk keys do not match requested fingerprint")
	}

	return &Identity{Fingerprint: fingerprint, Signing: signing, Encryption: encryption}, nil
}

// Destroy deletes the identity's on-disk material. This is the only way an
// identity is ever removed (spec section 3).
func Destroy(dataDir, fingerprint string) error {
	dir, err := Dir(dataDir, fingerprint)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(dir); err != nil {
		return dnaerr.Permission("Destroy", err)
	}
	return nil
}

// List enumerates the identities present under dataDir by directory name,
// skipping any entry that fails the name whitelist rather than erroring,
// since stray directories are not this package's concern.
func List(dataDir string) ([]string, error) {
	entries, err := os.ReadDir(dataDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, dnaerr.Permission("List", err)
	}

	var fingerprints []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if err := ValidateName(e.Name()); err != nil {
			continue
		}
		fingerprints = append(fingerprints, e.Name())
	}
	return fingerprints, nil
}

// String implements fmt.Stringer for debug logging without leaking secret
// key material.
func (id *Identity) String() string {
	return fmt.Sprintf("Identity{fingerprint=%s}", id.Fingerprint[:16])
}
