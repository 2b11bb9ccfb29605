// Package contact manages a dna identity's contact list: the other
// fingerprints it has exchanged keys with, their cached public keys, and
// the transport connection status the engine maintains for each (spec
// section 4's Contact type).
package contact

import (
	"database/sql"
	"time"

	"github.com/cloudflare/circl/kem"
	"github.com/cloudflare/circl/sign"
	"github.com/sirupsen/logrus"

	"github.com/dnanet/dna/crypto"
	"github.com/dnanet/dna/dnaerr"
	"github.com/dnanet/dna/store"
)

// ConnectionStatus tracks whether the engine currently believes it can
// reach a contact directly, only through a relay, or not at all.
type ConnectionStatus string

const (
	ConnectionUnknown ConnectionStatus = "unknown"
	ConnectionDirect   ConnectionStatus = "direct"
	ConnectionRelayed  ConnectionStatus = "relayed"
	ConnectionOffline  ConnectionStatus = "offline"
)

// Contact is one entry in the local contact list.
type Contact struct {
	Fingerprint      string
	Name             string
	ConnectionStatus ConnectionStatus
	SigningPub       sign.PublicKey
	EncryptionPub    kem.PublicKey
	AddedAt          time.Time
}

// Manager persists and serves the contact list on top of store.Store.
type Manager struct {
	db *sql.DB
}

// NewManager wraps a store for contact list operations.
func NewManager(s *store.Store) *Manager {
	return &Manager{db: s.Contacts()}
}

// Add inserts a new contact, rejecting a duplicate fingerprint (spec
// section 4: a contact is identified uniquely by fingerprint).
func (m *Manager) Add(c Contact) error {
	logger := logrus.WithFields(logrus.Fields{
		"function": "Manager.Add", "package": "contact", "fingerprint": shortFP(c.Fingerprint),
	})

	signingBytes, err := c.SigningPub.MarshalBinary()
	if err != nil {
		return dnaerr.Crypto("Manager.Add", err)
	}
	encBytes, err := c.EncryptionPub.MarshalBinary()
	if err != nil {
		return dnaerr.Crypto("Manager.Add", err)
	}

	_, err = m.db.Exec(
		`INSERT INTO contacts (fingerprint, name, connection_status, signing_pub, encryption_pub, added_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		c.Fingerprint, c.Name, string(c.ConnectionStatus), signingBytes, encBytes, c.AddedAt.Unix(),
	)
	if err != nil {
		logger.WithError(err).Debug("insert failed, likely a duplicate fingerprint")
		return dnaerr.AlreadyExists("Manager.Add")
	}
	logger.Info("contact added")
	return nil
}

// Get retrieves a contact by fingerprint.
func (m *Manager) Get(fingerprint string) (Contact, error) {
	row := m.db.QueryRow(
		`SELECT fingerprint, name, connection_status, signing_pub, encryption_pub, added_at
		 FROM contacts WHERE fingerprint = ?`, fingerprint)
	return scanContact(row)
}

// List returns every contact, ordered by when they were added.
func (m *Manager) List() ([]Contact, error) {
	rows, err := m.db.Query(
		`SELECT fingerprint, name, connection_status, signing_pub, encryption_pub, added_at
		 FROM contacts ORDER BY added_at ASC`)
	if err != nil {
		return nil, dnaerr.Storage("Manager.List", err)
	}
	defer rows.Close()

	var out []Contact
	for rows.Next() {
		c, err := scanContactRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, dnaerr.Storage("Manager.List", err)
	}
	return out, nil
}

// SetConnectionStatus updates the cached reachability of a contact. It
// returns an UnknownRecipient error if no contact has that fingerprint.
func (m *Manager) SetConnectionStatus(fingerprint string, status ConnectionStatus) error {
	result, err := m.db.Exec(
		`UPDATE contacts SET connection_status = ? WHERE fingerprint = ?`,
		string(status), fingerprint,
	)
	if err != nil {
		return dnaerr.Storage("Manager.SetConnectionStatus", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return dnaerr.Storage("Manager.SetConnectionStatus", err)
	}
	if rows == 0 {
		return dnaerr.New(dnaerr.KindUnknownRecipient, "Manager.SetConnectionStatus", "no such contact")
	}
	return nil
}

// Remove deletes a contact permanently.
func (m *Manager) Remove(fingerprint string) error {
	_, err := m.db.Exec(`DELETE FROM contacts WHERE fingerprint = ?`, fingerprint)
	if err != nil {
		return dnaerr.Storage("Manager.Remove", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanContact(row *sql.Row) (Contact, error) {
	return scanGeneric(row)
}

func scanContactRows(rows *sql.Rows) (Contact, error) {
	return scanGeneric(rows)
}

func scanGeneric(scanner rowScanner) (Contact, error) {
	var (
		c                           Contact
		status                      string
		signingBytes, encBytes      []byte
		addedAtUnix                 int64
	)
	if err := scanner.Scan(&c.Fingerprint, &c.Name, &status, &signingBytes, &encBytes, &addedAtUnix); err != nil {
		if err == sql.ErrNoRows {
			return Contact{}, dnaerr.New(dnaerr.KindUnknownRecipient, "contact.scan", "no such contact")
		}
		return Contact{}, dnaerr.Storage("contact.scan", err)
	}

	c.ConnectionStatus = ConnectionStatus(status)
	c.AddedAt = time.Unix(addedAtUnix, 0)

	signingPub, err := crypto.UnmarshalSigningPublicKey(signingBytes)
	if err != nil {
		return Contact{}, err
	}
	c.SigningPub = signingPub

	encPub, err := crypto.UnmarshalKEMPublicKey(encBytes)
	if err != nil {
		return Contact{}, err
	}
	c.EncryptionPub = encPub

	return c, nil
}

func shortFP(fp string) string {
	if len(fp) > 16 {
		return fp[:16]
	}
	return fp
}
