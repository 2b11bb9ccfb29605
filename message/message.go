// Package message implements message storage and delivery-state tracking
// (spec section 4's Message type): per-contact and per-group history,
// ordered by a monotonic StoreOrder rather than wall-clock time so that
// concurrent sends from multiple devices or a restored backup never
// reorder a conversation.
package message

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/dnanet/dna/dnaerr"
	"github.com/dnanet/dna/store"
)

// Direction distinguishes a message this identity sent from one it received.
type Direction string

const (
	DirectionOutgoing Direction = "outgoing"
	DirectionIncoming Direction = "incoming"
)

// Status is a message's delivery lifecycle state. Valid transitions are
// Pending -> Sent -> Delivered -> Read, or Pending/Sent -> Failed; Failed
// is terminal only until a retry moves it back to Pending.
type Status string

const (
	StatusPending   Status = "pending"
	StatusSent      Status = "sent"
	StatusDelivered Status = "delivered"
	StatusRead      Status = "read"
	StatusFailed    Status = "failed"
)

var validTransitions = map[Status]map[Status]bool{
	StatusPending:   {StatusSent: true, StatusFailed: true},
	StatusSent:      {StatusDelivered: true, StatusFailed: true},
	StatusDelivered: {StatusRead: true},
	StatusRead:      {},
	StatusFailed:    {StatusPending: true},
}

// CanTransition reports whether moving from 'from' to 'to' is a legal
// status transition.
func CanTransition(from, to Status) bool {
	return validTransitions[from][to]
}

// Message is one stored message, either direct (ContactFP set) or
// addressed to a group (GroupID set); exactly one of the two is non-empty.
type Message struct {
	ID         string
	StoreOrder uint64
	ContactFP  string
	GroupID    string
	Direction  Direction
	Status     Status
	Body       []byte
	// SigHash is the hex-encoded hash of the originating envelope's detached
	// signature, set on inbound messages only; it is the redelivery dedup
	// key described in spec section 4.5's idempotent-receive rule. Empty for
	// outgoing messages, which have no envelope to dedup against.
	SigHash   string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Store persists messages on top of store.Store, allocating StoreOrder
// values from its shared monotonic counter.
type Store struct {
	db       *sql.DB
	sequence *store.Store
}

// NewStore wraps s for message persistence.
func NewStore(s *store.Store) *Store {
	return &Store{db: s.Messages(), sequence: s}
}

// Append records a new message, allocating it the next StoreOrder.
func (s *Store) Append(msg Message) (Message, error) {
	logger := logrus.WithFields(logrus.Fields{"function": "Store.Append", "package": "message"})

	if msg.ID == "" {
		id, err := uuid.NewRandom()
		if err != nil {
			return Message{}, dnaerr.New(dnaerr.KindCrypto, "Store.Append", "failed to generate message id")
		}
		msg.ID = id.String()
	}

	order, err := s.sequence.NextStoreOrder()
	if err != nil {
		return Message{}, err
	}
	msg.StoreOrder = order

	now := time.Now()
	msg.CreatedAt = now
	msg.UpdatedAt = now

	_, err = s.db.Exec(
		`INSERT INTO messages (id, store_order, contact_fp, group_id, direction, status, body, sig_hash, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.StoreOrder, msg.ContactFP, msg.GroupID, string(msg.Direction), string(msg.Status),
		msg.Body, msg.SigHash, msg.CreatedAt.Unix(), msg.UpdatedAt.Unix(),
	)
	if err != nil {
		if msg.SigHash != "" {
			logger.WithFields(logrus.Fields{"sig_hash": msg.SigHash}).Debug("insert failed, envelope already stored")
			return Message{}, dnaerr.AlreadyExists("Store.Append")
		}
		return Message{}, dnaerr.Storage("Store.Append", err)
	}

	logger.WithFields(logrus.Fields{"store_order": msg.StoreOrder}).Debug("message appended")
	return msg, nil
}

// SetStatus transitions a message's status, rejecting any transition not
// allowed by CanTransition.
func (s *Store) SetStatus(id string, to Status) error {
	var current string
	if err := s.db.QueryRow(`SELECT status FROM messages WHERE id = ?`, id).Scan(&current); err != nil {
		if err == sql.ErrNoRows {
			return dnaerr.New(dnaerr.KindUnknownRecipient, "Store.SetStatus", "no such message")
		}
		return dnaerr.Storage("Store.SetStatus", err)
	}

	if !CanTransition(Status(current), to) {
		return dnaerr.New(dnaerr.KindPermission, "Store.SetStatus", "illegal status transition")
	}

	_, err := s.db.Exec(`UPDATE messages SET status = ?, updated_at = ? WHERE id = ?`, string(to), time.Now().Unix(), id)
	if err != nil {
		return dnaerr.Storage("Store.SetStatus", err)
	}
	return nil
}

// ListForContact returns a contact's message history, oldest first.
func (s *Store) ListForContact(contactFP string, limit int) ([]Message, error) {
	rows, err := s.db.Query(
		`SELECT id, store_order, contact_fp, group_id, direction, status, body, sig_hash, created_at, updated_at
		 FROM messages WHERE contact_fp = ? ORDER BY store_order ASC LIMIT ?`,
		contactFP, limit,
	)
	if err != nil {
		return nil, dnaerr.Storage("Store.ListForContact", err)
	}
	return scanMessages(rows)
}

// ListForGroup returns a group's message history, oldest first.
func (s *Store) ListForGroup(groupID string, limit int) ([]Message, error) {
	rows, err := s.db.Query(
		`SELECT id, store_order, contact_fp, group_id, direction, status, body, sig_hash, created_at, updated_at
		 FROM messages WHERE group_id = ? ORDER BY store_order ASC LIMIT ?`,
		groupID, limit,
	)
	if err != nil {
		return nil, dnaerr.Storage("Store.ListForGroup", err)
	}
	return scanMessages(rows)
}

func scanMessages(rows *sql.Rows) ([]Message, error) {
	defer rows.Close()
	var out []Message
	for rows.Next() {
		var (
			m                        Message
			direction, status        string
			createdUnix, updatedUnix int64
		)
		if err := rows.Scan(&m.ID, &m.StoreOrder, &m.ContactFP, &m.GroupID, &direction, &status, &m.Body, &m.SigHash, &createdUnix, &updatedUnix); err != nil {
			return nil, dnaerr.Storage("message.scanMessages", err)
		}
		m.Direction = Direction(direction)
		m.Status = Status(status)
		m.CreatedAt = time.Unix(createdUnix, 0)
		m.UpdatedAt = time.Unix(updatedUnix, 0)
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, dnaerr.Storage("message.scanMessages", err)
	}
	return out, nil
}
