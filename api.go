package dna

import (
	"context"
	"time"

	"github.com/cloudflare/circl/kem"
	"github.com/cloudflare/circl/sign"

	"github.com/dnanet/dna/contact"
	"github.com/dnanet/dna/dht"
	"github.com/dnanet/dna/dnaerr"
	"github.com/dnanet/dna/group"
	"github.com/dnanet/dna/identity"
	"github.com/dnanet/dna/message"
)

// ListIdentities enumerates the identities present under the engine's data
// directory.
func (e *Engine) ListIdentities() ([]string, error) {
	return identity.List(e.opts.DataDir)
}

// CreateIdentity derives and persists a new identity from independently
// generated seeds. It takes no display name: the identity is stored under
// its fingerprint only.
func (e *Engine) CreateIdentity(signSeed, encSeed [32]byte) (*identity.Identity, error) {
	id, err := identity.New(signSeed, encSeed)
	if err != nil {
		return nil, err
	}
	if err := id.Save(e.opts.DataDir); err != nil {
		return nil, err
	}
	return id, nil
}

// RegisterName claims a human-readable name for the loaded identity,
// first-writer-wins (spec section 5's at-most-one-owner rule).
func (e *Engine) RegisterName(name string) error {
	if e.id == nil {
		return dnaerr.NotInitialized("Engine.RegisterName")
	}
	value := dht.SignedValue{
		Payload:     []byte(e.id.Fingerprint),
		AuthorFP:    e.id.Fingerprint,
		SequenceNum: uint64(time.Now().UnixNano()),
	}
	value.Sign(e.id.Signing)
	return e.names.Claim(name, value)
}

// LookupName resolves a registered name to the fingerprint that claimed
// it, if any.
func (e *Engine) LookupName(name string) (string, bool, error) {
	value, ok, err := e.names.Resolve(name)
	if err != nil || !ok {
		return "", false, err
	}
	return string(value.Payload), true, nil
}

// AddContact inserts a new contact, given its fingerprint and public keys
// obtained out of band (e.g. via name lookup + DHT key record fetch).
func (e *Engine) AddContact(fingerprint, name string, signingPub sign.PublicKey, encPub kem.PublicKey) error {
	return e.contacts.Add(contact.Contact{
		Fingerprint:      fingerprint,
		Name:             name,
		ConnectionStatus: contact.ConnectionUnknown,
		SigningPub:       signingPub,
		EncryptionPub:    encPub,
		AddedAt:          time.Now(),
	})
}

// GetContact retrieves a contact by fingerprint.
func (e *Engine) GetContact(fingerprint string) (contact.Contact, error) {
	return e.contacts.Get(fingerprint)
}

// RemoveContact deletes a contact permanently.
func (e *Engine) RemoveContact(fingerprint string) error {
	return e.contacts.Remove(fingerprint)
}

// SendMessage encrypts and attempts immediate delivery of text to
// recipientFP, blocking until the send pipeline's tiered fallback either
// succeeds or exhausts every tier (spec section 6: send_message).
func (e *Engine) SendMessage(ctx context.Context, recipientFP string, text []byte) (message.Message, error) {
	msg, err := e.messages.Append(message.Message{
		ContactFP: recipientFP,
		Direction: message.DirectionOutgoing,
		Status:    message.StatusPending,
		Body:      text,
	})
	if err != nil {
		return message.Message{}, err
	}

	req := sendRequest{recipientFP: recipientFP, plaintext: text, result: make(chan error, 1)}
	select {
	case e.sendQueue <- req:
	default:
		return msg, dnaerr.Busy("Engine.SendMessage")
	}

	select {
	case err := <-req.result:
		if err != nil {
			_ = e.messages.SetStatus(msg.ID, message.StatusFailed)
			return msg, err
		}
		_ = e.messages.SetStatus(msg.ID, message.StatusSent)
		return msg, nil
	case <-ctx.Done():
		return msg, ctx.Err()
	}
}

// QueueMessage enqueues text for asynchronous delivery by the send-queue
// worker without waiting for the outcome (spec section 6: queue_message).
func (e *Engine) QueueMessage(recipientFP string, text []byte) (message.Message, error) {
	msg, err := e.messages.Append(message.Message{
		ContactFP: recipientFP,
		Direction: message.DirectionOutgoing,
		Status:    message.StatusPending,
		Body:      text,
	})
	if err != nil {
		return message.Message{}, err
	}

	req := sendRequest{recipientFP: recipientFP, plaintext: text, result: make(chan error, 1)}
	select {
	case e.sendQueue <- req:
	default:
		return msg, dnaerr.Busy("Engine.QueueMessage")
	}
	go func() {
		err := <-req.result
		status := message.StatusSent
		if err != nil {
			status = message.StatusFailed
		}
		_ = e.messages.SetStatus(msg.ID, status)
	}()
	return msg, nil
}

// GetConversation returns a contact's message history, oldest first (spec
// section 6: get_conversation).
func (e *Engine) GetConversation(contactFP string, limit int) ([]message.Message, error) {
	return e.messages.ListForContact(contactFP, limit)
}

// CheckOfflineMessages triggers an immediate spillway drain instead of
// waiting for the inbox poller's next tick (spec section 6:
// check_offline_messages).
func (e *Engine) CheckOfflineMessages() {
	e.drainInbox()
}

// CreateGroup creates a new group owned by the loaded identity.
func (e *Engine) CreateGroup(name string) (group.Group, error) {
	return e.groups.CreateGroup(name, e.id.Fingerprint, e.id.Signing, e.id.Encryption.Public)
}

// SendGroupMessage records text as an outgoing group message and delivers
// it to every listed member other than self through SendMessage, as a
// separate 1:1 envelope per member. The group's GSK is not used: no single
// payload is encrypted under the group key.
func (e *Engine) SendGroupMessage(ctx context.Context, groupID string, members []string, text []byte) (message.Message, error) {
	msg, err := e.messages.Append(message.Message{
		GroupID:   groupID,
		Direction: message.DirectionOutgoing,
		Status:    message.StatusPending,
		Body:      text,
	})
	if err != nil {
		return message.Message{}, err
	}

	var lastErr error
	for _, memberFP := range members {
		if memberFP == e.id.Fingerprint {
			continue
		}
		if _, err := e.SendMessage(ctx, memberFP, text); err != nil {
			lastErr = err
		}
	}
	if lastErr != nil {
		_ = e.messages.SetStatus(msg.ID, message.StatusFailed)
		return msg, lastErr
	}
	_ = e.messages.SetStatus(msg.ID, message.StatusSent)
	return msg, nil
}

// AcceptInvitation moves a locally-known invitation to member (spec
// section 6: accept_invitation).
func (e *Engine) AcceptInvitation(groupID string) error {
	return e.groups.AcceptInvitation(groupID)
}

// RejectInvitation moves a locally-known invitation straight to
// former-member, without it ever becoming a member; the local record is
// kept.
func (e *Engine) RejectInvitation(groupID string) error {
	return e.groups.Leave(groupID)
}

// RefreshPresence republishes the identity's presence record immediately,
// instead of waiting for the next scheduled refresh (spec section 6:
// refresh_presence).
func (e *Engine) RefreshPresence() error {
	return dht.PublishPresence(e.overlay, e.id.Signing, e.id.Fingerprint, []string{e.udp.LocalAddr().String()})
}

// IsPeerOnline reports whether a live, unexpired presence record exists
// for fingerprint.
func (e *Engine) IsPeerOnline(fingerprint string) (bool, error) {
	_, ok, err := dht.LookupPresence(e.overlay, fingerprint)
	return ok, err
}

// LookupPresence resolves a fingerprint's published transport hints.
func (e *Engine) LookupPresence(fingerprint string) (dht.Presence, bool, error) {
	return dht.LookupPresence(e.overlay, fingerprint)
}
