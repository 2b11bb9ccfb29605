package dna

import (
	"context"
	"encoding/hex"
	"net"
	"time"

	"github.com/cloudflare/circl/sign"
	"github.com/sirupsen/logrus"

	"github.com/dnanet/dna/crypto"
	"github.com/dnanet/dna/dht"
	"github.com/dnanet/dna/dnaerr"
	"github.com/dnanet/dna/envelope"
	"github.com/dnanet/dna/message"
)

// presenceRefreshLoop republishes this identity's presence record on the
// config's presence_refresh_secs cadence, so the record never lapses past
// its TTL while the engine is running.
func (e *Engine) presenceRefreshLoop(ctx context.Context) {
	defer e.wg.Done()
	interval := e.opts.Config.PresenceRefresh
	if interval <= 0 {
		interval = dht.PresenceTTL / 2
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-e.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := dht.PublishPresence(e.overlay, e.id.Signing, e.id.Fingerprint, []string{e.udp.LocalAddr().String()}); err != nil {
				logrus.WithFields(logrus.Fields{"function": "Engine.presenceRefreshLoop", "package": "dna"}).WithError(err).Warn("presence refresh failed")
			}
		}
	}
}

// inboxPollLoop drains this identity's spillway inbox on the config's
// inbox_poll_secs cadence, decrypting and dispatching every envelope it
// finds as though it had arrived over a live transport tier.
func (e *Engine) inboxPollLoop(ctx context.Context) {
	defer e.wg.Done()
	interval := e.opts.Config.InboxPoll
	if interval <= 0 {
		interval = 2 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-e.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.drainInbox()
		}
	}
}

func (e *Engine) drainInbox() {
	logger := logrus.WithFields(logrus.Fields{"function": "Engine.drainInbox", "package": "dna"})
	envelopes, err := dht.DrainSpillway(e.overlay, e.id.Fingerprint)
	if err != nil {
		logger.WithError(err).Warn("spillway drain failed")
		return
	}
	for _, raw := range envelopes {
		e.handleInboundEnvelope(nil, raw)
	}
}

// sendQueueLoop drains the bounded outbound queue, attempting delivery
// through the transport manager's tiered fallback for each request.
func (e *Engine) sendQueueLoop(ctx context.Context) {
	defer e.wg.Done()
	for {
		select {
		case <-e.stopCh:
			return
		case <-ctx.Done():
			return
		case req := <-e.sendQueue:
			req.result <- e.deliver(ctx, req)
		}
	}
}

func (e *Engine) deliver(ctx context.Context, req sendRequest) error {
	c, err := e.contacts.Get(req.recipientFP)
	if err != nil {
		return err
	}

	env, err := envelope.Encrypt(req.plaintext, []envelope.Recipient{{Fingerprint: c.Fingerprint, PublicKey: c.EncryptionPub}}, e.id.Signing)
	if err != nil {
		return err
	}

	var directAddr net.Addr
	if presence, ok, err := dht.LookupPresence(e.overlay, c.Fingerprint); err == nil && ok && len(presence.Addresses) > 0 {
		if addr, err := net.ResolveUDPAddr("udp", presence.Addresses[0]); err == nil {
			directAddr = addr
		}
	}

	return e.transport.Send(ctx, req.recipientFP, directAddr, env.Marshal())
}

// handleInboundEnvelope is the transport.EnvelopeHandler wired into every
// transport tier: parse, verify, decrypt, persist, and emit a
// MessageReceived event.
//
// The envelope's match tag identifies us as a recipient, but never the
// sender (spec section 4.2: the sender's signing key is not embedded).
// Since the signature check runs against a caller-supplied fingerprint,
// the engine tries each known contact as a candidate sender until one
// verifies (spec section 4.5's receive pipeline: "look up sender
// fingerprint, check that it matches a known contact").
func (e *Engine) handleInboundEnvelope(_ net.Addr, raw []byte) {
	logger := logrus.WithFields(logrus.Fields{"function": "Engine.handleInboundEnvelope", "package": "dna"})

	env, err := envelope.Parse(raw)
	if err != nil {
		logger.WithError(err).Warn("dropping unparseable envelope")
		return
	}

	contacts, err := e.contacts.List()
	if err != nil {
		logger.WithError(err).Error("failed to list contacts for envelope decryption")
		return
	}

	resolveSender := func(fp string) (sign.PublicKey, error) {
		c, err := e.contacts.Get(fp)
		if err != nil {
			return nil, err
		}
		return c.SigningPub, nil
	}

	sigHash := envelopeSigHash(env)

	for _, c := range contacts {
		plaintext, err := env.Decrypt(e.id.Encryption.Private, c.Fingerprint, resolveSender)
		if err == nil {
			e.storeAndEmit(c.Fingerprint, sigHash, plaintext)
			return
		}
	}
	logger.Warn("no known contact's signature verified this envelope, dropping")
}

// envelopeSigHash derives the redelivery dedup key for an envelope: the
// hex-encoded SHA3-256 of its detached signature, unique per signing.
func envelopeSigHash(env *envelope.Envelope) string {
	sum := crypto.Sum256(env.Signature())
	return hex.EncodeToString(sum[:])
}

// storeAndEmit persists an inbound message and emits MessageReceived,
// skipping both when sigHash already exists in the local store: the inbox
// poller and a live transport tier can both deliver the same envelope, and
// spec section 4.5 requires processing a redelivered envelope exactly once.
func (e *Engine) storeAndEmit(senderFP, sigHash string, plaintext []byte) {
	logger := logrus.WithFields(logrus.Fields{"function": "Engine.storeAndEmit", "package": "dna"})

	msg, err := e.messages.Append(message.Message{
		ContactFP: senderFP,
		Direction: message.DirectionIncoming,
		Status:    message.StatusDelivered,
		Body:      plaintext,
		SigHash:   sigHash,
	})
	if err != nil {
		if kind, ok := dnaerr.KindOf(err); ok && kind == dnaerr.KindAlreadyExists {
			logger.WithFields(logrus.Fields{"sig_hash": sigHash}).Debug("dropping redelivered envelope")
			return
		}
		logger.WithError(err).Error("failed to persist incoming message")
		return
	}
	e.emit(Event{Type: EventMessageReceived, ContactFP: senderFP, MessageID: msg.ID, Body: plaintext})
}
