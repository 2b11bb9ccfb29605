package transport

import (
	"context"
	"net"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/dnanet/dna/dht"
	"github.com/dnanet/dna/dnaerr"
)

// SendDeadlineDirect bounds how long tier 1 is given to succeed before
// Send falls through to the next tier (spec section 6's
// send_deadline_direct_ms / send_deadline_ice_ms). SendDeadlineICE holds
// the tier-2 budget; Send does not use it, since it makes no ICE attempt.
var (
	SendDeadlineDirect = 800 * time.Millisecond
	SendDeadlineICE    = 3 * time.Second
)

// RelayDialer abstracts reaching the TCP relay fallback so Manager does not
// need to know whether it owns the relay transport or borrows a shared one.
type RelayDialer interface {
	SendEnvelope(envelope []byte, addr net.Addr) error
}

// SpillwayWriter abstracts tier-3: handing an envelope to the DHT's
// offline inbox when no live path to the recipient exists at all.
type SpillwayWriter func(ctx context.Context, recipientFP string, envelope []byte) error

// Manager tries each delivery tier in order for a single send: direct UDP
// first, then the TCP relay, then the DHT spillway as the final fallback
// when the recipient is simply offline. ICE-negotiated NAT traversal is not
// among the tiers Manager tries; Manager never creates an ICESession.
type Manager struct {
	direct  *UDPTransport
	relay   RelayDialer
	dht     *dht.Store
	spill   SpillwayWriter
	envelopeHandler EnvelopeHandler
}

// NewManager builds a tier-selecting send manager. relay and spillway may
// be nil if that tier is not configured (e.g. no relay servers known yet).
func NewManager(direct *UDPTransport, relay RelayDialer, spillway SpillwayWriter) *Manager {
	return &Manager{direct: direct, relay: relay, spill: spillway}
}

// SetEnvelopeHandler installs the single callback used for every tier this
// manager owns directly (direct UDP; ICE and relay sessions register their
// own handler at construction time since they are per-peer).
func (m *Manager) SetEnvelopeHandler(h EnvelopeHandler) {
	m.envelopeHandler = h
	if m.direct != nil {
		m.direct.SetEnvelopeHandler(h)
	}
}

// Send attempts direct delivery, then relay, then queues to the DHT
// spillway, returning the first success. recipientFP is used only for the
// spillway fallback; directAddr may be nil if no presence hint is known.
func (m *Manager) Send(ctx context.Context, recipientFP string, directAddr net.Addr, envelope []byte) error {
	logger := logrus.WithFields(logrus.Fields{
		"function": "Manager.Send", "package": "transport", "recipient": shortFP(recipientFP),
	})

	if directAddr != nil && m.direct != nil {
		directCtx, cancel := context.WithTimeout(ctx, SendDeadlineDirect)
		err := m.sendDirect(directCtx, directAddr, envelope)
		cancel()
		if err == nil {
			return nil
		}
		logger.WithError(err).Debug("direct delivery failed, falling back")
	}

	if m.relay != nil && directAddr != nil {
		if err := m.relay.SendEnvelope(envelope, directAddr); err == nil {
			return nil
		}
		logger.Debug("relay delivery failed, falling back to spillway")
	}

	if m.spill != nil {
		if err := m.spill(ctx, recipientFP, envelope); err != nil {
			return dnaerr.Network("Manager.Send", err)
		}
		return nil
	}

	return dnaerr.Network("Manager.Send", nil)
}

func (m *Manager) sendDirect(ctx context.Context, addr net.Addr, envelope []byte) error {
	done := make(chan error, 1)
	go func() { done <- m.direct.SendEnvelope(envelope, addr) }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return dnaerr.Timeout("Manager.sendDirect")
	}
}

func shortFP(fp string) string {
	if len(fp) > 16 {
		return fp[:16]
	}
	return fp
}
