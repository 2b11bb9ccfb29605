package transport

import (
	"context"
	"net"

	"github.com/sirupsen/logrus"

	"github.com/dnanet/dna/dht"
	"github.com/dnanet/dna/dnaerr"
)

// UDPTransport is the tier-1 direct-connect path: a bare UDP socket, no NAT
// traversal, used whenever a peer's published presence address is directly
// reachable.
type UDPTransport struct {
	conn       net.PacketConn
	listenAddr net.Addr
	dispatcher *dispatcher
	cancel     context.CancelFunc
}

// NewUDPTransport opens a UDP socket on listenAddr (e.g. ":33445") and
// starts its receive loop.
func NewUDPTransport(listenAddr string) (*UDPTransport, error) {
	conn, err := net.ListenPacket("udp", listenAddr)
	if err != nil {
		return nil, dnaerr.Network("NewUDPTransport", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	t := &UDPTransport{
		conn:       conn,
		listenAddr: conn.LocalAddr(),
		dispatcher: newDispatcher(),
		cancel:     cancel,
	}
	go t.receiveLoop(ctx)
	return t, nil
}

// LocalAddr returns the bound local address.
func (t *UDPTransport) LocalAddr() net.Addr { return t.listenAddr }

// SetEnvelopeHandler installs the callback invoked for every received
// envelope frame.
func (t *UDPTransport) SetEnvelopeHandler(h EnvelopeHandler) { t.dispatcher.SetHandler(h) }

// SendEnvelope frames and transmits an envelope to addr.
func (t *UDPTransport) SendEnvelope(envelope []byte, addr net.Addr) error {
	packet := &Packet{Type: PacketTypeEnvelope, Payload: envelope}
	data, err := packet.Serialize()
	if err != nil {
		return dnaerr.Network("UDPTransport.SendEnvelope", err)
	}
	if _, err := t.conn.WriteTo(data, addr); err != nil {
		return dnaerr.Network("UDPTransport.SendEnvelope", err)
	}
	return nil
}

// Ping satisfies dht.Pinger: it writes a Ping frame to addr and reports
// success once the write succeeds, without waiting for the Pong reply and
// with no identity exchange, so it always returns a zero ID. A caller that needs the
// responder's identity must rely on the DHT's signed presence record
// rather than trusting a handshake over this tier.
func (t *UDPTransport) Ping(ctx context.Context, addr net.Addr) (dht.ID, error) {
	packet := &Packet{Type: PacketTypePing}
	data, err := packet.Serialize()
	if err != nil {
		return dht.ID{}, dnaerr.Network("UDPTransport.Ping", err)
	}
	if _, err := t.conn.WriteTo(data, addr); err != nil {
		return dht.ID{}, dnaerr.Network("UDPTransport.Ping", err)
	}
	return dht.ID{}, nil
}

// Close shuts down the socket and its receive loop.
func (t *UDPTransport) Close() error {
	t.cancel()
	return t.conn.Close()
}

func (t *UDPTransport) receiveLoop(ctx context.Context) {
	logger := logrus.WithFields(logrus.Fields{"function": "UDPTransport.receiveLoop", "package": "transport"})
	buf := make([]byte, 64*1024)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		n, addr, err := t.conn.ReadFrom(buf)
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
				logger.WithError(err).Debug("read error, continuing")
				continue
			}
		}

		packet, err := ParsePacket(buf[:n])
		if err != nil {
			logger.WithError(err).Debug("dropped malformed packet")
			continue
		}

		switch packet.Type {
		case PacketTypeEnvelope:
			t.dispatcher.enqueue(addr, packet.Payload)
		case PacketTypePing:
			pong := &Packet{Type: PacketTypePong}
			if data, err := pong.Serialize(); err == nil {
				_, _ = t.conn.WriteTo(data, addr)
			}
		default:
			// Pong and DHT RPC frames have no handler on this socket; they
			// and unrecognized types are ignored rather than treated as an
			// error.
		}
	}
}
