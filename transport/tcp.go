package transport

import (
	"bufio"
	"context"
	"encoding/binary"
	"io"
	"net"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/dnanet/dna/dnaerr"
)

// TCPRelayTransport is the tier-3-adjacent reliable fallback path: a relay
// server both peers can reach even when neither can reach the other
// directly and ICE negotiation (tier 2) fails. Frames are length-prefixed
// the same way as over UDP, just carried on a persistent stream.
type TCPRelayTransport struct {
	listener   net.Listener
	listenAddr net.Addr
	dispatcher *dispatcher

	mu      sync.RWMutex
	clients map[string]net.Conn

	cancel context.CancelFunc
}

// NewTCPRelayTransport listens on listenAddr and starts accepting relay
// connections.
func NewTCPRelayTransport(listenAddr string) (*TCPRelayTransport, error) {
	listener, err := net.Listen("tcp", listenAddr)
	if err != nil {
		return nil, dnaerr.Network("NewTCPRelayTransport", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	t := &TCPRelayTransport{
		listener:   listener,
		listenAddr: listener.Addr(),
		dispatcher: newDispatcher(),
		clients:    make(map[string]net.Conn),
		cancel:     cancel,
	}
	go t.acceptLoop(ctx)
	return t, nil
}

// LocalAddr returns the bound local address.
func (t *TCPRelayTransport) LocalAddr() net.Addr { return t.listenAddr }

// SetEnvelopeHandler installs the callback invoked for every received
// envelope frame.
func (t *TCPRelayTransport) SetEnvelopeHandler(h EnvelopeHandler) { t.dispatcher.SetHandler(h) }

// SendEnvelope delivers envelope to addr over a persistent TCP connection,
// dialing a new one if none is currently open.
func (t *TCPRelayTransport) SendEnvelope(envelope []byte, addr net.Addr) error {
	conn, err := t.connFor(addr)
	if err != nil {
		return err
	}

	packet := &Packet{Type: PacketTypeEnvelope, Payload: envelope}
	data, err := packet.Serialize()
	if err != nil {
		return dnaerr.Network("TCPRelayTransport.SendEnvelope", err)
	}

	var lenPrefix [4]byte
	binary.BigEndian.PutUint32(lenPrefix[:], uint32(len(data)))
	if _, err := conn.Write(append(lenPrefix[:], data...)); err != nil {
		t.dropConn(addr)
		return dnaerr.Network("TCPRelayTransport.SendEnvelope", err)
	}
	return nil
}

func (t *TCPRelayTransport) connFor(addr net.Addr) (net.Conn, error) {
	key := addr.String()

	t.mu.RLock()
	conn, ok := t.clients[key]
	t.mu.RUnlock()
	if ok {
		return conn, nil
	}

	conn, err := net.Dial("tcp", key)
	if err != nil {
		return nil, dnaerr.Network("TCPRelayTransport.connFor", err)
	}

	t.mu.Lock()
	t.clients[key] = conn
	t.mu.Unlock()
	go t.readLoop(conn)
	return conn, nil
}

func (t *TCPRelayTransport) dropConn(addr net.Addr) {
	t.mu.Lock()
	delete(t.clients, addr.String())
	t.mu.Unlock()
}

func (t *TCPRelayTransport) acceptLoop(ctx context.Context) {
	logger := logrus.WithFields(logrus.Fields{"function": "TCPRelayTransport.acceptLoop", "package": "transport"})
	for {
		conn, err := t.listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
				logger.WithError(err).Debug("accept error, continuing")
				continue
			}
		}

		t.mu.Lock()
		t.clients[conn.RemoteAddr().String()] = conn
		t.mu.Unlock()
		go t.readLoop(conn)
	}
}

func (t *TCPRelayTransport) readLoop(conn net.Conn) {
	logger := logrus.WithFields(logrus.Fields{"function": "TCPRelayTransport.readLoop", "package": "transport"})
	reader := bufio.NewReader(conn)
	defer func() {
		t.dropConn(conn.RemoteAddr())
		conn.Close()
	}()

	for {
		var lenPrefix [4]byte
		if _, err := io.ReadFull(reader, lenPrefix[:]); err != nil {
			return
		}
		length := binary.BigEndian.Uint32(lenPrefix[:])
		if length > maxPacketSize {
			logger.Warn("peer declared oversized frame, closing connection")
			return
		}

		data := make([]byte, length)
		if _, err := io.ReadFull(reader, data); err != nil {
			return
		}

		packet, err := ParsePacket(data)
		if err != nil {
			logger.WithError(err).Debug("dropped malformed packet")
			continue
		}
		if packet.Type == PacketTypeEnvelope {
			t.dispatcher.enqueue(conn.RemoteAddr(), packet.Payload)
		}
	}
}

// Close shuts down the listener, every open client connection, and the
// accept loop.
func (t *TCPRelayTransport) Close() error {
	t.cancel()
	t.mu.Lock()
	for _, conn := range t.clients {
		conn.Close()
	}
	t.mu.Unlock()
	return t.listener.Close()
}
