package transport

import (
	"bufio"
	"context"
	"encoding/binary"
	"io"
	"net"
	"sync"

	"github.com/pion/ice/v2"
	"github.com/sirupsen/logrus"

	"github.com/dnanet/dna/dnaerr"
)

// ICEOffer is the signaling payload one side of a tier-2 NAT-traversal
// attempt publishes (via the DHT presence record or an already-open relay
// channel) so the other side can negotiate a direct path.
type ICEOffer struct {
	Ufrag      string
	Password   string
	Candidates []string
}

// ICESession negotiates one peer-to-peer connection through NAT using ICE
// (spec section 5's tier-2 path). When negotiation does not converge,
// Connect returns a Network error; the session has no fallback of its own.
type ICESession struct {
	agent      *ice.Agent
	dispatcher *dispatcher

	pendingCandidates   *[]string
	pendingCandidatesMu *sync.Mutex

	mu   sync.Mutex
	conn net.Conn
}

// ICEServerURLs is the set of STUN servers used for candidate gathering.
// It is populated from configuration rather than hardcoded, but a sane
// public default keeps the zero value usable.
var ICEServerURLs = []string{"stun:stun.l.google.com:19302"}

// NewICESession creates an agent and begins gathering local candidates.
func NewICESession() (*ICESession, error) {
	var urls []*ice.URL
	for _, raw := range ICEServerURLs {
		u, err := ice.ParseURL(raw)
		if err != nil {
			continue
		}
		urls = append(urls, u)
	}

	agent, err := ice.NewAgent(&ice.AgentConfig{
		NetworkTypes: []ice.NetworkType{ice.NetworkTypeUDP4, ice.NetworkTypeUDP6},
		Urls:         urls,
	})
	if err != nil {
		return nil, dnaerr.Network("NewICESession", err)
	}

	session := &ICESession{agent: agent, dispatcher: newDispatcher()}

	var candidates []string
	var candMu sync.Mutex
	if err := agent.OnCandidate(func(c ice.Candidate) {
		if c == nil {
			return
		}
		candMu.Lock()
		candidates = append(candidates, c.Marshal())
		candMu.Unlock()
	}); err != nil {
		return nil, dnaerr.Network("NewICESession", err)
	}

	if err := agent.GatherCandidates(); err != nil {
		return nil, dnaerr.Network("NewICESession", err)
	}

	session.pendingCandidates = &candidates
	session.pendingCandidatesMu = &candMu
	return session, nil
}

// Offer returns this side's local ICE credentials and gathered candidates
// to publish to the peer.
func (s *ICESession) Offer() (ICEOffer, error) {
	ufrag, pwd, err := s.agent.GetLocalUserCredentials()
	if err != nil {
		return ICEOffer{}, dnaerr.Network("ICESession.Offer", err)
	}
	s.pendingCandidatesMu.Lock()
	candidates := append([]string(nil), (*s.pendingCandidates)...)
	s.pendingCandidatesMu.Unlock()
	return ICEOffer{Ufrag: ufrag, Password: pwd, Candidates: candidates}, nil
}

// AddRemoteOffer feeds the peer's credentials and candidates into the
// agent ahead of Connect.
func (s *ICESession) AddRemoteOffer(offer ICEOffer) error {
	for _, raw := range offer.Candidates {
		c, err := ice.UnmarshalCandidate(raw)
		if err != nil {
			continue
		}
		if err := s.agent.AddRemoteCandidate(c); err != nil {
			return dnaerr.Network("ICESession.AddRemoteOffer", err)
		}
	}
	return nil
}

// Connect establishes the peer connection, controlling picks which side
// dials (controlling) vs accepts (controlled); exactly one side of a pair
// must pass true, conventionally the side with the lexicographically
// smaller fingerprint.
func (s *ICESession) Connect(ctx context.Context, controlling bool, remote ICEOffer) (net.Conn, error) {
	var conn net.Conn
	var err error
	if controlling {
		conn, err = s.agent.Dial(ctx, remote.Ufrag, remote.Password)
	} else {
		conn, err = s.agent.Accept(ctx, remote.Ufrag, remote.Password)
	}
	if err != nil {
		return nil, dnaerr.Network("ICESession.Connect", err)
	}

	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
	go s.readLoop(conn)
	return conn, nil
}

// SetEnvelopeHandler installs the callback invoked for every received
// envelope frame.
func (s *ICESession) SetEnvelopeHandler(h EnvelopeHandler) { s.dispatcher.SetHandler(h) }

// SendEnvelope frames and writes an envelope over the established
// connection. Connect must have completed first.
func (s *ICESession) SendEnvelope(envelope []byte) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return dnaerr.Network("ICESession.SendEnvelope", nil)
	}

	packet := &Packet{Type: PacketTypeEnvelope, Payload: envelope}
	data, err := packet.Serialize()
	if err != nil {
		return dnaerr.Network("ICESession.SendEnvelope", err)
	}
	var lenPrefix [4]byte
	binary.BigEndian.PutUint32(lenPrefix[:], uint32(len(data)))
	if _, err := conn.Write(append(lenPrefix[:], data...)); err != nil {
		return dnaerr.Network("ICESession.SendEnvelope", err)
	}
	return nil
}

func (s *ICESession) readLoop(conn net.Conn) {
	logger := logrus.WithFields(logrus.Fields{"function": "ICESession.readLoop", "package": "transport"})
	reader := bufio.NewReader(conn)
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
			s.dispatcher.enqueue(conn.RemoteAddr(), packet.Payload)
		}
	}
}

// Close tears down the agent and its connection.
func (s *ICESession) Close() error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
	return s.agent.Close()
}
