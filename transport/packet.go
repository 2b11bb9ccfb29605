// Package transport implements the network layer that carries encrypted
// envelopes between dna peers: a direct UDP path, ICE-negotiated
// NAT traversal, and a TCP relay fallback, all delivering inbound frames
// through one EnvelopeHandler contract. Manager.Send covers the direct and
// relay paths plus the DHT spillway; it does not use ICE.
package transport

import (
	"encoding/binary"

	"github.com/dnanet/dna/dnaerr"
)

// PacketType identifies the kind of frame carried over a connection.
type PacketType byte

const (
	PacketTypePing PacketType = iota + 1
	PacketTypePong
	PacketTypeEnvelope
	PacketTypeDHTFindNode
	PacketTypeDHTFindNodeResponse
	PacketTypeDHTStore
	PacketTypeDHTGet
	PacketTypeDHTGetResponse
)

// maxPacketSize bounds a single frame's payload, generous enough for the
// largest ML-KEM-1024 multi-recipient envelope the spec allows plus framing
// overhead, while still rejecting a clearly hostile length prefix.
const maxPacketSize = 4 << 20

// Packet is one frame on the wire: a type tag and an opaque payload
// (usually a marshaled envelope.Envelope or a small DHT RPC message).
type Packet struct {
	Type    PacketType
	Payload []byte
}

// Serialize encodes a packet as [1-byte type][4-byte big-endian length][payload].
func (p *Packet) Serialize() ([]byte, error) {
	out := make([]byte, 5+len(p.Payload))
	out[0] = byte(p.Type)
	binary.BigEndian.PutUint32(out[1:5], uint32(len(p.Payload)))
	copy(out[5:], p.Payload)
	return out, nil
}

// ParsePacket decodes a single frame from data, requiring an exact length
// match (no trailing garbage, no truncation).
func ParsePacket(data []byte) (*Packet, error) {
	if len(data) < 5 {
		return nil, dnaerr.New(dnaerr.KindNetwork, "ParsePacket", "frame shorter than header")
	}
	length := binary.BigEndian.Uint32(data[1:5])
	if length > maxPacketSize {
		return nil, dnaerr.New(dnaerr.KindNetwork, "ParsePacket", "declared payload exceeds maximum packet size")
	}
	if uint32(len(data)-5) != length {
		return nil, dnaerr.New(dnaerr.KindNetwork, "ParsePacket", "frame length does not match declared payload size")
	}
	payload := append([]byte(nil), data[5:]...)
	return &Packet{Type: PacketType(data[0]), Payload: payload}, nil
}
