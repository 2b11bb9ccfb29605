package transport

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPacketSerializeParseRoundTrip(t *testing.T) {
	p := &Packet{Type: PacketTypeEnvelope, Payload: []byte("hello world")}
	data, err := p.Serialize()
	require.NoError(t, err)

	parsed, err := ParsePacket(data)
	require.NoError(t, err)
	assert.Equal(t, p.Type, parsed.Type)
	assert.Equal(t, p.Payload, parsed.Payload)
}

func TestParsePacketRejectsShortFrame(t *testing.T) {
	_, err := ParsePacket([]byte{0x01, 0x02})
	require.Error(t, err)
}

func TestParsePacketRejectsLengthMismatch(t *testing.T) {
	p := &Packet{Type: PacketTypePing, Payload: []byte("abc")}
	data, err := p.Serialize()
	require.NoError(t, err)

	truncated := data[:len(data)-1]
	_, err = ParsePacket(truncated)
	require.Error(t, err)
}

func TestParsePacketRejectsOversizedDeclaration(t *testing.T) {
	data := make([]byte, 5)
	data[0] = byte(PacketTypeEnvelope)
	data[1], data[2], data[3], data[4] = 0xFF, 0xFF, 0xFF, 0xFF
	_, err := ParsePacket(data)
	require.Error(t, err)
}

func TestPacketRoundTripEmptyPayload(t *testing.T) {
	p := &Packet{Type: PacketTypePong}
	data, err := p.Serialize()
	require.NoError(t, err)
	parsed, err := ParsePacket(data)
	require.NoError(t, err)
	assert.Equal(t, PacketTypePong, parsed.Type)
	assert.Empty(t, parsed.Payload)
}
