package dna

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dnanet/dna/envelope"
)

// TestHandleInboundEnvelopeDedupsRedelivery covers spec section 4.5's
// idempotent-receive rule directly: the same envelope handed to
// handleInboundEnvelope twice (as a live transport delivery followed by a
// redundant spillway drain of the same message, say) must only be stored
// and emitted once.
func TestHandleInboundEnvelopeDedupsRedelivery(t *testing.T) {
	sender, senderFP := newTestEngine(t)
	receiver, receiverFP := newTestEngine(t)

	require.NoError(t, receiver.AddContact(senderFP, "sender", sender.id.Signing.Public, sender.id.Encryption.Public))

	env, err := envelope.Encrypt(
		[]byte("hello"),
		[]envelope.Recipient{{Fingerprint: receiverFP, PublicKey: receiver.id.Encryption.Public}},
		sender.id.Signing,
	)
	require.NoError(t, err)
	raw := env.Marshal()

	var mu sync.Mutex
	var events int
	receiver.SetEventCallback(func(ev Event) {
		mu.Lock()
		events++
		mu.Unlock()
	})

	receiver.handleInboundEnvelope(nil, raw)
	receiver.handleInboundEnvelope(nil, raw)

	mu.Lock()
	gotEvents := events
	mu.Unlock()
	assert.Equal(t, 1, gotEvents)

	msgs, err := receiver.GetConversation(senderFP, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, []byte("hello"), msgs[0].Body)
}
