package envelope

import (
	"testing"

	"github.com/cloudflare/circl/sign"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dnanet/dna/crypto"
	"github.com/dnanet/dna/dnaerr"
)

type testPeer struct {
	fingerprint string
	signing     *crypto.SigningKeyPair
	encryption  *crypto.KEMKeyPair
}

func newTestPeer(t *testing.T, fingerprint string) *testPeer {
	t.Helper()
	signing, err := crypto.GenerateSigningKeyPair()
	require.NoError(t, err)
	encryption, err := crypto.GenerateKEMKeyPair()
	require.NoError(t, err)
	return &testPeer{fingerprint: fingerprint, signing: signing, encryption: encryption}
}

// resolverFor builds a SenderKeyResolver backed by a fixed set of peers, the
// way an engine would resolve a sender's signing key from its contact or DHT
// cache.
func resolverFor(peers ...*testPeer) SenderKeyResolver {
	byFingerprint := make(map[string]sign.PublicKey, len(peers))
	for _, p := range peers {
		byFingerprint[p.fingerprint] = p.signing.Public
	}
	return func(fingerprint string) (sign.PublicKey, error) {
		pub, ok := byFingerprint[fingerprint]
		if !ok {
			return nil, dnaerr.UnknownRecipient("resolverFor")
		}
		return pub, nil
	}
}

func TestEnvelopeRoundTripForAllRecipients(t *testing.T) {
	sender := newTestPeer(t, "sender")
	alice := newTestPeer(t, "alice")
	bob := newTestPeer(t, "bob")
	resolve := resolverFor(sender)

	plaintext := []byte("hello, post-quantum world")
	recipients := []Recipient{
		{Fingerprint: alice.fingerprint, PublicKey: alice.encryption.Public},
		{Fingerprint: bob.fingerprint, PublicKey: bob.encryption.Public},
	}

	env, err := Encrypt(plaintext, recipients, sender.signing)
	require.NoError(t, err)
	wire := env.Marshal()
	assert.Equal(t, 2, env.RecipientCount())

	for _, recv := range []*testPeer{alice, bob} {
		parsed, err := Parse(wire)
		require.NoError(t, err)

		out, err := parsed.Decrypt(recv.encryption.Private, sender.fingerprint, resolve)
		require.NoError(t, err)
		assert.Equal(t, plaintext, out)
	}
}

func TestEnvelopeRejectsNonRecipient(t *testing.T) {
	sender := newTestPeer(t, "sender")
	alice := newTestPeer(t, "alice")
	mallory := newTestPeer(t, "mallory")
	resolve := resolverFor(sender)

	env, err := Encrypt([]byte("secret"), []Recipient{
		{Fingerprint: alice.fingerprint, PublicKey: alice.encryption.Public},
	}, sender.signing)
	require.NoError(t, err)

	wire := env.Marshal()
	parsed, err := Parse(wire)
	require.NoError(t, err)

	_, err = parsed.Decrypt(mallory.encryption.Private, sender.fingerprint, resolve)
	require.Error(t, err)
	kind, ok := dnaerr.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, dnaerr.KindNotRecipient, kind)
}

func TestEnvelopeRejectsTamperedCiphertext(t *testing.T) {
	sender := newTestPeer(t, "sender")
	alice := newTestPeer(t, "alice")
	resolve := resolverFor(sender)

	env, err := Encrypt([]byte("secret message"), []Recipient{
		{Fingerprint: alice.fingerprint, PublicKey: alice.encryption.Public},
	}, sender.signing)
	require.NoError(t, err)

	wire := env.Marshal()
	// flip the last byte of the ciphertext region, just before the trailing tag+signature.
	wire[len(wire)-crypto.SignatureSize-crypto.AEADTagSize-1] ^= 0xFF

	parsed, err := Parse(wire)
	require.NoError(t, err)

	_, err = parsed.Decrypt(alice.encryption.Private, sender.fingerprint, resolve)
	require.Error(t, err)
}

func TestEnvelopeRejectsTamperedTag(t *testing.T) {
	sender := newTestPeer(t, "sender")
	alice := newTestPeer(t, "alice")
	resolve := resolverFor(sender)

	env, err := Encrypt([]byte("secret message"), []Recipient{
		{Fingerprint: alice.fingerprint, PublicKey: alice.encryption.Public},
	}, sender.signing)
	require.NoError(t, err)

	wire := env.Marshal()
	wire[len(wire)-crypto.SignatureSize-1] ^= 0xFF

	parsed, err := Parse(wire)
	require.NoError(t, err)

	_, err = parsed.Decrypt(alice.encryption.Private, sender.fingerprint, resolve)
	require.Error(t, err)
}

func TestEnvelopeRejectsTamperedHeader(t *testing.T) {
	sender := newTestPeer(t, "sender")
	alice := newTestPeer(t, "alice")
	resolve := resolverFor(sender)

	env, err := Encrypt([]byte("secret message"), []Recipient{
		{Fingerprint: alice.fingerprint, PublicKey: alice.encryption.Public},
	}, sender.signing)
	require.NoError(t, err)

	wire := env.Marshal()
	wire[11] ^= 0xFF // reserved byte, still covered by the signature

	parsed, err := Parse(wire)
	require.NoError(t, err)

	_, err = parsed.Decrypt(alice.encryption.Private, sender.fingerprint, resolve)
	require.Error(t, err)
	kind, ok := dnaerr.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, dnaerr.KindAuth, kind)
}

func TestEnvelopeRejectsTamperedRecipientEntry(t *testing.T) {
	sender := newTestPeer(t, "sender")
	alice := newTestPeer(t, "alice")
	bob := newTestPeer(t, "bob")
	resolve := resolverFor(sender)

	env, err := Encrypt([]byte("secret message"), []Recipient{
		{Fingerprint: alice.fingerprint, PublicKey: alice.encryption.Public},
		{Fingerprint: bob.fingerprint, PublicKey: bob.encryption.Public},
	}, sender.signing)
	require.NoError(t, err)

	wire := env.Marshal()
	wire[headerSize+1] ^= 0xFF // inside the first recipient's KEM ciphertext

	parsed, err := Parse(wire)
	require.NoError(t, err)

	// Signature no longer matches, regardless of which recipient's entry was hit.
	_, err = parsed.Decrypt(bob.encryption.Private, sender.fingerprint, resolve)
	require.Error(t, err)
}

func TestEnvelopeRejectsTamperedSignature(t *testing.T) {
	sender := newTestPeer(t, "sender")
	alice := newTestPeer(t, "alice")
	resolve := resolverFor(sender)

	env, err := Encrypt([]byte("secret message"), []Recipient{
		{Fingerprint: alice.fingerprint, PublicKey: alice.encryption.Public},
	}, sender.signing)
	require.NoError(t, err)

	wire := env.Marshal()
	wire[len(wire)-1] ^= 0xFF

	parsed, err := Parse(wire)
	require.NoError(t, err)

	_, err = parsed.Decrypt(alice.encryption.Private, sender.fingerprint, resolve)
	require.Error(t, err)
	kind, ok := dnaerr.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, dnaerr.KindAuth, kind)
}

func TestEnvelopeRejectsUnknownVersion(t *testing.T) {
	sender := newTestPeer(t, "sender")
	alice := newTestPeer(t, "alice")

	env, err := Encrypt([]byte("x"), []Recipient{
		{Fingerprint: alice.fingerprint, PublicKey: alice.encryption.Public},
	}, sender.signing)
	require.NoError(t, err)

	wire := env.Marshal()
	wire[8] = 0x09

	_, err = Parse(wire)
	require.Error(t, err)
}

func TestEnvelopeRejectsBadMagic(t *testing.T) {
	sender := newTestPeer(t, "sender")
	alice := newTestPeer(t, "alice")

	env, err := Encrypt([]byte("x"), []Recipient{
		{Fingerprint: alice.fingerprint, PublicKey: alice.encryption.Public},
	}, sender.signing)
	require.NoError(t, err)

	wire := env.Marshal()
	wire[0] = 'X'

	_, err = Parse(wire)
	require.Error(t, err)
}

func TestEncryptRejectsZeroRecipients(t *testing.T) {
	sender := newTestPeer(t, "sender")
	_, err := Encrypt([]byte("x"), nil, sender.signing)
	require.Error(t, err)
}

func TestEnvelopeRejectsUnresolvableSender(t *testing.T) {
	sender := newTestPeer(t, "sender")
	alice := newTestPeer(t, "alice")
	resolve := resolverFor() // empty: sender's key cannot be found

	env, err := Encrypt([]byte("x"), []Recipient{
		{Fingerprint: alice.fingerprint, PublicKey: alice.encryption.Public},
	}, sender.signing)
	require.NoError(t, err)

	parsed, err := Parse(env.Marshal())
	require.NoError(t, err)

	_, err = parsed.Decrypt(alice.encryption.Private, sender.fingerprint, resolve)
	require.Error(t, err)
	kind, ok := dnaerr.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, dnaerr.KindUnknownRecipient, kind)
}
