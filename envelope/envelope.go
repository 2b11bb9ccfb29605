// Package envelope implements the versioned, multi-recipient encrypted
// message frame described in spec section 4.2: a header, one fixed-size
// recipient entry per recipient (each hiding which recipient it belongs to
// behind an HKDF match tag rather than a plaintext fingerprint), an
// AES-256-GCM payload, and a detached ML-DSA-87 signature over everything
// that precedes it.
package envelope

import (
	"bytes"
	"encoding/binary"

	"github.com/cloudflare/circl/kem"
	"github.com/cloudflare/circl/sign"
	"github.com/sirupsen/logrus"

	"github.com/dnanet/dna/crypto"
	"github.com/dnanet/dna/dnaerr"
)

// Magic is the constant 8-byte tag at the start of every envelope.
var Magic = [8]byte{'D', 'N', 'A', '1', 'E', 'N', 'V', 'L'}

// Version is the current envelope wire format version.
const Version byte = 0x08

// KEMTypeMLKEM1024 identifies the recipient entry's KEM as ML-KEM-1024.
const KEMTypeMLKEM1024 byte = 0x01

// MatchTagSize is the length of the HKDF-derived recipient match tag that
// replaces a plaintext recipient fingerprint (spec section 4.2).
const MatchTagSize = 16

// WrappedDEKSize is the size of an AES-KW-wrapped 32-byte DEK (8-byte
// integrity check register + 32 bytes of wrapped key).
const WrappedDEKSize = 40

// recipientEntrySize is the fixed size of one recipient's slot: KEM
// ciphertext, wrapped DEK, and match tag.
const recipientEntrySize = crypto.KEMCiphertextSize + WrappedDEKSize + MatchTagSize

// MaxRecipients is the largest recipient count the 1-byte count field can
// express (spec section 4.2: "1-255").
const MaxRecipients = 255

// Recipient describes one intended reader of an envelope: their ML-KEM-1024
// public key, used both to address the recipient entry and (by the
// recipient) to decapsulate it.
type Recipient struct {
	Fingerprint string
	PublicKey   kem.PublicKey
}

// SenderKeyResolver fetches a signing identity's ML-DSA-87 public key, the
// way a decrypting recipient looks up the sender's key from the DHT (with
// caching) rather than trusting a key embedded in the envelope.
type SenderKeyResolver func(fingerprint string) (sign.PublicKey, error)

// recipientEntry is one fixed-size slot of the wire format.
type recipientEntry struct {
	kemCiphertext []byte
	wrappedDEK    []byte
	matchTag      [MatchTagSize]byte
}

func (e *recipientEntry) marshal() []byte {
	out := make([]byte, recipientEntrySize)
	copy(out, e.kemCiphertext)
	copy(out[crypto.KEMCiphertextSize:], e.wrappedDEK)
	copy(out[crypto.KEMCiphertextSize+WrappedDEKSize:], e.matchTag[:])
	return out
}

func parseRecipientEntry(data []byte) recipientEntry {
	var e recipientEntry
	e.kemCiphertext = append([]byte(nil), data[:crypto.KEMCiphertextSize]...)
	e.wrappedDEK = append([]byte(nil), data[crypto.KEMCiphertextSize:crypto.KEMCiphertextSize+WrappedDEKSize]...)
	copy(e.matchTag[:], data[crypto.KEMCiphertextSize+WrappedDEKSize:])
	return e
}

// matchTag derives the 16-byte tag that identifies a recipient entry
// without revealing the recipient's identity to an eavesdropper.
func matchTag(sharedSecret []byte) ([MatchTagSize]byte, error) {
	var tag [MatchTagSize]byte
	derived, err := crypto.HKDFExpand(sharedSecret, nil, "dna:envelope:match", MatchTagSize)
	if err != nil {
		return tag, err
	}
	copy(tag[:], derived)
	return tag, nil
}

// Envelope is a fully-assembled wire frame ready to serialize, or one just
// parsed from the wire and pending signature verification.
type Envelope struct {
	recipients    []recipientEntry
	nonce         [crypto.AEADNonceSize]byte
	ciphertext    []byte
	tag           [crypto.AEADTagSize]byte
	signature     []byte
	signedPortion []byte // everything before the signature, cached for Verify
}

// Encrypt builds an envelope carrying plaintext for recipients, signed by
// sender. Per spec section 4.2: a fresh DEK and nonce are generated, the
// DEK is KEM-wrapped for each recipient alongside a privacy-preserving
// match tag, the plaintext is sealed once under the DEK, and the whole
// assembled frame is signed.
func Encrypt(plaintext []byte, recipients []Recipient, sender *crypto.SigningKeyPair) (*Envelope, error) {
	logger := logrus.WithFields(logrus.Fields{
		"function":        "Encrypt",
		"package":         "envelope",
		"recipient_count": len(recipients),
		"plaintext_size":  len(plaintext),
	})

	if len(recipients) == 0 || len(recipients) > MaxRecipients {
		return nil, dnaerr.New(dnaerr.KindCrypto, "Encrypt", "recipient count must be 1-255")
	}

	dek, err := crypto.GenerateDEK()
	if err != nil {
		return nil, dnaerr.Crypto("Encrypt", err)
	}
	defer crypto.Zero(dek)

	nonce, err := crypto.GenerateNonce()
	if err != nil {
		return nil, dnaerr.Crypto("Encrypt", err)
	}

	entries := make([]recipientEntry, 0, len(recipients))
	for _, r := range recipients {
		ct, sharedSecret, err := crypto.Encapsulate(r.PublicKey)
		if err != nil {
			return nil, dnaerr.Crypto("Encrypt", err)
		}

		wrapped, err := crypto.WrapKey(sharedSecret[:crypto.AEADKeySize], dek)
		if err != nil {
			crypto.Zero(sharedSecret)
			return nil, dnaerr.Crypto("Encrypt", err)
		}

		tag, err := matchTag(sharedSecret)
		crypto.Zero(sharedSecret)
		if err != nil {
			return nil, dnaerr.Crypto("Encrypt", err)
		}

		entries = append(entries, recipientEntry{
			kemCiphertext: ct,
			wrappedDEK:    wrapped,
			matchTag:      tag,
		})
	}

	sealed, err := crypto.AEADSeal(dek, nonce, plaintext, nil)
	if err != nil {
		return nil, dnaerr.Crypto("Encrypt", err)
	}
	ciphertext := sealed[:len(sealed)-crypto.AEADTagSize]
	var tag [crypto.AEADTagSize]byte
	copy(tag[:], sealed[len(sealed)-crypto.AEADTagSize:])

	env := &Envelope{
		recipients: entries,
		nonce:      nonce,
		ciphertext: ciphertext,
		tag:        tag,
	}

	signedPortion := env.marshalUnsigned()
	env.signature = crypto.Sign(sender.Private, signedPortion)
	env.signedPortion = signedPortion

	logger.Debug("envelope assembled and signed")
	return env, nil
}

// marshalUnsigned serializes everything that is covered by the signature:
// header through tag, excluding the signature field itself.
func (e *Envelope) marshalUnsigned() []byte {
	var buf bytes.Buffer
	buf.Write(Magic[:])
	buf.WriteByte(Version)
	buf.WriteByte(KEMTypeMLKEM1024)
	buf.WriteByte(byte(len(e.recipients)))
	buf.WriteByte(0) // reserved

	// The signature size field always carries the fixed ML-DSA-87 length, so
	// the bytes signed in Encrypt match the header of the final wire frame.
	var sizes [8]byte
	binary.BigEndian.PutUint32(sizes[0:4], uint32(len(e.ciphertext)))
	binary.BigEndian.PutUint32(sizes[4:8], uint32(crypto.SignatureSize))
	buf.Write(sizes[:])

	for _, r := range e.recipients {
		buf.Write(r.marshal())
	}
	buf.Write(e.nonce[:])
	buf.Write(e.ciphertext)
	buf.Write(e.tag[:])
	return buf.Bytes()
}

// Marshal serializes the complete wire frame, signature included.
func (e *Envelope) Marshal() []byte {
	out := e.marshalUnsigned()
	return append(out, e.signature...)
}

const headerSize = 8 + 1 + 1 + 1 + 1 + 4 + 4

// Parse decodes a wire frame without verifying its signature or decrypting
// it. Callers must call Decrypt (which verifies the signature as its final
// step) before trusting any field.
func Parse(data []byte) (*Envelope, error) {
	if len(data) < headerSize {
		return nil, dnaerr.New(dnaerr.KindCrypto, "Parse", "frame shorter than header")
	}
	if !bytes.Equal(data[:8], Magic[:]) {
		return nil, dnaerr.New(dnaerr.KindCrypto, "Parse", "bad magic")
	}
	version := data[8]
	if version != Version {
		// spec section 9: unknown/legacy versions are rejected outright, never decoded.
		return nil, dnaerr.New(dnaerr.KindCrypto, "Parse", "unsupported envelope version")
	}
	kemType := data[9]
	if kemType != KEMTypeMLKEM1024 {
		return nil, dnaerr.New(dnaerr.KindCrypto, "Parse", "unsupported KEM type")
	}
	recipientCount := int(data[10])
	if recipientCount == 0 {
		return nil, dnaerr.New(dnaerr.KindCrypto, "Parse", "recipient count must be at least 1")
	}
	// data[11] is the reserved byte, always zero in well-formed frames but
	// not validated strictly, allowing future flags to be added.

	payloadSize := binary.BigEndian.Uint32(data[12:16])
	sigSize := binary.BigEndian.Uint32(data[16:20])

	offset := headerSize
	recipientsBytes := recipientCount * recipientEntrySize
	need := offset + recipientsBytes + crypto.AEADNonceSize + int(payloadSize) + crypto.AEADTagSize + int(sigSize)
	if len(data) != need {
		return nil, dnaerr.New(dnaerr.KindCrypto, "Parse", "frame length does not match declared field sizes")
	}

	entries := make([]recipientEntry, recipientCount)
	for i := 0; i < recipientCount; i++ {
		start := offset + i*recipientEntrySize
		entries[i] = parseRecipientEntry(data[start : start+recipientEntrySize])
	}
	offset += recipientsBytes

	var nonce [crypto.AEADNonceSize]byte
	copy(nonce[:], data[offset:offset+crypto.AEADNonceSize])
	offset += crypto.AEADNonceSize

	ciphertext := append([]byte(nil), data[offset:offset+int(payloadSize)]...)
	offset += int(payloadSize)

	var tag [crypto.AEADTagSize]byte
	copy(tag[:], data[offset:offset+crypto.AEADTagSize])
	offset += crypto.AEADTagSize

	signature := append([]byte(nil), data[offset:offset+int(sigSize)]...)

	env := &Envelope{
		recipients:    entries,
		nonce:         nonce,
		ciphertext:    ciphertext,
		tag:           tag,
		signature:     signature,
		signedPortion: data[:len(data)-int(sigSize)],
	}
	return env, nil
}

// Decrypt trial-decapsulates each recipient entry against recipientPriv,
// identifies the correct one via its match tag, unwraps the DEK,
// authenticates and decrypts the payload, then verifies the sender's
// signature (resolved via resolveSender). Returns NotRecipient if no entry
// matches, UnknownRecipient if resolveSender cannot supply the sender's key,
// and Crypto/Auth on any other failure.
func (e *Envelope) Decrypt(recipientPriv kem.PrivateKey, senderFingerprint string, resolveSender SenderKeyResolver) ([]byte, error) {
	var dek []byte
	var matched bool

	for _, entry := range e.recipients {
		sharedSecret, err := crypto.Decapsulate(recipientPriv, entry.kemCiphertext)
		if err != nil {
			continue
		}

		tag, err := matchTag(sharedSecret)
		if err != nil {
			crypto.Zero(sharedSecret)
			continue
		}

		if tag != entry.matchTag {
			crypto.Zero(sharedSecret)
			continue
		}

		unwrapped, err := crypto.UnwrapKey(sharedSecret[:crypto.AEADKeySize], entry.wrappedDEK)
		crypto.Zero(sharedSecret)
		if err != nil {
			continue
		}
		dek = unwrapped
		matched = true
		break
	}

	if !matched {
		return nil, dnaerr.NotRecipient("Decrypt")
	}
	defer crypto.Zero(dek)

	sealed := append(append([]byte(nil), e.ciphertext...), e.tag[:]...)
	plaintext, err := crypto.AEADOpen(dek, e.nonce, sealed, nil)
	if err != nil {
		return nil, dnaerr.Crypto("Decrypt", err)
	}

	senderPub, err := resolveSender(senderFingerprint)
	if err != nil {
		return nil, dnaerr.UnknownRecipient("Decrypt")
	}
	if !crypto.Verify(senderPub, e.signedPortion, e.signature) {
		return nil, dnaerr.Auth("Decrypt", nil)
	}

	return plaintext, nil
}

// RecipientCount returns the number of recipient entries in the envelope.
func (e *Envelope) RecipientCount() int { return len(e.recipients) }

// Signature returns the envelope's detached signature bytes, unique per
// signing of a given plaintext/recipient-set/nonce combination. Callers use
// it as a redelivery dedup key (spec section 4.5's idempotent-receive rule).
func (e *Envelope) Signature() []byte { return e.signature }
