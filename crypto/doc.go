// Package crypto implements the post-quantum cryptographic primitives used
// throughout dna: ML-KEM-1024 key encapsulation, ML-DSA-87 signatures,
// AES-256-GCM authenticated encryption, AES key wrap, SHA3 hashing, and
// HKDF expansion. All key material is derived deterministically from
// 32-byte seeds so identities can be recreated from a BIP39 mnemonic.
//
// Every routine here validates input sizes against the constants in this
// package and zeroes sensitive buffers before returning, following the
// same discipline as upstream Tox implementations this module descends
// from. No routine silently falls back to a weaker primitive on error.
package crypto
