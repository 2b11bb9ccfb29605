package crypto

import (
	"crypto/aes"
	"encoding/binary"

	"github.com/dnanet/dna/dnaerr"
)

// aesKWIV is the default integrity check register from RFC 3394 section 2.2.3.
var aesKWIV = [8]byte{0xA6, 0xA6, 0xA6, 0xA6, 0xA6, 0xA6, 0xA6, 0xA6}

// WrapKey wraps a 32-byte DEK with kek using the AES Key Wrap algorithm
// (RFC 3394), as required for the per-recipient wrapped-DEK field of the
// envelope (spec section 4.2). kek is the KEM shared secret for that
// recipient, not used directly for anything else.
func WrapKey(kek, plaintextKey []byte) ([]byte, error) {
	if len(plaintextKey)%8 != 0 || len(plaintextKey) < 16 {
		return nil, dnaerr.New(dnaerr.KindCrypto, "WrapKey", "key to wrap must be a multiple of 8 bytes, at least 16")
	}
	block, err := aes.NewCipher(kek)
	if err != nil {
		return nil, dnaerr.Crypto("WrapKey", err)
	}

	n := len(plaintextKey) / 8
	r := make([][8]byte, n)
	for i := 0; i < n; i++ {
		copy(r[i][:], plaintextKey[i*8:(i+1)*8])
	}

	a := aesKWIV
	buf := make([]byte, 16)
	for j := 0; j <= 5; j++ {
		for i := 1; i <= n; i++ {
			copy(buf[:8], a[:])
			copy(buf[8:], r[i-1][:])
			block.Encrypt(buf, buf)

			t := uint64(n*j + i)
			var tBytes [8]byte
			binary.BigEndian.PutUint64(tBytes[:], t)

			var newA [8]byte
			copy(newA[:], buf[:8])
			for k := 0; k < 8; k++ {
				newA[k] ^= tBytes[k]
			}
			a = newA
			copy(r[i-1][:], buf[8:])
		}
	}

	out := make([]byte, 8+len(plaintextKey))
	copy(out[:8], a[:])
	for i := 0; i < n; i++ {
		copy(out[8+i*8:], r[i][:])
	}
	return out, nil
}

// UnwrapKey reverses WrapKey. It fails with a Crypto error if the integrity
// check register does not match, which indicates either a wrong kek or a
// tampered wrapped key.
func UnwrapKey(kek, wrapped []byte) ([]byte, error) {
	if len(wrapped)%8 != 0 || len(wrapped) < 24 {
		return nil, dnaerr.New(dnaerr.KindCrypto, "UnwrapKey", "wrapped key has invalid length")
	}
	block, err := aes.NewCipher(kek)
	if err != nil {
		return nil, dnaerr.Crypto("UnwrapKey", err)
	}

	n := len(wrapped)/8 - 1
	var a [8]byte
	copy(a[:], wrapped[:8])

	r := make([][8]byte, n)
	for i := 0; i < n; i++ {
		copy(r[i][:], wrapped[8+i*8:8+(i+1)*8])
	}

	buf := make([]byte, 16)
	for j := 5; j >= 0; j-- {
		for i := n; i >= 1; i-- {
			t := uint64(n*j + i)
			var tBytes [8]byte
			binary.BigEndian.PutUint64(tBytes[:], t)

			var xored [8]byte
			for k := 0; k < 8; k++ {
				xored[k] = a[k] ^ tBytes[k]
			}

			copy(buf[:8], xored[:])
			copy(buf[8:], r[i-1][:])
			block.Decrypt(buf, buf)

			copy(a[:], buf[:8])
			copy(r[i-1][:], buf[8:])
		}
	}

	if a != aesKWIV {
		return nil, dnaerr.New(dnaerr.KindCrypto, "UnwrapKey", "integrity check failed")
	}

	out := make([]byte, n*8)
	for i := 0; i < n; i++ {
		copy(out[i*8:], r[i][:])
	}
	return out, nil
}
