package crypto

import (
	"crypto/subtle"
	"runtime"

	"github.com/dnanet/dna/dnaerr"
)

// Zero overwrites data with zeros in a way the compiler cannot optimize
// away, using a constant-time XOR-with-self and a KeepAlive to pin the
// slice through the wipe. Call on every sensitive buffer (DEKs, shared
// secrets, signing secrets, BIP39 seeds) before it is released.
func Zero(data []byte) {
	if len(data) == 0 {
		return
	}
	subtle.XORBytes(data, data, data)
	runtime.KeepAlive(data)
}

// ZeroAll zeroes every buffer in bufs.
func ZeroAll(bufs ...[]byte) {
	for _, b := range bufs {
		Zero(b)
	}
}

// zeroOrErr wipes data and returns a Crypto error if data was nil, matching
// the fail-closed posture of every other primitive in this package.
func zeroOrErr(op string, data []byte) error {
	if data == nil {
		return dnaerr.New(dnaerr.KindCrypto, op, "cannot wipe nil buffer")
	}
	Zero(data)
	return nil
}
