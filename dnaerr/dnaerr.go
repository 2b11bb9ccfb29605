// Package dnaerr defines the error kinds surfaced across the dna engine's
// public API. Every package in this module returns one of these kinds
// rather than a bare error, so callers (and front-ends) can switch on
// failure class without parsing strings.
package dnaerr

import (
	"errors"
	"fmt"
)

// Kind classifies a failure the way spec section 7 enumerates it.
type Kind uint8

const (
	// KindCrypto covers primitive failures, bad sizes, and authentication failures.
	KindCrypto Kind = iota + 1
	// KindAuth covers signature mismatches on an envelope or DHT value.
	KindAuth
	// KindNotRecipient means no recipient entry in an envelope matched.
	KindNotRecipient
	// KindUnknownRecipient means a DHT pubkey lookup returned no signed result.
	KindUnknownRecipient
	// KindNetwork covers transport failures, ICE failures, and empty DHT peer sets.
	KindNetwork
	// KindTimeout means an operation exceeded its deadline.
	KindTimeout
	// KindStorage covers local database errors.
	KindStorage
	// KindBusy means the send queue was full.
	KindBusy
	// KindNotInitialized means the API was called before an identity was loaded.
	KindNotInitialized
	// KindPermission covers path validation and file permission failures.
	KindPermission
	// KindAlreadyExists covers duplicate contacts or duplicate name claims.
	KindAlreadyExists
)

func (k Kind) String() string {
	switch k {
	case KindCrypto:
		return "crypto"
	case KindAuth:
		return "auth"
	case KindNotRecipient:
		return "not_recipient"
	case KindUnknownRecipient:
		return "unknown_recipient"
	case KindNetwork:
		return "network"
	case KindTimeout:
		return "timeout"
	case KindStorage:
		return "storage"
	case KindBusy:
		return "busy"
	case KindNotInitialized:
		return "not_initialized"
	case KindPermission:
		return "permission"
	case KindAlreadyExists:
		return "already_exists"
	default:
		return "unknown"
	}
}

// Error is the concrete error type returned by every dna package.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is an *Error of the same Kind, so
// errors.Is(err, dnaerr.Timeout("")) matches any timeout error; a bare Kind
// is not an error value and cannot be passed as target.
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return e.Kind == other.Kind
	}
	return false
}

// Wrap builds an *Error of the given kind around err.
func Wrap(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// New builds an *Error of the given kind with a plain message.
func New(kind Kind, op, msg string) *Error {
	return &Error{Kind: kind, Op: op, Err: errors.New(msg)}
}

// KindOf extracts the Kind of err if it (or something it wraps) is an *Error.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}

func Crypto(op string, err error) *Error           { return Wrap(KindCrypto, op, err) }
func Auth(op string, err error) *Error              { return Wrap(KindAuth, op, err) }
func NotRecipient(op string) *Error                 { return New(KindNotRecipient, op, "no recipient entry matched") }
func UnknownRecipient(op string) *Error             { return New(KindUnknownRecipient, op, "no signed public key found") }
func Network(op string, err error) *Error           { return Wrap(KindNetwork, op, err) }
func Timeout(op string) *Error                      { return New(KindTimeout, op, "deadline exceeded") }
func Storage(op string, err error) *Error           { return Wrap(KindStorage, op, err) }
func Busy(op string) *Error                         { return New(KindBusy, op, "queue full") }
func NotInitialized(op string) *Error               { return New(KindNotInitialized, op, "identity not loaded") }
func Permission(op string, err error) *Error        { return Wrap(KindPermission, op, err) }
func AlreadyExists(op string) *Error                { return New(KindAlreadyExists, op, "already exists") }
