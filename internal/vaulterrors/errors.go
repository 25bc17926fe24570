// Package vaulterrors defines the error taxonomy shared by every
// cryptvault component: each category is its own struct so callers can
// errors.As their way to a cause instead of string-matching.
package vaulterrors

import (
	"errors"
	"fmt"
)

// NotFoundError is returned when a file body does not exist in the blob store.
type NotFoundError struct {
	Path string
	Err  error
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("not found: %s", e.Path)
}

func (e *NotFoundError) Unwrap() error { return e.Err }

// NoEnvelopeError is returned when neither the personal nor the shared
// metadata store holds an envelope for a path a user is reading.
type NoEnvelopeError struct {
	User string
	Path string
}

func (e *NoEnvelopeError) Error() string {
	return fmt.Sprintf("no envelope: user %s has no access to %s", e.User, e.Path)
}

// BadKeyPairError signals a challenge-response mismatch at login.
type BadKeyPairError struct {
	User string
	Err  error
}

func (e *BadKeyPairError) Error() string {
	return fmt.Sprintf("bad key pair for %s", e.User)
}

func (e *BadKeyPairError) Unwrap() error { return e.Err }

// EnvelopeMalformedError is returned when an envelope decodes but its
// plaintext length or structure is not what the caller expects.
type EnvelopeMalformedError struct {
	Path    string
	Message string
}

func (e *EnvelopeMalformedError) Error() string {
	return fmt.Sprintf("envelope malformed at %s: %s", e.Path, e.Message)
}

// CryptoError wraps a low-level cryptographic failure: authentication
// failure, decode failure, or a bad key.
type CryptoError struct {
	Kind string // "Auth", "Decode", or "BadKey"
	Op   string
	Err  error
}

func (e *CryptoError) Error() string {
	return fmt.Sprintf("crypto error (%s) during %s: %v", e.Kind, e.Op, e.Err)
}

func (e *CryptoError) Unwrap() error { return e.Err }

// IOError wraps a filesystem-level failure.
type IOError struct {
	Op   string
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("io error: %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

// StoreBusyError is returned at startup when the session-lifetime
// advisory lock on the base directory is already held.
type StoreBusyError struct {
	Base string
	Err  error
}

func (e *StoreBusyError) Error() string {
	return fmt.Sprintf("store busy: %s is locked by another session", e.Base)
}

func (e *StoreBusyError) Unwrap() error { return e.Err }

// NotOwnerError is returned when a caller tries to share or audit a path
// it does not own (or, for audits, is not admin).
type NotOwnerError struct {
	User string
	Path string
}

func (e *NotOwnerError) Error() string {
	return fmt.Sprintf("%s is not the owner of %s", e.User, e.Path)
}

// NamePolicyError is returned when a proposed username fails the
// allowed-name policy of spec §6.
type NamePolicyError struct {
	Name    string
	Message string
}

func (e *NamePolicyError) Error() string {
	return fmt.Sprintf("name policy violation for %q: %s", e.Name, e.Message)
}

// MetadataRekeyFailedError distinguishes the partial-failure state where
// a private key was re-encrypted under a new passphrase but personal
// metadata could not be re-saved, leaving the user's owned envelopes
// unreadable until an operator intervenes.
type MetadataRekeyFailedError struct {
	User string
	Err  error
}

func (e *MetadataRekeyFailedError) Error() string {
	return fmt.Sprintf("metadata rekey failed for %s: owned envelopes are now unreadable until an operator intervenes", e.User)
}

func (e *MetadataRekeyFailedError) Unwrap() error { return e.Err }

// AuthFailed is the sentinel AEAD/authentication failure. It is returned
// directly (not wrapped in CryptoError) by decrypt paths because the
// spec requires read() to surface it unchanged.
var AuthFailed = errors.New("authentication failed")

// Is* helpers let callers classify an error without importing the
// concrete struct types.

func IsNotFound(err error) bool {
	var e *NotFoundError
	return errors.As(err, &e)
}

func IsNoEnvelope(err error) bool {
	var e *NoEnvelopeError
	return errors.As(err, &e)
}

func IsAuthFailed(err error) bool {
	return errors.Is(err, AuthFailed)
}

func IsBadKeyPair(err error) bool {
	var e *BadKeyPairError
	return errors.As(err, &e)
}

func IsEnvelopeMalformed(err error) bool {
	var e *EnvelopeMalformedError
	return errors.As(err, &e)
}

func IsCryptoError(err error) bool {
	var e *CryptoError
	return errors.As(err, &e)
}

func IsIOError(err error) bool {
	var e *IOError
	return errors.As(err, &e)
}

func IsStoreBusy(err error) bool {
	var e *StoreBusyError
	return errors.As(err, &e)
}

func IsNotOwner(err error) bool {
	var e *NotOwnerError
	return errors.As(err, &e)
}

func IsNamePolicy(err error) bool {
	var e *NamePolicyError
	return errors.As(err, &e)
}

func IsMetadataRekeyFailed(err error) bool {
	var e *MetadataRekeyFailedError
	return errors.As(err, &e)
}
