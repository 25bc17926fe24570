package vaultcrypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/cryptvault/cryptvault/internal/vaulterrors"
)

// CipherEngine provides AEAD encrypt/decrypt for exactly one key.
type CipherEngine interface {
	// Encrypt seals plaintext under nonce, returning ciphertext||tag.
	Encrypt(nonce, plaintext []byte) ([]byte, error)
	// Decrypt opens ciphertext||tag under nonce. A tag mismatch returns
	// vaulterrors.AuthFailed.
	Decrypt(nonce, ciphertext []byte) ([]byte, error)
	// NonceSize returns the expected nonce length in bytes.
	NonceSize() int
	// Overhead returns the authentication tag length in bytes.
	Overhead() int
}

type aesGCMEngine struct {
	aead cipher.AEAD
}

// aesGCMNonceSize is the nonce length spec.md §6 pins for every AES-GCM
// artifact outside the file body (envelope store blobs, shared
// envelopes): 16 bytes, matching original_source's AES_IVLEN used
// uniformly by crypto_utils.h. This is wider than the stdlib's default
// 96-bit GCM nonce, so every AES-256-GCM engine here is built with
// cipher.NewGCMWithNonceSize rather than cipher.NewGCM.
const aesGCMNonceSize = 16

// NewAESGCMEngine creates an AES-256-GCM CipherEngine from a 32-byte key.
func NewAESGCMEngine(key []byte) (CipherEngine, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("AES-256 requires a 32-byte key, got %d bytes", len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create AES cipher: %w", err)
	}
	aead, err := cipher.NewGCMWithNonceSize(block, aesGCMNonceSize)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}
	return &aesGCMEngine{aead: aead}, nil
}

func (e *aesGCMEngine) Encrypt(nonce, plaintext []byte) ([]byte, error) {
	if len(nonce) != e.NonceSize() {
		return nil, fmt.Errorf("nonce must be %d bytes, got %d", e.NonceSize(), len(nonce))
	}
	return e.aead.Seal(nil, nonce, plaintext, nil), nil
}

func (e *aesGCMEngine) Decrypt(nonce, ciphertext []byte) ([]byte, error) {
	if len(nonce) != e.NonceSize() {
		return nil, fmt.Errorf("nonce must be %d bytes, got %d", e.NonceSize(), len(nonce))
	}
	plaintext, err := e.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, vaulterrors.AuthFailed
	}
	return plaintext, nil
}

func (e *aesGCMEngine) NonceSize() int { return e.aead.NonceSize() }
func (e *aesGCMEngine) Overhead() int  { return e.aead.Overhead() }

type chachaEngine struct {
	aead cipher.AEAD
}

// NewChaCha20Poly1305Engine creates a ChaCha20-Poly1305 CipherEngine.
func NewChaCha20Poly1305Engine(key []byte) (CipherEngine, error) {
	if len(key) != chacha20poly1305.KeySize {
		return nil, fmt.Errorf("ChaCha20-Poly1305 requires a %d-byte key, got %d bytes",
			chacha20poly1305.KeySize, len(key))
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("create ChaCha20-Poly1305 cipher: %w", err)
	}
	return &chachaEngine{aead: aead}, nil
}

func (e *chachaEngine) Encrypt(nonce, plaintext []byte) ([]byte, error) {
	if len(nonce) != e.NonceSize() {
		return nil, fmt.Errorf("nonce must be %d bytes, got %d", e.NonceSize(), len(nonce))
	}
	return e.aead.Seal(nil, nonce, plaintext, nil), nil
}

func (e *chachaEngine) Decrypt(nonce, ciphertext []byte) ([]byte, error) {
	if len(nonce) != e.NonceSize() {
		return nil, fmt.Errorf("nonce must be %d bytes, got %d", e.NonceSize(), len(nonce))
	}
	plaintext, err := e.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, vaulterrors.AuthFailed
	}
	return plaintext, nil
}

func (e *chachaEngine) NonceSize() int { return e.aead.NonceSize() }
func (e *chachaEngine) Overhead() int  { return e.aead.Overhead() }

// NewCipherEngine builds a CipherEngine for the given suite and key.
func NewCipherEngine(suite CipherSuite, key []byte) (CipherEngine, error) {
	switch suite {
	case CipherAES256GCM:
		return NewAESGCMEngine(key)
	case CipherChaCha20Poly1305:
		return NewChaCha20Poly1305Engine(key)
	default:
		return nil, fmt.Errorf("unsupported cipher suite %v", suite)
	}
}

// NonceSize returns the nonce length for a suite without constructing
// an engine. AES-256-GCM uses the spec-pinned 128-bit nonce
// (aesGCMNonceSize); ChaCha20-Poly1305 keeps its standard 96-bit nonce.
func NonceSize(suite CipherSuite) int {
	switch suite {
	case CipherChaCha20Poly1305:
		return chacha20poly1305.NonceSize
	default:
		return aesGCMNonceSize
	}
}

// GenerateNonce returns a cryptographically random nonce sized for suite.
func GenerateNonce(suite CipherSuite) ([]byte, error) {
	nonce := make([]byte, NonceSize(suite))
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	return nonce, nil
}

// AEADEncrypt is the CryptoPrimitives.aead_encrypt operation: it builds
// the engine and seals plaintext in one call for callers (like the
// envelope codec) that hold a raw key rather than a long-lived engine.
func AEADEncrypt(suite CipherSuite, key, nonce, plaintext []byte) ([]byte, error) {
	engine, err := NewCipherEngine(suite, key)
	if err != nil {
		return nil, err
	}
	return engine.Encrypt(nonce, plaintext)
}

// AEADDecrypt is the CryptoPrimitives.aead_decrypt operation.
func AEADDecrypt(suite CipherSuite, key, nonce, ciphertext []byte) ([]byte, error) {
	engine, err := NewCipherEngine(suite, key)
	if err != nil {
		return nil, err
	}
	return engine.Decrypt(nonce, ciphertext)
}

// GenerateDataKey produces a fresh (K_f, IV_f) pair via crypto/rand,
// satisfying invariant 4: a data key is never reused between writes.
func GenerateDataKey() (DataKey, error) {
	var dk DataKey
	if _, err := rand.Read(dk.Key[:]); err != nil {
		return dk, fmt.Errorf("generate data key: %w", err)
	}
	if _, err := rand.Read(dk.IV[:]); err != nil {
		return dk, fmt.Errorf("generate data key iv: %w", err)
	}
	return dk, nil
}

// bodyModeTag is the 3-byte ASCII prefix spec §6 requires on every file
// body, so bodies are self-describing for future algorithm agility.
const bodyModeTag = "GCM"

// bodyEngine builds the AES-256-GCM AEAD used for file bodies. Bodies
// use the 16-byte IV_f carried in the file's envelope as the GCM nonce
// directly — the same aesGCMNonceSize every other AES-GCM artifact uses,
// but supplied by the caller instead of freshly generated here — which
// is what lets the 48-byte data key (32-byte key + 16-byte IV) serve as
// the entire per-file secret with no separate nonce stored in the body
// itself.
func bodyEngine(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create AES cipher: %w", err)
	}
	return cipher.NewGCMWithNonceSize(block, DataKeyIVLen)
}

// EncryptBody seals plaintext under dk and frames it with the body mode
// tag, producing the bytes BlobStore persists at a file's path.
func EncryptBody(dk DataKey, plaintext []byte) ([]byte, error) {
	aead, err := bodyEngine(dk.Key[:])
	if err != nil {
		return nil, err
	}
	sealed := aead.Seal(nil, dk.IV[:], plaintext, nil)
	out := make([]byte, 0, len(bodyModeTag)+len(sealed))
	out = append(out, bodyModeTag...)
	out = append(out, sealed...)
	return out, nil
}

// DecryptBody reverses EncryptBody. A tag mismatch or wrong key
// surfaces vaulterrors.AuthFailed unchanged, per spec §4.9 step 6.
func DecryptBody(dk DataKey, body []byte) ([]byte, error) {
	if len(body) < len(bodyModeTag) || string(body[:len(bodyModeTag)]) != bodyModeTag {
		return nil, &vaulterrors.EnvelopeMalformedError{Message: "file body missing or unrecognized mode tag"}
	}
	aead, err := bodyEngine(dk.Key[:])
	if err != nil {
		return nil, err
	}
	plaintext, err := aead.Open(nil, dk.IV[:], body[len(bodyModeTag):], nil)
	if err != nil {
		return nil, vaulterrors.AuthFailed
	}
	return plaintext, nil
}
