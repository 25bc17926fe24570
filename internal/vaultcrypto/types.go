// Package vaultcrypto implements the CryptoPrimitives component: AEAD
// encryption, asymmetric key wrap/unwrap, password-derived keys, and
// random key generation. All operations fail closed — a crypto
// operation that cannot verify its output returns an error rather than
// dubious plaintext.
package vaultcrypto

import "fmt"

// CipherSuite identifies the AEAD algorithm backing a CipherEngine.
type CipherSuite uint8

const (
	// CipherAES256GCM uses AES-256 in Galois/Counter Mode.
	CipherAES256GCM CipherSuite = iota
	// CipherChaCha20Poly1305 uses the ChaCha20 stream cipher with a
	// Poly1305 authenticator.
	CipherChaCha20Poly1305
)

func (c CipherSuite) String() string {
	switch c {
	case CipherAES256GCM:
		return "aes-256-gcm"
	case CipherChaCha20Poly1305:
		return "chacha20-poly1305"
	default:
		return "unknown"
	}
}

// KDFKind selects the password-to-key derivation function.
type KDFKind uint8

const (
	// KDFArgon2id is the recommended, memory-hard derivation function.
	KDFArgon2id KDFKind = iota
	// KDFPBKDF2 is retained for environments where Argon2id's memory
	// footprint is unavailable; the iteration floor is enforced by
	// PasswordKDF.Validate.
	KDFPBKDF2
)

// Argon2idParams holds the tunables for Argon2id key derivation.
type Argon2idParams struct {
	Memory      uint32 // KiB
	Iterations  uint32
	Parallelism uint8
	KeySize     int
}

// DefaultArgon2idParams returns parameters appropriate for an
// interactive login (not a high-throughput service): 64 MiB, 3 passes,
// 4-way parallelism, a 32-byte (256-bit) key.
func DefaultArgon2idParams() Argon2idParams {
	return Argon2idParams{
		Memory:      64 * 1024,
		Iterations:  3,
		Parallelism: 4,
		KeySize:     32,
	}
}

// PBKDF2Params holds the tunables for PBKDF2-HMAC-SHA256 key derivation.
type PBKDF2Params struct {
	Iterations int
	KeySize    int
}

// minPBKDF2Iterations is the floor required by SPEC_FULL.md §9: the
// source's plain-SHA-256 scheme is inadequate and must not be ported.
const minPBKDF2Iterations = 600_000

// DefaultPBKDF2Params returns the minimum acceptable PBKDF2 tuning.
func DefaultPBKDF2Params() PBKDF2Params {
	return PBKDF2Params{
		Iterations: minPBKDF2Iterations,
		KeySize:    32,
	}
}

// DataKeySize is the length in bytes of a data key plus IV (K_f || IV_f)
// as defined in spec §3: 32-byte key + 16-byte IV.
const DataKeySize = 48

// DataKeyKeyLen and DataKeyIVLen split DataKeySize between the AEAD key
// and the IV/nonce material carried alongside it.
const (
	DataKeyKeyLen = 32
	DataKeyIVLen  = DataKeySize - DataKeyKeyLen
)

// DataKey is a freshly generated symmetric key plus IV used to encrypt
// exactly one file body. The concatenation Key||IV is exactly
// DataKeySize bytes and must never be persisted in the clear.
type DataKey struct {
	Key [DataKeyKeyLen]byte
	IV  [DataKeyIVLen]byte
}

// Bytes returns the Key||IV concatenation the spec calls K_f || IV_f.
func (k DataKey) Bytes() []byte {
	out := make([]byte, 0, DataKeySize)
	out = append(out, k.Key[:]...)
	out = append(out, k.IV[:]...)
	return out
}

// DataKeyFromBytes reconstructs a DataKey from its 48-byte wire form.
func DataKeyFromBytes(b []byte) (DataKey, error) {
	var dk DataKey
	if len(b) != DataKeySize {
		return dk, fmt.Errorf("data key must be %d bytes, got %d", DataKeySize, len(b))
	}
	copy(dk.Key[:], b[:DataKeyKeyLen])
	copy(dk.IV[:], b[DataKeyKeyLen:])
	return dk, nil
}
