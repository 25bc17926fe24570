// Package envelope implements the EnvelopeCodec, PersonalMetadata, and
// SharedMetadata components: serializing (path, envelope) records to a
// line-oriented plaintext blob, sealing that blob with AEAD, and
// exposing load/save/put/get over the result.
package envelope

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/cryptvault/cryptvault/internal/vaultcrypto"
	"github.com/cryptvault/cryptvault/internal/vaulterrors"
)

// Record pairs a store path with its envelope bytes.
type Record struct {
	Path     string
	Envelope []byte
}

// EncodeLines serializes records as one "<path> <hex(envelope)>\n" line
// per entry, in order. Paths must not contain whitespace; the CLI layer
// does not check for it, so EncodeLines rejects such a path with an error.
func EncodeLines(records []Record) ([]byte, error) {
	var buf bytes.Buffer
	for _, r := range records {
		if strings.ContainsAny(r.Path, " \t\n\r") {
			return nil, fmt.Errorf("path %q contains whitespace", r.Path)
		}
		buf.WriteString(r.Path)
		buf.WriteByte(' ')
		buf.WriteString(hex.EncodeToString(r.Envelope))
		buf.WriteByte('\n')
	}
	return buf.Bytes(), nil
}

// DecodeLines parses the plaintext produced by EncodeLines. Blank lines
// are skipped; a malformed line surfaces an EnvelopeMalformedError (the
// line-format equivalent of spec §4.3's DecodeError).
func DecodeLines(data []byte) ([]Record, error) {
	var records []Record
	lines := strings.Split(string(data), "\n")
	for i, line := range lines {
		if line == "" {
			continue
		}
		idx := strings.IndexByte(line, ' ')
		if idx < 0 {
			return nil, &vaulterrors.EnvelopeMalformedError{Message: fmt.Sprintf("line %d: missing path/envelope separator", i)}
		}
		path := line[:idx]
		hexPart := line[idx+1:]
		if path == "" {
			return nil, &vaulterrors.EnvelopeMalformedError{Message: fmt.Sprintf("line %d: empty path", i)}
		}
		env, err := hex.DecodeString(hexPart)
		if err != nil {
			return nil, &vaulterrors.EnvelopeMalformedError{Message: fmt.Sprintf("line %d: invalid hex envelope: %v", i, err)}
		}
		records = append(records, Record{Path: path, Envelope: env})
	}
	return records, nil
}

// SealBlob AEAD-encrypts a line-serialized blob with a fresh nonce
// prefixed to the ciphertext: nonce || ciphertext || tag. An empty
// record list still produces a valid nonce+tag, per spec §4.3.
func SealBlob(suite vaultcrypto.CipherSuite, key []byte, records []Record) ([]byte, error) {
	plaintext, err := EncodeLines(records)
	if err != nil {
		return nil, err
	}
	nonce, err := vaultcrypto.GenerateNonce(suite)
	if err != nil {
		return nil, err
	}
	ciphertext, err := vaultcrypto.AEADEncrypt(suite, key, nonce, plaintext)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(nonce)+len(ciphertext))
	out = append(out, nonce...)
	out = append(out, ciphertext...)
	return out, nil
}

// OpenBlob reverses SealBlob. A blob shorter than one nonce is treated
// as an empty store by the caller (see Store.Load), not by OpenBlob
// itself, which always requires a well-formed nonce+ciphertext.
func OpenBlob(suite vaultcrypto.CipherSuite, key, blob []byte) ([]Record, error) {
	nonceSize := vaultcrypto.NonceSize(suite)
	if len(blob) < nonceSize {
		return nil, &vaulterrors.EnvelopeMalformedError{Message: "blob shorter than one nonce"}
	}
	nonce := blob[:nonceSize]
	ciphertext := blob[nonceSize:]
	plaintext, err := vaultcrypto.AEADDecrypt(suite, key, nonce, ciphertext)
	if err != nil {
		return nil, vaulterrors.AuthFailed
	}
	return DecodeLines(plaintext)
}
