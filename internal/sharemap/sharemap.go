// Package sharemap implements the ShareMappingStore (spec §4.6): the
// single global map from a source path to every (recipient, targetPath)
// pair that currently has a hard-linked, shared-envelope view of that
// path. It is sealed under the global sharing key G, the same AEAD
// machinery as internal/envelope, but its line format carries a list of
// recipients per source rather than one envelope per path.
package sharemap

import (
	"fmt"
	"sort"
	"strings"

	"github.com/cryptvault/cryptvault/internal/blobstore"
	"github.com/cryptvault/cryptvault/internal/vaultcrypto"
	"github.com/cryptvault/cryptvault/internal/vaulterrors"
)

// Recipient pairs a user name with the path they see the shared file at.
type Recipient struct {
	Name       string
	TargetPath string
}

// Store is the ShareMappingStore: sourcePath -> []Recipient, persisted
// at one blob-store path, AEAD-sealed under G.
type Store struct {
	blobs *blobstore.Store
	path  string
	suite vaultcrypto.CipherSuite
}

// New returns the ShareMappingStore backed by blobs at path (spec §6:
// <base>/metadata/share_mappings.mapping).
func New(blobs *blobstore.Store, path string) *Store {
	return &Store{blobs: blobs, path: path, suite: vaultcrypto.CipherAES256GCM}
}

// entries is the decoded form of the mapping file: sourcePath, in
// encounter order, to its recipient list.
type entries struct {
	order   []string
	byPath  map[string][]Recipient
}

func newEntries() *entries {
	return &entries{byPath: make(map[string][]Recipient)}
}

func (e *entries) get(sourcePath string) []Recipient {
	return e.byPath[sourcePath]
}

func (e *entries) upsert(sourcePath, recipient, targetPath string) {
	list, ok := e.byPath[sourcePath]
	if !ok {
		e.order = append(e.order, sourcePath)
	}
	for i := range list {
		if list[i].Name == recipient {
			list[i].TargetPath = targetPath
			e.byPath[sourcePath] = list
			return
		}
	}
	e.byPath[sourcePath] = append(list, Recipient{Name: recipient, TargetPath: targetPath})
}

// encode serializes entries as one line per source path:
// "<sourcePath> <recipient1>:<targetPath1> <recipient2>:<targetPath2> …\n".
func (e *entries) encode() ([]byte, error) {
	var b strings.Builder
	for _, source := range e.order {
		recipients := e.byPath[source]
		if len(recipients) == 0 {
			continue
		}
		if strings.ContainsAny(source, " \t\n\r") {
			return nil, fmt.Errorf("source path %q contains whitespace", source)
		}
		b.WriteString(source)
		for _, r := range recipients {
			if strings.ContainsAny(r.Name, " \t\n\r:") || strings.ContainsAny(r.TargetPath, " \t\n\r") {
				return nil, fmt.Errorf("recipient %q:%q contains a reserved character", r.Name, r.TargetPath)
			}
			b.WriteByte(' ')
			b.WriteString(r.Name)
			b.WriteByte(':')
			b.WriteString(r.TargetPath)
		}
		b.WriteByte('\n')
	}
	return []byte(b.String()), nil
}

func decodeEntries(data []byte) (*entries, error) {
	e := newEntries()
	lines := strings.Split(string(data), "\n")
	for i, line := range lines {
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 1 {
			return nil, &vaulterrors.EnvelopeMalformedError{Message: fmt.Sprintf("share mapping line %d: empty", i)}
		}
		source := fields[0]
		e.order = append(e.order, source)
		var recipients []Recipient
		for _, f := range fields[1:] {
			idx := strings.IndexByte(f, ':')
			if idx < 0 {
				return nil, &vaulterrors.EnvelopeMalformedError{Message: fmt.Sprintf("share mapping line %d: malformed recipient field %q", i, f)}
			}
			recipients = append(recipients, Recipient{Name: f[:idx], TargetPath: f[idx+1:]})
		}
		e.byPath[source] = recipients
	}
	return e, nil
}

func sealEntries(suite vaultcrypto.CipherSuite, g []byte, e *entries) ([]byte, error) {
	plaintext, err := e.encode()
	if err != nil {
		return nil, err
	}
	nonce, err := vaultcrypto.GenerateNonce(suite)
	if err != nil {
		return nil, err
	}
	ciphertext, err := vaultcrypto.AEADEncrypt(suite, g, nonce, plaintext)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(nonce)+len(ciphertext))
	out = append(out, nonce...)
	out = append(out, ciphertext...)
	return out, nil
}

func openEntries(suite vaultcrypto.CipherSuite, g, blob []byte) (*entries, error) {
	nonceSize := vaultcrypto.NonceSize(suite)
	if len(blob) < nonceSize {
		return newEntries(), nil
	}
	nonce := blob[:nonceSize]
	ciphertext := blob[nonceSize:]
	plaintext, err := vaultcrypto.AEADDecrypt(suite, g, nonce, ciphertext)
	if err != nil {
		return nil, vaulterrors.AuthFailed
	}
	return decodeEntries(plaintext)
}

func (s *Store) load(g []byte) (*entries, error) {
	blob, err := s.blobs.ReadAll(s.path)
	if err != nil {
		if vaulterrors.IsNotFound(err) {
			return newEntries(), nil
		}
		return nil, err
	}
	return openEntries(s.suite, g, blob)
}

func (s *Store) save(g []byte, e *entries) error {
	blob, err := sealEntries(s.suite, g, e)
	if err != nil {
		return err
	}
	return s.blobs.WriteAllAtomic(s.path, blob)
}

// RecipientsOf returns every (recipient, targetPath) pair currently
// sharing sourcePath, or an empty slice if the mapping is absent or
// carries no entry for sourcePath (spec §4.6, §7 "ShareMappingStore
// absent ⇒ no recipients").
func (s *Store) RecipientsOf(g []byte, sourcePath string) ([]Recipient, error) {
	e, err := s.load(g)
	if err != nil {
		return nil, err
	}
	out := append([]Recipient(nil), e.get(sourcePath)...)
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Upsert adds or replaces the (recipient, targetPath) entry for
// sourcePath, preserving every other recipient already on file for that
// source. A (sourcePath, recipient) pair is unique: a repeat upsert
// updates targetPath in place rather than appending a duplicate.
func (s *Store) Upsert(g []byte, sourcePath, recipient, targetPath string) error {
	e, err := s.load(g)
	if err != nil {
		return err
	}
	e.upsert(sourcePath, recipient, targetPath)
	return s.save(g, e)
}
