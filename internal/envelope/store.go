package envelope

import (
	"github.com/cryptvault/cryptvault/internal/blobstore"
	"github.com/cryptvault/cryptvault/internal/vaultcrypto"
	"github.com/cryptvault/cryptvault/internal/vaulterrors"
)

// Store is an envelope store: a mapping path -> envelope, persisted at
// one blob-store path, AEAD-sealed under a symmetric key the caller
// supplies on every call (PersonalMetadata supplies a password-derived
// key per user, SharedMetadata supplies the global sharing key).
//
// Store is intentionally key-agnostic: it is the common machinery
// behind both PersonalMetadata (spec §4.4) and SharedMetadata (§4.5),
// which differ only in which key and which blob path they use.
type Store struct {
	blobs *blobstore.Store
	path  string
	suite vaultcrypto.CipherSuite
}

// NewStore returns a Store backed by blobs at path.
func NewStore(blobs *blobstore.Store, path string) *Store {
	return &Store{blobs: blobs, path: path, suite: vaultcrypto.CipherAES256GCM}
}

// Load returns every (path, envelope) record currently in the store.
// A missing file, or one shorter than one AEAD nonce, is treated as an
// empty store (first-time initialization) rather than an error. Any
// other decrypt failure (wrong key or tampered file) surfaces
// vaulterrors.AuthFailed unchanged.
func (s *Store) Load(key []byte) ([]Record, error) {
	blob, err := s.blobs.ReadAll(s.path)
	if err != nil {
		if vaulterrors.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	if len(blob) < vaultcrypto.NonceSize(s.suite) {
		return nil, nil
	}
	return OpenBlob(s.suite, key, blob)
}

// Save replaces the store's full contents with records.
func (s *Store) Save(key []byte, records []Record) error {
	blob, err := SealBlob(s.suite, key, records)
	if err != nil {
		return err
	}
	return s.blobs.WriteAllAtomic(s.path, blob)
}

// Put upserts the envelope for path (add, or replace if present) and
// persists the store.
func (s *Store) Put(key []byte, path string, env []byte) error {
	records, err := s.Load(key)
	if err != nil {
		return err
	}
	found := false
	for i := range records {
		if records[i].Path == path {
			records[i].Envelope = env
			found = true
			break
		}
	}
	if !found {
		records = append(records, Record{Path: path, Envelope: env})
	}
	return s.Save(key, records)
}

// Get returns the envelope for path, or ok=false if no entry exists.
func (s *Store) Get(key []byte, path string) (env []byte, ok bool, err error) {
	records, err := s.Load(key)
	if err != nil {
		return nil, false, err
	}
	for _, r := range records {
		if r.Path == path {
			return r.Envelope, true, nil
		}
	}
	return nil, false, nil
}
