package envelope

import "github.com/cryptvault/cryptvault/internal/blobstore"

// SharedStore is SharedMetadata (spec §4.5): the per-user envelope
// store for files the user received, keyed by the global sharing key G
// rather than a per-user passphrase-derived key. It is the same
// machinery as PersonalStore with a different key source and a
// different on-disk path (<base>/metadata/<user>/shared_envelopes.enc).
type SharedStore struct {
	store *Store
}

// NewSharedStore returns the SharedMetadata store for one user.
func NewSharedStore(blobs *blobstore.Store, sharedEnvelopesPath string) *SharedStore {
	return &SharedStore{store: NewStore(blobs, sharedEnvelopesPath)}
}

// Load returns every shared-envelope record for this user, decrypted
// under the session's global sharing key G.
func (s *SharedStore) Load(g []byte) ([]Record, error) {
	return s.store.Load(g)
}

// Save replaces this user's shared-envelope records.
func (s *SharedStore) Save(g []byte, records []Record) error {
	return s.store.Save(g, records)
}

// Put upserts the shared envelope for path.
func (s *SharedStore) Put(g []byte, path string, env []byte) error {
	return s.store.Put(g, path, env)
}

// Get returns the shared envelope for path, if any.
func (s *SharedStore) Get(g []byte, path string) ([]byte, bool, error) {
	return s.store.Get(g, path)
}
