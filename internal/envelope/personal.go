package envelope

import (
	"github.com/cryptvault/cryptvault/internal/blobstore"
	"github.com/cryptvault/cryptvault/internal/vaultcrypto"
)

// PersonalStore is PersonalMetadata (spec §4.4): the per-user envelope
// store for files the user owns, keyed by a key derived from the user's
// passphrase. Each user's salt is persisted alongside their store so
// independent per-user salts are never lost (closing the gap noted in
// SPEC_FULL.md §4.12).
type PersonalStore struct {
	store    *Store
	saltPath string
	blobs    *blobstore.Store
	kdf      *vaultcrypto.PasswordKDF
}

// NewPersonalStore returns the PersonalMetadata store for one user.
// envelopesPath and saltPath are the per-user paths from spec §6
// (<base>/metadata/<user>/envelopes.enc and a sibling salt file).
func NewPersonalStore(blobs *blobstore.Store, envelopesPath, saltPath string, kdf *vaultcrypto.PasswordKDF) *PersonalStore {
	return &PersonalStore{
		store:    NewStore(blobs, envelopesPath),
		saltPath: saltPath,
		blobs:    blobs,
		kdf:      kdf,
	}
}

// DerivedKey derives this user's personal-store key from passphrase,
// generating and persisting a fresh salt on first use.
func (p *PersonalStore) DerivedKey(passphrase []byte) ([]byte, error) {
	salt, err := p.loadOrCreateSalt()
	if err != nil {
		return nil, err
	}
	return p.kdf.DeriveKey(passphrase, salt)
}

func (p *PersonalStore) loadOrCreateSalt() ([]byte, error) {
	existing, err := p.blobs.ReadAll(p.saltPath)
	if err == nil && len(existing) > 0 {
		return existing, nil
	}
	salt, err := p.kdf.GenerateSalt()
	if err != nil {
		return nil, err
	}
	if err := p.blobs.WriteAllAtomic(p.saltPath, salt); err != nil {
		return nil, err
	}
	return salt, nil
}

// Load returns every owner-envelope record for this user.
func (p *PersonalStore) Load(derivedKey []byte) ([]Record, error) {
	return p.store.Load(derivedKey)
}

// Save replaces this user's owner-envelope records.
func (p *PersonalStore) Save(derivedKey []byte, records []Record) error {
	return p.store.Save(derivedKey, records)
}

// Put upserts the owner envelope for path.
func (p *PersonalStore) Put(derivedKey []byte, path string, env []byte) error {
	return p.store.Put(derivedKey, path, env)
}

// Get returns the owner envelope for path, if any.
func (p *PersonalStore) Get(derivedKey []byte, path string) ([]byte, bool, error) {
	return p.store.Get(derivedKey, path)
}
