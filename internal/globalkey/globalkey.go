// Package globalkey implements the GlobalKeyManager (spec §4.7): the
// lifecycle of the global sharing key G, a 32-byte symmetric key held in
// volatile memory only, wrapped to each user's public key on disk so a
// session can recover it from a passphrase-unlocked private key.
package globalkey

import (
	"crypto/rand"
	"crypto/rsa"
	"fmt"

	"github.com/cryptvault/cryptvault/internal/blobstore"
	"github.com/cryptvault/cryptvault/internal/vaultcrypto"
	"github.com/cryptvault/cryptvault/internal/vaulterrors"
)

// GlobalKeySize is the byte length of G (spec §4.7: "a fresh 32-byte G").
const GlobalKeySize = 32

// Manager owns the on-disk wrapped copies of G. It never caches G
// itself: callers hold the unwrapped key only as long as their session
// needs it and are responsible for zeroing it on shutdown (spec §5,
// "Loaded is terminal until process exit... G is held in volatile
// memory only").
type Manager struct {
	blobs *blobstore.Store
}

// New returns a GlobalKeyManager rooted at blobs.
func New(blobs *blobstore.Store) *Manager {
	return &Manager{blobs: blobs}
}

// wrappedPath is the per-user location of G wrapped to that user's
// public key (spec §6: <base>/metadata/<user>/globalKey.enc).
func wrappedPath(user string) string {
	return fmt.Sprintf("metadata/%s/globalKey.enc", user)
}

// InitializeForAdmin returns the live G for the store: if no
// wrapped-for-admin file exists yet, a fresh G is generated and wrapped
// to adminPub; otherwise the existing wrapped copy is unwrapped with
// adminPriv. adminPassphrase is accepted for symmetry with spec §4.7 but
// unused directly — the caller has already used it to unlock adminPriv.
func (m *Manager) InitializeForAdmin(admin string, adminPub *rsa.PublicKey, adminPriv *rsa.PrivateKey, adminPassphrase []byte) ([]byte, error) {
	path := wrappedPath(admin)
	existing, err := m.blobs.ReadAll(path)
	if err == nil {
		return m.unwrap(existing, adminPriv)
	}
	if !vaulterrors.IsNotFound(err) {
		return nil, err
	}

	g := make([]byte, GlobalKeySize)
	if _, err := rand.Read(g); err != nil {
		return nil, fmt.Errorf("generate global sharing key: %w", err)
	}
	if err := m.Grant(admin, g, adminPub); err != nil {
		return nil, err
	}
	return g, nil
}

// Grant wraps the live G to userPub and persists it in that user's
// metadata directory, so a later session for that user can retrieve G
// from their own private key. Requires a live session already holding G
// (spec §4.7).
func (m *Manager) Grant(user string, g []byte, userPub *rsa.PublicKey) error {
	if len(g) != GlobalKeySize {
		return fmt.Errorf("global sharing key must be %d bytes, got %d", GlobalKeySize, len(g))
	}
	wrapped, err := vaultcrypto.PKWrap(g, userPub)
	if err != nil {
		return err
	}
	return m.blobs.WriteAllAtomic(wrappedPath(user), wrapped)
}

// Retrieve loads user's wrapped copy of G and unwraps it with userPriv.
func (m *Manager) Retrieve(user string, userPriv *rsa.PrivateKey) ([]byte, error) {
	wrapped, err := m.blobs.ReadAll(wrappedPath(user))
	if err != nil {
		return nil, err
	}
	return m.unwrap(wrapped, userPriv)
}

func (m *Manager) unwrap(wrapped []byte, priv *rsa.PrivateKey) ([]byte, error) {
	g, err := vaultcrypto.PKUnwrap(wrapped, priv)
	if err != nil {
		return nil, err
	}
	if len(g) != GlobalKeySize {
		return nil, &vaulterrors.EnvelopeMalformedError{Message: "unwrapped global sharing key has unexpected length"}
	}
	return g, nil
}

// HasGrant reports whether a wrapped copy of G is already on file for
// user, without needing that user's private key.
func (m *Manager) HasGrant(user string) (bool, error) {
	ok, err := m.blobs.Exists(wrappedPath(user))
	if err != nil {
		return false, err
	}
	return ok, nil
}
