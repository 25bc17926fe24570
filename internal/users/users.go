// Package users implements the UserRegistry (spec §4.8): creating new
// principals (key pair, metadata directory, grant of the global sharing
// key) and changing passwords (re-encrypting the private key and
// personal metadata under a new passphrase).
package users

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"fmt"
	"path"
	"path/filepath"
	"strings"

	"github.com/cryptvault/cryptvault/internal/blobstore"
	"github.com/cryptvault/cryptvault/internal/envelope"
	"github.com/cryptvault/cryptvault/internal/globalkey"
	"github.com/cryptvault/cryptvault/internal/vaultcrypto"
	"github.com/cryptvault/cryptvault/internal/vaulterrors"
)

// reservedSubstrings must not appear anywhere in a user name (spec §6).
var reservedSubstrings = []string{"admin", "keyfiles", "metadata"}

// forbiddenChars must not appear in a user name (spec §6).
const forbiddenChars = "/:&"

// ValidateName applies the adduser name policy from spec §6: non-empty,
// none of "/", ":", "&", and none of the reserved substrings "admin",
// "keyfiles", "metadata" anywhere in the name.
func ValidateName(name string) error {
	if name == "" {
		return &vaulterrors.NamePolicyError{Name: name, Message: "name must not be empty"}
	}
	if strings.ContainsAny(name, forbiddenChars) {
		return &vaulterrors.NamePolicyError{Name: name, Message: "name must not contain '/', ':', or '&'"}
	}
	for _, reserved := range reservedSubstrings {
		if strings.Contains(name, reserved) {
			return &vaulterrors.NamePolicyError{Name: name, Message: fmt.Sprintf("name must not contain %q", reserved)}
		}
	}
	return nil
}

// PrivateKeyPath and PublicKeyPath are the fixed per-user key locations
// from spec §6.
func PrivateKeyPath(user string) string {
	return path.Join("keyfiles", user+"_keyfile.pem")
}

func PublicKeyPath(user string) string {
	return path.Join("public_keys", user+"_keyfile.pem")
}

func personalEnvelopesPath(user string) string {
	return path.Join("metadata", user, "envelopes.enc")
}

func personalSaltPath(user string) string {
	return path.Join("metadata", user, "salt")
}

func sharedEnvelopesPath(user string) string {
	return path.Join("metadata", user, "shared_envelopes.enc")
}

// Registry implements add_user and change_password over a blob store,
// the global key manager, and a KDF shared with the rest of the vault.
type Registry struct {
	blobs *blobstore.Store
	gkm   *globalkey.Manager
	kdf   *vaultcrypto.PasswordKDF
}

// New returns a UserRegistry rooted at blobs.
func New(blobs *blobstore.Store, gkm *globalkey.Manager, kdf *vaultcrypto.PasswordKDF) *Registry {
	return &Registry{blobs: blobs, gkm: gkm, kdf: kdf}
}

// Exists reports whether a user's private key file is already present.
func (r *Registry) Exists(name string) (bool, error) {
	return r.blobs.Exists(PrivateKeyPath(name))
}

// osPath resolves a store-relative path to a real filesystem path, for
// the handful of vaultcrypto entry points that read PEM files directly
// (they predate this package and are shared with the key-pair loading
// the CLI layer does at login, which has no blobstore.Store handy).
func (r *Registry) osPath(storePath string) string {
	return filepath.Join(r.blobs.Base, storePath)
}

// parsePublicKeyPEM parses the PEM bytes GenerateKeypair produced for
// the public half of a key pair.
func parsePublicKeyPEM(pemBytes []byte) (*rsa.PublicKey, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, &vaulterrors.EnvelopeMalformedError{Message: "not a PEM-encoded public key"}
	}
	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, &vaulterrors.CryptoError{Kind: "Decode", Op: "parse public key", Err: err}
	}
	rsaPub, ok := pub.(*rsa.PublicKey)
	if !ok {
		return nil, &vaulterrors.CryptoError{Kind: "BadKey", Op: "parse public key", Err: fmt.Errorf("not an RSA public key")}
	}
	return rsaPub, nil
}

// AddUser implements UserRegistry.add_user (spec §4.8). g is the live
// global sharing key held by the calling (necessarily already
// authenticated) session. Returns the freshly generated passphrase,
// which the caller must surface to the operator exactly once and never
// log or persist.
//
// A failing step stops AddUser: later steps do not run, and nothing is
// rolled back, so earlier side effects (e.g. an already-written key
// pair) may remain on disk. This mirrors the documented partial-failure
// behavior in spec §7 rather than hiding it behind a transactional
// facade the underlying filesystem cannot actually provide.
func (r *Registry) AddUser(name string, g []byte) (passphrase string, err error) {
	if err := ValidateName(name); err != nil {
		return "", err
	}
	exists, err := r.Exists(name)
	if err != nil {
		return "", err
	}
	if exists {
		return "", &vaulterrors.NamePolicyError{Name: name, Message: "user already exists"}
	}

	passphrase, err = generatePassphrase()
	if err != nil {
		return "", err
	}
	passBytes := []byte(passphrase)

	pubPEM, privPEM, err := vaultcrypto.GenerateKeypair(passBytes, r.kdf)
	if err != nil {
		return "", err
	}
	pub, err := parsePublicKeyPEM(pubPEM)
	if err != nil {
		return "", err
	}

	if err := r.blobs.WriteAllAtomic(PrivateKeyPath(name), privPEM); err != nil {
		return "", err
	}
	if err := r.blobs.WriteAllAtomic(PublicKeyPath(name), pubPEM); err != nil {
		return "", err
	}

	if err := r.blobs.CreateDirectory(path.Join(name, "personal")); err != nil {
		return "", err
	}
	if err := r.blobs.CreateDirectory(path.Join(name, "shared")); err != nil {
		return "", err
	}
	if err := r.blobs.CreateDirectory(path.Join("metadata", name)); err != nil {
		return "", err
	}

	if err := r.gkm.Grant(name, g, pub); err != nil {
		return "", err
	}

	return passphrase, nil
}

// ChangePassword implements UserRegistry.change_password (spec §4.8).
// If re-encrypting the private key succeeds but re-saving personal
// metadata under the new key fails, the returned error is a
// MetadataRekeyFailedError so callers can surface that distinct,
// lockout-risking state rather than a generic I/O failure.
func (r *Registry) ChangePassword(name string, oldPass, newPass []byte) error {
	priv, err := vaultcrypto.LoadPrivateKey(r.osPath(PrivateKeyPath(name)), oldPass, r.kdf)
	if err != nil {
		return err
	}

	resealed, err := resealPrivateKey(priv, newPass, r.kdf)
	if err != nil {
		return err
	}
	if err := r.blobs.WriteAllAtomic(PrivateKeyPath(name), resealed); err != nil {
		return err
	}

	personal := envelope.NewPersonalStore(r.blobs, personalEnvelopesPath(name), personalSaltPath(name), r.kdf)
	oldKey, err := personal.DerivedKey(oldPass)
	if err != nil {
		return &vaulterrors.MetadataRekeyFailedError{User: name, Err: err}
	}
	records, err := personal.Load(oldKey)
	if err != nil {
		return &vaulterrors.MetadataRekeyFailedError{User: name, Err: err}
	}

	newSalt, err := r.kdf.GenerateSalt()
	if err != nil {
		return &vaulterrors.MetadataRekeyFailedError{User: name, Err: err}
	}
	if err := r.blobs.WriteAllAtomic(personalSaltPath(name), newSalt); err != nil {
		return &vaulterrors.MetadataRekeyFailedError{User: name, Err: err}
	}
	newKey, err := r.kdf.DeriveKey(newPass, newSalt)
	if err != nil {
		return &vaulterrors.MetadataRekeyFailedError{User: name, Err: err}
	}
	if err := personal.Save(newKey, records); err != nil {
		return &vaulterrors.MetadataRekeyFailedError{User: name, Err: err}
	}
	return nil
}

// resealPrivateKey re-encrypts priv's DER form under a key derived from
// newPass and re-wraps it in the same PEM framing GenerateKeypair uses.
func resealPrivateKey(priv *rsa.PrivateKey, newPass []byte, kdf *vaultcrypto.PasswordKDF) ([]byte, error) {
	_, privPEM, err := vaultcrypto.ReKeyPrivateKey(priv, newPass, kdf)
	if err != nil {
		return nil, err
	}
	return privPEM, nil
}

// SharedStorePath and PersonalStorePath expose the fixed per-user paths
// so FileEngine can construct envelope stores without re-deriving the
// naming convention.
func SharedStorePath(user string) string   { return sharedEnvelopesPath(user) }
func PersonalStorePath(user string) string { return personalEnvelopesPath(user) }
func PersonalSaltPath(user string) string  { return personalSaltPath(user) }

// generatePassphrase returns a hex-rendered passphrase with at least
// 128 bits of entropy (spec §4.8 step 2): 16 random bytes, 32 hex chars.
func generatePassphrase() (string, error) {
	raw := make([]byte, 16)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("generate passphrase: %w", err)
	}
	return hex.EncodeToString(raw), nil
}
