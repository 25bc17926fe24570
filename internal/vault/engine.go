// Package vault implements the FileEngine (spec §4.9): the top-level
// write/read/share operations that orchestrate CryptoPrimitives,
// BlobStore, PersonalMetadata, SharedMetadata, ShareMappingStore, and
// GlobalKeyManager while enforcing the access-control invariants of
// spec §3.
package vault

import (
	"crypto/rsa"
	"log/slog"

	"github.com/cryptvault/cryptvault/internal/blobstore"
	"github.com/cryptvault/cryptvault/internal/envelope"
	"github.com/cryptvault/cryptvault/internal/globalkey"
	"github.com/cryptvault/cryptvault/internal/sharemap"
	"github.com/cryptvault/cryptvault/internal/users"
	"github.com/cryptvault/cryptvault/internal/vaultcrypto"
	"github.com/cryptvault/cryptvault/internal/vaulterrors"
)

// AdminName is the well-known administrator principal (spec §3, §4.9):
// it always holds a shared envelope for every non-admin-owned file.
const AdminName = "admin"

// EnvelopeSource distinguishes how read() recovered a file's data key.
type EnvelopeSource int

const (
	SourceOwner EnvelopeSource = iota
	SourceShared
)

// Engine is the FileEngine. It holds no per-session secrets itself —
// callers pass derived keys, private keys, and G explicitly into every
// call, matching spec §4.9's operation signatures and keeping key
// material out of any long-lived struct field.
type Engine struct {
	blobs    *blobstore.Store
	shareMap *sharemap.Store
	gkm      *globalkey.Manager
	log      *slog.Logger
}

// New returns a FileEngine rooted at blobs.
func New(blobs *blobstore.Store, gkm *globalkey.Manager, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	return &Engine{
		blobs:    blobs,
		shareMap: sharemap.New(blobs, shareMappingPath()),
		gkm:      gkm,
		log:      log,
	}
}

func shareMappingPath() string {
	return "metadata/share_mappings.mapping"
}

func personalStoreFor(blobs *blobstore.Store, kdf *vaultcrypto.PasswordKDF, user string) *envelope.PersonalStore {
	return envelope.NewPersonalStore(blobs, users.PersonalStorePath(user), users.PersonalSaltPath(user), kdf)
}

func sharedStoreFor(blobs *blobstore.Store, user string) *envelope.SharedStore {
	return envelope.NewSharedStore(blobs, users.SharedStorePath(user))
}

// Write implements FileEngine.write (spec §4.9). ownerDerivedKey is the
// caller's already-derived PersonalMetadata key; kdf lets the
// engine construct the owner's PersonalStore with the KDF in effect for
// this vault. g is the live global sharing key.
//
// Ordering follows spec §4.9 exactly: body lands before any envelope,
// and the owner envelope precedes the admin envelope, so a crash never
// leaves an envelope pointing at a missing body, and ownership stays
// recoverable even if the admin update fails. Recipient-refresh
// failures (step 6) are logged, not returned, per the documented
// best-effort policy in spec §7.
func (e *Engine) Write(
	path string,
	plaintext []byte,
	owner string,
	ownerPub *rsa.PublicKey,
	ownerDerivedKey []byte,
	kdf *vaultcrypto.PasswordKDF,
	g []byte,
) error {
	dk, err := vaultcrypto.GenerateDataKey()
	if err != nil {
		return err
	}

	body, err := vaultcrypto.EncryptBody(dk, plaintext)
	if err != nil {
		return err
	}
	if err := e.blobs.WriteAllAtomic(path, body); err != nil {
		return err
	}

	ownerEnvelope, err := vaultcrypto.PKWrap(dk.Bytes(), ownerPub)
	if err != nil {
		return err
	}
	ownerStore := personalStoreFor(e.blobs, kdf, owner)
	if err := ownerStore.Put(ownerDerivedKey, path, ownerEnvelope); err != nil {
		return err
	}

	if owner != AdminName {
		if err := e.putSharedEnvelope(AdminName, path, dk, g); err != nil {
			return err
		}
		if err := e.shareMap.Upsert(g, path, AdminName, path); err != nil {
			return err
		}
	}

	recipients, err := e.shareMap.RecipientsOf(g, path)
	if err != nil {
		e.log.Warn("file write: could not load recipients for refresh", "path", path, "error", err)
		return nil
	}
	for _, r := range recipients {
		if r.Name == AdminName {
			continue
		}
		if err := e.putSharedEnvelope(r.Name, r.TargetPath, dk, g); err != nil {
			e.log.Warn("file write: best-effort recipient refresh failed", "path", path, "recipient", r.Name, "error", err)
			continue
		}
	}

	return nil
}

// putSharedEnvelope builds a fresh shared envelope (spec §3: a new
// nonce every time, even when re-sealing the same data key) and stores
// it in recipient's shared metadata at targetPath.
func (e *Engine) putSharedEnvelope(recipient, targetPath string, dk vaultcrypto.DataKey, g []byte) error {
	nonce, err := vaultcrypto.GenerateNonce(vaultcrypto.CipherAES256GCM)
	if err != nil {
		return err
	}
	ciphertext, err := vaultcrypto.AEADEncrypt(vaultcrypto.CipherAES256GCM, g, nonce, dk.Bytes())
	if err != nil {
		return err
	}
	sharedEnvelope := make([]byte, 0, len(nonce)+len(ciphertext))
	sharedEnvelope = append(sharedEnvelope, nonce...)
	sharedEnvelope = append(sharedEnvelope, ciphertext...)

	store := sharedStoreFor(e.blobs, recipient)
	return store.Put(g, targetPath, sharedEnvelope)
}

// Read implements FileEngine.read (spec §4.9). Owner-before-shared
// preference is deliberate: the caller's own key is cheaper and
// authoritative, so PersonalMetadata is tried first and SharedMetadata
// only as a fallback.
func (e *Engine) Read(
	path string,
	user string,
	userPriv *rsa.PrivateKey,
	userDerivedKey []byte,
	kdf *vaultcrypto.PasswordKDF,
	g []byte,
) ([]byte, EnvelopeSource, error) {
	body, err := e.blobs.ReadAll(path)
	if err != nil {
		return nil, 0, err
	}

	ownerStore := personalStoreFor(e.blobs, kdf, user)
	ownerEnvelope, ok, err := ownerStore.Get(userDerivedKey, path)
	if err != nil {
		return nil, 0, err
	}

	var dk vaultcrypto.DataKey
	var source EnvelopeSource
	if ok {
		source = SourceOwner
		plain, err := vaultcrypto.PKUnwrap(ownerEnvelope, userPriv)
		if err != nil {
			return nil, 0, err
		}
		dk, err = vaultcrypto.DataKeyFromBytes(plain)
		if err != nil {
			return nil, 0, &vaulterrors.EnvelopeMalformedError{Path: path, Message: err.Error()}
		}
	} else {
		sharedStore := sharedStoreFor(e.blobs, user)
		sharedEnvelope, ok, err := sharedStore.Get(g, path)
		if err != nil {
			return nil, 0, err
		}
		if !ok {
			return nil, 0, &vaulterrors.NoEnvelopeError{User: user, Path: path}
		}
		source = SourceShared

		nonceSize := vaultcrypto.NonceSize(vaultcrypto.CipherAES256GCM)
		if len(sharedEnvelope) < nonceSize {
			return nil, 0, &vaulterrors.EnvelopeMalformedError{Path: path, Message: "shared envelope shorter than one nonce"}
		}
		nonce := sharedEnvelope[:nonceSize]
		ciphertext := sharedEnvelope[nonceSize:]
		plain, err := vaultcrypto.AEADDecrypt(vaultcrypto.CipherAES256GCM, g, nonce, ciphertext)
		if err != nil {
			return nil, 0, err
		}
		dk, err = vaultcrypto.DataKeyFromBytes(plain)
		if err != nil {
			return nil, 0, &vaulterrors.EnvelopeMalformedError{Path: path, Message: err.Error()}
		}
	}

	plaintext, err := vaultcrypto.DecryptBody(dk, body)
	if err != nil {
		return nil, 0, err
	}
	return plaintext, source, nil
}

// Share implements FileEngine.share (spec §4.9).
func (e *Engine) Share(
	sourcePath string,
	targetUser string,
	currentUser string,
	currentPriv *rsa.PrivateKey,
	senderDerivedKey []byte,
	kdf *vaultcrypto.PasswordKDF,
	targetPath string,
	g []byte,
) error {
	senderStore := personalStoreFor(e.blobs, kdf, currentUser)
	ownerEnvelope, ok, err := senderStore.Get(senderDerivedKey, sourcePath)
	if err != nil {
		return err
	}
	if !ok {
		return &vaulterrors.NotOwnerError{User: currentUser, Path: sourcePath}
	}

	plain, err := vaultcrypto.PKUnwrap(ownerEnvelope, currentPriv)
	if err != nil {
		return err
	}
	dk, err := vaultcrypto.DataKeyFromBytes(plain)
	if err != nil {
		return &vaulterrors.EnvelopeMalformedError{Path: sourcePath, Message: err.Error()}
	}

	if err := e.putSharedEnvelope(targetUser, targetPath, dk, g); err != nil {
		return err
	}

	if targetUser != AdminName {
		if err := e.putSharedEnvelope(AdminName, sourcePath, dk, g); err != nil {
			return err
		}
		if err := e.shareMap.Upsert(g, sourcePath, AdminName, sourcePath); err != nil {
			return err
		}
	}

	if err := e.shareMap.Upsert(g, sourcePath, targetUser, targetPath); err != nil {
		return err
	}

	return e.blobs.CreateHardLink(sourcePath, targetPath)
}

// GlobalKeyManager exposes the GlobalKeyManager this engine was built
// with, so callers that already hold an Engine don't need to thread a
// second reference through for login/grant flows.
func (e *Engine) GlobalKeyManager() *globalkey.Manager {
	return e.gkm
}

// Audit returns every (recipient, targetPath) pair sharing sourcePath.
// Only admin may audit (spec §9's admin-only share-mapping visibility,
// supplemented per SPEC_FULL.md §4.12 from the original source's
// admin-restricted audit notion); any other caller gets NotOwnerError,
// repurposed here as the permission error since admin is the only
// principal considered to "own" the share mapping as a whole.
func (e *Engine) Audit(user, sourcePath string, g []byte) ([]sharemap.Recipient, error) {
	if user != AdminName {
		return nil, &vaulterrors.NotOwnerError{User: user, Path: sourcePath}
	}
	return e.shareMap.RecipientsOf(g, sourcePath)
}
