package vault

import (
	"crypto/rand"
	"crypto/rsa"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/cryptvault/cryptvault/internal/blobstore"
	"github.com/cryptvault/cryptvault/internal/envelope"
	"github.com/cryptvault/cryptvault/internal/globalkey"
	"github.com/cryptvault/cryptvault/internal/users"
	"github.com/cryptvault/cryptvault/internal/vaultcrypto"
	"github.com/cryptvault/cryptvault/internal/vaulterrors"
)

// harness bundles everything a scenario test needs: a fresh store, a
// registry for adduser/changepass, a running engine, and admin's own
// unlocked key material plus G.
type harness struct {
	t        *testing.T
	blobs    *blobstore.Store
	kdf      *vaultcrypto.PasswordKDF
	gkm      *globalkey.Manager
	registry *users.Registry
	engine   *Engine
	g        []byte

	adminPriv *rsa.PrivateKey
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	blobs, err := blobstore.New(t.TempDir())
	if err != nil {
		t.Fatalf("blobstore.New: %v", err)
	}
	kdf := vaultcrypto.NewPasswordKDF()
	gkm := globalkey.New(blobs)
	registry := users.New(blobs, gkm, kdf)
	engine := New(blobs, gkm, slog.Default())

	adminPriv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate admin key: %v", err)
	}

	g, err := gkm.InitializeForAdmin(AdminName, &adminPriv.PublicKey, adminPriv, []byte("adminpass"))
	if err != nil {
		t.Fatalf("InitializeForAdmin: %v", err)
	}

	h := &harness{
		t:         t,
		blobs:     blobs,
		kdf:       kdf,
		gkm:       gkm,
		registry:  registry,
		engine:    engine,
		g:         g,
		adminPriv: adminPriv,
	}
	return h
}

func (h *harness) addUser(name string) (passphrase string) {
	h.t.Helper()
	pass, err := h.registry.AddUser(name, h.g)
	if err != nil {
		h.t.Fatalf("AddUser(%s): %v", name, err)
	}
	return pass
}

func (h *harness) unlock(user, passphrase string) *rsa.PrivateKey {
	h.t.Helper()
	priv, err := vaultcrypto.LoadPrivateKey(filepath.Join(h.blobs.Base, users.PrivateKeyPath(user)), []byte(passphrase), h.kdf)
	if err != nil {
		h.t.Fatalf("LoadPrivateKey(%s): %v", user, err)
	}
	return priv
}

func (h *harness) derivedKey(user, passphrase string) []byte {
	h.t.Helper()
	store := personalStoreFor(h.blobs, h.kdf, user)
	key, err := store.DerivedKey([]byte(passphrase))
	if err != nil {
		h.t.Fatalf("DerivedKey(%s): %v", user, err)
	}
	return key
}

func (h *harness) write(path string, plaintext []byte, owner string, ownerPriv *rsa.PrivateKey, ownerDerived []byte) {
	h.t.Helper()
	if err := h.engine.Write(path, plaintext, owner, &ownerPriv.PublicKey, ownerDerived, h.kdf, h.g); err != nil {
		h.t.Fatalf("Write(%s): %v", path, err)
	}
}

func (h *harness) read(path, user string, priv *rsa.PrivateKey, derived []byte) ([]byte, EnvelopeSource, error) {
	h.t.Helper()
	return h.engine.Read(path, user, priv, derived, h.kdf, h.g)
}

func TestS1BasicRoundTrip(t *testing.T) {
	h := newHarness(t)
	path := "admin/personal/foo"
	h.write(path, []byte("hello\n"), AdminName, h.adminPriv, h.derivedKey(AdminName, "adminpass"))

	got, source, err := h.read(path, AdminName, h.adminPriv, h.derivedKey(AdminName, "adminpass"))
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if source != SourceOwner {
		t.Fatalf("expected SourceOwner, got %v", source)
	}
	if string(got) != "hello\n" {
		t.Fatalf("got %q, want %q", got, "hello\n")
	}
}

func TestS2MandatoryAdminAccess(t *testing.T) {
	h := newHarness(t)
	alicePass := h.addUser("alice")
	alicePriv := h.unlock("alice", alicePass)
	aliceDerived := h.derivedKey("alice", alicePass)

	path := "alice/personal/note"
	h.write(path, []byte("secret"), "alice", alicePriv, aliceDerived)

	got, source, err := h.read(path, AdminName, h.adminPriv, h.derivedKey(AdminName, "adminpass"))
	if err != nil {
		t.Fatalf("admin Read: %v", err)
	}
	if source != SourceShared {
		t.Fatalf("expected admin to resolve via shared metadata, got %v", source)
	}
	if string(got) != "secret" {
		t.Fatalf("got %q, want %q", got, "secret")
	}
}

func TestS3ShareAndRewrite(t *testing.T) {
	h := newHarness(t)
	alicePass := h.addUser("alice")
	alicePriv := h.unlock("alice", alicePass)
	aliceDerived := h.derivedKey("alice", alicePass)

	bobPass := h.addUser("bob")
	bobPriv := h.unlock("bob", bobPass)
	bobDerived := h.derivedKey("bob", bobPass)

	sourcePath := "alice/personal/doc"
	targetPath := "bob/shared/alice/doc"

	h.write(sourcePath, []byte("v1"), "alice", alicePriv, aliceDerived)

	if err := h.engine.Share(sourcePath, "bob", "alice", alicePriv, aliceDerived, h.kdf, targetPath, h.g); err != nil {
		t.Fatalf("Share: %v", err)
	}

	got, source, err := h.read(targetPath, "bob", bobPriv, bobDerived)
	if err != nil {
		t.Fatalf("bob Read (v1): %v", err)
	}
	if source != SourceShared {
		t.Fatalf("expected bob to resolve via shared metadata, got %v", source)
	}
	if string(got) != "v1" {
		t.Fatalf("got %q, want %q", got, "v1")
	}

	h.write(sourcePath, []byte("v2"), "alice", alicePriv, aliceDerived)

	got, _, err = h.read(targetPath, "bob", bobPriv, bobDerived)
	if err != nil {
		t.Fatalf("bob Read (v2): %v", err)
	}
	if string(got) != "v2" {
		t.Fatalf("expected refreshed content, got %q, want %q", got, "v2")
	}
}

func TestS4NonRecipientDenied(t *testing.T) {
	h := newHarness(t)
	alicePass := h.addUser("alice")
	alicePriv := h.unlock("alice", alicePass)
	aliceDerived := h.derivedKey("alice", alicePass)

	carolPass := h.addUser("carol")
	carolPriv := h.unlock("carol", carolPass)
	carolDerived := h.derivedKey("carol", carolPass)

	path := "alice/personal/doc"
	h.write(path, []byte("v1"), "alice", alicePriv, aliceDerived)

	_, _, err := h.read(path, "carol", carolPriv, carolDerived)
	if !vaulterrors.IsNoEnvelope(err) {
		t.Fatalf("expected NoEnvelope, got %v", err)
	}
}

func TestS5Tamper(t *testing.T) {
	h := newHarness(t)
	path := "admin/personal/foo"
	h.write(path, []byte("hello\n"), AdminName, h.adminPriv, h.derivedKey(AdminName, "adminpass"))

	body, err := h.blobs.ReadAll(path)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	tampered := append([]byte(nil), body...)
	tampered[10] ^= 0xFF
	if err := h.blobs.WriteAllAtomic(path, tampered); err != nil {
		t.Fatalf("WriteAllAtomic: %v", err)
	}

	_, _, err = h.read(path, AdminName, h.adminPriv, h.derivedKey(AdminName, "adminpass"))
	if !vaulterrors.IsAuthFailed(err) {
		t.Fatalf("expected AuthFailed, got %v", err)
	}
}

func TestS6PassphraseRotation(t *testing.T) {
	h := newHarness(t)
	alicePass := h.addUser("alice")
	alicePriv := h.unlock("alice", alicePass)
	aliceDerived := h.derivedKey("alice", alicePass)

	path := "alice/personal/doc"
	h.write(path, []byte("original"), "alice", alicePriv, aliceDerived)

	newPass := "a-new-passphrase"
	if err := h.registry.ChangePassword("alice", []byte(alicePass), []byte(newPass)); err != nil {
		t.Fatalf("ChangePassword: %v", err)
	}

	if _, err := vaultcrypto.LoadPrivateKey(filepath.Join(h.blobs.Base, users.PrivateKeyPath("alice")), []byte(alicePass), h.kdf); !vaulterrors.IsAuthFailed(err) {
		t.Fatalf("expected AuthFailed unlocking with old passphrase, got %v", err)
	}

	newPriv := h.unlock("alice", newPass)
	newDerived := h.derivedKey("alice", newPass)
	got, _, err := h.read(path, "alice", newPriv, newDerived)
	if err != nil {
		t.Fatalf("Read with new passphrase: %v", err)
	}
	if string(got) != "original" {
		t.Fatalf("got %q, want %q", got, "original")
	}
}

func TestSharedEnvelopeIsExactly80Bytes(t *testing.T) {
	h := newHarness(t)
	alicePass := h.addUser("alice")
	aliceDerived := h.derivedKey("alice", alicePass)

	path := "alice/personal/doc"
	h.write(path, []byte("hello"), "alice", h.unlock("alice", alicePass), aliceDerived)

	// Writing a non-admin-owned file always seals a shared envelope for
	// admin (spec §4.9 step 5); spec §6 pins that envelope's wire format
	// to nonce(16) || ciphertext(48) || tag(16) == 80 bytes exactly.
	adminShared := envelope.NewSharedStore(h.blobs, users.SharedStorePath(AdminName))
	env, ok, err := adminShared.Get(h.g, path)
	if err != nil || !ok {
		t.Fatalf("admin shared envelope missing: ok=%v err=%v", ok, err)
	}
	if len(env) != 80 {
		t.Fatalf("shared envelope is %d bytes, want exactly 80", len(env))
	}
}

func TestEnvelopeUniquenessAcrossRewrites(t *testing.T) {
	h := newHarness(t)
	path := "admin/personal/foo"
	adminDerived := h.derivedKey(AdminName, "adminpass")

	h.write(path, []byte("v1"), AdminName, h.adminPriv, adminDerived)
	store := personalStoreFor(h.blobs, h.kdf, AdminName)
	env1, ok, err := store.Get(adminDerived, path)
	if err != nil || !ok {
		t.Fatalf("Get (1): ok=%v err=%v", ok, err)
	}

	h.write(path, []byte("v2"), AdminName, h.adminPriv, adminDerived)
	env2, ok, err := store.Get(adminDerived, path)
	if err != nil || !ok {
		t.Fatalf("Get (2): ok=%v err=%v", ok, err)
	}

	if string(env1) == string(env2) {
		t.Fatal("expected two successive writes to produce distinct owner envelopes")
	}
}
