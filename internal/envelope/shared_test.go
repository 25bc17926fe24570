package envelope

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/cryptvault/cryptvault/internal/blobstore"
)

func TestSharedStorePutGetRoundTrip(t *testing.T) {
	blobs, err := blobstore.New(t.TempDir())
	if err != nil {
		t.Fatalf("blobstore.New: %v", err)
	}
	shared := NewSharedStore(blobs, filepath.Join("metadata", "bob", "shared_envelopes.enc"))

	g := bytes.Repeat([]byte{0x99}, 32)
	if err := shared.Put(g, "/alice/doc", []byte{5, 5, 5}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	env, ok, err := shared.Get(g, "/alice/doc")
	if err != nil || !ok {
		t.Fatalf("Get: ok=%v err=%v", ok, err)
	}
	if !bytes.Equal(env, []byte{5, 5, 5}) {
		t.Fatalf("got %v", env)
	}
}

func TestSharedStoreIsolatedPerUserPath(t *testing.T) {
	blobs, err := blobstore.New(t.TempDir())
	if err != nil {
		t.Fatalf("blobstore.New: %v", err)
	}
	g := bytes.Repeat([]byte{0x88}, 32)

	bob := NewSharedStore(blobs, filepath.Join("metadata", "bob", "shared_envelopes.enc"))
	carol := NewSharedStore(blobs, filepath.Join("metadata", "carol", "shared_envelopes.enc"))

	if err := bob.Put(g, "/alice/doc", []byte{1}); err != nil {
		t.Fatalf("bob Put: %v", err)
	}
	_, ok, err := carol.Get(g, "/alice/doc")
	if err != nil {
		t.Fatalf("carol Get: %v", err)
	}
	if ok {
		t.Fatal("carol's shared store must not see bob's received envelope")
	}
}

func TestSharedStoreWrongGlobalKeyFails(t *testing.T) {
	blobs, err := blobstore.New(t.TempDir())
	if err != nil {
		t.Fatalf("blobstore.New: %v", err)
	}
	shared := NewSharedStore(blobs, filepath.Join("metadata", "bob", "shared_envelopes.enc"))

	g := bytes.Repeat([]byte{0x11}, 32)
	wrongG := bytes.Repeat([]byte{0x22}, 32)

	if err := shared.Put(g, "/alice/doc", []byte{1}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if _, err := shared.Load(wrongG); err == nil {
		t.Fatal("expected load failure with wrong global key")
	}
}
