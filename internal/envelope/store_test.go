package envelope

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/cryptvault/cryptvault/internal/blobstore"
)

func newTestStore(t *testing.T) (*blobstore.Store, *Store) {
	t.Helper()
	blobs, err := blobstore.New(t.TempDir())
	if err != nil {
		t.Fatalf("blobstore.New: %v", err)
	}
	return blobs, NewStore(blobs, filepath.Join("metadata", "envelopes.enc"))
}

func TestStoreLoadMissingFileIsEmpty(t *testing.T) {
	_, store := newTestStore(t)
	key := bytes.Repeat([]byte{0x11}, 32)
	records, err := store.Load(key)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if records != nil {
		t.Fatalf("expected nil records for missing store, got %+v", records)
	}
}

func TestStorePutAndGet(t *testing.T) {
	_, store := newTestStore(t)
	key := bytes.Repeat([]byte{0x22}, 32)

	if err := store.Put(key, "/alice/doc", []byte{1, 2, 3}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	env, ok, err := store.Get(key, "/alice/doc")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !ok {
		t.Fatal("expected record to be found")
	}
	if !bytes.Equal(env, []byte{1, 2, 3}) {
		t.Fatalf("got envelope %v", env)
	}
}

func TestStorePutUpdatesInPlace(t *testing.T) {
	_, store := newTestStore(t)
	key := bytes.Repeat([]byte{0x33}, 32)

	if err := store.Put(key, "/p", []byte{1}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := store.Put(key, "/other", []byte{2}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := store.Put(key, "/p", []byte{9, 9}); err != nil {
		t.Fatalf("Put update: %v", err)
	}

	records, err := store.Load(key)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records after update, got %d", len(records))
	}
	env, ok, err := store.Get(key, "/p")
	if err != nil || !ok {
		t.Fatalf("Get after update: ok=%v err=%v", ok, err)
	}
	if !bytes.Equal(env, []byte{9, 9}) {
		t.Fatalf("update did not take effect: got %v", env)
	}
}

func TestStoreGetMissingReturnsNotOK(t *testing.T) {
	_, store := newTestStore(t)
	key := bytes.Repeat([]byte{0x44}, 32)
	_, ok, err := store.Get(key, "/nope")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if ok {
		t.Fatal("expected ok=false for missing path")
	}
}

func TestStoreWrongKeyFailsLoad(t *testing.T) {
	_, store := newTestStore(t)
	key := bytes.Repeat([]byte{0x55}, 32)
	wrongKey := bytes.Repeat([]byte{0x66}, 32)

	if err := store.Put(key, "/p", []byte{1}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if _, err := store.Load(wrongKey); err == nil {
		t.Fatal("expected error loading with wrong key")
	}
}
