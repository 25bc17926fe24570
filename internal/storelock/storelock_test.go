package storelock

import (
	"testing"

	"github.com/cryptvault/cryptvault/internal/vaulterrors"
)

func TestAcquireAndRelease(t *testing.T) {
	base := t.TempDir()
	lock, err := Acquire(base)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if err := lock.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
}

func TestSecondAcquireFailsWithStoreBusy(t *testing.T) {
	base := t.TempDir()
	first, err := Acquire(base)
	if err != nil {
		t.Fatalf("Acquire (first): %v", err)
	}
	defer first.Release()

	_, err = Acquire(base)
	if !vaulterrors.IsStoreBusy(err) {
		t.Fatalf("expected StoreBusyError, got %v", err)
	}
}

func TestReacquireAfterReleaseSucceeds(t *testing.T) {
	base := t.TempDir()
	first, err := Acquire(base)
	if err != nil {
		t.Fatalf("Acquire (first): %v", err)
	}
	if err := first.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}

	second, err := Acquire(base)
	if err != nil {
		t.Fatalf("Acquire (second): %v", err)
	}
	if err := second.Release(); err != nil {
		t.Fatalf("Release (second): %v", err)
	}
}
