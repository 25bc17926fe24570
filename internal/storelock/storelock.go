// Package storelock provides the single-process, single-session
// concurrency guarantee declared in spec §5: only one live session may
// hold a given store at a time. It is advisory file locking via
// gofrs/flock, in the same withExclusiveLock-by-TryLock style the
// example pack's local blob provider uses around its own writes.
package storelock

import (
	"path/filepath"

	"github.com/gofrs/flock"

	"github.com/cryptvault/cryptvault/internal/vaulterrors"
)

// lockFileName is the fixed name of the advisory lock file at the store
// root (spec §6: "<base>/.cryptvault.lock").
const lockFileName = ".cryptvault.lock"

// Lock guards the whole session's lifetime: acquired once at startup,
// released once at shutdown. Unlike the local blob provider's
// per-operation withExclusiveLock, a single vault session does not need to
// re-acquire it for every call — spec §5 grants the whole process
// exclusive use of the store for as long as it runs.
type Lock struct {
	flock *flock.Flock
}

// Acquire takes the session-lifetime lock at <base>/.cryptvault.lock.
// It never blocks: if another session already holds it, Acquire returns
// a vaulterrors.StoreBusyError immediately rather than queuing, since a
// second session waiting on the first would contradict the
// single-session model (spec §5's "no concurrency across processes").
func Acquire(base string) (*Lock, error) {
	path := filepath.Join(base, lockFileName)
	fl := flock.New(path)

	ok, err := fl.TryLock()
	if err != nil {
		return nil, &vaulterrors.StoreBusyError{Base: base, Err: err}
	}
	if !ok {
		return nil, &vaulterrors.StoreBusyError{Base: base}
	}
	return &Lock{flock: fl}, nil
}

// Release gives up the lock. It is safe to call once at shutdown; the
// error is informational only — callers cannot meaningfully recover
// from a failed unlock during process exit.
func (l *Lock) Release() error {
	return l.flock.Unlock()
}
