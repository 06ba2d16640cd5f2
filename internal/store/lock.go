package store

import (
	"fmt"
	"path/filepath"

	"github.com/gofrs/flock"

	vaulterrors "github.com/secstack/threatvault/internal/errors"
)

// DirLock holds an exclusive advisory lock on the data directory so two
// processes cannot share one database file.
type DirLock struct {
	fl *flock.Flock
}

// AcquireDirLock takes the lock without blocking. A held lock returns
// ErrCodeStoreLocked immediately rather than waiting, so a second process
// fails fast with a clear message.
func AcquireDirLock(dataDir string) (*DirLock, error) {
	fl := flock.New(filepath.Join(dataDir, ".lock"))
	ok, err := fl.TryLock()
	if err != nil {
		return nil, vaulterrors.New(vaulterrors.ErrCodeStoreOpen,
			fmt.Sprintf("failed to acquire lock in %s", dataDir), err)
	}
	if !ok {
		return nil, vaulterrors.New(vaulterrors.ErrCodeStoreLocked,
			fmt.Sprintf("data directory %s is locked by another process", dataDir), nil)
	}
	return &DirLock{fl: fl}, nil
}

// Release drops the lock. Safe to call on a nil receiver.
func (l *DirLock) Release() {
	if l == nil || l.fl == nil {
		return
	}
	_ = l.fl.Unlock()
}
