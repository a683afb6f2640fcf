//go:build windows

package lockfile

import (
	"errors"
	"os"

	"golang.org/x/sys/windows"
)

// Windows byte-range locks are mandatory, so the lock covers one byte far
// past the pid text. Readers of the holder pid never touch the locked range.
const (
	lockRegionOffsetHigh = 1
	lockRegionLen        = 1
)

func lockRegion() *windows.Overlapped {
	return &windows.Overlapped{OffsetHigh: lockRegionOffsetHigh}
}

func tryLock(f *os.File) error {
	if f == nil {
		return errors.New("nil lock file")
	}
	err := windows.LockFileEx(windows.Handle(f.Fd()),
		windows.LOCKFILE_EXCLUSIVE_LOCK|windows.LOCKFILE_FAIL_IMMEDIATELY,
		0, lockRegionLen, 0, lockRegion())
	switch {
	case err == nil:
		return nil
	case errors.Is(err, windows.ERROR_LOCK_VIOLATION), errors.Is(err, windows.ERROR_SHARING_VIOLATION):
		return ErrAlreadyLocked
	default:
		return err
	}
}

func unlock(f *os.File) error {
	if f == nil {
		return nil
	}
	return windows.UnlockFileEx(windows.Handle(f.Fd()), 0, lockRegionLen, 0, lockRegion())
}
