//go:build unix

package filestore

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// withLock ejecuta fn con un flock exclusivo sobre path+".lock". El lock es
// por descripción de fichero, así que serializa tanto procesos como goroutines.
func withLock(path string, fn func() error) error {
	f, err := os.OpenFile(path+".lock", os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return fmt.Errorf("filestore: open lock: %w", err)
	}
	defer f.Close()

	for {
		err = unix.Flock(int(f.Fd()), unix.LOCK_EX)
		if err != unix.EINTR {
			break
		}
	}
	if err != nil {
		return fmt.Errorf("filestore: flock: %w", err)
	}
	defer unix.Flock(int(f.Fd()), unix.LOCK_UN) //nolint:errcheck

	return fn()
}
