//go:build !unix

package filestore

import "sync"

var fallbackMu sync.Mutex

// withLock sin flock: solo serializa dentro del proceso.
func withLock(_ string, fn func() error) error {
	fallbackMu.Lock()
	defer fallbackMu.Unlock()
	return fn()
}
