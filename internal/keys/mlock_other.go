//go:build !(linux || darwin || freebsd || netbsd || openbsd)

package keys

import "errors"

var errNoMlock = errors.New("keys: memory locking unsupported on this platform")

func lockMemory([]byte) error {
	return errNoMlock
}

func unlockMemory([]byte) error {
	return nil
}
