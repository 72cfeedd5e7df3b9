//go:build linux

package quarantine

import (
	"errors"

	"golang.org/x/sys/unix"
)

// osAttributes removes attributes with lremovexattr(2). Linux only accepts
// namespaced names, so the bare macOS name reports EOPNOTSUPP and is treated
// as absent.
type osAttributes struct{}

func (osAttributes) Remove(path, name string) (bool, error) {
	err := unix.Lremovexattr(path, name)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, unix.ENODATA), errors.Is(err, unix.EOPNOTSUPP):
		return false, nil
	default:
		return false, err
	}
}
