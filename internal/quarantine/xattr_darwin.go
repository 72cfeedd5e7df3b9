//go:build darwin

package quarantine

import (
	"errors"

	"golang.org/x/sys/unix"
)

// osAttributes removes attributes with removexattr(2) and XATTR_NOFOLLOW.
type osAttributes struct{}

func (osAttributes) Remove(path, name string) (bool, error) {
	err := unix.Lremovexattr(path, name)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, unix.ENOATTR), errors.Is(err, unix.ENOTSUP):
		return false, nil
	default:
		return false, err
	}
}
