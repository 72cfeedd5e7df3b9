//go:build !darwin && !linux

package quarantine

// osAttributes is a no-op where quarantine markings do not exist.
type osAttributes struct{}

func (osAttributes) Remove(path, name string) (bool, error) {
	return false, nil
}
