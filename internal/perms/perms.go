// Package perms normalizes executable permissions inside application bundles.
package perms

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/ZebulonRouseFrantzich/caskhook/internal/diag"
)

// Permission bits named the way chmod names them.
const (
	PermUR = 0o400
	PermUW = 0o200
	PermUX = 0o100
	PermGR = 0o40
	PermGX = 0o10
	PermOR = 0o4
	PermOX = 0o1

	// Executable is rwxr-xr-x.
	Executable os.FileMode = PermUR | PermUW | PermUX | PermGR | PermGX | PermOR | PermOX
)

// specialBits are preserved when permissions are raised.
const specialBits = os.ModeSetuid | os.ModeSetgid | os.ModeSticky

// Normalizer raises regular files in a directory to a target mode.
type Normalizer struct {
	target os.FileMode
	chmod  func(name string, mode os.FileMode) error
}

// NewNormalizer creates a normalizer targeting Executable (0755).
func NewNormalizer() *Normalizer {
	return &Normalizer{target: Executable, chmod: os.Chmod}
}

// Target returns the mode every regular file is raised to.
func (n *Normalizer) Target() os.FileMode {
	return n.target
}

// Normalize raises every regular file directly inside dir to at least the
// target mode. Subdirectories are not entered; directories and symlinks are
// left alone. Bits already set beyond the target are kept.
//
// changed lists the files whose mode was modified. A failure on one file is
// recorded and the remaining files are still processed.
func (n *Normalizer) Normalize(dir string) (changed []string, diags diag.List) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		diags.Add(diag.New(diag.KindExecutableDirUnreadable, dir, fmt.Errorf("read dir: %w", err)))
		// ReadDir returns what it could read before failing
	}

	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}

		path := filepath.Join(dir, entry.Name())
		info, err := entry.Info()
		if err != nil {
			diags.Add(diag.New(diag.KindPermissionChangeFailed, path, fmt.Errorf("stat: %w", err)))
			continue
		}

		current := info.Mode().Perm()
		wanted := current | n.target
		if wanted == current {
			continue
		}

		if err := n.chmod(path, wanted|(info.Mode()&specialBits)); err != nil {
			diags.Add(diag.New(diag.KindPermissionChangeFailed, path, fmt.Errorf("chmod %o: %w", wanted, err)))
			continue
		}
		changed = append(changed, path)
	}

	return changed, diags
}
