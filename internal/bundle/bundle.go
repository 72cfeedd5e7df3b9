// Package bundle locates macOS application bundles inside staged archive trees.
//
// Archives do not always put the bundle at the top level: a zip may contain
// "ClashMac-v1.1.6/Clash.app" and a disk image may wrap it in a folder. The
// Locator finds the bundle wherever extraction left it and moves it to the
// canonical path the installer expects.
package bundle

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const (
	// DefaultExtension is the suffix of an application bundle directory.
	DefaultExtension = ".app"
	// DefaultExecutableDir is the executable directory relative to the bundle root.
	DefaultExecutableDir = "Contents/MacOS"
)

// ErrInvalidName is returned when the expected bundle name is not a single
// path element.
var ErrInvalidName = errors.New("invalid bundle name")

// Located describes the outcome of a successful locate.
type Located struct {
	// Path is the canonical bundle path (root/expectedName), or the bundle
	// directory it links to when the canonical path is a symlink.
	Path string
	// From is the original nested path when the bundle was relocated, empty otherwise.
	From string
}

// Relocated reports whether the bundle was moved.
func (l Located) Relocated() bool {
	return l.From != ""
}

// Locator finds bundles by directory suffix.
type Locator struct {
	extension string
	rename    func(oldpath, newpath string) error
}

// NewLocator creates a locator matching directories that end in extension.
// An empty extension means DefaultExtension.
func NewLocator(extension string) *Locator {
	if extension == "" {
		extension = DefaultExtension
	}
	return &Locator{
		extension: extension,
		rename:    os.Rename,
	}
}

// Locate returns the path of the bundle named expectedName under root.
// found is false, with a nil error, when no bundle exists anywhere in the tree.
func (l *Locator) Locate(root, expectedName string) (path string, found bool, err error) {
	loc, found, err := l.Located(root, expectedName)
	return loc.Path, found, err
}

// Located is Locate with relocation details.
//
// If root/expectedName exists it is returned untouched, resolved when it is a
// symlink so callers operate on the real bundle. Otherwise the tree is
// searched for directories whose name ends in the bundle extension and the
// lexicographically smallest full path wins. The winner is renamed to
// root/expectedName. Matched bundles are never descended into.
func (l *Locator) Located(root, expectedName string) (Located, bool, error) {
	if err := ValidateName(expectedName); err != nil {
		return Located{}, false, err
	}

	target := filepath.Join(root, expectedName)
	if info, err := os.Lstat(target); err == nil {
		if info.Mode()&os.ModeSymlink == 0 {
			return Located{Path: target}, true, nil
		}
		resolved, err := resolveLink(target)
		if err != nil {
			return Located{}, false, err
		}
		return Located{Path: resolved}, true, nil
	} else if !os.IsNotExist(err) {
		return Located{}, false, fmt.Errorf("stat %s: %w", target, err)
	}

	candidates, err := l.Candidates(root)
	if err != nil {
		return Located{}, false, err
	}
	if len(candidates) == 0 {
		return Located{}, false, nil
	}

	selected := candidates[0]
	if err := l.rename(selected, target); err != nil {
		return Located{}, false, fmt.Errorf("move %s to %s: %w", selected, target, err)
	}

	return Located{Path: target, From: selected}, true, nil
}

// Candidates returns every bundle directory under root, sorted by full path.
// A missing root yields no candidates. Unreadable subtrees are skipped; only
// a failure to read root itself is an error. A symlinked root is followed,
// and the paths returned stay under root as given.
func (l *Locator) Candidates(root string) ([]string, error) {
	walkRoot, err := filepath.EvalSymlinks(root)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", root, err)
	}

	var candidates []string

	err = filepath.WalkDir(walkRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == walkRoot {
				if errors.Is(err, fs.ErrNotExist) {
					return nil
				}
				return err
			}
			// Skip what we cannot read; another candidate may still exist
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}

		if path == walkRoot || !d.IsDir() {
			return nil
		}

		if strings.HasSuffix(d.Name(), l.extension) {
			rel, err := filepath.Rel(walkRoot, path)
			if err != nil {
				return err
			}
			candidates = append(candidates, filepath.Join(root, rel))
			return fs.SkipDir
		}

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", root, err)
	}

	sort.Strings(candidates)
	return candidates, nil
}

// resolveLink follows a symlinked canonical bundle path. The link must lead
// to a directory.
func resolveLink(path string) (string, error) {
	resolved, err := filepath.EvalSymlinks(path)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", path, err)
	}
	info, err := os.Stat(resolved)
	if err != nil {
		return "", fmt.Errorf("stat %s: %w", resolved, err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("%s links to %s, which is not a directory", path, resolved)
	}
	return resolved, nil
}

// ValidateName checks that name is a single, non-empty path element.
func ValidateName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty", ErrInvalidName)
	}
	if name == "." || name == ".." {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	if strings.ContainsRune(name, '/') || strings.ContainsRune(name, filepath.Separator) {
		return fmt.Errorf("%w: %q contains a path separator", ErrInvalidName, name)
	}
	return nil
}

// ExecutableDir returns the executable directory of a bundle. An empty rel
// means DefaultExecutableDir.
func ExecutableDir(bundlePath, rel string) string {
	if rel == "" {
		rel = DefaultExecutableDir
	}
	return filepath.Join(bundlePath, filepath.FromSlash(rel))
}
