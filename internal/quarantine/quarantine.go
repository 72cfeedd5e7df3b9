// Package quarantine removes the macOS download-quarantine marking from
// application bundles.
//
// Gatekeeper reviews any item carrying the com.apple.quarantine extended
// attribute before it may execute. Stripping is done with the invoking user's
// privileges only; a bundle installed to a root-owned location that the user
// cannot write to will report failures instead of escalating.
package quarantine

import (
	"fmt"
	"io/fs"
	"path/filepath"

	"github.com/hashicorp/go-multierror"

	"github.com/ZebulonRouseFrantzich/caskhook/internal/diag"
)

// Attribute is the extended attribute set by the OS on downloaded items.
const Attribute = "com.apple.quarantine"

// Attributes removes extended attributes without following symlinks.
type Attributes interface {
	// Remove deletes attribute name from path. removed is false, with a nil
	// error, when the attribute was not present or the filesystem does not
	// support extended attributes.
	Remove(path, name string) (removed bool, err error)
}

// Stripper recursively clears the quarantine attribute.
type Stripper struct {
	attrs     Attributes
	attribute string
}

// NewStripper creates a stripper backed by the operating system.
func NewStripper() *Stripper {
	return NewStripperWith(osAttributes{}, Attribute)
}

// NewStripperWith creates a stripper with a custom attribute backend and name.
func NewStripperWith(attrs Attributes, attribute string) *Stripper {
	if attribute == "" {
		attribute = Attribute
	}
	return &Stripper{attrs: attrs, attribute: attribute}
}

// Strip removes the quarantine attribute from path and every descendant.
// cleared lists the items that actually carried the attribute. Failures on
// individual items do not stop the walk; they are collected into a single
// AttributeRemovalFailed diagnostic.
func (s *Stripper) Strip(path string) (cleared []string, d *diag.Diagnostic) {
	var merr *multierror.Error

	walkErr := filepath.WalkDir(path, func(p string, entry fs.DirEntry, err error) error {
		if err != nil {
			merr = multierror.Append(merr, err)
			if entry == nil {
				// The root itself could not be stat'ed
				return fs.SkipAll
			}
			// ReadDir failed after the directory itself was already stripped
			return nil
		}

		removed, rmErr := s.attrs.Remove(p, s.attribute)
		if rmErr != nil {
			merr = multierror.Append(merr, fmt.Errorf("remove %s from %s: %w", s.attribute, p, rmErr))
			return nil
		}
		if removed {
			cleared = append(cleared, p)
		}
		return nil
	})
	if walkErr != nil {
		merr = multierror.Append(merr, walkErr)
	}

	if err := merr.ErrorOrNil(); err != nil {
		return cleared, diag.New(diag.KindAttributeRemovalFailed, path, err)
	}
	return cleared, nil
}
