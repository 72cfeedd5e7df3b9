// Package diag defines the diagnostics recorded by the finalization pipeline.
//
// Nothing in this package is fatal. Every failure a finalization step runs into
// is converted to a Diagnostic and appended to the phase's List; the phase keeps
// going regardless.
package diag

import (
	"fmt"

	"github.com/hashicorp/go-multierror"
)

// Kind classifies a diagnostic.
type Kind int

const (
	// KindBundleNotFound means the locate step found no candidate bundle.
	KindBundleNotFound Kind = iota + 1
	// KindBundleRelocationFailed means a candidate was found but could not be
	// moved to its canonical path.
	KindBundleRelocationFailed
	// KindAttributeRemovalFailed means the quarantine attribute could not be
	// removed from one or more items.
	KindAttributeRemovalFailed
	// KindPermissionChangeFailed means chmod failed on a specific file.
	KindPermissionChangeFailed
	// KindExecutableDirUnreadable means the executable directory exists but
	// could not be listed.
	KindExecutableDirUnreadable
	// KindStepPanicked means a step panicked and was recovered.
	KindStepPanicked
	// KindInvalidBundleName means the expected bundle name is not a single
	// path element, so nothing was searched for.
	KindInvalidBundleName
)

// String returns the string representation of the kind
func (k Kind) String() string {
	switch k {
	case KindBundleNotFound:
		return "BundleNotFound"
	case KindBundleRelocationFailed:
		return "BundleRelocationFailed"
	case KindAttributeRemovalFailed:
		return "AttributeRemovalFailed"
	case KindPermissionChangeFailed:
		return "PermissionChangeFailed"
	case KindExecutableDirUnreadable:
		return "ExecutableDirUnreadable"
	case KindStepPanicked:
		return "StepPanicked"
	case KindInvalidBundleName:
		return "InvalidBundleName"
	default:
		return "Unknown"
	}
}

// Diagnostic describes one non-fatal failure.
type Diagnostic struct {
	Kind Kind
	Step string // pipeline step that produced it, set by the pipeline
	Path string
	Err  error
}

// New creates a diagnostic of the given kind.
func New(kind Kind, path string, err error) *Diagnostic {
	return &Diagnostic{Kind: kind, Path: path, Err: err}
}

func (d *Diagnostic) Error() string {
	msg := d.Kind.String()
	if d.Path != "" {
		msg = fmt.Sprintf("%s: %s", msg, d.Path)
	}
	if d.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, d.Err)
	}
	return msg
}

// Unwrap returns the underlying cause.
func (d *Diagnostic) Unwrap() error {
	return d.Err
}

// List is an ordered collection of diagnostics for one phase.
type List []*Diagnostic

// Add appends d if it is non-nil.
func (l *List) Add(d *Diagnostic) {
	if d != nil {
		*l = append(*l, d)
	}
}

// Extend appends every diagnostic in other.
func (l *List) Extend(other List) {
	for _, d := range other {
		l.Add(d)
	}
}

// Has reports whether any diagnostic of the given kind is present.
func (l List) Has(kind Kind) bool {
	return l.Count(kind) > 0
}

// Count returns the number of diagnostics of the given kind.
func (l List) Count(kind Kind) int {
	n := 0
	for _, d := range l {
		if d.Kind == kind {
			n++
		}
	}
	return n
}

// Err folds the list into a single error. It returns nil for an empty list.
func (l List) Err() error {
	var merr *multierror.Error
	for _, d := range l {
		merr = multierror.Append(merr, d)
	}
	return merr.ErrorOrNil()
}
