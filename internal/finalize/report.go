package finalize

import (
	"fmt"
	"strings"
	"time"

	"github.com/ZebulonRouseFrantzich/caskhook/internal/diag"
)

// Phase identifies which hook produced a report.
type Phase string

const (
	PhaseStaged    Phase = "staged"
	PhaseInstalled Phase = "installed"
)

// Report is the outcome of one phase invocation.
type Report struct {
	ID            string
	Phase         Phase
	Bundle        string // final bundle path, empty when none was found
	RelocatedFrom string // original nested path when the bundle was moved
	Cleared       []string
	Changed       []string
	Diagnostics   diag.List
	StartedAt     time.Time
	Duration      time.Duration
}

// Found reports whether the phase had a bundle to work on.
func (r *Report) Found() bool {
	return r.Bundle != ""
}

// OK reports whether the phase finished without failures. A missing bundle
// is a valid outcome and does not count as a failure.
func (r *Report) OK() bool {
	for _, d := range r.Diagnostics {
		if d.Kind != diag.KindBundleNotFound {
			return false
		}
	}
	return true
}

// FormatReport formats a phase report for user display
func FormatReport(r *Report) string {
	var sb strings.Builder
	sb.Grow(512 + len(r.Diagnostics)*128)

	sb.WriteString("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n")
	sb.WriteString(fmt.Sprintf("FINALIZE %s\n", strings.ToUpper(string(r.Phase))))
	sb.WriteString("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n")

	if !r.Found() {
		sb.WriteString("  Bundle:      (none)\n")
	} else {
		sb.WriteString(fmt.Sprintf("  Bundle:      %s\n", r.Bundle))
		if r.RelocatedFrom != "" {
			sb.WriteString(fmt.Sprintf("  Moved from:  %s\n", r.RelocatedFrom))
		}
		sb.WriteString(fmt.Sprintf("  Quarantine:  %d items cleared\n", len(r.Cleared)))
		sb.WriteString(fmt.Sprintf("  Permissions: %d files changed\n", len(r.Changed)))
	}

	for _, d := range r.Diagnostics {
		sb.WriteString(formatDiagnostic(d))
	}

	switch {
	case !r.OK():
		sb.WriteString(fmt.Sprintf("SUMMARY: completed with %d problems\n", len(r.Diagnostics)-r.Diagnostics.Count(diag.KindBundleNotFound)))
	case !r.Found():
		sb.WriteString("SUMMARY: nothing to finalize\n")
	default:
		sb.WriteString("SUMMARY: finalized ✓\n")
	}

	return sb.String()
}

// formatDiagnostic formats a single diagnostic entry
func formatDiagnostic(d *diag.Diagnostic) string {
	var sb strings.Builder

	switch d.Kind {
	case diag.KindBundleNotFound:
		sb.WriteString(fmt.Sprintf("[NOT FOUND]  %s\n", d.Path))
		if d.Err != nil {
			sb.WriteString(fmt.Sprintf("    → %v\n", d.Err))
		}
	default:
		sb.WriteString(fmt.Sprintf("[%s] %s\n", d.Kind, d.Path))
		if d.Step != "" {
			sb.WriteString(fmt.Sprintf("    step:  %s\n", d.Step))
		}
		if d.Err != nil {
			// multierror messages span lines; keep them indented
			msg := strings.ReplaceAll(strings.TrimSpace(d.Err.Error()), "\n", "\n           ")
			sb.WriteString(fmt.Sprintf("    error: %s\n", msg))
		}
	}

	return sb.String()
}
