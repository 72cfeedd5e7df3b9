package finalize

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/ZebulonRouseFrantzich/caskhook/internal/diag"
)

// Remediation returns manual steps for the user when a phase could not fully
// clear quarantine or fix permissions. It returns an empty string when there
// is nothing to fix by hand.
func Remediation(r *Report) string {
	if r == nil || !r.Found() {
		return ""
	}

	var quarantineFailed, permsFailed bool
	for _, d := range r.Diagnostics {
		switch d.Kind {
		case diag.KindAttributeRemovalFailed:
			quarantineFailed = true
		case diag.KindPermissionChangeFailed, diag.KindExecutableDirUnreadable:
			permsFailed = true
		case diag.KindStepPanicked:
			if d.Step == StepNormalize {
				permsFailed = true
			} else {
				quarantineFailed = true
			}
		}
	}
	if !quarantineFailed && !permsFailed {
		return ""
	}

	name := filepath.Base(r.Bundle)
	var sb strings.Builder

	if quarantineFailed {
		sb.WriteString(fmt.Sprintf("If macOS Gatekeeper still blocks %s from opening:\n", name))
		sb.WriteString("  1. Open System Settings → Privacy & Security and allow the app.\n")
		sb.WriteString("  2. In Finder, Control-click the app, choose Open, then confirm Open.\n")
		sb.WriteString("  3. Or remove the quarantine marking from a terminal:\n")
		sb.WriteString(fmt.Sprintf("       xattr -r -d com.apple.quarantine %q\n", r.Bundle))
		sb.WriteString("     Prefix the command with sudo if the app lives in a directory you do not own.\n")
	}

	if permsFailed {
		if quarantineFailed {
			sb.WriteString("\n")
		}
		sb.WriteString(fmt.Sprintf("If %s fails with \"permission denied\", make its executables runnable:\n", name))
		for _, d := range r.Diagnostics {
			switch d.Kind {
			case diag.KindPermissionChangeFailed:
				sb.WriteString(fmt.Sprintf("       chmod 755 %q\n", d.Path))
			case diag.KindExecutableDirUnreadable:
				sb.WriteString(fmt.Sprintf("       chmod 755 %q/*\n", d.Path))
			case diag.KindStepPanicked:
				if d.Step == StepNormalize {
					sb.WriteString(fmt.Sprintf("       chmod 755 %q/*\n", d.Path))
				}
			}
		}
	}

	return sb.String()
}
