// Package finalize runs the bundle finalization pipeline invoked by cask
// install hooks.
//
// # Phases
//
// The pipeline is invoked twice by the host installer, at two unrelated points
// in time:
//
//   - Staged: after archive extraction. The bundle is located anywhere in the
//     staged tree and moved to its canonical name, then quarantine is stripped
//     and executables are normalized.
//   - Installed: after the host moved the bundle into the applications
//     directory. Quarantine and permissions are fixed again because some
//     installers re-copy files, re-attaching the marking or resetting modes.
//
// # Failure policy
//
// Finalization is best effort. The host's install already succeeded, so no
// failure here may abort it. Every step runs through the same wrapper which
// converts errors, and panics, into diagnostics on the phase Report and
// always moves on to the next step.
//
// # Usage
//
//	p := finalize.New(finalize.WithLogger(logger))
//
//	// preflight
//	report := p.Staged(stagedPath, "Clash.app")
//
//	// postflight
//	report = p.InstalledHook("/Applications", "Clash.app")
//	if hint := finalize.Remediation(report); hint != "" {
//	    fmt.Print(hint)
//	}
package finalize
