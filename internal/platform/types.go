// Package platform provides host detection and Lua integration for cask
// configuration files.
//
// It detects OS, architecture and, on macOS, the product version, then
// injects this information as a read-only table into cask.lua so a cask can
// pick per-architecture bundle names. The package uses gopsutil for version
// detection and falls back gracefully when detection fails.
package platform

import (
	"context"
	"strconv"
	"strings"
)

// Info contains platform detection information.
type Info struct {
	OS      string // "darwin", "linux", ...
	Arch    string // "amd64", "arm64" (normalized)
	ArchRaw string // original GOARCH
	Version string // macOS product version (darwin only, e.g. "14.2.1")
}

// IsMacOS returns true if the platform is macOS.
func (i *Info) IsMacOS() bool {
	return i.OS == "darwin"
}

// IsLinux returns true if the platform is Linux.
func (i *Info) IsLinux() bool {
	return i.OS == "linux"
}

// IsAMD64 returns true if the architecture is amd64.
func (i *Info) IsAMD64() bool {
	return i.Arch == "amd64"
}

// IsARM64 returns true if the architecture is arm64.
func (i *Info) IsARM64() bool {
	return i.Arch == "arm64"
}

// IsAppleSilicon returns true if running on Apple Silicon (macOS + arm64).
func (i *Info) IsAppleSilicon() bool {
	return i.OS == "darwin" && i.Arch == "arm64"
}

// IsIntelMac returns true if running on an Intel Mac (macOS + amd64).
func (i *Info) IsIntelMac() bool {
	return i.OS == "darwin" && i.Arch == "amd64"
}

// SupportsQuarantine returns true if the OS attaches quarantine markings to
// downloaded items.
func (i *Info) SupportsQuarantine() bool {
	return i.IsMacOS()
}

// MacOSMajor returns the major macOS version, or 0 when unknown.
func (i *Info) MacOSMajor() int {
	if !i.IsMacOS() || i.Version == "" {
		return 0
	}
	major, _, _ := strings.Cut(i.Version, ".")
	n, err := strconv.Atoi(major)
	if err != nil {
		return 0
	}
	return n
}

// Detector is the interface for platform detection.
type Detector interface {
	Detect(ctx context.Context) (*Info, error)
}
