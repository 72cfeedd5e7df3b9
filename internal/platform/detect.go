package platform

import (
	"context"
	"fmt"
	"runtime"

	"github.com/shirou/gopsutil/v4/host"
)

// RealDetector implements Detector using actual platform detection.
type RealDetector struct {
	goos   string
	goarch string
	lookup func(ctx context.Context) (platform, family, version string, err error)
}

// NewDetector creates a new platform detector.
func NewDetector() Detector {
	return &RealDetector{
		goos:   runtime.GOOS,
		goarch: runtime.GOARCH,
		lookup: host.PlatformInformationWithContext,
	}
}

// Detect performs platform detection and returns platform information.
// It uses runtime.GOOS and runtime.GOARCH for OS and architecture,
// and gopsutil for the macOS product version.
//
// If gopsutil fails, Version is left empty and detection continues.
// A cancelled context is a hard failure.
func (d *RealDetector) Detect(ctx context.Context) (*Info, error) {
	info := &Info{
		OS:      d.goos,
		ArchRaw: d.goarch,
	}

	arch, err := normalizeArch(d.goarch)
	if err != nil {
		return nil, fmt.Errorf("platform detection failed: %w", err)
	}
	info.Arch = arch

	if d.goos == "darwin" {
		_, _, version, err := d.lookup(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("platform detection cancelled: %w", ctx.Err())
			}
			return info, nil
		}
		info.Version = normalizeVersion(version)
	}

	return info, nil
}
