package platform

import (
	"fmt"
	"strings"
)

// normalizeArch converts GOARCH values to normalized architecture names.
// Casks only ship amd64 and arm64 builds.
func normalizeArch(arch string) (string, error) {
	switch arch {
	case "amd64", "x86_64":
		return "amd64", nil
	case "arm64", "aarch64":
		return "arm64", nil
	default:
		return "", fmt.Errorf("unsupported architecture: %s (only amd64 and arm64 are supported)", arch)
	}
}

// normalizeVersion trims whitespace and a leading "v".
func normalizeVersion(version string) string {
	return strings.TrimPrefix(strings.TrimSpace(version), "v")
}
