// Package config provides parsing and validation of cask.lua files, the
// per-cask settings consumed by the finalization hooks.
//
// It uses gopher-lua for safe, sandboxed Lua execution with platform
// detection integration, so a cask may select a bundle name per architecture:
//
//	cask = {
//	  app = platform.is_arm and "Tiny RDM.app" or "Tiny RDM Intel.app",
//	  appdir = "~/Applications",
//	}
package config

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/ZebulonRouseFrantzich/caskhook/internal/bundle"
)

// Config is the finalization configuration of one cask.
type Config struct {
	// App is the canonical bundle name, e.g. "Clash.app".
	App string `json:"app"`

	// AppDir is the applications directory the host installs into.
	AppDir string `json:"appdir"`

	// ExecutableDir is the executable directory relative to the bundle root.
	ExecutableDir string `json:"executable_dir"`

	// Extension is the bundle directory suffix searched for in staged trees.
	Extension string `json:"bundle_extension"`
}

// Default returns the configuration used when no cask file is given.
func Default() *Config {
	return &Config{
		App:           DefaultApp,
		AppDir:        DefaultAppDir,
		ExecutableDir: DefaultExecutableDir,
		Extension:     DefaultExtension,
	}
}

// applyDefaults fills empty fields from d, or from Default when d is nil.
func (c *Config) applyDefaults(d *Config) {
	if d == nil {
		d = Default()
	}
	if c.App == "" {
		c.App = d.App
	}
	if c.AppDir == "" {
		c.AppDir = d.AppDir
	}
	if c.ExecutableDir == "" {
		c.ExecutableDir = d.ExecutableDir
	}
	if c.Extension == "" {
		c.Extension = d.Extension
	}
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	if err := bundle.ValidateName(c.App); err != nil {
		return fmt.Errorf("app: %w", err)
	}

	if !strings.HasPrefix(c.Extension, ".") || len(c.Extension) < 2 || strings.ContainsAny(c.Extension, `/\`) {
		return fmt.Errorf("bundle_extension: %q must look like \".app\"", c.Extension)
	}

	if !strings.HasSuffix(c.App, c.Extension) {
		return fmt.Errorf("app: %q does not end in %s", c.App, c.Extension)
	}

	if !filepath.IsAbs(c.AppDir) {
		return fmt.Errorf("appdir: %q must be an absolute path", c.AppDir)
	}

	if err := validateExecutableDir(c.ExecutableDir); err != nil {
		return fmt.Errorf("executable_dir: %w", err)
	}

	return nil
}

// validateExecutableDir ensures rel stays inside the bundle.
func validateExecutableDir(rel string) error {
	if rel == "" {
		return fmt.Errorf("empty")
	}
	if strings.HasPrefix(rel, "/") || filepath.IsAbs(rel) {
		return fmt.Errorf("%q must be relative to the bundle", rel)
	}
	cleaned := path.Clean(filepath.ToSlash(rel))
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return fmt.Errorf("%q escapes the bundle", rel)
	}
	return nil
}

// expandHome replaces a leading ~ with the user's home directory.
func expandHome(p string) (string, error) {
	if p != "~" && !strings.HasPrefix(p, "~/") {
		return p, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home directory: %w", err)
	}
	return filepath.Join(home, strings.TrimPrefix(p, "~")), nil
}
