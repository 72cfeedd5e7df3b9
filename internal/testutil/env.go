// Package testutil provides utilities for testing caskhook in isolation.
package testutil

import (
	"crypto/sha256"
	"encoding/hex"
	"io/fs"
	"os"
	"path/filepath"
	"testing"
)

// EnvAppDir mirrors the CLI's applications directory override.
const EnvAppDir = "CASKHOOK_APPDIR"

// Env holds the isolated directories created by SetupTestEnv.
type Env struct {
	Staged string // staged archive tree
	AppDir string // stand-in for /Applications
}

// SetupTestEnv creates isolated test directories for each test.
// This ensures tests never touch the real /Applications directory.
//
// The cleanup function is automatically handled by t.TempDir(),
// so callers don't need to manually clean up.
func SetupTestEnv(t *testing.T) Env {
	t.Helper()

	tmpDir := t.TempDir()
	env := Env{
		Staged: filepath.Join(tmpDir, "staged"),
		AppDir: filepath.Join(tmpDir, "Applications"),
	}

	t.Setenv(EnvAppDir, env.AppDir)

	for _, dir := range []string{env.Staged, env.AppDir} {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			t.Fatalf("failed to create test directory %s: %v", dir, err)
		}
	}

	return env
}

// MakeBundle creates a minimal application bundle at root/rel.
// Each entry of executables becomes a regular file in Contents/MacOS with the
// given mode. The bundle also gets an Info.plist and one resource file.
func MakeBundle(t *testing.T, root, rel string, executables map[string]os.FileMode) string {
	t.Helper()

	bundlePath := filepath.Join(root, filepath.FromSlash(rel))
	macosDir := filepath.Join(bundlePath, "Contents", "MacOS")
	resourcesDir := filepath.Join(bundlePath, "Contents", "Resources")

	for _, dir := range []string{macosDir, resourcesDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatalf("failed to create %s: %v", dir, err)
		}
	}

	WriteFile(t, filepath.Join(bundlePath, "Contents", "Info.plist"), "<plist/>", 0o644)
	WriteFile(t, filepath.Join(resourcesDir, "icon.icns"), "icon", 0o644)

	for name, mode := range executables {
		WriteFile(t, filepath.Join(macosDir, name), "#!/bin/sh\necho "+name+"\n", mode)
	}

	return bundlePath
}

// WriteFile writes content to path and forces mode regardless of umask.
func WriteFile(t *testing.T, path, content string, mode os.FileMode) {
	t.Helper()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("failed to create parent of %s: %v", path, err)
	}
	if err := os.WriteFile(path, []byte(content), mode); err != nil {
		t.Fatalf("failed to write %s: %v", path, err)
	}
	if err := os.Chmod(path, mode); err != nil {
		t.Fatalf("failed to chmod %s: %v", path, err)
	}
}

// Mode returns the permission bits of path without following symlinks.
func Mode(t *testing.T, path string) os.FileMode {
	t.Helper()

	info, err := os.Lstat(path)
	if err != nil {
		t.Fatalf("failed to stat %s: %v", path, err)
	}
	return info.Mode().Perm()
}

// TreeDigest maps every entry below root (by slash-separated relative path)
// to a content fingerprint: a sha256 for files, "dir" for directories and
// "link:<target>" for symlinks. Two trees with equal digests are byte-identical.
func TreeDigest(t *testing.T, root string) map[string]string {
	t.Helper()

	digest := make(map[string]string)
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		switch {
		case d.Type()&fs.ModeSymlink != 0:
			target, err := os.Readlink(path)
			if err != nil {
				return err
			}
			digest[rel] = "link:" + target
		case d.IsDir():
			digest[rel] = "dir"
		default:
			data, err := os.ReadFile(path)
			if err != nil {
				return err
			}
			sum := sha256.Sum256(data)
			digest[rel] = hex.EncodeToString(sum[:])
		}
		return nil
	})
	if err != nil {
		t.Fatalf("failed to digest %s: %v", root, err)
	}
	return digest
}
