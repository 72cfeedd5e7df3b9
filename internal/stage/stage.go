// Package stage extracts a downloaded cask archive into a staged tree, the
// layout the staged finalization phase expects.
package stage

import (
	"archive/tar"
	"archive/zip"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

var (
	// ErrUnsupportedArchive is returned for archive formats other than
	// .tar.gz, .tgz and .zip.
	ErrUnsupportedArchive = errors.New("unsupported archive format")

	// ErrIllegalPath is returned when an entry would land outside the
	// destination directory.
	ErrIllegalPath = errors.New("illegal file path")
)

// Extractor handles archive extraction
type Extractor struct{}

// NewExtractor creates a new extractor
func NewExtractor() *Extractor {
	return &Extractor{}
}

// Extract unpacks archivePath into destDir, choosing the format from the
// file name.
func (e *Extractor) Extract(archivePath, destDir string) error {
	name := strings.ToLower(filepath.Base(archivePath))
	switch {
	case strings.HasSuffix(name, ".tar.gz"), strings.HasSuffix(name, ".tgz"):
		return e.ExtractTarGz(archivePath, destDir)
	case strings.HasSuffix(name, ".zip"):
		return e.ExtractZip(archivePath, destDir)
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedArchive, filepath.Base(archivePath))
	}
}

// ExtractTarGz extracts a .tar.gz archive to a destination directory
func (e *Extractor) ExtractTarGz(archivePath, destDir string) error {
	archiveFile, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}
	defer archiveFile.Close()

	gzipReader, err := gzip.NewReader(archiveFile)
	if err != nil {
		return fmt.Errorf("create gzip reader: %w", err)
	}
	defer gzipReader.Close()

	tarReader := tar.NewReader(gzipReader)

	root, err := prepareDest(destDir)
	if err != nil {
		return err
	}

	for {
		header, err := tarReader.Next()
		if err == io.EOF {
			break
		}
		if errors.Is(err, tar.ErrInsecurePath) {
			return fmt.Errorf("%w: %s", ErrIllegalPath, header.Name)
		}
		if err != nil {
			return fmt.Errorf("read tar header: %w", err)
		}

		target, err := entryPath(root, header.Name)
		if err != nil {
			return err
		}

		switch header.Typeflag {
		case tar.TypeDir:
			if err := makeDir(root, target); err != nil {
				return err
			}

		case tar.TypeReg:
			if err := writeFile(root, target, tarReader, os.FileMode(header.Mode).Perm()); err != nil {
				return err
			}

		case tar.TypeSymlink:
			if err := writeSymlink(root, target, header.Linkname); err != nil {
				return err
			}

		default:
			// Skip other types (hard links, devices, fifos)
			continue
		}
	}

	return nil
}

// ExtractZip extracts a .zip archive to a destination directory. Symlinks
// stored by macOS's ditto and zip tools are recreated.
func (e *Extractor) ExtractZip(archivePath, destDir string) error {
	reader, err := zip.OpenReader(archivePath)
	if errors.Is(err, zip.ErrInsecurePath) {
		reader.Close()
		return fmt.Errorf("%w: %v", ErrIllegalPath, err)
	}
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}
	defer reader.Close()

	root, err := prepareDest(destDir)
	if err != nil {
		return err
	}

	for _, f := range reader.File {
		target, err := entryPath(root, f.Name)
		if err != nil {
			return err
		}

		mode := f.Mode()
		switch {
		case mode.IsDir():
			if err := makeDir(root, target); err != nil {
				return err
			}

		case mode&os.ModeSymlink != 0:
			linkname, err := readZipEntry(f)
			if err != nil {
				return err
			}
			if err := writeSymlink(root, target, string(linkname)); err != nil {
				return err
			}

		case mode.IsRegular():
			rc, err := f.Open()
			if err != nil {
				return fmt.Errorf("open entry %s: %w", f.Name, err)
			}
			perm := mode.Perm()
			if perm == 0 {
				// Archives written without Unix attributes
				perm = 0644
			}
			err = writeFile(root, target, rc, perm)
			rc.Close()
			if err != nil {
				return err
			}

		default:
			continue
		}
	}

	return nil
}

// prepareDest creates destDir and returns its real path. Every entry is
// checked against this path after resolving symlinks already on disk.
func prepareDest(destDir string) (string, error) {
	if err := os.MkdirAll(destDir, 0755); err != nil {
		return "", fmt.Errorf("create dest dir: %w", err)
	}
	root, err := filepath.EvalSymlinks(destDir)
	if err != nil {
		return "", fmt.Errorf("resolve dest dir: %w", err)
	}
	return root, nil
}

// entryPath joins name onto root and rejects paths escaping it.
func entryPath(root, name string) (string, error) {
	target := filepath.Join(root, name)
	if !under(root, target) {
		return "", fmt.Errorf("%w: %s", ErrIllegalPath, name)
	}
	return target, nil
}

func under(root, path string) bool {
	return path == root || strings.HasPrefix(path, root+string(os.PathSeparator))
}

// resolve returns path with every symlink in its existing leading part
// followed. It fails with ErrIllegalPath when the result leaves root, which
// catches entries written through a chain of links.
func resolve(root, path string) (string, error) {
	existing := path
	var rest []string
	for {
		if _, err := os.Lstat(existing); err == nil {
			break
		}
		parent := filepath.Dir(existing)
		if parent == existing {
			break
		}
		rest = append([]string{filepath.Base(existing)}, rest...)
		existing = parent
	}

	resolved, err := filepath.EvalSymlinks(existing)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrIllegalPath, path, err)
	}
	resolved = filepath.Join(append([]string{resolved}, rest...)...)
	if !under(root, resolved) {
		return "", fmt.Errorf("%w: %s resolves to %s", ErrIllegalPath, path, resolved)
	}
	return resolved, nil
}

func makeDir(root, target string) error {
	resolved, err := resolve(root, target)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(resolved, 0755); err != nil {
		return fmt.Errorf("create directory %s: %w", target, err)
	}
	return nil
}

func writeFile(root, target string, r io.Reader, perm os.FileMode) error {
	resolved, err := resolve(root, target)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(resolved), 0755); err != nil {
		return fmt.Errorf("create parent dir for %s: %w", target, err)
	}

	outFile, err := os.OpenFile(resolved, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return fmt.Errorf("create file %s: %w", target, err)
	}

	if _, err := io.Copy(outFile, r); err != nil {
		outFile.Close()
		return fmt.Errorf("write file %s: %w", target, err)
	}

	if err := outFile.Close(); err != nil {
		return fmt.Errorf("close file %s: %w", target, err)
	}

	// OpenFile is subject to the umask
	if err := os.Chmod(resolved, perm); err != nil {
		return fmt.Errorf("set mode on %s: %w", target, err)
	}
	return nil
}

// writeSymlink creates target -> linkname. Absolute links and links whose
// destination leaves root are rejected, so later entries cannot be written
// through them.
func writeSymlink(root, target, linkname string) error {
	if filepath.IsAbs(linkname) {
		return fmt.Errorf("%w: link %s -> %s", ErrIllegalPath, target, linkname)
	}
	parent, err := resolve(root, filepath.Dir(target))
	if err != nil {
		return err
	}
	dest := filepath.Join(parent, linkname)
	if !under(root, dest) {
		return fmt.Errorf("%w: link %s -> %s", ErrIllegalPath, target, linkname)
	}
	if _, err := resolve(root, dest); err != nil {
		return err
	}

	if err := os.MkdirAll(parent, 0755); err != nil {
		return fmt.Errorf("create parent dir for %s: %w", target, err)
	}
	if err := os.Symlink(linkname, filepath.Join(parent, filepath.Base(target))); err != nil {
		return fmt.Errorf("create symlink %s: %w", target, err)
	}
	return nil
}

func readZipEntry(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("open entry %s: %w", f.Name, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("read entry %s: %w", f.Name, err)
	}
	return data, nil
}
