package layers

import (
	"archive/tar"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zip"
	"github.com/klauspost/compress/zstd"
)

// ArchiveKind identifies a supported layer archive format
type ArchiveKind string

const (
	ArchiveTarGz  ArchiveKind = "tar.gz"
	ArchiveTarZst ArchiveKind = "tar.zst"
	ArchiveZip    ArchiveKind = "zip"
)

// ArchiveKindFromPath detects the archive kind from a file name extension
func ArchiveKindFromPath(name string) (ArchiveKind, error) {
	lower := strings.ToLower(name)
	switch {
	case strings.HasSuffix(lower, ".tar.gz"), strings.HasSuffix(lower, ".tgz"):
		return ArchiveTarGz, nil
	case strings.HasSuffix(lower, ".tar.zst"), strings.HasSuffix(lower, ".tzst"):
		return ArchiveTarZst, nil
	case strings.HasSuffix(lower, ".zip"):
		return ArchiveZip, nil
	default:
		return "", fmt.Errorf("unsupported archive type: %s", filepath.Base(name))
	}
}

// extractArchive unpacks the archive stream into dest. scratch is a private
// directory the zip reader may spool the stream into.
func extractArchive(r io.Reader, kind ArchiveKind, dest, scratch string) error {
	switch kind {
	case ArchiveTarGz:
		gz, err := gzip.NewReader(r)
		if err != nil {
			return fmt.Errorf("invalid gzip stream: %w", err)
		}
		defer gz.Close()
		return extractTar(gz, dest)

	case ArchiveTarZst:
		decoder, err := zstd.NewReader(r)
		if err != nil {
			return fmt.Errorf("invalid zstd stream: %w", err)
		}
		defer decoder.Close()
		return extractTar(decoder, dest)

	case ArchiveZip:
		return extractZip(r, dest, scratch)

	default:
		return fmt.Errorf("unsupported archive type: %s", kind)
	}
}

// extractTar unpacks a tar stream into dest
func extractTar(r io.Reader, dest string) error {
	tr := tar.NewReader(r)
	for {
		header, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read tar header: %w", err)
		}

		if err := extractTarEntry(tr, header, dest); err != nil {
			return fmt.Errorf("failed to extract %s: %w", header.Name, err)
		}
	}
}

func extractTarEntry(tr *tar.Reader, header *tar.Header, dest string) error {
	target, err := safeJoin(dest, header.Name)
	if err != nil {
		return err
	}
	if err := checkNoSymlinks(dest, target); err != nil {
		return err
	}

	switch header.Typeflag {
	case tar.TypeDir:
		return os.MkdirAll(target, dirMode(os.FileMode(header.Mode)))

	case tar.TypeReg:
		if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
			return err
		}
		return writeFile(target, tr, os.FileMode(header.Mode))

	case tar.TypeSymlink:
		if err := checkLinkTarget(dest, target, header.Linkname); err != nil {
			return err
		}
		if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
			return err
		}
		return os.Symlink(header.Linkname, target)

	case tar.TypeXGlobalHeader, tar.TypeXHeader:
		return nil

	default:
		return fmt.Errorf("unsupported tar entry type: %v", header.Typeflag)
	}
}

// extractZip spools the stream to disk, since zip needs random access, and
// unpacks it into dest
func extractZip(r io.Reader, dest, scratch string) error {
	spool, err := os.CreateTemp(scratch, "archive-*.zip")
	if err != nil {
		return err
	}
	defer spool.Close()

	size, err := io.Copy(spool, r)
	if err != nil {
		return fmt.Errorf("failed to read zip stream: %w", err)
	}

	zr, err := zip.NewReader(spool, size)
	if err != nil {
		return fmt.Errorf("invalid zip file: %w", err)
	}

	for _, f := range zr.File {
		if err := extractZipEntry(f, dest); err != nil {
			return fmt.Errorf("failed to extract %s: %w", f.Name, err)
		}
	}

	return nil
}

func extractZipEntry(f *zip.File, dest string) error {
	target, err := safeJoin(dest, f.Name)
	if err != nil {
		return err
	}
	if err := checkNoSymlinks(dest, target); err != nil {
		return err
	}

	mode := f.Mode()
	switch {
	case mode.IsDir():
		return os.MkdirAll(target, dirMode(mode.Perm()))

	case mode&os.ModeSymlink != 0:
		return errors.New("symlinks are not supported in zip archives")

	default:
		if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
			return err
		}
		rc, err := f.Open()
		if err != nil {
			return err
		}
		defer rc.Close()
		return writeFile(target, rc, mode.Perm())
	}
}

func writeFile(path string, r io.Reader, mode os.FileMode) error {
	if mode.Perm() == 0 {
		mode = 0644
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode.Perm())
	if err != nil {
		return err
	}

	if _, err := io.Copy(file, r); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

func dirMode(mode os.FileMode) os.FileMode {
	// Directories must stay traversable for the rest of the extraction
	return mode.Perm() | 0700
}

// safeJoin joins an archive entry name onto dest, rejecting names that would
// land outside dest
func safeJoin(dest, name string) (string, error) {
	if filepath.IsAbs(name) || strings.HasPrefix(name, "/") {
		return "", fmt.Errorf("absolute path in archive: %s", name)
	}
	target := filepath.Join(dest, name)
	if !isWithin(dest, target) {
		return "", fmt.Errorf("path escapes extraction root: %s", name)
	}
	return target, nil
}

// checkNoSymlinks rejects a target whose path below dest goes through, or ends
// at, a symlink extracted earlier. Link targets are only checked as text, so a
// chain of links could otherwise lead a later entry outside dest.
func checkNoSymlinks(dest, target string) error {
	rel, err := filepath.Rel(dest, target)
	if err != nil {
		return err
	}
	if rel == "." {
		return nil
	}

	current := dest
	for _, part := range strings.Split(rel, string(filepath.Separator)) {
		current = filepath.Join(current, part)
		info, err := os.Lstat(current)
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		if err != nil {
			return err
		}
		if info.Mode()&os.ModeSymlink != 0 {
			return fmt.Errorf("path goes through a symlink: %s", rel)
		}
	}
	return nil
}

func checkLinkTarget(dest, link, linkname string) error {
	if filepath.IsAbs(linkname) {
		return fmt.Errorf("absolute symlink target: %s", linkname)
	}
	resolved := filepath.Join(filepath.Dir(link), linkname)
	if !isWithin(dest, resolved) {
		return fmt.Errorf("symlink escapes extraction root: %s", linkname)
	}
	return nil
}

// isWithin reports whether path is root or below it. Both must be clean.
func isWithin(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}
