package layers

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/platinummonkey/zerometa/pkg/observability"
	"github.com/sirupsen/logrus"
)

// Installer installs and removes layers under a layers directory
type Installer struct {
	layersDir string
	registry  Registry
	metrics   *observability.Metrics
	log       *logrus.Logger
}

// NewInstaller creates an installer writing into layersDir
func NewInstaller(layersDir string, log *logrus.Logger) *Installer {
	if log == nil {
		log = logrus.New()
	}

	return &Installer{
		layersDir: layersDir,
		log:       log,
	}
}

// SetRegistry makes successful installs and uninstalls update registry
func (i *Installer) SetRegistry(registry Registry) {
	i.registry = registry
}

// SetMetrics sets the metrics sink
func (i *Installer) SetMetrics(metrics *observability.Metrics) {
	i.metrics = metrics
}

// LayersDir returns the directory layers are installed into
func (i *Installer) LayersDir() string {
	return i.layersDir
}

// InstallFromDir validates the layer in sourceDir and copies it into the layers
// directory. An existing installation is replaced only when overwrite is set.
func (i *Installer) InstallFromDir(sourceDir string, overwrite bool) (layer *Layer, err error) {
	defer func(start time.Time) { i.metrics.RecordLayerOperation("install", start, err) }(time.Now())

	i.log.Infof("Installing layer from directory: %s", sourceDir)

	layer, err = i.validateLayerDir(sourceDir)
	if err != nil {
		return nil, err
	}

	targetDir := filepath.Join(i.layersDir, layer.ID)
	absTarget, err := filepath.Abs(targetDir)
	if err != nil {
		return nil, NewError(ErrIO, "install", layer.ID, err)
	}

	if _, err := os.Lstat(targetDir); err == nil {
		if !overwrite {
			return nil, NewError(ErrAlreadyExists, "install", layer.ID, nil)
		}

		// Replacing the installation would delete the source first
		realSource, realTarget := realPath(sourceDir), realPath(absTarget)
		if realSource == realTarget {
			i.log.Infof("Layer %s is already installed from %s", layer.ID, sourceDir)
			layer.Path = absTarget
			if i.registry != nil {
				if err := i.registerInstalled(*layer); err != nil {
					return nil, err
				}
			}
			return layer, nil
		}
		if isWithin(realTarget, realSource) {
			return nil, NewError(ErrInvalidLayer, "install", layer.ID,
				fmt.Errorf("source %s is inside the installed layer", sourceDir))
		}

		if err := os.RemoveAll(targetDir); err != nil {
			return nil, NewError(ErrIO, "install", layer.ID, fmt.Errorf("failed to remove existing layer: %w", err))
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, NewError(ErrIO, "install", layer.ID, err)
	}

	if err := copyDir(sourceDir, targetDir); err != nil {
		return nil, NewError(ErrIO, "install", layer.ID, fmt.Errorf("failed to copy layer files: %w", err))
	}
	layer.Path = absTarget

	if i.registry != nil {
		if err := i.registerInstalled(*layer); err != nil {
			return nil, err
		}
	}

	i.log.Infof("Installed layer: %s v%s", layer.Name, layer.Version)
	return layer, nil
}

// InstallFromArchive extracts an archive stream to a private temporary
// directory and installs the layer found at its root or in its single top
// level directory
func (i *Installer) InstallFromArchive(r io.Reader, kind ArchiveKind, overwrite bool) (*Layer, error) {
	i.log.Infof("Installing layer from %s archive", kind)

	scratch, err := os.MkdirTemp("", "zerometa-install-*")
	if err != nil {
		return nil, NewError(ErrIO, "install", "", err)
	}
	defer func() {
		if err := os.RemoveAll(scratch); err != nil {
			i.log.Warnf("Failed to remove temporary directory %s: %v", scratch, err)
		}
	}()

	root := filepath.Join(scratch, "root")
	if err := os.Mkdir(root, 0755); err != nil {
		return nil, NewError(ErrIO, "install", "", err)
	}

	if err := extractArchive(r, kind, root, scratch); err != nil {
		return nil, NewError(ErrInvalidLayer, "install", "", fmt.Errorf("failed to extract archive: %w", err))
	}

	layerDir, err := findLayerDir(root)
	if err != nil {
		return nil, err
	}

	return i.InstallFromDir(layerDir, overwrite)
}

// InstallFromFile installs from a layer directory or an archive file, picking
// the archive kind from the file extension
func (i *Installer) InstallFromFile(path string, overwrite bool) (*Layer, error) {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, NewError(ErrNotFound, "install", "", fmt.Errorf("source does not exist: %s", path))
		}
		return nil, NewError(ErrIO, "install", "", err)
	}

	if info.IsDir() {
		return i.InstallFromDir(path, overwrite)
	}

	kind, err := ArchiveKindFromPath(path)
	if err != nil {
		return nil, NewError(ErrInvalidLayer, "install", "", err)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, NewError(ErrIO, "install", "", err)
	}
	defer f.Close()

	return i.InstallFromArchive(f, kind, overwrite)
}

// Uninstall removes an installed layer. The manifest is read on a best effort
// basis so the removal can be reported; an unreadable manifest does not stop
// the removal.
func (i *Installer) Uninstall(id string) (layer *Layer, err error) {
	defer func(start time.Time) { i.metrics.RecordLayerOperation("uninstall", start, err) }(time.Now())

	if !IsValidID(id) {
		return nil, NewError(ErrNotFound, "uninstall", id, nil)
	}

	layerDir := filepath.Join(i.layersDir, id)
	if _, err := os.Stat(layerDir); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, NewError(ErrNotFound, "uninstall", id, nil)
		}
		return nil, NewError(ErrIO, "uninstall", id, err)
	}

	layer, err = LoadManifestFromDir(layerDir)
	if err != nil {
		i.log.Debugf("Could not read manifest of %s, using placeholder: %v", id, err)
		layer = placeholderLayer(id, layerDir)
	}

	if err := os.RemoveAll(layerDir); err != nil {
		return nil, NewError(ErrIO, "uninstall", id, err)
	}

	if i.registry != nil {
		if err := i.registry.Unregister(id); err != nil && !errors.Is(err, ErrNotFound) {
			return nil, err
		}
	}

	i.log.Infof("Uninstalled layer: %s v%s", layer.Name, layer.Version)
	return layer, nil
}

// validateLayerDir loads and validates the manifest found in dir
func (i *Installer) validateLayerDir(dir string) (*Layer, error) {
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return nil, NewError(ErrInvalidLayer, "validate", "", fmt.Errorf("not a directory: %s", dir))
	}

	layer, err := LoadManifestFromDir(dir)
	if err != nil {
		if errors.Is(err, ErrInvalidLayer) {
			return nil, err
		}
		return nil, NewError(ErrInvalidLayer, "validate", "", fmt.Errorf("invalid manifest: %w", err))
	}

	if errs := ValidateManifest(layer); len(errs) > 0 {
		return nil, validationFailure("validate", layer, errs)
	}

	return layer, nil
}

// registerInstalled replaces any registry entry for the freshly installed layer
func (i *Installer) registerInstalled(layer Layer) error {
	if err := i.registry.Unregister(layer.ID); err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	return i.registry.Register(layer)
}

// realPath returns the absolute path with symlinks resolved, or the cleaned
// absolute path when it cannot be resolved
func realPath(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		return filepath.Clean(path)
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		return resolved
	}
	return abs
}

func placeholderLayer(id, dir string) *Layer {
	return &Layer{
		ID:          id,
		Name:        id,
		Description: "Unknown",
		Version:     "0.0.0",
		Enabled:     false,
		Path:        dir,
	}
}

// findLayerDir looks for the manifest in root, then in root's only subdirectory
func findLayerDir(root string) (string, error) {
	if HasManifest(root) {
		return root, nil
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		return "", NewError(ErrIO, "install", "", err)
	}

	var dirs []string
	for _, entry := range entries {
		if entry.IsDir() {
			dirs = append(dirs, filepath.Join(root, entry.Name()))
		}
	}

	if len(dirs) == 1 && HasManifest(dirs[0]) {
		return dirs[0], nil
	}

	return "", NewError(ErrInvalidLayer, "install", "", errors.New("could not find layer directory in archive"))
}

// copyDir recursively copies src into dst, creating dst
func copyDir(src, dst string) error {
	info, err := os.Stat(src)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dst, info.Mode().Perm()|0700); err != nil {
		return err
	}

	entries, err := os.ReadDir(src)
	if err != nil {
		return err
	}

	for _, entry := range entries {
		srcPath := filepath.Join(src, entry.Name())
		dstPath := filepath.Join(dst, entry.Name())

		switch {
		case entry.IsDir():
			if err := copyDir(srcPath, dstPath); err != nil {
				return err
			}
		case entry.Type()&os.ModeSymlink != 0:
			target, err := os.Readlink(srcPath)
			if err != nil {
				return err
			}
			if err := os.Symlink(target, dstPath); err != nil {
				return err
			}
		default:
			if err := copyFile(srcPath, dstPath); err != nil {
				return err
			}
		}
	}

	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}

	return writeFile(dst, in, info.Mode().Perm())
}
