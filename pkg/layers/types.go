package layers

import (
	"regexp"
)

// ManifestFileName is the name of the manifest file at the root of every layer
const ManifestFileName = "manifest.json"

// LibDirName is the optional directory holding a layer's native library
const LibDirName = "lib"

// Layer describes an installed or discovered layer
type Layer struct {
	ID          string `json:"id"`          // Unique ID, also the install directory name
	Name        string `json:"name"`        // Display name
	Description string `json:"description"` // Short description
	Version     string `json:"version"`     // Semver
	Enabled     bool   `json:"enabled"`     // Whether the layer is active
	Path        string `json:"-"`           // Absolute path of the layer directory, never persisted
}

// ValidationError represents a manifest validation error
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e ValidationError) String() string {
	return e.Field + ": " + e.Message
}

// Registry is the shared index of known layers.
type Registry interface {
	Discover(layersDir string) error
	Register(layer Layer) error
	Unregister(id string) error
	Get(id string) (Layer, error)
	List() ([]Layer, error)
	Enable(id string) error
	Disable(id string) error
}

var layerIDRegex = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// IsValidID reports whether id can be used as a directory name under the layers directory
func IsValidID(id string) bool {
	if id == "." || id == ".." {
		return false
	}
	return layerIDRegex.MatchString(id)
}
