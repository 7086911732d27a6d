package layers

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/blang/semver/v4"
	"github.com/tidwall/jsonc"
)

// manifestFile mirrors the persisted manifest. Pointer fields let us tell a
// missing field apart from its zero value.
type manifestFile struct {
	ID          *string `json:"id"`
	Name        *string `json:"name"`
	Description *string `json:"description"`
	Version     *string `json:"version"`
	Enabled     *bool   `json:"enabled"`
}

// ParseManifest parses manifest bytes. Comments and trailing commas are accepted.
func ParseManifest(data []byte) (*Layer, error) {
	var raw manifestFile
	if err := json.Unmarshal(jsonc.ToJSON(data), &raw); err != nil {
		return nil, NewError(ErrParse, "parse manifest", "", err)
	}

	var missing []string
	if raw.ID == nil {
		missing = append(missing, "id")
	}
	if raw.Name == nil {
		missing = append(missing, "name")
	}
	if raw.Description == nil {
		missing = append(missing, "description")
	}
	if raw.Version == nil {
		missing = append(missing, "version")
	}
	if raw.Enabled == nil {
		missing = append(missing, "enabled")
	}
	if len(missing) > 0 {
		return nil, NewError(ErrParse, "parse manifest", "",
			fmt.Errorf("missing required fields: %s", strings.Join(missing, ", ")))
	}

	return &Layer{
		ID:          *raw.ID,
		Name:        *raw.Name,
		Description: *raw.Description,
		Version:     *raw.Version,
		Enabled:     *raw.Enabled,
	}, nil
}

// LoadManifest loads and parses a layer manifest from a file. The returned
// layer's Path is the absolute directory containing the manifest.
func LoadManifest(path string) (*Layer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, NewError(ErrInvalidLayer, "load manifest", "",
				fmt.Errorf("manifest not found in %s", filepath.Dir(path)))
		}
		return nil, NewError(ErrIO, "load manifest", "", err)
	}

	layer, err := ParseManifest(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	dir, err := filepath.Abs(filepath.Dir(path))
	if err != nil {
		return nil, NewError(ErrIO, "load manifest", layer.ID, err)
	}
	layer.Path = dir

	return layer, nil
}

// LoadManifestFromDir loads a layer manifest from a directory (looks for manifest.json)
func LoadManifestFromDir(dir string) (*Layer, error) {
	return LoadManifest(filepath.Join(dir, ManifestFileName))
}

// HasManifest reports whether dir contains a manifest file
func HasManifest(dir string) bool {
	info, err := os.Stat(filepath.Join(dir, ManifestFileName))
	return err == nil && info.Mode().IsRegular()
}

// SaveManifest writes the layer's manifest into dir. Path is not persisted.
func SaveManifest(layer *Layer, dir string) error {
	data, err := json.MarshalIndent(layer, "", "  ")
	if err != nil {
		return NewError(ErrParse, "save manifest", layer.ID, err)
	}
	data = append(data, '\n')

	if err := os.WriteFile(filepath.Join(dir, ManifestFileName), data, 0644); err != nil {
		return NewError(ErrIO, "save manifest", layer.ID, err)
	}

	return nil
}

// ValidateManifest checks the fields an installable layer must satisfy
func ValidateManifest(layer *Layer) []ValidationError {
	var errs []ValidationError

	if layer.ID == "" {
		errs = append(errs, ValidationError{
			Field:   "id",
			Message: "Layer ID is required",
		})
	} else if !IsValidID(layer.ID) {
		errs = append(errs, ValidationError{
			Field:   "id",
			Message: fmt.Sprintf("Layer ID must be a single path component of letters, digits, '.', '_' or '-': %q", layer.ID),
		})
	}

	if _, err := semver.Parse(layer.Version); err != nil {
		errs = append(errs, ValidationError{
			Field:   "version",
			Message: fmt.Sprintf("Invalid version format: %s", layer.Version),
		})
	}

	return errs
}

// validationFailure folds validation errors into a single ErrInvalidLayer
func validationFailure(op string, layer *Layer, errs []ValidationError) error {
	msgs := make([]string, 0, len(errs))
	for _, e := range errs {
		msgs = append(msgs, e.String())
	}
	return NewError(ErrInvalidLayer, op, layer.ID, errors.New(strings.Join(msgs, "; ")))
}
