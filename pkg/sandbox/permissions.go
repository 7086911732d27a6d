package sandbox

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/platinummonkey/zerometa/pkg/layers"
	"gopkg.in/yaml.v3"
)

const (
	// DefaultMaxMemory is the default memory ceiling in bytes
	DefaultMaxMemory uint64 = 256 * 1024 * 1024
	// DefaultMaxCPU is the default CPU ceiling in percent
	DefaultMaxCPU uint8 = 50
)

// Permissions describes what a sandboxed layer may do
type Permissions struct {
	NetworkAccess bool     `yaml:"network_access"`
	AllowedPaths  []string `yaml:"allowed_paths"`
	MaxMemory     *uint64  `yaml:"max_memory,omitempty"`
	MaxCPU        *uint8   `yaml:"max_cpu,omitempty"`
}

// DefaultPermissions returns the restrictive defaults: no network, no paths
// beyond the working directory, 256 MiB and 50% CPU
func DefaultPermissions() Permissions {
	memory := DefaultMaxMemory
	cpu := DefaultMaxCPU
	return Permissions{
		NetworkAccess: false,
		AllowedPaths:  []string{},
		MaxMemory:     &memory,
		MaxCPU:        &cpu,
	}
}

// Allow adds a path prefix. Paths already allowed are not added twice.
func (p *Permissions) Allow(path string) {
	path = filepath.Clean(path)
	for _, existing := range p.AllowedPaths {
		if filepath.Clean(existing) == path {
			return
		}
	}
	p.AllowedPaths = append(p.AllowedPaths, path)
}

// Clone returns a deep copy
func (p Permissions) Clone() Permissions {
	clone := Permissions{
		NetworkAccess: p.NetworkAccess,
		AllowedPaths:  append([]string{}, p.AllowedPaths...),
	}
	if p.MaxMemory != nil {
		memory := *p.MaxMemory
		clone.MaxMemory = &memory
	}
	if p.MaxCPU != nil {
		cpu := *p.MaxCPU
		clone.MaxCPU = &cpu
	}
	return clone
}

// Validate checks the permissions are usable
func (p Permissions) Validate() error {
	var errs []error

	for _, path := range p.AllowedPaths {
		if !filepath.IsAbs(path) {
			errs = append(errs, fmt.Errorf("allowed path must be absolute: %s", path))
		}
	}
	if p.MaxMemory != nil && *p.MaxMemory == 0 {
		errs = append(errs, errors.New("max_memory must be positive"))
	}
	if p.MaxCPU != nil && (*p.MaxCPU == 0 || *p.MaxCPU > 100) {
		errs = append(errs, fmt.Errorf("max_cpu must be between 1 and 100, got %d", *p.MaxCPU))
	}

	return errors.Join(errs...)
}

// Policy assigns permissions to layers
type Policy struct {
	Default *Permissions           `yaml:"default,omitempty"`
	Layers  map[string]Permissions `yaml:"layers,omitempty"`
}

// LoadPolicy reads a YAML policy file
func LoadPolicy(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, layers.NewError(layers.ErrIO, "load policy", "", err)
	}

	var policy Policy
	if err := yaml.Unmarshal(data, &policy); err != nil {
		return nil, layers.NewError(layers.ErrParse, "load policy", "", fmt.Errorf("%s: %w", path, err))
	}

	if policy.Default != nil {
		if err := policy.Default.Validate(); err != nil {
			return nil, layers.NewError(layers.ErrParse, "load policy", "", fmt.Errorf("default: %w", err))
		}
	}
	for id, perms := range policy.Layers {
		if err := perms.Validate(); err != nil {
			return nil, layers.NewError(layers.ErrParse, "load policy", id, err)
		}
	}

	return &policy, nil
}

// For returns the permissions for a layer: its own entry, else the policy
// default, else DefaultPermissions
func (p *Policy) For(id string) Permissions {
	if p != nil {
		if perms, ok := p.Layers[id]; ok {
			return perms.Clone()
		}
		if p.Default != nil {
			return p.Default.Clone()
		}
	}
	return DefaultPermissions()
}
