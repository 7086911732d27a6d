package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/platinummonkey/zerometa/pkg/layers"
	"github.com/platinummonkey/zerometa/pkg/observability"
	"github.com/sirupsen/logrus"
)

// ProcessOutput is the result of a finished command
type ProcessOutput struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
	Duration time.Duration
}

// Success reports whether the command exited with status zero
func (o *ProcessOutput) Success() bool {
	return o.ExitCode == 0
}

// LayerSandbox runs commands on behalf of one layer
type LayerSandbox struct {
	layer       layers.Layer
	permissions Permissions
	workingDir  string

	audit         *AuditLogger
	metrics       *observability.Metrics
	enforceLimits bool
	homeDir       func() (string, error)
	log           *logrus.Logger
}

// New creates the sandbox for layer with its working directory <root>/<id>
func New(layer layers.Layer, permissions Permissions, root string) (*LayerSandbox, error) {
	if !layers.IsValidID(layer.ID) {
		return nil, layers.NewError(layers.ErrInvalidLayer, "create sandbox", layer.ID, errors.New("invalid layer id"))
	}
	if err := permissions.Validate(); err != nil {
		return nil, layers.NewError(layers.ErrInvalidLayer, "create sandbox", layer.ID, fmt.Errorf("invalid permissions: %w", err))
	}

	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, layers.NewError(layers.ErrIO, "create sandbox", layer.ID, err)
	}
	workingDir := filepath.Join(absRoot, layer.ID)
	if err := os.MkdirAll(workingDir, 0755); err != nil {
		return nil, layers.NewError(layers.ErrIO, "create sandbox", layer.ID, err)
	}

	return &LayerSandbox{
		layer:       layer,
		permissions: permissions.Clone(),
		workingDir:  workingDir,
		homeDir:     os.UserHomeDir,
		log:         logrus.New(),
	}, nil
}

// Layer returns the owning layer
func (s *LayerSandbox) Layer() layers.Layer {
	return s.layer
}

// Permissions returns a copy of the sandbox permissions
func (s *LayerSandbox) Permissions() Permissions {
	return s.permissions.Clone()
}

// WorkingDir returns the sandbox working directory
func (s *LayerSandbox) WorkingDir() string {
	return s.workingDir
}

// CheckPermissions verifies that the command and every path-like argument
// are inside the working directory or an allowed path. Arguments starting
// with "/", "./" or "~/" are treated as paths; anything else is passed
// through unchecked.
func (s *LayerSandbox) CheckPermissions(command string, args []string) error {
	if isPathLike(command) {
		if err := s.checkPath(command); err != nil {
			return err
		}
	}

	for _, arg := range args {
		if !isPathLike(arg) {
			continue
		}
		if err := s.checkPath(arg); err != nil {
			return err
		}
	}

	return nil
}

func (s *LayerSandbox) checkPath(path string) error {
	resolved, err := s.resolve(path)
	if err != nil {
		return layers.NewError(layers.ErrPermissionDenied, "check permissions", s.layer.ID,
			fmt.Errorf("cannot resolve %s: %w", path, err))
	}

	if isWithin(s.workingDir, resolved) {
		return nil
	}
	for _, allowed := range s.permissions.AllowedPaths {
		if isWithin(filepath.Clean(allowed), resolved) {
			return nil
		}
	}

	return layers.NewError(layers.ErrPermissionDenied, "check permissions", s.layer.ID,
		fmt.Errorf("access to %s is not allowed", path))
}

// resolve turns a path-like argument into a clean absolute path
func (s *LayerSandbox) resolve(path string) (string, error) {
	switch {
	case strings.HasPrefix(path, "~/"):
		home, err := s.homeDir()
		if err != nil {
			return "", err
		}
		if home == "" {
			return "", errors.New("home directory is unknown")
		}
		return filepath.Join(home, path[2:]), nil
	case strings.HasPrefix(path, "./"):
		return filepath.Join(s.workingDir, path[2:]), nil
	default:
		return filepath.Clean(path), nil
	}
}

// Execute checks permissions, then runs command in the working directory and
// waits for it. A non-zero exit status is reported in the output, not as an error.
func (s *LayerSandbox) Execute(ctx context.Context, command string, args ...string) (*ProcessOutput, error) {
	entry := AuditEntry{
		ExecutionID: uuid.NewString(),
		LayerID:     s.layer.ID,
		Command:     command,
		Args:        args,
		WorkingDir:  s.workingDir,
	}

	if err := s.CheckPermissions(command, args); err != nil {
		s.log.Warnf("Denied execution of %s for layer %s: %v", command, s.layer.ID, err)
		entry.Decision = DecisionDeny
		entry.Err = err
		s.audit.Record(entry)
		s.metrics.RecordSandboxExecution(observability.ResultDenied, 0)
		return nil, err
	}

	output, err := s.run(ctx, command, args)

	if err != nil {
		entry.Decision = DecisionError
		entry.Err = err
		s.audit.Record(entry)
		s.metrics.RecordSandboxExecution(observability.ResultError, 0)
		return nil, err
	}

	entry.Decision = DecisionAllow
	entry.ExitCode = output.ExitCode
	entry.Duration = output.Duration
	s.audit.Record(entry)
	s.metrics.RecordSandboxExecution(observability.ResultSuccess, output.Duration)
	return output, nil
}

func (s *LayerSandbox) run(ctx context.Context, command string, args []string) (*ProcessOutput, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, command, args...)
	cmd.Dir = s.workingDir
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return nil, layers.NewError(layers.ErrIO, "execute", s.layer.ID, fmt.Errorf("start %s: %w", command, err))
	}

	if s.enforceLimits && s.permissions.MaxMemory != nil {
		if err := applyMemoryLimit(cmd.Process.Pid, *s.permissions.MaxMemory); err != nil {
			s.log.Warnf("Failed to apply memory limit to %s for layer %s: %v", command, s.layer.ID, err)
		}
	}

	err := cmd.Wait()
	duration := time.Since(start)

	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, layers.NewError(layers.ErrIO, "execute", s.layer.ID, fmt.Errorf("%s: %w", command, ctxErr))
	}

	exitCode := 0
	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return nil, layers.NewError(layers.ErrIO, "execute", s.layer.ID, fmt.Errorf("wait %s: %w", command, err))
		}
		exitCode = exitErr.ExitCode()
	}

	s.log.Debugf("Layer %s ran %s in %s (exit %d)", s.layer.ID, command, duration, exitCode)

	return &ProcessOutput{
		Stdout:   stdout.Bytes(),
		Stderr:   stderr.Bytes(),
		ExitCode: exitCode,
		Duration: duration,
	}, nil
}

func isPathLike(arg string) bool {
	return strings.HasPrefix(arg, "/") || strings.HasPrefix(arg, "./") || strings.HasPrefix(arg, "~/")
}

// isWithin reports whether path is root or below it, comparing whole path components
func isWithin(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}
