package sandbox

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/platinummonkey/zerometa/pkg/observability"
	"github.com/sirupsen/logrus"
)

// Decision is the outcome recorded for an execution request
type Decision string

const (
	DecisionAllow Decision = "allow"
	DecisionDeny  Decision = "deny"
	DecisionError Decision = "error"
)

// AuditEntry records one execution request
type AuditEntry struct {
	ExecutionID string
	LayerID     string
	Command     string
	Args        []string
	WorkingDir  string
	Decision    Decision
	ExitCode    int
	Duration    time.Duration
	Err         error
}

// AuditLogger writes execution decisions as JSON lines
type AuditLogger struct {
	logger *logrus.Logger
	closer io.Closer
}

// NewAuditLogger appends to the file at path, creating it and its directory
// when needed
func NewAuditLogger(path string) (*AuditLogger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create audit log directory: %w", err)
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}

	audit := NewAuditLoggerWriter(file)
	audit.closer = file
	return audit, nil
}

// NewAuditLoggerWriter writes audit lines to w
func NewAuditLoggerWriter(w io.Writer) *AuditLogger {
	return &AuditLogger{logger: observability.NewJSONLogger(w)}
}

// Record writes one entry. A nil AuditLogger records nothing.
func (a *AuditLogger) Record(entry AuditEntry) {
	if a == nil {
		return
	}

	fields := logrus.Fields{
		"execution_id": entry.ExecutionID,
		"layer":        entry.LayerID,
		"command":      entry.Command,
		"args":         entry.Args,
		"cwd":          entry.WorkingDir,
		"decision":     string(entry.Decision),
	}
	if entry.Decision == DecisionAllow {
		fields["exit_code"] = entry.ExitCode
		fields["duration_ms"] = float64(entry.Duration.Microseconds()) / 1000
	}
	if entry.Err != nil {
		fields["error"] = entry.Err.Error()
	}

	a.logger.WithFields(fields).Info("sandbox execution")
}

// Close closes the underlying file, if any
func (a *AuditLogger) Close() error {
	if a == nil || a.closer == nil {
		return nil
	}
	return a.closer.Close()
}
