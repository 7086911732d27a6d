package sandbox

import (
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/platinummonkey/zerometa/pkg/layers"
	"github.com/platinummonkey/zerometa/pkg/observability"
	"github.com/sirupsen/logrus"
)

// DefaultRoot returns the default parent directory of sandbox working directories
func DefaultRoot() string {
	return filepath.Join(os.TempDir(), "zerometa")
}

// Manager holds one sandbox per layer ID
type Manager struct {
	mu            sync.Mutex
	root          string
	sandboxes     map[string]*LayerSandbox
	audit         *AuditLogger
	metrics       *observability.Metrics
	enforceLimits bool
	log           *logrus.Logger
}

// NewManager creates a manager placing working directories under root.
// An empty root uses DefaultRoot.
func NewManager(root string, log *logrus.Logger) *Manager {
	if root == "" {
		root = DefaultRoot()
	}
	if log == nil {
		log = logrus.New()
	}

	return &Manager{
		root:      root,
		sandboxes: make(map[string]*LayerSandbox),
		log:       log,
	}
}

// Root returns the sandbox root directory
func (m *Manager) Root() string {
	return m.root
}

// SetAuditLogger records the decisions of sandboxes created afterwards
func (m *Manager) SetAuditLogger(audit *AuditLogger) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.audit = audit
}

// SetMetrics sets the metrics sink
func (m *Manager) SetMetrics(metrics *observability.Metrics) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.metrics = metrics
}

// SetResourceLimits makes sandboxes created afterwards apply their memory
// ceiling to spawned processes where the platform supports it
func (m *Manager) SetResourceLimits(enforce bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.enforceLimits = enforce
}

// Create creates the sandbox for layer
func (m *Manager) Create(layer layers.Layer, permissions Permissions) (*LayerSandbox, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.sandboxes[layer.ID]; exists {
		return nil, layers.NewError(layers.ErrAlreadyExists, "create sandbox", layer.ID, nil)
	}

	sb, err := New(layer, permissions, m.root)
	if err != nil {
		return nil, err
	}
	sb.audit = m.audit
	sb.metrics = m.metrics
	sb.enforceLimits = m.enforceLimits
	sb.log = m.log

	m.sandboxes[layer.ID] = sb
	m.metrics.SetSandboxesActive(len(m.sandboxes))

	m.log.Infof("Created sandbox for layer %s at %s", layer.ID, sb.WorkingDir())
	return sb, nil
}

// Get returns the sandbox of a layer
func (m *Manager) Get(id string) (*LayerSandbox, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sb, exists := m.sandboxes[id]
	if !exists {
		return nil, layers.NewError(layers.ErrNotFound, "get sandbox", id, nil)
	}
	return sb, nil
}

// Remove forgets the sandbox of a layer. Its working directory is left on disk.
func (m *Manager) Remove(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.sandboxes[id]; !exists {
		return layers.NewError(layers.ErrNotFound, "remove sandbox", id, nil)
	}

	delete(m.sandboxes, id)
	m.metrics.SetSandboxesActive(len(m.sandboxes))

	m.log.Infof("Removed sandbox for layer %s", id)
	return nil
}

// List returns the IDs of all sandboxes, sorted
func (m *Manager) List() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := make([]string, 0, len(m.sandboxes))
	for id := range m.sandboxes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
