package layers

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/platinummonkey/zerometa/pkg/observability"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// errPoisoned is the cause reported once a writer panicked while holding the lock
var errPoisoned = errors.New("registry lock poisoned by a panic in a previous writer")

// MemoryRegistry is the in-memory Registry. One RWMutex guards the whole map:
// writers exclude everybody, readers share.
type MemoryRegistry struct {
	mu       sync.RWMutex
	layers   map[string]Layer
	poisoned atomic.Bool
	workers  int
	metrics  *observability.Metrics
	log      *logrus.Logger
}

var _ Registry = (*MemoryRegistry)(nil)

// NewRegistry creates an empty registry
func NewRegistry(log *logrus.Logger) *MemoryRegistry {
	if log == nil {
		log = logrus.New()
	}

	return &MemoryRegistry{
		layers:  make(map[string]Layer),
		workers: runtime.NumCPU(),
		log:     log,
	}
}

// SetDiscoveryWorkers bounds how many manifests Discover parses concurrently
func (r *MemoryRegistry) SetDiscoveryWorkers(n int) {
	if n < 1 {
		n = 1
	}
	r.workers = n
}

// SetMetrics sets the metrics sink
func (r *MemoryRegistry) SetMetrics(metrics *observability.Metrics) {
	r.metrics = metrics
}

// write runs fn under the exclusive lock. A panic inside fn poisons the
// registry before the lock is released and the panic continues.
func (r *MemoryRegistry) write(op string, fn func() error) error {
	if r.poisoned.Load() {
		return NewError(ErrIO, op, "", errPoisoned)
	}

	r.mu.Lock()
	completed := false
	defer func() {
		if !completed {
			r.poisoned.Store(true)
		}
		r.mu.Unlock()
	}()

	// A writer may have panicked while we waited for the lock
	if r.poisoned.Load() {
		completed = true
		return NewError(ErrIO, op, "", errPoisoned)
	}

	err := fn()
	completed = true
	r.metrics.SetLayersRegistered(len(r.layers))
	return err
}

// read runs fn under the shared lock
func (r *MemoryRegistry) read(op string, fn func()) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.poisoned.Load() {
		return NewError(ErrIO, op, "", errPoisoned)
	}

	fn()
	return nil
}

type discovered struct {
	dir   string
	layer *Layer
	err   error
}

// Discover rebuilds the registry from the immediate subdirectories of
// layersDir. Directories without a readable manifest are logged and skipped.
// The directory is created when missing, leaving the registry empty.
func (r *MemoryRegistry) Discover(layersDir string) (err error) {
	defer func(start time.Time) { r.metrics.RecordLayerOperation("discover", start, err) }(time.Now())

	found, err := r.scan(layersDir)
	if err != nil {
		return err
	}

	next := make(map[string]Layer, len(found))
	owners := make(map[string]string, len(found))
	for _, d := range found {
		if d.err != nil {
			r.log.Errorf("Failed to load layer from %s: %v", d.dir, d.err)
			continue
		}

		layer := *d.layer
		if prev, exists := owners[layer.ID]; exists {
			// The directory named after the ID owns it
			if filepath.Base(prev) == layer.ID || filepath.Base(d.dir) != layer.ID {
				r.log.Warnf("Skipping %s: layer %s already provided by %s", d.dir, layer.ID, prev)
				continue
			}
			r.log.Warnf("Skipping %s: layer %s already provided by %s", prev, layer.ID, d.dir)
		}

		owners[layer.ID] = d.dir
		next[layer.ID] = layer
	}

	err = r.write("discover", func() error {
		r.layers = next
		return nil
	})
	if err != nil {
		return err
	}

	for _, layer := range next {
		r.log.Infof("Discovered layer: %s (v%s)", layer.Name, layer.Version)
	}
	return nil
}

// scan parses the manifest of every subdirectory of layersDir, in directory order
func (r *MemoryRegistry) scan(layersDir string) ([]discovered, error) {
	entries, err := os.ReadDir(layersDir)
	if errors.Is(err, os.ErrNotExist) {
		if err := os.MkdirAll(layersDir, 0755); err != nil {
			return nil, NewError(ErrIO, "discover", "", err)
		}
		r.log.Infof("Created layers directory at: %s", layersDir)
		return nil, nil
	}
	if err != nil {
		return nil, NewError(ErrIO, "discover", "", err)
	}

	var dirs []string
	for _, entry := range entries {
		path := filepath.Join(layersDir, entry.Name())
		info, err := os.Stat(path)
		if err != nil || !info.IsDir() {
			continue
		}
		dirs = append(dirs, path)
	}
	sort.Strings(dirs)

	found := make([]discovered, len(dirs))
	var g errgroup.Group
	g.SetLimit(r.workers)
	for idx, dir := range dirs {
		g.Go(func() error {
			layer, err := LoadManifestFromDir(dir)
			found[idx] = discovered{dir: dir, layer: layer, err: err}
			return nil
		})
	}
	_ = g.Wait()

	return found, nil
}

// Register adds a layer to the registry
func (r *MemoryRegistry) Register(layer Layer) error {
	return r.write("register", func() error {
		if _, exists := r.layers[layer.ID]; exists {
			return NewError(ErrAlreadyExists, "register", layer.ID, nil)
		}
		r.layers[layer.ID] = layer
		return nil
	})
}

// Unregister removes a layer from the registry
func (r *MemoryRegistry) Unregister(id string) error {
	return r.write("unregister", func() error {
		if _, exists := r.layers[id]; !exists {
			return NewError(ErrNotFound, "unregister", id, nil)
		}
		delete(r.layers, id)
		return nil
	})
}

// Get returns a copy of the layer registered under id
func (r *MemoryRegistry) Get(id string) (Layer, error) {
	var (
		layer  Layer
		exists bool
	)
	if err := r.read("get", func() { layer, exists = r.layers[id] }); err != nil {
		return Layer{}, err
	}
	if !exists {
		return Layer{}, NewError(ErrNotFound, "get", id, nil)
	}
	return layer, nil
}

// Has checks if a layer is registered
func (r *MemoryRegistry) Has(id string) bool {
	_, err := r.Get(id)
	return err == nil
}

// List returns copies of all registered layers, sorted by ID
func (r *MemoryRegistry) List() ([]Layer, error) {
	var result []Layer
	err := r.read("list", func() {
		result = make([]Layer, 0, len(r.layers))
		for _, layer := range r.layers {
			result = append(result, layer)
		}
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(result, func(a, b int) bool { return result[a].ID < result[b].ID })
	return result, nil
}

// Count returns the number of registered layers
func (r *MemoryRegistry) Count() int {
	n := 0
	_ = r.read("count", func() { n = len(r.layers) })
	return n
}

// Enable marks a layer as enabled
func (r *MemoryRegistry) Enable(id string) error {
	if err := r.setEnabled("enable", id, true); err != nil {
		return err
	}
	r.log.Infof("Enabled layer: %s", id)
	return nil
}

// Disable marks a layer as disabled
func (r *MemoryRegistry) Disable(id string) error {
	if err := r.setEnabled("disable", id, false); err != nil {
		return err
	}
	r.log.Infof("Disabled layer: %s", id)
	return nil
}

func (r *MemoryRegistry) setEnabled(op, id string, enabled bool) error {
	return r.write(op, func() error {
		layer, exists := r.layers[id]
		if !exists {
			return NewError(ErrNotFound, op, id, nil)
		}
		layer.Enabled = enabled
		r.layers[id] = layer
		return nil
	})
}
