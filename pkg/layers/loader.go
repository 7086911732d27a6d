package layers

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/platinummonkey/zerometa/pkg/native"
	"github.com/platinummonkey/zerometa/pkg/observability"
	"github.com/sirupsen/logrus"
)

// LoadState is the lifecycle state of a LoadedLayer
type LoadState int

const (
	StateUnloaded LoadState = iota
	StateLoaded
	StateInitialized
)

func (s LoadState) String() string {
	switch s {
	case StateUnloaded:
		return "unloaded"
	case StateLoaded:
		return "loaded"
	case StateInitialized:
		return "initialized"
	default:
		return fmt.Sprintf("LoadState(%d)", int(s))
	}
}

// libraryHandle owns one mapped library and closes it at most once
type libraryHandle struct {
	lib  native.Library
	once sync.Once
	err  error
}

func (h *libraryHandle) release() error {
	h.once.Do(func() { h.err = h.lib.Close() })
	return h.err
}

// LoadedLayer binds a layer to at most one mapped native library. If the
// LoadedLayer becomes unreachable while still holding a library, the library
// is released by a runtime cleanup.
type LoadedLayer struct {
	layer       Layer
	open        native.Opener
	libraryName func(id string) string
	log         *logrus.Logger

	state   LoadState
	handle  *libraryHandle
	entry   native.Symbol
	cleanup runtime.Cleanup
}

// NewLoadedLayer creates an unloaded wrapper for layer. A nil opener uses native.Open.
func NewLoadedLayer(layer Layer, open native.Opener, log *logrus.Logger) *LoadedLayer {
	if open == nil {
		open = native.Open
	}
	if log == nil {
		log = logrus.New()
	}

	return &LoadedLayer{
		layer:       layer,
		open:        open,
		libraryName: native.LibraryFileName,
		log:         log,
	}
}

// Layer returns the layer metadata
func (l *LoadedLayer) Layer() Layer {
	return l.layer
}

// State returns the current lifecycle state
func (l *LoadedLayer) State() LoadState {
	return l.state
}

// HasLibrary reports whether native code is currently mapped
func (l *LoadedLayer) HasLibrary() bool {
	return l.handle != nil
}

// LibraryPath returns where the layer's native library is expected
func (l *LoadedLayer) LibraryPath() string {
	return filepath.Join(l.layer.Path, LibDirName, l.libraryName(l.layer.ID))
}

// Load maps the layer's native library and resolves its entry point. A layer
// without a lib directory loads with nothing mapped. Loading an already
// loaded layer does nothing.
func (l *LoadedLayer) Load() error {
	if l.state != StateUnloaded {
		return nil
	}

	libDir := filepath.Join(l.layer.Path, LibDirName)
	if _, err := os.Stat(libDir); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			l.log.Debugf("Layer %s has no native code", l.layer.ID)
			l.state = StateLoaded
			return nil
		}
		return NewError(ErrIO, "load", l.layer.ID, err)
	}

	libPath := l.LibraryPath()
	if _, err := os.Stat(libPath); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return NewError(ErrInvalidLayer, "load", l.layer.ID, fmt.Errorf("library not found: %s", libPath))
		}
		return NewError(ErrIO, "load", l.layer.ID, err)
	}

	lib, err := l.open(libPath)
	if err != nil {
		return NewError(ErrInvalidLayer, "load", l.layer.ID, err)
	}

	entry, err := lib.Lookup(native.EntryPoint)
	if err != nil {
		if closeErr := lib.Close(); closeErr != nil {
			l.log.Warnf("Failed to close library %s: %v", libPath, closeErr)
		}
		return NewError(ErrInvalidLayer, "load", l.layer.ID,
			fmt.Errorf("missing entry point %s: %w", native.EntryPoint, err))
	}

	handle := &libraryHandle{lib: lib}
	l.handle = handle
	l.entry = entry
	l.cleanup = runtime.AddCleanup(l, func(h *libraryHandle) { _ = h.release() }, handle)
	l.state = StateLoaded

	l.log.Debugf("Mapped %s for layer %s", libPath, l.layer.ID)
	return nil
}

// Initialize calls the layer's entry point. It runs at most once per load.
func (l *LoadedLayer) Initialize() error {
	switch l.state {
	case StateUnloaded:
		return NewError(ErrInvalidLayer, "initialize", l.layer.ID, errors.New("layer is not loaded"))
	case StateInitialized:
		return nil
	}

	if l.entry != nil {
		if err := l.callEntry(); err != nil {
			return NewError(ErrInvalidLayer, "initialize", l.layer.ID, err)
		}
	}
	l.state = StateInitialized
	return nil
}

// callEntry calls the entry point, turning a Go panic raised by the symbol
// into an error. Faults inside native code are not recoverable.
func (l *LoadedLayer) callEntry() (err error) {
	defer func() {
		err = observability.MustRecover(recover())
	}()
	l.entry.Call()
	return nil
}

// Unload releases the native library. Unloading an unloaded layer does nothing.
func (l *LoadedLayer) Unload() error {
	if l.state == StateUnloaded {
		return nil
	}

	handle := l.handle
	l.handle = nil
	l.entry = nil
	l.state = StateUnloaded

	if handle == nil {
		return nil
	}

	l.cleanup.Stop()
	if err := handle.release(); err != nil {
		return NewError(ErrIO, "unload", l.layer.ID, err)
	}
	return nil
}

// Loader keeps the loaded layers of the host process, at most one per ID
type Loader struct {
	mu       sync.Mutex
	loaded   map[string]*LoadedLayer
	order    []string
	open     native.Opener
	registry Registry
	metrics  *observability.Metrics
	log      *logrus.Logger
}

// NewLoader creates an empty loader
func NewLoader(log *logrus.Logger) *Loader {
	if log == nil {
		log = logrus.New()
	}

	return &Loader{
		loaded: make(map[string]*LoadedLayer),
		open:   native.Open,
		log:    log,
	}
}

// SetOpener replaces the function used to map libraries
func (l *Loader) SetOpener(open native.Opener) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.open = open
}

// SetRegistry sets the registry LoadByID and LoadEnabled read from
func (l *Loader) SetRegistry(registry Registry) {
	l.registry = registry
}

// SetMetrics sets the metrics sink
func (l *Loader) SetMetrics(metrics *observability.Metrics) {
	l.metrics = metrics
}

// LoadLayer loads and initializes layer. A layer already loaded under the same ID is left as is.
func (l *Loader) LoadLayer(layer Layer) (err error) {
	defer func(start time.Time) { l.metrics.RecordLayerOperation("load", start, err) }(time.Now())

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, exists := l.loaded[layer.ID]; exists {
		return nil
	}

	loaded := NewLoadedLayer(layer, l.open, l.log)
	if err := loaded.Load(); err != nil {
		return err
	}
	if err := loaded.Initialize(); err != nil {
		if unloadErr := loaded.Unload(); unloadErr != nil {
			l.log.Warnf("Failed to unload layer %s: %v", layer.ID, unloadErr)
		}
		return err
	}

	l.loaded[layer.ID] = loaded
	l.order = append(l.order, layer.ID)
	l.metrics.SetLayersLoaded(len(l.loaded))

	l.log.Infof("Loaded layer: %s v%s", layer.Name, layer.Version)
	return nil
}

// LoadByID loads the registered layer with the given ID
func (l *Loader) LoadByID(id string) error {
	if l.registry == nil {
		return NewError(ErrNotFound, "load", id, errors.New("no registry configured"))
	}

	layer, err := l.registry.Get(id)
	if err != nil {
		return err
	}
	return l.LoadLayer(layer)
}

// LoadEnabled loads every enabled layer in the registry. It keeps going past
// failures and returns them joined.
func (l *Loader) LoadEnabled() error {
	if l.registry == nil {
		return nil
	}

	all, err := l.registry.List()
	if err != nil {
		return err
	}

	var errs []error
	for _, layer := range all {
		if !layer.Enabled {
			continue
		}
		if err := l.LoadLayer(layer); err != nil {
			l.log.Errorf("Failed to load layer %s: %v", layer.ID, err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Unload unloads a layer. Unknown IDs are ignored.
func (l *Loader) Unload(id string) (err error) {
	defer func(start time.Time) { l.metrics.RecordLayerOperation("unload", start, err) }(time.Now())

	l.mu.Lock()
	defer l.mu.Unlock()

	return l.unloadLocked(id)
}

func (l *Loader) unloadLocked(id string) error {
	loaded, exists := l.loaded[id]
	if !exists {
		return nil
	}

	delete(l.loaded, id)
	for idx, loadedID := range l.order {
		if loadedID == id {
			l.order = append(l.order[:idx], l.order[idx+1:]...)
			break
		}
	}
	l.metrics.SetLayersLoaded(len(l.loaded))

	if err := loaded.Unload(); err != nil {
		return err
	}

	l.log.Infof("Unloaded layer: %s", id)
	return nil
}

// Get returns the loaded layer with the given ID
func (l *Loader) Get(id string) (*LoadedLayer, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	loaded, exists := l.loaded[id]
	return loaded, exists
}

// Layers returns the loaded layers in load order
func (l *Loader) Layers() []*LoadedLayer {
	l.mu.Lock()
	defer l.mu.Unlock()

	result := make([]*LoadedLayer, 0, len(l.order))
	for _, id := range l.order {
		result = append(result, l.loaded[id])
	}
	return result
}

// Close unloads every layer in reverse load order
func (l *Loader) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	var errs []error
	for idx := len(l.order) - 1; idx >= 0; idx-- {
		if err := l.unloadLocked(l.order[idx]); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
