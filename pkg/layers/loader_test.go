package layers

import (
	"errors"
	"path/filepath"
	"runtime"
	"sync/atomic"
	"testing"
	"time"

	"github.com/platinummonkey/zerometa/pkg/native"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSymbol struct {
	calls  atomic.Int32
	panics bool
}

func (s *fakeSymbol) Call() {
	s.calls.Add(1)
	if s.panics {
		panic("entry point blew up")
	}
}

type fakeLibrary struct {
	path    string
	symbols map[string]*fakeSymbol
	closed  atomic.Int32
}

func (l *fakeLibrary) Lookup(name string) (native.Symbol, error) {
	symbol, ok := l.symbols[name]
	if !ok {
		return nil, errors.New("undefined symbol: " + name)
	}
	return symbol, nil
}

func (l *fakeLibrary) Close() error {
	l.closed.Add(1)
	return nil
}

// fakeOpener hands out libraries that export the entry point unless withEntry is false
type fakeOpener struct {
	withEntry  bool
	panicEntry bool
	err        error
	opened     []*fakeLibrary
}

func (o *fakeOpener) open(path string) (native.Library, error) {
	if o.err != nil {
		return nil, o.err
	}
	lib := &fakeLibrary{path: path, symbols: map[string]*fakeSymbol{}}
	if o.withEntry {
		lib.symbols[native.EntryPoint] = &fakeSymbol{panics: o.panicEntry}
	}
	o.opened = append(o.opened, lib)
	return lib, nil
}

func (o *fakeOpener) entry(idx int) *fakeSymbol {
	return o.opened[idx].symbols[native.EntryPoint]
}

// nativeLayer creates an installed layer with a (fake) native library
func nativeLayer(t *testing.T, id string) Layer {
	t.Helper()

	dir := filepath.Join(t.TempDir(), id)
	layer := testLayer(id)
	writeLayerDir(t, dir, layer, map[string]string{
		filepath.Join(LibDirName, native.LibraryFileName(id)): "not really a library",
	})
	layer.Path = dir
	return layer
}

func plainLayer(t *testing.T, id string) Layer {
	t.Helper()

	dir := filepath.Join(t.TempDir(), id)
	layer := testLayer(id)
	writeLayerDir(t, dir, layer, nil)
	layer.Path = dir
	return layer
}

func newTestLoader(opener *fakeOpener) *Loader {
	loader := NewLoader(quietLogger())
	loader.SetOpener(opener.open)
	return loader
}

func TestLoader_NoNativeCode(t *testing.T) {
	opener := &fakeOpener{withEntry: true}
	loader := newTestLoader(opener)

	require.NoError(t, loader.LoadLayer(plainLayer(t, "echo")))

	loaded, ok := loader.Get("echo")
	require.True(t, ok)
	assert.Equal(t, StateInitialized, loaded.State())
	assert.False(t, loaded.HasLibrary())
	assert.Empty(t, opener.opened)

	require.NoError(t, loader.Unload("echo"))
	_, ok = loader.Get("echo")
	assert.False(t, ok)
}

func TestLoader_LoadInitializesOnce(t *testing.T) {
	opener := &fakeOpener{withEntry: true}
	loader := newTestLoader(opener)
	layer := nativeLayer(t, "echo")

	require.NoError(t, loader.LoadLayer(layer))
	require.NoError(t, loader.LoadLayer(layer))

	require.Len(t, opener.opened, 1)
	assert.Equal(t, filepath.Join(layer.Path, LibDirName, native.LibraryFileName("echo")), opener.opened[0].path)
	assert.Equal(t, int32(1), opener.entry(0).calls.Load())

	loaded, ok := loader.Get("echo")
	require.True(t, ok)
	assert.True(t, loaded.HasLibrary())
	assert.Equal(t, StateInitialized, loaded.State())
}

func TestLoader_UnloadReleasesOnce(t *testing.T) {
	opener := &fakeOpener{withEntry: true}
	loader := newTestLoader(opener)

	require.NoError(t, loader.LoadLayer(nativeLayer(t, "echo")))
	require.NoError(t, loader.Unload("echo"))
	require.NoError(t, loader.Unload("echo"))
	require.NoError(t, loader.Unload("never-loaded"))

	assert.Equal(t, int32(1), opener.opened[0].closed.Load())
	assert.Empty(t, loader.Layers())
}

func TestLoader_MissingLibrary(t *testing.T) {
	opener := &fakeOpener{withEntry: true}
	loader := newTestLoader(opener)

	layer := plainLayer(t, "echo")
	writeLayerDir(t, layer.Path, testLayer("echo"), map[string]string{
		filepath.Join(LibDirName, "libsomething-else.so"): "x",
	})

	err := loader.LoadLayer(layer)
	assert.ErrorIs(t, err, ErrInvalidLayer)
	assert.Contains(t, err.Error(), "library not found")
	assert.Empty(t, opener.opened)

	_, ok := loader.Get("echo")
	assert.False(t, ok)
}

// TestLoader_MissingEntryPoint tests that the library is released before the error returns
func TestLoader_MissingEntryPoint(t *testing.T) {
	opener := &fakeOpener{withEntry: false}
	loader := newTestLoader(opener)

	err := loader.LoadLayer(nativeLayer(t, "echo"))
	assert.ErrorIs(t, err, ErrInvalidLayer)
	assert.Contains(t, err.Error(), native.EntryPoint)

	require.Len(t, opener.opened, 1)
	assert.Equal(t, int32(1), opener.opened[0].closed.Load())

	_, ok := loader.Get("echo")
	assert.False(t, ok)
}

func TestLoader_OpenFailure(t *testing.T) {
	opener := &fakeOpener{err: errors.New("wrong ELF class")}
	loader := newTestLoader(opener)

	err := loader.LoadLayer(nativeLayer(t, "echo"))
	assert.ErrorIs(t, err, ErrInvalidLayer)
	assert.Contains(t, err.Error(), "wrong ELF class")
}

// TestLoadedLayer_StateMachine walks Unloaded, Loaded, Initialized, Unloaded twice
func TestLoader_EntryPointPanics(t *testing.T) {
	opener := &fakeOpener{withEntry: true, panicEntry: true}
	loader := newTestLoader(opener)

	err := loader.LoadLayer(nativeLayer(t, "echo"))
	assert.ErrorIs(t, err, ErrInvalidLayer)
	assert.Contains(t, err.Error(), "entry point blew up")

	_, ok := loader.Get("echo")
	assert.False(t, ok)
	require.Len(t, opener.opened, 1)
	assert.Equal(t, int32(1), opener.opened[0].closed.Load(), "library is released after a failed initialization")
}

func TestLoadedLayer_StateMachine(t *testing.T) {
	opener := &fakeOpener{withEntry: true}
	loaded := NewLoadedLayer(nativeLayer(t, "echo"), opener.open, quietLogger())

	assert.Equal(t, StateUnloaded, loaded.State())
	assert.ErrorIs(t, loaded.Initialize(), ErrInvalidLayer)

	for cycle := 0; cycle < 2; cycle++ {
		require.NoError(t, loaded.Load())
		require.NoError(t, loaded.Load())
		assert.Equal(t, StateLoaded, loaded.State())

		require.NoError(t, loaded.Initialize())
		require.NoError(t, loaded.Initialize())
		assert.Equal(t, StateInitialized, loaded.State())
		assert.Equal(t, int32(1), opener.entry(cycle).calls.Load())

		require.NoError(t, loaded.Unload())
		require.NoError(t, loaded.Unload())
		assert.Equal(t, StateUnloaded, loaded.State())
		assert.Equal(t, int32(1), opener.opened[cycle].closed.Load())
	}

	assert.Len(t, opener.opened, 2)
}

// TestLoadedLayer_ReleasedWhenUnreachable tests that a dropped wrapper still releases its library
func TestLoadedLayer_ReleasedWhenUnreachable(t *testing.T) {
	opener := &fakeOpener{withEntry: true}
	layer := nativeLayer(t, "echo")

	func() {
		loaded := NewLoadedLayer(layer, opener.open, quietLogger())
		require.NoError(t, loaded.Load())
	}()
	lib := opener.opened[0]

	assert.Eventually(t, func() bool {
		runtime.GC()
		return lib.closed.Load() == 1
	}, 5*time.Second, 10*time.Millisecond)
}

func TestLoader_LayersAndClose(t *testing.T) {
	opener := &fakeOpener{withEntry: true}
	loader := newTestLoader(opener)

	for _, id := range []string{"b", "a", "c"} {
		require.NoError(t, loader.LoadLayer(nativeLayer(t, id)))
	}

	var ids []string
	for _, loaded := range loader.Layers() {
		ids = append(ids, loaded.Layer().ID)
	}
	assert.Equal(t, []string{"b", "a", "c"}, ids)

	require.NoError(t, loader.Close())
	assert.Empty(t, loader.Layers())
	for _, lib := range opener.opened {
		assert.Equal(t, int32(1), lib.closed.Load())
	}
}

func TestLoader_LoadByID(t *testing.T) {
	opener := &fakeOpener{withEntry: true}
	loader := newTestLoader(opener)

	assert.ErrorIs(t, loader.LoadByID("echo"), ErrNotFound)

	registry := NewRegistry(quietLogger())
	require.NoError(t, registry.Register(nativeLayer(t, "echo")))
	loader.SetRegistry(registry)

	require.NoError(t, loader.LoadByID("echo"))
	_, ok := loader.Get("echo")
	assert.True(t, ok)

	assert.ErrorIs(t, loader.LoadByID("missing"), ErrNotFound)
}

func TestLoader_LoadEnabled(t *testing.T) {
	opener := &fakeOpener{withEntry: true}
	loader := newTestLoader(opener)
	registry := NewRegistry(quietLogger())
	loader.SetRegistry(registry)

	enabled := nativeLayer(t, "on")
	enabled.Enabled = true
	broken := plainLayer(t, "broken")
	broken.Enabled = true
	writeLayerDir(t, broken.Path, testLayer("broken"), map[string]string{filepath.Join(LibDirName, "other.bin"): "x"})

	require.NoError(t, registry.Register(enabled))
	require.NoError(t, registry.Register(broken))
	require.NoError(t, registry.Register(nativeLayer(t, "off")))

	err := loader.LoadEnabled()
	assert.ErrorIs(t, err, ErrInvalidLayer)

	_, ok := loader.Get("on")
	assert.True(t, ok)
	_, ok = loader.Get("off")
	assert.False(t, ok)
	_, ok = loader.Get("broken")
	assert.False(t, ok)
}

func TestLoadState_String(t *testing.T) {
	assert.Equal(t, "unloaded", StateUnloaded.String())
	assert.Equal(t, "loaded", StateLoaded.String())
	assert.Equal(t, "initialized", StateInitialized.String())
	assert.Equal(t, "LoadState(7)", LoadState(7).String())
}
