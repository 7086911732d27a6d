package native

import (
	"errors"
	"runtime"
)

// EntryPoint is the symbol every layer library must export
const EntryPoint = "layer_initialize"

// ErrUnsupported is returned by Open on platforms without dynamic loading support
var ErrUnsupported = errors.New("dynamic library loading is not supported on " + runtime.GOOS)

// Library is a dynamic library mapped into the process
type Library interface {
	// Lookup resolves an exported symbol by name
	Lookup(name string) (Symbol, error)
	// Close unmaps the library. Symbols resolved from it must not be called afterwards.
	Close() error
}

// Symbol is an exported function taking no arguments and returning nothing
type Symbol interface {
	Call()
}

// Opener opens the library at path
type Opener func(path string) (Library, error)

// LibraryFileNameFor returns the function naming a layer's native library on goos
func LibraryFileNameFor(goos string) func(id string) string {
	switch goos {
	case "windows":
		return func(id string) string { return id + ".dll" }
	case "darwin", "ios":
		return func(id string) string { return "lib" + id + ".dylib" }
	default:
		return func(id string) string { return "lib" + id + ".so" }
	}
}

// LibraryFileName names a layer's native library on the running platform
var LibraryFileName = LibraryFileNameFor(runtime.GOOS)
