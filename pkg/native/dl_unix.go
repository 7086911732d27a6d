//go:build (darwin || linux) && !android

package native

import (
	"fmt"

	"github.com/ebitengine/purego"
)

type dlLibrary struct {
	path   string
	handle uintptr
}

// Open maps the library at path with RTLD_NOW|RTLD_LOCAL
func Open(path string) (Library, error) {
	handle, err := purego.Dlopen(path, purego.RTLD_NOW|purego.RTLD_LOCAL)
	if err != nil {
		return nil, fmt.Errorf("dlopen %s: %w", path, err)
	}
	return &dlLibrary{path: path, handle: handle}, nil
}

func (l *dlLibrary) Lookup(name string) (Symbol, error) {
	addr, err := purego.Dlsym(l.handle, name)
	if err != nil {
		return nil, fmt.Errorf("dlsym %s in %s: %w", name, l.path, err)
	}
	if addr == 0 {
		return nil, fmt.Errorf("dlsym %s in %s: nil address", name, l.path)
	}
	return cFunc(addr), nil
}

func (l *dlLibrary) Close() error {
	if err := purego.Dlclose(l.handle); err != nil {
		return fmt.Errorf("dlclose %s: %w", l.path, err)
	}
	return nil
}

type cFunc uintptr

func (f cFunc) Call() {
	purego.SyscallN(uintptr(f))
}
