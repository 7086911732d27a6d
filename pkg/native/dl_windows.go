//go:build windows

package native

import (
	"fmt"

	"golang.org/x/sys/windows"
)

type dllLibrary struct {
	dll *windows.DLL
}

// Open loads the DLL at path
func Open(path string) (Library, error) {
	dll, err := windows.LoadDLL(path)
	if err != nil {
		return nil, fmt.Errorf("LoadLibrary %s: %w", path, err)
	}
	return &dllLibrary{dll: dll}, nil
}

func (l *dllLibrary) Lookup(name string) (Symbol, error) {
	proc, err := l.dll.FindProc(name)
	if err != nil {
		return nil, fmt.Errorf("GetProcAddress %s in %s: %w", name, l.dll.Name, err)
	}
	return dllProc{proc: proc}, nil
}

func (l *dllLibrary) Close() error {
	if err := l.dll.Release(); err != nil {
		return fmt.Errorf("FreeLibrary %s: %w", l.dll.Name, err)
	}
	return nil
}

type dllProc struct {
	proc *windows.Proc
}

func (p dllProc) Call() {
	// The return values of a void function are meaningless
	_, _, _ = p.proc.Call()
}
