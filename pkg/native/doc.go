// Package native maps dynamic libraries into the process and calls their
// exported C entry points.
//
// This is the only package in zerometa that executes foreign code. Calling a
// symbol runs arbitrary native code with the full privileges of the host
// process; a crash inside it cannot be contained.
//
// Only entry points with the C signature
//
//	void fn(void);
//
// are supported.
//
// On Linux and macOS libraries are opened with dlopen through purego, so no
// cgo toolchain is required. On Windows LoadLibrary is used through
// golang.org/x/sys/windows.
package native
