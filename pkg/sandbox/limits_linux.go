//go:build linux

package sandbox

import (
	"golang.org/x/sys/unix"
)

// applyMemoryLimit sets the address space ceiling of a running process
func applyMemoryLimit(pid int, limit uint64) error {
	rlimit := &unix.Rlimit{Cur: limit, Max: limit}
	return unix.Prlimit(pid, unix.RLIMIT_AS, rlimit, nil)
}
