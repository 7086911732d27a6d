//go:build !linux

package sandbox

import (
	"errors"
	"runtime"
)

func applyMemoryLimit(pid int, limit uint64) error {
	return errors.New("memory limits are not supported on " + runtime.GOOS)
}
