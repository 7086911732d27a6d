//go:build !((darwin || linux) && !android) && !windows

package native

// Open always fails on this platform
func Open(path string) (Library, error) {
	return nil, ErrUnsupported
}
