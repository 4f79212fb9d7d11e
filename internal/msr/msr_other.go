//go:build !linux

package msr

// OpenDevice has no implementation outside Linux; callers fall back to the
// mock backend or run detection-only.
func OpenDevice() (Registers, error) {
	return nil, ErrUnsupported
}
