//go:build !windows

package input

// Stub implementation for platforms without SendInput

// SystemInjector is unavailable on this platform
type SystemInjector struct{}

// NewSystemInjector always fails with ErrUnsupportedPlatform
func NewSystemInjector() (*SystemInjector, error) {
	return nil, ErrUnsupportedPlatform
}

// Inject accepts nothing
func (s *SystemInjector) Inject(batch []Descriptor) (uint32, func() int32) {
	return 0, func() int32 { return 0 }
}

// ScreenSize always fails
func (s *SystemInjector) ScreenSize() (int32, int32, error) {
	return 0, 0, ErrUnsupportedPlatform
}
