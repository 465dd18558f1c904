//go:build !windows

package osutils

import "devicesim/internal/logging"

// FindWindow always reports not found: window lookup is a Windows facility
func FindWindow(class, title string) (WindowHandle, bool) {
	return 0, false
}

// IsAdmin is a stub for non-Windows platforms
func IsAdmin() bool {
	return false
}

// EnsureFirewallRule is a stub for non-Windows platforms
func EnsureFirewallRule(tcpPort, udpPort int) error {
	logging.L("firewall").Info("automatic rule management is only supported on Windows")
	return nil
}
