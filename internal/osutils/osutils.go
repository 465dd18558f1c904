// Package osutils wraps host facilities used around input injection:
// window lookup, elevation checks and firewall rules.
package osutils

// WindowHandle is an opaque host window handle
type WindowHandle uintptr

// FirewallRuleName is the display name of the inbound rule managed on Windows
const FirewallRuleName = "devicesim remote control"
