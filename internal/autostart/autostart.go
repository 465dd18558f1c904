// Package autostart registers "devicesim serve" to run at login.
package autostart

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/template"
)

const (
	appName     = "devicesim"
	launchLabel = "com.devicesim.agent"
)

const macLaunchAgentPlist = `<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
    <key>Label</key>
    <string>{{.Label}}</string>
    <key>ProgramArguments</key>
    <array>
        <string>{{.ExecutablePath}}</string>
{{- range .Args}}
        <string>{{.}}</string>
{{- end}}
    </array>
    <key>RunAtLoad</key>
    <true/>
    <key>KeepAlive</key>
    <false/>
</dict>
</plist>
`

const xdgDesktopEntry = `[Desktop Entry]
Type=Application
Name=devicesim
Comment=Remote-controlled input synthesizer
Exec={{.Exec}}
X-GNOME-Autostart-enabled=true
NoDisplay=true
`

// command returns the executable and arguments to register
func command(configPath string) (string, []string, error) {
	execPath, err := os.Executable()
	if err != nil {
		return "", nil, fmt.Errorf("failed to get executable path: %w", err)
	}
	if resolved, err := filepath.EvalSymlinks(execPath); err == nil {
		execPath = resolved
	}

	args := []string{"serve"}
	if configPath != "" {
		args = append(args, "--config", configPath)
	}
	return execPath, args, nil
}

// Enable enables auto-start on login. configPath is passed to serve when set.
func Enable(configPath string) error {
	execPath, args, err := command(configPath)
	if err != nil {
		return err
	}
	return enable(execPath, args)
}

// Disable disables auto-start on login
func Disable() error {
	return disable()
}

// IsEnabled checks if auto-start is enabled
func IsEnabled() bool {
	return isEnabled()
}

func renderPlist(execPath string, args []string) ([]byte, error) {
	tmpl, err := template.New("plist").Parse(macLaunchAgentPlist)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	err = tmpl.Execute(&buf, struct {
		Label          string
		ExecutablePath string
		Args           []string
	}{launchLabel, execPath, args})
	return buf.Bytes(), err
}

func renderDesktopEntry(execPath string, args []string) ([]byte, error) {
	tmpl, err := template.New("desktop").Parse(xdgDesktopEntry)
	if err != nil {
		return nil, err
	}

	parts := make([]string, 0, len(args)+1)
	for _, a := range append([]string{execPath}, args...) {
		parts = append(parts, desktopQuote(a))
	}

	var buf bytes.Buffer
	err = tmpl.Execute(&buf, struct{ Exec string }{strings.Join(parts, " ")})
	return buf.Bytes(), err
}

// desktopQuote applies the freedesktop Exec quoting rules to one argument
func desktopQuote(s string) string {
	if !strings.ContainsAny(s, " \t\"'\\$`") {
		return s
	}
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`, "`", "\\`", `$`, `\$`)
	return `"` + r.Replace(s) + `"`
}
