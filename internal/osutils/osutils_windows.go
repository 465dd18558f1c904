//go:build windows

package osutils

import (
	"fmt"
	"os/exec"
	"strings"
	"syscall"
	"unsafe"

	"go.uber.org/zap"
	"golang.org/x/sys/windows"

	"devicesim/internal/logging"
)

var (
	user32          = windows.NewLazySystemDLL("user32.dll")
	procFindWindowW = user32.NewProc("FindWindowW")
)

// FindWindow looks up a top-level window by class name and/or title.
// An empty string matches any value for that field.
func FindWindow(class, title string) (WindowHandle, bool) {
	var classPtr, titlePtr *uint16
	var err error
	if class != "" {
		if classPtr, err = windows.UTF16PtrFromString(class); err != nil {
			return 0, false
		}
	}
	if title != "" {
		if titlePtr, err = windows.UTF16PtrFromString(title); err != nil {
			return 0, false
		}
	}

	r, _, _ := procFindWindowW.Call(
		uintptr(unsafe.Pointer(classPtr)),
		uintptr(unsafe.Pointer(titlePtr)),
	)
	return WindowHandle(r), r != 0
}

// IsAdmin checks if the current process has administrative privileges
func IsAdmin() bool {
	var token windows.Token
	h, _ := windows.GetCurrentProcess()
	err := windows.OpenProcessToken(h, windows.TOKEN_QUERY, &token)
	if err != nil {
		return false
	}
	defer token.Close()

	var sid *windows.SID
	err = windows.AllocateAndInitializeSid(
		&windows.SECURITY_NT_AUTHORITY,
		2,
		windows.SECURITY_BUILTIN_DOMAIN_RID,
		windows.DOMAIN_ALIAS_RID_ADMINS,
		0, 0, 0, 0, 0, 0,
		&sid,
	)
	if err != nil {
		return false
	}
	defer windows.FreeSid(sid)

	member, err := token.IsMember(sid)
	if err != nil {
		return false
	}

	return member
}

// EnsureFirewallRule makes sure inbound TCP (API) and, when udpPort > 0, UDP
// traffic is allowed, elevating through UAC when needed.
func EnsureFirewallRule(tcpPort, udpPort int) error {
	log := logging.L("firewall")
	log.Info("checking rule", zap.String("rule", FirewallRuleName), zap.Int("tcp", tcpPort), zap.Int("udp", udpPort))

	checkCmd := exec.Command("netsh", "advfirewall", "firewall", "show", "rule", "name="+FirewallRuleName)
	output, err := checkCmd.CombinedOutput()
	if err == nil && ruleMatches(string(output), tcpPort, udpPort) {
		log.Info("rule already present")
		return nil
	}

	psCommand := firewallScript(tcpPort, udpPort)

	if !IsAdmin() {
		log.Info("process is not elevated, requesting UAC elevation")

		verbPtr, _ := syscall.UTF16PtrFromString("runas")
		exePtr, _ := syscall.UTF16PtrFromString("powershell.exe")
		argPtr, _ := syscall.UTF16PtrFromString(fmt.Sprintf("-NoProfile -WindowStyle Hidden -Command \"%s\"", psCommand))

		if err := windows.ShellExecute(0, verbPtr, exePtr, argPtr, nil, windows.SW_HIDE); err != nil {
			return fmt.Errorf("failed to launch elevated powershell: %w", err)
		}
		log.Info("UAC prompt requested")
		return nil
	}

	cmd := exec.Command("powershell", "-NoProfile", "-Command", psCommand)
	if output, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("failed to create firewall rule: %w (output: %s)", err, strings.TrimSpace(string(output)))
	}
	log.Info("rule applied")
	return nil
}

func ruleMatches(output string, tcpPort, udpPort int) bool {
	if !strings.Contains(output, FirewallRuleName) || !strings.Contains(output, "Allow") {
		return false
	}
	if !strings.Contains(output, fmt.Sprint(tcpPort)) {
		return false
	}
	return udpPort <= 0 || strings.Contains(output, fmt.Sprint(udpPort))
}

func firewallScript(tcpPort, udpPort int) string {
	script := fmt.Sprintf(
		"Remove-NetFirewallRule -DisplayName '%[1]s' -ErrorAction SilentlyContinue; "+
			"New-NetFirewallRule -DisplayName '%[1]s' -Direction Inbound -LocalPort %[2]d -Protocol TCP -Action Allow -Profile Any",
		FirewallRuleName, tcpPort)
	if udpPort > 0 {
		script += fmt.Sprintf("; New-NetFirewallRule -DisplayName '%s' -Direction Inbound -LocalPort %d -Protocol UDP -Action Allow -Profile Any",
			FirewallRuleName, udpPort)
	}
	return script
}
