package notify

import (
	"os/exec"
	"runtime"
	"strings"
)

// DesktopNotifier pops up the purge result through the platform notifier
// (osascript on macOS, notify-send on Linux). Other platforms are skipped.
type DesktopNotifier struct {
	enabled bool
	goos    string
	run     func(name string, args ...string) error
}

// NewDesktopNotifier creates a new desktop notifier
func NewDesktopNotifier(enabled bool) *DesktopNotifier {
	return &DesktopNotifier{
		enabled: enabled,
		goos:    runtime.GOOS,
		run: func(name string, args ...string) error {
			return exec.Command(name, args...).Run()
		},
	}
}

// Send shows the notification
func (d *DesktopNotifier) Send(n Notification) error {
	if !d.enabled {
		return nil
	}
	name, args, ok := desktopCommand(d.goos, n)
	if !ok {
		return nil
	}
	return d.run(name, args...)
}

func desktopCommand(goos string, n Notification) (string, []string, bool) {
	switch goos {
	case "darwin":
		script := "display notification " + appleScriptString(n.Message) +
			" with title " + appleScriptString("gh-run-purge") +
			" subtitle " + appleScriptString(n.Title)
		return "osascript", []string{"-e", script}, true
	case "linux":
		return "notify-send", []string{"--app-name", "gh-run-purge", "--icon", IconForType(n.Type), n.Title, n.Message}, true
	}
	return "", nil, false
}

// IconForType returns a freedesktop icon name for the notification type
func IconForType(t NotificationType) string {
	switch t {
	case NotifySuccess:
		return "dialog-positive"
	case NotifyWarning:
		return "dialog-warning"
	case NotifyError:
		return "dialog-error"
	default:
		return "dialog-information"
	}
}

// appleScriptString quotes s as an AppleScript string literal
func appleScriptString(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`)
	return `"` + r.Replace(s) + `"`
}
