package notify

import (
	"context"
	"fmt"
	"os/exec"
	"runtime"
	"strings"

	"github.com/rs/zerolog/log"
)

// LogNotifier writes notifications to the structured log.
type LogNotifier struct{}

// Notify logs n.
func (LogNotifier) Notify(_ context.Context, n Notification) error {
	ev := log.Info()
	if n.Kind == KindError {
		ev = log.Warn()
	}
	ev.Str("kind", string(n.Kind)).Str("key", n.Key).Str("body", n.Body).Msg(n.Title)
	return nil
}

// OSAScript shows macOS banner notifications through osascript.
type OSAScript struct {
	Command string
}

// NewOSAScript creates an OSAScript backend.
func NewOSAScript() *OSAScript {
	return &OSAScript{Command: "osascript"}
}

// Notify runs display notification.
func (o *OSAScript) Notify(ctx context.Context, n Notification) error {
	script := fmt.Sprintf("display notification %s with title %s sound name \"default\"",
		appleScriptString(n.Body), appleScriptString(n.Title))
	out, err := exec.CommandContext(ctx, o.Command, "-e", script).CombinedOutput()
	if err != nil {
		return fmt.Errorf("osascript: %w: %s", err, strings.TrimSpace(string(out)))
	}
	return nil
}

// appleScriptString quotes s as an AppleScript string literal.
func appleScriptString(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	return `"` + s + `"`
}

// Backend picks the desktop backend by name: "osascript", "log", or "auto".
// Auto uses osascript on macOS when available and the log otherwise.
func Backend(name string) Notifier {
	switch name {
	case "osascript":
		return NewOSAScript()
	case "log":
		return LogNotifier{}
	}
	if runtime.GOOS == "darwin" {
		if _, err := exec.LookPath("osascript"); err == nil {
			return NewOSAScript()
		}
	}
	return LogNotifier{}
}
