package client

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/thebtf/focusmate/internal/worker/session"
)

// ANSI color codes
const (
	colorReset  = "\033[0m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
	colorGray   = "\033[90m"
	colorRed    = "\033[31m"
)

// UseColors reports whether status output should be colored.
// NO_COLOR and TERM=dumb disable colors; FOCUSMATE_STATUSLINE_COLORS forces either way.
func UseColors() bool {
	switch os.Getenv("FOCUSMATE_STATUSLINE_COLORS") {
	case "true":
		return true
	case "false":
		return false
	}
	return os.Getenv("NO_COLOR") == "" && os.Getenv("TERM") != "dumb"
}

func paint(s, color string, useColors bool) string {
	if !useColors {
		return s
	}
	return color + s + colorReset
}

// FormatStatusLine renders a one-line summary of snap for shell prompts and menu bars.
// A nil snapshot means the worker is not reachable.
func FormatStatusLine(snap *session.Snapshot, now time.Time, useColors bool) string {
	prefix := paint("[focus]", colorCyan, useColors)
	if snap == nil {
		return prefix + " " + paint("○ offline", colorGray, useColors)
	}

	switch snap.Alert {
	case session.AlertPermission:
		return prefix + " " + paint("! screen recording permission needed", colorRed, useColors)
	case session.AlertAPIKey:
		return prefix + " " + paint("! API key missing", colorRed, useColors)
	}

	switch snap.State {
	case session.StateActive:
	case session.StatePaused:
		return prefix + " " + paint("❚❚ paused "+formatElapsed(snap.Elapsed), colorYellow, useColors)
	default:
		return prefix + " " + paint("○ idle", colorGray, useColors)
	}

	parts := []string{paint("●", colorGreen, useColors) + " " + formatElapsed(snap.Elapsed)}
	if snap.Streak > 0 {
		parts = append(parts, fmt.Sprintf("streak:%d", snap.Streak))
	}
	if snap.LastCheck != nil {
		label := string(snap.LastCheck.Label)
		if snap.LastCheck.IsSlack() {
			label = paint(label, colorRed, useColors)
		}
		parts = append(parts, "last:"+label)
	}
	if snap.InCooldown(now) {
		remaining := snap.NextCheckAt.Sub(now).Round(time.Second)
		parts = append(parts, paint("cooldown "+remaining.String(), colorYellow, useColors))
	}
	return prefix + " " + strings.Join(parts, " | ")
}

// formatElapsed renders d as m:ss or h:mm:ss.
func formatElapsed(d time.Duration) string {
	total := int(d / time.Second)
	h, m, s := total/3600, (total/60)%60, total%60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%d:%02d", m, s)
}
