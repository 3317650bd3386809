// Package capture grabs screen images on a timer and publishes the latest one.
package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Capture errors.
var (
	ErrCaptureUnavailable = errors.New("screen capture unavailable")
	ErrPermissionDenied   = errors.New("screen capture permission denied")
)

// Source produces one screen image per call.
type Source interface {
	Capture(ctx context.Context) (image.Image, error)
}

// PermissionChecker reports whether screen capture is currently allowed.
type PermissionChecker interface {
	Granted(ctx context.Context) bool
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context) (image.Image, error)

// Capture calls f.
func (f SourceFunc) Capture(ctx context.Context) (image.Image, error) { return f(ctx) }

// CommandSource captures by running an external screenshot command that writes a PNG file.
// The default command is macOS screencapture.
type CommandSource struct {
	Command string
	Args    []string // Inserted before the output path; defaults to -x -t png
	TempDir string

	granted atomic.Bool
}

// NewCommandSource creates a CommandSource for command.
func NewCommandSource(command string) *CommandSource {
	if command == "" {
		command = "screencapture"
	}
	return &CommandSource{Command: command}
}

// Capture runs the command and decodes the resulting PNG.
func (c *CommandSource) Capture(ctx context.Context) (image.Image, error) {
	if _, err := exec.LookPath(c.Command); err != nil {
		return nil, fmt.Errorf("%w: %s not found", ErrCaptureUnavailable, c.Command)
	}

	dir := c.TempDir
	if dir == "" {
		dir = os.TempDir()
	}
	path := filepath.Join(dir, "focusmate-"+uuid.NewString()+".png")
	defer os.Remove(path)

	args := c.Args
	if len(args) == 0 {
		args = []string{"-x", "-t", "png"}
	}
	args = append(append([]string{}, args...), path)

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, c.Command, args...)
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		msg := strings.ToLower(stderr.String())
		if strings.Contains(msg, "not authorized") || strings.Contains(msg, "permission") {
			return nil, fmt.Errorf("%w: %s", ErrPermissionDenied, strings.TrimSpace(stderr.String()))
		}
		return nil, fmt.Errorf("%w: %v", ErrCaptureUnavailable, err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read output: %v", ErrCaptureUnavailable, err)
	}
	// screencapture exits 0 with no file when recording permission is missing
	if len(data) == 0 {
		return nil, ErrPermissionDenied
	}

	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: decode png: %v", ErrCaptureUnavailable, err)
	}
	return img, nil
}

// Granted probes one capture and caches a successful result.
func (c *CommandSource) Granted(ctx context.Context) bool {
	if c.granted.Load() {
		return true
	}
	_, err := c.Capture(ctx)
	if err != nil {
		log.Warn().Err(err).Str("command", c.Command).Msg("Screen capture permission probe failed")
		return false
	}
	c.granted.Store(true)
	return true
}

// AlwaysGranted is a PermissionChecker for sources that need no OS permission.
type AlwaysGranted struct{}

// Granted always returns true.
func (AlwaysGranted) Granted(context.Context) bool { return true }
