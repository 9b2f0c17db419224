// File: internal/adb/device.go
package adb

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/droidprobe-cli/internal/action"
	"github.com/xkilldash9x/droidprobe-cli/internal/config"
)

// Standard Android key codes for common actions. Codes outside this list are
// passed through unmodified; the device decides what they mean.
const (
	KeyHome       = 3
	KeyBack       = 4
	KeyVolumeUp   = 24
	KeyVolumeDown = 25
	KeyPower      = 26
	KeyMenu       = 82
)

// remoteDumpPath is where uiautomator writes the hierarchy on the device.
const remoteDumpPath = "/sdcard/window_dump.xml"

// execCommandContext is swapped out in tests to avoid spawning real processes.
var execCommandContext = exec.CommandContext

// Info describes one attached device as reported by `adb devices`.
type Info struct {
	Serial string
	State  string
}

// Snapshot is an immutable structural capture of the on-screen UI hierarchy.
type Snapshot struct {
	// XML is the raw uiautomator dump.
	XML string
	// Compact is the pruned hierarchy used for prompting.
	Compact string
	CapturedAt time.Time
}

// Device executes primitive input actions against an Android device through
// the adb binary and captures UI state from it. A Device is exclusively owned
// by one run at a time.
type Device struct {
	adbPath        string
	serial         string
	commandTimeout time.Duration
	captureTimeout time.Duration
	logger         *zap.Logger
}

// New resolves the adb binary and returns a Device bound to the configured
// serial. It does not contact the device; HealthCheck does that.
func New(cfg config.ADBConfig, logger *zap.Logger) (*Device, error) {
	path, err := resolveADBPath(cfg.Path)
	if err != nil {
		return nil, err
	}
	return &Device{
		adbPath:        path,
		serial:         cfg.DeviceID,
		commandTimeout: cfg.CommandTimeout,
		captureTimeout: cfg.CaptureTimeout,
		logger:         logger.Named("adb"),
	}, nil
}

func resolveADBPath(configured string) (string, error) {
	if configured != "" {
		if _, err := os.Stat(configured); err != nil {
			return "", fmt.Errorf("configured adb binary not found at %s: %w", configured, err)
		}
		return configured, nil
	}

	androidHome := os.Getenv("ANDROID_HOME")
	if androidHome == "" {
		return "", fmt.Errorf("adb.path is not configured and ANDROID_HOME is not set")
	}
	path := filepath.Join(androidHome, "platform-tools", "adb")
	if _, err := os.Stat(path); err != nil {
		// Windows SDK layouts ship adb.exe.
		if _, exeErr := os.Stat(path + ".exe"); exeErr == nil {
			return path + ".exe", nil
		}
		return "", fmt.Errorf("adb binary not found at %s: %w", path, err)
	}
	return path, nil
}

// run executes a single adb invocation bounded by the given timeout. The
// returned error is always a *DeviceError classified as transient or fatal.
func (d *Device) run(ctx context.Context, op string, timeout time.Duration, args ...string) (string, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	full := args
	if d.serial != "" {
		full = append([]string{"-s", d.serial}, args...)
	}

	cmd := execCommandContext(ctx, d.adbPath, full...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	d.logger.Debug("Running adb command", zap.Strings("args", full))
	if err := cmd.Run(); err != nil {
		detail := strings.TrimSpace(stderr.String())
		if ctx.Err() != nil {
			err = fmt.Errorf("%w (after %s)", ctx.Err(), timeout)
		}
		derr := classify(op, detail, err)
		d.logger.Warn("adb command failed",
			zap.Strings("args", full),
			zap.String("stderr", detail),
			zap.Bool("fatal", derr.Fatal),
			zap.Error(err))
		return "", derr
	}
	return stdout.String(), nil
}

// Devices lists attached devices, skipping the header and entries that are
// not in the "device" state.
func (d *Device) Devices(ctx context.Context) ([]Info, error) {
	out, err := d.run(ctx, "devices", d.commandTimeout, "devices")
	if err != nil {
		return nil, err
	}
	return parseDevices(out), nil
}

func parseDevices(out string) []Info {
	var infos []Info
	lines := strings.Split(out, "\n")
	for i, line := range lines {
		line = strings.TrimSpace(line)
		if i == 0 || line == "" {
			// First line is the "List of devices attached" header.
			continue
		}
		parts := strings.Split(line, "\t")
		if len(parts) < 2 {
			continue
		}
		infos = append(infos, Info{Serial: parts[0], State: parts[1]})
	}
	return infos
}

// HealthCheck reports whether the target device is attached and usable.
// With no configured serial, exactly one ready device must be attached.
func (d *Device) HealthCheck(ctx context.Context) bool {
	infos, err := d.Devices(ctx)
	if err != nil {
		return false
	}

	var ready []Info
	for _, info := range infos {
		if info.State == "device" {
			ready = append(ready, info)
		}
	}

	if d.serial != "" {
		for _, info := range ready {
			if info.Serial == d.serial {
				return true
			}
		}
		d.logger.Warn("Configured device not attached", zap.String("serial", d.serial))
		return false
	}

	switch len(ready) {
	case 1:
		return true
	case 0:
		d.logger.Warn("No devices attached")
		return false
	default:
		d.logger.Warn("Multiple devices attached; set adb.device_id to pick one",
			zap.Int("count", len(ready)))
		return false
	}
}

// Property reads a system property from the device, e.g. ro.product.model.
func (d *Device) Property(ctx context.Context, name string) (string, error) {
	out, err := d.run(ctx, "getprop", d.commandTimeout, "shell", "getprop", name)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

var wmSizeRegex = regexp.MustCompile(`(?m)^(?:Physical|Override) size:\s*(\d+)x(\d+)`)

// ScreenSize reads the device resolution from `wm size`. An override
// resolution, when present, wins over the physical one.
func (d *Device) ScreenSize(ctx context.Context) (action.ScreenSize, error) {
	out, err := d.run(ctx, "wm size", d.commandTimeout, "shell", "wm", "size")
	if err != nil {
		return action.ScreenSize{}, err
	}

	matches := wmSizeRegex.FindAllStringSubmatch(out, -1)
	if len(matches) == 0 {
		return action.ScreenSize{}, classify("wm size", fmt.Sprintf("unexpected output %q", strings.TrimSpace(out)), nil)
	}
	// The last match is the override when one is set.
	m := matches[len(matches)-1]
	width, _ := strconv.Atoi(m[1])
	height, _ := strconv.Atoi(m[2])
	return action.ScreenSize{Width: width, Height: height}, nil
}

// CaptureUI dumps the current UI hierarchy on the device, pulls it off, and
// returns it together with a compacted form. The snapshot is immutable and
// owned by the caller.
func (d *Device) CaptureUI(ctx context.Context) (*Snapshot, error) {
	if _, err := d.run(ctx, "capture", d.captureTimeout, "shell", "uiautomator", "dump", remoteDumpPath); err != nil {
		return nil, err
	}

	local := filepath.Join(os.TempDir(), fmt.Sprintf("droidprobe_dump_%d.xml", time.Now().UnixNano()))
	defer os.Remove(local)

	if _, err := d.run(ctx, "capture", d.captureTimeout, "pull", remoteDumpPath, local); err != nil {
		return nil, err
	}

	raw, err := os.ReadFile(local)
	if err != nil {
		return nil, classify("capture", fmt.Sprintf("cannot read pulled dump: %v", err), err)
	}

	snapshot := &Snapshot{XML: string(raw), CapturedAt: time.Now().UTC()}
	compact, err := CompactHierarchy(snapshot.XML)
	if err != nil {
		// A dump that doesn't parse is still usable raw; log and fall back.
		d.logger.Warn("Failed to compact UI hierarchy, using raw dump", zap.Error(err))
		snapshot.Compact = snapshot.XML
		return snapshot, nil
	}
	snapshot.Compact = compact
	return snapshot, nil
}

// Dispatch executes a device input action. Control actions (end, error) are
// handled by the loop and rejected here.
func (d *Device) Dispatch(ctx context.Context, act action.Action) error {
	var args []string
	switch act.Kind {
	case action.KindTouch:
		args = []string{"shell", "input", "tap",
			strconv.Itoa(act.Pos.X), strconv.Itoa(act.Pos.Y)}
	case action.KindSwipe:
		args = []string{"shell", "input", "swipe",
			strconv.Itoa(act.Start.X), strconv.Itoa(act.Start.Y),
			strconv.Itoa(act.End.X), strconv.Itoa(act.End.Y),
			strconv.Itoa(act.DurationMs)}
	case action.KindText:
		if act.Text == "" {
			// Nothing to type; a no-op by contract.
			return nil
		}
		args = []string{"shell", "input", "text", escapeText(act.Text)}
	case action.KindKey:
		args = []string{"shell", "input", "keyevent", strconv.Itoa(act.KeyCode)}
	default:
		return fmt.Errorf("action %q is not dispatchable to the device", act.Kind)
	}

	d.logger.Debug("Dispatching action", zap.String("action", act.String()))
	_, err := d.run(ctx, "dispatch", d.commandTimeout, args...)
	return err
}

// escapeText prepares a string for `adb shell input text`, which requires
// spaces encoded as %s and shell metacharacters escaped.
func escapeText(text string) string {
	replacer := strings.NewReplacer(
		" ", "%s",
		"\\", "\\\\",
		"\"", "\\\"",
		"'", "\\'",
		"(", "\\(",
		")", "\\)",
		"<", "\\<",
		">", "\\>",
		"|", "\\|",
		";", "\\;",
		"&", "\\&",
		"*", "\\*",
		"~", "\\~",
		"$", "\\$",
		"`", "\\`",
	)
	return replacer.Replace(text)
}
