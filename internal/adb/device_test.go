// File: internal/adb/device_test.go
package adb

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/droidprobe-cli/internal/action"
	"github.com/xkilldash9x/droidprobe-cli/internal/config"
)

// writeFakeADB writes a shell script standing in for the adb binary, so the
// Device runs a real subprocess without a real device.
func writeFakeADB(t *testing.T, script string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake adb script requires a POSIX shell")
	}
	path := filepath.Join(t.TempDir(), "adb")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+script), 0o755))
	return path
}

func newTestDevice(t *testing.T, adbPath, serial string) *Device {
	t.Helper()
	dev, err := New(config.ADBConfig{
		Path:           adbPath,
		DeviceID:       serial,
		CommandTimeout: 5 * time.Second,
		CaptureTimeout: 5 * time.Second,
	}, zaptest.NewLogger(t))
	require.NoError(t, err)
	return dev
}

// -- Construction --

func TestNewMissingBinary(t *testing.T) {
	_, err := New(config.ADBConfig{Path: "/nonexistent/adb"}, zaptest.NewLogger(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestNewWithoutPathOrAndroidHome(t *testing.T) {
	t.Setenv("ANDROID_HOME", "")
	_, err := New(config.ADBConfig{}, zaptest.NewLogger(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ANDROID_HOME")
}

func TestNewResolvesFromAndroidHome(t *testing.T) {
	home := t.TempDir()
	tools := filepath.Join(home, "platform-tools")
	require.NoError(t, os.MkdirAll(tools, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(tools, "adb"), []byte("#!/bin/sh\n"), 0o755))
	t.Setenv("ANDROID_HOME", home)

	dev, err := New(config.ADBConfig{CommandTimeout: time.Second}, zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(tools, "adb"), dev.adbPath)
}

// -- Device listing and health --

func TestParseDevices(t *testing.T) {
	out := "List of devices attached\n" +
		"emulator-5554\tdevice\n" +
		"ZY22FJH8XK\tunauthorized\n" +
		"\n"
	infos := parseDevices(out)
	require.Len(t, infos, 2)
	assert.Equal(t, Info{Serial: "emulator-5554", State: "device"}, infos[0])
	assert.Equal(t, Info{Serial: "ZY22FJH8XK", State: "unauthorized"}, infos[1])
}

func TestHealthCheck(t *testing.T) {
	singleDevice := `printf 'List of devices attached\nemulator-5554\tdevice\n'`

	t.Run("single attached device passes without serial", func(t *testing.T) {
		dev := newTestDevice(t, writeFakeADB(t, singleDevice), "")
		assert.True(t, dev.HealthCheck(context.Background()))
	})

	t.Run("configured serial must be attached", func(t *testing.T) {
		dev := newTestDevice(t, writeFakeADB(t, singleDevice), "emulator-5554")
		assert.True(t, dev.HealthCheck(context.Background()))

		dev = newTestDevice(t, writeFakeADB(t, singleDevice), "other-serial")
		assert.False(t, dev.HealthCheck(context.Background()))
	})

	t.Run("multiple attached devices require a serial", func(t *testing.T) {
		script := `printf 'List of devices attached\nemulator-5554\tdevice\nZY22FJH8XK\tdevice\n'`
		dev := newTestDevice(t, writeFakeADB(t, script), "")
		assert.False(t, dev.HealthCheck(context.Background()))

		dev = newTestDevice(t, writeFakeADB(t, script), "ZY22FJH8XK")
		assert.True(t, dev.HealthCheck(context.Background()))
	})

	t.Run("unauthorized devices are not ready", func(t *testing.T) {
		script := `printf 'List of devices attached\nemulator-5554\tunauthorized\n'`
		dev := newTestDevice(t, writeFakeADB(t, script), "")
		assert.False(t, dev.HealthCheck(context.Background()))
	})

	t.Run("adb failure is unhealthy", func(t *testing.T) {
		dev := newTestDevice(t, writeFakeADB(t, `exit 1`), "")
		assert.False(t, dev.HealthCheck(context.Background()))
	})
}

// -- Screen size --

func TestScreenSize(t *testing.T) {
	t.Run("physical size", func(t *testing.T) {
		dev := newTestDevice(t, writeFakeADB(t, `printf 'Physical size: 1080x2400\n'`), "")
		size, err := dev.ScreenSize(context.Background())
		require.NoError(t, err)
		assert.Equal(t, action.ScreenSize{Width: 1080, Height: 2400}, size)
	})

	t.Run("override wins over physical", func(t *testing.T) {
		dev := newTestDevice(t, writeFakeADB(t, `printf 'Physical size: 1080x2400\nOverride size: 720x1600\n'`), "")
		size, err := dev.ScreenSize(context.Background())
		require.NoError(t, err)
		assert.Equal(t, action.ScreenSize{Width: 720, Height: 1600}, size)
	})

	t.Run("garbage output is a device error", func(t *testing.T) {
		dev := newTestDevice(t, writeFakeADB(t, `printf 'nope\n'`), "")
		_, err := dev.ScreenSize(context.Background())
		var derr *DeviceError
		require.True(t, errors.As(err, &derr))
	})
}

// -- Dispatch --

// dispatchRecorder returns a fake adb that appends each invocation's
// arguments to a log file, one line per call.
func dispatchRecorder(t *testing.T) (*Device, string) {
	t.Helper()
	logFile := filepath.Join(t.TempDir(), "calls.log")
	script := fmt.Sprintf(`echo "$@" >> %q`, logFile)
	dev := newTestDevice(t, writeFakeADB(t, script), "emulator-5554")
	return dev, logFile
}

func recordedCalls(t *testing.T, logFile string) []string {
	t.Helper()
	data, err := os.ReadFile(logFile)
	require.NoError(t, err)
	return strings.Split(strings.TrimSpace(string(data)), "\n")
}

func TestDispatchTouch(t *testing.T) {
	dev, logFile := dispatchRecorder(t)
	err := dev.Dispatch(context.Background(), action.Action{Kind: action.KindTouch, Pos: action.Coordinates{X: 500, Y: 100}})
	require.NoError(t, err)

	calls := recordedCalls(t, logFile)
	require.Len(t, calls, 1)
	assert.Equal(t, "-s emulator-5554 shell input tap 500 100", calls[0])
}

func TestDispatchSwipe(t *testing.T) {
	dev, logFile := dispatchRecorder(t)
	err := dev.Dispatch(context.Background(), action.Action{
		Kind:       action.KindSwipe,
		Start:      action.Coordinates{X: 100, Y: 200},
		End:        action.Coordinates{X: 300, Y: 400},
		DurationMs: 250,
	})
	require.NoError(t, err)

	calls := recordedCalls(t, logFile)
	require.Len(t, calls, 1)
	assert.Equal(t, "-s emulator-5554 shell input swipe 100 200 300 400 250", calls[0])
}

func TestDispatchKey(t *testing.T) {
	dev, logFile := dispatchRecorder(t)
	err := dev.Dispatch(context.Background(), action.Action{Kind: action.KindKey, KeyCode: KeyBack})
	require.NoError(t, err)

	calls := recordedCalls(t, logFile)
	assert.Equal(t, "-s emulator-5554 shell input keyevent 4", calls[0])
}

func TestDispatchText(t *testing.T) {
	dev, logFile := dispatchRecorder(t)
	err := dev.Dispatch(context.Background(), action.Action{Kind: action.KindText, Text: "hello world"})
	require.NoError(t, err)

	calls := recordedCalls(t, logFile)
	assert.Contains(t, calls[0], "shell input text hello%sworld")
}

func TestDispatchEmptyTextIsNoop(t *testing.T) {
	dev, logFile := dispatchRecorder(t)
	err := dev.Dispatch(context.Background(), action.Action{Kind: action.KindText, Text: ""})
	require.NoError(t, err)
	_, statErr := os.Stat(logFile)
	assert.True(t, os.IsNotExist(statErr), "empty text must not invoke adb")
}

func TestDispatchRejectsControlActions(t *testing.T) {
	dev, _ := dispatchRecorder(t)
	err := dev.Dispatch(context.Background(), action.Action{Kind: action.KindEnd})
	require.Error(t, err)

	err = dev.Dispatch(context.Background(), action.Action{Kind: action.KindError, Reason: "nope"})
	require.Error(t, err)
}

func TestEscapeText(t *testing.T) {
	assert.Equal(t, "hello%sworld", escapeText("hello world"))
	assert.Equal(t, `a\&b`, escapeText("a&b"))
	assert.Equal(t, `\$HOME`, escapeText("$HOME"))
}

// -- Capture --

func TestCaptureUI(t *testing.T) {
	dump := `<?xml version='1.0' encoding='UTF-8'?><hierarchy rotation="0"><node class="android.widget.Button" text="OK" clickable="true" bounds="[0,0][100,50]" index="0" package="com.example"/></hierarchy>`
	// Fake adb: ignore the dump, write the XML to the pull destination.
	script := fmt.Sprintf(`
case "$*" in
  *pull*) dst=$(echo "$@" | awk '{print $NF}'); printf %%s %q > "$dst" ;;
  *) : ;;
esac`, dump)

	dev := newTestDevice(t, writeFakeADB(t, script), "")
	snap, err := dev.CaptureUI(context.Background())
	require.NoError(t, err)

	assert.Contains(t, snap.XML, "android.widget.Button")
	assert.Contains(t, snap.Compact, "android.widget.Button")
	assert.Contains(t, snap.Compact, `clickable="true"`)
	assert.NotContains(t, snap.Compact, "package", "compaction should drop decorative attributes")
	assert.False(t, snap.CapturedAt.IsZero())
}

func TestCaptureUIDeviceFailure(t *testing.T) {
	dev := newTestDevice(t, writeFakeADB(t, `echo 'error: device offline' >&2; exit 1`), "")
	_, err := dev.CaptureUI(context.Background())
	require.Error(t, err)
	assert.True(t, IsFatalDeviceError(err))
}

// -- Error classification --

func TestClassify(t *testing.T) {
	derr := classify("dispatch", "error: device 'emulator-5554' not found", errors.New("exit status 1"))
	assert.True(t, derr.Fatal)

	derr = classify("capture", "something flaky happened", errors.New("exit status 1"))
	assert.False(t, derr.Fatal)

	derr = classify("devices", "no devices/emulators found", nil)
	assert.True(t, derr.Fatal)
}

func TestPropertyTrimsOutput(t *testing.T) {
	dev := newTestDevice(t, writeFakeADB(t, `printf 'Pixel 7\n'`), "")
	model, err := dev.Property(context.Background(), "ro.product.model")
	require.NoError(t, err)
	assert.Equal(t, "Pixel 7", model)
}
