// internal/device/adb.go
package device

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"math"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/xkilldash9x/droidpilot/internal/action"
	"github.com/xkilldash9x/droidpilot/internal/config"
	"github.com/xkilldash9x/droidpilot/internal/snapshot"
)

const (
	keycodeHome = "3"
	keycodeBack = "4"

	// Broadcast understood by the ADB Keyboard IME; plain "input text" only handles ASCII.
	imeBase64Action = "ADB_INPUT_B64"
)

// Messages adb prints when the handset cannot be reached at all.
var unavailableMarkers = []string{
	"no devices/emulators found",
	"device offline",
	"unauthorized",
	"error: device",
	"cannot connect",
}

// ADB drives a handset through the adb command line tool. It is the screen
// source, the input effector and the screenshot source for a run.
type ADB struct {
	cfg        config.DeviceConfig
	runner     Runner
	logger     *zap.Logger
	newBackOff func() backoff.BackOff

	mu       sync.Mutex
	hasLast  bool
	lastHash uint64
}

// Option configures an ADB client.
type Option func(*ADB)

// WithRunner replaces the host command runner.
func WithRunner(r Runner) Option {
	return func(a *ADB) { a.runner = r }
}

// WithDumpBackOff sets the retry policy for hierarchy dumps.
func WithDumpBackOff(fn func() backoff.BackOff) Option {
	return func(a *ADB) { a.newBackOff = fn }
}

// NewADB builds a client for the configured device.
func NewADB(cfg config.DeviceConfig, logger *zap.Logger, opts ...Option) *ADB {
	if cfg.ADBPath == "" {
		cfg.ADBPath = "adb"
	}
	if cfg.DumpPath == "" {
		cfg.DumpPath = "/sdcard/window_dump.xml"
	}
	a := &ADB{
		cfg:    cfg,
		runner: execRunner{},
		logger: logger.Named("adb"),
		newBackOff: func() backoff.BackOff {
			return backoff.WithMaxRetries(backoff.NewConstantBackOff(300*time.Millisecond), 2)
		},
	}
	if cfg.Serial != "" {
		a.logger = a.logger.With(zap.String("serial", cfg.Serial))
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// -- Screen source --

// Capture dumps the hierarchy and marks the snapshot Unchanged when its hash
// matches the previous capture. A missing accessibility root yields an empty
// snapshot.
func (a *ADB) Capture(ctx context.Context) (snapshot.Snapshot, error) {
	nodes, err := a.Nodes(ctx)
	if err != nil && !errors.Is(err, ErrNoRoot) {
		return snapshot.Snapshot{}, err
	}
	if errors.Is(err, ErrNoRoot) {
		a.logger.Debug("No accessibility root, returning empty screen.")
		nodes = []snapshot.Node{}
	}

	snap := snapshot.Snapshot{Nodes: nodes}
	hash := snap.Hash()

	a.mu.Lock()
	snap.Unchanged = a.hasLast && a.lastHash == hash
	a.hasLast, a.lastHash = true, hash
	a.mu.Unlock()
	return snap, nil
}

// ResetChangeTracking forgets the previous capture.
func (a *ADB) ResetChangeTracking() {
	a.mu.Lock()
	a.hasLast, a.lastHash = false, 0
	a.mu.Unlock()
}

// Dump returns the serialized node list of the current screen.
func (a *ADB) Dump(ctx context.Context) (string, error) {
	nodes, err := a.Nodes(ctx)
	if errors.Is(err, ErrNoRoot) {
		return "[]", nil
	}
	if err != nil {
		return "", err
	}
	return snapshot.Snapshot{Nodes: nodes}.Serialize(), nil
}

// Nodes dumps and parses the current hierarchy, retrying transient dump
// failures.
func (a *ADB) Nodes(ctx context.Context) ([]snapshot.Node, error) {
	var nodes []snapshot.Node
	op := func() error {
		raw, err := a.dumpXML(ctx)
		if err != nil {
			if errors.Is(err, snapshot.ErrSourceUnavailable) || errors.Is(err, ErrNoRoot) {
				return backoff.Permanent(err)
			}
			return err
		}
		parsed, err := ParseHierarchy(raw)
		if err != nil {
			if errors.Is(err, ErrNoRoot) {
				return backoff.Permanent(err)
			}
			return err
		}
		nodes = parsed
		return nil
	}
	notify := func(err error, wait time.Duration) {
		a.logger.Debug("Hierarchy dump failed, retrying.", zap.Error(err), zap.Duration("wait", wait))
	}
	if err := backoff.RetryNotify(op, backoff.WithContext(a.newBackOff(), ctx), notify); err != nil {
		return nil, err
	}
	return nodes, nil
}

func (a *ADB) dumpXML(ctx context.Context) ([]byte, error) {
	out, err := a.shell(ctx, "uiautomator", "dump", a.cfg.DumpPath)
	if err != nil {
		if strings.Contains(strings.ToLower(errText(err)), "null root node") {
			return nil, ErrNoRoot
		}
		return nil, fmt.Errorf("dumping hierarchy: %w", err)
	}
	if bytes.Contains(bytes.ToLower(out), []byte("null root node")) {
		return nil, ErrNoRoot
	}
	raw, err := a.run(ctx, "exec-out", "cat", a.cfg.DumpPath)
	if err != nil {
		return nil, fmt.Errorf("reading hierarchy dump: %w", err)
	}
	return raw, nil
}

// -- Screenshots --

// Screenshot captures the screen as PNG.
func (a *ADB) Screenshot(ctx context.Context) ([]byte, string, error) {
	data, err := a.run(ctx, "exec-out", "screencap", "-p")
	if err != nil {
		return nil, "", fmt.Errorf("capturing screenshot: %w", err)
	}
	if len(data) == 0 {
		return nil, "", errors.New("capturing screenshot: empty image")
	}
	return data, "image/png", nil
}

// -- Effector --

func (a *ADB) Click(ctx context.Context, x, y float64) error {
	_, err := a.shell(ctx, "input", "tap", coord(x), coord(y))
	return err
}

func (a *ADB) LongPress(ctx context.Context, x, y float64, d time.Duration) error {
	return a.Swipe(ctx, x, y, x, y, d)
}

func (a *ADB) Drag(ctx context.Context, x1, y1, x2, y2 float64, d time.Duration) error {
	_, err := a.shell(ctx, "input", "draganddrop", coord(x1), coord(y1), coord(x2), coord(y2), millis(d))
	return err
}

func (a *ADB) Swipe(ctx context.Context, x1, y1, x2, y2 float64, d time.Duration) error {
	_, err := a.shell(ctx, "input", "swipe", coord(x1), coord(y1), coord(x2), coord(y2), millis(d))
	return err
}

// Input focuses at, when set, then types text. ASCII goes through
// "input text"; anything else is sent to the ADB Keyboard IME.
func (a *ADB) Input(ctx context.Context, text string, at *action.Point) (bool, error) {
	if at != nil {
		if err := a.Click(ctx, at.X, at.Y); err != nil {
			return false, fmt.Errorf("focusing input: %w", err)
		}
	}
	if isASCII(text) {
		if _, err := a.shell(ctx, "input", "text", escapeInputText(text)); err != nil {
			return false, err
		}
		return true, nil
	}

	encoded := base64.StdEncoding.EncodeToString([]byte(text))
	out, err := a.shell(ctx, "am", "broadcast", "-a", imeBase64Action, "--es", "msg", encoded)
	if err != nil {
		return false, err
	}
	if !bytes.Contains(out, []byte("Broadcast completed")) {
		a.logger.Warn("IME broadcast was not acknowledged.", zap.ByteString("output", bytes.TrimSpace(out)))
		return false, nil
	}
	return true, nil
}

func (a *ADB) Back(ctx context.Context) error {
	_, err := a.shell(ctx, "input", "keyevent", keycodeBack)
	return err
}

func (a *ADB) Home(ctx context.Context) error {
	_, err := a.shell(ctx, "input", "keyevent", keycodeHome)
	return err
}

// -- Plumbing --

func (a *ADB) shell(ctx context.Context, args ...string) ([]byte, error) {
	return a.run(ctx, append([]string{"shell"}, args...)...)
}

func (a *ADB) run(ctx context.Context, args ...string) ([]byte, error) {
	if a.cfg.CommandTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.cfg.CommandTimeout)
		defer cancel()
	}
	full := args
	if a.cfg.Serial != "" {
		full = append([]string{"-s", a.cfg.Serial}, args...)
	}
	out, err := a.runner.Run(ctx, a.cfg.ADBPath, full...)
	if err != nil {
		return out, classify(err)
	}
	return out, nil
}

// classify marks errors that mean the device or the adb binary is gone.
func classify(err error) error {
	if errors.Is(err, exec.ErrNotFound) {
		return fmt.Errorf("%w: %w", snapshot.ErrSourceUnavailable, err)
	}
	msg := strings.ToLower(errText(err))
	for _, marker := range unavailableMarkers {
		if strings.Contains(msg, marker) {
			return fmt.Errorf("%w: %w", snapshot.ErrSourceUnavailable, err)
		}
	}
	return err
}

func errText(err error) string {
	var cmdErr *CommandError
	if errors.As(err, &cmdErr) {
		return cmdErr.Stderr
	}
	return err.Error()
}

func coord(v float64) string {
	return strconv.Itoa(int(math.Round(v)))
}

func millis(d time.Duration) string {
	return strconv.FormatInt(d.Milliseconds(), 10)
}

func isASCII(s string) bool {
	for _, r := range s {
		if r > unicode.MaxASCII {
			return false
		}
	}
	return true
}

// escapeInputText prepares text for "input text", which runs through the
// device shell and reads %s as a space.
func escapeInputText(s string) string {
	s = strings.ReplaceAll(s, "%", `\%`)
	s = strings.ReplaceAll(s, " ", "%s")
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
