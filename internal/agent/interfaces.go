// File: internal/agent/interfaces.go
package agent

import (
	"context"
	"time"

	"github.com/xkilldash9x/droidpilot/internal/action"
	"github.com/xkilldash9x/droidpilot/internal/snapshot"
)

// UIStateSource captures the current screen. A capture error wrapping
// snapshot.ErrSourceUnavailable ends the run; any other error skips the tick.
type UIStateSource interface {
	Capture(ctx context.Context) (snapshot.Snapshot, error)
}

// ChangeTracker is implemented by sources that remember their previous
// capture. The session resets it when a run starts so the first tick always
// sees a full snapshot.
type ChangeTracker interface {
	ResetChangeTracking()
}

// Effector injects input into the device. Errors are logged by the loop and
// otherwise treated like success.
type Effector interface {
	Click(ctx context.Context, x, y float64) error
	LongPress(ctx context.Context, x, y float64, d time.Duration) error
	Drag(ctx context.Context, x1, y1, x2, y2 float64, d time.Duration) error
	Swipe(ctx context.Context, x1, y1, x2, y2 float64, d time.Duration) error
	// Input taps at, when set, then types text. The boolean reports whether the
	// text was set.
	Input(ctx context.Context, text string, at *action.Point) (bool, error)
	Back(ctx context.Context) error
	Home(ctx context.Context) error
}

// ScreenshotSource captures the screen as an encoded image for vision prompts.
type ScreenshotSource interface {
	Screenshot(ctx context.Context) (data []byte, mimeType string, err error)
}
