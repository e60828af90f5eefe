// internal/action/action.go
package action

import (
	"fmt"
	"strconv"
	"time"
)

// Type names the action discriminator used on the wire.
type Type string

const (
	TypeClick     Type = "click"
	TypeInput     Type = "input"
	TypeBack      Type = "back"
	TypeHome      Type = "home"
	TypeWait      Type = "wait"
	TypeScroll    Type = "scroll"
	TypeLongPress Type = "long_press"
	TypeDrag      Type = "drag"
	TypeDone      Type = "done"
)

// Defaults applied when the model leaves a field out. DefaultWait covers an
// absent or non-numeric "s"; an explicit zero or negative value means no wait.
const (
	DefaultWait              = 2 * time.Second
	DefaultLongPressDuration = 1000 * time.Millisecond
	DefaultDragDuration      = 800 * time.Millisecond
	DefaultDoneReason        = "completed"
)

// Upper bounds for model supplied durations. Larger values are clamped.
const (
	MaxWait            = time.Minute
	MaxGestureDuration = 10 * time.Second
)

// Point is a screen coordinate in pixels.
type Point struct {
	X, Y float64
}

func (p Point) String() string {
	return formatCoord(p.X) + "," + formatCoord(p.Y)
}

func formatCoord(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }

// Direction of a scroll gesture, in content terms: "down" reveals content below.
type Direction string

const (
	DirectionUp    Direction = "up"
	DirectionDown  Direction = "down"
	DirectionLeft  Direction = "left"
	DirectionRight Direction = "right"
)

// Command is the closed set of actions the loop can dispatch.
// Every implementation lives in this package.
type Command interface {
	Type() Type
	// Signature identifies the action for repeat detection.
	Signature() string
	// Describe is the human-readable history line.
	Describe() string
	sealed()
}

type Click struct{ At Point }

func (Click) Type() Type          { return TypeClick }
func (c Click) Signature() string { return "click:" + c.At.String() }
func (c Click) Describe() string  { return fmt.Sprintf("clicked (%s)", c.At) }
func (Click) sealed()             {}

// Input types Text, tapping At first when it is set.
type Input struct {
	Text string
	At   *Point
}

func (Input) Type() Type { return TypeInput }
func (i Input) Signature() string {
	if i.At != nil {
		return "input:" + i.At.String()
	}
	return "input:" + i.Text
}
func (i Input) Describe() string {
	if i.At != nil {
		return fmt.Sprintf("typed %q at (%s)", i.Text, i.At)
	}
	return fmt.Sprintf("typed %q", i.Text)
}
func (Input) sealed() {}

type Back struct{}

func (Back) Type() Type        { return TypeBack }
func (Back) Signature() string { return "back" }
func (Back) Describe() string  { return "pressed back" }
func (Back) sealed()           {}

type Home struct{}

func (Home) Type() Type        { return TypeHome }
func (Home) Signature() string { return "home" }
func (Home) Describe() string  { return "pressed home" }
func (Home) sealed()           {}

type Wait struct{ Duration time.Duration }

func (Wait) Type() Type          { return TypeWait }
func (w Wait) Signature() string { return "wait:" + w.Duration.String() }
func (w Wait) Describe() string  { return fmt.Sprintf("waited %s", w.Duration) }
func (Wait) sealed()             {}

type Scroll struct{ Direction Direction }

func (Scroll) Type() Type          { return TypeScroll }
func (s Scroll) Signature() string { return "scroll:" + string(s.Direction) }
func (s Scroll) Describe() string  { return "scrolled " + string(s.Direction) }
func (Scroll) sealed()             {}

type LongPress struct {
	At       Point
	Duration time.Duration
}

func (LongPress) Type() Type          { return TypeLongPress }
func (l LongPress) Signature() string { return "long_press:" + l.At.String() }
func (l LongPress) Describe() string  { return fmt.Sprintf("long-pressed (%s) for %s", l.At, l.Duration) }
func (LongPress) sealed()             {}

type Drag struct {
	From, To Point
	Duration time.Duration
}

func (Drag) Type() Type          { return TypeDrag }
func (d Drag) Signature() string { return "drag:" + d.From.String() + "->" + d.To.String() }
func (d Drag) Describe() string  { return fmt.Sprintf("dragged (%s) to (%s)", d.From, d.To) }
func (Drag) sealed()             {}

type Done struct{ Reason string }

func (Done) Type() Type         { return TypeDone }
func (Done) Signature() string  { return "done" }
func (d Done) Describe() string { return "finished: " + d.Reason }
func (Done) sealed()            {}

// Unknown carries a discriminator the loop does not understand. It is never dispatched.
type Unknown struct{ Raw string }

func (u Unknown) Type() Type        { return Type(u.Raw) }
func (u Unknown) Signature() string { return "unknown:" + u.Raw }
func (u Unknown) Describe() string  { return "ignored unknown action " + strconv.Quote(u.Raw) }
func (Unknown) sealed()             {}

// Action is a parsed model turn: the command plus its envelope fields.
type Action struct {
	Command       Command
	Thought       string
	StepCompleted bool
}
