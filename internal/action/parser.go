// internal/action/parser.go
package action

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	json "github.com/json-iterator/go"

	"github.com/xkilldash9x/droidpilot/internal/llmutil"
)

// Kind enumerates the parser outcomes.
type Kind int

const (
	KindOK Kind = iota
	// KindNoAction means the text held no JSON object at all.
	KindNoAction
	// KindParseError means an object was found but could not be used.
	KindParseError
)

func (k Kind) String() string {
	switch k {
	case KindOK:
		return "ok"
	case KindNoAction:
		return "no_action"
	case KindParseError:
		return "parse_error"
	default:
		return "kind(" + strconv.Itoa(int(k)) + ")"
	}
}

// Result is the outcome of parsing one model turn. Action is only meaningful for KindOK.
type Result struct {
	Kind   Kind
	Action Action
	Detail string
}

// OK reports whether the result carries a dispatchable action.
func (r Result) OK() bool { return r.Kind == KindOK }

func noAction(detail string) Result { return Result{Kind: KindNoAction, Detail: detail} }

func parseError(format string, args ...any) Result {
	return Result{Kind: KindParseError, Detail: fmt.Sprintf(format, args...)}
}

// Parser turns free-form model output into an Action.
type Parser struct {
	// OriginFallback turns an action whose coordinates cannot be read into a
	// click at (0,0) instead of a parse error.
	OriginFallback bool
}

// Parse runs the default parser, which rejects unreadable coordinates.
func Parse(raw string) Result {
	return Parser{}.Parse(raw)
}

// Parse extracts the first-{ to last-} span of raw and validates it as an action.
func (p Parser) Parse(raw string) Result {
	obj, ok := llmutil.ExtractObject(raw)
	if !ok {
		return noAction("no JSON object in model output")
	}

	var fields map[string]any
	if err := json.ConfigCompatibleWithStandardLibrary.Unmarshal([]byte(obj), &fields); err != nil {
		return parseError("invalid JSON: %v", err)
	}

	kind := discriminator(fields)
	if kind == "" {
		return parseError("missing action discriminator")
	}

	envelope := Action{
		Thought:       firstString(fields, "th", "thought"),
		StepCompleted: firstBool(fields, "step_completed", "stepCompleted"),
	}

	cmd, res := p.command(Type(kind), fields)
	if res != nil {
		return *res
	}
	envelope.Command = cmd
	return Result{Kind: KindOK, Action: envelope}
}

func (p Parser) command(t Type, fields map[string]any) (Command, *Result) {
	switch t {
	case TypeClick:
		at, ok := point(fields)
		if !ok {
			return p.fallback(t)
		}
		return Click{At: at}, nil

	case TypeInput:
		in := Input{Text: firstString(fields, "text")}
		if at, ok := point(fields); ok {
			in.At = &at
		}
		return in, nil

	case TypeBack:
		return Back{}, nil

	case TypeHome:
		return Home{}, nil

	case TypeWait:
		wait := DefaultWait
		if secs, ok := firstNumber(fields, "s", "seconds"); ok {
			wait = bounded(secs, time.Second, MaxWait)
		}
		return Wait{Duration: wait}, nil

	case TypeScroll:
		dir := Direction(strings.ToLower(firstString(fields, "direction", "dir")))
		switch dir {
		case "":
			dir = DirectionDown
		case DirectionUp, DirectionDown, DirectionLeft, DirectionRight:
		default:
			r := parseError("unknown scroll direction %q", dir)
			return nil, &r
		}
		return Scroll{Direction: dir}, nil

	case TypeLongPress:
		at, ok := point(fields)
		if !ok {
			return p.fallback(t)
		}
		return LongPress{At: at, Duration: millis(fields, DefaultLongPressDuration)}, nil

	case TypeDrag:
		from, ok := point(fields)
		if !ok {
			return p.fallback(t)
		}
		endX, okX := firstNumber(fields, "endX", "end_x")
		endY, okY := firstNumber(fields, "endY", "end_y")
		if !okX || !okY {
			r := parseError("drag requires endX and endY")
			return nil, &r
		}
		return Drag{From: from, To: Point{X: endX, Y: endY}, Duration: millis(fields, DefaultDragDuration)}, nil

	case TypeDone:
		reason := firstString(fields, "r", "reason")
		if reason == "" {
			reason = DefaultDoneReason
		}
		return Done{Reason: reason}, nil

	default:
		return Unknown{Raw: string(t)}, nil
	}
}

// fallback handles a coordinate action whose position could not be read.
func (p Parser) fallback(t Type) (Command, *Result) {
	if p.OriginFallback {
		return Click{}, nil
	}
	r := parseError("%s requires coordinates as x/y or \"b\":\"x,y\"", t)
	return nil, &r
}

func discriminator(fields map[string]any) string {
	kind := firstString(fields, "action", "type")
	kind = strings.ToLower(strings.TrimSpace(kind))
	return strings.NewReplacer("-", "_", " ", "_").Replace(kind)
}

// point prefers numeric x/y and falls back to a compact "b":"x,y" string.
func point(fields map[string]any) (Point, bool) {
	x, okX := number(fields["x"])
	y, okY := number(fields["y"])
	if okX && okY {
		return Point{X: x, Y: y}, true
	}

	b, ok := fields["b"].(string)
	if !ok {
		return Point{}, false
	}
	b = strings.Trim(strings.TrimSpace(b), "[]()")
	xs, ys, found := strings.Cut(b, ",")
	if !found {
		return Point{}, false
	}
	x, errX := strconv.ParseFloat(strings.TrimSpace(xs), 64)
	y, errY := strconv.ParseFloat(strings.TrimSpace(ys), 64)
	if errX != nil || errY != nil {
		return Point{}, false
	}
	return Point{X: x, Y: y}, true
}

func millis(fields map[string]any, def time.Duration) time.Duration {
	ms, ok := firstNumber(fields, "duration")
	if !ok || !(ms > 0) {
		return def
	}
	return bounded(ms, time.Millisecond, MaxGestureDuration)
}

// bounded converts v units into a duration within [0, ceiling]. The comparison
// happens in float space so huge values never reach the int64 conversion.
func bounded(v float64, unit, ceiling time.Duration) time.Duration {
	switch {
	case !(v > 0):
		return 0
	case v >= float64(ceiling)/float64(unit):
		return ceiling
	default:
		return time.Duration(v * float64(unit))
	}
}

// number accepts JSON numbers and numeric strings.
func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil && !math.IsNaN(f)
	default:
		return 0, false
	}
}

func firstNumber(fields map[string]any, keys ...string) (float64, bool) {
	for _, k := range keys {
		if n, ok := number(fields[k]); ok {
			return n, true
		}
	}
	return 0, false
}

func firstString(fields map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := fields[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

func firstBool(fields map[string]any, keys ...string) bool {
	for _, k := range keys {
		switch v := fields[k].(type) {
		case bool:
			return v
		case string:
			b, err := strconv.ParseBool(v)
			if err == nil {
				return b
			}
		}
	}
	return false
}
