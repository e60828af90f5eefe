// internal/agent/loop.go
package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/xkilldash9x/droidpilot/internal/action"
	"github.com/xkilldash9x/droidpilot/internal/config"
	"github.com/xkilldash9x/droidpilot/internal/llmclient"
	"github.com/xkilldash9x/droidpilot/internal/llmutil"
	"github.com/xkilldash9x/droidpilot/internal/plan"
	"github.com/xkilldash9x/droidpilot/internal/popup"
	"github.com/xkilldash9x/droidpilot/internal/snapshot"
	"github.com/xkilldash9x/droidpilot/internal/stuck"
)

// TickResult tells the caller whether to schedule another tick.
type TickResult int

const (
	Continue TickResult = iota
	Stop
)

func (r TickResult) String() string {
	if r == Stop {
		return "stop"
	}
	return "continue"
}

const scrollGesture = 400 * time.Millisecond

// Dependencies are the collaborators a Loop drives. Screenshots is optional.
type Dependencies struct {
	Source      UIStateSource
	Effector    Effector
	Gateway     llmclient.Gateway
	Screenshots ScreenshotSource
}

// State is a copy of the loop's run state.
type State struct {
	History       []string
	LastHash      uint64
	Signatures    []string
	Level         stuck.Level
	StepIndex     int
	Progress      string
	UnchangedRuns int
}

// Loop runs the decide-and-act cycle for one plan. Ticks must not overlap;
// the Loop itself holds no locks.
type Loop struct {
	cfg      config.AgentConfig
	deps     Dependencies
	plan     *plan.Plan
	popup    *popup.Engine
	parser   action.Parser
	detector *stuck.Detector
	logger   *zap.Logger
	events   *emitter

	history        []string
	unchangedSkips int
	outcome        *Outcome

	sleep func(ctx context.Context, d time.Duration)
}

// NewLoop creates a loop for p. The plan is advanced in place as steps complete.
func NewLoop(cfg config.AgentConfig, p *plan.Plan, deps Dependencies, logger *zap.Logger) *Loop {
	logger = logger.Named("loop").With(zap.String("plan_id", p.ID()))
	return &Loop{
		cfg:      cfg,
		deps:     deps,
		plan:     p,
		popup:    popup.NewEngine(cfg.Popup, cfg.PopupSettle, deps.Effector, logger),
		parser:   action.Parser{OriginFallback: cfg.OriginFallback},
		detector: stuck.New(cfg.ComplexityThreshold, cfg.MaxStuckTicks),
		logger:   logger,
		sleep:    sleepCtx,
	}
}

// Outcome is set once a tick has returned Stop.
func (l *Loop) Outcome() (Outcome, bool) {
	if l.outcome == nil {
		return Outcome{}, false
	}
	return *l.outcome, true
}

// State returns a copy of the run state.
func (l *Loop) State() State {
	return State{
		History:       append([]string(nil), l.history...),
		LastHash:      l.detector.LastHash(),
		Signatures:    l.detector.Signatures(),
		Level:         l.detector.Level(),
		StepIndex:     l.plan.CurrentIndex(),
		Progress:      l.plan.Progress(),
		UnchangedRuns: l.unchangedSkips,
	}
}

// Tick performs one capture, decide and act pass. Failures inside the tick
// are logged and reported as Continue; only plan completion, a done action,
// the stuck cap or an unavailable source return Stop. A panic is recovered
// and treated as Continue.
func (l *Loop) Tick(ctx context.Context) (result TickResult) {
	if l.outcome != nil {
		return Stop
	}
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("Panic recovered during tick",
				zap.Any("panic_value", r),
				zap.Stack("stack"),
			)
			l.events.log(zapcore.ErrorLevel, fmt.Sprintf("tick failed: %v", r))
			result = Continue
		}
	}()
	return l.tick(ctx)
}

func (l *Loop) tick(ctx context.Context) TickResult {
	step, ok := l.plan.CurrentStep()
	if !ok {
		return l.finish(StopPlanCompleted, "all steps completed", nil)
	}

	// 1. Capture.
	snap, err := l.deps.Source.Capture(ctx)
	if err != nil {
		if errors.Is(err, snapshot.ErrSourceUnavailable) {
			l.logger.Error("UI state source unavailable, ending run", zap.Error(err))
			return l.finish(StopSourceUnavailable, err.Error(), err)
		}
		l.logger.Warn("Capture failed, retrying next tick", zap.Error(err))
		l.events.log(zapcore.WarnLevel, "capture failed: "+err.Error())
		return Continue
	}
	if snap.Unchanged {
		if l.cfg.MaxUnchangedSkips == 0 || l.unchangedSkips < l.cfg.MaxUnchangedSkips {
			l.unchangedSkips++
			l.logger.Debug("Screen unchanged, skipping model call", zap.Int("skips", l.unchangedSkips))
			l.sleep(ctx, l.cfg.UnchangedCooldown)
			return Continue
		}
		l.logger.Info("Screen unchanged for too long, forcing a decision", zap.Int("skips", l.unchangedSkips))
	}
	l.unchangedSkips = 0

	// 2. Hash and reset heuristics.
	if l.detector.Observe(snap.Hash(), snap.NodeCount()) {
		l.logger.Debug("UI content changed",
			zap.Int("nodes", snap.NodeCount()),
			zap.Stringer("level", l.detector.Level()))
	}

	// 3. Popup interception.
	if l.popup.Handle(ctx, snap) {
		l.events.log(zapcore.InfoLevel, "dismissed a popup")
		return Continue
	}

	// 4. Page validation, advisory only.
	if len(step.ExpectedKeywords) > 0 {
		if _, found := snap.ContainsAny(step.ExpectedKeywords); !found {
			l.logger.Warn("Screen does not match the current step",
				zap.String("step", step.Description),
				zap.Strings("expected_keywords", step.ExpectedKeywords))
		}
	}

	// 5. Prompt assembly.
	level := l.detector.BeginPrompt()
	if l.detector.Exhausted() {
		detail := fmt.Sprintf("still looping after %d escalated ticks", l.cfg.MaxStuckTicks)
		l.logger.Error("Run is stuck, aborting", zap.Int("looping_ticks", l.detector.LoopingTicks()))
		return l.finish(StopStuck, detail, nil)
	}
	image, mimeType := l.screenshot(ctx)
	req := buildRequest(level, l.cfg.Vision, l.plan, l.history, snap, image, mimeType)

	// 6. Model call.
	raw, err := l.deps.Gateway.Chat(ctx, req)
	if err != nil {
		l.logger.Warn("Model call failed, retrying next tick", zap.Error(err))
		l.events.log(zapcore.WarnLevel, "model call failed: "+err.Error())
		return Continue
	}

	// 7. Parse.
	res := l.parser.Parse(raw)
	if !res.OK() {
		l.logger.Warn("Could not parse an action from the model response",
			zap.Stringer("kind", res.Kind),
			zap.String("detail", res.Detail),
			zap.String("response", llmutil.Truncate(raw, 200)))
		l.events.log(zapcore.WarnLevel, "unusable model response: "+res.Detail)
		return Continue
	}
	act := res.Action

	// 8. Stuck signature check.
	sig := act.Command.Signature()
	if l.detector.Record(sig) {
		l.logger.Warn("Repeated action on an unchanged screen, escalating",
			zap.String("signature", sig),
			zap.Stringer("next_level", l.detector.Level()))
	}

	// 9. Dispatch.
	if done, ok := act.Command.(action.Done); ok {
		return l.finish(StopDoneAction, done.Reason, nil)
	}
	if u, unknown := act.Command.(action.Unknown); unknown {
		l.logger.Warn("Ignoring unknown action", zap.String("type", u.Raw))
		l.events.log(zapcore.WarnLevel, u.Describe())
		return Continue
	}
	desc := l.dispatch(ctx, act.Command)
	l.remember(desc)
	l.events.emit(Event{Type: EventAction, Action: desc, Thought: act.Thought, PlanID: l.plan.ID(), Progress: l.plan.Progress()})

	// 10. Advance.
	if act.StepCompleted {
		l.plan.Advance()
		l.history = l.history[:0]
		l.detector.StepAdvanced()
		l.logger.Info("Step completed", zap.String("progress", l.plan.Progress()))
		l.events.emit(Event{Type: EventPlanUpdate, PlanID: l.plan.ID(), Progress: l.plan.Progress()})
		if l.plan.IsCompleted() {
			return l.finish(StopPlanCompleted, "all steps completed", nil)
		}
	}
	return Continue
}

// dispatch executes cmd and returns its history line. Effector errors are
// logged and otherwise ignored.
func (l *Loop) dispatch(ctx context.Context, cmd action.Command) string {
	var err error
	desc := cmd.Describe()

	switch c := cmd.(type) {
	case action.Click:
		err = l.deps.Effector.Click(ctx, c.At.X, c.At.Y)
	case action.Input:
		if c.Text == "" {
			return "skipped empty input"
		}
		var typed bool
		typed, err = l.deps.Effector.Input(ctx, c.Text, c.At)
		if err == nil && !typed {
			l.logger.Warn("Text input was not applied", zap.String("text", c.Text))
		}
	case action.Back:
		err = l.deps.Effector.Back(ctx)
	case action.Home:
		err = l.deps.Effector.Home(ctx)
	case action.Wait:
		l.sleep(ctx, c.Duration)
	case action.Scroll:
		x1, y1, x2, y2 := l.scrollVector(c.Direction)
		err = l.deps.Effector.Swipe(ctx, x1, y1, x2, y2, scrollGesture)
	case action.LongPress:
		err = l.deps.Effector.LongPress(ctx, c.At.X, c.At.Y, c.Duration)
	case action.Drag:
		err = l.deps.Effector.Drag(ctx, c.From.X, c.From.Y, c.To.X, c.To.Y, c.Duration)
	}

	if err != nil {
		l.logger.Warn("Effector call failed", zap.String("action", string(cmd.Type())), zap.Error(err))
	} else {
		l.logger.Info("Action executed", zap.String("action", desc))
	}
	return desc
}

// scrollVector converts a content direction into a finger swipe across the
// middle of the screen. Scrolling down moves the finger up.
func (l *Loop) scrollVector(dir action.Direction) (x1, y1, x2, y2 float64) {
	w, h := float64(l.cfg.ScreenWidth), float64(l.cfg.ScreenHeight)
	cx, cy := w/2, h/2
	switch dir {
	case action.DirectionUp:
		return cx, h * 0.3, cx, h * 0.7
	case action.DirectionLeft:
		return w * 0.2, cy, w * 0.8, cy
	case action.DirectionRight:
		return w * 0.8, cy, w * 0.2, cy
	default:
		return cx, h * 0.7, cx, h * 0.3
	}
}

func (l *Loop) screenshot(ctx context.Context) ([]byte, string) {
	if l.cfg.Vision == config.VisionOff || l.deps.Screenshots == nil {
		return nil, ""
	}
	data, mimeType, err := l.deps.Screenshots.Screenshot(ctx)
	if err != nil || len(data) == 0 {
		l.logger.Warn("Screenshot unavailable, falling back to text only", zap.Error(err))
		return nil, ""
	}
	return data, mimeType
}

// remember appends to the bounded history, evicting the oldest entry.
func (l *Loop) remember(desc string) {
	size := l.cfg.HistorySize
	if size <= 0 {
		return
	}
	if len(l.history) >= size {
		copy(l.history, l.history[len(l.history)-size+1:])
		l.history = l.history[:size-1]
	}
	l.history = append(l.history, desc)
}

func (l *Loop) finish(reason StopReason, detail string, err error) TickResult {
	l.outcome = &Outcome{Reason: reason, Detail: detail, Progress: l.plan.Progress(), Err: err}
	l.logger.Info("Run finished", zap.String("reason", string(reason)), zap.String("detail", detail))
	if reason == StopDoneAction {
		l.events.emit(Event{Type: EventPlanCleared, PlanID: l.plan.ID(), Message: detail})
	}
	return Stop
}

func sleepCtx(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
