package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/droidpilot/internal/action"
	"github.com/xkilldash9x/droidpilot/internal/config"
	"github.com/xkilldash9x/droidpilot/internal/llmclient"
	"github.com/xkilldash9x/droidpilot/internal/mocks"
	"github.com/xkilldash9x/droidpilot/internal/snapshot"
	"github.com/xkilldash9x/droidpilot/internal/stuck"
)

func TestTick_ClickCompletesSingleStepPlan(t *testing.T) {
	f := newLoopFixture(t, testAgentConfig(), singleStepPlan(t))
	f.source.On("Capture", mock.Anything).Return(screen("Settings"), nil).Once()
	f.gateway.On("Chat", mock.Anything, mock.Anything).
		Return(`{"action":"click","b":"100,200","step_completed":true}`, nil).Once()
	f.effector.On("Click", mock.Anything, 100.0, 200.0).Return(nil).Once()

	res := f.loop.Tick(context.Background())

	assert.Equal(t, Stop, res)
	f.effector.AssertNumberOfCalls(t, "Click", 1)
	assert.Equal(t, 1, f.plan.CurrentIndex())
	assert.True(t, f.plan.IsCompleted())

	out, ok := f.loop.Outcome()
	require.True(t, ok)
	assert.Equal(t, StopPlanCompleted, out.Reason)
	assert.True(t, out.Succeeded())
	assert.Equal(t, "2/1", out.Progress)

	assert.Equal(t, Stop, f.loop.Tick(context.Background()), "a finished loop stays finished")
	f.source.AssertNumberOfCalls(t, "Capture", 1)
}

func TestTick_NoJSONIsANoOp(t *testing.T) {
	f := newLoopFixture(t, testAgentConfig(), multiStepPlan(t, 2))
	f.source.On("Capture", mock.Anything).Return(screen("Home"), nil)
	f.gateway.On("Chat", mock.Anything, mock.Anything).Return("I'm not sure what to do.", nil)

	before := f.loop.State()
	assert.Equal(t, Continue, f.loop.Tick(context.Background()))

	after := f.loop.State()
	assert.Equal(t, 0, after.StepIndex)
	assert.Equal(t, before.History, after.History)
	assert.Empty(t, f.effector.Calls)
	assert.Equal(t, 1, f.logs.FilterMessage("Could not parse an action from the model response").Len())
}

func TestTick_RepeatedSignatureEscalatesNextPrompt(t *testing.T) {
	f := newLoopFixture(t, testAgentConfig(), multiStepPlan(t, 2))
	f.source.On("Capture", mock.Anything).Return(screen("Wi-Fi"), nil)
	f.gateway.On("Chat", mock.Anything, mock.Anything).Return(`{"action":"click","b":"100,200"}`, nil)
	f.effector.On("Click", mock.Anything, 100.0, 200.0).Return(nil)

	require.Equal(t, Continue, f.loop.Tick(context.Background()))
	assert.Equal(t, stuck.LevelBrief, f.loop.State().Level)

	require.Equal(t, Continue, f.loop.Tick(context.Background()))
	assert.Equal(t, stuck.LevelLooping, f.loop.State().Level, "second identical action on identical UI escalates")
	f.effector.AssertNumberOfCalls(t, "Click", 2)

	require.Equal(t, Continue, f.loop.Tick(context.Background()))
	system := f.gateway.LastRequest().Messages[0].Content
	assert.Contains(t, system, "You are looping")
}

func TestTick_UnchangedScreenSkipsModel(t *testing.T) {
	cfg := testAgentConfig()
	f := newLoopFixture(t, cfg, multiStepPlan(t, 2))
	f.source.On("Capture", mock.Anything).Return(unchangedScreen(), nil)

	for range 3 {
		assert.Equal(t, Continue, f.loop.Tick(context.Background()))
	}

	f.gateway.AssertNotCalled(t, "Chat", mock.Anything, mock.Anything)
	f.gateway.AssertNumberOfCalls(t, "Chat", 0)
	assert.Equal(t, []time.Duration{cfg.UnchangedCooldown, cfg.UnchangedCooldown, cfg.UnchangedCooldown}, f.sleeps.durations())
	assert.Equal(t, 3, f.loop.State().UnchangedRuns)
}

func TestTick_UnchangedSkipsAreBounded(t *testing.T) {
	cfg := testAgentConfig()
	cfg.MaxUnchangedSkips = 2
	f := newLoopFixture(t, cfg, multiStepPlan(t, 2))
	f.source.On("Capture", mock.Anything).Return(unchangedScreen(), nil)
	f.gateway.On("Chat", mock.Anything, mock.Anything).Return(`{"action":"back"}`, nil).Once()
	f.effector.On("Back", mock.Anything).Return(nil).Once()

	f.loop.Tick(context.Background())
	f.loop.Tick(context.Background())
	f.gateway.AssertNumberOfCalls(t, "Chat", 0)

	f.loop.Tick(context.Background())
	f.gateway.AssertNumberOfCalls(t, "Chat", 1)
	assert.Zero(t, f.loop.State().UnchangedRuns)
	f.effector.AssertExpectations(t)
}

func TestTick_HistoryIsBoundedFIFO(t *testing.T) {
	cfg := testAgentConfig()
	f := newLoopFixture(t, cfg, multiStepPlan(t, 2))

	for i := range 7 {
		f.source.On("Capture", mock.Anything).Return(screen(fmt.Sprintf("page %d", i)), nil).Once()
		f.gateway.On("Chat", mock.Anything, mock.Anything).Return(fmt.Sprintf(`{"action":"click","x":%d,"y":1}`, i), nil).Once()
	}
	f.effector.On("Click", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	for range 7 {
		f.loop.Tick(context.Background())
		assert.LessOrEqual(t, len(f.loop.State().History), cfg.HistorySize)
	}

	history := f.loop.State().History
	require.Len(t, history, 5)
	assert.Equal(t, "clicked (2,1)", history[0], "oldest entries are evicted first")
	assert.Equal(t, "clicked (6,1)", history[4])
}

func TestTick_SignatureResetPoints(t *testing.T) {
	f := newLoopFixture(t, testAgentConfig(), multiStepPlan(t, 3))
	f.effector.On("Back", mock.Anything).Return(nil)

	f.source.On("Capture", mock.Anything).Return(screen("A"), nil).Times(3)
	f.gateway.On("Chat", mock.Anything, mock.Anything).Return(`{"action":"back"}`, nil).Times(3)
	for range 3 {
		f.loop.Tick(context.Background())
		assert.Equal(t, []string{"back"}, f.loop.State().Signatures, "identical UI never clears signatures")
	}

	f.source.On("Capture", mock.Anything).Return(screen("B"), nil).Once()
	f.gateway.On("Chat", mock.Anything, mock.Anything).Return(`{"action":"home"}`, nil).Once()
	f.effector.On("Home", mock.Anything).Return(nil).Once()
	f.loop.Tick(context.Background())
	assert.Equal(t, []string{"home"}, f.loop.State().Signatures, "a hash change clears the previous set")

	f.source.On("Capture", mock.Anything).Return(screen("B"), nil).Once()
	f.gateway.On("Chat", mock.Anything, mock.Anything).Return(`{"action":"back","step_completed":true}`, nil).Once()
	f.loop.Tick(context.Background())
	state := f.loop.State()
	assert.Empty(t, state.Signatures, "a step advance clears signatures")
	assert.Empty(t, state.History, "a step advance clears history")
	assert.Equal(t, 1, state.StepIndex)
}

func TestTick_PopupShortCircuitsModel(t *testing.T) {
	f := newLoopFixture(t, testAgentConfig(), multiStepPlan(t, 2))
	popupScreen := snapshot.Snapshot{Nodes: []snapshot.Node{
		{Text: "Special offer", Bounds: snapshot.Bounds{Left: 0, Top: 0, Right: 500, Bottom: 500}},
		{Text: "Skip ad", Clickable: true, Bounds: snapshot.Bounds{Left: 400, Top: 0, Right: 500, Bottom: 100}},
	}}
	f.source.On("Capture", mock.Anything).Return(popupScreen, nil).Once()
	f.effector.On("Click", mock.Anything, 450.0, 50.0).Return(nil).Once()

	assert.Equal(t, Continue, f.loop.Tick(context.Background()))
	f.gateway.AssertNotCalled(t, "Chat", mock.Anything, mock.Anything)
	f.effector.AssertExpectations(t)
	assert.Empty(t, f.loop.State().History)
}

func TestTick_TransportFailureContinues(t *testing.T) {
	f := newLoopFixture(t, testAgentConfig(), multiStepPlan(t, 2))
	f.source.On("Capture", mock.Anything).Return(screen("x"), nil)
	f.gateway.On("Chat", mock.Anything, mock.Anything).Return("", errors.New("timeout"))

	assert.Equal(t, Continue, f.loop.Tick(context.Background()))
	assert.Empty(t, f.effector.Calls)
	_, finished := f.loop.Outcome()
	assert.False(t, finished)
}

func TestTick_DoneStops(t *testing.T) {
	f := newLoopFixture(t, testAgentConfig(), multiStepPlan(t, 3))
	f.source.On("Capture", mock.Anything).Return(screen("x"), nil)
	f.gateway.On("Chat", mock.Anything, mock.Anything).Return(`{"th":"all good","action":"done","r":"wifi is on"}`, nil)

	assert.Equal(t, Stop, f.loop.Tick(context.Background()))
	out, ok := f.loop.Outcome()
	require.True(t, ok)
	assert.Equal(t, StopDoneAction, out.Reason)
	assert.Equal(t, "wifi is on", out.Detail)
	assert.Empty(t, f.effector.Calls)
}

func TestTick_UnknownActionIsNoOp(t *testing.T) {
	f := newLoopFixture(t, testAgentConfig(), multiStepPlan(t, 2))
	f.source.On("Capture", mock.Anything).Return(screen("x"), nil)
	f.gateway.On("Chat", mock.Anything, mock.Anything).Return(`{"action":"teleport","step_completed":true}`, nil)

	assert.Equal(t, Continue, f.loop.Tick(context.Background()))
	assert.Empty(t, f.effector.Calls)
	assert.Equal(t, 0, f.plan.CurrentIndex())
	assert.Equal(t, 1, f.logs.FilterMessage("Ignoring unknown action").Len())
}

func TestTick_CaptureErrors(t *testing.T) {
	t.Run("transient", func(t *testing.T) {
		f := newLoopFixture(t, testAgentConfig(), multiStepPlan(t, 2))
		f.source.On("Capture", mock.Anything).Return(snapshot.Snapshot{}, errors.New("dump timed out"))
		assert.Equal(t, Continue, f.loop.Tick(context.Background()))
		f.gateway.AssertNotCalled(t, "Chat", mock.Anything, mock.Anything)
	})

	t.Run("source unavailable", func(t *testing.T) {
		f := newLoopFixture(t, testAgentConfig(), multiStepPlan(t, 2))
		err := fmt.Errorf("adb: no devices: %w", snapshot.ErrSourceUnavailable)
		f.source.On("Capture", mock.Anything).Return(snapshot.Snapshot{}, err)
		assert.Equal(t, Stop, f.loop.Tick(context.Background()))
		out, _ := f.loop.Outcome()
		assert.Equal(t, StopSourceUnavailable, out.Reason)
		assert.ErrorIs(t, out.Err, snapshot.ErrSourceUnavailable)
		assert.False(t, out.Succeeded())
	})
}

func TestTick_PanicIsRecovered(t *testing.T) {
	f := newLoopFixture(t, testAgentConfig(), multiStepPlan(t, 2))
	f.source.On("Capture", mock.Anything).Run(func(mock.Arguments) { panic("accessibility root vanished") }).
		Return(snapshot.Snapshot{}, nil)

	assert.NotPanics(t, func() {
		assert.Equal(t, Continue, f.loop.Tick(context.Background()))
	})
	assert.Equal(t, 1, f.logs.FilterMessage("Panic recovered during tick").Len())
}

func TestTick_StuckCapAborts(t *testing.T) {
	cfg := testAgentConfig()
	cfg.MaxStuckTicks = 2
	f := newLoopFixture(t, cfg, multiStepPlan(t, 2))
	f.source.On("Capture", mock.Anything).Return(screen("same"), nil)
	f.gateway.On("Chat", mock.Anything, mock.Anything).Return(`{"action":"back"}`, nil)
	f.effector.On("Back", mock.Anything).Return(nil)

	var results []TickResult
	for range 6 {
		results = append(results, f.loop.Tick(context.Background()))
	}

	// Tick 2 escalates, ticks 3 and 4 prompt at the looping level, tick 5 aborts.
	assert.Equal(t, []TickResult{Continue, Continue, Continue, Continue, Stop, Stop}, results)
	f.gateway.AssertNumberOfCalls(t, "Chat", 4)
	out, _ := f.loop.Outcome()
	assert.Equal(t, StopStuck, out.Reason)
}

func TestTick_PageValidationIsAdvisory(t *testing.T) {
	f := newLoopFixture(t, testAgentConfig(), singleStepPlan(t, "Bluetooth"))
	f.source.On("Capture", mock.Anything).Return(screen("Wi-Fi"), nil)
	f.gateway.On("Chat", mock.Anything, mock.Anything).Return(`{"action":"back"}`, nil)
	f.effector.On("Back", mock.Anything).Return(nil)

	assert.Equal(t, Continue, f.loop.Tick(context.Background()))
	assert.Equal(t, 1, f.logs.FilterMessage("Screen does not match the current step").Len())
	f.effector.AssertNumberOfCalls(t, "Back", 1)
}

func TestTick_ComplexScreenStartsAtAnalyze(t *testing.T) {
	cfg := testAgentConfig()
	f := newLoopFixture(t, cfg, multiStepPlan(t, 2))
	nodes := make([]snapshot.Node, cfg.ComplexityThreshold+1)
	for i := range nodes {
		nodes[i] = snapshot.Node{Text: fmt.Sprintf("row %d", i)}
	}
	f.source.On("Capture", mock.Anything).Return(snapshot.Snapshot{Nodes: nodes}, nil)
	f.gateway.On("Chat", mock.Anything, mock.Anything).Return(`no`, nil)

	f.loop.Tick(context.Background())
	assert.Contains(t, f.gateway.LastRequest().Messages[0].Content, "The screen is complex")
}

func TestDispatch(t *testing.T) {
	cfg := testAgentConfig()
	at := action.Point{X: 5, Y: 6}

	tests := []struct {
		name   string
		reply  string
		expect func(e *mocks.MockEffector)
		want   string
	}{
		{
			name:  "input with target",
			reply: `{"action":"input","text":"hello","b":"5,6"}`,
			expect: func(e *mocks.MockEffector) {
				e.On("Input", mock.Anything, "hello", &at).Return(true, nil).Once()
			},
			want: `typed "hello" at (5,6)`,
		},
		{
			name:   "empty input is skipped",
			reply:  `{"action":"input","text":""}`,
			expect: func(*mocks.MockEffector) {},
			want:   "skipped empty input",
		},
		{
			name:  "scroll down swipes up",
			reply: `{"action":"scroll","direction":"down"}`,
			expect: func(e *mocks.MockEffector) {
				w, h := float64(cfg.ScreenWidth), float64(cfg.ScreenHeight)
				e.On("Swipe", mock.Anything, w/2, h*0.7, w/2, h*0.3, scrollGesture).Return(nil).Once()
			},
			want: "scrolled down",
		},
		{
			name:  "long press",
			reply: `{"action":"long_press","x":5,"y":6}`,
			expect: func(e *mocks.MockEffector) {
				e.On("LongPress", mock.Anything, 5.0, 6.0, time.Second).Return(nil).Once()
			},
			want: "long-pressed (5,6) for 1s",
		},
		{
			name:  "drag",
			reply: `{"action":"drag","b":"1,2","endX":3,"endY":4,"duration":500}`,
			expect: func(e *mocks.MockEffector) {
				e.On("Drag", mock.Anything, 1.0, 2.0, 3.0, 4.0, 500*time.Millisecond).Return(nil).Once()
			},
			want: "dragged (1,2) to (3,4)",
		},
		{
			name:  "effector failure is logged only",
			reply: `{"action":"home"}`,
			expect: func(e *mocks.MockEffector) {
				e.On("Home", mock.Anything).Return(errors.New("injection refused")).Once()
			},
			want: "pressed home",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newLoopFixture(t, cfg, multiStepPlan(t, 2))
			f.source.On("Capture", mock.Anything).Return(screen("x"), nil)
			f.gateway.On("Chat", mock.Anything, mock.Anything).Return(tt.reply, nil)
			tt.expect(f.effector)

			assert.Equal(t, Continue, f.loop.Tick(context.Background()))
			f.effector.AssertExpectations(t)
			assert.Equal(t, []string{tt.want}, f.loop.State().History)
		})
	}
}

func TestDispatch_WaitSleeps(t *testing.T) {
	f := newLoopFixture(t, testAgentConfig(), multiStepPlan(t, 2))
	f.source.On("Capture", mock.Anything).Return(screen("x"), nil)
	f.gateway.On("Chat", mock.Anything, mock.Anything).Return(`{"action":"wait","s":3}`, nil)

	f.loop.Tick(context.Background())
	assert.Equal(t, []time.Duration{3 * time.Second}, f.sleeps.durations())
	assert.Equal(t, []string{"waited 3s"}, f.loop.State().History)
}

func TestOriginFallback(t *testing.T) {
	cfg := testAgentConfig()
	cfg.OriginFallback = true
	f := newLoopFixture(t, cfg, multiStepPlan(t, 2))
	f.source.On("Capture", mock.Anything).Return(screen("x"), nil)
	f.gateway.On("Chat", mock.Anything, mock.Anything).Return(`{"action":"click","b":"near the top"}`, nil)
	f.effector.On("Click", mock.Anything, 0.0, 0.0).Return(nil).Once()

	f.loop.Tick(context.Background())
	f.effector.AssertExpectations(t)
}

func TestVisionModes(t *testing.T) {
	png := []byte{0x89, 'P', 'N', 'G'}

	run := func(t *testing.T, mode config.VisionMode, shot []byte, shotErr error) llmclient.Request {
		t.Helper()
		cfg := testAgentConfig()
		cfg.Vision = mode
		f := newLoopFixture(t, cfg, multiStepPlan(t, 2))
		shots := new(mocks.MockScreenshots)
		shots.On("Screenshot", mock.Anything).Return(shot, "image/png", shotErr)
		f.loop.deps.Screenshots = shots
		f.source.On("Capture", mock.Anything).Return(screen("Camera"), nil)
		f.gateway.On("Chat", mock.Anything, mock.Anything).Return(`nothing`, nil)
		f.loop.Tick(context.Background())
		return f.gateway.LastRequest()
	}

	t.Run("off", func(t *testing.T) {
		req := run(t, config.VisionOff, png, nil)
		assert.Equal(t, llmclient.TierText, req.Tier)
		assert.Empty(t, req.Messages[1].Images())
		assert.Contains(t, req.Messages[1].Content, `"txt":"Camera"`)
	})

	t.Run("assist", func(t *testing.T) {
		req := run(t, config.VisionAssist, png, nil)
		assert.Equal(t, llmclient.TierText, req.Tier)
		require.Len(t, req.Messages[1].Images(), 1)
		assert.Contains(t, req.Messages[1].Text(), `"txt":"Camera"`)
	})

	t.Run("end to end", func(t *testing.T) {
		req := run(t, config.VisionEndToEnd, png, nil)
		assert.Equal(t, llmclient.TierVision, req.Tier)
		require.Len(t, req.Messages[1].Images(), 1)
		assert.NotContains(t, req.Messages[1].Text(), `"txt":"Camera"`)
		assert.Contains(t, req.Messages[0].Content, "Read positions from the screenshot")
	})

	t.Run("screenshot failure degrades to text", func(t *testing.T) {
		req := run(t, config.VisionEndToEnd, nil, errors.New("screencap failed"))
		assert.Equal(t, llmclient.TierText, req.Tier)
		assert.Empty(t, req.Messages[1].Images())
		assert.True(t, strings.Contains(req.Messages[1].Content, `"txt":"Camera"`))
	})
}
