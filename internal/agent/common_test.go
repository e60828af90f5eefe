package agent

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xkilldash9x/droidpilot/internal/config"
	"github.com/xkilldash9x/droidpilot/internal/mocks"
	"github.com/xkilldash9x/droidpilot/internal/plan"
	"github.com/xkilldash9x/droidpilot/internal/snapshot"
)

// testAgentConfig returns the default agent configuration with a popup list
// the fixtures below can trigger and no popup settle pause.
func testAgentConfig() config.AgentConfig {
	cfg := config.NewDefaultConfig().Agent()
	cfg.Popup = config.PopupConfig{DismissKeywords: []string{"skip", "close"}}
	cfg.PopupSettle = 0
	return cfg
}

// sleepRecorder replaces real sleeps and records their durations.
type sleepRecorder struct {
	mu    sync.Mutex
	slept []time.Duration
}

func (r *sleepRecorder) sleep(_ context.Context, d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.slept = append(r.slept, d)
}

func (r *sleepRecorder) durations() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]time.Duration(nil), r.slept...)
}

type loopFixture struct {
	loop     *Loop
	source   *mocks.MockSource
	effector *mocks.MockEffector
	gateway  *mocks.MockGateway
	sleeps   *sleepRecorder
	logs     *observer.ObservedLogs
	plan     *plan.Plan
}

func newLoopFixture(t *testing.T, cfg config.AgentConfig, p *plan.Plan) *loopFixture {
	t.Helper()
	core, logs := observer.New(zap.DebugLevel)
	f := &loopFixture{
		source:   new(mocks.MockSource),
		effector: new(mocks.MockEffector),
		gateway:  new(mocks.MockGateway),
		sleeps:   &sleepRecorder{},
		logs:     logs,
		plan:     p,
	}
	f.loop = NewLoop(cfg, p, Dependencies{Source: f.source, Effector: f.effector, Gateway: f.gateway}, zap.New(core))
	f.loop.sleep = f.sleeps.sleep
	return f
}

func singleStepPlan(t *testing.T, keywords ...string) *plan.Plan {
	t.Helper()
	p, err := plan.New("settings", "open settings", []plan.Step{{Description: "open settings", ExpectedKeywords: keywords}})
	require.NoError(t, err)
	return p
}

func multiStepPlan(t *testing.T, n int) *plan.Plan {
	t.Helper()
	steps := make([]plan.Step, n)
	for i := range steps {
		steps[i] = plan.Step{Description: fmt.Sprintf("step %d", i+1)}
	}
	p, err := plan.New("multi", "do several things", steps)
	require.NoError(t, err)
	return p
}

// screen returns a snapshot with one clickable labelled node, so different
// labels produce different content hashes.
func screen(label string) snapshot.Snapshot {
	return snapshot.Snapshot{Nodes: []snapshot.Node{
		{Text: label, Class: "TextView", Bounds: snapshot.Bounds{Left: 0, Top: 0, Right: 200, Bottom: 100}, Clickable: true},
	}}
}

func unchangedScreen() snapshot.Snapshot {
	return snapshot.Snapshot{Unchanged: true}
}
