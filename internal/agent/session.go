// internal/agent/session.go
package agent

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/droidpilot/internal/config"
	"github.com/xkilldash9x/droidpilot/internal/llmclient"
	"github.com/xkilldash9x/droidpilot/internal/plan"
)

const defaultEventBuffer = 64

// Session owns at most one active run. It replaces global start/stop flags:
// callers hold the session and drive its lifecycle through methods.
type Session struct {
	cfg    config.AgentConfig
	deps   Dependencies
	usage  *llmclient.UsageCounter
	logger *zap.Logger

	eventBuffer int
	sleep       func(ctx context.Context, d time.Duration)

	mu       sync.Mutex
	running  bool
	stop     chan struct{}
	stopOnce *sync.Once
	done     chan struct{}
	events   chan Event
	active   *plan.Plan
	outcome  Outcome
}

// SessionOption customises a Session.
type SessionOption func(*Session)

// WithUsageCounter forwards token usage from the gateway as EventTokenUsage events.
func WithUsageCounter(u *llmclient.UsageCounter) SessionOption {
	return func(s *Session) { s.usage = u }
}

// WithEventBuffer sets the capacity of each run's event channel.
func WithEventBuffer(n int) SessionOption {
	return func(s *Session) {
		if n > 0 {
			s.eventBuffer = n
		}
	}
}

// NewSession creates an idle session.
func NewSession(cfg config.AgentConfig, deps Dependencies, logger *zap.Logger, opts ...SessionOption) *Session {
	s := &Session{
		cfg:         cfg,
		deps:        deps,
		logger:      logger.Named("session"),
		eventBuffer: defaultEventBuffer,
		sleep:       sleepCtx,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start begins executing p in a background goroutine. It returns ErrRunActive
// if a run is already in progress; requests are never queued. The run stops
// when the plan completes, the model answers done, Stop is called or ctx is
// cancelled.
func (s *Session) Start(ctx context.Context, p *plan.Plan) error {
	if p == nil {
		return ErrNoPlan
	}
	if p.IsCompleted() {
		return ErrPlanCompleted
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return ErrRunActive
	}

	if tracker, ok := s.deps.Source.(ChangeTracker); ok {
		tracker.ResetChangeTracking()
	}

	runID := uuid.NewString()
	logger := s.logger.With(zap.String("run_id", runID))

	stop := make(chan struct{})
	em := &emitter{ctx: ctx, stop: stop, ch: make(chan Event, s.eventBuffer)}
	loop := NewLoop(s.cfg, p, s.deps, logger)
	loop.events = em
	loop.sleep = s.sleep

	s.running = true
	s.stop = stop
	s.stopOnce = &sync.Once{}
	s.done = make(chan struct{})
	s.events = em.ch
	s.active = p
	s.outcome = Outcome{}

	logger.Info("Run started", zap.String("plan_id", p.ID()), zap.String("progress", p.Progress()))
	go s.run(ctx, loop, em, s.done, logger)
	return nil
}

func (s *Session) run(ctx context.Context, loop *Loop, em *emitter, done chan struct{}, logger *zap.Logger) {
	defer close(done)

	unsubscribe := func() {}
	if s.usage != nil {
		unsubscribe = s.usage.Subscribe(func(_ int, total int64) {
			em.emit(Event{Type: EventTokenUsage, TotalTokens: total})
		})
	}

	em.emit(Event{Type: EventPlanUpdate, PlanID: loop.plan.ID(), Progress: loop.plan.Progress()})
	outcome := s.drive(ctx, loop, em.stop)
	// No sends may reach the channel once it is closed below.
	unsubscribe()

	logger.Info("Run ended",
		zap.String("reason", string(outcome.Reason)),
		zap.String("progress", outcome.Progress))

	s.mu.Lock()
	s.running = false
	s.outcome = outcome
	if outcome.Reason == StopDoneAction {
		s.active = nil
	}
	s.mu.Unlock()

	em.emitFinal(Event{Type: EventRunFinished, Outcome: &outcome, PlanID: loop.plan.ID(), Progress: outcome.Progress})
	close(em.ch)
}

// drive runs ticks back to back with the cooldown in between. The stop flag is
// checked before each tick and during the cooldown; a tick in flight is
// allowed to finish.
func (s *Session) drive(ctx context.Context, loop *Loop, stop <-chan struct{}) Outcome {
	for {
		if out, ended := s.interrupted(ctx, loop, stop); ended {
			return out
		}
		if loop.Tick(ctx) == Stop {
			out, _ := loop.Outcome()
			return out
		}

		cooldown, cancel := context.WithCancel(ctx)
		go func() {
			select {
			case <-stop:
				cancel()
			case <-cooldown.Done():
			}
		}()
		s.sleep(cooldown, s.cfg.TickCooldown)
		cancel()
	}
}

func (s *Session) interrupted(ctx context.Context, loop *Loop, stop <-chan struct{}) (Outcome, bool) {
	select {
	case <-stop:
		return Outcome{Reason: StopRequested, Detail: "stop requested", Progress: loop.plan.Progress()}, true
	default:
	}
	if err := ctx.Err(); err != nil {
		return Outcome{Reason: StopCanceled, Detail: err.Error(), Progress: loop.plan.Progress(), Err: err}, true
	}
	return Outcome{}, false
}

// Stop requests the active run to end. It does not wait; use Wait for that.
// Calling Stop without an active run is a no-op.
func (s *Session) Stop() {
	s.mu.Lock()
	stop, once := s.stop, s.stopOnce
	running := s.running
	s.mu.Unlock()
	if !running || once == nil {
		return
	}
	once.Do(func() {
		s.logger.Info("Stop requested")
		close(stop)
	})
}

// Wait blocks until the current run has ended and returns its outcome. It
// returns immediately with the last outcome when no run is active.
func (s *Session) Wait() Outcome {
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()
	if done != nil {
		<-done
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.outcome
}

// Events returns the event channel of the current or most recent run. The
// channel is closed after the run's RUN_FINISHED event. It is nil before the
// first Start.
func (s *Session) Events() <-chan Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.events
}

// Running reports whether a run is active.
func (s *Session) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Plan returns the plan of the current or most recent run. It is nil after the
// model ended the task with a done action. The run advances the plan, so read
// it only once Running reports false.
func (s *Session) Plan() *plan.Plan {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}
