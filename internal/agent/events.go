// internal/agent/events.go
package agent

import (
	"context"
	"time"

	"go.uber.org/zap/zapcore"
)

// EventType classifies session events.
type EventType string

const (
	EventLog         EventType = "LOG"
	EventPlanUpdate  EventType = "PLAN_UPDATE"
	EventAction      EventType = "ACTION"
	EventTokenUsage  EventType = "TOKEN_USAGE"
	EventPlanCleared EventType = "PLAN_CLEARED"
	EventRunFinished EventType = "RUN_FINISHED"
)

// Event is one entry on the session's event channel. Only the fields relevant
// to Type are set.
type Event struct {
	Type      EventType
	Timestamp time.Time
	Level     zapcore.Level
	Message   string

	PlanID   string
	Progress string

	Action  string
	Thought string

	// TotalTokens is the cumulative token count of the gateway.
	TotalTokens int64

	Outcome *Outcome
}

// emitter delivers events in order. Sends block until the consumer reads,
// the run context is done or a stop is requested.
type emitter struct {
	ctx  context.Context
	stop <-chan struct{}
	ch   chan Event
}

func (e *emitter) emit(ev Event) {
	if e == nil || e.ch == nil {
		return
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	select {
	case e.ch <- ev:
		return
	default:
	}
	select {
	case e.ch <- ev:
	case <-e.ctx.Done():
	case <-e.stop:
	}
}

// emitFinal delivers the last event of a run. It does not depend on the run
// context, which is usually cancelled by then, but gives up after a short wait
// if nobody is reading.
func (e *emitter) emitFinal(ev Event) {
	if e == nil || e.ch == nil {
		return
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	select {
	case e.ch <- ev:
		return
	default:
	}
	t := time.NewTimer(finalEventWait)
	defer t.Stop()
	select {
	case e.ch <- ev:
	case <-t.C:
	}
}

const finalEventWait = 2 * time.Second

func (e *emitter) log(level zapcore.Level, msg string) {
	e.emit(Event{Type: EventLog, Level: level, Message: msg})
}
