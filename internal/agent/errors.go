// internal/agent/errors.go
package agent

import "errors"

// ErrRunActive is returned by Session.Start while another run is in progress.
var ErrRunActive = errors.New("agent: a run is already active")

// ErrNoPlan is returned by Session.Start when called without a plan.
var ErrNoPlan = errors.New("agent: no plan to run")

// ErrPlanCompleted is returned by Session.Start for a plan with no steps left.
var ErrPlanCompleted = errors.New("agent: plan is already completed")

// StopReason is a string type naming why a run ended.
type StopReason string

const (
	// -- Normal endings --
	StopPlanCompleted StopReason = "PLAN_COMPLETED"
	StopDoneAction    StopReason = "DONE_ACTION"
	StopRequested     StopReason = "STOP_REQUESTED"

	// -- Abnormal endings --
	StopStuck             StopReason = "STUCK"
	StopSourceUnavailable StopReason = "SOURCE_UNAVAILABLE"
	StopCanceled          StopReason = "CANCELED"
)

// Outcome describes how a run ended.
type Outcome struct {
	Reason StopReason
	Detail string
	// Progress is the plan progress at the end of the run, "k/n".
	Progress string
	Err      error
}

// Succeeded reports whether the run ended because the task was finished.
func (o Outcome) Succeeded() bool {
	return o.Reason == StopPlanCompleted || o.Reason == StopDoneAction
}
