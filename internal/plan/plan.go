// internal/plan/plan.go
package plan

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	json "github.com/json-iterator/go"
)

var (
	// ErrNoPlanJSON means the model response held no JSON object at all.
	ErrNoPlanJSON = errors.New("no plan JSON in model response")
	// ErrInvalidPlan means the object was found but is missing required fields.
	ErrInvalidPlan = errors.New("invalid plan")
	// ErrInvalidSchedule is returned for a scheduled time that is not HH:MM.
	ErrInvalidSchedule = errors.New("scheduled time must be HH:MM")
)

// newID is a variable so tests can pin plan ids.
var newID = uuid.NewString

// Step is one unit of a plan.
type Step struct {
	Description string `json:"description"`
	// ExpectedKeywords are advisory page-validation hints, matched case-insensitively.
	ExpectedKeywords []string `json:"expectedKeywords"`
}

// UnmarshalJSON accepts either the object form or a bare description string,
// which is how steps were stored before keywords existed.
func (s *Step) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, `"`) {
		var desc string
		if err := json.ConfigCompatibleWithStandardLibrary.Unmarshal(data, &desc); err != nil {
			return err
		}
		*s = Step{Description: desc}
		return nil
	}
	type rawStep Step
	var r rawStep
	if err := json.ConfigCompatibleWithStandardLibrary.Unmarshal(data, &r); err != nil {
		return err
	}
	*s = Step(r)
	return nil
}

// Plan is an ordered, immutable list of steps plus a cursor. The cursor only
// moves forward through Advance and back to zero through Reset.
type Plan struct {
	id            string
	name          string
	task          string
	steps         []Step
	cursor        int
	scheduledTime string
}

// New builds a plan with a fresh id.
func New(name, task string, steps []Step) (*Plan, error) {
	p := &Plan{
		id:    newID(),
		name:  strings.TrimSpace(name),
		task:  strings.TrimSpace(task),
		steps: cloneSteps(steps),
	}
	if err := p.validate(); err != nil {
		return nil, err
	}
	if p.name == "" {
		p.name = p.task
	}
	return p, nil
}

// FromGoal wraps a free-form goal into a single-step plan.
func FromGoal(goal string) (*Plan, error) {
	return New(goal, goal, []Step{{Description: goal}})
}

func (p *Plan) validate() error {
	if p.task == "" {
		return fmt.Errorf("%w: task is required", ErrInvalidPlan)
	}
	if len(p.steps) == 0 {
		return fmt.Errorf("%w: at least one step is required", ErrInvalidPlan)
	}
	for i, s := range p.steps {
		if strings.TrimSpace(s.Description) == "" {
			return fmt.Errorf("%w: step %d has no description", ErrInvalidPlan, i+1)
		}
	}
	if p.cursor < 0 || p.cursor > len(p.steps) {
		return fmt.Errorf("%w: currentStepIndex %d out of range [0,%d]", ErrInvalidPlan, p.cursor, len(p.steps))
	}
	return nil
}

func (p *Plan) ID() string            { return p.id }
func (p *Plan) Name() string          { return p.name }
func (p *Plan) Task() string          { return p.task }
func (p *Plan) Len() int              { return len(p.steps) }
func (p *Plan) CurrentIndex() int     { return p.cursor }
func (p *Plan) ScheduledTime() string { return p.scheduledTime }

// Steps returns a copy of the step list.
func (p *Plan) Steps() []Step { return cloneSteps(p.steps) }

// CurrentStep returns the step under the cursor, or false once the plan is complete.
func (p *Plan) CurrentStep() (Step, bool) {
	if p.cursor >= len(p.steps) {
		return Step{}, false
	}
	return p.steps[p.cursor], true
}

// IsCompleted reports whether every step has been advanced past.
func (p *Plan) IsCompleted() bool { return p.cursor == len(p.steps) }

// Progress renders the 1-based position as "k/n". A completed plan shows n+1.
func (p *Plan) Progress() string {
	return fmt.Sprintf("%d/%d", p.cursor+1, len(p.steps))
}

// Advance moves the cursor one step. It is a no-op on a completed plan and
// reports whether the cursor moved. Callers own any per-step state reset.
func (p *Plan) Advance() bool {
	if p.IsCompleted() {
		return false
	}
	p.cursor++
	return true
}

// Reset rewinds the cursor for a fresh execution of a saved plan.
func (p *Plan) Reset() { p.cursor = 0 }

// SetScheduledTime validates and stores an "HH:MM" trigger time. Empty clears it.
func (p *Plan) SetScheduledTime(hhmm string) error {
	hhmm = strings.TrimSpace(hhmm)
	if hhmm == "" {
		p.scheduledTime = ""
		return nil
	}
	if _, _, err := parseClock(hhmm); err != nil {
		return err
	}
	p.scheduledTime = hhmm
	return nil
}

// NextOccurrence returns the next wall-clock trigger at or after now, in now's
// location. A time that has already passed today rolls over to tomorrow.
func (p *Plan) NextOccurrence(now time.Time) (time.Time, bool) {
	if p.scheduledTime == "" {
		return time.Time{}, false
	}
	h, m, err := parseClock(p.scheduledTime)
	if err != nil {
		return time.Time{}, false
	}
	target := time.Date(now.Year(), now.Month(), now.Day(), h, m, 0, 0, now.Location())
	if target.Before(now) {
		target = target.AddDate(0, 0, 1)
	}
	return target, true
}

func parseClock(hhmm string) (int, int, error) {
	parts := strings.Split(hhmm, ":")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("%w: %q", ErrInvalidSchedule, hhmm)
	}
	h, errH := strconv.Atoi(parts[0])
	m, errM := strconv.Atoi(parts[1])
	if errH != nil || errM != nil || h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, 0, fmt.Errorf("%w: %q", ErrInvalidSchedule, hhmm)
	}
	return h, m, nil
}

// document is the persisted schema.
type document struct {
	ID               string  `json:"id"`
	Name             string  `json:"name"`
	Task             string  `json:"task"`
	CurrentStepIndex int     `json:"currentStepIndex"`
	ScheduledTime    *string `json:"scheduledTime"`
	Steps            []Step  `json:"steps"`
}

// MarshalJSON writes the persisted plan schema.
func (p *Plan) MarshalJSON() ([]byte, error) {
	doc := document{
		ID:               p.id,
		Name:             p.name,
		Task:             p.task,
		CurrentStepIndex: p.cursor,
		Steps:            p.steps,
	}
	if p.scheduledTime != "" {
		st := p.scheduledTime
		doc.ScheduledTime = &st
	}
	if doc.Steps == nil {
		doc.Steps = []Step{}
	}
	return json.ConfigCompatibleWithStandardLibrary.Marshal(doc)
}

// UnmarshalJSON reads the persisted plan schema. A record without an id is
// given one; an id, once present, is never regenerated.
func (p *Plan) UnmarshalJSON(data []byte) error {
	var doc document
	if err := json.ConfigCompatibleWithStandardLibrary.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("decoding plan: %w", err)
	}
	decoded := Plan{
		id:     doc.ID,
		name:   doc.Name,
		task:   doc.Task,
		steps:  doc.Steps,
		cursor: doc.CurrentStepIndex,
	}
	if decoded.id == "" {
		decoded.id = newID()
	}
	if decoded.name == "" {
		decoded.name = decoded.task
	}
	if err := decoded.validate(); err != nil {
		return err
	}
	if doc.ScheduledTime != nil {
		if err := decoded.SetScheduledTime(*doc.ScheduledTime); err != nil {
			return err
		}
	}
	*p = decoded
	return nil
}

func cloneSteps(steps []Step) []Step {
	if steps == nil {
		return nil
	}
	out := make([]Step, len(steps))
	for i, s := range steps {
		out[i] = Step{Description: s.Description}
		if s.ExpectedKeywords != nil {
			out[i].ExpectedKeywords = append([]string(nil), s.ExpectedKeywords...)
		}
	}
	return out
}
