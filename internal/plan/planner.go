// internal/plan/planner.go
package plan

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/droidpilot/internal/llmclient"
	"github.com/xkilldash9x/droidpilot/internal/llmutil"
)

const planningSystemPrompt = `You are a task planner for automating an Android phone.
Turn the user's request into a clear list of steps that can be carried out on screen.

Rules:
1. Every step must be concrete and correspond to one clearly identifiable screen interaction.
2. Use between 3 and 10 steps.
3. For each step list a few words that should be visible on screen while that step is being carried out ("expectedKeywords"). Use an empty list when unsure.
4. Output JSON only, with no other text.

Output format:
{
  "name": "short task name",
  "task": "full description of the task",
  "steps": [
    {"description": "step 1", "expectedKeywords": ["word", "word"]},
    {"description": "step 2", "expectedKeywords": []}
  ]
}`

const refineInstruction = `You are revising an existing plan.
Keep every step the feedback does not mention exactly as it is, and change only what the feedback asks for.
Answer with the complete revised plan in the same JSON format.`

// generated is the shape the model is asked to produce.
type generated struct {
	Name  string `json:"name"`
	Task  string `json:"task"`
	Steps []Step `json:"steps"`
}

// Planner turns natural-language requests into plans through the model gateway.
type Planner struct {
	gateway llmclient.Gateway
	logger  *zap.Logger
	onToken func(string)
}

// PlannerOption customises a Planner.
type PlannerOption func(*Planner)

// WithTokenHandler streams partial model output to fn while planning.
func WithTokenHandler(fn func(string)) PlannerOption {
	return func(p *Planner) { p.onToken = fn }
}

// NewPlanner creates a Planner.
func NewPlanner(gateway llmclient.Gateway, logger *zap.Logger, opts ...PlannerOption) *Planner {
	p := &Planner{gateway: gateway, logger: logger.Named("planner")}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Generate asks the model for a fresh plan.
func (p *Planner) Generate(ctx context.Context, request string) (*Plan, error) {
	request = strings.TrimSpace(request)
	if request == "" {
		return nil, fmt.Errorf("%w: empty request", ErrInvalidPlan)
	}
	p.logger.Info("Generating plan", zap.String("request", request))
	msgs := []llmclient.Message{
		{Role: llmclient.RoleSystem, Content: planningSystemPrompt},
		{Role: llmclient.RoleUser, Content: "User request: " + request},
	}
	return p.complete(ctx, msgs, request)
}

// Refine asks the model to revise current according to feedback. The result
// is a new plan with a new id; current is left untouched.
func (p *Planner) Refine(ctx context.Context, current *Plan, feedback string) (*Plan, error) {
	if current == nil {
		return nil, fmt.Errorf("%w: nothing to refine", ErrInvalidPlan)
	}
	serialized, err := current.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("serializing current plan: %w", err)
	}
	p.logger.Info("Refining plan", zap.String("plan_id", current.ID()), zap.String("feedback", feedback))
	msgs := []llmclient.Message{
		{Role: llmclient.RoleSystem, Content: planningSystemPrompt + "\n\n" + refineInstruction},
		{Role: llmclient.RoleUser, Content: fmt.Sprintf("Current plan:\n%s\n\nFeedback:\n%s", serialized, strings.TrimSpace(feedback))},
	}
	refined, err := p.complete(ctx, msgs, current.Task())
	if err != nil {
		return nil, err
	}
	refined.scheduledTime = current.scheduledTime
	return refined, nil
}

func (p *Planner) complete(ctx context.Context, msgs []llmclient.Message, fallbackTask string) (*Plan, error) {
	req := llmclient.Request{Messages: msgs, Tier: llmclient.TierText}

	var (
		raw string
		err error
	)
	if p.onToken != nil {
		raw, err = p.gateway.ChatStream(ctx, req, p.onToken)
	} else {
		raw, err = p.gateway.Chat(ctx, req)
	}
	if err != nil {
		return nil, fmt.Errorf("planning request failed: %w", err)
	}
	p.logger.Debug("Planner response", zap.String("response", llmutil.Truncate(raw, 200)))

	out, err := llmutil.ParseObject[generated](raw)
	if err != nil {
		if errors.Is(err, llmutil.ErrNoObject) {
			return nil, fmt.Errorf("%w: %s", ErrNoPlanJSON, llmutil.Truncate(raw, 120))
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidPlan, err)
	}

	task := out.Task
	if strings.TrimSpace(task) == "" {
		task = fallbackTask
	}
	plan, err := New(out.Name, task, out.Steps)
	if err != nil {
		return nil, err
	}
	p.logger.Info("Plan generated", zap.String("plan_id", plan.ID()), zap.Int("steps", plan.Len()))
	return plan, nil
}
