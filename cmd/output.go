package cmd

import (
	"fmt"
	"io"
	"strings"

	"go.uber.org/zap/zapcore"

	"github.com/xkilldash9x/droidpilot/internal/agent"
	"github.com/xkilldash9x/droidpilot/internal/plan"
)

// printPlan writes a human readable summary of p.
func printPlan(w io.Writer, p *plan.Plan) {
	fmt.Fprintf(w, "Plan %s\n", p.ID())
	fmt.Fprintf(w, "  Name:     %s\n", p.Name())
	fmt.Fprintf(w, "  Task:     %s\n", p.Task())
	fmt.Fprintf(w, "  Progress: %s\n", p.Progress())
	if st := p.ScheduledTime(); st != "" {
		fmt.Fprintf(w, "  Schedule: %s\n", st)
	}
	for i, s := range p.Steps() {
		marker := " "
		switch {
		case i < p.CurrentIndex():
			marker = "x"
		case i == p.CurrentIndex():
			marker = ">"
		}
		fmt.Fprintf(w, "  [%s] %d. %s", marker, i+1, s.Description)
		if len(s.ExpectedKeywords) > 0 {
			fmt.Fprintf(w, " (expect: %s)", strings.Join(s.ExpectedKeywords, ", "))
		}
		fmt.Fprintln(w)
	}
}

// printEvents renders session events until the channel closes.
func printEvents(w io.Writer, events <-chan agent.Event) {
	for ev := range events {
		switch ev.Type {
		case agent.EventPlanUpdate:
			fmt.Fprintf(w, "[plan]   step %s\n", ev.Progress)
		case agent.EventAction:
			fmt.Fprintf(w, "[action] %s\n", ev.Action)
			if ev.Thought != "" {
				fmt.Fprintf(w, "         %s\n", ev.Thought)
			}
		case agent.EventTokenUsage:
			fmt.Fprintf(w, "[tokens] %d total\n", ev.TotalTokens)
		case agent.EventPlanCleared:
			fmt.Fprintf(w, "[plan]   cleared: %s\n", ev.Message)
		case agent.EventLog:
			if ev.Level >= zapcore.WarnLevel {
				fmt.Fprintf(w, "[%s]   %s\n", ev.Level.String(), ev.Message)
			}
		case agent.EventRunFinished:
			if ev.Outcome != nil {
				fmt.Fprintf(w, "[done]   %s at %s", ev.Outcome.Reason, ev.Outcome.Progress)
				if ev.Outcome.Detail != "" {
					fmt.Fprintf(w, ": %s", ev.Outcome.Detail)
				}
				fmt.Fprintln(w)
			}
		}
	}
}
