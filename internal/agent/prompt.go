// internal/agent/prompt.go
package agent

import (
	"fmt"
	"strings"

	"github.com/xkilldash9x/droidpilot/internal/config"
	"github.com/xkilldash9x/droidpilot/internal/llmclient"
	"github.com/xkilldash9x/droidpilot/internal/plan"
	"github.com/xkilldash9x/droidpilot/internal/snapshot"
	"github.com/xkilldash9x/droidpilot/internal/stuck"
)

const basePrompt = `You are an assistant that operates an Android phone. Using the current screen, the task plan and the recent history, decide the single next action.

Available actions (answer with exactly one JSON object):
- {"th":"thought","action":"click","b":"x,y","step_completed":false}
- {"th":"thought","action":"long_press","b":"x,y","duration":1000}
- {"th":"thought","action":"input","text":"text to type","b":"x,y"}
- {"th":"thought","action":"scroll","direction":"up|down|left|right"}
- {"th":"thought","action":"drag","b":"x,y","endX":0,"endY":0,"duration":800}
- {"th":"thought","action":"back"}
- {"th":"thought","action":"home"}
- {"th":"thought","action":"wait","s":2}
- {"th":"thought","action":"done","r":"reason"}

Rules:
1. Output only the JSON object, no other text.
2. Screen elements carry "bnds":"left,top,right,bottom"; click the center of the target's bounds.
3. Set "step_completed" to true once the action finishes the current step.
4. Use "done" only when the whole task is finished or cannot continue.`

const visionOnlyRules = `
5. No element list is available. Read positions from the screenshot, in screen pixels.`

var levelInstructions = map[stuck.Level]string{
	stuck.LevelBrief:   "Think briefly and keep \"th\" short.",
	stuck.LevelAnalyze: "The screen is complex. Before acting, identify the target element and check its bounds in \"th\".",
	stuck.LevelLooping: "You are looping: your last action was already tried on this exact screen and changed nothing. You must change strategy. Repeating the last action is forbidden.",
}

// SystemPrompt returns the system message for a reasoning level.
func SystemPrompt(level stuck.Level, vision config.VisionMode) string {
	var b strings.Builder
	b.WriteString(basePrompt)
	if vision == config.VisionEndToEnd {
		b.WriteString(visionOnlyRules)
	}
	b.WriteString("\n\n")
	instr, ok := levelInstructions[level]
	if !ok {
		instr = levelInstructions[stuck.LevelLooping]
	}
	b.WriteString(instr)
	return b.String()
}

// UserPrompt renders the task context and, unless the screen is only sent as
// an image, the snapshot.
func UserPrompt(p *plan.Plan, history []string, snap snapshot.Snapshot, includeSnapshot bool) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Task:\n%s\n\n", p.Task())
	fmt.Fprintf(&b, "Progress: step %s\n", p.Progress())
	if step, ok := p.CurrentStep(); ok {
		fmt.Fprintf(&b, "Current step goal: %s\n", step.Description)
	}

	b.WriteString("\nRecent actions:\n")
	if len(history) == 0 {
		b.WriteString("none\n")
	}
	for i, h := range history {
		fmt.Fprintf(&b, "%d. %s\n", i+1, h)
	}

	if includeSnapshot {
		fmt.Fprintf(&b, "\nScreen elements:\n%s\n", snap.Serialize())
	} else {
		b.WriteString("\nThe current screen is attached as an image.\n")
	}
	b.WriteString("\nDecide the next action and answer with one JSON object.")
	return b.String()
}

// buildRequest assembles the gateway request for one tick. image is nil when
// no screenshot is available, in which case the request degrades to text.
func buildRequest(level stuck.Level, vision config.VisionMode, p *plan.Plan, history []string, snap snapshot.Snapshot, image []byte, mimeType string) llmclient.Request {
	if image == nil {
		vision = config.VisionOff
	}
	includeSnapshot := vision != config.VisionEndToEnd
	user := UserPrompt(p, history, snap, includeSnapshot)

	req := llmclient.Request{
		Messages: []llmclient.Message{{Role: llmclient.RoleSystem, Content: SystemPrompt(level, vision)}},
		Tier:     llmclient.TierText,
	}
	switch vision {
	case config.VisionAssist:
		req.Messages = append(req.Messages, llmclient.Message{
			Role:  llmclient.RoleUser,
			Parts: []llmclient.Part{llmclient.TextPart(user), llmclient.ImagePart(image, mimeType)},
		})
	case config.VisionEndToEnd:
		req.Tier = llmclient.TierVision
		req.Messages = append(req.Messages, llmclient.Message{
			Role:  llmclient.RoleUser,
			Parts: []llmclient.Part{llmclient.TextPart(user), llmclient.ImagePart(image, mimeType)},
		})
	default:
		req.Messages = append(req.Messages, llmclient.Message{Role: llmclient.RoleUser, Content: user})
	}
	return req
}
