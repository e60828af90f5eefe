package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/droidpilot/internal/config"
	"github.com/xkilldash9x/droidpilot/internal/llmclient"
	"github.com/xkilldash9x/droidpilot/internal/stuck"
)

func TestSystemPrompt_Levels(t *testing.T) {
	brief := SystemPrompt(stuck.LevelBrief, config.VisionOff)
	analyze := SystemPrompt(stuck.LevelAnalyze, config.VisionOff)
	looping := SystemPrompt(stuck.LevelLooping, config.VisionOff)

	assert.Contains(t, brief, "Think briefly")
	assert.Contains(t, analyze, "identify the target element")
	assert.Contains(t, looping, "Repeating the last action is forbidden")
	for _, p := range []string{brief, analyze, looping} {
		assert.Contains(t, p, `"action":"click"`)
		assert.NotContains(t, p, "Read positions from the screenshot")
	}

	assert.Contains(t, SystemPrompt(stuck.Level(9), config.VisionOff), "You are looping")
}

func TestUserPrompt(t *testing.T) {
	p := multiStepPlan(t, 3)
	p.Advance()

	out := UserPrompt(p, []string{"pressed back", "clicked (1,2)"}, screen("Bluetooth"), true)
	assert.Contains(t, out, "do several things")
	assert.Contains(t, out, "Progress: step 2/3")
	assert.Contains(t, out, "Current step goal: step 2")
	assert.Contains(t, out, "1. pressed back\n2. clicked (1,2)")
	assert.Contains(t, out, `"txt":"Bluetooth"`)

	empty := UserPrompt(p, nil, screen("Bluetooth"), false)
	assert.Contains(t, empty, "Recent actions:\nnone")
	assert.NotContains(t, empty, "Bluetooth")
	assert.Contains(t, empty, "attached as an image")
}

func TestBuildRequest_DegradesWithoutImage(t *testing.T) {
	p := multiStepPlan(t, 1)
	req := buildRequest(stuck.LevelBrief, config.VisionEndToEnd, p, nil, screen("x"), nil, "")
	require.Len(t, req.Messages, 2)
	assert.Equal(t, llmclient.TierText, req.Tier)
	assert.Equal(t, llmclient.RoleSystem, req.Messages[0].Role)
	assert.Equal(t, llmclient.RoleUser, req.Messages[1].Role)
	assert.Empty(t, req.Messages[1].Parts)
}
