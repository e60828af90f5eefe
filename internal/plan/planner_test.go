package plan

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/droidpilot/internal/llmclient"
	"github.com/xkilldash9x/droidpilot/internal/mocks"
)

const wifiPlanResponse = `Here you go:
{"name":"Wi-Fi","task":"turn on wi-fi","steps":[
 {"description":"open settings","expectedKeywords":["Settings"]},
 {"description":"tap network","expectedKeywords":[]},
 {"description":"toggle wi-fi","expectedKeywords":["Wi-Fi"]}]}
Good luck!`

func TestPlanner_Generate(t *testing.T) {
	t.Run("parses embedded plan", func(t *testing.T) {
		gw := new(mocks.MockGateway)
		gw.On("Chat", mock.Anything, mock.MatchedBy(func(req llmclient.Request) bool {
			return len(req.Messages) == 2 &&
				req.Messages[0].Role == llmclient.RoleSystem &&
				strings.Contains(req.Messages[1].Content, "turn on wi-fi")
		})).Return(wifiPlanResponse, nil).Once()

		p := NewPlanner(gw, zaptest.NewLogger(t))
		got, err := p.Generate(context.Background(), "turn on wi-fi")
		require.NoError(t, err)

		assert.Equal(t, "Wi-Fi", got.Name())
		assert.Equal(t, 3, got.Len())
		assert.Equal(t, []string{"Settings"}, got.Steps()[0].ExpectedKeywords)
		assert.Equal(t, "1/3", got.Progress())
		gw.AssertExpectations(t)
	})

	t.Run("streams tokens when a handler is set", func(t *testing.T) {
		gw := new(mocks.MockGateway)
		gw.On("ChatStream", mock.Anything, mock.Anything, mock.Anything).Return(wifiPlanResponse, nil).Once()

		var streamed strings.Builder
		p := NewPlanner(gw, zaptest.NewLogger(t), WithTokenHandler(func(tok string) { streamed.WriteString(tok) }))
		_, err := p.Generate(context.Background(), "turn on wi-fi")
		require.NoError(t, err)
		assert.Equal(t, wifiPlanResponse, streamed.String())
		gw.AssertNotCalled(t, "Chat", mock.Anything, mock.Anything)
	})

	t.Run("no JSON object", func(t *testing.T) {
		gw := new(mocks.MockGateway)
		gw.On("Chat", mock.Anything, mock.Anything).Return("Sorry, I can't help with that.", nil)

		_, err := NewPlanner(gw, zaptest.NewLogger(t)).Generate(context.Background(), "x")
		assert.ErrorIs(t, err, ErrNoPlanJSON)
	})

	t.Run("missing steps", func(t *testing.T) {
		gw := new(mocks.MockGateway)
		gw.On("Chat", mock.Anything, mock.Anything).Return(`{"name":"n","task":"t"}`, nil)

		_, err := NewPlanner(gw, zaptest.NewLogger(t)).Generate(context.Background(), "x")
		assert.ErrorIs(t, err, ErrInvalidPlan)
	})

	t.Run("broken JSON", func(t *testing.T) {
		gw := new(mocks.MockGateway)
		gw.On("Chat", mock.Anything, mock.Anything).Return(`{"name": "n", "steps": [ }`, nil)

		_, err := NewPlanner(gw, zaptest.NewLogger(t)).Generate(context.Background(), "x")
		assert.ErrorIs(t, err, ErrInvalidPlan)
	})

	t.Run("task falls back to the request", func(t *testing.T) {
		gw := new(mocks.MockGateway)
		gw.On("Chat", mock.Anything, mock.Anything).Return(`{"name":"n","steps":["a","b","c"]}`, nil)

		got, err := NewPlanner(gw, zaptest.NewLogger(t)).Generate(context.Background(), "do the thing")
		require.NoError(t, err)
		assert.Equal(t, "do the thing", got.Task())
	})

	t.Run("gateway failure", func(t *testing.T) {
		gw := new(mocks.MockGateway)
		boom := errors.New("connection refused")
		gw.On("Chat", mock.Anything, mock.Anything).Return("", boom)

		_, err := NewPlanner(gw, zaptest.NewLogger(t)).Generate(context.Background(), "x")
		assert.ErrorIs(t, err, boom)
	})

	t.Run("empty request", func(t *testing.T) {
		gw := new(mocks.MockGateway)
		_, err := NewPlanner(gw, zaptest.NewLogger(t)).Generate(context.Background(), "   ")
		assert.ErrorIs(t, err, ErrInvalidPlan)
		gw.AssertNotCalled(t, "Chat", mock.Anything, mock.Anything)
	})
}

func TestPlanner_Refine(t *testing.T) {
	current, err := New("Wi-Fi", "turn on wi-fi", threeSteps())
	require.NoError(t, err)
	require.NoError(t, current.SetScheduledTime("08:15"))
	current.Advance()

	gw := new(mocks.MockGateway)
	gw.On("Chat", mock.Anything, mock.MatchedBy(func(req llmclient.Request) bool {
		user := req.Messages[1].Content
		return strings.Contains(req.Messages[0].Content, "Keep every step") &&
			strings.Contains(user, current.ID()) &&
			strings.Contains(user, "use the quick settings panel")
	})).Return(`{"name":"Wi-Fi","task":"turn on wi-fi","steps":[{"description":"pull down quick settings"},{"description":"tap wi-fi tile"}]}`, nil).Once()

	refined, err := NewPlanner(gw, zaptest.NewLogger(t)).Refine(context.Background(), current, "use the quick settings panel")
	require.NoError(t, err)

	assert.NotEqual(t, current.ID(), refined.ID(), "refinement yields a new plan")
	assert.Equal(t, 2, refined.Len())
	assert.Equal(t, 0, refined.CurrentIndex())
	assert.Equal(t, "08:15", refined.ScheduledTime())

	assert.Equal(t, 3, current.Len(), "the original is untouched")
	assert.Equal(t, 1, current.CurrentIndex())
	gw.AssertExpectations(t)

	_, err = NewPlanner(gw, zaptest.NewLogger(t)).Refine(context.Background(), nil, "x")
	assert.ErrorIs(t, err, ErrInvalidPlan)
}
