package llmclient

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xkilldash9x/droidpilot/internal/config"
)

// scriptedProvider replays a fixed sequence of outcomes, one per attempt.
type scriptedProvider struct {
	mu       sync.Mutex
	steps    []scriptedStep
	calls    int
	requests []Request
}

type scriptedStep struct {
	tokens []string
	out    Completion
	err    error
}

func (s *scriptedProvider) complete(_ context.Context, req Request, onToken func(string)) (Completion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)
	step := s.steps[len(s.steps)-1]
	if s.calls < len(s.steps) {
		step = s.steps[s.calls]
	}
	s.calls++
	if onToken != nil {
		for _, tok := range step.tokens {
			onToken(tok)
		}
	}
	return step.out, step.err
}

func (s *scriptedProvider) name() string { return "scripted" }

func (s *scriptedProvider) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// setupTestLogger is a helper to create a zap logger for testing with an observer.
func setupTestLogger(t *testing.T) (*zap.Logger, *observer.ObservedLogs) {
	t.Helper()
	core, logs := observer.New(zap.DebugLevel)
	return zap.New(core), logs
}

// instantBackOff retries immediately so tests stay fast.
func instantBackOff() backoff.BackOff { return &backoff.ZeroBackOff{} }

// getValidLLMConfig returns a valid LLMConfig for testing purposes.
func getValidLLMConfig() config.LLMConfig {
	return config.LLMConfig{
		Provider:    config.ProviderOpenAI,
		APIKey:      "test-api-key",
		Model:       "test-model",
		APITimeout:  5 * time.Second,
		Temperature: 0.2,
		MaxTokens:   256,
		MaxRetries:  1,
	}
}

func userRequest(text string) Request {
	return Request{Messages: []Message{
		{Role: RoleSystem, Content: "You are a test."},
		{Role: RoleUser, Content: text},
	}}
}
