// File: internal/mocks/mocks.go
package mocks

import (
	"context"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/xkilldash9x/droidpilot/internal/action"
	"github.com/xkilldash9x/droidpilot/internal/llmclient"
	"github.com/xkilldash9x/droidpilot/internal/snapshot"
)

// -- Model Gateway Mock --

// MockGateway mocks llmclient.Gateway and records every request.
type MockGateway struct {
	mock.Mock
	mu       sync.Mutex
	requests []llmclient.Request
}

func (m *MockGateway) record(req llmclient.Request) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	m.mu.Unlock()
}

func (m *MockGateway) Chat(ctx context.Context, req llmclient.Request) (string, error) {
	m.record(req)
	args := m.Called(ctx, req)
	return args.String(0), args.Error(1)
}

// ChatStream hands the whole configured reply to onToken as a single chunk.
func (m *MockGateway) ChatStream(ctx context.Context, req llmclient.Request, onToken func(string)) (string, error) {
	m.record(req)
	args := m.Called(ctx, req, onToken)
	text := args.String(0)
	if onToken != nil && text != "" {
		onToken(text)
	}
	return text, args.Error(1)
}

// Requests returns a copy of every request received so far.
func (m *MockGateway) Requests() []llmclient.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]llmclient.Request(nil), m.requests...)
}

// LastRequest returns the most recent request, or the zero value.
func (m *MockGateway) LastRequest() llmclient.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.requests) == 0 {
		return llmclient.Request{}
	}
	return m.requests[len(m.requests)-1]
}

// -- UI State Source Mock --

// MockSource mocks a screen source that also tracks changes.
type MockSource struct {
	mock.Mock
}

func (m *MockSource) Capture(ctx context.Context) (snapshot.Snapshot, error) {
	args := m.Called(ctx)
	return args.Get(0).(snapshot.Snapshot), args.Error(1)
}

func (m *MockSource) ResetChangeTracking() {
	m.Called()
}

// -- Effector Mock --

// MockEffector mocks device input.
type MockEffector struct {
	mock.Mock
}

func (m *MockEffector) Click(ctx context.Context, x, y float64) error {
	return m.Called(ctx, x, y).Error(0)
}

func (m *MockEffector) LongPress(ctx context.Context, x, y float64, d time.Duration) error {
	return m.Called(ctx, x, y, d).Error(0)
}

func (m *MockEffector) Drag(ctx context.Context, x1, y1, x2, y2 float64, d time.Duration) error {
	return m.Called(ctx, x1, y1, x2, y2, d).Error(0)
}

func (m *MockEffector) Swipe(ctx context.Context, x1, y1, x2, y2 float64, d time.Duration) error {
	return m.Called(ctx, x1, y1, x2, y2, d).Error(0)
}

func (m *MockEffector) Input(ctx context.Context, text string, at *action.Point) (bool, error) {
	args := m.Called(ctx, text, at)
	return args.Bool(0), args.Error(1)
}

func (m *MockEffector) Back(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *MockEffector) Home(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

// -- Screenshot Source Mock --

// MockScreenshots mocks a screenshot source.
type MockScreenshots struct {
	mock.Mock
}

func (m *MockScreenshots) Screenshot(ctx context.Context) ([]byte, string, error) {
	args := m.Called(ctx)
	data, _ := args.Get(0).([]byte)
	return data, args.String(1), args.Error(2)
}
