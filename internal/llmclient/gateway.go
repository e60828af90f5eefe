// internal/llmclient/gateway.go
package llmclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// ErrEmptyResponse is returned when a provider answers with no text.
var ErrEmptyResponse = errors.New("model returned an empty response")

// Role of a chat message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Part is one piece of a multi-part message: text, or an encoded image.
type Part struct {
	Text     string
	Image    []byte
	MIMEType string
}

// IsImage reports whether the part carries image bytes.
func (p Part) IsImage() bool { return len(p.Image) > 0 }

// TextPart builds a text part.
func TextPart(s string) Part { return Part{Text: s} }

// ImagePart builds an image part. mimeType defaults to image/png.
func ImagePart(data []byte, mimeType string) Part {
	if mimeType == "" {
		mimeType = "image/png"
	}
	return Part{Image: data, MIMEType: mimeType}
}

// Message is either plain Content or a list of Parts.
type Message struct {
	Role    Role
	Content string
	Parts   []Part
}

// Text returns the concatenated text of the message.
func (m Message) Text() string {
	if len(m.Parts) == 0 {
		return m.Content
	}
	var out string
	for _, p := range m.Parts {
		if !p.IsImage() {
			out += p.Text
		}
	}
	return out
}

// Images returns the image parts of the message.
func (m Message) Images() []Part {
	var out []Part
	for _, p := range m.Parts {
		if p.IsImage() {
			out = append(out, p)
		}
	}
	return out
}

// Tier selects which configured model serves a request.
type Tier string

const (
	TierText   Tier = "text"
	TierVision Tier = "vision"
)

// Request is one chat exchange.
type Request struct {
	Messages []Message
	Tier     Tier
}

// Gateway is the model-facing collaborator used by the planner and the agent loop.
type Gateway interface {
	// Chat returns the full completion text.
	Chat(ctx context.Context, req Request) (string, error)
	// ChatStream behaves like Chat and additionally calls onToken for every
	// partial chunk as it arrives.
	ChatStream(ctx context.Context, req Request, onToken func(string)) (string, error)
}

// Completion is what a provider hands back for one attempt.
type Completion struct {
	Text        string
	TotalTokens int
	Model       string
}

// provider is implemented by every backend. onToken may be nil.
type provider interface {
	complete(ctx context.Context, req Request, onToken func(string)) (Completion, error)
	name() string
}

// APIError carries the HTTP status of a failed provider call.
type APIError struct {
	Provider   string
	StatusCode int
	Err        error
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s API error (status %d): %v", e.Provider, e.StatusCode, e.Err)
}

func (e *APIError) Unwrap() error { return e.Err }

// Retryable reports whether the status is worth another attempt.
func (e *APIError) Retryable() bool {
	switch e.StatusCode {
	case http.StatusTooManyRequests, http.StatusInternalServerError, http.StatusBadGateway,
		http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}
