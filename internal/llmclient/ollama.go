// internal/llmclient/ollama.go
package llmclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/ollama/ollama/api"
	"go.uber.org/zap"
)

const defaultOllamaURL = "http://localhost:11434"

// ollamaProvider talks to a local Ollama server.
type ollamaProvider struct {
	client      *api.Client
	model       string
	temperature float32
	maxTokens   int
	logger      *zap.Logger
}

func newOllamaProvider(baseURL, model string, temperature float32, maxTokens int, httpClient *http.Client, logger *zap.Logger) (*ollamaProvider, error) {
	if baseURL == "" {
		baseURL = defaultOllamaURL
	}
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid Ollama URL %q: %w", baseURL, err)
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &ollamaProvider{
		client:      api.NewClient(u, httpClient),
		model:       model,
		temperature: temperature,
		maxTokens:   maxTokens,
		logger:      logger.Named("ollama"),
	}, nil
}

func (p *ollamaProvider) name() string { return "ollama" }

func toOllamaMessages(msgs []Message) []api.Message {
	out := make([]api.Message, 0, len(msgs))
	for _, m := range msgs {
		msg := api.Message{Role: string(m.Role), Content: m.Text()}
		for _, img := range m.Images() {
			msg.Images = append(msg.Images, api.ImageData(img.Image))
		}
		out = append(out, msg)
	}
	return out
}

func (p *ollamaProvider) complete(ctx context.Context, req Request, onToken func(string)) (Completion, error) {
	stream := onToken != nil
	options := map[string]any{"temperature": p.temperature}
	if p.maxTokens > 0 {
		options["num_predict"] = p.maxTokens
	}
	chatReq := &api.ChatRequest{
		Model:    p.model,
		Messages: toOllamaMessages(req.Messages),
		Stream:   &stream,
		Options:  options,
	}

	var (
		sb  strings.Builder
		out = Completion{Model: p.model}
	)
	err := p.client.Chat(ctx, chatReq, func(resp api.ChatResponse) error {
		if resp.Message.Content != "" {
			sb.WriteString(resp.Message.Content)
			if onToken != nil {
				onToken(resp.Message.Content)
			}
		}
		if resp.Done {
			out.TotalTokens = resp.PromptEvalCount + resp.EvalCount
		}
		return nil
	})
	if err != nil {
		return Completion{}, wrapOllamaError(err)
	}
	out.Text = sb.String()
	return out, nil
}

func wrapOllamaError(err error) error {
	var statusErr api.StatusError
	if errors.As(err, &statusErr) {
		return &APIError{Provider: "ollama", StatusCode: statusErr.StatusCode, Err: err}
	}
	return fmt.Errorf("ollama request: %w", err)
}
