// internal/llmclient/openai.go
package llmclient

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

// openAIAPI is the subset of the SDK client we call, so tests can substitute it.
type openAIAPI interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
	CreateChatCompletionStream(ctx context.Context, req openai.ChatCompletionRequest) (*openai.ChatCompletionStream, error)
}

// openAIProvider talks to any OpenAI-compatible chat completions endpoint.
type openAIProvider struct {
	api         openAIAPI
	model       string
	temperature float32
	maxTokens   int
	logger      *zap.Logger
}

func newOpenAIProvider(apiKey, baseURL, model string, temperature float32, maxTokens int, httpClient *http.Client, logger *zap.Logger) *openAIProvider {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = strings.TrimRight(baseURL, "/")
	}
	if httpClient != nil {
		cfg.HTTPClient = httpClient
	}
	return &openAIProvider{
		api:         openai.NewClientWithConfig(cfg),
		model:       model,
		temperature: temperature,
		maxTokens:   maxTokens,
		logger:      logger.Named("openai"),
	}
}

func (p *openAIProvider) name() string { return "openai" }

func (p *openAIProvider) buildRequest(req Request) openai.ChatCompletionRequest {
	msgs := make([]openai.ChatCompletionMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		msgs = append(msgs, toOpenAIMessage(m))
	}
	return openai.ChatCompletionRequest{
		Model:       p.model,
		Messages:    msgs,
		Temperature: p.temperature,
		MaxTokens:   p.maxTokens,
	}
}

func toOpenAIMessage(m Message) openai.ChatCompletionMessage {
	out := openai.ChatCompletionMessage{Role: string(m.Role)}
	if len(m.Parts) == 0 {
		out.Content = m.Content
		return out
	}
	for _, part := range m.Parts {
		if part.IsImage() {
			out.MultiContent = append(out.MultiContent, openai.ChatMessagePart{
				Type: openai.ChatMessagePartTypeImageURL,
				ImageURL: &openai.ChatMessageImageURL{
					URL:    "data:" + part.MIMEType + ";base64," + base64.StdEncoding.EncodeToString(part.Image),
					Detail: openai.ImageURLDetailAuto,
				},
			})
			continue
		}
		out.MultiContent = append(out.MultiContent, openai.ChatMessagePart{
			Type: openai.ChatMessagePartTypeText,
			Text: part.Text,
		})
	}
	return out
}

func (p *openAIProvider) complete(ctx context.Context, req Request, onToken func(string)) (Completion, error) {
	oreq := p.buildRequest(req)
	if onToken == nil {
		resp, err := p.api.CreateChatCompletion(ctx, oreq)
		if err != nil {
			return Completion{}, wrapOpenAIError(err)
		}
		if len(resp.Choices) == 0 {
			return Completion{}, ErrEmptyResponse
		}
		return Completion{
			Text:        resp.Choices[0].Message.Content,
			TotalTokens: resp.Usage.TotalTokens,
			Model:       resp.Model,
		}, nil
	}

	oreq.Stream = true
	oreq.StreamOptions = &openai.StreamOptions{IncludeUsage: true}
	stream, err := p.api.CreateChatCompletionStream(ctx, oreq)
	if err != nil {
		return Completion{}, wrapOpenAIError(err)
	}
	defer stream.Close()

	var (
		sb  strings.Builder
		out = Completion{Model: p.model}
	)
	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return Completion{}, wrapOpenAIError(err)
		}
		if chunk.Usage != nil {
			out.TotalTokens = chunk.Usage.TotalTokens
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		if delta := chunk.Choices[0].Delta.Content; delta != "" {
			sb.WriteString(delta)
			onToken(delta)
		}
	}
	out.Text = sb.String()
	return out, nil
}

func wrapOpenAIError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return &APIError{Provider: "openai", StatusCode: apiErr.HTTPStatusCode, Err: err}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return &APIError{Provider: "openai", StatusCode: reqErr.HTTPStatusCode, Err: err}
	}
	return fmt.Errorf("openai request: %w", err)
}
