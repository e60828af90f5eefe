// internal/llmclient/gemini.go
package llmclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"
	"google.golang.org/genai"
)

// geminiProvider uses the Gemini API through the genai SDK.
type geminiProvider struct {
	client *genai.Client
	model  string
	config genai.GenerateContentConfig
	logger *zap.Logger
}

func newGeminiProvider(ctx context.Context, apiKey, baseURL, model string, temperature float32, maxTokens int, httpClient *http.Client, logger *zap.Logger) (*geminiProvider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("Gemini API Key is required")
	}
	clientCfg := &genai.ClientConfig{
		Backend:    genai.BackendGeminiAPI,
		APIKey:     apiKey,
		HTTPClient: httpClient,
	}
	if baseURL != "" {
		clientCfg.HTTPOptions = genai.HTTPOptions{BaseURL: baseURL}
	}
	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	temp := temperature
	return &geminiProvider{
		client: client,
		model:  model,
		config: genai.GenerateContentConfig{
			Temperature:     &temp,
			MaxOutputTokens: int32(maxTokens),
		},
		logger: logger.Named("gemini"),
	}, nil
}

func (p *geminiProvider) name() string { return "gemini" }

// toGeminiContents splits system messages into the system instruction and
// maps the rest to user/model turns.
func toGeminiContents(msgs []Message) (*genai.Content, []*genai.Content) {
	var (
		system   []string
		contents []*genai.Content
	)
	for _, m := range msgs {
		if m.Role == RoleSystem {
			system = append(system, m.Text())
			continue
		}
		role := genai.RoleUser
		if m.Role == RoleAssistant {
			role = genai.RoleModel
		}
		content := &genai.Content{Role: role}
		if len(m.Parts) == 0 {
			content.Parts = []*genai.Part{genai.NewPartFromText(m.Content)}
		}
		for _, part := range m.Parts {
			if part.IsImage() {
				content.Parts = append(content.Parts, &genai.Part{
					InlineData: &genai.Blob{MIMEType: part.MIMEType, Data: part.Image},
				})
				continue
			}
			content.Parts = append(content.Parts, genai.NewPartFromText(part.Text))
		}
		contents = append(contents, content)
	}
	var instruction *genai.Content
	if len(system) > 0 {
		instruction = genai.NewContentFromText(strings.Join(system, "\n\n"), genai.RoleUser)
	}
	return instruction, contents
}

func (p *geminiProvider) complete(ctx context.Context, req Request, onToken func(string)) (Completion, error) {
	config := p.config
	instruction, contents := toGeminiContents(req.Messages)
	config.SystemInstruction = instruction

	if onToken == nil {
		resp, err := p.client.Models.GenerateContent(ctx, p.model, contents, &config)
		if err != nil {
			return Completion{}, wrapGeminiError(err)
		}
		out := Completion{Text: resp.Text(), Model: p.model}
		if resp.UsageMetadata != nil {
			out.TotalTokens = int(resp.UsageMetadata.TotalTokenCount)
		}
		return out, nil
	}

	var (
		sb  strings.Builder
		out = Completion{Model: p.model}
	)
	for resp, err := range p.client.Models.GenerateContentStream(ctx, p.model, contents, &config) {
		if err != nil {
			return Completion{}, wrapGeminiError(err)
		}
		if resp.UsageMetadata != nil {
			out.TotalTokens = int(resp.UsageMetadata.TotalTokenCount)
		}
		if text := resp.Text(); text != "" {
			sb.WriteString(text)
			onToken(text)
		}
	}
	out.Text = sb.String()
	return out, nil
}

func wrapGeminiError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return &APIError{Provider: "gemini", StatusCode: apiErr.Code, Err: err}
	}
	return fmt.Errorf("gemini request: %w", err)
}
