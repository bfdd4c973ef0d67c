package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const defaultClaudeMaxTokens = 1024

// ClaudeProvider implements the Provider interface using Anthropic's Claude
type ClaudeProvider struct {
	client      *anthropic.Client
	model       string
	maxTokens   int
	temperature float32
}

// NewClaudeProvider creates a new Claude provider
func NewClaudeProvider(s Settings) (*ClaudeProvider, error) {
	if s.APIKey == "" {
		return nil, fmt.Errorf("SCREENPLAY_ANTHROPIC_KEY or ANTHROPIC_API_KEY environment variable required")
	}

	opts := []option.RequestOption{option.WithAPIKey(s.APIKey)}
	if s.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(s.BaseURL))
	}
	if s.Timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(s.Timeout))
	}
	client := anthropic.NewClient(opts...)

	model := s.Model
	if model == "" {
		model = string(anthropic.ModelClaudeSonnet4_20250514)
	}

	return &ClaudeProvider{
		client:      &client,
		model:       model,
		maxTokens:   s.MaxTokens,
		temperature: s.Temperature,
	}, nil
}

func (p *ClaudeProvider) Name() string { return "claude" }

// Complete sends the images followed by the prompt. Claude has no strict
// schema mode here, so the schema is appended to the system prompt and the
// caller parses the reply leniently.
func (p *ClaudeProvider) Complete(ctx context.Context, req Request) (string, error) {
	blocks := make([]anthropic.ContentBlockParamUnion, 0, len(req.Images)+1)
	for _, img := range req.Images {
		blocks = append(blocks, anthropic.NewImageBlockBase64(img.MediaType, img.Base64()))
	}
	if req.Prompt != "" {
		blocks = append(blocks, anthropic.NewTextBlock(req.Prompt))
	}

	system := req.System
	if req.Schema != nil {
		schemaJSON, err := json.MarshalIndent(&req.Schema.Definition, "", "  ")
		if err != nil {
			return "", fmt.Errorf("failed to marshal schema %s: %w", req.Schema.Name, err)
		}
		system = strings.TrimSpace(system + "\n\n" + fmt.Sprintf(schemaInstruction, string(schemaJSON)))
	}

	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = p.maxTokens
	}
	if maxTokens == 0 {
		maxTokens = defaultClaudeMaxTokens
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.model),
		MaxTokens: int64(maxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(blocks...),
		},
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	if p.temperature > 0 {
		params.Temperature = anthropic.Float(float64(p.temperature))
	}

	resp, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("Claude API error: %w", err)
	}

	// Extract text content
	var responseText string
	for _, block := range resp.Content {
		if block.Type == "text" {
			responseText = block.Text
			break
		}
	}

	if responseText == "" {
		return "", fmt.Errorf("empty response from Claude")
	}

	return responseText, nil
}
