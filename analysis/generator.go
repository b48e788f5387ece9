// Package analysis turns a scored IPO record into a short narrative, using
// an LLM when one is configured and a rule-based fallback otherwise.
package analysis

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/fenilmodi00/ipo-aggregator/shared"
	"google.golang.org/genai"
)

// Generator produces text for a prompt
type Generator interface {
	Generate(ctx context.Context, prompt, systemPrompt string) (string, error)
	Provider() string
}

const (
	ProviderClaude   = "claude"
	ProviderGemini   = "gemini"
	ProviderFallback = "rules"

	DefaultClaudeModel = "claude-sonnet-4-20250514"
	DefaultGeminiModel = "gemini-2.5-flash"
	defaultMaxTokens   = 1024
)

// ClaudeGenerator calls the Anthropic Messages API
type ClaudeGenerator struct {
	client    anthropic.Client
	model     string
	maxTokens int
}

// NewClaudeGenerator creates a generator for apiKey. An empty model selects
// DefaultClaudeModel.
func NewClaudeGenerator(apiKey, model string, opts ...option.RequestOption) *ClaudeGenerator {
	if model == "" {
		model = DefaultClaudeModel
	}
	return &ClaudeGenerator{
		client:    anthropic.NewClient(append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)...),
		model:     model,
		maxTokens: defaultMaxTokens,
	}
}

func (g *ClaudeGenerator) Provider() string { return ProviderClaude }

func (g *ClaudeGenerator) Generate(ctx context.Context, prompt, systemPrompt string) (string, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(g.model),
		MaxTokens: int64(g.maxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	}
	if systemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Text: systemPrompt}}
	}

	resp, err := g.client.Messages.New(ctx, params)
	if err != nil {
		return "", generationError("ClaudeGenerator", err)
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if text.Len() == 0 {
		return "", generationError("ClaudeGenerator", fmt.Errorf("empty response"))
	}
	return text.String(), nil
}

// GeminiGenerator calls the Gemini API
type GeminiGenerator struct {
	client *genai.Client
	model  string
}

// NewGeminiGenerator creates a generator for apiKey. An empty model selects
// DefaultGeminiModel.
func NewGeminiGenerator(ctx context.Context, apiKey, model string) (*GeminiGenerator, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	if model == "" {
		model = DefaultGeminiModel
	}
	return &GeminiGenerator{client: client, model: model}, nil
}

func (g *GeminiGenerator) Provider() string { return ProviderGemini }

func (g *GeminiGenerator) Generate(ctx context.Context, prompt, systemPrompt string) (string, error) {
	config := &genai.GenerateContentConfig{}
	if systemPrompt != "" {
		config.SystemInstruction = genai.NewContentFromText(systemPrompt, genai.RoleUser)
	}

	resp, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(prompt), config)
	if err != nil {
		return "", generationError("GeminiGenerator", err)
	}

	text := resp.Text()
	if strings.TrimSpace(text) == "" {
		return "", generationError("GeminiGenerator", fmt.Errorf("no content generated"))
	}
	return text, nil
}

// GeneratorConfig selects and configures the provider
type GeneratorConfig struct {
	Provider        string
	AnthropicAPIKey string
	GeminiAPIKey    string
	Model           string
}

// NewGenerator builds the configured generator. It returns nil when no
// provider has a credential; the analyzer then always uses the fallback.
// An empty provider picks whichever key is set, Claude first.
func NewGenerator(ctx context.Context, cfg GeneratorConfig) (Generator, error) {
	provider := strings.ToLower(strings.TrimSpace(cfg.Provider))
	if provider == "" {
		switch {
		case cfg.AnthropicAPIKey != "":
			provider = ProviderClaude
		case cfg.GeminiAPIKey != "":
			provider = ProviderGemini
		default:
			return nil, nil
		}
	}

	switch provider {
	case ProviderClaude, "anthropic":
		if cfg.AnthropicAPIKey == "" {
			return nil, nil
		}
		return NewClaudeGenerator(cfg.AnthropicAPIKey, cfg.Model), nil
	case ProviderGemini, "google":
		if cfg.GeminiAPIKey == "" {
			return nil, nil
		}
		g, err := NewGeminiGenerator(ctx, cfg.GeminiAPIKey, cfg.Model)
		if err != nil {
			return nil, err
		}
		return g, nil
	case "none", "off", ProviderFallback:
		return nil, nil
	}
	return nil, shared.NewServiceError(shared.ErrorCategoryConfiguration, shared.CodeInvalidConfig,
		fmt.Sprintf("unknown AI provider %q", cfg.Provider), "Analysis", "NewGenerator", false, nil)
}

func generationError(service string, err error) error {
	return shared.NewServiceError(shared.ErrorCategoryNetwork, shared.CodeGenerationFailed,
		err.Error(), service, "Generate", shared.IsRetryableError(err), err)
}
