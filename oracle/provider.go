// Package oracle asks a language model which slot a vehicle should take.
package oracle

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	anthropicopt "github.com/anthropics/anthropic-sdk-go/option"
	openai "github.com/sashabaranov/go-openai"
)

type GenerateRequest struct {
	Model       string
	System      string
	Prompt      string
	Temperature float64
	MaxTokens   int
}

type GenerateResponse struct {
	Content      string
	Model        string
	InputTokens  int
	OutputTokens int
	FinishReason string
}

type Provider interface {
	Generate(ctx context.Context, req GenerateRequest) (*GenerateResponse, error)
	Name() string
}

const googleBaseURL = "https://generativelanguage.googleapis.com/v1beta/openai"

// DefaultModels is used when ORACLE_MODEL is empty.
var DefaultModels = map[string]string{
	"openai":    "gpt-4o-mini",
	"google":    "gemini-2.5-flash",
	"ollama":    "llama3.1",
	"anthropic": "claude-haiku-4-5",
}

type ProviderConfig struct {
	Name          string
	OpenAIKey     string
	GoogleKey     string
	AnthropicKey  string
	OllamaBaseURL string
}

// NewProvider returns nil, nil when no provider is configured.
func NewProvider(cfg ProviderConfig) (Provider, error) {
	switch strings.ToLower(cfg.Name) {
	case "":
		return nil, nil
	case "openai":
		if cfg.OpenAIKey == "" {
			return nil, fmt.Errorf("oracle provider openai requires OPENAI_API_KEY")
		}
		return NewOpenAIProvider(cfg.OpenAIKey), nil
	case "google", "gemini":
		if cfg.GoogleKey == "" {
			return nil, fmt.Errorf("oracle provider google requires GOOGLE_API_KEY")
		}
		return NewGoogleProvider(cfg.GoogleKey), nil
	case "ollama":
		base := cfg.OllamaBaseURL
		if base == "" {
			base = "http://localhost:11434"
		}
		return NewOllamaProvider(base), nil
	case "anthropic":
		if cfg.AnthropicKey == "" {
			return nil, fmt.Errorf("oracle provider anthropic requires ANTHROPIC_API_KEY")
		}
		return NewAnthropicProvider(cfg.AnthropicKey), nil
	default:
		return nil, fmt.Errorf("unknown oracle provider %q", cfg.Name)
	}
}

// OpenAIProvider speaks the chat completions API, which Gemini and Ollama
// also expose.
type OpenAIProvider struct {
	name   string
	client *openai.Client
}

func NewOpenAIProvider(apiKey string) *OpenAIProvider {
	return &OpenAIProvider{name: "openai", client: openai.NewClient(apiKey)}
}

func NewGoogleProvider(apiKey string) *OpenAIProvider {
	cfg := openai.DefaultConfig(apiKey)
	cfg.BaseURL = googleBaseURL
	return &OpenAIProvider{name: "google", client: openai.NewClientWithConfig(cfg)}
}

func NewOllamaProvider(baseURL string) *OpenAIProvider {
	cfg := openai.DefaultConfig("ollama")
	cfg.BaseURL = strings.TrimSuffix(baseURL, "/") + "/v1"
	return &OpenAIProvider{name: "ollama", client: openai.NewClientWithConfig(cfg)}
}

func (p *OpenAIProvider) Name() string { return p.name }

func (p *OpenAIProvider) Generate(ctx context.Context, req GenerateRequest) (*GenerateResponse, error) {
	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: req.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: req.System},
			{Role: openai.ChatMessageRoleUser, Content: req.Prompt},
		},
		Temperature: float32(req.Temperature),
		MaxTokens:   req.MaxTokens,
	})
	if err != nil {
		return nil, err
	}

	out := &GenerateResponse{
		Model:        resp.Model,
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
	}
	if len(resp.Choices) > 0 {
		out.Content = resp.Choices[0].Message.Content
		out.FinishReason = string(resp.Choices[0].FinishReason)
	}
	return out, nil
}

type AnthropicProvider struct {
	client anthropic.Client
}

func NewAnthropicProvider(apiKey string) *AnthropicProvider {
	return &AnthropicProvider{client: anthropic.NewClient(anthropicopt.WithAPIKey(apiKey))}
}

func (p *AnthropicProvider) Name() string { return "anthropic" }

func (p *AnthropicProvider) Generate(ctx context.Context, req GenerateRequest) (*GenerateResponse, error) {
	resp, err := p.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		MaxTokens: int64(req.MaxTokens),
		System:    []anthropic.TextBlockParam{{Text: req.System}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)),
		},
	})
	if err != nil {
		return nil, err
	}

	var content strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			content.WriteString(block.Text)
		}
	}
	return &GenerateResponse{
		Content:      content.String(),
		Model:        string(resp.Model),
		InputTokens:  int(resp.Usage.InputTokens),
		OutputTokens: int(resp.Usage.OutputTokens),
		FinishReason: string(resp.StopReason),
	}, nil
}
