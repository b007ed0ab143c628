package verdict

import (
	"context"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/rohann-max/FINSHIELD/internal/risk"
)

const (
	// PlaceholderAPIKey is the sample value shipped in .env templates; it is
	// treated as "no credential".
	PlaceholderAPIKey = "your_azure_openai_api_key"

	DefaultModel      = "gpt-4"
	DefaultAPIVersion = "2023-05-15"

	systemPrompt = "You are an expert fraud analyst specializing in behavioral biometrics. Provide detailed, professional forensic analysis."
	temperature  = 0.3
	maxTokens    = 200
)

// OpenAIConfig configures the chat-completion summarizer. An empty Endpoint
// targets the public OpenAI API; otherwise Endpoint is an Azure OpenAI
// resource and Model is the deployment name.
type OpenAIConfig struct {
	APIKey     string
	Endpoint   string
	Model      string
	APIVersion string
	// BaseURL overrides the public API URL. Used by tests.
	BaseURL string
}

// Configured reports whether a usable credential is present.
func (c OpenAIConfig) Configured() bool {
	key := strings.TrimSpace(c.APIKey)
	return key != "" && key != PlaceholderAPIKey
}

// OpenAISummarizer asks a chat-completion model for a forensic summary.
type OpenAISummarizer struct {
	client *openai.Client
	model  string
}

// NewOpenAISummarizer builds a summarizer, or returns ErrUnavailable when no
// credential is configured.
func NewOpenAISummarizer(cfg OpenAIConfig) (*OpenAISummarizer, error) {
	if !cfg.Configured() {
		return nil, ErrUnavailable
	}
	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}

	var clientCfg openai.ClientConfig
	if cfg.Endpoint != "" {
		clientCfg = openai.DefaultAzureConfig(cfg.APIKey, cfg.Endpoint)
		clientCfg.APIVersion = cfg.APIVersion
		if clientCfg.APIVersion == "" {
			clientCfg.APIVersion = DefaultAPIVersion
		}
		// The deployment name is used verbatim.
		clientCfg.AzureModelMapperFunc = func(string) string { return model }
	} else {
		clientCfg = openai.DefaultConfig(cfg.APIKey)
		if cfg.BaseURL != "" {
			clientCfg.BaseURL = cfg.BaseURL
		}
	}

	return &OpenAISummarizer{
		client: openai.NewClientWithConfig(clientCfg),
		model:  model,
	}, nil
}

// Summarize implements Summarizer.
func (s *OpenAISummarizer) Summarize(ctx context.Context, a *risk.Assessment) (string, error) {
	resp, err := s.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: s.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: Prompt(a)},
		},
		Temperature: temperature,
		MaxTokens:   maxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("chat completion returned no choices")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// Prompt renders the user prompt for an assessment.
func Prompt(a *risk.Assessment) string {
	var b strings.Builder
	b.WriteString("Analyze the following comprehensive behavioral biometric data for fraud detection:\n\n")
	fmt.Fprintf(&b, "RISK SCORE: %d%%\n", a.RiskScore)
	fmt.Fprintf(&b, "ENGINE DECISION: %s\n\n", a.Decision)
	b.WriteString("DETAILED FACTOR ANALYSIS:\n")
	for _, f := range a.Factors {
		fmt.Fprintf(&b, "- %s: %s (%s) - %s\n", f.Name, f.Value, f.Status, f.Reason)
	}
	b.WriteString("\nProvide a professional forensic analysis in 2-3 sentences.\n")
	b.WriteString("Focus on the most suspicious behavioral patterns.\n")
	b.WriteString("If fraudulent, explain the automation signatures.\n")
	b.WriteString("If legitimate, highlight natural human characteristics.\n")
	return b.String()
}
