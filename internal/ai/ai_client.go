package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"google.golang.org/genai"

	"newsletter-briefing/internal/config"
	"newsletter-briefing/internal/logger"
	"newsletter-briefing/internal/service"
)

type aiClient struct {
	provider   string
	apiKey     string
	baseURL    string
	models     map[service.ModelTier]string
	httpClient *http.Client
	genai      *genai.Client
	logger     *logger.Logger
}

const (
	ProviderOpenAI   = "openai"
	ProviderDeepSeek = "deepseek"
	ProviderGemini   = "gemini"
)

// NewAIClient builds the client for cfg.AIProvider. Gemini goes through the
// genai SDK, OpenAI and DeepSeek share the chat completions wire format.
func NewAIClient(ctx context.Context, cfg *config.Config, logger *logger.Logger) (service.AIClient, error) {
	provider := strings.ToLower(cfg.AIProvider)
	switch provider {
	case ProviderOpenAI, ProviderDeepSeek, ProviderGemini:
	default:
		return nil, fmt.Errorf("unsupported AI provider %q", cfg.AIProvider)
	}

	baseURL := cfg.AIBaseURL
	if baseURL == "" {
		baseURL = getBaseURL(provider)
	}

	client := &aiClient{
		provider: provider,
		apiKey:   cfg.AIKey,
		baseURL:  strings.TrimRight(baseURL, "/"),
		models: map[service.ModelTier]string{
			service.TierFast:    orDefault(cfg.TriageModel, getModel(provider, service.TierFast)),
			service.TierQuality: orDefault(cfg.SynthesisModel, getModel(provider, service.TierQuality)),
		},
		httpClient: &http.Client{Timeout: 120 * time.Second},
		logger:     logger,
	}

	if provider == ProviderGemini {
		clientCfg := &genai.ClientConfig{
			APIKey:  cfg.AIKey,
			Backend: genai.BackendGeminiAPI,
		}
		if cfg.AIBaseURL != "" {
			clientCfg.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.AIBaseURL}
		}
		gc, err := genai.NewClient(ctx, clientCfg)
		if err != nil {
			return nil, fmt.Errorf("failed to create genai client: %w", err)
		}
		client.genai = gc
	}

	return client, nil
}

// getBaseURL returns the appropriate API base URL based on the provider
func getBaseURL(provider string) string {
	switch provider {
	case ProviderDeepSeek:
		return "https://api.deepseek.com"
	case ProviderGemini:
		// The genai SDK resolves its own endpoint.
		return ""
	default:
		return "https://api.openai.com/v1"
	}
}

// getModel returns the default model for a provider and tier
func getModel(provider string, tier service.ModelTier) string {
	switch provider {
	case ProviderDeepSeek:
		return "deepseek-chat"
	case ProviderGemini:
		if tier == service.TierQuality {
			return "gemini-2.5-pro"
		}
		return "gemini-2.0-flash-lite"
	default:
		if tier == service.TierQuality {
			return "gpt-4o"
		}
		return "gpt-4o-mini"
	}
}

func orDefault(value, fallback string) string {
	if value != "" {
		return value
	}
	return fallback
}

// OpenAI/DeepSeek API request/response structures
type chatCompletionRequest struct {
	Model     string    `json:"model"`
	Messages  []message `json:"messages"`
	MaxTokens int       `json:"max_tokens,omitempty"`
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionResponse struct {
	ID      string   `json:"id"`
	Model   string   `json:"model"`
	Choices []choice `json:"choices"`
	Usage   usage    `json:"usage"`
}

type choice struct {
	Index        int     `json:"index"`
	Message      message `json:"message"`
	FinishReason string  `json:"finish_reason"`
}

type usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

func (a *aiClient) Generate(ctx context.Context, req service.GenerateRequest) (string, error) {
	model := a.models[req.Tier]
	if model == "" {
		model = a.models[service.TierFast]
	}

	var text string
	var err error

	switch a.provider {
	case ProviderGemini:
		text, err = a.generateWithGemini(ctx, model, req)
	default:
		text, err = a.generateWithOpenAIStyle(ctx, model, req)
	}

	if err != nil {
		return "", fmt.Errorf("failed to generate with %s: %w", model, err)
	}

	a.logger.Debugf("Generated %d characters with %s (%s tier)", len(text), model, req.Tier)
	return text, nil
}

// generateWithOpenAIStyle handles generation using OpenAI/DeepSeek style API.
// req.JSON is not forwarded: json_object mode only allows a top-level object.
func (a *aiClient) generateWithOpenAIStyle(ctx context.Context, model string, req service.GenerateRequest) (string, error) {
	messages := make([]message, 0, 2)
	if req.System != "" {
		messages = append(messages, message{Role: "system", Content: req.System})
	}
	messages = append(messages, message{Role: "user", Content: req.Prompt})

	request := chatCompletionRequest{
		Model:     model,
		Messages:  messages,
		MaxTokens: req.MaxTokens,
	}

	resp, err := a.makeRequest(ctx, request)
	if err != nil {
		return "", err
	}

	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no choices returned from AI")
	}

	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// generateWithGemini handles generation using the Google GenAI SDK
func (a *aiClient) generateWithGemini(ctx context.Context, model string, req service.GenerateRequest) (string, error) {
	genCfg := &genai.GenerateContentConfig{}
	if req.System != "" {
		genCfg.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}
	if req.MaxTokens > 0 {
		genCfg.MaxOutputTokens = int32(req.MaxTokens)
	}
	if req.JSON {
		genCfg.ResponseMIMEType = "application/json"
	}

	resp, err := a.genai.Models.GenerateContent(ctx, model, genai.Text(req.Prompt), genCfg)
	if err != nil {
		return "", fmt.Errorf("gemini generate failed: %w", err)
	}

	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", fmt.Errorf("no candidates returned from Gemini")
	}

	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if part != nil && part.Text != "" {
			b.WriteString(part.Text)
		}
	}
	if b.Len() == 0 {
		return "", fmt.Errorf("no content parts in Gemini response")
	}

	return strings.TrimSpace(b.String()), nil
}

// makeRequest makes an HTTP request to the OpenAI/DeepSeek AI API
func (a *aiClient) makeRequest(ctx context.Context, request chatCompletionRequest) (*chatCompletionResponse, error) {
	jsonData, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := a.baseURL + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+a.apiKey)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("API request failed with status %d: %s", resp.StatusCode, string(body))
	}

	var chatResp chatCompletionResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	return &chatResp, nil
}
