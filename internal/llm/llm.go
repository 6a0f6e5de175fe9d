// Package llm holds the REST clients for the language, vision and image
// models the pipeline agents call.
package llm

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/JaneYeo/llm-lens/internal/config"
)

// Provider is the interface for LLM providers.
type Provider interface {
	Generate(ctx context.Context, prompt string, maxTokens int) (string, error)
	IsConfigured() bool
}

// VisionProvider answers a prompt about an image.
type VisionProvider interface {
	Describe(ctx context.Context, prompt string, image []byte, mimeType string, maxTokens int) (string, error)
}

// ImageProvider renders an image from a prompt and returns the encoded bytes.
type ImageProvider interface {
	GenerateImage(ctx context.Context, prompt string) ([]byte, error)
}

const defaultTimeout = 120 * time.Second

func newHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &http.Client{Timeout: timeout}
}

// postJSON sends body to url and decodes a 200 answer into out. Other status
// codes become an *APIError.
func postJSON(ctx context.Context, client *http.Client, provider, url string, headers map[string]string, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%s API error: %w", provider, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		return &APIError{Provider: provider, StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

// OllamaProvider is a local Ollama LLM provider.
type OllamaProvider struct {
	Model    string
	BaseURL  string
	JSONMode bool
	client   *http.Client
}

// NewOllamaProvider creates a new Ollama provider.
func NewOllamaProvider(model, baseURL string, timeout time.Duration) *OllamaProvider {
	return &OllamaProvider{
		Model:    model,
		BaseURL:  strings.TrimRight(baseURL, "/"),
		JSONMode: true,
		client:   newHTTPClient(timeout),
	}
}

// IsConfigured checks if Ollama is running and the model is available.
func (o *OllamaProvider) IsConfigured() bool {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.BaseURL+"/api/tags", nil)
	if err != nil {
		return false
	}

	resp, err := o.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false
	}

	var result struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return false
	}

	modelBase := strings.SplitN(o.Model, ":", 2)[0]
	for _, m := range result.Models {
		if strings.Contains(m.Name, modelBase) {
			return true
		}
	}
	slog.Warn("ollama model not found", "model", o.Model)
	return false
}

// Generate sends a prompt to Ollama and returns the response.
func (o *OllamaProvider) Generate(ctx context.Context, prompt string, maxTokens int) (string, error) {
	return o.chat(ctx, map[string]any{"role": "user", "content": prompt}, maxTokens)
}

// Describe sends a prompt with an attached image to a multimodal Ollama model.
func (o *OllamaProvider) Describe(ctx context.Context, prompt string, image []byte, _ string, maxTokens int) (string, error) {
	return o.chat(ctx, map[string]any{
		"role":    "user",
		"content": prompt,
		"images":  []string{base64.StdEncoding.EncodeToString(image)},
	}, maxTokens)
}

func (o *OllamaProvider) chat(ctx context.Context, message map[string]any, maxTokens int) (string, error) {
	body := map[string]any{
		"model":    o.Model,
		"messages": []map[string]any{message},
		"stream":   false,
		"options": map[string]any{
			"num_predict": maxTokens,
			"temperature": 0.3,
		},
	}
	if o.JSONMode {
		body["format"] = "json"
	}

	var result struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	}
	if err := postJSON(ctx, o.client, "ollama", o.BaseURL+"/api/chat", nil, body, &result); err != nil {
		return "", err
	}
	if result.Message.Content == "" {
		return "", ErrEmptyResponse
	}
	return result.Message.Content, nil
}

const openAIBaseURL = "https://api.openai.com/v1"

// OpenAIProvider is an OpenAI API provider.
type OpenAIProvider struct {
	Model    string
	APIKey   string
	BaseURL  string
	JSONMode bool
	client   *http.Client
}

// NewOpenAIProvider creates a new OpenAI provider.
func NewOpenAIProvider(model, apiKey string, timeout time.Duration) *OpenAIProvider {
	return &OpenAIProvider{
		Model:    model,
		APIKey:   apiKey,
		BaseURL:  openAIBaseURL,
		JSONMode: true,
		client:   newHTTPClient(timeout),
	}
}

// IsConfigured checks if the API key is set.
func (o *OpenAIProvider) IsConfigured() bool {
	return o.APIKey != ""
}

// Generate sends a prompt to OpenAI and returns the response.
func (o *OpenAIProvider) Generate(ctx context.Context, prompt string, maxTokens int) (string, error) {
	return o.complete(ctx, prompt, maxTokens)
}

// Describe sends a prompt with an inline image to a vision-capable model.
func (o *OpenAIProvider) Describe(ctx context.Context, prompt string, image []byte, mimeType string, maxTokens int) (string, error) {
	dataURI := "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(image)
	return o.complete(ctx, []map[string]any{
		{"type": "text", "text": prompt},
		{"type": "image_url", "image_url": map[string]string{"url": dataURI}},
	}, maxTokens)
}

func (o *OpenAIProvider) complete(ctx context.Context, content any, maxTokens int) (string, error) {
	if o.APIKey == "" {
		return "", fmt.Errorf("OpenAI API key not configured: %w", ErrNotConfigured)
	}

	body := map[string]any{
		"model": o.Model,
		"messages": []map[string]any{
			{"role": "user", "content": content},
		},
		"max_tokens":  maxTokens,
		"temperature": 0.3,
	}
	if o.JSONMode {
		body["response_format"] = map[string]string{"type": "json_object"}
	}

	var result struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	headers := map[string]string{"Authorization": "Bearer " + o.APIKey}
	if err := postJSON(ctx, o.client, "OpenAI", o.BaseURL+"/chat/completions", headers, body, &result); err != nil {
		return "", err
	}

	if len(result.Choices) == 0 || result.Choices[0].Message.Content == "" {
		return "", fmt.Errorf("no choices in OpenAI response: %w", ErrEmptyResponse)
	}
	return result.Choices[0].Message.Content, nil
}

// Providers are the model handles the agents share. Vision and Image may be
// nil when the configured backend cannot serve them.
type Providers struct {
	Text   Provider
	Vision VisionProvider
	Image  ImageProvider
}

// NewProviders builds the providers for cfg. The preferred backend is used
// when usable, otherwise OpenAI is tried as a fallback. ErrNotConfigured is
// returned when no text provider is available.
func NewProviders(cfg config.LLM, logger *slog.Logger) (*Providers, error) {
	p := &Providers{}

	switch strings.ToLower(cfg.Provider) {
	case "gemini":
		if cfg.GeminiAPIKey != "" {
			g := NewGeminiProvider(cfg.GeminiAPIKey, cfg.Model, cfg.Timeout)
			g.VisionModel = cfg.VisionModel
			g.ImageModel = cfg.ImageModel
			logger.Info("using gemini", "model", cfg.Model, "image_model", cfg.ImageModel)
			return &Providers{Text: g, Vision: g, Image: g}, nil
		}
		logger.Warn("gemini API key not set, trying OpenAI fallback")
	case "ollama":
		o := NewOllamaProvider(cfg.Model, cfg.OllamaURL, cfg.Timeout)
		if o.IsConfigured() {
			logger.Info("using ollama", "model", cfg.Model)
			p.Text = o
			p.Vision = o
		} else {
			logger.Warn("ollama not available, trying OpenAI fallback")
		}
	}

	if p.Text == nil {
		o := NewOpenAIProvider(cfg.OpenAIModel, cfg.OpenAIAPIKey, cfg.Timeout)
		if !o.IsConfigured() {
			return nil, fmt.Errorf("%w: set GEMINI_API_KEY or OPENAI_API_KEY, or start Ollama", ErrNotConfigured)
		}
		logger.Info("using openai", "model", cfg.OpenAIModel)
		p.Text = o
		p.Vision = o
	}

	// Image generation is only offered by Gemini.
	if cfg.GeminiAPIKey != "" {
		g := NewGeminiProvider(cfg.GeminiAPIKey, cfg.Model, cfg.Timeout)
		g.ImageModel = cfg.ImageModel
		p.Image = g
	}
	return p, nil
}
