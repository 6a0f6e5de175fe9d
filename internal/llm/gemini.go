package llm

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const geminiBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// GeminiProvider talks to the Gemini generateContent REST endpoint. It
// serves text, vision and image generation with per-capability models.
type GeminiProvider struct {
	APIKey      string
	Model       string
	VisionModel string
	ImageModel  string
	BaseURL     string
	JSONMode    bool
	client      *http.Client
}

// NewGeminiProvider creates a Gemini provider with JSON responses enabled.
func NewGeminiProvider(apiKey, model string, timeout time.Duration) *GeminiProvider {
	return &GeminiProvider{
		APIKey:      apiKey,
		Model:       model,
		VisionModel: model,
		BaseURL:     geminiBaseURL,
		JSONMode:    true,
		client:      newHTTPClient(timeout),
	}
}

// IsConfigured checks if the API key is set.
func (g *GeminiProvider) IsConfigured() bool {
	return g.APIKey != ""
}

type geminiPart struct {
	Text       string        `json:"text,omitempty"`
	InlineData *geminiInline `json:"inlineData,omitempty"`
}

type geminiInline struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []geminiPart `json:"parts"`
		} `json:"content"`
		FinishReason string `json:"finishReason"`
	} `json:"candidates"`
	PromptFeedback struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback"`
}

// Generate sends a text prompt and returns the concatenated text parts.
func (g *GeminiProvider) Generate(ctx context.Context, prompt string, maxTokens int) (string, error) {
	resp, err := g.generateContent(ctx, g.Model, []geminiPart{{Text: prompt}}, g.generationConfig(maxTokens))
	if err != nil {
		return "", err
	}
	return resp.text()
}

// Describe sends a prompt together with an inline image.
func (g *GeminiProvider) Describe(ctx context.Context, prompt string, image []byte, mimeType string, maxTokens int) (string, error) {
	parts := []geminiPart{
		{Text: prompt},
		{InlineData: &geminiInline{MimeType: mimeType, Data: base64.StdEncoding.EncodeToString(image)}},
	}
	model := g.VisionModel
	if model == "" {
		model = g.Model
	}
	resp, err := g.generateContent(ctx, model, parts, g.generationConfig(maxTokens))
	if err != nil {
		return "", err
	}
	return resp.text()
}

// GenerateImage asks the image model for a picture and returns the first
// inline image part.
func (g *GeminiProvider) GenerateImage(ctx context.Context, prompt string) ([]byte, error) {
	if g.ImageModel == "" {
		return nil, fmt.Errorf("gemini image model not set: %w", ErrNotConfigured)
	}
	cfg := map[string]any{"responseModalities": []string{"TEXT", "IMAGE"}}
	resp, err := g.generateContent(ctx, g.ImageModel, []geminiPart{{Text: prompt}}, cfg)
	if err != nil {
		return nil, err
	}

	for _, c := range resp.Candidates {
		for _, p := range c.Content.Parts {
			if p.InlineData == nil || p.InlineData.Data == "" {
				continue
			}
			data, err := base64.StdEncoding.DecodeString(p.InlineData.Data)
			if err != nil {
				return nil, fmt.Errorf("decoding image data: %w", err)
			}
			return data, nil
		}
	}
	return nil, fmt.Errorf("no image in gemini response: %w", ErrEmptyResponse)
}

func (g *GeminiProvider) generationConfig(maxTokens int) map[string]any {
	cfg := map[string]any{"temperature": 0.3}
	if maxTokens > 0 {
		cfg["maxOutputTokens"] = maxTokens
	}
	if g.JSONMode {
		cfg["responseMimeType"] = "application/json"
	}
	return cfg
}

func (g *GeminiProvider) generateContent(ctx context.Context, model string, parts []geminiPart, genCfg map[string]any) (*geminiResponse, error) {
	if g.APIKey == "" {
		return nil, fmt.Errorf("gemini API key not configured: %w", ErrNotConfigured)
	}

	body := map[string]any{
		"contents":         []map[string]any{{"role": "user", "parts": parts}},
		"generationConfig": genCfg,
	}
	endpoint := fmt.Sprintf("%s/models/%s:generateContent", strings.TrimRight(g.BaseURL, "/"), url.PathEscape(model))
	headers := map[string]string{"x-goog-api-key": g.APIKey}

	var resp geminiResponse
	if err := postJSON(ctx, g.client, "gemini", endpoint, headers, body, &resp); err != nil {
		return nil, err
	}
	if resp.PromptFeedback.BlockReason != "" {
		return nil, fmt.Errorf("gemini blocked prompt: %s", resp.PromptFeedback.BlockReason)
	}
	return &resp, nil
}

func (r *geminiResponse) text() (string, error) {
	var sb strings.Builder
	for _, c := range r.Candidates {
		for _, p := range c.Content.Parts {
			sb.WriteString(p.Text)
		}
		if sb.Len() > 0 {
			break
		}
	}
	if sb.Len() == 0 {
		return "", ErrEmptyResponse
	}
	return sb.String(), nil
}
