package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// ClaudeClient calls the Anthropic Messages API.
type ClaudeClient struct {
	baseURL    string
	httpClient *http.Client
}

type claudeContentBlock struct {
	Type   string             `json:"type"`
	Text   string             `json:"text,omitempty"`
	Source *claudeImageSource `json:"source,omitempty"`
}

type claudeImageSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

type claudeMessage struct {
	Role    string               `json:"role"`
	Content []claudeContentBlock `json:"content"`
}

type claudeRequest struct {
	Model       string          `json:"model"`
	MaxTokens   int             `json:"max_tokens"`
	Messages    []claudeMessage `json:"messages"`
	Temperature float32         `json:"temperature,omitempty"`
	System      string          `json:"system,omitempty"`
}

type claudeResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// NewClaudeClient creates an Anthropic client.
func NewClaudeClient() *ClaudeClient {
	return &ClaudeClient{
		baseURL: "https://api.anthropic.com/v1/messages",
		httpClient: &http.Client{
			Timeout: 120 * time.Second,
		},
	}
}

// Provider implements ProviderClient.
func (c *ClaudeClient) Provider() string { return ProviderClaude }

// Complete implements ProviderClient.
func (c *ClaudeClient) Complete(ctx context.Context, apiKey, model string, req *CompletionRequest) (*CompletionResult, error) {
	start := time.Now()

	content := []claudeContentBlock{{Type: "text", Text: req.Prompt}}
	for _, img := range req.Images {
		content = append(content, claudeContentBlock{
			Type: "image",
			Source: &claudeImageSource{
				Type:      "base64",
				MediaType: img.MediaType,
				Data:      img.DataBase64,
			},
		})
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 8000
	}

	body, err := json.Marshal(&claudeRequest{
		Model:       model,
		MaxTokens:   maxTokens,
		Messages:    []claudeMessage{{Role: "user", Content: content}},
		Temperature: req.Temperature,
		System:      req.SystemInstruction,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", normalizeAPIKey(apiKey))
	httpReq.Header.Set("anthropic-version", "2023-06-01")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("claude request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, providerStatusError(ProviderClaude, resp.StatusCode, respBody)
	}

	var parsed claudeResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	if parsed.Error != nil {
		return nil, fmt.Errorf("claude API error: %s", parsed.Error.Message)
	}

	text := ""
	for _, block := range parsed.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}

	cost := claudeCost(model, parsed.Usage.InputTokens, parsed.Usage.OutputTokens)
	return &CompletionResult{
		Text: text,
		Usage: Usage{
			PromptTokens:     parsed.Usage.InputTokens,
			CompletionTokens: parsed.Usage.OutputTokens,
			CostUSD:          cost,
			Provider:         ProviderClaude,
			Model:            model,
		},
		Duration: time.Since(start),
	}, nil
}

// claudeCost estimates spend from Anthropic list pricing per million tokens.
func claudeCost(model string, inputTokens, outputTokens int) float64 {
	inPerM, outPerM := 3.0, 15.0 // sonnet-class default
	switch {
	case containsFold(model, "opus"):
		inPerM, outPerM = 15.0, 75.0
	case containsFold(model, "haiku"):
		inPerM, outPerM = 0.8, 4.0
	}
	return float64(inputTokens)/1e6*inPerM + float64(outputTokens)/1e6*outPerM
}
