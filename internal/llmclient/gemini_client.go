// File: internal/llmclient/gemini_client.go
package llmclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/xkilldash9x/droidprobe-cli/api/schemas"
	"github.com/xkilldash9x/droidprobe-cli/internal/config"
)

// GeminiClient implements schemas.LLMClient for the Google Gemini API.
type GeminiClient struct {
	apiKey     string
	endpoint   string
	httpClient *http.Client
	logger     *zap.Logger
	config     config.LLMConfig
}

// -- Gemini API Request/Response Structures (Internal to this file) --

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
	Role  string       `json:"role,omitempty"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiSystemInstruction struct {
	Parts []geminiPart `json:"parts"`
}

type geminiGenerationConfig struct {
	Temperature      float64 `json:"temperature"`
	ResponseMimeType string  `json:"response_mime_type,omitempty"`
	MaxOutputTokens  int     `json:"maxOutputTokens,omitempty"`
}

type geminiRequestPayload struct {
	Contents          []geminiContent          `json:"contents"`
	SystemInstruction *geminiSystemInstruction `json:"system_instruction,omitempty"`
	GenerationConfig  geminiGenerationConfig   `json:"generationConfig,omitempty"`
}

type geminiResponsePayload struct {
	Candidates []struct {
		Content      geminiContent `json:"content"`
		FinishReason string        `json:"finishReason"`
	} `json:"candidates"`
	UsageMetadata struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
		TotalTokenCount      int `json:"totalTokenCount"`
	} `json:"usageMetadata"`
}

// NewGeminiClient initializes the client.
func NewGeminiClient(cfg config.LLMConfig, logger *zap.Logger) (*GeminiClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}

	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = fmt.Sprintf("https://generativelanguage.googleapis.com/v1beta/models/%s:generateContent", cfg.Model)
	}

	return &GeminiClient{
		apiKey:   cfg.APIKey,
		endpoint: endpoint,
		config:   cfg,
		httpClient: &http.Client{
			Timeout: cfg.APITimeout,
		},
		logger: logger.Named("llm_client.gemini"),
	}, nil
}

// Generate sends the prompts to the Gemini API and returns the generated
// content, retrying transient failures with exponential backoff.
func (c *GeminiClient) Generate(ctx context.Context, req schemas.GenerationRequest) (string, error) {
	payload := c.buildRequestPayload(req)

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request payload: %w", err)
	}

	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = c.config.MaxRetryElapsed
	b.MaxInterval = 30 * time.Second

	var responseContent string

	operation := func() error {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewBuffer(body))
		if err != nil {
			return backoff.Permanent(fmt.Errorf("failed to create HTTP request: %w", err))
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("x-goog-api-key", c.apiKey)

		startTime := time.Now()
		resp, err := c.httpClient.Do(httpReq)
		duration := time.Since(startTime)

		if err != nil {
			c.logger.Warn("Transport error during LLM request, retrying...", zap.Error(err))
			return classifyTransport(err)
		}
		defer resp.Body.Close()

		respBody, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("failed to read response body: %w", err)
		}

		if resp.StatusCode != http.StatusOK {
			return c.handleAPIError(resp.StatusCode, respBody)
		}

		var responsePayload geminiResponsePayload
		if err := json.Unmarshal(respBody, &responsePayload); err != nil {
			return backoff.Permanent(fmt.Errorf("failed to decode response payload: %w", err))
		}

		if len(responsePayload.Candidates) == 0 {
			return backoff.Permanent(fmt.Errorf("gemini API returned no candidates"))
		}

		candidate := responsePayload.Candidates[0]
		if len(candidate.Content.Parts) == 0 {
			if candidate.FinishReason == "SAFETY" || candidate.FinishReason == "BLOCKLIST" {
				return backoff.Permanent(fmt.Errorf("gemini API blocked the request (Reason: %s)", candidate.FinishReason))
			}
			return fmt.Errorf("gemini API returned empty content parts (Reason: %s)", candidate.FinishReason)
		}

		c.logger.Info("LLM generation complete (Gemini)",
			zap.Duration("duration", duration),
			zap.Int("prompt_tokens", responsePayload.UsageMetadata.PromptTokenCount),
			zap.Int("completion_tokens", responsePayload.UsageMetadata.CandidatesTokenCount),
		)

		responseContent = candidate.Content.Parts[0].Text
		return nil
	}

	if err = backoff.Retry(operation, backoff.WithContext(b, ctx)); err != nil {
		if IsClientError(err) {
			return "", err
		}
		return "", &ClientError{Kind: FailureBackend, Err: err}
	}

	return responseContent, nil
}

// Close releases idle connections held by the HTTP client.
func (c *GeminiClient) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

func (c *GeminiClient) buildRequestPayload(req schemas.GenerationRequest) geminiRequestPayload {
	// A zero request temperature means "use the configured default".
	temperature := req.Options.Temperature
	if temperature == 0 {
		temperature = c.config.Temperature
	}

	genConfig := geminiGenerationConfig{
		Temperature:     float64(temperature),
		MaxOutputTokens: c.config.MaxTokens,
	}
	if req.Options.ForceJSONFormat || c.config.ForceJSON {
		genConfig.ResponseMimeType = "application/json"
	}

	return geminiRequestPayload{
		Contents: []geminiContent{
			{
				Role:  "user",
				Parts: []geminiPart{{Text: req.UserPrompt}},
			},
		},
		SystemInstruction: &geminiSystemInstruction{
			Parts: []geminiPart{{Text: req.SystemPrompt}},
		},
		GenerationConfig: genConfig,
	}
}

func (c *GeminiClient) handleAPIError(statusCode int, body []byte) error {
	c.logger.Error("Gemini API returned error status", zap.Int("status", statusCode), zap.String("response", string(body)))
	err := fmt.Errorf("gemini API error: status %d, body: %s", statusCode, string(body))

	switch statusCode {
	case http.StatusTooManyRequests, http.StatusServiceUnavailable, http.StatusInternalServerError:
		return err // Transient errors, retry.
	default:
		return backoff.Permanent(err)
	}
}
