// File: internal/llmclient/ollama_client.go
package llmclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/xkilldash9x/droidprobe-cli/api/schemas"
	"github.com/xkilldash9x/droidprobe-cli/internal/config"
)

// OllamaClient implements schemas.LLMClient against a local or remote Ollama
// server using its /api/chat endpoint.
type OllamaClient struct {
	endpoint   string
	model      string
	httpClient *http.Client
	logger     *zap.Logger
	config     config.LLMConfig
}

// -- Ollama API Request/Response Structures (Internal to this file) --

type ollamaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaOptions struct {
	Temperature float32 `json:"temperature"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

type ollamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Format   string          `json:"format,omitempty"`
	Options  ollamaOptions   `json:"options"`
}

type ollamaChatResponse struct {
	Message struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"message"`
	Done            bool  `json:"done"`
	PromptEvalCount int   `json:"prompt_eval_count"`
	EvalCount       int   `json:"eval_count"`
	TotalDuration   int64 `json:"total_duration"`
}

// NewOllamaClient initializes the client from configuration.
func NewOllamaClient(cfg config.LLMConfig, logger *zap.Logger) (*OllamaClient, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("ollama host is required")
	}
	host := strings.TrimSuffix(cfg.Host, "/")
	if !strings.HasPrefix(host, "http://") && !strings.HasPrefix(host, "https://") {
		host = "http://" + host
	}

	return &OllamaClient{
		endpoint: host + "/api/chat",
		model:    cfg.Model,
		config:   cfg,
		httpClient: &http.Client{
			Timeout: cfg.APITimeout,
		},
		logger: logger.Named("llm_client.ollama"),
	}, nil
}

// Generate sends the prompts to the Ollama chat API and returns the generated
// content, retrying transient failures with exponential backoff.
func (c *OllamaClient) Generate(ctx context.Context, req schemas.GenerationRequest) (string, error) {
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

		var responsePayload ollamaChatResponse
		if err := json.Unmarshal(respBody, &responsePayload); err != nil {
			return backoff.Permanent(fmt.Errorf("failed to decode response payload: %w", err))
		}

		if responsePayload.Message.Content == "" {
			return backoff.Permanent(fmt.Errorf("ollama returned an empty message"))
		}

		c.logger.Info("LLM generation complete (Ollama)",
			zap.Duration("duration", duration),
			zap.Int("prompt_tokens", responsePayload.PromptEvalCount),
			zap.Int("completion_tokens", responsePayload.EvalCount),
		)

		responseContent = responsePayload.Message.Content
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
func (c *OllamaClient) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

func (c *OllamaClient) buildRequestPayload(req schemas.GenerationRequest) ollamaChatRequest {
	// A zero request temperature means "use the configured default".
	temperature := req.Options.Temperature
	if temperature == 0 {
		temperature = c.config.Temperature
	}

	payload := ollamaChatRequest{
		Model: c.model,
		Messages: []ollamaMessage{
			{Role: "system", Content: req.SystemPrompt},
			{Role: "user", Content: req.UserPrompt},
		},
		Stream: false,
		Options: ollamaOptions{
			Temperature: temperature,
			NumPredict:  c.config.MaxTokens,
		},
	}
	if req.Options.ForceJSONFormat || c.config.ForceJSON {
		payload.Format = "json"
	}
	return payload
}

func (c *OllamaClient) handleAPIError(statusCode int, body []byte) error {
	c.logger.Error("Ollama API returned error status", zap.Int("status", statusCode), zap.String("response", string(body)))
	err := fmt.Errorf("ollama API error: status %d, body: %s", statusCode, string(body))

	switch statusCode {
	case http.StatusTooManyRequests, http.StatusServiceUnavailable, http.StatusInternalServerError:
		return err // Transient errors, retry.
	default:
		return backoff.Permanent(err)
	}
}
