// File: internal/llmclient/gemini_client_test.go
package llmclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/droidprobe-cli/internal/config"
)

func setupGeminiClient(t *testing.T, handler http.HandlerFunc) *GeminiClient {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	cfg := testLLMConfig()
	cfg.Provider = config.ProviderGemini
	cfg.APIKey = "test-key"
	cfg.Endpoint = server.URL

	client, err := NewGeminiClient(cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func geminiReply(t *testing.T, w http.ResponseWriter, text string) {
	t.Helper()
	var resp geminiResponsePayload
	resp.Candidates = []struct {
		Content      geminiContent `json:"content"`
		FinishReason string        `json:"finishReason"`
	}{
		{Content: geminiContent{Parts: []geminiPart{{Text: text}}, Role: "model"}, FinishReason: "STOP"},
	}
	require.NoError(t, json.NewEncoder(w).Encode(resp))
}

func TestNewGeminiClientRequiresAPIKey(t *testing.T) {
	cfg := testLLMConfig()
	cfg.Provider = config.ProviderGemini
	_, err := NewGeminiClient(cfg, zaptest.NewLogger(t))
	require.Error(t, err)
}

func TestNewGeminiClientDefaultEndpoint(t *testing.T) {
	cfg := testLLMConfig()
	cfg.Provider = config.ProviderGemini
	cfg.APIKey = "test-key"
	cfg.Model = "gemini-1.5-flash"

	client, err := NewGeminiClient(cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.Contains(t, client.endpoint, "gemini-1.5-flash:generateContent")
}

func TestGeminiGenerateSuccess(t *testing.T) {
	var gotPayload geminiRequestPayload
	var gotKey string
	client := setupGeminiClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("x-goog-api-key")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotPayload))
		geminiReply(t, w, `{"command":"key 4"}`)
	})

	content, err := client.Generate(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, `{"command":"key 4"}`, content)

	assert.Equal(t, "test-key", gotKey)
	require.NotNil(t, gotPayload.SystemInstruction)
	assert.Equal(t, "You drive an Android device.", gotPayload.SystemInstruction.Parts[0].Text)
	assert.Equal(t, "application/json", gotPayload.GenerationConfig.ResponseMimeType)
}

func TestGeminiGenerateSafetyBlockIsPermanent(t *testing.T) {
	var calls atomic.Int32
	client := setupGeminiClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		var resp geminiResponsePayload
		resp.Candidates = []struct {
			Content      geminiContent `json:"content"`
			FinishReason string        `json:"finishReason"`
		}{
			{FinishReason: "SAFETY"},
		}
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	})

	_, err := client.Generate(context.Background(), testRequest())
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load(), "safety blocks must not be retried")
	assert.Contains(t, err.Error(), "SAFETY")
}

func TestGeminiGenerateNoCandidatesIsPermanent(t *testing.T) {
	var calls atomic.Int32
	client := setupGeminiClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		require.NoError(t, json.NewEncoder(w).Encode(geminiResponsePayload{}))
	})

	_, err := client.Generate(context.Background(), testRequest())
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}
