// File: internal/llmclient/factory.go
package llmclient

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/droidprobe-cli/api/schemas"
	"github.com/xkilldash9x/droidprobe-cli/internal/config"
)

// NewClient is a factory function that creates an LLMClient based on the
// configured provider.
func NewClient(cfg config.LLMConfig, logger *zap.Logger) (schemas.LLMClient, error) {
	switch cfg.Provider {
	case config.ProviderOllama:
		return NewOllamaClient(cfg, logger)
	case config.ProviderGemini:
		return NewGeminiClient(cfg, logger)
	default:
		return nil, fmt.Errorf("unknown or unsupported LLM provider configured: %q. Supported: [%s, %s]",
			cfg.Provider, config.ProviderOllama, config.ProviderGemini)
	}
}
