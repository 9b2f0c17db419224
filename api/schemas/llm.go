// File: api/schemas/llm.go
package schemas

import "context"

// GenerationOptions provides detailed parameters to control the text generation
// process for a single request.
type GenerationOptions struct {
	Temperature float32 `json:"temperature"` // Controls randomness of the output.
	// ForceJSONFormat instructs the provider to constrain the response to a
	// valid JSON document where the backend supports it.
	ForceJSONFormat bool `json:"force_json_format"`
}

// GenerationRequest encapsulates a complete request to the LLM, including the
// system persona, the user query, and generation parameters.
type GenerationRequest struct {
	SystemPrompt string            `json:"system_prompt"` // Instructions for the model's persona and task.
	UserPrompt   string            `json:"user_prompt"`   // The specific query or input for this turn.
	Options      GenerationOptions `json:"options"`       // Advanced generation parameters.
}

// LLMClient defines a standard interface for interacting with a Large Language
// Model, abstracting the specifics of the underlying provider (e.g., Ollama).
type LLMClient interface {
	// Generate produces a text completion based on the provided request.
	Generate(ctx context.Context, req GenerationRequest) (string, error)
	// Close cleans up any resources held by the client.
	Close() error
}
