// Package providers holds the text-generation capability consumed by the
// reply pipeline: the provider contract, the Gemini implementation, and
// the error taxonomy callers branch on (quota vs everything else).
package providers

import "context"

// Provider is the interface all generation providers must implement.
type Provider interface {
	// Generate produces a reply for the request, or an *APIError for
	// provider-side failures.
	Generate(ctx context.Context, req GenerateRequest) (string, error)

	// Name returns the provider identifier (e.g. "gemini").
	Name() string

	// Model returns the configured model name.
	Model() string
}

// Turn is one prior conversation exchange passed as model context.
type Turn struct {
	Role    string `json:"role"` // "user" or "model"
	Content string `json:"content"`
}

// Blob is inline binary content (base64) for multimodal requests.
type Blob struct {
	MIMEType string `json:"mime_type"` // e.g. "audio/ogg"
	Data     string `json:"data"`      // base64-encoded bytes
}

// Part is one piece of a multimodal user message.
type Part struct {
	Text       string `json:"text,omitempty"`
	InlineData *Blob  `json:"inline_data,omitempty"`
}

// GenerateRequest is the input for a Generate call. When Parts is set it
// takes the place of Prompt as the user message (multimodal).
type GenerateRequest struct {
	Prompt            string
	Parts             []Part
	History           []Turn
	SystemInstruction string
}

// GenerationConfig tunes sampling. Zero values fall back to provider
// defaults.
type GenerationConfig struct {
	Temperature     float64
	TopK            int
	TopP            float64
	MaxOutputTokens int
}

// DefaultGenerationConfig mirrors the tuning the bot has always shipped
// with.
func DefaultGenerationConfig() GenerationConfig {
	return GenerationConfig{
		Temperature:     0.7,
		TopK:            40,
		TopP:            0.95,
		MaxOutputTokens: 8000,
	}
}
