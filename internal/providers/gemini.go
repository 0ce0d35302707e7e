package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const defaultGeminiBase = "https://generativelanguage.googleapis.com/v1beta"

// GeminiProvider implements Provider against the Gemini REST API
// (models/{model}:generateContent).
type GeminiProvider struct {
	apiKey  string
	apiBase string
	model   string
	genCfg  GenerationConfig
	client  *http.Client
}

// NewGemini creates a Gemini provider for one API key.
func NewGemini(apiKey, model string, genCfg GenerationConfig) *GeminiProvider {
	if model == "" {
		model = "gemini-2.5-flash"
	}
	return &GeminiProvider{
		apiKey:  apiKey,
		apiBase: defaultGeminiBase,
		model:   model,
		genCfg:  genCfg,
		client:  &http.Client{Timeout: 120 * time.Second},
	}
}

// WithBaseURL overrides the API base (tests).
func (p *GeminiProvider) WithBaseURL(base string) *GeminiProvider {
	p.apiBase = strings.TrimRight(base, "/")
	return p
}

func (p *GeminiProvider) Name() string  { return "gemini" }
func (p *GeminiProvider) Model() string { return p.model }

type geminiPart struct {
	Text       string      `json:"text,omitempty"`
	InlineData *geminiBlob `json:"inline_data,omitempty"`
}

type geminiBlob struct {
	MIMEType string `json:"mime_type"`
	Data     string `json:"data"`
}

type geminiContent struct {
	Role  string       `json:"role"`
	Parts []geminiPart `json:"parts"`
}

type geminiRequest struct {
	Contents         []geminiContent         `json:"contents"`
	GenerationConfig *geminiGenerationConfig `json:"generationConfig,omitempty"`
}

type geminiGenerationConfig struct {
	Temperature     float64 `json:"temperature,omitempty"`
	TopK            int     `json:"topK,omitempty"`
	TopP            float64 `json:"topP,omitempty"`
	MaxOutputTokens int     `json:"maxOutputTokens,omitempty"`
}

type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

type geminiErrorResponse struct {
	Error struct {
		Code    int    `json:"code"`
		Status  string `json:"status"`
		Message string `json:"message"`
	} `json:"error"`
}

// buildContents assembles the request contents. The system instruction is
// emulated as a leading user/model exchange, which keeps behaviour
// identical across models that lack native system-instruction support.
func (p *GeminiProvider) buildContents(req GenerateRequest) []geminiContent {
	contents := make([]geminiContent, 0, len(req.History)+3)

	if req.SystemInstruction != "" {
		contents = append(contents,
			geminiContent{Role: "user", Parts: []geminiPart{{Text: req.SystemInstruction}}},
			geminiContent{Role: "model", Parts: []geminiPart{{Text: "Entendi."}}},
		)
	}

	for _, turn := range req.History {
		if strings.TrimSpace(turn.Content) == "" {
			continue
		}
		role := turn.Role
		if role != "model" {
			role = "user"
		}
		contents = append(contents, geminiContent{Role: role, Parts: []geminiPart{{Text: turn.Content}}})
	}

	var userParts []geminiPart
	if len(req.Parts) > 0 {
		for _, part := range req.Parts {
			gp := geminiPart{Text: part.Text}
			if part.InlineData != nil {
				gp.InlineData = &geminiBlob{MIMEType: part.InlineData.MIMEType, Data: part.InlineData.Data}
			}
			userParts = append(userParts, gp)
		}
	} else {
		userParts = []geminiPart{{Text: req.Prompt}}
	}
	return append(contents, geminiContent{Role: "user", Parts: userParts})
}

func (p *GeminiProvider) Generate(ctx context.Context, req GenerateRequest) (string, error) {
	body := geminiRequest{
		Contents: p.buildContents(req),
		GenerationConfig: &geminiGenerationConfig{
			Temperature:     p.genCfg.Temperature,
			TopK:            p.genCfg.TopK,
			TopP:            p.genCfg.TopP,
			MaxOutputTokens: p.genCfg.MaxOutputTokens,
		},
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("gemini: marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:generateContent", p.apiBase, p.model)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("gemini: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", p.apiKey)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("gemini: request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return "", fmt.Errorf("gemini: read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		apiErr := &APIError{
			Provider:   "gemini",
			StatusCode: resp.StatusCode,
			RetryAfter: ParseRetryAfter(resp.Header.Get("Retry-After")),
		}
		var errResp geminiErrorResponse
		if json.Unmarshal(data, &errResp) == nil && errResp.Error.Message != "" {
			apiErr.Status = errResp.Error.Status
			apiErr.Message = errResp.Error.Message
		} else {
			apiErr.Message = strings.TrimSpace(string(data))
		}
		return "", apiErr
	}

	var gr geminiResponse
	if err := json.Unmarshal(data, &gr); err != nil {
		return "", fmt.Errorf("gemini: decode response: %w", err)
	}
	if len(gr.Candidates) == 0 || len(gr.Candidates[0].Content.Parts) == 0 {
		return "", &APIError{Provider: "gemini", StatusCode: resp.StatusCode, Message: "empty candidate response"}
	}

	var text strings.Builder
	for _, part := range gr.Candidates[0].Content.Parts {
		text.WriteString(part.Text)
	}
	return text.String(), nil
}
