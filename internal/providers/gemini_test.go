package providers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func geminiOK(text string) string {
	return `{"candidates":[{"content":{"parts":[{"text":` + jsonString(text) + `}]}}]}`
}

func jsonString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

func TestGemini_Generate(t *testing.T) {
	var captured geminiRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("x-goog-api-key") != "key-1" {
			t.Errorf("missing api key header, got %q", r.Header.Get("x-goog-api-key"))
		}
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		w.Write([]byte(geminiOK("resposta")))
	}))
	defer srv.Close()

	p := NewGemini("key-1", "gemini-2.5-flash", DefaultGenerationConfig()).WithBaseURL(srv.URL)

	got, err := p.Generate(context.Background(), GenerateRequest{
		Prompt:            "Qual o prazo para recurso?",
		SystemInstruction: "Você é um assistente.",
		History: []Turn{
			{Role: "user", Content: "oi"},
			{Role: "model", Content: "olá"},
			{Role: "user", Content: "   "}, // blank turns are dropped
		},
	})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if got != "resposta" {
		t.Errorf("got %q", got)
	}

	// system emulation (2) + 2 non-blank history turns + user message
	if len(captured.Contents) != 5 {
		t.Fatalf("expected 5 contents, got %d", len(captured.Contents))
	}
	if captured.Contents[0].Role != "user" || captured.Contents[1].Parts[0].Text != "Entendi." {
		t.Errorf("system instruction not emulated as leading exchange: %+v", captured.Contents[:2])
	}
	if last := captured.Contents[4]; last.Role != "user" || last.Parts[0].Text != "Qual o prazo para recurso?" {
		t.Errorf("unexpected final content: %+v", last)
	}
}

func TestGemini_MultimodalParts(t *testing.T) {
	var captured geminiRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&captured)
		w.Write([]byte(geminiOK("ouvi o áudio")))
	}))
	defer srv.Close()

	p := NewGemini("k", "gemini-2.5-flash", DefaultGenerationConfig()).WithBaseURL(srv.URL)

	_, err := p.Generate(context.Background(), GenerateRequest{
		Parts: []Part{
			{Text: "Responda ao áudio."},
			{InlineData: &Blob{MIMEType: "audio/ogg", Data: "b64payload"}},
		},
	})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	last := captured.Contents[len(captured.Contents)-1]
	if len(last.Parts) != 2 {
		t.Fatalf("expected 2 user parts, got %d", len(last.Parts))
	}
	if last.Parts[1].InlineData == nil || last.Parts[1].InlineData.MIMEType != "audio/ogg" {
		t.Errorf("inline audio not carried: %+v", last.Parts[1])
	}
}

func TestGemini_QuotaError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "30")
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":{"code":429,"status":"RESOURCE_EXHAUSTED","message":"Quota exceeded"}}`))
	}))
	defer srv.Close()

	p := NewGemini("k", "gemini-2.5-flash", DefaultGenerationConfig()).WithBaseURL(srv.URL)

	_, err := p.Generate(context.Background(), GenerateRequest{Prompt: "oi"})
	if err == nil {
		t.Fatal("expected error")
	}
	if !IsQuotaError(err) {
		t.Errorf("429 RESOURCE_EXHAUSTED not classified as quota: %v", err)
	}
	apiErr := err.(*APIError)
	if apiErr.RetryAfter != 30*time.Second {
		t.Errorf("Retry-After not parsed: %v", apiErr.RetryAfter)
	}
}

func TestGemini_ServerErrorIsNotQuota(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error":{"code":500,"status":"INTERNAL","message":"boom"}}`))
	}))
	defer srv.Close()

	p := NewGemini("k", "gemini-2.5-flash", DefaultGenerationConfig()).WithBaseURL(srv.URL)

	_, err := p.Generate(context.Background(), GenerateRequest{Prompt: "oi"})
	if err == nil {
		t.Fatal("expected error")
	}
	if IsQuotaError(err) {
		t.Errorf("500 wrongly classified as quota: %v", err)
	}
}

func TestAPIError_IsQuotaClassification(t *testing.T) {
	tests := []struct {
		name string
		err  APIError
		want bool
	}{
		{"429", APIError{StatusCode: 429}, true},
		{"403", APIError{StatusCode: 403}, true},
		{"resource exhausted status", APIError{StatusCode: 400, Status: "RESOURCE_EXHAUSTED"}, true},
		{"quota wording", APIError{StatusCode: 400, Message: "Quota exceeded for model"}, true},
		{"plain 500", APIError{StatusCode: 500, Message: "internal"}, false},
		{"plain 400", APIError{StatusCode: 400, Message: "bad request"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.IsQuota(); got != tt.want {
				t.Errorf("IsQuota() = %v, want %v", got, tt.want)
			}
		})
	}
}
