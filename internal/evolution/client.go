// Package evolution is the outbound client for the Evolution API
// WhatsApp gateway: text sends, presence updates, and media downloads.
package evolution

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

// Presence states understood by the gateway.
const (
	PresenceComposing = "composing"
	PresenceRecording = "recording"
)

// presenceDelayMS is how long the gateway shows the indicator.
const presenceDelayMS = 1200

// Client talks to one Evolution API deployment. Instance routing is
// per-call: every message is tagged with the tenant instance it belongs
// to.
type Client struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// New creates an Evolution API client.
func New(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

// SendText delivers a text reply to number through the given instance.
func (c *Client) SendText(ctx context.Context, instance, number, text string) error {
	body := map[string]string{
		"number": number,
		"text":   text,
	}
	return c.post(ctx, fmt.Sprintf("%s/message/sendText/%s", c.baseURL, instance), body)
}

// SendPresence publishes a typing/recording indicator. Cosmetic —
// callers swallow errors.
func (c *Client) SendPresence(ctx context.Context, instance, number, state string) error {
	body := map[string]any{
		"number":   number,
		"presence": state,
		"delay":    presenceDelayMS,
	}
	return c.post(ctx, fmt.Sprintf("%s/chat/sendPresence/%s", c.baseURL, instance), body)
}

// DownloadMedia fetches a media payload (e.g. an audio message) from a
// gateway-served URL, authenticating in case the route requires it.
func (c *Client) DownloadMedia(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("evolution: build download request: %w", err)
	}
	req.Header.Set("apikey", c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("evolution: download media: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("evolution: download media: status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return nil, fmt.Errorf("evolution: read media: %w", err)
	}
	return data, nil
}

func (c *Client) post(ctx context.Context, url string, body any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("evolution: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("evolution: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("apikey", c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("evolution: request: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<20))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("evolution: %s: status %d", url, resp.StatusCode)
	}
	return nil
}
