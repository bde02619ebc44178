// Package translate is a client for the unauthenticated Google Translate
// endpoint, used to localize security display names.
package translate

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const endpoint = "https://translate.googleapis.com/translate_a/single"

// Client translates text via the public gtx endpoint
type Client struct {
	client *http.Client
	log    zerolog.Logger
	target string // BCP-47 target language, e.g. "zh-CN"
}

// NewClient creates a translation client targeting the given language.
func NewClient(target string, log zerolog.Logger) *Client {
	return &Client{
		client: &http.Client{
			Timeout: 15 * time.Second,
		},
		log:    log.With().Str("client", "translate").Logger(),
		target: target,
	}
}

// Translate translates a single string, auto-detecting the source language.
func (c *Client) Translate(ctx context.Context, text string) (string, error) {
	params := url.Values{}
	params.Add("client", "gtx")
	params.Add("sl", "auto")
	params.Add("tl", c.target)
	params.Add("dt", "t")
	params.Add("q", text)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("translation request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("translation API returned status %d: %s", resp.StatusCode, string(body))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response body: %w", err)
	}

	// Response shape: [[["translated","source",...],...],...]
	var raw []json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return "", fmt.Errorf("failed to parse translation response: %w", err)
	}
	if len(raw) == 0 {
		return "", fmt.Errorf("empty translation response")
	}

	var segments [][]json.RawMessage
	if err := json.Unmarshal(raw[0], &segments); err != nil {
		return "", fmt.Errorf("failed to parse translation segments: %w", err)
	}

	// Long inputs come back split across segments
	var sb strings.Builder
	for _, seg := range segments {
		if len(seg) == 0 {
			continue
		}
		var part string
		if err := json.Unmarshal(seg[0], &part); err != nil {
			continue
		}
		sb.WriteString(part)
	}

	translated := sb.String()
	if translated == "" {
		return "", fmt.Errorf("no translation returned")
	}

	return translated, nil
}

// TranslateBatch translates each input and returns results in input order.
// One failed item fails the whole batch; callers chunk their work and skip
// failed chunks.
func (c *Client) TranslateBatch(ctx context.Context, texts []string) ([]string, error) {
	results := make([]string, 0, len(texts))
	for i, text := range texts {
		translated, err := c.Translate(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("failed to translate item %d: %w", i, err)
		}
		results = append(results, translated)

		// Stay polite to the unauthenticated endpoint
		if i < len(texts)-1 {
			select {
			case <-time.After(100 * time.Millisecond):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}

	return results, nil
}
