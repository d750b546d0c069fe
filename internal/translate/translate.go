// Package translate calls an external translation endpoint to
// translate segment text, caching per-call results so repeated source
// lines within one job are translated once.
package translate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"scribe/pkg/logger"
)

type request struct {
	Text   string `json:"text"`
	Source string `json:"source"`
	Target string `json:"target"`
}

type response struct {
	Translation string `json:"translation"`
}

// Client calls a configured translation endpoint over HTTP.
type Client struct {
	endpoint string
	http     *http.Client
}

// NewClient builds a Client bound to endpoint, with the 10-second
// per-call timeout this spec requires.
func NewClient(endpoint string) *Client {
	return &Client{
		endpoint: endpoint,
		http:     &http.Client{Timeout: 10 * time.Second},
	}
}

// Translate translates text from source to target language.
func (c *Client) Translate(ctx context.Context, text, source, target string) (string, error) {
	if c.endpoint == "" {
		return "", fmt.Errorf("no translation endpoint configured")
	}

	body, err := json.Marshal(request{Text: text, Source: source, Target: target})
	if err != nil {
		return "", fmt.Errorf("marshal translation request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build translation request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("translation request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("translation endpoint returned status %d", resp.StatusCode)
	}

	var out response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode translation response: %w", err)
	}
	return out.Translation, nil
}

// JobCache caches translations of identical source lines within a
// single job run so they are only sent to the endpoint once.
type JobCache struct {
	client *Client
	seen   map[string]string
}

// NewJobCache wraps client with a per-job result cache.
func NewJobCache(client *Client) *JobCache {
	return &JobCache{client: client, seen: make(map[string]string)}
}

// Translate returns the cached translation for text if one exists,
// otherwise calls the endpoint and caches the result.
func (c *JobCache) Translate(ctx context.Context, text, source, target string) (string, error) {
	if cached, ok := c.seen[text]; ok {
		return cached, nil
	}
	translated, err := c.client.Translate(ctx, text, source, target)
	if err != nil {
		logger.Warn("translation call failed", "error", err)
		return "", err
	}
	c.seen[text] = translated
	return translated, nil
}
