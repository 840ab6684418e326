// Package webfetch provides the web_fetch tool: fetch a URL and return its
// body as truncated text. The tool is classified high-risk so it always
// passes through the approval engine before any network traffic happens.
package webfetch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/coreagent/loopcore/internal/agent"
	"github.com/coreagent/loopcore/internal/retry"
)

// Config controls fetch behavior.
type Config struct {
	// MaxBodyBytes caps how much of the response is read (default 100KB).
	MaxBodyBytes int
	// Timeout bounds one fetch attempt (default 30s).
	Timeout time.Duration
	// Retry controls transient-failure retries; zero value uses
	// retry.DefaultConfig.
	Retry retry.Config
	// UserAgent overrides the request User-Agent header.
	UserAgent string
}

const defaultMaxBodyBytes = 100 * 1024

// Tool implements web_fetch.
type Tool struct {
	cfg    Config
	client *http.Client
}

// New creates the web_fetch tool.
func New(cfg Config) *Tool {
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = defaultMaxBodyBytes
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = retry.DefaultConfig()
	}
	return &Tool{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

func (t *Tool) Name() string { return "web_fetch" }

func (t *Tool) Description() string {
	return "Fetch a URL over HTTP(S) and return the response body as text, truncated to a size cap."
}

func (t *Tool) Schema() json.RawMessage {
	schema := map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"url": map[string]interface{}{
				"type":        "string",
				"description": "The http:// or https:// URL to fetch.",
			},
			"max_bytes": map[string]interface{}{
				"type":        "integer",
				"description": "Cap on returned body bytes (bounded by tool config).",
				"minimum":     1,
			},
		},
		"required": []string{"url"},
	}
	payload, err := json.Marshal(schema)
	if err != nil {
		return json.RawMessage(`{"type":"object"}`)
	}
	return payload
}

// tagStripper removes markup so HTML pages come back as readable text.
var (
	scriptStyleRe = regexp.MustCompile(`(?is)<(script|style)[^>]*>.*?</(script|style)>`)
	tagRe         = regexp.MustCompile(`<[^>]*>`)
	blankRunRe    = regexp.MustCompile(`\n{3,}`)
)

// Execute fetches the URL, retrying transient failures. Client errors
// (4xx) are permanent; 5xx and transport errors retry with backoff.
func (t *Tool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var input struct {
		URL      string `json:"url"`
		MaxBytes int    `json:"max_bytes"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return fetchError(fmt.Sprintf("Invalid parameters: %v", err)), nil
	}

	parsed, err := url.Parse(strings.TrimSpace(input.URL))
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return fetchError("url must be a valid http:// or https:// URL"), nil
	}

	limit := t.cfg.MaxBodyBytes
	if input.MaxBytes > 0 && input.MaxBytes < limit {
		limit = input.MaxBytes
	}

	var (
		body        []byte
		status      int
		contentType string
		truncated   bool
	)
	result := retry.Do(ctx, t.cfg.Retry, func() error {
		req, reqErr := http.NewRequestWithContext(ctx, http.MethodGet, parsed.String(), nil)
		if reqErr != nil {
			return retry.Permanent(reqErr)
		}
		if t.cfg.UserAgent != "" {
			req.Header.Set("User-Agent", t.cfg.UserAgent)
		}
		resp, doErr := t.client.Do(req)
		if doErr != nil {
			return doErr
		}
		defer resp.Body.Close()

		status = resp.StatusCode
		contentType = resp.Header.Get("Content-Type")
		if status >= 400 && status < 500 {
			return retry.Permanent(fmt.Errorf("HTTP %d", status))
		}
		if status >= 500 {
			return fmt.Errorf("HTTP %d", status)
		}

		data, readErr := io.ReadAll(io.LimitReader(resp.Body, int64(limit)+1))
		if readErr != nil {
			return readErr
		}
		if len(data) > limit {
			data = data[:limit]
			truncated = true
		}
		body = data
		return nil
	})
	if result.Err != nil {
		return fetchError(fmt.Sprintf("fetch %s failed after %d attempts: %v", parsed.String(), result.Attempts, result.Err)), nil
	}

	text := string(body)
	if strings.Contains(contentType, "text/html") {
		text = scriptStyleRe.ReplaceAllString(text, "")
		text = tagRe.ReplaceAllString(text, "")
		text = blankRunRe.ReplaceAllString(text, "\n\n")
		text = strings.TrimSpace(text)
	}

	payload, err := json.MarshalIndent(map[string]interface{}{
		"url":          parsed.String(),
		"status":       status,
		"content_type": contentType,
		"bytes":        len(body),
		"truncated":    truncated,
		"attempts":     result.Attempts,
		"content":      text,
	}, "", "  ")
	if err != nil {
		return fetchError(fmt.Sprintf("encode result: %v", err)), nil
	}
	return &agent.ToolResult{Content: string(payload)}, nil
}

func fetchError(message string) *agent.ToolResult {
	payload, err := json.Marshal(map[string]string{"error": message})
	if err != nil {
		return &agent.ToolResult{Content: message, IsError: true}
	}
	return &agent.ToolResult{Content: string(payload), IsError: true}
}
