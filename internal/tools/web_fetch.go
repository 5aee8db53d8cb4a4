package tools

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// WebFetchTool fetches a URL and extracts readable content. Grounded on the
// teacher's web_fetch.go shape, trimmed to what spec.md §1 scopes as a
// tool body "specified only at its interface": a plain HTTP client, no
// SSRF allow/deny list, no response cache.
type WebFetchTool struct {
	Client  *http.Client
	Timeout time.Duration
}

const fetchUserAgent = "tendwatch/1.0 (+https://tendwatch.invalid)"

func (t *WebFetchTool) client() *http.Client {
	if t.Client != nil {
		return t.Client
	}
	timeout := t.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &http.Client{Timeout: timeout}
}

func (t *WebFetchTool) Name() string { return "web_fetch" }
func (t *WebFetchTool) Description() string {
	return "Fetch a URL and extract its content. Supports HTML (converted to markdown or text), JSON, and plain text."
}
func (t *WebFetchTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"url": map[string]interface{}{
				"type":        "string",
				"description": "HTTP or HTTPS URL to fetch.",
			},
			"extract_mode": map[string]interface{}{
				"type":        "string",
				"description": `Extraction mode for HTML content ("markdown" or "text"). Default: "markdown".`,
				"enum":        []string{"markdown", "text"},
			},
			"max_chars": map[string]interface{}{
				"type":        "number",
				"description": "Maximum characters to return; longer content is truncated.",
				"minimum":     100.0,
			},
		},
		"required": []string{"url"},
	}
}

func (t *WebFetchTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	rawURL, _ := args["url"].(string)
	if rawURL == "" {
		return ErrorResult("url is required")
	}
	parsed, err := url.Parse(rawURL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return ErrorResult(fmt.Sprintf("invalid URL %q: must be http or https", rawURL))
	}

	extractMode := stringArg(args, "extract_mode")
	if extractMode == "" {
		extractMode = "markdown"
	}
	maxChars := 20000
	if mc, ok := args["max_chars"].(float64); ok && mc >= 100 {
		maxChars = int(mc)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return ErrorResult(fmt.Sprintf("failed to build request: %v", err))
	}
	req.Header.Set("User-Agent", fetchUserAgent)

	resp, err := t.client().Do(req)
	if err != nil {
		return ErrorResult(fmt.Sprintf("fetch failed: %v", err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return ErrorResult(fmt.Sprintf("failed reading response: %v", err))
	}
	if resp.StatusCode >= 400 {
		return ErrorResult(fmt.Sprintf("fetch returned HTTP %d", resp.StatusCode))
	}

	contentType := resp.Header.Get("Content-Type")
	var text string
	switch {
	case strings.Contains(contentType, "json"):
		text, _ = extractJSON(body)
	case strings.Contains(contentType, "html"):
		if extractMode == "text" {
			text = htmlToText(string(body))
		} else {
			text = htmlToMarkdown(string(body))
		}
	default:
		text = string(body)
	}

	truncated := false
	if len(text) > maxChars {
		text = text[:maxChars]
		truncated = true
	}
	if truncated {
		text += "\n\n[truncated]"
	}
	return NewResult(text)
}
