package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// WebSearchTool queries a self-hosted SearXNG instance, grounded on the
// teacher's provider-backed web_search.go but trimmed to a single
// proportionate HTTP call per spec.md §1's interface-only scoping for
// tool bodies.
type WebSearchTool struct {
	Client     *http.Client
	SearxngURL string
	Timeout    time.Duration
}

type searxngResponse struct {
	Results []struct {
		Title   string `json:"title"`
		URL     string `json:"url"`
		Content string `json:"content"`
	} `json:"results"`
}

// SearchResult is one result returned to the LLM.
type SearchResult struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

func (t *WebSearchTool) client() *http.Client {
	if t.Client != nil {
		return t.Client
	}
	timeout := t.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &http.Client{Timeout: timeout}
}

func (t *WebSearchTool) Name() string        { return "web_search" }
func (t *WebSearchTool) Description() string { return "Search the web for current information." }
func (t *WebSearchTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"query": map[string]interface{}{"type": "string", "description": "Search query."},
			"limit": map[string]interface{}{"type": "number", "description": "Maximum results.", "minimum": 1.0},
		},
		"required": []string{"query"},
	}
}

func (t *WebSearchTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	query := stringArg(args, "query")
	if query == "" {
		return ErrorResult("query is required")
	}
	if t.SearxngURL == "" {
		return ErrorResult("web_search is not configured")
	}
	limit := 5
	if l, ok := args["limit"].(float64); ok && l >= 1 {
		limit = int(l)
	}

	endpoint := fmt.Sprintf("%s/search?q=%s&format=json", t.SearxngURL, url.QueryEscape(query))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return ErrorResult(fmt.Sprintf("failed to build request: %v", err))
	}

	resp, err := t.client().Do(req)
	if err != nil {
		return ErrorResult(fmt.Sprintf("search failed: %v", err))
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return ErrorResult(fmt.Sprintf("search returned HTTP %d", resp.StatusCode))
	}

	var parsed searxngResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return ErrorResult(fmt.Sprintf("failed to parse search response: %v", err))
	}

	results := make([]SearchResult, 0, limit)
	for i, r := range parsed.Results {
		if i >= limit {
			break
		}
		results = append(results, SearchResult{Title: r.Title, URL: r.URL, Snippet: r.Content})
	}
	data, _ := json.Marshal(results)
	return SilentResult(string(data))
}
