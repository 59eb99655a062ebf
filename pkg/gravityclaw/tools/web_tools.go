package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	defaultTavilyURL   = "https://api.tavily.com/search"
	defaultDDGURL      = "https://api.duckduckgo.com/"
	defaultSearchLimit = 5
	searchTimeout      = 20 * time.Second
)

// searchResult is a single hit from either provider.
type searchResult struct {
	Title   string
	Content string
	URL     string
}

func registerWebSearchTool(r *Registry, deps Deps) {
	cfg := deps.Search
	if cfg.TavilyURL == "" {
		cfg.TavilyURL = defaultTavilyURL
	}
	if cfg.DDGURL == "" {
		cfg.DDGURL = defaultDDGURL
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: searchTimeout}
	}
	logger := deps.Logger.With("tool", "web_search")

	r.RegisterFunc(
		MakeToolDefinition("web_search", "Search the web for a query. Uses high-quality search services.", map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query": map[string]any{"type": "string", "description": "The search query"},
				"limit": map[string]any{"type": "number", "description": "Max results (default 5)"},
			},
			"required": []string{"query"},
		}),
		func(ctx context.Context, args map[string]any) (string, error) {
			query, err := requireString(args, "query")
			if err != nil {
				return "", err
			}
			limit := intArg(args, "limit", defaultSearchLimit)
			if limit <= 0 {
				limit = defaultSearchLimit
			}

			if cfg.TavilyKey != "" {
				results, err := tavilySearch(ctx, cfg, query, limit)
				if err != nil {
					logger.Warn("tavily failed, falling back to duckduckgo", "error", err)
				} else if len(results) > 0 {
					return formatSearch(fmt.Sprintf("🔍 *Search Results (Tavily) for %q:*\n\n", query), results), nil
				}
			}

			results, err := ddgSearch(ctx, cfg, query)
			if err != nil {
				return "❌ Search error: " + err.Error(), nil
			}
			if len(results) == 0 {
				return "No results found.", nil
			}
			if len(results) > limit {
				results = results[:limit]
			}
			header := "⚠️ *Note: Using DuckDuckGo fallback (Tavily key missing or failed).*\n\n" +
				fmt.Sprintf("🔍 *Search Results for %q:*\n\n", query)
			return formatSearch(header, results), nil
		},
	)
}

func formatSearch(header string, results []searchResult) string {
	var b strings.Builder
	b.WriteString(header)
	for i, r := range results {
		fmt.Fprintf(&b, "%d. **%s**\n   %s\n   [Link](%s)\n\n", i+1, r.Title, r.Content, r.URL)
	}
	return b.String()
}

func tavilySearch(ctx context.Context, cfg SearchConfig, query string, limit int) ([]searchResult, error) {
	body, _ := json.Marshal(map[string]any{
		"api_key":      cfg.TavilyKey,
		"query":        query,
		"search_depth": "basic",
		"max_results":  limit,
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.TavilyURL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+cfg.TavilyKey)

	var out struct {
		Results []struct {
			Title   string `json:"title"`
			URL     string `json:"url"`
			Content string `json:"content"`
		} `json:"results"`
	}
	if err := doJSON(cfg.HTTPClient, req, &out); err != nil {
		return nil, fmt.Errorf("tavily: %w", err)
	}

	results := make([]searchResult, 0, len(out.Results))
	for _, r := range out.Results {
		results = append(results, searchResult{Title: r.Title, Content: r.Content, URL: r.URL})
	}
	return results, nil
}

// ddgTopic is a DuckDuckGo related topic; groups nest further topics.
type ddgTopic struct {
	Text     string     `json:"Text"`
	FirstURL string     `json:"FirstURL"`
	Topics   []ddgTopic `json:"Topics"`
}

// ddgSearch queries the DuckDuckGo instant answer API. The abstract, when
// present, is the first result, followed by the related topics.
func ddgSearch(ctx context.Context, cfg SearchConfig, query string) ([]searchResult, error) {
	u, err := url.Parse(cfg.DDGURL)
	if err != nil {
		return nil, err
	}
	q := u.Query()
	q.Set("q", query)
	q.Set("format", "json")
	q.Set("no_html", "1")
	q.Set("skip_disambig", "1")
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}

	var out struct {
		Heading       string     `json:"Heading"`
		AbstractText  string     `json:"AbstractText"`
		AbstractURL   string     `json:"AbstractURL"`
		RelatedTopics []ddgTopic `json:"RelatedTopics"`
	}
	if err := doJSON(cfg.HTTPClient, req, &out); err != nil {
		return nil, fmt.Errorf("duckduckgo: %w", err)
	}

	var results []searchResult
	if out.AbstractText != "" {
		results = append(results, searchResult{Title: out.Heading, Content: out.AbstractText, URL: out.AbstractURL})
	}
	var walk func([]ddgTopic)
	walk = func(topics []ddgTopic) {
		for _, t := range topics {
			if len(t.Topics) > 0 {
				walk(t.Topics)
				continue
			}
			if t.Text == "" {
				continue
			}
			title := t.Text
			if i := strings.Index(title, " - "); i > 0 {
				title = title[:i]
			}
			results = append(results, searchResult{Title: title, Content: t.Text, URL: t.FirstURL})
		}
	}
	walk(out.RelatedTopics)
	return results, nil
}

func doJSON(hc *http.Client, req *http.Request, out any) error {
	resp, err := hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("status %d: %s", resp.StatusCode, truncateRunes(string(data), 200))
	}
	return json.Unmarshal(data, out)
}
