package tools

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

	"github.com/dotsetgreg/chatpilot/pkg/providers"
	"github.com/dotsetgreg/chatpilot/pkg/retry"
)

const (
	WebSearchName = "web_search"

	userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

	defaultSearchCount = 5
)

// SearchResult is one entry returned by a search collaborator.
type SearchResult struct {
	Title       string
	URL         string
	Description string
}

// SearchProvider performs the actual network search. Empty result sets
// and errors are both valid outcomes the tool layer handles.
type SearchProvider interface {
	Search(ctx context.Context, query string, count int) ([]SearchResult, error)
}

// WebSearchTool is the single supported tool. It never fails: every
// outcome, including a missing collaborator, maps onto sentinel text.
type WebSearchTool struct {
	provider   SearchProvider
	maxResults int
}

func NewWebSearchTool(provider SearchProvider, maxResults int) *WebSearchTool {
	if maxResults <= 0 {
		maxResults = defaultSearchCount
	}
	return &WebSearchTool{provider: provider, maxResults: maxResults}
}

func (t *WebSearchTool) Name() string { return WebSearchName }

func (t *WebSearchTool) Description() string {
	return "Search the web for current information when the user asks about recent events, news, or information that may not be in your training data"
}

// Schema declares the tool once in the provider-neutral shape; each
// backend translates it into its own type vocabulary.
func (t *WebSearchTool) Schema() *providers.FunctionSchema {
	return &providers.FunctionSchema{
		Name:        WebSearchName,
		Description: t.Description(),
		Parameters: providers.SchemaObject{
			Type: "object",
			Properties: map[string]providers.SchemaProperty{
				"query": {
					Type:        "string",
					Description: "The search query to find relevant information",
				},
				"count": {
					Type:        "integer",
					Description: "Number of search results to return (default: 5)",
				},
			},
			Required: []string{"query"},
		},
	}
}

func (t *WebSearchTool) Execute(ctx context.Context, args map[string]interface{}) *ToolResult {
	if t.provider == nil {
		return ErrorResult("Search service is currently unavailable.")
	}

	query, _ := args["query"].(string)
	count := argAsCount(args["count"], t.maxResults)

	results, err := t.provider.Search(ctx, query, count)
	if err != nil {
		return ErrorResult(fmt.Sprintf("Function call failed: %v", err))
	}
	if len(results) == 0 {
		return &ToolResult{ForLLM: fmt.Sprintf("No search results found for query: %s", query)}
	}

	return &ToolResult{ForLLM: formatSearchResults(results)}
}

// argAsCount tolerates the numeric shapes different backends deliver
// (JSON float64, int, or a stringified integer).
func argAsCount(raw interface{}, fallback int) int {
	switch v := raw.(type) {
	case float64:
		if int(v) > 0 {
			return int(v)
		}
	case int:
		if v > 0 {
			return v
		}
	case string:
		var n int
		if _, err := fmt.Sscanf(v, "%d", &n); err == nil && n > 0 {
			return n
		}
	}
	return fallback
}

func formatSearchResults(results []SearchResult) string {
	var sb strings.Builder
	sb.WriteString("Search results:\n\n")
	for i, result := range results {
		fmt.Fprintf(&sb, "**%d. %s**\nURL: %s\nDescription: %s\n", i+1, result.Title, result.URL, result.Description)
		if i < len(results)-1 {
			sb.WriteString("\n")
		}
	}
	return sb.String()
}

// BraveSearchProvider queries the Brave Search JSON API.
type BraveSearchProvider struct {
	apiKey     string
	httpClient *http.Client
	policy     retry.Policy
}

func NewBraveSearchProvider(apiKey string) *BraveSearchProvider {
	return &BraveSearchProvider{
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		policy:     retry.DefaultPolicy(),
	}
}

func (p *BraveSearchProvider) Search(ctx context.Context, query string, count int) ([]SearchResult, error) {
	return retry.Do(ctx, "brave search", p.policy, func(ctx context.Context) ([]SearchResult, error) {
		return p.search(ctx, query, count)
	})
}

func (p *BraveSearchProvider) search(ctx context.Context, query string, count int) ([]SearchResult, error) {
	searchURL := fmt.Sprintf("https://api.search.brave.com/res/v1/web/search?q=%s&count=%d",
		url.QueryEscape(query), count)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, searchURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create search request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Subscription-Token", p.apiKey)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read search response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search request failed: status=%d", resp.StatusCode)
	}

	var searchResp struct {
		Web struct {
			Results []struct {
				Title       string `json:"title"`
				URL         string `json:"url"`
				Description string `json:"description"`
			} `json:"results"`
		} `json:"web"`
	}
	if err := json.Unmarshal(body, &searchResp); err != nil {
		return nil, fmt.Errorf("parse search response: %w", err)
	}

	results := make([]SearchResult, 0, len(searchResp.Web.Results))
	for i, item := range searchResp.Web.Results {
		if i >= count {
			break
		}
		results = append(results, SearchResult{
			Title:       item.Title,
			URL:         item.URL,
			Description: item.Description,
		})
	}
	return results, nil
}

// DuckDuckGoSearchProvider extracts results from the DuckDuckGo HTML
// endpoint. No API key required.
type DuckDuckGoSearchProvider struct {
	baseURL    string
	httpClient *http.Client
	policy     retry.Policy
}

func NewDuckDuckGoSearchProvider() *DuckDuckGoSearchProvider {
	return &DuckDuckGoSearchProvider{
		baseURL:    "https://html.duckduckgo.com/html/",
		httpClient: &http.Client{Timeout: 10 * time.Second},
		policy:     retry.DefaultPolicy(),
	}
}

func (p *DuckDuckGoSearchProvider) Search(ctx context.Context, query string, count int) ([]SearchResult, error) {
	return retry.Do(ctx, "duckduckgo search", p.policy, func(ctx context.Context) ([]SearchResult, error) {
		return p.search(ctx, query, count)
	})
}

func (p *DuckDuckGoSearchProvider) search(ctx context.Context, query string, count int) ([]SearchResult, error) {
	searchURL := fmt.Sprintf("%s?q=%s", p.baseURL, url.QueryEscape(query))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, searchURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create search request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read search response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search request failed: status=%d", resp.StatusCode)
	}

	return extractDuckDuckGoResults(string(body), count), nil
}

var (
	ddgLinkRe    = regexp.MustCompile(`<a[^>]*class="[^"]*result__a[^"]*"[^>]*href="([^"]+)"[^>]*>([\s\S]*?)</a>`)
	ddgSnippetRe = regexp.MustCompile(`<a class="result__snippet[^"]*".*?>([\s\S]*?)</a>`)
	tagRe        = regexp.MustCompile(`<[^>]+>`)
)

// extractDuckDuckGoResults pulls title/url pairs out of the raw result
// HTML. Each snippet is searched for only within its own result block
// (between the result link and the next one), so a result without a
// snippet leaves its description empty instead of stealing the next
// result's text.
func extractDuckDuckGoResults(html string, count int) []SearchResult {
	links := ddgLinkRe.FindAllStringSubmatchIndex(html, count+5)

	results := make([]SearchResult, 0, len(links))
	for i, loc := range links {
		if len(results) >= count {
			break
		}
		urlStr := decodeDuckDuckGoURL(html[loc[2]:loc[3]])
		title := strings.TrimSpace(stripTags(html[loc[4]:loc[5]]))
		if title == "" || urlStr == "" {
			continue
		}

		blockEnd := len(html)
		if i+1 < len(links) {
			blockEnd = links[i+1][0]
		}
		result := SearchResult{Title: title, URL: urlStr}
		if m := ddgSnippetRe.FindStringSubmatch(html[loc[1]:blockEnd]); m != nil {
			result.Description = strings.TrimSpace(stripTags(m[1]))
		}
		results = append(results, result)
	}
	return results
}

// decodeDuckDuckGoURL unwraps the uddg= redirect wrapper around result links.
func decodeDuckDuckGoURL(raw string) string {
	if !strings.Contains(raw, "uddg=") {
		return raw
	}
	unescaped, err := url.QueryUnescape(raw)
	if err != nil {
		return raw
	}
	if idx := strings.Index(unescaped, "uddg="); idx != -1 {
		target := unescaped[idx+5:]
		if amp := strings.Index(target, "&"); amp != -1 {
			target = target[:amp]
		}
		return target
	}
	return raw
}

func stripTags(content string) string {
	return tagRe.ReplaceAllString(content, "")
}
