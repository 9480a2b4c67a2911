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

	readability "github.com/go-shiori/go-readability"

	"github.com/primehq/prime/internal/agent"
)

const (
	// DefaultFetchMaxChars caps web_fetch output.
	DefaultFetchMaxChars = 8192

	fetchTimeout    = 20 * time.Second
	fetchBodyLimit  = 2 << 20
	searchMaxHits   = 8
	searchUserAgent = "Mozilla/5.0 (compatible; prime-agent/1.0)"
)

var (
	scriptRe = regexp.MustCompile(`(?is)<(script|style|noscript)[^>]*>.*?</(script|style|noscript)>`)
	tagRe    = regexp.MustCompile(`(?s)<[^>]*>`)
	spaceRe  = regexp.MustCompile(`[ \t]*\n[ \t\n]*`)
)

// WebFetchTool fetches a URL and returns its readable text, capped.
type WebFetchTool struct {
	Client   *http.Client
	MaxChars int
}

func (t *WebFetchTool) Name() string { return "web_fetch" }

func (t *WebFetchTool) Description() string {
	return "Fetch a URL and return its readable text content."
}

func (t *WebFetchTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"url": {"type": "string", "description": "HTTP or HTTPS URL to fetch."}
		},
		"required": ["url"]
	}`)
}

func (t *WebFetchTool) Execute(ctx context.Context, call *agent.ToolCall) (string, error) {
	var in struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal(call.Args, &in); err != nil {
		return "", err
	}
	parsed, err := url.Parse(strings.TrimSpace(in.URL))
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return "", fmt.Errorf("url must be http or https")
	}

	body, err := t.fetch(ctx, parsed.String())
	if err != nil {
		return "", err
	}

	text := extractReadable(body, parsed)

	limit := t.MaxChars
	if limit <= 0 {
		limit = DefaultFetchMaxChars
	}
	if len(text) > limit {
		text = text[:limit] + "\n[truncated]"
	}
	return text, nil
}

func (t *WebFetchTool) fetch(ctx context.Context, target string) (string, error) {
	client := t.Client
	if client == nil {
		client = &http.Client{Timeout: fetchTimeout}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", searchUserAgent)

	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch %s: %w", target, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch %s: status %d", target, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, fetchBodyLimit))
	if err != nil {
		return "", fmt.Errorf("read body: %w", err)
	}
	return string(body), nil
}

// extractReadable prefers readability extraction and falls back to
// stripping scripts, styles, and tags.
func extractReadable(html string, pageURL *url.URL) string {
	article, err := readability.FromReader(strings.NewReader(html), pageURL)
	if err == nil && strings.TrimSpace(article.TextContent) != "" {
		return collapseWhitespace(article.TextContent)
	}
	stripped := scriptRe.ReplaceAllString(html, " ")
	stripped = tagRe.ReplaceAllString(stripped, " ")
	return collapseWhitespace(stripped)
}

func collapseWhitespace(s string) string {
	s = spaceRe.ReplaceAllString(s, "\n")
	fields := strings.Fields(s)
	// Rejoin on single spaces but keep it cheap for large pages.
	if len(fields) == 0 {
		return ""
	}
	return strings.Join(fields, " ")
}

// SearchWebTool queries the DuckDuckGo instant answer API.
type SearchWebTool struct {
	Client  *http.Client
	BaseURL string
}

func (t *SearchWebTool) Name() string { return "search_web" }

func (t *SearchWebTool) Description() string {
	return "Search the web and return result titles, URLs, and snippets."
}

func (t *SearchWebTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"query": {"type": "string", "description": "Search query."}
		},
		"required": ["query"]
	}`)
}

type ddgTopic struct {
	Text     string     `json:"Text"`
	FirstURL string     `json:"FirstURL"`
	Topics   []ddgTopic `json:"Topics"`
}

type ddgResponse struct {
	AbstractText  string     `json:"AbstractText"`
	AbstractURL   string     `json:"AbstractURL"`
	RelatedTopics []ddgTopic `json:"RelatedTopics"`
}

func (t *SearchWebTool) Execute(ctx context.Context, call *agent.ToolCall) (string, error) {
	var in struct {
		Query string `json:"query"`
	}
	if err := json.Unmarshal(call.Args, &in); err != nil {
		return "", err
	}
	return t.SearchText(ctx, in.Query)
}

// SearchText runs a query and formats the hits. It also satisfies the
// pipeline's web search hook.
func (t *SearchWebTool) SearchText(ctx context.Context, query string) (string, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return "", fmt.Errorf("query is required")
	}

	base := t.BaseURL
	if base == "" {
		base = "https://api.duckduckgo.com"
	}
	endpoint := fmt.Sprintf("%s/?q=%s&format=json&no_html=1", base, url.QueryEscape(query))

	client := t.Client
	if client == nil {
		client = &http.Client{Timeout: fetchTimeout}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", searchUserAgent)

	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("search: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("search: status %d", resp.StatusCode)
	}

	var parsed ddgResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, fetchBodyLimit)).Decode(&parsed); err != nil {
		return "", fmt.Errorf("search: decode: %w", err)
	}

	var b strings.Builder
	count := 0
	if parsed.AbstractText != "" {
		fmt.Fprintf(&b, "%s\n%s\n\n", parsed.AbstractText, parsed.AbstractURL)
		count++
	}
	var walk func(topics []ddgTopic)
	walk = func(topics []ddgTopic) {
		for _, topic := range topics {
			if count >= searchMaxHits {
				return
			}
			if len(topic.Topics) > 0 {
				walk(topic.Topics)
				continue
			}
			if topic.Text == "" {
				continue
			}
			fmt.Fprintf(&b, "- %s\n  %s\n", topic.Text, topic.FirstURL)
			count++
		}
	}
	walk(parsed.RelatedTopics)

	if count == 0 {
		return "no results for: " + query, nil
	}
	return strings.TrimSpace(b.String()), nil
}
