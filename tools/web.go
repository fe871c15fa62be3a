package tools

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	readability "github.com/go-shiori/go-readability"
	"github.com/m4xw311/agentcli/errors"
	"github.com/m4xw311/agentcli/tools/mcp"
)

const (
	maxFetchBytes   = 5 << 20
	maxFetchTimeout = 120 * time.Second

	fetchUserAgent = "Mozilla/5.0 (compatible; agentcli/1.0)"

	formatText     = "text"
	formatMarkdown = "markdown"
	formatHTML     = "html"

	exaSearchTool = "web_search_exa"
	envExaAPIKey  = "EXA_API_KEY"

	noSearchResults = "No search results found. Please try a different query."
)

// WebFetchTool downloads a URL and returns its content as text or raw HTML.
type WebFetchTool struct {
	env *env
}

type FetchResult struct {
	URL         string `json:"url"`
	ContentType string `json:"contentType"`
	Content     string `json:"content"`
}

func (r *FetchResult) Output() string { return r.Content }

func (r *FetchResult) Title() string {
	if r.ContentType == "" {
		return r.URL
	}
	return fmt.Sprintf("%s (%s)", r.URL, r.ContentType)
}

func (t *WebFetchTool) Kind() Kind   { return KindWebFetch }
func (t *WebFetchTool) Name() string { return KindWebFetch.String() }
func (t *WebFetchTool) Description() string {
	return "Fetches a URL. Args: url (string, http or https), format ('text' for readable text, 'markdown' for readable text under a '# Title' heading, 'html' for the raw page; optional, defaults to 'markdown'), timeout (seconds, optional, at most 120)."
}

func (t *WebFetchTool) Title(params Params) string {
	return params.StringOr("url", t.Name())
}

func (t *WebFetchTool) Execute(ctx context.Context, params Params) (Payload, error) {
	raw, err := params.Require("url")
	if err != nil {
		return nil, err
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, errors.New("URL must start with http:// or https://: %s", raw)
	}
	format := params.StringOr("format", formatMarkdown)
	switch format {
	case formatText, formatMarkdown, formatHTML:
	default:
		return nil, errors.New("invalid format '%s'. Must be one of text, markdown, html", format)
	}

	timeout := t.env.fetchTimeout
	if s := params.Int("timeout", 0); s > 0 {
		timeout = time.Duration(s) * time.Second
	}
	timeout = min(timeout, maxFetchTimeout)
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to fetch %s", raw)
	}
	req.Header.Set("User-Agent", fetchUserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,text/plain;q=0.9,*/*;q=0.8")

	resp, err := t.env.http.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to fetch %s", raw)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, errors.New("failed to fetch %s: status code %d", raw, resp.StatusCode)
	}
	if resp.ContentLength > maxFetchBytes {
		return nil, errors.New("failed to fetch %s: response too large (exceeds 5MB limit)", raw)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchBytes+1))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to fetch %s", raw)
	}
	if len(body) > maxFetchBytes {
		return nil, errors.New("failed to fetch %s: response too large (exceeds 5MB limit)", raw)
	}

	contentType := resp.Header.Get("Content-Type")
	mediaType, _, _ := mime.ParseMediaType(contentType)
	res := &FetchResult{URL: raw, ContentType: mediaType, Content: string(body)}
	if format == formatHTML || !isHTML(mediaType) {
		return res, nil
	}

	article, err := readability.FromReader(bytes.NewReader(body), u)
	if err != nil {
		t.env.logger.Debug("webfetch: readability failed, returning raw body", "url", raw, "error", err)
		return res, nil
	}
	text := strings.TrimSpace(article.TextContent)
	// markdown is the readable text under a title heading; the body is not
	// converted to markdown markup.
	if format == formatMarkdown && article.Title != "" {
		text = "# " + article.Title + "\n\n" + text
	}
	res.Content = text
	return res, nil
}

func isHTML(mediaType string) bool {
	return mediaType == "text/html" || mediaType == "application/xhtml+xml"
}

// SearchQuery is one web search request.
type SearchQuery struct {
	Query      string
	NumResults int
	Type       string
	Livecrawl  string
}

// Searcher performs a web search and returns the result text.
type Searcher interface {
	Search(ctx context.Context, q SearchQuery) (string, error)
}

// ExaSearcher calls Exa's hosted MCP endpoint, one session per search.
type ExaSearcher struct {
	Endpoint string
	Timeout  time.Duration
	APIKey   string
}

func NewExaSearcher(endpoint string, timeout time.Duration) *ExaSearcher {
	return &ExaSearcher{Endpoint: endpoint, Timeout: timeout, APIKey: os.Getenv(envExaAPIKey)}
}

func (s *ExaSearcher) Search(ctx context.Context, q SearchQuery) (string, error) {
	if s.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.Timeout)
		defer cancel()
	}
	client, err := mcp.DialHTTP(ctx, "exa", s.Endpoint, nil)
	if err != nil {
		return "", err
	}
	defer client.Close()

	args := map[string]any{
		"query":      q.Query,
		"numResults": q.NumResults,
		"type":       q.Type,
		"livecrawl":  q.Livecrawl,
	}
	if s.APIKey != "" {
		args["exaApiKey"] = s.APIKey
	}
	return client.CallText(ctx, exaSearchTool, args)
}

// WebSearchTool runs a query through the configured Searcher.
type WebSearchTool struct {
	env *env
}

type SearchResult struct {
	Query string `json:"query"`
	Text  string `json:"output"`
}

func (r *SearchResult) Output() string { return r.Text }

func (t *WebSearchTool) Kind() Kind   { return KindWebSearch }
func (t *WebSearchTool) Name() string { return KindWebSearch.String() }
func (t *WebSearchTool) Description() string {
	return "Searches the web. Args: query (string), numResults (int, optional), type ('auto', 'fast' or 'deep', optional), livecrawl ('fallback' or 'preferred', optional)."
}

func (t *WebSearchTool) Title(params Params) string {
	return "Web search: " + params.StringOr("query", "")
}

func (t *WebSearchTool) Execute(ctx context.Context, params Params) (Payload, error) {
	query, err := params.Require("query")
	if err != nil {
		return nil, err
	}
	q := SearchQuery{
		Query:      query,
		NumResults: params.Int("numResults", t.env.searchResults),
		Type:       params.StringOr("type", "auto"),
		Livecrawl:  params.StringOr("livecrawl", "fallback"),
	}
	out, err := t.env.searcher.Search(ctx, q)
	if err != nil {
		return nil, errors.Wrapf(err, "search request failed")
	}
	if strings.TrimSpace(out) == "" {
		out = noSearchResults
	}
	return &SearchResult{Query: query, Text: out}, nil
}
