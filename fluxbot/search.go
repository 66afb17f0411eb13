package fluxbot

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/lmittmann/tint"
	"golang.org/x/net/html"
)

// SearchResult is one normalized search hit on wherever it came from.
type SearchResult struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

func (r SearchResult) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("title", r.Title),
		slog.String("url", r.URL),
	)
}

// Searcher performs a best-effort web search.
type Searcher interface {
	// Search returns up to maxResults results in backend relevance order.
	// It never fails: any backend error yields an empty slice.
	Search(ctx context.Context, query string, maxResults int) []SearchResult
}

// SearchProvider implements Searcher over a fallback chain: a self-hosted
// SearXNG instance first (short timeout), then a public HTML endpoint
// scraped with cascading patterns. A primary response of 200-with-zero-hits
// is a success and does not fall through - only transport/HTTP failure
// triggers the fallback.
type SearchProvider struct {
	searxURL      string
	searxTimeout  time.Duration
	scrapeBaseURL string
	scrapeTimeout time.Duration
	language      string
	userAgent     string
	httpClient    *http.Client
	logger        *slog.Logger
}

// NewSearchProvider builds a SearchProvider from config. The HTTP client is
// shared and long-lived; the provider never closes it.
func NewSearchProvider(
	config *SearchConfig,
	httpClient *http.Client,
	logger *slog.Logger,
) *SearchProvider {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SearchProvider{
		searxURL:      strings.TrimSuffix(config.SearxURL, "/"),
		searxTimeout:  config.SearxTimeout,
		scrapeBaseURL: strings.TrimSuffix(config.ScrapeBaseURL, "/"),
		scrapeTimeout: config.ScrapeTimeout,
		language:      config.Language,
		userAgent:     config.UserAgent,
		httpClient:    httpClient,
		logger:        logger,
	}
}

// Search implements Searcher.
func (p *SearchProvider) Search(
	ctx context.Context,
	query string,
	maxResults int,
) []SearchResult {
	if p.searxURL != "" {
		results, err := p.searchSearx(ctx, query, maxResults)
		if err == nil {
			return results
		}
		p.logger.WarnContext(
			ctx,
			"primary search backend failed, falling back to scrape",
			tint.Err(err),
			"query", query,
		)
	}
	return p.searchScrape(ctx, query, maxResults)
}

// searxResponse is the subset of the SearXNG JSON API response we consume.
type searxResponse struct {
	Results []struct {
		Title   string `json:"title"`
		URL     string `json:"url"`
		Content string `json:"content"`
	} `json:"results"`
}

func (p *SearchProvider) searchSearx(
	ctx context.Context,
	query string,
	maxResults int,
) ([]SearchResult, error) {
	ctx, cancel := context.WithTimeout(ctx, p.searxTimeout)
	defer cancel()

	params := url.Values{}
	params.Set("q", query)
	params.Set("format", "json")
	params.Set("language", p.language)
	params.Set("safesearch", "0")

	req, err := http.NewRequestWithContext(
		ctx,
		http.MethodGet,
		fmt.Sprintf("%s/search?%s", p.searxURL, params.Encode()),
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("error creating searx request: %w", err)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("searx request failed: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("searx returned status %d", resp.StatusCode)
	}

	var payload searxResponse
	if err = json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("error decoding searx response: %w", err)
	}

	results := make([]SearchResult, 0, maxResults)
	for _, r := range payload.Results {
		if len(results) >= maxResults {
			break
		}
		results = append(
			results, SearchResult{
				Title:   r.Title,
				URL:     r.URL,
				Snippet: r.Content,
			},
		)
	}
	return results, nil
}

var (
	// Tight structural pattern: result blocks as the scrape target's
	// markup usually renders them.
	resultBlockPattern = regexp.MustCompile(
		`(?s)<div[^>]*class="[^"]*result[^"]*"[^>]*>(.*?)</div>\s*(?:</div>|<div)`,
	)

	// Looser pattern: bare result anchors.
	resultAnchorPattern = regexp.MustCompile(
		`(?s)<a[^>]*class="result__a"[^>]*>.*?</a>`,
	)

	hrefPattern       = regexp.MustCompile(`href="(https?://[^"]+)"`)
	hrefSinglePattern = regexp.MustCompile(`href='(https?://[^']+)'`)

	titleClassPattern    = regexp.MustCompile(`class="result__a"[^>]*>([^<]+)`)
	titleFallbackPattern = regexp.MustCompile(`>([^<]{10,})</a>`)

	snippetClassPattern = regexp.MustCompile(`class="result__snippet"[^>]*>([^<]+)`)
	snippetLoosePattern = regexp.MustCompile(`class="[^"]*snippet[^"]*"[^>]*>([^<]+)`)
	snippetSpanPattern  = regexp.MustCompile(`<span[^>]*>([^<]{20,})</span>`)
	markupTagPattern    = regexp.MustCompile(`<[^>]+>`)
)

// maxScrapeBytes bounds how much of a scraped page is read.
const maxScrapeBytes = 2 << 20

func copyBounded(w io.Writer, r io.Reader) (int64, error) {
	return io.Copy(w, io.LimitReader(r, maxScrapeBytes))
}

const noDescriptionPlaceholder = "No description available"

func (p *SearchProvider) searchScrape(
	ctx context.Context,
	query string,
	maxResults int,
) []SearchResult {
	ctx, cancel := context.WithTimeout(ctx, p.scrapeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(
		ctx,
		http.MethodGet,
		fmt.Sprintf("%s/?q=%s", p.scrapeBaseURL, url.QueryEscape(query)),
		nil,
	)
	if err != nil {
		p.logger.ErrorContext(ctx, "error creating scrape request", tint.Err(err))
		return nil
	}
	req.Header.Set("User-Agent", p.userAgent)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		p.logger.ErrorContext(
			ctx,
			"scrape request failed",
			tint.Err(err),
			"query", query,
		)
		return nil
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		p.logger.ErrorContext(
			ctx,
			"scrape returned non-200 status",
			"status", resp.StatusCode,
			"query", query,
		)
		return nil
	}

	var body strings.Builder
	if _, err = copyBounded(&body, resp.Body); err != nil {
		p.logger.ErrorContext(ctx, "error reading scrape response", tint.Err(err))
		return nil
	}

	return p.extractResults(body.String(), maxResults)
}

// extractResults pulls results out of scraped HTML with a cascading
// pattern chain: structural result blocks, then bare result anchors, then
// any external hyperlink with non-trivial anchor text. Links back to the
// search provider itself are always dropped.
func (p *SearchProvider) extractResults(page string, maxResults int) []SearchResult {
	selfDomain := hostOf(p.scrapeBaseURL)

	blocks := resultBlockPattern.FindAllStringSubmatch(page, maxResults*2)
	if len(blocks) == 0 {
		for _, m := range resultAnchorPattern.FindAllString(page, maxResults*2) {
			blocks = append(blocks, []string{m, m})
		}
	}

	var results []SearchResult
	for _, block := range blocks {
		if len(results) >= maxResults {
			break
		}
		content := block[len(block)-1]

		urlMatch := hrefPattern.FindStringSubmatch(content)
		if urlMatch == nil {
			urlMatch = hrefSinglePattern.FindStringSubmatch(content)
		}
		titleMatch := titleClassPattern.FindStringSubmatch(content)
		if titleMatch == nil {
			titleMatch = titleFallbackPattern.FindStringSubmatch(content)
		}
		if urlMatch == nil || titleMatch == nil {
			continue
		}
		link := urlMatch[1]
		if selfDomain != "" && strings.Contains(link, selfDomain) {
			continue
		}

		snippet := noDescriptionPlaceholder
		for _, pattern := range []*regexp.Regexp{
			snippetClassPattern, snippetLoosePattern, snippetSpanPattern,
		} {
			if m := pattern.FindStringSubmatch(content); m != nil {
				snippet = cleanHTML(m[1])
				break
			}
		}

		results = append(
			results, SearchResult{
				Title:   truncate(cleanHTML(titleMatch[1]), 200),
				URL:     link,
				Snippet: truncate(snippet, 300),
			},
		)
	}

	if len(results) == 0 {
		results = p.anchorFallback(page, maxResults)
	}
	return results
}

// anchorFallback is the last resort: walk the document and take any
// external hyperlink with non-trivial anchor text.
func (p *SearchProvider) anchorFallback(page string, maxResults int) []SearchResult {
	doc, err := html.Parse(strings.NewReader(page))
	if err != nil {
		p.logger.Warn("error parsing scraped page", tint.Err(err))
		return nil
	}

	selfDomain := hostOf(p.scrapeBaseURL)
	seen := map[string]bool{}
	var results []SearchResult

	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if len(results) >= maxResults {
			return
		}
		if n.Type == html.ElementNode && n.Data == "a" {
			var link string
			for _, attr := range n.Attr {
				if attr.Key == "href" && strings.HasPrefix(attr.Val, "http") {
					link = attr.Val
					break
				}
			}
			text := strings.TrimSpace(anchorText(n))
			switch {
			case link == "", seen[link]:
			case selfDomain != "" && strings.Contains(link, selfDomain):
			case len(text) <= 5:
			default:
				seen[link] = true
				results = append(
					results, SearchResult{
						Title:   truncate(cleanHTML(text), 200),
						URL:     link,
						Snippet: noDescriptionPlaceholder,
					},
				)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return results
}

func anchorText(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(node *html.Node) {
		if node.Type == html.TextNode {
			b.WriteString(node.Data)
		}
		for c := node.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return b.String()
}

// cleanHTML strips markup tags, decodes common entities and collapses
// whitespace.
func cleanHTML(text string) string {
	text = markupTagPattern.ReplaceAllString(text, "")
	replacer := strings.NewReplacer(
		"&amp;", "&",
		"&lt;", "<",
		"&gt;", ">",
		"&quot;", `"`,
		"&#39;", "'",
		"&nbsp;", " ",
	)
	text = replacer.Replace(text)
	return strings.Join(strings.Fields(text), " ")
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Hostname()
}
