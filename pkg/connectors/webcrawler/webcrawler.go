// Package webcrawler indexes pages reachable from configured seed URLs.
//
// Crawling stays on the seed's host and is paced by a shared rate limiter.
// The stored rendering embeds crawl metadata (URL, crawl time); the content
// hash is computed from a metadata-stripped rendering so re-crawling an
// unchanged page never looks like a change.
package webcrawler

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"
	"golang.org/x/net/html"
	"golang.org/x/time/rate"

	"github.com/MODSetter/SurfSense-sub000/pkg/connectors"
	"github.com/MODSetter/SurfSense-sub000/pkg/models"
)

const (
	defaultRequestsPerSecond = 2
	maxPages                 = 200
	maxPageBytes             = 5 << 20
)

// Config is the connector config the adapter decodes.
type Config struct {
	URLs              []string `mapstructure:"urls"`
	MaxDepth          int      `mapstructure:"max_depth"`
	RequestsPerSecond float64  `mapstructure:"requests_per_second"`
}

// Adapter crawls seed URLs breadth-first.
type Adapter struct {
	*connectors.DocSearch

	cfg     Config
	http    *http.Client
	limiter *rate.Limiter
	logger  hclog.Logger
	now     func() time.Time
}

// New builds the adapter from a stored connector row.
func New(ctx context.Context, deps connectors.Deps, conn *models.Connector) (connectors.Adapter, error) {
	var cfg Config
	if err := connectors.DecodeConfig(deps.Secrets, conn, &cfg); err != nil {
		return nil, err
	}
	if len(cfg.URLs) == 0 {
		return nil, fmt.Errorf("webcrawler connector has no seed urls configured")
	}
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = defaultRequestsPerSecond
	}

	return &Adapter{
		DocSearch: connectors.NewDocSearch(deps, conn),
		cfg:       cfg,
		http:      deps.HTTPClient(),
		limiter:   rate.NewLimiter(rate.Limit(rps), 1),
		logger:    deps.Log().Named("webcrawler"),
		now:       time.Now,
	}, nil
}

// Type implements connectors.Adapter.
func (a *Adapter) Type() models.ConnectorType {
	return models.ConnectorTypeWebcrawler
}

// Validate fetches the first seed and checks it is HTML.
func (a *Adapter) Validate(ctx context.Context) error {
	_, err := a.fetchPage(ctx, a.cfg.URLs[0])
	return err
}

// ListFull crawls every seed. Pages carry no reliable publication date, so
// the window is ignored and each crawl is a full snapshot.
func (a *Adapter) ListFull(ctx context.Context, win connectors.Window) (connectors.ItemIterator, error) {
	return func(yield func(connectors.RawItem, error) bool) {
		seen := make(map[string]bool)
		type frontierEntry struct {
			url   string
			depth int
		}
		var frontier []frontierEntry
		for _, seed := range a.cfg.URLs {
			norm, err := normalizeURL(seed)
			if err != nil {
				if !yield(connectors.RawItem{}, fmt.Errorf("seed %s: %w", seed, err)) {
					return
				}
				continue
			}
			frontier = append(frontier, frontierEntry{url: norm, depth: 0})
		}

		pages := 0
		for len(frontier) > 0 && pages < maxPages {
			entry := frontier[0]
			frontier = frontier[1:]
			if seen[entry.url] {
				continue
			}
			seen[entry.url] = true

			page, err := a.fetchPage(ctx, entry.url)
			if err != nil {
				if connectors.IsRunFatal(err) {
					yield(connectors.RawItem{}, err)
					return
				}
				if !yield(connectors.RawItem{}, fmt.Errorf("%w: crawl %s: %v", connectors.ErrItemMalformed, entry.url, err)) {
					return
				}
				continue
			}
			pages++

			if !yield(a.buildItem(entry.url, page), nil) {
				return
			}

			if entry.depth >= a.cfg.MaxDepth {
				continue
			}
			for _, link := range page.links {
				if !seen[link] {
					frontier = append(frontier, frontierEntry{url: link, depth: entry.depth + 1})
				}
			}
		}
	}, nil
}

func (a *Adapter) buildItem(pageURL string, page *crawledPage) connectors.RawItem {
	title := page.title
	if title == "" {
		title = pageURL
	}
	return connectors.RawItem{
		SourceID: pageURL,
		Title:    title,
		URL:      pageURL,
		Payload: map[string]interface{}{
			"title":      title,
			"url":        pageURL,
			"text":       page.text,
			"crawled_at": page.crawledAt,
		},
		Metadata: map[string]interface{}{
			"url":        pageURL,
			"crawled_at": page.crawledAt.UTC().Format(time.RFC3339),
		},
		HashText: title + "\n\n" + page.text,
	}
}

// FormatMarkdown renders the stored document: the extracted page text under
// a header that records where and when it was fetched.
func (a *Adapter) FormatMarkdown(raw connectors.RawItem) string {
	title, _ := raw.Payload["title"].(string)
	pageURL, _ := raw.Payload["url"].(string)
	text, _ := raw.Payload["text"].(string)
	crawledAt, _ := raw.Payload["crawled_at"].(time.Time)

	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", title)
	fmt.Fprintf(&b, "URL: %s\n", pageURL)
	if !crawledAt.IsZero() {
		fmt.Fprintf(&b, "Crawled: %s\n", crawledAt.UTC().Format(time.RFC3339))
	}
	b.WriteString("\n")
	b.WriteString(text)
	b.WriteString("\n")
	return b.String()
}

type crawledPage struct {
	title     string
	text      string
	links     []string
	crawledAt time.Time
}

func (a *Adapter) fetchPage(ctx context.Context, pageURL string) (*crawledPage, error) {
	if err := a.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	var body []byte
	err := connectors.Do(ctx, connectors.RetryPolicy{}, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
		if err != nil {
			return err
		}
		req.Header.Set("Accept", "text/html")

		resp, err := a.http.Do(req)
		if err != nil {
			return connectors.ClassifyTransport(ctx, err)
		}
		defer resp.Body.Close()

		if err := connectors.CheckResponse(resp); err != nil {
			return err
		}
		ct := resp.Header.Get("Content-Type")
		if ct != "" && !strings.Contains(ct, "html") {
			return fmt.Errorf("not an html page: %s", ct)
		}
		body, err = io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
		return err
	})
	if err != nil {
		return nil, err
	}

	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, err
	}
	page, err := extractPage(body, base)
	if err != nil {
		return nil, err
	}
	page.crawledAt = a.now()
	a.logger.Debug("crawled page", "url", pageURL, "links", len(page.links))
	return page, nil
}

// extractPage renders an HTML document to markdown-ish text and collects
// same-host links.
func extractPage(body []byte, base *url.URL) (*crawledPage, error) {
	doc, err := html.Parse(strings.NewReader(string(body)))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	page := &crawledPage{}
	linkSeen := make(map[string]bool)
	var b strings.Builder

	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(collapseSpace(n.Data))
			return
		}
		if n.Type != html.ElementNode {
			for c := n.FirstChild; c != nil; c = c.NextSibling {
				walk(c)
			}
			return
		}

		switch n.Data {
		case "script", "style", "noscript", "iframe", "svg", "nav", "footer", "aside":
			return
		case "title":
			if page.title == "" {
				page.title = strings.TrimSpace(textOf(n))
			}
			return
		case "h1", "h2", "h3", "h4", "h5", "h6":
			level := int(n.Data[1] - '0')
			b.WriteString("\n\n" + strings.Repeat("#", level) + " ")
			for c := n.FirstChild; c != nil; c = c.NextSibling {
				walk(c)
			}
			b.WriteString("\n\n")
			return
		case "p", "div", "section", "article", "table", "tr":
			b.WriteString("\n\n")
		case "li":
			b.WriteString("\n- ")
		case "br":
			b.WriteString("\n")
		case "pre":
			b.WriteString("\n\n```\n" + strings.TrimRight(textOf(n), "\n") + "\n```\n\n")
			return
		case "a":
			if link := resolveLink(n, base); link != "" && !linkSeen[link] {
				linkSeen[link] = true
				page.links = append(page.links, link)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	page.text = tidyText(b.String())
	return page, nil
}

// resolveLink returns the absolute same-host target of an anchor, or "".
func resolveLink(n *html.Node, base *url.URL) string {
	for _, attr := range n.Attr {
		if attr.Key != "href" {
			continue
		}
		ref, err := url.Parse(strings.TrimSpace(attr.Val))
		if err != nil {
			return ""
		}
		abs := base.ResolveReference(ref)
		if abs.Scheme != "http" && abs.Scheme != "https" {
			return ""
		}
		if abs.Host != base.Host {
			return ""
		}
		abs.Fragment = ""
		return abs.String()
	}
	return ""
}

func textOf(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return b.String()
}

// collapseSpace squeezes whitespace runs to single spaces, keeping at most
// one leading and trailing space so inline element boundaries stay readable.
func collapseSpace(s string) string {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return ""
	}
	out := strings.Join(fields, " ")
	if strings.HasPrefix(s, " ") || strings.HasPrefix(s, "\n") || strings.HasPrefix(s, "\t") {
		out = " " + out
	}
	if strings.HasSuffix(s, " ") || strings.HasSuffix(s, "\n") || strings.HasSuffix(s, "\t") {
		out += " "
	}
	return out
}

// tidyText trims line edges and collapses runs of blank lines.
func tidyText(s string) string {
	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	blank := 0
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			blank++
			if blank > 1 || len(out) == 0 {
				continue
			}
		} else {
			blank = 0
		}
		out = append(out, line)
	}
	for len(out) > 0 && out[len(out)-1] == "" {
		out = out[:len(out)-1]
	}
	return strings.Join(out, "\n")
}

func normalizeURL(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("unsupported url scheme %q", u.Scheme)
	}
	u.Fragment = ""
	return u.String(), nil
}
