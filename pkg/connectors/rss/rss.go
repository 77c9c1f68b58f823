// Package rss indexes RSS 2.0 and Atom feeds.
package rss

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/araddon/dateparse"
	"github.com/hashicorp/go-hclog"

	"github.com/MODSetter/SurfSense-sub000/pkg/connectors"
	"github.com/MODSetter/SurfSense-sub000/pkg/models"
)

// maxFeedBytes caps how much of a feed body is read.
const maxFeedBytes = 10 << 20

// Config is the connector config the adapter decodes.
type Config struct {
	Feeds []string `mapstructure:"feeds"`
}

// Adapter fetches and parses syndication feeds.
type Adapter struct {
	*connectors.DocSearch

	cfg    Config
	http   *http.Client
	logger hclog.Logger
}

// New builds the adapter from a stored connector row.
func New(ctx context.Context, deps connectors.Deps, conn *models.Connector) (connectors.Adapter, error) {
	var cfg Config
	if err := connectors.DecodeConfig(deps.Secrets, conn, &cfg); err != nil {
		return nil, err
	}
	if len(cfg.Feeds) == 0 {
		return nil, fmt.Errorf("rss connector has no feed urls configured")
	}

	return &Adapter{
		DocSearch: connectors.NewDocSearch(deps, conn),
		cfg:       cfg,
		http:      deps.HTTPClient(),
		logger:    deps.Log().Named("rss"),
	}, nil
}

// Type implements connectors.Adapter.
func (a *Adapter) Type() models.ConnectorType {
	return models.ConnectorTypeRSS
}

// Validate fetches and parses the first feed.
func (a *Adapter) Validate(ctx context.Context) error {
	_, err := a.fetchFeed(ctx, a.cfg.Feeds[0])
	return err
}

// ListFull yields entries published inside the window across all feeds. A
// feed that fails to fetch is reported as one item error and the remaining
// feeds still run.
func (a *Adapter) ListFull(ctx context.Context, win connectors.Window) (connectors.ItemIterator, error) {
	return func(yield func(connectors.RawItem, error) bool) {
		for _, feedURL := range a.cfg.Feeds {
			feed, err := a.fetchFeed(ctx, feedURL)
			if err != nil {
				if !yield(connectors.RawItem{}, fmt.Errorf("feed %s: %w", feedURL, err)) {
					return
				}
				continue
			}
			for _, entry := range feed.entries {
				if !entry.published.IsZero() {
					if entry.published.Before(win.Start) || entry.published.After(win.End) {
						continue
					}
				}
				if !yield(a.buildItem(feed, entry), nil) {
					return
				}
			}
		}
	}, nil
}

func (a *Adapter) buildItem(feed *parsedFeed, entry feedEntry) connectors.RawItem {
	sourceID := entry.id
	if sourceID == "" {
		sourceID = entry.link
	}
	return connectors.RawItem{
		SourceID: sourceID,
		Title:    entry.title,
		URL:      entry.link,
		Payload: map[string]interface{}{
			"feed_title": feed.title,
			"title":      entry.title,
			"link":       entry.link,
			"author":     entry.author,
			"published":  entry.published,
			"content":    entry.content,
		},
		Metadata: map[string]interface{}{
			"url":        entry.link,
			"feed_title": feed.title,
			"author":     entry.author,
		},
		ModifiedAt: entry.published,
	}
}

// FormatMarkdown renders one feed entry.
func (a *Adapter) FormatMarkdown(raw connectors.RawItem) string {
	title, _ := raw.Payload["title"].(string)
	feedTitle, _ := raw.Payload["feed_title"].(string)
	author, _ := raw.Payload["author"].(string)
	link, _ := raw.Payload["link"].(string)
	content, _ := raw.Payload["content"].(string)
	published, _ := raw.Payload["published"].(time.Time)

	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", title)
	fmt.Fprintf(&b, "Feed: %s\n", feedTitle)
	if author != "" {
		fmt.Fprintf(&b, "Author: %s\n", author)
	}
	if !published.IsZero() {
		fmt.Fprintf(&b, "Published: %s\n", published.UTC().Format("2006-01-02"))
	}
	b.WriteString("\n")
	b.WriteString(strings.TrimSpace(content))
	if link != "" {
		fmt.Fprintf(&b, "\n\n[Original](%s)\n", link)
	}
	return b.String()
}

// parsedFeed is the format-neutral view of one feed.
type parsedFeed struct {
	title   string
	entries []feedEntry
}

type feedEntry struct {
	id        string
	title     string
	link      string
	author    string
	content   string
	published time.Time
}

func (a *Adapter) fetchFeed(ctx context.Context, feedURL string) (*parsedFeed, error) {
	var body []byte
	err := connectors.Do(ctx, connectors.RetryPolicy{}, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, feedURL, nil)
		if err != nil {
			return err
		}
		req.Header.Set("Accept", "application/rss+xml, application/atom+xml, application/xml, text/xml")

		resp, err := a.http.Do(req)
		if err != nil {
			return connectors.ClassifyTransport(ctx, err)
		}
		defer resp.Body.Close()

		if err := connectors.CheckResponse(resp); err != nil {
			return err
		}
		body, err = io.ReadAll(io.LimitReader(resp.Body, maxFeedBytes))
		return err
	})
	if err != nil {
		return nil, err
	}
	return parseFeed(body)
}

// parseFeed sniffs the root element and parses RSS 2.0 or Atom.
func parseFeed(body []byte) (*parsedFeed, error) {
	var probe struct {
		XMLName xml.Name
	}
	if err := xml.Unmarshal(body, &probe); err != nil {
		return nil, fmt.Errorf("parse feed: %w", err)
	}

	switch probe.XMLName.Local {
	case "rss":
		return parseRSS(body)
	case "feed":
		return parseAtom(body)
	default:
		return nil, fmt.Errorf("unsupported feed root element %q", probe.XMLName.Local)
	}
}

type rssDocument struct {
	Channel struct {
		Title string `xml:"title"`
		Items []struct {
			Title       string `xml:"title"`
			Link        string `xml:"link"`
			GUID        string `xml:"guid"`
			PubDate     string `xml:"pubDate"`
			Description string `xml:"description"`
			Encoded     string `xml:"encoded"`
			Creator     string `xml:"creator"`
			Author      string `xml:"author"`
		} `xml:"item"`
	} `xml:"channel"`
}

func parseRSS(body []byte) (*parsedFeed, error) {
	var doc rssDocument
	if err := xml.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("parse rss: %w", err)
	}

	feed := &parsedFeed{title: doc.Channel.Title}
	for _, item := range doc.Channel.Items {
		content := item.Encoded
		if content == "" {
			content = item.Description
		}
		author := item.Creator
		if author == "" {
			author = item.Author
		}
		feed.entries = append(feed.entries, feedEntry{
			id:        item.GUID,
			title:     strings.TrimSpace(item.Title),
			link:      strings.TrimSpace(item.Link),
			author:    strings.TrimSpace(author),
			content:   connectors.StripHTML(content),
			published: parseDate(item.PubDate),
		})
	}
	return feed, nil
}

type atomDocument struct {
	Title   string `xml:"title"`
	Entries []struct {
		ID        string `xml:"id"`
		Title     string `xml:"title"`
		Updated   string `xml:"updated"`
		Published string `xml:"published"`
		Summary   string `xml:"summary"`
		Content   string `xml:"content"`
		Author    struct {
			Name string `xml:"name"`
		} `xml:"author"`
		Links []struct {
			Rel  string `xml:"rel,attr"`
			Href string `xml:"href,attr"`
		} `xml:"link"`
	} `xml:"entry"`
}

func parseAtom(body []byte) (*parsedFeed, error) {
	var doc atomDocument
	if err := xml.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("parse atom: %w", err)
	}

	feed := &parsedFeed{title: doc.Title}
	for _, entry := range doc.Entries {
		link := ""
		for _, l := range entry.Links {
			if l.Rel == "" || l.Rel == "alternate" {
				link = l.Href
				break
			}
		}
		content := entry.Content
		if content == "" {
			content = entry.Summary
		}
		published := entry.Published
		if published == "" {
			published = entry.Updated
		}
		feed.entries = append(feed.entries, feedEntry{
			id:        entry.ID,
			title:     strings.TrimSpace(entry.Title),
			link:      link,
			author:    strings.TrimSpace(entry.Author.Name),
			content:   connectors.StripHTML(content),
			published: parseDate(published),
		})
	}
	return feed, nil
}

func parseDate(s string) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}
	}
	t, err := dateparse.ParseAny(s)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}
