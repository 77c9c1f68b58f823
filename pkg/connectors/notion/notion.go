// Package notion indexes pages shared with a Notion integration. The lister
// renders page blocks to markdown inline, so items arrive payload-complete.
package notion

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/MODSetter/SurfSense-sub000/pkg/connectors"
	"github.com/MODSetter/SurfSense-sub000/pkg/models"
)

const (
	defaultBaseURL = "https://api.notion.com"
	apiVersion     = "2022-06-28"

	// maxBlockDepth bounds recursion into nested blocks. Child pages are
	// separate items and never recursed into.
	maxBlockDepth = 3
)

// Config is the connector config the adapter decodes.
type Config struct {
	Token   string `mapstructure:"token"`
	BaseURL string `mapstructure:"base_url"`
}

// Adapter talks to the Notion REST API with an integration token.
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
	if cfg.Token == "" {
		return nil, fmt.Errorf("%w: token", connectors.ErrMissingCredentials)
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}

	return &Adapter{
		DocSearch: connectors.NewDocSearch(deps, conn),
		cfg:       cfg,
		http:      deps.HTTPClient(),
		logger:    deps.Log().Named("notion"),
	}, nil
}

// Type implements connectors.Adapter.
func (a *Adapter) Type() models.ConnectorType {
	return models.ConnectorTypeNotion
}

// Validate checks the integration token with a minimal search.
func (a *Adapter) Validate(ctx context.Context) error {
	var resp searchResponse
	return a.post(ctx, "/v1/search", map[string]interface{}{"page_size": 1}, &resp)
}

// ListFull yields every non-archived page last edited inside the window,
// with its blocks already rendered.
func (a *Adapter) ListFull(ctx context.Context, win connectors.Window) (connectors.ItemIterator, error) {
	return func(yield func(connectors.RawItem, error) bool) {
		cursor := ""
		for {
			body := map[string]interface{}{
				"filter":    map[string]string{"property": "object", "value": "page"},
				"page_size": 100,
			}
			if cursor != "" {
				body["start_cursor"] = cursor
			}

			var resp searchResponse
			if err := a.post(ctx, "/v1/search", body, &resp); err != nil {
				yield(connectors.RawItem{}, fmt.Errorf("search pages: %w", err))
				return
			}

			for _, p := range resp.Results {
				if p.Archived || p.Object != "page" {
					continue
				}
				if p.LastEditedTime.Before(win.Start) || p.LastEditedTime.After(win.End) {
					continue
				}
				item, err := a.buildItem(ctx, p)
				if err != nil {
					if !yield(connectors.RawItem{}, err) {
						return
					}
					continue
				}
				if !yield(item, nil) {
					return
				}
			}

			if !resp.HasMore || resp.NextCursor == "" {
				return
			}
			cursor = resp.NextCursor
		}
	}, nil
}

func (a *Adapter) buildItem(ctx context.Context, p page) (connectors.RawItem, error) {
	content, err := a.renderBlocks(ctx, p.ID, 0)
	if err != nil {
		return connectors.RawItem{}, fmt.Errorf("%w: page %s: %v", connectors.ErrItemMalformed, p.ID, err)
	}

	title := p.title()
	if title == "" {
		title = "Untitled"
	}
	return connectors.RawItem{
		SourceID: p.ID,
		Title:    title,
		URL:      p.URL,
		Payload: map[string]interface{}{
			"title":   title,
			"content": content,
		},
		Metadata: map[string]interface{}{
			"url":         p.URL,
			"page_id":     p.ID,
			"last_edited": p.LastEditedTime.UTC().Format(time.RFC3339),
		},
		ModifiedAt: p.LastEditedTime.UTC(),
	}, nil
}

// FormatMarkdown renders a page item.
func (a *Adapter) FormatMarkdown(raw connectors.RawItem) string {
	title, _ := raw.Payload["title"].(string)
	content, _ := raw.Payload["content"].(string)
	return "# " + title + "\n\n" + strings.TrimSpace(content) + "\n"
}

// renderBlocks walks a block's children and renders them as markdown.
func (a *Adapter) renderBlocks(ctx context.Context, blockID string, depth int) (string, error) {
	if depth > maxBlockDepth {
		return "", nil
	}

	var b strings.Builder
	cursor := ""
	for {
		path := "/v1/blocks/" + blockID + "/children?page_size=100"
		if cursor != "" {
			path += "&start_cursor=" + url.QueryEscape(cursor)
		}

		var resp blocksResponse
		if err := a.get(ctx, path, &resp); err != nil {
			return "", err
		}

		for _, blk := range resp.Results {
			line := blk.render()
			if line != "" {
				b.WriteString(line)
				b.WriteString("\n\n")
			}
			if blk.HasChildren && blk.Type != "child_page" {
				nested, err := a.renderBlocks(ctx, blk.ID, depth+1)
				if err != nil {
					return "", err
				}
				if nested != "" {
					b.WriteString(nested)
				}
			}
		}

		if !resp.HasMore || resp.NextCursor == "" {
			return b.String(), nil
		}
		cursor = resp.NextCursor
	}
}

type searchResponse struct {
	Results    []page `json:"results"`
	HasMore    bool   `json:"has_more"`
	NextCursor string `json:"next_cursor"`
}

type page struct {
	Object         string                     `json:"object"`
	ID             string                     `json:"id"`
	URL            string                     `json:"url"`
	Archived       bool                       `json:"archived"`
	CreatedTime    time.Time                  `json:"created_time"`
	LastEditedTime time.Time                  `json:"last_edited_time"`
	Properties     map[string]json.RawMessage `json:"properties"`
}

// title finds the page's title property. Its name is user-defined, so the
// properties are scanned for type "title".
func (p page) title() string {
	for _, raw := range p.Properties {
		var prop struct {
			Type  string     `json:"type"`
			Title []richText `json:"title"`
		}
		if err := json.Unmarshal(raw, &prop); err != nil {
			continue
		}
		if prop.Type == "title" {
			return joinRichText(prop.Title)
		}
	}
	return ""
}

type blocksResponse struct {
	Results    []block `json:"results"`
	HasMore    bool    `json:"has_more"`
	NextCursor string  `json:"next_cursor"`
}

type block struct {
	ID          string
	Type        string
	HasChildren bool

	fields map[string]json.RawMessage
}

func (b *block) UnmarshalJSON(data []byte) error {
	var head struct {
		ID          string `json:"id"`
		Type        string `json:"type"`
		HasChildren bool   `json:"has_children"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return err
	}
	b.ID = head.ID
	b.Type = head.Type
	b.HasChildren = head.HasChildren
	return json.Unmarshal(data, &b.fields)
}

type blockBody struct {
	RichText []richText `json:"rich_text"`
	Checked  bool       `json:"checked"`
	Language string     `json:"language"`
	Title    string     `json:"title"`
}

func (b *block) body() blockBody {
	var body blockBody
	if raw, ok := b.fields[b.Type]; ok {
		_ = json.Unmarshal(raw, &body)
	}
	return body
}

func (b *block) render() string {
	body := b.body()
	text := joinRichText(body.RichText)

	switch b.Type {
	case "paragraph", "toggle":
		return text
	case "heading_1":
		return "# " + text
	case "heading_2":
		return "## " + text
	case "heading_3":
		return "### " + text
	case "bulleted_list_item":
		return "- " + text
	case "numbered_list_item":
		return "1. " + text
	case "to_do":
		if body.Checked {
			return "- [x] " + text
		}
		return "- [ ] " + text
	case "quote", "callout":
		return "> " + text
	case "code":
		return "```" + body.Language + "\n" + text + "\n```"
	case "divider":
		return "---"
	case "child_page":
		return "### " + body.Title
	default:
		return text
	}
}

type richText struct {
	PlainText string  `json:"plain_text"`
	Href      *string `json:"href"`
}

func joinRichText(parts []richText) string {
	var b strings.Builder
	for _, rt := range parts {
		if rt.Href != nil && *rt.Href != "" {
			fmt.Fprintf(&b, "[%s](%s)", rt.PlainText, *rt.Href)
			continue
		}
		b.WriteString(rt.PlainText)
	}
	return strings.TrimSpace(b.String())
}

func (a *Adapter) post(ctx context.Context, path string, body interface{}, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	return a.do(ctx, http.MethodPost, path, payload, out)
}

func (a *Adapter) get(ctx context.Context, path string, out interface{}) error {
	return a.do(ctx, http.MethodGet, path, nil, out)
}

func (a *Adapter) do(ctx context.Context, method, path string, body []byte, out interface{}) error {
	return connectors.Do(ctx, connectors.RetryPolicy{}, func() error {
		var reader *bytes.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		} else {
			reader = bytes.NewReader(nil)
		}
		req, err := http.NewRequestWithContext(ctx, method, a.cfg.BaseURL+path, reader)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+a.cfg.Token)
		req.Header.Set("Notion-Version", apiVersion)
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := a.http.Do(req)
		if err != nil {
			return connectors.ClassifyTransport(ctx, err)
		}
		defer resp.Body.Close()

		if err := connectors.CheckResponse(resp); err != nil {
			return err
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode notion response: %w", err)
		}
		return nil
	})
}
