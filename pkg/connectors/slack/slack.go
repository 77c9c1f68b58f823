// Package slack indexes Slack workspace conversations. Items are top-level
// messages; threaded replies are folded into their parent so one message and
// its thread form one document.
package slack

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/MODSetter/SurfSense-sub000/pkg/connectors"
	"github.com/MODSetter/SurfSense-sub000/pkg/models"
)

const defaultBaseURL = "https://slack.com/api"

// pageSize is the conversations.history page size. Slack caps at 1000 but
// recommends 200.
const pageSize = 200

// Config is the connector config the adapter decodes.
type Config struct {
	BotToken string   `mapstructure:"bot_token"`
	Channels []string `mapstructure:"channels"`
	BaseURL  string   `mapstructure:"base_url"`
}

// Adapter talks to the Slack Web API with a bot token.
type Adapter struct {
	*connectors.DocSearch

	cfg    Config
	http   *http.Client
	logger hclog.Logger

	teamURL string
	users   map[string]string
}

// New builds the adapter from a stored connector row.
func New(ctx context.Context, deps connectors.Deps, conn *models.Connector) (connectors.Adapter, error) {
	var cfg Config
	if err := connectors.DecodeConfig(deps.Secrets, conn, &cfg); err != nil {
		return nil, err
	}
	if cfg.BotToken == "" {
		return nil, fmt.Errorf("%w: bot_token", connectors.ErrMissingCredentials)
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}

	return &Adapter{
		DocSearch: connectors.NewDocSearch(deps, conn),
		cfg:       cfg,
		http:      deps.HTTPClient(),
		logger:    deps.Log().Named("slack"),
		users:     make(map[string]string),
	}, nil
}

// Type implements connectors.Adapter.
func (a *Adapter) Type() models.ConnectorType {
	return models.ConnectorTypeSlack
}

// Validate checks the bot token against auth.test and caches the workspace
// URL for permalinks.
func (a *Adapter) Validate(ctx context.Context) error {
	var resp struct {
		apiEnvelope
		URL string `json:"url"`
	}
	if err := a.call(ctx, "auth.test", nil, &resp); err != nil {
		return err
	}
	a.teamURL = strings.TrimSuffix(resp.URL, "/")
	return nil
}

// ListFull yields one item per top-level message across the selected
// channels, bounded by the window.
func (a *Adapter) ListFull(ctx context.Context, win connectors.Window) (connectors.ItemIterator, error) {
	if a.teamURL == "" {
		if err := a.Validate(ctx); err != nil {
			return nil, err
		}
	}
	channels, err := a.listChannels(ctx)
	if err != nil {
		return nil, err
	}

	return func(yield func(connectors.RawItem, error) bool) {
		for _, ch := range channels {
			if !a.channelSelected(ch.Name) {
				continue
			}
			if !a.yieldChannel(ctx, ch, win, yield) {
				return
			}
		}
	}, nil
}

func (a *Adapter) channelSelected(name string) bool {
	if len(a.cfg.Channels) == 0 {
		return true
	}
	for _, want := range a.cfg.Channels {
		if strings.EqualFold(strings.TrimPrefix(want, "#"), name) {
			return true
		}
	}
	return false
}

func (a *Adapter) yieldChannel(ctx context.Context, ch channel, win connectors.Window, yield func(connectors.RawItem, error) bool) bool {
	cursor := ""
	for {
		params := url.Values{
			"channel": {ch.ID},
			"oldest":  {epochString(win.Start)},
			"latest":  {epochString(win.End)},
			"limit":   {strconv.Itoa(pageSize)},
		}
		if cursor != "" {
			params.Set("cursor", cursor)
		}

		var resp struct {
			apiEnvelope
			Messages         []message        `json:"messages"`
			HasMore          bool             `json:"has_more"`
			ResponseMetadata responseMetadata `json:"response_metadata"`
		}
		if err := a.call(ctx, "conversations.history", params, &resp); err != nil {
			return yield(connectors.RawItem{}, fmt.Errorf("history of #%s: %w", ch.Name, err))
		}

		for _, msg := range resp.Messages {
			if !msg.indexable() {
				continue
			}
			item, err := a.buildItem(ctx, ch, msg)
			if err != nil {
				if !yield(connectors.RawItem{}, err) {
					return false
				}
				continue
			}
			if !yield(item, nil) {
				return false
			}
		}

		cursor = resp.ResponseMetadata.NextCursor
		if !resp.HasMore || cursor == "" {
			return true
		}
	}
}

func (a *Adapter) buildItem(ctx context.Context, ch channel, msg message) (connectors.RawItem, error) {
	posts := []post{a.toPost(ctx, msg)}

	if msg.ReplyCount > 0 {
		replies, err := a.listReplies(ctx, ch.ID, msg.Ts)
		if err != nil {
			return connectors.RawItem{}, fmt.Errorf("%w: thread %s: %v", connectors.ErrItemMalformed, msg.Ts, err)
		}
		for _, r := range replies {
			if r.Ts == msg.Ts || r.Subtype != "" || strings.TrimSpace(r.Text) == "" {
				continue
			}
			posts = append(posts, a.toPost(ctx, r))
		}
	}

	ts := parseTs(msg.Ts)
	item := connectors.RawItem{
		SourceID: ch.ID + "_" + msg.Ts,
		Title:    "#" + ch.Name + ": " + connectors.Truncate(msg.Text, 80),
		URL:      a.permalink(ch.ID, msg.Ts),
		Payload: map[string]interface{}{
			"channel_name": ch.Name,
			"posts":        posts,
		},
		Metadata: map[string]interface{}{
			"channel_id":   ch.ID,
			"channel_name": ch.Name,
			"url":          a.permalink(ch.ID, msg.Ts),
			"replies":      len(posts) - 1,
		},
		ModifiedAt: ts,
	}
	return item, nil
}

func (a *Adapter) permalink(channelID, ts string) string {
	if a.teamURL == "" {
		return ""
	}
	return fmt.Sprintf("%s/archives/%s/p%s", a.teamURL, channelID, strings.Replace(ts, ".", "", 1))
}

// FormatMarkdown renders a message item as a conversation transcript.
func (a *Adapter) FormatMarkdown(raw connectors.RawItem) string {
	name, _ := raw.Payload["channel_name"].(string)
	posts, _ := raw.Payload["posts"].([]post)

	var b strings.Builder
	fmt.Fprintf(&b, "# Slack #%s\n", name)
	for i, p := range posts {
		if i == 1 {
			b.WriteString("\n## Thread replies\n")
		}
		fmt.Fprintf(&b, "\n**%s** — %s\n%s\n",
			p.Author, p.Time.UTC().Format("2006-01-02 15:04"), p.Text)
	}
	return b.String()
}

// post is one rendered message with its author resolved.
type post struct {
	Author string
	Text   string
	Time   time.Time
}

func (a *Adapter) toPost(ctx context.Context, msg message) post {
	return post{
		Author: a.userName(ctx, msg.User),
		Text:   msg.Text,
		Time:   parseTs(msg.Ts),
	}
}

func (a *Adapter) userName(ctx context.Context, userID string) string {
	if userID == "" {
		return "unknown"
	}
	if name, ok := a.users[userID]; ok {
		return name
	}

	var resp struct {
		apiEnvelope
		User struct {
			Name     string `json:"name"`
			RealName string `json:"real_name"`
			Profile  struct {
				DisplayName string `json:"display_name"`
			} `json:"profile"`
		} `json:"user"`
	}
	name := userID
	err := a.call(ctx, "users.info", url.Values{"user": {userID}}, &resp)
	if err == nil {
		switch {
		case resp.User.Profile.DisplayName != "":
			name = resp.User.Profile.DisplayName
		case resp.User.RealName != "":
			name = resp.User.RealName
		case resp.User.Name != "":
			name = resp.User.Name
		}
	} else {
		a.logger.Debug("user lookup failed", "user_id", userID, "error", err)
	}
	a.users[userID] = name
	return name
}

type channel struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	IsArchived bool   `json:"is_archived"`
}

func (a *Adapter) listChannels(ctx context.Context) ([]channel, error) {
	var out []channel
	cursor := ""
	for {
		params := url.Values{
			"types":            {"public_channel"},
			"exclude_archived": {"true"},
			"limit":            {"200"},
		}
		if cursor != "" {
			params.Set("cursor", cursor)
		}

		var resp struct {
			apiEnvelope
			Channels         []channel        `json:"channels"`
			ResponseMetadata responseMetadata `json:"response_metadata"`
		}
		if err := a.call(ctx, "conversations.list", params, &resp); err != nil {
			return nil, fmt.Errorf("list channels: %w", err)
		}
		out = append(out, resp.Channels...)

		cursor = resp.ResponseMetadata.NextCursor
		if cursor == "" {
			return out, nil
		}
	}
}

func (a *Adapter) listReplies(ctx context.Context, channelID, ts string) ([]message, error) {
	var out []message
	cursor := ""
	for {
		params := url.Values{
			"channel": {channelID},
			"ts":      {ts},
			"limit":   {strconv.Itoa(pageSize)},
		}
		if cursor != "" {
			params.Set("cursor", cursor)
		}

		var resp struct {
			apiEnvelope
			Messages         []message        `json:"messages"`
			HasMore          bool             `json:"has_more"`
			ResponseMetadata responseMetadata `json:"response_metadata"`
		}
		if err := a.call(ctx, "conversations.replies", params, &resp); err != nil {
			return nil, err
		}
		out = append(out, resp.Messages...)

		cursor = resp.ResponseMetadata.NextCursor
		if !resp.HasMore || cursor == "" {
			return out, nil
		}
	}
}

type message struct {
	Type       string `json:"type"`
	Subtype    string `json:"subtype"`
	User       string `json:"user"`
	Text       string `json:"text"`
	Ts         string `json:"ts"`
	ThreadTs   string `json:"thread_ts"`
	ReplyCount int    `json:"reply_count"`
}

// indexable keeps human top-level messages and drops join/leave noise and
// thread replies already folded into their parent.
func (m message) indexable() bool {
	if m.Type != "message" || m.Subtype != "" {
		return false
	}
	if m.ThreadTs != "" && m.ThreadTs != m.Ts {
		return false
	}
	return strings.TrimSpace(m.Text) != "" || m.ReplyCount > 0
}

type apiEnvelope struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
}

type responseMetadata struct {
	NextCursor string `json:"next_cursor"`
}

// call performs one Web API method with retry. Slack signals most failures
// with HTTP 200 and ok:false, so both layers are classified.
func (a *Adapter) call(ctx context.Context, method string, params url.Values, out interface{ envelope() apiEnvelope }) error {
	return connectors.Do(ctx, connectors.RetryPolicy{}, func() error {
		reqURL := a.cfg.BaseURL + "/" + method
		if len(params) > 0 {
			reqURL += "?" + params.Encode()
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+a.cfg.BotToken)

		resp, err := a.http.Do(req)
		if err != nil {
			return connectors.ClassifyTransport(ctx, err)
		}
		defer resp.Body.Close()

		if err := connectors.CheckResponse(resp); err != nil {
			return err
		}
		if err := decodeJSON(resp, out); err != nil {
			return err
		}
		return classifySlackError(out.envelope())
	})
}

func (e apiEnvelope) envelope() apiEnvelope { return e }

func decodeJSON(resp *http.Response, out interface{}) error {
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode slack response: %w", err)
	}
	return nil
}

func classifySlackError(env apiEnvelope) error {
	if env.OK {
		return nil
	}
	switch env.Error {
	case "invalid_auth", "account_inactive", "token_revoked", "not_authed":
		return fmt.Errorf("%w: slack: %s", connectors.ErrInvalidCredentials, env.Error)
	case "ratelimited":
		return &connectors.RetryableError{
			Reason: connectors.RetryReasonRateLimit,
			Err:    fmt.Errorf("slack: %s", env.Error),
		}
	case "":
		return fmt.Errorf("slack: request failed")
	default:
		return fmt.Errorf("slack: %s", env.Error)
	}
}

func epochString(t time.Time) string {
	return strconv.FormatInt(t.Unix(), 10)
}

func parseTs(ts string) time.Time {
	f, err := strconv.ParseFloat(ts, 64)
	if err != nil {
		return time.Time{}
	}
	sec := int64(f)
	nsec := int64((f - float64(sec)) * 1e9)
	return time.Unix(sec, nsec).UTC()
}
