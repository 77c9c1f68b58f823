// Package gmail indexes messages from a user's Gmail account.
//
// Listing yields ids plus subject-line metadata; message bodies are fetched
// per item so the indexer can skip already-indexed mail before downloading.
// Delta sync rides the Gmail History API.
package gmail

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/MODSetter/SurfSense-sub000/pkg/connectors"
	"github.com/MODSetter/SurfSense-sub000/pkg/connectors/googleauth"
	"github.com/MODSetter/SurfSense-sub000/pkg/models"
)

const (
	userID       = "me"
	listPageSize = 100
)

// Config is the connector config the adapter decodes.
type Config struct {
	googleauth.Credentials `mapstructure:",squash"`

	// Labels restricts the scan to these label ids (e.g. INBOX, SENT).
	// Empty means all mail.
	Labels []string `mapstructure:"labels"`
}

// Adapter talks to the Gmail API for one connector row.
type Adapter struct {
	*connectors.DocSearch

	cfg    Config
	svc    *gmail.Service
	logger hclog.Logger
}

// New builds the adapter from a stored connector row.
func New(ctx context.Context, deps connectors.Deps, conn *models.Connector) (connectors.Adapter, error) {
	var cfg Config
	if err := connectors.DecodeConfig(deps.Secrets, conn, &cfg); err != nil {
		return nil, err
	}
	ts, err := googleauth.TokenSource(ctx, deps, conn, cfg.Credentials, gmail.GmailReadonlyScope)
	if err != nil {
		return nil, err
	}
	svc, err := gmail.NewService(ctx, option.WithTokenSource(ts))
	if err != nil {
		return nil, fmt.Errorf("build gmail service: %w", err)
	}
	return newWithService(deps, conn, cfg, svc), nil
}

func newWithService(deps connectors.Deps, conn *models.Connector, cfg Config, svc *gmail.Service) *Adapter {
	return &Adapter{
		DocSearch: connectors.NewDocSearch(deps, conn),
		cfg:       cfg,
		svc:       svc,
		logger:    deps.Log().Named("gmail"),
	}
}

// Type implements connectors.Adapter.
func (a *Adapter) Type() models.ConnectorType {
	return models.ConnectorTypeGoogleGmail
}

// VolatileConfigKeys excludes the rewritten token expiry from the settings
// hash.
func (a *Adapter) VolatileConfigKeys() []string {
	return []string{connectors.ConfigKeyTokenExpiry}
}

// Validate fetches the mailbox profile, forcing an eager token refresh.
func (a *Adapter) Validate(ctx context.Context) error {
	return googleauth.Do(ctx, func() error {
		_, err := a.svc.Users.GetProfile(userID).Context(ctx).Do()
		return err
	})
}

// ListFull yields id-only items for messages received inside the window.
// Each listed id costs one cheap metadata read for the subject and date.
func (a *Adapter) ListFull(ctx context.Context, win connectors.Window) (connectors.ItemIterator, error) {
	query := buildQuery(win)

	return func(yield func(connectors.RawItem, error) bool) {
		pageToken := ""
		for {
			var page *gmail.ListMessagesResponse
			err := googleauth.Do(ctx, func() error {
				call := a.svc.Users.Messages.List(userID).
					Q(query).
					MaxResults(listPageSize).
					PageToken(pageToken).
					Context(ctx)
				if len(a.cfg.Labels) > 0 {
					call = call.LabelIds(a.cfg.Labels...)
				}
				var opErr error
				page, opErr = call.Do()
				return opErr
			})
			if err != nil {
				yield(connectors.RawItem{}, fmt.Errorf("list messages: %w", err))
				return
			}

			for _, ref := range page.Messages {
				item, err := a.metadataItem(ctx, ref.Id)
				if err != nil {
					if connectors.IsRunFatal(err) {
						yield(connectors.RawItem{}, err)
						return
					}
					if !yield(connectors.RawItem{}, fmt.Errorf("%w: message %s: %v", connectors.ErrItemMalformed, ref.Id, err)) {
						return
					}
					continue
				}
				if !yield(item, nil) {
					return
				}
			}

			pageToken = page.NextPageToken
			if pageToken == "" {
				return
			}
		}
	}, nil
}

// metadataItem reads just the headers of one message.
func (a *Adapter) metadataItem(ctx context.Context, id string) (connectors.RawItem, error) {
	var msg *gmail.Message
	err := googleauth.Do(ctx, func() error {
		var opErr error
		msg, opErr = a.svc.Users.Messages.Get(userID, id).
			Format("metadata").
			MetadataHeaders("Subject", "From", "Date").
			Context(ctx).
			Do()
		return opErr
	})
	if err != nil {
		return connectors.RawItem{}, err
	}
	return itemFromMessage(msg), nil
}

func itemFromMessage(msg *gmail.Message) connectors.RawItem {
	subject := header(msg.Payload, "Subject")
	if subject == "" {
		subject = "(no subject)"
	}
	return connectors.RawItem{
		SourceID: msg.Id,
		Title:    subject,
		URL:      "https://mail.google.com/mail/u/0/#all/" + msg.Id,
		Metadata: map[string]interface{}{
			"from":      header(msg.Payload, "From"),
			"thread_id": msg.ThreadId,
		},
		ModifiedAt: time.UnixMilli(msg.InternalDate).UTC(),
	}
}

// ListDelta pulls the History feed. An empty cursor bootstraps: it returns
// no changes and the mailbox's current history id. A history id the server
// has expired comes back as ErrCursorInvalid so the caller reverts to a
// full scan.
func (a *Adapter) ListDelta(ctx context.Context, cursor string) ([]connectors.Change, string, error) {
	if cursor == "" {
		var profile *gmail.Profile
		err := googleauth.Do(ctx, func() error {
			var opErr error
			profile, opErr = a.svc.Users.GetProfile(userID).Context(ctx).Do()
			return opErr
		})
		if err != nil {
			return nil, "", fmt.Errorf("get profile: %w", err)
		}
		return nil, strconv.FormatUint(profile.HistoryId, 10), nil
	}

	startID, err := strconv.ParseUint(cursor, 10, 64)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %q is not a history id", connectors.ErrCursorInvalid, cursor)
	}

	var changes []connectors.Change
	added := map[string]bool{}
	latest := startID
	pageToken := ""
	for {
		var page *gmail.ListHistoryResponse
		err := googleauth.Do(ctx, func() error {
			var opErr error
			page, opErr = a.svc.Users.History.List(userID).
				StartHistoryId(startID).
				HistoryTypes("messageAdded", "messageDeleted").
				PageToken(pageToken).
				Context(ctx).
				Do()
			return opErr
		})
		if err != nil {
			if isExpiredHistory(err) {
				return nil, "", fmt.Errorf("%w: %v", connectors.ErrCursorInvalid, err)
			}
			return nil, "", fmt.Errorf("list history: %w", err)
		}

		for _, h := range page.History {
			for _, add := range h.MessagesAdded {
				if add.Message == nil || added[add.Message.Id] {
					continue
				}
				added[add.Message.Id] = true

				item, err := a.metadataItem(ctx, add.Message.Id)
				if err != nil {
					// The message may have been deleted again since; the
					// deletion will appear later in the same feed.
					a.logger.Debug("skipping unreadable added message", "message", add.Message.Id, "error", err)
					continue
				}
				changes = append(changes, connectors.Change{
					Kind:     connectors.ChangeUpdated,
					SourceID: add.Message.Id,
					Item:     &item,
				})
			}
			for _, del := range h.MessagesDeleted {
				if del.Message == nil {
					continue
				}
				changes = append(changes, connectors.Change{
					Kind:     connectors.ChangeRemoved,
					SourceID: del.Message.Id,
				})
			}
			if h.Id > latest {
				latest = h.Id
			}
		}
		if page.HistoryId > latest {
			latest = page.HistoryId
		}

		pageToken = page.NextPageToken
		if pageToken == "" {
			return changes, strconv.FormatUint(latest, 10), nil
		}
	}
}

// FetchContent downloads one message and renders it as markdown.
func (a *Adapter) FetchContent(ctx context.Context, sourceID string, hint connectors.FetchHint) (string, error) {
	var msg *gmail.Message
	err := googleauth.Do(ctx, func() error {
		var opErr error
		msg, opErr = a.svc.Users.Messages.Get(userID, sourceID).Format("full").Context(ctx).Do()
		return opErr
	})
	if err != nil {
		return "", fmt.Errorf("get message %s: %w", sourceID, err)
	}
	return renderMessage(msg), nil
}

// renderMessage formats one message: subject header, the routing headers
// people search for, then the plain-text body.
func renderMessage(msg *gmail.Message) string {
	subject := header(msg.Payload, "Subject")
	if subject == "" {
		subject = "(no subject)"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", subject)
	if from := header(msg.Payload, "From"); from != "" {
		fmt.Fprintf(&b, "From: %s\n", from)
	}
	if to := header(msg.Payload, "To"); to != "" {
		fmt.Fprintf(&b, "To: %s\n", to)
	}
	if cc := header(msg.Payload, "Cc"); cc != "" {
		fmt.Fprintf(&b, "Cc: %s\n", cc)
	}
	if msg.InternalDate > 0 {
		fmt.Fprintf(&b, "Date: %s\n", time.UnixMilli(msg.InternalDate).UTC().Format("2006-01-02 15:04"))
	}
	b.WriteString("\n")

	plain, htmlBody := extractBody(msg.Payload)
	switch {
	case strings.TrimSpace(plain) != "":
		b.WriteString(strings.TrimSpace(plain))
	case strings.TrimSpace(htmlBody) != "":
		b.WriteString(connectors.StripHTML(htmlBody))
	default:
		b.WriteString(strings.TrimSpace(msg.Snippet))
	}
	b.WriteString("\n")
	return b.String()
}

// extractBody walks the MIME tree collecting the first text/plain and
// text/html bodies.
func extractBody(part *gmail.MessagePart) (plain, htmlBody string) {
	if part == nil {
		return "", ""
	}
	if part.Body != nil && part.Body.Data != "" {
		text := decodeBody(part.Body.Data)
		switch {
		case strings.HasPrefix(part.MimeType, "text/plain") && plain == "":
			plain = text
		case strings.HasPrefix(part.MimeType, "text/html") && htmlBody == "":
			htmlBody = text
		}
	}
	for _, child := range part.Parts {
		p, h := extractBody(child)
		if plain == "" {
			plain = p
		}
		if htmlBody == "" {
			htmlBody = h
		}
	}
	return plain, htmlBody
}

// decodeBody decodes Gmail's url-safe base64, tolerating both padded and
// unpadded payloads.
func decodeBody(data string) string {
	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(data, "="))
	if err != nil {
		return ""
	}
	return string(raw)
}

func header(part *gmail.MessagePart, name string) string {
	if part == nil {
		return ""
	}
	for _, h := range part.Headers {
		if strings.EqualFold(h.Name, name) {
			return h.Value
		}
	}
	return ""
}

// buildQuery assembles the Gmail search expression for a full scan. Gmail's
// before: bound is exclusive by day, so the end rolls forward one day.
func buildQuery(win connectors.Window) string {
	var terms []string
	if !win.Start.IsZero() {
		terms = append(terms, "after:"+win.Start.UTC().Format("2006/01/02"))
	}
	if !win.End.IsZero() {
		terms = append(terms, "before:"+win.End.UTC().AddDate(0, 0, 1).Format("2006/01/02"))
	}
	terms = append(terms, "-in:spam", "-in:trash")
	return strings.Join(terms, " ")
}

// isExpiredHistory reports whether the server no longer holds the requested
// history id. Gmail signals this with 404.
func isExpiredHistory(err error) bool {
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == http.StatusNotFound
}
