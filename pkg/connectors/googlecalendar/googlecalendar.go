// Package googlecalendar indexes events from a user's Google Calendar.
//
// Events are small, so listing carries full payloads. The adapter is
// calendar-like: scan windows may extend into the future to index upcoming
// events.
package googlecalendar

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"

	"github.com/MODSetter/SurfSense-sub000/pkg/connectors"
	"github.com/MODSetter/SurfSense-sub000/pkg/connectors/googleauth"
	"github.com/MODSetter/SurfSense-sub000/pkg/models"
)

const listPageSize = 250

// Config is the connector config the adapter decodes.
type Config struct {
	googleauth.Credentials `mapstructure:",squash"`

	// CalendarID selects the calendar; defaults to the user's primary.
	CalendarID string `mapstructure:"calendar_id"`
}

// Adapter talks to the Calendar API for one connector row.
type Adapter struct {
	*connectors.DocSearch

	cfg    Config
	svc    *calendar.Service
	logger hclog.Logger
}

// New builds the adapter from a stored connector row.
func New(ctx context.Context, deps connectors.Deps, conn *models.Connector) (connectors.Adapter, error) {
	var cfg Config
	if err := connectors.DecodeConfig(deps.Secrets, conn, &cfg); err != nil {
		return nil, err
	}
	ts, err := googleauth.TokenSource(ctx, deps, conn, cfg.Credentials, calendar.CalendarReadonlyScope)
	if err != nil {
		return nil, err
	}
	svc, err := calendar.NewService(ctx, option.WithTokenSource(ts))
	if err != nil {
		return nil, fmt.Errorf("build calendar service: %w", err)
	}
	return newWithService(deps, conn, cfg, svc), nil
}

func newWithService(deps connectors.Deps, conn *models.Connector, cfg Config, svc *calendar.Service) *Adapter {
	if cfg.CalendarID == "" {
		cfg.CalendarID = "primary"
	}
	return &Adapter{
		DocSearch: connectors.NewDocSearch(deps, conn),
		cfg:       cfg,
		svc:       svc,
		logger:    deps.Log().Named("googlecalendar"),
	}
}

// Type implements connectors.Adapter.
func (a *Adapter) Type() models.ConnectorType {
	return models.ConnectorTypeGoogleCalendar
}

// CalendarLike permits future-dated scan windows.
func (a *Adapter) CalendarLike() bool { return true }

// VolatileConfigKeys excludes the rewritten token expiry from the settings
// hash.
func (a *Adapter) VolatileConfigKeys() []string {
	return []string{connectors.ConfigKeyTokenExpiry}
}

// Validate fetches the calendar metadata, forcing an eager token refresh.
func (a *Adapter) Validate(ctx context.Context) error {
	return googleauth.Do(ctx, func() error {
		_, err := a.svc.Calendars.Get(a.cfg.CalendarID).Context(ctx).Do()
		return err
	})
}

// ListFull yields events whose start falls inside the window. Recurring
// events are expanded into single instances.
func (a *Adapter) ListFull(ctx context.Context, win connectors.Window) (connectors.ItemIterator, error) {
	return func(yield func(connectors.RawItem, error) bool) {
		pageToken := ""
		for {
			var page *calendar.Events
			err := googleauth.Do(ctx, func() error {
				call := a.svc.Events.List(a.cfg.CalendarID).
					SingleEvents(true).
					OrderBy("startTime").
					MaxResults(listPageSize).
					PageToken(pageToken).
					Context(ctx)
				if !win.Start.IsZero() {
					call = call.TimeMin(win.Start.UTC().Format(time.RFC3339))
				}
				if !win.End.IsZero() {
					call = call.TimeMax(win.End.UTC().Format(time.RFC3339))
				}
				var opErr error
				page, opErr = call.Do()
				return opErr
			})
			if err != nil {
				yield(connectors.RawItem{}, fmt.Errorf("list calendar events: %w", err))
				return
			}

			for _, ev := range page.Items {
				if ev.Status == "cancelled" {
					continue
				}
				if !yield(a.buildItem(ev), nil) {
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

func (a *Adapter) buildItem(ev *calendar.Event) connectors.RawItem {
	title := ev.Summary
	if title == "" {
		title = "(no title)"
	}
	start, allDay := eventTime(ev.Start)
	end, _ := eventTime(ev.End)
	updated, _ := time.Parse(time.RFC3339, ev.Updated)

	var attendees []string
	for _, at := range ev.Attendees {
		if at.Resource {
			continue
		}
		name := at.DisplayName
		if name == "" {
			name = at.Email
		}
		if at.ResponseStatus == "declined" {
			name += " (declined)"
		}
		attendees = append(attendees, name)
	}
	organizer := ""
	if ev.Organizer != nil {
		organizer = ev.Organizer.DisplayName
		if organizer == "" {
			organizer = ev.Organizer.Email
		}
	}

	return connectors.RawItem{
		SourceID: ev.Id,
		Title:    title,
		URL:      ev.HtmlLink,
		Payload: map[string]interface{}{
			"summary":     title,
			"description": ev.Description,
			"location":    ev.Location,
			"start":       start,
			"end":         end,
			"all_day":     allDay,
			"attendees":   attendees,
			"organizer":   organizer,
			"calendar_id": a.cfg.CalendarID,
		},
		Metadata: map[string]interface{}{
			"url":         ev.HtmlLink,
			"calendar_id": a.cfg.CalendarID,
			"start":       start.UTC().Format(time.RFC3339),
			"location":    ev.Location,
		},
		ModifiedAt: updated.UTC(),
	}
}

// FormatMarkdown renders one event.
func (a *Adapter) FormatMarkdown(raw connectors.RawItem) string {
	summary, _ := raw.Payload["summary"].(string)
	description, _ := raw.Payload["description"].(string)
	location, _ := raw.Payload["location"].(string)
	organizer, _ := raw.Payload["organizer"].(string)
	attendees, _ := raw.Payload["attendees"].([]string)
	start, _ := raw.Payload["start"].(time.Time)
	end, _ := raw.Payload["end"].(time.Time)
	allDay, _ := raw.Payload["all_day"].(bool)

	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", summary)
	fmt.Fprintf(&b, "When: %s\n", formatSpan(start, end, allDay))
	if location != "" {
		fmt.Fprintf(&b, "Where: %s\n", location)
	}
	if organizer != "" {
		fmt.Fprintf(&b, "Organizer: %s\n", organizer)
	}
	if len(attendees) > 0 {
		fmt.Fprintf(&b, "Attendees: %s\n", strings.Join(attendees, ", "))
	}
	if description != "" {
		b.WriteString("\n")
		b.WriteString(strings.TrimSpace(description))
		b.WriteString("\n")
	}
	return b.String()
}

func formatSpan(start, end time.Time, allDay bool) string {
	if allDay {
		if end.Sub(start) <= 24*time.Hour {
			return start.Format("2006-01-02") + " (all day)"
		}
		// The API reports an exclusive end date for all-day spans.
		return fmt.Sprintf("%s to %s (all day)", start.Format("2006-01-02"), end.AddDate(0, 0, -1).Format("2006-01-02"))
	}
	if start.IsZero() {
		return "unscheduled"
	}
	if end.IsZero() || end.Equal(start) {
		return start.UTC().Format("2006-01-02 15:04 MST")
	}
	if start.UTC().Truncate(24 * time.Hour).Equal(end.UTC().Truncate(24 * time.Hour)) {
		return fmt.Sprintf("%s to %s", start.UTC().Format("2006-01-02 15:04"), end.UTC().Format("15:04 MST"))
	}
	return fmt.Sprintf("%s to %s", start.UTC().Format("2006-01-02 15:04"), end.UTC().Format("2006-01-02 15:04 MST"))
}

// eventTime resolves an event boundary, reporting whether it is an all-day
// date rather than a timestamp.
func eventTime(edt *calendar.EventDateTime) (time.Time, bool) {
	if edt == nil {
		return time.Time{}, false
	}
	if edt.DateTime != "" {
		t, err := time.Parse(time.RFC3339, edt.DateTime)
		if err != nil {
			return time.Time{}, false
		}
		return t, false
	}
	if edt.Date != "" {
		t, err := time.Parse("2006-01-02", edt.Date)
		if err != nil {
			return time.Time{}, false
		}
		return t, true
	}
	return time.Time{}, false
}
