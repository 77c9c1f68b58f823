package connectors

import (
	"fmt"
	"strings"
	"time"

	"github.com/araddon/dateparse"

	"github.com/MODSetter/SurfSense-sub000/pkg/models"
)

// fallbackLookback is the scan depth when a connector has never synced.
const fallbackLookback = 365 * 24 * time.Hour

// IsDateSentinel reports whether a caller-supplied date string means
// "not provided". API clients send "undefined" and empty strings
// interchangeably.
func IsDateSentinel(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "undefined", "null", "none":
		return true
	}
	return false
}

// NormalizeDate maps sentinel date strings to empty, passing real values
// through trimmed.
func NormalizeDate(s string) string {
	if IsDateSentinel(s) {
		return ""
	}
	return strings.TrimSpace(s)
}

// ResolveWindow implements the shared date-range policy. Sentinel or absent
// dates fall back to (last_indexed_at, now), or (now-365d, now) before the
// first sync. Calendar-like connectors may scan into the future; everything
// else clamps the end to now. Inverted or unparseable caller ranges are
// dropped back to the fallback with a warning, never an error.
func ResolveWindow(conn *models.Connector, startStr, endStr string, now time.Time, calendarLike bool) (Window, string) {
	now = now.UTC()

	fallback := Window{End: now}
	if conn != nil && conn.LastIndexedAt != nil {
		fallback.Start = conn.LastIndexedAt.UTC()
	} else {
		fallback.Start = now.Add(-fallbackLookback)
	}

	startStr = NormalizeDate(startStr)
	endStr = NormalizeDate(endStr)
	if startStr == "" && endStr == "" {
		return fallback, ""
	}

	win := fallback
	if startStr != "" {
		t, err := dateparse.ParseAny(startStr)
		if err != nil {
			return fallback, fmt.Sprintf("unparseable start date %q, using default window", startStr)
		}
		win.Start = t.UTC()
	}
	if endStr != "" {
		t, err := dateparse.ParseAny(endStr)
		if err != nil {
			return fallback, fmt.Sprintf("unparseable end date %q, using default window", endStr)
		}
		win.End = t.UTC()
	}

	if !calendarLike && win.End.After(now) {
		win.End = now
	}

	if win.Start.After(win.End) {
		return fallback, fmt.Sprintf("inverted date range %s..%s, using default window",
			win.Start.Format("2006-01-02"), win.End.Format("2006-01-02"))
	}

	return win, ""
}
