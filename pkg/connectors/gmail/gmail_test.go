package gmail

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	gmailapi "google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"github.com/MODSetter/SurfSense-sub000/pkg/connectors"
	"github.com/MODSetter/SurfSense-sub000/pkg/models"
)

func newTestAdapter(t *testing.T, srv *httptest.Server) *Adapter {
	t.Helper()

	svc, err := gmailapi.NewService(context.Background(),
		option.WithEndpoint(srv.URL),
		option.WithHTTPClient(srv.Client()))
	require.NoError(t, err)

	conn := &models.Connector{
		Name:          "work mail",
		ConnectorType: models.ConnectorTypeGoogleGmail,
	}
	return newWithService(connectors.Deps{}, conn, Config{}, svc)
}

func drain(t *testing.T, iter connectors.ItemIterator) ([]connectors.RawItem, []error) {
	t.Helper()
	var items []connectors.RawItem
	var errs []error
	iter(func(item connectors.RawItem, err error) bool {
		if err != nil {
			errs = append(errs, err)
			return true
		}
		items = append(items, item)
		return true
	})
	return items, errs
}

func metadataJSON(id, threadID, subject, from string, internalMillis int64) map[string]interface{} {
	// internalDate is int64-as-string on the wire.
	return map[string]interface{}{
		"id":           id,
		"threadId":     threadID,
		"internalDate": strconv.FormatInt(internalMillis, 10),
		"payload": map[string]interface{}{
			"headers": []map[string]string{
				{"name": "Subject", "value": subject},
				{"name": "From", "value": from},
			},
		},
	}
}

func TestListFullYieldsIDOnlyItems(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/gmail/v1/users/me/messages", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query().Get("q")
		assert.Contains(t, q, "after:2025/01/01")
		assert.Contains(t, q, "before:2026/01/01", "end bound rolls forward a day")
		assert.Contains(t, q, "-in:spam")

		if r.URL.Query().Get("pageToken") == "" {
			json.NewEncoder(w).Encode(map[string]interface{}{
				"nextPageToken": "page-2",
				"messages":      []map[string]string{{"id": "m1"}},
			})
			return
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"messages": []map[string]string{{"id": "m2"}},
		})
	})
	mux.HandleFunc("/gmail/v1/users/me/messages/m1", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "metadata", r.URL.Query().Get("format"))
		json.NewEncoder(w).Encode(metadataJSON("m1", "t1", "Launch plan", "ana@example.com", 1749546000000))
	})
	mux.HandleFunc("/gmail/v1/users/me/messages/m2", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(metadataJSON("m2", "t2", "", "bob@example.com", 1749632400000))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	adapter := newTestAdapter(t, srv)

	iter, err := adapter.ListFull(context.Background(), connectors.Window{
		Start: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2025, 12, 31, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	items, errs := drain(t, iter)
	require.Empty(t, errs)
	require.Len(t, items, 2)

	first := items[0]
	assert.Equal(t, "m1", first.SourceID)
	assert.Equal(t, "Launch plan", first.Title)
	assert.Equal(t, "https://mail.google.com/mail/u/0/#all/m1", first.URL)
	assert.Nil(t, first.Payload, "listing carries no content")
	assert.Equal(t, "ana@example.com", first.Metadata["from"])
	assert.Equal(t, time.Date(2025, 6, 10, 9, 0, 0, 0, time.UTC), first.ModifiedAt)

	assert.Equal(t, "(no subject)", items[1].Title)
}

func TestListDeltaBootstrap(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/gmail/v1/users/me/profile", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"emailAddress": "me@example.com",
			"historyId":    "5000",
		})
	}))
	defer srv.Close()

	adapter := newTestAdapter(t, srv)

	changes, cursor, err := adapter.ListDelta(context.Background(), "")
	require.NoError(t, err)
	assert.Empty(t, changes)
	assert.Equal(t, "5000", cursor)
}

func TestListDeltaCollectsChanges(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/gmail/v1/users/me/history", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "5000", r.URL.Query().Get("startHistoryId"))
		json.NewEncoder(w).Encode(map[string]interface{}{
			"historyId": "5130",
			"history": []map[string]interface{}{
				{
					"id": "5010",
					"messagesAdded": []map[string]interface{}{
						{"message": map[string]string{"id": "m-new"}},
					},
				},
				{
					"id": "5020",
					"messagesAdded": []map[string]interface{}{
						{"message": map[string]string{"id": "m-new"}},
					},
					"messagesDeleted": []map[string]interface{}{
						{"message": map[string]string{"id": "m-old"}},
					},
				},
			},
		})
	})
	mux.HandleFunc("/gmail/v1/users/me/messages/m-new", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(metadataJSON("m-new", "t9", "Re: Launch plan", "ana@example.com", 1749718800000))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	adapter := newTestAdapter(t, srv)

	changes, cursor, err := adapter.ListDelta(context.Background(), "5000")
	require.NoError(t, err)
	assert.Equal(t, "5130", cursor)
	require.Len(t, changes, 2, "duplicate add collapses to one change")

	assert.Equal(t, connectors.ChangeUpdated, changes[0].Kind)
	assert.Equal(t, "m-new", changes[0].SourceID)
	require.NotNil(t, changes[0].Item)
	assert.Equal(t, "Re: Launch plan", changes[0].Item.Title)

	assert.Equal(t, connectors.ChangeRemoved, changes[1].Kind)
	assert.Equal(t, "m-old", changes[1].SourceID)
}

func TestListDeltaExpiredHistory(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"error": map[string]interface{}{"code": 404, "message": "Requested entity was not found."},
		})
	}))
	defer srv.Close()

	adapter := newTestAdapter(t, srv)

	_, _, err := adapter.ListDelta(context.Background(), "12")
	require.ErrorIs(t, err, connectors.ErrCursorInvalid)
}

func TestListDeltaRejectsGarbageCursor(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("no API call expected")
	}))
	defer srv.Close()

	adapter := newTestAdapter(t, srv)

	_, _, err := adapter.ListDelta(context.Background(), "not-a-history-id")
	require.ErrorIs(t, err, connectors.ErrCursorInvalid)
}

func TestFetchContentPrefersPlainText(t *testing.T) {
	plain := base64.URLEncoding.EncodeToString([]byte("Shipping on Tuesday.\n\nSee the checklist."))
	html := base64.URLEncoding.EncodeToString([]byte("<p>Shipping on <b>Tuesday</b>.</p>"))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/gmail/v1/users/me/messages/m1", r.URL.Path)
		require.Equal(t, "full", r.URL.Query().Get("format"))
		json.NewEncoder(w).Encode(map[string]interface{}{
			"id":           "m1",
			"internalDate": "1749546000000",
			"payload": map[string]interface{}{
				"mimeType": "multipart/alternative",
				"headers": []map[string]string{
					{"name": "Subject", "value": "Launch plan"},
					{"name": "From", "value": "ana@example.com"},
					{"name": "To", "value": "team@example.com"},
				},
				"parts": []map[string]interface{}{
					{
						"mimeType": "text/plain; charset=UTF-8",
						"body":     map[string]interface{}{"data": plain},
					},
					{
						"mimeType": "text/html; charset=UTF-8",
						"body":     map[string]interface{}{"data": html},
					},
				},
			},
		})
	}))
	defer srv.Close()

	adapter := newTestAdapter(t, srv)

	text, err := adapter.FetchContent(context.Background(), "m1", connectors.FetchHint{})
	require.NoError(t, err)
	assert.Contains(t, text, "# Launch plan")
	assert.Contains(t, text, "From: ana@example.com")
	assert.Contains(t, text, "To: team@example.com")
	assert.Contains(t, text, "Date: 2025-06-10 09:00")
	assert.Contains(t, text, "Shipping on Tuesday.")
	assert.NotContains(t, text, "<b>")
}

func TestFetchContentFallsBackToHTML(t *testing.T) {
	html := base64.URLEncoding.EncodeToString([]byte("<p>First line.</p><p>Second line.</p>"))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"id": "m2",
			"payload": map[string]interface{}{
				"mimeType": "text/html",
				"headers": []map[string]string{
					{"name": "Subject", "value": "Newsletter"},
				},
				"body": map[string]interface{}{"data": html},
			},
		})
	}))
	defer srv.Close()

	adapter := newTestAdapter(t, srv)

	text, err := adapter.FetchContent(context.Background(), "m2", connectors.FetchHint{})
	require.NoError(t, err)
	assert.Contains(t, text, "First line.\nSecond line.")
	assert.NotContains(t, text, "<p>")
}

func TestVolatileConfigKeys(t *testing.T) {
	adapter := &Adapter{}
	assert.Equal(t, []string{"token_expiry"}, adapter.VolatileConfigKeys())
}

func TestDecodeBody(t *testing.T) {
	assert.Equal(t, "hi there", decodeBody(base64.URLEncoding.EncodeToString([]byte("hi there"))))
	assert.Equal(t, "hi there", decodeBody(base64.RawURLEncoding.EncodeToString([]byte("hi there"))))
	assert.Equal(t, "", decodeBody("!!!not base64!!!"))
}

func TestBuildQuery(t *testing.T) {
	q := buildQuery(connectors.Window{
		Start: time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2025, 3, 31, 0, 0, 0, 0, time.UTC),
	})
	assert.Equal(t, "after:2025/03/01 before:2025/04/01 -in:spam -in:trash", q)

	assert.Equal(t, "-in:spam -in:trash", buildQuery(connectors.Window{}))
}
