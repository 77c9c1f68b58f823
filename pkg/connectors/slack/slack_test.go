package slack

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MODSetter/SurfSense-sub000/pkg/connectors"
	"github.com/MODSetter/SurfSense-sub000/pkg/models"
)

func newTestAdapter(t *testing.T, handler http.Handler) (*Adapter, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	conn := &models.Connector{
		ConnectorType: models.ConnectorTypeSlack,
		Config: models.JSONFrom(map[string]interface{}{
			"bot_token": "xoxb-test",
			"base_url":  srv.URL,
		}),
	}
	adapter, err := New(context.Background(), connectors.Deps{HTTP: srv.Client()}, conn)
	require.NoError(t, err)
	return adapter.(*Adapter), srv
}

func slackMux(t *testing.T) *http.ServeMux {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/auth.test", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer xoxb-test", r.Header.Get("Authorization"))
		fmt.Fprint(w, `{"ok":true,"url":"https://acme.slack.com/"}`)
	})
	mux.HandleFunc("/conversations.list", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"ok":true,"channels":[
			{"id":"C01","name":"general"},
			{"id":"C02","name":"random"}
		],"response_metadata":{"next_cursor":""}}`)
	})
	mux.HandleFunc("/conversations.history", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("channel") != "C01" {
			fmt.Fprint(w, `{"ok":true,"messages":[],"has_more":false}`)
			return
		}
		fmt.Fprint(w, `{"ok":true,"messages":[
			{"type":"message","user":"U1","text":"release is out","ts":"1718190000.000100","reply_count":1,"thread_ts":"1718190000.000100"},
			{"type":"message","subtype":"channel_join","user":"U2","text":"joined","ts":"1718190001.000000"},
			{"type":"message","user":"U2","text":"standup at ten","ts":"1718190002.000200"}
		],"has_more":false,"response_metadata":{"next_cursor":""}}`)
	})
	mux.HandleFunc("/conversations.replies", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "1718190000.000100", r.URL.Query().Get("ts"))
		fmt.Fprint(w, `{"ok":true,"messages":[
			{"type":"message","user":"U1","text":"release is out","ts":"1718190000.000100"},
			{"type":"message","user":"U2","text":"nice work","ts":"1718190010.000000","thread_ts":"1718190000.000100"}
		],"has_more":false}`)
	})
	mux.HandleFunc("/users.info", func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("user") {
		case "U1":
			fmt.Fprint(w, `{"ok":true,"user":{"id":"U1","name":"jane","profile":{"display_name":"Jane"}}}`)
		default:
			fmt.Fprint(w, `{"ok":true,"user":{"id":"U2","real_name":"Bob Smith","profile":{}}}`)
		}
	})
	return mux
}

func drain(t *testing.T, it connectors.ItemIterator) []connectors.RawItem {
	t.Helper()
	var items []connectors.RawItem
	it(func(item connectors.RawItem, err error) bool {
		require.NoError(t, err)
		items = append(items, item)
		return true
	})
	return items
}

func TestListFullFoldsThreads(t *testing.T) {
	adapter, _ := newTestAdapter(t, slackMux(t))

	win := connectors.Window{
		Start: time.Unix(1718100000, 0),
		End:   time.Unix(1718200000, 0),
	}
	it, err := adapter.ListFull(context.Background(), win)
	require.NoError(t, err)

	items := drain(t, it)
	require.Len(t, items, 2, "join noise dropped, replies folded into parent")

	first := items[0]
	assert.Equal(t, "C01_1718190000.000100", first.SourceID)
	assert.Equal(t, "#general: release is out", first.Title)
	assert.Equal(t, "https://acme.slack.com/archives/C01/p1718190000000100", first.URL)
	assert.Equal(t, 1, first.Metadata["replies"])

	md := adapter.FormatMarkdown(first)
	assert.Contains(t, md, "# Slack #general")
	assert.Contains(t, md, "**Jane**")
	assert.Contains(t, md, "## Thread replies")
	assert.Contains(t, md, "**Bob Smith**")
	assert.Contains(t, md, "nice work")

	second := items[1]
	assert.Equal(t, "C01_1718190002.000200", second.SourceID)
	assert.NotContains(t, adapter.FormatMarkdown(second), "Thread replies")
}

func TestChannelFilter(t *testing.T) {
	adapter, _ := newTestAdapter(t, slackMux(t))
	adapter.cfg.Channels = []string{"#random"}

	it, err := adapter.ListFull(context.Background(), connectors.Window{
		Start: time.Unix(1718100000, 0),
		End:   time.Unix(1718200000, 0),
	})
	require.NoError(t, err)
	assert.Empty(t, drain(t, it), "general excluded by the channel filter")
}

func TestValidateRejectsBadToken(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/auth.test", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"ok":false,"error":"invalid_auth"}`)
	})
	adapter, _ := newTestAdapter(t, mux)

	err := adapter.Validate(context.Background())
	require.ErrorIs(t, err, connectors.ErrInvalidCredentials)
}

func TestNewRequiresBotToken(t *testing.T) {
	conn := &models.Connector{
		ConnectorType: models.ConnectorTypeSlack,
		Config:        models.JSONFrom(map[string]interface{}{}),
	}
	_, err := New(context.Background(), connectors.Deps{}, conn)
	require.ErrorIs(t, err, connectors.ErrMissingCredentials)
}

func TestParseTs(t *testing.T) {
	ts := parseTs("1718190000.000100")
	assert.Equal(t, int64(1718190000), ts.Unix())
	assert.True(t, parseTs("garbage").IsZero())
}
