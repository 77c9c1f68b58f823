package rss

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MODSetter/SurfSense-sub000/pkg/connectors"
	"github.com/MODSetter/SurfSense-sub000/pkg/models"
)

const rssBody = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0" xmlns:content="http://purl.org/rss/1.0/modules/content/" xmlns:dc="http://purl.org/dc/elements/1.1/">
  <channel>
    <title>Engineering Blog</title>
    <item>
      <title>Shipping the indexer</title>
      <link>https://blog.example.com/indexer</link>
      <guid>tag:blog.example.com,2025:indexer</guid>
      <pubDate>Mon, 02 Jun 2025 09:00:00 GMT</pubDate>
      <dc:creator>Dana</dc:creator>
      <description>short teaser</description>
      <content:encoded><![CDATA[<p>We shipped the <b>indexer</b> today.</p><p>Benchmarks below.</p>]]></content:encoded>
    </item>
    <item>
      <title>Ancient post</title>
      <link>https://blog.example.com/old</link>
      <guid>tag:blog.example.com,2019:old</guid>
      <pubDate>Tue, 01 Jan 2019 09:00:00 GMT</pubDate>
      <description>from long ago</description>
    </item>
  </channel>
</rss>`

const atomBody = `<?xml version="1.0" encoding="utf-8"?>
<feed xmlns="http://www.w3.org/2005/Atom">
  <title>Release Notes</title>
  <entry>
    <id>urn:release:2.4.0</id>
    <title>v2.4.0</title>
    <updated>2025-06-03T10:00:00Z</updated>
    <author><name>release-bot</name></author>
    <link rel="alternate" href="https://releases.example.com/2.4.0"/>
    <content>Adds delta sync support.</content>
  </entry>
</feed>`

func newTestAdapter(t *testing.T, feeds []string, client *http.Client) *Adapter {
	t.Helper()

	conn := &models.Connector{
		Name:          "team feeds",
		ConnectorType: models.ConnectorTypeRSS,
		Config:        models.JSONFrom(map[string]interface{}{"feeds": feeds}),
	}
	adapter, err := New(context.Background(), connectors.Deps{HTTP: client}, conn)
	require.NoError(t, err)
	return adapter.(*Adapter)
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

func TestListFullParsesBothFormats(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/rss.xml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		w.Write([]byte(rssBody))
	})
	mux.HandleFunc("/atom.xml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/atom+xml")
		w.Write([]byte(atomBody))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	adapter := newTestAdapter(t, []string{srv.URL + "/rss.xml", srv.URL + "/atom.xml"}, srv.Client())

	win := connectors.Window{
		Start: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2025, 12, 31, 0, 0, 0, 0, time.UTC),
	}
	iter, err := adapter.ListFull(context.Background(), win)
	require.NoError(t, err)

	items, errs := drain(t, iter)
	require.Empty(t, errs)
	require.Len(t, items, 2, "the 2019 item falls outside the window")

	first := items[0]
	assert.Equal(t, "tag:blog.example.com,2025:indexer", first.SourceID)
	assert.Equal(t, "Shipping the indexer", first.Title)
	assert.Equal(t, "https://blog.example.com/indexer", first.URL)
	assert.Equal(t, time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC), first.ModifiedAt)

	md := adapter.FormatMarkdown(first)
	assert.Contains(t, md, "# Shipping the indexer")
	assert.Contains(t, md, "Feed: Engineering Blog")
	assert.Contains(t, md, "Author: Dana")
	assert.Contains(t, md, "We shipped the indexer today.")
	assert.Contains(t, md, "[Original](https://blog.example.com/indexer)")
	assert.NotContains(t, md, "<p>")

	second := items[1]
	assert.Equal(t, "urn:release:2.4.0", second.SourceID)
	assert.Equal(t, "https://releases.example.com/2.4.0", second.URL)
	assert.Contains(t, adapter.FormatMarkdown(second), "Adds delta sync support.")
}

func TestListFullSurvivesBrokenFeed(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/dead.xml", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	})
	mux.HandleFunc("/atom.xml", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(atomBody))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	adapter := newTestAdapter(t, []string{srv.URL + "/dead.xml", srv.URL + "/atom.xml"}, srv.Client())

	iter, err := adapter.ListFull(context.Background(), connectors.Window{
		Start: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2025, 12, 31, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	items, errs := drain(t, iter)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Error(), "/dead.xml")
	require.Len(t, items, 1, "healthy feed still yields")
}

func TestValidateRejectsNonFeed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><body>not a feed</body></html>`))
	}))
	defer srv.Close()

	adapter := newTestAdapter(t, []string{srv.URL}, srv.Client())
	err := adapter.Validate(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported feed root")
}

func TestNewRequiresFeeds(t *testing.T) {
	conn := &models.Connector{
		ConnectorType: models.ConnectorTypeRSS,
		Config:        models.JSONFrom(map[string]interface{}{}),
	}
	_, err := New(context.Background(), connectors.Deps{}, conn)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no feed urls")
}

func TestParseDate(t *testing.T) {
	assert.Equal(t, time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC), parseDate("Mon, 02 Jun 2025 09:00:00 GMT"))
	assert.Equal(t, time.Date(2025, 6, 3, 10, 0, 0, 0, time.UTC), parseDate("2025-06-03T10:00:00Z"))
	assert.True(t, parseDate("not a date").IsZero())
	assert.True(t, parseDate("").IsZero())
}
