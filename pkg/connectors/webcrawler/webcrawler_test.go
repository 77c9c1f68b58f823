package webcrawler

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

func newTestAdapter(t *testing.T, urls []string, depth int, client *http.Client) *Adapter {
	t.Helper()

	conn := &models.Connector{
		Name:          "docs crawl",
		ConnectorType: models.ConnectorTypeWebcrawler,
		Config: models.JSONFrom(map[string]interface{}{
			"urls":                urls,
			"max_depth":           depth,
			"requests_per_second": 1000,
		}),
	}
	adapter, err := New(context.Background(), connectors.Deps{HTTP: client}, conn)
	require.NoError(t, err)

	a := adapter.(*Adapter)
	a.now = func() time.Time { return time.Date(2025, 6, 10, 8, 0, 0, 0, time.UTC) }
	return a
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

func docsSite(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte(`<html><head><title>Project Docs</title></head><body>
			<nav><a href="/hidden">skip me</a></nav>
			<h1>Welcome</h1>
			<p>Read the <a href="/install">install guide</a> first.</p>
			<p>External: <a href="https://elsewhere.example.com/page">off-site</a></p>
			<ul><li>fast</li><li>small</li></ul>
		</body></html>`))
	})
	mux.HandleFunc("/install", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(`<html><head><title>Install</title></head><body>
			<h2>Install</h2>
			<pre>go install ./cmd/app</pre>
			<p>Then run it. Back to <a href="/">home</a>.</p>
		</body></html>`))
	})
	return httptest.NewServer(mux)
}

func TestListFullCrawlsSameHost(t *testing.T) {
	srv := docsSite(t)
	defer srv.Close()

	adapter := newTestAdapter(t, []string{srv.URL + "/"}, 1, srv.Client())

	iter, err := adapter.ListFull(context.Background(), connectors.Window{})
	require.NoError(t, err)

	items, errs := drain(t, iter)
	require.Empty(t, errs)
	require.Len(t, items, 2, "root plus the one same-host link inside the body")

	root := items[0]
	assert.Equal(t, srv.URL+"/", root.SourceID)
	assert.Equal(t, "Project Docs", root.Title)

	md := adapter.FormatMarkdown(root)
	assert.Contains(t, md, "# Project Docs")
	assert.Contains(t, md, "URL: "+srv.URL)
	assert.Contains(t, md, "Crawled: 2025-06-10T08:00:00Z")
	assert.Contains(t, md, "# Welcome")
	assert.Contains(t, md, "Read the install guide first.")
	assert.Contains(t, md, "- fast\n- small")
	assert.NotContains(t, md, "skip me", "nav content is dropped")

	assert.Contains(t, root.HashText, "Project Docs")
	assert.Contains(t, root.HashText, "Read the install guide first.")
	assert.NotContains(t, root.HashText, "Crawled:", "hash basis excludes crawl metadata")

	install := items[1]
	assert.Equal(t, srv.URL+"/install", install.SourceID)
	assert.Contains(t, adapter.FormatMarkdown(install), "```\ngo install ./cmd/app\n```")
}

func TestListFullDepthZeroStaysOnSeeds(t *testing.T) {
	srv := docsSite(t)
	defer srv.Close()

	adapter := newTestAdapter(t, []string{srv.URL + "/"}, 0, srv.Client())

	iter, err := adapter.ListFull(context.Background(), connectors.Window{})
	require.NoError(t, err)

	items, errs := drain(t, iter)
	require.Empty(t, errs)
	require.Len(t, items, 1)
}

func TestListFullReportsDeadPages(t *testing.T) {
	srv := docsSite(t)
	defer srv.Close()

	adapter := newTestAdapter(t, []string{srv.URL + "/missing", srv.URL + "/install"}, 0, srv.Client())

	iter, err := adapter.ListFull(context.Background(), connectors.Window{})
	require.NoError(t, err)

	items, errs := drain(t, iter)
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], connectors.ErrItemMalformed)
	require.Len(t, items, 1, "remaining seed still crawled")
	assert.Equal(t, "Install", items[0].Title)
}

func TestValidateRejectsNonHTML(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	adapter := newTestAdapter(t, []string{srv.URL}, 0, srv.Client())
	err := adapter.Validate(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not an html page")
}

func TestNewRequiresSeeds(t *testing.T) {
	conn := &models.Connector{
		ConnectorType: models.ConnectorTypeWebcrawler,
		Config:        models.JSONFrom(map[string]interface{}{}),
	}
	_, err := New(context.Background(), connectors.Deps{}, conn)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no seed urls")
}

func TestNormalizeURL(t *testing.T) {
	got, err := normalizeURL(" https://docs.example.com/page#section ")
	require.NoError(t, err)
	assert.Equal(t, "https://docs.example.com/page", got)

	_, err = normalizeURL("ftp://docs.example.com")
	require.Error(t, err)
}
