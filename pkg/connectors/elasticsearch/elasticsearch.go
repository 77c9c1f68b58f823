// Package elasticsearch serves retrieval queries against a remote
// Elasticsearch cluster. The connector is search-only: the cluster's
// documents are never copied into the document store, so the adapter
// implements no listing capabilities and the indexer refuses to run it.
package elasticsearch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"net/http"
	"net/url"
	"strings"

	"github.com/hashicorp/go-hclog"

	"github.com/MODSetter/SurfSense-sub000/pkg/connectors"
	"github.com/MODSetter/SurfSense-sub000/pkg/models"
)

// Remote hit ids are folded into the citation id space above bit 30 so they
// stay clear of database document ids.
const remoteIDBase = 1 << 30

// Config is the connector config the adapter decodes.
type Config struct {
	Endpoint     string `mapstructure:"endpoint"`
	Index        string `mapstructure:"index"`
	APIKey       string `mapstructure:"api_key"`
	Username     string `mapstructure:"username"`
	Password     string `mapstructure:"password"`
	TitleField   string `mapstructure:"title_field"`
	ContentField string `mapstructure:"content_field"`
	URLField     string `mapstructure:"url_field"`
}

func (c *Config) applyDefaults() {
	if c.TitleField == "" {
		c.TitleField = "title"
	}
	if c.ContentField == "" {
		c.ContentField = "content"
	}
	if c.URLField == "" {
		c.URLField = "url"
	}
}

// Adapter queries one index of a remote cluster.
type Adapter struct {
	cfg    Config
	conn   *models.Connector
	http   *http.Client
	logger hclog.Logger
}

// New builds the adapter from a stored connector row.
func New(ctx context.Context, deps connectors.Deps, conn *models.Connector) (connectors.Adapter, error) {
	var cfg Config
	if err := connectors.DecodeConfig(deps.Secrets, conn, &cfg); err != nil {
		return nil, err
	}
	if cfg.Endpoint == "" || cfg.Index == "" {
		return nil, fmt.Errorf("%w: elasticsearch connector needs endpoint and index", connectors.ErrMissingCredentials)
	}
	if _, err := url.Parse(cfg.Endpoint); err != nil {
		return nil, fmt.Errorf("elasticsearch endpoint: %w", err)
	}
	cfg.applyDefaults()

	return &Adapter{
		cfg:    cfg,
		conn:   conn,
		http:   deps.HTTPClient(),
		logger: deps.Log().Named("elasticsearch"),
	}, nil
}

// Type implements connectors.Adapter.
func (a *Adapter) Type() models.ConnectorType {
	return models.ConnectorTypeElasticsearch
}

// Validate fetches the cluster info document.
func (a *Adapter) Validate(ctx context.Context) error {
	var info struct {
		ClusterName string `json:"cluster_name"`
		Version     struct {
			Number string `json:"number"`
		} `json:"version"`
	}
	if err := a.call(ctx, http.MethodGet, "/", nil, &info); err != nil {
		return err
	}
	if info.Version.Number == "" {
		return fmt.Errorf("endpoint %s does not look like an elasticsearch cluster", a.cfg.Endpoint)
	}
	a.logger.Debug("validated cluster", "cluster", info.ClusterName, "version", info.Version.Number)
	return nil
}

type searchResponse struct {
	Hits struct {
		MaxScore float64 `json:"max_score"`
		Hits     []struct {
			ID     string                 `json:"_id"`
			Score  float64                `json:"_score"`
			Source map[string]interface{} `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
}

// Search runs a multi_match query against the configured index. Scores are
// normalized by the response's max_score so they land in the same 0..1
// band the vector-backed connectors report.
func (a *Adapter) Search(ctx context.Context, query string, topK int, mode connectors.SearchMode) (connectors.SourceGroup, []connectors.ChunkRecord, error) {
	group := connectors.SourceGroup{
		ID:   int(a.conn.ID),
		Name: a.conn.ConnectorType.DisplayName(),
		Type: string(models.ConnectorTypeElasticsearch),
	}
	if topK <= 0 {
		topK = 10
	}

	body := map[string]interface{}{
		"size": topK,
		"query": map[string]interface{}{
			"multi_match": map[string]interface{}{
				"query":  query,
				"fields": []string{a.cfg.TitleField + "^2", a.cfg.ContentField},
			},
		},
	}

	var resp searchResponse
	path := "/" + url.PathEscape(a.cfg.Index) + "/_search"
	if err := a.call(ctx, http.MethodPost, path, body, &resp); err != nil {
		return group, nil, fmt.Errorf("elasticsearch search: %w", err)
	}

	var records []connectors.ChunkRecord
	for _, hit := range resp.Hits.Hits {
		title := stringField(hit.Source, a.cfg.TitleField)
		content := stringField(hit.Source, a.cfg.ContentField)
		if title == "" {
			title = hit.ID
		}

		sourceID := remoteSourceID(a.conn.ID, hit.ID)
		group.Sources = append(group.Sources, connectors.Source{
			ID:          sourceID,
			Title:       title,
			Description: connectors.Truncate(content, 120),
			URL:         stringField(hit.Source, a.cfg.URLField),
		})

		score := connectors.DocumentScore
		if mode == connectors.SearchModeChunks && resp.Hits.MaxScore > 0 {
			score = hit.Score / resp.Hits.MaxScore
		}
		records = append(records, connectors.ChunkRecord{
			SourceID: sourceID,
			Content:  content,
			Score:    score,
		})
	}
	return group, records, nil
}

// remoteSourceID derives a stable citation id for a hit that has no
// database row.
func remoteSourceID(connectorID uint, hitID string) int {
	h := fnv.New32a()
	fmt.Fprintf(h, "%d:%s", connectorID, hitID)
	return int(h.Sum32()&(remoteIDBase-1)) | remoteIDBase
}

func stringField(source map[string]interface{}, field string) string {
	if source == nil {
		return ""
	}
	if s, ok := source[field].(string); ok {
		return s
	}
	return ""
}

func (a *Adapter) call(ctx context.Context, method, path string, body, out interface{}) error {
	endpoint := strings.TrimRight(a.cfg.Endpoint, "/") + path

	return connectors.Do(ctx, connectors.RetryPolicy{}, func() error {
		var payload *bytes.Reader
		if body != nil {
			raw, err := json.Marshal(body)
			if err != nil {
				return err
			}
			payload = bytes.NewReader(raw)
		} else {
			payload = bytes.NewReader(nil)
		}

		req, err := http.NewRequestWithContext(ctx, method, endpoint, payload)
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		switch {
		case a.cfg.APIKey != "":
			req.Header.Set("Authorization", "ApiKey "+a.cfg.APIKey)
		case a.cfg.Username != "":
			req.SetBasicAuth(a.cfg.Username, a.cfg.Password)
		}

		resp, err := a.http.Do(req)
		if err != nil {
			return connectors.ClassifyTransport(ctx, err)
		}
		defer resp.Body.Close()

		if err := connectors.CheckResponse(resp); err != nil {
			return err
		}
		return json.NewDecoder(resp.Body).Decode(out)
	})
}
