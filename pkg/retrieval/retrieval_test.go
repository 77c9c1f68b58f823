package retrieval

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/MODSetter/SurfSense-sub000/pkg/connectors"
	"github.com/MODSetter/SurfSense-sub000/pkg/database"
	"github.com/MODSetter/SurfSense-sub000/pkg/models"
)

// stubResult is one canned search response.
type stubResult struct {
	group   connectors.SourceGroup
	records []connectors.ChunkRecord
}

// searchStub is a searchable adapter returning canned results, optionally
// varying them per query.
type searchStub struct {
	typ     models.ConnectorType
	result  stubResult
	byQuery map[string]stubResult
	err     error

	mu      sync.Mutex
	queries []string
}

func (s *searchStub) Type() models.ConnectorType { return s.typ }

func (s *searchStub) Search(_ context.Context, query string, _ int, _ connectors.SearchMode) (connectors.SourceGroup, []connectors.ChunkRecord, error) {
	s.mu.Lock()
	s.queries = append(s.queries, query)
	s.mu.Unlock()

	if s.err != nil {
		return s.result.group, nil, s.err
	}
	if r, ok := s.byQuery[query]; ok {
		return r.group, r.records, nil
	}
	return s.result.group, s.result.records, nil
}

func (s *searchStub) seenQueries() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.queries))
	copy(out, s.queries)
	return out
}

// listOnlyStub has no search capability.
type listOnlyStub struct {
	typ models.ConnectorType
}

func (s *listOnlyStub) Type() models.ConnectorType { return s.typ }

type retrieverFixture struct {
	db       *gorm.DB
	registry *connectors.Registry
	space    *models.SearchSpace
}

func newRetrieverFixture(t *testing.T) *retrieverFixture {
	t.Helper()

	db, err := database.Connect(database.Config{Driver: "sqlite", Path: ":memory:"}, nil)
	require.NoError(t, err)
	require.NoError(t, database.AutoMigrate(db))

	space := &models.SearchSpace{Name: "space", UserID: "u1"}
	require.NoError(t, space.Create(db))

	return &retrieverFixture{db: db, registry: connectors.NewRegistry(), space: space}
}

// addConnector stores a connector row and registers the adapter that will be
// built for it.
func (f *retrieverFixture) addConnector(t *testing.T, typ models.ConnectorType, name string, adapter connectors.Adapter) *models.Connector {
	t.Helper()

	conn := &models.Connector{
		SearchSpaceID: f.space.ID,
		ConnectorType: typ,
		Name:          name,
		UserID:        "u1",
		IsIndexable:   true,
	}
	require.NoError(t, conn.Create(f.db))
	require.NoError(t, f.registry.Register(typ, func(context.Context, connectors.Deps, *models.Connector) (connectors.Adapter, error) {
		return adapter, nil
	}))
	return conn
}

func (f *retrieverFixture) seedDocument(t *testing.T, conn *models.Connector, title, content, hashSuffix string) *models.Document {
	t.Helper()

	doc := &models.Document{
		SearchSpaceID:        f.space.ID,
		ConnectorID:          conn.ID,
		ConnectorType:        conn.ConnectorType,
		UserID:               "u1",
		Title:                title,
		Content:              content,
		ContentHash:          "ch-" + hashSuffix,
		UniqueIdentifierHash: "uid-" + hashSuffix,
		SourceID:             "src-" + hashSuffix,
		Metadata:             models.JSONFrom(map[string]interface{}{"url": "https://example.com/" + hashSuffix}),
	}
	require.NoError(t, f.db.Create(doc).Error)
	return doc
}

func (f *retrieverFixture) retriever(t *testing.T, reranker Reranker) *Retriever {
	t.Helper()

	r, err := New(Config{
		DB:       f.db,
		Registry: f.registry,
		Deps:     connectors.Deps{DB: f.db},
		Reranker: reranker,
	})
	require.NoError(t, err)
	return r
}

func TestRetrieveFansOutAndMerges(t *testing.T) {
	f := newRetrieverFixture(t)
	slack := &searchStub{
		typ: models.ConnectorTypeSlack,
		result: stubResult{
			group: connectors.SourceGroup{ID: 1, Name: "Team Slack", Type: "SLACK_CONNECTOR",
				Sources: []connectors.Source{{ID: 10, Title: "thread"}}},
			records: []connectors.ChunkRecord{
				{ChunkID: 11, SourceID: 10, Content: "rollout starts monday", Score: 0.4},
			},
		},
	}
	notion := &searchStub{
		typ: models.ConnectorTypeNotion,
		result: stubResult{
			group: connectors.SourceGroup{ID: 2, Name: "Notion", Type: "NOTION_CONNECTOR",
				Sources: []connectors.Source{{ID: 20, Title: "plan"}}},
			records: []connectors.ChunkRecord{
				{ChunkID: 21, SourceID: 20, Content: "owner is platform team", Score: 0.9},
				{ChunkID: 22, SourceID: 20, Content: "deadline is july", Score: 0.6},
			},
		},
	}
	c1 := f.addConnector(t, models.ConnectorTypeSlack, "team slack", slack)
	c2 := f.addConnector(t, models.ConnectorTypeNotion, "notion wiki", notion)

	var mu sync.Mutex
	var lines []string
	emit := func(msg string) {
		mu.Lock()
		lines = append(lines, msg)
		mu.Unlock()
	}

	questions := []string{"What shipped?", "Who owns the rollout?"}
	res, err := f.retriever(t, nil).Retrieve(context.Background(), questions,
		[]uint{c1.ID, c2.ID}, Options{SpaceID: f.space.ID}, emit)
	require.NoError(t, err)

	assert.ElementsMatch(t, questions, slack.seenQueries(), "every question hits every connector")
	assert.ElementsMatch(t, questions, notion.seenQueries())

	require.Len(t, res.Groups, 2)
	assert.Equal(t, "Team Slack", res.Groups[0].Name)
	assert.Equal(t, "Notion", res.Groups[1].Name)

	// The same canned records arrive once per question; dedup collapses them.
	require.Len(t, res.Chunks, 3)
	assert.Equal(t, uint(21), res.Chunks[0].ChunkID, "chunks sort by connector score")
	assert.Equal(t, uint(22), res.Chunks[1].ChunkID)
	assert.Equal(t, uint(11), res.Chunks[2].ChunkID)

	assert.Contains(t, lines, "🔎 Searching team slack")
	assert.Contains(t, lines, "🔎 notion wiki: found 2 results")
}

func TestRetrieveGroupDedupMoreChunksWins(t *testing.T) {
	f := newRetrieverFixture(t)
	key := connectors.SourceGroup{ID: 1, Name: "Team Slack", Type: "SLACK_CONNECTOR"}

	thin := key
	thin.Sources = []connectors.Source{{ID: 10, Title: "only thread"}}
	rich := key
	rich.Sources = []connectors.Source{{ID: 10, Title: "only thread"}, {ID: 11, Title: "second thread"}}

	stub := &searchStub{
		typ: models.ConnectorTypeSlack,
		byQuery: map[string]stubResult{
			"q1": {group: thin, records: []connectors.ChunkRecord{{ChunkID: 1, Content: "a"}}},
			"q2": {group: rich, records: []connectors.ChunkRecord{
				{ChunkID: 2, Content: "b"}, {ChunkID: 3, Content: "c"}, {ChunkID: 4, Content: "d"},
			}},
		},
	}
	conn := f.addConnector(t, models.ConnectorTypeSlack, "team slack", stub)

	res, err := f.retriever(t, nil).Retrieve(context.Background(), []string{"q1", "q2"},
		[]uint{conn.ID}, Options{SpaceID: f.space.ID}, nil)
	require.NoError(t, err)

	require.Len(t, res.Groups, 1)
	assert.Len(t, res.Groups[0].Sources, 2, "richer duplicate replaces the incumbent")
	assert.Len(t, res.Chunks, 4)
}

func TestRetrieveGroupDedupTieKeepsIncumbent(t *testing.T) {
	f := newRetrieverFixture(t)
	key := connectors.SourceGroup{ID: 1, Name: "Team Slack", Type: "SLACK_CONNECTOR"}

	first := key
	first.Sources = []connectors.Source{{ID: 10, Title: "first"}}
	second := key
	second.Sources = []connectors.Source{{ID: 11, Title: "second"}}

	stub := &searchStub{
		typ: models.ConnectorTypeSlack,
		byQuery: map[string]stubResult{
			"q1": {group: first, records: []connectors.ChunkRecord{{ChunkID: 1, Content: "a"}, {ChunkID: 2, Content: "b"}}},
			"q2": {group: second, records: []connectors.ChunkRecord{{ChunkID: 3, Content: "c"}, {ChunkID: 4, Content: "d"}}},
		},
	}
	conn := f.addConnector(t, models.ConnectorTypeSlack, "team slack", stub)

	res, err := f.retriever(t, nil).Retrieve(context.Background(), []string{"q1", "q2"},
		[]uint{conn.ID}, Options{SpaceID: f.space.ID}, nil)
	require.NoError(t, err)

	require.Len(t, res.Groups, 1)
	require.Len(t, res.Groups[0].Sources, 1)
	assert.Equal(t, "first", res.Groups[0].Sources[0].Title, "equal chunk counts keep the earlier group")
}

func TestRetrieveSelectedDocumentsComeFirst(t *testing.T) {
	f := newRetrieverFixture(t)
	slack := &searchStub{
		typ: models.ConnectorTypeSlack,
		result: stubResult{
			group: connectors.SourceGroup{ID: 1, Name: "Team Slack", Type: "SLACK_CONNECTOR",
				Sources: []connectors.Source{{ID: 10, Title: "thread"}}},
			records: []connectors.ChunkRecord{{ChunkID: 11, SourceID: 10, Content: "live result", Score: 0.9}},
		},
	}
	searched := f.addConnector(t, models.ConnectorTypeSlack, "team slack", slack)

	// The pinned documents belong to a connector that is not being searched.
	owner := &models.Connector{
		SearchSpaceID: f.space.ID,
		ConnectorType: models.ConnectorTypeNotion,
		Name:          "notion wiki",
		UserID:        "u1",
		IsIndexable:   true,
	}
	require.NoError(t, owner.Create(f.db))
	doc1 := f.seedDocument(t, owner, "Q3 roadmap", "planning summary for q3", "1")
	doc2 := f.seedDocument(t, owner, "Launch notes", "launch retrospective notes", "2")

	res, err := f.retriever(t, nil).Retrieve(context.Background(), []string{"q"},
		[]uint{searched.ID}, Options{
			SpaceID:             f.space.ID,
			SelectedDocumentIDs: []uint{doc1.ID, doc2.ID},
		}, nil)
	require.NoError(t, err)

	require.Len(t, res.Groups, 2)
	assert.Equal(t, "NOTION_CONNECTOR", res.Groups[0].Type, "pinned documents lead the source list")
	require.Len(t, res.Groups[0].Sources, 2)
	assert.Equal(t, "Q3 roadmap", res.Groups[0].Sources[0].Title)
	assert.Equal(t, "https://example.com/1", res.Groups[0].Sources[0].URL)
	assert.Equal(t, "SLACK_CONNECTOR", res.Groups[1].Type)

	require.Len(t, res.Chunks, 3)
	assert.Equal(t, "live result", res.Chunks[0].Content, "live chunk outscores the document pseudo-score")
	assert.Equal(t, connectors.DocumentScore, res.Chunks[1].Score)
	assert.Zero(t, res.Chunks[1].ChunkID, "document records carry no chunk id")
}

func TestRetrieveChunkDedup(t *testing.T) {
	f := newRetrieverFixture(t)
	slack := &searchStub{
		typ: models.ConnectorTypeSlack,
		result: stubResult{
			group: connectors.SourceGroup{ID: 1, Name: "Team Slack", Type: "SLACK_CONNECTOR"},
			records: []connectors.ChunkRecord{
				{ChunkID: 5, Content: "shared text", Score: 0.8},
				{ChunkID: 7, Content: "slack only", Score: 0.5},
			},
		},
	}
	notion := &searchStub{
		typ: models.ConnectorTypeNotion,
		result: stubResult{
			group: connectors.SourceGroup{ID: 2, Name: "Notion", Type: "NOTION_CONNECTOR"},
			records: []connectors.ChunkRecord{
				{ChunkID: 5, Content: "same id elsewhere", Score: 0.7},
				{Content: "shared text", Score: 0.6},
				{Content: "notion only", Score: 0.4},
			},
		},
	}
	c1 := f.addConnector(t, models.ConnectorTypeSlack, "team slack", slack)
	c2 := f.addConnector(t, models.ConnectorTypeNotion, "notion wiki", notion)

	res, err := f.retriever(t, nil).Retrieve(context.Background(), []string{"q"},
		[]uint{c1.ID, c2.ID}, Options{SpaceID: f.space.ID}, nil)
	require.NoError(t, err)

	contents := make([]string, 0, len(res.Chunks))
	for _, c := range res.Chunks {
		contents = append(contents, c.Content)
	}
	assert.ElementsMatch(t, []string{"shared text", "slack only", "notion only"}, contents,
		"chunk ids dedup across connectors, content hashes catch id-less repeats")
}

func TestRetrieveConnectorFailureDegrades(t *testing.T) {
	f := newRetrieverFixture(t)
	slack := &searchStub{typ: models.ConnectorTypeSlack, err: errors.New("slack api 500")}
	notion := &searchStub{
		typ: models.ConnectorTypeNotion,
		result: stubResult{
			group:   connectors.SourceGroup{ID: 2, Name: "Notion", Type: "NOTION_CONNECTOR"},
			records: []connectors.ChunkRecord{{ChunkID: 21, Content: "still here", Score: 0.9}},
		},
	}
	c1 := f.addConnector(t, models.ConnectorTypeSlack, "team slack", slack)
	c2 := f.addConnector(t, models.ConnectorTypeNotion, "notion wiki", notion)

	var mu sync.Mutex
	var lines []string
	emit := func(msg string) {
		mu.Lock()
		lines = append(lines, msg)
		mu.Unlock()
	}

	res, err := f.retriever(t, nil).Retrieve(context.Background(), []string{"q"},
		[]uint{c1.ID, c2.ID}, Options{SpaceID: f.space.ID}, emit)
	require.NoError(t, err, "one broken connector never fails the whole retrieval")

	require.Len(t, res.Chunks, 1)
	assert.Equal(t, "still here", res.Chunks[0].Content)
	assert.Contains(t, lines, "⚠️ team slack search failed: slack api 500")
}

func TestRetrieveSkipsNonSearchableConnector(t *testing.T) {
	f := newRetrieverFixture(t)
	conn := f.addConnector(t, models.ConnectorTypeRSS, "feeds", &listOnlyStub{typ: models.ConnectorTypeRSS})

	var mu sync.Mutex
	var lines []string
	emit := func(msg string) {
		mu.Lock()
		lines = append(lines, msg)
		mu.Unlock()
	}

	res, err := f.retriever(t, nil).Retrieve(context.Background(), []string{"q"},
		[]uint{conn.ID}, Options{SpaceID: f.space.ID}, emit)
	require.NoError(t, err)
	assert.Empty(t, res.Groups)
	assert.Empty(t, res.Chunks)
	assert.Contains(t, lines, "⚠️ feeds does not support search")
}

// flipReranker reverses the input so tests can tell it ran.
type flipReranker struct {
	err error

	mu        sync.Mutex
	lastQuery string
}

func (r *flipReranker) Rerank(_ context.Context, query string, records []connectors.ChunkRecord) ([]connectors.ChunkRecord, error) {
	r.mu.Lock()
	r.lastQuery = query
	r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	out := make([]connectors.ChunkRecord, 0, len(records))
	for i := len(records) - 1; i >= 0; i-- {
		out = append(out, records[i])
	}
	return out, nil
}

func TestRetrieveUsesConfiguredReranker(t *testing.T) {
	f := newRetrieverFixture(t)
	stub := &searchStub{
		typ: models.ConnectorTypeSlack,
		result: stubResult{
			group: connectors.SourceGroup{ID: 1, Name: "Team Slack", Type: "SLACK_CONNECTOR"},
			records: []connectors.ChunkRecord{
				{ChunkID: 1, Content: "first", Score: 0.9},
				{ChunkID: 2, Content: "second", Score: 0.1},
			},
		},
	}
	conn := f.addConnector(t, models.ConnectorTypeSlack, "team slack", stub)

	reranker := &flipReranker{}
	res, err := f.retriever(t, reranker).Retrieve(context.Background(), []string{"q"},
		[]uint{conn.ID}, Options{
			SpaceID:           f.space.ID,
			UserQuery:         "what shipped",
			ReformulatedQuery: "what shipped in the june release",
		}, nil)
	require.NoError(t, err)

	assert.Equal(t, "what shipped what shipped in the june release", reranker.lastQuery)
	require.Len(t, res.Chunks, 2)
	assert.Equal(t, uint(2), res.Chunks[0].ChunkID, "reranker output replaces score order")
}

func TestRetrieveRerankerFailureFallsBackToScores(t *testing.T) {
	f := newRetrieverFixture(t)
	stub := &searchStub{
		typ: models.ConnectorTypeSlack,
		result: stubResult{
			group: connectors.SourceGroup{ID: 1, Name: "Team Slack", Type: "SLACK_CONNECTOR"},
			records: []connectors.ChunkRecord{
				{ChunkID: 1, Content: "low", Score: 0.2},
				{ChunkID: 2, Content: "high", Score: 0.8},
			},
		},
	}
	conn := f.addConnector(t, models.ConnectorTypeSlack, "team slack", stub)

	var mu sync.Mutex
	var lines []string
	emit := func(msg string) {
		mu.Lock()
		lines = append(lines, msg)
		mu.Unlock()
	}

	reranker := &flipReranker{err: errors.New("model unavailable")}
	res, err := f.retriever(t, reranker).Retrieve(context.Background(), []string{"q"},
		[]uint{conn.ID}, Options{SpaceID: f.space.ID, UserQuery: "q"}, emit)
	require.NoError(t, err)

	require.Len(t, res.Chunks, 2)
	assert.Equal(t, uint(2), res.Chunks[0].ChunkID, "score order survives a broken reranker")
	assert.Contains(t, lines, "⚠️ Reranking failed, using original result order")
}
