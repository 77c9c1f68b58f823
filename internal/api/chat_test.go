package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/MODSetter/SurfSense-sub000/internal/server"
	"github.com/MODSetter/SurfSense-sub000/pkg/connectors"
	"github.com/MODSetter/SurfSense-sub000/pkg/database"
	"github.com/MODSetter/SurfSense-sub000/pkg/models"
	"github.com/MODSetter/SurfSense-sub000/pkg/research"
)

// fakeAgent streams a scripted run.
type fakeAgent struct {
	events  []research.Event
	outcome research.Outcome
	err     error

	gotReq research.Request
}

func (f *fakeAgent) Run(ctx context.Context, req research.Request, events chan<- research.Event) (*research.Outcome, error) {
	f.gotReq = req
	for _, ev := range f.events {
		select {
		case events <- ev:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return &f.outcome, nil
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := database.Connect(database.Config{Driver: "sqlite", Path: ":memory:"}, nil)
	require.NoError(t, err)
	require.NoError(t, database.AutoMigrate(db))
	return db
}

func seedSpace(t *testing.T, db *gorm.DB) (*models.SearchSpace, *models.Connector) {
	t.Helper()
	space := &models.SearchSpace{Name: "space", UserID: "u1"}
	require.NoError(t, space.Create(db))
	conn := &models.Connector{
		SearchSpaceID: space.ID,
		ConnectorType: models.ConnectorTypeSlack,
		Name:          "team slack",
		UserID:        "u1",
		IsIndexable:   true,
	}
	require.NoError(t, conn.Create(db))
	return space, conn
}

func chatBody(t *testing.T, spaceID interface{}, mode string, connectors []string) []byte {
	t.Helper()
	body, err := json.Marshal(map[string]interface{}{
		"messages": []map[string]string{
			{"role": "user", "content": "what changed last week?"},
		},
		"data": map[string]interface{}{
			"search_space_id":     spaceID,
			"research_mode":       mode,
			"selected_connectors": connectors,
		},
	})
	require.NoError(t, err)
	return body
}

func TestChatHandlerStreamsEvents(t *testing.T) {
	db := newTestDB(t)
	space, conn := seedSpace(t, db)

	agent := &fakeAgent{
		events: []research.Event{
			research.TerminalInfo{Text: "🔎 Searching"},
			research.Sources{Groups: []connectors.SourceGroup{{ID: 1, Name: "Slack", Type: "SLACK_CONNECTOR"}}},
			research.TextChunk{Text: "The answer"},
			research.FurtherQuestions{Questions: []research.FollowUp{{ID: 1, Question: "More?"}}},
		},
		outcome: research.Outcome{
			ReformulatedQuery: "what changed last week?",
			Answer:            "The answer",
		},
	}
	srv := server.Server{DB: db, Agent: agent, Logger: hclog.NewNullLogger()}

	// Stringified space id plus a connector name that needs sanitizing.
	body := chatBody(t, "1", "QNA", []string{"SLACK_CONNECTOR!!"})
	req := httptest.NewRequest(http.MethodPost, "/chat", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	ChatHandler(srv).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/x-ndjson", rec.Header().Get("Content-Type"))

	var kinds []string
	sc := bufio.NewScanner(rec.Body)
	for sc.Scan() {
		var line struct {
			Type string `json:"type"`
		}
		require.NoError(t, json.Unmarshal(sc.Bytes(), &line))
		kinds = append(kinds, line.Type)
	}
	assert.Equal(t, []string{
		"terminal_info_delta", "sources_delta", "text_chunk", "further_questions_delta",
	}, kinds)

	assert.Equal(t, space.ID, agent.gotReq.SpaceID)
	assert.Equal(t, []uint{conn.ID}, agent.gotReq.ConnectorIDs)
	assert.Equal(t, connectors.SearchModeChunks, agent.gotReq.SearchMode)

	// The turn is persisted: one thread, user question plus cited answer.
	threads, err := models.GetChatThreadsBySpace(db, space.ID, 0, 10)
	require.NoError(t, err)
	require.Len(t, threads, 1)
	thread, err := models.GetChatThread(db, threads[0].ID)
	require.NoError(t, err)
	require.Len(t, thread.Messages, 2)
	assert.Equal(t, "user", thread.Messages[0].Role)
	assert.Equal(t, "assistant", thread.Messages[1].Role)
	assert.Equal(t, "The answer", thread.Messages[1].Content)
	assert.NotEmpty(t, thread.Messages[1].Trace)
}

func TestChatHandlerValidation(t *testing.T) {
	db := newTestDB(t)
	seedSpace(t, db)
	srv := server.Server{DB: db, Agent: &fakeAgent{}, Logger: hclog.NewNullLogger()}

	tests := []struct {
		name string
		body map[string]interface{}
	}{
		{
			name: "no messages",
			body: map[string]interface{}{
				"messages": []map[string]string{},
				"data":     map[string]interface{}{"search_space_id": 1, "research_mode": "QNA"},
			},
		},
		{
			name: "last message not from the user",
			body: map[string]interface{}{
				"messages": []map[string]string{
					{"role": "user", "content": "hi"},
					{"role": "assistant", "content": "hello"},
				},
				"data": map[string]interface{}{"search_space_id": 1, "research_mode": "QNA"},
			},
		},
		{
			name: "oversized message content",
			body: map[string]interface{}{
				"messages": []map[string]string{
					{"role": "user", "content": strings.Repeat("x", maxMessageContent+1)},
				},
				"data": map[string]interface{}{"search_space_id": 1, "research_mode": "QNA"},
			},
		},
		{
			name: "unknown research mode",
			body: map[string]interface{}{
				"messages": []map[string]string{{"role": "user", "content": "hi"}},
				"data":     map[string]interface{}{"search_space_id": 1, "research_mode": "PSYCHIC"},
			},
		},
		{
			name: "missing search space",
			body: map[string]interface{}{
				"messages": []map[string]string{{"role": "user", "content": "hi"}},
				"data":     map[string]interface{}{"research_mode": "QNA"},
			},
		},
		{
			name: "unknown connector",
			body: map[string]interface{}{
				"messages": []map[string]string{{"role": "user", "content": "hi"}},
				"data": map[string]interface{}{
					"search_space_id":     1,
					"research_mode":       "QNA",
					"selected_connectors": []string{"NOTION_CONNECTOR"},
				},
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body, err := json.Marshal(tt.body)
			require.NoError(t, err)
			req := httptest.NewRequest(http.MethodPost, "/chat", bytes.NewReader(body))
			rec := httptest.NewRecorder()
			ChatHandler(srv).ServeHTTP(rec, req)
			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
		})
	}
}

func TestChatHandlerMethodNotAllowed(t *testing.T) {
	srv := server.Server{Logger: hclog.NewNullLogger()}
	req := httptest.NewRequest(http.MethodGet, "/chat", nil)
	rec := httptest.NewRecorder()
	ChatHandler(srv).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestResolveConnectorsByID(t *testing.T) {
	db := newTestDB(t)
	_, conn := seedSpace(t, db)
	srv := server.Server{DB: db, Logger: hclog.NewNullLogger()}

	ids, err := resolveConnectors(srv, conn.SearchSpaceID, []string{"1"})
	require.NoError(t, err)
	assert.Equal(t, []uint{conn.ID}, ids)

	_, err = resolveConnectors(srv, conn.SearchSpaceID, []string{"999"})
	assert.Error(t, err)
}

func TestThreadsHandlerPagination(t *testing.T) {
	db := newTestDB(t)
	space, _ := seedSpace(t, db)
	require.NoError(t, db.Create(&models.ChatThread{
		SearchSpaceID: space.ID, UserID: "u1", Title: "t",
	}).Error)
	srv := server.Server{DB: db, Logger: hclog.NewNullLogger()}

	get := func(query string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/chats"+query, nil)
		rec := httptest.NewRecorder()
		ThreadsHandler(srv).ServeHTTP(rec, req)
		return rec
	}

	rec := get("?search_space_id=1&skip=0&limit=10")
	require.Equal(t, http.StatusOK, rec.Code)
	var threads []models.ChatThread
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &threads))
	assert.Len(t, threads, 1)

	assert.Equal(t, http.StatusBadRequest, get("?skip=0&limit=10").Code)
	assert.Equal(t, http.StatusBadRequest, get("?search_space_id=1&skip=-1").Code)
	assert.Equal(t, http.StatusBadRequest, get("?search_space_id=1&limit=0").Code)
	assert.Equal(t, http.StatusBadRequest, get("?search_space_id=1&limit=1001").Code)
}
