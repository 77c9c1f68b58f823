package research

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/MODSetter/SurfSense-sub000/pkg/connectors"
	"github.com/MODSetter/SurfSense-sub000/pkg/database"
	"github.com/MODSetter/SurfSense-sub000/pkg/llm"
	"github.com/MODSetter/SurfSense-sub000/pkg/models"
	"github.com/MODSetter/SurfSense-sub000/pkg/retrieval"
)

// scriptClient pops canned responses in call order, recording every request.
// CompleteStream delivers its response in two deltas.
type scriptClient struct {
	mu        sync.Mutex
	responses []string
	requests  []llm.Request
}

func (c *scriptClient) next(req llm.Request) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requests = append(c.requests, req)
	if len(c.responses) == 0 {
		return "", fmt.Errorf("script exhausted after %d calls", len(c.requests)-1)
	}
	resp := c.responses[0]
	c.responses = c.responses[1:]
	return resp, nil
}

func (c *scriptClient) Complete(_ context.Context, req llm.Request) (string, error) {
	return c.next(req)
}

func (c *scriptClient) CompleteStream(_ context.Context, req llm.Request, fn llm.StreamFunc) (string, error) {
	resp, err := c.next(req)
	if err != nil {
		return "", err
	}
	runes := []rune(resp)
	half := len(runes) / 2
	for _, delta := range []string{string(runes[:half]), string(runes[half:])} {
		if delta == "" {
			continue
		}
		if err := fn(delta); err != nil {
			return "", err
		}
	}
	return resp, nil
}

func (c *scriptClient) Model() string { return "script" }

// clientMap routes stored configs to scripted clients by config id.
type clientMap map[uint]llm.Client

func (m clientMap) ClientFor(_ context.Context, cfg *models.LLMConfig) (llm.Client, error) {
	c, ok := m[cfg.ID]
	if !ok {
		return nil, fmt.Errorf("no client scripted for config %d", cfg.ID)
	}
	return c, nil
}

// scriptSearcher is a searchable adapter with one canned result set.
type scriptSearcher struct {
	typ     models.ConnectorType
	group   connectors.SourceGroup
	records []connectors.ChunkRecord

	mu      sync.Mutex
	queries []string
}

func (s *scriptSearcher) Type() models.ConnectorType { return s.typ }

func (s *scriptSearcher) Search(_ context.Context, query string, _ int, _ connectors.SearchMode) (connectors.SourceGroup, []connectors.ChunkRecord, error) {
	s.mu.Lock()
	s.queries = append(s.queries, query)
	s.mu.Unlock()
	return s.group, s.records, nil
}

func (s *scriptSearcher) seenQueries() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.queries))
	copy(out, s.queries)
	return out
}

type agentFixture struct {
	db           *gorm.DB
	space        *models.SearchSpace
	conn         *models.Connector
	searcher     *scriptSearcher
	fast         *scriptClient
	strategic    *scriptClient
	fastCfg      *models.LLMConfig
	strategicCfg *models.LLMConfig
	agent        *Agent
}

func newAgentFixture(t *testing.T) *agentFixture {
	t.Helper()

	db, err := database.Connect(database.Config{Driver: "sqlite", Path: ":memory:"}, nil)
	require.NoError(t, err)
	require.NoError(t, database.AutoMigrate(db))

	space := &models.SearchSpace{Name: "space", UserID: "u1", CitationsEnabled: true}
	require.NoError(t, space.Create(db))

	fastCfg := &models.LLMConfig{SearchSpaceID: space.ID, Provider: models.ProviderOpenAI, ModelName: "small-1"}
	require.NoError(t, fastCfg.Create(db))
	strategicCfg := &models.LLMConfig{SearchSpaceID: space.ID, Provider: models.ProviderOpenAI, ModelName: "large-1"}
	require.NoError(t, strategicCfg.Create(db))

	space.FastLLMID = &fastCfg.ID
	space.StrategicLLMID = &strategicCfg.ID
	require.NoError(t, db.Save(space).Error)

	searcher := &scriptSearcher{
		typ: models.ConnectorTypeSlack,
		group: connectors.SourceGroup{
			ID: 1, Name: "Team Slack", Type: "SLACK_CONNECTOR",
			Sources: []connectors.Source{{ID: 12, Title: "deploy thread", URL: "https://slack.example/p12"}},
		},
		records: []connectors.ChunkRecord{
			{ChunkID: 31, SourceID: 12, Content: "The rollout finished on Friday evening.", Score: 0.9},
		},
	}

	registry := connectors.NewRegistry()
	require.NoError(t, registry.Register(models.ConnectorTypeSlack,
		func(context.Context, connectors.Deps, *models.Connector) (connectors.Adapter, error) {
			return searcher, nil
		}))

	conn := &models.Connector{
		SearchSpaceID: space.ID,
		ConnectorType: models.ConnectorTypeSlack,
		Name:          "team slack",
		UserID:        "u1",
		IsIndexable:   true,
	}
	require.NoError(t, conn.Create(db))

	retriever, err := retrieval.New(retrieval.Config{
		DB:       db,
		Registry: registry,
		Deps:     connectors.Deps{DB: db},
	})
	require.NoError(t, err)

	fast := &scriptClient{}
	strategic := &scriptClient{}
	agent, err := New(Config{
		DB:        db,
		Retriever: retriever,
		Clients:   clientMap{fastCfg.ID: fast, strategicCfg.ID: strategic},
	})
	require.NoError(t, err)

	return &agentFixture{
		db:           db,
		space:        space,
		conn:         conn,
		searcher:     searcher,
		fast:         fast,
		strategic:    strategic,
		fastCfg:      fastCfg,
		strategicCfg: strategicCfg,
		agent:        agent,
	}
}

func (f *agentFixture) request(mode Mode, query string) Request {
	return Request{
		SpaceID:      f.space.ID,
		UserID:       "u1",
		Query:        query,
		Mode:         mode,
		ConnectorIDs: []uint{f.conn.ID},
	}
}

// runAgent executes a run against a buffered channel and returns the drained
// events. Runs stay under the buffer size, so no reader goroutine is needed.
func runAgent(t *testing.T, a *Agent, req Request) (*Outcome, []Event, error) {
	t.Helper()

	events := make(chan Event, 256)
	out, err := a.Run(context.Background(), req, events)
	close(events)

	var got []Event
	for e := range events {
		got = append(got, e)
	}
	return out, got, err
}

func streamedText(events []Event) string {
	var b strings.Builder
	for _, e := range events {
		if tc, ok := e.(TextChunk); ok {
			b.WriteString(tc.Text)
		}
	}
	return b.String()
}

func terminalLines(events []Event) []string {
	var out []string
	for _, e := range events {
		if ti, ok := e.(TerminalInfo); ok {
			out = append(out, ti.Text)
		}
	}
	return out
}

func errorEvents(events []Event) []Error {
	var out []Error
	for _, e := range events {
		if ee, ok := e.(Error); ok {
			out = append(out, ee)
		}
	}
	return out
}

func kindCount(events []Event, kind Kind) int {
	n := 0
	for _, e := range events {
		if e.Kind() == kind {
			n++
		}
	}
	return n
}

func firstIndex(events []Event, kind Kind) int {
	for i, e := range events {
		if e.Kind() == kind {
			return i
		}
	}
	return -1
}

func TestRunQnAStreamsAnswer(t *testing.T) {
	f := newAgentFixture(t)
	f.strategic.responses = []string{"The rollout finished on Friday [citation:12]."}
	f.fast.responses = []string{`{"further_questions": [{"id": 1, "question": "What broke during the rollout?"}]}`}

	out, events, err := runAgent(t, f.agent, f.request(ModeQNA, "When did the rollout finish?"))
	require.NoError(t, err)

	assert.Equal(t, "The rollout finished on Friday [citation:12].", out.Answer)
	assert.Equal(t, "When did the rollout finish?", out.ReformulatedQuery,
		"no history means no rewrite")
	require.Len(t, out.Groups, 1)
	assert.Equal(t, "Team Slack", out.Groups[0].Name)
	require.Len(t, out.FurtherQuestions, 1)
	assert.Equal(t, "What broke during the rollout?", out.FurtherQuestions[0].Question)

	// Streamed text reassembles to the stored answer, sources precede text,
	// and exactly one further-questions event closes the run.
	assert.Equal(t, out.Answer, streamedText(events))
	assert.Less(t, firstIndex(events, KindSources), firstIndex(events, KindTextChunk))
	assert.Equal(t, 1, kindCount(events, KindFurtherQuestions))
	assert.Equal(t, KindFurtherQuestions, events[len(events)-1].Kind())
	assert.Empty(t, errorEvents(events))

	lines := terminalLines(events)
	assert.Contains(t, lines, "🔎 Searching team slack")
	assert.Contains(t, lines, "✍️ Writing the answer")

	// The fast model is only consulted for follow-ups on a history-free turn.
	require.Len(t, f.fast.requests, 1)
	assert.True(t, f.fast.requests[0].ForceJSON)

	require.Len(t, f.strategic.requests, 1)
	msgs := f.strategic.requests[0].Messages
	require.Len(t, msgs, 2)
	assert.Equal(t, llm.RoleSystem, msgs[0].Role)
	assert.Contains(t, msgs[0].Content, "[citation:<source_id>]")
	assert.Equal(t, llm.RoleUser, msgs[1].Role)
	assert.Contains(t, msgs[1].Content, "<source_id>12</source_id>")
	assert.Contains(t, msgs[1].Content, "The rollout finished on Friday evening.")
	assert.Contains(t, msgs[1].Content, "When did the rollout finish?")
}

func TestRunQnAWithoutDocuments(t *testing.T) {
	f := newAgentFixture(t)
	f.searcher.group = connectors.SourceGroup{ID: 1, Name: "Team Slack", Type: "SLACK_CONNECTOR"}
	f.searcher.records = nil
	f.strategic.responses = []string{"Nothing in the knowledge base covers this."}
	f.fast.responses = []string{`{"further_questions": []}`}

	out, _, err := runAgent(t, f.agent, f.request(ModeQNA, "Who won the 1998 world cup?"))
	require.NoError(t, err)
	assert.Equal(t, "Nothing in the knowledge base covers this.", out.Answer)

	sys := f.strategic.requests[0].Messages[0].Content
	assert.Contains(t, sys, "No documents matched this question")
	assert.Contains(t, sys, "Do not add citation markers")
	assert.NotContains(t, sys, "[citation:")

	user := f.strategic.requests[0].Messages[1].Content
	assert.NotContains(t, user, "<documents>")
}

func TestRunReformulatesWithHistory(t *testing.T) {
	f := newAgentFixture(t)
	f.fast.responses = []string{
		"rollout completion date",
		`{"further_questions": []}`,
	}
	f.strategic.responses = []string{"It finished on Friday [citation:12]."}

	req := f.request(ModeQNA, "when did it finish?")
	req.History = []llm.Message{
		{Role: llm.RoleUser, Content: "Tell me about the rollout"},
		{Role: llm.RoleAssistant, Content: "The rollout shipped the new ingestion path."},
	}

	out, events, err := runAgent(t, f.agent, req)
	require.NoError(t, err)
	assert.Equal(t, "rollout completion date", out.ReformulatedQuery)
	assert.Contains(t, terminalLines(events), "🔍 Rewriting the question against the conversation")

	// Both query forms fan out when the rewrite differs from the original.
	assert.ElementsMatch(t, []string{"rollout completion date", "when did it finish?"},
		f.searcher.seenQueries())

	require.GreaterOrEqual(t, len(f.fast.requests), 2)
	rewrite := f.fast.requests[0].Messages
	assert.Equal(t, reformulatePrompt, rewrite[0].Content)
	assert.Contains(t, rewrite[1].Content, "Tell me about the rollout")
	assert.Contains(t, rewrite[1].Content, "Question: when did it finish?")

	// History rides along as chat messages for the answering model.
	msgs := f.strategic.requests[0].Messages
	require.Len(t, msgs, 4)
	assert.Equal(t, llm.RoleAssistant, msgs[2].Role)
}

func TestRunGeneralModeWritesOutlineAndSection(t *testing.T) {
	f := newAgentFixture(t)
	f.strategic.responses = []string{
		`{"answer_outline": [{"section_id": 1, "section_title": "Rollout timeline",
			"questions": ["when did the rollout start", "when did the rollout finish"]}]}`,
		"## Rollout timeline\n\nIt started Monday and finished Friday [citation:12].",
	}
	f.fast.responses = []string{`{"further_questions": []}`}

	out, events, err := runAgent(t, f.agent, f.request(ModeGeneral, "How did the rollout go?"))
	require.NoError(t, err)
	assert.Equal(t, "## Rollout timeline\n\nIt started Monday and finished Friday [citation:12].", out.Answer)
	assert.Equal(t, out.Answer, streamedText(events))
	assert.Empty(t, out.FurtherQuestions)

	lines := terminalLines(events)
	assert.Contains(t, lines, "📝 Planning a 1-section report")
	assert.Contains(t, lines, "✍️ Writing section 1 of 1: Rollout timeline")

	// Retrieval runs over the planned questions, not the raw query.
	assert.ElementsMatch(t,
		[]string{"when did the rollout start", "when did the rollout finish"},
		f.searcher.seenQueries())

	require.Len(t, f.strategic.requests, 2)
	plan := f.strategic.requests[0]
	assert.True(t, plan.ForceJSON)
	assert.Contains(t, plan.Messages[0].Content, "exactly 1 section(s)")
	assert.Contains(t, plan.Messages[0].Content, "Research question: How did the rollout go?")

	section := f.strategic.requests[1]
	assert.Contains(t, section.Messages[0].Content, "answering from the user's own knowledge base")
	assert.Contains(t, section.Messages[1].Content, `Write the section "Rollout timeline"`)
	assert.Contains(t, section.Messages[1].Content, "## Rollout timeline")
	assert.Contains(t, section.Messages[1].Content, "<source_id>12</source_id>")
}

func TestRunDeepModeJoinsSections(t *testing.T) {
	f := newAgentFixture(t)
	f.strategic.responses = []string{
		`{"answer_outline": [
			{"section_id": 1, "section_title": "Background", "questions": ["why was the rollout needed", "what changed"]},
			{"section_id": 2, "section_title": "Timeline", "questions": ["when did it start", "when did it finish"]},
			{"section_id": 3, "section_title": "Impact", "questions": ["what improved", "what regressed"]}
		]}`,
		"## Background\n\nAlpha.",
		"## Timeline\n\nBravo.",
		"## Impact\n\nCharlie.",
	}
	f.fast.responses = []string{`{"further_questions": []}`}

	out, events, err := runAgent(t, f.agent, f.request(ModeDeep, "Report on the rollout"))
	require.NoError(t, err)

	want := "## Background\n\nAlpha.\n\n## Timeline\n\nBravo.\n\n## Impact\n\nCharlie."
	assert.Equal(t, want, out.Answer)
	assert.Equal(t, want, streamedText(events))

	// One sources event per section, but the run's group list stays deduped.
	assert.Equal(t, 3, kindCount(events, KindSources))
	require.Len(t, out.Groups, 1)

	assert.Len(t, f.searcher.seenQueries(), 6)
	assert.Contains(t, f.strategic.requests[0].Messages[0].Content, "exactly 3 section(s)")
}

func TestRunOutlineMalformedFails(t *testing.T) {
	cases := map[string]string{
		"not json":          "the plan is to write three sections",
		"too few questions": `{"answer_outline": [{"section_id": 1, "section_title": "T", "questions": ["only one"]}]}`,
	}
	for name, resp := range cases {
		t.Run(name, func(t *testing.T) {
			f := newAgentFixture(t)
			f.strategic.responses = []string{resp}

			out, events, err := runAgent(t, f.agent, f.request(ModeGeneral, "Report on the rollout"))
			require.Error(t, err)
			assert.Contains(t, err.Error(), "invalid outline")
			assert.Nil(t, out)

			errs := errorEvents(events)
			require.NotEmpty(t, errs)
			assert.True(t, errs[len(errs)-1].Fatal)
			assert.Equal(t, 0, kindCount(events, KindFurtherQuestions))
		})
	}
}

func TestRunFurtherQuestionsMalformedWarns(t *testing.T) {
	f := newAgentFixture(t)
	f.strategic.responses = []string{"The rollout finished on Friday [citation:12]."}
	f.fast.responses = []string{"I cannot think of any questions"}

	out, events, err := runAgent(t, f.agent, f.request(ModeQNA, "When did the rollout finish?"))
	require.NoError(t, err, "bad follow-ups never fail the run")
	assert.Empty(t, out.FurtherQuestions)

	errs := errorEvents(events)
	require.Len(t, errs, 1)
	assert.False(t, errs[0].Fatal)
	assert.Equal(t, "Could not suggest follow-up questions", errs[0].Message)

	// The closing event still arrives, carrying an empty list.
	last := events[len(events)-1]
	require.Equal(t, KindFurtherQuestions, last.Kind())
	assert.Empty(t, last.(FurtherQuestions).Questions)
}

func TestRunLanguageDirective(t *testing.T) {
	t.Run("answering model wins on conflict", func(t *testing.T) {
		f := newAgentFixture(t)
		f.strategicCfg.Language = strPtr("German")
		require.NoError(t, f.db.Save(f.strategicCfg).Error)
		f.fastCfg.Language = strPtr("French")
		require.NoError(t, f.db.Save(f.fastCfg).Error)

		f.strategic.responses = []string{"Die Einführung endete am Freitag [citation:12]."}
		f.fast.responses = []string{`{"further_questions": []}`}

		_, events, err := runAgent(t, f.agent, f.request(ModeQNA, "When did the rollout finish?"))
		require.NoError(t, err)

		errs := errorEvents(events)
		require.Len(t, errs, 1)
		assert.False(t, errs[0].Fatal)
		assert.Contains(t, errs[0].Message, "German")
		assert.Contains(t, errs[0].Message, "French")

		assert.Contains(t, f.strategic.requests[0].Messages[0].Content, "Answer in German.")
	})

	t.Run("single declaration applies without warning", func(t *testing.T) {
		f := newAgentFixture(t)
		f.fastCfg.Language = strPtr("French")
		require.NoError(t, f.db.Save(f.fastCfg).Error)

		f.strategic.responses = []string{"Le déploiement s'est terminé vendredi [citation:12]."}
		f.fast.responses = []string{`{"further_questions": []}`}

		_, events, err := runAgent(t, f.agent, f.request(ModeQNA, "When did the rollout finish?"))
		require.NoError(t, err)
		assert.Empty(t, errorEvents(events))
		assert.Contains(t, f.strategic.requests[0].Messages[0].Content, "Answer in French.")
	})
}

func TestRunCitationsDisabled(t *testing.T) {
	f := newAgentFixture(t)
	require.NoError(t, f.db.Model(f.space).Update("CitationsEnabled", false).Error)

	f.strategic.responses = []string{"The rollout finished on Friday."}
	f.fast.responses = []string{`{"further_questions": []}`}

	_, _, err := runAgent(t, f.agent, f.request(ModeQNA, "When did the rollout finish?"))
	require.NoError(t, err)

	sys := f.strategic.requests[0].Messages[0].Content
	assert.Contains(t, sys, "Do not add citation markers")
	assert.NotContains(t, sys, "[citation:")
}

func TestRunCustomInstructionsInPrompt(t *testing.T) {
	f := newAgentFixture(t)
	require.NoError(t, f.db.Model(f.space).
		Update("QnAInstructions", "Always answer in bullet points.").Error)

	f.strategic.responses = []string{"- Friday."}
	f.fast.responses = []string{`{"further_questions": []}`}

	_, _, err := runAgent(t, f.agent, f.request(ModeQNA, "When did the rollout finish?"))
	require.NoError(t, err)

	sys := f.strategic.requests[0].Messages[0].Content
	assert.True(t, strings.HasSuffix(sys, "Always answer in bullet points."))
}

func TestRunRejectsBadRequests(t *testing.T) {
	f := newAgentFixture(t)

	_, _, err := runAgent(t, f.agent, f.request(ModeQNA, "   "))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty query")

	_, _, err = runAgent(t, f.agent, f.request(Mode("WILD"), "hello"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown research mode")
}

func strPtr(s string) *string { return &s }
