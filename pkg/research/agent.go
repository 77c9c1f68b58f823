package research

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/hashicorp/go-hclog"
	"github.com/santhosh-tekuri/jsonschema/v6"
	"gorm.io/gorm"

	"github.com/MODSetter/SurfSense-sub000/pkg/connectors"
	"github.com/MODSetter/SurfSense-sub000/pkg/content"
	"github.com/MODSetter/SurfSense-sub000/pkg/llm"
	"github.com/MODSetter/SurfSense-sub000/pkg/models"
	"github.com/MODSetter/SurfSense-sub000/pkg/retrieval"
)

// Mode selects the research depth of a chat turn.
type Mode string

const (
	// ModeQNA answers directly from one combined retrieval.
	ModeQNA Mode = "QNA"
	// ModeGeneral writes a one-section report.
	ModeGeneral Mode = "GENERAL"
	// ModeDeep writes a three-section report.
	ModeDeep Mode = "DEEP"
	// ModeDeeper writes a six-section report.
	ModeDeeper Mode = "DEEPER"
)

// sectionTargets maps report modes to their outline size.
var sectionTargets = map[Mode]int{
	ModeGeneral: 1,
	ModeDeep:    3,
	ModeDeeper:  6,
}

// Request describes one chat turn to research.
type Request struct {
	SpaceID uint
	UserID  string

	// Query is the user's latest message; History holds the prior turns in
	// order.
	Query   string
	History []llm.Message

	Mode         Mode
	ConnectorIDs []uint

	// SearchMode selects chunk- or document-granularity retrieval.
	SearchMode connectors.SearchMode
	TopK       int

	// SelectedDocumentIDs pin documents into the retrieval context.
	SelectedDocumentIDs []uint
}

// Outcome is what a finished run leaves behind for persistence.
type Outcome struct {
	ReformulatedQuery string
	Answer            string
	Groups            []connectors.SourceGroup
	FurtherQuestions  []FollowUp
}

// ClientProvider builds chat clients from stored model configurations.
// *llm.ClientFactory satisfies it.
type ClientProvider interface {
	ClientFor(ctx context.Context, cfg *models.LLMConfig) (llm.Client, error)
}

// Config wires an Agent.
type Config struct {
	DB        *gorm.DB
	Retriever *retrieval.Retriever
	Clients   ClientProvider
	Logger    hclog.Logger
}

// Agent executes research runs. One Agent serves all requests; each run is
// single-goroutine and writes its events in order.
type Agent struct {
	db        *gorm.DB
	retriever *retrieval.Retriever
	clients   ClientProvider
	logger    hclog.Logger

	outlineSchema   *jsonschema.Schema
	questionsSchema *jsonschema.Schema
}

// New builds an Agent.
func New(cfg Config) (*Agent, error) {
	if cfg.DB == nil {
		return nil, fmt.Errorf("database is required")
	}
	if cfg.Retriever == nil {
		return nil, fmt.Errorf("retriever is required")
	}
	if cfg.Clients == nil {
		return nil, fmt.Errorf("client provider is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = hclog.NewNullLogger()
	}

	outline, err := compileSchema("answer_outline.json", outlineSchemaJSON)
	if err != nil {
		return nil, err
	}
	questions, err := compileSchema("further_questions.json", questionsSchemaJSON)
	if err != nil {
		return nil, err
	}

	return &Agent{
		db:              cfg.DB,
		retriever:       cfg.Retriever,
		clients:         cfg.Clients,
		logger:          cfg.Logger.Named("research"),
		outlineSchema:   outline,
		questionsSchema: questions,
	}, nil
}

// session carries one run's working set through the agent nodes.
type session struct {
	req    Request
	space  *models.SearchSpace
	events chan<- Event

	fast         llm.Client
	strategic    llm.Client
	strategicCfg *models.LLMConfig
	fastCfg      *models.LLMConfig

	// window is the strategic model's prompt budget: context window minus
	// the output reservation.
	window   int
	language string

	out Outcome

	// ranked accumulates the packed chunks of every answering pass, feeding
	// follow-up generation.
	ranked []connectors.ChunkRecord
}

// Run executes one research turn, streaming progress, sources and text to
// events. The caller owns the channel and closes it after Run returns; Run
// never closes it. The Outcome is valid whenever the error is nil.
func (a *Agent) Run(ctx context.Context, req Request, events chan<- Event) (*Outcome, error) {
	if strings.TrimSpace(req.Query) == "" {
		return nil, fmt.Errorf("empty query")
	}
	if _, ok := sectionTargets[req.Mode]; !ok && req.Mode != ModeQNA {
		return nil, fmt.Errorf("unknown research mode %q", req.Mode)
	}

	s, err := a.newSession(ctx, req, events)
	if err != nil {
		a.sendFatal(ctx, events, err)
		return nil, err
	}
	s.language = a.resolveLanguage(ctx, s)

	if err := a.reformulate(ctx, s); err != nil {
		return nil, err
	}

	if req.Mode == ModeQNA {
		err = a.runQnA(ctx, s)
	} else {
		err = a.runReport(ctx, s)
	}
	if err != nil {
		a.sendFatal(ctx, events, err)
		return nil, err
	}

	if err := a.furtherQuestions(ctx, s); err != nil {
		return nil, err
	}
	return &s.out, nil
}

func (a *Agent) newSession(ctx context.Context, req Request, events chan<- Event) (*session, error) {
	space, err := models.GetSearchSpace(a.db, req.SpaceID)
	if err != nil {
		return nil, fmt.Errorf("load search space %d: %w", req.SpaceID, err)
	}

	strategicCfg, err := space.LLMForRole(a.db, models.LLMRoleStrategic)
	if err != nil {
		return nil, fmt.Errorf("no model configured for answering: %w", err)
	}
	fastCfg, err := space.LLMForRole(a.db, models.LLMRoleFast)
	if err != nil {
		return nil, fmt.Errorf("no model configured for query handling: %w", err)
	}

	strategic, err := a.clients.ClientFor(ctx, strategicCfg)
	if err != nil {
		return nil, fmt.Errorf("build answering client: %w", err)
	}
	fast, err := a.clients.ClientFor(ctx, fastCfg)
	if err != nil {
		return nil, fmt.Errorf("build query client: %w", err)
	}

	return &session{
		req:          req,
		space:        space,
		events:       events,
		fast:         fast,
		strategic:    strategic,
		strategicCfg: strategicCfg,
		fastCfg:      fastCfg,
		window:       strategicCfg.ContextWindow() - strategicCfg.MaxOutputTokens(),
	}, nil
}

// resolveLanguage picks the forced answer language when model configs
// declare one. Distinct declarations warn; the answering model's wins.
func (a *Agent) resolveLanguage(ctx context.Context, s *session) string {
	var langs []string
	for _, cfg := range []*models.LLMConfig{s.strategicCfg, s.fastCfg} {
		if cfg.Language != nil && strings.TrimSpace(*cfg.Language) != "" {
			langs = append(langs, strings.TrimSpace(*cfg.Language))
		}
	}
	if len(langs) == 0 {
		return ""
	}
	for _, l := range langs[1:] {
		if !strings.EqualFold(l, langs[0]) {
			a.warn(ctx, s, fmt.Sprintf(
				"Models declare different answer languages (%s, %s); answering in %s",
				langs[0], l, langs[0]))
			break
		}
	}
	return langs[0]
}

// reformulate rewrites the query into standalone form when the conversation
// has history. A rewrite failure degrades to the original query.
func (a *Agent) reformulate(ctx context.Context, s *session) error {
	s.out.ReformulatedQuery = s.req.Query
	if len(s.req.History) == 0 {
		return nil
	}

	if err := a.say(ctx, s, "🔍 Rewriting the question against the conversation"); err != nil {
		return err
	}
	resp, err := s.fast.Complete(ctx, llm.Request{Messages: []llm.Message{
		{Role: llm.RoleSystem, Content: reformulatePrompt},
		{Role: llm.RoleUser, Content: fmt.Sprintf(
			"Conversation:\n%s\n\nQuestion: %s", formatHistory(s.req.History), s.req.Query)},
	}})
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		a.logger.Warn("query reformulation failed", "error", err)
		a.warn(ctx, s, "Query rewrite failed, searching with the original question")
		return nil
	}
	if q := strings.TrimSpace(resp); q != "" {
		s.out.ReformulatedQuery = q
	}
	return nil
}

// retrieve runs the connector fan-out for a set of questions, forwarding
// its progress lines to the event stream.
func (a *Agent) retrieve(ctx context.Context, s *session, questions []string) (*retrieval.Result, error) {
	opts := retrieval.Options{
		SpaceID:             s.req.SpaceID,
		TopK:                s.req.TopK,
		Mode:                s.req.SearchMode,
		UserQuery:           s.req.Query,
		ReformulatedQuery:   s.out.ReformulatedQuery,
		SelectedDocumentIDs: s.req.SelectedDocumentIDs,
	}

	// Emit calls arrive serialized from the retriever.
	var sendErr error
	emit := func(msg string) {
		if sendErr == nil {
			sendErr = a.send(ctx, s, TerminalInfo{Text: msg})
		}
	}

	res, err := a.retriever.Retrieve(ctx, questions, s.req.ConnectorIDs, opts, emit)
	if err != nil {
		return nil, err
	}
	if sendErr != nil {
		return nil, sendErr
	}
	return res, nil
}

// pack keeps the largest prefix of ranked chunks whose formatted form fits
// the strategic model's prompt budget next to the fixed prompt parts.
func (a *Agent) pack(s *session, records []connectors.ChunkRecord, question string) []connectors.ChunkRecord {
	base := content.EstimateTokens(systemPrompt(true, s.space.CitationsEnabled, s.space.QnAInstructions, s.language)) +
		content.EstimateTokens(formatHistory(s.req.History)) +
		content.EstimateTokens(question)

	n := content.FitDocuments(s.window, base, formatDocuments(records))
	if n < len(records) {
		a.logger.Debug("dropped chunks to fit the prompt budget",
			"kept", n, "dropped", len(records)-n)
	}
	return records[:n]
}

// streamCompletion streams one completion, forwarding every delta as a text
// chunk event, and returns the assembled text.
func (a *Agent) streamCompletion(ctx context.Context, s *session, messages []llm.Message) (string, error) {
	return s.strategic.CompleteStream(ctx, llm.Request{Messages: messages}, func(delta string) error {
		return a.send(ctx, s, TextChunk{Text: delta})
	})
}

// withDocuments wraps a prompt with its packed document context.
func withDocuments(prompt string, records []connectors.ChunkRecord) string {
	if len(records) == 0 {
		return prompt
	}
	return fmt.Sprintf("<documents>\n%s\n</documents>\n\n%s",
		strings.Join(formatDocuments(records), "\n"), prompt)
}

// appendGroups extends the run's source list, keeping the first appearance
// of each (type, id) group.
func appendGroups(have, add []connectors.SourceGroup) []connectors.SourceGroup {
	seen := make(map[string]bool, len(have))
	for _, g := range have {
		seen[fmt.Sprintf("%s/%d", g.Type, g.ID)] = true
	}
	for _, g := range add {
		key := fmt.Sprintf("%s/%d", g.Type, g.ID)
		if !seen[key] {
			seen[key] = true
			have = append(have, g)
		}
	}
	return have
}

func (a *Agent) send(ctx context.Context, s *session, e Event) error {
	select {
	case s.events <- e:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (a *Agent) say(ctx context.Context, s *session, format string, args ...interface{}) error {
	return a.send(ctx, s, TerminalInfo{Text: fmt.Sprintf(format, args...)})
}

// warn emits a non-fatal error event; delivery failure is ignored because
// every warn site continues into a send that surfaces cancellation.
func (a *Agent) warn(ctx context.Context, s *session, msg string) {
	_ = a.send(ctx, s, Error{Message: msg})
}

// sendFatal best-effort reports a failure before the run returns it.
func (a *Agent) sendFatal(ctx context.Context, events chan<- Event, err error) {
	select {
	case events <- Error{Message: err.Error(), Fatal: true}:
	case <-ctx.Done():
	}
}

// compileSchema builds a validator for one of the structured-output
// contracts.
func compileSchema(name, doc string) (*jsonschema.Schema, error) {
	var schemaDoc interface{}
	if err := json.Unmarshal([]byte(doc), &schemaDoc); err != nil {
		return nil, fmt.Errorf("parse schema %s: %w", name, err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource(name, schemaDoc); err != nil {
		return nil, fmt.Errorf("add schema %s: %w", name, err)
	}
	schema, err := c.Compile(name)
	if err != nil {
		return nil, fmt.Errorf("compile schema %s: %w", name, err)
	}
	return schema, nil
}

// decodeStrict validates the model's JSON against a schema before decoding
// it. Validation runs on the unmarshaled value, not the raw bytes.
func decodeStrict(schema *jsonschema.Schema, response string, into interface{}) error {
	raw := llm.ExtractJSON(response)
	var doc interface{}
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return fmt.Errorf("not valid JSON: %w", err)
	}
	if err := schema.Validate(doc); err != nil {
		return err
	}
	return json.Unmarshal([]byte(raw), into)
}
