package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/MODSetter/SurfSense-sub000/internal/server"
	"github.com/MODSetter/SurfSense-sub000/pkg/connectors"
	"github.com/MODSetter/SurfSense-sub000/pkg/llm"
	"github.com/MODSetter/SurfSense-sub000/pkg/models"
	"github.com/MODSetter/SurfSense-sub000/pkg/research"
)

// maxMessageContent caps one chat message's content.
const maxMessageContent = 10000

// eventBuffer decouples the agent from a slow client; the writer drains it
// as fast as the connection allows.
const eventBuffer = 64

// ChatMessageBody is one turn in the request history.
type ChatMessageBody struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatData carries the run parameters next to the message history.
type ChatData struct {
	SearchSpaceID       IntString `json:"search_space_id"`
	ResearchMode        string    `json:"research_mode"`
	SelectedConnectors  []string  `json:"selected_connectors"`
	SearchMode          string    `json:"search_mode"`
	SelectedDocumentIDs []uint    `json:"document_ids_to_add_in_context"`

	// ThreadID appends this turn to an existing thread; zero starts one.
	ThreadID uint `json:"thread_id,omitempty"`

	UserID string `json:"user_id,omitempty"`
}

// ChatRequest is the POST /chat body.
type ChatRequest struct {
	Messages []ChatMessageBody `json:"messages"`
	Data     ChatData          `json:"data"`
}

// Validate enforces the boundary contract before any model or connector
// work starts.
func (req *ChatRequest) Validate() error {
	if err := validation.Validate(req.Messages, validation.Required); err != nil {
		return validation.Errors{"messages": err}
	}
	for i, m := range req.Messages {
		if err := validation.ValidateStruct(&m,
			validation.Field(&m.Role, validation.Required,
				validation.In("user", "assistant", "system")),
			validation.Field(&m.Content, validation.Required,
				validation.Length(1, maxMessageContent)),
		); err != nil {
			return validation.Errors{"messages[" + strconv.Itoa(i) + "]": err}
		}
	}
	if req.Messages[len(req.Messages)-1].Role != "user" {
		return validation.Errors{"messages": validation.NewError(
			"validation_last_message", "last message must have role \"user\"")}
	}

	return validation.ValidateStruct(&req.Data,
		validation.Field(&req.Data.SearchSpaceID,
			validation.Required.Error("search_space_id is required")),
		validation.Field(&req.Data.ResearchMode, validation.Required,
			validation.In(
				string(research.ModeQNA), string(research.ModeGeneral),
				string(research.ModeDeep), string(research.ModeDeeper))),
		validation.Field(&req.Data.SearchMode,
			validation.In(
				string(connectors.SearchModeChunks),
				string(connectors.SearchModeDocuments))),
	)
}

// streamEvent is one NDJSON line of the chat response.
type streamEvent struct {
	Type    research.Kind  `json:"type"`
	Payload research.Event `json:"payload"`
}

// ChatHandler streams a research run. The response body is NDJSON, one
// typed event per line, flushed per event so clients see progress live.
func ChatHandler(srv server.Server) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
			return
		}

		var req ChatRequest
		if err := decodeJSON(r, &req); err != nil {
			respondError(w, srv.Logger, http.StatusBadRequest, err.Error())
			return
		}
		if err := req.Validate(); err != nil {
			respondError(w, srv.Logger, http.StatusBadRequest, err.Error())
			return
		}

		spaceID := uint(req.Data.SearchSpaceID)
		connectorIDs, err := resolveConnectors(srv, spaceID, req.Data.SelectedConnectors)
		if err != nil {
			respondError(w, srv.Logger, http.StatusBadRequest, err.Error())
			return
		}

		searchMode := connectors.SearchMode(req.Data.SearchMode)
		if searchMode == "" {
			searchMode = connectors.SearchModeChunks
		}

		last := req.Messages[len(req.Messages)-1]
		history := make([]llm.Message, 0, len(req.Messages)-1)
		for _, m := range req.Messages[:len(req.Messages)-1] {
			history = append(history, llm.Message{Role: m.Role, Content: m.Content})
		}

		agentReq := research.Request{
			SpaceID:             spaceID,
			UserID:              req.Data.UserID,
			Query:               last.Content,
			History:             history,
			Mode:                research.Mode(req.Data.ResearchMode),
			ConnectorIDs:        connectorIDs,
			SearchMode:          searchMode,
			SelectedDocumentIDs: req.Data.SelectedDocumentIDs,
		}

		flusher, ok := w.(http.Flusher)
		if !ok {
			respondError(w, srv.Logger, http.StatusInternalServerError, "streaming unsupported")
			return
		}
		w.Header().Set("Content-Type", "application/x-ndjson")
		w.Header().Set("Cache-Control", "no-cache")
		w.WriteHeader(http.StatusOK)

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		events := make(chan research.Event, eventBuffer)
		type runDone struct {
			outcome *research.Outcome
			err     error
		}
		done := make(chan runDone, 1)
		go func() {
			outcome, err := srv.Agent.Run(ctx, agentReq, events)
			done <- runDone{outcome, err}
			close(events)
		}()

		enc := json.NewEncoder(w)
		for ev := range events {
			if err := enc.Encode(streamEvent{Type: ev.Kind(), Payload: ev}); err != nil {
				// Client went away; the context cancel stops the agent at
				// its next suspension point.
				cancel()
				break
			}
			flusher.Flush()
		}

		result := <-done
		if result.err != nil {
			srv.Logger.Warn("research run failed", "space", spaceID, "error", result.err)
			return
		}
		if err := persistTurn(srv, spaceID, &req, last.Content, result.outcome); err != nil {
			srv.Logger.Error("error persisting chat turn", "space", spaceID, "error", err)
		}
	})
}

// resolveConnectors maps the caller's selected connector names onto
// connector ids in the space. A name is a connector type tag
// (e.g. SLACK_CONNECTOR) or a numeric connector id; names are sanitized
// before use and unknown ones are rejected.
func resolveConnectors(srv server.Server, spaceID uint, names []string) ([]uint, error) {
	if len(names) == 0 {
		return nil, nil
	}
	rows, err := models.GetConnectorsBySpace(srv.DB, spaceID)
	if err != nil {
		return nil, err
	}

	byType := make(map[models.ConnectorType][]uint)
	byID := make(map[uint]bool, len(rows))
	for _, c := range rows {
		byType[c.ConnectorType] = append(byType[c.ConnectorType], c.ID)
		byID[c.ID] = true
	}

	var ids []uint
	seen := make(map[uint]bool)
	add := func(id uint) {
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	for _, raw := range names {
		name := sanitizeConnectorName(raw)
		if name == "" {
			continue
		}
		if n, err := strconv.ParseUint(name, 10, 64); err == nil {
			if !byID[uint(n)] {
				return nil, validation.NewError("validation_connector",
					"connector "+name+" not found in search space")
			}
			add(uint(n))
			continue
		}
		t := models.ConnectorType(strings.ToUpper(name))
		matched, ok := byType[t]
		if !ok {
			return nil, validation.NewError("validation_connector",
				"no "+name+" connector in search space")
		}
		for _, id := range matched {
			add(id)
		}
	}
	return ids, nil
}

// persistTurn appends the user message and the assistant answer (with its
// source and follow-up trace) to the thread, creating the thread on first
// use.
func persistTurn(srv server.Server, spaceID uint, req *ChatRequest, query string, out *research.Outcome) error {
	threadID := req.Data.ThreadID
	if threadID == 0 {
		title := query
		if len(title) > 120 {
			title = title[:120]
		}
		thread := &models.ChatThread{
			SearchSpaceID: spaceID,
			UserID:        req.Data.UserID,
			Title:         title,
		}
		if err := srv.DB.Create(thread).Error; err != nil {
			return err
		}
		threadID = thread.ID
	}

	if err := models.AppendChatMessage(srv.DB, &models.ChatMessage{
		ThreadID: threadID,
		Role:     llm.RoleUser,
		Content:  query,
	}); err != nil {
		return err
	}

	trace := models.JSONFrom(map[string]interface{}{
		"reformulated_query": out.ReformulatedQuery,
		"sources":            out.Groups,
		"further_questions":  out.FurtherQuestions,
	})
	return models.AppendChatMessage(srv.DB, &models.ChatMessage{
		ThreadID: threadID,
		Role:     llm.RoleAssistant,
		Content:  out.Answer,
		Trace:    trace,
	})
}

// ThreadsHandler lists a space's chat threads with skip/limit pagination.
func ThreadsHandler(srv server.Server) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
			return
		}

		spaceID, err := queryInt(r, "search_space_id", 0)
		if err != nil || spaceID <= 0 {
			respondError(w, srv.Logger, http.StatusBadRequest,
				"search_space_id must be a positive integer")
			return
		}
		skip, err := queryInt(r, "skip", 0)
		if err != nil || skip < 0 {
			respondError(w, srv.Logger, http.StatusBadRequest, "skip must be >= 0")
			return
		}
		limit, err := queryInt(r, "limit", 100)
		if err != nil || limit < 1 || limit > 1000 {
			respondError(w, srv.Logger, http.StatusBadRequest, "limit must be in [1, 1000]")
			return
		}

		threads, err := models.GetChatThreadsBySpace(srv.DB, uint(spaceID), skip, limit)
		if err != nil {
			respondError(w, srv.Logger, http.StatusInternalServerError, "error listing threads")
			return
		}
		respondJSON(w, srv.Logger, http.StatusOK, threads)
	})
}
