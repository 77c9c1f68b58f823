// Package research runs the branching agent behind a chat turn: query
// reformulation, outline planning, multi-connector retrieval and streamed
// answer generation, all reported as a typed event stream.
package research

import "github.com/MODSetter/SurfSense-sub000/pkg/connectors"

// Kind tags the event variants a run can stream.
type Kind string

const (
	// KindTerminalInfo is a human-readable progress line.
	KindTerminalInfo Kind = "terminal_info_delta"
	// KindSources announces the citable source groups behind upcoming text.
	KindSources Kind = "sources_delta"
	// KindTextChunk is one streamed answer fragment.
	KindTextChunk Kind = "text_chunk"
	// KindFurtherQuestions carries suggested follow-ups; exactly one is sent
	// per run, at the end.
	KindFurtherQuestions Kind = "further_questions_delta"
	// KindError reports a warning or a fatal failure.
	KindError Kind = "error"
)

// Event is one streamed agent update. The HTTP layer writes each event as
// one NDJSON line.
type Event interface {
	Kind() Kind
}

// TerminalInfo is a progress line for the client's activity log.
type TerminalInfo struct {
	Text string `json:"text"`
}

func (TerminalInfo) Kind() Kind { return KindTerminalInfo }

// Sources lists the citable source groups for the text that follows.
type Sources struct {
	Groups []connectors.SourceGroup `json:"groups"`
}

func (Sources) Kind() Kind { return KindSources }

// TextChunk is one fragment of streamed answer text.
type TextChunk struct {
	Text string `json:"text"`
}

func (TextChunk) Kind() Kind { return KindTextChunk }

// FollowUp is one suggested follow-up question.
type FollowUp struct {
	ID       int    `json:"id"`
	Question string `json:"question"`
}

// FurtherQuestions carries the run's suggested follow-ups; empty when
// generation produced nothing usable.
type FurtherQuestions struct {
	Questions []FollowUp `json:"questions"`
}

func (FurtherQuestions) Kind() Kind { return KindFurtherQuestions }

// Error reports a problem. Warnings leave the run going; a fatal error is
// followed by the run ending with that error.
type Error struct {
	Message string `json:"message"`
	Fatal   bool   `json:"fatal"`
}

func (Error) Kind() Kind { return KindError }
