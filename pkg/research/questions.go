package research

import (
	"context"
	"fmt"
	"strings"

	"github.com/MODSetter/SurfSense-sub000/pkg/connectors"
	"github.com/MODSetter/SurfSense-sub000/pkg/llm"
)

const questionsSchemaJSON = `{
  "type": "object",
  "required": ["further_questions"],
  "additionalProperties": false,
  "properties": {
    "further_questions": {
      "type": "array",
      "maxItems": 5,
      "items": {
        "type": "object",
        "required": ["id", "question"],
        "additionalProperties": false,
        "properties": {
          "id": {"type": "integer"},
          "question": {"type": "string", "minLength": 1}
        }
      }
    }
  }
}`

// questionContextDocs caps how many retrieved chunks feed follow-up
// generation.
const questionContextDocs = 10

// furtherQuestions closes every run with exactly one further-questions
// event. Malformed model output degrades to an empty list with a warning.
func (a *Agent) furtherQuestions(ctx context.Context, s *session) error {
	list, err := a.generateFurtherQuestions(ctx, s)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		a.logger.Warn("follow-up question generation failed", "error", err)
		a.warn(ctx, s, "Could not suggest follow-up questions")
		list = nil
	}
	s.out.FurtherQuestions = list
	return a.send(ctx, s, FurtherQuestions{Questions: list})
}

func (a *Agent) generateFurtherQuestions(ctx context.Context, s *session) ([]FollowUp, error) {
	docs := s.ranked
	if len(docs) > questionContextDocs {
		docs = docs[:questionContextDocs]
	}
	var docList strings.Builder
	for _, rec := range docs {
		fmt.Fprintf(&docList, "- %s\n", connectors.Truncate(rec.Content, 200))
	}
	if docList.Len() == 0 {
		docList.WriteString("(none)\n")
	}

	user := fmt.Sprintf(
		"Conversation:\n%s\n\nLatest question: %s\n\nLatest answer:\n%s\n\nDocuments:\n%s",
		formatHistory(s.req.History), s.req.Query,
		connectors.Truncate(s.out.Answer, 2000), docList.String())

	resp, err := s.fast.Complete(ctx, llm.Request{
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: furtherQuestionsPrompt},
			{Role: llm.RoleUser, Content: user},
		},
		ForceJSON: true,
	})
	if err != nil {
		return nil, err
	}

	var payload struct {
		FurtherQuestions []FollowUp `json:"further_questions"`
	}
	if err := decodeStrict(a.questionsSchema, resp, &payload); err != nil {
		return nil, err
	}
	return payload.FurtherQuestions, nil
}
