package research

import (
	"context"
	"fmt"

	"github.com/MODSetter/SurfSense-sub000/pkg/llm"
)

// Section is one planned report section with its retrieval questions.
type Section struct {
	SectionID    int      `json:"section_id"`
	SectionTitle string   `json:"section_title"`
	Questions    []string `json:"questions"`
}

const outlineSchemaJSON = `{
  "type": "object",
  "required": ["answer_outline"],
  "additionalProperties": false,
  "properties": {
    "answer_outline": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["section_id", "section_title", "questions"],
        "additionalProperties": false,
        "properties": {
          "section_id": {"type": "integer"},
          "section_title": {"type": "string", "minLength": 1},
          "questions": {
            "type": "array",
            "minItems": 2,
            "maxItems": 5,
            "items": {"type": "string", "minLength": 1}
          }
        }
      }
    }
  }
}`

// runReport plans an outline and writes each section in order.
func (a *Agent) runReport(ctx context.Context, s *session) error {
	sections, err := a.writeAnswerOutline(ctx, s)
	if err != nil {
		return err
	}
	return a.processSections(ctx, s, sections)
}

// writeAnswerOutline asks the strategic model for the report plan. A
// malformed plan is an explicit failure, never silently repaired.
func (a *Agent) writeAnswerOutline(ctx context.Context, s *session) ([]Section, error) {
	target := sectionTargets[s.req.Mode]
	if err := a.say(ctx, s, "📝 Planning a %d-section report", target); err != nil {
		return nil, err
	}

	resp, err := s.strategic.Complete(ctx, llm.Request{
		Messages: []llm.Message{{
			Role:    llm.RoleUser,
			Content: fmt.Sprintf(outlinePromptFmt, target, s.out.ReformulatedQuery),
		}},
		ForceJSON: true,
	})
	if err != nil {
		return nil, fmt.Errorf("plan answer outline: %w", err)
	}

	var payload struct {
		AnswerOutline []Section `json:"answer_outline"`
	}
	if err := decodeStrict(a.outlineSchema, resp, &payload); err != nil {
		return nil, fmt.Errorf("planner returned an invalid outline: %w", err)
	}
	return payload.AnswerOutline, nil
}

// processSections writes the planned sections in order, each with its own
// retrieval pass and sources event.
func (a *Agent) processSections(ctx context.Context, s *session, sections []Section) error {
	for i, section := range sections {
		if err := a.say(ctx, s, "✍️ Writing section %d of %d: %s",
			i+1, len(sections), section.SectionTitle); err != nil {
			return err
		}

		res, err := a.retrieve(ctx, s, section.Questions)
		if err != nil {
			return err
		}
		s.out.Groups = appendGroups(s.out.Groups, res.Groups)
		if err := a.send(ctx, s, Sources{Groups: res.Groups}); err != nil {
			return err
		}

		chunks := a.pack(s, res.Chunks, section.SectionTitle)
		s.ranked = append(s.ranked, chunks...)

		instruction := fmt.Sprintf(sectionPromptFmt,
			section.SectionTitle, s.out.ReformulatedQuery, section.SectionTitle)
		messages := []llm.Message{
			{Role: llm.RoleSystem, Content: systemPrompt(len(chunks) > 0,
				s.space.CitationsEnabled, s.space.QnAInstructions, s.language)},
			{Role: llm.RoleUser, Content: withDocuments(instruction, chunks)},
		}

		if i > 0 {
			if err := a.send(ctx, s, TextChunk{Text: "\n\n"}); err != nil {
				return err
			}
			s.out.Answer += "\n\n"
		}
		text, err := a.streamCompletion(ctx, s, messages)
		if err != nil {
			return fmt.Errorf("write section %q: %w", section.SectionTitle, err)
		}
		s.out.Answer += text
	}
	return nil
}
