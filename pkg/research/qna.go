package research

import (
	"context"

	"github.com/MODSetter/SurfSense-sub000/pkg/llm"
)

// runQnA answers the question directly: one combined retrieval over both
// query forms plus any pinned documents, then one streamed completion.
func (a *Agent) runQnA(ctx context.Context, s *session) error {
	questions := []string{s.out.ReformulatedQuery}
	if s.req.Query != s.out.ReformulatedQuery {
		questions = append(questions, s.req.Query)
	}

	res, err := a.retrieve(ctx, s, questions)
	if err != nil {
		return err
	}
	s.out.Groups = res.Groups
	if err := a.send(ctx, s, Sources{Groups: res.Groups}); err != nil {
		return err
	}

	if err := a.say(ctx, s, "✍️ Writing the answer"); err != nil {
		return err
	}

	chunks := a.pack(s, res.Chunks, s.req.Query)
	s.ranked = append(s.ranked, chunks...)

	messages := make([]llm.Message, 0, len(s.req.History)+2)
	messages = append(messages, llm.Message{
		Role: llm.RoleSystem,
		Content: systemPrompt(len(chunks) > 0, s.space.CitationsEnabled,
			s.space.QnAInstructions, s.language),
	})
	messages = append(messages, s.req.History...)
	messages = append(messages, llm.Message{
		Role:    llm.RoleUser,
		Content: withDocuments(s.req.Query, chunks),
	})

	answer, err := a.streamCompletion(ctx, s, messages)
	if err != nil {
		return err
	}
	s.out.Answer = answer
	return nil
}
