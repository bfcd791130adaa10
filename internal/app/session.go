package app

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"pdfchat/pkg/ai"
	"pdfchat/pkg/domain"
)

// session is one conversation handle: the rolling history of a session id.
// Each session serializes its own turns, so two requests racing on the same
// session id cannot interleave half-written history.
type session struct {
	mu        sync.Mutex
	createdAt time.Time
	history   []domain.Message
	limit     int
}

func newSession(historyLimit int) *session {
	return &session{
		createdAt: time.Now().UTC(),
		limit:     historyLimit,
	}
}

// turn runs one history-aware generation: context chunks plus the rolling
// transcript plus the new question, then records both sides of the exchange.
func (s *session) turn(ctx context.Context, gen ai.TextGenerator, systemPrompt, question string, chunks []domain.ScoredChunk) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prompt := buildChatPrompt(s.history, chunks, question)
	answer, err := gen.GenerateText(ctx, systemPrompt, prompt)
	if err != nil {
		return "", err
	}
	now := time.Now().UTC()
	s.history = append(s.history,
		domain.Message{Role: domain.RoleUser, Content: question, CreatedAt: now},
		domain.Message{Role: domain.RoleBot, Content: answer, CreatedAt: now},
	)
	if len(s.history) > s.limit {
		s.history = s.history[len(s.history)-s.limit:]
	}
	return answer, nil
}

// buildGroundingPrompt is the single-turn prompt: numbered excerpts then
// the question.
func buildGroundingPrompt(chunks []domain.ScoredChunk, question string) string {
	var sb strings.Builder
	sb.WriteString("Document excerpts:\n\n")
	writeChunks(&sb, chunks)
	sb.WriteString("\nQuestion: ")
	sb.WriteString(question)
	return sb.String()
}

// buildChatPrompt prepends the rolling transcript so the generator can
// resolve follow-up references.
func buildChatPrompt(history []domain.Message, chunks []domain.ScoredChunk, question string) string {
	var sb strings.Builder
	sb.WriteString("Document excerpts:\n\n")
	writeChunks(&sb, chunks)
	if len(history) > 0 {
		sb.WriteString("\nConversation so far:\n")
		for _, msg := range history {
			label := "User"
			if msg.Role == domain.RoleBot {
				label = "Assistant"
			}
			fmt.Fprintf(&sb, "%s: %s\n", label, msg.Content)
		}
	}
	sb.WriteString("\nQuestion: ")
	sb.WriteString(question)
	return sb.String()
}

func writeChunks(sb *strings.Builder, chunks []domain.ScoredChunk) {
	if len(chunks) == 0 {
		sb.WriteString("(none)\n")
		return
	}
	for i, chunk := range chunks {
		fmt.Fprintf(sb, "[%d] (%s)\n%s\n\n", i+1, chunk.Chunk.Source, chunk.Chunk.Content)
	}
}
