package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"pdfchat/internal/ingest"
	"pdfchat/internal/retriever"
	"pdfchat/pkg/ai"
)

// ErrIndexNotReady is returned for queries issued before any successful
// Initialize.
var ErrIndexNotReady = errors.New("index not ready")

// DefaultRefusal is the one fixed sentence used when the corpus holds
// nothing relevant. It is a successful answer, never an error, and tests
// compare it verbatim.
const DefaultRefusal = "Sorry, I could not find that information in the documents. Please ask a different question and I will try to help."

const (
	DefaultQueryTopK       = 5
	DefaultChatTopK        = 12
	DefaultHistoryLimit    = 20
	DefaultMinAnswerLength = 10
)

// systemPromptTemplate is the fixed chat instruction; %s is the refusal
// sentence so the model and the post-checks agree on its exact wording.
const systemPromptTemplate = `You are a helpful assistant that answers questions about a document collection.
Follow these rules:
1. Ground every answer in the provided document excerpts.
2. Be specific and practical; include concrete details from the excerpts.
3. When a step-by-step explanation helps, structure the answer as clear steps.
4. Only when the excerpts contain no relevant information, reply with exactly: %q`

// Config tunes the chatbot. Zero values fall back to the defaults above;
// the thresholds are tuning knobs, not invariants.
type Config struct {
	QueryTopK       int
	ChatTopK        int
	HistoryLimit    int
	MinAnswerLength int
	Refusal         string
}

func (c Config) withDefaults() Config {
	if c.QueryTopK <= 0 {
		c.QueryTopK = DefaultQueryTopK
	}
	if c.ChatTopK <= 0 {
		c.ChatTopK = DefaultChatTopK
	}
	if c.HistoryLimit <= 0 {
		c.HistoryLimit = DefaultHistoryLimit
	}
	if c.MinAnswerLength <= 0 {
		c.MinAnswerLength = DefaultMinAnswerLength
	}
	if c.Refusal == "" {
		c.Refusal = DefaultRefusal
	}
	return c
}

// Chatbot composes the ingestion pipeline, retriever and generation
// gateway into the query/chat surface. It is an explicitly owned service
// object: handlers receive it, nothing global.
type Chatbot struct {
	pipeline  *ingest.Pipeline
	retriever *retriever.Retriever
	generator ai.TextGenerator
	cfg       Config
	system    string
	ready     atomic.Bool

	mu       sync.Mutex
	sessions map[string]*session
}

// New wires a chatbot. The generator should already be wrapped in the
// retrying gateway.
func New(pipeline *ingest.Pipeline, retr *retriever.Retriever, generator ai.TextGenerator, cfg Config) (*Chatbot, error) {
	if pipeline == nil {
		return nil, fmt.Errorf("ingest pipeline required")
	}
	if retr == nil {
		return nil, fmt.Errorf("retriever required")
	}
	if generator == nil {
		return nil, fmt.Errorf("text generator required")
	}
	cfg = cfg.withDefaults()
	return &Chatbot{
		pipeline:  pipeline,
		retriever: retr,
		generator: generator,
		cfg:       cfg,
		system:    fmt.Sprintf(systemPromptTemplate, cfg.Refusal),
		sessions:  make(map[string]*session),
	}, nil
}

// Initialize rebuilds the index from dir. A missing or empty corpus is
// degraded, not fatal: an empty collection is activated so retrieval runs
// and returns no matches.
func (c *Chatbot) Initialize(ctx context.Context, dir string) error {
	_, err := c.pipeline.Rebuild(ctx, dir)
	if errors.Is(err, ingest.ErrNoDocuments) {
		slog.Warn("corpus unavailable, serving empty index", "dir", dir, "error", err)
		if _, err := c.pipeline.ActivateEmpty(ctx); err != nil {
			return fmt.Errorf("activate empty index: %w", err)
		}
		c.ready.Store(true)
		return nil
	}
	if err != nil {
		return err
	}
	c.ready.Store(true)
	return nil
}

// Ready reports whether Initialize has succeeded at least once.
func (c *Chatbot) Ready() bool {
	return c.ready.Load()
}

// Refusal exposes the fixed no-match sentence for callers that compare
// answers against it.
func (c *Chatbot) Refusal() string {
	return c.cfg.Refusal
}

// Query answers one stateless question: retrieve, build a grounding
// prompt, one gateway call, answer verbatim.
func (c *Chatbot) Query(ctx context.Context, question string, topK int) (string, error) {
	if !c.ready.Load() {
		return "", ErrIndexNotReady
	}
	if topK <= 0 {
		topK = c.cfg.QueryTopK
	}
	chunks, err := c.retriever.Retrieve(ctx, question, topK)
	if err != nil {
		return "", fmt.Errorf("retrieve: %w", err)
	}
	answer, err := c.generator.GenerateText(ctx, c.system, buildGroundingPrompt(chunks, question))
	if err != nil {
		return "", fmt.Errorf("generate: %w", err)
	}
	return answer, nil
}

// Chat answers one conversational turn under sessionID. Empty retrieval
// short-circuits to the refusal sentence without touching the generator;
// a degenerate short answer is replaced by it as well.
func (c *Chatbot) Chat(ctx context.Context, question, sessionID string) (string, error) {
	if !c.ready.Load() {
		return "", ErrIndexNotReady
	}
	chunks, err := c.retriever.Retrieve(ctx, question, c.cfg.ChatTopK)
	if err != nil {
		return "", fmt.Errorf("retrieve: %w", err)
	}
	if len(chunks) == 0 {
		return c.cfg.Refusal, nil
	}
	sess := c.sessionFor(sessionID)
	answer, err := sess.turn(ctx, c.generator, c.system, question, chunks)
	if err != nil {
		return "", fmt.Errorf("generate: %w", err)
	}
	if len(strings.TrimSpace(answer)) < c.cfg.MinAnswerLength {
		return c.cfg.Refusal, nil
	}
	return answer, nil
}

// ResetSession forgets the session's history. Unknown ids are a no-op;
// this never fails.
func (c *Chatbot) ResetSession(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.sessions, sessionID)
}

// SessionCount reports live sessions, for the status endpoint.
func (c *Chatbot) SessionCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sessions)
}

// sessionFor returns the handle for sessionID, creating it on first use.
// The map mutex makes creation single-winner under concurrent first turns.
func (c *Chatbot) sessionFor(sessionID string) *session {
	c.mu.Lock()
	defer c.mu.Unlock()
	sess, ok := c.sessions[sessionID]
	if !ok {
		sess = newSession(c.cfg.HistoryLimit)
		c.sessions[sessionID] = sess
	}
	return sess
}
