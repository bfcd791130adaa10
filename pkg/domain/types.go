package domain

import "time"

// Message roles as stored and served.
const (
	RoleUser = "user"
	RoleBot  = "bot"
)

// User is an account identified by email. IDs are assigned by the
// history store's sequence.
type User struct {
	ID         int64     `json:"id"`
	Email      string    `json:"email"`
	Name       string    `json:"name"`
	Image      string    `json:"image,omitempty"`
	Provider   string    `json:"provider,omitempty"`
	ProviderID string    `json:"providerId,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// Chat is a saved conversation owned by a user.
type Chat struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	UserID    int64     `json:"userId"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
	Messages  []Message `json:"messages"`
}

// ChatSummary is a chat without its messages, for listings.
type ChatSummary struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	UserID    int64     `json:"userId"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Message is a single turn inside a chat, ordered by creation time.
type Message struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}

// Chunk is the unit of retrieval: a bounded span of source text with
// its embedding. Seq is the chunk's position in ingestion order and
// breaks similarity ties.
type Chunk struct {
	ID        string    `json:"id"`
	Source    string    `json:"source"`
	Seq       int       `json:"seq"`
	Content   string    `json:"content"`
	Embedding []float32 `json:"-"`
	CreatedAt time.Time `json:"createdAt"`
}

// ScoredChunk pairs a chunk with its similarity to a query.
type ScoredChunk struct {
	Chunk Chunk   `json:"chunk"`
	Score float32 `json:"score"`
}
