package history

import (
	"context"
	"errors"

	"pdfchat/pkg/domain"
)

// ErrNotFound is returned when a chat does not exist or belongs to a
// different user. The two cases are deliberately indistinguishable so the
// API never leaks whether another user's chat id exists.
var ErrNotFound = errors.New("not found")

// ChatUpdate carries the optional fields of an UpdateChat call. A nil
// Messages slice leaves the stored messages untouched; an empty non-nil
// slice truncates them.
type ChatUpdate struct {
	Title    *string
	Messages []domain.Message
}

// Store persists users and their chat transcripts. All chat reads and
// mutations are scoped to (chat id, user id); a mismatch reads as absent.
type Store interface {
	// UpsertUser inserts or updates the user keyed by email in one atomic
	// statement and returns the stored row, including the id the sequence
	// assigned on first insert.
	UpsertUser(ctx context.Context, user domain.User) (domain.User, error)
	// GetUser returns the user by id, or ErrNotFound.
	GetUser(ctx context.Context, userID int64) (domain.User, error)
	// GetUserChats lists the user's chats without messages, most recently
	// updated first.
	GetUserChats(ctx context.Context, userID int64) ([]domain.ChatSummary, error)
	// CreateChat stores a chat and its initial messages in one transaction.
	// An empty chat id gets a server-generated one.
	CreateChat(ctx context.Context, chat domain.Chat) (domain.Chat, error)
	// GetChat returns the chat with messages in creation order.
	GetChat(ctx context.Context, chatID string, userID int64) (domain.Chat, error)
	// UpdateChat applies the update transactionally and returns the
	// resulting chat.
	UpdateChat(ctx context.Context, chatID string, userID int64, update ChatUpdate) (domain.Chat, error)
	// DeleteChat removes the chat and, by cascade, its messages.
	DeleteChat(ctx context.Context, chatID string, userID int64) error
}
