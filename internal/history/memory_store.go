package history

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"pdfchat/pkg/domain"
)

// MemoryStore is an in-process Store used in tests and when no database
// is configured. It mirrors the GormStore semantics, including the
// nil-versus-empty message replacement rule.
type MemoryStore struct {
	mu      sync.RWMutex
	nextID  int64
	byEmail map[string]*domain.User
	chats   map[string]*domain.Chat
}

// NewMemoryStore initializes an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		nextID:  1,
		byEmail: make(map[string]*domain.User),
		chats:   make(map[string]*domain.Chat),
	}
}

func (m *MemoryStore) UpsertUser(_ context.Context, user domain.User) (domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	if existing, ok := m.byEmail[user.Email]; ok {
		existing.Name = user.Name
		existing.Image = user.Image
		existing.Provider = user.Provider
		existing.ProviderID = user.ProviderID
		existing.UpdatedAt = now
		return *existing, nil
	}
	stored := user
	stored.ID = m.nextID
	m.nextID++
	stored.CreatedAt = now
	stored.UpdatedAt = now
	m.byEmail[user.Email] = &stored
	return stored, nil
}

func (m *MemoryStore) GetUser(_ context.Context, userID int64) (domain.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, user := range m.byEmail {
		if user.ID == userID {
			return *user, nil
		}
	}
	return domain.User{}, ErrNotFound
}

func (m *MemoryStore) GetUserChats(_ context.Context, userID int64) ([]domain.ChatSummary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var summaries []domain.ChatSummary
	for _, chat := range m.chats {
		if chat.UserID != userID {
			continue
		}
		summaries = append(summaries, domain.ChatSummary{
			ID:        chat.ID,
			Title:     chat.Title,
			UserID:    chat.UserID,
			CreatedAt: chat.CreatedAt,
			UpdatedAt: chat.UpdatedAt,
		})
	}
	sort.Slice(summaries, func(i, j int) bool {
		if !summaries[i].UpdatedAt.Equal(summaries[j].UpdatedAt) {
			return summaries[i].UpdatedAt.After(summaries[j].UpdatedAt)
		}
		return summaries[i].ID < summaries[j].ID
	})
	return summaries, nil
}

func (m *MemoryStore) CreateChat(_ context.Context, chat domain.Chat) (domain.Chat, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if chat.ID == "" {
		chat.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	chat.CreatedAt = now
	chat.UpdatedAt = now
	chat.Messages = normalizeMessages(chat.Messages, now)
	stored := cloneChat(chat)
	m.chats[chat.ID] = &stored
	return cloneChat(stored), nil
}

func (m *MemoryStore) GetChat(_ context.Context, chatID string, userID int64) (domain.Chat, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	chat, ok := m.chats[chatID]
	if !ok || chat.UserID != userID {
		return domain.Chat{}, ErrNotFound
	}
	return cloneChat(*chat), nil
}

func (m *MemoryStore) UpdateChat(_ context.Context, chatID string, userID int64, update ChatUpdate) (domain.Chat, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	chat, ok := m.chats[chatID]
	if !ok || chat.UserID != userID {
		return domain.Chat{}, ErrNotFound
	}
	now := time.Now().UTC()
	if update.Title != nil {
		chat.Title = *update.Title
	}
	if update.Messages != nil {
		chat.Messages = normalizeMessages(update.Messages, now)
	}
	chat.UpdatedAt = now
	return cloneChat(*chat), nil
}

func (m *MemoryStore) DeleteChat(_ context.Context, chatID string, userID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	chat, ok := m.chats[chatID]
	if !ok || chat.UserID != userID {
		return ErrNotFound
	}
	delete(m.chats, chatID)
	return nil
}

func normalizeMessages(messages []domain.Message, now time.Time) []domain.Message {
	out := make([]domain.Message, 0, len(messages))
	for _, msg := range messages {
		if msg.CreatedAt.IsZero() {
			msg.CreatedAt = now
		}
		out = append(out, msg)
	}
	return out
}

func cloneChat(chat domain.Chat) domain.Chat {
	cloned := chat
	cloned.Messages = append([]domain.Message(nil), chat.Messages...)
	return cloned
}
