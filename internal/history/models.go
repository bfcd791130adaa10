package history

import (
	"time"

	"pdfchat/pkg/domain"
)

// UserModel maps to the users table. Email carries the uniqueness that
// the upsert conflicts on.
type UserModel struct {
	ID         int64  `gorm:"primaryKey;autoIncrement"`
	Email      string `gorm:"uniqueIndex;size:320;not null"`
	Name       string `gorm:"size:200"`
	Image      string
	Provider   string `gorm:"size:64"`
	ProviderID string `gorm:"size:128"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (UserModel) TableName() string { return "users" }

// ChatModel maps to the chats table.
type ChatModel struct {
	ID        string `gorm:"primaryKey;size:64"`
	Title     string `gorm:"size:300;not null"`
	UserID    int64  `gorm:"index;not null"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (ChatModel) TableName() string { return "chats" }

// ChatMessageModel maps to the chat_messages table. Seq preserves the
// order messages were supplied in, independent of clock resolution.
type ChatMessageModel struct {
	ID        int64  `gorm:"primaryKey;autoIncrement"`
	ChatID    string `gorm:"index;size:64;not null"`
	Seq       int    `gorm:"not null"`
	Role      string `gorm:"size:16;not null"`
	Content   string `gorm:"not null"`
	CreatedAt time.Time
}

func (ChatMessageModel) TableName() string { return "chat_messages" }

func userToModel(u domain.User) UserModel {
	return UserModel{
		ID:         u.ID,
		Email:      u.Email,
		Name:       u.Name,
		Image:      u.Image,
		Provider:   u.Provider,
		ProviderID: u.ProviderID,
		CreatedAt:  u.CreatedAt,
		UpdatedAt:  u.UpdatedAt,
	}
}

func userFromModel(m UserModel) domain.User {
	return domain.User{
		ID:         m.ID,
		Email:      m.Email,
		Name:       m.Name,
		Image:      m.Image,
		Provider:   m.Provider,
		ProviderID: m.ProviderID,
		CreatedAt:  m.CreatedAt,
		UpdatedAt:  m.UpdatedAt,
	}
}

func chatFromModel(m ChatModel, messages []ChatMessageModel) domain.Chat {
	msgs := make([]domain.Message, 0, len(messages))
	for _, msg := range messages {
		msgs = append(msgs, domain.Message{
			Role:      msg.Role,
			Content:   msg.Content,
			CreatedAt: msg.CreatedAt,
		})
	}
	return domain.Chat{
		ID:        m.ID,
		Title:     m.Title,
		UserID:    m.UserID,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
		Messages:  msgs,
	}
}

func summaryFromModel(m ChatModel) domain.ChatSummary {
	return domain.ChatSummary{
		ID:        m.ID,
		Title:     m.Title,
		UserID:    m.UserID,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
}

func messagesToModels(chatID string, messages []domain.Message, now time.Time) []ChatMessageModel {
	models := make([]ChatMessageModel, 0, len(messages))
	for i, msg := range messages {
		createdAt := msg.CreatedAt
		if createdAt.IsZero() {
			createdAt = now
		}
		models = append(models, ChatMessageModel{
			ChatID:    chatID,
			Seq:       i,
			Role:      msg.Role,
			Content:   msg.Content,
			CreatedAt: createdAt,
		})
	}
	return models
}
