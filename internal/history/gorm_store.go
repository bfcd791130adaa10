package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
	"pdfchat/pkg/domain"
)

const migrateLockID int64 = 73217322

// GormStore implements Store on GORM + Postgres.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens the database and runs auto-migrations under an
// advisory lock so concurrent replicas do not race the schema.
func NewGormStore(dsn string) (*GormStore, error) {
	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormLog})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := withMigrationLock(db, func(tx *gorm.DB) error {
		if err := tx.AutoMigrate(&UserModel{}, &ChatModel{}, &ChatMessageModel{}); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
		if err := tx.Exec(`
			DO $$
			BEGIN
				DELETE FROM chats c
				WHERE NOT EXISTS (SELECT 1 FROM users u WHERE u.id = c.user_id);
				DELETE FROM chat_messages m
				WHERE NOT EXISTS (SELECT 1 FROM chats c WHERE c.id = m.chat_id);
				IF NOT EXISTS (
					SELECT 1 FROM information_schema.table_constraints
					WHERE table_schema = 'public'
					AND table_name = 'chats'
					AND constraint_name = 'chats_user_id_fkey'
				) THEN
					ALTER TABLE chats
					ADD CONSTRAINT chats_user_id_fkey
					FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE;
				END IF;
				IF NOT EXISTS (
					SELECT 1 FROM information_schema.table_constraints
					WHERE table_schema = 'public'
					AND table_name = 'chat_messages'
					AND constraint_name = 'chat_messages_chat_id_fkey'
				) THEN
					ALTER TABLE chat_messages
					ADD CONSTRAINT chat_messages_chat_id_fkey
					FOREIGN KEY (chat_id) REFERENCES chats(id) ON DELETE CASCADE;
				END IF;
			END $$;
		`).Error; err != nil {
			return fmt.Errorf("ensure history foreign keys: %w", err)
		}
		return nil
	}); err != nil {
		return nil, err
	}
	return &GormStore{db: db}, nil
}

func withMigrationLock(db *gorm.DB, fn func(*gorm.DB) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("open sql conn: %w", err)
	}
	defer conn.Close()
	if err := execAdvisory(ctx, conn, "SELECT pg_advisory_lock($1)", migrateLockID); err != nil {
		return fmt.Errorf("acquire migrate lock: %w", err)
	}
	defer func() {
		_ = execAdvisory(ctx, conn, "SELECT pg_advisory_unlock($1)", migrateLockID)
	}()
	return fn(db)
}

func execAdvisory(ctx context.Context, conn *sql.Conn, query string, lockID int64) error {
	_, err := conn.ExecContext(ctx, query, lockID)
	return err
}

// UpsertUser hits the email unique index: a single INSERT ... ON CONFLICT
// DO UPDATE so two concurrent first logins for the same email resolve to
// one row, and the assigned id comes back via RETURNING.
func (s *GormStore) UpsertUser(ctx context.Context, user domain.User) (domain.User, error) {
	now := time.Now().UTC()
	model := userToModel(user)
	model.ID = 0
	if model.CreatedAt.IsZero() {
		model.CreatedAt = now
	}
	model.UpdatedAt = now
	if err := s.db.WithContext(ctx).Clauses(
		clause.OnConflict{
			Columns:   []clause.Column{{Name: "email"}},
			DoUpdates: clause.AssignmentColumns([]string{"name", "image", "provider", "provider_id", "updated_at"}),
		},
		clause.Returning{},
	).Create(&model).Error; err != nil {
		return domain.User{}, fmt.Errorf("upsert user: %w", err)
	}
	return userFromModel(model), nil
}

// GetUser returns the user row by id.
func (s *GormStore) GetUser(ctx context.Context, userID int64) (domain.User, error) {
	var model UserModel
	if err := s.db.WithContext(ctx).First(&model, "id = ?", userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.User{}, ErrNotFound
		}
		return domain.User{}, fmt.Errorf("get user: %w", err)
	}
	return userFromModel(model), nil
}

// GetUserChats lists the user's chats newest-updated first.
func (s *GormStore) GetUserChats(ctx context.Context, userID int64) ([]domain.ChatSummary, error) {
	var models []ChatModel
	if err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("updated_at DESC").
		Find(&models).Error; err != nil {
		return nil, fmt.Errorf("list chats: %w", err)
	}
	summaries := make([]domain.ChatSummary, 0, len(models))
	for _, m := range models {
		summaries = append(summaries, summaryFromModel(m))
	}
	return summaries, nil
}

// CreateChat writes the chat row and its initial messages in one
// transaction, so a failed message insert leaves no orphan chat.
func (s *GormStore) CreateChat(ctx context.Context, chat domain.Chat) (domain.Chat, error) {
	if chat.ID == "" {
		chat.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	model := ChatModel{
		ID:        chat.ID,
		Title:     chat.Title,
		UserID:    chat.UserID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&model).Error; err != nil {
			return fmt.Errorf("create chat: %w", err)
		}
		if len(chat.Messages) == 0 {
			return nil
		}
		messages := messagesToModels(chat.ID, chat.Messages, now)
		return tx.CreateInBatches(&messages, 200).Error
	})
	if err != nil {
		return domain.Chat{}, err
	}
	return s.GetChat(ctx, chat.ID, chat.UserID)
}

// GetChat loads the chat scoped to its owner. A wrong user id reads the
// same as a missing chat.
func (s *GormStore) GetChat(ctx context.Context, chatID string, userID int64) (domain.Chat, error) {
	var model ChatModel
	if err := s.db.WithContext(ctx).
		First(&model, "id = ? AND user_id = ?", chatID, userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Chat{}, ErrNotFound
		}
		return domain.Chat{}, fmt.Errorf("get chat: %w", err)
	}
	var messages []ChatMessageModel
	if err := s.db.WithContext(ctx).
		Where("chat_id = ?", chatID).
		Order("seq ASC").
		Find(&messages).Error; err != nil {
		return domain.Chat{}, fmt.Errorf("get chat messages: %w", err)
	}
	return chatFromModel(model, messages), nil
}

// UpdateChat applies title and message changes transactionally. A nil
// Messages slice keeps the stored transcript; an empty non-nil slice
// deletes it.
func (s *GormStore) UpdateChat(ctx context.Context, chatID string, userID int64, update ChatUpdate) (domain.Chat, error) {
	now := time.Now().UTC()
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var model ChatModel
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&model, "id = ? AND user_id = ?", chatID, userID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return fmt.Errorf("lock chat: %w", err)
		}
		updates := map[string]any{"updated_at": now}
		if update.Title != nil {
			updates["title"] = *update.Title
		}
		if err := tx.Model(&ChatModel{}).Where("id = ?", chatID).Updates(updates).Error; err != nil {
			return fmt.Errorf("update chat: %w", err)
		}
		if update.Messages == nil {
			return nil
		}
		if err := tx.Delete(&ChatMessageModel{}, "chat_id = ?", chatID).Error; err != nil {
			return fmt.Errorf("clear chat messages: %w", err)
		}
		if len(update.Messages) == 0 {
			return nil
		}
		messages := messagesToModels(chatID, update.Messages, now)
		return tx.CreateInBatches(&messages, 200).Error
	})
	if err != nil {
		return domain.Chat{}, err
	}
	return s.GetChat(ctx, chatID, userID)
}

// DeleteChat removes the chat; messages go with it via the FK cascade.
func (s *GormStore) DeleteChat(ctx context.Context, chatID string, userID int64) error {
	result := s.db.WithContext(ctx).Delete(&ChatModel{}, "id = ? AND user_id = ?", chatID, userID)
	if result.Error != nil {
		return fmt.Errorf("delete chat: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
