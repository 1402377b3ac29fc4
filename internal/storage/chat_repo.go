package storage

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/bothub-tgbot-go/internal/models"
)

// ChatRepo persists per-user chat slots.
type ChatRepo struct {
	db *gorm.DB
}

// NewChatRepo creates a chat repository.
func NewChatRepo(db *gorm.DB) *ChatRepo {
	return &ChatRepo{db: db}
}

// FindByUserAndIndex fetches a chat slot. Returns nil when absent.
func (r *ChatRepo) FindByUserAndIndex(ctx context.Context, userID int64, chatIndex int) (*models.Chat, error) {
	var chat models.Chat
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND chat_index = ?", userID, chatIndex).
		First(&chat).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &chat, nil
}

// GetOrCreate returns the chat slot for (user, index), creating it lazily on
// first access. The (user_id, chat_index) unique index guarantees at most
// one row per slot; a lost creation race falls back to the winner's row.
func (r *ChatRepo) GetOrCreate(ctx context.Context, user *models.User, chatIndex int) (*models.Chat, error) {
	chat, err := r.FindByUserAndIndex(ctx, user.ID, chatIndex)
	if err != nil {
		return nil, err
	}
	if chat != nil {
		return chat, nil
	}

	chat = &models.Chat{
		UserID:          user.ID,
		ChatIndex:       chatIndex,
		ContextRemember: user.ContextRemember,
		LinksParse:      user.LinksParse,
		FormulaToImage:  user.FormulaToImage,
		AnswerToVoice:   user.AnswerToVoice,
	}
	if err := r.db.WithContext(ctx).Create(chat).Error; err != nil {
		if existing, ferr := r.FindByUserAndIndex(ctx, user.ID, chatIndex); ferr == nil && existing != nil {
			return existing, nil
		}
		return nil, err
	}
	return chat, nil
}

// Update writes the full chat row back.
func (r *ChatRepo) Update(ctx context.Context, chat *models.Chat) error {
	return r.db.WithContext(ctx).Save(chat).Error
}

// ListByUser returns all chat slots for a user ordered by index.
func (r *ChatRepo) ListByUser(ctx context.Context, userID int64) ([]models.Chat, error) {
	var chats []models.Chat
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("chat_index ASC").
		Find(&chats).Error
	return chats, err
}
