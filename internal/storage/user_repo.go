package storage

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/bothub-tgbot-go/internal/models"
)

// UserRepo persists users.
type UserRepo struct {
	db *gorm.DB
}

// NewUserRepo creates a user repository.
func NewUserRepo(db *gorm.DB) *UserRepo {
	return &UserRepo{db: db}
}

// Create inserts a new user row.
func (r *UserRepo) Create(ctx context.Context, user *models.User) error {
	return r.db.WithContext(ctx).Create(user).Error
}

// FindByID fetches a user by internal id. Returns nil when absent.
func (r *UserRepo) FindByID(ctx context.Context, id int64) (*models.User, error) {
	var user models.User
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// FindByTelegramID fetches a user by Telegram id. Returns nil when absent.
func (r *UserRepo) FindByTelegramID(ctx context.Context, telegramID string) (*models.User, error) {
	var user models.User
	err := r.db.WithContext(ctx).Where("telegram_id = ?", telegramID).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// FindByBothubID fetches a user by remote account id. Returns nil when absent.
func (r *UserRepo) FindByBothubID(ctx context.Context, bothubID string) (*models.User, error) {
	var user models.User
	err := r.db.WithContext(ctx).Where("bothub_id = ?", bothubID).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// GetOrCreate returns the user for a Telegram identity, creating the row on
// first contact.
func (r *UserRepo) GetOrCreate(ctx context.Context, telegramID, firstName, lastName, username, languageCode string) (*models.User, error) {
	user, err := r.FindByTelegramID(ctx, telegramID)
	if err != nil {
		return nil, err
	}
	if user != nil {
		return user, nil
	}

	user = &models.User{
		TelegramID:       telegramID,
		FirstName:        firstName,
		LastName:         lastName,
		Username:         username,
		LanguageCode:     languageCode,
		CurrentChatIndex: 1,
		ContextRemember:  true,
	}
	if user.LanguageCode == "" {
		user.LanguageCode = "en"
	}
	if err := r.Create(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

// Update writes the full user row back.
func (r *UserRepo) Update(ctx context.Context, user *models.User) error {
	return r.db.WithContext(ctx).Save(user).Error
}
