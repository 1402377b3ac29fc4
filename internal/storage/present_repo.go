package storage

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/bothub-tgbot-go/internal/models"
)

// PresentRepo persists token gift records.
type PresentRepo struct {
	db *gorm.DB
}

// NewPresentRepo creates a present repository.
func NewPresentRepo(db *gorm.DB) *PresentRepo {
	return &PresentRepo{db: db}
}

// Save inserts a new present row.
func (r *PresentRepo) Save(ctx context.Context, present *models.Present) error {
	if present.ParsedAt.IsZero() {
		present.ParsedAt = time.Now()
	}
	return r.db.WithContext(ctx).Create(present).Error
}

// Update writes the full row back.
func (r *PresentRepo) Update(ctx context.Context, present *models.Present) error {
	return r.db.WithContext(ctx).Save(present).Error
}

// FindUnnotifiedByUserID returns presents the user has not been told about.
func (r *PresentRepo) FindUnnotifiedByUserID(ctx context.Context, userID int64) ([]models.Present, error) {
	var out []models.Present
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND notified = ?", userID, false).
		Order("parsed_at ASC").
		Find(&out).Error
	return out, err
}
