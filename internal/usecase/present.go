package usecase

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/bothub-tgbot-go/internal/models"
	"github.com/bothub-tgbot-go/internal/storage"
)

// PresentNotifier delivers a token-gift notification to a user.
type PresentNotifier interface {
	NotifyPresent(ctx context.Context, user *models.User, tokens int) error
}

// Present handles token gift records and their one-time notifications.
type Present struct {
	presents *storage.PresentRepo
	users    *storage.UserRepo
	notifier PresentNotifier
	logger   *logrus.Logger
}

// NewPresent creates the present use case. The notifier may be nil when no
// delivery channel is configured; presents are then persisted silently.
func NewPresent(presents *storage.PresentRepo, users *storage.UserRepo, notifier PresentNotifier, logger *logrus.Logger) *Present {
	return &Present{presents: presents, users: users, notifier: notifier, logger: logger}
}

// AddPresent persists a token gift for the user and attempts a one-time
// notification when the user is reachable.
func (uc *Present) AddPresent(ctx context.Context, user *models.User, tokens int) (*models.Present, error) {
	uc.logger.WithFields(logrus.Fields{
		"user_id": user.ID,
		"tokens":  tokens,
	}).Info("Recording token present")

	present := &models.Present{
		UserID:   user.ID,
		Tokens:   tokens,
		Notified: false,
		ParsedAt: time.Now(),
	}
	if err := uc.presents.Save(ctx, present); err != nil {
		return nil, err
	}

	if user.TelegramID != "" && uc.notifier != nil {
		if err := uc.NotifyPresent(ctx, present); err != nil {
			uc.logger.WithError(err).Error("Present notification failed")
		}
	}

	return present, nil
}

// NotifyPresent sends the gift notification and flips the notified flag.
// Already-notified presents are a no-op: the flag transitions exactly once.
func (uc *Present) NotifyPresent(ctx context.Context, present *models.Present) error {
	if present.Notified {
		return nil
	}

	user, err := uc.users.FindByID(ctx, present.UserID)
	if err != nil {
		return err
	}
	if user == nil || user.TelegramID == "" {
		uc.logger.WithField("user_id", present.UserID).Warn("Present target unreachable, skipping notification")
		return nil
	}

	if uc.notifier != nil {
		if err := uc.notifier.NotifyPresent(ctx, user, present.Tokens); err != nil {
			return err
		}
	}

	now := time.Now()
	present.Notified = true
	present.NotifiedAt = &now
	return uc.presents.Update(ctx, present)
}

// SendNotifications drains all unnotified presents for a user.
func (uc *Present) SendNotifications(ctx context.Context, user *models.User) error {
	if user.TelegramID == "" || uc.notifier == nil {
		return nil
	}

	pending, err := uc.presents.FindUnnotifiedByUserID(ctx, user.ID)
	if err != nil {
		return err
	}
	for i := range pending {
		if err := uc.NotifyPresent(ctx, &pending[i]); err != nil {
			uc.logger.WithError(err).WithField("present_id", pending[i].ID).Error("Present notification failed")
		}
	}
	return nil
}
