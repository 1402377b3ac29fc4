package usecase

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/bothub-tgbot-go/internal/models"
	"github.com/bothub-tgbot-go/internal/services/session"
)

// AccountConnection links a Telegram identity to an existing web account.
type AccountConnection struct {
	gateway *session.Gateway
	logger  *logrus.Logger
}

// NewAccountConnection creates the account-connection use case.
func NewAccountConnection(gateway *session.Gateway, logger *logrus.Logger) *AccountConnection {
	return &AccountConnection{gateway: gateway, logger: logger}
}

// ConnectionLink returns the web URL the user opens to merge accounts.
func (uc *AccountConnection) ConnectionLink(ctx context.Context, user *models.User) (string, error) {
	uc.logger.WithField("user_id", user.ID).Info("Generating account connection link")
	return uc.gateway.ConnectionLink(ctx, user)
}
