package usecase

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/bothub-tgbot-go/internal/models"
	"github.com/bothub-tgbot-go/internal/services/bothub"
	"github.com/bothub-tgbot-go/internal/services/session"
)

// WebSearch runs a query through a websearch-enabled chat.
type WebSearch struct {
	gateway *session.Gateway
	logger  *logrus.Logger
}

// NewWebSearch creates the websearch use case.
func NewWebSearch(gateway *session.Gateway, logger *logrus.Logger) *WebSearch {
	return &WebSearch{gateway: gateway, logger: logger}
}

// Search makes sure the chat exists with websearch enabled and sends the
// query as a regular message.
func (uc *WebSearch) Search(ctx context.Context, user *models.User, chat *models.Chat, query string) (*bothub.SendResult, error) {
	uc.logger.WithFields(logrus.Fields{
		"user_id":    user.ID,
		"chat_index": chat.ChatIndex,
	}).Info("Running web search")

	if err := uc.gateway.EnsureChat(ctx, user, chat, false); err != nil {
		return nil, err
	}

	enabled, err := uc.gateway.GetWebSearch(ctx, user, chat)
	if err != nil {
		return nil, err
	}
	if !enabled {
		if err := uc.gateway.EnableWebSearch(ctx, user, chat, true); err != nil {
			return nil, err
		}
	}

	return uc.gateway.SendMessage(ctx, user, chat, query, nil)
}
