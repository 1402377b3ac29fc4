// Package usecase composes the session gateway and repositories into single
// user-facing operations. Use cases hold no state of their own.
package usecase

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/bothub-tgbot-go/internal/models"
	"github.com/bothub-tgbot-go/internal/services/bothub"
	"github.com/bothub-tgbot-go/internal/services/session"
)

// ChatSession drives plain conversation against a chat slot.
type ChatSession struct {
	gateway *session.Gateway
	logger  *logrus.Logger
}

// NewChatSession creates the chat-session use case.
func NewChatSession(gateway *session.Gateway, logger *logrus.Logger) *ChatSession {
	return &ChatSession{gateway: gateway, logger: logger}
}

// SendMessage delivers a message in the user's chat slot. The gateway
// handles chat bootstrap and stale-chat healing; remote failures propagate
// so the delivery boundary can translate them.
func (uc *ChatSession) SendMessage(ctx context.Context, user *models.User, chat *models.Chat, message string, files []string) (*bothub.SendResult, error) {
	uc.logger.WithFields(logrus.Fields{
		"user_id":    user.ID,
		"chat_index": chat.ChatIndex,
	}).Info("Sending chat message")

	return uc.gateway.SendMessage(ctx, user, chat, message, files)
}

// CreateChat provisions a fresh remote chat for the slot.
func (uc *ChatSession) CreateChat(ctx context.Context, user *models.User, chat *models.Chat, imageGeneration bool) error {
	return uc.gateway.CreateChat(ctx, user, chat, imageGeneration)
}

// ResetContext clears the remote context and the local counter.
func (uc *ChatSession) ResetContext(ctx context.Context, user *models.User, chat *models.Chat) error {
	uc.logger.WithFields(logrus.Fields{
		"user_id":    user.ID,
		"chat_index": chat.ChatIndex,
	}).Info("Resetting chat context")

	return uc.gateway.ResetContext(ctx, user, chat)
}

// SaveSystemPrompt stores the instruction text on the remote chat.
func (uc *ChatSession) SaveSystemPrompt(ctx context.Context, user *models.User, chat *models.Chat, prompt string) error {
	return uc.gateway.SaveSystemPrompt(ctx, user, chat, prompt)
}

// TranscribeVoice converts a voice recording into text.
func (uc *ChatSession) TranscribeVoice(ctx context.Context, user *models.User, fileURL string) (string, error) {
	return uc.gateway.TranscribeVoice(ctx, user, fileURL)
}
