package usecase

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/bothub-tgbot-go/internal/models"
	"github.com/bothub-tgbot-go/internal/services/bothub"
	"github.com/bothub-tgbot-go/internal/services/session"
)

// imageModels are the remote model families capable of image generation.
var imageModels = []string{"dall-e", "midjourney", "stability", "kandinsky", "flux"}

// ImageGeneration turns a prompt into generated images.
type ImageGeneration struct {
	gateway *session.Gateway
	logger  *logrus.Logger
}

// NewImageGeneration creates the image-generation use case.
func NewImageGeneration(gateway *session.Gateway, logger *logrus.Logger) *ImageGeneration {
	return &ImageGeneration{gateway: gateway, logger: logger}
}

// GenerateImage sends the prompt through an image-capable chat. When the
// slot's current model cannot generate images, the chat is recreated as an
// image chat for the request and restored to a text chat afterwards.
func (uc *ImageGeneration) GenerateImage(ctx context.Context, user *models.User, chat *models.Chat, prompt string, files []string) (*bothub.SendResult, error) {
	uc.logger.WithFields(logrus.Fields{
		"user_id":    user.ID,
		"chat_index": chat.ChatIndex,
	}).Info("Generating image")

	if isImageModel(chat.BothubChatModel) {
		return uc.gateway.SendMessage(ctx, user, chat, prompt, files)
	}

	oldModel := chat.BothubChatModel

	if err := uc.gateway.CreateChat(ctx, user, chat, true); err != nil {
		return nil, err
	}

	result, err := uc.gateway.SendMessage(ctx, user, chat, prompt, files)
	if err != nil {
		return nil, err
	}

	// Hand the slot back to text conversation.
	chat.BothubChatModel = oldModel
	if restoreErr := uc.gateway.CreateChat(ctx, user, chat, false); restoreErr != nil {
		uc.logger.WithError(restoreErr).Warn("Failed to restore text chat after image generation")
	}

	return result, nil
}

func isImageModel(modelID string) bool {
	for _, m := range imageModels {
		if modelID == m || (len(modelID) > len(m) && modelID[:len(m)] == m) {
			return true
		}
	}
	return false
}
