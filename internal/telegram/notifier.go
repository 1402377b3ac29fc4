// Package telegram is the delivery layer: it turns Telegram updates into
// queue rows and queue outcomes back into Telegram messages. All remote-API
// work happens in the workers; this package stays thin.
package telegram

import (
	"context"
	"fmt"
	"strconv"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/sirupsen/logrus"

	"github.com/bothub-tgbot-go/internal/i18n"
	"github.com/bothub-tgbot-go/internal/models"
	"github.com/bothub-tgbot-go/internal/services/bothub"
	"github.com/bothub-tgbot-go/pkg/markdown"
)

// Notifier sends outbound messages to users. It is the delivery end of the
// queue and the channel for gift notifications.
type Notifier struct {
	bot       *tgbotapi.BotAPI
	localizer *i18n.Localizer
	logger    *logrus.Logger
}

func NewNotifier(bot *tgbotapi.BotAPI, localizer *i18n.Localizer, logger *logrus.Logger) *Notifier {
	return &Notifier{bot: bot, localizer: localizer, logger: logger}
}

func chatIDFor(user *models.User) (int64, error) {
	id, err := strconv.ParseInt(user.TelegramID, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("user %d has invalid telegram id %q", user.ID, user.TelegramID)
	}
	return id, nil
}

func (n *Notifier) sendHTML(chatID int64, text string) error {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.DisableWebPagePreview = true
	_, err := n.bot.Send(msg)
	return err
}

// DeliverResponse sends a model reply: text rendered as Telegram HTML plus
// any generated images by URL.
func (n *Notifier) DeliverResponse(ctx context.Context, user *models.User, chat *models.Chat, result *bothub.SendResult) error {
	chatID, err := chatIDFor(user)
	if err != nil {
		return err
	}

	if result.Content != "" {
		if err := n.sendHTML(chatID, markdown.ToTelegramHTML(result.Content)); err != nil {
			return err
		}
	}

	for _, attachment := range result.Attachments {
		if attachment.File == "" {
			continue
		}
		photo := tgbotapi.NewPhoto(chatID, tgbotapi.FileURL(attachment.File))
		if _, err := n.bot.Send(photo); err != nil {
			n.logger.WithError(err).WithField("user_id", user.ID).Error("Failed to send image")
		}
	}
	return nil
}

// DeliverFailure tells the user why their request failed, in their language.
func (n *Notifier) DeliverFailure(ctx context.Context, user *models.User, cause error) error {
	chatID, err := chatIDFor(user)
	if err != nil {
		return err
	}

	var messageID string
	switch bothub.ClassifyError(cause) {
	case bothub.ErrKindNotEnoughTokens:
		messageID = i18n.MsgNotEnoughTokens
	case bothub.ErrKindUnavailable:
		messageID = i18n.MsgUnavailable
	default:
		messageID = i18n.MsgGenericError
	}

	text := n.localizer.Get(user.LanguageCode, messageID, nil)
	return n.sendHTML(chatID, text)
}

// NotifyPresent announces a token gift.
func (n *Notifier) NotifyPresent(ctx context.Context, user *models.User, tokens int) error {
	chatID, err := chatIDFor(user)
	if err != nil {
		return err
	}

	text := n.localizer.Get(user.LanguageCode, i18n.MsgPresentNotification, map[string]interface{}{
		"Tokens": tokens,
	})
	return n.sendHTML(chatID, text)
}

// SendText sends a plain localized message.
func (n *Notifier) SendText(user *models.User, messageID string, data map[string]interface{}) error {
	chatID, err := chatIDFor(user)
	if err != nil {
		return err
	}
	return n.sendHTML(chatID, n.localizer.Get(user.LanguageCode, messageID, data))
}
