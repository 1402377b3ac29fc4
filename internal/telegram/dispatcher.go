package telegram

import (
	"context"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/sirupsen/logrus"

	"github.com/bothub-tgbot-go/internal/config"
	"github.com/bothub-tgbot-go/internal/i18n"
	"github.com/bothub-tgbot-go/internal/middleware"
	"github.com/bothub-tgbot-go/internal/models"
	"github.com/bothub-tgbot-go/internal/services/bothub"
	"github.com/bothub-tgbot-go/internal/services/intent"
	"github.com/bothub-tgbot-go/internal/services/state"
	"github.com/bothub-tgbot-go/internal/storage"
	"github.com/bothub-tgbot-go/internal/usecase"
)

// Dispatcher turns incoming Telegram updates into queue rows. Only the
// account-link command talks to the remote API synchronously; everything
// else is answered by a worker later.
type Dispatcher struct {
	bot       *tgbotapi.BotAPI
	cfg       *config.Config
	users     *storage.UserRepo
	chats     *storage.ChatRepo
	messages  *storage.MessageRepo
	limiter   middleware.RateLimiter
	states    state.Store
	notifier  *Notifier
	account   *usecase.AccountConnection
	selection *usecase.ModelSelection
	presents  *usecase.Present
	metrics   *middleware.Metrics
	logger    *logrus.Logger
}

func NewDispatcher(
	bot *tgbotapi.BotAPI,
	cfg *config.Config,
	users *storage.UserRepo,
	chats *storage.ChatRepo,
	messages *storage.MessageRepo,
	limiter middleware.RateLimiter,
	states state.Store,
	notifier *Notifier,
	account *usecase.AccountConnection,
	selection *usecase.ModelSelection,
	presents *usecase.Present,
	metrics *middleware.Metrics,
	logger *logrus.Logger,
) *Dispatcher {
	return &Dispatcher{
		bot:       bot,
		cfg:       cfg,
		users:     users,
		chats:     chats,
		messages:  messages,
		limiter:   limiter,
		states:    states,
		notifier:  notifier,
		account:   account,
		selection: selection,
		presents:  presents,
		metrics:   metrics,
		logger:    logger,
	}
}

// Run consumes the update channel until the context is cancelled.
func (d *Dispatcher) Run(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = d.cfg.Bot.UpdateTimeout
	updates := d.bot.GetUpdatesChan(u)

	d.logger.Info("Update dispatcher started")
	for {
		select {
		case <-ctx.Done():
			d.bot.StopReceivingUpdates()
			d.logger.Info("Update dispatcher stopped")
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			if update.Message == nil || !update.Message.Chat.IsPrivate() {
				continue
			}
			if err := d.handleMessage(ctx, update.Message); err != nil {
				d.logger.WithError(err).Error("Failed to handle update")
			}
		}
	}
}

func (d *Dispatcher) handleMessage(ctx context.Context, message *tgbotapi.Message) error {
	from := message.From
	if from == nil {
		return nil
	}

	user, err := d.users.GetOrCreate(ctx,
		strconv.FormatInt(from.ID, 10),
		from.FirstName, from.LastName, from.UserName, from.LanguageCode)
	if err != nil {
		return err
	}

	if !d.limiter.Allow(user.ID) {
		d.metrics.RecordRateLimitExceeded(user.TelegramID)
		return d.notifier.SendText(user, i18n.MsgRateLimitExceeded, nil)
	}

	// Any pending gift notices ride along with the next interaction.
	if err := d.presents.SendNotifications(ctx, user); err != nil {
		d.logger.WithError(err).Error("Failed to flush gift notifications")
	}

	if message.IsCommand() {
		return d.handleCommand(ctx, user, message)
	}
	if message.Voice != nil {
		return d.handleVoice(ctx, user, message)
	}
	if message.Text != "" {
		return d.handleText(ctx, user, message)
	}
	return nil
}

func (d *Dispatcher) handleCommand(ctx context.Context, user *models.User, message *tgbotapi.Message) error {
	switch message.Command() {
	case "start":
		if err := d.enqueue(ctx, user, models.TypeStart, "", nil, message.MessageID); err != nil {
			return err
		}
		return d.notifier.SendText(user, i18n.MsgWelcome, map[string]interface{}{
			"Name": user.DisplayName(),
		})

	case "help":
		return d.notifier.SendText(user, i18n.MsgHelp, nil)

	case "newchat":
		if err := d.enqueue(ctx, user, models.TypeCreateNewChat, "", nil, message.MessageID); err != nil {
			return err
		}
		return d.notifier.SendText(user, i18n.MsgNewChatCreated, nil)

	case "reset":
		if err := d.enqueue(ctx, user, models.TypeResetContext, "", nil, message.MessageID); err != nil {
			return err
		}
		return d.notifier.SendText(user, i18n.MsgContextReset, nil)

	case "prompt":
		if err := d.states.SetDialogState(ctx, user.ID, state.StateAwaitingSystemPrompt); err != nil {
			return err
		}
		return d.notifier.SendText(user, i18n.MsgAskSystemPrompt, nil)

	case "model":
		return d.sendModelList(ctx, user)

	case "imagemodel":
		return d.sendImageModelList(ctx, user)

	case "account":
		link, err := d.account.ConnectionLink(ctx, user)
		if err != nil {
			return d.notifier.DeliverFailure(ctx, user, err)
		}
		if err := d.users.Update(ctx, user); err != nil {
			d.logger.WithError(err).Error("Failed to persist user")
		}
		return d.notifier.SendText(user, i18n.MsgConnectionLink, map[string]interface{}{
			"Link": link,
		})

	default:
		return d.notifier.SendText(user, i18n.MsgHelp, nil)
	}
}

// sendModelList fetches the selectable text models, caches them for the
// follow-up pick, and shows a numbered list.
func (d *Dispatcher) sendModelList(ctx context.Context, user *models.User) error {
	available, err := d.selection.ListTextModels(ctx, user)
	if err != nil {
		return d.notifier.DeliverFailure(ctx, user, err)
	}
	return d.offerModels(ctx, user, available, state.StateAwaitingChatModel, i18n.MsgAskChatModel)
}

// sendImageModelList is the image-generation counterpart of sendModelList.
func (d *Dispatcher) sendImageModelList(ctx context.Context, user *models.User) error {
	available, err := d.selection.ListImageModels(ctx, user)
	if err != nil {
		return d.notifier.DeliverFailure(ctx, user, err)
	}
	return d.offerModels(ctx, user, available, state.StateAwaitingImageModel, i18n.MsgAskImageModel)
}

func (d *Dispatcher) offerModels(ctx context.Context, user *models.User, available []bothub.ModelInfo, dialogState, promptID string) error {
	if err := d.users.Update(ctx, user); err != nil {
		d.logger.WithError(err).Error("Failed to persist user")
	}

	if err := d.states.SaveModelList(ctx, user.ID, available); err != nil {
		d.logger.WithError(err).Error("Failed to cache model list")
	}
	if err := d.states.SetDialogState(ctx, user.ID, dialogState); err != nil {
		return err
	}

	var b strings.Builder
	b.WriteString(d.notifier.localizer.Get(user.LanguageCode, promptID, nil))
	for i, m := range available {
		b.WriteString("\n")
		b.WriteString(strconv.Itoa(i + 1))
		b.WriteString(". ")
		if m.Label != "" {
			b.WriteString(m.Label)
		} else {
			b.WriteString(m.ID)
		}
	}
	chatID, err := chatIDFor(user)
	if err != nil {
		return err
	}
	return d.notifier.sendHTML(chatID, b.String())
}

func (d *Dispatcher) handleText(ctx context.Context, user *models.User, message *tgbotapi.Message) error {
	dialogState, err := d.states.GetDialogState(ctx, user.ID)
	if err != nil {
		d.logger.WithError(err).Error("Failed to read dialog state")
	}

	switch dialogState {
	case state.StateAwaitingSystemPrompt:
		if err := d.states.ClearDialogState(ctx, user.ID); err != nil {
			d.logger.WithError(err).Error("Failed to clear dialog state")
		}
		if err := d.enqueue(ctx, user, models.TypeSaveSystemPrompt, message.Text, nil, message.MessageID); err != nil {
			return err
		}
		return d.notifier.SendText(user, i18n.MsgSystemPromptSaved, nil)

	case state.StateAwaitingChatModel:
		return d.handleModelPick(ctx, user, message.Text)

	case state.StateAwaitingImageModel:
		return d.handleImageModelPick(ctx, user, message.Text)
	}

	detected, payload := intent.Detect(message.Text)
	return d.enqueue(ctx, user, models.TypeSendMessage, payload, map[string]interface{}{
		"intent": detected.String(),
	}, message.MessageID)
}

// handleModelPick resolves a numbered or literal model choice from the
// cached list and applies it to the current chat slot.
func (d *Dispatcher) handleModelPick(ctx context.Context, user *models.User, text string) error {
	if err := d.states.ClearDialogState(ctx, user.ID); err != nil {
		d.logger.WithError(err).Error("Failed to clear dialog state")
	}

	cached, err := d.states.GetModelList(ctx, user.ID)
	if err != nil {
		d.logger.WithError(err).Error("Failed to read cached model list")
	}

	choice := strings.TrimSpace(text)
	modelID := choice
	if n, err := strconv.Atoi(choice); err == nil && n >= 1 && n <= len(cached) {
		modelID = cached[n-1].ID
	}

	chat, err := d.chats.GetOrCreate(ctx, user, user.CurrentChatIndex)
	if err != nil {
		return err
	}
	if err := d.selection.SelectChatModel(ctx, user, chat, modelID); err != nil {
		return d.notifier.DeliverFailure(ctx, user, err)
	}
	return d.notifier.SendText(user, i18n.MsgModelChanged, map[string]interface{}{
		"Model": modelID,
	})
}

// handleImageModelPick stores the preferred image-generation model; the next
// image request provisions a chat running it.
func (d *Dispatcher) handleImageModelPick(ctx context.Context, user *models.User, text string) error {
	if err := d.states.ClearDialogState(ctx, user.ID); err != nil {
		d.logger.WithError(err).Error("Failed to clear dialog state")
	}

	cached, err := d.states.GetModelList(ctx, user.ID)
	if err != nil {
		d.logger.WithError(err).Error("Failed to read cached model list")
	}

	choice := strings.TrimSpace(text)
	modelID := choice
	if n, err := strconv.Atoi(choice); err == nil && n >= 1 && n <= len(cached) {
		modelID = cached[n-1].ID
	}

	if err := d.selection.SelectImageModel(ctx, user, modelID); err != nil {
		return d.notifier.DeliverFailure(ctx, user, err)
	}
	return d.notifier.SendText(user, i18n.MsgModelChanged, map[string]interface{}{
		"Model": modelID,
	})
}

func (d *Dispatcher) handleVoice(ctx context.Context, user *models.User, message *tgbotapi.Message) error {
	fileURL, err := d.bot.GetFileDirectURL(message.Voice.FileID)
	if err != nil {
		d.logger.WithError(err).Error("Failed to resolve voice file")
		return d.notifier.SendText(user, i18n.MsgVoiceNotRecognized, nil)
	}

	return d.enqueue(ctx, user, models.TypeVoiceMessage, "", map[string]interface{}{
		"file_url": fileURL,
	}, message.MessageID)
}

// enqueue persists a request row for the workers. The chat row is created
// here so workers never see a missing slot.
func (d *Dispatcher) enqueue(ctx context.Context, user *models.User, msgType models.MessageType, text string, data map[string]interface{}, telegramMessageID int) error {
	chat, err := d.chats.GetOrCreate(ctx, user, user.CurrentChatIndex)
	if err != nil {
		return err
	}

	// Pending text accumulates on the chat until a worker answers it.
	if msgType == models.TypeSendMessage && text != "" {
		chat.AddToBuffer(text, "", "")
		if err := d.chats.Update(ctx, chat); err != nil {
			d.logger.WithError(err).Error("Failed to persist chat buffer")
		}
	}

	msg := &models.Message{
		UserID:    user.ID,
		ChatIndex: user.CurrentChatIndex,
		MessageID: telegramMessageID,
		Direction: models.DirectionRequest,
		Type:      msgType,
		Status:    models.StatusNotProcessed,
		ChatID:    chat.ID,
		Text:      text,
	}
	for key, value := range data {
		msg.SetData(key, value)
	}

	if err := d.messages.Save(ctx, msg); err != nil {
		return err
	}
	d.metrics.RecordEnqueued(msgType.String())

	d.logger.WithFields(logrus.Fields{
		"user_id":    user.ID,
		"message_id": msg.ID,
		"type":       msgType,
	}).Debug("Message enqueued")
	return nil
}
