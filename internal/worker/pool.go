// Package worker drives the persisted message queue: a small pool of workers
// claims not-processed rows via a storage-level compare-and-swap, runs the
// matching use case, and records terminal success or failure. A separate
// reclaim task resets rows stuck in processing, making progress resumable
// after a crash.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/bothub-tgbot-go/internal/config"
	"github.com/bothub-tgbot-go/internal/middleware"
	"github.com/bothub-tgbot-go/internal/models"
	"github.com/bothub-tgbot-go/internal/services/bothub"
	"github.com/bothub-tgbot-go/internal/storage"
	"github.com/bothub-tgbot-go/internal/usecase"
	"github.com/bothub-tgbot-go/pkg/logger"
)

// Intent markers stored in the queue row's data payload by the dispatcher.
const (
	DataKeyIntent  = "intent"
	DataKeyFileURL = "file_url"

	IntentWebSearch       = "web_search"
	IntentImageGeneration = "image_generation"
)

var errUnknownType = errors.New("unknown message type")

// ResponseSink delivers outcomes back to the user: successful send results
// and user-facing failure texts.
type ResponseSink interface {
	DeliverResponse(ctx context.Context, user *models.User, chat *models.Chat, result *bothub.SendResult) error
	DeliverFailure(ctx context.Context, user *models.User, err error) error
}

// Pool runs the queue workers and the stuck-row reclaim task.
type Pool struct {
	cfg      config.WorkersConfig
	messages *storage.MessageRepo
	users    *storage.UserRepo
	chats    *storage.ChatRepo

	chatSession *usecase.ChatSession
	webSearch   *usecase.WebSearch
	imageGen    *usecase.ImageGeneration

	sink    ResponseSink
	metrics *middleware.Metrics
	logger  *logrus.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewPool creates a worker pool. The sink may be nil; responses are then
// persisted but not delivered anywhere.
func NewPool(
	cfg config.WorkersConfig,
	messages *storage.MessageRepo,
	users *storage.UserRepo,
	chats *storage.ChatRepo,
	chatSession *usecase.ChatSession,
	webSearch *usecase.WebSearch,
	imageGen *usecase.ImageGeneration,
	sink ResponseSink,
	metrics *middleware.Metrics,
	logger *logrus.Logger,
) *Pool {
	return &Pool{
		cfg:         cfg,
		messages:    messages,
		users:       users,
		chats:       chats,
		chatSession: chatSession,
		webSearch:   webSearch,
		imageGen:    imageGen,
		sink:        sink,
		metrics:     metrics,
		logger:      logger,
	}
}

// Start launches the workers and the reclaim task.
func (p *Pool) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)

	p.logger.WithField("workers", p.cfg.Count).Info("Starting message workers")

	for i := 1; i <= p.cfg.Count; i++ {
		w := &worker{id: i, pool: p}
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			w.run(ctx)
		}()
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.runReclaim(ctx)
	}()

	p.metrics.SetActiveWorkers(float64(p.cfg.Count))
}

// Stop cancels all workers and the reclaim task and waits for them to exit.
// A row claimed but unfinished at shutdown is recovered later by the reclaim
// pass, never left permanently processing.
func (p *Pool) Stop() {
	p.logger.Info("Stopping message workers")
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
	p.metrics.SetActiveWorkers(0)
	p.logger.Info("All message workers stopped")
}

// runReclaim periodically resets rows stuck in processing and prunes
// terminal rows past the retention window.
func (p *Pool) runReclaim(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.ReclaimInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.reclaimPass(ctx)
		}
	}
}

func (p *Pool) reclaimPass(ctx context.Context) {
	count, err := p.messages.ResetStuck(ctx, p.cfg.StuckTimeout)
	if err != nil {
		p.logger.WithError(err).Error("Stuck message reclaim failed")
		return
	}
	if count > 0 {
		p.logger.WithField("count", count).Warn("Reset stuck messages")
		p.metrics.RecordReclaimed(count)
	}

	if removed, err := p.messages.CleanupOld(ctx, p.cfg.Retention); err != nil {
		p.logger.WithError(err).Error("Queue retention cleanup failed")
	} else if removed > 0 {
		p.logger.WithField("count", removed).Info("Pruned old queue rows")
	}

	if stats, err := p.messages.Stats(ctx); err == nil {
		p.metrics.SetQueueDepth("not_processed", float64(stats.NotProcessed))
		p.metrics.SetQueueDepth("processing", float64(stats.Processing))
		p.metrics.SetQueueDepth("error", float64(stats.Error))
	}
}

// worker is one polling loop over the queue.
type worker struct {
	id   int
	pool *Pool
}

func (w *worker) log() *logrus.Entry {
	return w.pool.logger.WithField("worker", w.id)
}

func (w *worker) run(ctx context.Context) {
	w.log().Info("Worker started")

	for {
		if ctx.Err() != nil {
			w.log().Info("Worker stopped")
			return
		}

		delay := w.pool.cfg.PollInterval
		if err := w.processBatch(ctx); err != nil && !errors.Is(err, context.Canceled) {
			w.log().WithError(err).Error("Worker cycle failed")
			delay = w.pool.cfg.ErrorBackoff
		}

		select {
		case <-ctx.Done():
			w.log().Info("Worker stopped")
			return
		case <-time.After(delay):
		}
	}
}

// processBatch claims and processes up to one batch of ready rows.
func (w *worker) processBatch(ctx context.Context) error {
	batch, err := w.pool.messages.FindUnprocessed(ctx, w.id, w.pool.cfg.BatchSize)
	if err != nil {
		return fmt.Errorf("queue poll failed: %w", err)
	}

	for i := range batch {
		msg := &batch[i]

		// Rows already processing under this worker id are crash-resume
		// leftovers and are still owned; everything else must be claimed.
		if msg.Status != models.StatusProcessing || msg.Worker == nil || *msg.Worker != w.id {
			claimed, err := w.pool.messages.ClaimForWorker(ctx, msg.ID, w.id)
			if err != nil {
				return fmt.Errorf("claim failed: %w", err)
			}
			if !claimed {
				w.pool.metrics.RecordClaim("lost")
				continue
			}
			w.pool.metrics.RecordClaim("won")
		}

		w.processMessage(ctx, msg)
	}
	return nil
}

func (w *worker) processMessage(ctx context.Context, msg *models.Message) {
	log := w.log().WithFields(logrus.Fields{
		"message_id": msg.ID,
		"type":       msg.Type,
	})
	log.Info("Processing message")

	user, err := w.pool.users.FindByID(ctx, msg.UserID)
	if err == nil && user == nil {
		err = fmt.Errorf("user %d not found", msg.UserID)
	}
	if err != nil {
		log.WithError(err).Error("Message rejected")
		w.finish(ctx, msg, err)
		return
	}

	chat, err := w.pool.chats.FindByUserAndIndex(ctx, user.ID, msg.ChatIndex)
	if err == nil && chat == nil {
		err = fmt.Errorf("chat %d not found for user %d", msg.ChatIndex, user.ID)
	}
	if err != nil {
		log.WithError(err).Error("Message rejected")
		w.finish(ctx, msg, err)
		return
	}

	log = logger.WithUser(w.pool.logger, user.ID, msg.ChatIndex).WithFields(logrus.Fields{
		"worker":     w.id,
		"message_id": msg.ID,
		"type":       msg.Type,
	})

	err = w.handleByType(ctx, msg, user, chat)
	if err != nil {
		log.WithError(err).Error("Message processing failed")
		if w.pool.sink != nil && msg.IsRequest() {
			if derr := w.pool.sink.DeliverFailure(ctx, user, err); derr != nil {
				log.WithError(derr).Error("Failed to deliver failure notice")
			}
		}
		w.finish(ctx, msg, err)
		return
	}

	// The gateway mutates tokens, remote ids, and counters in memory;
	// write them back before the row turns terminal.
	if err := w.pool.users.Update(ctx, user); err != nil {
		log.WithError(err).Error("Failed to persist user")
	}
	if err := w.pool.chats.Update(ctx, chat); err != nil {
		log.WithError(err).Error("Failed to persist chat")
	}

	w.finish(ctx, msg, nil)
	log.Info("Message processed")
}

func (w *worker) finish(ctx context.Context, msg *models.Message, processErr error) {
	if processErr == nil {
		if err := w.pool.messages.MarkProcessed(ctx, msg.ID); err != nil {
			w.log().WithError(err).Error("Failed to mark message processed")
			return
		}
		w.pool.metrics.RecordMessageProcessed("success")
		return
	}
	if err := w.pool.messages.MarkError(ctx, msg.ID); err != nil {
		w.log().WithError(err).Error("Failed to mark message errored")
		return
	}
	w.pool.metrics.RecordMessageProcessed("error")
}

func (w *worker) handleByType(ctx context.Context, msg *models.Message, user *models.User, chat *models.Chat) error {
	switch msg.Type {
	case models.TypeStart:
		if chat.BothubChatID == "" {
			return w.pool.chatSession.CreateChat(ctx, user, chat, false)
		}
		return nil

	case models.TypeSendMessage:
		return w.handleSend(ctx, msg, user, chat)

	case models.TypeCreateNewChat:
		return w.pool.chatSession.CreateChat(ctx, user, chat, false)

	case models.TypeResetContext:
		return w.pool.chatSession.ResetContext(ctx, user, chat)

	case models.TypeSaveSystemPrompt:
		return w.pool.chatSession.SaveSystemPrompt(ctx, user, chat, msg.Text)

	case models.TypeVoiceMessage:
		return w.handleVoice(ctx, msg, user, chat)

	default:
		// Unknown types turn terminal instead of staying claimable forever.
		w.log().WithField("type", msg.Type).Warn("Unknown message type")
		return errUnknownType
	}
}

// handleSend routes a text request by the intent recorded at enqueue time
// and stores the response as a new queue row.
func (w *worker) handleSend(ctx context.Context, msg *models.Message, user *models.User, chat *models.Chat) error {
	var result *bothub.SendResult
	var err error

	switch msg.GetData(DataKeyIntent) {
	case IntentWebSearch:
		result, err = w.pool.webSearch.Search(ctx, user, chat, msg.Text)
	case IntentImageGeneration:
		result, err = w.pool.imageGen.GenerateImage(ctx, user, chat, msg.Text, nil)
	default:
		result, err = w.pool.chatSession.SendMessage(ctx, user, chat, msg.Text, nil)
	}
	if err != nil {
		return err
	}
	chat.RefreshBuffer()

	if err := w.storeResponse(ctx, msg, chat, result); err != nil {
		w.log().WithError(err).Error("Failed to store response row")
	}

	if w.pool.sink != nil {
		if err := w.pool.sink.DeliverResponse(ctx, user, chat, result); err != nil {
			w.log().WithError(err).Error("Failed to deliver response")
		}
	}
	return nil
}

// handleVoice transcribes the recorded voice file, stores the text back on
// the row, and answers it like a regular chat message.
func (w *worker) handleVoice(ctx context.Context, msg *models.Message, user *models.User, chat *models.Chat) error {
	fileURL := msg.GetData(DataKeyFileURL)
	if fileURL == "" {
		return fmt.Errorf("voice message %d has no file url", msg.ID)
	}

	text, err := w.pool.chatSession.TranscribeVoice(ctx, user, fileURL)
	if err != nil {
		return err
	}

	msg.Text = text
	if err := w.pool.messages.Update(ctx, msg); err != nil {
		return err
	}

	result, err := w.pool.chatSession.SendMessage(ctx, user, chat, text, nil)
	if err != nil {
		return err
	}

	if err := w.storeResponse(ctx, msg, chat, result); err != nil {
		w.log().WithError(err).Error("Failed to store response row")
	}
	if w.pool.sink != nil {
		if err := w.pool.sink.DeliverResponse(ctx, user, chat, result); err != nil {
			w.log().WithError(err).Error("Failed to deliver response")
		}
	}
	return nil
}

func (w *worker) storeResponse(ctx context.Context, request *models.Message, chat *models.Chat, result *bothub.SendResult) error {
	response := &models.Message{
		UserID:           request.UserID,
		ChatIndex:        request.ChatIndex,
		Direction:        models.DirectionResponse,
		Type:             models.TypeSendMessage,
		Status:           models.StatusProcessed,
		ChatID:           chat.ID,
		Text:             result.Content,
		RelatedMessageID: &request.ID,
	}
	if len(result.Attachments) > 0 {
		if raw, err := json.Marshal(result.Attachments); err == nil {
			response.SetData("attachments", string(raw))
		}
	}
	if result.Tokens > 0 {
		response.SetData("tokens", strconv.Itoa(result.Tokens))
	}
	return w.pool.messages.Save(ctx, response)
}
