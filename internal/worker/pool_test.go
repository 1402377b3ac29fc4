package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/bothub-tgbot-go/internal/config"
	"github.com/bothub-tgbot-go/internal/middleware"
	"github.com/bothub-tgbot-go/internal/models"
	"github.com/bothub-tgbot-go/internal/services/bothub"
	"github.com/bothub-tgbot-go/internal/services/intent"
	"github.com/bothub-tgbot-go/internal/services/session"
	"github.com/bothub-tgbot-go/internal/storage"
	"github.com/bothub-tgbot-go/internal/usecase"
)

// stubAPI answers every remote call with canned data so the full
// queue-to-gateway path runs without a network.
type stubAPI struct {
	mu            sync.Mutex
	chatSeq       int
	sent          []string
	createdModels []string
	sendReply     *bothub.SendResult
	sendErr       error
}

func (s *stubAPI) Authorize(ctx context.Context, tgID, name, bothubID, invitedBy string) (*bothub.AuthResponse, error) {
	return &bothub.AuthResponse{
		AccessToken: "stub-token",
		User: bothub.AuthUser{
			ID:     "bh-user",
			Groups: []bothub.AuthGroup{{ID: "bh-group"}},
		},
	}, nil
}

func (s *stubAPI) GetUserInfo(ctx context.Context, accessToken string) (*bothub.AuthUser, error) {
	return &bothub.AuthUser{ID: "bh-user"}, nil
}

func (s *stubAPI) ListModels(ctx context.Context, accessToken string) ([]bothub.ModelInfo, error) {
	return []bothub.ModelInfo{
		{ID: "gpt-4o", Features: []string{"TEXT_TO_TEXT"}, IsDefault: true, IsAllowed: true},
		{ID: "dall-e-2", Features: []string{"TEXT_TO_IMAGE"}, IsAllowed: true},
	}, nil
}

func (s *stubAPI) ListPlans(ctx context.Context, accessToken string) ([]bothub.PlanInfo, error) {
	return nil, nil
}

func (s *stubAPI) CreateGroup(ctx context.Context, accessToken, name string) (*bothub.GroupResponse, error) {
	return &bothub.GroupResponse{ID: "bh-group"}, nil
}

func (s *stubAPI) CreateChat(ctx context.Context, accessToken, groupID, name, modelID string) (*bothub.ChatResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chatSeq++
	s.createdModels = append(s.createdModels, modelID)
	return &bothub.ChatResponse{ID: fmt.Sprintf("chat-%d", s.chatSeq), ModelID: modelID}, nil
}

func (s *stubAPI) SaveChatSettings(ctx context.Context, accessToken, chatID string, settings bothub.ChatSettings) error {
	return nil
}

func (s *stubAPI) SaveSystemPrompt(ctx context.Context, accessToken, chatID, systemPrompt string) error {
	return nil
}

func (s *stubAPI) ResetContext(ctx context.Context, accessToken, chatID string) error {
	return nil
}

func (s *stubAPI) GetWebSearch(ctx context.Context, accessToken, chatID string) (bool, error) {
	return false, nil
}

func (s *stubAPI) EnableWebSearch(ctx context.Context, accessToken, chatID string, enabled bool) error {
	return nil
}

func (s *stubAPI) SendMessage(ctx context.Context, accessToken, chatID, message string, files []string) (*bothub.SendResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, message)
	if s.sendErr != nil {
		return nil, s.sendErr
	}
	if s.sendReply != nil {
		return s.sendReply, nil
	}
	return &bothub.SendResult{Content: "reply to: " + message, Tokens: 5}, nil
}

func (s *stubAPI) GenerateConnectionToken(ctx context.Context, accessToken string) (string, error) {
	return "conn-token", nil
}

func (s *stubAPI) CreateReferralProgram(ctx context.Context, accessToken, templateID string) error {
	return nil
}

func (s *stubAPI) Transcribe(ctx context.Context, accessToken, filePath, method string) (string, error) {
	return "", nil
}

func (s *stubAPI) ClickButton(ctx context.Context, accessToken, buttonID string) error {
	return nil
}

var _ bothub.API = (*stubAPI)(nil)

// recordingSink captures deliveries instead of talking to Telegram.
type recordingSink struct {
	responses []string
	failures  []error
}

func (r *recordingSink) DeliverResponse(ctx context.Context, user *models.User, chat *models.Chat, result *bothub.SendResult) error {
	r.responses = append(r.responses, result.Content)
	return nil
}

func (r *recordingSink) DeliverFailure(ctx context.Context, user *models.User, err error) error {
	r.failures = append(r.failures, err)
	return nil
}

type testEnv struct {
	db       *gorm.DB
	messages *storage.MessageRepo
	users    *storage.UserRepo
	chats    *storage.ChatRepo
	api      *stubAPI
	sink     *recordingSink
	worker   *worker
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	dsn := fmt.Sprintf("file:worker_%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := storage.AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}

	log := logrus.New()
	log.SetOutput(io.Discard)

	api := &stubAPI{}
	gateway := session.NewGateway(api, "https://bothub.chat", log)

	messages := storage.NewMessageRepo(db)
	users := storage.NewUserRepo(db)
	chats := storage.NewChatRepo(db)
	sink := &recordingSink{}

	pool := NewPool(
		config.WorkersConfig{
			Count:           1,
			PollInterval:    10 * time.Millisecond,
			ErrorBackoff:    10 * time.Millisecond,
			BatchSize:       10,
			StuckTimeout:    30 * time.Minute,
			ReclaimInterval: time.Minute,
			Retention:       30 * 24 * time.Hour,
		},
		messages,
		users,
		chats,
		usecase.NewChatSession(gateway, log),
		usecase.NewWebSearch(gateway, log),
		usecase.NewImageGeneration(gateway, log),
		sink,
		middleware.NewMetrics(),
		log,
	)

	return &testEnv{
		db:       db,
		messages: messages,
		users:    users,
		chats:    chats,
		api:      api,
		sink:     sink,
		worker:   &worker{id: 1, pool: pool},
	}
}

func (e *testEnv) seedUserAndChat(t *testing.T) (*models.User, *models.Chat) {
	t.Helper()
	ctx := context.Background()

	user, err := e.users.GetOrCreate(ctx, "42", "Alice", "", "alice", "ru")
	if err != nil {
		t.Fatalf("seed user: %v", err)
	}
	user.SetAccessToken("stub-token", time.Now())
	user.BothubID = "bh-user"
	user.BothubGroupID = "bh-group"
	if err := e.users.Update(ctx, user); err != nil {
		t.Fatalf("update user: %v", err)
	}

	chat, err := e.chats.GetOrCreate(ctx, user, user.CurrentChatIndex)
	if err != nil {
		t.Fatalf("seed chat: %v", err)
	}
	chat.BothubChatID = "chat-remote"
	chat.BothubChatModel = "gpt-4o"
	if err := e.chats.Update(ctx, chat); err != nil {
		t.Fatalf("update chat: %v", err)
	}
	return user, chat
}

func (e *testEnv) enqueue(t *testing.T, user *models.User, chat *models.Chat, msgType models.MessageType, text string, data map[string]string) *models.Message {
	t.Helper()
	msg := &models.Message{
		UserID:    user.ID,
		ChatIndex: chat.ChatIndex,
		Direction: models.DirectionRequest,
		Type:      msgType,
		Status:    models.StatusNotProcessed,
		ChatID:    chat.ID,
		Text:      text,
		SentAt:    time.Now(),
	}
	for k, v := range data {
		msg.SetData(k, v)
	}
	if err := e.messages.Save(context.Background(), msg); err != nil {
		t.Fatalf("save message: %v", err)
	}
	return msg
}

func TestProcessBatchAnswersChatMessage(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user, chat := env.seedUserAndChat(t)

	req := env.enqueue(t, user, chat, models.TypeSendMessage, "привет", nil)

	if err := env.worker.processBatch(ctx); err != nil {
		t.Fatalf("processBatch: %v", err)
	}

	got, err := env.messages.FindByID(ctx, req.ID)
	if err != nil {
		t.Fatalf("reload request: %v", err)
	}
	if got.Status != models.StatusProcessed {
		t.Fatalf("request status = %d", got.Status)
	}

	if len(env.api.sent) != 1 || env.api.sent[0] != "привет" {
		t.Fatalf("sent = %v", env.api.sent)
	}
	if len(env.sink.responses) != 1 || env.sink.responses[0] != "reply to: привет" {
		t.Fatalf("responses = %v", env.sink.responses)
	}

	// A processed response row references the request.
	var responses []models.Message
	if err := env.db.Where("direction = ?", models.DirectionResponse).Find(&responses).Error; err != nil {
		t.Fatalf("load responses: %v", err)
	}
	if len(responses) != 1 {
		t.Fatalf("response rows = %d", len(responses))
	}
	resp := responses[0]
	if resp.RelatedMessageID == nil || *resp.RelatedMessageID != req.ID {
		t.Fatalf("related id = %v", resp.RelatedMessageID)
	}
	if resp.Status != models.StatusProcessed || resp.Text != "reply to: привет" {
		t.Fatalf("response row = %+v", resp)
	}
	if resp.GetData("tokens") != "5" {
		t.Fatalf("tokens = %q", resp.GetData("tokens"))
	}
}

func TestProcessBatchFailureMarksErrorAndNotifies(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user, chat := env.seedUserAndChat(t)

	env.api.sendErr = &bothub.APIError{Status: 402, Message: "NOT_ENOUGH_TOKENS"}
	req := env.enqueue(t, user, chat, models.TypeSendMessage, "привет", nil)

	if err := env.worker.processBatch(ctx); err != nil {
		t.Fatalf("processBatch: %v", err)
	}

	got, _ := env.messages.FindByID(ctx, req.ID)
	if got.Status != models.StatusError {
		t.Fatalf("status = %d", got.Status)
	}
	if len(env.sink.failures) != 1 {
		t.Fatalf("failures = %v", env.sink.failures)
	}
	if bothub.ClassifyError(env.sink.failures[0]) != bothub.ErrKindNotEnoughTokens {
		t.Fatalf("failure kind = %v", env.sink.failures[0])
	}
}

func TestProcessBatchUnknownTypeTurnsTerminal(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user, chat := env.seedUserAndChat(t)

	req := env.enqueue(t, user, chat, models.MessageType(99), "", nil)

	if err := env.worker.processBatch(ctx); err != nil {
		t.Fatalf("processBatch: %v", err)
	}

	got, _ := env.messages.FindByID(ctx, req.ID)
	if got.Status != models.StatusError {
		t.Fatalf("status = %d, unknown types must not stay claimable", got.Status)
	}
}

func TestProcessBatchMissingUserTurnsTerminal(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	msg := &models.Message{
		UserID:    777,
		ChatIndex: 1,
		Direction: models.DirectionRequest,
		Type:      models.TypeSendMessage,
		Status:    models.StatusNotProcessed,
		Text:      "orphan",
		SentAt:    time.Now(),
	}
	if err := env.messages.Save(ctx, msg); err != nil {
		t.Fatalf("save: %v", err)
	}

	if err := env.worker.processBatch(ctx); err != nil {
		t.Fatalf("processBatch: %v", err)
	}

	got, _ := env.messages.FindByID(ctx, msg.ID)
	if got.Status != models.StatusError {
		t.Fatalf("status = %d", got.Status)
	}
	if len(env.api.sent) != 0 {
		t.Fatalf("no remote call expected, sent = %v", env.api.sent)
	}
}

func TestProcessBatchIntentRouting(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user, chat := env.seedUserAndChat(t)

	env.enqueue(t, user, chat, models.TypeSendMessage, "последние новости",
		map[string]string{DataKeyIntent: IntentWebSearch})

	if err := env.worker.processBatch(ctx); err != nil {
		t.Fatalf("processBatch: %v", err)
	}
	if len(env.api.sent) != 1 || env.api.sent[0] != "последние новости" {
		t.Fatalf("sent = %v", env.api.sent)
	}
	if len(env.sink.responses) != 1 {
		t.Fatalf("responses = %v", env.sink.responses)
	}
}

func TestProcessBatchResumesOwnProcessingRow(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user, chat := env.seedUserAndChat(t)

	req := env.enqueue(t, user, chat, models.TypeResetContext, "", nil)

	// Simulate a crash mid-processing under this worker id.
	if claimed, err := env.messages.ClaimForWorker(ctx, req.ID, 1); err != nil || !claimed {
		t.Fatalf("claim: claimed=%v err=%v", claimed, err)
	}

	if err := env.worker.processBatch(ctx); err != nil {
		t.Fatalf("processBatch: %v", err)
	}

	got, _ := env.messages.FindByID(ctx, req.ID)
	if got.Status != models.StatusProcessed {
		t.Fatalf("status = %d, own processing rows must resume", got.Status)
	}
}

func TestProcessBatchImagePhraseEndToEnd(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user, chat := env.seedUserAndChat(t)

	env.api.sendReply = &bothub.SendResult{
		Content: "готово",
		Attachments: []bothub.Attachment{
			{File: "https://cdn.example/sunset.png"},
		},
	}

	detected, payload := intent.Detect("нарисуй закат")
	if detected != intent.ImageGeneration || payload != "закат" {
		t.Fatalf("intent = %s payload = %q", detected, payload)
	}
	req := env.enqueue(t, user, chat, models.TypeSendMessage, payload,
		map[string]string{DataKeyIntent: detected.String()})

	if err := env.worker.processBatch(ctx); err != nil {
		t.Fatalf("processBatch: %v", err)
	}

	// The slot got an image chat for the prompt, then a text chat back.
	if len(env.api.createdModels) != 2 {
		t.Fatalf("created chats = %v", env.api.createdModels)
	}
	if env.api.createdModels[0] != "dall-e-2" {
		t.Fatalf("image chat model = %q", env.api.createdModels[0])
	}
	if len(env.api.sent) != 1 || env.api.sent[0] != "закат" {
		t.Fatalf("sent = %v", env.api.sent)
	}

	var responses []models.Message
	if err := env.db.Where("direction = ?", models.DirectionResponse).Find(&responses).Error; err != nil {
		t.Fatalf("load responses: %v", err)
	}
	if len(responses) != 1 {
		t.Fatalf("response rows = %d", len(responses))
	}
	resp := responses[0]
	if resp.RelatedMessageID == nil || *resp.RelatedMessageID != req.ID {
		t.Fatalf("related id = %v", resp.RelatedMessageID)
	}
	var attachments []bothub.Attachment
	if err := json.Unmarshal([]byte(resp.GetData("attachments")), &attachments); err != nil {
		t.Fatalf("attachments payload: %v", err)
	}
	if len(attachments) != 1 || attachments[0].File != "https://cdn.example/sunset.png" {
		t.Fatalf("attachments = %+v", attachments)
	}
}

func TestProcessBatchClearsChatBuffer(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user, chat := env.seedUserAndChat(t)

	chat.AddToBuffer("привет", "", "")
	if err := env.chats.Update(ctx, chat); err != nil {
		t.Fatalf("update chat: %v", err)
	}

	env.enqueue(t, user, chat, models.TypeSendMessage, "привет", nil)
	if err := env.worker.processBatch(ctx); err != nil {
		t.Fatalf("processBatch: %v", err)
	}

	got, err := env.chats.FindByUserAndIndex(ctx, user.ID, chat.ChatIndex)
	if err != nil {
		t.Fatalf("reload chat: %v", err)
	}
	if got.Buffer != "" {
		t.Fatalf("buffer not cleared after answer: %q", got.Buffer)
	}
}

func TestReclaimPassResetsStuckAndPrunesOld(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user, chat := env.seedUserAndChat(t)

	stuck := env.enqueue(t, user, chat, models.TypeSendMessage, "застрял", nil)
	if claimed, err := env.messages.ClaimForWorker(ctx, stuck.ID, 2); err != nil || !claimed {
		t.Fatalf("claim: claimed=%v err=%v", claimed, err)
	}
	if err := env.db.Model(&models.Message{}).Where("id = ?", stuck.ID).
		Update("parsed_at", time.Now().Add(-31*time.Minute)).Error; err != nil {
		t.Fatalf("age stuck row: %v", err)
	}

	old := env.enqueue(t, user, chat, models.TypeSendMessage, "старый", nil)
	if err := env.messages.MarkProcessed(ctx, old.ID); err != nil {
		t.Fatalf("mark processed: %v", err)
	}
	if err := env.db.Model(&models.Message{}).Where("id = ?", old.ID).
		Update("sent_at", time.Now().Add(-31*24*time.Hour)).Error; err != nil {
		t.Fatalf("age old row: %v", err)
	}

	recent := env.enqueue(t, user, chat, models.TypeSendMessage, "свежий", nil)

	env.worker.pool.reclaimPass(ctx)

	got, _ := env.messages.FindByID(ctx, stuck.ID)
	if got == nil || got.Status != models.StatusNotProcessed || got.Worker != nil {
		t.Fatalf("stuck row = %+v", got)
	}

	if gone, _ := env.messages.FindByID(ctx, old.ID); gone != nil {
		t.Fatalf("row past retention survived: %+v", gone)
	}
	if kept, _ := env.messages.FindByID(ctx, recent.ID); kept == nil {
		t.Fatal("recent open row was pruned")
	}
}
