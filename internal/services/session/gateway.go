// Package session implements the per-user chat-session orchestration over
// the BotHub API: access-token lifecycle, lazy group/chat creation with
// model fallback, message dispatch, and voice transcription.
package session

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/bothub-tgbot-go/internal/models"
	"github.com/bothub-tgbot-go/internal/services/bothub"
)

// Access tokens live 24h remotely; refresh 10 seconds early so a token never
// expires mid-request.
const tokenLifetime = 86390 * time.Second

// Fallback model ids used when the catalog gives us nothing better.
const (
	fallbackTextModel   = "gpt-3.5-turbo"
	preferredImageModel = "dall-e-2"
	secondaryImageModel = "midjourney"
)

const defaultGroupName = "Telegram"

// Gateway converts a (user, chat, requested action) into a completed remote
// operation. It mutates user/chat fields in memory; persisting them is the
// caller's responsibility.
type Gateway struct {
	client     bothub.API
	webURL     string
	httpClient *http.Client
	tempDir    string
	logger     *logrus.Logger
	now        func() time.Time
}

// NewGateway creates a session gateway.
func NewGateway(client bothub.API, webURL string, logger *logrus.Logger) *Gateway {
	return &Gateway{
		client:     client,
		webURL:     webURL,
		httpClient: &http.Client{Timeout: 60 * time.Second},
		tempDir:    os.TempDir(),
		logger:     logger,
		now:        time.Now,
	}
}

// AccessToken returns a valid token for the user, reusing the cached one
// while it is inside its lifetime and authorizing otherwise. On a fresh
// authorization the remote account id and first group are captured onto the
// user as a chat-bootstrap shortcut. Two concurrent refreshes for one user
// may both succeed; tokens are independently valid, so last write wins.
func (g *Gateway) AccessToken(ctx context.Context, user *models.User) (string, error) {
	if user.BothubAccessToken != "" && user.BothubAccessTokenCreatedAt != nil &&
		g.now().Sub(*user.BothubAccessTokenCreatedAt) < tokenLifetime {
		return user.BothubAccessToken, nil
	}

	g.logger.WithField("user_id", user.ID).Info("Refreshing BotHub access token")

	resp, err := g.client.Authorize(ctx, user.TelegramID, user.DisplayName(), user.BothubID, user.ReferralCode)
	if err != nil {
		return "", fmt.Errorf("authorization failed: %w", err)
	}

	user.SetAccessToken(resp.AccessToken, g.now())

	if user.BothubID == "" {
		user.BothubID = resp.User.ID
		if len(resp.User.Groups) > 0 {
			user.BothubGroupID = resp.User.Groups[0].ID
		}
	}

	return user.BothubAccessToken, nil
}

// EnsureGroup lazily creates the user's remote group. Idempotent.
func (g *Gateway) EnsureGroup(ctx context.Context, user *models.User) error {
	if user.BothubGroupID != "" {
		return nil
	}

	accessToken, err := g.AccessToken(ctx, user)
	if err != nil {
		return err
	}

	g.logger.WithField("user_id", user.ID).Info("Creating BotHub group")
	group, err := g.client.CreateGroup(ctx, accessToken, defaultGroupName)
	if err != nil {
		return fmt.Errorf("group creation failed: %w", err)
	}
	user.BothubGroupID = group.ID
	return nil
}

// EnsureChat makes sure the chat has a live remote counterpart, creating one
// when the remote id is empty. Idempotent.
func (g *Gateway) EnsureChat(ctx context.Context, user *models.User, chat *models.Chat, imageGeneration bool) error {
	if chat.BothubChatID != "" {
		return nil
	}
	return g.CreateChat(ctx, user, chat, imageGeneration)
}

// CreateChat creates a fresh remote chat for the slot, selecting a model and
// falling back when the remote side rejects it. The new remote id and model
// are written onto the chat; the caller persists the row.
func (g *Gateway) CreateChat(ctx context.Context, user *models.User, chat *models.Chat, imageGeneration bool) error {
	accessToken, err := g.AccessToken(ctx, user)
	if err != nil {
		return err
	}
	if err := g.EnsureGroup(ctx, user); err != nil {
		return err
	}

	modelID, err := g.selectModel(ctx, accessToken, user, imageGeneration)
	if err != nil {
		return err
	}

	chatName := g.chatName(imageGeneration)
	resp, err := g.client.CreateChat(ctx, accessToken, user.BothubGroupID, chatName, modelID)
	if err != nil {
		if bothub.ClassifyError(err) != bothub.ErrKindModelNotFound {
			return err
		}
		return g.createChatModelFallback(ctx, accessToken, user, chat, chatName, modelID)
	}

	chat.BothubChatID = resp.ID
	chat.BothubChatModel = modelID

	if !imageGeneration && modelID != "" {
		settings := bothub.DefaultChatSettings(modelID, chat.ContextRemember, chat.SystemPrompt)
		if isGPTModel(modelID) {
			settings.MaxTokens = 4000
		}
		if err := g.client.SaveChatSettings(ctx, accessToken, chat.BothubChatID, settings); err != nil {
			return fmt.Errorf("saving chat settings failed: %w", err)
		}
	}

	return nil
}

// createChatModelFallback handles MODEL_NOT_FOUND from chat creation: re-fetch
// the catalog and retry with the first allowed text model, and as a last
// resort create the chat with no model id at all, recording a fallback id
// locally for display purposes.
func (g *Gateway) createChatModelFallback(ctx context.Context, accessToken string, user *models.User, chat *models.Chat, chatName, rejectedModel string) error {
	g.logger.WithFields(logrus.Fields{
		"user_id": user.ID,
		"model":   rejectedModel,
	}).Warn("Model rejected by BotHub, retrying with catalog model")

	catalog, err := g.client.ListModels(ctx, accessToken)
	if err == nil {
		for _, m := range catalog {
			if !m.IsAllowed || !m.HasFeature(models.FeatureTextToText) || m.ID == rejectedModel {
				continue
			}
			resp, createErr := g.client.CreateChat(ctx, accessToken, user.BothubGroupID, chatName, m.ID)
			if createErr != nil {
				if bothub.ClassifyError(createErr) == bothub.ErrKindModelNotFound {
					continue
				}
				return createErr
			}
			chat.BothubChatID = resp.ID
			chat.BothubChatModel = m.ID
			return nil
		}
	}

	resp, err := g.client.CreateChat(ctx, accessToken, user.BothubGroupID, chatName, "")
	if err != nil {
		return err
	}
	chat.BothubChatID = resp.ID
	chat.BothubChatModel = fallbackTextModel
	return nil
}

// selectModel picks the model id for a new chat. Image chats prefer the
// user's configured image model, then dall-e-2, then midjourney, and fall
// back to a text chat selection when no image model is available. Text chats
// honor the user's stored choice before consulting the catalog; a stale
// choice is corrected by the MODEL_NOT_FOUND fallback in CreateChat.
func (g *Gateway) selectModel(ctx context.Context, accessToken string, user *models.User, imageGeneration bool) (string, error) {
	catalog, err := g.client.ListModels(ctx, accessToken)
	if err != nil {
		g.logger.WithError(err).Warn("Failed to fetch model catalog, using fallback model")
		catalog = nil
	}

	if imageGeneration {
		if user.ImageGenerationModel != "" {
			return user.ImageGenerationModel, nil
		}
		for _, candidate := range []string{preferredImageModel, secondaryImageModel} {
			for _, m := range catalog {
				if m.ID == candidate && m.IsAllowed {
					return candidate, nil
				}
			}
		}
		if len(catalog) == 0 {
			return preferredImageModel, nil
		}
	}

	if user.GPTModel != "" {
		return user.GPTModel, nil
	}
	return pickTextModel(catalog), nil
}

// pickTextModel selects the first TEXT_TO_TEXT model that is both default and
// allowed, then the first allowed one, then the hardcoded fallback.
func pickTextModel(catalog []bothub.ModelInfo) string {
	for _, m := range catalog {
		if m.IsDefault && m.IsAllowed && m.HasFeature(models.FeatureTextToText) {
			return m.ID
		}
	}
	for _, m := range catalog {
		if m.IsAllowed && m.HasFeature(models.FeatureTextToText) {
			return m.ID
		}
	}
	return fallbackTextModel
}

func (g *Gateway) chatName(imageGeneration bool) string {
	stamp := g.now().Format("2006-01-02 15:04:05")
	if imageGeneration {
		return "Telegram Image Chat " + stamp
	}
	return "Telegram Chat " + stamp
}

func isGPTModel(modelID string) bool {
	return len(modelID) >= 4 && modelID[:4] == "gpt-"
}

// SendMessage delivers a user message to the chat's remote counterpart,
// creating the chat first when needed. A stale remote chat id
// (CHAT_NOT_FOUND) is healed by recreating the chat once and retrying the
// send exactly once. On success the chat's context counter is bumped when
// context remembering is on; the caller persists the chat.
func (g *Gateway) SendMessage(ctx context.Context, user *models.User, chat *models.Chat, message string, files []string) (*bothub.SendResult, error) {
	if err := g.EnsureChat(ctx, user, chat, false); err != nil {
		return nil, err
	}

	accessToken, err := g.AccessToken(ctx, user)
	if err != nil {
		return nil, err
	}

	result, err := g.client.SendMessage(ctx, accessToken, chat.BothubChatID, message, files)
	if err != nil {
		if bothub.ClassifyError(err) != bothub.ErrKindChatNotFound {
			return nil, err
		}
		g.logger.WithField("user_id", user.ID).Warn("Remote chat gone, recreating")
		if err := g.CreateChat(ctx, user, chat, false); err != nil {
			return nil, err
		}
		result, err = g.client.SendMessage(ctx, accessToken, chat.BothubChatID, message, files)
		if err != nil {
			return nil, err
		}
	}

	chat.IncrementContextCounter()
	return result, nil
}

// ResetContext clears the remote conversation context and zeroes the local
// counter. A chat without a remote counterpart is simply created fresh.
func (g *Gateway) ResetContext(ctx context.Context, user *models.User, chat *models.Chat) error {
	if chat.BothubChatID == "" {
		return g.CreateChat(ctx, user, chat, false)
	}

	accessToken, err := g.AccessToken(ctx, user)
	if err != nil {
		return err
	}
	if err := g.client.ResetContext(ctx, accessToken, chat.BothubChatID); err != nil {
		return err
	}
	chat.ResetContextCounter()
	return nil
}

// GetWebSearch reads the chat's websearch flag. A chat with no remote
// counterpart has websearch off.
func (g *Gateway) GetWebSearch(ctx context.Context, user *models.User, chat *models.Chat) (bool, error) {
	if chat.BothubChatID == "" {
		return false, nil
	}
	accessToken, err := g.AccessToken(ctx, user)
	if err != nil {
		return false, err
	}
	return g.client.GetWebSearch(ctx, accessToken, chat.BothubChatID)
}

// EnableWebSearch writes the chat's websearch flag, creating the chat first
// when needed. A failed toggle gets one best-effort chat recreation followed
// by one retried toggle.
func (g *Gateway) EnableWebSearch(ctx context.Context, user *models.User, chat *models.Chat, enabled bool) error {
	if err := g.EnsureChat(ctx, user, chat, false); err != nil {
		return err
	}

	accessToken, err := g.AccessToken(ctx, user)
	if err != nil {
		return err
	}

	if err := g.client.EnableWebSearch(ctx, accessToken, chat.BothubChatID, enabled); err != nil {
		g.logger.WithError(err).Warn("Websearch toggle failed, recreating chat")
		if createErr := g.CreateChat(ctx, user, chat, false); createErr != nil {
			return err
		}
		return g.client.EnableWebSearch(ctx, accessToken, chat.BothubChatID, enabled)
	}
	return nil
}

// SaveSystemPrompt pushes the chat's system prompt to the remote side.
func (g *Gateway) SaveSystemPrompt(ctx context.Context, user *models.User, chat *models.Chat, prompt string) error {
	if err := g.EnsureChat(ctx, user, chat, false); err != nil {
		return err
	}
	accessToken, err := g.AccessToken(ctx, user)
	if err != nil {
		return err
	}
	if err := g.client.SaveSystemPrompt(ctx, accessToken, chat.BothubChatID, prompt); err != nil {
		return err
	}
	chat.SystemPrompt = prompt
	return nil
}

// TranscribeVoice downloads a voice file, feeds it to the remote
// transcription endpoint, and returns the text. The temp file is always
// deleted, success or failure.
func (g *Gateway) TranscribeVoice(ctx context.Context, user *models.User, fileURL string) (string, error) {
	accessToken, err := g.AccessToken(ctx, user)
	if err != nil {
		return "", err
	}

	tempPath := filepath.Join(g.tempDir, "voice_"+uuid.NewString()+".oga")
	if err := g.downloadFile(ctx, fileURL, tempPath); err != nil {
		return "", fmt.Errorf("voice download failed: %w", err)
	}
	defer os.Remove(tempPath)

	text, err := g.client.Transcribe(ctx, accessToken, tempPath, "transcriptions")
	if err != nil {
		return "", fmt.Errorf("transcription failed: %w", err)
	}
	return text, nil
}

func (g *Gateway) downloadFile(ctx context.Context, url, dest string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := g.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d downloading file", resp.StatusCode)
	}

	f, err := os.Create(dest)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = io.Copy(f, resp.Body)
	return err
}

// ConnectionLink builds a web URL that links this Telegram identity to an
// existing BotHub account.
func (g *Gateway) ConnectionLink(ctx context.Context, user *models.User) (string, error) {
	accessToken, err := g.AccessToken(ctx, user)
	if err != nil {
		return "", err
	}
	token, err := g.client.GenerateConnectionToken(ctx, accessToken)
	if err != nil {
		return "", fmt.Errorf("connection token generation failed: %w", err)
	}
	return g.webURL + "?telegram-connection-token=" + token, nil
}

// ListModels returns the remote model catalog for the user.
func (g *Gateway) ListModels(ctx context.Context, user *models.User) ([]bothub.ModelInfo, error) {
	accessToken, err := g.AccessToken(ctx, user)
	if err != nil {
		return nil, err
	}
	return g.client.ListModels(ctx, accessToken)
}

// ListPlans returns the remote pricing plans for the user.
func (g *Gateway) ListPlans(ctx context.Context, user *models.User) ([]bothub.PlanInfo, error) {
	accessToken, err := g.AccessToken(ctx, user)
	if err != nil {
		return nil, err
	}
	return g.client.ListPlans(ctx, accessToken)
}
