package usecase

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/bothub-tgbot-go/internal/models"
	"github.com/bothub-tgbot-go/internal/services/bothub"
	"github.com/bothub-tgbot-go/internal/services/session"
	"github.com/bothub-tgbot-go/internal/storage"
)

// ModelSelection lists remote models and persists the user's choices.
type ModelSelection struct {
	gateway *session.Gateway
	catalog *storage.CatalogRepo
	users   *storage.UserRepo
	chats   *storage.ChatRepo
	logger  *logrus.Logger
}

// NewModelSelection creates the model-selection use case.
func NewModelSelection(gateway *session.Gateway, catalog *storage.CatalogRepo, users *storage.UserRepo, chats *storage.ChatRepo, logger *logrus.Logger) *ModelSelection {
	return &ModelSelection{gateway: gateway, catalog: catalog, users: users, chats: chats, logger: logger}
}

// ListTextModels returns the TEXT_TO_TEXT catalog entries, refreshing the
// local mirror on the way.
func (uc *ModelSelection) ListTextModels(ctx context.Context, user *models.User) ([]bothub.ModelInfo, error) {
	return uc.listByFeature(ctx, user, models.FeatureTextToText)
}

// ListImageModels returns the TEXT_TO_IMAGE catalog entries.
func (uc *ModelSelection) ListImageModels(ctx context.Context, user *models.User) ([]bothub.ModelInfo, error) {
	return uc.listByFeature(ctx, user, models.FeatureTextToImage)
}

// listByFeature serves from the remote catalog when reachable, syncing the
// local mirror; when the remote is down the mirror answers instead.
func (uc *ModelSelection) listByFeature(ctx context.Context, user *models.User, feature string) ([]bothub.ModelInfo, error) {
	all, err := uc.SyncCatalog(ctx, user)
	if err != nil {
		local, localErr := uc.catalog.ListModels(ctx)
		if localErr != nil || len(local) == 0 {
			return nil, err
		}
		uc.logger.WithError(err).Warn("Remote catalog unreachable, serving local mirror")
		all = mirrorToRemote(local)
	}

	var out []bothub.ModelInfo
	for _, m := range all {
		if m.HasFeature(feature) {
			out = append(out, m)
		}
	}
	return out, nil
}

// mirrorToRemote converts mirrored rows back to catalog entries. Mirrored
// models were allowed when last synced.
func mirrorToRemote(local []models.Model) []bothub.ModelInfo {
	out := make([]bothub.ModelInfo, 0, len(local))
	for _, m := range local {
		out = append(out, bothub.ModelInfo{
			ID:        m.ID,
			Label:     m.Label,
			MaxTokens: m.MaxTokens,
			Features:  m.FeatureList(),
			IsAllowed: true,
		})
	}
	return out
}

// SelectChatModel persists a model choice for the chat and the user, then
// provisions a fresh remote chat running that model.
func (uc *ModelSelection) SelectChatModel(ctx context.Context, user *models.User, chat *models.Chat, modelID string) error {
	uc.logger.WithFields(logrus.Fields{
		"user_id": user.ID,
		"model":   modelID,
	}).Info("Selecting chat model")

	chat.BothubChatModel = modelID
	chat.ResetContextCounter()
	user.GPTModel = modelID

	if err := uc.gateway.CreateChat(ctx, user, chat, false); err != nil {
		return err
	}

	if err := uc.chats.Update(ctx, chat); err != nil {
		return err
	}
	return uc.users.Update(ctx, user)
}

// SelectImageModel persists the user's preferred image-generation model.
func (uc *ModelSelection) SelectImageModel(ctx context.Context, user *models.User, modelID string) error {
	user.ImageGenerationModel = modelID
	return uc.users.Update(ctx, user)
}

// SyncCatalog refreshes the local model and plan mirrors from the remote
// catalog, deleting local rows the remote no longer exposes, and returns the
// remote model list.
func (uc *ModelSelection) SyncCatalog(ctx context.Context, user *models.User) ([]bothub.ModelInfo, error) {
	remoteModels, err := uc.gateway.ListModels(ctx, user)
	if err != nil {
		return nil, err
	}
	mirror := make([]models.Model, 0, len(remoteModels))
	for _, m := range remoteModels {
		entry := models.Model{
			ID:        m.ID,
			Label:     m.Label,
			MaxTokens: m.MaxTokens,
		}
		entry.SetFeatures(m.Features)
		mirror = append(mirror, entry)
	}
	if err := uc.catalog.SyncModels(ctx, mirror); err != nil {
		return nil, err
	}

	remotePlans, err := uc.gateway.ListPlans(ctx, user)
	if err != nil {
		// Plans are auxiliary; a failed plan sync must not undo the model sync.
		uc.logger.WithError(err).Warn("Plan catalog sync failed")
		return remoteModels, nil
	}
	plans := make([]models.Plan, 0, len(remotePlans))
	for _, p := range remotePlans {
		plans = append(plans, models.Plan{
			BothubID: p.ID,
			Type:     p.Type,
			Price:    p.Price,
			Currency: p.Currency,
			Tokens:   p.Tokens,
		})
	}
	if err := uc.catalog.SyncPlans(ctx, plans); err != nil {
		uc.logger.WithError(err).Warn("Plan catalog sync failed")
	}
	return remoteModels, nil
}
