// Package state keeps short-lived per-user data outside the database: the
// dialog step a user is in (awaiting a system prompt, picking a model) and a
// cached copy of the remote model catalog. Backed by redis or an in-process
// cache, selected by configuration.
package state

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/patrickmn/go-cache"
	"github.com/sirupsen/logrus"

	"github.com/bothub-tgbot-go/internal/config"
	"github.com/bothub-tgbot-go/internal/services/bothub"
)

// Dialog states the bot tracks between updates.
const (
	StateAwaitingSystemPrompt = "awaiting_system_prompt"
	StateAwaitingChatModel    = "awaiting_chat_model"
	StateAwaitingImageModel   = "awaiting_image_model"
)

const modelListTTL = 5 * time.Minute

// Store holds volatile per-user state.
type Store interface {
	GetDialogState(ctx context.Context, userID int64) (string, error)
	SetDialogState(ctx context.Context, userID int64, state string) error
	ClearDialogState(ctx context.Context, userID int64) error

	GetModelList(ctx context.Context, userID int64) ([]bothub.ModelInfo, error)
	SaveModelList(ctx context.Context, userID int64, models []bothub.ModelInfo) error
}

// NewStore builds the backend named by cfg.Type.
func NewStore(cfg config.StateConfig, logger *logrus.Logger) (Store, error) {
	switch cfg.Type {
	case "redis":
		return newRedisStore(cfg.Redis, logger)
	case "memory", "":
		return newMemoryStore(cfg.Memory), nil
	default:
		return nil, fmt.Errorf("unsupported state backend: %s", cfg.Type)
	}
}

func dialogKey(userID int64) string { return fmt.Sprintf("dialog_state:%d", userID) }
func modelsKey(userID int64) string { return fmt.Sprintf("model_list:%d", userID) }

type redisStore struct {
	client *redis.Client
	logger *logrus.Logger
}

func newRedisStore(cfg config.RedisConfig, logger *logrus.Logger) (*redisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.WithField("addr", cfg.Addr).Info("Connected to redis state backend")
	return &redisStore{client: client, logger: logger}, nil
}

func (r *redisStore) GetDialogState(ctx context.Context, userID int64) (string, error) {
	value, err := r.client.Get(ctx, dialogKey(userID)).Result()
	if err == redis.Nil {
		return "", nil
	}
	return value, err
}

func (r *redisStore) SetDialogState(ctx context.Context, userID int64, state string) error {
	return r.client.Set(ctx, dialogKey(userID), state, time.Hour).Err()
}

func (r *redisStore) ClearDialogState(ctx context.Context, userID int64) error {
	return r.client.Del(ctx, dialogKey(userID)).Err()
}

func (r *redisStore) GetModelList(ctx context.Context, userID int64) ([]bothub.ModelInfo, error) {
	data, err := r.client.Get(ctx, modelsKey(userID)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var models []bothub.ModelInfo
	if err := json.Unmarshal([]byte(data), &models); err != nil {
		return nil, err
	}
	return models, nil
}

func (r *redisStore) SaveModelList(ctx context.Context, userID int64, models []bothub.ModelInfo) error {
	data, err := json.Marshal(models)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, modelsKey(userID), data, modelListTTL).Err()
}

type memoryStore struct {
	states *cache.Cache
	models *cache.Cache
}

func newMemoryStore(cfg config.MemoryConfig) *memoryStore {
	expiration := cfg.DefaultExpiration
	if expiration == 0 {
		expiration = time.Hour
	}
	cleanup := cfg.CleanupInterval
	if cleanup == 0 {
		cleanup = 10 * time.Minute
	}
	return &memoryStore{
		states: cache.New(expiration, cleanup),
		models: cache.New(modelListTTL, cleanup),
	}
}

func (m *memoryStore) GetDialogState(ctx context.Context, userID int64) (string, error) {
	if val, found := m.states.Get(dialogKey(userID)); found {
		return val.(string), nil
	}
	return "", nil
}

func (m *memoryStore) SetDialogState(ctx context.Context, userID int64, state string) error {
	m.states.SetDefault(dialogKey(userID), state)
	return nil
}

func (m *memoryStore) ClearDialogState(ctx context.Context, userID int64) error {
	m.states.Delete(dialogKey(userID))
	return nil
}

func (m *memoryStore) GetModelList(ctx context.Context, userID int64) ([]bothub.ModelInfo, error) {
	if val, found := m.models.Get(modelsKey(userID)); found {
		return val.([]bothub.ModelInfo), nil
	}
	return nil, nil
}

func (m *memoryStore) SaveModelList(ctx context.Context, userID int64, models []bothub.ModelInfo) error {
	m.models.SetDefault(modelsKey(userID), models)
	return nil
}
