// Package webhook exposes the HTTP endpoint BotHub calls back into: account
// merges and token gifts. Every request must carry the shared secret header;
// nothing is processed before that check passes.
package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/bothub-tgbot-go/internal/middleware"
	"github.com/bothub-tgbot-go/internal/storage"
	"github.com/bothub-tgbot-go/internal/usecase"
)

const secretHeader = "botsecretkey"

// Event is the envelope BotHub posts. Fields beyond Type are event-specific.
type Event struct {
	Type string `json:"type"`

	// merge
	OldID string `json:"oldId"`
	NewID string `json:"newId"`
	Email string `json:"email"`

	// present / presentViaEmail
	UserID     string `json:"userId"`
	FromUserID string `json:"fromUserId"`
	Tokens     int    `json:"tokens"`

	// message
	ChatID  string `json:"chatId"`
	Content string `json:"content"`
}

// Server handles BotHub platform callbacks.
type Server struct {
	secret   string
	users    *storage.UserRepo
	presents *usecase.Present
	metrics  *middleware.Metrics
	logger   *logrus.Logger

	httpServer *http.Server
}

func NewServer(port int, secret string, users *storage.UserRepo, presents *usecase.Present, metrics *middleware.Metrics, logger *logrus.Logger) *Server {
	s := &Server{
		secret:   secret,
		users:    users,
		presents: presents,
		metrics:  metrics,
		logger:   logger,
	}

	router := mux.NewRouter()
	router.HandleFunc("/bothub-webhook", s.handleEvent).Methods(http.MethodPost)

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return s
}

// Start blocks serving webhook requests until the listener fails or Shutdown
// is called.
func (s *Server) Start() error {
	s.logger.WithField("addr", s.httpServer.Addr).Info("Starting webhook server")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("webhook server failed: %w", err)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Stopping webhook server")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleEvent(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get(secretHeader) != s.secret {
		s.logger.WithField("remote", r.RemoteAddr).Warn("Webhook rejected: bad secret")
		s.metrics.RecordWebhook("unknown", "forbidden")
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	var event Event
	if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
		s.metrics.RecordWebhook("unknown", "bad_request")
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}

	log := s.logger.WithField("event_type", event.Type)

	var err error
	var badRequest bool
	switch event.Type {
	case "merge":
		badRequest, err = s.handleMerge(r.Context(), &event)
	case "present":
		badRequest, err = s.handlePresent(r.Context(), event.UserID, event.Tokens)
	case "presentViaEmail":
		badRequest, err = s.handlePresent(r.Context(), event.FromUserID, event.Tokens)
	case "message":
		// Platform-originated chat messages have no delivery path here yet;
		// acknowledge so BotHub stops retrying.
		log.WithField("chat_id", event.ChatID).Info("Webhook message event ignored")
	default:
		log.Warn("Unknown webhook event type")
	}

	switch {
	case badRequest:
		s.metrics.RecordWebhook(event.Type, "bad_request")
		http.Error(w, "missing fields", http.StatusBadRequest)
	case err != nil:
		log.WithError(err).Error("Webhook event failed")
		s.metrics.RecordWebhook(event.Type, "error")
		http.Error(w, "internal error", http.StatusInternalServerError)
	default:
		s.metrics.RecordWebhook(event.Type, "ok")
		w.WriteHeader(http.StatusOK)
	}
}

// handleMerge re-links a user to their merged BotHub account. The cached
// token belongs to the old account, so it is dropped and the group is
// re-created lazily on next use.
func (s *Server) handleMerge(ctx context.Context, event *Event) (bool, error) {
	if event.OldID == "" || event.NewID == "" {
		return true, nil
	}

	user, err := s.users.FindByBothubID(ctx, event.OldID)
	if err != nil {
		return false, err
	}
	if user == nil {
		s.logger.WithField("bothub_id", event.OldID).Warn("Merge target not found")
		return false, nil
	}

	user.BothubID = event.NewID
	user.BothubGroupID = ""
	user.ClearAccessToken()
	if event.Email != "" {
		user.Email = event.Email
	}
	if err := s.users.Update(ctx, user); err != nil {
		return false, err
	}

	s.logger.WithFields(logrus.Fields{
		"user_id":   user.ID,
		"bothub_id": event.NewID,
	}).Info("Accounts merged")
	return false, nil
}

func (s *Server) handlePresent(ctx context.Context, bothubID string, tokens int) (bool, error) {
	if bothubID == "" || tokens <= 0 {
		return true, nil
	}

	user, err := s.users.FindByBothubID(ctx, bothubID)
	if err != nil {
		return false, err
	}
	if user == nil {
		s.logger.WithField("bothub_id", bothubID).Warn("Present target not found")
		return false, nil
	}

	_, err = s.presents.AddPresent(ctx, user, tokens)
	return false, err
}
