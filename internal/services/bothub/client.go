// Package bothub wraps the BotHub REST API: request building, retry with
// fixed backoff for transport failures, and normalization of remote
// application errors.
package bothub

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/bothub-tgbot-go/internal/config"
	"github.com/bothub-tgbot-go/internal/middleware"
)

// requestQuery identifies the request origin platform on every call.
const requestQuery = "?request_from=telegram&platform=TELEGRAM"

// API is the remote surface the session layer depends on.
type API interface {
	Authorize(ctx context.Context, tgID, name, bothubID, invitedBy string) (*AuthResponse, error)
	GetUserInfo(ctx context.Context, accessToken string) (*AuthUser, error)
	ListModels(ctx context.Context, accessToken string) ([]ModelInfo, error)
	ListPlans(ctx context.Context, accessToken string) ([]PlanInfo, error)
	CreateGroup(ctx context.Context, accessToken, name string) (*GroupResponse, error)
	CreateChat(ctx context.Context, accessToken, groupID, name, modelID string) (*ChatResponse, error)
	SaveChatSettings(ctx context.Context, accessToken, chatID string, settings ChatSettings) error
	SaveSystemPrompt(ctx context.Context, accessToken, chatID, systemPrompt string) error
	ResetContext(ctx context.Context, accessToken, chatID string) error
	GetWebSearch(ctx context.Context, accessToken, chatID string) (bool, error)
	EnableWebSearch(ctx context.Context, accessToken, chatID string, enabled bool) error
	SendMessage(ctx context.Context, accessToken, chatID, message string, files []string) (*SendResult, error)
	GenerateConnectionToken(ctx context.Context, accessToken string) (string, error)
	CreateReferralProgram(ctx context.Context, accessToken, templateID string) error
	Transcribe(ctx context.Context, accessToken, filePath, method string) (string, error)
	ClickButton(ctx context.Context, accessToken, buttonID string) error
}

// Client is the stateless HTTP client for the BotHub API.
type Client struct {
	baseURL     string
	secretKey   string
	httpClient  *http.Client
	timeout     time.Duration
	sendTimeout time.Duration
	retryCount  int
	retryDelay  time.Duration
	metrics     *middleware.Metrics
	logger      *logrus.Logger
}

var _ API = (*Client)(nil)

// NewClient creates a BotHub API client. The metrics handle may be nil.
func NewClient(cfg *config.BothubConfig, metrics *middleware.Metrics, logger *logrus.Logger) *Client {
	return &Client{
		baseURL:     strings.TrimSuffix(cfg.APIURL, "/"),
		secretKey:   cfg.SecretKey,
		httpClient:  &http.Client{},
		timeout:     cfg.Timeout,
		sendTimeout: cfg.SendTimeout,
		retryCount:  cfg.RetryCount,
		retryDelay:  cfg.RetryDelay,
		metrics:     metrics,
		logger:      logger,
	}
}

// recordAPI observes one HTTP round trip against the remote API.
func (c *Client) recordAPI(path, status string, start time.Time) {
	if c.metrics != nil {
		c.metrics.RecordAPIRequest(path, status, time.Since(start))
	}
}

func (c *Client) url(path string) string {
	return fmt.Sprintf("%s/api/%s%s", c.baseURL, path, requestQuery)
}

// doJSON performs one logical JSON request. Transport failures are retried up
// to the configured attempt count with a fixed delay; remote application
// errors (APIError) propagate immediately since they indicate a semantic
// failure, not a transient one.
func (c *Client) doJSON(ctx context.Context, method, path, accessToken string, headers map[string]string, body, out interface{}) error {
	return c.doJSONWith(ctx, method, path, accessToken, headers, body, out, c.timeout)
}

func (c *Client) doJSONWith(ctx context.Context, method, path, accessToken string, headers map[string]string, body, out interface{}, timeout time.Duration) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
	}

	var lastErr error
	for attempt := 1; attempt <= c.retryCount; attempt++ {
		err := c.attemptJSON(ctx, method, path, accessToken, headers, payload, out, timeout)
		if err == nil {
			return nil
		}
		if _, isAPI := IsAPIError(err); isAPI {
			return err
		}
		lastErr = err
		c.logger.WithFields(logrus.Fields{
			"method":  method,
			"path":    path,
			"attempt": attempt,
			"error":   err.Error(),
		}).Warn("BotHub request failed, retrying")

		if attempt < c.retryCount {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.retryDelay):
			}
		}
	}
	return fmt.Errorf("bothub request failed after %d attempts: %w", c.retryCount, lastErr)
}

func (c *Client) attemptJSON(ctx context.Context, method, path, accessToken string, headers map[string]string, payload []byte, out interface{}, timeout time.Duration) error {
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(reqCtx, method, c.url(path), reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+accessToken)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.recordAPI(path, "transport_error", start)
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()
	c.recordAPI(path, strconv.Itoa(resp.StatusCode), start)

	return c.decodeResponse(resp, out)
}

// decodeResponse normalizes the response: non-2xx statuses and bodies
// carrying an error/errors field both become an APIError with the raw remote
// message preserved.
func (c *Client) decodeResponse(resp *http.Response, out interface{}) error {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode >= 300 {
		message := strings.TrimSpace(string(body))
		if resp.StatusCode == http.StatusBadGateway {
			message = "502 Bad Gateway: BotHub is temporarily unavailable"
		}
		return &APIError{Status: resp.StatusCode, Message: message}
	}

	var probe struct {
		Error  json.RawMessage `json:"error"`
		Errors json.RawMessage `json:"errors"`
	}
	if err := json.Unmarshal(body, &probe); err == nil {
		if isPresent(probe.Error) || isPresent(probe.Errors) {
			return &APIError{Status: resp.StatusCode, Message: strings.TrimSpace(string(body))}
		}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

func isPresent(raw json.RawMessage) bool {
	s := strings.TrimSpace(string(raw))
	return s != "" && s != "null"
}

// Authorize exchanges a Telegram identity for an access token. The bothubID
// and invitedBy fields are optional and omitted when empty.
func (c *Client) Authorize(ctx context.Context, tgID, name, bothubID, invitedBy string) (*AuthResponse, error) {
	data := map[string]interface{}{"name": name}
	if tgID != "" {
		data["tg_id"] = tgID
	}
	if bothubID != "" {
		data["id"] = bothubID
	}
	if invitedBy != "" {
		data["invitedBy"] = invitedBy
	}

	headers := map[string]string{"botsecretkey": c.secretKey}

	var out AuthResponse
	if err := c.doJSON(ctx, http.MethodPost, "v2/auth/telegram", "", headers, data, &out); err != nil {
		c.logger.WithError(err).Error("BotHub authorization failed")
		return nil, err
	}
	return &out, nil
}

// GetUserInfo returns the account snapshot for the token's owner.
func (c *Client) GetUserInfo(ctx context.Context, accessToken string) (*AuthUser, error) {
	var out AuthUser
	if err := c.doJSON(ctx, http.MethodGet, "v2/auth/me", accessToken, nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListModels returns the remote model catalog.
func (c *Client) ListModels(ctx context.Context, accessToken string) ([]ModelInfo, error) {
	var out []ModelInfo
	if err := c.doJSON(ctx, http.MethodGet, "v2/model/list", accessToken, nil, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ListPlans returns the remote pricing plans.
func (c *Client) ListPlans(ctx context.Context, accessToken string) ([]PlanInfo, error) {
	var out []PlanInfo
	if err := c.doJSON(ctx, http.MethodGet, "v2/plan/list", accessToken, nil, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// CreateGroup creates a remote chat group.
func (c *Client) CreateGroup(ctx context.Context, accessToken, name string) (*GroupResponse, error) {
	var out GroupResponse
	data := map[string]interface{}{"name": name}
	if err := c.doJSON(ctx, http.MethodPost, "v2/group", accessToken, nil, data, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateChat creates a remote chat. groupID and modelID are optional; an
// empty modelID lets the remote side pick its own default.
func (c *Client) CreateChat(ctx context.Context, accessToken, groupID, name, modelID string) (*ChatResponse, error) {
	data := map[string]interface{}{"name": name}
	if groupID != "" {
		data["groupId"] = groupID
	}
	if modelID != "" {
		data["modelId"] = modelID
	}

	c.logger.WithFields(logrus.Fields{
		"group_id": groupID,
		"model_id": modelID,
	}).Info("Creating BotHub chat")

	var out ChatResponse
	if err := c.doJSON(ctx, http.MethodPost, "v2/chat", accessToken, nil, data, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SaveChatSettings writes the chat settings block.
func (c *Client) SaveChatSettings(ctx context.Context, accessToken, chatID string, settings ChatSettings) error {
	return c.doJSON(ctx, http.MethodPatch, "v2/chat/"+chatID+"/settings", accessToken, nil, settings, nil)
}

// SaveSystemPrompt updates only the chat's system prompt.
func (c *Client) SaveSystemPrompt(ctx context.Context, accessToken, chatID, systemPrompt string) error {
	data := map[string]interface{}{"system_prompt": systemPrompt}
	return c.doJSON(ctx, http.MethodPatch, "v2/chat/"+chatID+"/settings", accessToken, nil, data, nil)
}

// ResetContext clears the remote conversation context.
func (c *Client) ResetContext(ctx context.Context, accessToken, chatID string) error {
	return c.doJSON(ctx, http.MethodPut, "v2/chat/"+chatID+"/clear-context", accessToken, nil, nil, nil)
}

// GetWebSearch reads the per-chat websearch flag.
func (c *Client) GetWebSearch(ctx context.Context, accessToken, chatID string) (bool, error) {
	var out struct {
		Text struct {
			EnableWebSearch bool `json:"enable_web_search"`
		} `json:"text"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "v2/chat/"+chatID+"/settings", accessToken, nil, nil, &out); err != nil {
		return false, err
	}
	return out.Text.EnableWebSearch, nil
}

// EnableWebSearch writes the per-chat websearch flag.
func (c *Client) EnableWebSearch(ctx context.Context, accessToken, chatID string, enabled bool) error {
	data := map[string]interface{}{"enable_web_search": enabled}
	return c.doJSON(ctx, http.MethodPatch, "v2/chat/"+chatID+"/settings", accessToken, nil, data, nil)
}

// sendMessageResponse is the raw wire shape of POST message/send.
type sendMessageResponse struct {
	Content string `json:"content"`
	Images  []struct {
		Original   string   `json:"original"`
		OriginalID string   `json:"original_id"`
		Status     string   `json:"status"`
		Buttons    []Button `json:"buttons"`
	} `json:"images"`
	Attachments []Attachment `json:"attachments"`
	Transaction struct {
		Amount float64 `json:"amount"`
	} `json:"transaction"`
}

// SendMessage sends a user message to a remote chat and normalizes the
// response. Files, when present, are streamed as multipart fields; the caller
// owns the temp files and deletes them afterward.
func (c *Client) SendMessage(ctx context.Context, accessToken, chatID, message string, files []string) (*SendResult, error) {
	var raw sendMessageResponse
	if len(files) == 0 {
		data := map[string]interface{}{
			"chatId":  chatID,
			"message": message,
			"stream":  false,
		}
		if err := c.doJSONWith(ctx, http.MethodPost, "v2/message/send", accessToken, nil, data, &raw, c.sendTimeout); err != nil {
			return nil, err
		}
	} else {
		fields := map[string]string{
			"chatId":  chatID,
			"message": message,
			"stream":  "false",
		}
		if err := c.doMultipart(ctx, "v2/message/send", accessToken, fields, "files", files, &raw); err != nil {
			return nil, err
		}
	}

	result := &SendResult{
		Content: raw.Content,
		Tokens:  int(raw.Transaction.Amount),
	}
	for _, img := range raw.Images {
		if img.Original != "" && img.OriginalID != "" && img.Status == "DONE" {
			result.Attachments = append(result.Attachments, Attachment{
				File:    img.Original,
				FileID:  img.OriginalID,
				Buttons: img.Buttons,
			})
		}
	}
	if len(result.Attachments) == 0 && len(raw.Attachments) > 0 {
		result.Attachments = raw.Attachments
	}
	return result, nil
}

// GenerateConnectionToken returns a one-time token linking this Telegram
// identity to an existing web account.
func (c *Client) GenerateConnectionToken(ctx context.Context, accessToken string) (string, error) {
	var out ConnectionTokenResponse
	if err := c.doJSON(ctx, http.MethodGet, "v2/auth/telegram-connection-token", accessToken, nil, nil, &out); err != nil {
		return "", err
	}
	if out.TelegramConnectionToken == "" {
		return "", fmt.Errorf("empty telegram connection token in response")
	}
	return out.TelegramConnectionToken, nil
}

// CreateReferralProgram creates a referral program from a template.
func (c *Client) CreateReferralProgram(ctx context.Context, accessToken, templateID string) error {
	data := map[string]interface{}{"templateId": templateID}
	return c.doJSON(ctx, http.MethodPost, "v2/referral", accessToken, nil, data, nil)
}

// Transcribe uploads an audio file for speech-to-text. Method is
// "transcriptions" or "translations".
func (c *Client) Transcribe(ctx context.Context, accessToken, filePath, method string) (string, error) {
	if method == "" {
		method = "transcriptions"
	}
	var out struct {
		Text string `json:"text"`
	}
	fields := map[string]string{"model": "whisper-1"}
	path := "v2/openai/v1/audio/" + method
	if err := c.doMultipart(ctx, path, accessToken, fields, "file", []string{filePath}, &out); err != nil {
		return "", err
	}
	if out.Text == "" {
		return "", fmt.Errorf("no text in transcription response")
	}
	return out.Text, nil
}

// ClickButton activates an inline button on a generated message.
func (c *Client) ClickButton(ctx context.Context, accessToken, buttonID string) error {
	return c.doJSON(ctx, http.MethodPost, "v2/message/button/"+buttonID+"/click", accessToken, nil, nil, nil)
}

// doMultipart uploads local files as a multipart form. Uploads are not
// retried: the caller may already have consumed or deleted the temp files.
func (c *Client) doMultipart(ctx context.Context, path, accessToken string, fields map[string]string, fileField string, files []string, out interface{}) error {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	for k, v := range fields {
		if err := writer.WriteField(k, v); err != nil {
			return fmt.Errorf("failed to write form field: %w", err)
		}
	}
	for _, filePath := range files {
		f, err := os.Open(filePath)
		if err != nil {
			return fmt.Errorf("failed to open upload file: %w", err)
		}
		part, err := writer.CreateFormFile(fileField, filepath.Base(filePath))
		if err != nil {
			f.Close()
			return fmt.Errorf("failed to create form file: %w", err)
		}
		if _, err := io.Copy(part, f); err != nil {
			f.Close()
			return fmt.Errorf("failed to copy upload file: %w", err)
		}
		f.Close()
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to finalize form: %w", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.sendTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.url(path), &buf)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	if accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+accessToken)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.recordAPI(path, "transport_error", start)
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()
	c.recordAPI(path, strconv.Itoa(resp.StatusCode), start)

	return c.decodeResponse(resp, out)
}
