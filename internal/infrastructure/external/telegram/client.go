// Package telegram implements a minimal Telegram Bot API client: the methods
// the eco-tracker bot needs for long polling, webhooks, inline keyboards and
// callback answers.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/ecotracker/eco-tracker-bot/pkg/retry"
)

// ══════════════════════════════════════════════════════════════════════════════
// CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// ClientConfig contains configuration for the Telegram client.
type ClientConfig struct {
	Token string

	// BaseURL defaults to https://api.telegram.org.
	BaseURL string

	// Timeout bounds one HTTP round trip. It must exceed PollTimeout.
	Timeout time.Duration

	// RetryAttempts counts the first attempt too.
	RetryAttempts int
	RetryDelay    time.Duration

	// PollTimeout is the getUpdates long-poll timeout in seconds.
	PollTimeout int

	Logger *slog.Logger
}

// DefaultClientConfig returns the production settings.
func DefaultClientConfig(token string) ClientConfig {
	return ClientConfig{
		Token:         token,
		BaseURL:       "https://api.telegram.org",
		Timeout:       60 * time.Second,
		RetryAttempts: 3,
		RetryDelay:    500 * time.Millisecond,
		PollTimeout:   30,
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// TELEGRAM API TYPES
// Only the fields the bot reads.
// ══════════════════════════════════════════════════════════════════════════════

type Update struct {
	UpdateID      int64          `json:"update_id"`
	Message       *Message       `json:"message,omitempty"`
	CallbackQuery *CallbackQuery `json:"callback_query,omitempty"`
}

type Message struct {
	MessageID int             `json:"message_id"`
	From      *User           `json:"from,omitempty"`
	Chat      *Chat           `json:"chat"`
	Text      string          `json:"text,omitempty"`
	Entities  []MessageEntity `json:"entities,omitempty"`
}

type User struct {
	ID        int64  `json:"id"`
	IsBot     bool   `json:"is_bot"`
	FirstName string `json:"first_name"`
	Username  string `json:"username,omitempty"`
}

type Chat struct {
	ID   int64  `json:"id"`
	Type string `json:"type"`
}

// MessageEntity marks a span of Message.Text; the bot only looks for
// "bot_command" at offset 0.
type MessageEntity struct {
	Type   string `json:"type"`
	Offset int    `json:"offset"`
	Length int    `json:"length"`
}

// CallbackQuery is an inline button press.
type CallbackQuery struct {
	ID      string   `json:"id"`
	From    *User    `json:"from"`
	Message *Message `json:"message,omitempty"`
	Data    string   `json:"data,omitempty"`
}

type InlineKeyboardMarkup struct {
	InlineKeyboard [][]InlineKeyboardButton `json:"inline_keyboard"`
}

type InlineKeyboardButton struct {
	Text         string `json:"text"`
	CallbackData string `json:"callback_data"`
}

// BotCommand is an entry of the bot's command menu.
type BotCommand struct {
	Command     string `json:"command"`
	Description string `json:"description"`
}

// apiResponse is the envelope of every Bot API reply.
type apiResponse struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result,omitempty"`
	Description string          `json:"description,omitempty"`
	ErrorCode   int             `json:"error_code,omitempty"`
	Parameters  *struct {
		RetryAfter int `json:"retry_after,omitempty"`
	} `json:"parameters,omitempty"`
}

// ══════════════════════════════════════════════════════════════════════════════
// CLIENT
// ══════════════════════════════════════════════════════════════════════════════

// Client is the Telegram Bot API client. It is safe for concurrent use;
// StartPolling must run in a single goroutine.
type Client struct {
	config     ClientConfig
	httpClient *http.Client
	retrier    *retry.Retrier
	logger     *slog.Logger
}

// NewClient creates a new Telegram client.
func NewClient(config ClientConfig) *Client {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.BaseURL == "" {
		config.BaseURL = "https://api.telegram.org"
	}
	if config.RetryAttempts <= 0 {
		config.RetryAttempts = 1
	}
	if config.PollTimeout <= 0 {
		config.PollTimeout = 30
	}

	return &Client{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
		retrier:    retry.TelegramRetrier(config.RetryAttempts, config.RetryDelay),
		logger:     config.Logger.With("component", "telegram_client"),
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// MESSAGES
// ══════════════════════════════════════════════════════════════════════════════

// SendMessageParams describes a new message.
type SendMessageParams struct {
	ChatID      int64
	Text        string
	ParseMode   string
	ReplyMarkup *InlineKeyboardMarkup
}

type textRequest struct {
	ChatID                int64                 `json:"chat_id"`
	MessageID             int                   `json:"message_id,omitempty"`
	Text                  string                `json:"text"`
	ParseMode             string                `json:"parse_mode,omitempty"`
	DisableWebPagePreview bool                  `json:"disable_web_page_preview"`
	ReplyMarkup           *InlineKeyboardMarkup `json:"reply_markup,omitempty"`
}

// SendMessage sends a text message and returns it with its id.
func (c *Client) SendMessage(ctx context.Context, params SendMessageParams) (*Message, error) {
	req := textRequest{
		ChatID:                params.ChatID,
		Text:                  params.Text,
		ParseMode:             params.ParseMode,
		DisableWebPagePreview: true,
		ReplyMarkup:           params.ReplyMarkup,
	}

	var message Message
	if err := c.callAPI(ctx, "sendMessage", req, &message); err != nil {
		return nil, fmt.Errorf("send message: %w", err)
	}
	return &message, nil
}

// EditMessageTextParams describes an in-place edit.
type EditMessageTextParams struct {
	ChatID      int64
	MessageID   int
	Text        string
	ParseMode   string
	ReplyMarkup *InlineKeyboardMarkup
}

// EditMessageText replaces the text and keyboard of a message. Editing a
// message into its current content is not an error.
func (c *Client) EditMessageText(ctx context.Context, params EditMessageTextParams) error {
	req := textRequest{
		ChatID:                params.ChatID,
		MessageID:             params.MessageID,
		Text:                  params.Text,
		ParseMode:             params.ParseMode,
		DisableWebPagePreview: true,
		ReplyMarkup:           params.ReplyMarkup,
	}

	err := c.callAPI(ctx, "editMessageText", req, nil)
	if isMessageNotModified(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("edit message text: %w", err)
	}
	return nil
}

// AnswerCallbackQuery answers a button press. An empty text only stops the
// loading indicator on the button.
func (c *Client) AnswerCallbackQuery(ctx context.Context, callbackQueryID string, text string, showAlert bool) error {
	req := struct {
		ID        string `json:"callback_query_id"`
		Text      string `json:"text,omitempty"`
		ShowAlert bool   `json:"show_alert,omitempty"`
	}{callbackQueryID, text, showAlert && text != ""}

	if err := c.callAPI(ctx, "answerCallbackQuery", req, nil); err != nil {
		return fmt.Errorf("answer callback query: %w", err)
	}
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// BOT SETUP & UPDATES
// ══════════════════════════════════════════════════════════════════════════════

var allowedUpdates = []string{"message", "callback_query"}

// GetMe returns the bot's own user; it doubles as a token check.
func (c *Client) GetMe(ctx context.Context) (*User, error) {
	var user User
	if err := c.callAPI(ctx, "getMe", nil, &user); err != nil {
		return nil, fmt.Errorf("get me: %w", err)
	}
	return &user, nil
}

// SetMyCommands replaces the command menu shown by Telegram clients.
func (c *Client) SetMyCommands(ctx context.Context, commands []BotCommand) error {
	req := struct {
		Commands []BotCommand `json:"commands"`
	}{commands}

	if err := c.callAPI(ctx, "setMyCommands", req, nil); err != nil {
		return fmt.Errorf("set my commands: %w", err)
	}
	return nil
}

// SetWebhook points Telegram at url. secretToken is echoed back in the
// X-Telegram-Bot-Api-Secret-Token header of every delivery.
func (c *Client) SetWebhook(ctx context.Context, url, secretToken string, maxConnections int) error {
	req := struct {
		URL            string   `json:"url"`
		SecretToken    string   `json:"secret_token,omitempty"`
		MaxConnections int      `json:"max_connections,omitempty"`
		AllowedUpdates []string `json:"allowed_updates"`
	}{url, secretToken, maxConnections, allowedUpdates}

	if err := c.callAPI(ctx, "setWebhook", req, nil); err != nil {
		return fmt.Errorf("set webhook: %w", err)
	}
	return nil
}

// DeleteWebhook switches the bot back to getUpdates. Pending updates are kept.
func (c *Client) DeleteWebhook(ctx context.Context) error {
	req := struct {
		DropPendingUpdates bool `json:"drop_pending_updates"`
	}{false}

	if err := c.callAPI(ctx, "deleteWebhook", req, nil); err != nil {
		return fmt.Errorf("delete webhook: %w", err)
	}
	return nil
}

// GetUpdates long-polls for updates starting at offset.
func (c *Client) GetUpdates(ctx context.Context, offset int64) ([]Update, error) {
	req := struct {
		Offset         int64    `json:"offset,omitempty"`
		Limit          int      `json:"limit"`
		Timeout        int      `json:"timeout"`
		AllowedUpdates []string `json:"allowed_updates"`
	}{offset, 100, c.config.PollTimeout, allowedUpdates}

	var updates []Update
	if err := c.callAPI(ctx, "getUpdates", req, &updates); err != nil {
		return nil, fmt.Errorf("get updates: %w", err)
	}
	return updates, nil
}

// UpdateHandler receives polled updates.
type UpdateHandler func(ctx context.Context, update *Update) error

// StartPolling fetches updates until ctx is cancelled and passes each one to
// handler in order. The handler may dispatch work asynchronously.
func (c *Client) StartPolling(ctx context.Context, handler UpdateHandler) error {
	c.logger.Info("starting telegram long polling")

	// getUpdates is rejected while a webhook is set.
	if err := c.DeleteWebhook(ctx); err != nil {
		c.logger.Warn("failed to delete webhook before polling", "error", err)
	}

	var offset int64
	for {
		if ctx.Err() != nil {
			c.logger.Info("stopping telegram long polling")
			return nil
		}

		updates, err := c.GetUpdates(ctx, offset)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.logger.Error("failed to get updates", "error", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(5 * time.Second):
			}
			continue
		}

		for i := range updates {
			update := &updates[i]
			if update.UpdateID >= offset {
				offset = update.UpdateID + 1
			}
			if err := handler(ctx, update); err != nil {
				c.logger.Error("failed to handle update", "update_id", update.UpdateID, "error", err)
			}
		}
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// TRANSPORT
// ══════════════════════════════════════════════════════════════════════════════

// callAPI posts payload to method, retrying 429s (after retry_after), 5xx
// and network errors.
func (c *Client) callAPI(ctx context.Context, method string, payload, result any) error {
	return c.retrier.Do(ctx, func(ctx context.Context) error {
		err := c.post(ctx, method, payload, result)
		if err == nil {
			return nil
		}

		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.RetryAfter > 0 {
			return retry.RetryableAfter(err, time.Duration(apiErr.RetryAfter)*time.Second)
		}
		if isRetryableError(err) {
			c.logger.Debug("telegram api call failed, retrying", "method", method, "error", err)
			return retry.Retryable(err)
		}
		return err
	})
}

func (c *Client) post(ctx context.Context, method string, payload, result any) error {
	url := fmt.Sprintf("%s/bot%s/%s", c.config.BaseURL, c.config.Token, method)

	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal %s: %w", method, err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	var envelope apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		// Proxies in front of the API answer 5xx with HTML.
		if resp.StatusCode >= 500 {
			return &APIError{Code: resp.StatusCode, Description: http.StatusText(resp.StatusCode)}
		}
		return fmt.Errorf("decode response: %w", err)
	}

	if !envelope.OK {
		apiErr := &APIError{Code: envelope.ErrorCode, Description: envelope.Description}
		if envelope.Parameters != nil {
			apiErr.RetryAfter = envelope.Parameters.RetryAfter
		}
		return apiErr
	}

	if result != nil && len(envelope.Result) > 0 {
		if err := json.Unmarshal(envelope.Result, result); err != nil {
			return fmt.Errorf("decode %s result: %w", method, err)
		}
	}
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// ERRORS
// ══════════════════════════════════════════════════════════════════════════════

// APIError is an unsuccessful Bot API reply.
type APIError struct {
	Code        int
	Description string

	// RetryAfter is the flood-control wait in seconds, 0 if not given.
	RetryAfter int
}

func (e *APIError) Error() string {
	return fmt.Sprintf("telegram api error %d: %s", e.Code, e.Description)
}

// IsUserBlocked reports whether the user blocked the bot.
func IsUserBlocked(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == http.StatusForbidden
}

func isMessageNotModified(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) &&
		apiErr.Code == http.StatusBadRequest &&
		strings.Contains(apiErr.Description, "message is not modified")
}

func isRetryableError(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code == http.StatusTooManyRequests || apiErr.Code >= 500
	}

	msg := err.Error()
	for _, s := range []string{"timeout", "connection refused", "temporary", "reset", "EOF"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

// ══════════════════════════════════════════════════════════════════════════════
// COMMAND PARSING
// ══════════════════════════════════════════════════════════════════════════════

// ExtractCommand returns the lower-cased command of a message without the
// leading "/" and a trailing "@botname", or "" for non-commands.
func ExtractCommand(msg *Message) string {
	if entity, ok := commandEntity(msg); ok {
		cmd := msg.Text[1:entity.Length]
		if i := strings.IndexByte(cmd, '@'); i >= 0 {
			cmd = cmd[:i]
		}
		return strings.ToLower(cmd)
	}
	return ""
}

// ExtractCommandArgs returns the trimmed text after the command.
func ExtractCommandArgs(msg *Message) string {
	if entity, ok := commandEntity(msg); ok {
		return strings.TrimSpace(msg.Text[entity.Length:])
	}
	return ""
}

func commandEntity(msg *Message) (MessageEntity, bool) {
	if msg == nil || msg.Text == "" {
		return MessageEntity{}, false
	}
	for _, e := range msg.Entities {
		if e.Type == "bot_command" && e.Offset == 0 && e.Length > 0 && e.Length <= len(msg.Text) {
			return e, true
		}
	}
	return MessageEntity{}, false
}
