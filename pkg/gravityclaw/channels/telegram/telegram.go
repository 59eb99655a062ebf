// Package telegram implements the Telegram channel for GravityClaw using the
// Telegram Bot API directly via HTTP.
//
// Features:
//   - Long polling for updates (getUpdates)
//   - User whitelist; updates from anyone else are dropped silently
//   - Text, photo and voice messages
//   - Chat actions (sendChatAction)
//   - Media download via getFile
//   - Markdown replies with a plain-text fallback
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/jholhewres/gravityclaw/pkg/gravityclaw/channels"
)

// DefaultAPIBase is the public Bot API endpoint.
const DefaultAPIBase = "https://api.telegram.org"

// Config holds Telegram channel configuration.
type Config struct {
	// Token is the Telegram Bot API token (from @BotFather).
	Token string `yaml:"token"`

	// AllowedUsers lists the user IDs the bot talks to. Everyone else is
	// ignored without a reply.
	AllowedUsers []int64 `yaml:"allowed_users"`

	// ParseMode sets the parse mode for outgoing messages.
	ParseMode string `yaml:"parse_mode"`

	// APIBase overrides the Bot API host.
	APIBase string `yaml:"api_base"`

	// PollTimeout is the long-polling timeout in seconds.
	PollTimeout int `yaml:"poll_timeout"`
}

// Telegram implements channels.MediaChannel and channels.PresenceChannel.
type Telegram struct {
	cfg    Config
	logger *slog.Logger
	client *http.Client

	// baseURL is <api>/bot<token>.
	baseURL string

	messages chan *channels.IncomingMessage
	allowed  map[int64]bool

	connected  atomic.Bool
	lastMsg    atomic.Value // time.Time
	errorCount atomic.Int64

	// offset is the last processed update ID + 1.
	offset int64

	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a new Telegram channel instance.
func New(cfg Config, logger *slog.Logger) *Telegram {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ParseMode == "" {
		cfg.ParseMode = "Markdown"
	}
	if cfg.APIBase == "" {
		cfg.APIBase = DefaultAPIBase
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 30
	}
	allowed := make(map[int64]bool, len(cfg.AllowedUsers))
	for _, id := range cfg.AllowedUsers {
		allowed[id] = true
	}
	return &Telegram{
		cfg:      cfg,
		logger:   logger.With("component", "telegram"),
		client:   &http.Client{Timeout: time.Duration(cfg.PollTimeout+30) * time.Second},
		baseURL:  strings.TrimRight(cfg.APIBase, "/") + "/bot" + cfg.Token,
		messages: make(chan *channels.IncomingMessage, 256),
		allowed:  allowed,
	}
}

// Name returns "telegram".
func (t *Telegram) Name() string { return "telegram" }

// Connect verifies the token and starts the long-polling loop.
func (t *Telegram) Connect(ctx context.Context) error {
	if t.cfg.Token == "" {
		return fmt.Errorf("telegram: bot token is required")
	}
	if t.connected.Load() {
		return nil
	}

	me, err := t.getMe(ctx)
	if err != nil {
		return fmt.Errorf("telegram: failed to verify token: %w", err)
	}
	t.logger.Info("connected", "bot", me.Username, "id", me.ID)

	pollCtx, cancel := context.WithCancel(ctx)
	t.cancel = cancel
	t.done = make(chan struct{})
	t.connected.Store(true)

	go t.pollLoop(pollCtx)
	return nil
}

// Disconnect stops the polling loop and waits for it to exit.
func (t *Telegram) Disconnect() error {
	if t.cancel != nil {
		t.cancel()
		<-t.done
	}
	t.connected.Store(false)
	t.logger.Info("disconnected")
	return nil
}

// Send sends a text message to the specified chat. When Telegram rejects the
// Markdown, the message is resent as plain text.
func (t *Telegram) Send(ctx context.Context, to string, message *channels.OutgoingMessage) error {
	chatID, err := strconv.ParseInt(to, 10, 64)
	if err != nil {
		return fmt.Errorf("telegram: invalid chat ID %q: %w", to, err)
	}

	payload := map[string]any{
		"chat_id": chatID,
		"text":    message.Content,
	}
	if !message.Plain && t.cfg.ParseMode != "" {
		payload["parse_mode"] = t.cfg.ParseMode
	}

	_, err = t.apiCall(ctx, "sendMessage", payload)
	if err != nil && payload["parse_mode"] != nil && isParseError(err) {
		t.logger.Warn("markdown rejected, falling back to plain text", "chat", to)
		delete(payload, "parse_mode")
		_, err = t.apiCall(ctx, "sendMessage", payload)
	}
	return err
}

// Receive returns the incoming messages channel.
func (t *Telegram) Receive() <-chan *channels.IncomingMessage {
	return t.messages
}

// IsConnected returns true if the bot is connected.
func (t *Telegram) IsConnected() bool { return t.connected.Load() }

// Health returns the channel health status.
func (t *Telegram) Health() channels.HealthStatus {
	var lastAt time.Time
	if v := t.lastMsg.Load(); v != nil {
		lastAt = v.(time.Time)
	}
	return channels.HealthStatus{
		Connected:     t.connected.Load(),
		LastMessageAt: lastAt,
		ErrorCount:    int(t.errorCount.Load()),
	}
}

// SendMedia uploads a photo or voice note.
func (t *Telegram) SendMedia(ctx context.Context, to string, media *channels.MediaMessage) error {
	chatID, err := strconv.ParseInt(to, 10, 64)
	if err != nil {
		return fmt.Errorf("telegram: invalid chat ID %q: %w", to, err)
	}

	method, field := "sendDocument", "document"
	switch media.Type {
	case channels.MessageImage:
		method, field = "sendPhoto", "photo"
	case channels.MessageVoice:
		method, field = "sendVoice", "voice"
	case channels.MessageAudio:
		method, field = "sendAudio", "audio"
	}
	return t.uploadFile(ctx, method, chatID, field, media)
}

// DownloadMedia downloads the voice note or photo of msg.
func (t *Telegram) DownloadMedia(ctx context.Context, msg *channels.IncomingMessage) ([]byte, string, error) {
	if msg.Media == nil || msg.Media.FileID == "" {
		return nil, "", channels.ErrMediaDownloadFailed
	}

	file, err := t.getFile(ctx, msg.Media.FileID)
	if err != nil {
		return nil, "", fmt.Errorf("telegram: getFile failed: %w", err)
	}

	url := fmt.Sprintf("%s/file/bot%s/%s", strings.TrimRight(t.cfg.APIBase, "/"), t.cfg.Token, file.FilePath)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", fmt.Errorf("telegram: creating download request: %w", err)
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("telegram: download failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("telegram: download failed: HTTP %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("telegram: reading media: %w", err)
	}
	return data, file.FilePath, nil
}

// SendAction sends a chat action like "typing".
func (t *Telegram) SendAction(ctx context.Context, to, action string) error {
	chatID, err := strconv.ParseInt(to, 10, 64)
	if err != nil {
		return nil
	}
	_, err = t.apiCall(ctx, "sendChatAction", map[string]any{
		"chat_id": chatID,
		"action":  action,
	})
	return err
}

// Allowed reports whether userID is on the whitelist.
func (t *Telegram) Allowed(userID int64) bool {
	return t.allowed[userID]
}

// pollLoop runs the getUpdates long-polling loop.
func (t *Telegram) pollLoop(ctx context.Context) {
	defer close(t.done)
	t.logger.Info("polling started")
	backoff := time.Second

	for {
		select {
		case <-ctx.Done():
			t.logger.Info("polling stopped")
			return
		default:
		}

		updates, err := t.getUpdates(ctx, t.offset, 100, t.cfg.PollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			t.errorCount.Add(1)
			t.logger.Warn("getUpdates error", "error", err, "backoff", backoff)
			select {
			case <-ctx.Done():
				continue
			case <-time.After(backoff):
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}

		backoff = time.Second
		t.errorCount.Store(0)

		for _, u := range updates {
			if u.UpdateID >= t.offset {
				t.offset = u.UpdateID + 1
			}
			if msg := t.convert(u); msg != nil {
				select {
				case t.messages <- msg:
				case <-ctx.Done():
				}
			}
		}
	}
}

// convert turns an update into an IncomingMessage. It returns nil for updates
// that carry nothing the bot handles and for senders off the whitelist.
func (t *Telegram) convert(u tgUpdate) *channels.IncomingMessage {
	msg := u.Message
	if msg == nil || msg.From == nil {
		return nil
	}
	if !t.allowed[msg.From.ID] {
		t.logger.Debug("dropping update from unknown user", "user", msg.From.ID)
		return nil
	}

	incoming := &channels.IncomingMessage{
		ID:        strconv.FormatInt(int64(msg.MessageID), 10),
		Channel:   "telegram",
		From:      strconv.FormatInt(msg.From.ID, 10),
		FromName:  strings.TrimSpace(msg.From.FirstName + " " + msg.From.LastName),
		ChatID:    strconv.FormatInt(msg.Chat.ID, 10),
		Type:      channels.MessageText,
		Content:   msg.Text,
		Timestamp: time.Unix(int64(msg.Date), 0),
	}
	if incoming.FromName == "" {
		incoming.FromName = msg.From.Username
	}
	if msg.Caption != "" && incoming.Content == "" {
		incoming.Content = msg.Caption
	}

	switch {
	case msg.Voice != nil:
		incoming.Type = channels.MessageVoice
		incoming.Media = &channels.MediaInfo{
			Type:     channels.MessageVoice,
			FileID:   msg.Voice.FileID,
			MimeType: msg.Voice.MimeType,
			FileSize: uint64(msg.Voice.FileSize),
			Duration: uint32(msg.Voice.Duration),
		}
	case len(msg.Photo) > 0:
		// Largest size is last.
		photo := msg.Photo[len(msg.Photo)-1]
		incoming.Type = channels.MessageImage
		incoming.Media = &channels.MediaInfo{
			Type:     channels.MessageImage,
			FileID:   photo.FileID,
			FileSize: uint64(photo.FileSize),
		}
	case incoming.Content == "":
		return nil
	}

	t.lastMsg.Store(time.Now())
	return incoming
}

// ---------- Telegram Bot API Types ----------

type tgUpdate struct {
	UpdateID int64      `json:"update_id"`
	Message  *tgMessage `json:"message"`
}

type tgMessage struct {
	MessageID int       `json:"message_id"`
	From      *tgUser   `json:"from"`
	Chat      tgChat    `json:"chat"`
	Date      int       `json:"date"`
	Text      string    `json:"text"`
	Caption   string    `json:"caption"`
	Photo     []tgPhoto `json:"photo"`
	Voice     *tgVoice  `json:"voice"`
}

type tgUser struct {
	ID        int64  `json:"id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Username  string `json:"username"`
	IsBot     bool   `json:"is_bot"`
}

type tgChat struct {
	ID   int64  `json:"id"`
	Type string `json:"type"`
}

type tgPhoto struct {
	FileID   string `json:"file_id"`
	FileSize int    `json:"file_size"`
}

type tgVoice struct {
	FileID   string `json:"file_id"`
	Duration int    `json:"duration"`
	MimeType string `json:"mime_type"`
	FileSize int    `json:"file_size"`
}

type tgFile struct {
	FileID   string `json:"file_id"`
	FilePath string `json:"file_path"`
}

type tgBotUser struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
}

// apiError is a Bot API error reply.
type apiError struct {
	Method      string
	Description string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("telegram: %s: %s", e.Method, e.Description)
}

func isParseError(err error) bool {
	e, ok := err.(*apiError)
	return ok && strings.Contains(e.Description, "can't parse entities")
}

// ---------- API Helpers ----------

// apiCall makes a POST request to the Telegram Bot API.
func (t *Telegram) apiCall(ctx context.Context, method string, payload map[string]any) (json.RawMessage, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("telegram: marshal %s: %w", method, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+"/"+method, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("telegram: creating request for %s: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("telegram: %s request failed: %w", method, err)
	}
	defer resp.Body.Close()
	return decodeResult(method, resp.Body)
}

func decodeResult(method string, r io.Reader) (json.RawMessage, error) {
	var result struct {
		OK          bool            `json:"ok"`
		Description string          `json:"description"`
		Result      json.RawMessage `json:"result"`
	}
	if err := json.NewDecoder(r).Decode(&result); err != nil {
		return nil, fmt.Errorf("telegram: decoding %s response: %w", method, err)
	}
	if !result.OK {
		return nil, &apiError{Method: method, Description: result.Description}
	}
	return result.Result, nil
}

func (t *Telegram) getMe(ctx context.Context) (*tgBotUser, error) {
	data, err := t.apiCall(ctx, "getMe", nil)
	if err != nil {
		return nil, err
	}
	var user tgBotUser
	if err := json.Unmarshal(data, &user); err != nil {
		return nil, fmt.Errorf("telegram: parsing getMe: %w", err)
	}
	return &user, nil
}

func (t *Telegram) getUpdates(ctx context.Context, offset int64, limit, timeoutSecs int) ([]tgUpdate, error) {
	data, err := t.apiCall(ctx, "getUpdates", map[string]any{
		"offset":          offset,
		"limit":           limit,
		"timeout":         timeoutSecs,
		"allowed_updates": []string{"message"},
	})
	if err != nil {
		return nil, err
	}
	var updates []tgUpdate
	if err := json.Unmarshal(data, &updates); err != nil {
		return nil, fmt.Errorf("telegram: parsing updates: %w", err)
	}
	return updates, nil
}

func (t *Telegram) getFile(ctx context.Context, fileID string) (*tgFile, error) {
	data, err := t.apiCall(ctx, "getFile", map[string]any{"file_id": fileID})
	if err != nil {
		return nil, err
	}
	var file tgFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("telegram: parsing getFile: %w", err)
	}
	return &file, nil
}

// uploadFile uploads a file using multipart form data.
func (t *Telegram) uploadFile(ctx context.Context, method string, chatID int64, field string, media *channels.MediaMessage) error {
	if len(media.Data) == 0 {
		return fmt.Errorf("telegram: media data is required for upload")
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	_ = w.WriteField("chat_id", strconv.FormatInt(chatID, 10))
	if media.Caption != "" {
		_ = w.WriteField("caption", media.Caption)
		_ = w.WriteField("parse_mode", t.cfg.ParseMode)
	}

	filename := media.Filename
	if filename == "" {
		filename = "file"
	}
	part, err := w.CreateFormFile(field, filename)
	if err != nil {
		return fmt.Errorf("telegram: creating form file: %w", err)
	}
	if _, err := part.Write(media.Data); err != nil {
		return fmt.Errorf("telegram: writing file data: %w", err)
	}
	w.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+"/"+method, &buf)
	if err != nil {
		return fmt.Errorf("telegram: creating upload request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("telegram: upload failed: %w", err)
	}
	defer resp.Body.Close()
	_, err = decodeResult(method, resp.Body)
	return err
}

// Compile-time interface verification.
var (
	_ channels.MediaChannel    = (*Telegram)(nil)
	_ channels.PresenceChannel = (*Telegram)(nil)
)
