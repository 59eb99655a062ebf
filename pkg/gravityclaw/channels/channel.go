// Package channels defines the interfaces and types for GravityClaw chat
// transports. A transport implements Channel to receive and send messages; the
// agent and its tools only ever see a Replier bound to one chat.
package channels

import (
	"context"
	"errors"
	"time"
)

// MessageType identifies the kind of message content.
type MessageType string

const (
	MessageText  MessageType = "text"
	MessageVoice MessageType = "voice"
	MessageImage MessageType = "image"
	MessageAudio MessageType = "audio"
)

// Channel defines the interface that every chat transport must implement.
type Channel interface {
	// Name returns the channel identifier (e.g. "telegram").
	Name() string

	// Connect establishes the connection and starts receiving.
	Connect(ctx context.Context) error

	// Disconnect gracefully closes the connection.
	Disconnect() error

	// Send sends a text message to the specified chat.
	Send(ctx context.Context, to string, message *OutgoingMessage) error

	// Receive returns a Go channel that emits incoming messages.
	Receive() <-chan *IncomingMessage

	// IsConnected returns true if the channel is connected.
	IsConnected() bool

	// Health returns the channel health status.
	Health() HealthStatus
}

// MediaChannel extends Channel with media capabilities.
type MediaChannel interface {
	Channel

	// SendMedia sends a photo or voice note.
	SendMedia(ctx context.Context, to string, media *MediaMessage) error

	// DownloadMedia downloads the media attached to an incoming message.
	// Returns the raw bytes and the file name reported by the platform.
	DownloadMedia(ctx context.Context, msg *IncomingMessage) ([]byte, string, error)
}

// PresenceChannel extends Channel with chat actions ("typing...").
type PresenceChannel interface {
	Channel

	// SendAction shows a chat action such as "typing" or "record_voice".
	SendAction(ctx context.Context, to, action string) error
}

// IncomingMessage represents a message received from any channel.
type IncomingMessage struct {
	// ID is the unique message identifier in the source channel.
	ID string

	// Channel identifies the source channel.
	Channel string

	// From is the sender identifier on the platform.
	From string

	// FromName is the sender display name (if available).
	FromName string

	// ChatID is the chat the reply goes to.
	ChatID string

	// Type is the message content type.
	Type MessageType

	// Content is the text content of the message.
	Content string

	// Timestamp is when the message was sent.
	Timestamp time.Time

	// Media contains attachment details for voice and images.
	Media *MediaInfo
}

// OutgoingMessage represents a text message to be sent through a channel.
type OutgoingMessage struct {
	Content string

	// Plain disables Markdown parsing.
	Plain bool
}

// MediaMessage represents a media file to be sent.
type MediaMessage struct {
	// Type is MessageImage or MessageVoice.
	Type MessageType

	Data     []byte
	MimeType string
	Filename string
	Caption  string
}

// MediaInfo describes media attached to an incoming message.
type MediaInfo struct {
	Type     MessageType
	MimeType string
	FileSize uint64
	Duration uint32

	// FileID is the platform handle used to download the file.
	FileID string
}

// HealthStatus represents the health state of a channel.
type HealthStatus struct {
	Connected     bool
	LastMessageAt time.Time
	ErrorCount    int
}

// Replier sends output back into the chat a turn originated from. Tools use
// it for out-of-band messages (approval prompts, generated images).
type Replier interface {
	SendMessage(ctx context.Context, text string) error
	SendPhoto(ctx context.Context, data []byte, caption string) error
}

// ChatReplier binds a MediaChannel to one chat.
type ChatReplier struct {
	Channel MediaChannel
	ChatID  string
}

// SendMessage sends text to the bound chat.
func (r ChatReplier) SendMessage(ctx context.Context, text string) error {
	return r.Channel.Send(ctx, r.ChatID, &OutgoingMessage{Content: text})
}

// SendPhoto sends an image to the bound chat.
func (r ChatReplier) SendPhoto(ctx context.Context, data []byte, caption string) error {
	return r.Channel.SendMedia(ctx, r.ChatID, &MediaMessage{
		Type:     MessageImage,
		Data:     data,
		MimeType: "image/png",
		Filename: "image.png",
		Caption:  caption,
	})
}

// Discard is a Replier that drops everything. Used for background turns that
// have no chat attached.
type Discard struct{}

// SendMessage does nothing.
func (Discard) SendMessage(context.Context, string) error { return nil }

// SendPhoto does nothing.
func (Discard) SendPhoto(context.Context, []byte, string) error { return nil }

// Errors.
var (
	ErrChannelDisconnected = errors.New("channel is not connected")
	ErrMediaDownloadFailed = errors.New("failed to download media")
)
