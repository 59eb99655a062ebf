package bot

import (
	"context"
	"errors"
	"regexp"
	"strings"

	"github.com/jholhewres/gravityclaw/pkg/gravityclaw/channels"
)

// MaxMessageLength is the chunk size for outgoing text; Telegram's hard
// limit is 4096.
const MaxMessageLength = 4000

const msgTTSFailed = "⚠️ Konnte Sprachnachricht nicht generieren."

var errNoSpeaker = errors.New("no speaker configured")

var voiceTag = regexp.MustCompile(`(?is)<voice>(.*?)</voice>`)

// chatReplier is the Replier handed to tools: it chunks text and prefixes
// every message.
type chatReplier struct {
	b      *Bot
	chatID string
	prefix string
}

func (b *Bot) replier(chatID, prefix string) *chatReplier {
	return &chatReplier{b: b, chatID: chatID, prefix: prefix}
}

func (r *chatReplier) SendMessage(ctx context.Context, text string) error {
	if text == "" {
		return nil
	}
	var first error
	for _, chunk := range SplitMessage(r.prefix+text, MaxMessageLength) {
		err := r.b.deps.Channel.Send(ctx, r.chatID, &channels.OutgoingMessage{Content: chunk})
		if err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (r *chatReplier) SendPhoto(ctx context.Context, data []byte, caption string) error {
	return channels.ChatReplier{Channel: r.b.deps.Channel, ChatID: r.chatID}.SendPhoto(ctx, data, caption)
}

// sendReply delivers the final turn reply. The first <voice>...</voice>
// segment is spoken; the remaining text is sent as a message.
func (b *Bot) sendReply(ctx context.Context, out *chatReplier, reply string) {
	m := voiceTag.FindStringSubmatch(reply)
	if m == nil {
		if err := out.SendMessage(ctx, reply); err != nil {
			b.logger.Error("sending reply failed", "chat", out.chatID, "error", err)
		}
		return
	}

	spoken := strings.TrimSpace(m[1])
	clean := strings.TrimSpace(voiceTag.ReplaceAllString(reply, ""))
	if clean != "" {
		if err := out.SendMessage(ctx, clean); err != nil {
			b.logger.Error("sending reply failed", "chat", out.chatID, "error", err)
		}
	}

	b.action(ctx, out.chatID, "record_voice")
	if err := b.speak(ctx, out.chatID, spoken); err != nil {
		b.logger.Error("voice reply failed", "chat", out.chatID, "error", err)
		b.send(ctx, out.chatID, msgTTSFailed)
	}
}

func (b *Bot) speak(ctx context.Context, chatID, text string) error {
	if b.deps.Speaker == nil {
		return errNoSpeaker
	}
	b.logger.Info("generating voice reply", "chars", len(text))
	audio, err := b.deps.Speaker.Speak(ctx, text)
	if err != nil {
		return err
	}
	return b.deps.Channel.SendMedia(ctx, chatID, &channels.MediaMessage{
		Type:     channels.MessageVoice,
		Data:     audio,
		MimeType: "audio/ogg",
		Filename: "reply.ogg",
	})
}

// SplitMessage cuts text into chunks of at most max runes, preferring the
// last newline and then the last space inside each window. Leading
// whitespace of the remainder is dropped.
func SplitMessage(text string, max int) []string {
	if text == "" {
		return nil
	}
	runes := []rune(text)
	if len(runes) <= max {
		return []string{text}
	}

	var chunks []string
	for len(runes) > 0 {
		if len(runes) <= max {
			chunks = append(chunks, string(runes))
			break
		}
		window := string(runes[:max])
		split := max
		if i := strings.LastIndex(window, "\n"); i > 0 {
			split = len([]rune(window[:i]))
		} else if i := strings.LastIndex(window, " "); i > 0 {
			split = len([]rune(window[:i]))
		}
		chunks = append(chunks, string(runes[:split]))
		runes = []rune(strings.TrimLeft(string(runes[split:]), " \t\r\n"))
	}
	return chunks
}
