// Package bot connects a chat channel to the agent: it routes commands,
// intercepts approval answers, turns text and voice messages into serialized
// agent turns and renders the replies (chunking, voice segments).
package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/jholhewres/gravityclaw/pkg/gravityclaw/agent"
	"github.com/jholhewres/gravityclaw/pkg/gravityclaw/approval"
	"github.com/jholhewres/gravityclaw/pkg/gravityclaw/channels"
	"github.com/jholhewres/gravityclaw/pkg/gravityclaw/scheduler"
	"github.com/jholhewres/gravityclaw/pkg/gravityclaw/session"
)

// User-facing texts.
const (
	msgStart          = "🦾 *Gravity Claw online.*\n\nI'm your personal AI agent. Talk to me naturally — text or voice. I'll use tools when needed.\n\nType or speak anything to begin."
	msgCleared        = "🗑️ Conversation history cleared."
	msgNothingToYes   = "Hinweis: Es gibt keinen ausstehenden Befehl, den du bestätigen müsstest."
	msgNothingToNo    = "Hinweis: Es gibt keinen ausstehenden Befehl, den du ablehnen müsstest."
	msgApproved       = "✅ Befehl wird ausgeführt..."
	msgDenied         = "❌ Befehl abgebrochen."
	msgAnswerFirst    = "⚠️ Du hast eine ausstehende Befehlsausführung. Bitte antworte zuerst mit 'ja' (/yes) oder 'nein' (/no)."
	msgTurnFailed     = "⚠️ Something went wrong. Check the logs."
	msgVoiceFailed    = "⚠️ Konnte die Sprachnachricht nicht verarbeiten. Check die Logs."
	msgBusy           = "⏳ Ich arbeite noch an deinen vorherigen Nachrichten. Bitte versuche es gleich nochmal."
	dashboardPrefix   = "🖥️ *Dashboard Task Output:*\n"
	scheduledNotice   = "🔔 *Scheduled Task Triggered:*\n"
	scheduledTurnText = "Geplante Aufgabe ausgelöst: "
)

// Transport is the chat channel the bot talks through.
type Transport interface {
	channels.MediaChannel
	SendAction(ctx context.Context, to, action string) error
}

// Transcriber turns a voice note into text.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, filename string) (string, error)
}

// Speaker synthesizes speech.
type Speaker interface {
	Speak(ctx context.Context, text string) ([]byte, error)
}

// TurnRunner runs one agent turn. agent.Agent satisfies it.
type TurnRunner interface {
	RunTurn(ctx context.Context, turn agent.Turn) (string, error)
}

// Deps are the bot's collaborators. Transcriber and Speaker are optional.
type Deps struct {
	Channel     Transport
	Agent       TurnRunner
	Sessions    *session.Manager
	Gate        *approval.Gate
	Facts       agent.FactSource
	Transcriber Transcriber
	Speaker     Speaker
	Logger      *slog.Logger
}

// Bot handles incoming chat messages.
type Bot struct {
	deps         Deps
	allowedUsers []string

	wg     sync.WaitGroup
	logger *slog.Logger
}

// New creates a bot. allowedUsers receive broadcasts; the first one is the
// primary user.
func New(deps Deps, allowedUsers []string) *Bot {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Bot{
		deps:         deps,
		allowedUsers: allowedUsers,
		logger:       deps.Logger.With("component", "bot"),
	}
}

// PrimaryUser returns the first allowed user, or "".
func (b *Bot) PrimaryUser() string {
	if len(b.allowedUsers) == 0 {
		return ""
	}
	return b.allowedUsers[0]
}

// Run consumes the channel until ctx is done or the channel closes, then
// waits for in-flight voice handlers.
func (b *Bot) Run(ctx context.Context) error {
	defer b.wg.Wait()
	in := b.deps.Channel.Receive()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-in:
			if !ok {
				return nil
			}
			b.Handle(ctx, msg)
		}
	}
}

// Handle processes one incoming message. Voice notes are transcribed in the
// background so a long download never blocks approval answers.
func (b *Bot) Handle(ctx context.Context, msg *channels.IncomingMessage) {
	if msg == nil {
		return
	}
	switch msg.Type {
	case channels.MessageVoice:
		b.wg.Add(1)
		go func() {
			defer b.wg.Done()
			b.handleVoice(ctx, msg)
		}()
	default:
		if strings.TrimSpace(msg.Content) == "" {
			return
		}
		b.handleText(ctx, msg)
	}
}

// Wait blocks until background handlers have finished.
func (b *Bot) Wait() { b.wg.Wait() }

func (b *Bot) handleText(ctx context.Context, msg *channels.IncomingMessage) {
	userID, chatID := msg.From, msg.ChatID
	text := msg.Content

	if cmd, ok := parseCommand(text); ok {
		if b.handleCommand(ctx, cmd, userID, chatID) {
			return
		}
	}

	if b.deps.Gate != nil && b.deps.Gate.HasPending(userID) {
		switch approval.ParseReply(text, false) {
		case approval.ReplyYes:
			if b.deps.Gate.Resolve(userID, true) {
				b.send(ctx, chatID, msgApproved)
				return
			}
		case approval.ReplyNo:
			if b.deps.Gate.Resolve(userID, false) {
				b.send(ctx, chatID, msgDenied)
				return
			}
		default:
			b.send(ctx, chatID, msgAnswerFirst)
			return
		}
	}

	b.submit(ctx, userID, chatID, text, msgTurnFailed)
}

// handleCommand runs a slash command and reports whether it was one.
func (b *Bot) handleCommand(ctx context.Context, cmd, userID, chatID string) bool {
	switch cmd {
	case "start":
		b.send(ctx, chatID, msgStart)
	case "clear":
		b.deps.Sessions.Reset(userID)
		b.send(ctx, chatID, msgCleared)
	case "context":
		facts := ""
		if b.deps.Facts != nil {
			f, err := b.deps.Facts.Facts(ctx)
			if err != nil {
				b.logger.Error("loading facts", "error", err)
				b.send(ctx, chatID, msgTurnFailed)
				return true
			}
			facts = f
		}
		b.send(ctx, chatID, "🧠 *Current Core Context:*\n\n"+facts)
	case "yes":
		if b.deps.Gate == nil || !b.deps.Gate.Resolve(userID, true) {
			b.send(ctx, chatID, msgNothingToYes)
		}
	case "no":
		if b.deps.Gate == nil || !b.deps.Gate.Resolve(userID, false) {
			b.send(ctx, chatID, msgNothingToNo)
		}
	default:
		return false
	}
	b.logger.Debug("command handled", "command", cmd, "user", userID)
	return true
}

func (b *Bot) handleVoice(ctx context.Context, msg *channels.IncomingMessage) {
	userID, chatID := msg.From, msg.ChatID
	b.action(ctx, chatID, "typing")

	transcript, err := b.transcribe(ctx, msg)
	if err != nil {
		b.logger.Error("voice transcription failed", "user", userID, "error", err)
		b.send(ctx, chatID, msgVoiceFailed)
		return
	}
	b.send(ctx, chatID, fmt.Sprintf("🎤 *Verstanden:*\n_\"%s\"_", transcript))

	if b.deps.Gate != nil && b.deps.Gate.HasPending(userID) {
		switch approval.ParseReply(transcript, true) {
		case approval.ReplyYes:
			if b.deps.Gate.Resolve(userID, true) {
				b.send(ctx, chatID, msgApproved)
				return
			}
		case approval.ReplyNo:
			if b.deps.Gate.Resolve(userID, false) {
				b.send(ctx, chatID, msgDenied)
				return
			}
		}
	}

	b.submit(ctx, userID, chatID, transcript, msgVoiceFailed)
}

func (b *Bot) transcribe(ctx context.Context, msg *channels.IncomingMessage) (string, error) {
	if b.deps.Transcriber == nil {
		return "", errors.New("no transcriber configured")
	}
	audio, filename, err := b.deps.Channel.DownloadMedia(ctx, msg)
	if err != nil {
		return "", err
	}
	if filename == "" {
		filename = "voice.ogg"
	}
	b.logger.Info("transcribing voice message", "user", msg.From, "bytes", len(audio))
	return b.deps.Transcriber.Transcribe(ctx, audio, filename)
}

// submit queues a turn for userID whose reply goes to chatID.
func (b *Bot) submit(ctx context.Context, userID, chatID, text, failure string) {
	err := b.enqueue(userID, text, b.replier(chatID, ""), failure)
	if err != nil {
		b.logger.Warn("turn not queued", "user", userID, "error", err)
		if errors.Is(err, session.ErrQueueFull) {
			b.send(ctx, chatID, msgBusy)
		}
	}
}

func (b *Bot) enqueue(userID, text string, out *chatReplier, failure string) error {
	return b.deps.Sessions.Submit(userID, func(ctx context.Context, s *session.Session) {
		b.action(ctx, out.chatID, "typing")
		reply, err := b.deps.Agent.RunTurn(ctx, agent.Turn{
			UserID:  userID,
			Message: text,
			History: s,
			Replier: out,
		})
		if err != nil {
			b.logger.Error("agent turn failed", "user", userID, "error", err)
			b.send(ctx, out.chatID, failure)
			return
		}
		b.sendReply(ctx, out, reply)
	})
}

// SubmitDirective queues a notepad directive for userID. Output is sent to
// the user's private chat with the dashboard prefix.
func (b *Bot) SubmitDirective(userID, message string) error {
	return b.enqueue(userID, message, b.replier(userID, dashboardPrefix), msgTurnFailed)
}

// HandleJob is the scheduler callback: it tells the owner the job fired and
// queues a turn for it.
func (b *Bot) HandleJob(ctx context.Context, job *scheduler.Job) error {
	userID := job.UserID
	if userID == "" {
		userID = b.PrimaryUser()
	}
	if userID == "" {
		return errors.New("scheduled job has no owner")
	}
	if err := b.Notify(ctx, userID, scheduledNotice+job.Description); err != nil {
		b.logger.Warn("scheduled task notice failed", "job", job.ID, "error", err)
	}
	return b.enqueue(userID, scheduledTurnText+job.Description, b.replier(userID, ""), msgTurnFailed)
}

// Notify sends text to userID's private chat.
func (b *Bot) Notify(ctx context.Context, userID, text string) error {
	return b.deps.Channel.Send(ctx, userID, &channels.OutgoingMessage{Content: text})
}

// Broadcast sends text to every allowed user and returns the first error.
func (b *Bot) Broadcast(ctx context.Context, text string) error {
	var first error
	for _, u := range b.allowedUsers {
		if err := b.Notify(ctx, u, text); err != nil {
			b.logger.Error("broadcast failed", "user", u, "error", err)
			if first == nil {
				first = err
			}
		}
	}
	return first
}

func (b *Bot) send(ctx context.Context, chatID, text string) {
	for _, chunk := range SplitMessage(text, MaxMessageLength) {
		if err := b.deps.Channel.Send(ctx, chatID, &channels.OutgoingMessage{Content: chunk}); err != nil {
			b.logger.Error("send failed", "chat", chatID, "error", err)
		}
	}
}

func (b *Bot) action(ctx context.Context, chatID, action string) {
	if err := b.deps.Channel.SendAction(ctx, chatID, action); err != nil {
		b.logger.Debug("chat action failed", "chat", chatID, "action", action, "error", err)
	}
}

// parseCommand extracts "name" from "/name@bot args".
func parseCommand(text string) (string, bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return "", false
	}
	name := strings.Fields(text[1:])
	if len(name) == 0 {
		return "", false
	}
	cmd, _, _ := strings.Cut(name[0], "@")
	return strings.ToLower(cmd), true
}
