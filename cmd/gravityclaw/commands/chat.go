package commands

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/jholhewres/gravityclaw/pkg/gravityclaw/agent"
	"github.com/jholhewres/gravityclaw/pkg/gravityclaw/approval"
	"github.com/jholhewres/gravityclaw/pkg/gravityclaw/config"
	"github.com/jholhewres/gravityclaw/pkg/gravityclaw/session"
)

// newChatCmd creates the `gravityclaw chat` command.
func newChatCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chat [message]",
		Short: "Talk to the agent from the terminal",
		Long: `Talk to the agent without Telegram. With a message argument a single
turn is run and the reply printed; without one an interactive session
starts. Terminal commands still ask for approval: answer with ja/nein.

Examples:
  gravityclaw chat
  gravityclaw chat "Was steht heute auf dem Board?"
  echo "Fasse die Notizen zusammen" | gravityclaw chat`,
		Args: cobra.ArbitraryArgs,
		RunE: runChat,
	}

	cmd.Flags().String("user", "", "user id for memory and history (default: first allowed user)")
	return cmd
}

func runChat(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if verbose, _ := cmd.Root().PersistentFlags().GetBool("verbose"); !verbose {
		cfg.Logging.Level = "warn"
	}
	logger := newLogger(cmd, cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	rt, err := buildRuntime(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer rt.Close()

	userID, _ := cmd.Flags().GetString("user")
	if userID == "" {
		if ids := cfg.AllowedUserIDs(); len(ids) > 0 {
			userID = ids[0]
		} else {
			userID = "cli"
		}
	}

	message := strings.TrimSpace(strings.Join(args, " "))
	if message == "" && !term.IsTerminal(int(os.Stdin.Fd())) {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return fmt.Errorf("reading stdin: %w", err)
		}
		message = strings.TrimSpace(string(data))
	}

	c := &chatSession{
		rt:     rt,
		userID: userID,
		out:    &terminalReplier{w: os.Stdout, dir: cfg.Workspace.ScreenshotDir},
	}
	if message != "" {
		return c.once(ctx, message)
	}
	return c.interactive(ctx)
}

// chatSession runs terminal turns through the same session queue and
// approval gate the bot uses.
type chatSession struct {
	rt     *runtime
	userID string
	out    *terminalReplier
	busy   atomic.Bool
}

// once runs a single turn. Approval prompts are answered on stdin.
func (c *chatSession) once(ctx context.Context, message string) error {
	done := make(chan error, 1)
	go func() { done <- c.turn(ctx, message) }()

	if term.IsTerminal(int(os.Stdin.Fd())) {
		go func() {
			scanner := bufio.NewScanner(os.Stdin)
			for scanner.Scan() {
				c.answer(scanner.Text())
			}
		}()
	}
	return <-done
}

// interactive is the readline REPL.
func (c *chatSession) interactive(ctx context.Context) error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "🦾 > ",
		HistoryFile:     filepath.Join(filepath.Dir(config.DefaultConfigPath()), "chat_history"),
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return fmt.Errorf("starting readline: %w", err)
	}
	defer rl.Close()
	c.out.setWriter(rl.Stdout())

	fmt.Fprintf(rl.Stdout(), "Gravity Claw chat (user %s). /clear resets the history, /exit quits.\n", c.userID)

	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			if line == "" {
				return nil
			}
			continue
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}

		line = strings.TrimSpace(line)
		switch line {
		case "":
			continue
		case "/exit", "/quit":
			return nil
		case "/clear":
			c.rt.sessions.Reset(c.userID)
			c.out.SendMessage(ctx, "🗑️ Conversation history cleared.")
			continue
		}

		if c.rt.gate.HasPending(c.userID) {
			c.answer(line)
			continue
		}
		if !c.busy.CompareAndSwap(false, true) {
			c.out.SendMessage(ctx, "⏳ Still working on the previous message.")
			continue
		}

		wg.Add(1)
		go func(msg string) {
			defer wg.Done()
			defer c.busy.Store(false)
			if err := c.turn(ctx, msg); err != nil {
				c.out.SendMessage(ctx, "⚠️ "+err.Error())
			}
			rl.Refresh()
		}(line)
	}
}

// answer resolves a pending approval from a typed reply.
func (c *chatSession) answer(text string) {
	if !c.rt.gate.HasPending(c.userID) {
		return
	}
	ctx := context.Background()
	switch approval.ParseReply(text, false) {
	case approval.ReplyYes:
		if c.rt.gate.Resolve(c.userID, true) {
			c.out.SendMessage(ctx, "✅ Befehl wird ausgeführt...")
		}
	case approval.ReplyNo:
		if c.rt.gate.Resolve(c.userID, false) {
			c.out.SendMessage(ctx, "❌ Befehl abgebrochen.")
		}
	default:
		c.out.SendMessage(ctx, "⚠️ Bitte antworte zuerst mit 'ja' oder 'nein'.")
	}
}

// turn runs one message on the user's serial queue and prints the reply.
func (c *chatSession) turn(ctx context.Context, message string) error {
	var turnErr error
	err := c.rt.sessions.Do(ctx, c.userID, func(jctx context.Context, s *session.Session) {
		reply, err := c.rt.agent.RunTurn(jctx, agent.Turn{
			UserID:  c.userID,
			Message: message,
			History: s,
			Replier: c.out,
		})
		if err != nil {
			turnErr = err
			return
		}
		c.out.SendMessage(jctx, reply)
	})
	if err != nil {
		return err
	}
	return turnErr
}

// terminalReplier prints agent output. Photos are written to dir.
type terminalReplier struct {
	mu  sync.Mutex
	w   io.Writer
	dir string
}

func (r *terminalReplier) setWriter(w io.Writer) {
	r.mu.Lock()
	r.w = w
	r.mu.Unlock()
}

// SendMessage implements channels.Replier.
func (r *terminalReplier) SendMessage(_ context.Context, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, err := fmt.Fprintf(r.w, "\n%s\n\n", strings.TrimSpace(text))
	return err
}

// SendPhoto implements channels.Replier.
func (r *terminalReplier) SendPhoto(ctx context.Context, data []byte, caption string) error {
	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		return err
	}
	path := filepath.Join(r.dir, fmt.Sprintf("chat-%d.png", time.Now().UnixNano()))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return err
	}
	return r.SendMessage(ctx, fmt.Sprintf("🖼️ %s\n%s", caption, path))
}
