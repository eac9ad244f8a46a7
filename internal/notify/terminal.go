package notify

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"signal-tracker/internal/logging"
	"signal-tracker/internal/models"
)

// TerminalNotifier prints alerts to a writer instead of a chat. It is used for
// dry runs and as a mirror of the primary channel. Message references are
// random UUIDs.
type TerminalNotifier struct {
	mu     sync.Mutex
	out    io.Writer
	logger zerolog.Logger
	sent   []Message
}

// NewTerminalNotifier creates a TerminalNotifier writing to out. A nil out
// only logs.
func NewTerminalNotifier(out io.Writer, logger zerolog.Logger) *TerminalNotifier {
	return &TerminalNotifier{
		out:    out,
		logger: logging.WithComponent(logger, "terminal"),
	}
}

// Send implements Notifier.
func (t *TerminalNotifier) Send(ctx context.Context, msg Message) (models.MessageRef, error) {
	ref := models.MessageRef(uuid.NewString())

	t.mu.Lock()
	defer t.mu.Unlock()

	t.sent = append(t.sent, msg)
	if t.out != nil {
		fmt.Fprintln(t.out, FormatTerminal(msg))
	}
	t.logger.Info().
		Str("symbol", msg.Symbol).
		Str("kind", string(msg.Kind)).
		Str("message_ref", string(ref)).
		Str("reply_to", string(msg.ReplyTo)).
		Msg("Alert delivered")
	return ref, nil
}

// Sent returns a copy of every message delivered so far.
func (t *TerminalNotifier) Sent() []Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Message(nil), t.sent...)
}

// FormatTerminal strips Markdown emphasis from a message for plain output.
func FormatTerminal(msg Message) string {
	text := msg.Text
	if msg.Format == FormatMarkdown {
		text = strings.NewReplacer("*", "", "`", "").Replace(text)
	}
	var b strings.Builder
	b.WriteString(strings.Repeat("─", 40))
	b.WriteByte('\n')
	b.WriteString(text)
	if msg.ChartURL != "" {
		b.WriteString("\n")
		b.WriteString(msg.ChartURL)
	}
	return b.String()
}
