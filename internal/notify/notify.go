// Package notify delivers position alerts to chat channels.
package notify

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"signal-tracker/internal/logging"
	"signal-tracker/internal/models"
)

// Format is the markup dialect of a message body.
type Format string

const (
	FormatPlain    Format = ""
	FormatMarkdown Format = "Markdown"
)

// Kind classifies a message for metrics and terminal output.
type Kind string

const (
	KindEntry      Kind = "entry"
	KindTakeProfit Kind = "take_profit"
	KindStopLoss   Kind = "stop_loss"
	KindUntracked  Kind = "untracked"
)

// Message is one outbound alert.
type Message struct {
	Kind   Kind
	Symbol string
	Text   string
	Format Format
	// ReplyTo threads the message under an earlier one when set.
	ReplyTo models.MessageRef
	// ChartURL, when set, is attached as a "View Chart" button.
	ChartURL string
}

// Notifier sends a message and returns a reference to the delivered copy.
type Notifier interface {
	Send(ctx context.Context, msg Message) (models.MessageRef, error)
}

// MultiNotifier sends to a primary notifier and mirrors every message to
// secondary channels. Only the primary's result is returned; mirror failures
// are logged.
type MultiNotifier struct {
	primary Notifier
	mu      sync.RWMutex
	mirrors []Notifier
	logger  zerolog.Logger
}

// NewMultiNotifier creates a MultiNotifier around primary.
func NewMultiNotifier(primary Notifier, logger zerolog.Logger) *MultiNotifier {
	return &MultiNotifier{
		primary: primary,
		logger:  logging.WithComponent(logger, "notify"),
	}
}

// AddMirror registers a secondary channel.
func (m *MultiNotifier) AddMirror(n Notifier) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mirrors = append(m.mirrors, n)
}

// Send implements Notifier.
func (m *MultiNotifier) Send(ctx context.Context, msg Message) (models.MessageRef, error) {
	ref, err := m.primary.Send(ctx, msg)
	if err != nil {
		return "", err
	}

	m.mu.RLock()
	mirrors := append([]Notifier(nil), m.mirrors...)
	m.mu.RUnlock()

	for _, n := range mirrors {
		if _, merr := n.Send(ctx, msg); merr != nil {
			m.logger.Warn().Err(merr).Str("symbol", msg.Symbol).Msg("Mirror delivery failed")
		}
	}
	return ref, nil
}
