package notify

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	trerrors "signal-tracker/internal/errors"
	"signal-tracker/internal/logging"
	"signal-tracker/internal/models"
	"signal-tracker/internal/security"
)

// TelegramConfig configures the Telegram notifier.
type TelegramConfig struct {
	BotToken string
	ChatID   string
	// APIEndpoint overrides the Bot API URL template ("<base>/bot%s/%s").
	APIEndpoint string
	Timeout     time.Duration
}

// TelegramNotifier posts alerts to a Telegram chat or channel.
type TelegramNotifier struct {
	bot    *tgbotapi.BotAPI
	chatID int64
	// channel holds a public channel username ("@name") when ChatID is not numeric.
	channel string
	logger  zerolog.Logger
}

// NewTelegramNotifier connects to the Bot API and verifies the token.
func NewTelegramNotifier(cfg TelegramConfig, logger zerolog.Logger) (*TelegramNotifier, error) {
	if cfg.BotToken == "" || cfg.ChatID == "" {
		return nil, trerrors.Wrap(trerrors.ErrNotifierDisabled, "telegram bot token and chat id are required")
	}
	endpoint := cfg.APIEndpoint
	if endpoint == "" {
		endpoint = tgbotapi.APIEndpoint
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	bot, err := tgbotapi.NewBotAPIWithClient(cfg.BotToken, endpoint, &http.Client{Timeout: timeout})
	if err != nil {
		return nil, fmt.Errorf("telegram: connect: %w", security.RedactError(err))
	}

	n := &TelegramNotifier{
		bot:    bot,
		logger: logging.WithComponent(logger, "telegram"),
	}
	if id, err := strconv.ParseInt(cfg.ChatID, 10, 64); err == nil {
		n.chatID = id
	} else {
		n.channel = cfg.ChatID
	}

	n.logger.Info().Str("bot", bot.Self.UserName).Msg("Telegram connected")
	return n, nil
}

// Send implements Notifier.
func (n *TelegramNotifier) Send(ctx context.Context, msg Message) (models.MessageRef, error) {
	if err := ctx.Err(); err != nil {
		return "", trerrors.NewDeliveryError("telegram", msg.Symbol, err)
	}

	var out tgbotapi.MessageConfig
	if n.channel != "" {
		out = tgbotapi.NewMessageToChannel(n.channel, msg.Text)
	} else {
		out = tgbotapi.NewMessage(n.chatID, msg.Text)
	}
	if msg.Format == FormatMarkdown {
		out.ParseMode = tgbotapi.ModeMarkdown
	}
	if msg.ReplyTo != "" {
		if id, err := strconv.Atoi(string(msg.ReplyTo)); err == nil {
			out.ReplyToMessageID = id
			out.AllowSendingWithoutReply = true
		}
	}
	if msg.ChartURL != "" {
		out.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(
			tgbotapi.NewInlineKeyboardRow(
				tgbotapi.NewInlineKeyboardButtonURL("View Chart on TradingView", msg.ChartURL),
			),
		)
	}

	sent, err := n.bot.Send(out)
	if err != nil {
		// Transport errors quote the request URL, which carries the token.
		return "", trerrors.NewDeliveryError("telegram", msg.Symbol, security.RedactError(err))
	}
	n.logger.Debug().
		Str("symbol", msg.Symbol).
		Str("kind", string(msg.Kind)).
		Int("message_id", sent.MessageID).
		Msg("Telegram message sent")
	return models.MessageRef(strconv.Itoa(sent.MessageID)), nil
}
