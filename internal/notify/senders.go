package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"tracehub/internal/config"
	"tracehub/internal/permanent"

	tgbot "github.com/go-telegram/bot"
	tgmodels "github.com/go-telegram/bot/models"
	"github.com/nats-io/nats.go"
)

// Channel keys.
const (
	ChannelTelegram = config.NotifyChannelTelegram
	ChannelHTTP     = config.NotifyChannelHTTP
	ChannelNATS     = config.NotifyChannelNATS
)

// TelegramSender sends alerts to a Telegram chat.
// Params: bot client and chat id.
// Returns: Telegram channel sender.
type TelegramSender struct {
	client *tgbot.Bot
	chatID any
}

// NewTelegramSender creates a Telegram sender.
// Params: Telegram notifier config.
// Returns: initialized sender or setup error.
func NewTelegramSender(cfg config.TelegramNotifier) (*TelegramSender, error) {
	if strings.TrimSpace(cfg.BotToken) == "" {
		return nil, errors.New("telegram bot token is required")
	}
	if strings.TrimSpace(cfg.ChatID) == "" {
		return nil, errors.New("telegram chat_id is required")
	}
	options := []tgbot.Option{tgbot.WithSkipGetMe()}
	if base := strings.TrimRight(strings.TrimSpace(cfg.APIBase), "/"); base != "" {
		options = append(options, tgbot.WithServerURL(base))
	}
	client, err := tgbot.New(cfg.BotToken, options...)
	if err != nil {
		return nil, fmt.Errorf("init telegram bot: %w", err)
	}
	return &TelegramSender{client: client, chatID: normalizeChatID(cfg.ChatID)}, nil
}

// Channel returns sender channel name.
func (s *TelegramSender) Channel() string {
	return ChannelTelegram
}

// Send posts one HTML message to the chat.
// Params: context and message.
// Returns: Telegram message id or transport error.
func (s *TelegramSender) Send(ctx context.Context, message Message) (SendResult, error) {
	sent, err := s.client.SendMessage(ctx, &tgbot.SendMessageParams{
		ChatID:    s.chatID,
		Text:      message.Text,
		ParseMode: tgmodels.ParseModeHTML,
	})
	if err != nil {
		if errors.Is(err, tgbot.ErrorBadRequest) || errors.Is(err, tgbot.ErrorUnauthorized) || errors.Is(err, tgbot.ErrorForbidden) || errors.Is(err, tgbot.ErrorNotFound) {
			return SendResult{}, permanent.Mark(fmt.Errorf("telegram send: %w", err))
		}
		return SendResult{}, fmt.Errorf("telegram send: %w", err)
	}
	if sent == nil || sent.ID <= 0 {
		return SendResult{}, errors.New("telegram send returned empty message id")
	}
	return SendResult{MessageID: sent.ID}, nil
}

// normalizeChatID converts numeric chat IDs to int64 and keeps channel names as string.
// Params: configured chat ID value.
// Returns: Telegram API chat id union value.
func normalizeChatID(raw string) any {
	trimmed := strings.TrimSpace(raw)
	if numeric, err := strconv.ParseInt(trimmed, 10, 64); err == nil {
		return numeric
	}
	return trimmed
}

// HTTPSender posts the message as JSON to a webhook.
// Params: endpoint URL, method, timeout, and headers.
// Returns: webhook sender.
type HTTPSender struct {
	cfg    config.HTTPNotifier
	client *http.Client
}

// NewHTTPSender creates a webhook sender.
// Params: HTTP notifier config.
// Returns: initialized sender.
func NewHTTPSender(cfg config.HTTPNotifier) *HTTPSender {
	return &HTTPSender{
		cfg:    cfg,
		client: &http.Client{Timeout: time.Duration(cfg.TimeoutSec) * time.Second},
	}
}

// Channel returns sender channel name.
func (s *HTTPSender) Channel() string {
	return ChannelHTTP
}

// Send delivers the JSON message to the configured endpoint.
// Params: context and message.
// Returns: transport or status error; non-retryable statuses are marked permanent.
func (s *HTTPSender) Send(ctx context.Context, message Message) (SendResult, error) {
	body, err := json.Marshal(message)
	if err != nil {
		return SendResult{}, permanent.Mark(fmt.Errorf("encode http notify payload: %w", err))
	}

	method := strings.ToUpper(strings.TrimSpace(s.cfg.Method))
	if method == "" {
		method = http.MethodPost
	}
	request, err := http.NewRequestWithContext(ctx, method, s.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return SendResult{}, permanent.Mark(fmt.Errorf("build http notify request: %w", err))
	}
	request.Header.Set("Content-Type", "application/json")
	for key, value := range s.cfg.Headers {
		request.Header.Set(key, value)
	}

	response, err := s.client.Do(request)
	if err != nil {
		return SendResult{}, fmt.Errorf("http notify send: %w", err)
	}
	defer response.Body.Close()
	if response.StatusCode < 200 || response.StatusCode >= 300 {
		return SendResult{}, permanent.ForStatus(response.StatusCode, unexpectedHTTPStatusError("http notify", response))
	}
	return SendResult{}, nil
}

// unexpectedHTTPStatusError formats a non-2xx response with its body.
// Params: sender prefix label and HTTP response.
// Returns: status-only or status+body error.
func unexpectedHTTPStatusError(prefix string, response *http.Response) error {
	rawBody, readErr := io.ReadAll(io.LimitReader(response.Body, 4096))
	if readErr != nil {
		return fmt.Errorf("%s status=%d (read body error: %w)", prefix, response.StatusCode, readErr)
	}
	trimmedBody := strings.TrimSpace(string(rawBody))
	if trimmedBody == "" {
		return fmt.Errorf("%s status=%d", prefix, response.StatusCode)
	}
	return fmt.Errorf("%s status=%d body=%s", prefix, response.StatusCode, trimmedBody)
}

// NATSSender publishes the JSON message on a NATS subject.
// Params: connection and subject.
// Returns: NATS channel sender.
type NATSSender struct {
	nc      *nats.Conn
	subject string
}

// NewNATSSender connects the alert publisher.
// Params: NATS notifier config.
// Returns: sender or connection error.
func NewNATSSender(cfg config.NATSNotifier) (*NATSSender, error) {
	nc, err := nats.Connect(strings.Join(cfg.URL, ","), nats.Name("tracehub-alerts"))
	if err != nil {
		return nil, fmt.Errorf("connect nats notify: %w", err)
	}
	return &NATSSender{nc: nc, subject: cfg.Subject}, nil
}

// Channel returns sender channel name.
func (s *NATSSender) Channel() string {
	return ChannelNATS
}

// Send publishes one message with alert headers.
// Params: context and message.
// Returns: publish or flush error.
func (s *NATSSender) Send(ctx context.Context, message Message) (SendResult, error) {
	body, err := json.Marshal(message)
	if err != nil {
		return SendResult{}, permanent.Mark(fmt.Errorf("encode nats notify payload: %w", err))
	}
	msg := nats.NewMsg(s.subject)
	msg.Data = body
	msg.Header.Set("Tracehub-Alert-Type", string(message.Alert.Type))
	msg.Header.Set("Tracehub-Alert-Level", string(message.Alert.Level))
	if err := s.nc.PublishMsg(msg); err != nil {
		return SendResult{}, fmt.Errorf("nats notify publish: %w", err)
	}
	if err := s.nc.FlushWithContext(ctx); err != nil {
		return SendResult{}, fmt.Errorf("nats notify flush: %w", err)
	}
	return SendResult{}, nil
}

// Close closes the publisher connection.
// Params: none.
// Returns: nil.
func (s *NATSSender) Close() error {
	s.nc.Close()
	return nil
}
