package notify

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"text/template"
	"time"

	"tracehub/internal/config"
	"tracehub/internal/domain"
	"tracehub/internal/permanent"
	"tracehub/internal/templatefmt"

	"github.com/cenkalti/backoff/v5"
)

// Message is one rendered alert ready for a channel.
// Params: destination channel, rendered text and the source alert.
// Returns: transport-independent delivery payload.
type Message struct {
	Channel string       `json:"channel"`
	Text    string       `json:"text"`
	Alert   domain.Alert `json:"alert"`
}

// SendResult returns channel-specific metadata after successful delivery.
type SendResult struct {
	MessageID int
}

// ChannelSender sends one rendered message to one channel.
// Params: context and message.
// Returns: channel send metadata and transport error when send fails.
type ChannelSender interface {
	Channel() string
	Send(ctx context.Context, message Message) (SendResult, error)
}

// channelRoute binds a sender to its template and retry policy.
type channelRoute struct {
	sender ChannelSender
	body   *template.Template
	retry  config.NotifyRetry
}

// Dispatcher renders alerts per channel and delivers them with retries.
// Params: enabled channel routes.
// Returns: send helper used by the queue workers.
type Dispatcher struct {
	routes   map[string]channelRoute
	channels []string
	logger   *slog.Logger
}

// NewDispatcher builds a dispatcher from enabled channels.
// Params: notify config and optional logger.
// Returns: dispatcher or template/sender setup error.
func NewDispatcher(cfg config.NotifyConfig, logger *slog.Logger) (*Dispatcher, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	d := &Dispatcher{routes: make(map[string]channelRoute), logger: logger}

	if cfg.Telegram.Enabled {
		sender, err := NewTelegramSender(cfg.Telegram)
		if err != nil {
			return nil, err
		}
		if err := d.Register(sender, cfg.Telegram.Template, cfg.Telegram.Retry); err != nil {
			return nil, err
		}
	}
	if cfg.HTTP.Enabled {
		if err := d.Register(NewHTTPSender(cfg.HTTP), cfg.HTTP.Template, cfg.HTTP.Retry); err != nil {
			return nil, err
		}
	}
	if cfg.NATS.Enabled {
		sender, err := NewNATSSender(cfg.NATS)
		if err != nil {
			return nil, err
		}
		if err := d.Register(sender, cfg.NATS.Template, cfg.NATS.Retry); err != nil {
			_ = sender.Close()
			return nil, err
		}
	}
	return d, nil
}

// Register adds one channel route.
// Params: sender, template body and retry policy.
// Returns: template parse error.
func (d *Dispatcher) Register(sender ChannelSender, body string, retry config.NotifyRetry) error {
	channel := sender.Channel()
	parsed, err := templatefmt.ParseAlertTemplate("notify."+channel+".template", body)
	if err != nil {
		return fmt.Errorf("notify %s template: %w", channel, err)
	}
	d.routes[channel] = channelRoute{sender: sender, body: parsed, retry: retry}
	d.channels = append(d.channels, channel)
	sort.Strings(d.channels)
	return nil
}

// Channels returns configured channel list.
// Params: none.
// Returns: sorted channel keys.
func (d *Dispatcher) Channels() []string {
	return d.channels
}

// Send renders and delivers one alert on one channel.
// Params: context, channel key and alert.
// Returns: channel metadata and final error after retries.
func (d *Dispatcher) Send(ctx context.Context, channel string, alert domain.Alert) (SendResult, error) {
	route, ok := d.routes[channel]
	if !ok {
		return SendResult{}, fmt.Errorf("notify channel %q is not configured", channel)
	}
	return d.send(ctx, channel, route, alert)
}

// send renders the alert with the route template and delivers it.
// Params: context, channel, route and alert.
// Returns: channel metadata and final error.
func (d *Dispatcher) send(ctx context.Context, channel string, route channelRoute, alert domain.Alert) (SendResult, error) {
	var rendered strings.Builder
	if err := route.body.Execute(&rendered, alert); err != nil {
		return SendResult{}, permanent.Mark(fmt.Errorf("render notify template for channel %q: %w", channel, err))
	}
	message := Message{Channel: channel, Text: rendered.String(), Alert: alert}
	return d.sendWithRetry(ctx, route.sender, message, route.retry)
}

// sendWithRetry sends one message with the channel retry policy.
// Params: sender, message, and retry policy.
// Returns: channel metadata and final error; permanent errors stop retrying.
func (d *Dispatcher) sendWithRetry(ctx context.Context, sender ChannelSender, message Message, retry config.NotifyRetry) (SendResult, error) {
	if !retry.Enabled {
		return sender.Send(ctx, message)
	}

	attempt := 0
	operation := func() (SendResult, error) {
		attempt++
		result, err := sender.Send(ctx, message)
		if err != nil && permanent.Is(err) {
			return SendResult{}, backoff.Permanent(err)
		}
		return result, err
	}
	options := []backoff.RetryOption{
		backoff.WithBackOff(retryBackOff(retry)),
		backoff.WithMaxElapsedTime(0),
	}
	if retry.MaxAttempts > 0 {
		options = append(options, backoff.WithMaxTries(uint(retry.MaxAttempts)))
	}
	if retry.LogEachAttempt {
		options = append(options, backoff.WithNotify(func(err error, wait time.Duration) {
			d.logger.Warn("notify send attempt failed", "channel", sender.Channel(), "attempt", attempt, "retry_in", wait.String(), "error", err.Error())
		}))
	}

	result, err := backoff.Retry(ctx, operation, options...)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return SendResult{}, err
		}
		return SendResult{}, fmt.Errorf("channel %s failed after %d attempts: %w", sender.Channel(), attempt, err)
	}
	if retry.LogEachAttempt && attempt > 1 {
		d.logger.Info("notify send recovered after retries", "channel", sender.Channel(), "attempt", attempt)
	}
	return result, nil
}

// retryBackOff maps retry settings to a backoff policy.
// Params: retry settings.
// Returns: exponential or constant policy.
func retryBackOff(retry config.NotifyRetry) backoff.BackOff {
	initial := time.Duration(retry.InitialMS) * time.Millisecond
	if !strings.EqualFold(retry.Backoff, "exponential") {
		return backoff.NewConstantBackOff(initial)
	}
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = initial
	policy.MaxInterval = time.Duration(retry.MaxMS) * time.Millisecond
	policy.Multiplier = 2
	policy.RandomizationFactor = 0
	return policy
}

// Close releases sender resources that hold connections.
// Params: none.
// Returns: first close error.
func (d *Dispatcher) Close() error {
	var errs []error
	for _, channel := range d.channels {
		if closer, ok := d.routes[channel].sender.(io.Closer); ok {
			errs = append(errs, closer.Close())
		}
	}
	return errors.Join(errs...)
}

// SendOnce renders and delivers one alert without retries.
// Params: context, channel key and alert.
// Returns: channel metadata and send error.
func (d *Dispatcher) SendOnce(ctx context.Context, channel string, alert domain.Alert) (SendResult, error) {
	route, ok := d.routes[channel]
	if !ok {
		return SendResult{}, fmt.Errorf("notify channel %q is not configured", channel)
	}
	route.retry.Enabled = false
	return d.send(ctx, channel, route, alert)
}
