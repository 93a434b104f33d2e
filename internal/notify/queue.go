package notify

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"

	"tracehub/internal/domain"
)

// DeliveryObserver receives delivery outcomes for metrics.
type DeliveryObserver interface {
	ObserveDelivery(channel string, err error)
	ObserveDropped(count int)
}

// Sender is the delivery side consumed by Queue workers.
type Sender interface {
	Channels() []string
	Send(ctx context.Context, channel string, alert domain.Alert) (SendResult, error)
	SendOnce(ctx context.Context, channel string, alert domain.Alert) (SendResult, error)
}

// job is one alert bound to one channel.
type job struct {
	channel string
	alert   domain.Alert
}

// Queue fans raised alerts out to channels from a bounded buffer.
// Params: sender, worker count, buffer size and minimum level.
// Returns: non-blocking alert notifier.
type Queue struct {
	sender   Sender
	jobs     chan job
	workers  int
	minRank  int
	logger   *slog.Logger
	observer DeliveryObserver

	closeOnce sync.Once
	closed    chan struct{}
}

// QueueOptions configures a Queue.
type QueueOptions struct {
	Workers   int
	QueueSize int
	MinLevel  string
	Logger    *slog.Logger
	Observer  DeliveryObserver
}

// NewQueue builds an idle queue; call Run to start delivery.
// Params: sender and options.
// Returns: queue.
func NewQueue(sender Sender, opts QueueOptions) *Queue {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 256
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Queue{
		sender:   sender,
		jobs:     make(chan job, opts.QueueSize),
		workers:  opts.Workers,
		minRank:  domain.AlertLevel(strings.ToLower(strings.TrimSpace(opts.MinLevel))).Rank(),
		logger:   opts.Logger,
		observer: opts.Observer,
		closed:   make(chan struct{}),
	}
}

// Notify enqueues alerts for every channel without blocking.
// Params: raised alerts.
// Returns: nothing; alerts below the minimum level or beyond capacity are dropped.
func (q *Queue) Notify(raised []domain.Alert) {
	dropped := 0
	for _, alert := range raised {
		if alert.Level.Rank() < q.minRank {
			continue
		}
		for _, channel := range q.sender.Channels() {
			select {
			case <-q.closed:
				dropped++
				continue
			default:
			}
			select {
			case q.jobs <- job{channel: channel, alert: alert}:
			default:
				dropped++
			}
		}
	}
	if dropped > 0 {
		q.logger.Warn("notify queue dropped alerts", "count", dropped)
		if q.observer != nil {
			q.observer.ObserveDropped(dropped)
		}
	}
}

// Pending returns the number of buffered jobs.
func (q *Queue) Pending() int {
	return len(q.jobs)
}

// Run delivers jobs until ctx is cancelled, then drains what is already buffered.
// Params: context for the worker lifetime.
// Returns: nil after all workers stop.
func (q *Queue) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for i := 0; i < q.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			q.work(ctx)
		}()
	}
	wg.Wait()
	q.closeOnce.Do(func() { close(q.closed) })

	drainCtx := context.WithoutCancel(ctx)
	for {
		select {
		case next := <-q.jobs:
			q.deliver(drainCtx, next, false)
		default:
			return nil
		}
	}
}

// work consumes jobs until ctx is cancelled.
// Params: worker context.
// Returns: nothing.
func (q *Queue) work(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case next := <-q.jobs:
			q.deliver(ctx, next, true)
		}
	}
}

// deliver sends one job and reports the outcome.
// Params: context, job and whether retries apply (drained jobs get one attempt).
// Returns: nothing.
func (q *Queue) deliver(ctx context.Context, next job, retry bool) {
	send := q.sender.Send
	if !retry {
		send = q.sender.SendOnce
	}
	_, err := send(ctx, next.channel, next.alert)
	if q.observer != nil {
		q.observer.ObserveDelivery(next.channel, err)
	}
	if err != nil {
		q.logger.Error("notify delivery failed",
			"channel", next.channel,
			"alert_type", string(next.alert.Type),
			"error", err.Error(),
		)
		return
	}
	q.logger.Debug("notify delivered", "channel", next.channel, "alert_type", string(next.alert.Type))
}
