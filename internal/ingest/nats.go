package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"tracehub/internal/config"
	"tracehub/internal/domain"

	"github.com/nats-io/nats.go"
)

// messageOutcome is the ack decision for one JetStream message.
type messageOutcome int

const (
	outcomeAck messageOutcome = iota
	outcomeNak
)

// NATSSubscriber consumes operations via JetStream queue consumers and forwards them to sink.
// Params: NATS connection, one queue subscription per worker, and sink.
// Returns: NATS ingest lifecycle handle.
type NATSSubscriber struct {
	nc        *nats.Conn
	subs      []*nats.Subscription
	sink      Sink
	logger    *slog.Logger
	nackDelay time.Duration
	ctx       context.Context
	cancel    context.CancelFunc
}

// NewNATSSubscriber creates JetStream queue consumers for operation ingestion.
// Params: ingest NATS config, sink, and optional logger.
// Returns: started subscriber or initialization error.
func NewNATSSubscriber(cfg config.NATSIngestConfig, sink Sink, logger *slog.Logger) (*NATSSubscriber, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	nc, err := nats.Connect(strings.Join(cfg.URL, ","), nats.Name("tracehub-ingest"))
	if err != nil {
		return nil, fmt.Errorf("connect nats ingest: %w", err)
	}
	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream init for ingest: %w", err)
	}

	if err := ensureStream(js, cfg); err != nil {
		nc.Close()
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	subscriber := &NATSSubscriber{
		nc:        nc,
		sink:      sink,
		logger:    logger,
		nackDelay: time.Duration(cfg.NackDelayMS) * time.Millisecond,
		ctx:       ctx,
		cancel:    cancel,
	}
	subOpts := []nats.SubOpt{
		nats.BindStream(cfg.Stream),
		nats.Durable(cfg.ConsumerName),
		nats.ManualAck(),
		nats.AckExplicit(),
		nats.AckWait(time.Duration(cfg.AckWaitSec) * time.Second),
		nats.MaxDeliver(cfg.MaxDeliver),
		nats.MaxAckPending(cfg.MaxAckPending),
		nats.DeliverAll(),
	}

	workers := cfg.Workers
	if workers <= 0 {
		workers = 1
	}
	for i := 0; i < workers; i++ {
		sub, err := js.QueueSubscribe(cfg.Subject, cfg.DeliverGroup, subscriber.handle, subOpts...)
		if err != nil {
			_ = subscriber.Close()
			return nil, fmt.Errorf("queue subscribe %q/%q: %w", cfg.Subject, cfg.DeliverGroup, err)
		}
		subscriber.subs = append(subscriber.subs, sub)
	}
	return subscriber, nil
}

// ensureStream creates the ingest stream when it does not exist yet.
// Params: JetStream context and ingest settings.
// Returns: stream lookup or creation error.
func ensureStream(js nats.JetStreamContext, cfg config.NATSIngestConfig) error {
	if _, err := js.StreamInfo(cfg.Stream); err == nil {
		return nil
	} else if !errors.Is(err, nats.ErrStreamNotFound) {
		return fmt.Errorf("stream info %q: %w", cfg.Stream, err)
	}
	if _, err := js.AddStream(&nats.StreamConfig{
		Name:     cfg.Stream,
		Subjects: []string{cfg.Subject},
	}); err != nil {
		return fmt.Errorf("create stream %q: %w", cfg.Stream, err)
	}
	return nil
}

// handle processes one JetStream message.
// Params: delivered message.
// Returns: none; the message is acked or nak'ed.
func (s *NATSSubscriber) handle(message *nats.Msg) {
	header := func(key string) string {
		if message.Header == nil {
			return ""
		}
		return message.Header.Get(key)
	}
	switch s.process(message.Subject, message.Data, header) {
	case outcomeNak:
		s.nackMessage(message)
	default:
		s.ackMessage(message)
	}
}

// process decodes and ingests one message body.
// Params: subject for logging, body and header lookup.
// Returns: ack for stored, invalid or rejected messages; nak for transient failures.
func (s *NATSSubscriber) process(subject string, data []byte, header func(string) string) messageOutcome {
	inputs, _, err := decodePayload(data)
	if err != nil {
		s.logger.Warn("nats ingest decode failed", "subject", subject, "error", err.Error())
		return outcomeAck
	}
	applyProvenance(inputs, header)

	for _, input := range inputs {
		if _, err := s.sink.Ingest(s.ctx, input); err != nil {
			if validation, ok := domain.AsValidation(err); ok {
				s.logger.Warn("nats ingest rejected operation",
					"subject", subject,
					"operation_number", input.OperationNumber,
					"violations", validation.Messages(),
				)
				continue
			}
			if errors.Is(err, context.Canceled) {
				return outcomeNak
			}
			s.logger.Error("nats ingest failed", "subject", subject, "operation_number", input.OperationNumber, "error", err.Error())
			return outcomeNak
		}
	}
	return outcomeAck
}

// ackMessage acknowledges a message and logs ack failures.
// Params: JetStream message.
// Returns: none.
func (s *NATSSubscriber) ackMessage(message *nats.Msg) {
	if err := message.Ack(); err != nil {
		s.logger.Warn("nats ingest ack failed", "subject", message.Subject, "error", err.Error())
	}
}

// nackMessage asks JetStream to redeliver the message and logs nack failures.
// Params: JetStream message.
// Returns: none.
func (s *NATSSubscriber) nackMessage(message *nats.Msg) {
	var err error
	if s.nackDelay > 0 {
		err = message.NakWithDelay(s.nackDelay)
	} else {
		err = message.Nak()
	}
	if err != nil {
		s.logger.Warn("nats ingest nack failed", "subject", message.Subject, "error", err.Error())
	}
}

// Close drains subscriptions and closes the connection.
// Params: none.
// Returns: first drain error.
func (s *NATSSubscriber) Close() error {
	var firstErr error
	for _, sub := range s.subs {
		if err := sub.Drain(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	s.cancel()
	s.nc.Close()
	return firstErr
}
