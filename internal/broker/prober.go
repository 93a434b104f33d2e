package broker

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"
)

// Recorder stores probe outcomes.
type Recorder interface {
	RecordBrokerSample(latency time.Duration, ok bool)
}

// Prober probes the broker and records each outcome.
// Params: client, recorder and logger.
// Returns: probe loop and on-demand probe.
type Prober struct {
	client   *Client
	recorder Recorder
	logger   *slog.Logger

	mu   sync.RWMutex
	last Health
}

// NewProber builds a prober.
// Params: client, recorder and optional logger.
// Returns: prober.
func NewProber(client *Client, recorder Recorder, logger *slog.Logger) *Prober {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Prober{client: client, recorder: recorder, logger: logger}
}

// Probe runs one health check and records it.
// Params: context.
// Returns: health outcome.
func (p *Prober) Probe(ctx context.Context) Health {
	health, err := p.client.Health(ctx)
	if err != nil && ctx.Err() != nil {
		return health
	}
	p.recorder.RecordBrokerSample(time.Duration(health.LatencyMs)*time.Millisecond, health.Accessible)
	if err != nil {
		p.logger.Warn("broker unreachable", "attempts", health.Attempts, "error", err.Error())
	} else {
		p.logger.Debug("broker healthy", "latency_ms", health.LatencyMs, "status", health.Status)
	}

	p.mu.Lock()
	p.last = health
	p.mu.Unlock()
	return health
}

// Last returns the most recent recorded probe.
func (p *Prober) Last() (Health, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.last, !p.last.CheckedAt.IsZero()
}

// Run probes on every interval tick until ctx is cancelled.
// Params: context and interval.
// Returns: nil on cancellation.
func (p *Prober) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		<-ctx.Done()
		return nil
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			p.Probe(ctx)
		}
	}
}
