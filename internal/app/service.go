package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"tracehub/internal/alerts"
	"tracehub/internal/api"
	"tracehub/internal/broker"
	"tracehub/internal/clock"
	"tracehub/internal/config"
	"tracehub/internal/domain"
	"tracehub/internal/hub"
	"tracehub/internal/ingest"
	"tracehub/internal/logging"
	"tracehub/internal/metrics"
	"tracehub/internal/notify"
	"tracehub/internal/query"
	"tracehub/internal/registry"
	"tracehub/internal/state"
	"tracehub/internal/validate"
)

// Service composes runtime dependencies and process lifecycle.
// Params: config snapshot and shared runtime components.
// Returns: runnable supervision service.
type Service struct {
	cfg        config.Config
	logger     *slog.Logger
	closeLog   func()
	clock      clock.Clock
	hub        *hub.Hub
	store      state.Store
	dispatcher *notify.Dispatcher
	queue      *notify.Queue
	metrics    *metrics.Collector
	prober     *broker.Prober
	httpSrv    *http.Server
	natsSub    *ingest.NATSSubscriber
	readyFlag  atomic.Bool

	snapMu   sync.Mutex
	revision uint64
	restored bool
}

// NewService builds service instance from a loaded config snapshot.
// Params: config and clock implementation.
// Returns: initialized service or setup error.
func NewService(cfg config.Config, clk clock.Clock) (*Service, error) {
	if clk == nil {
		clk = clock.RealClock{}
	}
	logger, closeLog, err := logging.New(cfg.Log, cfg.Service.Name)
	if err != nil {
		return nil, err
	}

	service := &Service{
		cfg:      cfg,
		logger:   logger,
		closeLog: closeLog,
		clock:    clk,
	}
	if cfg.Metrics.Enabled {
		service.metrics = metrics.New()
	}

	if err := service.buildNotifier(); err != nil {
		service.cleanupInitResources()
		return nil, err
	}
	if err := service.buildHub(); err != nil {
		service.cleanupInitResources()
		return nil, err
	}
	if err := service.buildStore(); err != nil {
		service.cleanupInitResources()
		return nil, err
	}
	service.buildProber()
	service.buildHTTPServer()
	if err := service.buildNATSSubscriber(); err != nil {
		service.cleanupInitResources()
		return nil, err
	}

	return service, nil
}

// Hub returns the supervision hub.
func (s *Service) Hub() *hub.Hub {
	return s.hub
}

// Run restores state, starts every loop and blocks until shutdown.
// Params: root context; SIGINT and SIGTERM also stop the service.
// Returns: first terminal error.
func (s *Service) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := s.restore(ctx); err != nil {
		_ = s.shutdown(ctx)
		return err
	}
	if s.cfg.Service.SeedDemo && s.hub.Statistics().TotalOperations == 0 {
		seeded, err := s.hub.SeedDemo(ctx)
		if err != nil {
			s.logger.Warn("demo seed incomplete", "stored", seeded, "error", err.Error())
		} else {
			s.logger.Info("demo operations seeded", "count", seeded)
		}
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		s.logger.Info("http server starting", "listen", s.cfg.Ingest.HTTP.Listen)
		err := s.httpSrv.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		s.readyFlag.Store(false)
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(groupCtx), s.cfg.ShutdownTimeout())
		defer cancel()
		if err := s.httpSrv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http shutdown: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		return s.every(groupCtx, s.cfg.MaintenanceInterval(), s.maintain)
	})
	group.Go(func() error {
		return s.every(groupCtx, s.cfg.SnapshotInterval(), func(ctx context.Context) {
			if err := s.saveSnapshot(ctx); err != nil && !errors.Is(err, context.Canceled) {
				s.logger.Error("snapshot save failed", "error", err.Error())
			}
		})
	})
	if s.queue != nil {
		group.Go(func() error {
			return s.queue.Run(groupCtx)
		})
	}
	if s.prober != nil {
		group.Go(func() error {
			return s.prober.Run(groupCtx, s.cfg.ProbeInterval())
		})
	}

	s.readyFlag.Store(true)
	s.logger.Info("service started", "state_backend", s.cfg.State.Backend, "metrics", s.metrics != nil)

	runErr := group.Wait()
	if err := s.shutdown(ctx); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

// every runs fn on each interval tick until ctx is cancelled.
// Params: context, interval and callback.
// Returns: nil on cancellation.
func (s *Service) every(ctx context.Context, interval time.Duration, fn func(context.Context)) error {
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
			fn(ctx)
		}
	}
}

func (s *Service) maintain(ctx context.Context) {
	result, err := s.hub.Maintain(ctx)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			s.logger.Error("maintenance failed", "error", err.Error())
		}
		return
	}
	if result.PrunedSamples > 0 || result.ExpiredAlerts > 0 || result.DroppedAlerts > 0 || result.Raised > 0 {
		s.logger.Debug("maintenance done",
			"pruned_samples", result.PrunedSamples,
			"expired_alerts", result.ExpiredAlerts,
			"dropped_alerts", result.DroppedAlerts,
			"raised", result.Raised,
		)
	}
}

// restore loads the last snapshot into the hub.
// Params: context.
// Returns: load or restore error; a missing snapshot is not an error.
func (s *Service) restore(ctx context.Context) error {
	snapshot, revision, err := s.store.Load(ctx)
	if errors.Is(err, state.ErrNotFound) {
		s.snapMu.Lock()
		s.restored = true
		s.snapMu.Unlock()
		s.logger.Info("no saved snapshot, starting empty")
		return nil
	}
	if err != nil {
		return fmt.Errorf("load snapshot: %w", err)
	}
	if err := s.hub.Restore(snapshot); err != nil {
		return fmt.Errorf("restore snapshot: %w", err)
	}
	s.snapMu.Lock()
	s.revision = revision
	s.restored = true
	s.snapMu.Unlock()
	s.logger.Info("snapshot restored", "operations", len(snapshot.Operations), "alerts", len(snapshot.Alerts), "revision", revision)
	return nil
}

// saveSnapshot writes the hub state with CAS on the last known revision.
// Params: context.
// Returns: save error; one conflict is resolved by reloading the revision.
func (s *Service) saveSnapshot(ctx context.Context) error {
	s.snapMu.Lock()
	defer s.snapMu.Unlock()
	if !s.restored {
		return nil
	}

	snapshot := s.hub.Snapshot()
	revision, err := s.store.Save(ctx, snapshot, s.revision)
	if errors.Is(err, state.ErrConflict) {
		_, current, loadErr := s.store.Load(ctx)
		if loadErr != nil && !errors.Is(loadErr, state.ErrNotFound) {
			return fmt.Errorf("reload revision after conflict: %w", loadErr)
		}
		s.logger.Warn("snapshot revision conflict, overwriting", "expected", s.revision, "current", current)
		revision, err = s.store.Save(ctx, snapshot, current)
	}
	if err != nil {
		return err
	}
	s.revision = revision
	return nil
}

// shutdown closes runtime resources in dependency order.
// Params: context used for the final snapshot.
// Returns: first close error.
func (s *Service) shutdown(ctx context.Context) error {
	s.readyFlag.Store(false)
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.ShutdownTimeout())
	defer cancel()

	var firstErr error
	markErr := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if s.natsSub != nil {
		if err := s.natsSub.Close(); err != nil {
			s.logger.Error("nats subscriber close failed", "error", err.Error())
			markErr(fmt.Errorf("nats subscriber close: %w", err))
		}
	}
	if err := s.saveSnapshot(saveCtx); err != nil {
		s.logger.Error("final snapshot failed", "error", err.Error())
		markErr(fmt.Errorf("final snapshot: %w", err))
	}
	if s.dispatcher != nil {
		if err := s.dispatcher.Close(); err != nil {
			s.logger.Error("notify channels close failed", "error", err.Error())
			markErr(fmt.Errorf("notify close: %w", err))
		}
	}
	if err := s.store.Close(); err != nil {
		s.logger.Error("store close failed", "error", err.Error())
		markErr(fmt.Errorf("store close: %w", err))
	}
	s.logger.Info("service stopped")
	if s.closeLog != nil {
		s.closeLog()
	}
	return firstErr
}

// cleanupInitResources closes partially initialized resources on startup failures.
// Params: none.
// Returns: all acquired resources closed best-effort.
func (s *Service) cleanupInitResources() {
	if s.natsSub != nil {
		_ = s.natsSub.Close()
		s.natsSub = nil
	}
	if s.store != nil {
		_ = s.store.Close()
		s.store = nil
	}
	if s.dispatcher != nil {
		_ = s.dispatcher.Close()
		s.dispatcher = nil
	}
	if s.closeLog != nil {
		s.closeLog()
		s.closeLog = nil
	}
}

// buildNotifier creates channel senders and the async queue when any channel is enabled.
// Params: none.
// Returns: sender setup error.
func (s *Service) buildNotifier() error {
	dispatcher, err := notify.NewDispatcher(s.cfg.Notify, logging.Component(s.logger, "notify"))
	if err != nil {
		return err
	}
	s.dispatcher = dispatcher
	if len(dispatcher.Channels()) == 0 {
		return nil
	}
	opts := notify.QueueOptions{
		Workers:   s.cfg.Notify.Workers,
		QueueSize: s.cfg.Notify.QueueSize,
		MinLevel:  s.cfg.Notify.MinLevel,
		Logger:    logging.Component(s.logger, "notify"),
	}
	if s.metrics != nil {
		opts.Observer = s.metrics
	}
	s.queue = notify.NewQueue(dispatcher, opts)
	return nil
}

// buildHub wires registry, validator and alert rules into the hub.
// Params: none.
// Returns: configuration error.
func (s *Service) buildHub() error {
	reg, err := registry.New(registryEntries(s.cfg.Registry))
	if err != nil {
		return fmt.Errorf("registry: %w", err)
	}
	rules := validate.DefaultPayloadRules()
	if len(s.cfg.Validation.PayloadRule) > 0 {
		rules = make([]validate.PayloadRule, 0, len(s.cfg.Validation.PayloadRule))
		for _, rule := range s.cfg.Validation.PayloadRule {
			rules = append(rules, validate.PayloadRule{
				Name:         rule.Name,
				TypeContains: rule.TypeContains,
				Required:     rule.Required,
				Numeric:      rule.Numeric,
				RelaxWhen:    rule.RelaxWhen,
			})
		}
	}
	validator, err := validate.New(validate.Options{
		Registry:     reg,
		Strict:       s.cfg.Validation.StrictEnabled(),
		PayloadRules: rules,
	})
	if err != nil {
		return fmt.Errorf("validator: %w", err)
	}

	limits := s.cfg.Alerts
	opts := hub.Options{
		Registry:     reg,
		Validator:    validator,
		VolumeFields: s.cfg.Validation.VolumeFields,
		Alerts: alerts.Options{
			Thresholds: alerts.Thresholds{
				HighVolume:          limits.HighVolume,
				MaxErrorRate:        limits.MaxErrorRate,
				MaxLatencyMs:        limits.MaxLatencyMS,
				MinOpsPerDay:        limits.MinOpsPerDay,
				MaxSupervisedVolume: limits.MaxSupervisedVolume,
				MinActiveCorridors:  limits.MinActiveCorridors,
			},
			MaxAge:         s.cfg.AlertMaxAge(),
			MaxAlerts:      limits.MaxAlerts,
			EmitCompletion: limits.EmitCompletion,
			Logger:         logging.Component(s.logger, "alerts"),
		},
		Retention: s.cfg.Retention(),
		TrendThresholds: query.TrendThresholds{
			Moderate: s.cfg.Query.TrendModeratePercent,
			Strong:   s.cfg.Query.TrendStrongPercent,
		},
		DuplicatePolicy: hub.DuplicatePolicy(s.cfg.Service.DuplicatePolicy),
		ExportLimit:     s.cfg.Query.ExportLimit,
		Debug:           s.cfg.Service.Debug,
		Clock:           s.clock,
		Logger:          logging.Component(s.logger, "hub"),
	}
	if s.metrics != nil {
		opts.Observer = s.metrics
	}
	if s.queue != nil {
		opts.Notifier = s.queue
	}
	h, err := hub.New(opts)
	if err != nil {
		return err
	}
	s.hub = h
	return nil
}

// registryEntries converts configured countries, falling back to the default member list.
// Params: registry section.
// Returns: registry seed entries.
func registryEntries(cfg config.RegistryConfig) []registry.Entry {
	if len(cfg.Country) == 0 {
		return registry.DefaultEntries()
	}
	entries := make([]registry.Entry, 0, len(cfg.Country))
	for _, country := range cfg.Country {
		entries = append(entries, registry.Entry{
			Country: domain.Country{
				Code:     country.Code,
				Name:     country.Name,
				City:     country.City,
				Category: domain.CountryCategory(country.Category),
				Role:     country.Role,
			},
			Aliases: country.Aliases,
		})
	}
	return entries
}

// buildStore creates the snapshot backend from config.
// Params: none.
// Returns: backend setup error.
func (s *Service) buildStore() error {
	if s.cfg.State.Backend == config.StateBackendNATS {
		store, err := state.NewNATSStore(s.cfg.State)
		if err != nil {
			return err
		}
		s.store = store
		return nil
	}
	s.store = state.NewMemoryStore()
	return nil
}

func (s *Service) buildProber() {
	if !s.cfg.Broker.Enabled {
		return
	}
	client := broker.NewClient(s.cfg.Broker)
	s.prober = broker.NewProber(client, s.hub, logging.Component(s.logger, "broker"))
}

// buildHTTPServer wires the query API, ingestion, health and metrics routes.
// Params: none.
// Returns: nothing; the server starts in Run.
func (s *Service) buildHTTPServer() {
	httpCfg := s.cfg.Ingest.HTTP
	opts := api.Options{
		Reader:     s.hub,
		Prefix:     httpCfg.APIPrefix,
		HealthPath: httpCfg.HealthPath,
		ReadyPath:  httpCfg.ReadyPath,
		Ready:      s.readyFlag.Load,
		Logger:     logging.Component(s.logger, "api"),
	}
	if httpCfg.Enabled {
		opts.Ingest = ingest.NewHTTPHandler(s.hub, httpCfg.MaxBodyBytes, logging.Component(s.logger, "ingest.http"))
	}
	if s.prober != nil {
		opts.Prober = s.prober
	}
	if s.metrics != nil {
		opts.Metrics = s.metrics.Handler()
		opts.MetricsPath = s.cfg.Metrics.Path
	}

	s.httpSrv = &http.Server{
		Addr:              httpCfg.Listen,
		Handler:           api.NewRouter(opts),
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// buildNATSSubscriber starts NATS ingest when enabled.
// Params: none.
// Returns: initialization error.
func (s *Service) buildNATSSubscriber() error {
	if !s.cfg.Ingest.NATS.Enabled {
		return nil
	}
	subscriber, err := ingest.NewNATSSubscriber(s.cfg.Ingest.NATS, s.hub, logging.Component(s.logger, "ingest.nats"))
	if err != nil {
		return err
	}
	s.natsSub = subscriber
	return nil
}
